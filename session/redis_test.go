package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisDurableTest(t *testing.T) (*RedisDurable, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return NewRedisDurable(rdb, "ag", 0), mr, rdb
}

func TestRedisDurableSaveLoadClear(t *testing.T) {
	d, _, rdb := newRedisDurableTest(t)
	ctx := context.Background()

	if err := d.Save(ctx, Persisted{RefreshToken: "r-1", Restore: true}); err != nil {
		t.Fatalf("save: %v", err)
	}
	raw, err := rdb.Get(ctx, "ag:refresh_token").Result()
	if err != nil {
		t.Fatalf("get raw key: %v", err)
	}
	if raw != "r-1" {
		t.Fatalf("expected raw token r-1, got %q", raw)
	}

	p, err := d.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.RefreshToken != "r-1" || !p.Restore {
		t.Fatalf("unexpected persisted value %+v", p)
	}

	if err := d.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := d.Clear(ctx); err != nil {
		t.Fatalf("second clear: %v", err)
	}
	p, err = d.Load(ctx)
	if err != nil {
		t.Fatalf("load after clear: %v", err)
	}
	if p != (Persisted{}) {
		t.Fatalf("expected empty persisted value, got %+v", p)
	}
}

func TestRedisDurableEmptyTokenDeletesKey(t *testing.T) {
	d, mr, _ := newRedisDurableTest(t)
	ctx := context.Background()

	if err := d.Save(ctx, Persisted{RefreshToken: "r-1", Restore: true}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := d.Save(ctx, Persisted{}); err != nil {
		t.Fatalf("save empty: %v", err)
	}
	if mr.Exists("ag:refresh_token") {
		t.Fatal("expected refresh token key to be deleted")
	}
	got, err := mr.Get("ag:restore")
	if err != nil {
		t.Fatalf("restore key: %v", err)
	}
	if got != restoreFlagOff {
		t.Fatalf("expected restore flag %q, got %q", restoreFlagOff, got)
	}
}

func TestRedisDurableTTL(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	d := NewRedisDurable(rdb, "", time.Minute)
	if err := d.Save(context.Background(), Persisted{RefreshToken: "r", Restore: true}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if ttl := mr.TTL("authgate:refresh_token"); ttl != time.Minute {
		t.Fatalf("expected ttl 1m under default prefix, got %v", ttl)
	}

	mr.FastForward(2 * time.Minute)
	p, err := d.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.RefreshToken != "" {
		t.Fatalf("expected expired token, got %q", p.RefreshToken)
	}
}

func TestRedisDurableUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	d := NewRedisDurable(rdb, "ag", 0)
	mr.Close()

	if _, err := d.Load(context.Background()); !errors.Is(err, ErrDurableUnavailable) {
		t.Fatalf("expected ErrDurableUnavailable from load, got %v", err)
	}
	if err := d.Save(context.Background(), Persisted{RefreshToken: "r"}); !errors.Is(err, ErrDurableUnavailable) {
		t.Fatalf("expected ErrDurableUnavailable from save, got %v", err)
	}
}
