package authgate

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/authgate/jwt"
	"github.com/MrEthical07/authgate/session"
)

// identityServer is an in-process identity service plus a protected API under /api/.
type identityServer struct {
	t      testing.TB
	srv    *httptest.Server
	issuer *jwt.Issuer

	mu            sync.Mutex
	access        string
	refresh       string
	refreshStatus int
	refreshBody   string
	refreshGate   chan struct{}
	rotate        bool
	logoutStatus  int
	lastAF        string
	refreshAF     []string
	api           []apiHit

	afSeq        atomic.Int64
	refreshCalls atomic.Int64
	logoutCalls  atomic.Int64
	signInCalls  atomic.Int64
	refreshSeen  chan struct{}
}

type apiHit struct {
	Path          string
	Authorization string
	AntiForgery   string
	ContentType   string
	RequestID     string
	Cookie        string
	Body          string
}

func newIdentityServer(t testing.TB) *identityServer {
	t.Helper()

	issuer, err := jwt.NewIssuer(jwt.IssuerConfig{
		Key:    []byte("test-signing-key-0123456789abcdef"),
		Issuer: "identity-test",
		TTL:    time.Hour,
	})
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}

	s := &identityServer{
		t:           t,
		issuer:      issuer,
		refresh:     "refresh-1",
		refreshSeen: make(chan struct{}, 64),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/anti-forgery-cookie", s.handleAntiForgery)
	mux.HandleFunc("/auth/refresh", s.handleRefresh)
	mux.HandleFunc("/auth/signin", s.handleSignIn)
	mux.HandleFunc("/auth/logout", s.handleLogout)
	mux.HandleFunc("/api/", s.handleAPI)

	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *identityServer) URL() string {
	return s.srv.URL
}

func (s *identityServer) mint(ttl time.Duration) string {
	s.t.Helper()
	token, err := s.issuer.IssueWithTTL("user-1", "admin", ttl)
	if err != nil {
		s.t.Fatalf("issue token: %v", err)
	}
	return token
}

// configure mutates server state under its lock.
func (s *identityServer) configure(fn func(*identityServer)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

// setAccess makes token the only access token the API accepts.
func (s *identityServer) setAccess(token string) {
	s.mu.Lock()
	s.access = token
	s.mu.Unlock()
}

func (s *identityServer) currentAccess() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.access
}

func (s *identityServer) setRefreshStatus(status int, body string) {
	s.mu.Lock()
	s.refreshStatus = status
	s.refreshBody = body
	s.mu.Unlock()
}

// holdRefresh blocks refresh calls until the returned func is called.
func (s *identityServer) holdRefresh() func() {
	gate := make(chan struct{})
	s.mu.Lock()
	s.refreshGate = gate
	s.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (s *identityServer) hits() []apiHit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]apiHit(nil), s.api...)
}

func (s *identityServer) handleAntiForgery(w http.ResponseWriter, r *http.Request) {
	token := "af-" + strconv.FormatInt(s.afSeq.Add(1), 10)
	s.mu.Lock()
	s.lastAF = token
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: "XSRF-TOKEN", Value: token, Path: "/"})
	w.Header().Set("X-CSRF-Token", token)
	w.WriteHeader(http.StatusNoContent)
}

func (s *identityServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)
	select {
	case s.refreshSeen <- struct{}{}:
	default:
	}

	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	gate := s.refreshGate
	s.refreshAF = append(s.refreshAF, r.Header.Get("X-CSRF-Token"))
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refreshStatus != 0 {
		w.WriteHeader(s.refreshStatus)
		_, _ = io.WriteString(w, s.refreshBody)
		return
	}
	if body.RefreshToken == "" || body.RefreshToken != s.refresh {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Refresh token expired"})
		return
	}

	token, err := s.issuer.Issue("user-1", "admin")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	s.access = token
	out := map[string]any{
		"token": token,
		"role":  "admin",
		"user":  map[string]any{"id": "user-1", "email": "ada@example.com", "plan": "pro"},
	}
	if s.rotate {
		s.refresh = s.refresh + "-r"
		out["refresh_token"] = s.refresh
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *identityServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	s.signInCalls.Add(1)
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []any{map[string]any{"message": "Malformed body"}}})
		return
	}
	if body.Password != "secret" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]any{"message": "Invalid credentials"}})
		return
	}

	token, err := s.issuer.Issue("user-1", "admin")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	s.mu.Lock()
	s.access = token
	s.refresh = "refresh-signin"
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"token":         token,
		"refresh_token": "refresh-signin",
		"role":          "admin",
		"redirection":   "/dashboard",
		"message":       "Welcome back",
		"user":          map[string]any{"id": "user-1", "email": body.Email},
	})
}

func (s *identityServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.logoutCalls.Add(1)
	s.mu.Lock()
	status := s.logoutStatus
	s.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{"message": "Logged out"})
}

func (s *identityServer) handleAPI(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	hit := apiHit{
		Path:          r.URL.Path,
		Authorization: r.Header.Get("Authorization"),
		AntiForgery:   r.Header.Get("X-CSRF-Token"),
		ContentType:   r.Header.Get("Content-Type"),
		RequestID:     r.Header.Get("X-Request-ID"),
		Cookie:        r.Header.Get("Cookie"),
		Body:          string(raw),
	}

	s.mu.Lock()
	s.api = append(s.api, hit)
	access := s.access
	s.mu.Unlock()

	if r.URL.Path == "/api/always-denied" || access == "" || hit.Authorization != "Bearer "+access {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Token expired"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": r.URL.Path, "body": hit.Body})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// newTestClient builds a client against s with metrics enabled. mutate may adjust the config.
func newTestClient(t testing.TB, s *identityServer, mutate func(*Config), opts ...func(*Builder)) *Client {
	t.Helper()

	cfg := DefaultConfig()
	cfg.BaseURL = s.URL()
	cfg.Metrics.Enabled = true
	cfg.Refresh.Timeout = 5 * time.Second
	cfg.Pending.Timeout = 5 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}

	b := New().WithConfig(cfg)
	for _, opt := range opts {
		opt(b)
	}
	c, err := b.Build()
	if err != nil {
		t.Fatalf("build client: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

// seedSession stores access and refresh tokens as if the user had signed in earlier.
func seedSession(t testing.TB, c *Client, access, refresh string) {
	t.Helper()
	err := c.Store().Set(t.Context(), session.Patch{
		AccessToken:  session.Ref(access),
		RefreshToken: session.Ref(refresh),
	})
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
}

func get(t *testing.T, c *Client, url string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	return c.Do(req)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(raw)
}

type signInRecorder struct {
	mu      sync.Mutex
	signals []SignInRequired
}

func (r *signInRecorder) handle(s SignInRequired) {
	r.mu.Lock()
	r.signals = append(r.signals, s)
	r.mu.Unlock()
}

func (r *signInRecorder) all() []SignInRequired {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SignInRequired(nil), r.signals...)
}
