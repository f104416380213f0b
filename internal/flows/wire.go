package flows

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/MrEthical07/authgate/session"
)

const defaultMaxBodyBytes = 1 << 20

var (
	errBodyTooLarge = errors.New("response body exceeds limit")
	errEncode       = errors.New("encode request")
)

// Credentials is the body returned by the refresh and sign-in endpoints.
type Credentials struct {
	Token        string        `json:"token"`
	RefreshToken string        `json:"refresh_token,omitempty"`
	Role         string        `json:"role,omitempty"`
	User         *session.User `json:"user,omitempty"`
	Redirection  string        `json:"redirection,omitempty"`
	Message      string        `json:"message,omitempty"`
}

// exchange is the raw result of one identity endpoint call.
type exchange struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func postJSON(ctx context.Context, client Doer, endpoint string, header http.Header, payload any, limit int64) (exchange, error) {
	var body io.Reader = http.NoBody
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return exchange{}, fmt.Errorf("%w: %v", errEncode, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return exchange{}, err
	}
	for name, values := range header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return exchange{}, err
	}
	defer resp.Body.Close()

	raw, err := readBounded(resp.Body, limit)
	if err != nil {
		return exchange{StatusCode: resp.StatusCode, Header: resp.Header}, err
	}
	return exchange{StatusCode: resp.StatusCode, Header: resp.Header, Body: raw}, nil
}

func readBounded(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	raw, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > limit {
		return raw[:limit], errBodyTooLarge
	}
	return raw, nil
}

// clip bounds a rejected response body to limit bytes. A limit <= 0 keeps the body whole.
func clip(body []byte, limit int64) []byte {
	if limit > 0 && int64(len(body)) > limit {
		return body[:limit]
	}
	return body
}

func decodeCredentials(raw []byte) (Credentials, error) {
	var c Credentials
	if len(bytes.TrimSpace(raw)) == 0 {
		return c, errors.New("empty response body")
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, err
	}
	return c, nil
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}
