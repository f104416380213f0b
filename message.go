package authgate

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

// GenericErrorMessage is returned when no structured message can be found.
const GenericErrorMessage = "Something went wrong. Please try again later."

const (
	defaultMaxErrorBodyBytes      = 1 << 20
	defaultMaxCredentialBodyBytes = 8 << 20
)

// messageFields are consulted in order at every object level.
var messageFields = []string{"message", "error", "error_description", "detail", "errors"}

// ErrorMessage returns a single human-readable message for err: the first structured error
// field of the response carried by err, or GenericErrorMessage. It returns "" for a nil error.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	var respErr *ResponseError
	if errors.As(err, &respErr) {
		return ResponseMessage(respErr.Body)
	}
	return GenericErrorMessage
}

// ResponseMessage extracts the first structured error message from a JSON response body. Both
// flat ({"message": "..."}) and nested ({"error": {"message": "..."}}, {"errors": [...]}) shapes
// are understood. Anything else yields GenericErrorMessage.
func ResponseMessage(body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return GenericErrorMessage
	}

	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return GenericErrorMessage
	}
	if msg, ok := findMessage(v, 0); ok {
		return msg
	}
	return GenericErrorMessage
}

func findMessage(v any, depth int) (string, bool) {
	if depth > 4 {
		return "", false
	}

	switch t := v.(type) {
	case string:
		t = strings.TrimSpace(t)
		return t, t != ""
	case map[string]any:
		for _, field := range messageFields {
			if inner, ok := t[field]; ok {
				if msg, ok := findMessage(inner, depth+1); ok {
					return msg, true
				}
			}
		}
	case []any:
		for _, item := range t {
			if msg, ok := findMessage(item, depth+1); ok {
				return msg, true
			}
		}
	}
	return "", false
}

// CheckResponse returns nil for 2xx responses and a *ResponseError otherwise. The body is
// read (up to 1 MiB) into the error and resp.Body is replaced so it can still be read.
func CheckResponse(resp *http.Response) error {
	if resp == nil {
		return ErrTransport
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return newResponseError(resp, defaultMaxErrorBodyBytes)
}

func newResponseError(resp *http.Response, limit int64) *ResponseError {
	out := &ResponseError{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return out
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, limit))
	rest := resp.Body
	resp.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(raw), rest), rest}
	out.Body = raw
	return out
}
