package authgate

import "context"

type retryMarkerKey struct{}
type binaryBodyKey struct{}

// SkipRecovery marks ctx so that a 401 on a request using it is returned as is, without a
// refresh or a replay. Replays made by the gateway carry the same mark.
func SkipRecovery(ctx context.Context) context.Context {
	return withRetryMarker(ctx)
}

// WithBinaryBody declares that the request body is binary or multipart, so no default
// Content-Type is forced on it.
func WithBinaryBody(ctx context.Context) context.Context {
	return context.WithValue(ctx, binaryBodyKey{}, true)
}

func withRetryMarker(ctx context.Context) context.Context {
	return context.WithValue(ctx, retryMarkerKey{}, true)
}

func retryMarked(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	marked, _ := ctx.Value(retryMarkerKey{}).(bool)
	return marked
}

func binaryBody(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	binary, _ := ctx.Value(binaryBodyKey{}).(bool)
	return binary
}
