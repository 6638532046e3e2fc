package wire

import "context"

// Caller identifies the peer behind an incoming request.
type Caller struct {
	AppInstanceID string
	Host          string
	// Port is the caller's own listening port, when it sent one.
	Port int
}

type callerKey struct{}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}
