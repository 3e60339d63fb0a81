// Package requestcontext carries per-call values from the HTTP edge into the
// access service without the service importing net/http.
package requestcontext

import (
	"context"
	"time"

	id "jitaccess/pkg/domain"
)

type (
	principalKey   struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Principal is the authenticated caller, or "" outside an HTTP call.
func Principal(ctx context.Context) id.Principal {
	p, _ := ctx.Value(principalKey{}).(id.Principal)
	return p
}

func WithPrincipal(ctx context.Context, principal id.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// RequestID is the correlation id of the inbound call.
func RequestID(ctx context.Context) string {
	reqID, _ := ctx.Value(requestIDKey{}).(string)
	return reqID
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// Now returns the instant pinned for this call, falling back to the wall
// clock for reconciler passes and the CLI.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime pins the instant returned by Now.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}
