package fence

import "context"

// ctxKey is unexported so only this package can mint the context value.
type ctxKey struct{}

// WithCurrent returns a context carrying f as the "current write fence".
// Method handlers scope writes produced during their synchronous execution
// by wrapping their call with this context. A write site that fires a
// crossbar notification reads Current(ctx) and stores the fence under the
// notification's "fence" key; the polling driver takes it from there and
// calls BeginWrite on it before scheduling its poll.
//
// This is the explicit-context replacement for the process-wide "current"
// slot the original design note calls out: it is illegal to rely on the
// value past a suspension point in the handler's own goroutine — capture it
// locally first if you need it across an await.
func WithCurrent(ctx context.Context, f *Fence) context.Context {
	return context.WithValue(ctx, ctxKey{}, f)
}

// Current returns the fence bound to ctx, or nil if none is set.
func Current(ctx context.Context) *Fence {
	f, _ := ctx.Value(ctxKey{}).(*Fence)
	return f
}
