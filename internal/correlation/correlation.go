// Package correlation carries the ambient {run_id, test_id} pair explicitly
// across goroutine boundaries within the sidecar. It is never stored in a
// goroutine-local or package-level global; callers must thread it through
// function arguments and context.Context values explicitly.
package correlation

import "context"

// Context is the correlation payload attached to a logical task.
type Context struct {
	RunID  string
	TestID string
	Extra  map[string]string
}

// IsZero reports whether the context carries no correlation information.
func (c Context) IsZero() bool {
	return c.RunID == "" && c.TestID == "" && len(c.Extra) == 0
}

type correlationKey struct{}

// WithContext returns a new context.Context carrying c, for explicit
// propagation into a derived goroutine or call chain.
func WithContext(ctx context.Context, c Context) context.Context {
	return context.WithValue(ctx, correlationKey{}, c)
}

// FromContext extracts the correlation Context previously attached with
// WithContext. The second return value is false if none was attached.
func FromContext(ctx context.Context) (Context, bool) {
	c, ok := ctx.Value(correlationKey{}).(Context)
	return c, ok
}

// RunID is a convenience accessor returning the run ID carried by ctx, or
// the empty string if none is present.
func RunID(ctx context.Context) string {
	if c, ok := FromContext(ctx); ok {
		return c.RunID
	}
	return ""
}

// TestID is a convenience accessor returning the test ID carried by ctx, or
// the empty string if none is present.
func TestID(ctx context.Context) string {
	if c, ok := FromContext(ctx); ok {
		return c.TestID
	}
	return ""
}
