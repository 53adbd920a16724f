package session

import "context"

type threadKey struct{}

// WithThreadID returns a context carrying the thread a turn belongs to.
// Tools that keep per-thread state read it back with ThreadID.
func WithThreadID(ctx context.Context, threadID string) context.Context {
	return context.WithValue(ctx, threadKey{}, threadID)
}

// ThreadID returns the thread stored in ctx, or "" when there is none.
func ThreadID(ctx context.Context) string {
	id, _ := ctx.Value(threadKey{}).(string)
	return id
}
