package auditrail

import (
	"context"
)

// actorKey is an unexported context key type.
type actorKey struct{}

// WithActor attaches an actor identity to the context. Recorder operations
// fall back to it when called with a nil actor.
func WithActor(ctx context.Context, actor any) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext extracts the actor identity attached by WithActor.
func ActorFromContext(ctx context.Context) (any, bool) {
	v := ctx.Value(actorKey{})
	return v, v != nil
}
