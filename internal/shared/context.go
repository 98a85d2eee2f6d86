package shared

import "context"

type actorContextKey struct{}

const defaultActor = "system"

// ContextWithActor records who triggered the current operation for audit purposes.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor, defaulting to "system".
func ActorFromContext(ctx context.Context) string {
	if actor, _ := ctx.Value(actorContextKey{}).(string); actor != "" {
		return actor
	}
	return defaultActor
}
