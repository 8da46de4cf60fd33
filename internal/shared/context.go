package shared

import (
	"context"

	"github.com/google/uuid"
)

type actorContextKey struct{}

type requestMetaContextKey struct{}

// RequestMeta carries transport-level facts the audit trail records.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// ContextWithActor stores the authenticated actor id in context.
func ContextWithActor(ctx context.Context, actorID uuid.UUID) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actorID)
}

// ActorFromContext extracts the actor id from context.
func ActorFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(actorContextKey{}).(uuid.UUID)
	return id, ok
}

// ContextWithRequestMeta stores request metadata in context.
func ContextWithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaContextKey{}, meta)
}

// RequestMetaFromContext extracts request metadata from context.
func RequestMetaFromContext(ctx context.Context) RequestMeta {
	meta, _ := ctx.Value(requestMetaContextKey{}).(RequestMeta)
	return meta
}
