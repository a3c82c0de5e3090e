package context

import (
	"context"
	"strings"
)

// OutcomeKey is the gin context key webhook handlers set to the settlement
// disposition of a delivery, read by the request logger and tracer.
const OutcomeKey = "settlement_outcome"

type requestIDKey struct{}
type orgIDKey struct{}
type actorKey struct{}
type providerKey struct{}

type actor struct {
	kind string
	id   string
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey{}).(string)
	return value
}

func WithOrgID(ctx context.Context, orgID string) context.Context {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return ctx
	}
	return context.WithValue(ctx, orgIDKey{}, orgID)
}

func OrgIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(orgIDKey{}).(string)
	return value
}

func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor{
		kind: strings.TrimSpace(actorType),
		id:   strings.TrimSpace(actorID),
	})
}

func ActorFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	value, ok := ctx.Value(actorKey{}).(actor)
	if !ok {
		return "", ""
	}
	return value.kind, value.id
}

// WithProvider tags the context with the payment gateway handling the request.
func WithProvider(ctx context.Context, provider string) context.Context {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return ctx
	}
	return context.WithValue(ctx, providerKey{}, provider)
}

func ProviderFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(providerKey{}).(string)
	return value
}
