package context

import (
	"context"
	"strings"
)

type (
	runIDKey    struct{}
	orgIDKey    struct{}
	actorKey    struct{}
	campaignKey struct{}
)

type actor struct {
	typ string
	id  string
}

// WithRunID stores the scheduler run identifier.
func WithRunID(ctx context.Context, runID string) context.Context {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey{}, runID)
}

func RunIDFromContext(ctx context.Context) string {
	return stringValue(ctx, runIDKey{})
}

// WithOrgID stores the tenant identifier being processed.
func WithOrgID(ctx context.Context, orgID string) context.Context {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return ctx
	}
	return context.WithValue(ctx, orgIDKey{}, orgID)
}

func OrgIDFromContext(ctx context.Context) string {
	return stringValue(ctx, orgIDKey{})
}

func WithCampaign(ctx context.Context, campaign string) context.Context {
	campaign = strings.TrimSpace(campaign)
	if campaign == "" {
		return ctx
	}
	return context.WithValue(ctx, campaignKey{}, campaign)
}

func CampaignFromContext(ctx context.Context) string {
	return stringValue(ctx, campaignKey{})
}

// WithActor records who is acting, e.g. ("system", "scheduler").
func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor{
		typ: strings.TrimSpace(actorType),
		id:  strings.TrimSpace(actorID),
	})
}

func ActorFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	if a, ok := ctx.Value(actorKey{}).(actor); ok {
		return a.typ, a.id
	}
	return "", ""
}

func stringValue(ctx context.Context, key any) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
