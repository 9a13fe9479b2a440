// Package correlation carries the identifier that ties logs, spans and
// outbound messages of one request or run together.
package correlation

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
)

type key struct{}

func ExtractCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(key{}).(string)
	return id
}

// ContextWithCorrelationID keeps ctx unchanged for a blank id.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, key{}, id)
}

// EnsureCorrelationID returns ctx with a correlation ID, minting a ULID when
// none is present.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := ExtractCorrelationID(ctx); id != "" {
		return ctx, id
	}
	id := ulid.Make().String()
	return ContextWithCorrelationID(ctx, id), id
}

// NewMessageID returns an RFC 5322 Message-ID under domain.
func NewMessageID(domain string) string {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		domain = "localhost"
	}
	return "<" + strings.ToLower(ulid.Make().String()) + "@" + domain + ">"
}
