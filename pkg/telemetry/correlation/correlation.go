// Package correlation threads one id through a webhook delivery or API call
// so its log lines, audit rows and alerts can be joined up.
package correlation

import (
	"context"
	"net/http"
	"strings"

	"github.com/oklog/ulid/v2"
)

// HeaderName carries the correlation id across HTTP hops.
const HeaderName = "X-Correlation-Id"

// Inbound ids longer than this are replaced; they end up in log fields and
// audit metadata.
const maxLength = 128

type key struct{}

// ExtractCorrelationID returns the id on ctx, or "".
func ExtractCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(key{}).(string)
	return id
}

func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, key{}, id)
}

// EnsureCorrelationID keeps an existing id or mints a ULID.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := ExtractCorrelationID(ctx); id != "" {
		return ctx, id
	}
	id := ulid.Make().String()
	return ContextWithCorrelationID(ctx, id), id
}

// FromHeaders adopts the first usable id among headerNames, defaulting to
// HeaderName, and mints one otherwise.
func FromHeaders(ctx context.Context, headers http.Header, headerNames ...string) (context.Context, string) {
	if len(headerNames) == 0 {
		headerNames = []string{HeaderName}
	}
	for _, name := range headerNames {
		if id := sanitize(headers.Get(name)); id != "" {
			return ContextWithCorrelationID(ctx, id), id
		}
	}
	return EnsureCorrelationID(ctx)
}

func sanitize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxLength {
		return ""
	}
	for _, r := range raw {
		if r < 0x21 || r > 0x7e {
			return ""
		}
	}
	return raw
}
