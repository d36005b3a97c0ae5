// Package requestid carries the correlation id attached to outbound requests
// so CDN access logs can be matched to a check run.
package requestid

import (
	"context"
	"strings"
)

const Header = "X-Request-Id"

type ctxKey struct{}

func WithContext(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}
