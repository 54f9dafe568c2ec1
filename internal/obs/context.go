package obs

import "context"

type ctxKey int

const routePatternKey ctxKey = iota

// WithRoutePattern records the chi route pattern that matched the request.
func WithRoutePattern(ctx context.Context, pattern string) context.Context {
	return context.WithValue(ctx, routePatternKey, pattern)
}

// RoutePatternFromContext returns the pattern stored by WithRoutePattern, or "".
func RoutePatternFromContext(ctx context.Context) string {
	pattern, _ := ctx.Value(routePatternKey).(string)
	return pattern
}
