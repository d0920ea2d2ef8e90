package hostrouter

import "context"

type contextKey string

const decisionKey contextKey = "host_decision"

// WithDecision stores the routing decision in ctx.
func WithDecision(ctx context.Context, d Decision) context.Context {
	return context.WithValue(ctx, decisionKey, d)
}

// DecisionFrom returns the routing decision stored by the middleware.
func DecisionFrom(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(decisionKey).(Decision)
	return d, ok
}

// TenantLabel returns the tenant label of the current request, if any.
func TenantLabel(ctx context.Context) string {
	if d, ok := DecisionFrom(ctx); ok && d.Classification.IsTenant() {
		return d.Classification.Label
	}
	return ""
}
