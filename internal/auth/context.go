// ABOUTME: Request context helpers carrying the authenticated operator
// ABOUTME: Populated by the HTTP middleware, read by API handlers

package auth

import "context"

type operatorKey struct{}

// WithOperator returns a new context carrying the operator name.
func WithOperator(ctx context.Context, operator string) context.Context {
	return context.WithValue(ctx, operatorKey{}, operator)
}

// OperatorFromContext returns the operator name, or "" when the request was
// not authenticated.
func OperatorFromContext(ctx context.Context) string {
	op, _ := ctx.Value(operatorKey{}).(string)
	return op
}
