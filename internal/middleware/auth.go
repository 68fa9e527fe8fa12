package middleware

import (
	"context"
	"strings"

	"connectrpc.com/connect"

	"github.com/mmynk/tabsplit/internal/auth"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// BillIDKey is the context key for the bill a share token grants access to.
const BillIDKey contextKey = "bill_id"

// GetBillID extracts the share token's bill ID from the context.
// Returns empty string if not found.
func GetBillID(ctx context.Context) string {
	billID, _ := ctx.Value(BillIDKey).(string)
	return billID
}

// WithBillID returns a copy of ctx scoped to billID.
func WithBillID(ctx context.Context, billID string) context.Context {
	return context.WithValue(ctx, BillIDKey, billID)
}

// RequireShareToken returns an interceptor that validates the share token in
// the Authorization header and scopes the request to its bill. Procedures in
// public are passed through untouched.
func RequireShareToken(tokens *auth.ShareTokenManager, public ...string) connect.UnaryInterceptorFunc {
	open := make(map[string]bool, len(public))
	for _, p := range public {
		open[p] = true
	}

	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if open[req.Spec().Procedure] {
				return next(ctx, req)
			}

			authHeader := req.Header().Get("Authorization")
			if authHeader == "" {
				return nil, connect.NewError(connect.CodeUnauthenticated, auth.ErrMissingToken)
			}

			scheme, token, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
				return nil, connect.NewError(connect.CodeUnauthenticated, auth.ErrInvalidToken)
			}

			claims, err := tokens.Validate(token)
			if err != nil {
				return nil, connect.NewError(connect.CodeUnauthenticated, err)
			}

			return next(WithBillID(ctx, claims.BillID), req)
		}
	}
}
