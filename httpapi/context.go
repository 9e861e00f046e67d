package httpapi

import (
	"context"

	"github.com/openleague/leagueauth"
)

type ctxKey int

const (
	ctxRequestID ctxKey = iota
	ctxAuth
)

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxRequestID, id)
}

func requestID(ctx context.Context) string {
	v, _ := ctx.Value(ctxRequestID).(string)
	return v
}

func withAuth(ctx context.Context, ac *leagueauth.AuthContext) context.Context {
	return context.WithValue(ctx, ctxAuth, ac)
}

// authFrom returns the session principal placed by the auth
// middleware, or nil on unauthenticated routes.
func authFrom(ctx context.Context) *leagueauth.AuthContext {
	ac, _ := ctx.Value(ctxAuth).(*leagueauth.AuthContext)
	return ac
}
