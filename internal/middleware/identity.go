// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/hitoshi/perkledger/internal/identity"
	"github.com/hitoshi/perkledger/internal/model"
)

// ゲートウェイが付与するヘッダー。
const (
	HeaderGatewayToken = "X-Gateway-Token"
	HeaderCallerID     = "X-Caller-Id"
	HeaderCallerEmail  = "X-Caller-Email"
	HeaderCallerRoles  = "X-Caller-Roles"
)

// NewIdentityMiddleware はゲートウェイが転送した呼び出し元情報を検証し、
// identity.Callerとしてリクエストコンテキストに格納するミドルウェアを返す。
// トークンが一致しない場合や呼び出し元IDがない場合は401を返す。
func NewIdentityMiddleware(gatewayToken string) func(next http.Handler) http.Handler {
	expected := []byte(gatewayToken)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get(HeaderGatewayToken))
			if len(expected) == 0 || subtle.ConstantTimeCompare(got, expected) != 1 {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}

			callerID := strings.TrimSpace(r.Header.Get(HeaderCallerID))
			if callerID == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}

			caller := identity.Caller{
				ID:    callerID,
				Email: strings.TrimSpace(r.Header.Get(HeaderCallerEmail)),
				Roles: splitRoles(r.Header.Get(HeaderCallerRoles)),
			}
			recordCaller(r.Context(), caller.ID)
			next.ServeHTTP(w, r.WithContext(identity.WithCaller(r.Context(), caller)))
		})
	}
}

func splitRoles(raw string) []string {
	var roles []string
	for _, part := range strings.Split(raw, ",") {
		if role := strings.ToLower(strings.TrimSpace(part)); role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}
