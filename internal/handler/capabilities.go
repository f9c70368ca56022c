package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/perkledger/internal/identity"
	"github.com/hitoshi/perkledger/internal/middleware"
	"github.com/hitoshi/perkledger/internal/model"
)

// CapabilityResolver は呼び出し元の権限を解決する。
type CapabilityResolver interface {
	Resolve(ctx context.Context, caller identity.Caller) (identity.Capabilities, error)
}

type capabilitiesKey struct{}

// withCapabilities は呼び出し元の権限を解決してコンテキストに格納するミドルウェアを返す。
func withCapabilities(resolver CapabilityResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := callerFrom(w, r)
			if !ok {
				return
			}
			caps, err := resolver.Resolve(r.Context(), caller)
			if err != nil {
				slog.Error("failed to resolve capabilities",
					slog.String("caller_id", caller.ID),
					slog.String("error", err.Error()),
				)
				middleware.WriteInternalServerError(w)
				return
			}
			ctx := context.WithValue(r.Context(), capabilitiesKey{}, caps)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// capabilitiesFrom はコンテキストに格納された権限を返す。
func capabilitiesFrom(ctx context.Context) identity.Capabilities {
	caps, _ := ctx.Value(capabilitiesKey{}).(identity.Capabilities)
	if caps == nil {
		return identity.Capabilities{}
	}
	return caps
}

// requireAny はいずれかの権限を持たない呼び出し元に403を返すミドルウェアを返す。
func requireAny(wants ...identity.Capability) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !capabilitiesFrom(r.Context()).HasAny(wants...) {
				middleware.WriteErrorResponse(w, http.StatusForbidden, model.NewPermissionDeniedError("adminまたはceo"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
