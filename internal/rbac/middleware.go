package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/docflow/internal/platform/httpx"
	"github.com/odyssey-erp/docflow/internal/shared"
	"github.com/odyssey-erp/docflow/internal/workflow"
)

// DocTypeParam is the chi URL parameter naming the document type.
const DocTypeParam = "docType"

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return m.require("rbac require any", func(granted []string) bool {
		return hasAnyPermission(granted, normalized)
	}, len(normalized) == 0)
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return m.require("rbac require all", func(granted []string) bool {
		return hasAllPermissions(granted, normalized)
	}, len(normalized) == 0)
}

// RequireDocument ensures the current user holds capability c on the document
// type named by the {docType} URL parameter.
func (m Middleware) RequireDocument(c workflow.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			docType, err := workflow.ParseDocType(chi.URLParam(r, DocTypeParam))
			if err != nil {
				httpx.RespondError(w, err)
				return
			}
			d, err := m.Service.registry.Descriptor(docType)
			if err != nil {
				httpx.RespondError(w, err)
				return
			}
			perm, ok := d.Permission(c)
			if !ok {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", string(c)+" is not available on "+string(docType))
				return
			}
			m.RequireAll(perm)(next).ServeHTTP(w, r)
		})
	}
}

func (m Middleware) require(op string, allowed func([]string) bool, open bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if open {
				next.ServeHTTP(w, r)
				return
			}
			userID, ok := shared.ActorFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, shared.ErrUnauthenticated)
				return
			}
			granted, err := m.Service.EffectivePermissions(r.Context(), userID)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error(op, slog.Int64("user_id", userID), slog.Any("error", err))
				}
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				return
			}
			if allowed(granted) {
				next.ServeHTTP(w, r)
				return
			}
			httpx.Problem(w, http.StatusForbidden, "Forbidden", http.StatusText(http.StatusForbidden))
		})
	}
}

func hasAnyPermission(granted []string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := permissionSet(granted)
	for _, r := range required {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}

func hasAllPermissions(granted []string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := permissionSet(granted)
	for _, r := range required {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}

func permissionSet(granted []string) map[string]struct{} {
	set := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		set[strings.ToLower(p)] = struct{}{}
	}
	return set
}
