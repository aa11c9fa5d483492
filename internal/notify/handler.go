package notify

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/docflow/internal/platform/httpx"
	"github.com/odyssey-erp/docflow/internal/rbac"
	"github.com/odyssey-erp/docflow/internal/shared"
)

// Handler exposes a user's notifications over HTTP.
type Handler struct {
	logger *slog.Logger
	inbox  *Inbox
	rbac   rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, inbox *Inbox, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, inbox: inbox, rbac: rbac}
}

// MountRoutes registers notification routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/read-all", h.markAllRead)
	r.Post("/{id}/read", h.markRead)
	r.Delete("/{id}", h.delete)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermNotificationsAdmin))
		r.Post("/purge", h.purge)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	userID, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	unread, _ := strconv.ParseBool(r.URL.Query().Get("unread"))
	page, err := h.inbox.List(r.Context(), userID, unread, shared.PageFromQuery(r.URL.Query()))
	if err != nil {
		h.fail(w, "list notifications", err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.target(w, r)
	if !ok {
		return
	}
	if err := h.inbox.MarkRead(r.Context(), userID, id); err != nil {
		h.fail(w, "mark notification read", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) markAllRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	n, err := h.inbox.MarkAllRead(r.Context(), userID)
	if err != nil {
		h.fail(w, "mark all notifications read", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int64{"updated": n})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.target(w, r)
	if !ok {
		return
	}
	if err := h.inbox.Delete(r.Context(), userID, id); err != nil {
		h.fail(w, "delete notification", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) purge(w http.ResponseWriter, r *http.Request) {
	var olderThan time.Duration
	if raw := r.URL.Query().Get("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "older_than must be a positive duration")
			return
		}
		olderThan = d
	}
	n, err := h.inbox.Purge(r.Context(), olderThan)
	if err != nil {
		h.fail(w, "purge notifications", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int64{"purged": n})
}

func (h *Handler) target(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	userID, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return 0, 0, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid notification id")
		return 0, 0, false
	}
	return userID, id, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, ErrNotFound) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		return
	}
	h.logger.Error(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
