package documents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/docflow/internal/platform/httpx"
	"github.com/odyssey-erp/docflow/internal/rbac"
	"github.com/odyssey-erp/docflow/internal/shared"
	"github.com/odyssey-erp/docflow/internal/workflow"
)

// ActionExecutor runs a workflow action. *workflow.Orchestrator satisfies it.
type ActionExecutor interface {
	ExecuteAction(ctx context.Context, docType workflow.DocType, recID int64, action workflow.Action, actorID int64, notes string) (workflow.Status, error)
}

// IdempotencyGuard records client supplied request keys.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// HandlerConfig collects the handler's collaborators. Idempotency and
// ActionLimiter are optional.
type HandlerConfig struct {
	Logger        *slog.Logger
	Service       *Service
	Actions       ActionExecutor
	Capabilities  workflow.CapabilityResolver
	Registry      *workflow.Registry
	RBAC          rbac.Middleware
	Idempotency   IdempotencyGuard
	ActionLimiter func(http.Handler) http.Handler
}

// Handler manages document endpoints.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	actions     ActionExecutor
	caps        workflow.CapabilityResolver
	registry    *workflow.Registry
	workflow    workflow.Validator
	rbac        rbac.Middleware
	idempotency IdempotencyGuard
	limiter     func(http.Handler) http.Handler
	validator   *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(cfg HandlerConfig) *Handler {
	registry := cfg.Registry
	if registry == nil {
		registry = workflow.DefaultRegistry()
	}
	limiter := cfg.ActionLimiter
	if limiter == nil {
		limiter = func(next http.Handler) http.Handler { return next }
	}
	return &Handler{
		logger:      cfg.Logger,
		service:     cfg.Service,
		actions:     cfg.Actions,
		caps:        cfg.Capabilities,
		registry:    registry,
		workflow:    workflow.NewValidator(registry),
		rbac:        cfg.RBAC,
		idempotency: cfg.Idempotency,
		limiter:     limiter,
		validator:   validator.New(),
	}
}

// MountRoutes registers document routes under /{docType}.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/{"+rbac.DocTypeParam+"}", func(r chi.Router) {
		r.With(h.rbac.RequireDocument(workflow.CapView)).Get("/", h.list)
		r.With(h.rbac.RequireDocument(workflow.CapCreate)).Post("/", h.create)

		r.Route("/{id}", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(h.rbac.RequireDocument(workflow.CapView))
				r.Get("/", h.get)
				r.Get("/history", h.history)
				r.Get("/outstanding", h.outstanding)
			})
			r.Group(func(r chi.Router) {
				r.Use(h.rbac.RequireDocument(workflow.CapCreate))
				r.Post("/lines", h.addLine)
				r.Patch("/lines/{lineID}", h.updateLine)
				r.Delete("/lines/{lineID}", h.removeLine)
			})
			// Action guards depend on ownership, so the orchestrator decides.
			r.Group(func(r chi.Router) {
				r.Use(h.limiter)
				r.Use(h.rbac.RequireDocument(workflow.CapView))
				r.Post("/actions/{action}", h.action)
				r.Delete("/", h.delete)
			})
		})
	})
}

// MountLineRoutes registers line lookups that are not scoped by document type.
func (h *Handler) MountLineRoutes(r chi.Router) {
	var viewPerms []string
	for _, dt := range h.registry.Types() {
		d, err := h.registry.Descriptor(dt)
		if err != nil {
			continue
		}
		if perm, ok := d.Permission(workflow.CapView); ok {
			viewPerms = append(viewPerms, perm)
		}
	}
	r.With(h.rbac.RequireAny(viewPerms...)).Get("/{lineID}/outstanding", h.lineOutstanding)
}

type lineRequest struct {
	ItemCode     string          `json:"item_code" validate:"required,max=64"`
	Description  string          `json:"description" validate:"max=255"`
	Quantity     decimal.Decimal `json:"quantity"`
	SourceLineID *int64          `json:"source_line_id" validate:"omitempty,gt=0"`
}

func (l lineRequest) input() LineInput {
	return LineInput{ItemCode: l.ItemCode, Description: l.Description, Quantity: l.Quantity, SourceLineID: l.SourceLineID}
}

type createRequest struct {
	Notes string        `json:"notes" validate:"max=2000"`
	Lines []lineRequest `json:"lines" validate:"max=500,dive"`
}

type quantityRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
}

type actionRequest struct {
	Notes string `json:"notes" validate:"max=2000"`
}

type actionResponse struct {
	DocType workflow.DocType `json:"doc_type"`
	ID      int64            `json:"id"`
	Action  workflow.Action  `json:"action"`
	Status  workflow.Status  `json:"status"`
}

type documentResponse struct {
	Document
	AllowedActions []workflow.Action `json:"allowed_actions"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	docType, ok := h.docType(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filters := ListFilters{DocType: docType, Status: workflow.Status(strings.ToUpper(q.Get("status")))}
	if raw := q.Get("owner_id"); raw != "" {
		ownerID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ownerID <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid owner_id")
			return
		}
		filters.OwnerID = ownerID
	}
	page, err := h.service.List(r.Context(), filters, shared.PageFromQuery(q))
	if err != nil {
		h.fail(w, "list documents", err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	docType, ok := h.docType(w, r)
	if !ok {
		return
	}
	actorID, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	var req createRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := CreateDraftInput{DocType: docType, OwnerID: actorID, Notes: req.Notes}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, line.input())
	}
	doc, err := h.service.CreateDraft(r.Context(), input)
	if err != nil {
		h.fail(w, "create document", err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("%s/%d", strings.TrimSuffix(r.URL.Path, "/"), doc.ID))
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	docType, id, ok := h.target(w, r)
	if !ok {
		return
	}
	doc, err := h.service.Get(r.Context(), docType, id)
	if err != nil {
		h.fail(w, "get document", err)
		return
	}
	resp := documentResponse{Document: doc, AllowedActions: []workflow.Action{}}
	if actorID, ok := shared.ActorFromContext(r.Context()); ok && h.caps != nil {
		caps, err := h.caps.Capabilities(r.Context(), actorID, docType)
		if err != nil {
			h.fail(w, "resolve capabilities", err)
			return
		}
		allowed := h.workflow.Allowed(docType, doc.Status, workflow.Check{
			ActorID:      actorID,
			Capabilities: caps,
			OwnerID:      doc.OwnerID,
			SubmittedBy:  doc.SubmittedBy,
			LineCount:    len(doc.Lines),
			// Notes arrive with the action itself.
			Notes: "-",
		})
		if allowed != nil {
			resp.AllowedActions = allowed
		}
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	docType, id, ok := h.target(w, r)
	if !ok {
		return
	}
	records, err := h.service.History(r.Context(), docType, id)
	if err != nil {
		h.fail(w, "document history", err)
		return
	}
	httpx.JSON(w, http.StatusOK, records)
}

func (h *Handler) outstanding(w http.ResponseWriter, r *http.Request) {
	docType, id, ok := h.target(w, r)
	if !ok {
		return
	}
	lines, err := h.service.Outstanding(r.Context(), docType, id)
	if err != nil {
		h.fail(w, "document outstanding", err)
		return
	}
	httpx.JSON(w, http.StatusOK, lines)
}

func (h *Handler) lineOutstanding(w http.ResponseWriter, r *http.Request) {
	lineID, ok := pathID(w, r, "lineID")
	if !ok {
		return
	}
	out, err := h.service.LineOutstanding(r.Context(), lineID)
	if err != nil {
		h.fail(w, "line outstanding", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"line_id": lineID, "outstanding": out})
}

func (h *Handler) addLine(w http.ResponseWriter, r *http.Request) {
	docType, id, ok := h.target(w, r)
	if !ok {
		return
	}
	if err := h.canEditLines(r, docType, id); err != nil {
		h.fail(w, "add line", err)
		return
	}
	var req lineRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	line, err := h.service.AddLine(r.Context(), docType, id, req.input())
	if err != nil {
		h.fail(w, "add line", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, line)
}

func (h *Handler) updateLine(w http.ResponseWriter, r *http.Request) {
	docType, id, ok := h.target(w, r)
	if !ok {
		return
	}
	if err := h.canEditLines(r, docType, id); err != nil {
		h.fail(w, "update line", err)
		return
	}
	lineID, ok := pathID(w, r, "lineID")
	if !ok {
		return
	}
	var req quantityRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	line, err := h.service.UpdateLineQuantity(r.Context(), docType, id, lineID, req.Quantity)
	if err != nil {
		h.fail(w, "update line", err)
		return
	}
	httpx.JSON(w, http.StatusOK, line)
}

func (h *Handler) removeLine(w http.ResponseWriter, r *http.Request) {
	docType, id, ok := h.target(w, r)
	if !ok {
		return
	}
	if err := h.canEditLines(r, docType, id); err != nil {
		h.fail(w, "remove line", err)
		return
	}
	lineID, ok := pathID(w, r, "lineID")
	if !ok {
		return
	}
	if err := h.service.RemoveLine(r.Context(), docType, id, lineID); err != nil {
		h.fail(w, "remove line", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// canEditLines applies the Submit guard to line maintenance: the owner, or
// an actor holding submit on the type.
func (h *Handler) canEditLines(r *http.Request, docType workflow.DocType, id int64) error {
	actorID, ok := shared.ActorFromContext(r.Context())
	if !ok {
		return shared.ErrUnauthenticated
	}
	doc, err := h.service.Get(r.Context(), docType, id)
	if err != nil {
		return err
	}
	if doc.OwnerID == actorID {
		return nil
	}
	if h.caps != nil {
		caps, err := h.caps.Capabilities(r.Context(), actorID, docType)
		if err != nil {
			return err
		}
		if caps.Has(workflow.CapSubmit) {
			return nil
		}
	}
	return fmt.Errorf("%w: lines of %s %d belong to user %d", workflow.ErrForbidden, docType, id, doc.OwnerID)
}

func (h *Handler) action(w http.ResponseWriter, r *http.Request) {
	action, ok := workflow.ParseAction(chi.URLParam(r, "action"))
	if !ok || action == workflow.ActionDelete {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "unknown action")
		return
	}
	var req actionRequest
	if r.ContentLength != 0 {
		if err := h.decode(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	h.execute(w, r, action, req.Notes)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	h.execute(w, r, workflow.ActionDelete, "")
}

func (h *Handler) execute(w http.ResponseWriter, r *http.Request, action workflow.Action, notes string) {
	docType, id, ok := h.target(w, r)
	if !ok {
		return
	}
	actorID, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}

	key := strings.TrimSpace(r.Header.Get(shared.IdempotencyHeader))
	module := fmt.Sprintf("documents:%s:%d:%s", docType, id, action)
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), key, module); err != nil {
			h.fail(w, "idempotency check", err)
			return
		}
	}

	status, err := h.actions.ExecuteAction(r.Context(), docType, id, action, actorID, notes)
	if err != nil {
		if key != "" && h.idempotency != nil {
			// A failed action leaves nothing behind, so the key may be reused.
			if derr := h.idempotency.Delete(context.WithoutCancel(r.Context()), key, module); derr != nil {
				h.logger.Warn("release idempotency key", slog.String("module", module), slog.Any("error", derr))
			}
		}
		h.fail(w, "execute action", err)
		return
	}
	if action == workflow.ActionDelete {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	httpx.JSON(w, http.StatusOK, actionResponse{DocType: docType, ID: id, Action: action, Status: status})
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return err
	}
	if err := h.validator.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("%w: %v", httpx.ErrValidation, err)
		}
		msgs := make([]string, 0, len(fieldErrs))
		for _, fieldErr := range fieldErrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fieldErr.Namespace(), fieldErr.Tag()))
		}
		return fmt.Errorf("%w: %s", httpx.ErrValidation, strings.Join(msgs, "; "))
	}
	return nil
}

func (h *Handler) docType(w http.ResponseWriter, r *http.Request) (workflow.DocType, bool) {
	docType, err := workflow.ParseDocType(chi.URLParam(r, rbac.DocTypeParam))
	if err != nil {
		httpx.RespondError(w, err)
		return "", false
	}
	return docType, true
}

func (h *Handler) target(w http.ResponseWriter, r *http.Request) (workflow.DocType, int64, bool) {
	docType, ok := h.docType(w, r)
	if !ok {
		return "", 0, false
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return "", 0, false
	}
	return docType, id, true
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+param)
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case workflow.IsValidation(err),
		errors.Is(err, workflow.ErrForbidden),
		errors.Is(err, workflow.ErrDocumentNotFound),
		errors.Is(err, workflow.ErrLineNotFound),
		errors.Is(err, workflow.ErrConcurrentModification),
		errors.Is(err, workflow.ErrUnknownDocType),
		errors.Is(err, httpx.ErrValidation),
		errors.Is(err, shared.ErrIdempotencyConflict):
		h.logger.Debug(op, slog.Any("error", err))
	default:
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
