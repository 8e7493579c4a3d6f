package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	apperrors "github.com/pesio-ai/be-expense-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-expense-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/internal/service"
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	engine        *service.ApprovalEngine
	flows         *service.FlowService
	notifications *service.NotificationService
	health        HealthCheck
	log           *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler. health may be nil.
func NewHTTPHandler(
	engine *service.ApprovalEngine,
	flows *service.FlowService,
	notifications *service.NotificationService,
	health HealthCheck,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		engine:        engine,
		flows:         flows,
		notifications: notifications,
		health:        health,
		log:           log,
	}
}

// Router builds the chi router for the HTTP API.
func (h *HTTPHandler) Router(requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Identify(h.engine))

		r.Route("/expenses", func(r chi.Router) {
			r.Get("/pending", h.GetPendingApprovals)
			r.With(RequireRole(approverRoles...)).
				Post("/{id}/approval", h.ProcessApproval)
			r.Get("/{id}/history", h.GetApprovalHistory)
			r.Get("/{id}/flow", h.GetApprovalFlow)
		})

		r.Route("/approval-flows", func(r chi.Router) {
			r.Use(RequireRole(repository.RoleAdmin))
			r.Get("/", h.ListFlowSteps)
			r.Post("/", h.CreateFlowStep)
			r.Patch("/{id}", h.UpdateFlowStep)
			r.Delete("/{id}", h.DeleteFlowStep)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", h.ListNotifications)
			r.Get("/unread-count", h.UnreadCount)
			r.Post("/read-all", h.MarkAllNotificationsRead)
			r.Post("/{id}/read", h.MarkNotificationRead)
		})
	})

	return r
}

// Health reports liveness plus the health check result.
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			h.log.Warn().Err(err).Msg("Health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ── Approvals ────────────────────────────────────────────────────────────────

// ProcessApprovalRequest is the body of POST /expenses/{id}/approval.
type ProcessApprovalRequest struct {
	Action   repository.Action `json:"action"`
	Comments *string           `json:"comments"`
}

// ProcessApproval handles approve/reject actions. The approver is always the
// authenticated actor, never a body field.
func (h *HTTPHandler) ProcessApproval(w http.ResponseWriter, r *http.Request) {
	var req ProcessApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	actor := actorFrom(r.Context())
	result, err := h.engine.ProcessApproval(r.Context(), chi.URLParam(r, "id"), actor.ID, req.Action, req.Comments)
	if err != nil {
		writeError(w, err)
		return
	}

	h.notifications.Dispatch(context.WithoutCancel(r.Context()), result.Events)
	writeJSON(w, http.StatusOK, result)
}

// GetApprovalHistory returns an expense's audit trail, newest first.
func (h *HTTPHandler) GetApprovalHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.engine.GetApprovalHistory(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()).ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

// GetApprovalFlow returns the flow that applies to an expense.
func (h *HTTPHandler) GetApprovalFlow(w http.ResponseWriter, r *http.Request) {
	flow, err := h.engine.GetApprovalFlow(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()).ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flow)
}

// GetPendingApprovals lists the expenses awaiting the actor's decision.
func (h *HTTPHandler) GetPendingApprovals(w http.ResponseWriter, r *http.Request) {
	pending, err := h.engine.GetPendingApprovals(r.Context(), actorFrom(r.Context()).ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"expenses": pending, "total": len(pending)})
}

// ── Approval flow configuration ──────────────────────────────────────────────

// ListFlowSteps returns the actor's company flow.
func (h *HTTPHandler) ListFlowSteps(w http.ResponseWriter, r *http.Request) {
	steps, err := h.flows.ListSteps(r.Context(), actorFrom(r.Context()).CompanyID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"steps": steps})
}

// CreateFlowStep adds a step to the actor's company flow.
func (h *HTTPHandler) CreateFlowStep(w http.ResponseWriter, r *http.Request) {
	var in service.StepInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	step, err := h.flows.CreateStep(r.Context(), actorFrom(r.Context()).CompanyID, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, step)
}

// UpdateFlowStep applies a partial update to a step.
func (h *HTTPHandler) UpdateFlowStep(w http.ResponseWriter, r *http.Request) {
	var in service.StepInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	step, err := h.flows.UpdateStep(r.Context(), actorFrom(r.Context()).CompanyID, chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, step)
}

// DeleteFlowStep removes a step.
func (h *HTTPHandler) DeleteFlowStep(w http.ResponseWriter, r *http.Request) {
	if err := h.flows.DeleteStep(r.Context(), actorFrom(r.Context()).CompanyID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Notifications ────────────────────────────────────────────────────────────

// ListNotifications returns the actor's newest notifications.
func (h *HTTPHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	list, err := h.notifications.List(r.Context(), actorFrom(r.Context()).ID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": list})
}

// UnreadCount returns the actor's unread notification count.
func (h *HTTPHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.notifications.UnreadCount(r.Context(), actorFrom(r.Context()).ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

// MarkNotificationRead flags one notification as read.
func (h *HTTPHandler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := h.notifications.MarkRead(r.Context(), actorFrom(r.Context()).ID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// MarkAllNotificationsRead flags all of the actor's notifications as read.
func (h *HTTPHandler) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.notifications.MarkAllRead(r.Context(), actorFrom(r.Context()).ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "updated": n})
}
