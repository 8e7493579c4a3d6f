package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	apperrors "github.com/pesio-ai/be-expense-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-expense-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-expense-approvals/internal/repository"
)

// HeaderUserID carries the authenticated user id set by the upstream gateway.
const HeaderUserID = "X-User-ID"

type contextKey string

const contextKeyActor contextKey = "actor"

// ActorResolver looks up the user behind a request.
type ActorResolver interface {
	Actor(ctx context.Context, userID string) (*repository.User, error)
}

// Identify resolves the X-User-ID header to a user and stores it in the
// request context. Requests without a known user are rejected.
func Identify(resolver ActorResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := r.Header.Get(HeaderUserID)
			if userID == "" {
				writeError(w, apperrors.New(apperrors.ErrCodeUnauthorized, "missing "+HeaderUserID+" header"))
				return
			}

			actor, err := resolver.Actor(r.Context(), userID)
			if apperrors.Is(err, apperrors.ErrCodeNotFound) {
				writeError(w, apperrors.New(apperrors.ErrCodeUnauthorized, "unknown user"))
				return
			}
			if err != nil {
				writeError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), contextKeyActor, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// approverRoles may call the approval action on any surface.
var approverRoles = []repository.Role{repository.RoleAdmin, repository.RoleManager}

// RequireRole rejects actors whose role is not one of roles.
func RequireRole(roles ...repository.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := actorFrom(r.Context())
			if actor == nil || !slices.Contains(roles, actor.Role) {
				writeJSONError(w, http.StatusForbidden, "FORBIDDEN", "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger writes one zerolog line per request.
func RequestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			ev := log.Info()
			if status >= http.StatusInternalServerError {
				ev = log.Error()
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("HTTP request")
		})
	}
}

func actorFrom(ctx context.Context) *repository.User {
	actor, _ := ctx.Value(contextKeyActor).(*repository.User)
	return actor
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	writeJSONError(w, apperrors.HTTPStatus(code), string(code), apperrors.MessageOf(err))
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Success: false, Error: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
