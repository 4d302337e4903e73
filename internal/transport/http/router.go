// Package httptransport is the thin admin surface over the core. Handlers
// delegate to domain services without embedding business logic so transport
// concerns remain isolated.
package httptransport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clinicore/pkg/domainerrors"
	"clinicore/pkg/requestcontext"
)

// NewRouter wires the admin endpoints. Integrity reconciliation and
// subscription repair are POST-only: both are destructive and must be
// explicitly invoked.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestScope)

	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/admin", func(r chi.Router) {
		r.Post("/integrity/scan", h.handleIntegrityScan)
		r.Post("/integrity/reconcile", h.handleIntegrityReconcile)

		r.Post("/subscriptions", h.handleSubscriptionCreate)
		r.Post("/subscriptions/expire-sweep", h.handleExpireSweep)
		r.Post("/subscriptions/{id}/renew", h.handleSubscriptionRenew)
		r.Post("/subscriptions/{id}/cancel", h.handleSubscriptionCancel)
		r.Get("/subscriptions/{id}/history", h.handleSubscriptionHistory)
		r.Post("/accounts/{id}/subscriptions/reconcile-duplicates", h.handleReconcileDuplicates)
	})
	return r
}

// requestScope pins one instant and one request ID for the whole request so
// every check and history entry downstream observes the same clock reading.
func requestScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = requestcontext.WithTime(ctx, time.Now())
		ctx = requestcontext.WithRequestID(ctx, uuid.NewString())
		if actor := r.Header.Get("X-Admin-Actor"); actor != "" {
			ctx = requestcontext.WithActorID(ctx, actor)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError centralizes domain error translation to HTTP responses so all
// handlers share one JSON error envelope.
func writeError(w http.ResponseWriter, err error) {
	code := domainerrors.CodeOf(err)
	writeJSON(w, statusFor(code), map[string]string{"error": string(code)})
}

func statusFor(code domainerrors.Code) int {
	switch code {
	case domainerrors.CodeInvalidInput:
		return http.StatusBadRequest
	case domainerrors.CodeNotFound:
		return http.StatusNotFound
	case domainerrors.CodeConflict:
		return http.StatusConflict
	case domainerrors.CodeInvalidState:
		return http.StatusUnprocessableEntity
	case domainerrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
