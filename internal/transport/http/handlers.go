package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"clinicore/internal/entity"
	"clinicore/internal/integrity/enforcer"
	"clinicore/internal/integrity/reconciler"
	"clinicore/internal/subscription"
	id "clinicore/pkg/domain"
	"clinicore/pkg/domainerrors"
)

// Handler delegates admin requests to the core services.
type Handler struct {
	scanner       *enforcer.Scanner
	reconciler    *reconciler.Reconciler
	subscriptions *subscription.Service
	logger        *slog.Logger
}

func NewHandler(scanner *enforcer.Scanner, rec *reconciler.Reconciler,
	subs *subscription.Service, logger *slog.Logger) *Handler {
	return &Handler{scanner: scanner, reconciler: rec, subscriptions: subs, logger: logger}
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type scanRequest struct {
	Kind string `json:"kind"`
}

type violationResponse struct {
	RecordID  string `json:"record_id"`
	Kind      string `json:"kind"`
	Invariant string `json:"invariant"`
	Field     string `json:"field,omitempty"`
}

func (h *Handler) handleIntegrityScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, domainerrors.New(domainerrors.CodeInvalidInput, "invalid request body"))
			return
		}
	}

	var (
		violations []enforcer.Violation
		err        error
	)
	if req.Kind == "" {
		violations, err = h.scanner.ScanAll(r.Context())
	} else {
		kind := entity.Kind(req.Kind)
		if !kind.Valid() {
			writeError(w, domainerrors.Newf(domainerrors.CodeInvalidInput, "unknown entity kind %q", req.Kind))
			return
		}
		violations, err = h.scanner.Scan(r.Context(), kind)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]violationResponse, 0, len(violations))
	for _, v := range violations {
		out = append(out, violationResponse{
			RecordID:  v.RecordID.String(),
			Kind:      string(v.Kind),
			Invariant: string(v.Invariant),
			Field:     v.Field,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"violations": out})
}

type reconcileRequest struct {
	OnMissingOwner      string `json:"on_missing_owner"`
	AssignTo            string `json:"assign_to,omitempty"`
	OnDanglingSecondary string `json:"on_dangling_secondary"`
}

func (h *Handler) handleIntegrityReconcile(w http.ResponseWriter, r *http.Request) {
	policy := reconciler.DefaultPolicy()
	if r.ContentLength > 0 {
		var req reconcileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, domainerrors.New(domainerrors.CodeInvalidInput, "invalid request body"))
			return
		}
		if req.OnMissingOwner != "" {
			policy.OnMissingOwner = reconciler.Action(req.OnMissingOwner)
		}
		if req.OnDanglingSecondary != "" {
			policy.OnDanglingSecondary = reconciler.Action(req.OnDanglingSecondary)
		}
		if req.AssignTo != "" {
			accountID, err := id.ParseAccountID(req.AssignTo)
			if err != nil {
				writeError(w, err)
				return
			}
			policy.AssignTo = accountID
		}
	}

	reports, err := h.scanner.ScanAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := h.reconciler.Reconcile(r.Context(), reports, policy)
	if err != nil {
		writeError(w, err)
		return
	}

	kinds := make(map[string]reconciler.Counts, len(result.Kinds))
	for kind, counts := range result.Kinds {
		kinds[string(kind)] = counts
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rounds": result.Rounds,
		"total":  result.Total(),
		"kinds":  kinds,
	})
}

type createSubscriptionRequest struct {
	AccountID       string `json:"account_id"`
	Plan            string `json:"plan"`
	PriceMinor      int64  `json:"price_minor"`
	DurationSeconds int64  `json:"duration_seconds"`
}

type subscriptionResponse struct {
	ID         string     `json:"id"`
	AccountID  string     `json:"account_id"`
	Plan       string     `json:"plan"`
	PriceMinor int64      `json:"price_minor"`
	Status     string     `json:"status"`
	StartsAt   time.Time  `json:"starts_at"`
	EndsAt     time.Time  `json:"ends_at"`
	CanceledAt *time.Time `json:"canceled_at,omitempty"`
}

func toSubscriptionResponse(sub *subscription.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:         sub.ID.String(),
		AccountID:  sub.AccountID.String(),
		Plan:       sub.Plan,
		PriceMinor: sub.PriceMinor,
		Status:     string(sub.Status),
		StartsAt:   sub.StartsAt,
		EndsAt:     sub.EndsAt,
		CanceledAt: sub.CanceledAt,
	}
}

func (h *Handler) handleSubscriptionCreate(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domainerrors.New(domainerrors.CodeInvalidInput, "invalid request body"))
		return
	}
	accountID, err := id.ParseAccountID(req.AccountID)
	if err != nil {
		writeError(w, err)
		return
	}

	sub, err := h.subscriptions.Create(r.Context(), accountID, req.Plan, req.PriceMinor,
		time.Duration(req.DurationSeconds)*time.Second)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSubscriptionResponse(sub))
}

type renewSubscriptionRequest struct {
	Plan          string `json:"plan"`
	PriceMinor    int64  `json:"price_minor"`
	ExtendSeconds int64  `json:"extend_seconds"`
}

func (h *Handler) handleSubscriptionRenew(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req renewSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domainerrors.New(domainerrors.CodeInvalidInput, "invalid request body"))
		return
	}

	sub, err := h.subscriptions.Renew(r.Context(), subID, req.Plan, req.PriceMinor,
		time.Duration(req.ExtendSeconds)*time.Second)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

func (h *Handler) handleSubscriptionCancel(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.subscriptions.Cancel(r.Context(), subID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}

type historyEntryResponse struct {
	Kind           string    `json:"kind"`
	Plan           string    `json:"plan"`
	PriceMinor     int64     `json:"price_minor"`
	PrevPlan       *string   `json:"prev_plan,omitempty"`
	PrevPriceMinor *int64    `json:"prev_price_minor,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func (h *Handler) handleSubscriptionHistory(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := h.subscriptions.History(r.Context(), subID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]historyEntryResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, historyEntryResponse{
			Kind:           string(entry.Kind),
			Plan:           entry.Plan,
			PriceMinor:     entry.PriceMinor,
			PrevPlan:       entry.PrevPlan,
			PrevPriceMinor: entry.PrevPriceMinor,
			CreatedAt:      entry.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": out})
}

func (h *Handler) handleExpireSweep(w http.ResponseWriter, r *http.Request) {
	expired, err := h.subscriptions.ExpireSweep(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"expired": expired})
}

func (h *Handler) handleReconcileDuplicates(w http.ResponseWriter, r *http.Request) {
	accountID, err := id.ParseAccountID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	canceled, err := h.subscriptions.ReconcileDuplicates(r.Context(), accountID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"canceled": canceled})
}
