// Package reconciler remediates integrity violations found by the enforcer.
// It is the only destructive entry point: scans report, Reconcile acts.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"clinicore/internal/audit"
	"clinicore/internal/entity"
	"clinicore/internal/integrity/enforcer"
	"clinicore/internal/integrity/reconciler/metrics"
	id "clinicore/pkg/domain"
	"clinicore/pkg/domainerrors"
	"clinicore/pkg/platform/sentinel"
)

// Action is a remediation choice a policy maps violations to.
type Action string

const (
	ActionDelete  Action = "delete"
	ActionAssign  Action = "assign"
	ActionNullify Action = "nullify"
)

// Policy configures how each violation class is remediated. Dangling owners
// are always deleted; no assignment target can make a dead account live.
type Policy struct {
	OnMissingOwner      Action
	AssignTo            id.AccountID
	OnDanglingSecondary Action
}

// DefaultPolicy deletes on both axes: data un-owned or unanchored by any
// live parent is unsafe to retain silently.
func DefaultPolicy() Policy {
	return Policy{OnMissingOwner: ActionDelete, OnDanglingSecondary: ActionDelete}
}

// Counts tallies remediations applied to one entity kind.
type Counts struct {
	Deleted    int
	Reassigned int
	Nullified  int
}

// Result reports what a reconciliation run did, per entity kind.
type Result struct {
	Kinds  map[entity.Kind]Counts
	Rounds int
}

func (r Result) Total() int {
	total := 0
	for _, c := range r.Kinds {
		total += c.Deleted + c.Reassigned + c.Nullified
	}
	return total
}

type Reconciler struct {
	store     entity.Store
	publisher *audit.Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

func New(store entity.Store, publisher *audit.Publisher, logger *slog.Logger, m *metrics.Metrics) *Reconciler {
	return &Reconciler{
		store:     store,
		publisher: publisher,
		logger:    logger,
		metrics:   m,
		tracer:    otel.Tracer("clinicore/integrity/reconciler"),
	}
}

// Reconcile remediates the reported violations and any violations their
// remediation cascades into. Each kind is processed in one atomic pass; the
// worklist repeats full rounds until a round applies nothing. Reports are a
// trigger, not trusted state: every pass re-scans live data, so stale
// reports are harmless.
//
// Termination: every action removes a record or pins a reference and none
// introduces a new violation, so rounds are bounded by the record count.
func (r *Reconciler) Reconcile(ctx context.Context, reports []enforcer.Violation, policy Policy) (Result, error) {
	result := Result{Kinds: make(map[entity.Kind]Counts)}
	if len(reports) == 0 {
		return result, nil
	}
	if err := r.checkPolicy(ctx, policy); err != nil {
		return result, err
	}

	ctx, span := r.tracer.Start(ctx, "reconciler.Reconcile")
	defer span.End()

	for {
		result.Rounds++
		applied := 0
		for _, kind := range entity.ScanOrder {
			n, counts, err := r.pass(ctx, kind, policy)
			if err != nil {
				return result, err
			}
			applied += n
			merged := result.Kinds[kind]
			merged.Deleted += counts.Deleted
			merged.Reassigned += counts.Reassigned
			merged.Nullified += counts.Nullified
			if n > 0 {
				result.Kinds[kind] = merged
			}
		}
		if applied == 0 {
			break
		}
	}

	span.SetAttributes(
		attribute.Int("reconcile.rounds", result.Rounds),
		attribute.Int("reconcile.total", result.Total()),
	)
	r.metrics.ObserveRounds(result.Rounds)
	if r.logger != nil {
		r.logger.Info("reconciliation finished", "rounds", result.Rounds, "remediations", result.Total())
	}
	return result, nil
}

func (r *Reconciler) checkPolicy(ctx context.Context, policy Policy) error {
	switch policy.OnMissingOwner {
	case ActionDelete:
	case ActionAssign:
		if policy.AssignTo.IsNil() {
			return domainerrors.New(domainerrors.CodeInvalidInput, "assign policy requires a target account")
		}
		live, err := r.store.AccountExists(ctx, policy.AssignTo)
		if err != nil {
			return domainerrors.Wrap(err, domainerrors.CodeUnavailable, "resolve assignment target")
		}
		if !live {
			return domainerrors.Newf(domainerrors.CodeNotFound, "assignment target account %s does not exist", policy.AssignTo)
		}
	default:
		return domainerrors.Newf(domainerrors.CodeInvalidInput, "unknown missing-owner action %q", policy.OnMissingOwner)
	}
	switch policy.OnDanglingSecondary {
	case ActionDelete, ActionNullify:
	default:
		return domainerrors.Newf(domainerrors.CodeInvalidInput, "unknown dangling-secondary action %q", policy.OnDanglingSecondary)
	}
	return nil
}

// pass runs one atomic scan-and-remediate cycle over a single kind.
func (r *Reconciler) pass(ctx context.Context, kind entity.Kind, policy Policy) (int, Counts, error) {
	var counts Counts
	applied := 0
	err := r.store.RunInPass(ctx, func(ctx context.Context, ops entity.RecordOps) error {
		violations, err := enforcer.NewScanner(ops).Scan(ctx, kind)
		if err != nil {
			return err
		}
		seen := make(map[string]bool)
		for _, v := range violations {
			// A record can carry several violations; one delete resolves
			// them all.
			if seen[v.RecordID.String()] {
				continue
			}
			action, err := r.remediate(ctx, ops, v, policy)
			if err != nil {
				return err
			}
			applied++
			switch action {
			case "deleted":
				counts.Deleted++
				seen[v.RecordID.String()] = true
			case "reassigned":
				counts.Reassigned++
			case "nullified":
				counts.Nullified++
			}
			r.metrics.IncrementRemediation(string(kind), action)
		}
		return nil
	})
	if err != nil {
		return 0, Counts{}, translate(err, kind)
	}
	return applied, counts, nil
}

func (r *Reconciler) remediate(ctx context.Context, ops entity.RecordOps, v enforcer.Violation, policy Policy) (string, error) {
	var (
		action string
		err    error
	)
	switch {
	case v.Invariant == enforcer.MissingOwner && policy.OnMissingOwner == ActionAssign:
		action = "reassigned"
		err = ops.ReassignOwner(ctx, v.Kind, v.RecordID, policy.AssignTo)
	case v.Invariant == enforcer.DanglingSecondaryReference &&
		policy.OnDanglingSecondary == ActionNullify && v.Nullable:
		action = "nullified"
		err = ops.NullifyReference(ctx, v.Kind, v.RecordID, v.Field)
	default:
		// DanglingOwner, delete policies, and required references a nullify
		// policy cannot pin.
		action = "deleted"
		err = ops.DeleteRecord(ctx, v.Kind, v.RecordID)
	}
	if err != nil {
		return "", fmt.Errorf("remediate %s %s: %w", v.Kind, v.RecordID, err)
	}
	return action, r.emit(ctx, v, action)
}

func (r *Reconciler) emit(ctx context.Context, v enforcer.Violation, action string) error {
	if r.publisher == nil {
		return nil
	}
	event := audit.Event{
		RecordID:   v.RecordID,
		EntityKind: string(v.Kind),
		Invariant:  string(v.Invariant),
		Detail:     v.Field,
	}
	switch action {
	case "deleted":
		event.Action = audit.ActionRecordDeleted
	case "reassigned":
		event.Action = audit.ActionOwnerReassigned
	case "nullified":
		event.Action = audit.ActionReferenceNullified
	}
	return r.publisher.Emit(ctx, event)
}

func translate(err error, kind entity.Kind) error {
	if errors.Is(err, sentinel.ErrUnavailable) {
		return domainerrors.Wrap(err, domainerrors.CodeUnavailable,
			fmt.Sprintf("reconciliation pass over %s", kind))
	}
	return domainerrors.Wrap(err, domainerrors.CodeInternal,
		fmt.Sprintf("reconciliation pass over %s", kind))
}
