package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/haulmark/backoffice/internal/audit"
	"github.com/haulmark/backoffice/internal/notify"
	"github.com/haulmark/backoffice/internal/rbac"
	"github.com/haulmark/backoffice/internal/shared"
)

// Notifier fans a message out to an audience. Implementations never fail the
// caller because of delivery problems.
type Notifier interface {
	Notify(ctx context.Context, audience notify.Audience, msg notify.Message) (notify.Report, error)
}

// EventPublisher publishes committed transitions to other systems.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// TransitionObserver counts workflow outcomes.
type TransitionObserver interface {
	ObserveTransition(kind, action, outcome string)
}

// PartyResolver looks up decision makers for status views.
type PartyResolver interface {
	IdentitiesByID(ctx context.Context, ids []int64) ([]rbac.Identity, error)
}

// Options configures an Engine. Zero values fall back to defaults.
type Options struct {
	Table           *rbac.ApprovalTable
	Locker          Locker
	Notifier        Notifier
	Events          EventPublisher
	Parties         PartyResolver
	History         audit.Ledger
	Observer        TransitionObserver
	Logger          *slog.Logger
	NotifyTimeout   time.Duration
	HistoryMaxLimit int
	Now             func() time.Time
}

// Engine enforces the approval pipeline for every subject kind.
type Engine struct {
	repo          Repository
	table         *rbac.ApprovalTable
	locker        Locker
	notifier      Notifier
	events        EventPublisher
	parties       PartyResolver
	history       audit.Ledger
	observer      TransitionObserver
	logger        *slog.Logger
	notifyTimeout time.Duration
	historyMax    int
	now           func() time.Time

	inflight sync.WaitGroup
}

// NewEngine constructs an Engine over repo.
func NewEngine(repo Repository, opts Options) *Engine {
	e := &Engine{
		repo:          repo,
		table:         opts.Table,
		locker:        opts.Locker,
		notifier:      opts.Notifier,
		events:        opts.Events,
		parties:       opts.Parties,
		history:       opts.History,
		observer:      opts.Observer,
		logger:        opts.Logger,
		notifyTimeout: opts.NotifyTimeout,
		historyMax:    opts.HistoryMaxLimit,
		now:           opts.Now,
	}
	if e.table == nil {
		e.table = rbac.NewApprovalTable(nil, nil)
	}
	if e.locker == nil {
		e.locker = NewLocalLocker()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.notifyTimeout <= 0 {
		e.notifyTimeout = 30 * time.Second
	}
	if e.historyMax <= 0 || e.historyMax > audit.MaxLimit {
		e.historyMax = audit.MaxLimit
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Table exposes the requirement table the engine enforces.
func (e *Engine) Table() *rbac.ApprovalTable {
	return e.table
}

// Register starts the workflow for a newly created subject: it is stored as
// pending and a "created" history record is appended.
func (e *Engine) Register(ctx context.Context, kind Kind, id int64, reference string, actor *rbac.Identity) (Subject, error) {
	if err := e.authorize(kind, actor, rbac.ActionCreate); err != nil {
		return Subject{}, err
	}
	if id <= 0 {
		return Subject{}, fmt.Errorf("%w: subject id must be positive", ErrInvalidInput)
	}
	subject := Subject{Kind: kind, ID: id, Reference: strings.TrimSpace(reference), Status: StatusPending, CreatedBy: actor.ID}
	if kind.HasLifecycle() {
		subject.Lifecycle = LifecycleInactive
	}
	var record audit.Record
	err := e.withSubjectLock(ctx, kind, id, func() error {
		return e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			created, err := tx.Insert(ctx, subject)
			if err != nil {
				return err
			}
			subject = created
			record, err = tx.AppendHistory(ctx, audit.Record{
				Kind: string(kind), SubjectID: id, Action: audit.ActionCreated, ActorID: actor.ID,
				StatusAfter: string(StatusPending), At: e.now().UTC(),
			})
			return err
		})
	})
	e.observe(kind, rbac.ActionCreate, false, err)
	if err != nil {
		return Subject{}, err
	}
	e.afterCommit(ctx, Transition{Subject: subject, Record: record, Actor: actor})
	return subject, nil
}

// ApproveAsManager moves a pending subject to manager_approved.
func (e *Engine) ApproveAsManager(ctx context.Context, kind Kind, id int64, actor *rbac.Identity, notes string) (Subject, error) {
	return e.transition(ctx, kind, id, actor, rbac.ActionApproveManager, func(s *Subject, at time.Time) (audit.Record, error) {
		if s.IsDisabled {
			return audit.Record{}, transitionErr(ErrDisabled, "Cannot approve %s: it is disabled.", s.DisplayName())
		}
		if s.Status != StatusPending {
			return audit.Record{}, transitionErr(ErrInvalidTransition,
				"Cannot approve %s with status: %s. Must be pending.", kind, s.Status)
		}
		s.Status = StatusManagerApproved
		s.ManagerApprovedBy, s.ManagerApprovedAt = &actor.ID, &at
		return audit.Record{Action: audit.ActionManagerApproved, Notes: strings.TrimSpace(notes)}, nil
	})
}

// ApproveAsAccounts gives final approval to a manager-approved subject.
// Carriers become operationally active.
func (e *Engine) ApproveAsAccounts(ctx context.Context, kind Kind, id int64, actor *rbac.Identity, notes string) (Subject, error) {
	return e.transition(ctx, kind, id, actor, rbac.ActionApproveAccounts, func(s *Subject, at time.Time) (audit.Record, error) {
		if s.IsDisabled {
			return audit.Record{}, transitionErr(ErrDisabled, "Cannot approve %s: it is disabled.", s.DisplayName())
		}
		if s.Status != StatusManagerApproved {
			return audit.Record{}, transitionErr(ErrInvalidTransition,
				"Cannot approve %s with status: %s. Must be manager-approved first.", kind, s.Status)
		}
		s.Status = StatusAccountsApproved
		s.AccountsApprovedBy, s.AccountsApprovedAt = &actor.ID, &at
		if kind.HasLifecycle() {
			s.Lifecycle = LifecycleActive
		}
		return audit.Record{Action: audit.ActionAccountsApproved, Notes: strings.TrimSpace(notes)}, nil
	})
}

// Reject ends the pipeline for a pending or manager-approved subject.
// Carriers are suspended.
func (e *Engine) Reject(ctx context.Context, kind Kind, id int64, actor *rbac.Identity, reason string) (Subject, error) {
	if err := e.authorize(kind, actor, rbac.ActionReject); err != nil {
		e.observe(kind, rbac.ActionReject, false, err)
		return Subject{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		err := transitionErr(ErrMissingReason, "A reason is required to reject a %s.", kind)
		e.observe(kind, rbac.ActionReject, false, err)
		return Subject{}, err
	}
	return e.transition(ctx, kind, id, actor, rbac.ActionReject, func(s *Subject, at time.Time) (audit.Record, error) {
		if s.IsDisabled {
			return audit.Record{}, transitionErr(ErrDisabled, "Cannot reject %s: it is disabled.", s.DisplayName())
		}
		if s.Status != StatusPending && s.Status != StatusManagerApproved {
			return audit.Record{}, transitionErr(ErrInvalidTransition,
				"Cannot reject %s with status: %s. Must be pending or manager-approved.", kind, s.Status)
		}
		s.Status = StatusRejected
		s.RejectedBy, s.RejectedAt = &actor.ID, &at
		s.RejectionReason = reason
		if kind.HasLifecycle() {
			s.Lifecycle = LifecycleSuspended
		}
		return audit.Record{Action: audit.ActionRejected, Reason: reason}, nil
	})
}

// Disable takes a subject out of service regardless of its approval status.
func (e *Engine) Disable(ctx context.Context, kind Kind, id int64, actor *rbac.Identity) (Subject, error) {
	return e.transition(ctx, kind, id, actor, rbac.ActionDisable, func(s *Subject, at time.Time) (audit.Record, error) {
		if s.IsDisabled {
			return audit.Record{}, transitionErr(ErrAlreadyDisabled, "%s is already disabled.", s.DisplayName())
		}
		s.IsDisabled = true
		s.Status = StatusDisabled
		s.DisabledBy, s.DisabledAt = &actor.ID, &at
		if kind.HasLifecycle() {
			s.Lifecycle = LifecycleSuspended
		}
		return audit.Record{Action: audit.ActionDisabled}, nil
	})
}

// Enable returns a disabled subject to the start of the pipeline.
func (e *Engine) Enable(ctx context.Context, kind Kind, id int64, actor *rbac.Identity, notes string) (Subject, error) {
	return e.transition(ctx, kind, id, actor, rbac.ActionEnable, func(s *Subject, at time.Time) (audit.Record, error) {
		if !s.IsDisabled {
			return audit.Record{}, transitionErr(ErrInvalidTransition, "Cannot enable %s: it is not disabled.", s.DisplayName())
		}
		s.IsDisabled = false
		s.Status = StatusPending
		s.DisabledBy, s.DisabledAt = nil, nil
		s.clearDecisions()
		return audit.Record{Action: audit.ActionEnabled, Notes: strings.TrimSpace(notes)}, nil
	})
}

// SetLifecycle changes a carrier's operational status. Forcing an approved
// carrier back to active re-opens approval: it returns to pending with its
// decisions cleared.
func (e *Engine) SetLifecycle(ctx context.Context, kind Kind, id int64, actor *rbac.Identity, lifecycle Lifecycle) (Subject, error) {
	if kind.Valid() && !kind.HasLifecycle() {
		err := transitionErr(ErrInvalidTransition, "%s records have no lifecycle status.", kind.Label())
		e.observe(kind, rbac.ActionLifecycle, false, err)
		return Subject{}, err
	}
	return e.transition(ctx, kind, id, actor, rbac.ActionLifecycle, func(s *Subject, at time.Time) (audit.Record, error) {
		if s.IsDisabled {
			return audit.Record{}, transitionErr(ErrDisabled, "Cannot change lifecycle of %s: it is disabled.", s.DisplayName())
		}
		previous := s.Lifecycle
		if previous == lifecycle {
			return audit.Record{}, errUnchanged
		}
		s.Lifecycle = lifecycle
		reopen := lifecycle == LifecycleActive &&
			(s.Status == StatusManagerApproved || s.Status == StatusAccountsApproved)
		if !reopen {
			return audit.Record{}, errNoHistory
		}
		s.Status = StatusPending
		s.clearDecisions()
		return audit.Record{
			Action: audit.ActionPending,
			Notes:  fmt.Sprintf("Lifecycle changed from %s to %s; approval re-opened.", previous, lifecycle),
		}, nil
	})
}

var (
	// errUnchanged aborts a transition that would not change anything.
	errUnchanged = errors.New("approval: unchanged")
	// errNoHistory saves the subject without an approval history entry.
	errNoHistory = errors.New("approval: no history")
)

// Transition is a committed state change handed to post-commit work.
type Transition struct {
	Before  Subject
	Subject Subject
	Record  audit.Record
	Actor   *rbac.Identity
}

type applyFunc func(s *Subject, at time.Time) (audit.Record, error)

func (e *Engine) authorize(kind Kind, actor *rbac.Identity, action rbac.Action) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if actor == nil || !e.table.Allows(actor, string(kind), action) {
		return ErrPermissionDenied
	}
	return nil
}

func (e *Engine) withSubjectLock(ctx context.Context, kind Kind, id int64, fn func() error) error {
	unlock, err := e.locker.Lock(ctx, shared.SubjectLockKey(string(kind), id))
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

func (e *Engine) transition(ctx context.Context, kind Kind, id int64, actor *rbac.Identity, action rbac.Action, apply applyFunc) (Subject, error) {
	if err := e.authorize(kind, actor, action); err != nil {
		e.observe(kind, action, false, err)
		return Subject{}, err
	}
	var (
		before    Subject
		after     Subject
		record    audit.Record
		unchanged bool
	)
	err := e.withSubjectLock(ctx, kind, id, func() error {
		return e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			current, err := tx.GetForUpdate(ctx, kind, id)
			if err != nil {
				return err
			}
			before = current
			next := current
			at := e.now().UTC()
			rec, err := apply(&next, at)
			skipHistory := errors.Is(err, errNoHistory)
			switch {
			case errors.Is(err, errUnchanged):
				unchanged = true
				after = current
				return nil
			case err != nil && !skipHistory:
				return err
			}
			saved, err := tx.Save(ctx, next)
			if err != nil {
				return err
			}
			after = saved
			if skipHistory {
				return nil
			}
			rec.Kind = string(kind)
			rec.SubjectID = id
			rec.ActorID = actor.ID
			rec.StatusBefore = string(before.Status)
			rec.StatusAfter = string(saved.Status)
			rec.At = at
			record, err = tx.AppendHistory(ctx, rec)
			return err
		})
	})
	e.observe(kind, action, unchanged, err)
	if err != nil {
		if !isExpected(err) {
			e.logger.Error("approval transition failed",
				slog.String("kind", string(kind)),
				slog.Int64("subject_id", id),
				slog.String("action", string(action)),
				slog.Int64("actor_id", actor.ID),
				slog.Any("error", err))
		}
		return Subject{}, err
	}
	if !unchanged && record.ID != 0 {
		e.afterCommit(ctx, Transition{Before: before, Subject: after, Record: record, Actor: actor})
	}
	return after, nil
}

func (e *Engine) observe(kind Kind, action rbac.Action, unchanged bool, err error) {
	if e.observer == nil {
		return
	}
	outcome := "committed"
	switch {
	case unchanged && err == nil:
		outcome = "unchanged"
	case errors.Is(err, ErrPermissionDenied):
		outcome = "denied"
	case errors.Is(err, ErrConflict):
		outcome = "conflict"
	case err != nil && isExpected(err):
		outcome = "rejected"
	case err != nil:
		outcome = "error"
	}
	e.observer.ObserveTransition(string(kind), string(action), outcome)
}

func isExpected(err error) bool {
	for _, target := range []error{ErrNotFound, ErrUnknownKind, ErrInvalidTransition, ErrAlreadyDisabled, ErrDisabled, ErrMissingReason, ErrConflict, ErrInvalidInput} {
		if errors.Is(err, target) {
			return true
		}
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// afterCommit informs interested parties without holding up the caller. It
// runs on a context detached from the request and recovers from panics.
func (e *Engine) afterCommit(ctx context.Context, t Transition) {
	if e.notifier == nil && e.events == nil {
		return
	}
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("approval post-commit panic",
					slog.String("kind", t.Subject.Kind.Label()),
					slog.Int64("subject_id", t.Subject.ID),
					slog.Any("panic", r))
			}
		}()
		ctx, cancel := shared.Detach(ctx, e.notifyTimeout)
		defer cancel()

		if e.notifier != nil {
			audience, msg := e.message(t)
			if _, err := e.notifier.Notify(ctx, audience, msg); err != nil {
				e.logger.Warn("approval notification failed",
					slog.String("kind", string(t.Subject.Kind)),
					slog.Int64("subject_id", t.Subject.ID),
					slog.String("action", string(t.Record.Action)),
					slog.Any("error", err))
			}
		}
		if e.events != nil {
			if err := e.events.Publish(ctx, "approval.transitioned", newTransitionEvent(t)); err != nil {
				e.logger.Warn("approval event publish failed",
					slog.String("kind", string(t.Subject.Kind)),
					slog.Int64("subject_id", t.Subject.ID),
					slog.Any("error", err))
			}
		}
	}()
}

// Wait blocks until post-commit work started so far has finished.
func (e *Engine) Wait() {
	e.inflight.Wait()
}

// Shutdown waits for post-commit work or until ctx is done.
func (e *Engine) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
