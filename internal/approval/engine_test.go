package approval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haulmark/backoffice/internal/audit"
	"github.com/haulmark/backoffice/internal/notify"
	"github.com/haulmark/backoffice/internal/rbac"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []notify.Message
	panics   bool
}

func (n *recordingNotifier) Notify(_ context.Context, _ notify.Audience, msg notify.Message) (notify.Report, error) {
	if n.panics {
		panic("notifier exploded")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return notify.Report{Recipients: 1, Stored: 1}, nil
}

func (n *recordingNotifier) titles() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.messages))
	for _, m := range n.messages {
		out = append(out, m.Title)
	}
	return out
}

type recordingEvents struct {
	mu     sync.Mutex
	events []TransitionEvent
}

func (p *recordingEvents) Publish(_ context.Context, routingKey string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, payload.(TransitionEvent))
	return nil
}

var (
	creator  = &rbac.Identity{ID: 10, Name: "Dana Dispatcher", IsActive: true, Role: &rbac.Role{ID: 5, Name: "dispatcher"}, Permissions: []string{"carrier.create", "dispatch.create"}}
	manager  = &rbac.Identity{ID: 11, Name: "Morgan Manager", IsActive: true, Role: &rbac.Role{ID: 3, Name: "Manager"}}
	accounts = &rbac.Identity{ID: 12, Name: "Avery Accounts", IsActive: true, LegacyRole: "accounts"}
	admin    = &rbac.Identity{ID: 13, Name: "Ops Admin", IsActive: true, Role: &rbac.Role{ID: 2, Name: "admin"}}
	super    = &rbac.Identity{ID: 1, Name: "Root", IsActive: true, Role: &rbac.Role{ID: 1, Name: "Super Admin"}}
	outsider = &rbac.Identity{ID: 14, Name: "Guest", IsActive: true, Role: &rbac.Role{ID: 9, Name: "viewer"}}
)

type fixture struct {
	repo     *memoryRepo
	engine   *Engine
	notifier *recordingNotifier
	events   *recordingEvents
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMemoryRepo()
	notifier := &recordingNotifier{}
	events := &recordingEvents{}
	engine := NewEngine(repo, Options{
		Table:    rbac.NewApprovalTable([]string{"manager"}, []string{"accounts"}),
		Notifier: notifier,
		Events:   events,
		History:  repo,
		Now:      func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) },
	})
	return &fixture{repo: repo, engine: engine, notifier: notifier, events: events}
}

func (f *fixture) pending(kind Kind, id int64) {
	s := Subject{Kind: kind, ID: id, Reference: "REF-1", Status: StatusPending, CreatedBy: creator.ID}
	if kind.HasLifecycle() {
		s.Lifecycle = LifecycleInactive
	}
	f.repo.seed(s)
}

func TestScenarioA_TwoStageApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pending(KindCarrier, 1)

	s, err := f.engine.ApproveAsManager(ctx, KindCarrier, 1, manager, "looks good")
	require.NoError(t, err)
	require.Equal(t, StatusManagerApproved, s.Status)
	require.Equal(t, manager.ID, *s.ManagerApprovedBy)
	history := f.repo.historyFor(KindCarrier, 1)
	require.Len(t, history, 1)
	require.Equal(t, audit.ActionManagerApproved, history[0].Action)
	require.Equal(t, "looks good", history[0].Notes)
	require.Equal(t, "pending", history[0].StatusBefore)
	f.engine.Wait()

	s, err = f.engine.ApproveAsAccounts(ctx, KindCarrier, 1, accounts, "")
	require.NoError(t, err)
	require.Equal(t, StatusAccountsApproved, s.Status)
	require.Equal(t, LifecycleActive, s.Lifecycle)
	require.Len(t, f.repo.historyFor(KindCarrier, 1), 2)

	f.engine.Wait()
	require.Equal(t, []string{"Carrier approved by manager", "Carrier fully approved"}, f.notifier.titles())
	require.Len(t, f.events.events, 2)
	require.Equal(t, "accounts_approved", f.events.events[1].Action)
}

func TestScenarioB_RejectWithoutReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.seed(Subject{Kind: KindDispatch, ID: 2, Status: StatusManagerApproved, CreatedBy: creator.ID, ManagerApprovedBy: &manager.ID})

	_, err := f.engine.Reject(ctx, KindDispatch, 2, manager, "   ")
	require.ErrorIs(t, err, ErrMissingReason)

	s, err := f.repo.Get(ctx, KindDispatch, 2)
	require.NoError(t, err)
	require.Equal(t, StatusManagerApproved, s.Status)
	require.Empty(t, f.repo.historyFor(KindDispatch, 2))
}

func TestScenarioC_DisableTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pending(KindCarrier, 3)

	s, err := f.engine.Disable(ctx, KindCarrier, 3, admin)
	require.NoError(t, err)
	require.True(t, s.IsDisabled)
	require.Equal(t, StatusDisabled, s.Status)
	require.Equal(t, LifecycleSuspended, s.Lifecycle)

	_, err = f.engine.Disable(ctx, KindCarrier, 3, admin)
	require.ErrorIs(t, err, ErrAlreadyDisabled)
	require.Contains(t, err.Error(), "already disabled")

	s, err = f.repo.Get(ctx, KindCarrier, 3)
	require.NoError(t, err)
	require.Equal(t, StatusDisabled, s.Status)
	require.Len(t, f.repo.historyFor(KindCarrier, 3), 1)
}

func TestScenarioD_ConcurrentManagerApprovals(t *testing.T) {
	f := newFixture(t)
	f.pending(KindDispatch, 4)

	const callers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.engine.ApproveAsManager(context.Background(), KindDispatch, 4, manager, "")
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.True(t, isConflictOrInvalid(err), "unexpected error %v", err)
	}
	require.Equal(t, 1, succeeded)
	require.Len(t, f.repo.historyFor(KindDispatch, 4), 1)
}

func TestOptimisticVersionRejectsStaleWrites(t *testing.T) {
	f := newFixture(t)
	f.engine.locker = noLock{}
	f.pending(KindDispatch, 5)

	// Both transactions read version 1 before either commits.
	var barrier sync.WaitGroup
	barrier.Add(2)
	f.repo.beforeSave = func() {
		barrier.Done()
		barrier.Wait()
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.engine.ApproveAsManager(context.Background(), KindDispatch, 5, manager, "")
		}(i)
	}
	wg.Wait()

	okCount := 0
	for _, err := range results {
		if err == nil {
			okCount++
		} else {
			require.ErrorIs(t, err, ErrConflict)
		}
	}
	require.Equal(t, 1, okCount)
	require.Len(t, f.repo.historyFor(KindDispatch, 5), 1)
}

type noLock struct{}

func (noLock) Lock(context.Context, string) (func(), error) { return func() {}, nil }

func isConflictOrInvalid(err error) bool {
	return errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrConflict)
}

func TestTransitionLegality(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name   string
		status Status
		act    func(e *Engine) error
		want   error
	}{
		{"accounts before manager", StatusPending, func(e *Engine) error {
			_, err := e.ApproveAsAccounts(ctx, KindCarrier, 1, accounts, "")
			return err
		}, ErrInvalidTransition},
		{"manager twice", StatusManagerApproved, func(e *Engine) error {
			_, err := e.ApproveAsManager(ctx, KindCarrier, 1, manager, "")
			return err
		}, ErrInvalidTransition},
		{"reject approved", StatusAccountsApproved, func(e *Engine) error {
			_, err := e.Reject(ctx, KindCarrier, 1, manager, "late")
			return err
		}, ErrInvalidTransition},
		{"reject rejected", StatusRejected, func(e *Engine) error {
			_, err := e.Reject(ctx, KindCarrier, 1, accounts, "again")
			return err
		}, ErrInvalidTransition},
		{"enable active", StatusPending, func(e *Engine) error {
			_, err := e.Enable(ctx, KindCarrier, 1, admin, "")
			return err
		}, ErrInvalidTransition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.repo.seed(Subject{Kind: KindCarrier, ID: 1, Status: tc.status, CreatedBy: creator.ID})
			err := tc.act(f.engine)
			require.ErrorIs(t, err, tc.want)
			s, getErr := f.repo.Get(ctx, KindCarrier, 1)
			require.NoError(t, getErr)
			require.Equal(t, tc.status, s.Status)
			require.Empty(t, f.repo.historyFor(KindCarrier, 1))
		})
	}
}

func TestAccountsApprovalMessageNamesPrecondition(t *testing.T) {
	f := newFixture(t)
	f.pending(KindDispatch, 7)
	_, err := f.engine.ApproveAsAccounts(context.Background(), KindDispatch, 7, accounts, "")
	require.EqualError(t, err, "Cannot approve dispatch with status: pending. Must be manager-approved first.")
}

func TestApprovalOfDisabledSubjectFails(t *testing.T) {
	f := newFixture(t)
	f.repo.seed(Subject{Kind: KindCarrier, ID: 8, Status: StatusDisabled, IsDisabled: true, CreatedBy: creator.ID})
	_, err := f.engine.ApproveAsManager(context.Background(), KindCarrier, 8, manager, "")
	require.ErrorIs(t, err, ErrDisabled)
	_, err = f.engine.Reject(context.Background(), KindCarrier, 8, manager, "no")
	require.ErrorIs(t, err, ErrDisabled)
}

func TestPermissionGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pending(KindCarrier, 9)

	_, err := f.engine.ApproveAsManager(ctx, KindCarrier, 9, accounts, "")
	require.ErrorIs(t, err, ErrPermissionDenied)
	_, err = f.engine.ApproveAsManager(ctx, KindCarrier, 9, outsider, "")
	require.ErrorIs(t, err, ErrPermissionDenied)
	_, err = f.engine.ApproveAsManager(ctx, KindCarrier, 9, nil, "")
	require.ErrorIs(t, err, ErrPermissionDenied)
	_, err = f.engine.Disable(ctx, KindCarrier, 9, manager)
	require.ErrorIs(t, err, ErrPermissionDenied)
	_, err = f.engine.Reject(ctx, KindCarrier, 9, outsider, "")
	require.ErrorIs(t, err, ErrPermissionDenied, "authorization precedes reason validation")

	inactive := *manager
	inactive.IsActive = false
	_, err = f.engine.ApproveAsManager(ctx, KindCarrier, 9, &inactive, "")
	require.ErrorIs(t, err, ErrPermissionDenied)

	granted := &rbac.Identity{ID: 20, IsActive: true, Role: &rbac.Role{ID: 7, Name: "ops"}, Permissions: []string{"carrier.approve-manager"}}
	s, err := f.engine.ApproveAsManager(ctx, KindCarrier, 9, granted, "")
	require.NoError(t, err)
	require.Equal(t, StatusManagerApproved, s.Status)

	_, err = f.engine.ApproveAsManager(ctx, Kind("invoice"), 9, super, "")
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestSuperAdminBypassesTable(t *testing.T) {
	f := newFixture(t)
	f.pending(KindDispatch, 10)
	_, err := f.engine.ApproveAsManager(context.Background(), KindDispatch, 10, super, "")
	require.NoError(t, err)
	_, err = f.engine.ApproveAsAccounts(context.Background(), KindDispatch, 10, super, "")
	require.NoError(t, err)
}

func TestRejectSuspendsCarrier(t *testing.T) {
	f := newFixture(t)
	f.pending(KindCarrier, 11)
	s, err := f.engine.Reject(context.Background(), KindCarrier, 11, accounts, "  missing insurance  ")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, s.Status)
	require.Equal(t, "missing insurance", s.RejectionReason)
	require.Equal(t, LifecycleSuspended, s.Lifecycle)
	history := f.repo.historyFor(KindCarrier, 11)
	require.Len(t, history, 1)
	require.Equal(t, "missing insurance", history[0].Reason)
}

func TestHistoryIsAppendOnlyAndRollsBackWithTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pending(KindCarrier, 12)

	f.repo.failAppend = errBoom
	_, err := f.engine.ApproveAsManager(ctx, KindCarrier, 12, manager, "")
	require.ErrorIs(t, err, errBoom)
	s, err := f.repo.Get(ctx, KindCarrier, 12)
	require.NoError(t, err)
	require.Equal(t, StatusPending, s.Status, "status must not commit without its history")

	f.repo.failAppend = nil
	_, err = f.engine.ApproveAsManager(ctx, KindCarrier, 12, manager, "")
	require.NoError(t, err)
	_, err = f.engine.Reject(ctx, KindCarrier, 12, accounts, "duplicate carrier")
	require.NoError(t, err)

	history := f.repo.historyFor(KindCarrier, 12)
	require.Len(t, history, 2)
	require.Equal(t, audit.ActionManagerApproved, history[0].Action)
	require.Equal(t, audit.ActionRejected, history[1].Action)
	require.Less(t, history[0].ID, history[1].ID)
}

func TestRegisterAndEnable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.engine.Register(ctx, KindCarrier, 20, " ACME-01 ", creator)
	require.NoError(t, err)
	require.Equal(t, StatusPending, s.Status)
	require.Equal(t, LifecycleInactive, s.Lifecycle)
	require.Equal(t, "ACME-01", s.Reference)

	_, err = f.engine.Register(ctx, KindCarrier, 20, "ACME-01", creator)
	require.ErrorIs(t, err, ErrConflict)
	_, err = f.engine.Register(ctx, KindCarrier, 21, "x", outsider)
	require.ErrorIs(t, err, ErrPermissionDenied)

	_, err = f.engine.ApproveAsManager(ctx, KindCarrier, 20, manager, "")
	require.NoError(t, err)
	_, err = f.engine.Disable(ctx, KindCarrier, 20, admin)
	require.NoError(t, err)

	s, err = f.engine.Enable(ctx, KindCarrier, 20, admin, "paperwork fixed")
	require.NoError(t, err)
	require.False(t, s.IsDisabled)
	require.Equal(t, StatusPending, s.Status)
	require.Nil(t, s.ManagerApprovedBy)
	require.Nil(t, s.DisabledBy)

	var actions []audit.Action
	for _, rec := range f.repo.historyFor(KindCarrier, 20) {
		actions = append(actions, rec.Action)
	}
	require.Equal(t, []audit.Action{audit.ActionCreated, audit.ActionManagerApproved, audit.ActionDisabled, audit.ActionEnabled}, actions)

	f.engine.Wait()
	require.Contains(t, f.notifier.titles(), "New carrier awaiting approval")
}

func TestLifecycleReopensApprovedCarrier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.seed(Subject{Kind: KindCarrier, ID: 30, Status: StatusAccountsApproved, Lifecycle: LifecycleActive,
		CreatedBy: creator.ID, ManagerApprovedBy: &manager.ID, AccountsApprovedBy: &accounts.ID})

	s, err := f.engine.SetLifecycle(ctx, KindCarrier, 30, admin, LifecycleActive)
	require.NoError(t, err)
	require.Equal(t, StatusAccountsApproved, s.Status, "unchanged lifecycle is a no-op")
	require.Empty(t, f.repo.historyFor(KindCarrier, 30))

	s, err = f.engine.SetLifecycle(ctx, KindCarrier, 30, admin, LifecycleSuspended)
	require.NoError(t, err)
	require.Equal(t, StatusAccountsApproved, s.Status)
	require.Equal(t, LifecycleSuspended, s.Lifecycle)
	require.Empty(t, f.repo.historyFor(KindCarrier, 30))

	s, err = f.engine.SetLifecycle(ctx, KindCarrier, 30, admin, LifecycleActive)
	require.NoError(t, err)
	require.Equal(t, StatusPending, s.Status)
	require.Nil(t, s.ManagerApprovedBy)
	require.Nil(t, s.AccountsApprovedBy)
	history := f.repo.historyFor(KindCarrier, 30)
	require.Len(t, history, 1)
	require.Equal(t, audit.ActionPending, history[0].Action)

	_, err = f.engine.SetLifecycle(ctx, KindDispatch, 30, admin, LifecycleActive)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.engine.SetLifecycle(ctx, KindCarrier, 30, manager, LifecycleInactive)
	require.ErrorIs(t, err, ErrPermissionDenied)
}

func TestNotifierPanicDoesNotAffectTransition(t *testing.T) {
	f := newFixture(t)
	f.notifier.panics = true
	f.pending(KindDispatch, 40)

	s, err := f.engine.ApproveAsManager(context.Background(), KindDispatch, 40, manager, "")
	require.NoError(t, err)
	require.Equal(t, StatusManagerApproved, s.Status)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.engine.Shutdown(ctx))
}

func TestNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.ApproveAsManager(context.Background(), KindCarrier, 404, manager, "")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = f.engine.GetStatus(context.Background(), KindCarrier, 404, manager)
	require.ErrorIs(t, err, ErrNotFound)
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveTransition(kind, action, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, kind+"/"+action+"/"+outcome)
}

func TestObserverSeesEveryOutcome(t *testing.T) {
	repo := newMemoryRepo()
	observer := &recordingObserver{}
	engine := NewEngine(repo, Options{
		Table:    rbac.NewApprovalTable([]string{"manager"}, []string{"accounts"}),
		History:  repo,
		Observer: observer,
	})
	ctx := context.Background()
	repo.seed(Subject{Kind: KindDispatch, ID: 3, Status: StatusPending, CreatedBy: creator.ID})

	_, err := engine.ApproveAsManager(ctx, KindDispatch, 3, outsider, "")
	require.ErrorIs(t, err, ErrPermissionDenied)
	_, err = engine.ApproveAsManager(ctx, KindDispatch, 3, manager, "")
	require.NoError(t, err)
	_, err = engine.ApproveAsManager(ctx, KindDispatch, 3, manager, "")
	require.ErrorIs(t, err, ErrInvalidTransition)

	require.Equal(t, []string{
		"dispatch/approve-manager/denied",
		"dispatch/approve-manager/committed",
		"dispatch/approve-manager/rejected",
	}, observer.outcomes)
}

func TestObserverSeesRejectPrechecks(t *testing.T) {
	repo := newMemoryRepo()
	observer := &recordingObserver{}
	engine := NewEngine(repo, Options{
		Table:    rbac.NewApprovalTable([]string{"manager"}, []string{"accounts"}),
		History:  repo,
		Observer: observer,
	})
	ctx := context.Background()
	repo.seed(Subject{Kind: KindCarrier, ID: 4, Status: StatusPending, CreatedBy: creator.ID})

	_, err := engine.Reject(ctx, KindCarrier, 4, outsider, "no insurance")
	require.ErrorIs(t, err, ErrPermissionDenied)
	_, err = engine.Reject(ctx, KindCarrier, 4, manager, "   ")
	require.ErrorIs(t, err, ErrMissingReason)

	require.Equal(t, []string{
		"carrier/reject/denied",
		"carrier/reject/rejected",
	}, observer.outcomes)
}
