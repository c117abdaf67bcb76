package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/haulmark/backoffice/internal/audit"
	"github.com/haulmark/backoffice/internal/rbac"
)

// GetStatus returns the subject with its decision makers resolved.
func (e *Engine) GetStatus(ctx context.Context, kind Kind, id int64, actor *rbac.Identity) (StatusView, error) {
	if err := e.authorize(kind, actor, rbac.ActionView); err != nil {
		return StatusView{}, err
	}
	subject, err := e.repo.Get(ctx, kind, id)
	if err != nil {
		return StatusView{}, err
	}
	view := StatusView{Subject: subject}
	if e.parties == nil {
		return view, nil
	}
	var ids []int64
	for _, ref := range []*int64{subject.ManagerApprovedBy, subject.AccountsApprovedBy, subject.RejectedBy, subject.DisabledBy} {
		if ref != nil {
			ids = append(ids, *ref)
		}
	}
	if len(ids) == 0 {
		return view, nil
	}
	identities, err := e.parties.IdentitiesByID(ctx, ids)
	if err != nil {
		return StatusView{}, fmt.Errorf("approval: resolve parties: %w", err)
	}
	byID := make(map[int64]rbac.Identity, len(identities))
	for _, identity := range identities {
		byID[identity.ID] = identity
	}
	party := func(ref *int64, at *time.Time) *Party {
		if ref == nil {
			return nil
		}
		p := &Party{ID: *ref}
		if identity, ok := byID[*ref]; ok {
			p.Name, p.Email = identity.Name, identity.Email
		}
		if at != nil {
			p.At = *at
		}
		return p
	}
	view.ManagerApprover = party(subject.ManagerApprovedBy, subject.ManagerApprovedAt)
	view.AccountsApprover = party(subject.AccountsApprovedBy, subject.AccountsApprovedAt)
	view.Rejecter = party(subject.RejectedBy, subject.RejectedAt)
	view.Disabler = party(subject.DisabledBy, subject.DisabledAt)
	return view, nil
}

// ListPending lists subjects in the approval stages the actor works on.
// Stage approvers see their own stage; view-only callers see both open stages.
// A requested status outside those stages yields an empty list unless the
// actor is an administrator.
func (e *Engine) ListPending(ctx context.Context, kind Kind, actor *rbac.Identity, status Status, includeDisabled bool) ([]Subject, error) {
	if err := e.authorize(kind, actor, rbac.ActionView); err != nil {
		return nil, err
	}
	visible := e.visibleStages(kind, actor)
	statuses := visible
	if status != "" {
		statuses = nil
		if rbac.IsAdmin(actor) || containsStatus(visible, status) {
			statuses = []Status{status}
		}
	}
	if len(statuses) == 0 && !includeDisabled {
		return []Subject{}, nil
	}
	return e.repo.ListPending(ctx, PendingFilter{Kind: kind, Statuses: statuses, IncludeDisabled: includeDisabled})
}

func (e *Engine) visibleStages(kind Kind, actor *rbac.Identity) []Status {
	var stages []Status
	if e.table.Allows(actor, string(kind), rbac.ActionApproveManager) {
		stages = append(stages, StatusPending)
	}
	if e.table.Allows(actor, string(kind), rbac.ActionApproveAccounts) {
		stages = append(stages, StatusManagerApproved)
	}
	if len(stages) == 0 {
		stages = []Status{StatusPending, StatusManagerApproved}
	}
	return stages
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// History returns the most recent history records across subjects of kind.
func (e *Engine) History(ctx context.Context, kind Kind, actor *rbac.Identity, limit int) ([]audit.Record, error) {
	return e.listHistory(ctx, kind, actor, audit.Filter{Kind: string(kind), Limit: limit})
}

// SubjectHistory returns the history of one subject, most recent first.
func (e *Engine) SubjectHistory(ctx context.Context, kind Kind, id int64, actor *rbac.Identity, limit int) ([]audit.Record, error) {
	return e.listHistory(ctx, kind, actor, audit.Filter{Kind: string(kind), SubjectID: id, Limit: limit})
}

func (e *Engine) listHistory(ctx context.Context, kind Kind, actor *rbac.Identity, filter audit.Filter) ([]audit.Record, error) {
	if err := e.authorize(kind, actor, rbac.ActionHistory); err != nil {
		return nil, err
	}
	if e.history == nil {
		return nil, fmt.Errorf("approval: history ledger not configured")
	}
	filter.Limit = audit.ClampLimit(filter.Limit)
	if filter.Limit > e.historyMax {
		filter.Limit = e.historyMax
	}
	return e.history.List(ctx, filter)
}
