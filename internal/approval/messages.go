package approval

import (
	"fmt"
	"time"

	"github.com/haulmark/backoffice/internal/audit"
	"github.com/haulmark/backoffice/internal/notify"
	"github.com/haulmark/backoffice/internal/rbac"
)

// message builds the audience and content informing parties of t.
func (e *Engine) message(t Transition) (notify.Audience, notify.Message) {
	s := t.Subject
	name := s.DisplayName()
	actor := actorName(t.Actor)
	creator := notify.SingleUser(s.CreatedBy)
	managers := notify.RolesNamed(e.table.ManagerRoles()...)
	accounts := notify.RolesNamed(e.table.AccountsRoles()...)
	msg := notify.Message{Link: fmt.Sprintf("/%s-approvals/%d", s.Kind, s.ID)}

	switch t.Record.Action {
	case audit.ActionCreated:
		msg.Type = notify.SeverityInfo
		msg.Title = fmt.Sprintf("New %s awaiting approval", s.Kind)
		msg.Body = fmt.Sprintf("%s was submitted by %s and awaits manager approval.", name, actor)
		return managers, msg
	case audit.ActionManagerApproved:
		msg.Type = notify.SeveritySuccess
		msg.Title = fmt.Sprintf("%s approved by manager", s.Kind.Label())
		msg.Body = fmt.Sprintf("%s was approved by %s and awaits accounts approval.", name, actor)
		return notify.Union(creator, accounts), msg
	case audit.ActionAccountsApproved:
		msg.Type = notify.SeveritySuccess
		msg.Title = fmt.Sprintf("%s fully approved", s.Kind.Label())
		msg.Body = fmt.Sprintf("%s received final approval from %s.", name, actor)
		return notify.Union(creator, managers), msg
	case audit.ActionRejected:
		msg.Type = notify.SeverityError
		msg.Title = fmt.Sprintf("%s rejected", s.Kind.Label())
		msg.Body = fmt.Sprintf("%s was rejected by %s. Reason: %s", name, actor, s.RejectionReason)
		return notify.Union(creator, managers), msg
	case audit.ActionDisabled:
		msg.Type = notify.SeverityWarning
		msg.Title = fmt.Sprintf("%s disabled", s.Kind.Label())
		msg.Body = fmt.Sprintf("%s was disabled by %s.", name, actor)
		return creator, msg
	case audit.ActionEnabled:
		msg.Type = notify.SeverityInfo
		msg.Title = fmt.Sprintf("%s re-enabled", s.Kind.Label())
		msg.Body = fmt.Sprintf("%s was re-enabled by %s and awaits manager approval.", name, actor)
		return notify.Union(creator, managers), msg
	default:
		msg.Type = notify.SeverityWarning
		msg.Title = fmt.Sprintf("%s approval re-opened", s.Kind.Label())
		msg.Body = fmt.Sprintf("%s was returned to pending by %s. %s", name, actor, t.Record.Notes)
		return notify.Union(creator, managers), msg
	}
}

func actorName(actor *rbac.Identity) string {
	if actor == nil {
		return "the system"
	}
	if actor.Name != "" {
		return actor.Name
	}
	if actor.Email != "" {
		return actor.Email
	}
	return fmt.Sprintf("user #%d", actor.ID)
}

// TransitionEvent is the message published for every committed transition.
type TransitionEvent struct {
	Kind         string    `json:"kind"`
	SubjectID    int64     `json:"subject_id"`
	Reference    string    `json:"reference"`
	Action       string    `json:"action"`
	StatusBefore string    `json:"status_before,omitempty"`
	StatusAfter  string    `json:"status_after"`
	Lifecycle    string    `json:"lifecycle_status,omitempty"`
	ActorID      int64     `json:"actor_id"`
	HistoryID    int64     `json:"history_id"`
	At           time.Time `json:"at"`
}

func newTransitionEvent(t Transition) TransitionEvent {
	return TransitionEvent{
		Kind:         string(t.Subject.Kind),
		SubjectID:    t.Subject.ID,
		Reference:    t.Subject.Reference,
		Action:       string(t.Record.Action),
		StatusBefore: t.Record.StatusBefore,
		StatusAfter:  t.Record.StatusAfter,
		Lifecycle:    string(t.Subject.Lifecycle),
		ActorID:      t.Record.ActorID,
		HistoryID:    t.Record.ID,
		At:           t.Record.At,
	}
}
