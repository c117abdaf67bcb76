package approval

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Kind identifies the entity type running through the workflow.
type Kind string

const (
	KindCarrier  Kind = "carrier"
	KindDispatch Kind = "dispatch"
)

// Kinds lists every supported kind.
var Kinds = []Kind{KindCarrier, KindDispatch}

// ParseKind validates a kind name.
func ParseKind(raw string) (Kind, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(raw)))
	if !kind.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, raw)
	}
	return kind, nil
}

// Valid reports whether the kind is supported.
func (k Kind) Valid() bool {
	return k == KindCarrier || k == KindDispatch
}

// HasLifecycle reports whether subjects of this kind carry a lifecycle status.
func (k Kind) HasLifecycle() bool {
	return k == KindCarrier
}

// Label is the human readable kind name, e.g. "Carrier". Casers hold state,
// so one is built per call.
func (k Kind) Label() string {
	return cases.Title(language.English).String(string(k))
}

// Status is the approval status of a subject.
type Status string

const (
	StatusPending          Status = "pending"
	StatusManagerApproved  Status = "manager_approved"
	StatusAccountsApproved Status = "accounts_approved"
	StatusRejected         Status = "rejected"
	StatusDisabled         Status = "disabled"
)

// ParseStatus validates an approval status name.
func ParseStatus(raw string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case StatusPending, StatusManagerApproved, StatusAccountsApproved, StatusRejected, StatusDisabled:
		return status, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, raw)
}

// Lifecycle is the operational status of a carrier.
type Lifecycle string

const (
	LifecycleActive    Lifecycle = "active"
	LifecycleSuspended Lifecycle = "suspended"
	LifecycleInactive  Lifecycle = "inactive"
)

// ParseLifecycle validates a lifecycle status name.
func ParseLifecycle(raw string) (Lifecycle, error) {
	lc := Lifecycle(strings.ToLower(strings.TrimSpace(raw)))
	switch lc {
	case LifecycleActive, LifecycleSuspended, LifecycleInactive:
		return lc, nil
	}
	return "", fmt.Errorf("%w: unknown lifecycle status %q", ErrInvalidInput, raw)
}

// Subject is the workflow state of one carrier profile or dispatch. It is only
// mutated through Engine transitions.
type Subject struct {
	Kind               Kind       `json:"kind"`
	ID                 int64      `json:"id"`
	Reference          string     `json:"reference"`
	Status             Status     `json:"approval_status"`
	IsDisabled         bool       `json:"is_disabled"`
	Lifecycle          Lifecycle  `json:"lifecycle_status,omitempty"`
	CreatedBy          int64      `json:"created_by"`
	ManagerApprovedBy  *int64     `json:"manager_approved_by,omitempty"`
	ManagerApprovedAt  *time.Time `json:"manager_approved_at,omitempty"`
	AccountsApprovedBy *int64     `json:"accounts_approved_by,omitempty"`
	AccountsApprovedAt *time.Time `json:"accounts_approved_at,omitempty"`
	RejectedBy         *int64     `json:"rejected_by,omitempty"`
	RejectedAt         *time.Time `json:"rejected_at,omitempty"`
	RejectionReason    string     `json:"rejection_reason,omitempty"`
	DisabledBy         *int64     `json:"disabled_by,omitempty"`
	DisabledAt         *time.Time `json:"disabled_at,omitempty"`
	Version            int64      `json:"version"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// DisplayName labels the subject in messages, e.g. "Carrier ACME-01".
func (s Subject) DisplayName() string {
	ref := strings.TrimSpace(s.Reference)
	if ref == "" {
		ref = fmt.Sprintf("#%d", s.ID)
	}
	return s.Kind.Label() + " " + ref
}

// clearDecisions drops approver and rejecter references when a subject
// re-enters the pipeline.
func (s *Subject) clearDecisions() {
	s.ManagerApprovedBy, s.ManagerApprovedAt = nil, nil
	s.AccountsApprovedBy, s.AccountsApprovedAt = nil, nil
	s.RejectedBy, s.RejectedAt = nil, nil
	s.RejectionReason = ""
}

// Party is a lightweight identity summary shown next to decisions.
type Party struct {
	ID    int64     `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
	At    time.Time `json:"at"`
}

// StatusView is a subject with its decision makers resolved.
type StatusView struct {
	Subject
	ManagerApprover  *Party `json:"manager_approver,omitempty"`
	AccountsApprover *Party `json:"accounts_approver,omitempty"`
	Rejecter         *Party `json:"rejecter,omitempty"`
	Disabler         *Party `json:"disabler,omitempty"`
}

// PendingFilter narrows pending listings.
type PendingFilter struct {
	Kind            Kind
	Statuses        []Status
	IncludeDisabled bool
	Limit           int
}
