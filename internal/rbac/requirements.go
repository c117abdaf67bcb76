package rbac

import "fmt"

// Action names a workflow operation guarded by the requirement table.
type Action string

const (
	ActionView            Action = "view"
	ActionHistory         Action = "history"
	ActionCreate          Action = "create"
	ActionApproveManager  Action = "approve-manager"
	ActionApproveAccounts Action = "approve-accounts"
	ActionReject          Action = "reject"
	ActionDisable         Action = "disable"
	ActionEnable          Action = "enable"
	ActionLifecycle       Action = "lifecycle"
)

// WorkflowActions lists every guarded workflow action.
var WorkflowActions = []Action{
	ActionView,
	ActionHistory,
	ActionCreate,
	ActionApproveManager,
	ActionApproveAccounts,
	ActionReject,
	ActionDisable,
	ActionEnable,
	ActionLifecycle,
}

// Administrative permissions outside the approval workflow.
const (
	PermUsersManage           = "users.manage"
	PermRolesManage           = "roles.manage"
	PermNotificationBroadcast = "notifications.broadcast"
	PermAuditView             = "audit.view"
)

var (
	// RequireUsersManage guards identity administration.
	RequireUsersManage = Requirement{AnyOf: []string{PermUsersManage}, Roles: []string{RoleAdmin}}
	// RequireRolesManage guards role and binding administration.
	RequireRolesManage = Requirement{AnyOf: []string{PermRolesManage}, Roles: []string{RoleAdmin}}
	// RequireBroadcast guards operator notifications.
	RequireBroadcast = Requirement{AnyOf: []string{PermNotificationBroadcast}, Roles: []string{RoleAdmin}}
	// RequireAuditView guards the cross-kind history browser.
	RequireAuditView = Requirement{AnyOf: []string{PermAuditView}, Roles: []string{RoleAdmin}}
)

// WorkflowPermission returns the permission name for kind and action, for
// example "carrier.approve-manager".
func WorkflowPermission(kind string, action Action) string {
	return fmt.Sprintf("%s.%s", kind, action)
}

// ApprovalTable is the declarative map from workflow action to requirement.
// Handlers and the workflow engine both consult it; nothing else decides.
type ApprovalTable struct {
	managerRoles  []string
	accountsRoles []string
}

// NewApprovalTable builds the table with the legacy role names allowed for
// each approval stage.
func NewApprovalTable(managerRoles, accountsRoles []string) *ApprovalTable {
	if len(managerRoles) == 0 {
		managerRoles = []string{RoleManager}
	}
	if len(accountsRoles) == 0 {
		accountsRoles = []string{RoleAccounts}
	}
	return &ApprovalTable{managerRoles: managerRoles, accountsRoles: accountsRoles}
}

// ManagerRoles returns the role names performing the first approval stage.
func (t *ApprovalTable) ManagerRoles() []string {
	return append([]string(nil), t.managerRoles...)
}

// AccountsRoles returns the role names performing the final approval stage.
func (t *ApprovalTable) AccountsRoles() []string {
	return append([]string(nil), t.accountsRoles...)
}

// For returns the requirement guarding action on subjects of kind.
func (t *ApprovalTable) For(kind string, action Action) Requirement {
	perm := WorkflowPermission(kind, action)
	var roles []string
	switch action {
	case ActionApproveManager:
		roles = t.managerRoles
	case ActionApproveAccounts:
		roles = t.accountsRoles
	case ActionReject:
		roles = concat(t.managerRoles, t.accountsRoles)
	case ActionView, ActionHistory, ActionCreate:
		roles = concat(t.managerRoles, t.accountsRoles, []string{RoleAdmin})
	case ActionDisable, ActionEnable, ActionLifecycle:
		roles = []string{RoleAdmin}
	default:
		// Unknown actions only pass through explicit permission grants.
		return Requirement{AllOf: []string{perm}}
	}
	return Requirement{AnyOf: []string{perm}, Roles: roles}
}

// Allows is shorthand for Authorize(identity, t.For(kind, action)).
func (t *ApprovalTable) Allows(identity *Identity, kind string, action Action) bool {
	return Authorize(identity, t.For(kind, action))
}

func concat(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}
