package auth

import "slices"

// Permission keys. The vocabulary is closed: role grants outside this list are rejected.
const (
	PermRolesManage          = "roles.manage"
	PermOrgManage            = "org.manage"
	PermTemplatesManage      = "templates.manage"
	PermClauseLibraryManage  = "clause_library.manage"
	PermWorkflowsManage      = "workflows.manage"
	PermContractsCreate      = "contracts.create"
	PermContractsUpdate      = "contracts.update"
	PermContractsDelete      = "contracts.delete"
	PermContractsApprove     = "contracts.approve"
	PermContractsSendForSign = "contracts.send_for_signature"
	PermAIManage             = "ai.manage"
	PermAuditView            = "audit.view"
)

// AllPermissions lists every key in the vocabulary.
var AllPermissions = []string{
	PermRolesManage,
	PermOrgManage,
	PermTemplatesManage,
	PermClauseLibraryManage,
	PermWorkflowsManage,
	PermContractsCreate,
	PermContractsUpdate,
	PermContractsDelete,
	PermContractsApprove,
	PermContractsSendForSign,
	PermAIManage,
	PermAuditView,
}

// ValidPermission reports whether key belongs to the vocabulary.
func ValidPermission(key string) bool {
	return slices.Contains(AllPermissions, key)
}

// CanPermission is the bare admin-or-granted rule.
func CanPermission(isAdmin bool, keys []string, key string) bool {
	if isAdmin {
		return true
	}
	return slices.Contains(keys, key)
}
