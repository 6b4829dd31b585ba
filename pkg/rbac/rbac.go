package rbac

import "fmt"

// 权限常量
const (
	// 只读权限
	PermissionReadJobs        = "jobs:read"
	PermissionReadNewsletters = "newsletters:read"
	PermissionReadFlags       = "flags:read"

	// 敏感操作权限
	PermissionRetryJobs     = "jobs:retry"
	PermissionReprocess     = "emails:reprocess"
	PermissionWriteFlags    = "flags:write"
	PermissionReplayOutbox  = "outbox:replay"
	PermissionAssignAddress = "users:address"
)

// 角色常量
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// 角色权限映射
var rolePermissions = map[string][]string{
	RoleViewer: {
		PermissionReadJobs,
		PermissionReadNewsletters,
		PermissionReadFlags,
	},
	RoleOperator: {
		PermissionReadJobs,
		PermissionReadNewsletters,
		PermissionReadFlags,
		PermissionRetryJobs,
		PermissionReprocess,
	},
	RoleAdmin: {
		PermissionReadJobs,
		PermissionReadNewsletters,
		PermissionReadFlags,
		PermissionRetryJobs,
		PermissionReprocess,
		PermissionWriteFlags,
		PermissionReplayOutbox,
		PermissionAssignAddress,
	},
}

// IsValidRole 判断角色是否已定义
func IsValidRole(role string) bool {
	_, ok := rolePermissions[role]
	return ok
}

// HasPermission 检查角色是否有指定权限
func HasPermission(role, permission string) bool {
	for _, p := range rolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission 检查角色是否有指定权限（返回错误而不是布尔值，便于处理）
func CheckPermission(subject, role, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{
			Subject:    subject,
			Role:       role,
			Permission: permission,
		}
	}
	return nil
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	Subject    string
	Role       string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("role %q lacks permission %q", e.Role, e.Permission)
}
