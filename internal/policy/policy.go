// Package policy decides which actions a caller may perform on a resource.
package policy

import "github.com/ukydev/school-transport/internal/models"

// Action names a guarded operation.
type Action string

const (
	ViewStudents     Action = "view_students"
	ManageStudents   Action = "manage_students"
	ViewStudentBus   Action = "view_student_bus"
	ManageStudentBus Action = "manage_student_bus"
	ViewTransport    Action = "view_transport"
	ManageTransport  Action = "manage_transport"
)

// Resource identifies what an action touches. Empty fields are not checked.
type Resource struct {
	TenantID string
	OwnerID  string
}

var staffActions = map[Action]bool{
	ViewStudents:     true,
	ManageStudents:   true,
	ViewStudentBus:   true,
	ManageStudentBus: true,
	ViewTransport:    true,
}

var studentActions = map[Action]bool{
	ViewStudents:   true,
	ViewStudentBus: true,
}

// Permits reports whether role may perform action at all, ignoring tenant and
// ownership. Used by route-level middleware.
func Permits(role models.Role, action Action) bool {
	switch role {
	case models.RoleSuper, models.RoleAdmin:
		return true
	case models.RoleStaff:
		return staffActions[action]
	case models.RoleStudent:
		return studentActions[action]
	default:
		return false
	}
}

// Allowed reports whether the caller may perform action on res.
func Allowed(claims *models.Claims, action Action, res Resource) bool {
	if claims == nil || !Permits(claims.Role, action) {
		return false
	}
	if claims.Role == models.RoleSuper {
		return true
	}
	if res.TenantID != "" && res.TenantID != claims.ClientOrganizationID {
		return false
	}
	if claims.Role == models.RoleStudent {
		return res.OwnerID != "" && res.OwnerID == claims.UserID
	}
	return true
}
