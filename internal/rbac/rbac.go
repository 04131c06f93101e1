package rbac

import "github.com/freelance-escrow/backend/internal/models"

// Role constants
const (
	RoleClient     = "client"
	RoleFreelancer = "freelancer"
)

// Permission constants
const (
	PermApprove = "approve"
	PermRefund  = "refund"
)

// RolePermissions defines what each party of an agreement can do.
var RolePermissions = map[string][]string{
	RoleClient: {
		PermApprove, PermRefund,
	},
	RoleFreelancer: {
		PermApprove,
		// Freelancer CANNOT: PermRefund
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, permission string) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == permission {
			return true
		}
	}
	return false
}

// RolesOf returns the roles id holds in rec. One identity may hold both.
func RolesOf(rec models.EscrowRecord, id models.Identity) []string {
	var roles []string
	if id == rec.Client {
		roles = append(roles, RoleClient)
	}
	if id == rec.Freelancer {
		roles = append(roles, RoleFreelancer)
	}
	return roles
}

// Allowed reports whether any role of id in rec grants permission.
func Allowed(rec models.EscrowRecord, id models.Identity, permission string) bool {
	for _, role := range RolesOf(rec, id) {
		if HasPermission(role, permission) {
			return true
		}
	}
	return false
}
