// Package rbac maps CRM user roles onto the actions they may perform.
package rbac

import "salescrm/api/internal/domain"

type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
	ActionReport Action = "report"
	ActionAdmin  Action = "admin"
)

var grants = map[domain.UserRole][]Action{
	domain.RoleManager:   {ActionRead, ActionWrite, ActionDelete, ActionReport},
	domain.RoleSalesRep:  {ActionRead, ActionWrite},
	domain.RoleMarketing: {ActionRead, ActionWrite, ActionReport},
	domain.RoleSupport:   {ActionRead, ActionWrite},
}

func Can(role domain.UserRole, action Action) bool {
	if role == domain.RoleAdmin {
		return true
	}
	for _, granted := range grants[role] {
		if granted == action {
			return true
		}
	}
	return false
}

// Normalize maps a stored or claimed role onto its canonical value. Unknown
// roles come back empty and are granted nothing.
func Normalize(role string) domain.UserRole {
	parsed, ok := domain.ParseUserRole(role)
	if !ok {
		return ""
	}
	return parsed
}
