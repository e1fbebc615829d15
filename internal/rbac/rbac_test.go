package rbac

import (
	"testing"

	"salescrm/api/internal/domain"
)

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   domain.UserRole
		action Action
		allow  bool
	}{
		{name: "admin admin", role: domain.RoleAdmin, action: ActionAdmin, allow: true},
		{name: "manager delete", role: domain.RoleManager, action: ActionDelete, allow: true},
		{name: "manager report", role: domain.RoleManager, action: ActionReport, allow: true},
		{name: "manager admin", role: domain.RoleManager, action: ActionAdmin, allow: false},
		{name: "sales rep write", role: domain.RoleSalesRep, action: ActionWrite, allow: true},
		{name: "sales rep delete", role: domain.RoleSalesRep, action: ActionDelete, allow: false},
		{name: "sales rep report", role: domain.RoleSalesRep, action: ActionReport, allow: false},
		{name: "marketing report", role: domain.RoleMarketing, action: ActionReport, allow: true},
		{name: "support read", role: domain.RoleSupport, action: ActionRead, allow: true},
		{name: "support delete", role: domain.RoleSupport, action: ActionDelete, allow: false},
		{name: "unknown read", role: "", action: ActionRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]domain.UserRole{
		"admin":      domain.RoleAdmin,
		"Sales Rep":  domain.RoleSalesRep,
		"sales-rep":  domain.RoleSalesRep,
		" MANAGER ":  domain.RoleManager,
		"superuser":  "",
		"":           "",
	}
	for raw, want := range cases {
		if got := Normalize(raw); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", raw, got, want)
		}
	}
}
