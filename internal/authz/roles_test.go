package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasRole(t *testing.T) {
	tests := []struct {
		name  string
		role  Role
		check []Role
		want  bool
	}{
		{"exact match", RoleAdmin, []Role{RoleAdmin}, true},
		{"contained in set", RoleViewer, []Role{RoleAdmin, RoleViewer}, true},
		{"not in set", RoleOperator, []Role{RoleAdmin, RoleOwner}, false},
		{"empty snapshot role", "", []Role{RoleViewer}, false},
		{"empty check set", RoleAdmin, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Snapshot{Role: tt.role}
			assert.Equal(t, tt.want, s.HasRole(tt.check...))
		})
	}
}

func TestHasMinimumRole(t *testing.T) {
	tests := []struct {
		name    string
		role    Role
		minimum Role
		want    bool
	}{
		{"admin meets operator", RoleAdmin, RoleOperator, true},
		{"operator meets operator", RoleOperator, RoleOperator, true},
		{"viewer fails operator", RoleViewer, RoleOperator, false},
		{"no role fails operator", "", RoleOperator, false},
		{"owner meets admin", RoleOwner, RoleAdmin, true},
		{"viewer meets viewer", RoleViewer, RoleViewer, true},
		{"undefined role fails even undefined minimum", Role("superuser"), Role("wizard"), false},
		{"admin meets undefined minimum", RoleAdmin, Role("wizard"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Snapshot{Role: tt.role}
			assert.Equal(t, tt.want, s.HasMinimumRole(tt.minimum))
		})
	}
}

func TestCanAccessPath(t *testing.T) {
	s := Snapshot{Role: RoleOperator}

	// No requirement: always accessible
	assert.True(t, s.CanAccessPath("/dashboard"))
	assert.True(t, Snapshot{}.CanAccessPath("/dashboard"))

	// With requirements: delegates to HasRole
	assert.True(t, s.CanAccessPath("/orders", RoleOperator, RoleAdmin))
	assert.False(t, s.CanAccessPath("/settings", RoleAdmin, RoleOwner))
}

func TestHasWorkflowRole(t *testing.T) {
	s := Snapshot{Role: RoleOperator, WorkflowRoles: []string{"picker", "packer"}}

	assert.True(t, s.HasWorkflowRole("picker"))
	assert.False(t, s.HasWorkflowRole("supervisor"))
	assert.False(t, Snapshot{}.HasWorkflowRole("picker"))
}

func TestParseRole(t *testing.T) {
	assert.Equal(t, RoleAdmin, ParseRole(" Admin "))
	assert.Equal(t, RoleViewer, ParseRole("VIEWER"))
	assert.False(t, ParseRole("superuser").Defined())
	assert.True(t, ParseRole("owner").Defined())
}

func TestRank(t *testing.T) {
	assert.Greater(t, RoleOwner.Rank(), RoleAdmin.Rank())
	assert.Greater(t, RoleAdmin.Rank(), RoleOperator.Rank())
	assert.Greater(t, RoleOperator.Rank(), RoleViewer.Rank())
	assert.Equal(t, 0, Role("nonsense").Rank())
}
