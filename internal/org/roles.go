// Package org defines the closed set of organization roles and their
// authority configuration.
package org

import (
	"fmt"
	"strings"
)

// Role identifies a decision-making unit in the organization.
type Role string

// The closed role set. Roles are never created dynamically from input.
const (
	RoleBoard              Role = "board" // human sink, terminal escalation authority
	RoleCEO                Role = "ceo"
	RoleCTO                Role = "cto"
	RoleCFO                Role = "cfo"
	RoleCOO                Role = "coo"
	RoleVPEngineering      Role = "vp_engineering"
	RoleEngineeringManager Role = "engineering_manager"
	RoleHRDirector         Role = "hr_director"
)

// AllRoles lists every known role.
var AllRoles = []Role{
	RoleBoard,
	RoleCEO,
	RoleCTO,
	RoleCFO,
	RoleCOO,
	RoleVPEngineering,
	RoleEngineeringManager,
	RoleHRDirector,
}

// rank orders roles for seniority comparisons. Higher outranks lower.
var rank = map[Role]int{
	RoleBoard:              7,
	RoleCEO:                6,
	RoleCTO:                5,
	RoleCFO:                5,
	RoleCOO:                5,
	RoleVPEngineering:      4,
	RoleHRDirector:         4,
	RoleEngineeringManager: 3,
}

// ParseRole resolves a string to a known role. Unknown input is rejected,
// never turned into a new role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := rank[r]; !ok {
		return "", fmt.Errorf("unknown role: %q", s)
	}
	return r, nil
}

// Rank returns the seniority rank of a role (0 for unknown roles).
func Rank(r Role) int {
	return rank[r]
}

// Outranks reports whether a is strictly more senior than b.
func Outranks(a, b Role) bool {
	return rank[a] > rank[b]
}

// IsHuman reports whether the role is the human/board sink.
func (r Role) IsHuman() bool {
	return r == RoleBoard
}

// String returns the role name.
func (r Role) String() string {
	return string(r)
}
