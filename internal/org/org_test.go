package org

import (
	"testing"
)

func TestParseRoleClosedSet(t *testing.T) {
	r, err := ParseRole("  CTO ")
	if err != nil {
		t.Fatalf("parse cto: %v", err)
	}
	if r != RoleCTO {
		t.Errorf("expected cto, got %s", r)
	}

	if _, err := ParseRole("'; DROP TABLE roles; --"); err == nil {
		t.Error("unknown role should be rejected")
	}
	if _, err := ParseRole("intern"); err == nil {
		t.Error("role not in the closed set should be rejected")
	}
}

func TestOutranks(t *testing.T) {
	if !Outranks(RoleCEO, RoleCTO) {
		t.Error("ceo should outrank cto")
	}
	if Outranks(RoleCTO, RoleCFO) {
		t.Error("peer roles should not outrank each other")
	}
	if !Outranks(RoleBoard, RoleCEO) {
		t.Error("board should outrank ceo")
	}
}

func TestCanDecide(t *testing.T) {
	table := DefaultAuthorityTable()

	if !table.CanDecide(RoleCTO, "technical", 100_000) {
		t.Error("cto should decide technical within budget")
	}
	if table.CanDecide(RoleCTO, "technical", 500_000) {
		t.Error("cto should not decide above budget ceiling")
	}
	if table.CanDecide(RoleCTO, "hiring", 1_000) {
		t.Error("cto should not decide non-allow-listed type")
	}
	if table.CanDecide(Role("unknown"), "technical", 1) {
		t.Error("unknown role has no authority")
	}
}

func TestValidateEscalationGraph(t *testing.T) {
	if err := DefaultAuthorityTable().ValidateEscalationGraph(); err != nil {
		t.Fatalf("default table should be a valid DAG: %v", err)
	}
}

func TestValidateEscalationGraphCycle(t *testing.T) {
	table := DefaultAuthorityTable()
	auth := table[RoleCEO]
	auth.Parent = RoleCTO // ceo -> cto -> ceo
	table[RoleCEO] = auth
	delete(table, RoleBoard)
	// Re-add a sink so only the cycle is at fault.
	table[RoleBoard] = Authority{}

	if err := table.ValidateEscalationGraph(); err == nil {
		t.Error("cycle should be rejected")
	}
}

func TestValidateEscalationGraphTwoSinks(t *testing.T) {
	table := DefaultAuthorityTable()
	auth := table[RoleCEO]
	auth.Parent = ""
	table[RoleCEO] = auth

	if err := table.ValidateEscalationGraph(); err == nil {
		t.Error("two sinks should be rejected")
	}
}

func TestValidateEscalationGraphNonHumanSink(t *testing.T) {
	table := DefaultAuthorityTable()
	delete(table, RoleBoard)
	auth := table[RoleCEO]
	auth.Parent = ""
	table[RoleCEO] = auth

	if err := table.ValidateEscalationGraph(); err == nil {
		t.Error("non-human sink should be rejected")
	}
}

func TestEscalate(t *testing.T) {
	table := DefaultAuthorityTable()

	next, ok := table.Escalate(RoleEngineeringManager)
	if !ok || next != RoleVPEngineering {
		t.Errorf("expected vp_engineering, got %s (ok=%v)", next, ok)
	}
	if _, ok := table.Escalate(RoleBoard); ok {
		t.Error("human sink has no parent")
	}
}
