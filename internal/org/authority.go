package org

import "fmt"

// Authority defines what a role may decide on its own and where its
// decisions escalate to.
type Authority struct {
	// BudgetCeiling is the largest amount the role may approve autonomously.
	BudgetCeiling float64
	// DecisionTypes lists the decision types the role may resolve autonomously.
	DecisionTypes []string
	// EscalationThreshold is the minimum self-assessed confidence required to
	// resolve autonomously. Below it the decision is promoted to hierarchical.
	EscalationThreshold float64
	// VoteWeight scales this role's vote in collaborative consensus.
	VoteWeight float64
	// Parent is the next authority level in the escalation chain.
	// Empty only for the human sink.
	Parent Role
}

// AuthorityTable maps each role to its authority configuration.
type AuthorityTable map[Role]Authority

// DefaultAuthorityTable returns the static authority configuration.
func DefaultAuthorityTable() AuthorityTable {
	return AuthorityTable{
		RoleBoard: {
			EscalationThreshold: 0,
			VoteWeight:          3.0,
		},
		RoleCEO: {
			BudgetCeiling:       1_000_000,
			DecisionTypes:       []string{"strategic", "budget", "operational", "technical", "hiring"},
			EscalationThreshold: 0.6,
			VoteWeight:          2.0,
			Parent:              RoleBoard,
		},
		RoleCTO: {
			BudgetCeiling:       250_000,
			DecisionTypes:       []string{"technical", "operational"},
			EscalationThreshold: 0.7,
			VoteWeight:          1.5,
			Parent:              RoleCEO,
		},
		RoleCFO: {
			BudgetCeiling:       500_000,
			DecisionTypes:       []string{"budget", "operational"},
			EscalationThreshold: 0.7,
			VoteWeight:          1.5,
			Parent:              RoleCEO,
		},
		RoleCOO: {
			BudgetCeiling:       250_000,
			DecisionTypes:       []string{"operational"},
			EscalationThreshold: 0.7,
			VoteWeight:          1.5,
			Parent:              RoleCEO,
		},
		RoleVPEngineering: {
			BudgetCeiling:       100_000,
			DecisionTypes:       []string{"technical"},
			EscalationThreshold: 0.75,
			VoteWeight:          1.2,
			Parent:              RoleCTO,
		},
		RoleHRDirector: {
			BudgetCeiling:       50_000,
			DecisionTypes:       []string{"hiring"},
			EscalationThreshold: 0.75,
			VoteWeight:          1.2,
			Parent:              RoleCOO,
		},
		RoleEngineeringManager: {
			BudgetCeiling:       25_000,
			DecisionTypes:       []string{"technical"},
			EscalationThreshold: 0.8,
			VoteWeight:          1.0,
			Parent:              RoleVPEngineering,
		},
	}
}

// CanDecide reports whether the role may autonomously resolve a decision of
// the given type and amount.
func (t AuthorityTable) CanDecide(role Role, decisionType string, amount float64) bool {
	auth, ok := t[role]
	if !ok {
		return false
	}
	if amount > auth.BudgetCeiling {
		return false
	}
	for _, dt := range auth.DecisionTypes {
		if dt == decisionType {
			return true
		}
	}
	return false
}

// ValidateEscalationGraph checks that the escalation chain is a strict DAG
// terminating at a unique human sink. Called once at startup; escalation is
// never discovered at runtime.
func (t AuthorityTable) ValidateEscalationGraph() error {
	var sinks []Role
	for role, auth := range t {
		if auth.Parent == "" {
			sinks = append(sinks, role)
		}
	}
	if len(sinks) != 1 {
		return fmt.Errorf("escalation graph must have exactly one terminal sink, found %d", len(sinks))
	}
	sink := sinks[0]
	if !sink.IsHuman() {
		return fmt.Errorf("escalation sink %s is not the human authority", sink)
	}

	// Every chain must reach the sink without revisiting a role.
	for role := range t {
		seen := map[Role]bool{}
		cur := role
		for cur != sink {
			if seen[cur] {
				return fmt.Errorf("escalation cycle detected at role %s", cur)
			}
			seen[cur] = true
			auth, ok := t[cur]
			if !ok {
				return fmt.Errorf("escalation chain from %s references unknown role %s", role, cur)
			}
			cur = auth.Parent
			if cur == "" {
				return fmt.Errorf("escalation chain from %s dead-ends before the human sink", role)
			}
		}
	}
	return nil
}

// Escalate returns the next authority level for a role.
func (t AuthorityTable) Escalate(role Role) (Role, bool) {
	auth, ok := t[role]
	if !ok || auth.Parent == "" {
		return "", false
	}
	return auth.Parent, true
}
