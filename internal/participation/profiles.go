package participation

import "github.com/synod/synod/internal/org"

// Profile holds the fixed relevance vocabulary for one role. Keywords pull
// the fast-path score up, anti-keywords push it down.
type Profile struct {
	Description  string
	Keywords     []string
	AntiKeywords []string
}

// DefaultProfiles returns the static per-role vocabularies.
func DefaultProfiles() map[org.Role]Profile {
	return map[org.Role]Profile{
		org.RoleCEO: {
			Description: "Chief executive. Owns strategy, company direction, major partnerships, and final say on cross-functional disputes.",
			Keywords:    []string{"strategy", "strategic", "partnership", "acquisition", "vision", "roadmap", "company", "board", "investor"},
			AntiKeywords: []string{"bugfix", "standup", "timesheet"},
		},
		org.RoleCTO: {
			Description: "Chief technology officer. Owns architecture, infrastructure, engineering practices, and technical risk.",
			Keywords:     []string{"database", "architecture", "infrastructure", "performance", "optimization", "scalability", "security", "engineering", "technical", "api", "deployment", "migration", "latency", "outage"},
			AntiKeywords: []string{"hiring", "hr", "recruitment", "payroll", "onboarding", "marketing", "branding", "benefits"},
		},
		org.RoleCFO: {
			Description: "Chief financial officer. Owns budgets, forecasts, spend approvals, and financial risk.",
			Keywords:     []string{"budget", "cost", "spend", "forecast", "revenue", "invoice", "pricing", "financial", "audit", "procurement"},
			AntiKeywords: []string{"deployment", "refactor", "architecture"},
		},
		org.RoleCOO: {
			Description: "Chief operating officer. Owns operations, process, vendors, and cross-team execution.",
			Keywords:     []string{"operations", "process", "vendor", "logistics", "compliance", "execution", "capacity", "sla"},
			AntiKeywords: []string{"refactor", "codebase"},
		},
		org.RoleVPEngineering: {
			Description: "VP of engineering. Owns delivery, team health, technical planning, and engineering execution.",
			Keywords:     []string{"delivery", "sprint", "engineering", "technical", "deployment", "incident", "oncall", "release", "architecture", "performance"},
			AntiKeywords: []string{"payroll", "marketing", "pricing"},
		},
		org.RoleEngineeringManager: {
			Description: "Engineering manager. Owns day-to-day delivery of one team, code quality, and incident response.",
			Keywords:     []string{"bug", "incident", "release", "deployment", "code", "review", "sprint", "oncall", "regression"},
			AntiKeywords: []string{"budget", "acquisition", "payroll", "marketing"},
		},
		org.RoleHRDirector: {
			Description: "HR director. Owns hiring, onboarding, compensation process, and people policy.",
			Keywords:     []string{"hiring", "hr", "recruitment", "onboarding", "compensation", "payroll", "benefits", "people", "manager", "interview"},
			AntiKeywords: []string{"database", "deployment", "api", "latency"},
		},
	}
}
