package participation

import (
	"regexp"
	"strconv"
	"strings"
)

var confidenceRe = regexp.MustCompile(`(?i)confidence[^0-9]*([0-9]*\.?[0-9]+)`)

// parseConfidence extracts the first numeric token after a confidence marker
// in free text, clamped to [0,1]. Malformed text defaults to 0.5.
func parseConfidence(text string) float64 {
	m := confidenceRe.FindStringSubmatch(text)
	if m == nil {
		return 0.5
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0.5
	}
	return clamp01(v)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// parseDecision extracts a yes/no decision from free text; anything that is
// not an explicit yes fails closed to no.
func parseDecision(text string) string {
	lower := strings.ToLower(text)
	idx := strings.Index(lower, "decision")
	if idx >= 0 {
		rest := lower[idx:]
		if line, _, ok := strings.Cut(rest, "\n"); ok {
			rest = line
		}
		if strings.Contains(rest, "yes") {
			return DecisionYes
		}
		return DecisionNo
	}
	return DecisionNo
}

// parseParticipationType extracts lead/assist/observe; default observe.
func parseParticipationType(text string) string {
	lower := strings.ToLower(text)
	idx := strings.Index(lower, "participation")
	if idx >= 0 {
		rest := lower[idx:]
		if line, _, ok := strings.Cut(rest, "\n"); ok {
			rest = line
		}
		switch {
		case strings.Contains(rest, TypeLead):
			return TypeLead
		case strings.Contains(rest, TypeAssist):
			return TypeAssist
		}
	}
	return TypeObserve
}

// parseRationale extracts the text after a reason marker, if any.
func parseRationale(text string) string {
	lower := strings.ToLower(text)
	for _, marker := range []string{"rationale:", "reason:"} {
		if idx := strings.Index(lower, marker); idx >= 0 {
			rest := text[idx+len(marker):]
			if line, _, ok := strings.Cut(rest, "\n"); ok {
				rest = line
			}
			return strings.TrimSpace(rest)
		}
	}
	return ""
}
