package injection

import "regexp"

// Rule is one injection heuristic.
type Rule struct {
	Name     string
	Regex    *regexp.Regexp
	Severity float64 // 0.0 to 1.0
	Category string  // instruction_bypass, role_override, encoding_trick, output_steering
}

// DefaultRules returns the built-in heuristics. Product copy is pasted into
// the planner prompts verbatim, so the rules look for text addressed at the
// model rather than at shoppers.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "ignore_previous",
			Regex:    regexp.MustCompile(`(?i)ignore\s+(all\s+)?(the\s+)?(previous|above|prior)\s+(instructions|rules|prompt)`),
			Severity: 0.95,
			Category: "instruction_bypass",
		},
		{
			Name:     "disregard_prior",
			Regex:    regexp.MustCompile(`(?i)disregard\s+(all\s+)?(prior|previous|system)\s+(instructions|context|rules|prompt)`),
			Severity: 0.95,
			Category: "instruction_bypass",
		},
		{
			Name:     "reveal_prompt",
			Regex:    regexp.MustCompile(`(?i)(reveal|print|repeat|show)\s+(me\s+)?(your|the)\s+(system\s+)?(prompt|instructions)`),
			Severity: 0.9,
			Category: "instruction_bypass",
		},
		{
			Name:     "jailbreak",
			Regex:    regexp.MustCompile(`\bDAN\b|(?i)\b(do\s+anything\s+now|jailbreak|unrestricted\s+mode)\b`),
			Severity: 0.9,
			Category: "role_override",
		},
		{
			Name:     "system_prefix",
			Regex:    regexp.MustCompile(`(?im)^\s*system\s*:\s*`),
			Severity: 0.85,
			Category: "role_override",
		},
		{
			Name:     "developer_mode",
			Regex:    regexp.MustCompile(`(?i)(developer|debug|admin|root)\s+mode\s+(enabled|activated|on)`),
			Severity: 0.85,
			Category: "role_override",
		},
		{
			Name:     "base64_instruction",
			Regex:    regexp.MustCompile(`(?i)(decode|execute|follow)\s+(the\s+)?base64`),
			Severity: 0.85,
			Category: "encoding_trick",
		},
		{
			Name:     "new_instructions",
			Regex:    regexp.MustCompile(`(?i)(new|updated|revised)\s+instructions?\s*:`),
			Severity: 0.8,
			Category: "instruction_bypass",
		},
		{
			Name:     "schema_override",
			Regex:    regexp.MustCompile(`(?i)(instead\s+of\s+json|do\s+not\s+(return|output)\s+json|set\s+the\s+"?prompt"?\s+(field\s+)?to)`),
			Severity: 0.75,
			Category: "output_steering",
		},
		{
			Name:     "you_are_now",
			Regex:    regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|the)\s+`),
			Severity: 0.7,
			Category: "role_override",
		},
	}
}
