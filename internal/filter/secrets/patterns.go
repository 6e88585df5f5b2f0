package secrets

import "regexp"

// Pattern is a named credential shape.
type Pattern struct {
	Name  string
	Regex *regexp.Regexp
}

// DefaultPatterns covers the keys people most often paste into product copy
// by accident, starting with the two this gateway itself asks for.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{Name: "Google API Key", Regex: regexp.MustCompile(`AIza[0-9A-Za-z\-_]{35}`)},
		{Name: "Replicate API Token", Regex: regexp.MustCompile(`r8_[A-Za-z0-9]{30,}`)},
		{Name: "AWS Access Key", Regex: regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
		{Name: "GitHub Token", Regex: regexp.MustCompile(`gh[pousr]_[A-Za-z0-9_]{36,}`)},
		{Name: "Stripe Secret Key", Regex: regexp.MustCompile(`sk_live_[A-Za-z0-9]{24,}`)},
		{Name: "Private Key", Regex: regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA )?PRIVATE KEY-----`)},
		{Name: "Connection String", Regex: regexp.MustCompile(`(?:postgres|mysql|mongodb|redis)://[^\s]+`)},
	}
}
