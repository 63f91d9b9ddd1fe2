package scanner

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Pattern is a named regular expression. Validate optionally names a
// post-match check ("luhn" or "verhoeff") that must also pass for the match to count.
type Pattern struct {
	Name     string `yaml:"name"`
	Regex    string `yaml:"regex"`
	Validate string `yaml:"validate,omitempty"`
}

// PrivacyRules splits PII patterns into sensitive (block) and general (warn).
type PrivacyRules struct {
	Sensitive []Pattern `yaml:"sensitive"`
	General   []Pattern `yaml:"general"`
}

// SafetyRules lists harmful phrases. Matching is case-insensitive on word
// boundaries with whitespace collapsed.
type SafetyRules struct {
	Phrases []string `yaml:"phrases"`
}

// SecurityRules lists credential and secret shapes.
type SecurityRules struct {
	Patterns []Pattern `yaml:"patterns"`
}

// Rules is the full scanner rule set.
type Rules struct {
	Privacy  PrivacyRules  `yaml:"privacy"`
	Safety   SafetyRules   `yaml:"safety"`
	Security SecurityRules `yaml:"security"`
}

// DefaultRules returns a fresh copy of the built-in rule set.
func DefaultRules() *Rules {
	return &Rules{
		Privacy: PrivacyRules{
			Sensitive: []Pattern{
				{Name: "us_ssn", Regex: `\b\d{3}-\d{2}-\d{4}\b`},
				{Name: "payment_card", Regex: `\b(?:\d[ -]?){12,18}\d\b`, Validate: "luhn"},
				{Name: "iban", Regex: `\b[A-Z]{2}\d{2}(?: ?[A-Z0-9]{4}){3,7}(?: ?[A-Z0-9]{1,3})?\b`},
				{Name: "uk_nino", Regex: `\b[A-CEGHJ-PR-TW-Z][A-CEGHJ-NPR-TW-Z] ?\d{2} ?\d{2} ?\d{2} ?[A-D]\b`},
				{Name: "in_aadhaar", Regex: `\b[2-9]\d{3} ?\d{4} ?\d{4}\b`, Validate: "verhoeff"},
				{Name: "in_pan", Regex: `\b[A-Z]{5}\d{4}[A-Z]\b`},
				{Name: "passport_number", Regex: `(?i)\bpassport(?: +(?:no\.?|number|#))? *[:#]? *[A-Z0-9]{6,9}\b`},
			},
			General: []Pattern{
				{Name: "email", Regex: `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`},
				{Name: "phone", Regex: `(?:\+\d{1,3}[ .-]?)?\(?\b\d{3}\)?[ .-]\d{3}[ .-]\d{4}\b`},
				{Name: "ipv4", Regex: `\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`},
			},
		},
		Safety: SafetyRules{
			Phrases: []string{
				"how to make a bomb",
				"build a bomb",
				"pipe bomb",
				"make ricin",
				"synthesize sarin",
				"nerve agent synthesis",
				"weaponize anthrax",
				"build a bioweapon",
				"make methamphetamine",
				"cook meth",
				"untraceable gun",
				"ghost gun instructions",
				"plan a mass shooting",
				"how to kill someone",
				"kill yourself",
				"suicide method",
				"ways to self-harm",
				"child sexual abuse",
				"child pornography",
				"human trafficking",
				"write ransomware",
			},
		},
		Security: SecurityRules{
			Patterns: []Pattern{
				{Name: "private_key", Regex: `-----BEGIN (?:[A-Z]+ )?PRIVATE KEY-----`},
				{Name: "bearer_token", Regex: `(?i)\bbearer +[A-Za-z0-9\-._~+/]{20,}=*`},
				{Name: "aws_access_key", Regex: `\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`},
				{Name: "anthropic_key", Regex: `\bsk-ant-[A-Za-z0-9_-]{20,}`},
				{Name: "openai_key", Regex: `\bsk-proj-[A-Za-z0-9_-]{20,}|\bsk-[A-Za-z0-9]{20,}`},
				{Name: "github_token", Regex: `\bgh[pousr]_[A-Za-z0-9]{36,}\b`},
				{Name: "slack_token", Regex: `\bxox[abprs]-[A-Za-z0-9-]{10,}`},
				{Name: "google_api_key", Regex: `\bAIza[0-9A-Za-z_-]{35}`},
				{Name: "stripe_live_key", Regex: `\b[sr]k_live_[0-9A-Za-z]{24,}`},
				{Name: "jwt", Regex: `\beyJ[A-Za-z0-9_-]{10,}\.eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`},
			},
		},
	}
}

// LoadRules reads a YAML rule file and merges it over the built-in rules.
// A pattern with the same name as a built-in one replaces it; phrases are
// appended.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("scanner: read rules: %w", err)
	}
	var extra Rules
	if err := yaml.Unmarshal(data, &extra); err != nil {
		return nil, fmt.Errorf("scanner: parse rules: %w", err)
	}
	rules := DefaultRules()
	rules.Privacy.Sensitive = mergePatterns(rules.Privacy.Sensitive, extra.Privacy.Sensitive)
	rules.Privacy.General = mergePatterns(rules.Privacy.General, extra.Privacy.General)
	rules.Security.Patterns = mergePatterns(rules.Security.Patterns, extra.Security.Patterns)
	rules.Safety.Phrases = append(rules.Safety.Phrases, extra.Safety.Phrases...)
	return rules, nil
}

func mergePatterns(base, extra []Pattern) []Pattern {
	out := make([]Pattern, 0, len(base)+len(extra))
	index := make(map[string]int, len(base))
	for _, p := range base {
		index[p.Name] = len(out)
		out = append(out, p)
	}
	for _, p := range extra {
		if i, ok := index[p.Name]; ok {
			out[i] = p
			continue
		}
		index[p.Name] = len(out)
		out = append(out, p)
	}
	return out
}
