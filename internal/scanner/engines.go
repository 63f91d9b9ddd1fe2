package scanner

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

type compiledPattern struct {
	name     string
	re       *regexp.Regexp
	validate func(string) bool
}

func compilePatterns(ps []Pattern) ([]compiledPattern, error) {
	out := make([]compiledPattern, 0, len(ps))
	for _, p := range ps {
		if p.Name == "" {
			return nil, fmt.Errorf("scanner: pattern with empty name")
		}
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, fmt.Errorf("scanner: pattern %s: %w", p.Name, err)
		}
		cp := compiledPattern{name: p.Name, re: re}
		switch p.Validate {
		case "":
		case "luhn":
			cp.validate = luhnValid
		case "verhoeff":
			cp.validate = verhoeffValid
		default:
			return nil, fmt.Errorf("scanner: pattern %s: unknown validator %q", p.Name, p.Validate)
		}
		out = append(out, cp)
	}
	return out, nil
}

// matches returns the names of patterns that hit text, in pattern order.
func matches(ps []compiledPattern, text string) []string {
	var out []string
	for _, p := range ps {
		if p.validate == nil {
			if p.re.MatchString(text) {
				out = append(out, p.name)
			}
			continue
		}
		for _, m := range p.re.FindAllString(text, -1) {
			if p.validate(m) {
				out = append(out, p.name)
				break
			}
		}
	}
	return out
}

// --- privacy ---

type privacyScanner struct {
	sensitive []compiledPattern
	general   []compiledPattern
}

func newPrivacyScanner(r PrivacyRules) (*privacyScanner, error) {
	sensitive, err := compilePatterns(r.Sensitive)
	if err != nil {
		return nil, err
	}
	general, err := compilePatterns(r.General)
	if err != nil {
		return nil, err
	}
	return &privacyScanner{sensitive: sensitive, general: general}, nil
}

func (p *privacyScanner) engine() Engine { return EnginePrivacy }

// Sensitive categories (government ids, payment instruments) block; any
// other PII warns.
func (p *privacyScanner) scan(text string) Finding {
	f := Finding{Engine: EnginePrivacy, Verdict: Allow}
	if hits := matches(p.sensitive, text); len(hits) > 0 {
		f.Verdict = Block
		f.Matches = hits
	}
	if hits := matches(p.general, text); len(hits) > 0 {
		f.Verdict = Max(f.Verdict, Warn)
		f.Matches = append(f.Matches, hits...)
	}
	f.Score = scoreFor(f.Verdict)
	return f
}

// --- safety ---

type safetyScanner struct {
	re *regexp.Regexp
}

func newSafetyScanner(r SafetyRules) (*safetyScanner, error) {
	if len(r.Phrases) == 0 {
		return &safetyScanner{}, nil
	}
	phrases := make([]string, 0, len(r.Phrases))
	for _, ph := range r.Phrases {
		ph = normalize(ph)
		if ph == "" {
			continue
		}
		phrases = append(phrases, regexp.QuoteMeta(ph))
	}
	// Longest first so overlapping phrases report the most specific match.
	sort.Slice(phrases, func(i, j int) bool { return len(phrases[i]) > len(phrases[j]) })
	re, err := regexp.Compile(`\b(?:` + strings.Join(phrases, "|") + `)\b`)
	if err != nil {
		return nil, fmt.Errorf("scanner: safety phrases: %w", err)
	}
	return &safetyScanner{re: re}, nil
}

func (s *safetyScanner) engine() Engine { return EngineSafety }

// Harmful content has no warn tier: any match blocks.
func (s *safetyScanner) scan(text string) Finding {
	f := Finding{Engine: EngineSafety, Verdict: Allow}
	if s.re == nil {
		return f
	}
	seen := make(map[string]bool)
	for _, m := range s.re.FindAllString(normalize(text), -1) {
		if !seen[m] {
			seen[m] = true
			f.Matches = append(f.Matches, m)
		}
	}
	if len(f.Matches) > 0 {
		f.Verdict = Block
	}
	f.Score = scoreFor(f.Verdict)
	return f
}

// normalize lowercases and collapses runs of whitespace to single spaces.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// --- security ---

type securityScanner struct {
	patterns []compiledPattern
}

func newSecurityScanner(r SecurityRules) (*securityScanner, error) {
	ps, err := compilePatterns(r.Patterns)
	if err != nil {
		return nil, err
	}
	return &securityScanner{patterns: ps}, nil
}

func (s *securityScanner) engine() Engine { return EngineSecurity }

func (s *securityScanner) scan(text string) Finding {
	f := Finding{Engine: EngineSecurity, Verdict: Allow}
	if hits := matches(s.patterns, text); len(hits) > 0 {
		f.Verdict = Block
		f.Matches = hits
	}
	f.Score = scoreFor(f.Verdict)
	return f
}

// luhnValid checks a candidate card number, ignoring spaces and dashes.
func luhnValid(s string) bool {
	var digits []int
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits = append(digits, int(r-'0'))
		case r == ' ' || r == '-':
		default:
			return false
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

var (
	verhoeffD = [10][10]int{
		{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
		{1, 2, 3, 4, 0, 6, 7, 8, 9, 5},
		{2, 3, 4, 0, 1, 7, 8, 9, 5, 6},
		{3, 4, 0, 1, 2, 8, 9, 5, 6, 7},
		{4, 0, 1, 2, 3, 9, 5, 6, 7, 8},
		{5, 9, 8, 7, 6, 0, 4, 3, 2, 1},
		{6, 5, 9, 8, 7, 1, 0, 4, 3, 2},
		{7, 6, 5, 9, 8, 2, 1, 0, 4, 3},
		{8, 7, 6, 5, 9, 3, 2, 1, 0, 4},
		{9, 8, 7, 6, 5, 4, 3, 2, 1, 0},
	}
	verhoeffP = [8][10]int{
		{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
		{1, 5, 7, 6, 2, 8, 3, 0, 9, 4},
		{5, 8, 0, 3, 7, 9, 6, 1, 4, 2},
		{8, 9, 1, 6, 0, 4, 3, 5, 2, 7},
		{9, 4, 5, 3, 1, 2, 8, 7, 0, 6},
		{4, 2, 8, 6, 5, 7, 3, 9, 0, 1},
		{2, 7, 9, 3, 8, 0, 6, 4, 1, 5},
		{7, 0, 4, 6, 9, 1, 3, 2, 5, 8},
	}
)

// verhoeffValid checks the Verhoeff check digit carried by Aadhaar
// numbers, ignoring spaces.
func verhoeffValid(s string) bool {
	c, n := 0, 0
	for i := len(s) - 1; i >= 0; i-- {
		r := s[i]
		switch {
		case r >= '0' && r <= '9':
			c = verhoeffD[c][verhoeffP[n%8][r-'0']]
			n++
		case r == ' ':
		default:
			return false
		}
	}
	return n > 0 && c == 0
}
