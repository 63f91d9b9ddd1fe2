// Package scanner classifies a block of text for content-safety enforcement.
//
// Three independent sub-scanners (privacy, safety, security) run over the same
// text. Each produces a Verdict and the overall verdict is their maximum under
// the total order Allow < Warn < Block.
package scanner

import (
	"fmt"
	"sort"
	"strings"
)

// Verdict is an ordered content-safety outcome.
type Verdict int

const (
	Allow Verdict = iota
	Warn
	Block
)

// String returns the wire name of the verdict.
func (v Verdict) String() string {
	switch v {
	case Allow:
		return "ALLOW"
	case Warn:
		return "WARN"
	case Block:
		return "BLOCK"
	default:
		return fmt.Sprintf("Verdict(%d)", int(v))
	}
}

// MarshalText encodes the verdict as its wire name.
func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText decodes a wire name.
func (v *Verdict) UnmarshalText(b []byte) error {
	switch strings.ToUpper(string(b)) {
	case "ALLOW":
		*v = Allow
	case "WARN":
		*v = Warn
	case "BLOCK":
		*v = Block
	default:
		return fmt.Errorf("scanner: unknown verdict %q", string(b))
	}
	return nil
}

// Max returns the most severe of the given verdicts. Max() is Allow.
func Max(vs ...Verdict) Verdict {
	out := Allow
	for _, v := range vs {
		if v > out {
			out = v
		}
	}
	return out
}

// Engine names a sub-scanner.
type Engine string

const (
	EnginePrivacy  Engine = "privacy"
	EngineSafety   Engine = "safety"
	EngineSecurity Engine = "security"
)

// Finding is one sub-scanner's outcome.
type Finding struct {
	Engine  Engine   `json:"engine"`
	Verdict Verdict  `json:"verdict"`
	Score   float64  `json:"score"`
	Matches []string `json:"matches,omitempty"`
}

// Result is the combined outcome of a scan.
type Result struct {
	Verdict  Verdict            `json:"verdict"`
	Scores   map[Engine]float64 `json:"scores"`
	Reasons  []string           `json:"reasons,omitempty"`
	Findings []Finding          `json:"findings"`
}

// BlockingEngines returns the engines whose verdict was Block, sorted.
func (r *Result) BlockingEngines() []Engine {
	var out []Engine
	for _, f := range r.Findings {
		if f.Verdict == Block {
			out = append(out, f.Engine)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// subScanner is implemented by each engine.
type subScanner interface {
	engine() Engine
	scan(text string) Finding
}

// Scanner runs the privacy, safety and security engines. It is stateless
// after construction and safe for concurrent use.
type Scanner struct {
	engines []subScanner
}

// New builds a scanner from the given rules. Use DefaultRules() for the
// built-in rule set.
func New(rules *Rules) (*Scanner, error) {
	if rules == nil {
		rules = DefaultRules()
	}
	privacy, err := newPrivacyScanner(rules.Privacy)
	if err != nil {
		return nil, err
	}
	safety, err := newSafetyScanner(rules.Safety)
	if err != nil {
		return nil, err
	}
	security, err := newSecurityScanner(rules.Security)
	if err != nil {
		return nil, err
	}
	return &Scanner{engines: []subScanner{privacy, safety, security}}, nil
}

// MustNew is New for the built-in rules; it panics on an invalid pattern.
func MustNew() *Scanner {
	s, err := New(DefaultRules())
	if err != nil {
		panic(err)
	}
	return s
}

// Scan classifies text. Empty text is Allow.
func (s *Scanner) Scan(text string) *Result {
	res := &Result{
		Verdict: Allow,
		Scores:  make(map[Engine]float64, len(s.engines)),
	}
	for _, e := range s.engines {
		f := e.scan(text)
		res.Findings = append(res.Findings, f)
		res.Scores[f.Engine] = f.Score
		res.Verdict = Max(res.Verdict, f.Verdict)
		for _, m := range f.Matches {
			res.Reasons = append(res.Reasons, string(f.Engine)+":"+m)
		}
	}
	return res
}

// scoreFor maps a verdict to the per-category score reported to callers.
func scoreFor(v Verdict) float64 {
	switch v {
	case Block:
		return 1.0
	case Warn:
		return 0.5
	default:
		return 0
	}
}
