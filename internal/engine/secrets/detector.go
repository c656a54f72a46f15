// Package secrets flags credentials committed inside migration scripts.
package secrets

import (
	"cmp"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strings"
	"unicode"
)

// PatternConfig is a named regular expression matched against every SQL line.
type PatternConfig struct {
	Name     string
	Regex    string
	Severity string
}

type Config struct {
	// EntropyThreshold is the Shannon entropy, in bits per rune, above which a
	// string literal looks random. Defaults to 4.0.
	EntropyThreshold float64
	// MinTokenLength is the shortest literal considered. Defaults to 20.
	MinTokenLength int
	Patterns       []PatternConfig
}

// Finding is one suspected credential. Line and Column are 1-based.
type Finding struct {
	Kind       string
	Severity   string
	Value      string
	Entropy    float64
	Confidence float64
	Line       int
	Column     int
}

type rule struct {
	name     string
	severity string
	re       *regexp.Regexp
}

type Detector struct {
	threshold float64
	minLength int
	rules     []rule
}

var builtInPatterns = []PatternConfig{
	{Name: "role-password", Severity: "high", Regex: `(?i)\b(?:ENCRYPTED\s+)?PASSWORD\s+'[^'\r\n]{4,}'`},
	{Name: "connection-string-password", Severity: "high", Regex: `\b[a-z][a-z0-9+.-]*://[^\s:/@']+:[^\s@/']{4,}@`},
	{Name: "aws-access-key-id", Severity: "high", Regex: `\bAKIA[0-9A-Z]{16}\b`},
	{Name: "github-pat", Severity: "high", Regex: `\bghp_[A-Za-z0-9]{36}\b`},
	{Name: "stripe-live-secret", Severity: "high", Regex: `\bsk_live_[A-Za-z0-9]{16,}\b`},
	{Name: "slack-token", Severity: "high", Regex: `\bxox[baprs]-[A-Za-z0-9-]{10,}\b`},
	{Name: "private-key-block", Severity: "critical", Regex: `-----BEGIN (?:RSA |EC |DSA |OPENSSH |PGP )?PRIVATE KEY-----`},
}

var (
	// Single-quoted SQL literal; '' is an escaped quote. Double quotes delimit
	// identifiers and are never values.
	literalRE   = regexp.MustCompile(`'((?:[^'\r\n]|'')*)'`)
	keywordRE   = regexp.MustCompile(`(?i)\b(password|passwd|pwd|secret|api[_-]?key|token|auth[_-]?token|access[_-]?key|private[_-]?key|client[_-]?secret|pgp_sym_encrypt|encryption[_-]?key)\b`)
	tokenLikeRE = regexp.MustCompile(`^[A-Za-z0-9_\-+=:/.]+$`)
)

var placeholders = []string{"example", "sample", "dummy", "placeholder", "changeme", "notasecret", "test"}

func NewDetector(cfg Config) (*Detector, error) {
	if cfg.EntropyThreshold <= 0 {
		cfg.EntropyThreshold = 4.0
	}
	if cfg.MinTokenLength <= 0 {
		cfg.MinTokenLength = 20
	}

	d := &Detector{threshold: cfg.EntropyThreshold, minLength: cfg.MinTokenLength}
	for _, p := range slices.Concat(builtInPatterns, cfg.Patterns) {
		r, err := compileRule(p)
		if err != nil {
			return nil, err
		}
		d.rules = append(d.rules, r)
	}
	return d, nil
}

func compileRule(p PatternConfig) (rule, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return rule{}, fmt.Errorf("secret pattern name must not be empty")
	}
	expr := strings.TrimSpace(p.Regex)
	if expr == "" {
		return rule{}, fmt.Errorf("secret pattern %q regex must not be empty", name)
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return rule{}, fmt.Errorf("compile secret pattern %q: %w", name, err)
	}
	severity := strings.ToLower(strings.TrimSpace(p.Severity))
	if severity == "" {
		severity = "medium"
	}
	return rule{name: name, severity: severity, re: re}, nil
}

type position struct {
	line, column int
	value        string
}

// Detect scans a migration script line by line and returns findings ordered by
// position. Lines starting with "--", the generated header included, are skipped.
func (d *Detector) Detect(content string) []Finding {
	found := make(map[position]Finding)
	for i, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		d.scanLine(i+1, line, found)
	}
	if len(found) == 0 {
		return nil
	}

	out := make([]Finding, 0, len(found))
	for _, f := range found {
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b Finding) int {
		return cmp.Or(
			cmp.Compare(a.Line, b.Line),
			cmp.Compare(a.Column, b.Column),
			cmp.Compare(a.Kind, b.Kind),
		)
	})
	return out
}

func (d *Detector) scanLine(lineNo int, line string, found map[position]Finding) {
	for _, r := range d.rules {
		for _, loc := range r.re.FindAllStringIndex(line, -1) {
			value := line[loc[0]:loc[1]]
			if isPlaceholder(value) {
				continue
			}
			keep(found, Finding{
				Kind:       r.name,
				Severity:   r.severity,
				Value:      value,
				Entropy:    entropy(value),
				Confidence: 0.99,
				Line:       lineNo,
				Column:     loc[0] + 1,
			})
		}
	}

	sensitive := keywordRE.MatchString(line)
	for _, m := range literalRE.FindAllStringSubmatchIndex(line, -1) {
		value := strings.ReplaceAll(line[m[2]:m[3]], "''", "'")
		if len(value) < d.minLength || isPlaceholder(value) {
			continue
		}
		bits := entropy(value)
		f := Finding{Value: value, Entropy: bits, Line: lineNo, Column: m[2] + 1}
		switch {
		case sensitive && bits >= d.threshold*0.8:
			f.Kind, f.Severity, f.Confidence = "sensitive-assignment", "medium", 0.70
			if bits >= d.threshold {
				f.Confidence = 0.85
			}
		case bits >= d.threshold && tokenLikeRE.MatchString(value) && hasLetterAndDigit(value):
			f.Kind, f.Severity, f.Confidence = "high-entropy-string", "low", 0.6
		default:
			continue
		}
		keep(found, f)
	}
}

// keep stores f unless a finding with at least the same confidence already
// covers the same value at the same position.
func keep(found map[position]Finding, f Finding) {
	key := position{line: f.Line, column: f.Column, value: f.Value}
	if prev, ok := found[key]; ok && prev.Confidence >= f.Confidence {
		return
	}
	found[key] = f
}

func isPlaceholder(value string) bool {
	lower := strings.ToLower(value)
	return slices.ContainsFunc(placeholders, func(p string) bool {
		return strings.Contains(lower, p)
	})
}

func hasLetterAndDigit(value string) bool {
	return strings.ContainsFunc(value, unicode.IsLetter) && strings.ContainsFunc(value, unicode.IsDigit)
}

// entropy returns the Shannon entropy of value in bits per rune.
func entropy(value string) float64 {
	runes := []rune(value)
	if len(runes) == 0 {
		return 0
	}
	freq := make(map[rune]int, len(runes))
	for _, r := range runes {
		freq[r]++
	}
	n := float64(len(runes))
	bits := 0.0
	for _, c := range freq {
		p := float64(c) / n
		bits -= p * math.Log2(p)
	}
	return bits
}

// MaskValue keeps the first and last four bytes of long values and hides
// short ones entirely.
func MaskValue(value string) string {
	if len(value) <= 8 {
		return strings.Repeat("*", len(value))
	}
	return value[:4] + "..." + value[len(value)-4:]
}
