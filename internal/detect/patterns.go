package detect

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Patterns holds the deterministic header-signature matchers used by the
// fallback pass and the fragment classifier. Defaults are compiled in; a
// YAML file can override any list.
type Patterns struct {
	BankTokens      []string `yaml:"bank_tokens"`
	HeaderKeywords  []string `yaml:"header_keywords"`
	AccountPatterns []string `yaml:"account_patterns"`
	PeriodPatterns  []string `yaml:"period_patterns"`

	accountRes []*regexp.Regexp
	periodRes  []*regexp.Regexp
}

// DefaultPatterns returns the built-in matcher set.
func DefaultPatterns() *Patterns {
	p := &Patterns{
		BankTokens: []string{
			"Bank of America", "Wells Fargo", "JPMorgan Chase", "Chase",
			"Citibank", "Capital One", "U.S. Bank", "PNC Bank", "TD Bank",
			"HSBC", "Barclays", "Santander", "Ally Bank", "Charles Schwab",
			"Fifth Third", "Truist", "Regions Bank", "KeyBank",
		},
		HeaderKeywords: []string{
			"Statement Period", "Statement of Account", "Account Statement",
			"Account Summary", "Beginning Balance", "Opening Balance",
			"Statement Date",
		},
		AccountPatterns: []string{
			`(?i)account\s*(?:number|no\.?|#)\s*[:#]?\s*([0-9Xx*\-]{4,20})`,
			`(?i)acct\.?\s*(?:no\.?|#)?\s*[:#]?\s*([0-9Xx*\-]{4,20})`,
		},
		PeriodPatterns: []string{
			`(?i)statement\s+period\s*[:#]?\s*([A-Za-z0-9,/\- ]+?(?:through|to|-|–)[A-Za-z0-9,/\- ]+)`,
			`(\d{2}/\d{2}/\d{2,4}\s*(?:-|through|to)\s*\d{2}/\d{2}/\d{2,4})`,
			`(\d{4}-\d{2}-\d{2}\s*(?:-|through|to|\.\.)\s*\d{4}-\d{2}-\d{2})`,
		},
	}
	if err := p.compile(); err != nil {
		// Built-in patterns are tested; a compile failure here is a bug.
		panic(err)
	}
	return p
}

// LoadPatterns reads a YAML override file and merges it over the defaults.
// Empty lists keep the defaults.
func LoadPatterns(path string) (*Patterns, error) {
	base := DefaultPatterns()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read patterns file: %w", err)
	}
	var over Patterns
	if err := yaml.Unmarshal(b, &over); err != nil {
		return nil, fmt.Errorf("parse patterns file: %w", err)
	}
	if len(over.BankTokens) > 0 {
		base.BankTokens = over.BankTokens
	}
	if len(over.HeaderKeywords) > 0 {
		base.HeaderKeywords = over.HeaderKeywords
	}
	if len(over.AccountPatterns) > 0 {
		base.AccountPatterns = over.AccountPatterns
	}
	if len(over.PeriodPatterns) > 0 {
		base.PeriodPatterns = over.PeriodPatterns
	}
	if err := base.compile(); err != nil {
		return nil, err
	}
	return base, nil
}

func (p *Patterns) compile() error {
	p.accountRes = p.accountRes[:0]
	for _, s := range p.AccountPatterns {
		re, err := regexp.Compile(s)
		if err != nil {
			return fmt.Errorf("account pattern %q: %w", s, err)
		}
		p.accountRes = append(p.accountRes, re)
	}
	p.periodRes = p.periodRes[:0]
	for _, s := range p.PeriodPatterns {
		re, err := regexp.Compile(s)
		if err != nil {
			return fmt.Errorf("period pattern %q: %w", s, err)
		}
		p.periodRes = append(p.periodRes, re)
	}
	return nil
}

// HeaderMatch is the signature evidence found on one page or span of text.
type HeaderMatch struct {
	Bank          string
	Account       string
	Period        string
	HeaderKeyword bool
}

// IsHeader reports whether the match looks like the start of a statement:
// a header keyword plus at least one identifying element, or a bank token
// together with an account or period.
func (h HeaderMatch) IsHeader() bool {
	elems := 0
	if h.Bank != "" {
		elems++
	}
	if h.Account != "" {
		elems++
	}
	if h.Period != "" {
		elems++
	}
	if h.HeaderKeyword && elems >= 1 {
		return true
	}
	return elems >= 2
}

// CriticalElements counts bank/account/period evidence, the 3 critical
// elements of the confidence model.
func (h HeaderMatch) CriticalElements() int {
	n := 0
	if h.Bank != "" {
		n++
	}
	if h.Account != "" {
		n++
	}
	if h.Period != "" {
		n++
	}
	return n
}

// Match scans text for header-signature evidence.
func (p *Patterns) Match(text string) HeaderMatch {
	var m HeaderMatch
	lower := strings.ToLower(text)
	for _, tok := range p.BankTokens {
		if strings.Contains(lower, strings.ToLower(tok)) {
			m.Bank = tok
			break
		}
	}
	for _, kw := range p.HeaderKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			m.HeaderKeyword = true
			break
		}
	}
	for _, re := range p.accountRes {
		if g := re.FindStringSubmatch(text); g != nil {
			m.Account = strings.TrimSpace(g[1])
			break
		}
	}
	for _, re := range p.periodRes {
		if g := re.FindStringSubmatch(text); g != nil {
			m.Period = strings.TrimSpace(g[1])
			break
		}
	}
	return m
}
