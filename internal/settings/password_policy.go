package settings

import (
	"context"
	"fmt"
	"strings"

	"github.com/dlclark/regexp2"
	"github.com/hugh/go-backoffice/internal/apperr"
)

// PasswordPolicy is the rule set read from the password_* settings. A
// minimum of zero disables the rule.
type PasswordPolicy struct {
	UppercaseMin int  `json:"uppercase_min"`
	LowercaseMin int  `json:"lowercase_min"`
	NumbersMin   int  `json:"numbers_min"`
	SymbolsMin   int  `json:"symbols_min"`
	MinLength    int  `json:"min_length"`
	UniqueChars  bool `json:"should_contain_unique_chars"`
}

// Pattern builds one regex with a look-ahead per active rule, in the order
// uppercase, lowercase, numbers, symbols, length, unique characters.
func (p PasswordPolicy) Pattern() string {
	var b strings.Builder
	b.WriteString("^")
	if p.UppercaseMin > 0 {
		fmt.Fprintf(&b, "(?=(?:.*[A-Z]){%d})", p.UppercaseMin)
	}
	if p.LowercaseMin > 0 {
		fmt.Fprintf(&b, "(?=(?:.*[a-z]){%d})", p.LowercaseMin)
	}
	if p.NumbersMin > 0 {
		fmt.Fprintf(&b, "(?=(?:.*[0-9]){%d})", p.NumbersMin)
	}
	if p.SymbolsMin > 0 {
		fmt.Fprintf(&b, "(?=(?:.*[^A-Za-z0-9]){%d})", p.SymbolsMin)
	}
	if p.MinLength > 0 {
		fmt.Fprintf(&b, "(?=.{%d,})", p.MinLength)
	}
	if p.UniqueChars {
		b.WriteString(`(?!.*(.).*\1)`)
	}
	b.WriteString(".*$")
	return b.String()
}

// Message lists the active rules, or is empty when none are active.
func (p PasswordPolicy) Message() string {
	var rules []string
	if p.UppercaseMin > 0 {
		rules = append(rules, plural(p.UppercaseMin, "uppercase letter"))
	}
	if p.LowercaseMin > 0 {
		rules = append(rules, plural(p.LowercaseMin, "lowercase letter"))
	}
	if p.NumbersMin > 0 {
		rules = append(rules, plural(p.NumbersMin, "number"))
	}
	if p.SymbolsMin > 0 {
		rules = append(rules, plural(p.SymbolsMin, "symbol"))
	}
	if p.MinLength > 0 {
		rules = append(rules, plural(p.MinLength, "character"))
	}
	if len(rules) == 0 && !p.UniqueChars {
		return ""
	}

	msg := "Password must"
	if len(rules) > 0 {
		msg += " contain at least " + joinList(rules)
	}
	if p.UniqueChars {
		if len(rules) > 0 {
			msg += " and"
		}
		msg += " not repeat any character"
	}
	return msg
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

func joinList(items []string) string {
	if len(items) == 1 {
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
}

// Compile returns the regex for Pattern.
func (p PasswordPolicy) Compile() (*regexp2.Regexp, error) {
	return regexp2.Compile(p.Pattern(), regexp2.None)
}

// Validate returns an invalid_input error on the password field when
// password does not satisfy the policy.
func (p PasswordPolicy) Validate(password string) error {
	re, err := p.Compile()
	if err != nil {
		return fmt.Errorf("compiling password policy: %w", err)
	}
	ok, err := re.MatchString(password)
	if err != nil {
		return fmt.Errorf("matching password policy: %w", err)
	}
	if !ok {
		return apperr.InvalidField("password", p.Message())
	}
	return nil
}

// PasswordPolicy resolves the current rule set.
func (s *Service) PasswordPolicy(ctx context.Context) (*PasswordPolicy, error) {
	resolved, err := s.GetMany(ctx,
		PasswordUppercaseMin,
		PasswordLowercaseMin,
		PasswordNumbersMin,
		PasswordSymbolsMin,
		PasswordMinLength,
		PasswordUniqueCharacters,
	)
	if err != nil {
		return nil, err
	}

	num := func(r *Resolved) int {
		if v, ok := r.Value.(NumberValue); ok && v > 0 {
			return int(v)
		}
		return 0
	}
	unique := false
	if v, ok := resolved[5].Value.(BooleanValue); ok {
		unique = bool(v)
	}

	return &PasswordPolicy{
		UppercaseMin: num(resolved[0]),
		LowercaseMin: num(resolved[1]),
		NumbersMin:   num(resolved[2]),
		SymbolsMin:   num(resolved[3]),
		MinLength:    num(resolved[4]),
		UniqueChars:  unique,
	}, nil
}
