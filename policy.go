package leagueauth

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// PasswordRule is one named strength predicate. Description is written
// for end users and may be surfaced verbatim by boundaries.
type PasswordRule struct {
	Name        string
	Description string
	Check       func(password string) bool
}

// PasswordPolicy describes password strength requirements as data. The
// flags compile into a rule set; Extra lets embedders append their own
// rules without replacing the built-ins.
type PasswordPolicy struct {
	MinLength     int
	RequireUpper  bool
	RequireLower  bool
	RequireDigit  bool
	RequireSymbol bool

	Extra []PasswordRule
}

// DefaultPasswordPolicy matches the platform baseline: at least eight
// characters with an uppercase letter, a lowercase letter and a digit.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:    8,
		RequireUpper: true,
		RequireLower: true,
		RequireDigit: true,
	}
}

// PolicyViolation reports every rule a candidate password failed.
// It unwraps to ErrPasswordPolicy.
type PolicyViolation struct {
	Failures []string
}

func (v *PolicyViolation) Error() string {
	return "password policy violation: " + strings.Join(v.Failures, "; ")
}

func (v *PolicyViolation) Unwrap() error { return ErrPasswordPolicy }

// Rules returns the compiled predicate set in evaluation order.
func (p PasswordPolicy) Rules() []PasswordRule {
	rules := make([]PasswordRule, 0, 5+len(p.Extra))

	minLen := p.MinLength
	rules = append(rules, PasswordRule{
		Name:        "min_length",
		Description: fmt.Sprintf("at least %d characters", minLen),
		Check: func(pw string) bool {
			return len([]rune(pw)) >= minLen
		},
	})
	if p.RequireUpper {
		rules = append(rules, PasswordRule{
			Name:        "uppercase",
			Description: "at least one uppercase letter",
			Check:       func(pw string) bool { return containsClass(pw, unicode.IsUpper) },
		})
	}
	if p.RequireLower {
		rules = append(rules, PasswordRule{
			Name:        "lowercase",
			Description: "at least one lowercase letter",
			Check:       func(pw string) bool { return containsClass(pw, unicode.IsLower) },
		})
	}
	if p.RequireDigit {
		rules = append(rules, PasswordRule{
			Name:        "digit",
			Description: "at least one digit",
			Check:       func(pw string) bool { return containsClass(pw, unicode.IsDigit) },
		})
	}
	if p.RequireSymbol {
		rules = append(rules, PasswordRule{
			Name:        "symbol",
			Description: "at least one symbol",
			Check: func(pw string) bool {
				return containsClass(pw, func(r rune) bool {
					return unicode.IsPunct(r) || unicode.IsSymbol(r)
				})
			},
		})
	}
	rules = append(rules, p.Extra...)

	return rules
}

// Validate evaluates every rule and returns a *PolicyViolation naming
// all failures, never just the first one.
func (p PasswordPolicy) Validate(password string) error {
	var failures []string
	for _, rule := range p.Rules() {
		if rule.Check == nil {
			continue
		}
		if !rule.Check(password) {
			failures = append(failures, rule.Description)
		}
	}
	if len(failures) > 0 {
		return &PolicyViolation{Failures: failures}
	}
	return nil
}

func (p PasswordPolicy) validate() error {
	if p.MinLength < 1 {
		return errors.New("config: password policy min length must be >= 1")
	}
	for _, rule := range p.Extra {
		if rule.Name == "" || rule.Check == nil {
			return errors.New("config: extra password rules need a name and a check")
		}
	}
	return nil
}

func containsClass(s string, class func(rune) bool) bool {
	for _, r := range s {
		if class(r) {
			return true
		}
	}
	return false
}

func clonePredicates(rules []PasswordRule) []PasswordRule {
	if rules == nil {
		return nil
	}
	out := make([]PasswordRule, len(rules))
	copy(out, rules)
	return out
}
