package formula

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/insurelab/coverage-parser/internal/domain"
)

var maxPrefix = regexp.MustCompile(`^(?i:max)\s*[（(]|^(?:取)?(?:最大值|较大者|较大值)\s*[（(]`)

// MaxOptions splits a max-of-options formula such as
// "Max(基本保额×160%, 已交保费×160%)" into its options.
// Only commas outside nested parentheses separate options.
func MaxOptions(formula string) ([]string, bool) {
	s := strings.TrimSpace(formula)
	loc := maxPrefix.FindStringIndex(s)
	if loc == nil {
		return nil, false
	}
	body := []rune(s[loc[1]:])

	var opts []string
	depth, start := 0, 0
	for i, r := range body {
		switch r {
		case '(', '（':
			depth++
		case ')', '）':
			if depth == 0 {
				opts = appendOption(opts, string(body[start:i]))
				if rest := strings.TrimSpace(string(body[i+1:])); rest != "" {
					// Trailing text after the closing parenthesis is not supported.
					return nil, false
				}
				return opts, len(opts) > 0
			}
			depth--
		case ',', '，', '、', ';', '；':
			if depth == 0 {
				opts = appendOption(opts, string(body[start:i]))
				start = i + 1
			}
		}
	}
	return nil, false
}

func appendOption(opts []string, o string) []string {
	if o = strings.TrimSpace(o); o != "" {
		opts = append(opts, o)
	}
	return opts
}

// invalidChars are clause punctuation that never belongs in a formula.
var invalidChars = []string{"、", "，", "。", "；"}

// Validate checks that formula text is well formed. A max-of-options
// formula is valid when every option is; options naming terms without a
// numeric value are allowed because the calculator drops them.
func Validate(formula string) error {
	f := strings.TrimSpace(formula)
	if f == "" {
		return fmt.Errorf("%w: empty formula", ErrInvalidFormula)
	}

	if opts, ok := MaxOptions(f); ok {
		for _, o := range opts {
			if err := validateSingle(o); err != nil && !isUnsupported(err) {
				return fmt.Errorf("option %q: %w", o, err)
			}
		}
		return nil
	}
	return validateSingle(f)
}

func validateSingle(f string) error {
	for _, c := range invalidChars {
		if strings.Contains(f, c) {
			return fmt.Errorf("%w: contains %q", ErrInvalidFormula, c)
		}
	}
	_, err := Translate(StripAgeGate(f))
	return err
}

func isUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupportedTerm)
}

var ageGate = regexp.MustCompile(`^(\d+)\s*周?岁\s*(前|以前|之前|后|以后|之后|及以上)\s*[:：]?\s*`)

// SplitAgeGate separates an age prefix such as "18周岁前：" from an option.
// The returned condition is nil when the option has no prefix.
func SplitAgeGate(option string) (string, *domain.AgeCondition) {
	s := strings.TrimSpace(option)
	m := ageGate.FindStringSubmatch(s)
	if m == nil {
		return s, nil
	}
	limit, err := strconv.Atoi(m[1])
	if err != nil {
		return s, nil
	}
	cond := &domain.AgeCondition{Limit: limit, Operator: domain.AgeGreaterEqual, ReferenceTime: domain.AtClaim}
	if strings.HasSuffix(m[2], "前") {
		cond.Operator = domain.AgeLess
	}
	return strings.TrimSpace(s[len(m[0]):]), cond
}

// StripAgeGate returns the option without its age prefix.
func StripAgeGate(option string) string {
	expr, _ := SplitAgeGate(option)
	return expr
}
