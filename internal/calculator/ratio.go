package calculator

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/insurelab/coverage-parser/internal/domain"
)

var (
	bandSpan  = regexp.MustCompile(`^(\d+)\s*(?:周岁|岁)?\s*[-~－～至到]\s*(\d+)`)
	bandAbove = regexp.MustCompile(`^(?:>=|≥)?\s*(\d+)\s*(?:周岁|岁)?\s*(?:\+|及以上|以上|后)?$`)
	bandBelow = regexp.MustCompile(`^(?:<=|≤|<)\s*(\d+)|^(\d+)\s*(?:周岁|岁)?\s*(以下|前)$`)
)

// bandBounds parses an age-band label into inclusive bounds. Open sides are -1.
func bandBounds(label string) (lo, hi int, ok bool) {
	s := strings.TrimSpace(label)

	if m := bandSpan.FindStringSubmatch(s); m != nil {
		lo, _ = strconv.Atoi(m[1])
		hi, _ = strconv.Atoi(m[2])
		return lo, hi, lo <= hi
	}

	if m := bandBelow.FindStringSubmatch(s); m != nil {
		if m[1] != "" {
			n, _ := strconv.Atoi(m[1])
			if strings.HasPrefix(s, "<") && !strings.HasPrefix(s, "<=") {
				n--
			}
			return -1, n, true
		}
		n, _ := strconv.Atoi(m[2])
		if m[3] == "前" {
			n--
		}
		return -1, n, true
	}

	if m := bandAbove.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		if strings.HasSuffix(s, "+") || strings.Contains(s, "以上") || strings.HasSuffix(s, "后") || strings.HasPrefix(s, ">") || strings.HasPrefix(s, "≥") {
			return n, -1, true
		}
		return n, n, true
	}

	return 0, 0, false
}

// RatioByAge returns the multiplier of the first band containing age.
// Without a matching band the ratio is 1.0.
func RatioByAge(bands []domain.RatioBand, age int) float64 {
	for _, b := range bands {
		lo, hi, ok := bandBounds(b.AgeRange)
		if !ok || b.Ratio <= 0 {
			continue
		}
		if (lo < 0 || age >= lo) && (hi < 0 || age <= hi) {
			return b.Ratio
		}
	}
	return 1.0
}
