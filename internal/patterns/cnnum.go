package patterns

import (
	"strconv"
	"strings"
)

// NumeralClass matches one Arabic or Chinese numeral token inside a pattern.
const NumeralClass = `[0-9０-９零〇一二两三四五六七八九十百千]+`

var cnDigits = map[rune]int{
	'零': 0, '〇': 0,
	'一': 1, '二': 2, '两': 2, '三': 3, '四': 4,
	'五': 5, '六': 6, '七': 7, '八': 8, '九': 9,
}

var cnUnits = map[rune]int{
	'十': 10, '百': 100, '千': 1000,
}

// ParseNumeral converts an Arabic or Chinese numeral into an int.
// It accepts full-width digits and compositions such as 十, 二十, 三十五,
// 一百零五 and 两. Mixed scripts are rejected.
func ParseNumeral(s string) (int, bool) {
	s = strings.TrimSpace(toHalfWidthDigits(s))
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, n >= 0
	}

	total, pending := 0, -1
	for _, r := range s {
		if d, ok := cnDigits[r]; ok {
			pending = d
			continue
		}
		unit, ok := cnUnits[r]
		if !ok {
			return 0, false
		}
		if pending < 0 {
			// A bare 十 at the start means one ten.
			pending = 1
		}
		total += pending * unit
		pending = -1
	}
	if pending > 0 {
		total += pending
	}
	return total, true
}

func toHalfWidthDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '０' && r <= '９' {
			return r - '０' + '0'
		}
		return r
	}, s)
}

// numeral parses the group at i, returning false on failure.
func numeral(groups []string, i int) (int, bool) {
	if i >= len(groups) {
		return 0, false
	}
	return ParseNumeral(groups[i])
}
