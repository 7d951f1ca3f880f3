// Package clausefile reads clause batch files. Each data line has the form
//
//	serial|||policyDocumentId|||coverageType|||coverageName|||clauseText
//
// Headings, fences, blank lines and lines without the separator are skipped.
package clausefile

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/insurelab/coverage-parser/internal/domain"
)

// Separator splits the fields of a data line.
const Separator = "|||"

// Record is one clause of a batch file.
type Record struct {
	Serial       int                 `json:"serialNumber"`
	PolicyDocID  string              `json:"policyDocumentId"`
	CoverageType domain.CoverageType `json:"coverageType"`
	CoverageName string              `json:"coverageName"`
	Text         string              `json:"clauseText"`
}

// Input converts the record into a parse request.
func (r Record) Input() domain.ClauseInput {
	return domain.ClauseInput{Text: r.Text, CoverageType: r.CoverageType}
}

// Skipped is a data line that could not be used.
type Skipped struct {
	Line   int
	Reason string
}

// Read returns the records of r in file order along with the data lines
// it had to skip.
func Read(r io.Reader) ([]Record, []Skipped, error) {
	var (
		records []Record
		skipped []Skipped
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "```") || !strings.Contains(line, Separator) {
			continue
		}

		parts := strings.SplitN(line, Separator, 5)
		if len(parts) < 5 {
			skipped = append(skipped, Skipped{Line: n, Reason: "expected 5 fields"})
			continue
		}
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}

		serial, err := strconv.Atoi(parts[0])
		if err != nil || serial <= 0 {
			skipped = append(skipped, Skipped{Line: n, Reason: fmt.Sprintf("bad serial %q", parts[0])})
			continue
		}
		ct, ok := CoverageTypeOf(parts[2])
		if !ok {
			skipped = append(skipped, Skipped{Line: n, Reason: fmt.Sprintf("unknown coverage type %q", parts[2])})
			continue
		}
		if parts[4] == "" {
			skipped = append(skipped, Skipped{Line: n, Reason: "empty clause text"})
			continue
		}

		records = append(records, Record{
			Serial:       serial,
			PolicyDocID:  parts[1],
			CoverageType: ct,
			CoverageName: parts[3],
			Text:         parts[4],
		})
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("read clause file: %w", err)
	}
	return records, skipped, nil
}

// CoverageTypeOf accepts either a coverage type code or a Chinese label
// such as 疾病类 or 身故保险金.
func CoverageTypeOf(s string) (domain.CoverageType, bool) {
	if ct := domain.CoverageType(strings.ToLower(s)); ct.Valid() {
		return ct, true
	}
	switch {
	case strings.Contains(s, "疾病"), strings.Contains(s, "重疾"), strings.Contains(s, "轻症"), strings.Contains(s, "中症"):
		return domain.CoverageDisease, true
	case strings.Contains(s, "意外"):
		return domain.CoverageAccident, true
	case strings.Contains(s, "身故"), strings.Contains(s, "全残"):
		return domain.CoverageDeath, true
	case strings.Contains(s, "年金"), strings.Contains(s, "生存"), strings.Contains(s, "满期"):
		return domain.CoverageAnnuity, true
	}
	return "", false
}
