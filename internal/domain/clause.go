// Package domain defines the core interfaces and types for the coverage parser.
package domain

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidInput marks contract violations by the caller.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned by lookups that match nothing.
	ErrNotFound = errors.New("record not found")
)

// CoverageType is the kind of benefit a clause describes.
type CoverageType string

const (
	CoverageDisease  CoverageType = "disease"
	CoverageDeath    CoverageType = "death"
	CoverageAccident CoverageType = "accident"
	CoverageAnnuity  CoverageType = "annuity"
)

// Valid reports whether t is one of the known coverage types.
func (t CoverageType) Valid() bool {
	switch t {
	case CoverageDisease, CoverageDeath, CoverageAccident, CoverageAnnuity:
		return true
	}
	return false
}

// ClauseInput is a single parse request. It is never mutated by the pipeline.
type ClauseInput struct {
	Text         string       `json:"text"`
	CoverageType CoverageType `json:"coverageType"`
	PolicyInfo   *PolicyFacts `json:"policyInfo,omitempty"`
}

// Validate rejects requests that can never produce a result.
func (in ClauseInput) Validate() error {
	if strings.TrimSpace(in.Text) == "" {
		return fmt.Errorf("%w: clause text is required", ErrInvalidInput)
	}
	if in.CoverageType == "" {
		return fmt.Errorf("%w: coverageType is required", ErrInvalidInput)
	}
	if !in.CoverageType.Valid() {
		return fmt.Errorf("%w: unsupported coverageType %q", ErrInvalidInput, in.CoverageType)
	}
	if in.PolicyInfo != nil {
		if err := in.PolicyInfo.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// PolicyFacts describes one policyholder's contract.
// Sums are in yuan; all derived ages and years are computed on demand.
type PolicyFacts struct {
	BirthYear               int         `json:"birthYear"`
	PolicyStartYear         int         `json:"policyStartYear"`
	CoverageEnd             CoverageEnd `json:"coverageEndYear"`
	BasicSumInsured         float64     `json:"basicSumInsured"`
	AnnualPremium           float64     `json:"annualPremium,omitempty"`
	TotalPaymentPeriodYears int         `json:"totalPaymentPeriodYears,omitempty"`
}

// LifetimeAge is the age used as the end of a whole-life window.
const LifetimeAge = 100

// Validate checks the facts for internal consistency.
func (f *PolicyFacts) Validate() error {
	if f.BirthYear <= 0 || f.PolicyStartYear <= 0 {
		return fmt.Errorf("%w: birthYear and policyStartYear are required", ErrInvalidInput)
	}
	if f.PolicyStartYear < f.BirthYear {
		return fmt.Errorf("%w: policyStartYear precedes birthYear", ErrInvalidInput)
	}
	if !f.CoverageEnd.Lifetime && f.CoverageEnd.Year != 0 && f.CoverageEnd.Year < f.PolicyStartYear {
		return fmt.Errorf("%w: coverageEndYear precedes policyStartYear", ErrInvalidInput)
	}
	if f.BasicSumInsured < 0 || f.AnnualPremium < 0 {
		return fmt.Errorf("%w: amounts must not be negative", ErrInvalidInput)
	}
	return nil
}

// EndYear is the last calendar year of cover.
func (f *PolicyFacts) EndYear() int {
	if f.CoverageEnd.Lifetime || f.CoverageEnd.Year == 0 {
		return f.BirthYear + LifetimeAge
	}
	return f.CoverageEnd.Year
}

// AgeIn returns the policyholder's age in the given calendar year.
func (f *PolicyFacts) AgeIn(year int) int {
	return year - f.BirthYear
}

// PolicyYear returns the 1-based policy year that the calendar year falls in.
func (f *PolicyFacts) PolicyYear(year int) int {
	return year - f.PolicyStartYear + 1
}

// CoverageEnd is either a calendar year or whole-life cover.
// It is encoded as a JSON number or the string "lifetime".
type CoverageEnd struct {
	Year     int
	Lifetime bool
}

// Lifetime is whole-life cover.
var Lifetime = CoverageEnd{Lifetime: true}

// EndingIn returns a coverage end in the given year.
func EndingIn(year int) CoverageEnd {
	return CoverageEnd{Year: year}
}

func (c CoverageEnd) String() string {
	if c.Lifetime {
		return "lifetime"
	}
	return strconv.Itoa(c.Year)
}

// MarshalJSON implements json.Marshaler.
func (c CoverageEnd) MarshalJSON() ([]byte, error) {
	if c.Lifetime {
		return []byte(`"lifetime"`), nil
	}
	return []byte(strconv.Itoa(c.Year)), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *CoverageEnd) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*c = CoverageEnd{}
		return nil
	}
	s := strings.Trim(string(b), `"`)
	switch strings.ToLower(s) {
	case "lifetime", "终身", "whole_life":
		*c = Lifetime
		return nil
	}
	year, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("coverageEndYear: expected year or \"lifetime\", got %s", string(b))
	}
	*c = CoverageEnd{Year: year}
	return nil
}
