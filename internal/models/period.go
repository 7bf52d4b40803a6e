package models

import (
	"fmt"
	"regexp"
	"time"
)

// PeriodLayout is the reference layout of a reporting period.
const PeriodLayout = "2006-01"

var periodPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// CurrentPeriod returns the YYYY-MM period containing now.
func CurrentPeriod(now time.Time) string {
	return now.Format(PeriodLayout)
}

// ValidatePeriod checks that p is a YYYY-MM month key.
func ValidatePeriod(p string) error {
	if !periodPattern.MatchString(p) {
		return fmt.Errorf("invalid period %q: expected YYYY-MM", p)
	}
	return nil
}

// ResolvePeriod returns p, or the current period when p is empty.
func ResolvePeriod(p string, now time.Time) (string, error) {
	if p == "" {
		return CurrentPeriod(now), nil
	}
	if err := ValidatePeriod(p); err != nil {
		return "", err
	}
	return p, nil
}
