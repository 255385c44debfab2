// Package utils holds small shared helpers with no project dependencies.
package utils

import (
	"time"

	"github.com/Laisky/errors/v2"
)

const dateLayout = "2006-01-02"

// NormalizeDateRange parses an inclusive YYYY-MM-DD date pair and returns a
// half-open [start, endExclusive) Unix-second range on UTC midnight
// boundaries. maxDays caps the inclusive day count when positive.
func NormalizeDateRange(fromStr, toStr string, maxDays int) (start, endExclusive int64, err error) {
	fromDay, err := parseUTCDay(fromStr)
	if err != nil {
		return 0, 0, errors.Wrap(err, "invalid from_date, expected YYYY-MM-DD")
	}
	toDay, err := parseUTCDay(toStr)
	if err != nil {
		return 0, 0, errors.Wrap(err, "invalid to_date, expected YYYY-MM-DD")
	}

	if toDay.Before(fromDay) {
		return 0, 0, errors.New("from_date must be before to_date")
	}
	if days := int(toDay.Sub(fromDay).Hours()/24) + 1; maxDays > 0 && days > maxDays {
		return 0, 0, errors.Errorf("date range too large, maximum %d days", maxDays)
	}

	return fromDay.Unix(), toDay.Add(24 * time.Hour).Unix(), nil
}

func parseUTCDay(s string) (time.Time, error) {
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC), nil
}
