package tools

import (
	"errors"
	"strings"
	"time"
)

var ErrInvalidDatetime = errors.New("invalid date or time")

// Loose day parts map to a fixed hour.
var dayParts = map[string]string{
	"mañana": "10:00",
	"manana": "10:00",
	"tarde":  "16:00",
}

var clockLayouts = []string{"15:04", "15:04:05", "3:04PM", "3PM"}

// visitStart composes a date (YYYY-MM-DD) and a time of day in loc. When the
// time is a day part, note is "Preferencia: <word>".
func visitStart(date, clock string, loc *time.Location) (time.Time, string, error) {
	if loc == nil {
		loc = time.UTC
	}
	day, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(date), loc)
	if err != nil {
		return time.Time{}, "", ErrInvalidDatetime
	}

	word := strings.ToLower(strings.TrimSpace(clock))
	note := ""
	if hhmm, ok := dayParts[word]; ok {
		note = "Preferencia: " + word
		word = hhmm
	}
	tod, err := parseClock(word)
	if err != nil {
		return time.Time{}, "", err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), tod.Hour(), tod.Minute(), tod.Second(), 0, loc), note, nil
}

func parseClock(s string) (time.Time, error) {
	s = strings.ToUpper(strings.NewReplacer(" ", "", ".", "").Replace(s))
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, ErrInvalidDatetime
}
