package timeutil

import (
	"fmt"
	"math"
	"time"
	_ "time/tzdata"
)

// Clock abstracts the current time so schedulers and tests can control it.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// LoadZone resolves an IANA zone name, falling back to fallback when the name is empty or unknown.
func LoadZone(name string, fallback *time.Location) *time.Location {
	if fallback == nil {
		fallback = time.UTC
	}
	if name == "" {
		return fallback
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fallback
	}
	return loc
}

// Format renders t as a clock time in loc, e.g. "09:05 CET".
func Format(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("15:04 MST")
}

// FormatDateTime renders t as "2006-01-02 15:04" in loc.
func FormatDateTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02 15:04")
}

// ElapsedMinutes returns the whole minutes between from and to, rounded half away from zero.
func ElapsedMinutes(from, to time.Time) int {
	return int(math.Round(to.Sub(from).Minutes()))
}

// FormatMinutes renders a minute count as "45m" or "7h 15m". Negative values keep their sign.
func FormatMinutes(n int) string {
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	if n < 60 {
		return fmt.Sprintf("%s%dm", sign, n)
	}
	return fmt.Sprintf("%s%dh %02dm", sign, n/60, n%60)
}
