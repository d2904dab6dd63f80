package services

import (
	"regexp"
	"time"
)

const serviceDayLayout = "2006-01-02"

var serviceDayPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// TimeLeft describes how much of the current service day remains.
type TimeLeft struct {
	Hours        int  `json:"hours"`
	Minutes      int  `json:"minutes"`
	TotalMinutes int  `json:"total_minutes"`
	Expired      bool `json:"expired"`
}

// DayClock computes the logical service day: wall-clock time shifted to the
// reference offset, where hours before the cutoff still belong to the
// previous calendar date. An evening that runs past midnight stays on one
// assignment.
type DayClock struct {
	offset time.Duration
	cutoff int
	now    func() time.Time
}

// NewDayClock builds a clock for the given UTC offset (hours) and daily
// cutoff hour. Nothing is cached; every call recomputes from now().
func NewDayClock(utcOffsetHours, cutoffHour int) *DayClock {
	return &DayClock{
		offset: time.Duration(utcOffsetHours) * time.Hour,
		cutoff: cutoffHour,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithNow returns a copy using the given time source. Tests fix the instant
// this way.
func (c *DayClock) WithNow(now func() time.Time) *DayClock {
	clone := *c
	clone.now = now
	return &clone
}

// ServiceDay returns the current service day as "YYYY-MM-DD".
func (c *DayClock) ServiceDay() string { return c.ServiceDayAt(c.now()) }

// ServiceDayAt returns the service day the given instant belongs to.
func (c *DayClock) ServiceDayAt(t time.Time) string {
	shifted := t.UTC().Add(c.offset)
	if shifted.Hour() < c.cutoff {
		shifted = shifted.AddDate(0, 0, -1)
	}
	return shifted.Format(serviceDayLayout)
}

// DayEnd returns the instant the given service day ends: the next cutoff in
// the reference frame, expressed in UTC.
func (c *DayClock) DayEnd(serviceDay string) (time.Time, error) {
	day, err := time.Parse(serviceDayLayout, serviceDay)
	if err != nil {
		return time.Time{}, NewInvalidError("malformed service day")
	}
	end := day.AddDate(0, 0, 1).Add(time.Duration(c.cutoff)*time.Hour - c.offset)
	return end, nil
}

// Elapsed reports whether the given service day is already over.
func (c *DayClock) Elapsed(serviceDay string) bool {
	end, err := c.DayEnd(serviceDay)
	if err != nil {
		return true
	}
	return !c.now().Before(end)
}

// TimeLeft returns the remaining window of the current service day.
func (c *DayClock) TimeLeft() TimeLeft {
	end, err := c.DayEnd(c.ServiceDay())
	if err != nil {
		return TimeLeft{Expired: true}
	}
	diff := end.Sub(c.now())
	if diff <= 0 {
		return TimeLeft{Expired: true}
	}
	total := int(diff / time.Minute)
	return TimeLeft{Hours: total / 60, Minutes: total % 60, TotalMinutes: total}
}

// IsValidServiceDay checks the "YYYY-MM-DD" shape and that the date exists.
func IsValidServiceDay(serviceDay string) bool {
	if !serviceDayPattern.MatchString(serviceDay) {
		return false
	}
	_, err := time.Parse(serviceDayLayout, serviceDay)
	return err == nil
}
