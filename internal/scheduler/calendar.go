package scheduler

import "time"

// WorkCalendar describes the working window tasks may start in.
type WorkCalendar struct {
	Location  *time.Location
	StartHour int
	EndHour   int
}

// DefaultCalendar is 08:00-18:00 Monday to Friday in the host zone.
func DefaultCalendar() WorkCalendar {
	return WorkCalendar{Location: time.Local, StartHour: 8, EndHour: 18}
}

func (c WorkCalendar) loc() *time.Location {
	if c.Location == nil {
		return time.Local
	}
	return c.Location
}

func (c WorkCalendar) at(t time.Time, hour int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, hour, 0, 0, 0, c.loc())
}

// Snap moves t to the next working instant. Before the window it moves to
// the window start of the same day, at or after the window end to the start
// of the next day, and weekends roll forward to Monday.
func (c WorkCalendar) Snap(t time.Time) time.Time {
	t = t.In(c.loc())
	switch {
	case t.Hour() < c.StartHour:
		t = c.at(t, c.StartHour)
	case t.Hour() >= c.EndHour:
		t = c.at(t.AddDate(0, 0, 1), c.StartHour)
	}
	switch t.Weekday() {
	case time.Saturday:
		t = c.at(t.AddDate(0, 0, 2), c.StartHour)
	case time.Sunday:
		t = c.at(t.AddDate(0, 0, 1), c.StartHour)
	}
	return t
}

// EndOfDay is 23:59:59 of t's calendar day.
func (c WorkCalendar) EndOfDay(t time.Time) time.Time {
	t = t.In(c.loc())
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, c.loc())
}

// Contains reports whether t falls inside a working window.
func (c WorkCalendar) Contains(t time.Time) bool {
	t = t.In(c.loc())
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return t.Hour() >= c.StartHour && t.Hour() < c.EndHour
}
