package slot

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/dna-testing-scheduling/internal/apperr"
)

type Status string

const (
	StatusAvailable   Status = "available"
	StatusBooked      Status = "booked"
	StatusUnavailable Status = "unavailable"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusBooked, StatusUnavailable:
		return true
	}
	return false
}

// TimeWindow is one bookable sub-window of a slot. Times are "HH:MM" on the
// given calendar day and the window is half-open: [StartTime, EndTime).
type TimeWindow struct {
	Year      int    `json:"year"`
	Month     int    `json:"month"`
	Day       int    `json:"day"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

func (w TimeWindow) Date() time.Time {
	return time.Date(w.Year, time.Month(w.Month), w.Day, 0, 0, 0, 0, time.UTC)
}

func (w TimeWindow) sameDay(o TimeWindow) bool {
	return w.Year == o.Year && w.Month == o.Month && w.Day == o.Day
}

// Minutes returns start and end as minutes since midnight.
func (w TimeWindow) Minutes() (start, end int, err error) {
	start, err = parseClock(w.StartTime)
	if err != nil {
		return 0, 0, err
	}
	end, err = parseClock(w.EndTime)
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

func (w TimeWindow) Validate() error {
	d := w.Date()
	if d.Year() != w.Year || int(d.Month()) != w.Month || d.Day() != w.Day {
		return apperr.New(apperr.KindInvalidInput, "invalid date %04d-%02d-%02d", w.Year, w.Month, w.Day)
	}
	start, end, err := w.Minutes()
	if err != nil {
		return err
	}
	if start >= end {
		return apperr.New(apperr.KindInvalidInput, "window start %s must be before end %s", w.StartTime, w.EndTime)
	}
	return nil
}

// Overlaps reports whether two windows on the same day intersect. Touching
// endpoints do not overlap.
func (w TimeWindow) Overlaps(o TimeWindow) bool {
	if !w.sameDay(o) {
		return false
	}
	as, ae, err := w.Minutes()
	if err != nil {
		return false
	}
	bs, be, err := o.Minutes()
	if err != nil {
		return false
	}
	return as < be && bs < ae
}

func parseClock(v string) (int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, apperr.New(apperr.KindInvalidInput, "invalid time %q, want HH:MM", v)
	}
	return t.Hour()*60 + t.Minute(), nil
}

type Slot struct {
	ID               uuid.UUID
	StaffIDs         []uuid.UUID
	ServiceID        uuid.UUID
	Windows          []TimeWindow
	AppointmentLimit int
	BookedCount      int
	Status           Status
	AppointmentID    *uuid.UUID
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (s Slot) Remaining() int {
	return s.AppointmentLimit - s.BookedCount
}

// DayRange returns the first and last calendar day covered by the windows.
func (s Slot) DayRange() (first, last time.Time) {
	for i, w := range s.Windows {
		d := w.Date()
		if i == 0 || d.Before(first) {
			first = d
		}
		if i == 0 || d.After(last) {
			last = d
		}
	}
	return first, last
}

func (s Slot) SharesStaff(ids []uuid.UUID) bool {
	for _, a := range s.StaffIDs {
		for _, b := range ids {
			if a == b {
				return true
			}
		}
	}
	return false
}

func (s Slot) OverlapsAny(windows []TimeWindow) bool {
	for _, a := range s.Windows {
		for _, b := range windows {
			if a.Overlaps(b) {
				return true
			}
		}
	}
	return false
}

// statusFor is the rollup used after every capacity change.
func statusFor(current Status, booked, limit int) Status {
	if current == StatusUnavailable {
		return StatusUnavailable
	}
	if booked >= limit {
		return StatusBooked
	}
	return StatusAvailable
}

// Handle identifies a successful capacity reservation so it can be released.
type Handle struct {
	SlotID uuid.UUID
	Count  int
}

func (h Handle) String() string {
	return fmt.Sprintf("%s x%d", h.SlotID, h.Count)
}

// DateRange is inclusive on both calendar days.
type DateRange struct {
	From time.Time
	To   time.Time
}

func (r DateRange) normalized() DateRange {
	return DateRange{From: truncateDay(r.From), To: truncateDay(r.To)}
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Cursor is the keyset position used to page through available slots.
type Cursor struct {
	Day time.Time
	ID  uuid.UUID
}
