package appointment

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// TimeOfDay is a wall-clock time in whole minutes since midnight (UTC).
type TimeOfDay int

// EndOfDay only makes sense as a window end.
const EndOfDay = TimeOfDay(24 * 60)

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// ParseTimeOfDay reads HH:MM. "24:00" is accepted as the end of the day.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	if s == "24:00" {
		return EndOfDay, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return NewTimeOfDay(t.Hour(), t.Minute()), nil
}

// TimeOfDayOf returns the time of day of t in UTC, and whether t sits on a whole minute.
func TimeOfDayOf(t time.Time) (TimeOfDay, bool) {
	t = t.UTC()
	exact := t.Second() == 0 && t.Nanosecond() == 0
	return NewTimeOfDay(t.Hour(), t.Minute()), exact
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// On combines the calendar day of date with t.
func (t TimeOfDay) On(date time.Time) time.Time {
	start, _ := DayBounds(date)
	return start.Add(time.Duration(t) * time.Minute)
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Window is a working interval [Start, End).
type Window struct {
	Start TimeOfDay
	End   TimeOfDay
}

// WorkingHours is a doctor's daily template.
type WorkingHours struct {
	Windows []Window
	Step    time.Duration
}

const DefaultSlotStep = 30 * time.Minute

// DefaultWorkingHours is the clinic template used when nothing else is configured.
func DefaultWorkingHours() WorkingHours {
	return WorkingHours{
		Windows: []Window{
			{Start: NewTimeOfDay(9, 0), End: NewTimeOfDay(12, 30)},
			{Start: NewTimeOfDay(14, 0), End: NewTimeOfDay(17, 30)},
		},
		Step: DefaultSlotStep,
	}
}

// Starts lists every slot start of the template in ascending order.
// A slot must fit entirely inside its window.
func (w WorkingHours) Starts() []TimeOfDay {
	step := int(w.Step / time.Minute)
	if step <= 0 {
		step = int(DefaultSlotStep / time.Minute)
	}

	seen := make(map[TimeOfDay]struct{})
	var out []TimeOfDay
	for _, win := range w.Windows {
		for t := win.Start; t+TimeOfDay(step) <= win.End; t += TimeOfDay(step) {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (w WorkingHours) Validate() error {
	if w.Step < time.Minute {
		return fmt.Errorf("slot step must be at least one minute, got %s", w.Step)
	}
	if w.Step%time.Minute != 0 {
		return fmt.Errorf("slot step must be whole minutes, got %s", w.Step)
	}
	for _, win := range w.Windows {
		if win.Start < 0 || win.End > EndOfDay || win.End <= win.Start {
			return fmt.Errorf("invalid window %s-%s", win.Start, win.End)
		}
	}
	return nil
}

// HoursProvider is the doctor directory's working-hours side.
type HoursProvider interface {
	HoursFor(doctorID uuid.UUID) WorkingHours
}

// StaticHours hands every doctor the same template.
type StaticHours WorkingHours

func (h StaticHours) HoursFor(uuid.UUID) WorkingHours {
	return WorkingHours(h)
}

// SlotCatalog derives bookable slots from the template and the store.
// It keeps no state of its own.
type SlotCatalog struct {
	repo  Repository
	hours HoursProvider
}

func NewSlotCatalog(repo Repository, hours HoursProvider) *SlotCatalog {
	if hours == nil {
		hours = StaticHours(DefaultWorkingHours())
	}
	return &SlotCatalog{repo: repo, hours: hours}
}

// AvailableSlots returns the template starts for date minus times held by
// non-cancelled appointments of the doctor. An empty result is not an error.
func (c *SlotCatalog) AvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]TimeOfDay, error) {
	if _, err := c.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, err
	}

	from, to := DayBounds(date)
	booked, err := c.repo.ListBookedTimes(ctx, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list booked times: %w", err)
	}

	taken := make(map[int64]struct{}, len(booked))
	for _, b := range booked {
		taken[b.UTC().Unix()] = struct{}{}
	}

	out := []TimeOfDay{}
	for _, start := range c.hours.HoursFor(doctorID).Starts() {
		if _, ok := taken[start.On(from).Unix()]; ok {
			continue
		}
		out = append(out, start)
	}
	return out, nil
}

// IsAvailable reports whether at is one of the doctor's free slot starts.
func (c *SlotCatalog) IsAvailable(ctx context.Context, doctorID uuid.UUID, at time.Time) (bool, error) {
	tod, exact := TimeOfDayOf(at)
	if !exact {
		return false, nil
	}
	slots, err := c.AvailableSlots(ctx, doctorID, at)
	if err != nil {
		return false, err
	}
	for _, s := range slots {
		if s == tod {
			return true, nil
		}
	}
	return false, nil
}
