package scheduling

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Availability derives free slots for (provider, date) from the weekly
// working hours minus blocked intervals minus active appointments. It is the
// single source of truth for "is this slot free"; the booking service never
// re-derives conflict checks on its own.
type Availability struct {
	repo Repository
}

func NewAvailability(repo Repository) *Availability {
	return &Availability{repo: repo}
}

// AvailableSlots returns the free slot start times for the provider on the
// given date, ascending and deduplicated. A day without working-hours rules
// yields an empty list, not an error. Past dates are computed like any other;
// rejecting them is the booking validator's job.
func (av *Availability) AvailableSlots(ctx context.Context, providerID uuid.UUID, date time.Time) ([]ClockTime, error) {
	grid, appts, duration, err := av.load(ctx, providerID, date)
	if err != nil {
		return nil, err
	}
	return filterBooked(grid, appts, duration, uuid.Nil), nil
}

// SlotState classifies a requested slot so the validator can tell a slot that
// was never bookable apart from one that is merely taken.
type SlotState int

const (
	// SlotFree: inside working hours, not blocked, no active appointment.
	SlotFree SlotState = iota
	// SlotOutsideHours: not on the working-hours grid, or overlapping a
	// blocked interval.
	SlotOutsideHours
	// SlotTaken: bookable in principle but held by an active appointment.
	SlotTaken
)

// Classify reports the state of a single candidate slot. excludeAppointment
// removes one appointment from the conflict check, so a reschedule does not
// collide with the appointment being moved.
func (av *Availability) Classify(ctx context.Context, providerID uuid.UUID, date time.Time, start ClockTime, excludeAppointment uuid.UUID) (SlotState, error) {
	grid, appts, duration, err := av.load(ctx, providerID, date)
	if err != nil {
		return SlotOutsideHours, err
	}

	onGrid := false
	for _, s := range grid {
		if s == start {
			onGrid = true
			break
		}
	}
	if !onGrid {
		return SlotOutsideHours, nil
	}

	free := filterBooked([]ClockTime{start}, appts, duration, excludeAppointment)
	if len(free) == 0 {
		return SlotTaken, nil
	}
	return SlotFree, nil
}

// load fetches the bookable grid (working hours minus blocks) and the day's
// active appointments.
func (av *Availability) load(ctx context.Context, providerID uuid.UUID, date time.Time) ([]ClockTime, []Appointment, int, error) {
	provider, err := av.repo.GetProviderByID(ctx, providerID)
	if err != nil {
		return nil, nil, 0, err
	}

	day := DateOnly(date)

	rules, err := av.repo.WorkingHoursFor(ctx, providerID, day.Weekday())
	if err != nil {
		return nil, nil, 0, fmt.Errorf("load working hours: %w", err)
	}
	if len(rules) == 0 {
		return nil, nil, provider.SlotDurationMinutes, nil
	}

	blocks, err := av.repo.BlockedIntervalsFor(ctx, providerID, day)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("load blocked intervals: %w", err)
	}

	appts, err := av.repo.ActiveAppointmentsFor(ctx, providerID, day)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("load appointments: %w", err)
	}

	grid := enumerateGrid(rules, blocks, provider.SlotDurationMinutes)
	return grid, appts, provider.SlotDurationMinutes, nil
}

// enumerateGrid walks each working-hours range at the provider's slot
// granularity and drops candidates overlapping a blocked interval. The result
// is sorted ascending with duplicates removed (overlapping rules may emit the
// same start twice).
func enumerateGrid(rules []WorkingHoursRule, blocks []BlockedInterval, durationMinutes int) []ClockTime {
	if durationMinutes <= 0 {
		return nil
	}

	seen := make(map[ClockTime]struct{})
	var grid []ClockTime

	for _, rule := range rules {
		for start := rule.Start; start.Add(durationMinutes) <= rule.End; start = start.Add(durationMinutes) {
			end := start.Add(durationMinutes)

			blocked := false
			for _, b := range blocks {
				if Overlaps(start, end, b.Start, b.End) {
					blocked = true
					break
				}
			}
			if blocked {
				continue
			}

			if _, ok := seen[start]; ok {
				continue
			}
			seen[start] = struct{}{}
			grid = append(grid, start)
		}
	}

	sort.Slice(grid, func(i, j int) bool { return grid[i] < grid[j] })
	return grid
}

// filterBooked removes grid slots overlapping an active appointment, using
// the same half-open semantics as blocked intervals. Equality on the start
// would usually do, but overlap also handles appointments that predate a
// schedule change and no longer sit on the grid.
func filterBooked(grid []ClockTime, appts []Appointment, durationMinutes int, exclude uuid.UUID) []ClockTime {
	if len(appts) == 0 {
		return grid
	}

	free := grid[:0:0]
	for _, s := range grid {
		end := s.Add(durationMinutes)

		conflict := false
		for _, a := range appts {
			if exclude != uuid.Nil && a.ID == exclude {
				continue
			}
			if !a.Status.Active() {
				continue
			}
			if Overlaps(s, end, a.Start, a.Start.Add(durationMinutes)) {
				conflict = true
				break
			}
		}
		if !conflict {
			free = append(free, s)
		}
	}
	return free
}
