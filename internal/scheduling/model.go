package scheduling

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCompleted AppointmentStatus = "completed"
	StatusNoShow    AppointmentStatus = "no_show"
	StatusCanceled  AppointmentStatus = "canceled"
)

// Active reports whether the appointment still occupies its slot.
func (s AppointmentStatus) Active() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

// Terminal reports whether no further transition is permitted.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusNoShow || s == StatusCanceled
}

type AttendanceOutcome string

const (
	OutcomeCompleted AttendanceOutcome = "completed"
	OutcomeNoShow    AttendanceOutcome = "no_show"
)

type Role string

const (
	RolePatient  Role = "patient"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

// Actor is the already-authenticated caller, resolved by the identity layer
// upstream of this engine.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// ClockTime is a time of day expressed as minutes since midnight.
// Slot arithmetic never crosses a day boundary, so minutes are enough.
type ClockTime int

const minutesPerDay = 24 * 60

// ParseClockTime parses "HH:MM" into a ClockTime.
func ParseClockTime(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse clock time %q: %w", s, err)
	}
	return ClockTime(t.Hour()*60 + t.Minute()), nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c ClockTime) Add(minutes int) ClockTime {
	return c + ClockTime(minutes)
}

func (c ClockTime) Valid() bool {
	return c >= 0 && c < minutesPerDay
}

// ParseDate parses "YYYY-MM-DD" into a civil date (UTC midnight).
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return d, nil
}

// DateOnly truncates t to its civil date in UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// StartAt combines a civil date and a clock time into an instant.
func StartAt(date time.Time, start ClockTime) time.Time {
	return DateOnly(date).Add(time.Duration(start) * time.Minute)
}

// Overlaps applies half-open interval semantics: an interval ending exactly
// when another begins does not conflict.
func Overlaps(startA, endA, startB, endB ClockTime) bool {
	return startA < endB && startB < endA
}

type Provider struct {
	ID                  uuid.UUID
	Name                string
	Specialty           *string
	SlotDurationMinutes int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// WorkingHoursRule is one recurring weekly availability range. A provider may
// have several per weekday (morning and afternoon blocks).
type WorkingHoursRule struct {
	ID         uuid.UUID
	ProviderID uuid.UUID
	Weekday    time.Weekday
	Start      ClockTime
	End        ClockTime
	CreatedAt  time.Time
}

// BlockedInterval is a one-off unavailable range on a specific date, layered
// on top of the weekly working hours.
type BlockedInterval struct {
	ID         uuid.UUID
	ProviderID uuid.UUID
	Date       time.Time
	Start      ClockTime
	End        ClockTime
	Reason     string
	CreatedAt  time.Time
}

type Patient struct {
	ID                  uuid.UUID
	Name                string
	Email               *string
	ConsecutiveAbsences int
	Blocked             bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	ProviderID      uuid.UUID
	Date            time.Time
	Start           ClockTime
	Status          AppointmentStatus
	Reason          *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CanceledAt      *time.Time
	CancelReason    *string
	CanceledBy      *uuid.UUID
	RescheduledFrom *time.Time
}

// StartsAt is the appointment's start instant, used for lead-time checks.
func (a *Appointment) StartsAt() time.Time {
	return StartAt(a.Date, a.Start)
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	PatientID     *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
