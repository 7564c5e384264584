package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Rule violations, surfaced verbatim to the API layer.
var (
	ErrPatientBlocked       = errors.New("patient is blocked from booking")
	ErrBookingLimitExceeded = errors.New("patient already has the maximum number of future appointments")
	ErrOutsideWorkingHours  = errors.New("requested time is outside the provider's working hours")
	ErrSlotConflict         = errors.New("slot is already booked")
	ErrSlotBeingBooked      = errors.New("slot is currently being booked, please retry")
	ErrPastDateTime         = errors.New("appointment time is in the past")
	ErrLeadTimeViolation    = errors.New("too close to the appointment time to cancel or reschedule")
)

// State and authorization errors.
var (
	ErrAlreadyCanceled     = errors.New("appointment is already canceled")
	ErrAlreadyCompleted    = errors.New("appointment already has a final outcome")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrNotOwner            = errors.New("actor does not own this appointment")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrProviderNotFound    = errors.New("provider not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrPastDate            = errors.New("date is in the past")
	ErrInvalidTimeRange    = errors.New("time range start must be before end")
)

// Repository contains all DB interactions needed by the service. The pg
// implementation maps unique-index violations on the active-slot index to
// ErrSlotConflict and compare-and-swap misses to the matching state error.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// Calendar reads, used by the availability computer.
	WorkingHoursFor(ctx context.Context, providerID uuid.UUID, weekday time.Weekday) ([]WorkingHoursRule, error)
	BlockedIntervalsFor(ctx context.Context, providerID uuid.UUID, date time.Time) ([]BlockedInterval, error)
	ActiveAppointmentsFor(ctx context.Context, providerID uuid.UUID, date time.Time) ([]Appointment, error)

	// Booking-limit check: active appointments on or after `from`, across all
	// providers.
	CountActiveAppointmentsFrom(ctx context.Context, patientID uuid.UUID, from time.Time) (int, error)

	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)

	// Creation and transitions. All status changes are compare-and-swap
	// against the expected current status.
	CreateAppointment(ctx context.Context, appt *Appointment) (*Appointment, error)
	CancelAppointment(ctx context.Context, id uuid.UUID, canceledBy uuid.UUID, reason *string, at time.Time) (*Appointment, error)
	RescheduleAppointment(ctx context.Context, id uuid.UUID, newDate time.Time, newStart ClockTime) (*Appointment, error)
	ConfirmAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// RecordOutcome transitions an active appointment to completed/no_show and
	// updates the patient's absence counter in the same transaction.
	RecordOutcome(ctx context.Context, id uuid.UUID, outcome AttendanceOutcome, absenceThreshold int) (*Appointment, *Patient, error)

	SetPatientBlocked(ctx context.Context, id uuid.UUID, blocked bool) (*Patient, error)

	// Calendar management.
	CreateWorkingHoursRule(ctx context.Context, rule *WorkingHoursRule) (*WorkingHoursRule, error)
	ListWorkingHours(ctx context.Context, providerID uuid.UUID) ([]WorkingHoursRule, error)
	CreateBlockedInterval(ctx context.Context, iv *BlockedInterval) (*BlockedInterval, error)

	// Event logging, best effort.
	InsertEvent(ctx context.Context, ev EventLog) error
}
