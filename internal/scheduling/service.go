package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medagenda/clinic-scheduling/internal/config"
	redisclient "github.com/medagenda/clinic-scheduling/internal/redis"
)

const (
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentConfirmed   = "APPOINTMENT_CONFIRMED"
	EventAppointmentCanceled    = "APPOINTMENT_CANCELED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAttendanceRecorded     = "ATTENDANCE_RECORDED"
	EventPatientBlocked         = "PATIENT_BLOCKED"
	EventPatientUnblocked       = "PATIENT_UNBLOCKED"
)

// Service orchestrates booking-rule validation and commits state changes
// through the repository. All slot-freedom questions go through Availability;
// nothing here re-derives conflict checks.
type Service struct {
	repo         Repository
	availability *Availability
	locker       redisclient.Locker
	cfg          config.Config
	log          zerolog.Logger

	// now is swappable for lead-time tests.
	now func() time.Time
}

func NewService(repo Repository, availability *Availability, locker redisclient.Locker, cfg config.Config, log zerolog.Logger) *Service {
	return &Service{
		repo:         repo,
		availability: availability,
		locker:       locker,
		cfg:          cfg,
		log:          log,
		now:          time.Now,
	}
}

// AvailableSlots lists the free slot start times for a provider on a date.
func (s *Service) AvailableSlots(ctx context.Context, providerID uuid.UUID, date time.Time) ([]ClockTime, error) {
	return s.availability.AvailableSlots(ctx, providerID, date)
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetAppointmentByID(ctx, id)
}

func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
}

// Book validates a new appointment request and commits it. Rule order is
// fixed: blocked patient, past time, booking limit, slot availability. The
// availability re-check and the insert run under a per-slot distributed lock,
// and the partial unique index on active slots backstops the lock, so a lost
// race still surfaces as ErrSlotConflict rather than a double booking.
func (s *Service) Book(ctx context.Context, patientID, providerID uuid.UUID, date time.Time, start ClockTime, reason *string) (*Appointment, error) {
	patient, err := s.repo.GetPatientByID(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if patient.Blocked {
		return nil, ErrPatientBlocked
	}

	if !start.Valid() {
		return nil, ErrOutsideWorkingHours
	}

	now := s.now()
	day := DateOnly(date)
	if !StartAt(day, start).After(now) {
		return nil, ErrPastDateTime
	}

	active, err := s.repo.CountActiveAppointmentsFrom(ctx, patientID, DateOnly(now))
	if err != nil {
		return nil, fmt.Errorf("count active appointments: %w", err)
	}
	if active >= s.cfg.BookingLimit {
		return nil, ErrBookingLimitExceeded
	}

	var created *Appointment

	err = s.locker.WithLock(ctx, slotLockKey(providerID, day, start), func(lockCtx context.Context) error {
		state, err := s.availability.Classify(lockCtx, providerID, day, start, uuid.Nil)
		if err != nil {
			return err
		}
		switch state {
		case SlotOutsideHours:
			return ErrOutsideWorkingHours
		case SlotTaken:
			return ErrSlotConflict
		}

		appt, err := s.repo.CreateAppointment(lockCtx, &Appointment{
			ID:         uuid.New(),
			PatientID:  patientID,
			ProviderID: providerID,
			Date:       day,
			Start:      start,
			Status:     StatusScheduled,
			Reason:     reason,
		})
		if err != nil {
			return err
		}

		created = appt
		s.logEvent(lockCtx, EventAppointmentBooked, &appt.ID, &patientID, map[string]any{
			"provider_id": providerID.String(),
			"date":        day.Format("2006-01-02"),
			"time":        start.String(),
		})
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	return created, nil
}

// Cancel transitions an active appointment to canceled. Only the owning
// patient or an admin may cancel, and only with at least the configured lead
// time before the appointment starts.
func (s *Service) Cancel(ctx context.Context, appointmentID uuid.UUID, actor Actor, reason *string) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	if actor.Role != RoleAdmin && actor.ID != appt.PatientID {
		return nil, ErrNotOwner
	}

	if err := activeOr(appt.Status); err != nil {
		return nil, err
	}

	if err := s.checkLeadTime(appt); err != nil {
		return nil, err
	}

	updated, err := s.repo.CancelAppointment(ctx, appt.ID, actor.ID, reason, s.now())
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, EventAppointmentCanceled, &updated.ID, &updated.PatientID, map[string]any{
		"canceled_by": actor.ID.String(),
	})
	return updated, nil
}

// Reschedule moves an active appointment to a new slot in place. The same
// appointment row is updated rather than canceled and recreated, so its
// identity survives and the old slot is never transiently free during the
// move. Lead time is checked against the original time, availability against
// the new one (excluding the appointment itself).
func (s *Service) Reschedule(ctx context.Context, appointmentID uuid.UUID, actor Actor, newDate time.Time, newStart ClockTime) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	if actor.Role != RoleAdmin && actor.ID != appt.PatientID {
		return nil, ErrNotOwner
	}

	if err := activeOr(appt.Status); err != nil {
		return nil, err
	}

	if err := s.checkLeadTime(appt); err != nil {
		return nil, err
	}

	if !newStart.Valid() {
		return nil, ErrOutsideWorkingHours
	}

	day := DateOnly(newDate)
	if !StartAt(day, newStart).After(s.now()) {
		return nil, ErrPastDateTime
	}

	var updated *Appointment

	err = s.locker.WithLock(ctx, slotLockKey(appt.ProviderID, day, newStart), func(lockCtx context.Context) error {
		state, err := s.availability.Classify(lockCtx, appt.ProviderID, day, newStart, appt.ID)
		if err != nil {
			return err
		}
		switch state {
		case SlotOutsideHours:
			return ErrOutsideWorkingHours
		case SlotTaken:
			return ErrSlotConflict
		}

		moved, err := s.repo.RescheduleAppointment(lockCtx, appt.ID, day, newStart)
		if err != nil {
			return err
		}

		updated = moved
		s.logEvent(lockCtx, EventAppointmentRescheduled, &moved.ID, &moved.PatientID, map[string]any{
			"from_date": appt.Date.Format("2006-01-02"),
			"from_time": appt.Start.String(),
			"to_date":   day.Format("2006-01-02"),
			"to_time":   newStart.String(),
		})
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	return updated, nil
}

// Confirm moves a scheduled appointment to confirmed. Provider or admin only.
func (s *Service) Confirm(ctx context.Context, appointmentID uuid.UUID, actor Actor) (*Appointment, error) {
	if actor.Role != RoleProvider && actor.Role != RoleAdmin {
		return nil, ErrNotOwner
	}

	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.Status != StatusScheduled {
		if err := activeOr(appt.Status); err != nil {
			return nil, err
		}
		return nil, ErrInvalidTransition
	}

	updated, err := s.repo.ConfirmAppointment(ctx, appt.ID)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, EventAppointmentConfirmed, &updated.ID, &updated.PatientID, map[string]any{})
	return updated, nil
}

// MarkAttendance records the final outcome of an appointment. The repository
// applies the status transition and the patient's absence-counter update in
// one transaction: a completed visit resets the counter, a no-show increments
// it, and crossing the threshold sets the blocked flag.
func (s *Service) MarkAttendance(ctx context.Context, appointmentID uuid.UUID, actor Actor, outcome AttendanceOutcome) (*Appointment, error) {
	if actor.Role != RoleProvider && actor.Role != RoleAdmin {
		return nil, ErrNotOwner
	}
	if outcome != OutcomeCompleted && outcome != OutcomeNoShow {
		return nil, ErrInvalidTransition
	}

	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if err := activeOr(appt.Status); err != nil {
		return nil, err
	}

	updated, patient, err := s.repo.RecordOutcome(ctx, appt.ID, outcome, s.cfg.AbsenceThreshold)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, EventAttendanceRecorded, &updated.ID, &updated.PatientID, map[string]any{
		"outcome":              string(outcome),
		"consecutive_absences": patient.ConsecutiveAbsences,
		"blocked":              patient.Blocked,
	})

	if patient.Blocked && outcome == OutcomeNoShow {
		s.log.Warn().
			Str("patient_id", patient.ID.String()).
			Int("consecutive_absences", patient.ConsecutiveAbsences).
			Msg("patient blocked after consecutive no-shows")
	}

	return updated, nil
}

// BlockPatient is the manual administrative block, independent of the
// absence counter.
func (s *Service) BlockPatient(ctx context.Context, patientID uuid.UUID, actor Actor) (*Patient, error) {
	if actor.Role != RoleAdmin {
		return nil, ErrNotOwner
	}

	patient, err := s.repo.SetPatientBlocked(ctx, patientID, true)
	if err != nil {
		return nil, err
	}
	s.logEvent(ctx, EventPatientBlocked, nil, &patient.ID, map[string]any{
		"by": actor.ID.String(),
	})
	return patient, nil
}

// UnblockPatient clears the blocked flag and resets the absence counter, so
// the next no-show starts a fresh streak.
func (s *Service) UnblockPatient(ctx context.Context, patientID uuid.UUID, actor Actor) (*Patient, error) {
	if actor.Role != RoleAdmin {
		return nil, ErrNotOwner
	}

	patient, err := s.repo.SetPatientBlocked(ctx, patientID, false)
	if err != nil {
		return nil, err
	}
	s.logEvent(ctx, EventPatientUnblocked, nil, &patient.ID, map[string]any{
		"by": actor.ID.String(),
	})
	return patient, nil
}

// AddWorkingHoursRule registers a recurring weekly availability range.
func (s *Service) AddWorkingHoursRule(ctx context.Context, providerID uuid.UUID, weekday time.Weekday, start, end ClockTime) (*WorkingHoursRule, error) {
	if _, err := s.repo.GetProviderByID(ctx, providerID); err != nil {
		return nil, err
	}
	if weekday < time.Sunday || weekday > time.Saturday {
		return nil, ErrInvalidTimeRange
	}
	if !start.Valid() || !end.Valid() || start >= end {
		return nil, ErrInvalidTimeRange
	}

	return s.repo.CreateWorkingHoursRule(ctx, &WorkingHoursRule{
		ID:         uuid.New(),
		ProviderID: providerID,
		Weekday:    weekday,
		Start:      start,
		End:        end,
	})
}

func (s *Service) ListWorkingHours(ctx context.Context, providerID uuid.UUID) ([]WorkingHoursRule, error) {
	if _, err := s.repo.GetProviderByID(ctx, providerID); err != nil {
		return nil, err
	}
	return s.repo.ListWorkingHours(ctx, providerID)
}

// AddBlockedInterval registers a one-off unavailable range. Past dates are
// rejected; there is nothing left to protect on a day already gone.
func (s *Service) AddBlockedInterval(ctx context.Context, providerID uuid.UUID, date time.Time, start, end ClockTime, reason string) (*BlockedInterval, error) {
	if _, err := s.repo.GetProviderByID(ctx, providerID); err != nil {
		return nil, err
	}
	if !start.Valid() || !end.Valid() || start >= end {
		return nil, ErrInvalidTimeRange
	}

	day := DateOnly(date)
	if day.Before(DateOnly(s.now())) {
		return nil, ErrPastDate
	}

	return s.repo.CreateBlockedInterval(ctx, &BlockedInterval{
		ID:         uuid.New(),
		ProviderID: providerID,
		Date:       day,
		Start:      start,
		End:        end,
		Reason:     reason,
	})
}

func (s *Service) ListBlockedIntervals(ctx context.Context, providerID uuid.UUID, date time.Time) ([]BlockedInterval, error) {
	if _, err := s.repo.GetProviderByID(ctx, providerID); err != nil {
		return nil, err
	}
	return s.repo.BlockedIntervalsFor(ctx, providerID, DateOnly(date))
}

// checkLeadTime enforces the minimum notice for cancel/reschedule against the
// appointment's current start time. Exactly the configured lead time passes.
func (s *Service) checkLeadTime(appt *Appointment) error {
	if appt.StartsAt().Sub(s.now()) < s.cfg.CancelLeadTime {
		return ErrLeadTimeViolation
	}
	return nil
}

// activeOr maps a non-active status to the matching state error.
func activeOr(status AppointmentStatus) error {
	switch {
	case status.Active():
		return nil
	case status == StatusCanceled:
		return ErrAlreadyCanceled
	default:
		return ErrAlreadyCompleted
	}
}

func slotLockKey(providerID uuid.UUID, date time.Time, start ClockTime) string {
	return fmt.Sprintf("%s:%s:%d", providerID, date.Format("2006-01-02"), int(start))
}

func (s *Service) logEvent(ctx context.Context, eventType string, appointmentID, patientID *uuid.UUID, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event", eventType).Msg("marshal event payload")
		data = nil
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		PatientID:     patientID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("event", eventType).Msg("insert event log")
	}
}
