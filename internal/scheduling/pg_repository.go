package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the subset of pgxpool.Pool the repository uses. pgxmock
// implements the same surface, which keeps the repository testable without a
// live database.
type PgxPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgRepository struct {
	pool PgxPool
}

func NewPgRepository(pool PgxPool) *PgRepository {
	return &PgRepository{pool: pool}
}

// uniqueViolation is the Postgres error code raised by the partial unique
// index on active (provider_id, date, start_minute) slots.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&p.ConsecutiveAbsences,
		&p.Blocked,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider
	var specialty *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&specialty,
		&p.SlotDurationMinutes,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}

	p.Specialty = specialty
	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var start int16

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.ProviderID,
		&a.Date,
		&start,
		&a.Status,
		&a.Reason,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.CanceledAt,
		&a.CancelReason,
		&a.CanceledBy,
		&a.RescheduledFrom,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Start = ClockTime(start)
	a.Date = DateOnly(a.Date)
	return &a, nil
}

const appointmentColumns = `id, patient_id, provider_id, date, start_minute, status, reason,
	       created_at, updated_at, canceled_at, cancel_reason, canceled_by, rescheduled_from`

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, consecutive_absences, blocked, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, slot_duration_minutes, created_at, updated_at
		FROM providers
		WHERE id = $1
	`, id)
	return scanProvider(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) WorkingHoursFor(ctx context.Context, providerID uuid.UUID, weekday time.Weekday) ([]WorkingHoursRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, provider_id, weekday, start_minute, end_minute, created_at
		FROM working_hours_rules
		WHERE provider_id = $1 AND weekday = $2
		ORDER BY start_minute
	`, providerID, int(weekday))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []WorkingHoursRule
	for rows.Next() {
		var rule WorkingHoursRule
		var weekday int16
		var start, end int16
		if err := rows.Scan(&rule.ID, &rule.ProviderID, &weekday, &start, &end, &rule.CreatedAt); err != nil {
			return nil, err
		}
		rule.Weekday = time.Weekday(weekday)
		rule.Start = ClockTime(start)
		rule.End = ClockTime(end)
		result = append(result, rule)
	}
	return result, rows.Err()
}

func (r *PgRepository) BlockedIntervalsFor(ctx context.Context, providerID uuid.UUID, date time.Time) ([]BlockedInterval, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, provider_id, date, start_minute, end_minute, reason, created_at
		FROM blocked_intervals
		WHERE provider_id = $1 AND date = $2
		ORDER BY start_minute
	`, providerID, DateOnly(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []BlockedInterval
	for rows.Next() {
		var iv BlockedInterval
		var start, end int16
		if err := rows.Scan(&iv.ID, &iv.ProviderID, &iv.Date, &start, &end, &iv.Reason, &iv.CreatedAt); err != nil {
			return nil, err
		}
		iv.Date = DateOnly(iv.Date)
		iv.Start = ClockTime(start)
		iv.End = ClockTime(end)
		result = append(result, iv)
	}
	return result, rows.Err()
}

func (r *PgRepository) ActiveAppointmentsFor(ctx context.Context, providerID uuid.UUID, date time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
		  AND date = $2
		  AND status IN ('scheduled', 'confirmed')
		ORDER BY start_minute
	`, providerID, DateOnly(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *PgRepository) CountActiveAppointmentsFrom(ctx context.Context, patientID uuid.UUID, from time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM appointments
		WHERE patient_id = $1
		  AND date >= $2
		  AND status IN ('scheduled', 'confirmed')
	`, patientID, DateOnly(from)).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY date DESC, start_minute DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (r *PgRepository) CreateAppointment(ctx context.Context, appt *Appointment) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, provider_id, date, start_minute, status, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING `+appointmentColumns+`
	`, appt.ID, appt.PatientID, appt.ProviderID, appt.Date, int16(appt.Start), appt.Status, appt.Reason)

	created, err := scanAppointment(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSlotConflict
		}
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) CancelAppointment(ctx context.Context, id uuid.UUID, canceledBy uuid.UUID, reason *string, at time.Time) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'canceled',
		    canceled_at = $2,
		    cancel_reason = $3,
		    canceled_by = $4,
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('scheduled', 'confirmed')
		RETURNING `+appointmentColumns+`
	`, id, at, reason, canceledBy)

	updated, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, r.staleTransitionError(ctx, id)
		}
		return nil, err
	}
	return updated, nil
}

// RescheduleAppointment moves the appointment in place, recording where it
// moved from. The partial unique index rejects a landing on a taken slot.
func (r *PgRepository) RescheduleAppointment(ctx context.Context, id uuid.UUID, newDate time.Time, newStart ClockTime) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET rescheduled_from = (date + make_interval(mins => start_minute)),
		    date = $2,
		    start_minute = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('scheduled', 'confirmed')
		RETURNING `+appointmentColumns+`
	`, id, DateOnly(newDate), int16(newStart))

	updated, err := scanAppointment(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSlotConflict
		}
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, r.staleTransitionError(ctx, id)
		}
		return nil, err
	}
	return updated, nil
}

func (r *PgRepository) ConfirmAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'confirmed',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'scheduled'
		RETURNING `+appointmentColumns+`
	`, id)

	updated, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, r.staleTransitionError(ctx, id)
		}
		return nil, err
	}
	return updated, nil
}

// RecordOutcome runs the status transition and the patient counter update in
// one transaction. The counter arithmetic happens in SQL, so two concurrent
// outcomes for the same patient cannot lose an update.
func (r *PgRepository) RecordOutcome(ctx context.Context, id uuid.UUID, outcome AttendanceOutcome, absenceThreshold int) (*Appointment, *Patient, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin outcome tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	status := StatusCompleted
	if outcome == OutcomeNoShow {
		status = StatusNoShow
	}

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('scheduled', 'confirmed')
		RETURNING `+appointmentColumns+`
	`, id, status)

	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, nil, r.staleTransitionError(ctx, id)
		}
		return nil, nil, err
	}

	var patientRow pgx.Row
	if outcome == OutcomeCompleted {
		patientRow = tx.QueryRow(ctx, `
			UPDATE patients
			SET consecutive_absences = 0,
			    updated_at = now()
			WHERE id = $1
			RETURNING id, name, email, consecutive_absences, blocked, created_at, updated_at
		`, appt.PatientID)
	} else {
		patientRow = tx.QueryRow(ctx, `
			UPDATE patients
			SET consecutive_absences = consecutive_absences + 1,
			    blocked = blocked OR (consecutive_absences + 1 >= $2),
			    updated_at = now()
			WHERE id = $1
			RETURNING id, name, email, consecutive_absences, blocked, created_at, updated_at
		`, appt.PatientID, absenceThreshold)
	}

	patient, err := scanPatient(patientRow)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit outcome tx: %w", err)
	}

	return appt, patient, nil
}

func (r *PgRepository) SetPatientBlocked(ctx context.Context, id uuid.UUID, blocked bool) (*Patient, error) {
	// Unblocking also resets the streak; blocking leaves the counter as-is so
	// the audit trail keeps the real number.
	row := r.pool.QueryRow(ctx, `
		UPDATE patients
		SET blocked = $2,
		    consecutive_absences = CASE WHEN $2 THEN consecutive_absences ELSE 0 END,
		    updated_at = now()
		WHERE id = $1
		RETURNING id, name, email, consecutive_absences, blocked, created_at, updated_at
	`, id, blocked)
	return scanPatient(row)
}

func (r *PgRepository) CreateWorkingHoursRule(ctx context.Context, rule *WorkingHoursRule) (*WorkingHoursRule, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO working_hours_rules (id, provider_id, weekday, start_minute, end_minute, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING id, provider_id, weekday, start_minute, end_minute, created_at
	`, rule.ID, rule.ProviderID, int16(rule.Weekday), int16(rule.Start), int16(rule.End))

	var created WorkingHoursRule
	var weekday, start, end int16
	if err := row.Scan(&created.ID, &created.ProviderID, &weekday, &start, &end, &created.CreatedAt); err != nil {
		return nil, err
	}
	created.Weekday = time.Weekday(weekday)
	created.Start = ClockTime(start)
	created.End = ClockTime(end)
	return &created, nil
}

func (r *PgRepository) ListWorkingHours(ctx context.Context, providerID uuid.UUID) ([]WorkingHoursRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, provider_id, weekday, start_minute, end_minute, created_at
		FROM working_hours_rules
		WHERE provider_id = $1
		ORDER BY weekday, start_minute
	`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []WorkingHoursRule
	for rows.Next() {
		var rule WorkingHoursRule
		var weekday, start, end int16
		if err := rows.Scan(&rule.ID, &rule.ProviderID, &weekday, &start, &end, &rule.CreatedAt); err != nil {
			return nil, err
		}
		rule.Weekday = time.Weekday(weekday)
		rule.Start = ClockTime(start)
		rule.End = ClockTime(end)
		result = append(result, rule)
	}
	return result, rows.Err()
}

func (r *PgRepository) CreateBlockedInterval(ctx context.Context, iv *BlockedInterval) (*BlockedInterval, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO blocked_intervals (id, provider_id, date, start_minute, end_minute, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING id, provider_id, date, start_minute, end_minute, reason, created_at
	`, iv.ID, iv.ProviderID, iv.Date, int16(iv.Start), int16(iv.End), iv.Reason)

	var created BlockedInterval
	var start, end int16
	if err := row.Scan(&created.ID, &created.ProviderID, &created.Date, &start, &end, &created.Reason, &created.CreatedAt); err != nil {
		return nil, err
	}
	created.Date = DateOnly(created.Date)
	created.Start = ClockTime(start)
	created.End = ClockTime(end)
	return &created, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, patient_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.AppointmentID, ev.PatientID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

// staleTransitionError re-reads the row after a compare-and-swap miss to tell
// "gone" apart from "already in another state".
func (r *PgRepository) staleTransitionError(ctx context.Context, id uuid.UUID) error {
	appt, err := r.GetAppointmentByID(ctx, id)
	if err != nil {
		return err
	}
	switch appt.Status {
	case StatusCanceled:
		return ErrAlreadyCanceled
	case StatusCompleted, StatusNoShow:
		return ErrAlreadyCompleted
	default:
		return ErrInvalidTransition
	}
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
