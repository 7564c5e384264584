package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medagenda/clinic-scheduling/internal/config"
)

// memRepo is an in-memory Repository with the same conflict semantics as the
// Postgres implementation, including the active-slot uniqueness guarantee.
type memRepo struct {
	patients     map[uuid.UUID]*Patient
	providers    map[uuid.UUID]*Provider
	rules        []WorkingHoursRule
	blocks       []BlockedInterval
	appointments map[uuid.UUID]*Appointment
	events       []EventLog
}

func newMemRepo() *memRepo {
	return &memRepo{
		patients:     make(map[uuid.UUID]*Patient),
		providers:    make(map[uuid.UUID]*Provider),
		appointments: make(map[uuid.UUID]*Appointment),
	}
}

func (m *memRepo) addPatient(p Patient) *Patient {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	m.patients[p.ID] = &p
	return &p
}

func (m *memRepo) addProvider(p Provider) *Provider {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.SlotDurationMinutes == 0 {
		p.SlotDurationMinutes = 30
	}
	m.providers[p.ID] = &p
	return &p
}

func (m *memRepo) addRule(providerID uuid.UUID, weekday time.Weekday, start, end ClockTime) {
	m.rules = append(m.rules, WorkingHoursRule{
		ID:         uuid.New(),
		ProviderID: providerID,
		Weekday:    weekday,
		Start:      start,
		End:        end,
	})
}

func (m *memRepo) addBlock(providerID uuid.UUID, date time.Time, start, end ClockTime, reason string) {
	m.blocks = append(m.blocks, BlockedInterval{
		ID:         uuid.New(),
		ProviderID: providerID,
		Date:       DateOnly(date),
		Start:      start,
		End:        end,
		Reason:     reason,
	})
}

func (m *memRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memRepo) GetProviderByID(_ context.Context, id uuid.UUID) (*Provider, error) {
	p, ok := m.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memRepo) WorkingHoursFor(_ context.Context, providerID uuid.UUID, weekday time.Weekday) ([]WorkingHoursRule, error) {
	var out []WorkingHoursRule
	for _, r := range m.rules {
		if r.ProviderID == providerID && r.Weekday == weekday {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRepo) BlockedIntervalsFor(_ context.Context, providerID uuid.UUID, date time.Time) ([]BlockedInterval, error) {
	var out []BlockedInterval
	for _, b := range m.blocks {
		if b.ProviderID == providerID && b.Date.Equal(DateOnly(date)) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memRepo) ActiveAppointmentsFor(_ context.Context, providerID uuid.UUID, date time.Time) ([]Appointment, error) {
	var out []Appointment
	for _, a := range m.appointments {
		if a.ProviderID == providerID && a.Date.Equal(DateOnly(date)) && a.Status.Active() {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memRepo) CountActiveAppointmentsFrom(_ context.Context, patientID uuid.UUID, from time.Time) (int, error) {
	count := 0
	for _, a := range m.appointments {
		if a.PatientID == patientID && a.Status.Active() && !a.Date.Before(DateOnly(from)) {
			count++
		}
	}
	return count, nil
}

func (m *memRepo) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	var out []Appointment
	for _, a := range m.appointments {
		if a.PatientID == patientID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memRepo) activeSlotTaken(providerID uuid.UUID, date time.Time, start ClockTime, exclude uuid.UUID) bool {
	for _, a := range m.appointments {
		if a.ID != exclude && a.ProviderID == providerID && a.Date.Equal(DateOnly(date)) &&
			a.Start == start && a.Status.Active() {
			return true
		}
	}
	return false
}

func (m *memRepo) CreateAppointment(_ context.Context, appt *Appointment) (*Appointment, error) {
	if m.activeSlotTaken(appt.ProviderID, appt.Date, appt.Start, uuid.Nil) {
		return nil, ErrSlotConflict
	}
	cp := *appt
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.appointments[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memRepo) staleTransition(a *Appointment) error {
	switch a.Status {
	case StatusCanceled:
		return ErrAlreadyCanceled
	case StatusCompleted, StatusNoShow:
		return ErrAlreadyCompleted
	default:
		return ErrInvalidTransition
	}
}

func (m *memRepo) CancelAppointment(_ context.Context, id uuid.UUID, canceledBy uuid.UUID, reason *string, at time.Time) (*Appointment, error) {
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if !a.Status.Active() {
		return nil, m.staleTransition(a)
	}
	a.Status = StatusCanceled
	a.CanceledAt = &at
	a.CancelReason = reason
	a.CanceledBy = &canceledBy
	a.UpdatedAt = at
	cp := *a
	return &cp, nil
}

func (m *memRepo) RescheduleAppointment(_ context.Context, id uuid.UUID, newDate time.Time, newStart ClockTime) (*Appointment, error) {
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if !a.Status.Active() {
		return nil, m.staleTransition(a)
	}
	if m.activeSlotTaken(a.ProviderID, newDate, newStart, a.ID) {
		return nil, ErrSlotConflict
	}
	from := StartAt(a.Date, a.Start)
	a.RescheduledFrom = &from
	a.Date = DateOnly(newDate)
	a.Start = newStart
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (m *memRepo) ConfirmAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status != StatusScheduled {
		if !a.Status.Active() {
			return nil, m.staleTransition(a)
		}
		return nil, ErrInvalidTransition
	}
	a.Status = StatusConfirmed
	cp := *a
	return &cp, nil
}

func (m *memRepo) RecordOutcome(_ context.Context, id uuid.UUID, outcome AttendanceOutcome, absenceThreshold int) (*Appointment, *Patient, error) {
	a, ok := m.appointments[id]
	if !ok {
		return nil, nil, ErrAppointmentNotFound
	}
	if !a.Status.Active() {
		return nil, nil, m.staleTransition(a)
	}

	p, ok := m.patients[a.PatientID]
	if !ok {
		return nil, nil, ErrPatientNotFound
	}

	if outcome == OutcomeCompleted {
		a.Status = StatusCompleted
		p.ConsecutiveAbsences = 0
	} else {
		a.Status = StatusNoShow
		p.ConsecutiveAbsences++
		if p.ConsecutiveAbsences >= absenceThreshold {
			p.Blocked = true
		}
	}

	ac, pc := *a, *p
	return &ac, &pc, nil
}

func (m *memRepo) SetPatientBlocked(_ context.Context, id uuid.UUID, blocked bool) (*Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	p.Blocked = blocked
	if !blocked {
		p.ConsecutiveAbsences = 0
	}
	cp := *p
	return &cp, nil
}

func (m *memRepo) CreateWorkingHoursRule(_ context.Context, rule *WorkingHoursRule) (*WorkingHoursRule, error) {
	cp := *rule
	cp.CreatedAt = time.Now()
	m.rules = append(m.rules, cp)
	out := cp
	return &out, nil
}

func (m *memRepo) ListWorkingHours(_ context.Context, providerID uuid.UUID) ([]WorkingHoursRule, error) {
	var out []WorkingHoursRule
	for _, r := range m.rules {
		if r.ProviderID == providerID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRepo) CreateBlockedInterval(_ context.Context, iv *BlockedInterval) (*BlockedInterval, error) {
	cp := *iv
	cp.CreatedAt = time.Now()
	m.blocks = append(m.blocks, cp)
	out := cp
	return &out, nil
}

func (m *memRepo) InsertEvent(_ context.Context, ev EventLog) error {
	m.events = append(m.events, ev)
	return nil
}

// noopLocker runs the critical section inline.
type noopLocker struct{}

func (noopLocker) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// contendedLocker simulates another caller holding every lock.
type contendedLocker struct{ err error }

func (l contendedLocker) WithLock(context.Context, string, func(ctx context.Context) error) error {
	return l.err
}

func testConfig() config.Config {
	return config.Config{
		BookingLimit:     2,
		AbsenceThreshold: 3,
		CancelLeadTime:   24 * time.Hour,
	}
}

func newTestService(repo *memRepo) *Service {
	return NewService(repo, NewAvailability(repo), noopLocker{}, testConfig(), zerolog.Nop())
}
