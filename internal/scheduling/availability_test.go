package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// monday is a fixed future Monday used across the availability tests.
var monday = time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)

func mustClock(t *testing.T, s string) ClockTime {
	t.Helper()
	c, err := ParseClockTime(s)
	require.NoError(t, err)
	return c
}

func slotStrings(slots []ClockTime) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.String())
	}
	return out
}

func TestAvailableSlots_MorningRange(t *testing.T) {
	repo := newMemRepo()
	provider := repo.addProvider(Provider{Name: "Dr. Vieira", SlotDurationMinutes: 30})
	repo.addRule(provider.ID, time.Monday, mustClock(t, "09:00"), mustClock(t, "12:00"))

	av := NewAvailability(repo)

	slots, err := av.AvailableSlots(context.Background(), provider.ID, monday)
	require.NoError(t, err)
	assert.Equal(t,
		[]string{"09:00", "09:30", "10:00", "10:30", "11:00", "11:30"},
		slotStrings(slots))
}

func TestAvailableSlots_BookingRemovesSlot(t *testing.T) {
	repo := newMemRepo()
	provider := repo.addProvider(Provider{Name: "Dr. Vieira", SlotDurationMinutes: 30})
	patient := repo.addPatient(Patient{Name: "Ana"})
	repo.addRule(provider.ID, time.Monday, mustClock(t, "09:00"), mustClock(t, "12:00"))

	_, err := repo.CreateAppointment(context.Background(), &Appointment{
		ID:         uuid.New(),
		PatientID:  patient.ID,
		ProviderID: provider.ID,
		Date:       monday,
		Start:      mustClock(t, "10:00"),
		Status:     StatusScheduled,
	})
	require.NoError(t, err)

	av := NewAvailability(repo)
	slots, err := av.AvailableSlots(context.Background(), provider.ID, monday)
	require.NoError(t, err)
	assert.Equal(t,
		[]string{"09:00", "09:30", "10:30", "11:00", "11:30"},
		slotStrings(slots))
}

func TestAvailableSlots_CanceledAppointmentFreesSlot(t *testing.T) {
	repo := newMemRepo()
	provider := repo.addProvider(Provider{SlotDurationMinutes: 30})
	patient := repo.addPatient(Patient{})
	repo.addRule(provider.ID, time.Monday, mustClock(t, "09:00"), mustClock(t, "10:00"))

	appt, err := repo.CreateAppointment(context.Background(), &Appointment{
		ID: uuid.New(), PatientID: patient.ID, ProviderID: provider.ID,
		Date: monday, Start: mustClock(t, "09:00"), Status: StatusScheduled,
	})
	require.NoError(t, err)
	_, err = repo.CancelAppointment(context.Background(), appt.ID, patient.ID, nil, time.Now())
	require.NoError(t, err)

	av := NewAvailability(repo)
	slots, err := av.AvailableSlots(context.Background(), provider.ID, monday)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "09:30"}, slotStrings(slots))
}

func TestAvailableSlots_BlockedIntervalHalfOpen(t *testing.T) {
	repo := newMemRepo()
	provider := repo.addProvider(Provider{SlotDurationMinutes: 30})
	repo.addRule(provider.ID, time.Monday, mustClock(t, "09:00"), mustClock(t, "12:00"))
	// Block 10:00-11:00. The 09:30 slot ends exactly at 10:00 and survives;
	// 10:00 and 10:30 go; 11:00 starts exactly at the block end and survives.
	repo.addBlock(provider.ID, monday, mustClock(t, "10:00"), mustClock(t, "11:00"), "meeting")

	av := NewAvailability(repo)
	slots, err := av.AvailableSlots(context.Background(), provider.ID, monday)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "09:30", "11:00", "11:30"}, slotStrings(slots))
}

func TestAvailableSlots_MultipleRulesSorted(t *testing.T) {
	repo := newMemRepo()
	provider := repo.addProvider(Provider{SlotDurationMinutes: 60})
	// Afternoon rule added before the morning one; output must still ascend.
	repo.addRule(provider.ID, time.Monday, mustClock(t, "14:00"), mustClock(t, "16:00"))
	repo.addRule(provider.ID, time.Monday, mustClock(t, "09:00"), mustClock(t, "11:00"))

	av := NewAvailability(repo)
	slots, err := av.AvailableSlots(context.Background(), provider.ID, monday)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "10:00", "14:00", "15:00"}, slotStrings(slots))
}

func TestAvailableSlots_PartialSlotAtRangeEndExcluded(t *testing.T) {
	repo := newMemRepo()
	provider := repo.addProvider(Provider{SlotDurationMinutes: 45})
	// 09:00-10:30 fits exactly two 45-minute slots; a third would overrun.
	repo.addRule(provider.ID, time.Monday, mustClock(t, "09:00"), mustClock(t, "10:30"))

	av := NewAvailability(repo)
	slots, err := av.AvailableSlots(context.Background(), provider.ID, monday)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "09:45"}, slotStrings(slots))
}

func TestAvailableSlots_NoRulesForDay(t *testing.T) {
	repo := newMemRepo()
	provider := repo.addProvider(Provider{SlotDurationMinutes: 30})
	repo.addRule(provider.ID, time.Tuesday, mustClock(t, "09:00"), mustClock(t, "12:00"))

	av := NewAvailability(repo)
	slots, err := av.AvailableSlots(context.Background(), provider.ID, monday)
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestAvailableSlots_Idempotent(t *testing.T) {
	repo := newMemRepo()
	provider := repo.addProvider(Provider{SlotDurationMinutes: 20})
	repo.addRule(provider.ID, time.Monday, mustClock(t, "08:00"), mustClock(t, "12:00"))
	repo.addBlock(provider.ID, monday, mustClock(t, "09:00"), mustClock(t, "09:40"), "rounds")

	av := NewAvailability(repo)
	first, err := av.AvailableSlots(context.Background(), provider.ID, monday)
	require.NoError(t, err)
	second, err := av.AvailableSlots(context.Background(), provider.ID, monday)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAvailableSlots_UnknownProvider(t *testing.T) {
	av := NewAvailability(newMemRepo())
	_, err := av.AvailableSlots(context.Background(), uuid.New(), monday)
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestClassify(t *testing.T) {
	repo := newMemRepo()
	provider := repo.addProvider(Provider{SlotDurationMinutes: 30})
	patient := repo.addPatient(Patient{})
	repo.addRule(provider.ID, time.Monday, mustClock(t, "09:00"), mustClock(t, "12:00"))

	appt, err := repo.CreateAppointment(context.Background(), &Appointment{
		ID: uuid.New(), PatientID: patient.ID, ProviderID: provider.ID,
		Date: monday, Start: mustClock(t, "10:00"), Status: StatusScheduled,
	})
	require.NoError(t, err)

	av := NewAvailability(repo)

	tests := []struct {
		name    string
		start   string
		exclude uuid.UUID
		want    SlotState
	}{
		{"free slot", "09:00", uuid.Nil, SlotFree},
		{"taken slot", "10:00", uuid.Nil, SlotTaken},
		{"taken slot excluding itself", "10:00", appt.ID, SlotFree},
		{"off-grid time", "10:15", uuid.Nil, SlotOutsideHours},
		{"after hours", "18:00", uuid.Nil, SlotOutsideHours},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, err := av.Classify(context.Background(), provider.ID, monday, mustClock(t, tt.start), tt.exclude)
			require.NoError(t, err)
			assert.Equal(t, tt.want, state)
		})
	}
}
