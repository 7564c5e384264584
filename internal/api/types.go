package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/medagenda/clinic-scheduling/internal/scheduling"
)

type BookAppointmentRequest struct {
	PatientID  string  `json:"patient_id"`
	ProviderID string  `json:"provider_id"`
	Date       string  `json:"date"` // YYYY-MM-DD
	Time       string  `json:"time"` // HH:MM
	Reason     *string `json:"reason,omitempty"`
}

type CancelAppointmentRequest struct {
	Reason *string `json:"reason,omitempty"`
}

type RescheduleAppointmentRequest struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

type MarkAttendanceRequest struct {
	Outcome string `json:"outcome"` // completed | no_show
}

type WorkingHoursRequest struct {
	Weekday int    `json:"weekday"` // 0 = Sunday .. 6 = Saturday
	Start   string `json:"start"`
	End     string `json:"end"`
}

type BlockedIntervalRequest struct {
	Date   string `json:"date"`
	Start  string `json:"start"`
	End    string `json:"end"`
	Reason string `json:"reason"`
}

type AppointmentResponse struct {
	ID              uuid.UUID  `json:"id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	ProviderID      uuid.UUID  `json:"provider_id"`
	Date            string     `json:"date"`
	Time            string     `json:"time"`
	Status          string     `json:"status"`
	Reason          *string    `json:"reason,omitempty"`
	CanceledAt      *time.Time `json:"canceled_at,omitempty"`
	CancelReason    *string    `json:"cancel_reason,omitempty"`
	RescheduledFrom *time.Time `json:"rescheduled_from,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func toAppointmentResponse(a *scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		ProviderID:      a.ProviderID,
		Date:            a.Date.Format("2006-01-02"),
		Time:            a.Start.String(),
		Status:          string(a.Status),
		Reason:          a.Reason,
		CanceledAt:      a.CanceledAt,
		CancelReason:    a.CancelReason,
		RescheduledFrom: a.RescheduledFrom,
		CreatedAt:       a.CreatedAt,
	}
}

type PatientResponse struct {
	ID                  uuid.UUID `json:"id"`
	Name                string    `json:"name"`
	ConsecutiveAbsences int       `json:"consecutive_absences"`
	Blocked             bool      `json:"blocked"`
}

func toPatientResponse(p *scheduling.Patient) PatientResponse {
	return PatientResponse{
		ID:                  p.ID,
		Name:                p.Name,
		ConsecutiveAbsences: p.ConsecutiveAbsences,
		Blocked:             p.Blocked,
	}
}

type SlotsResponse struct {
	ProviderID uuid.UUID `json:"provider_id"`
	Date       string    `json:"date"`
	Slots      []string  `json:"slots"`
}

type WorkingHoursResponse struct {
	ID      uuid.UUID `json:"id"`
	Weekday int       `json:"weekday"`
	Start   string    `json:"start"`
	End     string    `json:"end"`
}

type BlockedIntervalResponse struct {
	ID     uuid.UUID `json:"id"`
	Date   string    `json:"date"`
	Start  string    `json:"start"`
	End    string    `json:"end"`
	Reason string    `json:"reason"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
