package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medagenda/clinic-scheduling/internal/scheduling"
)

// SchedulingService is the engine surface the HTTP layer consumes;
// *scheduling.Service implements it.
type SchedulingService interface {
	AvailableSlots(ctx context.Context, providerID uuid.UUID, date time.Time) ([]scheduling.ClockTime, error)
	Book(ctx context.Context, patientID, providerID uuid.UUID, date time.Time, start scheduling.ClockTime, reason *string) (*scheduling.Appointment, error)
	Cancel(ctx context.Context, appointmentID uuid.UUID, actor scheduling.Actor, reason *string) (*scheduling.Appointment, error)
	Reschedule(ctx context.Context, appointmentID uuid.UUID, actor scheduling.Actor, newDate time.Time, newStart scheduling.ClockTime) (*scheduling.Appointment, error)
	Confirm(ctx context.Context, appointmentID uuid.UUID, actor scheduling.Actor) (*scheduling.Appointment, error)
	MarkAttendance(ctx context.Context, appointmentID uuid.UUID, actor scheduling.Actor, outcome scheduling.AttendanceOutcome) (*scheduling.Appointment, error)
	BlockPatient(ctx context.Context, patientID uuid.UUID, actor scheduling.Actor) (*scheduling.Patient, error)
	UnblockPatient(ctx context.Context, patientID uuid.UUID, actor scheduling.Actor) (*scheduling.Patient, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]scheduling.Appointment, error)
	AddWorkingHoursRule(ctx context.Context, providerID uuid.UUID, weekday time.Weekday, start, end scheduling.ClockTime) (*scheduling.WorkingHoursRule, error)
	ListWorkingHours(ctx context.Context, providerID uuid.UUID) ([]scheduling.WorkingHoursRule, error)
	AddBlockedInterval(ctx context.Context, providerID uuid.UUID, date time.Time, start, end scheduling.ClockTime, reason string) (*scheduling.BlockedInterval, error)
	ListBlockedIntervals(ctx context.Context, providerID uuid.UUID, date time.Time) ([]scheduling.BlockedInterval, error)
}

func listSlotsHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := parseIDParam(w, r, "id", "provider_id")
		if !ok {
			return
		}

		date, err := scheduling.ParseDate(r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		slots, err := svc.AvailableSlots(r.Context(), providerID, date)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		out := make([]string, 0, len(slots))
		for _, s := range slots {
			out = append(out, s.String())
		}

		writeJSON(w, http.StatusOK, SlotsResponse{
			ProviderID: providerID,
			Date:       date.Format("2006-01-02"),
			Slots:      out,
		})
	}
}

func bookAppointmentHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		providerID, err := uuid.Parse(req.ProviderID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
			return
		}

		date, start, ok := parseDateTime(w, req.Date, req.Time)
		if !ok {
			return
		}

		appt, err := svc.Book(r.Context(), patientID, providerID, date, start, req.Reason)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id", "appointment_id")
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listPatientAppointmentsHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := parseIDParam(w, r, "id", "patient_id")
		if !ok {
			return
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		appts, err := svc.ListAppointmentsByPatient(r.Context(), patientID, limit, offset)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		out := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			out = append(out, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func cancelAppointmentHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id", "appointment_id")
		if !ok {
			return
		}
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		var req CancelAppointmentRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
				return
			}
		}

		appt, err := svc.Cancel(r.Context(), id, actor, req.Reason)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func rescheduleAppointmentHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id", "appointment_id")
		if !ok {
			return
		}
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		var req RescheduleAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		date, start, ok := parseDateTime(w, req.Date, req.Time)
		if !ok {
			return
		}

		appt, err := svc.Reschedule(r.Context(), id, actor, date, start)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func confirmAppointmentHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id", "appointment_id")
		if !ok {
			return
		}
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		appt, err := svc.Confirm(r.Context(), id, actor)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func markAttendanceHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id", "appointment_id")
		if !ok {
			return
		}
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		var req MarkAttendanceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		outcome := scheduling.AttendanceOutcome(req.Outcome)
		if outcome != scheduling.OutcomeCompleted && outcome != scheduling.OutcomeNoShow {
			writeError(w, http.StatusBadRequest, "invalid_outcome", "outcome must be completed or no_show")
			return
		}

		appt, err := svc.MarkAttendance(r.Context(), id, actor, outcome)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func blockPatientHandler(svc SchedulingService, block bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id", "patient_id")
		if !ok {
			return
		}
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		var patient *scheduling.Patient
		var err error
		if block {
			patient, err = svc.BlockPatient(r.Context(), id, actor)
		} else {
			patient, err = svc.UnblockPatient(r.Context(), id, actor)
		}
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toPatientResponse(patient))
	}
}

func addWorkingHoursHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := parseIDParam(w, r, "id", "provider_id")
		if !ok {
			return
		}

		var req WorkingHoursRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		start, err := scheduling.ParseClockTime(req.Start)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_time", "start must be HH:MM")
			return
		}
		end, err := scheduling.ParseClockTime(req.End)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_time", "end must be HH:MM")
			return
		}

		rule, err := svc.AddWorkingHoursRule(r.Context(), providerID, time.Weekday(req.Weekday), start, end)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, WorkingHoursResponse{
			ID:      rule.ID,
			Weekday: int(rule.Weekday),
			Start:   rule.Start.String(),
			End:     rule.End.String(),
		})
	}
}

func listWorkingHoursHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := parseIDParam(w, r, "id", "provider_id")
		if !ok {
			return
		}

		rules, err := svc.ListWorkingHours(r.Context(), providerID)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		out := make([]WorkingHoursResponse, 0, len(rules))
		for _, rule := range rules {
			out = append(out, WorkingHoursResponse{
				ID:      rule.ID,
				Weekday: int(rule.Weekday),
				Start:   rule.Start.String(),
				End:     rule.End.String(),
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func addBlockedIntervalHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := parseIDParam(w, r, "id", "provider_id")
		if !ok {
			return
		}

		var req BlockedIntervalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		date, start, ok := parseDateTime(w, req.Date, req.Start)
		if !ok {
			return
		}
		end, err := scheduling.ParseClockTime(req.End)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_time", "end must be HH:MM")
			return
		}

		iv, err := svc.AddBlockedInterval(r.Context(), providerID, date, start, end, req.Reason)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, BlockedIntervalResponse{
			ID:     iv.ID,
			Date:   iv.Date.Format("2006-01-02"),
			Start:  iv.Start.String(),
			End:    iv.End.String(),
			Reason: iv.Reason,
		})
	}
}

func listBlockedIntervalsHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := parseIDParam(w, r, "id", "provider_id")
		if !ok {
			return
		}

		date, err := scheduling.ParseDate(r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		ivs, err := svc.ListBlockedIntervals(r.Context(), providerID, date)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		out := make([]BlockedIntervalResponse, 0, len(ivs))
		for _, iv := range ivs {
			out = append(out, BlockedIntervalResponse{
				ID:     iv.ID,
				Date:   iv.Date.Format("2006-01-02"),
				Start:  iv.Start.String(),
				End:    iv.End.String(),
				Reason: iv.Reason,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// Helpers

func parseIDParam(w http.ResponseWriter, r *http.Request, param, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseDateTime(w http.ResponseWriter, dateStr, timeStr string) (time.Time, scheduling.ClockTime, bool) {
	date, err := scheduling.ParseDate(dateStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return time.Time{}, 0, false
	}
	start, err := scheduling.ParseClockTime(timeStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_time", "time must be HH:MM")
		return time.Time{}, 0, false
	}
	return date, start, true
}

func requireActor(w http.ResponseWriter, r *http.Request) (scheduling.Actor, bool) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_actor", "X-Actor-ID and X-Actor-Role headers are required")
		return scheduling.Actor{}, false
	}
	return actor, true
}

func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduling.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, scheduling.ErrProviderNotFound):
		writeError(w, http.StatusNotFound, "provider_not_found", err.Error())
	case errors.Is(err, scheduling.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, scheduling.ErrPatientBlocked):
		writeError(w, http.StatusForbidden, "patient_blocked", err.Error())
	case errors.Is(err, scheduling.ErrNotOwner):
		writeError(w, http.StatusForbidden, "not_owner", err.Error())
	case errors.Is(err, scheduling.ErrBookingLimitExceeded):
		writeError(w, http.StatusUnprocessableEntity, "booking_limit_exceeded", err.Error())
	case errors.Is(err, scheduling.ErrOutsideWorkingHours):
		writeError(w, http.StatusUnprocessableEntity, "outside_working_hours", err.Error())
	case errors.Is(err, scheduling.ErrPastDateTime):
		writeError(w, http.StatusUnprocessableEntity, "past_date_time", err.Error())
	case errors.Is(err, scheduling.ErrPastDate):
		writeError(w, http.StatusUnprocessableEntity, "past_date", err.Error())
	case errors.Is(err, scheduling.ErrLeadTimeViolation):
		writeError(w, http.StatusUnprocessableEntity, "lead_time_violation", err.Error())
	case errors.Is(err, scheduling.ErrInvalidTimeRange):
		writeError(w, http.StatusUnprocessableEntity, "invalid_time_range", err.Error())
	case errors.Is(err, scheduling.ErrSlotConflict):
		writeError(w, http.StatusConflict, "slot_conflict", err.Error())
	case errors.Is(err, scheduling.ErrSlotBeingBooked):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, scheduling.ErrAlreadyCanceled):
		writeError(w, http.StatusConflict, "already_canceled", err.Error())
	case errors.Is(err, scheduling.ErrAlreadyCompleted):
		writeError(w, http.StatusConflict, "already_completed", err.Error())
	case errors.Is(err, scheduling.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
