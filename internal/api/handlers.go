package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/dispatch"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

const (
	headerActorRole = "X-Actor-Role"
	headerActorID   = "X-Actor-ID"
)

var errMissingActor = errors.New("missing actor headers")

type handlers struct {
	svc        *appointment.Service
	dispatcher *dispatch.Dispatcher
	logger     *zap.Logger
}

func actorFromRequest(r *http.Request) (dispatch.Actor, error) {
	actor := dispatch.Actor{
		Role: dispatch.Role(r.Header.Get(headerActorRole)),
		ID:   r.Header.Get(headerActorID),
	}
	if actor.ID == "" || !actor.Role.Valid() {
		return dispatch.Actor{}, errMissingActor
	}
	return actor, nil
}

// run executes cmd for the request's actor and writes the outcome.
func (h *handlers) run(w http.ResponseWriter, r *http.Request, cmd dispatch.Command, okStatus int) {
	actor, err := actorFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing_actor", "X-Actor-Role and X-Actor-ID are required")
		return
	}

	appt, err := h.dispatcher.Dispatch(r.Context(), actor, cmd)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if appt == nil {
		w.WriteHeader(okStatus)
		return
	}
	writeJSON(w, okStatus, toAppointmentResponse(appt))
}

// -- Slots --

func (h *handlers) listSlots(w http.ResponseWriter, r *http.Request) {
	doctorID := chi.URLParam(r, "doctorID")
	if err := h.svc.Refresh(r.Context()); err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SlotsResponse{DoctorID: doctorID, Slots: h.svc.ListSlots(doctorID)})
}

func (h *handlers) addSlot(w http.ResponseWriter, r *http.Request) {
	var req SlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	h.run(w, r, dispatch.AddSlot{DoctorID: chi.URLParam(r, "doctorID"), At: req.At}, http.StatusCreated)
}

func (h *handlers) removeSlot(w http.ResponseWriter, r *http.Request) {
	at, err := time.Parse(time.RFC3339, r.URL.Query().Get("at"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_time", "at must be an RFC3339 timestamp")
		return
	}
	h.run(w, r, dispatch.RemoveSlot{DoctorID: chi.URLParam(r, "doctorID"), At: at}, http.StatusNoContent)
}

// -- Appointments --

func (h *handlers) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	h.run(w, r, dispatch.BookAppointment{PatientID: req.PatientID, DoctorID: req.DoctorID, At: req.At}, http.StatusCreated)
}

func (h *handlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing_actor", "X-Actor-Role and X-Actor-ID are required")
		return
	}

	q := r.URL.Query()
	f := appointment.Filter{
		PatientID: q.Get("patient_id"),
		DoctorID:  q.Get("doctor_id"),
		Status:    appointment.AppointmentStatus(q.Get("status")),
	}
	if f.Status != "" && !f.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_status", fmt.Sprintf("unknown status %q", f.Status))
		return
	}
	switch actor.Role {
	case dispatch.RolePatient:
		f.PatientID = actor.ID
	case dispatch.RoleDoctor:
		f.DoctorID = actor.ID
	}

	if err := h.svc.Refresh(r.Context()); err != nil {
		h.handleError(w, r, err)
		return
	}
	appts := h.svc.Filter(f)
	resp := AppointmentListResponse{Appointments: make([]AppointmentResponse, 0, len(appts))}
	for i := range appts {
		resp.Appointments = append(resp.Appointments, toAppointmentResponse(&appts[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing_actor", "X-Actor-Role and X-Actor-ID are required")
		return
	}
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}

	if err := h.svc.Refresh(r.Context()); err != nil {
		h.handleError(w, r, err)
		return
	}
	appt, err := h.svc.FindByID(id)
	if err == nil && !visibleTo(actor, appt) {
		err = fmt.Errorf("%w: id %d", appointment.ErrAppointmentNotFound, id)
	}
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

// visibleTo hides other patients' and other doctors' appointments.
func visibleTo(actor dispatch.Actor, appt *appointment.Appointment) bool {
	switch actor.Role {
	case dispatch.RolePatient:
		return appt.PatientID == actor.ID
	case dispatch.RoleDoctor:
		return appt.DoctorID == actor.ID
	}
	return true
}

func (h *handlers) rescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}
	var req RescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	h.run(w, r, dispatch.RescheduleAppointment{AppointmentID: id, DoctorID: req.DoctorID, At: req.At}, http.StatusOK)
}

func (h *handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}
	// the body is optional
	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	h.run(w, r, dispatch.CancelAppointment{AppointmentID: id, PatientID: req.PatientID}, http.StatusOK)
}

func (h *handlers) approveAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}
	h.run(w, r, dispatch.ApproveAppointment{AppointmentID: id}, http.StatusOK)
}

func (h *handlers) recordOutcome(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}
	var req OutcomeBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	h.run(w, r, dispatch.RecordOutcome{AppointmentID: id, Outcome: req.toOutcome()}, http.StatusOK)
}

func appointmentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *handlers) handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, dispatch.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, appointment.ErrInvalidSlot):
		writeError(w, http.StatusBadRequest, "invalid_slot", err.Error())
	case errors.Is(err, appointment.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, appointment.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, appointment.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "schedule_busy", "schedule is being changed, please retry shortly")
	case appointment.IsPersistenceError(err), errors.Is(err, appointment.ErrNotLoaded):
		h.logger.Error("request failed on storage", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "change could not be saved, please retry")
	default:
		h.logger.Error("unexpected error", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
