package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/microcosm-cc/bluemonday"

	domain "github.com/workshoplane/api/internal/domain"
	"github.com/workshoplane/api/internal/platform/httpx"
	"github.com/workshoplane/api/internal/services"
)

const maxAppointmentBodySize = 16 * 1024

type scheduleAppointmentRequest struct {
	WorkshopID int64  `json:"workshop_id"`
	VehicleID  int64  `json:"vehicle_id"`
	DriverID   int64  `json:"driver_id"`
	StartAt    string `json:"start_at"`
	EndAt      string `json:"end_at"`
}

type rescheduleAppointmentRequest struct {
	StartAt string `json:"start_at"`
	EndAt   string `json:"end_at"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type relinkAppointmentRequest struct {
	OrderID   string `json:"order_id"`
	OrderCode string `json:"order_code"`
}

type appendNoteRequest struct {
	Content  string `json:"content"`
	AuthorID int64  `json:"author_id"`
}

type scheduleAppointmentResponse struct {
	Appointment  appointmentPayload `json:"appointment"`
	Order        orderPayload       `json:"order"`
	OrderCreated bool               `json:"order_created"`
}

type appointmentResponse struct {
	Appointment appointmentPayload `json:"appointment"`
}

type statusChangeResponse struct {
	Appointment appointmentPayload `json:"appointment"`
	Changed     bool               `json:"changed"`
}

// AppointmentHandlers exposes booking and lifecycle endpoints for appointments.
type AppointmentHandlers struct {
	scheduling services.SchedulingService
	sanitizer  *bluemonday.Policy
}

// NewAppointmentHandlers constructs a new AppointmentHandlers instance.
func NewAppointmentHandlers(scheduling services.SchedulingService) *AppointmentHandlers {
	return &AppointmentHandlers{
		scheduling: scheduling,
		sanitizer:  bluemonday.StrictPolicy(),
	}
}

// Routes registers the /appointments endpoints.
func (h *AppointmentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.schedule)
	r.Get("/{appointmentID}", h.getAppointment)
	r.Post("/{appointmentID}:reschedule", h.reschedule)
	r.Post("/{appointmentID}:status", h.updateStatus)
	r.Post("/{appointmentID}:relink", h.relink)
	r.Post("/{appointmentID}/notes", h.appendNote)
}

// WorkshopRoutes registers the /workshops endpoints served by this handler.
func (h *AppointmentHandlers) WorkshopRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{workshopID}/appointments", h.listByWorkshop)
}

func (h *AppointmentHandlers) schedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.scheduling == nil {
		httpx.WriteError(ctx, w, httpx.NewError("scheduling_unavailable", "scheduling service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req scheduleAppointmentRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	startAt, err := parseTimeParam(req.StartAt)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "start_at must be a valid RFC3339 timestamp", http.StatusBadRequest))
		return
	}
	endAt, err := parseTimeParam(req.EndAt)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "end_at must be a valid RFC3339 timestamp", http.StatusBadRequest))
		return
	}

	result, err := h.scheduling.Schedule(ctx, services.ScheduleAppointmentCommand{
		WorkshopID: req.WorkshopID,
		VehicleID:  req.VehicleID,
		DriverID:   req.DriverID,
		StartAt:    startAt,
		EndAt:      endAt,
	})
	if err != nil {
		writeSchedulingError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusCreated, scheduleAppointmentResponse{
		Appointment:  buildAppointmentPayload(result.Appointment),
		Order:        buildOrderPayload(result.Order),
		OrderCreated: result.OrderCreated,
	})
}

func (h *AppointmentHandlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appointmentID, ok := h.requireAppointmentID(w, r)
	if !ok {
		return
	}

	appointment, err := h.scheduling.GetAppointment(ctx, appointmentID)
	if err != nil {
		writeSchedulingError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, appointmentResponse{Appointment: buildAppointmentPayload(appointment)})
}

func (h *AppointmentHandlers) reschedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appointmentID, ok := h.requireAppointmentID(w, r)
	if !ok {
		return
	}

	var req rescheduleAppointmentRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	startAt, err := parseTimeParam(req.StartAt)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "start_at must be a valid RFC3339 timestamp", http.StatusBadRequest))
		return
	}
	endAt, err := parseTimeParam(req.EndAt)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "end_at must be a valid RFC3339 timestamp", http.StatusBadRequest))
		return
	}

	appointment, err := h.scheduling.Reschedule(ctx, services.RescheduleAppointmentCommand{
		AppointmentID: appointmentID,
		StartAt:       startAt,
		EndAt:         endAt,
	})
	if err != nil {
		writeSchedulingError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, appointmentResponse{Appointment: buildAppointmentPayload(appointment)})
}

func (h *AppointmentHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appointmentID, ok := h.requireAppointmentID(w, r)
	if !ok {
		return
	}

	var req updateStatusRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	status := domain.AppointmentStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if status == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is required", http.StatusBadRequest))
		return
	}

	result, err := h.scheduling.UpdateStatus(ctx, services.UpdateAppointmentStatusCommand{
		AppointmentID: appointmentID,
		Status:        status,
	})
	if err != nil {
		writeSchedulingError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusChangeResponse{
		Appointment: buildAppointmentPayload(result.Appointment),
		Changed:     result.Transitioned,
	})
}

func (h *AppointmentHandlers) relink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appointmentID, ok := h.requireAppointmentID(w, r)
	if !ok {
		return
	}

	var req relinkAppointmentRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	orderID := strings.TrimSpace(req.OrderID)
	orderCode := strings.TrimSpace(req.OrderCode)
	if orderID == "" && orderCode == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order_id or order_code is required", http.StatusBadRequest))
		return
	}

	appointment, err := h.scheduling.Relink(ctx, services.RelinkAppointmentCommand{
		AppointmentID: appointmentID,
		OrderID:       orderID,
		OrderCode:     orderCode,
	})
	if err != nil {
		writeSchedulingError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, appointmentResponse{Appointment: buildAppointmentPayload(appointment)})
}

func (h *AppointmentHandlers) appendNote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appointmentID, ok := h.requireAppointmentID(w, r)
	if !ok {
		return
	}

	var req appendNoteRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	content := strings.TrimSpace(h.sanitizer.Sanitize(req.Content))
	if content == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "note content is required", http.StatusBadRequest))
		return
	}

	appointment, err := h.scheduling.AppendNote(ctx, services.AppendNoteCommand{
		AppointmentID: appointmentID,
		Content:       content,
		AuthorID:      req.AuthorID,
	})
	if err != nil {
		writeSchedulingError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, appointmentResponse{Appointment: buildAppointmentPayload(appointment)})
}

func (h *AppointmentHandlers) listByWorkshop(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.scheduling == nil {
		httpx.WriteError(ctx, w, httpx.NewError("scheduling_unavailable", "scheduling service unavailable", http.StatusServiceUnavailable))
		return
	}

	workshopID, err := parseID64(chi.URLParam(r, "workshopID"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "workshop id must be a positive integer", http.StatusBadRequest))
		return
	}

	query := r.URL.Query()
	var from, to time.Time
	if raw := strings.TrimSpace(query.Get("from")); raw != "" {
		if from, err = parseTimeParam(raw); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "from must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
	}
	if raw := strings.TrimSpace(query.Get("to")); raw != "" {
		if to, err = parseTimeParam(raw); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "to must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
	}

	appointments, err := h.scheduling.ListByWorkshop(ctx, services.AppointmentListFilter{
		WorkshopID: workshopID,
		From:       from,
		To:         to,
	})
	if err != nil {
		writeSchedulingError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, buildAppointmentListResponse(appointments))
}

func (h *AppointmentHandlers) requireAppointmentID(w http.ResponseWriter, r *http.Request) (string, bool) {
	ctx := r.Context()
	if h.scheduling == nil {
		httpx.WriteError(ctx, w, httpx.NewError("scheduling_unavailable", "scheduling service unavailable", http.StatusServiceUnavailable))
		return "", false
	}
	appointmentID := strings.TrimSpace(chi.URLParam(r, "appointmentID"))
	if appointmentID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "appointment id is required", http.StatusBadRequest))
		return "", false
	}
	return appointmentID, true
}

func (h *AppointmentHandlers) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxAppointmentBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if len(body) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func writeSchedulingError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrSchedulingInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrSchedulingNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("appointment_not_found", "appointment not found", http.StatusNotFound))
	case errors.Is(err, services.ErrSchedulingConflict):
		httpx.WriteError(ctx, w, httpx.NewError("slot_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrSchedulingInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_status_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrSchedulingLinkRejected):
		httpx.WriteError(ctx, w, httpx.NewError("link_rejected", err.Error(), http.StatusUnprocessableEntity))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("scheduling_error", "failed to process scheduling request", http.StatusInternalServerError))
	}
}
