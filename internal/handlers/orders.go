package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/workshoplane/api/internal/domain"
	"github.com/workshoplane/api/internal/platform/httpx"
	"github.com/workshoplane/api/internal/services"
)

const (
	defaultOrderListLimit = 20
	maxOrderListLimit     = 100
)

var validOrderStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusOpen:   {},
	domain.OrderStatusClosed: {},
}

type openOrderRequest struct {
	WorkshopID int64  `json:"workshop_id"`
	VehicleID  int64  `json:"vehicle_id"`
	DriverID   int64  `json:"driver_id"`
	Code       string `json:"code"`
	OpenedAt   string `json:"opened_at"`
}

type addOrderAppointmentRequest struct {
	StartAt string `json:"start_at"`
	EndAt   string `json:"end_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Items []orderPayload `json:"items"`
}

// OrderHandlers exposes order lookup and lifecycle endpoints.
type OrderHandlers struct {
	orders     services.OrderService
	scheduling services.SchedulingService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService, scheduling services.SchedulingService) *OrderHandlers {
	return &OrderHandlers{
		orders:     orders,
		scheduling: scheduling,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listOrders)
	r.Post("/", h.openOrder)
	r.Get("/code/{orderCode}", h.getByCode)
	r.Get("/{orderID}", h.getOrder)
	r.Get("/{orderID}/appointments", h.listAppointments)
	r.Post("/{orderID}/appointments", h.addAppointment)
	r.Post("/{orderID}:close", h.closeOrder)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	filter := services.OrderListFilter{Limit: defaultOrderListLimit}

	if raw := strings.TrimSpace(query.Get("workshop_id")); raw != "" {
		id, err := parseID64(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "workshop_id must be a positive integer", http.StatusBadRequest))
			return
		}
		filter.WorkshopID = id
	}
	if raw := strings.TrimSpace(query.Get("vehicle_id")); raw != "" {
		id, err := parseID64(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "vehicle_id must be a positive integer", http.StatusBadRequest))
			return
		}
		filter.VehicleID = id
	}
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status := domain.OrderStatus(strings.ToLower(raw))
		if _, ok := validOrderStatuses[status]; !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be open or closed", http.StatusBadRequest))
			return
		}
		filter.Status = status
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be an integer", http.StatusBadRequest))
			return
		}
		switch {
		case limit <= 0:
			filter.Limit = defaultOrderListLimit
		case limit > maxOrderListLimit:
			filter.Limit = maxOrderListLimit
		default:
			filter.Limit = limit
		}
	}

	orders, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		items = append(items, buildOrderPayload(order))
	}
	writeJSON(w, http.StatusOK, orderListResponse{Items: items})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := h.requireOrderID(w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) getByCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	code := strings.TrimSpace(chi.URLParam(r, "orderCode"))
	if code == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order code is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetByCode(ctx, code)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := h.requireOrderID(w, r)
	if !ok {
		return
	}
	if h.scheduling == nil {
		httpx.WriteError(ctx, w, httpx.NewError("scheduling_unavailable", "scheduling service unavailable", http.StatusServiceUnavailable))
		return
	}

	appointments, err := h.scheduling.ListByOrder(ctx, orderID)
	if err != nil {
		writeSchedulingError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, buildAppointmentListResponse(appointments))
}

func (h *OrderHandlers) openOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req openOrderRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	cmd := services.OpenOrderCommand{
		WorkshopID: req.WorkshopID,
		VehicleID:  req.VehicleID,
		DriverID:   req.DriverID,
		Code:       strings.TrimSpace(req.Code),
	}
	if raw := strings.TrimSpace(req.OpenedAt); raw != "" {
		openedAt, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "opened_at must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.OpenedAt = openedAt
	}

	order, err := h.orders.OpenOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) addAppointment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := h.requireOrderID(w, r)
	if !ok {
		return
	}
	if h.scheduling == nil {
		httpx.WriteError(ctx, w, httpx.NewError("scheduling_unavailable", "scheduling service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req addOrderAppointmentRequest
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

	result, err := h.scheduling.AddToOrder(ctx, services.AddAppointmentToOrderCommand{
		OrderID: orderID,
		StartAt: startAt,
		EndAt:   endAt,
	})
	if err != nil {
		writeSchedulingError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, scheduleAppointmentResponse{
		Appointment: buildAppointmentPayload(result.Appointment),
		Order:       buildOrderPayload(result.Order),
	})
}

func (h *OrderHandlers) closeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := h.requireOrderID(w, r)
	if !ok {
		return
	}

	order, err := h.orders.CloseOrder(ctx, services.CloseOrderCommand{OrderID: orderID})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) requireOrderID(w http.ResponseWriter, r *http.Request) (string, bool) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return "", false
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return "", false
	}
	return orderID, true
}

func (h *OrderHandlers) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
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

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderAlreadyClosed):
		httpx.WriteError(ctx, w, httpx.NewError("order_already_closed", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderNotClosable):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_closable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderDuplicateCode):
		httpx.WriteError(ctx, w, httpx.NewError("order_code_in_use", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
