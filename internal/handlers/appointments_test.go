package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	domain "github.com/workshoplane/api/internal/domain"
	"github.com/workshoplane/api/internal/services"
)

type stubSchedulingService struct {
	scheduleFn       func(ctx context.Context, cmd services.ScheduleAppointmentCommand) (services.ScheduleAppointmentResult, error)
	addToOrderFn     func(ctx context.Context, cmd services.AddAppointmentToOrderCommand) (services.ScheduleAppointmentResult, error)
	rescheduleFn     func(ctx context.Context, cmd services.RescheduleAppointmentCommand) (domain.Appointment, error)
	updateStatusFn   func(ctx context.Context, cmd services.UpdateAppointmentStatusCommand) (services.StatusChangeResult, error)
	appendNoteFn     func(ctx context.Context, cmd services.AppendNoteCommand) (domain.Appointment, error)
	relinkFn         func(ctx context.Context, cmd services.RelinkAppointmentCommand) (domain.Appointment, error)
	getFn            func(ctx context.Context, appointmentID string) (domain.Appointment, error)
	listByOrderFn    func(ctx context.Context, orderID string) ([]domain.Appointment, error)
	listByWorkshopFn func(ctx context.Context, filter services.AppointmentListFilter) ([]domain.Appointment, error)
}

func (s *stubSchedulingService) Schedule(ctx context.Context, cmd services.ScheduleAppointmentCommand) (services.ScheduleAppointmentResult, error) {
	if s.scheduleFn == nil {
		return services.ScheduleAppointmentResult{}, fmt.Errorf("schedule not stubbed")
	}
	return s.scheduleFn(ctx, cmd)
}

func (s *stubSchedulingService) AddToOrder(ctx context.Context, cmd services.AddAppointmentToOrderCommand) (services.ScheduleAppointmentResult, error) {
	if s.addToOrderFn == nil {
		return services.ScheduleAppointmentResult{}, fmt.Errorf("add to order not stubbed")
	}
	return s.addToOrderFn(ctx, cmd)
}

func (s *stubSchedulingService) Reschedule(ctx context.Context, cmd services.RescheduleAppointmentCommand) (domain.Appointment, error) {
	if s.rescheduleFn == nil {
		return domain.Appointment{}, fmt.Errorf("reschedule not stubbed")
	}
	return s.rescheduleFn(ctx, cmd)
}

func (s *stubSchedulingService) UpdateStatus(ctx context.Context, cmd services.UpdateAppointmentStatusCommand) (services.StatusChangeResult, error) {
	if s.updateStatusFn == nil {
		return services.StatusChangeResult{}, fmt.Errorf("update status not stubbed")
	}
	return s.updateStatusFn(ctx, cmd)
}

func (s *stubSchedulingService) AppendNote(ctx context.Context, cmd services.AppendNoteCommand) (domain.Appointment, error) {
	if s.appendNoteFn == nil {
		return domain.Appointment{}, fmt.Errorf("append note not stubbed")
	}
	return s.appendNoteFn(ctx, cmd)
}

func (s *stubSchedulingService) Relink(ctx context.Context, cmd services.RelinkAppointmentCommand) (domain.Appointment, error) {
	if s.relinkFn == nil {
		return domain.Appointment{}, fmt.Errorf("relink not stubbed")
	}
	return s.relinkFn(ctx, cmd)
}

func (s *stubSchedulingService) GetAppointment(ctx context.Context, appointmentID string) (domain.Appointment, error) {
	if s.getFn == nil {
		return domain.Appointment{}, fmt.Errorf("get not stubbed")
	}
	return s.getFn(ctx, appointmentID)
}

func (s *stubSchedulingService) ListByOrder(ctx context.Context, orderID string) ([]domain.Appointment, error) {
	if s.listByOrderFn == nil {
		return nil, fmt.Errorf("list by order not stubbed")
	}
	return s.listByOrderFn(ctx, orderID)
}

func (s *stubSchedulingService) ListByWorkshop(ctx context.Context, filter services.AppointmentListFilter) ([]domain.Appointment, error) {
	if s.listByWorkshopFn == nil {
		return nil, fmt.Errorf("list by workshop not stubbed")
	}
	return s.listByWorkshopFn(ctx, filter)
}

var _ services.SchedulingService = (*stubSchedulingService)(nil)

func newAppointmentRouter(scheduling services.SchedulingService) http.Handler {
	h := NewAppointmentHandlers(scheduling)
	return NewRouter(
		WithAppointmentRoutes(h.Routes),
		WithWorkshopRoutes(h.WorkshopRoutes),
	)
}

func sampleAppointment() domain.Appointment {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	slot, _ := domain.NewSlot(start, start.Add(time.Hour))
	return domain.Appointment{
		ID:        "apt_01",
		OrderID:   "ord_01",
		Status:    domain.AppointmentStatusPending,
		Slot:      slot,
		CreatedAt: start.Add(-24 * time.Hour),
		UpdatedAt: start.Add(-24 * time.Hour),
	}
}

func sampleOrder() domain.Order {
	code, _ := domain.NewOrderCode("WS1-2026-0001", 1)
	workshop, _ := domain.NewWorkshopRef(1, "Northside Truck Works")
	vehicle, _ := domain.NewVehicleRef(10, "Volvo FH16 AB-123")
	driver, _ := domain.NewDriverRef(100, "Riley Hammond")
	return domain.Order{
		ID:                "ord_01",
		Code:              code,
		Status:            domain.OrderStatusOpen,
		Workshop:          workshop,
		Vehicle:           vehicle,
		Driver:            driver,
		TotalAppointments: 1,
		OpenedAt:          time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC),
	}
}

func TestScheduleAppointmentEndpoint(t *testing.T) {
	var gotCmd services.ScheduleAppointmentCommand
	stub := &stubSchedulingService{
		scheduleFn: func(_ context.Context, cmd services.ScheduleAppointmentCommand) (services.ScheduleAppointmentResult, error) {
			gotCmd = cmd
			return services.ScheduleAppointmentResult{
				Appointment:  sampleAppointment(),
				Order:        sampleOrder(),
				OrderCreated: true,
			}, nil
		},
	}
	router := newAppointmentRouter(stub)

	body := `{"workshop_id":1,"vehicle_id":10,"driver_id":100,"start_at":"2026-03-10T09:00:00Z","end_at":"2026-03-10T10:00:00Z"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotCmd.WorkshopID != 1 || gotCmd.VehicleID != 10 || gotCmd.DriverID != 100 {
		t.Fatalf("unexpected command %+v", gotCmd)
	}
	if !gotCmd.StartAt.Equal(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start %s", gotCmd.StartAt)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created, _ := resp["order_created"].(bool); !created {
		t.Fatalf("expected order_created true: %v", resp)
	}
	order, _ := resp["order"].(map[string]any)
	if order["code"] != "WS1-2026-0001" {
		t.Fatalf("unexpected order payload %v", order)
	}
	appointment, _ := resp["appointment"].(map[string]any)
	if appointment["status"] != "pending" || appointment["order_id"] != "ord_01" {
		t.Fatalf("unexpected appointment payload %v", appointment)
	}
}

func TestScheduleAppointmentRejectsBadTimestamp(t *testing.T) {
	router := newAppointmentRouter(&stubSchedulingService{})

	body := `{"workshop_id":1,"vehicle_id":10,"driver_id":100,"start_at":"tomorrow","end_at":"2026-03-10T10:00:00Z"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestScheduleAppointmentMapsSlotConflict(t *testing.T) {
	stub := &stubSchedulingService{
		scheduleFn: func(context.Context, services.ScheduleAppointmentCommand) (services.ScheduleAppointmentResult, error) {
			return services.ScheduleAppointmentResult{}, fmt.Errorf("%w: slot taken", services.ErrSchedulingConflict)
		},
	}
	router := newAppointmentRouter(stub)

	body := `{"workshop_id":1,"vehicle_id":10,"driver_id":100,"start_at":"2026-03-10T09:00:00Z","end_at":"2026-03-10T10:00:00Z"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["error"] != "slot_conflict" {
		t.Fatalf("unexpected error code %v", resp["error"])
	}
}

func TestGetAppointmentNotFoundEndpoint(t *testing.T) {
	stub := &stubSchedulingService{
		getFn: func(context.Context, string) (domain.Appointment, error) {
			return domain.Appointment{}, fmt.Errorf("%w: apt_missing", services.ErrSchedulingNotFound)
		},
	}
	router := newAppointmentRouter(stub)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments/apt_missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestUpdateStatusMapsInvalidTransition(t *testing.T) {
	stub := &stubSchedulingService{
		updateStatusFn: func(context.Context, services.UpdateAppointmentStatusCommand) (services.StatusChangeResult, error) {
			return services.StatusChangeResult{}, fmt.Errorf("%w: pending -> completed", services.ErrSchedulingInvalidState)
		},
	}
	router := newAppointmentRouter(stub)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/apt_01:status", strings.NewReader(`{"status":"completed"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["error"] != "invalid_status_transition" {
		t.Fatalf("unexpected error code %v", resp["error"])
	}
}

func TestUpdateStatusNormalisesInput(t *testing.T) {
	var gotStatus domain.AppointmentStatus
	stub := &stubSchedulingService{
		updateStatusFn: func(_ context.Context, cmd services.UpdateAppointmentStatusCommand) (services.StatusChangeResult, error) {
			gotStatus = cmd.Status
			appointment := sampleAppointment()
			appointment.Status = cmd.Status
			return services.StatusChangeResult{Appointment: appointment, Transitioned: true}, nil
		},
	}
	router := newAppointmentRouter(stub)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/apt_01:status", strings.NewReader(`{"status":" Confirmed "}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotStatus != domain.AppointmentStatusConfirmed {
		t.Fatalf("expected normalised status, got %q", gotStatus)
	}
}

func TestAppendNoteStripsMarkup(t *testing.T) {
	var gotContent string
	stub := &stubSchedulingService{
		appendNoteFn: func(_ context.Context, cmd services.AppendNoteCommand) (domain.Appointment, error) {
			gotContent = cmd.Content
			return sampleAppointment(), nil
		},
	}
	router := newAppointmentRouter(stub)

	body := `{"content":"<script>alert(1)</script>Replace brake pads","author_id":100}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/apt_01/notes", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotContent != "Replace brake pads" {
		t.Fatalf("expected sanitised content, got %q", gotContent)
	}
}

func TestAppendNoteRejectsMarkupOnlyContent(t *testing.T) {
	router := newAppointmentRouter(&stubSchedulingService{})

	body := `{"content":"<b></b>","author_id":100}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/apt_01/notes", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRelinkForwardsOrderCode(t *testing.T) {
	var gotCmd services.RelinkAppointmentCommand
	stub := &stubSchedulingService{
		relinkFn: func(_ context.Context, cmd services.RelinkAppointmentCommand) (domain.Appointment, error) {
			gotCmd = cmd
			return sampleAppointment(), nil
		},
	}
	router := newAppointmentRouter(stub)

	body := `{"order_code":"WS1-2026-0002"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/apt_01:relink", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotCmd.OrderCode != "WS1-2026-0002" || gotCmd.OrderID != "" {
		t.Fatalf("unexpected command %+v", gotCmd)
	}
}

func TestRelinkMapsLinkRejected(t *testing.T) {
	stub := &stubSchedulingService{
		relinkFn: func(context.Context, services.RelinkAppointmentCommand) (domain.Appointment, error) {
			return domain.Appointment{}, fmt.Errorf("%w: orders belong to different workshops", services.ErrSchedulingLinkRejected)
		},
	}
	router := newAppointmentRouter(stub)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/apt_01:relink", strings.NewReader(`{"order_id":"ord_02"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestListWorkshopAppointmentsParsesWindow(t *testing.T) {
	var gotFilter services.AppointmentListFilter
	stub := &stubSchedulingService{
		listByWorkshopFn: func(_ context.Context, filter services.AppointmentListFilter) ([]domain.Appointment, error) {
			gotFilter = filter
			return []domain.Appointment{sampleAppointment()}, nil
		},
	}
	router := newAppointmentRouter(stub)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/workshops/1/appointments?from=2026-03-10T00:00:00Z&to=2026-03-11T00:00:00Z", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotFilter.WorkshopID != 1 {
		t.Fatalf("unexpected workshop id %d", gotFilter.WorkshopID)
	}
	if !gotFilter.From.Equal(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected window start %s", gotFilter.From)
	}

	var resp appointmentListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].ID != "apt_01" {
		t.Fatalf("unexpected items %+v", resp.Items)
	}
}

func TestListWorkshopAppointmentsRejectsBadID(t *testing.T) {
	router := newAppointmentRouter(&stubSchedulingService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/workshops/zero/appointments", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUnknownRouteReturnsJSONError(t *testing.T) {
	router := newAppointmentRouter(&stubSchedulingService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["error"] != "route_not_found" {
		t.Fatalf("unexpected error code %v", resp["error"])
	}
}
