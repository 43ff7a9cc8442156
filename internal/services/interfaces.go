package services

import (
	"context"
	"time"

	domain "github.com/workshoplane/api/internal/domain"
	"github.com/workshoplane/api/internal/repositories"
)

// DomainEvent captures metadata for emitted scheduling domain events.
type DomainEvent struct {
	Type          string         `json:"type"`
	OccurredAt    time.Time      `json:"occurredAt"`
	WorkshopID    int64          `json:"workshopId,omitempty"`
	OrderID       string         `json:"orderId,omitempty"`
	AppointmentID string         `json:"appointmentId,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// EventPublisher delivers scheduling domain events to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event DomainEvent) error
}

// ScheduleAppointmentCommand books a new appointment. The order is resolved
// from the workshop and vehicle: the open order is reused when one exists,
// otherwise a new order is opened with a generated booking code.
type ScheduleAppointmentCommand struct {
	WorkshopID int64
	VehicleID  int64
	DriverID   int64
	StartAt    time.Time
	EndAt      time.Time
}

// ScheduleAppointmentResult reports the booked appointment and resolved order.
type ScheduleAppointmentResult struct {
	Appointment  domain.Appointment
	Order        domain.Order
	OrderCreated bool
}

// RescheduleAppointmentCommand moves an existing appointment to a new slot.
type RescheduleAppointmentCommand struct {
	AppointmentID string
	StartAt       time.Time
	EndAt         time.Time
}

// UpdateAppointmentStatusCommand requests a lifecycle transition.
type UpdateAppointmentStatusCommand struct {
	AppointmentID string
	Status        domain.AppointmentStatus
}

// StatusChangeResult reports the appointment after a transition request.
// Transitioned is false when the appointment was already in the requested
// status and the request was a no-op.
type StatusChangeResult struct {
	Appointment  domain.Appointment
	Transitioned bool
}

// AppendNoteCommand attaches a note to an appointment.
type AppendNoteCommand struct {
	AppointmentID string
	Content       string
	AuthorID      int64
}

// RelinkAppointmentCommand moves an appointment onto another order in the
// same workshop. The target is named either by order id or by booking code;
// the code wins when both are present.
type RelinkAppointmentCommand struct {
	AppointmentID string
	OrderID       string
	OrderCode     string
}

// AddAppointmentToOrderCommand books an appointment directly onto a known
// open order, bypassing the find-or-create resolver.
type AddAppointmentToOrderCommand struct {
	OrderID string
	StartAt time.Time
	EndAt   time.Time
}

// AppointmentListFilter narrows workshop appointment listings to a window.
type AppointmentListFilter struct {
	WorkshopID int64
	From       time.Time
	To         time.Time
}

// SchedulingService owns the appointment lifecycle: booking with conflict
// detection, order resolution, status transitions, and notes.
type SchedulingService interface {
	Schedule(ctx context.Context, cmd ScheduleAppointmentCommand) (ScheduleAppointmentResult, error)
	AddToOrder(ctx context.Context, cmd AddAppointmentToOrderCommand) (ScheduleAppointmentResult, error)
	Reschedule(ctx context.Context, cmd RescheduleAppointmentCommand) (domain.Appointment, error)
	UpdateStatus(ctx context.Context, cmd UpdateAppointmentStatusCommand) (StatusChangeResult, error)
	AppendNote(ctx context.Context, cmd AppendNoteCommand) (domain.Appointment, error)
	Relink(ctx context.Context, cmd RelinkAppointmentCommand) (domain.Appointment, error)
	GetAppointment(ctx context.Context, appointmentID string) (domain.Appointment, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Appointment, error)
	ListByWorkshop(ctx context.Context, filter AppointmentListFilter) ([]domain.Appointment, error)
}

// CloseOrderCommand closes an order once all its appointments are settled.
type CloseOrderCommand struct {
	OrderID string
}

// OpenOrderCommand opens an order with a caller-supplied booking code.
// OpenedAt defaults to the current time when zero.
type OpenOrderCommand struct {
	WorkshopID int64
	VehicleID  int64
	DriverID   int64
	Code       string
	OpenedAt   time.Time
}

// OrderListFilter narrows order listings.
type OrderListFilter = repositories.OrderListFilter

// OrderService exposes the read side of orders plus the open and close
// transitions. Orders are also opened implicitly by SchedulingService.Schedule
// when no open order exists for the vehicle.
type OrderService interface {
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	GetByCode(ctx context.Context, code string) (domain.Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) ([]domain.Order, error)
	OpenOrder(ctx context.Context, cmd OpenOrderCommand) (domain.Order, error)
	CloseOrder(ctx context.Context, cmd CloseOrderCommand) (domain.Order, error)
}

// SchedulingFacade is the read-only contract other bounded contexts consume
// instead of coupling to the aggregates directly.
type SchedulingFacade interface {
	AppointmentExists(ctx context.Context, appointmentID string) (bool, error)
	OrderExists(ctx context.Context, orderID string) (bool, error)
	AppointmentStatus(ctx context.Context, appointmentID string) (domain.AppointmentStatus, error)
	OrderStatus(ctx context.Context, orderID string) (domain.OrderStatus, error)
}

// SystemHealthReport aliases the domain health report for transport layers.
type SystemHealthReport = domain.SystemHealthReport

// SystemService aggregates utility endpoints such as health reports.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}
