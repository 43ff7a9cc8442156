package repositories

import (
	"context"
	"time"

	domain "github.com/workshoplane/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for wiring.
type Registry interface {
	Close(ctx context.Context) error

	Appointments() AppointmentRepository
	Orders() OrderRepository
	Counters() CounterRepository
	Directory() DirectoryRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ScheduleRequest carries everything needed to book an appointment atomically.
// CandidateOrder is used only when no open order exists for the exact
// (workshop, vehicle, driver) triple; its ID and code must already be generated.
type ScheduleRequest struct {
	Appointment    domain.Appointment
	WorkshopID     int64
	VehicleID      int64
	DriverID       int64
	CandidateOrder domain.Order
}

// ScheduleResult reports the booked appointment and the order it resolved to.
type ScheduleResult struct {
	Appointment  domain.Appointment
	Order        domain.Order
	OrderCreated bool
}

// AppointmentRepository persists appointments and runs the transactional
// booking operations that enforce slot exclusivity per workshop.
type AppointmentRepository interface {
	// Schedule books the appointment inside one transaction: it resolves or
	// creates the open order for the (workshop, vehicle, driver) triple,
	// rejects overlapping active slots in the workshop, and adjusts the
	// order's appointment counter.
	Schedule(ctx context.Context, req ScheduleRequest) (ScheduleResult, error)

	// ScheduleOnOrder books the appointment directly onto an existing open
	// order, running the same overlap check against the order's workshop.
	ScheduleOnOrder(ctx context.Context, orderID string, appointment domain.Appointment) (ScheduleResult, error)

	// Reschedule moves the appointment to a new slot, re-running the overlap
	// check against the workshop's active bookings (excluding itself).
	Reschedule(ctx context.Context, appointmentID string, slot domain.Slot, now time.Time) (domain.Appointment, error)

	// UpdateStatus persists a non-cancelling status transition, re-checking
	// the lifecycle table against the stored status. Completion decrements
	// the order's appointment counter in the same transaction.
	UpdateStatus(ctx context.Context, appointmentID string, status domain.AppointmentStatus, now time.Time) (domain.Appointment, error)

	// Cancel marks the appointment cancelled and decrements its order's
	// appointment counter in the same transaction, freeing the slot.
	Cancel(ctx context.Context, appointmentID string, now time.Time) (domain.Appointment, error)

	// Relink repoints the appointment at another open order in the same
	// workshop. Neither order's counter is touched; callers reconcile
	// counters themselves when they care.
	Relink(ctx context.Context, appointmentID string, orderID string, now time.Time) (domain.Appointment, error)

	AppendNote(ctx context.Context, appointmentID string, note domain.Note, now time.Time) (domain.Appointment, error)
	FindByID(ctx context.Context, appointmentID string) (domain.Appointment, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Appointment, error)
	ListByWorkshop(ctx context.Context, workshopID int64, window domain.Slot) ([]domain.Appointment, error)
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	WorkshopID int64
	VehicleID  int64
	Status     domain.OrderStatus
	Limit      int
}

// OrderRepository persists orders and their lifecycle transitions.
type OrderRepository interface {
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByCode(ctx context.Context, code string) (domain.Order, error)
	FindOpen(ctx context.Context, workshopID int64, vehicleID int64, driverID int64) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) ([]domain.Order, error)

	// Open inserts a new open order, rejecting a booking code already in use.
	Open(ctx context.Context, order domain.Order) (domain.Order, error)

	// Close transitions the order to closed, rejecting the transition while
	// its appointment counter is non-zero.
	Close(ctx context.Context, orderID string, now time.Time) (domain.Order, error)
}

// CounterRepository provides transaction-safe sequence numbers for order codes.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// DirectoryRepository resolves workshop, vehicle, and driver references from
// the fleet directory, including the ownership relation used for link
// validation.
type DirectoryRepository interface {
	Workshop(ctx context.Context, id int64) (domain.WorkshopRef, error)
	Vehicle(ctx context.Context, id int64) (domain.VehicleRef, error)
	Driver(ctx context.Context, id int64) (domain.DriverRef, error)
	DriverOperatesVehicle(ctx context.Context, driverID int64, vehicleID int64) (bool, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
