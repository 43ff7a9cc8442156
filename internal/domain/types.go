package domain

import (
	"fmt"
	"strings"
	"time"
)

// AppointmentStatus enumerates the lifecycle states of a service appointment.
type AppointmentStatus string

const (
	// AppointmentStatusPending is the entry state of every appointment.
	AppointmentStatusPending AppointmentStatus = "pending"
	// AppointmentStatusConfirmed marks an appointment accepted by the workshop.
	AppointmentStatusConfirmed AppointmentStatus = "confirmed"
	// AppointmentStatusInProgress marks an appointment being worked on.
	AppointmentStatusInProgress AppointmentStatus = "in_progress"
	// AppointmentStatusCompleted is a terminal state; no further transitions.
	AppointmentStatusCompleted AppointmentStatus = "completed"
	// AppointmentStatusCancelled is a terminal state reachable from any non-terminal state.
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
)

// Terminal reports whether no further lifecycle transitions are allowed.
func (s AppointmentStatus) Terminal() bool {
	return s == AppointmentStatusCompleted || s == AppointmentStatusCancelled
}

// Active reports whether the appointment still occupies workshop capacity.
// Cancelled appointments never block other bookings.
func (s AppointmentStatus) Active() bool {
	return s != AppointmentStatusCancelled
}

// appointmentTransitions is the only source of truth for legal lifecycle
// moves. Cancellation is reachable from every non-terminal state.
var appointmentTransitions = map[AppointmentStatus][]AppointmentStatus{
	AppointmentStatusPending:    {AppointmentStatusConfirmed, AppointmentStatusCancelled},
	AppointmentStatusConfirmed:  {AppointmentStatusInProgress, AppointmentStatusCancelled},
	AppointmentStatusInProgress: {AppointmentStatusCompleted, AppointmentStatusCancelled},
}

// CanTransition reports whether the lifecycle permits moving from one status
// to another. Terminal states permit nothing.
func CanTransition(from, to AppointmentStatus) bool {
	for _, allowed := range appointmentTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// OrderStatus enumerates the lifecycle states of a work order.
type OrderStatus string

const (
	// OrderStatusOpen is the only entry state; open orders accept appointments.
	OrderStatusOpen OrderStatus = "open"
	// OrderStatusClosed is terminal; there is no reopen operation.
	OrderStatusClosed OrderStatus = "closed"
)

// WorkshopRef identifies a workshop together with a display label denormalised
// at creation time. The label is a stale cache, never re-synced.
type WorkshopRef struct {
	ID          int64
	DisplayName string
}

// NewWorkshopRef validates and constructs a workshop reference.
func NewWorkshopRef(id int64, displayName string) (WorkshopRef, error) {
	if id <= 0 {
		return WorkshopRef{}, fmt.Errorf("workshop ref: id must be positive, got %d", id)
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return WorkshopRef{}, fmt.Errorf("workshop ref %d: display name is required", id)
	}
	return WorkshopRef{ID: id, DisplayName: displayName}, nil
}

// Equals compares by identity only; display labels are not part of equality.
func (r WorkshopRef) Equals(other WorkshopRef) bool { return r.ID == other.ID }

// VehicleRef identifies a vehicle together with a denormalised display label.
type VehicleRef struct {
	ID          int64
	DisplayName string
}

// NewVehicleRef validates and constructs a vehicle reference.
func NewVehicleRef(id int64, displayName string) (VehicleRef, error) {
	if id <= 0 {
		return VehicleRef{}, fmt.Errorf("vehicle ref: id must be positive, got %d", id)
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return VehicleRef{}, fmt.Errorf("vehicle ref %d: display name is required", id)
	}
	return VehicleRef{ID: id, DisplayName: displayName}, nil
}

// Equals compares by identity only.
func (r VehicleRef) Equals(other VehicleRef) bool { return r.ID == other.ID }

// DriverRef identifies a driver together with a denormalised display label.
type DriverRef struct {
	ID          int64
	DisplayName string
}

// NewDriverRef validates and constructs a driver reference.
func NewDriverRef(id int64, displayName string) (DriverRef, error) {
	if id <= 0 {
		return DriverRef{}, fmt.Errorf("driver ref: id must be positive, got %d", id)
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return DriverRef{}, fmt.Errorf("driver ref %d: display name is required", id)
	}
	return DriverRef{ID: id, DisplayName: displayName}, nil
}

// Equals compares by identity only.
func (r DriverRef) Equals(other DriverRef) bool { return r.ID == other.ID }

// OrderCode is a booking code meaningful only relative to its issuing workshop.
type OrderCode struct {
	Value      string
	WorkshopID int64
}

// NewOrderCode validates and constructs an order code.
func NewOrderCode(value string, workshopID int64) (OrderCode, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return OrderCode{}, fmt.Errorf("order code: value is required")
	}
	if workshopID <= 0 {
		return OrderCode{}, fmt.Errorf("order code %q: issuing workshop id must be positive, got %d", value, workshopID)
	}
	return OrderCode{Value: value, WorkshopID: workshopID}, nil
}

// Note is a free-form annotation owned by its appointment.
type Note struct {
	Content   string
	AuthorID  int64
	CreatedAt time.Time
}

// NewNote validates and constructs an appointment note.
func NewNote(content string, authorID int64, createdAt time.Time) (Note, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Note{}, fmt.Errorf("note: content is required")
	}
	if authorID <= 0 {
		return Note{}, fmt.Errorf("note: author id must be positive, got %d", authorID)
	}
	return Note{Content: content, AuthorID: authorID, CreatedAt: createdAt.UTC()}, nil
}

// Appointment is a single scheduled service visit. Workshop, vehicle and
// driver identity is derived through the linked order, never stored here.
type Appointment struct {
	ID          string
	OrderID     string
	Status      AppointmentStatus
	Slot        Slot
	Notes       []Note
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CancelledAt *time.Time
}

// Order aggregates appointments sharing one workshop+vehicle+driver context.
// It keeps a counter instead of an appointment collection so the aggregate
// never cascades back into its members.
type Order struct {
	ID                string
	Code              OrderCode
	Status            OrderStatus
	Workshop          WorkshopRef
	Vehicle           VehicleRef
	Driver            DriverRef
	TotalAppointments int64
	OpenedAt          time.Time
	ClosedAt          *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Health statuses reported by dependency probes.
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// SystemHealthCheck captures the outcome of a single dependency probe.
type SystemHealthCheck struct {
	Status    string
	LatencyMS int64
	Error     string
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency checks with build metadata.
type SystemHealthReport struct {
	Status      string
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
	Checks      map[string]SystemHealthCheck
}
