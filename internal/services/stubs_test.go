package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	domain "github.com/workshoplane/api/internal/domain"
	"github.com/workshoplane/api/internal/repositories"
)

type stubRepoError struct {
	msg      string
	notFound bool
}

func (e *stubRepoError) Error() string       { return e.msg }
func (e *stubRepoError) IsNotFound() bool    { return e.notFound }
func (e *stubRepoError) IsConflict() bool    { return false }
func (e *stubRepoError) IsUnavailable() bool { return false }

func notFound(format string, args ...any) error {
	return &stubRepoError{msg: fmt.Sprintf(format, args...), notFound: true}
}

type storedAppointment struct {
	appointment domain.Appointment
	workshopID  int64
}

// memoryStore implements the booking repositories in memory with the same
// invariants the Firestore implementations enforce, so service tests can
// exercise end-to-end flows.
type memoryStore struct {
	appointments map[string]*storedAppointment
	orders       map[string]*domain.Order
	counters     map[string]int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		appointments: make(map[string]*storedAppointment),
		orders:       make(map[string]*domain.Order),
		counters:     make(map[string]int64),
	}
}

var (
	_ repositories.AppointmentRepository = (*memoryStore)(nil)
	_ repositories.CounterRepository     = (*memoryStore)(nil)
	_ repositories.OrderRepository       = orderStore{}
)

func (m *memoryStore) bookedSlots(workshopID int64) []domain.BookedSlot {
	var slots []domain.BookedSlot
	for id, stored := range m.appointments {
		if stored.workshopID != workshopID {
			continue
		}
		slots = append(slots, domain.BookedSlot{
			AppointmentID: id,
			Status:        stored.appointment.Status,
			Slot:          stored.appointment.Slot,
		})
	}
	return slots
}

func (m *memoryStore) Schedule(_ context.Context, req repositories.ScheduleRequest) (repositories.ScheduleResult, error) {
	var (
		order        *domain.Order
		orderCreated bool
	)
	for _, existing := range m.orders {
		if existing.Workshop.ID == req.WorkshopID && existing.Vehicle.ID == req.VehicleID &&
			existing.Driver.ID == req.DriverID && existing.Status == domain.OrderStatusOpen {
			order = existing
			break
		}
	}
	if order == nil {
		for _, existing := range m.orders {
			if existing.Code.Value == req.CandidateOrder.Code.Value {
				return repositories.ScheduleResult{}, repositories.NewSchedulingError(repositories.SchedulingErrorDuplicateCode, "duplicate code", nil)
			}
		}
		candidate := req.CandidateOrder
		m.orders[candidate.ID] = &candidate
		order = m.orders[candidate.ID]
		orderCreated = true
	}

	if conflict, found := domain.FindConflict(m.bookedSlots(req.WorkshopID), req.Appointment.Slot, ""); found {
		return repositories.ScheduleResult{}, repositories.NewSchedulingError(repositories.SchedulingErrorSlotConflict,
			fmt.Sprintf("slot overlaps appointment %s", conflict.AppointmentID), nil)
	}

	appointment := req.Appointment
	appointment.OrderID = order.ID
	order.TotalAppointments++
	m.appointments[appointment.ID] = &storedAppointment{appointment: appointment, workshopID: req.WorkshopID}

	return repositories.ScheduleResult{
		Appointment:  appointment,
		Order:        *order,
		OrderCreated: orderCreated,
	}, nil
}

func (m *memoryStore) ScheduleOnOrder(_ context.Context, orderID string, appointment domain.Appointment) (repositories.ScheduleResult, error) {
	order, ok := m.orders[orderID]
	if !ok {
		return repositories.ScheduleResult{}, notFound("order %s not found", orderID)
	}
	if order.Status != domain.OrderStatusOpen {
		return repositories.ScheduleResult{}, repositories.NewSchedulingError(repositories.SchedulingErrorOrderClosed, "order closed", nil)
	}
	if conflict, found := domain.FindConflict(m.bookedSlots(order.Workshop.ID), appointment.Slot, ""); found {
		return repositories.ScheduleResult{}, repositories.NewSchedulingError(repositories.SchedulingErrorSlotConflict,
			fmt.Sprintf("slot overlaps appointment %s", conflict.AppointmentID), nil)
	}

	appointment.OrderID = order.ID
	order.TotalAppointments++
	m.appointments[appointment.ID] = &storedAppointment{appointment: appointment, workshopID: order.Workshop.ID}

	return repositories.ScheduleResult{
		Appointment: appointment,
		Order:       *order,
	}, nil
}

func (m *memoryStore) Reschedule(_ context.Context, appointmentID string, slot domain.Slot, now time.Time) (domain.Appointment, error) {
	stored, ok := m.appointments[appointmentID]
	if !ok {
		return domain.Appointment{}, notFound("appointment %s not found", appointmentID)
	}
	if stored.appointment.Status.Terminal() {
		return domain.Appointment{}, repositories.NewSchedulingError(repositories.SchedulingErrorInvalidState, "terminal appointment", nil)
	}
	if conflict, found := domain.FindConflict(m.bookedSlots(stored.workshopID), slot, appointmentID); found {
		return domain.Appointment{}, repositories.NewSchedulingError(repositories.SchedulingErrorSlotConflict,
			fmt.Sprintf("slot overlaps appointment %s", conflict.AppointmentID), nil)
	}
	stored.appointment.Slot = slot
	stored.appointment.UpdatedAt = now
	return stored.appointment, nil
}

func (m *memoryStore) UpdateStatus(_ context.Context, appointmentID string, status domain.AppointmentStatus, now time.Time) (domain.Appointment, error) {
	stored, ok := m.appointments[appointmentID]
	if !ok {
		return domain.Appointment{}, notFound("appointment %s not found", appointmentID)
	}
	if !domain.CanTransition(stored.appointment.Status, status) {
		return domain.Appointment{}, repositories.NewSchedulingError(repositories.SchedulingErrorInvalidState,
			fmt.Sprintf("cannot move from %s to %s", stored.appointment.Status, status), nil)
	}
	stored.appointment.Status = status
	stored.appointment.UpdatedAt = now
	if status == domain.AppointmentStatusCompleted {
		if order, ok := m.orders[stored.appointment.OrderID]; ok && order.TotalAppointments > 0 {
			order.TotalAppointments--
		}
	}
	return stored.appointment, nil
}

func (m *memoryStore) Cancel(_ context.Context, appointmentID string, now time.Time) (domain.Appointment, error) {
	stored, ok := m.appointments[appointmentID]
	if !ok {
		return domain.Appointment{}, notFound("appointment %s not found", appointmentID)
	}
	if !domain.CanTransition(stored.appointment.Status, domain.AppointmentStatusCancelled) {
		return domain.Appointment{}, repositories.NewSchedulingError(repositories.SchedulingErrorInvalidState, "terminal appointment", nil)
	}
	stored.appointment.Status = domain.AppointmentStatusCancelled
	stored.appointment.CancelledAt = &now
	stored.appointment.UpdatedAt = now
	if order, ok := m.orders[stored.appointment.OrderID]; ok && order.TotalAppointments > 0 {
		order.TotalAppointments--
	}
	return stored.appointment, nil
}

func (m *memoryStore) Relink(_ context.Context, appointmentID string, orderID string, now time.Time) (domain.Appointment, error) {
	stored, ok := m.appointments[appointmentID]
	if !ok {
		return domain.Appointment{}, notFound("appointment %s not found", appointmentID)
	}
	target, ok := m.orders[orderID]
	if !ok {
		return domain.Appointment{}, notFound("order %s not found", orderID)
	}
	if stored.appointment.OrderID == orderID {
		return stored.appointment, nil
	}
	if target.Status != domain.OrderStatusOpen {
		return domain.Appointment{}, repositories.NewSchedulingError(repositories.SchedulingErrorOrderClosed, "order closed", nil)
	}
	if target.Workshop.ID != stored.workshopID {
		return domain.Appointment{}, repositories.NewSchedulingError(repositories.SchedulingErrorWorkshopMismatch, "workshop mismatch", nil)
	}
	stored.appointment.OrderID = orderID
	stored.appointment.UpdatedAt = now
	return stored.appointment, nil
}

func (m *memoryStore) AppendNote(_ context.Context, appointmentID string, note domain.Note, now time.Time) (domain.Appointment, error) {
	stored, ok := m.appointments[appointmentID]
	if !ok {
		return domain.Appointment{}, notFound("appointment %s not found", appointmentID)
	}
	if stored.appointment.Status == domain.AppointmentStatusCancelled {
		return domain.Appointment{}, repositories.NewSchedulingError(repositories.SchedulingErrorInvalidState, "cancelled appointment", nil)
	}
	stored.appointment.Notes = append(stored.appointment.Notes, note)
	stored.appointment.UpdatedAt = now
	return stored.appointment, nil
}

func (m *memoryStore) FindByID(_ context.Context, appointmentID string) (domain.Appointment, error) {
	stored, ok := m.appointments[appointmentID]
	if !ok {
		return domain.Appointment{}, notFound("appointment %s not found", appointmentID)
	}
	return stored.appointment, nil
}

func (m *memoryStore) ListByOrder(_ context.Context, orderID string) ([]domain.Appointment, error) {
	var appointments []domain.Appointment
	for _, stored := range m.appointments {
		if stored.appointment.OrderID == orderID {
			appointments = append(appointments, stored.appointment)
		}
	}
	sort.Slice(appointments, func(i, j int) bool {
		return appointments[i].Slot.StartAt.Before(appointments[j].Slot.StartAt)
	})
	return appointments, nil
}

func (m *memoryStore) ListByWorkshop(_ context.Context, workshopID int64, window domain.Slot) ([]domain.Appointment, error) {
	var appointments []domain.Appointment
	for _, stored := range m.appointments {
		if stored.workshopID != workshopID {
			continue
		}
		if !window.IsZero() && !stored.appointment.Slot.Overlaps(window) {
			continue
		}
		appointments = append(appointments, stored.appointment)
	}
	sort.Slice(appointments, func(i, j int) bool {
		return appointments[i].Slot.StartAt.Before(appointments[j].Slot.StartAt)
	})
	return appointments, nil
}

func (m *memoryStore) findOrder(_ context.Context, orderID string) (domain.Order, error) {
	order, ok := m.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("order %s not found", orderID)
	}
	return *order, nil
}

func (m *memoryStore) FindByCode(_ context.Context, code string) (domain.Order, error) {
	for _, order := range m.orders {
		if order.Code.Value == code {
			return *order, nil
		}
	}
	return domain.Order{}, notFound("order code %s not found", code)
}

func (m *memoryStore) FindOpen(_ context.Context, workshopID int64, vehicleID int64, driverID int64) (domain.Order, error) {
	for _, order := range m.orders {
		if order.Workshop.ID == workshopID && order.Vehicle.ID == vehicleID &&
			order.Driver.ID == driverID && order.Status == domain.OrderStatusOpen {
			return *order, nil
		}
	}
	return domain.Order{}, notFound("no open order for vehicle %d, driver %d", vehicleID, driverID)
}

func (m *memoryStore) List(_ context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	var orders []domain.Order
	for _, order := range m.orders {
		if filter.WorkshopID > 0 && order.Workshop.ID != filter.WorkshopID {
			continue
		}
		if filter.VehicleID > 0 && order.Vehicle.ID != filter.VehicleID {
			continue
		}
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		orders = append(orders, *order)
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].OpenedAt.After(orders[j].OpenedAt)
	})
	if filter.Limit > 0 && len(orders) > filter.Limit {
		orders = orders[:filter.Limit]
	}
	return orders, nil
}

func (m *memoryStore) openOrder(_ context.Context, order domain.Order) (domain.Order, error) {
	for _, existing := range m.orders {
		if existing.Code.Value == order.Code.Value {
			return domain.Order{}, repositories.NewSchedulingError(repositories.SchedulingErrorDuplicateCode, "duplicate code", nil)
		}
	}
	stored := order
	m.orders[order.ID] = &stored
	return order, nil
}

func (m *memoryStore) Close(_ context.Context, orderID string, now time.Time) (domain.Order, error) {
	order, ok := m.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("order %s not found", orderID)
	}
	if order.Status == domain.OrderStatusClosed {
		return domain.Order{}, repositories.NewSchedulingError(repositories.SchedulingErrorOrderClosed, "already closed", nil)
	}
	if order.TotalAppointments > 0 {
		return domain.Order{}, repositories.NewSchedulingError(repositories.SchedulingErrorOrderNotEmpty,
			fmt.Sprintf("order %s still counts %d appointments", orderID, order.TotalAppointments), nil)
	}
	order.Status = domain.OrderStatusClosed
	order.ClosedAt = &now
	order.UpdatedAt = now
	return *order, nil
}

func (m *memoryStore) Next(_ context.Context, counterID string, step int64) (int64, error) {
	if step <= 0 {
		step = 1
	}
	m.counters[counterID] += step
	return m.counters[counterID], nil
}

// orderStore adapts memoryStore to repositories.OrderRepository; FindByID
// collides with the appointment method, hence the wrapper.
type orderStore struct{ store *memoryStore }

func (o orderStore) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	return o.store.findOrder(ctx, orderID)
}

func (o orderStore) FindByCode(ctx context.Context, code string) (domain.Order, error) {
	return o.store.FindByCode(ctx, code)
}

func (o orderStore) FindOpen(ctx context.Context, workshopID int64, vehicleID int64, driverID int64) (domain.Order, error) {
	return o.store.FindOpen(ctx, workshopID, vehicleID, driverID)
}

func (o orderStore) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	return o.store.List(ctx, filter)
}

func (o orderStore) Open(ctx context.Context, order domain.Order) (domain.Order, error) {
	return o.store.openOrder(ctx, order)
}

func (o orderStore) Close(ctx context.Context, orderID string, now time.Time) (domain.Order, error) {
	return o.store.Close(ctx, orderID, now)
}

// stubDirectory serves a fixed fleet directory.
type stubDirectory struct {
	workshops map[int64]string
	vehicles  map[int64]string
	drivers   map[int64]string
	operates  map[int64][]int64 // driver -> vehicles
}

var _ repositories.DirectoryRepository = (*stubDirectory)(nil)

func newStubDirectory() *stubDirectory {
	return &stubDirectory{
		workshops: map[int64]string{1: "Northside Truck Works"},
		vehicles:  map[int64]string{10: "Volvo FH16 AB-123", 11: "Scania R500 CD-456"},
		drivers:   map[int64]string{100: "Riley Hammond", 101: "Sam Oduya"},
		operates:  map[int64][]int64{100: {10}, 101: {10}},
	}
}

func (d *stubDirectory) Workshop(_ context.Context, id int64) (domain.WorkshopRef, error) {
	name, ok := d.workshops[id]
	if !ok {
		return domain.WorkshopRef{}, notFound("workshop %d not found", id)
	}
	return domain.NewWorkshopRef(id, name)
}

func (d *stubDirectory) Vehicle(_ context.Context, id int64) (domain.VehicleRef, error) {
	name, ok := d.vehicles[id]
	if !ok {
		return domain.VehicleRef{}, notFound("vehicle %d not found", id)
	}
	return domain.NewVehicleRef(id, name)
}

func (d *stubDirectory) Driver(_ context.Context, id int64) (domain.DriverRef, error) {
	name, ok := d.drivers[id]
	if !ok {
		return domain.DriverRef{}, notFound("driver %d not found", id)
	}
	return domain.NewDriverRef(id, name)
}

func (d *stubDirectory) DriverOperatesVehicle(_ context.Context, driverID int64, vehicleID int64) (bool, error) {
	if _, ok := d.drivers[driverID]; !ok {
		return false, notFound("driver %d not found", driverID)
	}
	for _, id := range d.operates[driverID] {
		if id == vehicleID {
			return true, nil
		}
	}
	return false, nil
}

// capturingPublisher records published events for assertions.
type capturingPublisher struct {
	events []DomainEvent
	fail   error
}

func (p *capturingPublisher) Publish(_ context.Context, event DomainEvent) error {
	if p.fail != nil {
		return p.fail
	}
	p.events = append(p.events, event)
	return nil
}

func (p *capturingPublisher) types() []string {
	types := make([]string, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.Type)
	}
	return types
}
