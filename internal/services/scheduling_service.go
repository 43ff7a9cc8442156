package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/workshoplane/api/internal/domain"
	"github.com/workshoplane/api/internal/repositories"
)

const (
	eventAppointmentScheduled     = "appointment.scheduled"
	eventAppointmentRescheduled   = "appointment.rescheduled"
	eventAppointmentStatusChanged = "appointment.status.changed"
	eventAppointmentCancelled     = "appointment.cancelled"
	eventAppointmentRelinked      = "appointment.relinked"
	eventAppointmentNoteAdded     = "appointment.note.added"
	eventOrderOpened              = "order.opened"

	appointmentIDPrefix = "apt_"
	orderIDPrefix       = "ord_"
)

var (
	// ErrSchedulingInvalidInput signals the caller provided invalid data.
	ErrSchedulingInvalidInput = errors.New("scheduling: invalid input")
	// ErrSchedulingNotFound indicates the appointment or order could not be located.
	ErrSchedulingNotFound = errors.New("scheduling: not found")
	// ErrSchedulingConflict indicates the requested slot overlaps an active booking.
	ErrSchedulingConflict = errors.New("scheduling: slot conflict")
	// ErrSchedulingInvalidState indicates a forbidden lifecycle transition.
	ErrSchedulingInvalidState = errors.New("scheduling: invalid status transition")
	// ErrSchedulingLinkRejected indicates the driver/vehicle/workshop relation does not hold.
	ErrSchedulingLinkRejected = errors.New("scheduling: link rejected")
)

// SchedulingServiceDeps bundles collaborators required to construct the scheduling service.
type SchedulingServiceDeps struct {
	Appointments repositories.AppointmentRepository
	Orders       repositories.OrderRepository
	Counters     repositories.CounterRepository
	Directory    repositories.DirectoryRepository
	UnitOfWork   repositories.UnitOfWork
	Clock        func() time.Time
	IDGenerator  func() string
	Events       EventPublisher
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type schedulingService struct {
	appointments repositories.AppointmentRepository
	orders       repositories.OrderRepository
	counters     repositories.CounterRepository
	directory    repositories.DirectoryRepository
	unitOfWork   repositories.UnitOfWork
	clock        func() time.Time
	newID        func() string
	events       EventPublisher
	logger       func(context.Context, string, map[string]any)
}

var _ SchedulingService = (*schedulingService)(nil)

// NewSchedulingService wires dependencies into a concrete SchedulingService.
func NewSchedulingService(deps SchedulingServiceDeps) (SchedulingService, error) {
	if deps.Appointments == nil {
		return nil, errors.New("scheduling service: appointment repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("scheduling service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("scheduling service: counter repository is required")
	}
	if deps.Directory == nil {
		return nil, errors.New("scheduling service: directory repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &schedulingService{
		appointments: deps.Appointments,
		orders:       deps.Orders,
		counters:     deps.Counters,
		directory:    deps.Directory,
		unitOfWork:   unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *schedulingService) Schedule(ctx context.Context, cmd ScheduleAppointmentCommand) (ScheduleAppointmentResult, error) {
	if cmd.WorkshopID <= 0 {
		return ScheduleAppointmentResult{}, fmt.Errorf("%w: workshop id is required", ErrSchedulingInvalidInput)
	}
	if cmd.VehicleID <= 0 {
		return ScheduleAppointmentResult{}, fmt.Errorf("%w: vehicle id is required", ErrSchedulingInvalidInput)
	}
	if cmd.DriverID <= 0 {
		return ScheduleAppointmentResult{}, fmt.Errorf("%w: driver id is required", ErrSchedulingInvalidInput)
	}

	slot, err := domain.NewSlot(cmd.StartAt, cmd.EndAt)
	if err != nil {
		return ScheduleAppointmentResult{}, fmt.Errorf("%w: %v", ErrSchedulingInvalidInput, err)
	}

	if err := s.validateLink(ctx, cmd.DriverID, cmd.VehicleID); err != nil {
		return ScheduleAppointmentResult{}, err
	}

	now := s.clock()
	candidate, err := s.buildCandidateOrder(ctx, cmd, now)
	if err != nil {
		return ScheduleAppointmentResult{}, err
	}

	appointment := domain.Appointment{
		ID:        appointmentIDPrefix + s.newID(),
		Status:    domain.AppointmentStatusPending,
		Slot:      slot,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var result repositories.ScheduleResult
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		var err error
		result, err = s.appointments.Schedule(txCtx, repositories.ScheduleRequest{
			Appointment:    appointment,
			WorkshopID:     cmd.WorkshopID,
			VehicleID:      cmd.VehicleID,
			DriverID:       cmd.DriverID,
			CandidateOrder: candidate,
		})
		if err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return ScheduleAppointmentResult{}, err
	}

	if result.OrderCreated {
		s.publishEvent(ctx, DomainEvent{
			Type:       eventOrderOpened,
			OccurredAt: now,
			WorkshopID: cmd.WorkshopID,
			OrderID:    result.Order.ID,
			Payload: map[string]any{
				"code":      result.Order.Code.Value,
				"vehicleId": cmd.VehicleID,
				"driverId":  cmd.DriverID,
			},
		})
	}
	s.publishEvent(ctx, DomainEvent{
		Type:          eventAppointmentScheduled,
		OccurredAt:    now,
		WorkshopID:    cmd.WorkshopID,
		OrderID:       result.Order.ID,
		AppointmentID: result.Appointment.ID,
		Payload: map[string]any{
			"startAt": slot.StartAt,
			"endAt":   slot.EndAt,
			"status":  string(result.Appointment.Status),
		},
	})

	return ScheduleAppointmentResult{
		Appointment:  result.Appointment,
		Order:        result.Order,
		OrderCreated: result.OrderCreated,
	}, nil
}

// AddToOrder books an appointment directly onto a known open order. The
// resolver is bypassed but the slot still has to clear the conflict check
// against the order's workshop.
func (s *schedulingService) AddToOrder(ctx context.Context, cmd AddAppointmentToOrderCommand) (ScheduleAppointmentResult, error) {
	if cmd.OrderID == "" {
		return ScheduleAppointmentResult{}, fmt.Errorf("%w: order id is required", ErrSchedulingInvalidInput)
	}
	slot, err := domain.NewSlot(cmd.StartAt, cmd.EndAt)
	if err != nil {
		return ScheduleAppointmentResult{}, fmt.Errorf("%w: %v", ErrSchedulingInvalidInput, err)
	}

	now := s.clock()
	appointment := domain.Appointment{
		ID:        appointmentIDPrefix + s.newID(),
		OrderID:   cmd.OrderID,
		Status:    domain.AppointmentStatusPending,
		Slot:      slot,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var result repositories.ScheduleResult
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		var err error
		result, err = s.appointments.ScheduleOnOrder(txCtx, cmd.OrderID, appointment)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return ScheduleAppointmentResult{}, err
	}

	s.publishEvent(ctx, DomainEvent{
		Type:          eventAppointmentScheduled,
		OccurredAt:    now,
		WorkshopID:    result.Order.Workshop.ID,
		OrderID:       result.Order.ID,
		AppointmentID: result.Appointment.ID,
		Payload: map[string]any{
			"startAt": slot.StartAt,
			"endAt":   slot.EndAt,
			"status":  string(result.Appointment.Status),
		},
	})

	return ScheduleAppointmentResult{
		Appointment: result.Appointment,
		Order:       result.Order,
	}, nil
}

func (s *schedulingService) Reschedule(ctx context.Context, cmd RescheduleAppointmentCommand) (domain.Appointment, error) {
	if cmd.AppointmentID == "" {
		return domain.Appointment{}, fmt.Errorf("%w: appointment id is required", ErrSchedulingInvalidInput)
	}
	slot, err := domain.NewSlot(cmd.StartAt, cmd.EndAt)
	if err != nil {
		return domain.Appointment{}, fmt.Errorf("%w: %v", ErrSchedulingInvalidInput, err)
	}

	// The driver-vehicle chain is re-validated: directory relations may have
	// changed since the original booking.
	appointment, err := s.appointments.FindByID(ctx, cmd.AppointmentID)
	if err != nil {
		return domain.Appointment{}, s.mapRepositoryError(err)
	}
	order, err := s.orders.FindByID(ctx, appointment.OrderID)
	if err != nil {
		return domain.Appointment{}, s.mapRepositoryError(err)
	}
	if err := s.validateLink(ctx, order.Driver.ID, order.Vehicle.ID); err != nil {
		return domain.Appointment{}, err
	}

	now := s.clock()
	updated, err := s.appointments.Reschedule(ctx, cmd.AppointmentID, slot, now)
	if err != nil {
		return domain.Appointment{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, DomainEvent{
		Type:          eventAppointmentRescheduled,
		OccurredAt:    now,
		OrderID:       updated.OrderID,
		AppointmentID: updated.ID,
		Payload: map[string]any{
			"startAt": slot.StartAt,
			"endAt":   slot.EndAt,
		},
	})
	return updated, nil
}

// UpdateStatus dispatches a lifecycle transition. Requesting the current
// status is a no-op; completion and cancellation both release the slot on
// the order's appointment counter.
func (s *schedulingService) UpdateStatus(ctx context.Context, cmd UpdateAppointmentStatusCommand) (StatusChangeResult, error) {
	if cmd.AppointmentID == "" {
		return StatusChangeResult{}, fmt.Errorf("%w: appointment id is required", ErrSchedulingInvalidInput)
	}
	switch cmd.Status {
	case domain.AppointmentStatusPending, domain.AppointmentStatusConfirmed,
		domain.AppointmentStatusInProgress, domain.AppointmentStatusCompleted,
		domain.AppointmentStatusCancelled:
	default:
		return StatusChangeResult{}, fmt.Errorf("%w: unknown status %q", ErrSchedulingInvalidInput, cmd.Status)
	}

	current, err := s.appointments.FindByID(ctx, cmd.AppointmentID)
	if err != nil {
		return StatusChangeResult{}, s.mapRepositoryError(err)
	}

	// Requesting the current status, or pending (which is unreachable
	// backwards), reports no transition instead of failing.
	if current.Status == cmd.Status || cmd.Status == domain.AppointmentStatusPending {
		return StatusChangeResult{Appointment: current, Transitioned: false}, nil
	}
	if !domain.CanTransition(current.Status, cmd.Status) {
		return StatusChangeResult{}, fmt.Errorf("%w: %s to %s", ErrSchedulingInvalidState, current.Status, cmd.Status)
	}

	now := s.clock()
	var updated domain.Appointment
	if cmd.Status == domain.AppointmentStatusCancelled {
		updated, err = s.appointments.Cancel(ctx, cmd.AppointmentID, now)
	} else {
		updated, err = s.appointments.UpdateStatus(ctx, cmd.AppointmentID, cmd.Status, now)
	}
	if err != nil {
		return StatusChangeResult{}, s.mapRepositoryError(err)
	}

	eventType := eventAppointmentStatusChanged
	if cmd.Status == domain.AppointmentStatusCancelled {
		eventType = eventAppointmentCancelled
	}
	s.publishEvent(ctx, DomainEvent{
		Type:          eventType,
		OccurredAt:    now,
		OrderID:       updated.OrderID,
		AppointmentID: updated.ID,
		Payload: map[string]any{
			"previousStatus": string(current.Status),
			"currentStatus":  string(updated.Status),
		},
	})

	return StatusChangeResult{Appointment: updated, Transitioned: true}, nil
}

func (s *schedulingService) AppendNote(ctx context.Context, cmd AppendNoteCommand) (domain.Appointment, error) {
	if cmd.AppointmentID == "" {
		return domain.Appointment{}, fmt.Errorf("%w: appointment id is required", ErrSchedulingInvalidInput)
	}

	now := s.clock()
	note, err := domain.NewNote(cmd.Content, cmd.AuthorID, now)
	if err != nil {
		return domain.Appointment{}, fmt.Errorf("%w: %v", ErrSchedulingInvalidInput, err)
	}

	updated, err := s.appointments.AppendNote(ctx, cmd.AppointmentID, note, now)
	if err != nil {
		return domain.Appointment{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, DomainEvent{
		Type:          eventAppointmentNoteAdded,
		OccurredAt:    now,
		OrderID:       updated.OrderID,
		AppointmentID: updated.ID,
		Payload: map[string]any{
			"authorId": note.AuthorID,
		},
	})
	return updated, nil
}

func (s *schedulingService) Relink(ctx context.Context, cmd RelinkAppointmentCommand) (domain.Appointment, error) {
	if cmd.AppointmentID == "" {
		return domain.Appointment{}, fmt.Errorf("%w: appointment id is required", ErrSchedulingInvalidInput)
	}

	orderID := cmd.OrderID
	if cmd.OrderCode != "" {
		target, err := s.orders.FindByCode(ctx, cmd.OrderCode)
		if err != nil {
			return domain.Appointment{}, s.mapRepositoryError(err)
		}
		orderID = target.ID
	}
	if orderID == "" {
		return domain.Appointment{}, fmt.Errorf("%w: order id or code is required", ErrSchedulingInvalidInput)
	}

	now := s.clock()
	updated, err := s.appointments.Relink(ctx, cmd.AppointmentID, orderID, now)
	if err != nil {
		return domain.Appointment{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, DomainEvent{
		Type:          eventAppointmentRelinked,
		OccurredAt:    now,
		OrderID:       updated.OrderID,
		AppointmentID: updated.ID,
	})
	return updated, nil
}

func (s *schedulingService) GetAppointment(ctx context.Context, appointmentID string) (domain.Appointment, error) {
	if appointmentID == "" {
		return domain.Appointment{}, fmt.Errorf("%w: appointment id is required", ErrSchedulingInvalidInput)
	}
	appointment, err := s.appointments.FindByID(ctx, appointmentID)
	if err != nil {
		return domain.Appointment{}, s.mapRepositoryError(err)
	}
	return appointment, nil
}

func (s *schedulingService) ListByOrder(ctx context.Context, orderID string) ([]domain.Appointment, error) {
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrSchedulingInvalidInput)
	}
	appointments, err := s.appointments.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return appointments, nil
}

func (s *schedulingService) ListByWorkshop(ctx context.Context, filter AppointmentListFilter) ([]domain.Appointment, error) {
	if filter.WorkshopID <= 0 {
		return nil, fmt.Errorf("%w: workshop id is required", ErrSchedulingInvalidInput)
	}

	var window domain.Slot
	if !filter.From.IsZero() || !filter.To.IsZero() {
		from := filter.From
		to := filter.To
		if from.IsZero() {
			from = time.Unix(0, 0)
		}
		if to.IsZero() {
			to = from.AddDate(1, 0, 0)
		}
		if !to.After(from) {
			return nil, fmt.Errorf("%w: window end %s is not after start %s",
				ErrSchedulingInvalidInput, to.Format(time.RFC3339), from.Format(time.RFC3339))
		}
		window = domain.Slot{StartAt: from.UTC(), EndAt: to.UTC()}
	}

	appointments, err := s.appointments.ListByWorkshop(ctx, filter.WorkshopID, window)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return appointments, nil
}

// validateLink checks the driver-vehicle chain, short-circuiting on the first
// check that fails: driver exists, vehicle exists, driver operates the vehicle.
// Missing parties are an input problem; a broken ownership relation is a
// rejected link.
func (s *schedulingService) validateLink(ctx context.Context, driverID, vehicleID int64) error {
	if _, err := s.directory.Driver(ctx, driverID); err != nil {
		return s.mapDirectoryError(err, fmt.Sprintf("driver %d", driverID))
	}
	if _, err := s.directory.Vehicle(ctx, vehicleID); err != nil {
		return s.mapDirectoryError(err, fmt.Sprintf("vehicle %d", vehicleID))
	}
	operates, err := s.directory.DriverOperatesVehicle(ctx, driverID, vehicleID)
	if err != nil {
		return s.mapDirectoryError(err, fmt.Sprintf("driver %d", driverID))
	}
	if !operates {
		return fmt.Errorf("%w: driver %d does not operate vehicle %d", ErrSchedulingLinkRejected, driverID, vehicleID)
	}
	return nil
}

// buildCandidateOrder prepares the order used when no open order exists for
// the vehicle. Its sequence number is drawn up front; if the booking later
// reuses an existing order the number is simply skipped.
func (s *schedulingService) buildCandidateOrder(ctx context.Context, cmd ScheduleAppointmentCommand, now time.Time) (domain.Order, error) {
	code, err := s.generateOrderCode(ctx, cmd.WorkshopID, now)
	if err != nil {
		return domain.Order{}, err
	}

	workshop := s.resolveWorkshopRef(ctx, cmd.WorkshopID)
	vehicle := s.resolveVehicleRef(ctx, cmd.VehicleID)
	driver := s.resolveDriverRef(ctx, cmd.DriverID)

	return domain.Order{
		ID:        orderIDPrefix + s.newID(),
		Code:      code,
		Status:    domain.OrderStatusOpen,
		Workshop:  workshop,
		Vehicle:   vehicle,
		Driver:    driver,
		OpenedAt:  now,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *schedulingService) generateOrderCode(ctx context.Context, workshopID int64, now time.Time) (domain.OrderCode, error) {
	counterID := fmt.Sprintf("order_codes:ws%d:%d", workshopID, now.Year())
	seq, err := s.counters.Next(ctx, counterID, 1)
	if err != nil {
		return domain.OrderCode{}, s.mapRepositoryError(err)
	}
	value := fmt.Sprintf("WS%d-%d-%04d", workshopID, now.Year(), seq)
	return domain.NewOrderCode(value, workshopID)
}

// Display labels are a stale denormalised cache: when the directory cannot
// serve one the booking proceeds with a placeholder instead of failing.
func (s *schedulingService) resolveWorkshopRef(ctx context.Context, id int64) domain.WorkshopRef {
	ref, err := s.directory.Workshop(ctx, id)
	if err != nil {
		s.logger(ctx, "scheduling.directory.label.fallback", map[string]any{
			"kind":  "workshop",
			"id":    id,
			"error": err.Error(),
		})
		return domain.WorkshopRef{ID: id, DisplayName: fmt.Sprintf("Workshop #%d", id)}
	}
	return ref
}

func (s *schedulingService) resolveVehicleRef(ctx context.Context, id int64) domain.VehicleRef {
	ref, err := s.directory.Vehicle(ctx, id)
	if err != nil {
		s.logger(ctx, "scheduling.directory.label.fallback", map[string]any{
			"kind":  "vehicle",
			"id":    id,
			"error": err.Error(),
		})
		return domain.VehicleRef{ID: id, DisplayName: fmt.Sprintf("Vehicle #%d", id)}
	}
	return ref
}

func (s *schedulingService) resolveDriverRef(ctx context.Context, id int64) domain.DriverRef {
	ref, err := s.directory.Driver(ctx, id)
	if err != nil {
		s.logger(ctx, "scheduling.directory.label.fallback", map[string]any{
			"kind":  "driver",
			"id":    id,
			"error": err.Error(),
		})
		return domain.DriverRef{ID: id, DisplayName: fmt.Sprintf("Driver #%d", id)}
	}
	return ref
}

func (s *schedulingService) mapDirectoryError(err error, subject string) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: unknown %s", ErrSchedulingInvalidInput, subject)
	}
	return err
}

func (s *schedulingService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var schedErr *repositories.SchedulingError
	if errors.As(err, &schedErr) {
		switch schedErr.Code {
		case repositories.SchedulingErrorSlotConflict:
			return fmt.Errorf("%w: %v", ErrSchedulingConflict, err)
		case repositories.SchedulingErrorInvalidState,
			repositories.SchedulingErrorOrderClosed,
			repositories.SchedulingErrorOrderNotEmpty:
			return fmt.Errorf("%w: %v", ErrSchedulingInvalidState, err)
		case repositories.SchedulingErrorWorkshopMismatch:
			return fmt.Errorf("%w: %v", ErrSchedulingLinkRejected, err)
		case repositories.SchedulingErrorInvalidInput, repositories.SchedulingErrorDuplicateCode:
			return fmt.Errorf("%w: %v", ErrSchedulingInvalidInput, err)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrSchedulingNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrSchedulingConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("scheduling: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *schedulingService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *schedulingService) publishEvent(ctx context.Context, event DomainEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger(ctx, "scheduling.event.publish.failed", map[string]any{
			"type":        event.Type,
			"order":       event.OrderID,
			"appointment": event.AppointmentID,
			"error":       err.Error(),
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
