package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/workshoplane/api/internal/domain"
	pfirestore "github.com/workshoplane/api/internal/platform/firestore"
	"github.com/workshoplane/api/internal/repositories"
)

// AppointmentRepository implements repositories.AppointmentRepository backed
// by Firestore. Booking operations run as serializable transactions so the
// overlap check, order resolution, and counter updates commit atomically.
type AppointmentRepository struct {
	provider     *pfirestore.Provider
	appointments *pfirestore.Collection[appointmentDocument]
	orders       *pfirestore.Collection[orderDocument]
}

var _ repositories.AppointmentRepository = (*AppointmentRepository)(nil)

// NewAppointmentRepository constructs a Firestore-backed appointment repository.
func NewAppointmentRepository(provider *pfirestore.Provider) (*AppointmentRepository, error) {
	if provider == nil {
		return nil, errors.New("appointment repository requires firestore provider")
	}
	return &AppointmentRepository{
		provider:     provider,
		appointments: pfirestore.NewCollection[appointmentDocument](provider, appointmentsCollection, nil),
		orders:       pfirestore.NewCollection[orderDocument](provider, ordersCollection, nil),
	}, nil
}

// Schedule books the appointment atomically: it resolves the open order for
// the exact (workshop, vehicle, driver) triple (creating CandidateOrder when
// none exists), rejects overlapping active slots in the workshop, and bumps
// the order's appointment counter.
func (r *AppointmentRepository) Schedule(ctx context.Context, req repositories.ScheduleRequest) (repositories.ScheduleResult, error) {
	if r == nil || r.provider == nil {
		return repositories.ScheduleResult{}, errors.New("appointment repository not initialised")
	}
	if strings.TrimSpace(req.Appointment.ID) == "" {
		return repositories.ScheduleResult{}, repositories.NewSchedulingError(repositories.SchedulingErrorInvalidInput, "appointment id is required", nil)
	}
	if req.Appointment.Slot.IsZero() {
		return repositories.ScheduleResult{}, repositories.NewSchedulingError(repositories.SchedulingErrorInvalidInput, "appointment slot is required", nil)
	}
	if req.WorkshopID <= 0 || req.VehicleID <= 0 || req.DriverID <= 0 {
		return repositories.ScheduleResult{}, repositories.NewSchedulingError(repositories.SchedulingErrorInvalidInput, "workshop, vehicle, and driver ids are required", nil)
	}

	var result repositories.ScheduleResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// All reads happen before any write inside a Firestore transaction.
		openOrders, err := r.orders.QueryTx(ctx, tx, func(q firestore.Query) firestore.Query {
			return q.Where("workshopId", "==", req.WorkshopID).
				Where("vehicleId", "==", req.VehicleID).
				Where("driverId", "==", req.DriverID).
				Where("status", "==", string(domain.OrderStatusOpen)).
				Limit(1)
		})
		if err != nil {
			return err
		}

		var (
			order        domain.Order
			orderCreated bool
		)
		if len(openOrders) > 0 {
			order = openOrders[0].Data.toDomain(openOrders[0].ID)
		} else {
			if strings.TrimSpace(req.CandidateOrder.ID) == "" {
				return repositories.NewSchedulingError(repositories.SchedulingErrorInvalidInput, "candidate order is required when no open order exists", nil)
			}
			duplicates, err := r.orders.QueryTx(ctx, tx, func(q firestore.Query) firestore.Query {
				return q.Where("code", "==", req.CandidateOrder.Code.Value).Limit(1)
			})
			if err != nil {
				return err
			}
			if len(duplicates) > 0 {
				return repositories.NewSchedulingError(repositories.SchedulingErrorDuplicateCode,
					fmt.Sprintf("order code %s already issued", req.CandidateOrder.Code.Value), nil)
			}
			order = req.CandidateOrder
			orderCreated = true
		}

		blocking, err := r.activeSlotsTx(ctx, tx, req.WorkshopID, req.Appointment.Slot.StartAt)
		if err != nil {
			return err
		}
		if conflict, found := domain.FindConflict(blocking, req.Appointment.Slot, ""); found {
			return repositories.NewSchedulingError(repositories.SchedulingErrorSlotConflict,
				fmt.Sprintf("slot overlaps appointment %s", conflict.AppointmentID), nil)
		}

		appointment := req.Appointment
		appointment.OrderID = order.ID
		order.TotalAppointments++
		order.UpdatedAt = appointment.UpdatedAt

		aptRef, err := r.appointments.Doc(ctx, appointment.ID)
		if err != nil {
			return err
		}
		if err := tx.Create(aptRef, newAppointmentDocument(appointment, req.WorkshopID)); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return repositories.NewSchedulingError(repositories.SchedulingErrorInvalidInput,
					fmt.Sprintf("appointment %s already exists", appointment.ID), err)
			}
			return err
		}

		orderRef, err := r.orders.Doc(ctx, order.ID)
		if err != nil {
			return err
		}
		if orderCreated {
			if err := tx.Create(orderRef, newOrderDocument(order)); err != nil {
				return err
			}
		} else if err := tx.Set(orderRef, newOrderDocument(order)); err != nil {
			return err
		}

		result = repositories.ScheduleResult{
			Appointment:  appointment,
			Order:        order,
			OrderCreated: orderCreated,
		}
		return nil
	})
	if err != nil {
		return repositories.ScheduleResult{}, wrapSchedulingError("appointments.schedule", err)
	}
	return result, nil
}

// ScheduleOnOrder books the appointment directly onto an existing open order,
// re-using the order's workshop for the overlap check.
func (r *AppointmentRepository) ScheduleOnOrder(ctx context.Context, orderID string, appointment domain.Appointment) (repositories.ScheduleResult, error) {
	if r == nil || r.provider == nil {
		return repositories.ScheduleResult{}, errors.New("appointment repository not initialised")
	}
	if strings.TrimSpace(orderID) == "" {
		return repositories.ScheduleResult{}, repositories.NewSchedulingError(repositories.SchedulingErrorInvalidInput, "order id is required", nil)
	}
	if strings.TrimSpace(appointment.ID) == "" {
		return repositories.ScheduleResult{}, repositories.NewSchedulingError(repositories.SchedulingErrorInvalidInput, "appointment id is required", nil)
	}
	if appointment.Slot.IsZero() {
		return repositories.ScheduleResult{}, repositories.NewSchedulingError(repositories.SchedulingErrorInvalidInput, "appointment slot is required", nil)
	}

	var result repositories.ScheduleResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderDoc, err := r.orders.GetTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		order := orderDoc.Data.toDomain(orderDoc.ID)
		if order.Status != domain.OrderStatusOpen {
			return repositories.NewSchedulingError(repositories.SchedulingErrorOrderClosed,
				fmt.Sprintf("order %s is closed", orderID), nil)
		}

		blocking, err := r.activeSlotsTx(ctx, tx, order.Workshop.ID, appointment.Slot.StartAt)
		if err != nil {
			return err
		}
		if conflict, found := domain.FindConflict(blocking, appointment.Slot, ""); found {
			return repositories.NewSchedulingError(repositories.SchedulingErrorSlotConflict,
				fmt.Sprintf("slot overlaps appointment %s", conflict.AppointmentID), nil)
		}

		appointment.OrderID = order.ID
		order.TotalAppointments++
		order.UpdatedAt = appointment.UpdatedAt

		aptRef, err := r.appointments.Doc(ctx, appointment.ID)
		if err != nil {
			return err
		}
		if err := tx.Create(aptRef, newAppointmentDocument(appointment, order.Workshop.ID)); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return repositories.NewSchedulingError(repositories.SchedulingErrorInvalidInput,
					fmt.Sprintf("appointment %s already exists", appointment.ID), err)
			}
			return err
		}

		orderRef, err := r.orders.Doc(ctx, orderID)
		if err != nil {
			return err
		}
		if err := tx.Set(orderRef, newOrderDocument(order)); err != nil {
			return err
		}

		result = repositories.ScheduleResult{
			Appointment: appointment,
			Order:       order,
		}
		return nil
	})
	if err != nil {
		return repositories.ScheduleResult{}, wrapSchedulingError("appointments.schedule_on_order", err)
	}
	return result, nil
}

// Reschedule moves the appointment to a new slot after re-running the overlap
// check against the workshop's bookings, excluding the appointment itself.
func (r *AppointmentRepository) Reschedule(ctx context.Context, appointmentID string, slot domain.Slot, now time.Time) (domain.Appointment, error) {
	if r == nil || r.provider == nil {
		return domain.Appointment{}, errors.New("appointment repository not initialised")
	}
	if slot.IsZero() {
		return domain.Appointment{}, repositories.NewSchedulingError(repositories.SchedulingErrorInvalidInput, "slot is required", nil)
	}

	var updated domain.Appointment
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		aptRef, doc, err := r.getAppointmentTx(ctx, tx, appointmentID)
		if err != nil {
			return err
		}
		if domain.AppointmentStatus(doc.Status).Terminal() {
			return repositories.NewSchedulingError(repositories.SchedulingErrorInvalidState,
				fmt.Sprintf("appointment %s is %s and cannot move", appointmentID, doc.Status), nil)
		}

		blocking, err := r.activeSlotsTx(ctx, tx, doc.WorkshopID, slot.StartAt)
		if err != nil {
			return err
		}
		if conflict, found := domain.FindConflict(blocking, slot, appointmentID); found {
			return repositories.NewSchedulingError(repositories.SchedulingErrorSlotConflict,
				fmt.Sprintf("slot overlaps appointment %s", conflict.AppointmentID), nil)
		}

		doc.StartAt = slot.StartAt.UTC()
		doc.EndAt = slot.EndAt.UTC()
		doc.UpdatedAt = now.UTC()
		if err := tx.Set(aptRef, doc); err != nil {
			return err
		}
		updated = doc.toDomain(appointmentID)
		return nil
	})
	if err != nil {
		return domain.Appointment{}, wrapSchedulingError("appointments.reschedule", err)
	}
	return updated, nil
}

// UpdateStatus persists a non-cancelling status transition, re-checking the
// lifecycle table against the stored status inside the transaction. Completing
// an appointment releases its slot on the order counter, same as cancellation.
func (r *AppointmentRepository) UpdateStatus(ctx context.Context, appointmentID string, newStatus domain.AppointmentStatus, now time.Time) (domain.Appointment, error) {
	if r == nil || r.provider == nil {
		return domain.Appointment{}, errors.New("appointment repository not initialised")
	}
	if newStatus == domain.AppointmentStatusCancelled {
		return domain.Appointment{}, repositories.NewSchedulingError(repositories.SchedulingErrorInvalidInput, "cancellation must go through Cancel", nil)
	}

	var updated domain.Appointment
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		aptRef, doc, err := r.getAppointmentTx(ctx, tx, appointmentID)
		if err != nil {
			return err
		}
		if !domain.CanTransition(domain.AppointmentStatus(doc.Status), newStatus) {
			return repositories.NewSchedulingError(repositories.SchedulingErrorInvalidState,
				fmt.Sprintf("appointment %s cannot move from %s to %s", appointmentID, doc.Status, newStatus), nil)
		}

		// All reads happen before any write inside a Firestore transaction.
		completing := newStatus == domain.AppointmentStatusCompleted
		var order orderDocument
		if completing {
			orderDoc, err := r.orders.GetTx(ctx, tx, doc.OrderID)
			if err != nil {
				return err
			}
			order = orderDoc.Data
		}

		stamp := now.UTC()
		doc.Status = string(newStatus)
		doc.UpdatedAt = stamp
		if err := tx.Set(aptRef, doc); err != nil {
			return err
		}

		if completing {
			if order.TotalAppointments > 0 {
				order.TotalAppointments--
			}
			order.UpdatedAt = stamp
			orderRef, err := r.orders.Doc(ctx, doc.OrderID)
			if err != nil {
				return err
			}
			if err := tx.Set(orderRef, order); err != nil {
				return err
			}
		}

		updated = doc.toDomain(appointmentID)
		return nil
	})
	if err != nil {
		return domain.Appointment{}, wrapSchedulingError("appointments.update_status", err)
	}
	return updated, nil
}

// Cancel marks the appointment cancelled and decrements its order's
// appointment counter in the same transaction.
func (r *AppointmentRepository) Cancel(ctx context.Context, appointmentID string, now time.Time) (domain.Appointment, error) {
	if r == nil || r.provider == nil {
		return domain.Appointment{}, errors.New("appointment repository not initialised")
	}

	var updated domain.Appointment
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		aptRef, doc, err := r.getAppointmentTx(ctx, tx, appointmentID)
		if err != nil {
			return err
		}
		if !domain.CanTransition(domain.AppointmentStatus(doc.Status), domain.AppointmentStatusCancelled) {
			return repositories.NewSchedulingError(repositories.SchedulingErrorInvalidState,
				fmt.Sprintf("appointment %s is %s", appointmentID, doc.Status), nil)
		}

		orderDoc, err := r.orders.GetTx(ctx, tx, doc.OrderID)
		if err != nil {
			return err
		}

		cancelledAt := now.UTC()
		doc.Status = string(domain.AppointmentStatusCancelled)
		doc.CancelledAt = &cancelledAt
		doc.UpdatedAt = cancelledAt
		if err := tx.Set(aptRef, doc); err != nil {
			return err
		}

		order := orderDoc.Data
		if order.TotalAppointments > 0 {
			order.TotalAppointments--
		}
		order.UpdatedAt = cancelledAt
		orderRef, err := r.orders.Doc(ctx, doc.OrderID)
		if err != nil {
			return err
		}
		if err := tx.Set(orderRef, order); err != nil {
			return err
		}

		updated = doc.toDomain(appointmentID)
		return nil
	})
	if err != nil {
		return domain.Appointment{}, wrapSchedulingError("appointments.cancel", err)
	}
	return updated, nil
}

// Relink repoints the appointment at another open order in the same workshop.
// It is a pure pointer swap: neither order's counter is adjusted.
func (r *AppointmentRepository) Relink(ctx context.Context, appointmentID string, orderID string, now time.Time) (domain.Appointment, error) {
	if r == nil || r.provider == nil {
		return domain.Appointment{}, errors.New("appointment repository not initialised")
	}
	if strings.TrimSpace(orderID) == "" {
		return domain.Appointment{}, repositories.NewSchedulingError(repositories.SchedulingErrorInvalidInput, "order id is required", nil)
	}

	var updated domain.Appointment
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		aptRef, doc, err := r.getAppointmentTx(ctx, tx, appointmentID)
		if err != nil {
			return err
		}
		if domain.AppointmentStatus(doc.Status).Terminal() {
			return repositories.NewSchedulingError(repositories.SchedulingErrorInvalidState,
				fmt.Sprintf("appointment %s is %s", appointmentID, doc.Status), nil)
		}
		if doc.OrderID == orderID {
			updated = doc.toDomain(appointmentID)
			return nil
		}

		targetDoc, err := r.orders.GetTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		target := targetDoc.Data
		if domain.OrderStatus(target.Status) != domain.OrderStatusOpen {
			return repositories.NewSchedulingError(repositories.SchedulingErrorOrderClosed,
				fmt.Sprintf("order %s is closed", orderID), nil)
		}
		if target.WorkshopID != doc.WorkshopID {
			return repositories.NewSchedulingError(repositories.SchedulingErrorWorkshopMismatch,
				fmt.Sprintf("order %s belongs to workshop %d, appointment to %d", orderID, target.WorkshopID, doc.WorkshopID), nil)
		}

		doc.OrderID = orderID
		doc.UpdatedAt = now.UTC()
		if err := tx.Set(aptRef, doc); err != nil {
			return err
		}

		updated = doc.toDomain(appointmentID)
		return nil
	})
	if err != nil {
		return domain.Appointment{}, wrapSchedulingError("appointments.relink", err)
	}
	return updated, nil
}

// AppendNote adds a note to the appointment. Cancelled appointments reject notes.
func (r *AppointmentRepository) AppendNote(ctx context.Context, appointmentID string, note domain.Note, now time.Time) (domain.Appointment, error) {
	if r == nil || r.provider == nil {
		return domain.Appointment{}, errors.New("appointment repository not initialised")
	}

	var updated domain.Appointment
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		aptRef, doc, err := r.getAppointmentTx(ctx, tx, appointmentID)
		if err != nil {
			return err
		}
		if domain.AppointmentStatus(doc.Status) == domain.AppointmentStatusCancelled {
			return repositories.NewSchedulingError(repositories.SchedulingErrorInvalidState,
				fmt.Sprintf("appointment %s is cancelled", appointmentID), nil)
		}

		doc.Notes = append(doc.Notes, noteDocument{
			Content:   note.Content,
			AuthorID:  note.AuthorID,
			CreatedAt: note.CreatedAt.UTC(),
		})
		doc.UpdatedAt = now.UTC()
		if err := tx.Set(aptRef, doc); err != nil {
			return err
		}
		updated = doc.toDomain(appointmentID)
		return nil
	})
	if err != nil {
		return domain.Appointment{}, wrapSchedulingError("appointments.append_note", err)
	}
	return updated, nil
}

// FindByID fetches a single appointment.
func (r *AppointmentRepository) FindByID(ctx context.Context, appointmentID string) (domain.Appointment, error) {
	doc, err := r.appointments.Get(ctx, appointmentID)
	if err != nil {
		return domain.Appointment{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ListByOrder returns every appointment linked to the order, oldest slot first.
func (r *AppointmentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Appointment, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, repositories.NewSchedulingError(repositories.SchedulingErrorInvalidInput, "order id is required", nil)
	}
	docs, err := r.appointments.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID).OrderBy("startAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	appointments := make([]domain.Appointment, 0, len(docs))
	for _, doc := range docs {
		appointments = append(appointments, doc.Data.toDomain(doc.ID))
	}
	return appointments, nil
}

// ListByWorkshop returns the workshop's appointments intersecting the window.
// A zero window returns everything.
func (r *AppointmentRepository) ListByWorkshop(ctx context.Context, workshopID int64, window domain.Slot) ([]domain.Appointment, error) {
	if workshopID <= 0 {
		return nil, repositories.NewSchedulingError(repositories.SchedulingErrorInvalidInput, "workshop id is required", nil)
	}
	docs, err := r.appointments.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("workshopId", "==", workshopID)
		if !window.IsZero() {
			q = q.Where("endAt", ">", window.StartAt.UTC())
		}
		return q.OrderBy("endAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	appointments := make([]domain.Appointment, 0, len(docs))
	for _, doc := range docs {
		appointment := doc.Data.toDomain(doc.ID)
		if !window.IsZero() && !appointment.Slot.StartAt.Before(window.EndAt) {
			continue
		}
		appointments = append(appointments, appointment)
	}
	return appointments, nil
}

// activeSlotsTx reads the workshop's bookings that end after the given instant
// and returns them as booked slots for the overlap check. Status filtering
// happens in domain.FindConflict.
func (r *AppointmentRepository) activeSlotsTx(ctx context.Context, tx *firestore.Transaction, workshopID int64, after time.Time) ([]domain.BookedSlot, error) {
	docs, err := r.appointments.QueryTx(ctx, tx, func(q firestore.Query) firestore.Query {
		return q.Where("workshopId", "==", workshopID).
			Where("endAt", ">", after.UTC())
	})
	if err != nil {
		return nil, err
	}
	slots := make([]domain.BookedSlot, 0, len(docs))
	for _, doc := range docs {
		slots = append(slots, domain.BookedSlot{
			AppointmentID: doc.ID,
			Status:        domain.AppointmentStatus(doc.Data.Status),
			Slot: domain.Slot{
				StartAt: doc.Data.StartAt,
				EndAt:   doc.Data.EndAt,
			},
		})
	}
	return slots, nil
}

func (r *AppointmentRepository) getAppointmentTx(ctx context.Context, tx *firestore.Transaction, appointmentID string) (*firestore.DocumentRef, appointmentDocument, error) {
	ref, err := r.appointments.Doc(ctx, appointmentID)
	if err != nil {
		return nil, appointmentDocument{}, err
	}
	doc, err := r.appointments.GetTx(ctx, tx, appointmentID)
	if err != nil {
		return nil, appointmentDocument{}, err
	}
	return ref, doc.Data, nil
}

func wrapSchedulingError(op string, err error) error {
	if err == nil {
		return nil
	}
	var schedErr *repositories.SchedulingError
	if errors.As(err, &schedErr) {
		if schedErr.Op == "" {
			schedErr.Op = op
		}
		return schedErr
	}
	return pfirestore.WrapError(op, err)
}
