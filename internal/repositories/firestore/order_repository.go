package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/workshoplane/api/internal/domain"
	pfirestore "github.com/workshoplane/api/internal/platform/firestore"
	"github.com/workshoplane/api/internal/repositories"
)

// OrderRepository implements repositories.OrderRepository backed by Firestore.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[orderDocument](provider, ordersCollection, nil),
	}, nil
}

// FindByID fetches a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByCode looks an order up by its booking code.
func (r *OrderRepository) FindByCode(ctx context.Context, code string) (domain.Order, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Order{}, repositories.NewSchedulingError(repositories.SchedulingErrorInvalidInput, "order code is required", nil)
	}
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", code).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, notFoundError(fmt.Sprintf("orders.find_by_code: order %s not found", code))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// FindOpen returns the open order for the exact (workshop, vehicle, driver)
// triple, if any.
func (r *OrderRepository) FindOpen(ctx context.Context, workshopID int64, vehicleID int64, driverID int64) (domain.Order, error) {
	if workshopID <= 0 || vehicleID <= 0 || driverID <= 0 {
		return domain.Order{}, repositories.NewSchedulingError(repositories.SchedulingErrorInvalidInput, "workshop, vehicle, and driver ids are required", nil)
	}
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("workshopId", "==", workshopID).
			Where("vehicleId", "==", vehicleID).
			Where("driverId", "==", driverID).
			Where("status", "==", string(domain.OrderStatusOpen)).
			Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, notFoundError(fmt.Sprintf("orders.find_open: no open order for vehicle %d, driver %d at workshop %d", vehicleID, driverID, workshopID))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// List returns orders matching the filter, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.WorkshopID > 0 {
			q = q.Where("workshopId", "==", filter.WorkshopID)
		}
		if filter.VehicleID > 0 {
			q = q.Where("vehicleId", "==", filter.VehicleID)
		}
		if filter.Status != "" {
			q = q.Where("status", "==", string(filter.Status))
		}
		q = q.OrderBy("openedAt", firestore.Desc)
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}
	return orders, nil
}

// Open inserts a new open order after verifying its booking code is unused.
func (r *OrderRepository) Open(ctx context.Context, order domain.Order) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return domain.Order{}, repositories.NewSchedulingError(repositories.SchedulingErrorInvalidInput, "order id is required", nil)
	}
	if strings.TrimSpace(order.Code.Value) == "" {
		return domain.Order{}, repositories.NewSchedulingError(repositories.SchedulingErrorInvalidInput, "order code is required", nil)
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		duplicates, err := r.orders.QueryTx(ctx, tx, func(q firestore.Query) firestore.Query {
			return q.Where("code", "==", order.Code.Value).Limit(1)
		})
		if err != nil {
			return err
		}
		if len(duplicates) > 0 {
			return repositories.NewSchedulingError(repositories.SchedulingErrorDuplicateCode,
				fmt.Sprintf("order code %s already issued", order.Code.Value), nil)
		}

		ref, err := r.orders.Doc(ctx, order.ID)
		if err != nil {
			return err
		}
		return tx.Create(ref, newOrderDocument(order))
	})
	if err != nil {
		return domain.Order{}, wrapSchedulingError("orders.open", err)
	}
	return order, nil
}

// Close transitions the order to closed. The transition is rejected while the
// appointment counter is non-zero; completion and cancellation both release
// counter slots, so a closable order has no active appointments left.
func (r *OrderRepository) Close(ctx context.Context, orderID string, now time.Time) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}

	var closed domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := r.orders.GetTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		order := doc.Data
		if domain.OrderStatus(order.Status) == domain.OrderStatusClosed {
			return repositories.NewSchedulingError(repositories.SchedulingErrorOrderClosed,
				fmt.Sprintf("order %s is already closed", orderID), nil)
		}

		if order.TotalAppointments > 0 {
			return repositories.NewSchedulingError(repositories.SchedulingErrorOrderNotEmpty,
				fmt.Sprintf("order %s still counts %d appointments", orderID, order.TotalAppointments), nil)
		}

		closedAt := now.UTC()
		order.Status = string(domain.OrderStatusClosed)
		order.ClosedAt = &closedAt
		order.UpdatedAt = closedAt

		ref, err := r.orders.Doc(ctx, orderID)
		if err != nil {
			return err
		}
		if err := tx.Set(ref, order); err != nil {
			return err
		}
		closed = order.toDomain(orderID)
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapSchedulingError("orders.close", err)
	}
	return closed, nil
}
