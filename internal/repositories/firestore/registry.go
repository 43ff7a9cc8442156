package firestore

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/workshoplane/api/internal/platform/firestore"
	"github.com/workshoplane/api/internal/repositories"
)

// Registry wires the Firestore-backed repositories behind the
// repositories.Registry interface.
type Registry struct {
	provider     *pfirestore.Provider
	appointments *AppointmentRepository
	orders       *OrderRepository
	counters     *CounterRepository
	directory    *DirectoryRepository
	health       repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs the full repository set on a shared provider.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	appointments, err := NewAppointmentRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}
	directory, err := NewDirectoryRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:     provider,
		appointments: appointments,
		orders:       orders,
		counters:     counters,
		directory:    directory,
		health:       health,
	}, nil
}

// Close releases the shared Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// Appointments returns the appointment repository.
func (r *Registry) Appointments() repositories.AppointmentRepository { return r.appointments }

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Counters returns the counter repository.
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

// Directory returns the directory repository.
func (r *Registry) Directory() repositories.DirectoryRepository { return r.directory }

// Health returns the health repository.
func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx executes fn directly. The booking repositories open their own
// Firestore transactions per operation, so no outer boundary is required.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("registry: transaction function is nil")
	}
	return fn(ctx)
}

func notFoundError(msg string) error {
	return pfirestore.WrapError("", status.Error(codes.NotFound, msg))
}
