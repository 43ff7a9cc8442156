package firestore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	domain "github.com/workshoplane/api/internal/domain"
	pfirestore "github.com/workshoplane/api/internal/platform/firestore"
	"github.com/workshoplane/api/internal/repositories"
)

// DirectoryRepository resolves fleet directory references (workshops,
// vehicles, drivers) and the relations used for link validation.
type DirectoryRepository struct {
	provider  *pfirestore.Provider
	workshops *pfirestore.Collection[workshopDocument]
	vehicles  *pfirestore.Collection[vehicleDocument]
	drivers   *pfirestore.Collection[driverDocument]
}

var _ repositories.DirectoryRepository = (*DirectoryRepository)(nil)

// NewDirectoryRepository constructs a Firestore-backed directory repository.
func NewDirectoryRepository(provider *pfirestore.Provider) (*DirectoryRepository, error) {
	if provider == nil {
		return nil, errors.New("directory repository requires firestore provider")
	}
	return &DirectoryRepository{
		provider:  provider,
		workshops: pfirestore.NewCollection[workshopDocument](provider, workshopsCollection, nil),
		vehicles:  pfirestore.NewCollection[vehicleDocument](provider, vehiclesCollection, nil),
		drivers:   pfirestore.NewCollection[driverDocument](provider, driversCollection, nil),
	}, nil
}

// Workshop resolves a workshop reference with its directory display name.
func (r *DirectoryRepository) Workshop(ctx context.Context, id int64) (domain.WorkshopRef, error) {
	if id <= 0 {
		return domain.WorkshopRef{}, fmt.Errorf("directory: workshop id must be positive, got %d", id)
	}
	doc, err := r.workshops.Get(ctx, strconv.FormatInt(id, 10))
	if err != nil {
		return domain.WorkshopRef{}, err
	}
	return domain.NewWorkshopRef(id, doc.Data.Name)
}

// Vehicle resolves a vehicle reference with its directory display name.
func (r *DirectoryRepository) Vehicle(ctx context.Context, id int64) (domain.VehicleRef, error) {
	if id <= 0 {
		return domain.VehicleRef{}, fmt.Errorf("directory: vehicle id must be positive, got %d", id)
	}
	doc, err := r.vehicles.Get(ctx, strconv.FormatInt(id, 10))
	if err != nil {
		return domain.VehicleRef{}, err
	}
	return domain.NewVehicleRef(id, doc.Data.Name)
}

// Driver resolves a driver reference with its directory display name.
func (r *DirectoryRepository) Driver(ctx context.Context, id int64) (domain.DriverRef, error) {
	if id <= 0 {
		return domain.DriverRef{}, fmt.Errorf("directory: driver id must be positive, got %d", id)
	}
	doc, err := r.drivers.Get(ctx, strconv.FormatInt(id, 10))
	if err != nil {
		return domain.DriverRef{}, err
	}
	return domain.NewDriverRef(id, doc.Data.Name)
}

// DriverOperatesVehicle reports whether the driver is registered for the vehicle.
func (r *DirectoryRepository) DriverOperatesVehicle(ctx context.Context, driverID int64, vehicleID int64) (bool, error) {
	doc, err := r.drivers.Get(ctx, strconv.FormatInt(driverID, 10))
	if err != nil {
		return false, err
	}
	for _, id := range doc.Data.VehicleIDs {
		if id == vehicleID {
			return true, nil
		}
	}
	return false, nil
}
