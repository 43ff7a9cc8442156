package firestore

import (
	"time"

	domain "github.com/workshoplane/api/internal/domain"
)

const (
	appointmentsCollection = "appointments"
	ordersCollection       = "orders"
	countersCollection     = "counters"
	workshopsCollection    = "workshops"
	vehiclesCollection     = "vehicles"
	driversCollection      = "drivers"
)

type noteDocument struct {
	Content   string    `firestore:"content"`
	AuthorID  int64     `firestore:"authorId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

// appointmentDocument carries a denormalised workshopId so slot queries can
// run without joining through the order. The domain model derives workshop
// identity from the order only.
type appointmentDocument struct {
	OrderID     string         `firestore:"orderId"`
	WorkshopID  int64          `firestore:"workshopId"`
	Status      string         `firestore:"status"`
	StartAt     time.Time      `firestore:"startAt"`
	EndAt       time.Time      `firestore:"endAt"`
	Notes       []noteDocument `firestore:"notes"`
	CreatedAt   time.Time      `firestore:"createdAt"`
	UpdatedAt   time.Time      `firestore:"updatedAt"`
	CancelledAt *time.Time     `firestore:"cancelledAt,omitempty"`
}

func newAppointmentDocument(appointment domain.Appointment, workshopID int64) appointmentDocument {
	notes := make([]noteDocument, 0, len(appointment.Notes))
	for _, note := range appointment.Notes {
		notes = append(notes, noteDocument{
			Content:   note.Content,
			AuthorID:  note.AuthorID,
			CreatedAt: note.CreatedAt.UTC(),
		})
	}
	doc := appointmentDocument{
		OrderID:    appointment.OrderID,
		WorkshopID: workshopID,
		Status:     string(appointment.Status),
		StartAt:    appointment.Slot.StartAt.UTC(),
		EndAt:      appointment.Slot.EndAt.UTC(),
		Notes:      notes,
		CreatedAt:  appointment.CreatedAt.UTC(),
		UpdatedAt:  appointment.UpdatedAt.UTC(),
	}
	if appointment.CancelledAt != nil {
		cancelled := appointment.CancelledAt.UTC()
		doc.CancelledAt = &cancelled
	}
	return doc
}

func (d appointmentDocument) toDomain(id string) domain.Appointment {
	notes := make([]domain.Note, 0, len(d.Notes))
	for _, note := range d.Notes {
		notes = append(notes, domain.Note{
			Content:   note.Content,
			AuthorID:  note.AuthorID,
			CreatedAt: note.CreatedAt,
		})
	}
	return domain.Appointment{
		ID:      id,
		OrderID: d.OrderID,
		Status:  domain.AppointmentStatus(d.Status),
		Slot: domain.Slot{
			StartAt: d.StartAt,
			EndAt:   d.EndAt,
		},
		Notes:       notes,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		CancelledAt: d.CancelledAt,
	}
}

type orderDocument struct {
	Code              string     `firestore:"code"`
	Status            string     `firestore:"status"`
	WorkshopID        int64      `firestore:"workshopId"`
	WorkshopName      string     `firestore:"workshopName"`
	VehicleID         int64      `firestore:"vehicleId"`
	VehicleName       string     `firestore:"vehicleName"`
	DriverID          int64      `firestore:"driverId"`
	DriverName        string     `firestore:"driverName"`
	TotalAppointments int64      `firestore:"totalAppointments"`
	OpenedAt          time.Time  `firestore:"openedAt"`
	ClosedAt          *time.Time `firestore:"closedAt,omitempty"`
	CreatedAt         time.Time  `firestore:"createdAt"`
	UpdatedAt         time.Time  `firestore:"updatedAt"`
}

func newOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		Code:              order.Code.Value,
		Status:            string(order.Status),
		WorkshopID:        order.Workshop.ID,
		WorkshopName:      order.Workshop.DisplayName,
		VehicleID:         order.Vehicle.ID,
		VehicleName:       order.Vehicle.DisplayName,
		DriverID:          order.Driver.ID,
		DriverName:        order.Driver.DisplayName,
		TotalAppointments: order.TotalAppointments,
		OpenedAt:          order.OpenedAt.UTC(),
		CreatedAt:         order.CreatedAt.UTC(),
		UpdatedAt:         order.UpdatedAt.UTC(),
	}
	if order.ClosedAt != nil {
		closed := order.ClosedAt.UTC()
		doc.ClosedAt = &closed
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	return domain.Order{
		ID: id,
		Code: domain.OrderCode{
			Value:      d.Code,
			WorkshopID: d.WorkshopID,
		},
		Status:            domain.OrderStatus(d.Status),
		Workshop:          domain.WorkshopRef{ID: d.WorkshopID, DisplayName: d.WorkshopName},
		Vehicle:           domain.VehicleRef{ID: d.VehicleID, DisplayName: d.VehicleName},
		Driver:            domain.DriverRef{ID: d.DriverID, DisplayName: d.DriverName},
		TotalAppointments: d.TotalAppointments,
		OpenedAt:          d.OpenedAt,
		ClosedAt:          d.ClosedAt,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	Step         int64     `firestore:"step"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

type workshopDocument struct {
	Name string `firestore:"name"`
}

type vehicleDocument struct {
	Name string `firestore:"name"`
}

type driverDocument struct {
	Name       string  `firestore:"name"`
	VehicleIDs []int64 `firestore:"vehicleIds"`
}
