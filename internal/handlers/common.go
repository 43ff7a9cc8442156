package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	domain "github.com/workshoplane/api/internal/domain"
)

var errBodyTooLarge = errors.New("request body too large")

// readLimitedBody reads the full request body while enforcing a byte ceiling.
func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, errBodyTooLarge
	}
	return body, nil
}

func parseTimeParam(raw string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

func parseID64(raw string) (int64, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("must be a positive integer")
	}
	return value, nil
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339)
}

func formatTimePtr(ts *time.Time) string {
	if ts == nil {
		return ""
	}
	return formatTime(*ts)
}

type notePayload struct {
	Content   string `json:"content"`
	AuthorID  int64  `json:"author_id"`
	CreatedAt string `json:"created_at"`
}

type appointmentPayload struct {
	ID          string        `json:"id"`
	OrderID     string        `json:"order_id"`
	Status      string        `json:"status"`
	StartAt     string        `json:"start_at"`
	EndAt       string        `json:"end_at"`
	Notes       []notePayload `json:"notes"`
	CreatedAt   string        `json:"created_at"`
	UpdatedAt   string        `json:"updated_at,omitempty"`
	CancelledAt string        `json:"cancelled_at,omitempty"`
}

func buildAppointmentPayload(appointment domain.Appointment) appointmentPayload {
	notes := make([]notePayload, 0, len(appointment.Notes))
	for _, note := range appointment.Notes {
		notes = append(notes, notePayload{
			Content:   note.Content,
			AuthorID:  note.AuthorID,
			CreatedAt: formatTime(note.CreatedAt),
		})
	}
	return appointmentPayload{
		ID:          appointment.ID,
		OrderID:     appointment.OrderID,
		Status:      string(appointment.Status),
		StartAt:     formatTime(appointment.Slot.StartAt),
		EndAt:       formatTime(appointment.Slot.EndAt),
		Notes:       notes,
		CreatedAt:   formatTime(appointment.CreatedAt),
		UpdatedAt:   formatTime(appointment.UpdatedAt),
		CancelledAt: formatTimePtr(appointment.CancelledAt),
	}
}

type partyRefPayload struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
}

type orderPayload struct {
	ID                string          `json:"id"`
	Code              string          `json:"code"`
	Status            string          `json:"status"`
	Workshop          partyRefPayload `json:"workshop"`
	Vehicle           partyRefPayload `json:"vehicle"`
	Driver            partyRefPayload `json:"driver"`
	TotalAppointments int64           `json:"total_appointments"`
	OpenedAt          string          `json:"opened_at"`
	ClosedAt          string          `json:"closed_at,omitempty"`
	CreatedAt         string          `json:"created_at"`
	UpdatedAt         string          `json:"updated_at,omitempty"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	return orderPayload{
		ID:     order.ID,
		Code:   order.Code.Value,
		Status: string(order.Status),
		Workshop: partyRefPayload{
			ID:          order.Workshop.ID,
			DisplayName: order.Workshop.DisplayName,
		},
		Vehicle: partyRefPayload{
			ID:          order.Vehicle.ID,
			DisplayName: order.Vehicle.DisplayName,
		},
		Driver: partyRefPayload{
			ID:          order.Driver.ID,
			DisplayName: order.Driver.DisplayName,
		},
		TotalAppointments: order.TotalAppointments,
		OpenedAt:          formatTime(order.OpenedAt),
		ClosedAt:          formatTimePtr(order.ClosedAt),
		CreatedAt:         formatTime(order.CreatedAt),
		UpdatedAt:         formatTime(order.UpdatedAt),
	}
}

type appointmentListResponse struct {
	Items []appointmentPayload `json:"items"`
}

func buildAppointmentListResponse(appointments []domain.Appointment) appointmentListResponse {
	items := make([]appointmentPayload, 0, len(appointments))
	for _, appointment := range appointments {
		items = append(items, buildAppointmentPayload(appointment))
	}
	return appointmentListResponse{Items: items}
}
