package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/greenloop/pickup-coordinator/internal/notify"
	"github.com/greenloop/pickup-coordinator/internal/pickup"
)

type CreateRequestRequest struct {
	OwnerID     string   `json:"owner_id"`
	MaterialID  string   `json:"material_id"`
	Description string   `json:"description"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
}

type RequestResponse struct {
	ID          uuid.UUID `json:"id"`
	OwnerID     uuid.UUID `json:"owner_id"`
	MaterialID  uuid.UUID `json:"material_id"`
	Description string    `json:"description"`
	Latitude    *float64  `json:"latitude,omitempty"`
	Longitude   *float64  `json:"longitude,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ClaimRequest struct {
	CollectorID string `json:"collector_id"`
	PickupDate  string `json:"pickup_date"` // 2006-01-02
	PickupTime  string `json:"pickup_time"` // e.g. "09:00"
}

type ActorRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty"`
}

type AppointmentResponse struct {
	ID          uuid.UUID `json:"id"`
	RequestID   uuid.UUID `json:"request_id"`
	CollectorID uuid.UUID `json:"collector_id"`
	PickupDate  string    `json:"pickup_date"`
	PickupTime  string    `json:"pickup_time"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type TransitionResponse struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	RequestID     uuid.UUID `json:"request_id"`
	Transition    string    `json:"transition"`
	Previous      string    `json:"previous_status"`
	New           string    `json:"new_status"`
	RequestStatus string    `json:"request_status"`
}

type NotificationResponse struct {
	ID            uuid.UUID  `json:"id"`
	Kind          string     `json:"kind"`
	Title         string     `json:"title"`
	Body          string     `json:"body"`
	RequestID     uuid.UUID  `json:"request_id"`
	AppointmentID uuid.UUID  `json:"appointment_id"`
	Read          bool       `json:"read"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toRequestResponse(req *pickup.Request) RequestResponse {
	return RequestResponse{
		ID:          req.ID,
		OwnerID:     req.OwnerID,
		MaterialID:  req.MaterialID,
		Description: req.Description,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		Status:      string(req.Status),
		CreatedAt:   req.CreatedAt,
		UpdatedAt:   req.UpdatedAt,
	}
}

func toAppointmentResponse(appt *pickup.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:          appt.ID,
		RequestID:   appt.RequestID,
		CollectorID: appt.CollectorID,
		PickupDate:  appt.PickupDate.Format("2006-01-02"),
		PickupTime:  appt.PickupTime,
		Status:      string(appt.Status),
		CreatedAt:   appt.CreatedAt,
		UpdatedAt:   appt.UpdatedAt,
	}
}

func toTransitionResponse(res *pickup.TransitionResult) TransitionResponse {
	return TransitionResponse{
		AppointmentID: res.AppointmentID,
		RequestID:     res.RequestID,
		Transition:    string(res.Transition),
		Previous:      string(res.Previous),
		New:           string(res.New),
		RequestStatus: string(res.RequestStatus),
	}
}

func toNotificationResponse(n notify.Notification) NotificationResponse {
	return NotificationResponse{
		ID:            n.ID,
		Kind:          string(n.Kind),
		Title:         n.Title,
		Body:          n.Body,
		RequestID:     n.RequestID,
		AppointmentID: n.AppointmentID,
		Read:          n.Read,
		CreatedAt:     n.CreatedAt,
		ExpiresAt:     n.ExpiresAt,
	}
}
