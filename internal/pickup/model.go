package pickup

import (
	"time"

	"github.com/google/uuid"
)

type RequestStatus string

const (
	RequestOpen      RequestStatus = "open"
	RequestRequested RequestStatus = "requested"
	RequestAccepted  RequestStatus = "accepted"
	RequestClosed    RequestStatus = "closed"
	RequestCancelled RequestStatus = "cancelled"
	RequestDeleted   RequestStatus = "deleted"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusAccepted  AppointmentStatus = "accepted"
	StatusRejected  AppointmentStatus = "rejected"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

type Role string

const (
	RoleProducer  Role = "producer"
	RoleCollector Role = "collector"
	RoleAdmin     Role = "admin"
)

type User struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	Role      Role
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Material struct {
	ID        uuid.UUID
	Name      string
	Category  *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Request is a posted offer of recyclable material awaiting pickup.
// Rows are never physically deleted; RequestDeleted marks end of life.
type Request struct {
	ID          uuid.UUID
	OwnerID     uuid.UUID
	MaterialID  uuid.UUID
	Description string
	Latitude    *float64
	Longitude   *float64
	Status      RequestStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Appointment is a collector's claim against a Request. Exactly one
// non-terminal appointment may reference a request at any time.
type Appointment struct {
	ID          uuid.UUID
	RequestID   uuid.UUID
	CollectorID uuid.UUID
	PickupDate  time.Time // calendar date, midnight UTC
	PickupTime  string    // wall-clock time of day, e.g. "09:00"
	Status      AppointmentStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TransitionResult describes one committed lifecycle transition. It is
// what the notification dispatcher consumes.
type TransitionResult struct {
	AppointmentID uuid.UUID
	RequestID     uuid.UUID
	CollectorID   uuid.UUID
	OwnerID       uuid.UUID
	ActorID       uuid.UUID
	Transition    Transition
	Previous      AppointmentStatus
	New           AppointmentStatus
	RequestStatus RequestStatus
}

type RequestDetail struct {
	Request
	Material *Material
	Owner    *User
}

type AppointmentDetail struct {
	Appointment
	Request *Request
}

func (s AppointmentStatus) Terminal() bool {
	switch s {
	case StatusRejected, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

func (s RequestStatus) Terminal() bool {
	switch s {
	case RequestClosed, RequestCancelled, RequestDeleted:
		return true
	}
	return false
}
