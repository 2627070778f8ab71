package pickup

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrMaterialNotFound    = errors.New("material not found")
	ErrRequestNotFound     = errors.New("request not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrStaleStatus is returned by conditional status updates whose
	// WHERE clause matched no row: the entity moved on between the read
	// and the write, or never existed.
	ErrStaleStatus = errors.New("status changed concurrently")
)

// Repository contains all DB interactions needed by the coordinator.
// InTx runs fn against a transaction-bound repository; every write fn
// performs is committed or rolled back as one unit.
type Repository interface {
	InTx(ctx context.Context, fn func(r Repository) error) error

	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetMaterialByID(ctx context.Context, id uuid.UUID) (*Material, error)

	CreateRequest(ctx context.Context, req *Request) error
	GetRequestByID(ctx context.Context, id uuid.UUID) (*Request, error)
	GetRequestDetail(ctx context.Context, id uuid.UUID) (*RequestDetail, error)
	ListOpenRequests(ctx context.Context, limit, offset int) ([]Request, error)

	// UpdateRequestStatus is a conditional update: the row moves from
	// one of the given statuses to the target, or ErrStaleStatus.
	UpdateRequestStatus(ctx context.Context, id uuid.UUID, from []RequestStatus, to RequestStatus) (*Request, error)

	CreateAppointment(ctx context.Context, appt *Appointment) error
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error)
	ListAppointmentsByCollector(ctx context.Context, collectorID uuid.UUID, limit, offset int) ([]AppointmentDetail, error)

	// UpdateAppointmentStatus is the conditional-update counterpart for
	// appointments.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from []AppointmentStatus, to AppointmentStatus) (*Appointment, error)

	// Expiry worker
	FindStalePending(ctx context.Context, olderThan time.Time) ([]Appointment, error)
}
