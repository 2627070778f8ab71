package pickup

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-memory implementation of Repository with
// the same transactional semantics as the Postgres one: InTx snapshots
// all state and restores it if fn fails, and the conditional status
// updates check-and-set under one mutex. It backs tests and local
// development without a database.
type MemoryRepository struct {
	mu           sync.Mutex
	users        map[uuid.UUID]User
	materials    map[uuid.UUID]Material
	requests     map[uuid.UUID]Request
	appointments map[uuid.UUID]Appointment

	inTx bool
	hook func(op string) error // fault injection, tests only
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:        make(map[uuid.UUID]User),
		materials:    make(map[uuid.UUID]Material),
		requests:     make(map[uuid.UUID]Request),
		appointments: make(map[uuid.UUID]Appointment),
	}
}

// SeedUser and SeedMaterial populate reference data that the
// coordinator only ever reads.

func (m *MemoryRepository) SeedUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	m.users[u.ID] = u
}

func (m *MemoryRepository) SeedMaterial(mat Material) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mat.ID == uuid.Nil {
		mat.ID = uuid.New()
	}
	m.materials[mat.ID] = mat
}

func (m *MemoryRepository) InTx(ctx context.Context, fn func(Repository) error) error {
	if m.inTx {
		return fn(m)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapRequests := cloneMap(m.requests)
	snapAppointments := cloneMap(m.appointments)

	tx := &MemoryRepository{
		users:        m.users,
		materials:    m.materials,
		requests:     m.requests,
		appointments: m.appointments,
		inTx:         true,
		hook:         m.hook,
	}

	if err := fn(tx); err != nil {
		m.requests = snapRequests
		m.appointments = snapAppointments
		return err
	}
	return nil
}

func (m *MemoryRepository) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *MemoryRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	defer m.lock()()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (m *MemoryRepository) GetMaterialByID(ctx context.Context, id uuid.UUID) (*Material, error) {
	defer m.lock()()
	mat, ok := m.materials[id]
	if !ok {
		return nil, ErrMaterialNotFound
	}
	return &mat, nil
}

func (m *MemoryRepository) CreateRequest(ctx context.Context, req *Request) error {
	defer m.lock()()
	if err := m.fail("CreateRequest"); err != nil {
		return err
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	now := time.Now()
	req.Status = RequestOpen
	req.CreatedAt = now
	req.UpdatedAt = now
	m.requests[req.ID] = *req
	return nil
}

func (m *MemoryRepository) GetRequestByID(ctx context.Context, id uuid.UUID) (*Request, error) {
	defer m.lock()()
	req, ok := m.requests[id]
	if !ok || req.Status == RequestDeleted {
		return nil, ErrRequestNotFound
	}
	return &req, nil
}

func (m *MemoryRepository) GetRequestDetail(ctx context.Context, id uuid.UUID) (*RequestDetail, error) {
	req, err := m.GetRequestByID(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := &RequestDetail{Request: *req}
	if u, err := m.GetUserByID(ctx, req.OwnerID); err == nil {
		detail.Owner = u
	}
	if mat, err := m.GetMaterialByID(ctx, req.MaterialID); err == nil {
		detail.Material = mat
	}
	return detail, nil
}

func (m *MemoryRepository) ListOpenRequests(ctx context.Context, limit, offset int) ([]Request, error) {
	defer m.lock()()
	var result []Request
	for _, req := range m.requests {
		if req.Status == RequestOpen {
			result = append(result, req)
		}
	}
	return window(result, limit, offset), nil
}

func (m *MemoryRepository) UpdateRequestStatus(ctx context.Context, id uuid.UUID, from []RequestStatus, to RequestStatus) (*Request, error) {
	defer m.lock()()
	if err := m.fail("UpdateRequestStatus"); err != nil {
		return nil, err
	}
	req, ok := m.requests[id]
	if !ok {
		return nil, ErrStaleStatus
	}
	for _, f := range from {
		if req.Status == f {
			req.Status = to
			req.UpdatedAt = time.Now()
			m.requests[id] = req
			return &req, nil
		}
	}
	return nil, ErrStaleStatus
}

func (m *MemoryRepository) CreateAppointment(ctx context.Context, appt *Appointment) error {
	defer m.lock()()
	if err := m.fail("CreateAppointment"); err != nil {
		return err
	}
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	now := time.Now()
	appt.Status = StatusPending
	appt.CreatedAt = now
	appt.UpdatedAt = now
	m.appointments[appt.ID] = *appt
	return nil
}

func (m *MemoryRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	defer m.lock()()
	appt, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &appt, nil
}

func (m *MemoryRepository) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	appt, err := m.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	req, err := m.GetRequestByID(ctx, appt.RequestID)
	if err != nil {
		return nil, err
	}
	return &AppointmentDetail{Appointment: *appt, Request: req}, nil
}

func (m *MemoryRepository) ListAppointmentsByCollector(ctx context.Context, collectorID uuid.UUID, limit, offset int) ([]AppointmentDetail, error) {
	defer m.lock()()
	var result []AppointmentDetail
	for _, appt := range m.appointments {
		if appt.CollectorID != collectorID {
			continue
		}
		req, ok := m.requests[appt.RequestID]
		if !ok {
			continue
		}
		reqCopy := req
		result = append(result, AppointmentDetail{Appointment: appt, Request: &reqCopy})
	}
	return window(result, limit, offset), nil
}

func (m *MemoryRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from []AppointmentStatus, to AppointmentStatus) (*Appointment, error) {
	defer m.lock()()
	if err := m.fail("UpdateAppointmentStatus"); err != nil {
		return nil, err
	}
	appt, ok := m.appointments[id]
	if !ok {
		return nil, ErrStaleStatus
	}
	for _, f := range from {
		if appt.Status == f {
			appt.Status = to
			appt.UpdatedAt = time.Now()
			m.appointments[id] = appt
			return &appt, nil
		}
	}
	return nil, ErrStaleStatus
}

func (m *MemoryRepository) FindStalePending(ctx context.Context, olderThan time.Time) ([]Appointment, error) {
	defer m.lock()()
	var result []Appointment
	for _, appt := range m.appointments {
		if appt.Status == StatusPending && appt.CreatedAt.Before(olderThan) {
			result = append(result, appt)
		}
	}
	return result, nil
}

func (m *MemoryRepository) fail(op string) error {
	if m.hook != nil {
		return m.hook(op)
	}
	return nil
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func window[T any](in []T, limit, offset int) []T {
	if offset >= len(in) {
		return nil
	}
	in = in[offset:]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}
