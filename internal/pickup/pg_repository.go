package pickup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same
// repository code serves plain and transactional calls.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool *pgxpool.Pool
	db   querier
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, db: pool}
}

// InTx begins a transaction and runs fn with a repository bound to it.
// Commit on nil, rollback otherwise. Nested InTx reuses the outer
// transaction.
func (r *PgRepository) InTx(ctx context.Context, fn func(Repository) error) error {
	if _, ok := r.db.(pgx.Tx); ok {
		return fn(r)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&PgRepository{pool: r.pool, db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Helpers

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var email *string

	err := row.Scan(
		&u.ID,
		&u.Name,
		&email,
		&u.Role,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	u.Email = email
	return &u, nil
}

func scanMaterial(row pgx.Row) (*Material, error) {
	var m Material
	var category *string

	err := row.Scan(
		&m.ID,
		&m.Name,
		&category,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMaterialNotFound
		}
		return nil, err
	}

	m.Category = category
	return &m, nil
}

func scanRequest(row pgx.Row) (*Request, error) {
	var req Request

	err := row.Scan(
		&req.ID,
		&req.OwnerID,
		&req.MaterialID,
		&req.Description,
		&req.Latitude,
		&req.Longitude,
		&req.Status,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}

	return &req, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.RequestID,
		&a.CollectorID,
		&a.PickupDate,
		&a.PickupTime,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

// Interface methods

func (r *PgRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, email, role, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id)
	return scanUser(row)
}

func (r *PgRepository) GetMaterialByID(ctx context.Context, id uuid.UUID) (*Material, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, category, created_at, updated_at
		FROM materials
		WHERE id = $1
	`, id)
	return scanMaterial(row)
}

func (r *PgRepository) CreateRequest(ctx context.Context, req *Request) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	row := r.db.QueryRow(ctx, `
		INSERT INTO requests (id, owner_id, material_id, description, latitude, longitude, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING id, owner_id, material_id, description, latitude, longitude, status, created_at, updated_at
	`, req.ID, req.OwnerID, req.MaterialID, req.Description, req.Latitude, req.Longitude, RequestOpen)

	created, err := scanRequest(row)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	*req = *created
	return nil
}

func (r *PgRepository) GetRequestByID(ctx context.Context, id uuid.UUID) (*Request, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, owner_id, material_id, description, latitude, longitude, status, created_at, updated_at
		FROM requests
		WHERE id = $1 AND status <> 'deleted'
	`, id)
	return scanRequest(row)
}

func (r *PgRepository) GetRequestDetail(ctx context.Context, id uuid.UUID) (*RequestDetail, error) {
	req, err := r.GetRequestByID(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &RequestDetail{Request: *req}

	if m, err := r.GetMaterialByID(ctx, req.MaterialID); err == nil {
		detail.Material = m
	} else if !errors.Is(err, ErrMaterialNotFound) {
		return nil, err
	}

	if u, err := r.GetUserByID(ctx, req.OwnerID); err == nil {
		detail.Owner = u
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	return detail, nil
}

func (r *PgRepository) ListOpenRequests(ctx context.Context, limit, offset int) ([]Request, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, owner_id, material_id, description, latitude, longitude, status, created_at, updated_at
		FROM requests
		WHERE status = 'open'
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *req)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) UpdateRequestStatus(ctx context.Context, id uuid.UUID, from []RequestStatus, to RequestStatus) (*Request, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE requests
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($3)
		RETURNING id, owner_id, material_id, description, latitude, longitude, status, created_at, updated_at
	`, id, to, statusStrings(from))

	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, ErrRequestNotFound) {
			return nil, ErrStaleStatus
		}
		return nil, err
	}
	return req, nil
}

func (r *PgRepository) CreateAppointment(ctx context.Context, appt *Appointment) error {
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (id, request_id, collector_id, pickup_date, pickup_time, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING id, request_id, collector_id, pickup_date, pickup_time, status, created_at, updated_at
	`, appt.ID, appt.RequestID, appt.CollectorID, appt.PickupDate, appt.PickupTime, StatusPending)

	created, err := scanAppointment(row)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	*appt = *created
	return nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, request_id, collector_id, pickup_date, pickup_time, status, created_at, updated_at
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	appt, err := r.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	req, err := r.GetRequestByID(ctx, appt.RequestID)
	if err != nil {
		return nil, err
	}

	return &AppointmentDetail{Appointment: *appt, Request: req}, nil
}

func (r *PgRepository) ListAppointmentsByCollector(ctx context.Context, collectorID uuid.UUID, limit, offset int) ([]AppointmentDetail, error) {
	rows, err := r.db.Query(ctx, `
		SELECT a.id, a.request_id, a.collector_id, a.pickup_date, a.pickup_time, a.status, a.created_at, a.updated_at,
		       r.id, r.owner_id, r.material_id, r.description, r.latitude, r.longitude, r.status, r.created_at, r.updated_at
		FROM appointments a
		JOIN requests r ON r.id = a.request_id
		WHERE a.collector_id = $1
		ORDER BY a.created_at DESC
		LIMIT $2 OFFSET $3
	`, collectorID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AppointmentDetail
	for rows.Next() {
		var d AppointmentDetail
		var req Request
		err := rows.Scan(
			&d.ID,
			&d.RequestID,
			&d.CollectorID,
			&d.PickupDate,
			&d.PickupTime,
			&d.Status,
			&d.CreatedAt,
			&d.UpdatedAt,
			&req.ID,
			&req.OwnerID,
			&req.MaterialID,
			&req.Description,
			&req.Latitude,
			&req.Longitude,
			&req.Status,
			&req.CreatedAt,
			&req.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		d.Request = &req
		result = append(result, d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from []AppointmentStatus, to AppointmentStatus) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($3)
		RETURNING id, request_id, collector_id, pickup_date, pickup_time, status, created_at, updated_at
	`, id, to, apptStatusStrings(from))

	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrStaleStatus
		}
		return nil, err
	}
	return appt, nil
}

func (r *PgRepository) FindStalePending(ctx context.Context, olderThan time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, request_id, collector_id, pickup_date, pickup_time, status, created_at, updated_at
		FROM appointments
		WHERE status = 'pending'
		  AND created_at < $1
	`, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func statusStrings(in []RequestStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func apptStatusStrings(in []AppointmentStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
