package pickup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/greenloop/pickup-coordinator/internal/config"
	redisclient "github.com/greenloop/pickup-coordinator/internal/redis"
)

var (
	ErrSelfClaim           = errors.New("collector may not claim their own request")
	ErrNotParticipant      = errors.New("user is not a participant of this appointment")
	ErrInvalidInput        = errors.New("invalid input")
	ErrRequestBeingClaimed = errors.New("request is currently being claimed, please retry")
	ErrRequestNotDeletable = errors.New("request can only be deleted while open")
)

// Notifier receives committed transition results. Implementations must
// not block the caller on delivery and must never return delivery
// failures into the lifecycle path.
type Notifier interface {
	TransitionCommitted(ctx context.Context, res TransitionResult)
}

// Service is the lifecycle coordinator. It owns the write path for
// request and appointment statuses; every transition is a single
// transaction built from conditional updates.
type Service struct {
	repo     Repository
	locker   redisclient.Locker
	notifier Notifier
	cfg      config.Config
	log      zerolog.Logger
}

func NewService(repo Repository, locker redisclient.Locker, notifier Notifier, cfg config.Config, log zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		locker:   locker,
		notifier: notifier,
		cfg:      cfg,
		log:      log.With().Str("component", "pickup-service").Logger(),
	}
}

// CreateRequest posts a new open request for the given owner.
func (s *Service) CreateRequest(ctx context.Context, ownerID, materialID uuid.UUID, description string, lat, lng *float64) (*Request, error) {
	if strings.TrimSpace(description) == "" {
		return nil, fmt.Errorf("%w: description must not be empty", ErrInvalidInput)
	}
	if _, err := s.repo.GetUserByID(ctx, ownerID); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetMaterialByID(ctx, materialID); err != nil {
		return nil, err
	}

	req := &Request{
		OwnerID:     ownerID,
		MaterialID:  materialID,
		Description: description,
		Latitude:    lat,
		Longitude:   lng,
	}
	if err := s.repo.CreateRequest(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// DeleteRequest marks an open request as deleted. Only the owner may
// delete, and only while no collector has claimed it.
func (s *Service) DeleteRequest(ctx context.Context, id, actingUserID uuid.UUID) error {
	req, err := s.repo.GetRequestByID(ctx, id)
	if err != nil {
		return err
	}
	if req.OwnerID != actingUserID {
		return ErrNotParticipant
	}

	_, err = s.repo.UpdateRequestStatus(ctx, id, []RequestStatus{RequestOpen}, RequestDeleted)
	if errors.Is(err, ErrStaleStatus) {
		return ErrRequestNotDeletable
	}
	return err
}

// Claim reserves an open request for a collector by creating a pending
// appointment. The open→requested flip is a conditional update inside
// the same transaction as the insert, so two concurrent claims can
// never both succeed. A short Redis lock per request sheds stampedes
// before they reach the database.
func (s *Service) Claim(ctx context.Context, requestID, collectorID uuid.UUID, pickupDate time.Time, pickupTime string) (*Appointment, error) {
	if err := validatePickupSlot(pickupDate, pickupTime); err != nil {
		return nil, err
	}

	if _, err := s.repo.GetUserByID(ctx, collectorID); err != nil {
		return nil, err
	}

	req, err := s.repo.GetRequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.OwnerID == collectorID {
		return nil, ErrSelfClaim
	}
	// Fast fail outside the lock; the authoritative check is the
	// conditional update below.
	if err := CheckClaimable(req); err != nil {
		return nil, err
	}

	var created *Appointment

	err = s.locker.WithRequestLock(ctx, requestID, func(lockCtx context.Context) error {
		return s.repo.InTx(lockCtx, func(tx Repository) error {
			reqFrom, reqTo := RequestStatuses(TransitionClaim)
			if _, err := tx.UpdateRequestStatus(lockCtx, requestID, reqFrom, reqTo); err != nil {
				if errors.Is(err, ErrStaleStatus) {
					return s.requestTransitionError(lockCtx, tx, requestID, TransitionClaim)
				}
				return fmt.Errorf("flip request to requested: %w", err)
			}

			appt := &Appointment{
				RequestID:   requestID,
				CollectorID: collectorID,
				PickupDate:  pickupDate,
				PickupTime:  pickupTime,
			}
			if err := tx.CreateAppointment(lockCtx, appt); err != nil {
				return fmt.Errorf("create pending appointment: %w", err)
			}

			created = appt
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrRequestBeingClaimed
		}
		return nil, err
	}

	s.dispatch(ctx, TransitionResult{
		AppointmentID: created.ID,
		RequestID:     requestID,
		CollectorID:   collectorID,
		OwnerID:       req.OwnerID,
		ActorID:       collectorID,
		Transition:    TransitionClaim,
		Previous:      "",
		New:           StatusPending,
		RequestStatus: RequestRequested,
	})

	return created, nil
}

// Accept confirms a pending appointment. Only the request owner may
// accept.
func (s *Service) Accept(ctx context.Context, appointmentID, actingUserID uuid.UUID) (*TransitionResult, error) {
	return s.transition(ctx, TransitionAccept, appointmentID, actingUserID, RoleProducer)
}

// Reject declines a pending appointment and reopens the request. Only
// the request owner may reject.
func (s *Service) Reject(ctx context.Context, appointmentID, actingUserID uuid.UUID) (*TransitionResult, error) {
	return s.transition(ctx, TransitionReject, appointmentID, actingUserID, RoleProducer)
}

// Cancel withdraws a pending or accepted appointment and reopens the
// request. Either participant may cancel; admins may cancel on their
// behalf.
func (s *Service) Cancel(ctx context.Context, appointmentID, actingUserID uuid.UUID, actingRole Role) (*TransitionResult, error) {
	return s.transition(ctx, TransitionCancel, appointmentID, actingUserID, actingRole)
}

// Complete marks an accepted pickup as done and closes the request.
// Either participant may complete. This is the trigger point for the
// rating workflow, which lives outside this service.
func (s *Service) Complete(ctx context.Context, appointmentID, actingUserID uuid.UUID) (*TransitionResult, error) {
	res, err := s.transition(ctx, TransitionComplete, appointmentID, actingUserID, RoleCollector)
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Stringer("appointment_id", res.AppointmentID).
		Stringer("request_id", res.RequestID).
		Msg("pickup completed, rating workflow eligible")
	return res, nil
}

func (s *Service) transition(ctx context.Context, t Transition, appointmentID, actingUserID uuid.UUID, actingRole Role) (*TransitionResult, error) {
	detail, err := s.repo.GetAppointmentDetail(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	appt, req := &detail.Appointment, detail.Request

	if err := authorize(t, appt, req, actingUserID, actingRole); err != nil {
		return nil, err
	}

	to, _, err := CheckTransition(t, appt)
	if err != nil {
		return nil, err
	}

	var result *TransitionResult

	err = s.repo.InTx(ctx, func(tx Repository) error {
		// Condition on the status we read, not the full from-set of the
		// transition. If the row moved between the read and here the
		// update goes stale and we report the current status, instead of
		// committing with a Previous that was never true.
		updated, err := tx.UpdateAppointmentStatus(ctx, appointmentID, []AppointmentStatus{appt.Status}, to)
		if err != nil {
			if errors.Is(err, ErrStaleStatus) {
				return s.appointmentTransitionError(ctx, tx, appointmentID, t)
			}
			return fmt.Errorf("update appointment status: %w", err)
		}

		reqFrom, reqTo := RequestStatuses(t)
		updatedReq, err := tx.UpdateRequestStatus(ctx, appt.RequestID, reqFrom, reqTo)
		if err != nil {
			if errors.Is(err, ErrStaleStatus) {
				return s.requestTransitionError(ctx, tx, appt.RequestID, t)
			}
			return fmt.Errorf("update request status: %w", err)
		}

		result = &TransitionResult{
			AppointmentID: updated.ID,
			RequestID:     updatedReq.ID,
			CollectorID:   appt.CollectorID,
			OwnerID:       req.OwnerID,
			ActorID:       actingUserID,
			Transition:    t,
			Previous:      appt.Status,
			New:           updated.Status,
			RequestStatus: updatedReq.Status,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.dispatch(ctx, *result)
	return result, nil
}

// CancelStalePending is called periodically by the expiry worker. It
// cancels pending appointments older than the claim TTL so stuck
// requests become claimable again.
func (s *Service) CancelStalePending(ctx context.Context) (int, error) {
	if s.cfg.ClaimTTL <= 0 {
		return 0, nil
	}

	cutoff := time.Now().Add(-s.cfg.ClaimTTL)
	stale, err := s.repo.FindStalePending(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find stale pending appointments: %w", err)
	}

	cancelled := 0
	for _, appt := range stale {
		_, err := s.Cancel(ctx, appt.ID, uuid.Nil, RoleAdmin)
		if err != nil {
			var ite *InvalidTransitionError
			if errors.As(err, &ite) {
				continue // raced with a real transition, nothing to do
			}
			s.log.Error().Err(err).
				Stringer("appointment_id", appt.ID).
				Msg("failed to cancel stale appointment")
			continue
		}
		cancelled++
	}

	return cancelled, nil
}

// Reads

func (s *Service) GetRequest(ctx context.Context, id uuid.UUID) (*RequestDetail, error) {
	return s.repo.GetRequestDetail(ctx, id)
}

func (s *Service) ListOpenRequests(ctx context.Context, limit, offset int) ([]Request, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListOpenRequests(ctx, limit, offset)
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	return s.repo.GetAppointmentDetail(ctx, id)
}

func (s *Service) ListAppointmentsByCollector(ctx context.Context, collectorID uuid.UUID, limit, offset int) ([]AppointmentDetail, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListAppointmentsByCollector(ctx, collectorID, limit, offset)
}

// Helpers

func authorize(t Transition, appt *Appointment, req *Request, actingUserID uuid.UUID, actingRole Role) error {
	if actingRole == RoleAdmin {
		return nil
	}
	switch t {
	case TransitionAccept, TransitionReject:
		if actingUserID != req.OwnerID {
			return ErrNotParticipant
		}
	case TransitionCancel, TransitionComplete:
		if actingUserID != req.OwnerID && actingUserID != appt.CollectorID {
			return ErrNotParticipant
		}
	}
	return nil
}

func validatePickupSlot(pickupDate time.Time, pickupTime string) error {
	if strings.TrimSpace(pickupTime) == "" {
		return fmt.Errorf("%w: pickup time must not be empty", ErrInvalidInput)
	}
	today := time.Now().UTC().Truncate(24 * time.Hour)
	if pickupDate.Before(today) {
		return fmt.Errorf("%w: pickup date %s is in the past", ErrInvalidInput, pickupDate.Format("2006-01-02"))
	}
	return nil
}

// requestTransitionError converts a failed conditional update into the
// precise InvalidTransitionError the caller is owed, re-reading the row
// inside the same transaction.
func (s *Service) requestTransitionError(ctx context.Context, tx Repository, id uuid.UUID, t Transition) error {
	req, err := tx.GetRequestByID(ctx, id)
	if err != nil {
		return err
	}
	return &InvalidTransitionError{
		Entity:     "request",
		ID:         id,
		Transition: t,
		Current:    string(req.Status),
	}
}

func (s *Service) appointmentTransitionError(ctx context.Context, tx Repository, id uuid.UUID, t Transition) error {
	appt, err := tx.GetAppointmentByID(ctx, id)
	if err != nil {
		return err
	}
	return &InvalidTransitionError{
		Entity:     "appointment",
		ID:         id,
		Transition: t,
		Current:    string(appt.Status),
	}
}

// dispatch hands a committed result to the notifier on its own
// goroutine. Notification failures never reach the caller.
func (s *Service) dispatch(ctx context.Context, res TransitionResult) {
	if s.notifier == nil {
		return
	}
	go s.notifier.TransitionCommitted(context.WithoutCancel(ctx), res)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
