package pickup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenloop/pickup-coordinator/internal/config"
)

// nopLocker always grants the lock, so tests exercise the conditional
// updates directly.
type nopLocker struct{}

func (nopLocker) WithRequestLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type recordingNotifier struct {
	ch chan TransitionResult
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{ch: make(chan TransitionResult, 16)}
}

func (n *recordingNotifier) TransitionCommitted(_ context.Context, res TransitionResult) {
	n.ch <- res
}

func (n *recordingNotifier) next(t *testing.T) TransitionResult {
	t.Helper()
	select {
	case res := <-n.ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("no transition result dispatched")
		return TransitionResult{}
	}
}

type fixture struct {
	repo      *MemoryRepository
	svc       *Service
	notifier  *recordingNotifier
	owner     uuid.UUID
	collector uuid.UUID
	material  uuid.UUID
	request   uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := NewMemoryRepository()
	notifier := newRecordingNotifier()
	cfg := config.Config{ClaimTTL: time.Nanosecond}
	svc := NewService(repo, nopLocker{}, notifier, cfg, zerolog.Nop())

	owner := User{ID: uuid.New(), Name: "Paula Producer", Role: RoleProducer}
	collector := User{ID: uuid.New(), Name: "Carl Collector", Role: RoleCollector}
	material := Material{ID: uuid.New(), Name: "Cardboard"}
	repo.SeedUser(owner)
	repo.SeedUser(collector)
	repo.SeedMaterial(material)

	req, err := svc.CreateRequest(context.Background(), owner.ID, material.ID, "two bags of cardboard", nil, nil)
	require.NoError(t, err)

	return &fixture{
		repo:      repo,
		svc:       svc,
		notifier:  notifier,
		owner:     owner.ID,
		collector: collector.ID,
		material:  material.ID,
		request:   req.ID,
	}
}

func (f *fixture) claim(t *testing.T) *Appointment {
	t.Helper()
	appt, err := f.svc.Claim(context.Background(), f.request, f.collector, tomorrow(), "09:00")
	require.NoError(t, err)
	return appt
}

func (f *fixture) requestStatus(t *testing.T) RequestStatus {
	t.Helper()
	req, err := f.repo.GetRequestByID(context.Background(), f.request)
	require.NoError(t, err)
	return req.Status
}

func (f *fixture) appointmentStatus(t *testing.T, id uuid.UUID) AppointmentStatus {
	t.Helper()
	appt, err := f.repo.GetAppointmentByID(context.Background(), id)
	require.NoError(t, err)
	return appt.Status
}

func tomorrow() time.Time {
	return time.Now().UTC().AddDate(0, 0, 1)
}

func TestClaim(t *testing.T) {
	f := newFixture(t)

	appt := f.claim(t)

	assert.Equal(t, StatusPending, appt.Status)
	assert.Equal(t, f.request, appt.RequestID)
	assert.Equal(t, f.collector, appt.CollectorID)
	assert.Equal(t, RequestRequested, f.requestStatus(t))

	res := f.notifier.next(t)
	assert.Equal(t, TransitionClaim, res.Transition)
	assert.Equal(t, f.collector, res.ActorID)
	assert.Equal(t, f.owner, res.OwnerID)
}

func TestClaim_SelfClaimForbidden(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Claim(context.Background(), f.request, f.owner, tomorrow(), "09:00")

	require.ErrorIs(t, err, ErrSelfClaim)
	assert.Equal(t, RequestOpen, f.requestStatus(t))
}

func TestClaim_SelfClaimForbiddenRegardlessOfState(t *testing.T) {
	f := newFixture(t)
	f.claim(t)

	// Even once the request is no longer open, the self-claim check
	// fires first.
	_, err := f.svc.Claim(context.Background(), f.request, f.owner, tomorrow(), "09:00")
	require.ErrorIs(t, err, ErrSelfClaim)
}

func TestClaim_InvalidInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Claim(context.Background(), f.request, f.collector, time.Now().UTC().AddDate(0, 0, -1), "09:00")
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.Claim(context.Background(), f.request, f.collector, tomorrow(), "  ")
	require.ErrorIs(t, err, ErrInvalidInput)

	assert.Equal(t, RequestOpen, f.requestStatus(t))
}

func TestClaim_RequestNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Claim(context.Background(), uuid.New(), f.collector, tomorrow(), "09:00")
	require.ErrorIs(t, err, ErrRequestNotFound)
}

func TestClaim_AlreadyClaimed(t *testing.T) {
	f := newFixture(t)
	f.claim(t)

	other := User{ID: uuid.New(), Name: "Second Collector", Role: RoleCollector}
	f.repo.SeedUser(other)

	_, err := f.svc.Claim(context.Background(), f.request, other.ID, tomorrow(), "10:00")

	var ite *InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, "request", ite.Entity)
	assert.Equal(t, string(RequestRequested), ite.Current)
}

func TestClaim_ConcurrentMutualExclusion(t *testing.T) {
	f := newFixture(t)

	const collectors = 8
	ids := make([]uuid.UUID, collectors)
	for i := range ids {
		u := User{ID: uuid.New(), Name: "Racer", Role: RoleCollector}
		f.repo.SeedUser(u)
		ids[i] = u.ID
	}

	var wg sync.WaitGroup
	errs := make([]error, collectors)
	for i := 0; i < collectors; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Claim(context.Background(), f.request, ids[i], tomorrow(), "09:00")
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		var ite *InvalidTransitionError
		require.ErrorAs(t, err, &ite, "losers must fail with an invalid transition, got %v", err)
	}
	assert.Equal(t, 1, successes, "exactly one concurrent claim must win")
	assert.Equal(t, RequestRequested, f.requestStatus(t))
}

func TestAccept(t *testing.T) {
	f := newFixture(t)
	appt := f.claim(t)
	f.notifier.next(t)

	res, err := f.svc.Accept(context.Background(), appt.ID, f.owner)
	require.NoError(t, err)

	assert.Equal(t, StatusPending, res.Previous)
	assert.Equal(t, StatusAccepted, res.New)
	assert.Equal(t, RequestAccepted, res.RequestStatus)
	assert.Equal(t, StatusAccepted, f.appointmentStatus(t, appt.ID))
	assert.Equal(t, RequestAccepted, f.requestStatus(t))

	notified := f.notifier.next(t)
	assert.Equal(t, TransitionAccept, notified.Transition)
	assert.Equal(t, f.owner, notified.ActorID)
}

func TestAccept_OnlyOwner(t *testing.T) {
	f := newFixture(t)
	appt := f.claim(t)

	_, err := f.svc.Accept(context.Background(), appt.ID, f.collector)
	require.ErrorIs(t, err, ErrNotParticipant)
	assert.Equal(t, StatusPending, f.appointmentStatus(t, appt.ID))
}

func TestAccept_TerminalIdempotence(t *testing.T) {
	f := newFixture(t)
	appt := f.claim(t)

	_, err := f.svc.Accept(context.Background(), appt.ID, f.owner)
	require.NoError(t, err)

	_, err = f.svc.Accept(context.Background(), appt.ID, f.owner)
	var ite *InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, string(StatusAccepted), ite.Current)

	// Neither entity moved.
	assert.Equal(t, StatusAccepted, f.appointmentStatus(t, appt.ID))
	assert.Equal(t, RequestAccepted, f.requestStatus(t))
}

func TestReject_ReopensRequest(t *testing.T) {
	f := newFixture(t)
	appt := f.claim(t)

	res, err := f.svc.Reject(context.Background(), appt.ID, f.owner)
	require.NoError(t, err)

	assert.Equal(t, StatusRejected, res.New)
	assert.Equal(t, RequestOpen, f.requestStatus(t))

	// The request is claimable again by a different collector.
	other := User{ID: uuid.New(), Name: "Second Collector", Role: RoleCollector}
	f.repo.SeedUser(other)
	appt2, err := f.svc.Claim(context.Background(), f.request, other.ID, tomorrow(), "14:00")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, appt2.Status)

	// The rejected appointment stays terminal.
	assert.Equal(t, StatusRejected, f.appointmentStatus(t, appt.ID))
}

func TestCancel_PendingByCollector(t *testing.T) {
	f := newFixture(t)
	appt := f.claim(t)

	res, err := f.svc.Cancel(context.Background(), appt.ID, f.collector, RoleCollector)
	require.NoError(t, err)

	assert.Equal(t, StatusPending, res.Previous)
	assert.Equal(t, StatusCancelled, res.New)
	assert.Equal(t, RequestOpen, f.requestStatus(t))
}

// staleReadRepo runs interpose once after an appointment read, opening
// the window between a coordinator's read and its conditional update.
type staleReadRepo struct {
	Repository
	interpose func()
}

func (r *staleReadRepo) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	detail, err := r.Repository.GetAppointmentDetail(ctx, id)
	if err == nil && r.interpose != nil {
		fn := r.interpose
		r.interpose = nil
		fn()
	}
	return detail, err
}

func TestCancel_RacingAcceptNeverMisreportsPreviousStatus(t *testing.T) {
	f := newFixture(t)
	appt := f.claim(t)

	// An accept commits right after Cancel read the row as pending. The
	// cancel's conditional update must go stale rather than succeed
	// while reporting a pending→cancelled transition that never
	// happened.
	repo := &staleReadRepo{Repository: f.repo}
	repo.interpose = func() {
		_, err := f.svc.Accept(context.Background(), appt.ID, f.owner)
		require.NoError(t, err)
	}
	svc := NewService(repo, nopLocker{}, nil, config.Config{}, zerolog.Nop())

	_, err := svc.Cancel(context.Background(), appt.ID, f.collector, RoleCollector)

	var ite *InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, string(StatusAccepted), ite.Current)
	assert.Equal(t, StatusAccepted, f.appointmentStatus(t, appt.ID))

	// A retry sees the committed state and reports it faithfully.
	res, err := svc.Cancel(context.Background(), appt.ID, f.collector, RoleCollector)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, res.Previous)
	assert.Equal(t, StatusCancelled, res.New)
}

func TestCancel_AcceptedByOwner(t *testing.T) {
	f := newFixture(t)
	appt := f.claim(t)

	_, err := f.svc.Accept(context.Background(), appt.ID, f.owner)
	require.NoError(t, err)

	res, err := f.svc.Cancel(context.Background(), appt.ID, f.owner, RoleProducer)
	require.NoError(t, err)

	assert.Equal(t, StatusAccepted, res.Previous)
	assert.Equal(t, StatusCancelled, res.New)
	assert.Equal(t, RequestOpen, f.requestStatus(t))
}

func TestCancel_StrangerForbidden(t *testing.T) {
	f := newFixture(t)
	appt := f.claim(t)

	stranger := User{ID: uuid.New(), Name: "Stranger", Role: RoleCollector}
	f.repo.SeedUser(stranger)

	_, err := f.svc.Cancel(context.Background(), appt.ID, stranger.ID, RoleCollector)
	require.ErrorIs(t, err, ErrNotParticipant)
	assert.Equal(t, StatusPending, f.appointmentStatus(t, appt.ID))
}

func TestCancel_CompletedForbidden(t *testing.T) {
	f := newFixture(t)
	appt := f.claim(t)

	_, err := f.svc.Accept(context.Background(), appt.ID, f.owner)
	require.NoError(t, err)
	_, err = f.svc.Complete(context.Background(), appt.ID, f.collector)
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), appt.ID, f.collector, RoleCollector)
	var ite *InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, string(StatusCompleted), ite.Current)
}

func TestComplete(t *testing.T) {
	f := newFixture(t)
	appt := f.claim(t)

	_, err := f.svc.Accept(context.Background(), appt.ID, f.owner)
	require.NoError(t, err)

	res, err := f.svc.Complete(context.Background(), appt.ID, f.collector)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.New)
	assert.Equal(t, RequestClosed, res.RequestStatus)
	assert.Equal(t, RequestClosed, f.requestStatus(t))
}

func TestComplete_PendingForbidden(t *testing.T) {
	f := newFixture(t)
	appt := f.claim(t)

	_, err := f.svc.Complete(context.Background(), appt.ID, f.collector)
	var ite *InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, string(StatusPending), ite.Current)
}

func TestAccept_AtomicityUnderStoreFailure(t *testing.T) {
	f := newFixture(t)
	appt := f.claim(t)

	// Fail the request-side write so the transaction aborts after the
	// appointment update succeeded.
	boom := errors.New("connection reset")
	f.repo.hook = func(op string) error {
		if op == "UpdateRequestStatus" {
			return boom
		}
		return nil
	}

	_, err := f.svc.Accept(context.Background(), appt.ID, f.owner)
	require.ErrorIs(t, err, boom)

	f.repo.hook = nil

	// Rollback: neither entity reflects the attempted transition.
	assert.Equal(t, StatusPending, f.appointmentStatus(t, appt.ID))
	assert.Equal(t, RequestRequested, f.requestStatus(t))

	// And the transition still works once the store recovers.
	_, err = f.svc.Accept(context.Background(), appt.ID, f.owner)
	require.NoError(t, err)
}

func TestDeleteRequest(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.svc.DeleteRequest(context.Background(), f.request, f.owner))

	_, err := f.repo.GetRequestByID(context.Background(), f.request)
	require.ErrorIs(t, err, ErrRequestNotFound)
}

func TestDeleteRequest_OnlyOwnerAndOnlyOpen(t *testing.T) {
	f := newFixture(t)

	err := f.svc.DeleteRequest(context.Background(), f.request, f.collector)
	require.ErrorIs(t, err, ErrNotParticipant)

	f.claim(t)
	err = f.svc.DeleteRequest(context.Background(), f.request, f.owner)
	require.ErrorIs(t, err, ErrRequestNotDeletable)
}

func TestCancelStalePending(t *testing.T) {
	f := newFixture(t)
	appt := f.claim(t)

	time.Sleep(2 * time.Millisecond) // ClaimTTL is one nanosecond in the fixture

	cancelled, err := f.svc.CancelStalePending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, cancelled)

	assert.Equal(t, StatusCancelled, f.appointmentStatus(t, appt.ID))
	assert.Equal(t, RequestOpen, f.requestStatus(t))

	// A second sweep finds nothing to do.
	cancelled, err = f.svc.CancelStalePending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, cancelled)
}
