package notify

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

	"github.com/greenloop/pickup-coordinator/internal/pickup"
)

type memStore struct {
	mu        sync.Mutex
	inserted  []Notification
	insertErr error
}

func (s *memStore) Insert(ctx context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserted = append(s.inserted, *n)
	return nil
}

func (s *memStore) ListByRecipient(ctx context.Context, recipientID uuid.UUID, limit, offset int) ([]Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Notification
	for _, n := range s.inserted {
		if n.RecipientID == recipientID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *memStore) MarkRead(ctx context.Context, id, recipientID uuid.UUID) error {
	return nil
}

func (s *memStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

type fakePusher struct {
	mu        sync.Mutex
	sent      []uuid.UUID
	delivered bool
}

func (p *fakePusher) Send(ctx context.Context, userID uuid.UUID, payload any) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, userID)
	return p.delivered
}

type fakeResolver struct {
	name string
	err  error
}

func (r *fakeResolver) DisplayName(ctx context.Context, userID uuid.UUID) (string, error) {
	return r.name, r.err
}

func result(t pickup.Transition, actor, owner, collector uuid.UUID) pickup.TransitionResult {
	return pickup.TransitionResult{
		AppointmentID: uuid.New(),
		RequestID:     uuid.New(),
		CollectorID:   collector,
		OwnerID:       owner,
		ActorID:       actor,
		Transition:    t,
	}
}

func TestDispatch_ClaimNotifiesOwner(t *testing.T) {
	store := &memStore{}
	pusher := &fakePusher{delivered: true}
	d := NewDispatcher(store, pusher, &fakeResolver{name: "Carl"}, time.Hour, zerolog.Nop())

	owner, collector := uuid.New(), uuid.New()
	d.TransitionCommitted(context.Background(), result(pickup.TransitionClaim, collector, owner, collector))

	require.Len(t, store.inserted, 1)
	n := store.inserted[0]
	assert.Equal(t, owner, n.RecipientID)
	assert.Equal(t, collector, n.ActorID)
	assert.Equal(t, KindClaimed, n.Kind)
	assert.Contains(t, n.Body, "Carl")
	assert.False(t, n.Read)
	require.NotNil(t, n.ExpiresAt)
	assert.True(t, n.ExpiresAt.After(n.CreatedAt))

	require.Len(t, pusher.sent, 1)
	assert.Equal(t, owner, pusher.sent[0])
}

func TestDispatch_RecipientIsOtherParty(t *testing.T) {
	owner, collector := uuid.New(), uuid.New()

	tests := []struct {
		name      string
		res       pickup.TransitionResult
		recipient uuid.UUID
		kind      Kind
	}{
		{"accept by owner", result(pickup.TransitionAccept, owner, owner, collector), collector, KindAccepted},
		{"reject by owner", result(pickup.TransitionReject, owner, owner, collector), collector, KindRejected},
		{"cancel by collector", result(pickup.TransitionCancel, collector, owner, collector), owner, KindCancelled},
		{"cancel by owner", result(pickup.TransitionCancel, owner, owner, collector), collector, KindCancelled},
		{"cancel by system", result(pickup.TransitionCancel, uuid.Nil, owner, collector), collector, KindCancelled},
		{"complete by collector", result(pickup.TransitionComplete, collector, owner, collector), owner, KindCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memStore{}
			d := NewDispatcher(store, &fakePusher{}, &fakeResolver{name: "Sam"}, 0, zerolog.Nop())

			d.TransitionCommitted(context.Background(), tt.res)

			require.Len(t, store.inserted, 1)
			assert.Equal(t, tt.recipient, store.inserted[0].RecipientID)
			assert.Equal(t, tt.kind, store.inserted[0].Kind)
			assert.Nil(t, store.inserted[0].ExpiresAt, "zero ttl means no expiry")
		})
	}
}

func TestDispatch_ResolverFailureFallsBack(t *testing.T) {
	store := &memStore{}
	d := NewDispatcher(store, &fakePusher{}, &fakeResolver{err: errors.New("user service down")}, 0, zerolog.Nop())

	owner, collector := uuid.New(), uuid.New()
	d.TransitionCommitted(context.Background(), result(pickup.TransitionAccept, owner, owner, collector))

	require.Len(t, store.inserted, 1)
	assert.Contains(t, store.inserted[0].Body, FallbackActorName)
}

func TestDispatch_StoreFailureStillPushes(t *testing.T) {
	store := &memStore{insertErr: errors.New("disk full")}
	pusher := &fakePusher{}
	d := NewDispatcher(store, pusher, &fakeResolver{name: "Sam"}, 0, zerolog.Nop())

	owner, collector := uuid.New(), uuid.New()

	// Must not panic or surface the error anywhere.
	d.TransitionCommitted(context.Background(), result(pickup.TransitionComplete, collector, owner, collector))

	assert.Empty(t, store.inserted)
	assert.Len(t, pusher.sent, 1)
}

func TestDispatch_NilPusher(t *testing.T) {
	store := &memStore{}
	d := NewDispatcher(store, nil, &fakeResolver{name: "Sam"}, 0, zerolog.Nop())

	owner, collector := uuid.New(), uuid.New()
	d.TransitionCommitted(context.Background(), result(pickup.TransitionReject, owner, owner, collector))

	require.Len(t, store.inserted, 1)
}

func TestRenderCoversAllKinds(t *testing.T) {
	for _, kind := range []Kind{KindClaimed, KindAccepted, KindRejected, KindCancelled, KindCompleted} {
		title, body := render(kind, "Sam")
		assert.NotEmpty(t, title, string(kind))
		assert.Contains(t, body, "Sam", string(kind))
	}
}
