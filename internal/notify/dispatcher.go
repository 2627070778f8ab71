package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/greenloop/pickup-coordinator/internal/pickup"
)

var ErrNotificationNotFound = errors.New("notification not found")

// Store persists notifications. Append-only; it does not take part in
// the lifecycle transaction.
type Store interface {
	Insert(ctx context.Context, n *Notification) error
	ListByRecipient(ctx context.Context, recipientID uuid.UUID, limit, offset int) ([]Notification, error)
	MarkRead(ctx context.Context, id, recipientID uuid.UUID) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Pusher is the best-effort real-time channel. Send reports whether the
// payload reached at least one connection; a false return is not an
// error.
type Pusher interface {
	Send(ctx context.Context, userID uuid.UUID, payload any) bool
}

// Resolver turns a user id into a display name for message templates.
type Resolver interface {
	DisplayName(ctx context.Context, userID uuid.UUID) (string, error)
}

// Dispatcher turns committed transition results into notifications.
// Every failure in here is logged and swallowed; nothing propagates
// back to the lifecycle coordinator or its callers.
type Dispatcher struct {
	store    Store
	pusher   Pusher
	resolver Resolver
	ttl      time.Duration
	log      zerolog.Logger
}

func NewDispatcher(store Store, pusher Pusher, resolver Resolver, ttl time.Duration, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		pusher:   pusher,
		resolver: resolver,
		ttl:      ttl,
		log:      log.With().Str("component", "notify-dispatcher").Logger(),
	}
}

// TransitionCommitted implements pickup.Notifier.
func (d *Dispatcher) TransitionCommitted(ctx context.Context, res pickup.TransitionResult) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	kind, ok := kindFor(res.Transition)
	if !ok {
		d.log.Warn().Str("transition", string(res.Transition)).Msg("no notification kind for transition")
		return
	}

	recipient := recipientOf(res)
	if recipient == uuid.Nil {
		return
	}

	actorName := FallbackActorName
	if res.ActorID != uuid.Nil && d.resolver != nil {
		if name, err := d.resolver.DisplayName(ctx, res.ActorID); err == nil && name != "" {
			actorName = name
		} else if err != nil {
			d.log.Debug().Err(err).Stringer("actor_id", res.ActorID).Msg("display name lookup failed, using fallback")
		}
	}

	title, body := render(kind, actorName)

	now := time.Now()
	n := &Notification{
		ID:            uuid.New(),
		RecipientID:   recipient,
		ActorID:       res.ActorID,
		Kind:          kind,
		Title:         title,
		Body:          body,
		RequestID:     res.RequestID,
		AppointmentID: res.AppointmentID,
		Read:          false,
		CreatedAt:     now,
	}
	if d.ttl > 0 {
		expires := now.Add(d.ttl)
		n.ExpiresAt = &expires
	}

	if err := d.store.Insert(ctx, n); err != nil {
		d.log.Error().Err(err).
			Str("kind", string(kind)).
			Stringer("recipient_id", recipient).
			Msg("failed to persist notification")
		// Still attempt the push: the transition is committed and the
		// recipient deserves the signal even if the log write failed.
	}

	if d.pusher == nil {
		return
	}

	delivered := d.pusher.Send(ctx, recipient, pushPayload{
		Kind:          kind,
		Title:         title,
		Body:          body,
		RequestID:     res.RequestID,
		AppointmentID: res.AppointmentID,
		CreatedAt:     now,
	})
	d.log.Debug().
		Bool("delivered", delivered).
		Str("kind", string(kind)).
		Stringer("recipient_id", recipient).
		Msg("push attempted")
}

type pushPayload struct {
	Kind          Kind      `json:"kind"`
	Title         string    `json:"title"`
	Body          string    `json:"body"`
	RequestID     uuid.UUID `json:"request_id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	CreatedAt     time.Time `json:"created_at"`
}
