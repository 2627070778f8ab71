package notify

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/greenloop/pickup-coordinator/internal/pickup"
)

// Kind is the closed set of notification variants, one per lifecycle
// transition.
type Kind string

const (
	KindClaimed   Kind = "claimed"
	KindAccepted  Kind = "accepted"
	KindRejected  Kind = "rejected"
	KindCancelled Kind = "cancelled"
	KindCompleted Kind = "completed"
)

// Notification is the persisted record handed to the recipient. It is
// independent of the request/appointment rows and may expire.
type Notification struct {
	ID            uuid.UUID
	RecipientID   uuid.UUID
	ActorID       uuid.UUID
	Kind          Kind
	Title         string
	Body          string
	RequestID     uuid.UUID
	AppointmentID uuid.UUID
	Read          bool
	CreatedAt     time.Time
	ExpiresAt     *time.Time
}

// FallbackActorName is used when the display-name lookup fails.
const FallbackActorName = "another user"

func kindFor(t pickup.Transition) (Kind, bool) {
	switch t {
	case pickup.TransitionClaim:
		return KindClaimed, true
	case pickup.TransitionAccept:
		return KindAccepted, true
	case pickup.TransitionReject:
		return KindRejected, true
	case pickup.TransitionCancel:
		return KindCancelled, true
	case pickup.TransitionComplete:
		return KindCompleted, true
	}
	return "", false
}

// recipientOf picks the party who did NOT initiate the transition.
// System-initiated transitions (nil actor) go to the collector, whose
// claim is the thing being acted on.
func recipientOf(res pickup.TransitionResult) uuid.UUID {
	switch res.ActorID {
	case res.CollectorID:
		return res.OwnerID
	case res.OwnerID:
		return res.CollectorID
	default:
		return res.CollectorID
	}
}

// render produces the human-facing title and body for one kind. The
// templates are deliberately a closed set; no free-form concatenation.
func render(kind Kind, actorName string) (title, body string) {
	switch kind {
	case KindClaimed:
		return "New pickup claim",
			fmt.Sprintf("%s wants to pick up your material. Review the proposed date and time.", actorName)
	case KindAccepted:
		return "Claim accepted",
			fmt.Sprintf("%s accepted your pickup claim. The appointment is confirmed.", actorName)
	case KindRejected:
		return "Claim rejected",
			fmt.Sprintf("%s rejected your pickup claim. The request is open again.", actorName)
	case KindCancelled:
		return "Appointment cancelled",
			fmt.Sprintf("%s cancelled the appointment. The request is open again.", actorName)
	case KindCompleted:
		return "Pickup completed",
			fmt.Sprintf("%s marked the pickup as completed.", actorName)
	}
	return "Notification", "Your pickup request was updated."
}
