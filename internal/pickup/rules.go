package pickup

import (
	"fmt"

	"github.com/google/uuid"
)

// Transition names a lifecycle operation on a request/appointment pair.
type Transition string

const (
	TransitionClaim    Transition = "claim"
	TransitionAccept   Transition = "accept"
	TransitionReject   Transition = "reject"
	TransitionCancel   Transition = "cancel"
	TransitionComplete Transition = "complete"
)

// rule describes one legal transition: the appointment states it may
// start from and the states both entities end in. Claim has no prior
// appointment, so its From set is empty and guarded separately via the
// request status.
type rule struct {
	From        []AppointmentStatus
	To          AppointmentStatus
	RequestFrom []RequestStatus
	RequestTo   RequestStatus
}

var rules = map[Transition]rule{
	TransitionClaim: {
		To:          StatusPending,
		RequestFrom: []RequestStatus{RequestOpen},
		RequestTo:   RequestRequested,
	},
	TransitionAccept: {
		From:        []AppointmentStatus{StatusPending},
		To:          StatusAccepted,
		RequestFrom: []RequestStatus{RequestRequested},
		RequestTo:   RequestAccepted,
	},
	TransitionReject: {
		From:        []AppointmentStatus{StatusPending},
		To:          StatusRejected,
		RequestFrom: []RequestStatus{RequestRequested},
		RequestTo:   RequestOpen,
	},
	TransitionCancel: {
		From:        []AppointmentStatus{StatusPending, StatusAccepted},
		To:          StatusCancelled,
		RequestFrom: []RequestStatus{RequestRequested, RequestAccepted},
		RequestTo:   RequestOpen,
	},
	TransitionComplete: {
		From:        []AppointmentStatus{StatusAccepted},
		To:          StatusCompleted,
		RequestFrom: []RequestStatus{RequestAccepted},
		RequestTo:   RequestClosed,
	},
}

// InvalidTransitionError reports a transition attempted against an
// entity whose current state does not satisfy the precondition. It is
// never a silent no-op.
type InvalidTransitionError struct {
	Entity     string // "request" or "appointment"
	ID         uuid.UUID
	Transition Transition
	Current    string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s %s %s: current status is %q", e.Transition, e.Entity, e.ID, e.Current)
}

// CheckClaimable validates the request side of a claim.
func CheckClaimable(req *Request) error {
	if req.Status != RequestOpen {
		return &InvalidTransitionError{
			Entity:     "request",
			ID:         req.ID,
			Transition: TransitionClaim,
			Current:    string(req.Status),
		}
	}
	return nil
}

// CheckTransition validates that t may be applied to the appointment in
// its current status and returns the target statuses for both entities.
func CheckTransition(t Transition, appt *Appointment) (AppointmentStatus, RequestStatus, error) {
	r, ok := rules[t]
	if !ok || t == TransitionClaim {
		return "", "", fmt.Errorf("unknown appointment transition %q", t)
	}
	for _, from := range r.From {
		if appt.Status == from {
			return r.To, r.RequestTo, nil
		}
	}
	return "", "", &InvalidTransitionError{
		Entity:     "appointment",
		ID:         appt.ID,
		Transition: t,
		Current:    string(appt.Status),
	}
}

// RequestStatuses reports the request-side from-set and target of
// transition t. The coordinator feeds both into a conditional update so
// the precondition and the write are one atomically-visible statement.
func RequestStatuses(t Transition) ([]RequestStatus, RequestStatus) {
	r := rules[t]
	return r.RequestFrom, r.RequestTo
}
