package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/greenloop/pickup-coordinator/internal/notify"
	"github.com/greenloop/pickup-coordinator/internal/pickup"
	redisclient "github.com/greenloop/pickup-coordinator/internal/redis"
)

func createRequestHandler(svc *pickup.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateRequestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		ownerID, err := uuid.Parse(req.OwnerID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_owner_id", "owner_id must be a valid UUID")
			return
		}
		materialID, err := uuid.Parse(req.MaterialID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_material_id", "material_id must be a valid UUID")
			return
		}

		created, err := svc.CreateRequest(r.Context(), ownerID, materialID, req.Description, req.Latitude, req.Longitude)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toRequestResponse(created))
	}
}

func listRequestsHandler(svc *pickup.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := paging(r)

		requests, err := svc.ListOpenRequests(r.Context(), limit, offset)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := make([]RequestResponse, 0, len(requests))
		for i := range requests {
			resp = append(resp, toRequestResponse(&requests[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getRequestHandler(svc *pickup.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		detail, err := svc.GetRequest(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toRequestResponse(&detail.Request))
	}
}

func deleteRequestHandler(svc *pickup.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_user_id", "user_id query parameter must be a valid UUID")
			return
		}

		if err := svc.DeleteRequest(r.Context(), id, userID); err != nil {
			handleServiceError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func claimRequestHandler(svc *pickup.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		var req ClaimRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		collectorID, err := uuid.Parse(req.CollectorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_collector_id", "collector_id must be a valid UUID")
			return
		}

		pickupDate, err := time.Parse("2006-01-02", req.PickupDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_pickup_date", "pickup_date must be formatted as YYYY-MM-DD")
			return
		}

		appt, err := svc.Claim(r.Context(), requestID, collectorID, pickupDate, req.PickupTime)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *pickup.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		detail, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(&detail.Appointment))
	}
}

func listAppointmentsHandler(svc *pickup.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		collectorID, err := uuid.Parse(r.URL.Query().Get("collector_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_collector_id", "collector_id query parameter must be a valid UUID")
			return
		}

		limit, offset := paging(r)

		appts, err := svc.ListAppointmentsByCollector(r.Context(), collectorID, limit, offset)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, toAppointmentResponse(&appts[i].Appointment))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func transitionHandler(t pickup.Transition, svc *pickup.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		var req ActorRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		userID, err := uuid.Parse(req.UserID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_user_id", "user_id must be a valid UUID")
			return
		}

		var res *pickup.TransitionResult
		switch t {
		case pickup.TransitionAccept:
			res, err = svc.Accept(r.Context(), id, userID)
		case pickup.TransitionReject:
			res, err = svc.Reject(r.Context(), id, userID)
		case pickup.TransitionCancel:
			role := pickup.Role(req.Role)
			if role == "" {
				role = pickup.RoleCollector
			}
			res, err = svc.Cancel(r.Context(), id, userID, role)
		case pickup.TransitionComplete:
			res, err = svc.Complete(r.Context(), id, userID)
		default:
			writeError(w, http.StatusNotFound, "unknown_transition", "unknown transition")
			return
		}
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toTransitionResponse(res))
	}
}

func listNotificationsHandler(store notify.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_user_id", "user_id query parameter must be a valid UUID")
			return
		}

		limit, offset := paging(r)

		notifications, err := store.ListByRecipient(r.Context(), userID, limit, offset)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		resp := make([]NotificationResponse, 0, len(notifications))
		for _, n := range notifications {
			resp = append(resp, toNotificationResponse(n))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func markNotificationReadHandler(store notify.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		var req ActorRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		userID, err := uuid.Parse(req.UserID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_user_id", "user_id must be a valid UUID")
			return
		}

		if err := store.MarkRead(r.Context(), id, userID); err != nil {
			if errors.Is(err, notify.ErrNotificationNotFound) {
				writeError(w, http.StatusNotFound, "notification_not_found", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func handleServiceError(w http.ResponseWriter, err error) {
	var ite *pickup.InvalidTransitionError

	switch {
	case errors.Is(err, pickup.ErrRequestNotFound):
		writeError(w, http.StatusNotFound, "request_not_found", err.Error())
	case errors.Is(err, pickup.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, pickup.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user_not_found", err.Error())
	case errors.Is(err, pickup.ErrMaterialNotFound):
		writeError(w, http.StatusNotFound, "material_not_found", err.Error())
	case errors.Is(err, pickup.ErrSelfClaim):
		writeError(w, http.StatusForbidden, "self_claim_forbidden", err.Error())
	case errors.Is(err, pickup.ErrNotParticipant):
		writeError(w, http.StatusForbidden, "not_participant", err.Error())
	case errors.Is(err, pickup.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, pickup.ErrRequestNotDeletable):
		writeError(w, http.StatusConflict, "request_not_deletable", err.Error())
	case errors.As(err, &ite):
		writeError(w, http.StatusConflict, "invalid_state_transition", err.Error())
	case errors.Is(err, pickup.ErrRequestBeingClaimed),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "request_being_claimed", "request is currently being claimed, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func parseIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// paging clamps client-supplied values so they are safe to hand to any
// store: limit in [1,100] with a default of 20, offset never negative.
func paging(r *http.Request) (limit, offset int) {
	limit = 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 100 {
		limit = 100
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			offset = n
		}
	}
	return limit, offset
}
