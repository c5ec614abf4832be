package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"tripresence/internal/auth"
	"tripresence/internal/models"
	"tripresence/internal/trips"
)

// PresenceQuerier is the read-only view of the presence registry used
// by the REST query surface.
type PresenceQuerier interface {
	ActiveMembers(tripID string) []models.ActiveMember
	Status(ctx context.Context, tripID, userID string) (models.SharingStatus, error)
	Stats() models.TrackingStats
}

// LocationHandler serves the polling endpoints for clients that are
// not connected over the websocket.
type LocationHandler struct {
	querier PresenceQuerier
	oracle  trips.Oracle
}

// NewLocationHandler creates a new LocationHandler
func NewLocationHandler(querier PresenceQuerier, oracle trips.Oracle) *LocationHandler {
	return &LocationHandler{
		querier: querier,
		oracle:  oracle,
	}
}

// GetActiveMembers handles GET /api/v1/location/trip/{trip_id}/active
func (h *LocationHandler) GetActiveMembers(w http.ResponseWriter, r *http.Request) {
	tripID, _, ok := h.authorize(w, r)
	if !ok {
		return
	}

	members := h.querier.ActiveMembers(tripID)
	h.writeJSONResponse(w, http.StatusOK, models.APIResponse{
		Success: true,
		Data: map[string]any{
			"tripId":        tripID,
			"activeMembers": members,
			"count":         len(members),
		},
	})
}

// GetStatus handles GET /api/v1/location/trip/{trip_id}/status
func (h *LocationHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	tripID, userID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	status, err := h.querier.Status(r.Context(), tripID, userID)
	if err != nil {
		var notFound *trips.TripNotFoundError
		if errors.As(err, &notFound) {
			h.writeErrorResponse(w, http.StatusNotFound, "trip not found")
			return
		}
		h.writeErrorResponse(w, http.StatusInternalServerError, "failed to get sharing status")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, models.APIResponse{Success: true, Data: status})
}

// GetStats handles GET /api/v1/location/stats
func (h *LocationHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, models.APIResponse{
		Success: true,
		Data:    h.querier.Stats(),
	})
}

// SharingSettings are the per-trip location sharing knobs exposed to
// the mobile client. They are not persisted yet; the PUT endpoint
// validates and echoes them.
type SharingSettings struct {
	LocationSharingEnabled bool  `json:"locationSharingEnabled"`
	UpdateIntervalMs       int64 `json:"updateInterval"`
	HighAccuracyEnabled    bool  `json:"highAccuracyEnabled"`
}

func defaultSharingSettings() SharingSettings {
	return SharingSettings{
		LocationSharingEnabled: true,
		UpdateIntervalMs:       10000,
		HighAccuracyEnabled:    true,
	}
}

// GetSettings handles GET /api/v1/location/trip/{trip_id}/settings
func (h *LocationHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	tripID, _, ok := h.authorize(w, r)
	if !ok {
		return
	}

	h.writeJSONResponse(w, http.StatusOK, models.APIResponse{
		Success: true,
		Data: map[string]any{
			"tripId":   tripID,
			"settings": defaultSharingSettings(),
		},
	})
}

// UpdateSettings handles PUT /api/v1/location/trip/{trip_id}/settings
func (h *LocationHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	tripID, _, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var req SharingSettings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	// Clamp the update interval to [5s, 60s]
	if req.UpdateIntervalMs <= 0 {
		req.UpdateIntervalMs = defaultSharingSettings().UpdateIntervalMs
	}
	req.UpdateIntervalMs = min(max(req.UpdateIntervalMs, (5 * time.Second).Milliseconds()), (60 * time.Second).Milliseconds())

	h.writeJSONResponse(w, http.StatusOK, models.APIResponse{
		Success: true,
		Data: map[string]any{
			"tripId":   tripID,
			"settings": req,
		},
	})
}

// authorize resolves the trip id and caller, and enforces trip
// membership. It writes the error response itself when the check
// fails.
func (h *LocationHandler) authorize(w http.ResponseWriter, r *http.Request) (tripID, userID string, ok bool) {
	tripID = mux.Vars(r)["trip_id"]
	if tripID == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, "trip_id is required")
		return "", "", false
	}

	userID = auth.GetUserIDFromContext(r.Context())
	if userID == "" {
		h.writeErrorResponse(w, http.StatusUnauthorized, "authentication required")
		return "", "", false
	}

	members, err := h.oracle.Members(r.Context(), tripID)
	if err != nil {
		var notFound *trips.TripNotFoundError
		if errors.As(err, &notFound) {
			h.writeErrorResponse(w, http.StatusNotFound, "trip not found")
			return "", "", false
		}
		h.writeErrorResponse(w, http.StatusInternalServerError, "failed to verify trip membership")
		return "", "", false
	}

	for _, member := range members {
		if member == userID {
			return tripID, userID, true
		}
	}

	h.writeErrorResponse(w, http.StatusForbidden, "Access denied to this trip")
	return "", "", false
}

// writeJSONResponse writes a JSON response
func (h *LocationHandler) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeErrorResponse writes an error response
func (h *LocationHandler) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	h.writeJSONResponse(w, statusCode, models.APIResponse{
		Success: false,
		Error:   message,
	})
}
