package models

import (
	"encoding/json"
	"time"
)

// Event names exchanged over the websocket transport.
const (
	// client -> server
	EventStartSharing = "start-sharing"
	EventSendLocation = "send-location"
	EventStopSharing  = "stop-sharing"

	// server -> client
	EventUserStartedSharing    = "user-started-sharing"
	EventActiveMembersSnapshot = "active-members-snapshot"
	EventReceiveLocation       = "receive-location"
	EventUserStoppedSharing    = "user-stopped-sharing"
	EventUserDisconnected      = "user-disconnected"
	EventLocationError         = "location-error"
)

// Envelope frames every websocket message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// StartSharingRequest is the payload of start-sharing and stop-sharing.
type StartSharingRequest struct {
	TripID string `json:"tripId"`
}

// SendLocationRequest is the payload of send-location. Timestamp is
// unix milliseconds; zero means "use server time".
type SendLocationRequest struct {
	TripID    string  `json:"tripId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
	Timestamp int64   `json:"timestamp,omitempty"`
}

// UserEvent is the payload of user-started-sharing, user-stopped-sharing
// and user-disconnected.
type UserEvent struct {
	User Identity `json:"user"`
}

// SnapshotEvent is the payload of active-members-snapshot, sent to the
// originating connection only.
type SnapshotEvent struct {
	ActiveMembers []ActiveMember `json:"activeMembers"`
}

// LocationEvent is the payload of receive-location.
type LocationEvent struct {
	User     Identity       `json:"user"`
	Location LocationUpdate `json:"location"`
}

// LocationUpdate is a location stamped with its update time.
type LocationUpdate struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorEvent is the payload of location-error, sent to the sender only.
type ErrorEvent struct {
	Message string `json:"message"`
}
