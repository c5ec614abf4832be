package models

import (
	"errors"
	"math"
	"time"
)

// Identity is the user identity bound to a connection at authentication
// time. It is captured once per connection and never re-fetched for
// individual location updates.
type Identity struct {
	UserID string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// User is a user record as returned by the external user directory.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Active bool   `json:"active"`
}

// Location is a GPS fix reported by a client.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
}

// Validate checks that the coordinates are finite and within range.
func (l *Location) Validate() error {
	if math.IsNaN(l.Latitude) || math.IsInf(l.Latitude, 0) ||
		math.IsNaN(l.Longitude) || math.IsInf(l.Longitude, 0) {
		return errors.New("coordinates must be finite numbers")
	}
	if l.Latitude < -90 || l.Latitude > 90 {
		return errors.New("latitude must be between -90 and 90")
	}
	if l.Longitude < -180 || l.Longitude > 180 {
		return errors.New("longitude must be between -180 and 180")
	}
	return nil
}

// PresenceEntry is one actively-sharing member of a trip. The registry
// is the sole owner of these values.
type PresenceEntry struct {
	UserID       string
	Name         string
	Avatar       string
	ConnID       string // current live connection, reassigned on reconnect
	LastLocation *Location
	LastUpdate   time.Time
	Active       bool // reserved for pause semantics; always true today
}

// ActiveMember is the wire representation of a presence entry as seen
// by other trip members.
type ActiveMember struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Avatar     string    `json:"avatar,omitempty"`
	LastUpdate time.Time `json:"lastUpdate"`
	Location   *Location `json:"location,omitempty"`
}

// SharingStatus describes a single user's sharing state within a trip.
type SharingStatus struct {
	IsSharing                  bool `json:"isSharing"`
	TripMembersCount           int  `json:"tripMembersCount"`
	ActiveLocationMembersCount int  `json:"activeLocationMembersCount"`
}

// TrackingStats is the process-wide presence summary.
type TrackingStats struct {
	TotalActiveTrips int       `json:"totalActiveTrips"`
	TotalActiveUsers int       `json:"totalActiveUsers"`
	Timestamp        time.Time `json:"timestamp"`
}

// APIResponse is the REST response envelope.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}
