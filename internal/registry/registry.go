package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tripresence/internal/metrics"
	"tripresence/internal/models"
	"tripresence/internal/trips"
)

// Broadcaster is the transport contract the registry fans out through.
// Delivery is fire-and-forget; the registry never waits on it.
type Broadcaster interface {
	JoinGroup(connID, group string)
	LeaveGroup(connID, group string)
	EmitToGroup(group, event string, payload any, excludeConnID string)
	EmitToConnection(connID, event string, payload any)
}

// GroupKey derives the broadcast group name for a trip. One group per
// trip, stable and collision-free.
func GroupKey(tripID string) string {
	return "trip_" + tripID
}

// Registry tracks, per trip, which users are actively sharing their
// location. It is the sole owner of presence entries: all state lives
// in memory for the life of the process and is rebuilt empty on
// restart.
type Registry struct {
	oracle      trips.Oracle
	broadcaster Broadcaster
	logger      *slog.Logger
	now         func() time.Time

	mu    sync.RWMutex
	trips map[string]map[string]*models.PresenceEntry
}

// New creates a Registry. Constructed once at server startup.
func New(oracle trips.Oracle, broadcaster Broadcaster, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		oracle:      oracle,
		broadcaster: broadcaster,
		logger:      logger,
		now:         time.Now,
		trips:       make(map[string]map[string]*models.PresenceEntry),
	}
}

// StartSharing registers identity as an active sharer of the trip.
// Repeated calls for the same (trip, user) update the existing entry in
// place instead of creating a duplicate, and only the first one
// produces a user-started-sharing notification. The caller always gets
// a fresh snapshot of the other active members.
func (r *Registry) StartSharing(ctx context.Context, tripID string, identity models.Identity, connID string) error {
	ok, err := r.oracle.IsMember(ctx, tripID, identity.UserID)
	if err != nil {
		r.logger.Error("membership check failed", "trip", tripID, "user", identity.UserID, "err", err)
		return &AccessDeniedError{TripID: tripID, UserID: identity.UserID}
	}
	if !ok {
		return &AccessDeniedError{TripID: tripID, UserID: identity.UserID}
	}

	group := GroupKey(tripID)
	r.broadcaster.JoinGroup(connID, group)

	r.mu.Lock()
	set := r.trips[tripID]
	if set == nil {
		set = make(map[string]*models.PresenceEntry)
		r.trips[tripID] = set
	}

	entry, exists := set[identity.UserID]
	if exists {
		// Reconnect or duplicate start: rebind the connection, keep
		// the entry (and its last location) as-is.
		entry.ConnID = connID
		entry.LastUpdate = r.now()
		entry.Active = true
	} else {
		set[identity.UserID] = &models.PresenceEntry{
			UserID:     identity.UserID,
			Name:       identity.Name,
			Avatar:     identity.Avatar,
			ConnID:     connID,
			LastUpdate: r.now(),
			Active:     true,
		}
	}
	snapshot := r.activeMembersLocked(tripID, identity.UserID)
	tripCount, sharerCount := r.countsLocked()
	r.mu.Unlock()

	metrics.SetPresenceCounts(tripCount, sharerCount)

	if !exists {
		r.broadcaster.EmitToGroup(group, models.EventUserStartedSharing, models.UserEvent{User: identity}, connID)
		r.logger.Info("sharing started", "trip", tripID, "user", identity.UserID)
	} else {
		r.logger.Debug("sharing restarted", "trip", tripID, "user", identity.UserID)
	}

	r.broadcaster.EmitToConnection(connID, models.EventActiveMembersSnapshot, models.SnapshotEvent{ActiveMembers: snapshot})
	return nil
}

// UpdateLocation validates and merges a location fix, then fans it out
// to the rest of the trip group. When the update arrives before the
// start-sharing handshake was processed for this connection, the share
// is recovered transparently via recoverShare rather than rejected.
func (r *Registry) UpdateLocation(ctx context.Context, tripID string, identity models.Identity, connID string, loc models.Location, ts time.Time) error {
	if err := loc.Validate(); err != nil {
		return &InvalidLocationError{Reason: err.Error()}
	}

	r.mu.RLock()
	_, known := r.entryLocked(tripID, identity.UserID)
	r.mu.RUnlock()

	if !known {
		if err := r.recoverShare(ctx, tripID, identity, connID); err != nil {
			return err
		}
	}

	if ts.IsZero() {
		ts = r.now()
	}

	r.mu.Lock()
	entry, ok := r.entryLocked(tripID, identity.UserID)
	if !ok {
		// A stop or disconnect won the race while recovering. The stop
		// is final; do not resurrect the entry.
		r.mu.Unlock()
		return nil
	}
	entry.ConnID = connID
	entry.LastLocation = &loc
	entry.LastUpdate = ts
	r.mu.Unlock()

	r.broadcaster.EmitToGroup(GroupKey(tripID), models.EventReceiveLocation, models.LocationEvent{
		User: identity,
		Location: models.LocationUpdate{
			Latitude:  loc.Latitude,
			Longitude: loc.Longitude,
			Accuracy:  loc.Accuracy,
			Timestamp: ts,
		},
	}, connID)
	return nil
}

// recoverShare absorbs the race where a location update is processed
// before its start-sharing event: it performs the equivalent of
// StartSharing, including re-validating membership, so out-of-order
// delivery never surfaces as a user-facing error.
func (r *Registry) recoverShare(ctx context.Context, tripID string, identity models.Identity, connID string) error {
	r.logger.Info("location update before start, recovering share", "trip", tripID, "user", identity.UserID)
	return r.StartSharing(ctx, tripID, identity, connID)
}

// StopSharing removes the user's entry from the trip and notifies the
// remaining group members. Not an error if the user was not sharing.
func (r *Registry) StopSharing(tripID string, identity models.Identity, connID string) {
	group := GroupKey(tripID)

	r.mu.Lock()
	set := r.trips[tripID]
	_, existed := set[identity.UserID]
	if existed {
		delete(set, identity.UserID)
		if len(set) == 0 {
			delete(r.trips, tripID)
		}
	}
	tripCount, sharerCount := r.countsLocked()
	r.mu.Unlock()

	if !existed {
		return
	}

	metrics.SetPresenceCounts(tripCount, sharerCount)
	r.broadcaster.LeaveGroup(connID, group)
	r.broadcaster.EmitToGroup(group, models.EventUserStoppedSharing, models.UserEvent{User: identity}, connID)
	r.logger.Info("sharing stopped", "trip", tripID, "user", identity.UserID)
}

// Disconnect removes every entry backed by connID, across all trips,
// and notifies each trip's remaining members. Safe to call for
// connections that never shared. Local cleanup never depends on
// external lookups or delivery success.
func (r *Registry) Disconnect(connID string) {
	type removal struct {
		tripID   string
		identity models.Identity
	}

	r.mu.Lock()
	var removed []removal
	for tripID, set := range r.trips {
		for userID, entry := range set {
			if entry.ConnID != connID {
				continue
			}
			delete(set, userID)
			removed = append(removed, removal{
				tripID: tripID,
				identity: models.Identity{
					UserID: entry.UserID,
					Name:   entry.Name,
					Avatar: entry.Avatar,
				},
			})
		}
		if len(set) == 0 {
			delete(r.trips, tripID)
		}
	}
	tripCount, sharerCount := r.countsLocked()
	r.mu.Unlock()

	if len(removed) == 0 {
		return
	}

	metrics.SetPresenceCounts(tripCount, sharerCount)
	for _, rm := range removed {
		group := GroupKey(rm.tripID)
		r.broadcaster.EmitToGroup(group, models.EventUserDisconnected, models.UserEvent{User: rm.identity}, connID)
		r.broadcaster.LeaveGroup(connID, group)
		r.logger.Info("sharer disconnected", "trip", rm.tripID, "user", rm.identity.UserID)
	}
}

// ActiveMembers returns the active sharers of a trip, everyone included.
func (r *Registry) ActiveMembers(tripID string) []models.ActiveMember {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeMembersLocked(tripID, "")
}

// IsSharing reports whether the user currently has an entry in the trip.
func (r *Registry) IsSharing(tripID, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entryLocked(tripID, userID)
	return ok
}

// Status summarizes a user's sharing state within a trip. The trip
// member count comes from the oracle; *trips.TripNotFoundError passes
// through for unknown trips.
func (r *Registry) Status(ctx context.Context, tripID, userID string) (models.SharingStatus, error) {
	members, err := r.oracle.Members(ctx, tripID)
	if err != nil {
		return models.SharingStatus{}, err
	}

	r.mu.RLock()
	_, sharing := r.entryLocked(tripID, userID)
	active := len(r.trips[tripID])
	r.mu.RUnlock()

	return models.SharingStatus{
		IsSharing:                  sharing,
		TripMembersCount:           len(members),
		ActiveLocationMembersCount: active,
	}, nil
}

// Stats returns the process-wide presence summary.
func (r *Registry) Stats() models.TrackingStats {
	r.mu.RLock()
	tripCount, sharerCount := r.countsLocked()
	r.mu.RUnlock()

	return models.TrackingStats{
		TotalActiveTrips: tripCount,
		TotalActiveUsers: sharerCount,
		Timestamp:        r.now().UTC(),
	}
}

// entryLocked looks up an entry; callers hold r.mu.
func (r *Registry) entryLocked(tripID, userID string) (*models.PresenceEntry, bool) {
	set, ok := r.trips[tripID]
	if !ok {
		return nil, false
	}
	entry, ok := set[userID]
	return entry, ok
}

// activeMembersLocked builds the wire view of a trip's sharers,
// excluding excludeUserID when non-empty; callers hold r.mu.
func (r *Registry) activeMembersLocked(tripID, excludeUserID string) []models.ActiveMember {
	set := r.trips[tripID]
	members := make([]models.ActiveMember, 0, len(set))
	for _, entry := range set {
		if !entry.Active || entry.UserID == excludeUserID {
			continue
		}
		member := models.ActiveMember{
			ID:         entry.UserID,
			Name:       entry.Name,
			Avatar:     entry.Avatar,
			LastUpdate: entry.LastUpdate,
		}
		if entry.LastLocation != nil {
			loc := *entry.LastLocation
			member.Location = &loc
		}
		members = append(members, member)
	}
	return members
}

// countsLocked totals trips and entries; callers hold r.mu.
func (r *Registry) countsLocked() (tripCount, sharerCount int) {
	tripCount = len(r.trips)
	for _, set := range r.trips {
		sharerCount += len(set)
	}
	return tripCount, sharerCount
}
