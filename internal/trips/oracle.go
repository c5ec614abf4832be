package trips

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tripresence/internal/cache"
	"tripresence/internal/directory"
)

// Oracle answers trip membership questions. Trip data is owned by the
// external CRUD subsystem; the oracle only reads it.
type Oracle interface {
	// IsMember reports whether userID belongs to tripID. An unknown
	// trip is "not a member", not an error.
	IsMember(ctx context.Context, tripID, userID string) (bool, error)
	// Members returns the member user ids of a trip, or
	// *TripNotFoundError when the trip does not exist.
	Members(ctx context.Context, tripID string) ([]string, error)
}

// TripNotFoundError indicates the trip does not exist in the directory
type TripNotFoundError struct {
	TripID string
}

func (e *TripNotFoundError) Error() string {
	return fmt.Sprintf("trip %s not found", e.TripID)
}

// CachedOracle resolves membership through the directory with a
// ristretto lookaside cache in front of it.
type CachedOracle struct {
	directory directory.Directory
	cache     cache.MemoryCache
}

// NewCachedOracle creates a new CachedOracle
func NewCachedOracle(dir directory.Directory, memCache cache.MemoryCache) *CachedOracle {
	return &CachedOracle{
		directory: dir,
		cache:     memCache,
	}
}

// Members returns the member list for a trip, cache first
func (o *CachedOracle) Members(ctx context.Context, tripID string) ([]string, error) {
	if members, found := o.cache.GetMembers(tripID); found {
		return members, nil
	}

	members, err := o.directory.GetTripMembers(ctx, tripID)
	if err != nil {
		if errors.Is(err, directory.ErrTripNotFound) {
			return nil, &TripNotFoundError{TripID: tripID}
		}
		return nil, fmt.Errorf("failed to get trip members: %w", err)
	}

	o.cache.SetMembers(tripID, members)
	return members, nil
}

// IsMember reports membership; a missing trip yields (false, nil)
func (o *CachedOracle) IsMember(ctx context.Context, tripID, userID string) (bool, error) {
	members, err := o.Members(ctx, tripID)
	if err != nil {
		var notFound *TripNotFoundError
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, err
	}

	for _, member := range members {
		if member == userID {
			return true, nil
		}
	}
	return false, nil
}

// StaticOracle is an in-memory oracle for tests and single-binary
// development setups.
type StaticOracle struct {
	mu    sync.RWMutex
	trips map[string][]string
}

// NewStaticOracle creates a StaticOracle with the given trip rosters
func NewStaticOracle(trips map[string][]string) *StaticOracle {
	if trips == nil {
		trips = make(map[string][]string)
	}
	return &StaticOracle{trips: trips}
}

// SetTrip replaces the member list of a trip
func (o *StaticOracle) SetTrip(tripID string, members []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.trips[tripID] = members
}

// IsMember reports membership against the static rosters
func (o *StaticOracle) IsMember(ctx context.Context, tripID, userID string) (bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, member := range o.trips[tripID] {
		if member == userID {
			return true, nil
		}
	}
	return false, nil
}

// Members returns the static roster of a trip
func (o *StaticOracle) Members(ctx context.Context, tripID string) ([]string, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	members, ok := o.trips[tripID]
	if !ok {
		return nil, &TripNotFoundError{TripID: tripID}
	}
	out := make([]string, len(members))
	copy(out, members)
	return out, nil
}
