package registry

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"tripresence/internal/models"
	"tripresence/internal/trips"
)

// fakeBroadcaster records fan-out calls for assertions
type fakeBroadcaster struct {
	mu     sync.Mutex
	joins  []string // "conn:group"
	leaves []string // "conn:group"
	emits  []emit
}

type emit struct {
	group   string // empty for direct emits
	conn    string // exclude for group emits, target for direct emits
	event   string
	payload any
}

func (f *fakeBroadcaster) JoinGroup(connID, group string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, connID+":"+group)
}

func (f *fakeBroadcaster) LeaveGroup(connID, group string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, connID+":"+group)
}

func (f *fakeBroadcaster) EmitToGroup(group, event string, payload any, excludeConnID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emits = append(f.emits, emit{group: group, conn: excludeConnID, event: event, payload: payload})
}

func (f *fakeBroadcaster) EmitToConnection(connID, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emits = append(f.emits, emit{conn: connID, event: event, payload: payload})
}

func (f *fakeBroadcaster) groupEmits(event string) []emit {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emit
	for _, e := range f.emits {
		if e.group != "" && e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeBroadcaster) directEmits(connID, event string) []emit {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emit
	for _, e := range f.emits {
		if e.group == "" && e.conn == connID && e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func testIdentity(userID string) models.Identity {
	return models.Identity{UserID: userID, Name: "User " + userID, Avatar: "avatar-" + userID}
}

func newTestRegistry(rosters map[string][]string) (*Registry, *fakeBroadcaster) {
	b := &fakeBroadcaster{}
	r := New(trips.NewStaticOracle(rosters), b, nil)
	return r, b
}

func TestStartSharing_NewEntry(t *testing.T) {
	r, b := newTestRegistry(map[string][]string{"trip1": {"alice", "bob"}})
	ctx := context.Background()

	if err := r.StartSharing(ctx, "trip1", testIdentity("alice"), "conn-a"); err != nil {
		t.Fatalf("StartSharing failed: %v", err)
	}

	if !r.IsSharing("trip1", "alice") {
		t.Error("Expected alice to be sharing")
	}

	// Joiner gets an empty snapshot excluding herself
	snaps := b.directEmits("conn-a", models.EventActiveMembersSnapshot)
	if len(snaps) != 1 {
		t.Fatalf("Expected 1 snapshot, got %d", len(snaps))
	}
	snapshot := snaps[0].payload.(models.SnapshotEvent)
	if len(snapshot.ActiveMembers) != 0 {
		t.Errorf("Expected empty snapshot, got %d members", len(snapshot.ActiveMembers))
	}

	// Group notified, sender excluded
	started := b.groupEmits(models.EventUserStartedSharing)
	if len(started) != 1 {
		t.Fatalf("Expected 1 started event, got %d", len(started))
	}
	if started[0].conn != "conn-a" {
		t.Errorf("Expected sender conn-a to be excluded, got %q", started[0].conn)
	}
	if started[0].group != GroupKey("trip1") {
		t.Errorf("Expected group %q, got %q", GroupKey("trip1"), started[0].group)
	}
}

func TestStartSharing_DuplicateIsIdempotent(t *testing.T) {
	r, b := newTestRegistry(map[string][]string{"trip1": {"alice"}})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := r.StartSharing(ctx, "trip1", testIdentity("alice"), "conn-a"); err != nil {
			t.Fatalf("StartSharing #%d failed: %v", i, err)
		}
	}

	stats := r.Stats()
	if stats.TotalActiveUsers != 1 {
		t.Errorf("Expected 1 entry after duplicate starts, got %d", stats.TotalActiveUsers)
	}
	if got := len(b.groupEmits(models.EventUserStartedSharing)); got != 1 {
		t.Errorf("Expected 1 started notification, got %d", got)
	}
	// Every start still answers with a snapshot
	if got := len(b.directEmits("conn-a", models.EventActiveMembersSnapshot)); got != 3 {
		t.Errorf("Expected 3 snapshots, got %d", got)
	}
}

func TestStartSharing_ReconnectRebindsConnection(t *testing.T) {
	r, _ := newTestRegistry(map[string][]string{"trip1": {"alice"}})
	ctx := context.Background()

	if err := r.StartSharing(ctx, "trip1", testIdentity("alice"), "conn-1"); err != nil {
		t.Fatalf("StartSharing failed: %v", err)
	}
	if err := r.StartSharing(ctx, "trip1", testIdentity("alice"), "conn-2"); err != nil {
		t.Fatalf("StartSharing after reconnect failed: %v", err)
	}

	// Old connection is no longer backing the entry
	r.Disconnect("conn-1")
	if !r.IsSharing("trip1", "alice") {
		t.Error("Expected alice to survive disconnect of stale connection")
	}

	r.Disconnect("conn-2")
	if r.IsSharing("trip1", "alice") {
		t.Error("Expected alice removed after disconnect of current connection")
	}
}

func TestStartSharing_NonMemberDenied(t *testing.T) {
	r, b := newTestRegistry(map[string][]string{"trip1": {"alice"}})

	err := r.StartSharing(context.Background(), "trip1", testIdentity("carol"), "conn-c")
	if err == nil {
		t.Fatal("Expected error for non-member")
	}
	if _, ok := err.(*AccessDeniedError); !ok {
		t.Errorf("Expected AccessDeniedError, got %T", err)
	}

	if r.Stats().TotalActiveTrips != 0 {
		t.Error("Registry mutated by denied start")
	}
	if len(b.emits) != 0 {
		t.Errorf("Expected no broadcasts, got %d", len(b.emits))
	}
}

func TestStartSharing_UnknownTripDenied(t *testing.T) {
	r, _ := newTestRegistry(map[string][]string{})

	err := r.StartSharing(context.Background(), "ghost", testIdentity("alice"), "conn-a")
	if _, ok := err.(*AccessDeniedError); !ok {
		t.Errorf("Expected AccessDeniedError for unknown trip, got %v", err)
	}
}

func TestUpdateLocation_Broadcasts(t *testing.T) {
	r, b := newTestRegistry(map[string][]string{"trip1": {"alice", "bob"}})
	ctx := context.Background()

	if err := r.StartSharing(ctx, "trip1", testIdentity("bob"), "conn-b"); err != nil {
		t.Fatalf("StartSharing failed: %v", err)
	}

	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	loc := models.Location{Latitude: 40.0, Longitude: -70.0, Accuracy: 5}
	if err := r.UpdateLocation(ctx, "trip1", testIdentity("bob"), "conn-b", loc, ts); err != nil {
		t.Fatalf("UpdateLocation failed: %v", err)
	}

	emits := b.groupEmits(models.EventReceiveLocation)
	if len(emits) != 1 {
		t.Fatalf("Expected 1 receive-location, got %d", len(emits))
	}
	if emits[0].conn != "conn-b" {
		t.Errorf("Expected sender excluded, got %q", emits[0].conn)
	}
	event := emits[0].payload.(models.LocationEvent)
	if event.Location.Latitude != 40.0 || event.Location.Longitude != -70.0 {
		t.Errorf("Unexpected coordinates: %+v", event.Location)
	}
	if !event.Location.Timestamp.Equal(ts) {
		t.Errorf("Expected supplied timestamp %v, got %v", ts, event.Location.Timestamp)
	}

	members := r.ActiveMembers("trip1")
	if len(members) != 1 || members[0].Location == nil {
		t.Fatalf("Expected stored location, got %+v", members)
	}
	if members[0].Location.Latitude != 40.0 {
		t.Errorf("Expected stored latitude 40.0, got %f", members[0].Location.Latitude)
	}
}

func TestUpdateLocation_BeforeStartRecovers(t *testing.T) {
	r, b := newTestRegistry(map[string][]string{"trip1": {"alice"}})
	ctx := context.Background()

	loc := models.Location{Latitude: 10, Longitude: 20}
	if err := r.UpdateLocation(ctx, "trip1", testIdentity("alice"), "conn-a", loc, time.Time{}); err != nil {
		t.Fatalf("Expected update before start to recover, got %v", err)
	}

	if !r.IsSharing("trip1", "alice") {
		t.Error("Expected alice registered by recovery")
	}
	// Recovery behaves exactly like an explicit start
	if got := len(b.groupEmits(models.EventUserStartedSharing)); got != 1 {
		t.Errorf("Expected 1 started notification from recovery, got %d", got)
	}
	if got := len(b.directEmits("conn-a", models.EventActiveMembersSnapshot)); got != 1 {
		t.Errorf("Expected snapshot from recovery, got %d", got)
	}
	if got := len(b.groupEmits(models.EventReceiveLocation)); got != 1 {
		t.Errorf("Expected location broadcast after recovery, got %d", got)
	}
}

func TestUpdateLocation_RecoveryEquivalence(t *testing.T) {
	loc := models.Location{Latitude: 1, Longitude: 2}
	ts := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	inOrder, _ := newTestRegistry(map[string][]string{"trip1": {"alice"}})
	ctx := context.Background()
	if err := inOrder.StartSharing(ctx, "trip1", testIdentity("alice"), "conn-a"); err != nil {
		t.Fatal(err)
	}
	if err := inOrder.UpdateLocation(ctx, "trip1", testIdentity("alice"), "conn-a", loc, ts); err != nil {
		t.Fatal(err)
	}

	outOfOrder, _ := newTestRegistry(map[string][]string{"trip1": {"alice"}})
	if err := outOfOrder.UpdateLocation(ctx, "trip1", testIdentity("alice"), "conn-a", loc, ts); err != nil {
		t.Fatal(err)
	}
	if err := outOfOrder.StartSharing(ctx, "trip1", testIdentity("alice"), "conn-a"); err != nil {
		t.Fatal(err)
	}

	a := inOrder.ActiveMembers("trip1")
	b := outOfOrder.ActiveMembers("trip1")
	if len(a) != 1 || len(b) != 1 {
		t.Fatalf("Expected one member each, got %d and %d", len(a), len(b))
	}
	if *a[0].Location != *b[0].Location {
		t.Errorf("Final locations differ: %+v vs %+v", a[0].Location, b[0].Location)
	}
}

func TestUpdateLocation_NonMemberDenied(t *testing.T) {
	r, b := newTestRegistry(map[string][]string{"trip1": {"alice"}})

	loc := models.Location{Latitude: 1, Longitude: 2}
	err := r.UpdateLocation(context.Background(), "trip1", testIdentity("mallory"), "conn-m", loc, time.Time{})
	if _, ok := err.(*AccessDeniedError); !ok {
		t.Fatalf("Expected AccessDeniedError, got %v", err)
	}
	if r.Stats().TotalActiveTrips != 0 {
		t.Error("Registry mutated by denied update")
	}
	if len(b.emits) != 0 {
		t.Errorf("Expected no broadcasts, got %d", len(b.emits))
	}
}

func TestUpdateLocation_InvalidCoordinates(t *testing.T) {
	cases := []struct {
		name string
		loc  models.Location
	}{
		{"latitude too high", models.Location{Latitude: 90.5, Longitude: 0}},
		{"latitude too low", models.Location{Latitude: -91, Longitude: 0}},
		{"longitude too high", models.Location{Latitude: 0, Longitude: 181}},
		{"longitude too low", models.Location{Latitude: 0, Longitude: -180.01}},
		{"latitude NaN", models.Location{Latitude: math.NaN(), Longitude: 0}},
		{"longitude Inf", models.Location{Latitude: 0, Longitude: math.Inf(1)}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, b := newTestRegistry(map[string][]string{"trip1": {"alice"}})
			ctx := context.Background()
			if err := r.StartSharing(ctx, "trip1", testIdentity("alice"), "conn-a"); err != nil {
				t.Fatal(err)
			}

			err := r.UpdateLocation(ctx, "trip1", testIdentity("alice"), "conn-a", tc.loc, time.Time{})
			if _, ok := err.(*InvalidLocationError); !ok {
				t.Fatalf("Expected InvalidLocationError, got %v", err)
			}
			if got := len(b.groupEmits(models.EventReceiveLocation)); got != 0 {
				t.Errorf("Expected no location broadcast, got %d", got)
			}
			members := r.ActiveMembers("trip1")
			if len(members) != 1 || members[0].Location != nil {
				t.Errorf("Expected entry without location, got %+v", members)
			}
		})
	}
}

func TestStopSharing(t *testing.T) {
	r, b := newTestRegistry(map[string][]string{"trip1": {"alice", "bob"}})
	ctx := context.Background()

	if err := r.StartSharing(ctx, "trip1", testIdentity("alice"), "conn-a"); err != nil {
		t.Fatal(err)
	}
	if err := r.StartSharing(ctx, "trip1", testIdentity("bob"), "conn-b"); err != nil {
		t.Fatal(err)
	}

	r.StopSharing("trip1", testIdentity("alice"), "conn-a")

	if r.IsSharing("trip1", "alice") {
		t.Error("Expected alice removed")
	}
	if !r.IsSharing("trip1", "bob") {
		t.Error("Expected bob untouched")
	}

	stopped := b.groupEmits(models.EventUserStoppedSharing)
	if len(stopped) != 1 || stopped[0].conn != "conn-a" {
		t.Fatalf("Expected stop notification excluding conn-a, got %+v", stopped)
	}

	// Last member leaving tears the trip set down
	r.StopSharing("trip1", testIdentity("bob"), "conn-b")
	if r.Stats().TotalActiveTrips != 0 {
		t.Error("Expected empty trip set to be pruned")
	}
}

func TestStopSharing_NotSharingIsNoop(t *testing.T) {
	r, b := newTestRegistry(map[string][]string{"trip1": {"alice"}})

	r.StopSharing("trip1", testIdentity("alice"), "conn-a")

	if len(b.emits) != 0 {
		t.Errorf("Expected no broadcasts for no-op stop, got %d", len(b.emits))
	}
	if len(b.leaves) != 0 {
		t.Errorf("Expected no group leave for no-op stop, got %d", len(b.leaves))
	}
}

func TestDisconnect_SweepsAllTrips(t *testing.T) {
	rosters := map[string][]string{
		"trip1": {"alice", "bob"},
		"trip2": {"alice", "carol"},
	}
	r, b := newTestRegistry(rosters)
	ctx := context.Background()

	if err := r.StartSharing(ctx, "trip1", testIdentity("alice"), "conn-a"); err != nil {
		t.Fatal(err)
	}
	if err := r.StartSharing(ctx, "trip2", testIdentity("alice"), "conn-a"); err != nil {
		t.Fatal(err)
	}
	if err := r.StartSharing(ctx, "trip1", testIdentity("bob"), "conn-b"); err != nil {
		t.Fatal(err)
	}

	r.Disconnect("conn-a")

	if r.IsSharing("trip1", "alice") || r.IsSharing("trip2", "alice") {
		t.Error("Expected alice removed from all trips")
	}
	if !r.IsSharing("trip1", "bob") {
		t.Error("Expected bob untouched")
	}

	disconnects := b.groupEmits(models.EventUserDisconnected)
	if len(disconnects) != 2 {
		t.Fatalf("Expected 2 disconnect notifications, got %d", len(disconnects))
	}
	for _, e := range disconnects {
		if e.conn != "conn-a" {
			t.Errorf("Expected conn-a excluded from its own disconnect event")
		}
	}

	// trip2 had only alice; its set must be gone
	stats := r.Stats()
	if stats.TotalActiveTrips != 1 || stats.TotalActiveUsers != 1 {
		t.Errorf("Expected 1 trip / 1 user after sweep, got %+v", stats)
	}
}

func TestDisconnect_UnknownConnectionIsNoop(t *testing.T) {
	r, b := newTestRegistry(map[string][]string{"trip1": {"alice"}})
	r.Disconnect("never-connected")
	if len(b.emits) != 0 {
		t.Errorf("Expected no broadcasts, got %d", len(b.emits))
	}
}

func TestScenario_TwoMembersShareAndDisconnect(t *testing.T) {
	r, b := newTestRegistry(map[string][]string{"tripT": {"A", "B"}})
	ctx := context.Background()

	// A starts: empty snapshot
	if err := r.StartSharing(ctx, "tripT", testIdentity("A"), "conn-A"); err != nil {
		t.Fatal(err)
	}
	snaps := b.directEmits("conn-A", models.EventActiveMembersSnapshot)
	if len(snaps) != 1 || len(snaps[0].payload.(models.SnapshotEvent).ActiveMembers) != 0 {
		t.Fatalf("Expected empty snapshot for A, got %+v", snaps)
	}

	// B starts: snapshot contains A; group notified about B
	if err := r.StartSharing(ctx, "tripT", testIdentity("B"), "conn-B"); err != nil {
		t.Fatal(err)
	}
	snaps = b.directEmits("conn-B", models.EventActiveMembersSnapshot)
	if len(snaps) != 1 {
		t.Fatalf("Expected 1 snapshot for B, got %d", len(snaps))
	}
	bSnapshot := snaps[0].payload.(models.SnapshotEvent).ActiveMembers
	if len(bSnapshot) != 1 || bSnapshot[0].ID != "A" {
		t.Fatalf("Expected B's snapshot to contain only A, got %+v", bSnapshot)
	}
	started := b.groupEmits(models.EventUserStartedSharing)
	if len(started) != 2 {
		t.Fatalf("Expected 2 started events, got %d", len(started))
	}
	if started[1].payload.(models.UserEvent).User.UserID != "B" || started[1].conn != "conn-B" {
		t.Errorf("Expected started event for B excluding conn-B, got %+v", started[1])
	}

	// B sends a location: broadcast excludes B
	loc := models.Location{Latitude: 40.0, Longitude: -70.0}
	if err := r.UpdateLocation(ctx, "tripT", testIdentity("B"), "conn-B", loc, time.Time{}); err != nil {
		t.Fatal(err)
	}
	locations := b.groupEmits(models.EventReceiveLocation)
	if len(locations) != 1 || locations[0].conn != "conn-B" {
		t.Fatalf("Expected 1 location broadcast excluding conn-B, got %+v", locations)
	}

	// B disconnects: trip contains only A
	r.Disconnect("conn-B")
	disconnects := b.groupEmits(models.EventUserDisconnected)
	if len(disconnects) != 1 {
		t.Fatalf("Expected 1 disconnect event, got %d", len(disconnects))
	}
	if disconnects[0].payload.(models.UserEvent).User.UserID != "B" {
		t.Errorf("Expected disconnect event for B")
	}
	members := r.ActiveMembers("tripT")
	if len(members) != 1 || members[0].ID != "A" {
		t.Errorf("Expected only A left, got %+v", members)
	}
}

func TestStatus(t *testing.T) {
	r, _ := newTestRegistry(map[string][]string{"trip1": {"alice", "bob", "carol"}})
	ctx := context.Background()

	if err := r.StartSharing(ctx, "trip1", testIdentity("alice"), "conn-a"); err != nil {
		t.Fatal(err)
	}

	status, err := r.Status(ctx, "trip1", "alice")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !status.IsSharing {
		t.Error("Expected alice to be sharing")
	}
	if status.TripMembersCount != 3 {
		t.Errorf("Expected 3 trip members, got %d", status.TripMembersCount)
	}
	if status.ActiveLocationMembersCount != 1 {
		t.Errorf("Expected 1 active sharer, got %d", status.ActiveLocationMembersCount)
	}

	status, err = r.Status(ctx, "trip1", "bob")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.IsSharing {
		t.Error("Expected bob not sharing")
	}

	if _, err := r.Status(ctx, "ghost", "alice"); err == nil {
		t.Error("Expected error for unknown trip")
	}
}

func TestStats(t *testing.T) {
	r, _ := newTestRegistry(map[string][]string{
		"trip1": {"alice", "bob"},
		"trip2": {"alice"},
	})
	ctx := context.Background()

	if stats := r.Stats(); stats.TotalActiveTrips != 0 || stats.TotalActiveUsers != 0 {
		t.Errorf("Expected empty stats, got %+v", stats)
	}

	r.StartSharing(ctx, "trip1", testIdentity("alice"), "conn-a")
	r.StartSharing(ctx, "trip1", testIdentity("bob"), "conn-b")
	r.StartSharing(ctx, "trip2", testIdentity("alice"), "conn-a")

	stats := r.Stats()
	if stats.TotalActiveTrips != 2 {
		t.Errorf("Expected 2 active trips, got %d", stats.TotalActiveTrips)
	}
	if stats.TotalActiveUsers != 3 {
		t.Errorf("Expected 3 entries, got %d", stats.TotalActiveUsers)
	}
}
