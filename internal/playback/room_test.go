package playback

import (
	"testing"
	"time"

	"syncplayer/internal/protocol"
)

func testRoom() *Room {
	return NewRoom("ABCDEF", "Movie Night", false, RoomConfig{})
}

func TestClockConsistencyWhilePlaying(t *testing.T) {
	r := testRoom()
	r.SetPlaylist([]Entry{{Filename: "a.mkv"}}, -1, 0)
	r.SetPlaying(true)

	time.Sleep(20 * time.Millisecond)
	st := r.SnapshotPlayback()
	projected := st.Projected(time.Now())
	if projected < st.CurrentTime {
		t.Errorf("projected %v < currentTime %v", projected, st.CurrentTime)
	}
}

func TestClockConsistencyWhilePaused(t *testing.T) {
	r := testRoom()
	r.SetPlaylist([]Entry{{Filename: "a.mkv"}}, -1, 0)
	r.SetPlaying(true)
	r.Seek(10)
	st := r.SetPlaying(false)
	if st.IsPlaying {
		t.Fatal("expected paused")
	}
	time.Sleep(10 * time.Millisecond)
	projected := r.SnapshotPlayback().Projected(time.Now())
	if projected != st.CurrentTime {
		t.Errorf("projected %v != frozen currentTime %v", projected, st.CurrentTime)
	}
}

func TestAdminSeatRecoveryAfterDisconnect(t *testing.T) {
	r := testRoom()
	ok, _ := r.ClaimAdmin("conn1", "fp-admin")
	if !ok {
		t.Fatal("expected initial claim to succeed")
	}
	if !r.IsAdminConn("conn1") {
		t.Fatal("conn1 should hold the seat")
	}

	wasAdmin := r.Leave("conn1")
	if !wasAdmin {
		t.Fatal("expected Leave to report wasAdmin")
	}
	if r.AdminFingerprint() != "fp-admin" {
		t.Fatal("admin fingerprint should persist across disconnect")
	}

	_, isAdmin := r.Join("conn2", "fp-admin", "Alice", func(protocol.Outbound) {})
	if !isAdmin {
		t.Fatal("reconnecting with the same fingerprint should recover the seat")
	}
	if !r.IsAdminConn("conn2") {
		t.Fatal("conn2 should now hold the seat")
	}
}

func TestAdminLockRejectsDifferentFingerprint(t *testing.T) {
	r := NewRoom("ABCDEF", "Room", false, RoomConfig{AdminFingerprintLock: true})
	ok, _ := r.ClaimAdmin("conn1", "fp1")
	if !ok {
		t.Fatal("first claim should succeed")
	}
	ok, reason := r.ClaimAdmin("conn2", "fp2")
	if ok {
		t.Fatal("second claim with a different fingerprint should be rejected under lock")
	}
	if reason == "" {
		t.Error("expected a reason string")
	}
	if !r.IsAdminConn("conn1") {
		t.Error("original admin seat should be unaffected")
	}
}

func TestSeedAdminFingerprintLetsAMatchingClaimSucceedUnderLock(t *testing.T) {
	r := NewRoom("ABCDEF", "Room", false, RoomConfig{AdminFingerprintLock: true})
	r.SeedAdminFingerprint("fp-persisted")

	ok, reason := r.ClaimAdmin("conn1", "fp-other")
	if ok {
		t.Fatal("a non-matching fingerprint should be rejected under lock once seeded")
	}
	if reason == "" {
		t.Error("expected a reason string")
	}

	ok, _ = r.ClaimAdmin("conn2", "fp-persisted")
	if !ok {
		t.Fatal("the seeded fingerprint should still be able to claim the seat")
	}
	if !r.IsAdminConn("conn2") {
		t.Error("conn2 should now hold the seat")
	}
}

func TestSeedAdminFingerprintIsANoOpOnceClaimed(t *testing.T) {
	r := testRoom()
	r.ClaimAdmin("conn1", "fp-first")
	r.SeedAdminFingerprint("fp-ignored")
	if r.AdminFingerprint() != "fp-first" {
		t.Errorf("seeding after a claim should not override it, got %q", r.AdminFingerprint())
	}
}

func TestPlaylistJumpBounds(t *testing.T) {
	r := testRoom()
	r.SetPlaylist([]Entry{{Filename: "a.mkv"}, {Filename: "b.mkv"}}, -1, 0)

	_, _, ok := r.PlaylistJump(1)
	if !ok {
		t.Fatal("jump to valid index should succeed")
	}
	pl := r.SnapshotPlaylist()
	if pl.CurrentIndex != 1 {
		t.Errorf("CurrentIndex = %d, want 1", pl.CurrentIndex)
	}

	_, _, ok = r.PlaylistJump(5)
	if ok {
		t.Fatal("jump to out-of-range index should fail")
	}
	pl = r.SnapshotPlaylist()
	if pl.CurrentIndex != 1 {
		t.Error("CurrentIndex should be unchanged after a rejected jump")
	}
}

func TestPlaylistReorderRemapsIndices(t *testing.T) {
	r := testRoom()
	r.SetPlaylist([]Entry{{Filename: "a.mkv"}, {Filename: "b.mkv"}, {Filename: "c.mkv"}}, 0, 0)
	r.PlaylistJump(0)

	_, ok := r.PlaylistReorder(0, 2)
	if !ok {
		t.Fatal("reorder should succeed")
	}
	pl := r.SnapshotPlaylist()
	if pl.CurrentIndex != 2 {
		t.Errorf("CurrentIndex should follow the swapped entry, got %d", pl.CurrentIndex)
	}
	if pl.MainVideoIndex != 2 {
		t.Errorf("MainVideoIndex should follow the swapped entry, got %d", pl.MainVideoIndex)
	}
	if pl.Videos[2].Filename != "a.mkv" {
		t.Errorf("expected a.mkv at index 2, got %s", pl.Videos[2].Filename)
	}
}

func TestSetDriftClamps(t *testing.T) {
	r := testRoom()
	got := r.SetDrift("fpV", 0, 75)
	if got != 60 {
		t.Errorf("SetDrift(75) = %v, want 60 (S5 scenario)", got)
	}
	vals := r.DriftValues("fpV")
	if vals[0] != 60 {
		t.Errorf("DriftValues[0] = %v, want 60", vals[0])
	}
}

func TestBroadcastReachesAllConnectedMembers(t *testing.T) {
	r := testRoom()
	var got1, got2 protocol.Outbound
	r.Join("c1", "fp1", "A", func(o protocol.Outbound) { got1 = o })
	r.Join("c2", "fp2", "B", func(o protocol.Outbound) { got2 = o })

	r.Broadcast(protocol.EvSync, r.SnapshotPlayback().Wire())

	if got1.Type != protocol.EvSync || got2.Type != protocol.EvSync {
		t.Fatalf("both members should receive the sync event, got %+v / %+v", got1, got2)
	}
}

func TestLeaveRemovesMember(t *testing.T) {
	r := testRoom()
	r.Join("c1", "fp1", "A", func(protocol.Outbound) {})
	if r.MemberCount() != 1 {
		t.Fatalf("expected 1 member")
	}
	r.Leave("c1")
	if r.MemberCount() != 0 {
		t.Fatalf("expected 0 members after leave")
	}
}
