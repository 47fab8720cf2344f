package playback

import "time"

// Member is a per-connection record (§3 "Member"). ConnID is a
// server-assigned opaque connection identifier (never persisted);
// Fingerprint is the client-chosen opaque identity that survives
// reconnects and is what admin-seat recovery and BSL/drift state key on.
type Member struct {
	ConnID         string
	Fingerprint    string
	DisplayName    string
	ConnectedAt    time.Time
	ReportedFolder bool
	MatchedIndices map[int]bool // playlist index -> matched this session
}

func newMember(connID, fingerprint, displayName string) *Member {
	return &Member{
		ConnID:         connID,
		Fingerprint:    fingerprint,
		DisplayName:    displayName,
		ConnectedAt:    time.Now(),
		MatchedIndices: make(map[int]bool),
	}
}
