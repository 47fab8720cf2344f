package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"syncplayer/internal/config"
	"syncplayer/internal/jsonstore"
	"syncplayer/internal/protocol"
	"syncplayer/internal/ratelimit"
	"syncplayer/internal/registry"
)

func testRouter(t *testing.T) (*Router, func(addr string) *ConnState) {
	t.Helper()
	cfg, err := config.Load("", nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.ServerMode = true
	reg := registry.New(nil)
	rt := New(cfg, reg, nil, nil, ratelimit.New(), nil, "", slog.New(slog.DiscardHandler))

	newConn := func(addr string) *ConnState {
		return &ConnState{
			ID:         "conn-" + addr,
			RemoteAddr: addr,
			Send:       func(protocol.Outbound) {},
		}
	}
	return rt, newConn
}

func collectingConn(id, addr string) (*ConnState, *[]protocol.Outbound) {
	var sent []protocol.Outbound
	conn := &ConnState{
		ID:         id,
		RemoteAddr: addr,
		Send:       func(msg protocol.Outbound) { sent = append(sent, msg) },
	}
	return conn, &sent
}

func envelope(t *testing.T, evType string, payload any) []byte {
	t.Helper()
	raw, err := json.Marshal(protocol.Envelope{Type: evType, Payload: mustMarshal(t, payload)})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return raw
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return raw
}

func TestCreateRoomGrantsAdminAndSendsInitialState(t *testing.T) {
	rt, _ := testRouter(t)
	admin, sent := collectingConn("admin", "203.0.113.1:1")

	rt.Route(context.Background(), admin, envelope(t, protocol.EvCreateRoom, protocol.CreateRoomPayload{Name: "Movie night", Fingerprint: "fp-1"}))

	if len(*sent) == 0 {
		t.Fatalf("expected at least one outbound message")
	}
	found := false
	for _, msg := range *sent {
		if msg.Type == protocol.EvInitialState {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an initial-state message, got %+v", *sent)
	}
	if admin.RoomCode == "" {
		t.Errorf("expected ConnState.RoomCode to be set after create-room")
	}
}

func TestAdminGatedCommandRejectsNonAdmin(t *testing.T) {
	rt, _ := testRouter(t)
	admin, _ := collectingConn("admin", "203.0.113.1:1")
	rt.Route(context.Background(), admin, envelope(t, protocol.EvCreateRoom, protocol.CreateRoomPayload{Name: "room", Fingerprint: "fp-admin"}))

	viewer, viewerSent := collectingConn("viewer", "203.0.113.2:1")
	rt.Route(context.Background(), viewer, envelope(t, protocol.EvJoinRoom, protocol.JoinRoomPayload{RoomCode: admin.RoomCode, Name: "viewer", Fingerprint: "fp-viewer"}))

	*viewerSent = nil
	rt.Route(context.Background(), viewer, envelope(t, protocol.EvDeleteRoom, nil))

	if len(*viewerSent) != 1 || (*viewerSent)[0].Type != protocol.EvAdminError {
		t.Fatalf("expected a single admin-error reply, got %+v", *viewerSent)
	}
}

func TestUnknownCommandIsSilentlyDropped(t *testing.T) {
	rt, newConn := testRouter(t)
	conn := newConn("203.0.113.3:1")
	rt.Route(context.Background(), conn, []byte(`{"type":"not-a-real-command"}`))
}

func TestMalformedEnvelopeDoesNotPanic(t *testing.T) {
	rt, newConn := testRouter(t)
	conn := newConn("203.0.113.4:1")
	rt.Route(context.Background(), conn, []byte(`not json at all`))
}

func TestSetPlaylistValidatesFilenames(t *testing.T) {
	rt, _ := testRouter(t)
	admin, sent := collectingConn("admin", "203.0.113.5:1")
	rt.Route(context.Background(), admin, envelope(t, protocol.EvCreateRoom, protocol.CreateRoomPayload{Name: "room", Fingerprint: "fp-admin"}))

	*sent = nil
	rt.Route(context.Background(), admin, envelope(t, protocol.EvSetPlaylist, protocol.SetPlaylistPayload{
		Playlist: []protocol.PlaylistEntryWire{{Filename: "../../etc/passwd"}},
	}))

	if len(*sent) != 1 || (*sent)[0].Type != protocol.EvValidationError {
		t.Fatalf("expected a validation-error reply for a path-traversal filename, got %+v", *sent)
	}
}

func TestBSLFolderSelectedStatsOnDiskSize(t *testing.T) {
	mediaDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(mediaDir, "movie.mkv"), make([]byte, 1000), 0o644); err != nil {
		t.Fatalf("seed media file: %v", err)
	}

	cfg, err := config.Load("", nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.ServerMode = true
	cfg.BSLAdvancedMatch = true
	cfg.BSLAdvancedMatchThresh = 3
	reg := registry.New(nil)
	rt := New(cfg, reg, nil, nil, ratelimit.New(), nil, mediaDir, slog.New(slog.DiscardHandler))

	admin, sent := collectingConn("admin", "203.0.113.6:1")
	rt.Route(context.Background(), admin, envelope(t, protocol.EvCreateRoom, protocol.CreateRoomPayload{Name: "room", Fingerprint: "fp-admin"}))
	rt.Route(context.Background(), admin, envelope(t, protocol.EvSetPlaylist, protocol.SetPlaylistPayload{
		Playlist: []protocol.PlaylistEntryWire{{Filename: "movie.mkv"}},
	}))

	*sent = nil
	rt.Route(context.Background(), admin, envelope(t, protocol.EvBSLFolderSelected, protocol.BSLFolderSelectedPayload{
		Files: []protocol.FileDescriptor{{Name: "movie (local copy).mkv", Size: 1000, Type: "video/x-matroska"}},
	}))

	var result protocol.BSLMatchResultPayload
	for _, msg := range *sent {
		if msg.Type == protocol.EvBSLMatchResult {
			raw, _ := json.Marshal(msg.Payload)
			if err := json.Unmarshal(raw, &result); err != nil {
				t.Fatalf("unmarshal match result: %v", err)
			}
		}
	}
	if result.TotalMatched != 1 {
		t.Fatalf("expected the differently named file to match via extension+MIME+on-disk-size scoring, got %+v", result)
	}
}

// TestAdminFingerprintSurvivesRestart simulates a server restart (a fresh
// registry over the same persistent store): the legacy room's admin
// fingerprint must be restored before the first ClaimAdmin of the new
// process, so a stale fingerprint is refused and the original admin's
// still reclaims the seat (§3, §4.2 item 4).
func TestAdminFingerprintSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	store, err := jsonstore.Open(filepath.Join(dir, "store.json"), "", slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	cfg, err := config.Load("", nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.AdminFingerprintLock = true

	firstRun := New(cfg, registry.New(nil), store, nil, ratelimit.New(), nil, "", slog.New(slog.DiscardHandler))
	admin, _ := collectingConn("admin", "203.0.113.7:1")
	firstRun.Route(context.Background(), admin, envelope(t, protocol.EvCreateRoom, protocol.CreateRoomPayload{Name: "room", Fingerprint: "fp-original"}))

	secondRun := New(cfg, registry.New(nil), store, nil, ratelimit.New(), nil, "", slog.New(slog.DiscardHandler))

	impostor, impostorSent := collectingConn("impostor", "203.0.113.8:1")
	secondRun.Route(context.Background(), impostor, envelope(t, protocol.EvCreateRoom, protocol.CreateRoomPayload{Name: "room", Fingerprint: "fp-impostor"}))
	if len(*impostorSent) != 1 || (*impostorSent)[0].Type != protocol.EvAdminError {
		t.Fatalf("expected the impostor fingerprint to be rejected, got %+v", *impostorSent)
	}

	original, originalSent := collectingConn("original", "203.0.113.9:1")
	secondRun.Route(context.Background(), original, envelope(t, protocol.EvCreateRoom, protocol.CreateRoomPayload{Name: "room", Fingerprint: "fp-original"}))
	found := false
	for _, msg := range *originalSent {
		if msg.Type == protocol.EvInitialState {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the original admin fingerprint to reclaim the seat, got %+v", *originalSent)
	}
}
