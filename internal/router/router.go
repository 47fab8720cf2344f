// Package router implements the event router pipeline (§4.5): rate limit,
// admin gate, input validation, then dispatch. It is the integration
// point between the transport layer (internal/ws), room state
// (internal/playback), the room registry (internal/registry), the BSL
// matcher (internal/bsl), and the persistent store (internal/jsonstore).
// The switch-over-command-name dispatch shape is grounded on bken's
// internal/ws/handler.go handleInbound and client.go's processControl,
// both of which route a typed envelope through a single big switch with
// per-command owner/authorization checks inlined.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"syncplayer/internal/bsl"
	"syncplayer/internal/config"
	"syncplayer/internal/jsonstore"
	"syncplayer/internal/playback"
	"syncplayer/internal/probe"
	"syncplayer/internal/protocol"
	"syncplayer/internal/ratelimit"
	"syncplayer/internal/registry"
	"syncplayer/internal/roomlog"
	"syncplayer/internal/rtt"
	"syncplayer/internal/synerr"
	"syncplayer/internal/validate"
)

// forceCloseGrace is the delay between an admin-auth rejection and the
// transport forcibly closing the connection (§5, scenario S3).
const forceCloseGrace = 1 * time.Second

// ConnState is the router's view of one connection. The transport layer
// owns the socket; the router only ever touches this small record plus
// whatever Room it currently points into (§9 "Cyclic references":
// connections reference rooms by code, rooms reference connections only
// by id, lookup-only).
type ConnState struct {
	ID          string
	RemoteAddr  string
	Fingerprint string
	RoomCode    string
	Send        playback.SendFunc

	// RTT is the connection's rolling round-trip estimate, maintained by
	// the transport layer's ping/pong exchange and consulted here to
	// half-RTT-correct client-pushed sync timestamps. May be nil (e.g. in
	// tests), in which case no compensation is applied.
	RTT *rtt.Tracker

	// ForceClose, if set, asks the transport to close the connection
	// after delay. Used to enforce §5's fingerprint-rejection disconnect
	// grace period.
	ForceClose func(delay time.Duration)
}

// adminGated is the whitelist of commands requiring the sender to hold
// the room's admin seat (§4.5 step 2).
var adminGated = map[string]bool{
	protocol.EvSetPlaylist:       true,
	protocol.EvPlaylistReorder:   true,
	protocol.EvPlaylistJump:      true,
	protocol.EvTrackChange:       true,
	protocol.EvSkipToNextVideo:   true,
	protocol.EvBSLCheckRequest:   true,
	protocol.EvBSLGetStatus:      true,
	protocol.EvBSLManualMatch:    true,
	protocol.EvBSLSetDrift:       true,
	protocol.EvSetClientName:     true,
	protocol.EvGetClientList:     true,
	protocol.EvSetClientDispName: true,
	protocol.EvDeleteRoom:        true,
}

// Router wires the event pipeline to the room registry and supporting
// services.
type Router struct {
	cfg      config.Config
	registry *registry.Registry
	store    *jsonstore.Store
	roomlog  *roomlog.Store
	limiter  *ratelimit.Limiter
	prober   *probe.Prober
	matcher  bsl.Matcher
	mediaDir string
	logger   *slog.Logger
}

// New wires the router to its supporting services. roomLog may be nil,
// in which case per-room event logging (§6.2) is skipped rather than
// failing the whole pipeline. mediaDir may be "", in which case BSL
// scoring never has an on-disk size to compare against (§4.7 criterion 3
// silently contributes no points).
func New(cfg config.Config, reg *registry.Registry, store *jsonstore.Store, roomLog *roomlog.Store, limiter *ratelimit.Limiter, prober *probe.Prober, mediaDir string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:      cfg,
		registry: reg,
		store:    store,
		roomlog:  roomLog,
		limiter:  limiter,
		prober:   prober,
		matcher:  bsl.Matcher{AdvancedMatch: cfg.BSLAdvancedMatch, Threshold: cfg.BSLAdvancedMatchThresh},
		mediaDir: mediaDir,
		logger:   logger,
	}
}

// roomConfig translates the global config into the subset playback.Room
// needs.
func (rt *Router) roomConfig() playback.RoomConfig {
	return playback.RoomConfig{
		JoinModeReset:          rt.cfg.JoinMode == config.JoinReset,
		VideoAutoplay:          rt.cfg.VideoAutoplay,
		AdminFingerprintLock:   rt.cfg.AdminFingerprintLock,
		ClientControlsDisabled: rt.cfg.ClientControlsDisabled,
		ClientSyncDisabled:     rt.cfg.ClientSyncDisabled,
		BSLMode:                string(rt.cfg.BSLMode),
	}
}

// Route runs the full pipeline for one inbound message.
func (rt *Router) Route(ctx context.Context, conn *ConnState, raw []byte) {
	allowed, retryAfter := rt.limiter.Allow(conn.RemoteAddr)
	if !allowed {
		conn.Send(protocol.NewOutbound(protocol.EvRateLimitError, protocol.RateLimitErrorPayload{RetryAfterSeconds: retryAfter.Seconds()}))
		return
	}

	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		rt.logger.Debug("dropping malformed envelope", "error", err)
		return
	}

	if !knownCommand(env.Type) {
		rt.logger.Debug("dropping unknown event type", "type", env.Type)
		return
	}

	if adminGated[env.Type] {
		room, ok := rt.roomOf(conn)
		if !ok || !room.IsAdminConn(conn.ID) {
			conn.Send(protocol.NewOutbound(protocol.EvAdminError, protocol.AdminErrorPayload{
				Command: env.Type,
				Reason:  "admin privileges required",
			}))
			return
		}
	}

	if err := rt.dispatch(ctx, conn, env); err != nil {
		rt.handleError(conn, env.Type, err)
		return
	}
	rt.logEvent(conn, env)
}

// logEvent persists a processed event to the room log (§6.2) off the
// request path, so a slow or unavailable log never delays dispatch.
func (rt *Router) logEvent(conn *ConnState, env protocol.Envelope) {
	if rt.roomlog == nil || conn.RoomCode == "" {
		return
	}
	roomCode, raw := conn.RoomCode, string(env.Payload)
	go func() {
		if err := rt.roomlog.Append(context.Background(), roomCode, env.Type, raw); err != nil {
			rt.logger.Warn("room log append failed", "room", roomCode, "type", env.Type, "error", err)
		}
	}()
}

func (rt *Router) handleError(conn *ConnState, command string, err error) {
	se, ok := err.(*synerr.Error)
	if !ok {
		rt.logger.Warn("unhandled router error", "command", command, "error", err)
		return
	}
	switch se.Kind {
	case synerr.KindValidation:
		conn.Send(protocol.NewOutbound(protocol.EvValidationError, map[string]string{"command": command, "reason": se.Msg}))
	case synerr.KindAuthorization:
		conn.Send(protocol.NewOutbound(protocol.EvAdminError, protocol.AdminErrorPayload{Command: command, Reason: se.Msg}))
	case synerr.KindNotFound:
		conn.Send(protocol.NewOutbound(protocol.EvValidationError, map[string]string{"command": command, "reason": "not found"}))
	default:
		rt.logger.Warn("router error", "command", command, "kind", se.Kind, "error", se)
	}
}

// seedAdminFromStore restores a room's previously persisted admin identity
// (§3, §4.2 item 4, §6.2) the first time a room with this code is seen in
// the running process, so admin_fingerprint_lock and rejoin-and-reclaim
// survive a server restart. A no-op once the room already has an admin
// bound in memory.
func (rt *Router) seedAdminFromStore(room *playback.Room) {
	if rt.store == nil || room.AdminFingerprint() != "" {
		return
	}
	if fp, ok, err := rt.store.RoomAdminFingerprint(room.Code()); err == nil && ok {
		room.SeedAdminFingerprint(fp)
	}
}

func (rt *Router) roomOf(conn *ConnState) (*playback.Room, bool) {
	if conn.RoomCode == "" {
		return nil, false
	}
	return rt.registry.GetRoom(conn.RoomCode)
}

func knownCommand(t string) bool {
	switch t {
	case protocol.EvCreateRoom, protocol.EvJoinRoom, protocol.EvLeaveRoom, protocol.EvDisconnect,
		protocol.EvSetPlaylist, protocol.EvControl, protocol.EvPlaylistJump, protocol.EvPlaylistNext,
		protocol.EvSkipToNextVideo, protocol.EvPlaylistReorder, protocol.EvTrackChange,
		protocol.EvBSLAdminRegister, protocol.EvBSLCheckRequest, protocol.EvBSLFolderSelected,
		protocol.EvBSLManualMatch, protocol.EvBSLSetDrift, protocol.EvBSLGetStatus,
		protocol.EvChatMessage, protocol.EvSetClientName, protocol.EvGetClientList,
		protocol.EvSetClientDispName, protocol.EvDeleteRoom, protocol.EvRequestInitState,
		protocol.EvRequestSync, protocol.EvClientRegister, protocol.EvGetConfig, protocol.EvGetRooms:
		return true
	default:
		return false
	}
}

func (rt *Router) dispatch(ctx context.Context, conn *ConnState, env protocol.Envelope) error {
	switch env.Type {
	case protocol.EvClientRegister:
		return rt.handleClientRegister(conn, env)
	case protocol.EvCreateRoom:
		return rt.handleCreateRoom(ctx, conn, env)
	case protocol.EvJoinRoom:
		return rt.handleJoinRoom(ctx, conn, env)
	case protocol.EvLeaveRoom, protocol.EvDisconnect:
		rt.handleLeave(conn)
		return nil
	case protocol.EvSetPlaylist:
		return rt.handleSetPlaylist(ctx, conn, env)
	case protocol.EvControl:
		return rt.handleControl(conn, env)
	case protocol.EvPlaylistJump:
		return rt.handlePlaylistJump(conn, env)
	case protocol.EvPlaylistNext, protocol.EvSkipToNextVideo:
		return rt.handlePlaylistNext(conn)
	case protocol.EvPlaylistReorder:
		return rt.handlePlaylistReorder(conn, env)
	case protocol.EvTrackChange:
		return rt.handleTrackChange(conn, env)
	case protocol.EvBSLAdminRegister:
		return rt.handleBSLAdminRegister(conn, env)
	case protocol.EvBSLCheckRequest:
		return rt.handleBSLCheckRequest(conn)
	case protocol.EvBSLGetStatus:
		return rt.handleBSLGetStatus(conn)
	case protocol.EvBSLFolderSelected:
		return rt.handleBSLFolderSelected(conn, env)
	case protocol.EvBSLManualMatch:
		return rt.handleBSLManualMatch(conn, env)
	case protocol.EvBSLSetDrift:
		return rt.handleBSLSetDrift(conn, env)
	case protocol.EvChatMessage:
		return rt.handleChatMessage(conn, env)
	case protocol.EvSetClientName, protocol.EvSetClientDispName:
		return rt.handleSetClientName(conn, env)
	case protocol.EvGetClientList:
		return rt.handleGetClientList(conn)
	case protocol.EvDeleteRoom:
		return rt.handleDeleteRoom(conn)
	case protocol.EvRequestInitState, protocol.EvRequestSync:
		return rt.handleRequestSync(conn)
	case protocol.EvGetRooms:
		return rt.handleGetRooms(conn)
	case protocol.EvGetConfig:
		conn.Send(protocol.NewOutbound(protocol.EvConfig, rt.cfg))
		return nil
	default:
		return nil
	}
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, synerr.Validation("malformed payload", err)
	}
	return v, nil
}

func (rt *Router) handleClientRegister(conn *ConnState, env protocol.Envelope) error {
	p, err := decode[protocol.ClientRegisterPayload](env.Payload)
	if err != nil {
		return err
	}
	conn.Fingerprint = p.Fingerprint
	return nil
}

func (rt *Router) handleCreateRoom(ctx context.Context, conn *ConnState, env protocol.Envelope) error {
	p, err := decode[protocol.CreateRoomPayload](env.Payload)
	if err != nil {
		return err
	}
	name, err := validate.Name(p.Name, 100)
	if err != nil {
		return synerr.Validation("invalid room name", err)
	}

	var room *playback.Room
	if rt.cfg.ServerMode {
		room, err = rt.registry.CreateRoom(ctx, name, p.IsPrivate, rt.roomConfig())
		if err != nil {
			return synerr.Persistence("failed to create room", err)
		}
	} else {
		room = rt.registry.EnsureLegacyRoom(ctx, rt.roomConfig())
	}
	rt.seedAdminFromStore(room)

	conn.Fingerprint = p.Fingerprint
	conn.RoomCode = room.Code()
	if ok, reason := room.ClaimAdmin(conn.ID, p.Fingerprint); !ok {
		return synerr.Authorization("create-room", reason)
	}
	room.Join(conn.ID, p.Fingerprint, "", conn.Send)

	if rt.store != nil {
		rt.store.SetRoomAdminFingerprint(room.Code(), p.Fingerprint)
	}

	conn.Send(protocol.NewOutbound(protocol.EvInitialState, map[string]string{
		"roomCode": room.Code(),
		"roomName": room.Name(),
	}))
	return nil
}

func (rt *Router) handleJoinRoom(ctx context.Context, conn *ConnState, env protocol.Envelope) error {
	p, err := decode[protocol.JoinRoomPayload](env.Payload)
	if err != nil {
		return err
	}
	name, err := validate.Name(p.Name, 100)
	if err != nil {
		return synerr.Validation("invalid display name", err)
	}

	var room *playback.Room
	var ok bool
	if rt.cfg.ServerMode {
		room, ok = rt.registry.GetRoom(p.RoomCode)
		if !ok {
			return synerr.NotFound(fmt.Sprintf("room %q not found", p.RoomCode))
		}
	} else {
		room = rt.registry.EnsureLegacyRoom(ctx, rt.roomConfig())
	}
	rt.seedAdminFromStore(room)

	conn.Fingerprint = p.Fingerprint
	conn.RoomCode = room.Code()
	_, isAdmin := room.Join(conn.ID, p.Fingerprint, name, conn.Send)

	if rt.cfg.JoinMode == config.JoinReset {
		st := room.Seek(0)
		room.Broadcast(protocol.EvSync, st.Wire())
	} else {
		conn.Send(protocol.NewOutbound(protocol.EvSync, room.SnapshotPlayback().Wire()))
	}

	conn.Send(protocol.NewOutbound(protocol.EvInitialState, map[string]any{
		"isAdmin": isAdmin,
		"viewers": room.MemberCount(),
	}))
	room.Broadcast(protocol.EvViewerCount, room.MemberCount())
	return nil
}

func (rt *Router) handleLeave(conn *ConnState) {
	room, ok := rt.roomOf(conn)
	if !ok {
		return
	}
	room.Leave(conn.ID)
	room.Broadcast(protocol.EvViewerCount, room.MemberCount())
	conn.RoomCode = ""
}

func (rt *Router) handleSetPlaylist(ctx context.Context, conn *ConnState, env protocol.Envelope) error {
	room, ok := rt.roomOf(conn)
	if !ok {
		return synerr.NotFound("not in a room")
	}
	p, err := decode[protocol.SetPlaylistPayload](env.Payload)
	if err != nil {
		return err
	}

	entries := make([]playback.Entry, len(p.Playlist))
	for i, wire := range p.Playlist {
		filename, err := validate.Filename(wire.Filename)
		if err != nil {
			return synerr.Validation(fmt.Sprintf("playlist entry %d has an invalid filename", i), err)
		}
		entry := playback.Entry{Filename: filename, IsExternal: wire.IsExternal}
		if !wire.IsExternal && rt.prober != nil {
			res := rt.prober.Probe(ctx, filename)
			entry.Tracks.AudioTracks = res.AudioTracks
			entry.Tracks.SubtitleTracks = res.SubtitleTracks
			entry.UsesHEVC = res.UsesHEVC
		}
		entry.Tracks.SelectedSubtitleTrack = -1
		entries[i] = entry
	}

	st := room.SetPlaylist(entries, p.MainVideoIndex, p.MainVideoStartTime)
	room.Broadcast(protocol.EvPlaylistUpdate, room.SnapshotPlaylist().Wire())
	room.Broadcast(protocol.EvSync, st.Wire())

	if !rt.cfg.VideoAutoplay {
		// §4.5 set-playlist: defeat client auto-resume races with a second
		// broadcast 500ms later forcing isPlaying=false.
		go func() {
			time.Sleep(500 * time.Millisecond)
			st := room.SetPlaying(false)
			room.Broadcast(protocol.EvSync, st.Wire())
		}()
	}
	return nil
}

func (rt *Router) handleControl(conn *ConnState, env protocol.Envelope) error {
	room, ok := rt.roomOf(conn)
	if !ok {
		return synerr.NotFound("not in a room")
	}
	p, err := decode[protocol.ControlPayload](env.Payload)
	if err != nil {
		return err
	}

	if p.Action == "" {
		// Raw sync push from a client (§4.5 control, no action field).
		if rt.cfg.ClientSyncDisabled {
			conn.Send(protocol.NewOutbound(protocol.EvControlRejected, map[string]string{"reason": "client sync disabled"}))
			return nil
		}
		if rt.cfg.ClientControlsDisabled && !room.IsAdminConn(conn.ID) {
			conn.Send(protocol.NewOutbound(protocol.EvControlRejected, map[string]string{"reason": "client controls disabled"}))
			return nil
		}
		if err := validate.NonNegativeFinite(p.CurrentTime); err != nil {
			return synerr.Validation("invalid currentTime", err)
		}
		var compensation time.Duration
		if conn.RTT != nil {
			compensation = conn.RTT.HalfRTT()
		}
		st := room.RawSync(p.IsPlaying, p.CurrentTime, compensation)
		room.Broadcast(protocol.EvSync, st.Wire())
		return nil
	}

	if !room.IsAdminConn(conn.ID) {
		return synerr.Authorization("control", "admin privileges required for "+p.Action)
	}

	switch p.Action {
	case "playpause":
		st := room.SetPlaying(p.State)
		room.Broadcast(protocol.EvSync, st.Wire())
	case "skip":
		delta := p.Seconds
		if p.Direction < 0 {
			delta = -delta
		}
		st := room.Skip(delta)
		room.Broadcast(protocol.EvSync, st.Wire())
	case "seek":
		if err := validate.NonNegativeFinite(p.Time); err != nil {
			return synerr.Validation("invalid seek time", err)
		}
		st := room.Seek(p.Time)
		room.Broadcast(protocol.EvSync, st.Wire())
	case "selectTrack":
		if err := validate.TrackIndex(p.TrackIndex); err != nil {
			return synerr.Validation("invalid track index", err)
		}
		st := room.SelectTrack(p.TrackType, p.TrackIndex)
		room.Broadcast(protocol.EvSync, st.Wire())
	default:
		return synerr.Validation("unknown control action "+p.Action, nil)
	}
	return nil
}

func (rt *Router) handlePlaylistJump(conn *ConnState, env protocol.Envelope) error {
	room, ok := rt.roomOf(conn)
	if !ok {
		return synerr.NotFound("not in a room")
	}
	p, err := decode[protocol.PlaylistJumpPayload](env.Payload)
	if err != nil {
		return err
	}
	pl := room.SnapshotPlaylist()
	if err := validate.PlaylistIndex(p.Index, len(pl.Videos)); err != nil {
		return synerr.Validation("playlist index out of range", err)
	}
	st, _, ok := room.PlaylistJump(p.Index)
	if !ok {
		return synerr.Validation("playlist jump failed", nil)
	}
	room.Broadcast(protocol.EvPlaylistPosition, p.Index)
	room.Broadcast(protocol.EvSync, st.Wire())
	return nil
}

func (rt *Router) handlePlaylistNext(conn *ConnState) error {
	room, ok := rt.roomOf(conn)
	if !ok {
		return synerr.NotFound("not in a room")
	}
	st, _, ok := room.PlaylistNext()
	if !ok {
		return nil // end of playlist; no-op per spec's silence on overflow
	}
	room.Broadcast(protocol.EvPlaylistUpdate, room.SnapshotPlaylist().Wire())
	room.Broadcast(protocol.EvSync, st.Wire())
	return nil
}

func (rt *Router) handlePlaylistReorder(conn *ConnState, env protocol.Envelope) error {
	room, ok := rt.roomOf(conn)
	if !ok {
		return synerr.NotFound("not in a room")
	}
	p, err := decode[protocol.PlaylistReorderPayload](env.Payload)
	if err != nil {
		return err
	}
	videos, ok := room.PlaylistReorder(p.FromIndex, p.ToIndex)
	if !ok {
		return synerr.Validation("reorder indices out of range", nil)
	}
	pl := playback.Playlist{Videos: videos}
	room.Broadcast(protocol.EvPlaylistUpdate, pl.Wire())
	return nil
}

func (rt *Router) handleTrackChange(conn *ConnState, env protocol.Envelope) error {
	room, ok := rt.roomOf(conn)
	if !ok {
		return synerr.NotFound("not in a room")
	}
	p, err := decode[protocol.TrackChangePayload](env.Payload)
	if err != nil {
		return err
	}
	if err := validate.TrackIndex(p.TrackIndex); err != nil {
		return synerr.Validation("invalid track index", err)
	}
	mirrored, st, ok := room.TrackChange(p.VideoIndex, p.TrackType, p.TrackIndex)
	if !ok {
		return synerr.Validation("video index out of range", nil)
	}
	room.Broadcast(protocol.EvTrackChange, p)
	if mirrored {
		room.Broadcast(protocol.EvSync, st.Wire())
	}
	return nil
}

func (rt *Router) handleBSLAdminRegister(conn *ConnState, env protocol.Envelope) error {
	room, ok := rt.roomOf(conn)
	if !ok {
		return synerr.NotFound("not in a room")
	}
	p, err := decode[protocol.BSLAdminRegisterPayload](env.Payload)
	if err != nil {
		return err
	}
	fp := p.Fingerprint
	if fp == "" {
		fp = conn.Fingerprint
	}
	ok, reason := room.ClaimAdmin(conn.ID, fp)
	if !ok {
		conn.Send(protocol.NewOutbound(protocol.EvAdminAuthResult, protocol.AdminAuthResultPayload{Success: false, Reason: reason}))
		// §5, scenario S3: a rejected fingerprint gets a 1s grace period
		// before the transport force-closes the connection.
		if conn.ForceClose != nil {
			conn.ForceClose(forceCloseGrace)
		}
		return synerr.Authorization("bsl-admin-register", reason)
	}
	conn.Send(protocol.NewOutbound(protocol.EvAdminAuthResult, protocol.AdminAuthResultPayload{Success: true}))
	if rt.store != nil {
		rt.store.SetRoomAdminFingerprint(room.Code(), fp)
	}
	return nil
}

func (rt *Router) handleBSLCheckRequest(conn *ConnState) error {
	room, ok := rt.roomOf(conn)
	if !ok {
		return synerr.NotFound("not in a room")
	}
	pl := room.SnapshotPlaylist()
	wirePlaylist := pl.Wire()
	count := 0
	for _, entry := range room.ClientList() {
		if entry.IsAdmin {
			continue
		}
		count++
	}
	room.Broadcast(protocol.EvBSLCheckRequest, protocol.BSLCheckRequestPayload{PlaylistVideos: wirePlaylist})
	conn.Send(protocol.NewOutbound(protocol.EvBSLCheckStarted, protocol.BSLCheckStartedPayload{ClientCount: count}))
	return nil
}

func (rt *Router) handleBSLFolderSelected(conn *ConnState, env protocol.Envelope) error {
	room, ok := rt.roomOf(conn)
	if !ok {
		return synerr.NotFound("not in a room")
	}
	p, err := decode[protocol.BSLFolderSelectedPayload](env.Payload)
	if err != nil {
		return err
	}

	pl := room.SnapshotPlaylist()
	servers := make([]bsl.ServerFile, len(pl.Videos))
	for i, e := range pl.Videos {
		sf := bsl.ServerFile{Filename: e.Filename}
		if rt.mediaDir != "" {
			if info, err := os.Stat(filepath.Join(rt.mediaDir, e.Filename)); err == nil && !info.IsDir() {
				sf.SizeKnown = true
				sf.Size = info.Size()
			}
		}
		servers[i] = sf
	}

	matched := make(map[int]bool)
	matchedVideos := make(map[int]string)
	var manual bsl.ManualLookup
	if rt.store != nil {
		manual = func(fp, clientFileLower string) (string, bool) {
			v, ok := rt.store.BSLMatch(fp, clientFileLower)
			return strings.ToLower(v), ok
		}
	}
	for _, f := range p.Files {
		name, ok := rt.matcher.Match(conn.Fingerprint, bsl.ClientFile{Name: f.Name, Size: f.Size, Type: f.Type}, servers, manual)
		if !ok {
			continue
		}
		for i, e := range pl.Videos {
			if e.Filename == name {
				matched[i] = true
				matchedVideos[i] = name
			}
		}
	}

	room.RecordFolderReport(conn.ID, matched)
	result := protocol.BSLMatchResultPayload{MatchedVideos: matchedVideos, TotalMatched: len(matchedVideos), TotalPlaylist: len(pl.Videos)}
	conn.Send(protocol.NewOutbound(protocol.EvBSLMatchResult, result))

	reports, playlistLen := room.BSLAggregateInput()
	active := bsl.Aggregate(string(rt.cfg.BSLMode), reports, playlistLen)
	room.SendToAdmin(protocol.EvBSLStatusUpdate, active)
	return nil
}

func (rt *Router) handleBSLGetStatus(conn *ConnState) error {
	room, ok := rt.roomOf(conn)
	if !ok {
		return synerr.NotFound("not in a room")
	}
	reports, playlistLen := room.BSLAggregateInput()
	active := bsl.Aggregate(string(rt.cfg.BSLMode), reports, playlistLen)
	conn.Send(protocol.NewOutbound(protocol.EvBSLStatusUpdate, active))
	return nil
}

func (rt *Router) handleBSLManualMatch(conn *ConnState, env protocol.Envelope) error {
	room, ok := rt.roomOf(conn)
	if !ok {
		return synerr.NotFound("not in a room")
	}
	p, err := decode[protocol.BSLManualMatchPayload](env.Payload)
	if err != nil {
		return err
	}
	pl := room.SnapshotPlaylist()
	if err := validate.PlaylistIndex(p.PlaylistIndex, len(pl.Videos)); err != nil {
		return synerr.Validation("playlist index out of range", err)
	}
	target := pl.Videos[p.PlaylistIndex]

	member := room.Member(p.ClientConnectionID)
	if member == nil {
		return synerr.NotFound("client connection not found")
	}
	if rt.store != nil {
		rt.store.SetBSLMatch(member.Fingerprint, strings.ToLower(p.ClientFileName), strings.ToLower(target.Filename))
	}
	room.SendTo(p.ClientConnectionID, protocol.EvBSLMatchResult, protocol.BSLMatchResultPayload{
		MatchedVideos: map[int]string{p.PlaylistIndex: target.Filename},
		TotalMatched:  1,
		TotalPlaylist: len(pl.Videos),
	})
	return nil
}

func (rt *Router) handleBSLSetDrift(conn *ConnState, env protocol.Envelope) error {
	room, ok := rt.roomOf(conn)
	if !ok {
		return synerr.NotFound("not in a room")
	}
	p, err := decode[protocol.BSLSetDriftPayload](env.Payload)
	if err != nil {
		return err
	}
	pl := room.SnapshotPlaylist()
	if err := validate.PlaylistIndex(p.PlaylistIndex, len(pl.Videos)); err != nil {
		return synerr.Validation("playlist index out of range", err)
	}
	room.SetDrift(p.ClientFingerprint, p.PlaylistIndex, validate.Drift(p.DriftSeconds))
	values := room.DriftValues(p.ClientFingerprint)
	room.SendToFingerprint(p.ClientFingerprint, protocol.EvBSLDriftUpdate, protocol.BSLDriftUpdatePayload{DriftValues: values})
	return nil
}

func (rt *Router) handleChatMessage(conn *ConnState, env protocol.Envelope) error {
	room, ok := rt.roomOf(conn)
	if !ok {
		return synerr.NotFound("not in a room")
	}
	if !rt.cfg.ChatEnabled {
		return nil
	}
	p, err := decode[protocol.ChatMessagePayload](env.Payload)
	if err != nil {
		return err
	}

	if strings.HasPrefix(p.Message, "/rename ") {
		newName := strings.TrimSpace(strings.TrimPrefix(p.Message, "/rename "))
		name, err := validate.Name(newName, 32)
		if err != nil {
			return synerr.Validation("invalid rename target", err)
		}
		room.SetDisplayName(conn.ID, name)
		if rt.store != nil {
			rt.store.SetClientName(conn.Fingerprint, name)
		}
		room.Broadcast(protocol.EvNameUpdated, map[string]string{"fingerprint": conn.Fingerprint, "name": name})
		return nil
	}

	sender, err := validate.ChatMessage(p.Sender, 64)
	if err != nil {
		return synerr.Validation("invalid sender", err)
	}
	message, err := validate.ChatMessage(p.Message, 500)
	if err != nil {
		return synerr.Validation("invalid message", err)
	}
	room.Broadcast(protocol.EvChatMessage, protocol.ChatMessagePayload{Sender: sender, Message: message})
	return nil
}

func (rt *Router) handleSetClientName(conn *ConnState, env protocol.Envelope) error {
	room, ok := rt.roomOf(conn)
	if !ok {
		return synerr.NotFound("not in a room")
	}
	p, err := decode[protocol.SetClientNamePayload](env.Payload)
	if err != nil {
		return err
	}
	name, err := validate.Name(p.Name, 32)
	if err != nil {
		return synerr.Validation("invalid name", err)
	}
	room.SetDisplayName(conn.ID, name)
	if rt.store != nil {
		rt.store.SetClientName(conn.Fingerprint, name)
	}
	room.Broadcast(protocol.EvNameUpdated, map[string]string{"fingerprint": conn.Fingerprint, "name": name})
	return nil
}

func (rt *Router) handleGetClientList(conn *ConnState) error {
	room, ok := rt.roomOf(conn)
	if !ok {
		return synerr.NotFound("not in a room")
	}
	conn.Send(protocol.NewOutbound(protocol.EvClientList, room.ClientList()))
	return nil
}

func (rt *Router) handleDeleteRoom(conn *ConnState) error {
	room, ok := rt.roomOf(conn)
	if !ok {
		return synerr.NotFound("not in a room")
	}
	rt.registry.DeleteRoom(room.Code())
	return nil
}

func (rt *Router) handleRequestSync(conn *ConnState) error {
	room, ok := rt.roomOf(conn)
	if !ok {
		return synerr.NotFound("not in a room")
	}
	conn.Send(protocol.NewOutbound(protocol.EvSync, room.SnapshotPlayback().Wire()))
	return nil
}

func (rt *Router) handleGetRooms(conn *ConnState) error {
	rooms := rt.registry.ListPublic()
	out := make([]protocol.RoomSummary, len(rooms))
	for i, r := range rooms {
		out[i] = protocol.RoomSummary{Code: r.Code, Name: r.Name, Viewers: r.Viewers, CreatedAt: r.CreatedAt.UnixMilli()}
	}
	conn.Send(protocol.NewOutbound(protocol.EvRoomsUpdated, out))
	return nil
}
