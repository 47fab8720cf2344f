// Package protocol defines the JSON message envelope exchanged over the
// persistent bidirectional channel (§6.4), following the teacher's
// typed-constant-plus-envelope shape (internal/protocol/message.go) but
// modeling the envelope as a tagged union keyed by event name, per §9's
// "Dynamic payloads → tagged variants" design note: unknown tags are
// dropped rather than rejected outright.
package protocol

import "encoding/json"

// Client → server event names (§4.5, §6.4).
const (
	EvCreateRoom         = "create-room"
	EvJoinRoom           = "join-room"
	EvLeaveRoom          = "leave-room"
	EvSetPlaylist        = "set-playlist"
	EvControl            = "control"
	EvPlaylistJump       = "playlist-jump"
	EvPlaylistNext       = "playlist-next"
	EvSkipToNextVideo    = "skip-to-next-video"
	EvPlaylistReorder    = "playlist-reorder"
	EvTrackChange        = "track-change"
	EvBSLAdminRegister   = "bsl-admin-register"
	EvBSLCheckRequest    = "bsl-check-request"
	EvBSLFolderSelected  = "bsl-folder-selected"
	EvBSLManualMatch     = "bsl-manual-match"
	EvBSLSetDrift        = "bsl-set-drift"
	EvBSLGetStatus       = "bsl-get-status"
	EvChatMessage        = "chat-message"
	EvSetClientName      = "set-client-name"
	EvGetClientList      = "get-client-list"
	EvSetClientDispName  = "set-client-display-name"
	EvDeleteRoom         = "delete-room"
	EvRequestInitState   = "request-initial-state"
	EvRequestSync        = "request-sync"
	EvClientRegister     = "client-register"
	EvGetConfig          = "get-config"
	EvGetRooms           = "get-rooms"
	EvDisconnect         = "disconnect"
)

// Server → client event names.
const (
	EvConfig            = "config"
	EvSync              = "sync"
	EvPlaylistUpdate    = "playlist-update"
	EvPlaylistPosition  = "playlist-position"
	EvInitialState      = "initial-state"
	EvClientCount       = "client-count"
	EvNameUpdated       = "name-updated"
	EvAdminAuthResult   = "admin-auth-result"
	EvAdminError        = "admin-error"
	EvRateLimitError    = "rate-limit-error"
	EvControlRejected   = "control-rejected"
	EvClientList        = "client-list"
	EvViewerCount       = "viewer-count"
	EvRoomsUpdated      = "rooms-updated"
	EvRoomDeleted       = "room-deleted"
	EvBSLMatchResult    = "bsl-match-result"
	EvBSLDriftUpdate    = "bsl-drift-update"
	EvBSLStatusUpdate   = "bsl-status-update"
	EvBSLCheckStarted   = "bsl-check-started"
	EvValidationError   = "validation-error"
)

// Envelope is the wire-level tagged union: Type selects how Payload is
// interpreted. Raw payload decoding is deferred to the router so that an
// unrecognized Type can be dropped before any allocation of a typed
// payload struct.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Outbound wraps a server→client event for marshaling. Payload is any
// JSON-serializable struct specific to Type.
type Outbound struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

func NewOutbound(evType string, payload any) Outbound {
	return Outbound{Type: evType, Payload: payload}
}

// Track describes one audio or subtitle stream probed from a media file.
type Track struct {
	Index    int    `json:"index"`
	Codec    string `json:"codec"`
	Language string `json:"language,omitempty"`
	Title    string `json:"title,omitempty"`
	Default  bool   `json:"default"`
}

// PlaylistEntryWire is the client-facing shape of a playlist entry (§3).
type PlaylistEntryWire struct {
	Filename              string  `json:"filename"`
	IsExternal            bool    `json:"isExternal"`
	AudioTracks           []Track `json:"audioTracks"`
	SubtitleTracks        []Track `json:"subtitleTracks"`
	SelectedAudioTrack    int     `json:"selectedAudioTrack"`
	SelectedSubtitleTrack int     `json:"selectedSubtitleTrack"`
	UsesHEVC              bool    `json:"usesHEVC"`
}

// PlaybackStateWire is the broadcast snapshot (§3, "Sync broadcast").
type PlaybackStateWire struct {
	IsPlaying     bool    `json:"isPlaying"`
	CurrentTime   float64 `json:"currentTime"`
	LastUpdate    int64   `json:"lastUpdate"` // unix millis
	AudioTrack    int     `json:"audioTrack"`
	SubtitleTrack int     `json:"subtitleTrack"`
}

// --- client → server payloads ---

type CreateRoomPayload struct {
	Name        string `json:"name"`
	IsPrivate   bool   `json:"isPrivate"`
	Fingerprint string `json:"fingerprint"`
}

type JoinRoomPayload struct {
	RoomCode    string `json:"roomCode"`
	Name        string `json:"name"`
	Fingerprint string `json:"fingerprint"`
}

type SetPlaylistPayload struct {
	Playlist           []PlaylistEntryWire `json:"playlist"`
	MainVideoIndex     int                 `json:"mainVideoIndex"`
	MainVideoStartTime float64             `json:"startTime"`
}

type ControlPayload struct {
	Action      string  `json:"action,omitempty"`
	State       bool    `json:"state,omitempty"`
	Direction   int     `json:"direction,omitempty"`
	Seconds     float64 `json:"seconds,omitempty"`
	Time        float64 `json:"time,omitempty"`
	TrackType   string  `json:"type,omitempty"`
	TrackIndex  int     `json:"trackIndex,omitempty"`
	// Raw sync push fields, present only when Action == "".
	IsPlaying   bool    `json:"isPlaying,omitempty"`
	CurrentTime float64 `json:"currentTime,omitempty"`
}

type PlaylistJumpPayload struct {
	Index int `json:"index"`
}

type PlaylistReorderPayload struct {
	FromIndex int `json:"fromIndex"`
	ToIndex   int `json:"toIndex"`
}

type TrackChangePayload struct {
	VideoIndex int    `json:"videoIndex"`
	TrackType  string `json:"type"`
	TrackIndex int    `json:"trackIndex"`
}

type BSLAdminRegisterPayload struct {
	Fingerprint string `json:"fingerprint,omitempty"`
}

type FileDescriptor struct {
	Name string `json:"name"`
	Size int64  `json:"size,omitempty"`
	Type string `json:"type,omitempty"`
}

type BSLFolderSelectedPayload struct {
	ClientID   string            `json:"clientId,omitempty"`
	ClientName string            `json:"clientName,omitempty"`
	Files      []FileDescriptor  `json:"files"`
}

type BSLManualMatchPayload struct {
	ClientConnectionID string `json:"clientConnectionId"`
	ClientFileName     string `json:"clientFileName"`
	PlaylistIndex      int    `json:"playlistIndex"`
}

type BSLSetDriftPayload struct {
	ClientFingerprint string  `json:"clientFingerprint"`
	PlaylistIndex     int     `json:"playlistIndex"`
	DriftSeconds      float64 `json:"driftSeconds"`
}

type ChatMessagePayload struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

type SetClientNamePayload struct {
	Name string `json:"name"`
}

type ClientRegisterPayload struct {
	Fingerprint string `json:"fingerprint"`
}

// --- server → client payloads ---

type AdminAuthResultPayload struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

type AdminErrorPayload struct {
	Command string `json:"command"`
	Reason  string `json:"reason"`
}

type RateLimitErrorPayload struct {
	RetryAfterSeconds float64 `json:"retryAfter"`
}

type BSLMatchResultPayload struct {
	MatchedVideos map[int]string `json:"matchedVideos"`
	TotalMatched  int            `json:"totalMatched"`
	TotalPlaylist int            `json:"totalPlaylist"`
}

type BSLDriftUpdatePayload struct {
	DriftValues map[int]float64 `json:"driftValues"`
}

type BSLCheckRequestPayload struct {
	PlaylistVideos []PlaylistEntryWire `json:"playlistVideos"`
}

type BSLCheckStartedPayload struct {
	ClientCount int `json:"clientCount"`
}

type ClientListEntry struct {
	Fingerprint string `json:"fingerprint"`
	Name        string `json:"name"`
	IsAdmin     bool   `json:"isAdmin"`
}

type RoomSummary struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	Viewers   int    `json:"viewers"`
	CreatedAt int64  `json:"createdAt"`
}
