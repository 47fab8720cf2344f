// Package registry implements the room registry (§4.3): creating,
// looking up, listing, and destroying rooms, plus the per-room clock
// ticker (§4.4) that keeps each room's virtual playback time fresh. The
// mutex-guarded room map is grounded on bken's
// internal/core.ChannelState, adapted from a single implicit chat server
// to many independently keyed rooms.
package registry

import (
	"context"
	"crypto/rand"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"syncplayer/internal/playback"
)

// codeAlphabet excludes I, O, 0, 1 to reduce transcription error (§3).
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
const codeLength = 6

// TickInterval is the clock/broadcast engine's ticker period (§4.4, §9).
const TickInterval = 5 * time.Second

// LegacyCode is the single implicit room's code in single-room mode
// (server_mode=false, §4.3: "the registry holds exactly one implicit room
// referred to as 'legacy'").
const LegacyCode = "LEGACY"

type roomEntry struct {
	room       *playback.Room
	stopTicker context.CancelFunc
}

// Registry owns every live room. It never holds a strong reference back
// to connections — only rooms, looked up by code (§9 "Cyclic references").
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]*roomEntry
	logger *slog.Logger
}

func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{rooms: make(map[string]*roomEntry), logger: logger}
}

// generateCode performs rejection sampling over codeAlphabet (§4.3).
func (reg *Registry) generateCode() (string, error) {
	for attempt := 0; attempt < 100; attempt++ {
		buf := make([]byte, codeLength)
		for i := range buf {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
			if err != nil {
				return "", err
			}
			buf[i] = codeAlphabet[n.Int64()]
		}
		code := string(buf)
		reg.mu.RLock()
		_, exists := reg.rooms[code]
		reg.mu.RUnlock()
		if !exists {
			return code, nil
		}
	}
	return "", errTooManyCollisions
}

var errTooManyCollisions = &registryError{"failed to generate a unique room code"}

type registryError struct{ msg string }

func (e *registryError) Error() string { return e.msg }

// CreateRoom generates a unique code, constructs the room, starts its
// clock ticker, and registers it. The caller is responsible for claiming
// the admin seat on the returned room.
func (reg *Registry) CreateRoom(ctx context.Context, name string, private bool, cfg playback.RoomConfig) (*playback.Room, error) {
	code, err := reg.generateCode()
	if err != nil {
		return nil, err
	}
	return reg.createWithCode(ctx, code, name, private, cfg), nil
}

// EnsureLegacyRoom returns the single implicit room in single-room mode,
// creating it on first use (§4.3).
func (reg *Registry) EnsureLegacyRoom(ctx context.Context, cfg playback.RoomConfig) *playback.Room {
	reg.mu.Lock()
	if e, ok := reg.rooms[LegacyCode]; ok {
		reg.mu.Unlock()
		return e.room
	}
	reg.mu.Unlock()
	return reg.createWithCode(ctx, LegacyCode, "legacy", false, cfg)
}

func (reg *Registry) createWithCode(ctx context.Context, code, name string, private bool, cfg playback.RoomConfig) *playback.Room {
	room := playback.NewRoom(code, name, private, cfg)
	tickCtx, cancel := context.WithCancel(ctx)

	reg.mu.Lock()
	reg.rooms[code] = &roomEntry{room: room, stopTicker: cancel}
	reg.mu.Unlock()

	go reg.runTicker(tickCtx, room)
	reg.logger.Info("room created", "code", code, "name", name, "private", private)
	return room
}

// runTicker drives one room's virtual clock. If the ticker goroutine
// panics, the room would otherwise freeze forever (§4.6: "Ticker failure
// is not recoverable silently... the design requires the ticker to be
// automatically restarted"); the recover+relaunch loop here is that
// restart mechanism.
func (reg *Registry) runTicker(ctx context.Context, room *playback.Room) {
	defer func() {
		if r := recover(); r != nil {
			reg.logger.Warn("room ticker panicked, restarting", "code", room.Code(), "panic", r)
			if ctx.Err() == nil {
				go reg.runTicker(ctx, room)
			}
		}
	}()

	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			room.Tick(now)
		}
	}
}

// GetRoom looks up a room by code, case-insensitively (§4.3).
func (reg *Registry) GetRoom(code string) (*playback.Room, bool) {
	normalized := normalizeCode(code)
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	e, ok := reg.rooms[normalized]
	if !ok {
		return nil, false
	}
	return e.room, true
}

func normalizeCode(code string) string {
	out := make([]byte, len(code))
	for i := 0; i < len(code); i++ {
		c := code[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// DeleteRoom removes in-memory state and stops the ticker (§4.3
// "deleteRoom... removes in-memory state... and closes all member
// connections cleanly"). Closing member connections is the transport
// layer's job; the registry removes the room from its map first, then
// signals every member via room-deleted and stops the ticker.
func (reg *Registry) DeleteRoom(code string) bool {
	normalized := normalizeCode(code)
	reg.mu.Lock()
	e, ok := reg.rooms[normalized]
	if ok {
		delete(reg.rooms, normalized)
	}
	reg.mu.Unlock()
	if !ok {
		return false
	}
	e.room.Broadcast("room-deleted", map[string]string{"code": normalized})
	e.stopTicker()
	reg.logger.Info("room deleted", "code", normalized)
	return true
}

// ListPublic returns every non-private room with a live viewer count
// (§4.3 listPublic).
func (reg *Registry) ListPublic() []RoomSummary {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]RoomSummary, 0, len(reg.rooms))
	for _, e := range reg.rooms {
		if e.room.Private() {
			continue
		}
		out = append(out, RoomSummary{
			Code:      e.room.Code(),
			Name:      e.room.Name(),
			Viewers:   e.room.MemberCount(),
			CreatedAt: e.room.CreatedAt(),
		})
	}
	return out
}

type RoomSummary struct {
	Code      string
	Name      string
	Viewers   int
	CreatedAt time.Time
}

// Count returns the number of live rooms, for metrics.
func (reg *Registry) Count() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}
