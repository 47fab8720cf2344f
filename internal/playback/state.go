package playback

import (
	"time"

	"syncplayer/internal/protocol"
)

// State is the per-room playback state (§3 "Playback state"). The
// invariant is enforced by always routing mutation through the advanceTo/SetPlaying/Seek/Skip/Reset/Tick
// helpers rather than assigning fields directly: "every mutation MUST
// either write lastUpdate to the current wall time or advance currentTime
// first and then write lastUpdate."
type State struct {
	IsPlaying     bool
	CurrentTime   float64
	LastUpdate    time.Time
	AudioTrack    int
	SubtitleTrack int
}

func newInitialState() State {
	// §9 open question: the spec picks false until the first set-playlist.
	return State{IsPlaying: false, CurrentTime: 0, LastUpdate: time.Now()}
}

// Projected returns the real playback position at wall time now (§3
// invariant 1 / §8 property 1).
func (s State) Projected(now time.Time) float64 {
	if !s.IsPlaying {
		return s.CurrentTime
	}
	elapsed := now.Sub(s.LastUpdate).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	return s.CurrentTime + elapsed
}

// advanceTo freezes CurrentTime at its projected value as of now and
// resets LastUpdate, preserving the invariant before a subsequent field
// write (e.g. a pause or seek).
func (s *State) advanceTo(now time.Time) {
	s.CurrentTime = s.Projected(now)
	s.LastUpdate = now
}

// SetPlaying flips play/pause, freezing CurrentTime first so the
// invariant holds across the transition.
func (s *State) SetPlaying(playing bool, now time.Time) {
	s.advanceTo(now)
	s.IsPlaying = playing
}

// Seek jumps to an absolute time, keeping IsPlaying as-is.
func (s *State) Seek(seconds float64, now time.Time) {
	s.CurrentTime = seconds
	s.LastUpdate = now
}

// Skip applies a relative seek, clamping to >= 0.
func (s *State) Skip(deltaSeconds float64, now time.Time) {
	pos := s.Projected(now) + deltaSeconds
	if pos < 0 {
		pos = 0
	}
	s.CurrentTime = pos
	s.LastUpdate = now
}

// Reset zeroes CurrentTime, used by join_mode=reset and by playlist
// transitions (§4.4, §4.5 playlist-jump family).
func (s *State) Reset(playing bool, now time.Time) {
	s.CurrentTime = 0
	s.LastUpdate = now
	s.IsPlaying = playing
}

// Tick advances CurrentTime by elapsed wall time when playing, without
// broadcasting (§4.4: "The tick does NOT broadcast; it only keeps
// currentTime fresh").
func (s *State) Tick(now time.Time) {
	if s.IsPlaying {
		s.advanceTo(now)
	}
}

func (s State) Wire() protocol.PlaybackStateWire {
	return protocol.PlaybackStateWire{
		IsPlaying:     s.IsPlaying,
		CurrentTime:   s.CurrentTime,
		LastUpdate:    s.LastUpdate.UnixMilli(),
		AudioTrack:    s.AudioTrack,
		SubtitleTrack: s.SubtitleTrack,
	}
}
