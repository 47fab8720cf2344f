package playback

import "syncplayer/internal/protocol"

// TrackSelection mirrors §3's "selectedAudioTrack"/"selectedSubtitleTrack"
// plus the probed track sets for one playlist entry.
type TrackSelection struct {
	AudioTracks           []protocol.Track
	SubtitleTracks        []protocol.Track
	SelectedAudioTrack    int // 0 if unset
	SelectedSubtitleTrack int // -1 for off
}

// Entry is one playlist item (§3 "Playlist entry").
type Entry struct {
	Filename   string
	IsExternal bool
	Tracks     TrackSelection
	UsesHEVC   bool
}

func (e Entry) toWire() protocol.PlaylistEntryWire {
	return protocol.PlaylistEntryWire{
		Filename:              e.Filename,
		IsExternal:            e.IsExternal,
		AudioTracks:           e.Tracks.AudioTracks,
		SubtitleTracks:        e.Tracks.SubtitleTracks,
		SelectedAudioTrack:    e.Tracks.SelectedAudioTrack,
		SelectedSubtitleTrack: e.Tracks.SelectedSubtitleTrack,
		UsesHEVC:              e.UsesHEVC,
	}
}

// Playlist is the ordered sequence of entries for one room (§3).
type Playlist struct {
	Videos             []Entry
	CurrentIndex       int // -1 = none yet
	MainVideoIndex     int // -1 or index
	MainVideoStartTime float64
	PreloadMainVideo   bool
}

func newEmptyPlaylist() Playlist {
	return Playlist{CurrentIndex: -1, MainVideoIndex: -1}
}

func (p Playlist) Wire() []protocol.PlaylistEntryWire {
	out := make([]protocol.PlaylistEntryWire, len(p.Videos))
	for i, e := range p.Videos {
		out[i] = e.toWire()
	}
	return out
}

// Current returns the playlist entry at CurrentIndex, or ok=false if there
// is none (empty playlist or not yet started, §3 invariant).
func (p Playlist) Current() (Entry, bool) {
	if p.CurrentIndex < 0 || p.CurrentIndex >= len(p.Videos) {
		return Entry{}, false
	}
	return p.Videos[p.CurrentIndex], true
}
