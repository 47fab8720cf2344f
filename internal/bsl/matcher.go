// Package bsl implements the BSL-S² (Both-Side Local Sync Stream) file
// matcher (§4.7): scoring a client-reported file descriptor against a
// playlist entry so viewers can substitute a local copy of a file instead
// of streaming it. The weighted multi-criteria scoring is grounded on
// jota2rz-vdj-video-sync's internal/video.Matcher, which scores candidate
// files on a tiered scale (MatchExact..MatchRandom) with similarity
// thresholds; here the criteria are the four the spec names explicitly
// (name, extension, size, MIME family) rather than audio fingerprinting.
package bsl

import (
	"path/filepath"
	"strings"
)

// sizeTolerance is "within ±1.5 MiB" (§4.7 criterion 3).
const sizeTolerance = int64(1.5 * 1024 * 1024)

// ServerFile is the playlist-side file this matcher scores candidates
// against.
type ServerFile struct {
	Filename string // basename, e.g. "movie.mkv"
	SizeKnown bool
	Size      int64
}

// ClientFile is the descriptor a client reports (§6.4 FileDescriptor).
type ClientFile struct {
	Name string
	Size int64 // 0 if not reported
	Type string
}

// extToMIME maps a canonical extension to its canonical MIME type, used
// for the "MIME either exactly equals the extension's canonical MIME or
// shares the family" criterion.
var extToMIME = map[string]string{
	".mkv":  "video/x-matroska",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".mp3":  "audio/mpeg",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

func mimeFamily(mime string) string {
	idx := strings.Index(mime, "/")
	if idx < 0 {
		return mime
	}
	return mime[:idx]
}

// Score computes the §4.7 step 2 multi-criteria score (0-4) between a
// server file and a client-reported descriptor.
func Score(server ServerFile, client ClientFile) int {
	score := 0

	serverName := strings.ToLower(server.Filename)
	clientName := strings.ToLower(client.Name)
	if serverName == clientName {
		score++
	}

	serverExt := strings.ToLower(filepath.Ext(server.Filename))
	clientExt := strings.ToLower(filepath.Ext(client.Name))
	if serverExt != "" && serverExt == clientExt {
		score++
	}

	if server.SizeKnown && client.Size > 0 {
		diff := server.Size - client.Size
		if diff < 0 {
			diff = -diff
		}
		if diff <= sizeTolerance {
			score++
		}
	}

	if client.Type != "" {
		canonical := extToMIME[serverExt]
		if strings.EqualFold(client.Type, canonical) {
			score++
		} else if canonical != "" && mimeFamily(client.Type) == mimeFamily(canonical) {
			score++
		}
	}

	return score
}

// Matcher evaluates BSL matches for one playlist against reported client
// files, honoring persisted manual overrides before scoring (§4.7 step 1).
type Matcher struct {
	AdvancedMatch bool
	Threshold     int // clamped to [1,4] by config
}

// ManualLookup resolves a persisted manual match for a fingerprint: given
// the client file's lowercased name, return the playlist filename it was
// manually bound to, if any.
type ManualLookup func(fingerprint, clientFileLower string) (playlistFilenameLower string, ok bool)

// Match finds, for one client file, which server playlist file (if any) it
// matches, following the three-step precedence in §4.7: manual match,
// then advanced scoring, then exact-name fallback.
func (m Matcher) Match(fingerprint string, client ClientFile, servers []ServerFile, manual ManualLookup) (matchedFilename string, ok bool) {
	clientLower := strings.ToLower(client.Name)

	if manual != nil {
		if target, found := manual(fingerprint, clientLower); found {
			for _, s := range servers {
				if strings.ToLower(s.Filename) == target {
					return s.Filename, true
				}
			}
		}
	}

	if m.AdvancedMatch {
		threshold := m.Threshold
		if threshold < 1 {
			threshold = 1
		}
		if threshold > 4 {
			threshold = 4
		}
		best := ""
		bestScore := 0
		for _, s := range servers {
			sc := Score(s, client)
			if sc >= threshold && sc > bestScore {
				best, bestScore = s.Filename, sc
			}
		}
		if best != "" {
			return best, true
		}
	}

	for _, s := range servers {
		if strings.ToLower(s.Filename) == clientLower {
			return s.Filename, true
		}
	}
	return "", false
}

// Aggregate computes per-playlist-index "BSL-active" status from a set of
// per-member match results, per §4.7's any/all aggregation modes.
// memberMatches[i] is the set of playlist indices member i matched.
// reportedCount is how many distinct members have reported a folder at
// all (needed for "all" mode: active only if every reporting member
// matched that index).
func Aggregate(mode string, memberMatches []map[int]bool, playlistLen int) map[int]bool {
	active := make(map[int]bool, playlistLen)
	reportedCount := len(memberMatches)
	for idx := 0; idx < playlistLen; idx++ {
		switch mode {
		case "all":
			if reportedCount == 0 {
				continue
			}
			allMatched := true
			for _, mm := range memberMatches {
				if !mm[idx] {
					allMatched = false
					break
				}
			}
			active[idx] = allMatched
		default: // "any"
			for _, mm := range memberMatches {
				if mm[idx] {
					active[idx] = true
					break
				}
			}
		}
	}
	return active
}
