// Package probe implements the external probe interface (§6.5): it
// invokes an ffprobe-like binary to extract stream metadata for a media
// file. Invocation follows the argument-vector discipline the spec
// mandates ("MUST pass arguments as an argument vector (never composed
// into a shell command string)") and the timeout/context-cancellation
// idiom grounded on the xg2g ffmpeg runner reference file
// (exec.CommandContext with a bounded kill timeout).
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"syncplayer/internal/protocol"
	"syncplayer/internal/validate"
)

// DefaultTimeout is the probe process time budget (§5: "Probe processes
// must have a default timeout (at least 5 s)").
const DefaultTimeout = 5 * time.Second

// ffprobeStream mirrors the subset of ffprobe's JSON output the core
// consumes (§6.5).
type ffprobeStream struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Index     int    `json:"index"`
	Tags      struct {
		Language string `json:"language"`
		Title    string `json:"title"`
	} `json:"tags"`
	Disposition struct {
		Default int `json:"default"`
	} `json:"disposition"`
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Result is the core-facing probe outcome (§3 "tracks").
type Result struct {
	AudioTracks     []protocol.Track
	SubtitleTracks  []protocol.Track
	UsesHEVC        bool
	DurationSeconds float64 // 0 if unknown; used by the thumbnail generator (§6.3)
}

// Prober invokes an external media-probe binary for one basename, rooted
// under mediaDir.
type Prober struct {
	BinPath  string
	MediaDir string
	Timeout  time.Duration
}

func New(binPath, mediaDir string) *Prober {
	return &Prober{BinPath: binPath, MediaDir: mediaDir, Timeout: DefaultTimeout}
}

// Probe runs the probe binary against filename and parses its streams.
// Any failure — missing binary, non-zero exit, non-JSON output — is
// swallowed per §4.6/§7 ExternalToolError: the caller gets an empty
// Result rather than an error, "treat the file's tracks as {audio: [],
// subtitles: []} and continue; never fail the whole playlist update."
func (p *Prober) Probe(ctx context.Context, filename string) Result {
	safe, err := validate.Filename(filename)
	if err != nil {
		return Result{}
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fullPath := filepath.Join(p.MediaDir, safe)
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		fullPath,
	}
	cmd := exec.CommandContext(runCtx, p.BinPath, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		return Result{}
	}

	var out ffprobeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return Result{}
	}

	return buildResult(out)
}

func buildResult(out ffprobeOutput) Result {
	var res Result
	if d, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil {
		res.DurationSeconds = d
	}
	for _, s := range out.Streams {
		t := protocol.Track{
			Index:    s.Index,
			Codec:    s.CodecName,
			Language: s.Tags.Language,
			Title:    s.Tags.Title,
			Default:  s.Disposition.Default != 0,
		}
		switch s.CodecType {
		case "audio":
			res.AudioTracks = append(res.AudioTracks, t)
		case "subtitle":
			res.SubtitleTracks = append(res.SubtitleTracks, t)
		case "video":
			if s.CodecName == "hevc" {
				res.UsesHEVC = true
			}
		}
	}
	return res
}

// ValidateInvocation is exported for tests/callers that want to assert a
// filename would be rejected before it ever reaches an exec.Command call
// (§8 property 7).
func ValidateInvocation(filename string) error {
	_, err := validate.Filename(filename)
	return err
}
