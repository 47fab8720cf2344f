// Package thumbnail generates and caches the 720p JPEG thumbnails the
// HTTP layer serves from /api/thumbnail/{filename} (§6.3): a frame from
// a random position in the first third of a video's duration, or
// embedded cover art for audio files. Invocation follows the same
// argument-vector/bounded-timeout discipline as internal/probe, built
// on top of it for duration discovery.
package thumbnail

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"syncplayer/internal/probe"
	"syncplayer/internal/validate"
)

// DefaultTimeout bounds the external encoder invocation.
const DefaultTimeout = 10 * time.Second

// audioExtensions get cover-art extraction instead of a seeked frame.
var audioExtensions = map[string]bool{
	".mp3": true, ".flac": true, ".ogg": true, ".wav": true, ".m4a": true,
}

// Generator produces and caches thumbnails for files under MediaDir.
type Generator struct {
	BinPath  string // ffmpeg-compatible encoder
	MediaDir string
	CacheDir string
	Prober   *probe.Prober
	Timeout  time.Duration
}

func New(binPath, mediaDir, cacheDir string, prober *probe.Prober) *Generator {
	return &Generator{BinPath: binPath, MediaDir: mediaDir, CacheDir: cacheDir, Prober: prober, Timeout: DefaultTimeout}
}

// Path returns the cached thumbnail path for filename, generating it
// first if absent. Returns an error for an invalid filename, a cache
// directory that cannot be created, or an encoder failure; the caller logs
// the error and surfaces it as "no thumbnail available" per
// ExternalToolError semantics (§4.6/§7).
func (g *Generator) Path(ctx context.Context, filename string) (string, error) {
	safe, err := validate.Filename(filename)
	if err != nil {
		return "", err
	}

	cachePath := g.cachePath(safe)
	if _, err := os.Stat(cachePath); err == nil {
		return cachePath, nil
	}

	if err := os.MkdirAll(g.CacheDir, 0o755); err != nil {
		return "", fmt.Errorf("create thumbnail cache dir: %w", err)
	}

	timeout := g.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sourcePath := filepath.Join(g.MediaDir, safe)
	var args []string
	if audioExtensions[filepath.Ext(safe)] {
		args = []string{"-i", sourcePath, "-an", "-vcodec", "copy", cachePath}
	} else {
		seekSeconds := g.randomSeekPosition(runCtx, safe)
		args = []string{
			"-ss", fmt.Sprintf("%.2f", seekSeconds),
			"-i", sourcePath,
			"-frames:v", "1",
			"-vf", "scale=-1:720",
			"-f", "image2",
			cachePath,
		}
	}

	cmd := exec.CommandContext(runCtx, g.BinPath, args...)
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("generate thumbnail: %w", err)
	}
	return cachePath, nil
}

// randomSeekPosition picks a uniformly random position in the first
// third of the file's duration (§6.3), falling back to 1s if duration
// cannot be determined.
func (g *Generator) randomSeekPosition(ctx context.Context, filename string) float64 {
	if g.Prober == nil {
		return 1
	}
	res := g.Prober.Probe(ctx, filename)
	if res.DurationSeconds <= 3 {
		return 1
	}
	maxSeek := res.DurationSeconds / 3
	n, err := rand.Int(rand.Reader, big.NewInt(int64(maxSeek*1000)))
	if err != nil {
		return maxSeek / 2
	}
	return float64(n.Int64()) / 1000
}

func (g *Generator) cachePath(safe string) string {
	sum := sha256.Sum256([]byte(safe))
	return filepath.Join(g.CacheDir, hex.EncodeToString(sum[:])+".jpg")
}
