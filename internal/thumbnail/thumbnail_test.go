package thumbnail

import (
	"context"
	"path/filepath"
	"testing"
)

func TestPathRejectsUnsafeFilename(t *testing.T) {
	g := New("ffmpeg", t.TempDir(), t.TempDir(), nil)
	if _, err := g.Path(context.Background(), "../../etc/passwd"); err == nil {
		t.Fatal("expected rejection of path traversal filename")
	}
}

func TestPathSurfacesEncoderFailure(t *testing.T) {
	g := New("/nonexistent/ffmpeg-binary", t.TempDir(), t.TempDir(), nil)
	if _, err := g.Path(context.Background(), "movie.mkv"); err == nil {
		t.Fatal("expected error when encoder binary is missing")
	}
}

func TestCachePathIsStableForSameFilename(t *testing.T) {
	g := New("ffmpeg", t.TempDir(), t.TempDir(), nil)
	a := g.cachePath("movie.mkv")
	b := g.cachePath("movie.mkv")
	if a != b {
		t.Errorf("cachePath not stable: %q vs %q", a, b)
	}
	if filepath.Ext(a) != ".jpg" {
		t.Errorf("expected .jpg extension, got %q", a)
	}
}

func TestRandomSeekPositionFallsBackWithoutProber(t *testing.T) {
	g := New("ffmpeg", t.TempDir(), t.TempDir(), nil)
	if pos := g.randomSeekPosition(context.Background(), "movie.mkv"); pos != 1 {
		t.Errorf("expected fallback seek position of 1s, got %v", pos)
	}
}
