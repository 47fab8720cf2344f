// Package cliops implements the server's CLI subcommands (version,
// status, rooms, config, backup), grounded on the teacher's cli.go
// RunCLI dispatch shape: args[0] selects a subcommand, each of which
// opens its own store handle rather than sharing the running server's.
package cliops

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"syncplayer/internal/config"
	"syncplayer/internal/jsonstore"
	"syncplayer/internal/roomlog"
)

// Version is the server's release identifier, set via -ldflags in
// release builds.
var Version = "dev"

// Paths bundles the on-disk locations CLI subcommands need.
type Paths struct {
	StorePath   string
	StoreKeyEnv string
	RoomLogPath string
	ConfigPath  string
}

// Run dispatches args[0] to a subcommand. Returns true if a subcommand
// was handled (the caller should not also start the server).
func Run(args []string, paths Paths) bool {
	if len(args) == 0 {
		return false
	}
	switch args[0] {
	case "version":
		fmt.Printf("syncplayer-server %s\n", Version)
		return true
	case "status":
		runStatus(paths)
		return true
	case "rooms":
		runRooms(paths)
		return true
	case "config":
		runConfig(paths)
		return true
	case "backup":
		runBackup(args[1:], paths)
		return true
	default:
		return false
	}
}

func runStatus(paths Paths) {
	store, err := jsonstore.Open(paths.StorePath, paths.StoreKeyEnv, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening store: %v\n", err)
		os.Exit(1)
	}
	snap := store.Snapshot()

	fmt.Printf("Store: %s\n", paths.StorePath)
	fmt.Printf("Rooms with a registered admin fingerprint: %d\n", len(snap.RoomAdmins))
	fmt.Printf("Known client names: %d\n", len(snap.ClientNames))
	fmt.Printf("BSL manual matches (fingerprints): %d\n", len(snap.BSLMatches))
	fmt.Printf("Version: %s\n", Version)
}

func runRooms(paths Paths) {
	log, err := roomlog.Open(paths.RoomLogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening room log: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	codes, err := log.DistinctRoomCodes(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if len(codes) == 0 {
		fmt.Println("No rooms recorded.")
		return
	}
	for _, code := range codes {
		events, err := log.Recent(context.Background(), code, 1)
		last := "unknown"
		if err == nil && len(events) > 0 {
			last = events[len(events)-1].CreatedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("  %s  last event %s\n", code, last)
	}
}

func runConfig(paths Paths) {
	cfg, err := config.Load(paths.ConfigPath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	out, _ := json.MarshalIndent(cfg, "", "  ")
	fmt.Println(string(out))
}

func runBackup(args []string, paths Paths) {
	outDir := "."
	if len(args) > 0 {
		outDir = args[0]
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error creating backup dir: %v\n", err)
		os.Exit(1)
	}
	if err := copyFile(paths.StorePath, filepath.Join(outDir, filepath.Base(paths.StorePath))); err != nil {
		fmt.Fprintf(os.Stderr, "backup store: %v\n", err)
		os.Exit(1)
	}
	if err := copyFile(paths.RoomLogPath, filepath.Join(outDir, filepath.Base(paths.RoomLogPath))); err != nil {
		fmt.Fprintf(os.Stderr, "backup room log: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Backed up store and room log to %s\n", outDir)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
