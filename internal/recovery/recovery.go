// Package recovery implements the five-step startup procedure that
// rebuilds engine state from the newest valid snapshot followed by WAL
// replay. Grounded on original_source/src/recovery.rs; no teacher
// equivalent exists (the teacher repo starts every process with an empty
// in-memory book and no persistence layer at all).
package recovery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"fenrir/internal/matching"
	"fenrir/internal/snapshot"
	"fenrir/internal/wal"

	"github.com/rs/zerolog/log"
)

// WalFileName is the fixed name of the WAL file within a data directory.
const WalFileName = "wal.bin"

// SnapshotDirName is the fixed name of the snapshot directory within a
// data directory.
const SnapshotDirName = "snapshots"

// Result bundles the recovered engine and its live WAL handle, ready for
// the matcher goroutine to keep appending to.
type Result struct {
	Engine *matching.Engine
	Wal    *wal.Wal
}

// Recover ensures dataDir exists, loads the newest valid snapshot (if
// any), replays WAL records after the snapshot's record count, and
// returns an engine plus an open WAL ready for live append.
//
// Replay is permissive: engine errors (stale cancels, already-filled
// orders from an inconsistent book) are logged and dropped rather than
// aborting recovery, since the WAL may contain commands issued against a
// book state that no longer exists after a partial replay. Replay never
// emits execution reports — only the live matching path does that.
func Recover(dataDir string, arenaCapacity uint32) (*Result, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("recovery: create data dir %s: %w", dataDir, err)
	}

	snapDir := filepath.Join(dataDir, SnapshotDirName)
	snap, found, err := snapshot.LoadLatest(snapDir)
	if err != nil {
		return nil, fmt.Errorf("recovery: load snapshot: %w", err)
	}

	var engine *matching.Engine
	var startRecord uint64

	if found {
		engine, err = snap.Restore(arenaCapacity)
		if err != nil {
			return nil, fmt.Errorf("recovery: restore snapshot: %w", err)
		}
		startRecord = snap.WalRecordCount
		log.Info().
			Uint64("walRecordCount", snap.WalRecordCount).
			Int("orders", len(snap.Orders)).
			Msg("recovery: restored from snapshot")
	} else {
		engine = matching.New(arenaCapacity)
		log.Info().Msg("recovery: no valid snapshot found, starting empty")
	}

	walPath := filepath.Join(dataDir, WalFileName)
	w, err := wal.Open(walPath)
	if err != nil {
		return nil, fmt.Errorf("recovery: open wal: %w", err)
	}

	records, iterErr := w.IterFrom(startRecord)
	applied := 0
	for _, rec := range records {
		if _, err := engine.Apply(rec.Command); err != nil {
			log.Warn().
				Uint64("record", rec.Number).
				Err(err).
				Msg("recovery: replay command rejected by engine, dropping")
			continue
		}
		applied++
	}

	if iterErr != nil {
		replayedCount := startRecord + uint64(len(records))
		var corruptErr *wal.CorruptionError
		var truncErr *wal.TruncatedRecordError
		switch {
		case errors.As(iterErr, &corruptErr):
			log.Warn().
				Uint64("offset", corruptErr.Offset).
				Uint64("recordsReplayed", replayedCount).
				Msg("recovery: truncating wal at corrupted record")
			w.TruncateTo(corruptErr.Offset, replayedCount)
		case errors.As(iterErr, &truncErr):
			log.Warn().
				Uint64("offset", truncErr.Offset).
				Uint64("recordsReplayed", replayedCount).
				Msg("recovery: truncating wal at incomplete trailing record")
			w.TruncateTo(truncErr.Offset, replayedCount)
		default:
			w.Close()
			return nil, fmt.Errorf("recovery: wal iteration: %w", iterErr)
		}
	}

	log.Info().
		Int("applied", applied).
		Uint64("walRecordCount", w.RecordCount()).
		Msg("recovery: complete")

	return &Result{Engine: engine, Wal: w}, nil
}
