package capture

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/KLayOnStudio/dojogo-sub000/internal/imu"
	"github.com/KLayOnStudio/dojogo-sub000/internal/ingest"
)

// staleAfter bounds how old an unflushed capture may be before resume gives
// up on it. A day-old capture belongs to an activity nobody is waiting on.
const staleAfter = 24 * time.Hour

// Recover scans the capture root for sessions a previous process left
// behind. Each one is either resumed (session re-created with the same
// client upload id for a fresh token, pending chunks uploaded, manifest
// finalized) or discarded with a log line when it is stale or corrupt.
// Recover runs before any new capture starts and never touches the live
// session.
func (c *Controller) Recover(ctx context.Context) ([]ingest.FinalizeSummary, error) {
	entries, err := os.ReadDir(c.cfg.Root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan capture dir: %w", err)
	}

	var summaries []ingest.FinalizeSummary
	var errs []error
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(c.cfg.Root, entry.Name())

		store, err := OpenChunkStore(dir)
		if err != nil {
			log.Printf("discarding corrupt capture leftover %s: %v", dir, err)
			if rmErr := os.RemoveAll(dir); rmErr != nil {
				errs = append(errs, rmErr)
			}
			continue
		}
		if age := time.Since(store.State().CreatedAt); age > staleAfter {
			log.Printf("discarding stale capture %s (age %s)", dir, age.Round(time.Minute))
			if rmErr := store.Discard(); rmErr != nil {
				errs = append(errs, rmErr)
			}
			continue
		}

		summary, err := c.resume(ctx, store)
		if err != nil {
			// Still on disk; the next startup tries again.
			errs = append(errs, fmt.Errorf("resume %s: %w", store.State().ClientUploadID, err))
			continue
		}
		summaries = append(summaries, summary)
	}
	return summaries, errors.Join(errs...)
}

// resume reattaches to the server session and drives the interrupted
// upload plus finalize to completion.
func (c *Controller) resume(ctx context.Context, store *ChunkStore) (ingest.FinalizeSummary, error) {
	state := store.State()
	session, err := c.client.CreateSession(ctx, createRequest(state))
	if err != nil {
		return ingest.FinalizeSummary{}, fmt.Errorf("reattach session: %w", err)
	}
	if err := store.SetSession(session.SessionID, session.UserID, session.DeviceID); err != nil {
		return ingest.FinalizeSummary{}, err
	}

	stats, endTime, err := c.recoveredStats(store)
	if err != nil {
		return ingest.FinalizeSummary{}, err
	}
	return c.uploadAndFinalize(ctx, session, store, stats, endTime)
}

// recoveredStats rebuilds RateStats from the on-disk chunks, since the
// crash happened before the in-memory timestamps were summarized. The end
// time falls back to the last observed sample.
func (c *Controller) recoveredStats(store *ChunkStore) (*ingest.RateStats, time.Time, error) {
	var timestamps, sequences []int64
	state := store.State()
	for _, rec := range state.Files {
		if rec.Purpose != imu.PurposeRaw {
			continue
		}
		samples, err := store.ReadChunkSamples(rec.Name)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("read chunk %s: %w", rec.Name, err)
		}
		for _, s := range samples {
			timestamps = append(timestamps, s.TimestampNs)
			sequences = append(sequences, s.Sequence)
		}
	}

	endTime := state.StartTimeUTC
	if len(timestamps) > 1 {
		first, last := timestamps[0], timestamps[0]
		for _, ts := range timestamps {
			if ts < first {
				first = ts
			}
			if ts > last {
				last = ts
			}
		}
		endTime = state.StartTimeUTC.Add(time.Duration(last - first))
	}
	return ComputeRateStats(timestamps, sequences), endTime, nil
}
