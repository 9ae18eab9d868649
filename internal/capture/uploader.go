package capture

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/KLayOnStudio/dojogo-sub000/internal/auth"
)

const (
	defaultUploadConcurrency = 2
	defaultMaxAttempts       = 5
	defaultBackoffBase       = 2 * time.Second
)

// sleepFn is a seam for tests; backoff waits go through it.
var sleepFn = func(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Uploader drains a session's pending files with bounded concurrency so a
// mobile radio is never saturated. Each file retries independently with
// exponential backoff; a file that exhausts its budget stays queued on disk
// rather than being lost.
type Uploader struct {
	client      *Client
	concurrency int
	maxAttempts int
	backoffBase time.Duration
}

func NewUploader(client *Client) *Uploader {
	return &Uploader{
		client:      client,
		concurrency: defaultUploadConcurrency,
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
	}
}

// UploadAll uploads every pending file in the store. Returns nil when all
// files landed; auth.ErrTokenExpired as soon as the capability token is
// rejected (the caller refreshes and calls again); ErrUploadsQueued when
// retry budgets ran out with files still pending.
func (u *Uploader) UploadAll(ctx context.Context, capability auth.CapabilityToken, store *ChunkStore) error {
	pending := store.Pending()
	if len(pending) == 0 {
		return nil
	}

	sem := make(chan struct{}, u.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var tokenExpired bool
	var queued int

	for _, rec := range pending {
		rec := rec
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			err := u.uploadWithRetry(ctx, capability, store, rec)
			if err == nil {
				mu.Lock()
				if markErr := store.MarkUploaded(rec.Name); markErr != nil {
					log.Printf("mark uploaded %s: %v", rec.Name, markErr)
				}
				mu.Unlock()
				return
			}

			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, auth.ErrTokenExpired) {
				tokenExpired = true
				return
			}
			queued++
			log.Printf("upload %s queued after retries: %v", rec.Name, err)
		}()
	}
	wg.Wait()

	if tokenExpired {
		return auth.ErrTokenExpired
	}
	if queued > 0 {
		return ErrUploadsQueued
	}
	return nil
}

func (u *Uploader) uploadWithRetry(ctx context.Context, capability auth.CapabilityToken, store *ChunkStore, rec FileRecord) error {
	delay := u.backoffBase
	var lastErr error
	for attempt := 1; attempt <= u.maxAttempts; attempt++ {
		body, err := store.Open(rec.Name)
		if err != nil {
			return err
		}
		err = u.client.Upload(ctx, capability, rec.Name, body)
		body.Close()
		if err == nil {
			return nil
		}
		if errors.Is(err, auth.ErrTokenExpired) {
			return err
		}
		if !errors.Is(err, ErrNetworkTransient) {
			return err
		}

		lastErr = err
		if attempt == u.maxAttempts {
			break
		}
		if err := sleepFn(ctx, delay); err != nil {
			return err
		}
		delay *= 2
	}
	return lastErr
}
