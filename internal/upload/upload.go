// Package upload moves recorded voice notes into the object store with
// bounded retry. The draft queue is the safety net: a draft is persisted
// before the first network attempt, so a crash or dead network can never lose
// a recording.
package upload

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"tetatet/internal/backend"
	"tetatet/internal/content"
	"tetatet/internal/drafts"
)

const MaxRetries = 3

// retryDelays is the escalating wait before each retry attempt. No wait after
// the final failure.
var retryDelays = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

// Result reports the outcome of an upload sequence. On success URL is the
// public object URL; on terminal failure DraftID names the draft left in the
// queue for manual retry.
type Result struct {
	Success bool
	URL     string
	DraftID string
}

type Engine struct {
	store   *drafts.Store
	objects backend.ObjectStore
	log     *slog.Logger

	// sleep is swapped out in tests to keep the backoff schedule observable
	// without waiting it out.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewEngine(store *drafts.Store, objects backend.ObjectStore) *Engine {
	return &Engine{
		store:   store,
		objects: objects,
		log:     slog.Default().With("component", "upload"),
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UploadWithRetry persists a draft, then tries the upload up to MaxRetries
// times with escalating delays. Success deletes the draft; exhaustion leaves
// it queued and returns its id.
func (e *Engine) UploadWithRetry(ctx context.Context, blob []byte, duration float64, mimeType string) (Result, error) {
	draft := &drafts.VoiceNoteDraft{
		ID:        drafts.GenerateID(),
		Blob:      blob,
		Duration:  duration,
		CreatedAt: time.Now().UnixMilli(),
		MimeType:  mimeType,
	}
	if err := e.store.Save(draft); err != nil {
		return Result{}, fmt.Errorf("failed to persist draft: %w", err)
	}

	for attempt := 0; attempt < MaxRetries; attempt++ {
		url, err := e.tryUpload(ctx, draft)
		if err == nil {
			if err := e.store.Delete(draft.ID); err != nil {
				e.log.Error("failed to delete uploaded draft", "draft_id", draft.ID, "error", err)
			}
			return Result{Success: true, URL: url}, nil
		}
		e.log.Warn("upload attempt failed", "draft_id", draft.ID, "attempt", attempt+1, "error", err)

		if err := e.store.IncrementRetry(draft.ID); err != nil {
			e.log.Error("failed to bump retry count", "draft_id", draft.ID, "error", err)
		}

		if attempt < MaxRetries-1 {
			if err := e.sleep(ctx, retryDelays[attempt]); err != nil {
				return Result{Success: false, DraftID: draft.ID}, err
			}
		}
	}

	return Result{Success: false, DraftID: draft.ID}, nil
}

// RetryDraft makes a single attempt against an existing draft. The draft is
// not re-persisted; on success it is deleted, on failure the retry counter is
// bumped and the draft stays queued.
func (e *Engine) RetryDraft(ctx context.Context, id string) (Result, error) {
	draft, err := e.store.Get(id)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load draft %s: %w", id, err)
	}

	url, err := e.tryUpload(ctx, draft)
	if err != nil {
		e.log.Warn("manual retry failed", "draft_id", id, "error", err)
		if err := e.store.IncrementRetry(id); err != nil {
			e.log.Error("failed to bump retry count", "draft_id", id, "error", err)
		}
		return Result{Success: false, DraftID: id}, nil
	}

	if err := e.store.Delete(id); err != nil {
		e.log.Error("failed to delete uploaded draft", "draft_id", id, "error", err)
	}
	return Result{Success: true, URL: url}, nil
}

// RemoveDraft discards a queued draft without uploading it.
func (e *Engine) RemoveDraft(id string) error {
	return e.store.Delete(id)
}

// PendingDrafts lists queued drafts, newest first.
func (e *Engine) PendingDrafts() ([]drafts.VoiceNoteDraft, error) {
	return e.store.ListAll()
}

func (e *Engine) tryUpload(ctx context.Context, draft *drafts.VoiceNoteDraft) (string, error) {
	// Each attempt gets a fresh path, so a retry after an ambiguous failure
	// cannot collide with a half-written object.
	path := uploadPath(content.AudioExtension(draft.Blob, draft.MimeType))
	if err := e.objects.Upload(ctx, path, draft.Blob, draft.MimeType); err != nil {
		return "", err
	}
	return e.objects.PublicURL(path), nil
}

func uploadPath(ext string) string {
	n, _ := rand.Int(rand.Reader, big.NewInt(1<<30))
	return fmt.Sprintf("uploads/%d-%s.%s", time.Now().UnixMilli(), n.Text(36), ext)
}
