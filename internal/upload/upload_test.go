package upload

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tetatet/internal/backend"
	"tetatet/internal/drafts"
)

func newTestEngine(t *testing.T, objects backend.ObjectStore) (*Engine, *drafts.Store, *[]time.Duration) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "upload_test")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })

	store, err := drafts.NewStore(filepath.Join(tmpDir, "drafts.db"))
	if err != nil {
		t.Fatalf("failed to create draft store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	engine := NewEngine(store, objects)
	var slept []time.Duration
	engine.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return engine, store, &slept
}

func TestUploadWithRetry_Success(t *testing.T) {
	objects := backend.NewMemoryObjectStore()
	engine, store, slept := newTestEngine(t, objects)

	blob := []byte("audio-bytes")
	res, err := engine.UploadWithRetry(context.Background(), blob, 4.2, "audio/webm")
	if err != nil {
		t.Fatalf("UploadWithRetry failed: %v", err)
	}
	if !res.Success || res.URL == "" {
		t.Fatalf("expected success with url, got %+v", res)
	}
	if len(*slept) != 0 {
		t.Errorf("no retries expected, slept %v", *slept)
	}

	// No draft remains after a successful upload.
	list, err := store.ListAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Errorf("expected empty queue, got %d drafts", len(list))
	}
}

func TestUploadWithRetry_Exhaustion(t *testing.T) {
	objects := backend.NewMemoryObjectStore()
	objects.SetAvailable(false)
	engine, store, slept := newTestEngine(t, objects)

	blob := []byte("audio-bytes")
	res, err := engine.UploadWithRetry(context.Background(), blob, 4.2, "audio/mp4")
	if err != nil {
		t.Fatalf("UploadWithRetry returned transport error: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure with storage down")
	}
	if res.DraftID == "" {
		t.Fatal("terminal failure must name the queued draft")
	}

	// Escalating schedule, no sleep after the final attempt.
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), *slept)
	}
	for i, d := range want {
		if (*slept)[i] != d {
			t.Errorf("sleep %d: expected %v, got %v", i, d, (*slept)[i])
		}
	}

	// The draft survives with the full retry count and the original payload.
	draft, err := store.Get(res.DraftID)
	if err != nil {
		t.Fatalf("draft missing after exhaustion: %v", err)
	}
	if draft.RetryCount != MaxRetries {
		t.Errorf("expected RetryCount %d, got %d", MaxRetries, draft.RetryCount)
	}
	if string(draft.Blob) != "audio-bytes" || draft.Duration != 4.2 || draft.MimeType != "audio/mp4" {
		t.Errorf("draft payload mismatch: %+v", draft)
	}
}

func TestUploadWithRetry_SucceedsMidSchedule(t *testing.T) {
	objects := backend.NewMemoryObjectStore()
	objects.SetAvailable(false)
	engine, store, slept := newTestEngine(t, objects)

	// Restore the network after the first backoff sleep.
	orig := engine.sleep
	engine.sleep = func(ctx context.Context, d time.Duration) error {
		objects.SetAvailable(true)
		return orig(ctx, d)
	}

	res, err := engine.UploadWithRetry(context.Background(), []byte("a"), 1, "audio/webm")
	if err != nil {
		t.Fatalf("UploadWithRetry failed: %v", err)
	}
	if !res.Success {
		t.Fatal("expected success on second attempt")
	}
	if len(*slept) != 1 {
		t.Errorf("expected exactly one backoff sleep, got %v", *slept)
	}

	list, _ := store.ListAll()
	if len(list) != 0 {
		t.Error("draft not deleted after mid-schedule success")
	}
}

func TestRetryDraft(t *testing.T) {
	objects := backend.NewMemoryObjectStore()
	objects.SetAvailable(false)
	engine, store, _ := newTestEngine(t, objects)

	res, err := engine.UploadWithRetry(context.Background(), []byte("voice"), 2, "audio/webm")
	if err != nil || res.Success {
		t.Fatalf("setup failed: res=%+v err=%v", res, err)
	}

	// Still down: one more attempt, counter bumps, draft stays.
	retry, err := engine.RetryDraft(context.Background(), res.DraftID)
	if err != nil {
		t.Fatalf("RetryDraft failed: %v", err)
	}
	if retry.Success {
		t.Fatal("retry succeeded with storage down")
	}
	draft, err := store.Get(res.DraftID)
	if err != nil {
		t.Fatal(err)
	}
	if draft.RetryCount != MaxRetries+1 {
		t.Errorf("expected RetryCount %d, got %d", MaxRetries+1, draft.RetryCount)
	}

	// Network restored: manual retry delivers and clears the queue.
	objects.SetAvailable(true)
	retry, err = engine.RetryDraft(context.Background(), res.DraftID)
	if err != nil {
		t.Fatalf("RetryDraft failed: %v", err)
	}
	if !retry.Success || retry.URL == "" {
		t.Fatalf("expected success after network restore, got %+v", retry)
	}
	if _, err := store.Get(res.DraftID); err == nil {
		t.Error("draft not deleted after successful manual retry")
	}

	if _, err := engine.RetryDraft(context.Background(), "missing"); err == nil {
		t.Error("expected error for unknown draft id")
	}
}

func TestRemoveDraft(t *testing.T) {
	objects := backend.NewMemoryObjectStore()
	objects.SetAvailable(false)
	engine, store, _ := newTestEngine(t, objects)

	res, _ := engine.UploadWithRetry(context.Background(), []byte("x"), 1, "audio/webm")
	if err := engine.RemoveDraft(res.DraftID); err != nil {
		t.Fatalf("RemoveDraft failed: %v", err)
	}
	list, _ := store.ListAll()
	if len(list) != 0 {
		t.Error("draft still queued after RemoveDraft")
	}
}

func TestUploadWithRetry_CancelDuringBackoff(t *testing.T) {
	objects := backend.NewMemoryObjectStore()
	objects.SetAvailable(false)
	engine, store, _ := newTestEngine(t, objects)
	engine.sleep = func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	}

	res, err := engine.UploadWithRetry(context.Background(), []byte("x"), 1, "audio/webm")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	// Even a canceled sequence leaves the draft recoverable.
	if _, err := store.Get(res.DraftID); err != nil {
		t.Errorf("draft missing after cancellation: %v", err)
	}
}
