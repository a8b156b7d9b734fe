// Package commands implements the CLI maintenance verbs. Each command opens
// what it needs, prints human-readable output and returns a wrapped error on
// failure.
package commands

import (
	"context"
	"fmt"
	"time"

	"tetatet/internal/config"
	"tetatet/internal/drafts"
	"tetatet/internal/upload"
)

// ListDrafts prints the queued voice note drafts, newest first.
func ListDrafts(cfg *config.Config) error {
	store, err := drafts.NewStore(cfg.DraftDBFile)
	if err != nil {
		return fmt.Errorf("failed to open draft store: %w", err)
	}
	defer func() {
		_ = store.Close()
	}()

	all, err := store.ListAll()
	if err != nil {
		return fmt.Errorf("failed to list drafts: %w", err)
	}
	if len(all) == 0 {
		fmt.Println("No pending voice note drafts.")
		return nil
	}

	fmt.Printf("%d pending draft(s):\n\n", len(all))
	for _, d := range all {
		created := time.UnixMilli(d.CreatedAt).Format(time.RFC3339)
		fmt.Printf("  %s\n", d.ID)
		fmt.Printf("    recorded: %s  length: %.1fs  size: %d bytes  retries: %d\n",
			created, d.Duration, len(d.Blob), d.RetryCount)
	}
	return nil
}

// DiscardDraft removes a draft from the queue. The recording is lost.
func DiscardDraft(id string, cfg *config.Config) error {
	store, err := drafts.NewStore(cfg.DraftDBFile)
	if err != nil {
		return fmt.Errorf("failed to open draft store: %w", err)
	}
	defer func() {
		_ = store.Close()
	}()

	if _, err := store.Get(id); err != nil {
		return fmt.Errorf("draft %q: %w", id, err)
	}
	if err := store.Delete(id); err != nil {
		return fmt.Errorf("failed to discard draft: %w", err)
	}
	fmt.Printf("Draft %s discarded.\n", id)
	return nil
}

// RetryDraft attempts a single upload of a queued draft using the provided
// engine. On success the draft is removed and the resulting URL printed; on
// failure the draft stays queued with its retry counter bumped.
func RetryDraft(ctx context.Context, id string, eng *upload.Engine) error {
	res, err := eng.RetryDraft(ctx, id)
	if err != nil {
		return fmt.Errorf("retry of draft %q failed: %w", id, err)
	}
	if !res.Success {
		return fmt.Errorf("upload of draft %q failed, draft kept for another retry", id)
	}
	fmt.Printf("Draft %s uploaded.\nURL: %s\n", id, res.URL)
	return nil
}
