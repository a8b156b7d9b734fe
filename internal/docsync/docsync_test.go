package docsync

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"tetatet/internal/backend"
	"tetatet/internal/models"
	"tetatet/internal/state"
)

func snapshot(text string) json.RawMessage {
	raw, _ := json.Marshal(map[string]any{
		"type": "doc",
		"content": []any{
			map[string]any{"type": "paragraph", "content": []any{
				map[string]any{"type": "text", "text": text},
			}},
		},
	})
	return raw
}

func newTestSync(t *testing.T, mem *backend.Memory, userID string, delay time.Duration) (*Sync, *state.Editor) {
	t.Helper()
	editor := state.NewEditor()
	s := New(Config{
		UserID:        userID,
		AutosaveDelay: delay,
		EchoWindow:    50 * time.Millisecond,
		Store:         mem,
		Realtime:      mem,
		Editor:        editor,
	})
	if _, err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return s, editor
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestDebounceCollapsesEdits(t *testing.T) {
	mem := backend.NewMemory()
	s, editor := newTestSync(t, mem, "user1", 30*time.Millisecond)
	ctx := context.Background()

	s.TriggerSave(ctx, snapshot("a"))
	s.TriggerSave(ctx, snapshot("ab"))
	s.TriggerSave(ctx, snapshot("abc"))

	waitFor(t, func() bool {
		doc, _ := mem.GetDocument(ctx, models.DocumentID)
		return string(doc.Content) == string(snapshot("abc"))
	}, "debounced save did not land")

	doc, _ := mem.GetDocument(ctx, models.DocumentID)
	if doc.LastEditorID != "user1" {
		t.Errorf("expected lastEditorId user1, got %q", doc.LastEditorID)
	}
	if doc.HTMLContent == "" {
		t.Error("html cache not derived on save")
	}
	if editor.HasUnsavedChanges() {
		t.Error("editor still dirty after save")
	}
}

func TestForceSaveCancelsPendingDebounce(t *testing.T) {
	mem := backend.NewMemory()
	s, _ := newTestSync(t, mem, "user1", 40*time.Millisecond)
	ctx := context.Background()

	s.TriggerSave(ctx, snapshot("stale"))
	if err := s.ForceSave(ctx, snapshot("forced")); err != nil {
		t.Fatalf("ForceSave failed: %v", err)
	}

	// Wait past the debounce window: the canceled stale write must not land.
	time.Sleep(80 * time.Millisecond)
	doc, _ := mem.GetDocument(ctx, models.DocumentID)
	if string(doc.Content) != string(snapshot("forced")) {
		t.Errorf("stale debounced write overwrote the forced save: %s", doc.Content)
	}
}

func TestSaveSkipsUnchangedContent(t *testing.T) {
	mem := backend.NewMemory()
	s, _ := newTestSync(t, mem, "user1", time.Millisecond)
	ctx := context.Background()

	if err := s.ForceSave(ctx, snapshot("same")); err != nil {
		t.Fatal(err)
	}
	first, _ := mem.GetDocument(ctx, models.DocumentID)

	time.Sleep(5 * time.Millisecond)
	if err := s.ForceSave(ctx, snapshot("same")); err != nil {
		t.Fatal(err)
	}
	second, _ := mem.GetDocument(ctx, models.DocumentID)
	if !second.UpdatedAt.Equal(first.UpdatedAt) {
		t.Error("unchanged content was written again")
	}
}

func TestLastWriteWins(t *testing.T) {
	mem := backend.NewMemory()
	ctx := context.Background()
	a, _ := newTestSync(t, mem, "user1", time.Millisecond)
	b, _ := newTestSync(t, mem, "user2", time.Millisecond)

	// Both parties edit inside the same window; whole-snapshot overwrite
	// means the later write wins and the earlier delta is silently lost.
	// Documented behavior, not a defect.
	if err := a.ForceSave(ctx, snapshot("from user1")); err != nil {
		t.Fatal(err)
	}
	if err := b.ForceSave(ctx, snapshot("from user2")); err != nil {
		t.Fatal(err)
	}

	doc, err := mem.GetDocument(ctx, models.DocumentID)
	if err != nil {
		t.Fatal(err)
	}
	if string(doc.Content) != string(snapshot("from user2")) {
		t.Errorf("expected second save to win, got %s", doc.Content)
	}
	if doc.LastEditorID != "user2" {
		t.Errorf("expected lastEditorId user2, got %q", doc.LastEditorID)
	}
}

func TestRemoteChangeAppliedAndEchoSkipped(t *testing.T) {
	mem := backend.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var applied atomic.Int32
	editor := state.NewEditor()
	s := New(Config{
		UserID:        "user1",
		AutosaveDelay: time.Millisecond,
		EchoWindow:    200 * time.Millisecond,
		Store:         mem,
		Realtime:      mem,
		Editor:        editor,
		OnRemoteChange: func(json.RawMessage) {
			applied.Add(1)
		},
	})
	if _, err := s.Load(ctx); err != nil {
		t.Fatal(err)
	}
	go func() { _ = s.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)

	// Own save: the echo must be suppressed.
	if err := s.ForceSave(ctx, snapshot("mine")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if applied.Load() != 0 {
		t.Error("own save echoed back into the editor")
	}

	// Peer save after the echo window: must be applied.
	time.Sleep(200 * time.Millisecond)
	peer := models.Document{ID: models.DocumentID, Content: snapshot("peer edit"), LastEditorID: "user2"}
	if err := mem.UpdateDocument(ctx, peer); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return applied.Load() == 1 }, "peer update not applied")

	if string(editor.Content()) != string(snapshot("peer edit")) {
		t.Error("editor content not replaced with peer content")
	}
}

func TestRestoreSelection(t *testing.T) {
	// Offsets still valid: restored as-is.
	sel := RestoreSelection(Selection{Anchor: 3, Head: 7}, 10)
	if sel.Anchor != 3 || sel.Head != 7 {
		t.Errorf("valid selection not preserved: %+v", sel)
	}

	// Document shrank below the offsets: silent fallback to the start.
	sel = RestoreSelection(Selection{Anchor: 3, Head: 7}, 5)
	if sel.Anchor != 0 || sel.Head != 0 {
		t.Errorf("expected fallback selection, got %+v", sel)
	}
}

func TestExtractText(t *testing.T) {
	doc := snapshot("hello world")
	if got := ExtractText(doc); got != "hello world" {
		t.Errorf("expected %q, got %q", "hello world", got)
	}
	if got := ExtractText([]byte("not json")); got != "" {
		t.Errorf("expected empty text for invalid doc, got %q", got)
	}
}
