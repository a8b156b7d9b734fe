// Package docsync keeps the singleton shared document consistent between the
// two parties. Saves are whole-snapshot and debounced; concurrent edits race
// and the last write wins, with no merge attempted. The echo flag plus the
// last-editor check keep a client from re-applying its own save when it comes
// back around on the subscription.
package docsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tetatet/internal/backend"
	"tetatet/internal/content"
	"tetatet/internal/echo"
	"tetatet/internal/models"
	"tetatet/internal/notify"
	"tetatet/internal/state"
)

const DefaultAutosaveDelay = 2 * time.Second

type Config struct {
	UserID        string
	AutosaveDelay time.Duration
	EchoWindow    time.Duration

	Store    backend.DocumentStore
	Realtime backend.Realtime
	Editor   *state.Editor
	Notifier notify.Notifier

	// OnRemoteChange is invoked with the peer's content after it has been
	// applied to the editor state. The editor surface uses it to re-render
	// and restore the caret.
	OnRemoteChange func(newContent json.RawMessage)
}

type Sync struct {
	cfg  Config
	flag *echo.Flag
	log  *slog.Logger

	mu        sync.Mutex
	timer     *time.Timer
	pending   json.RawMessage
	lastSaved string
}

func New(cfg Config) *Sync {
	if cfg.AutosaveDelay <= 0 {
		cfg.AutosaveDelay = DefaultAutosaveDelay
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Noop{}
	}
	return &Sync{
		cfg:  cfg,
		flag: echo.NewFlag(cfg.EchoWindow),
		log:  slog.Default().With("component", "docsync"),
	}
}

// Load fetches the current snapshot once at session start.
func (s *Sync) Load(ctx context.Context) (models.Document, error) {
	doc, err := s.cfg.Store.GetDocument(ctx, models.DocumentID)
	if err != nil {
		return models.Document{}, fmt.Errorf("failed to load document: %w", err)
	}
	s.cfg.Editor.SetContent(doc.Content)
	s.mu.Lock()
	s.lastSaved = string(doc.Content)
	s.mu.Unlock()
	return doc, nil
}

// TriggerSave schedules a debounced save of the given snapshot. Repeated
// edits inside the window collapse into one write of the latest snapshot.
func (s *Sync) TriggerSave(ctx context.Context, snapshot json.RawMessage) {
	s.cfg.Editor.MarkDirty()
	s.cfg.Editor.SetContent(snapshot)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = snapshot
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.cfg.AutosaveDelay, func() {
		s.mu.Lock()
		snapshot := s.pending
		s.timer = nil
		s.mu.Unlock()
		if snapshot != nil {
			s.save(ctx, snapshot)
		}
	})
}

// ForceSave writes immediately, canceling any pending debounced save first so
// a stale write cannot race in after the forced one. Used on shutdown and
// explicit user save.
func (s *Sync) ForceSave(ctx context.Context, snapshot json.RawMessage) error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending = nil
	s.mu.Unlock()

	s.cfg.Editor.SetContent(snapshot)
	return s.save(ctx, snapshot)
}

func (s *Sync) save(ctx context.Context, snapshot json.RawMessage) error {
	s.mu.Lock()
	unchanged := string(snapshot) == s.lastSaved
	s.mu.Unlock()
	if unchanged {
		return nil
	}

	s.cfg.Editor.SetSaving(true)

	html, err := content.RenderHTML(ExtractText(snapshot))
	if err != nil {
		s.log.Warn("failed to derive html cache", "error", err)
		html = ""
	}

	doc := models.Document{
		ID:           models.DocumentID,
		Content:      snapshot,
		HTMLContent:  html,
		LastEditorID: s.cfg.UserID,
	}

	// Mark before writing: the echo can arrive the moment the write lands.
	s.flag.Set()
	if err := s.cfg.Store.UpdateDocument(ctx, doc); err != nil {
		// The operation is lost unless the user edits again; logged, not
		// retried.
		s.log.Error("failed to save document", "error", err)
		s.cfg.Editor.SetSaving(false)
		return err
	}

	s.mu.Lock()
	s.lastSaved = string(snapshot)
	s.mu.Unlock()
	s.cfg.Editor.MarkSaved(time.Now())
	s.cfg.Notifier.Notify("document")
	return nil
}

// Run consumes the realtime feed until ctx is canceled. Incoming updates pass
// two filters: the in-flight flag (echo gate) and the last-editor identity
// (second line of defense).
func (s *Sync) Run(ctx context.Context) error {
	events, cancel := s.cfg.Realtime.SubscribeDocument(ctx, models.DocumentID)
	defer cancel()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.handleRemote(ev.New)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Sync) handleRemote(doc models.Document) {
	if s.flag.Active() {
		return
	}
	if doc.LastEditorID == s.cfg.UserID {
		return
	}

	s.cfg.Editor.SetContent(doc.Content)
	s.mu.Lock()
	s.lastSaved = string(doc.Content)
	s.mu.Unlock()

	if s.cfg.OnRemoteChange != nil {
		s.cfg.OnRemoteChange(doc.Content)
	}
}

// Selection is a caret/selection range in numeric offsets into the
// document's text.
type Selection struct {
	Anchor int
	Head   int
}

// RestoreSelection re-applies a selection after the content was replaced
// wholesale. If the document shrank below the old offsets the caret falls
// back to the document start instead of erroring.
func RestoreSelection(sel Selection, docLen int) Selection {
	if sel.Anchor > docLen || sel.Head > docLen {
		return Selection{}
	}
	return sel
}

// ExtractText walks the opaque document tree and concatenates every "text"
// leaf, the projection used for the html rendering cache.
func ExtractText(doc json.RawMessage) string {
	var node any
	if err := json.Unmarshal(doc, &node); err != nil {
		return ""
	}
	var sb []byte
	collectText(node, &sb)
	return string(sb)
}

func collectText(node any, out *[]byte) {
	switch n := node.(type) {
	case map[string]any:
		if text, ok := n["text"].(string); ok {
			if len(*out) > 0 {
				*out = append(*out, ' ')
			}
			*out = append(*out, text...)
		}
		if children, ok := n["content"].([]any); ok {
			for _, child := range children {
				collectText(child, out)
			}
		}
	case []any:
		for _, child := range n {
			collectText(child, out)
		}
	}
}
