// Package state holds the explicit client-side state containers the sync
// channels mutate. Each container is a plain mutex-guarded struct with
// defined mutation entry points, injected into the sync components so they
// stay testable without any rendering layer.
package state

import (
	"encoding/json"
	"slices"
	"sync"
	"time"

	"tetatet/internal/models"
)

// Chat owns the ordered message list and the peer's typing indicator.
type Chat struct {
	mu          sync.RWMutex
	messages    []models.Message
	otherPresence *models.PresenceState
}

func NewChat() *Chat {
	return &Chat{}
}

func (c *Chat) Set(messages []models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = slices.Clone(messages)
}

// Add appends a message. Realtime inserts are appended, not re-sorted; a
// momentarily misordered list under fan-out delay is accepted until the next
// full load.
func (c *Chat) Add(msg models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
}

// Update replaces the message with the same id wholesale. Returns false if
// the id is unknown locally.
func (c *Chat) Update(msg models.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := slices.IndexFunc(c.messages, func(m models.Message) bool { return m.ID == msg.ID })
	if idx < 0 {
		return false
	}
	c.messages[idx] = msg
	return true
}

// Remove drops the row entirely (hard delete from clear-history).
func (c *Chat) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = slices.DeleteFunc(c.messages, func(m models.Message) bool { return m.ID == id })
}

func (c *Chat) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
}

// Get returns a message by id, including soft-deleted ones so replies stay
// resolvable.
func (c *Chat) Get(id string) (models.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx := slices.IndexFunc(c.messages, func(m models.Message) bool { return m.ID == id })
	if idx < 0 {
		return models.Message{}, false
	}
	return c.messages[idx], true
}

// Active returns the renderable list: soft-deleted messages excluded.
func (c *Chat) Active() []models.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Message, 0, len(c.messages))
	for _, m := range c.messages {
		if !m.IsDeleted {
			out = append(out, m)
		}
	}
	return out
}

// All returns every message including soft-deleted ones.
func (c *Chat) All() []models.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.messages)
}

func (c *Chat) SetOtherPresence(state *models.PresenceState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.otherPresence = state
}

// OtherTyping returns the peer's presence if the peer is currently typing.
func (c *Chat) OtherTyping() *models.PresenceState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.otherPresence == nil || !c.otherPresence.IsTyping {
		return nil
	}
	state := *c.otherPresence
	return &state
}

// OtherPresence returns the peer's last known presence, typing or not. Nil
// means the peer has not been seen or has left.
func (c *Chat) OtherPresence() *models.PresenceState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.otherPresence == nil {
		return nil
	}
	state := *c.otherPresence
	return &state
}

// Editor owns the collaborative document session state.
type Editor struct {
	mu                sync.RWMutex
	content           json.RawMessage
	lastSavedAt       time.Time
	isSaving          bool
	hasUnsavedChanges bool
	otherPresence     *models.PresenceState
}

func NewEditor() *Editor {
	return &Editor{}
}

func (e *Editor) SetContent(content json.RawMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.content = content
}

func (e *Editor) Content() json.RawMessage {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.content
}

func (e *Editor) SetSaving(saving bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.isSaving = saving
}

func (e *Editor) IsSaving() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isSaving
}

func (e *Editor) MarkSaved(at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastSavedAt = at
	e.hasUnsavedChanges = false
	e.isSaving = false
}

func (e *Editor) MarkDirty() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hasUnsavedChanges = true
}

func (e *Editor) HasUnsavedChanges() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.hasUnsavedChanges
}

func (e *Editor) LastSavedAt() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSavedAt
}

func (e *Editor) SetOtherPresence(state *models.PresenceState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.otherPresence = state
}

func (e *Editor) OtherPresence() *models.PresenceState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.otherPresence == nil {
		return nil
	}
	state := *e.otherPresence
	return &state
}
