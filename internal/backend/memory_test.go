package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"tetatet/internal/models"
)

func textMessage(sender, text string) models.Message {
	return models.Message{
		SenderID:  sender,
		Type:      models.MessageTypeText,
		Content:   models.Content{Type: models.MessageTypeText, Text: &models.TextContent{Text: text}},
		Reactions: models.Reactions{},
	}
}

func waitMessageEvent(t *testing.T, ch <-chan MessageEvent) MessageEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message event")
		return MessageEvent{}
	}
}

func TestMemory_MessageFanOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewMemory()
	ch, unsub := m.SubscribeMessages(ctx)
	defer unsub()

	saved, err := m.InsertMessage(ctx, textMessage("user1", "hello"))
	if err != nil {
		t.Fatalf("InsertMessage failed: %v", err)
	}
	if saved.ID == "" {
		t.Fatal("backend did not assign an id")
	}
	if saved.CreatedAt.IsZero() || !saved.CreatedAt.Equal(saved.UpdatedAt) {
		t.Errorf("timestamps not assigned: created=%v updated=%v", saved.CreatedAt, saved.UpdatedAt)
	}

	ev := waitMessageEvent(t, ch)
	if ev.Kind != EventInsert || ev.New == nil || ev.New.ID != saved.ID {
		t.Errorf("unexpected insert event: %+v", ev)
	}

	saved.IsDeleted = true
	updated, err := m.UpdateMessage(ctx, saved)
	if err != nil {
		t.Fatalf("UpdateMessage failed: %v", err)
	}
	if !updated.UpdatedAt.After(updated.CreatedAt) {
		t.Error("update did not bump UpdatedAt")
	}

	ev = waitMessageEvent(t, ch)
	if ev.Kind != EventUpdate || ev.New == nil || !ev.New.IsDeleted {
		t.Errorf("unexpected update event: %+v", ev)
	}

	if err := m.DeleteAllMessages(ctx); err != nil {
		t.Fatalf("DeleteAllMessages failed: %v", err)
	}
	ev = waitMessageEvent(t, ch)
	if ev.Kind != EventDelete || ev.Old == nil || ev.Old.ID != saved.ID {
		t.Errorf("unexpected delete event: %+v", ev)
	}

	msgs, err := m.ListMessages(ctx)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected no messages after clear, got %d", len(msgs))
	}
}

func TestMemory_UpdateMissingMessage(t *testing.T) {
	m := NewMemory()
	_, err := m.UpdateMessage(context.Background(), models.Message{ID: "nope"})
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemory_Document(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewMemory()
	ch, unsub := m.SubscribeDocument(ctx, models.DocumentID)
	defer unsub()

	doc, err := m.GetDocument(ctx, models.DocumentID)
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}

	doc.Content = []byte(`{"type":"doc","content":[{"type":"text","text":"hi"}]}`)
	doc.LastEditorID = "user1"
	if err := m.UpdateDocument(ctx, doc); err != nil {
		t.Fatalf("UpdateDocument failed: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.New.LastEditorID != "user1" {
			t.Errorf("unexpected editor id %q", ev.New.LastEditorID)
		}
		if ev.New.UpdatedAt.IsZero() {
			t.Error("UpdatedAt not assigned")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for document event")
	}

	if _, err := m.GetDocument(ctx, "other"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown id, got %v", err)
	}
}

func TestMemory_Presence(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewMemory()
	p := m.Presence("chat_typing")
	ch, unsub := p.Subscribe(ctx)
	defer unsub()

	state := models.PresenceState{UserID: "user1", DisplayName: "A", IsTyping: true}
	if err := p.Track(ctx, "user1", state); err != nil {
		t.Fatalf("Track failed: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Kind != PresenceJoin || ev.Key != "user1" {
			t.Errorf("expected join for user1, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for join event")
	}

	// Second track of the same key is an overwrite, not a join.
	state.IsTyping = false
	if err := p.Track(ctx, "user1", state); err != nil {
		t.Fatalf("Track failed: %v", err)
	}
	select {
	case ev := <-ch:
		if ev.Kind != PresenceSync || ev.State == nil || ev.State.IsTyping {
			t.Errorf("expected sync with typing=false, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sync event")
	}

	if err := p.Untrack(ctx, "user1"); err != nil {
		t.Fatalf("Untrack failed: %v", err)
	}
	select {
	case ev := <-ch:
		if ev.Kind != PresenceLeave || ev.Key != "user1" {
			t.Errorf("expected leave for user1, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for leave event")
	}

	if len(p.States()) != 0 {
		t.Errorf("expected empty states after untrack, got %v", p.States())
	}
}
