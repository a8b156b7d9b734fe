// Package msgsync keeps the discrete chat stream consistent between the two
// parties. Writes are optimistic: the local mutation is applied immediately
// and the realtime echo of it is dropped at the gate. Messages are
// independently keyed, so only same-id operations can collide; those race
// last-write-wins, which is accepted.
package msgsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tetatet/internal/backend"
	"tetatet/internal/content"
	"tetatet/internal/echo"
	"tetatet/internal/models"
	"tetatet/internal/notify"
	"tetatet/internal/state"
	"tetatet/internal/transcribe"
)

var ErrNotEditable = errors.New("message has no text to edit")

type Config struct {
	UserID     string
	EchoWindow time.Duration

	Store       backend.MessageStore
	Realtime    backend.Realtime
	Chat        *state.Chat
	Notifier    notify.Notifier
	Transcriber transcribe.Transcriber
}

type Sync struct {
	cfg  Config
	gate *echo.Gate
	log  *slog.Logger
}

func New(ctx context.Context, cfg Config) *Sync {
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Noop{}
	}
	return &Sync{
		cfg:  cfg,
		gate: echo.NewGate(ctx, cfg.EchoWindow),
		log:  slog.Default().With("component", "msgsync"),
	}
}

// Load fetches the active message stream, creation order ascending.
// Soft-deleted rows are excluded here; rows soft-deleted during the session
// stay in local state so replies keep resolving.
func (s *Sync) Load(ctx context.Context) error {
	msgs, err := s.cfg.Store.ListMessages(ctx)
	if err != nil {
		return fmt.Errorf("failed to load messages: %w", err)
	}
	active := msgs[:0]
	for _, m := range msgs {
		if !m.IsDeleted {
			active = append(active, m)
		}
	}
	s.cfg.Chat.Set(active)
	return nil
}

// Send inserts a new message attributed to the local identity and applies it
// optimistically. A failed send is logged and lost; unlike voice-note
// uploads it is not queued or retried.
func (s *Sync) Send(ctx context.Context, c models.Content, mediaURL, replyTo string) (models.Message, error) {
	if err := c.Validate(); err != nil {
		return models.Message{}, err
	}
	if c.Type == models.MessageTypeText && c.Text != nil {
		c.Text.Text = content.Sanitize(c.Text.Text)
	}

	msg := models.Message{
		SenderID:  s.cfg.UserID,
		Content:   c,
		Type:      c.Type,
		MediaURL:  mediaURL,
		Reactions: models.Reactions{},
		ReplyTo:   replyTo,
	}

	saved, err := s.cfg.Store.InsertMessage(ctx, msg)
	if err != nil {
		s.log.Error("failed to send message", "type", c.Type, "error", err)
		return models.Message{}, err
	}

	// Mark before the fan-out can arrive, then apply locally.
	s.gate.MarkLocal(saved.ID)
	s.cfg.Chat.Add(saved)
	s.cfg.Notifier.Notify("message")

	if saved.Type == models.MessageTypeAudio && s.cfg.Transcriber != nil {
		go s.transcribeAudio(saved)
	}

	return saved, nil
}

// ToggleReaction flips the local identity's reaction. Present removes,
// absent adds; emoji keys with no reactors left are pruned. The full updated
// map is persisted.
func (s *Sync) ToggleReaction(ctx context.Context, messageID, emoji string) error {
	msg, ok := s.cfg.Chat.Get(messageID)
	if !ok {
		return models.ErrNotFound
	}

	reactions := msg.Reactions.Clone()
	reactions.Toggle(emoji, s.cfg.UserID)
	msg.Reactions = reactions

	s.gate.MarkLocal(messageID)
	saved, err := s.cfg.Store.UpdateMessage(ctx, msg)
	if err != nil {
		s.log.Error("failed to update reaction", "message_id", messageID, "error", err)
		return err
	}
	s.cfg.Chat.Update(saved)
	return nil
}

// SoftDelete hides the message without removing the row, preserving reply
// integrity and reaction history.
func (s *Sync) SoftDelete(ctx context.Context, messageID string) error {
	msg, ok := s.cfg.Chat.Get(messageID)
	if !ok {
		return models.ErrNotFound
	}
	msg.IsDeleted = true

	s.gate.MarkLocal(messageID)
	saved, err := s.cfg.Store.UpdateMessage(ctx, msg)
	if err != nil {
		s.log.Error("failed to delete message", "message_id", messageID, "error", err)
		return err
	}
	s.cfg.Chat.Update(saved)
	return nil
}

// Edit replaces only the text of the content, leaving other attributes
// intact. The backend bumps updatedAt, which consumers read as the "edited"
// indicator.
func (s *Sync) Edit(ctx context.Context, messageID, newText string) error {
	msg, ok := s.cfg.Chat.Get(messageID)
	if !ok {
		return models.ErrNotFound
	}
	if msg.Content.Text == nil {
		return ErrNotEditable
	}
	text := *msg.Content.Text
	text.Text = content.Sanitize(newText)
	msg.Content.Text = &text

	s.gate.MarkLocal(messageID)
	saved, err := s.cfg.Store.UpdateMessage(ctx, msg)
	if err != nil {
		s.log.Error("failed to edit message", "message_id", messageID, "error", err)
		return err
	}
	s.cfg.Chat.Update(saved)
	return nil
}

// ClearAll hard-deletes every message. A destructive admin action, not a
// collaborative edit: no soft-delete, no echo machinery.
func (s *Sync) ClearAll(ctx context.Context) error {
	if err := s.cfg.Store.DeleteAllMessages(ctx); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	s.cfg.Chat.Clear()
	return nil
}

// Run consumes the realtime feed until ctx is canceled.
func (s *Sync) Run(ctx context.Context) error {
	events, cancel := s.cfg.Realtime.SubscribeMessages(ctx)
	defer cancel()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.handleEvent(ev)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Sync) handleEvent(ev backend.MessageEvent) {
	switch ev.Kind {
	case backend.EventInsert:
		if ev.New == nil {
			return
		}
		// Echo gate first, sender identity second: a message this client
		// just sent must never be double-appended.
		if s.gate.IsLocal(ev.New.ID) || ev.New.SenderID == s.cfg.UserID {
			return
		}
		s.cfg.Chat.Add(*ev.New)
	case backend.EventUpdate:
		if ev.New == nil {
			return
		}
		if s.gate.IsLocal(ev.New.ID) {
			return
		}
		// Full row over local state. Same-id collisions (concurrent
		// reaction toggles, concurrent edits) race last-write-wins.
		s.cfg.Chat.Update(*ev.New)
	case backend.EventDelete:
		if ev.Old == nil {
			return
		}
		s.cfg.Chat.Remove(ev.Old.ID)
	}
}

// transcribeAudio runs once per new audio message. The result is cached onto
// the message content; failure leaves the transcription absent permanently.
func (s *Sync) transcribeAudio(msg models.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	text, err := s.cfg.Transcriber.Transcribe(ctx, msg.MediaURL)
	if err != nil {
		s.log.Warn("transcription unavailable", "message_id", msg.ID, "error", err)
		return
	}

	current, ok := s.cfg.Chat.Get(msg.ID)
	if !ok || current.Content.Audio == nil {
		return
	}
	audio := *current.Content.Audio
	audio.Transcription = text
	current.Content.Audio = &audio

	s.gate.MarkLocal(current.ID)
	saved, err := s.cfg.Store.UpdateMessage(ctx, current)
	if err != nil {
		s.log.Error("failed to cache transcription", "message_id", msg.ID, "error", err)
		return
	}
	s.cfg.Chat.Update(saved)
}
