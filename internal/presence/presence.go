// Package presence broadcasts ephemeral session state (cursor, typing,
// recording) between the two parties. Nothing here is persisted or retried: a
// dropped broadcast means stale presence until the next one.
package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tetatet/internal/backend"
	"tetatet/internal/models"
	"tetatet/internal/state"
)

const DefaultTypingTimeout = 3 * time.Second

type Config struct {
	User          models.User
	TypingTimeout time.Duration

	Channel backend.PresenceChannel
	Chat    *state.Chat
	Editor  *state.Editor
}

type Sync struct {
	cfg Config
	log *slog.Logger

	mu          sync.Mutex
	cursor      *models.Cursor
	isTyping    bool
	isRecording bool
	typingTimer *time.Timer
}

func New(cfg Config) *Sync {
	if cfg.TypingTimeout <= 0 {
		cfg.TypingTimeout = DefaultTypingTimeout
	}
	return &Sync{
		cfg: cfg,
		log: slog.Default().With("component", "presence"),
	}
}

// Run tracks the initial (idle) presence and consumes channel events until
// ctx is canceled.
func (s *Sync) Run(ctx context.Context) error {
	events, cancel := s.cfg.Channel.Subscribe(ctx)
	defer cancel()

	s.track(ctx)

	// The other party may have joined first; surface their current state
	// instead of waiting for their next broadcast.
	for key, st := range s.cfg.Channel.States() {
		if key == s.cfg.User.ID {
			continue
		}
		st := st
		s.apply(&st)
	}
	defer func() {
		s.mu.Lock()
		if s.typingTimer != nil {
			s.typingTimer.Stop()
			s.typingTimer = nil
		}
		s.mu.Unlock()
		untrackCtx, untrackCancel := context.WithTimeout(context.Background(), time.Second)
		defer untrackCancel()
		_ = s.cfg.Channel.Untrack(untrackCtx, s.cfg.User.ID)
	}()

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

// HandleTyping is called on every keystroke. It broadcasts typing=true and
// arms the inactivity timer; quiet for the timeout sends an explicit
// typing=false.
func (s *Sync) HandleTyping(ctx context.Context) {
	s.mu.Lock()
	s.isTyping = true
	if s.typingTimer != nil {
		s.typingTimer.Stop()
	}
	s.typingTimer = time.AfterFunc(s.cfg.TypingTimeout, func() {
		s.StopTyping(ctx)
	})
	s.mu.Unlock()

	s.track(ctx)
}

// StopTyping broadcasts an explicit not-typing state and disarms the timer.
func (s *Sync) StopTyping(ctx context.Context) {
	s.mu.Lock()
	s.isTyping = false
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	s.mu.Unlock()

	s.track(ctx)
}

// UpdateCursor broadcasts a new cursor position.
func (s *Sync) UpdateCursor(ctx context.Context, x, y float64) {
	s.mu.Lock()
	s.cursor = &models.Cursor{X: x, Y: y}
	s.mu.Unlock()
	s.track(ctx)
}

// ClearCursor broadcasts that the pointer left the shared surface.
func (s *Sync) ClearCursor(ctx context.Context) {
	s.mu.Lock()
	s.cursor = nil
	s.mu.Unlock()
	s.track(ctx)
}

// SetRecording broadcasts the voice-note recording indicator.
func (s *Sync) SetRecording(ctx context.Context, recording bool) {
	s.mu.Lock()
	s.isRecording = recording
	s.mu.Unlock()
	s.track(ctx)
}

// track overwrites this identity's full presence payload. Failures are
// logged only; presence has no retry.
func (s *Sync) track(ctx context.Context) {
	s.mu.Lock()
	payload := models.PresenceState{
		UserID:      s.cfg.User.ID,
		DisplayName: s.cfg.User.DisplayName,
		Cursor:      s.cursor,
		IsTyping:    s.isTyping,
		IsRecording: s.isRecording,
		Timestamp:   time.Now().UnixMilli(),
	}
	s.mu.Unlock()

	if err := s.cfg.Channel.Track(ctx, s.cfg.User.ID, payload); err != nil {
		s.log.Warn("presence broadcast failed", "error", err)
	}
}

// handleEvent surfaces at most one other-party presence. Exactly two
// identities exist, so the first non-self key is the peer.
func (s *Sync) handleEvent(ev backend.PresenceEvent) {
	if ev.Key == s.cfg.User.ID {
		return
	}

	switch ev.Kind {
	case backend.PresenceLeave:
		s.apply(nil)
	default:
		s.apply(ev.State)
	}
}

func (s *Sync) apply(other *models.PresenceState) {
	if s.cfg.Chat != nil {
		s.cfg.Chat.SetOtherPresence(other)
	}
	if s.cfg.Editor != nil {
		s.cfg.Editor.SetOtherPresence(other)
	}
}
