package backend

import (
	"context"
	"slices"
	"sync"
	"time"

	"tetatet/internal/models"

	"github.com/google/uuid"
)

const subscriberBuffer = 16

// Memory is an in-process backend: full row store, change fan-out and
// presence in one struct. It backs local mode and every multi-client test
// scenario; two clients sharing one Memory instance see the same fan-out
// behavior the hosted backend provides, including the echo of their own
// writes.
type Memory struct {
	mu       sync.RWMutex
	document models.Document
	messages []models.Message

	nextSubID   int64
	msgSubs     map[int64]chan MessageEvent
	docSubs     map[int64]chan DocumentEvent
	presenceChs map[string]*memoryPresence

	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		document: models.Document{
			ID:      models.DocumentID,
			Content: []byte(`{"type":"doc","content":[]}`),
		},
		msgSubs:     make(map[int64]chan MessageEvent),
		docSubs:     make(map[int64]chan DocumentEvent),
		presenceChs: make(map[string]*memoryPresence),
		now:         time.Now,
	}
}

func (m *Memory) GetDocument(ctx context.Context, id string) (models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id != m.document.ID {
		return models.Document{}, models.ErrNotFound
	}
	return m.document, nil
}

func (m *Memory) UpdateDocument(ctx context.Context, doc models.Document) error {
	m.mu.Lock()
	if doc.ID != m.document.ID {
		m.mu.Unlock()
		return models.ErrNotFound
	}
	doc.UpdatedAt = m.now()
	m.document = doc
	subs := make([]chan DocumentEvent, 0, len(m.docSubs))
	for _, ch := range m.docSubs {
		subs = append(subs, ch)
	}
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- DocumentEvent{New: doc}:
		default:
			// Slow subscriber, drop. The next save reconciles.
		}
	}
	return nil
}

func (m *Memory) ListMessages(ctx context.Context) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Message, len(m.messages))
	copy(out, m.messages)
	slices.SortStableFunc(out, func(a, b models.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

func (m *Memory) InsertMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	m.mu.Lock()
	msg.ID = uuid.NewString()
	now := m.now()
	msg.CreatedAt = now
	msg.UpdatedAt = now
	if msg.Reactions == nil {
		msg.Reactions = models.Reactions{}
	}
	m.messages = append(m.messages, msg)
	m.mu.Unlock()

	m.fanOutMessage(MessageEvent{Kind: EventInsert, New: &msg})
	return msg, nil
}

func (m *Memory) UpdateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	m.mu.Lock()
	idx := slices.IndexFunc(m.messages, func(existing models.Message) bool {
		return existing.ID == msg.ID
	})
	if idx < 0 {
		m.mu.Unlock()
		return models.Message{}, models.ErrNotFound
	}
	msg.CreatedAt = m.messages[idx].CreatedAt
	msg.UpdatedAt = m.now()
	m.messages[idx] = msg
	m.mu.Unlock()

	m.fanOutMessage(MessageEvent{Kind: EventUpdate, New: &msg})
	return msg, nil
}

// DeleteAllMessages is the destructive clear-history path. Every row is
// removed and a delete event is fanned out per row.
func (m *Memory) DeleteAllMessages(ctx context.Context) error {
	m.mu.Lock()
	removed := m.messages
	m.messages = nil
	m.mu.Unlock()

	for i := range removed {
		old := removed[i]
		m.fanOutMessage(MessageEvent{Kind: EventDelete, Old: &old})
	}
	return nil
}

func (m *Memory) fanOutMessage(ev MessageEvent) {
	m.mu.RLock()
	subs := make([]chan MessageEvent, 0, len(m.msgSubs))
	for _, ch := range m.msgSubs {
		subs = append(subs, ch)
	}
	m.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (m *Memory) SubscribeMessages(ctx context.Context) (<-chan MessageEvent, func()) {
	m.mu.Lock()
	m.nextSubID++
	id := m.nextSubID
	ch := make(chan MessageEvent, subscriberBuffer)
	m.msgSubs[id] = ch
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		if existing, ok := m.msgSubs[id]; ok {
			delete(m.msgSubs, id)
			close(existing)
		}
		m.mu.Unlock()
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel
}

func (m *Memory) SubscribeDocument(ctx context.Context, docID string) (<-chan DocumentEvent, func()) {
	m.mu.Lock()
	m.nextSubID++
	id := m.nextSubID
	ch := make(chan DocumentEvent, subscriberBuffer)
	m.docSubs[id] = ch
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		if existing, ok := m.docSubs[id]; ok {
			delete(m.docSubs, id)
			close(existing)
		}
		m.mu.Unlock()
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel
}

func (m *Memory) Presence(channel string) PresenceChannel {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.presenceChs[channel]
	if !ok {
		p = &memoryPresence{
			states: make(map[string]models.PresenceState),
			subs:   make(map[int64]chan PresenceEvent),
		}
		m.presenceChs[channel] = p
	}
	return p
}

type memoryPresence struct {
	mu     sync.RWMutex
	states map[string]models.PresenceState
	nextID int64
	subs   map[int64]chan PresenceEvent
}

func (p *memoryPresence) Track(ctx context.Context, key string, state models.PresenceState) error {
	p.mu.Lock()
	_, existed := p.states[key]
	p.states[key] = state
	subs := p.snapshotSubs()
	p.mu.Unlock()

	kind := PresenceSync
	if !existed {
		kind = PresenceJoin
	}
	for _, ch := range subs {
		select {
		case ch <- PresenceEvent{Kind: kind, Key: key, State: &state}:
		default:
		}
	}
	return nil
}

func (p *memoryPresence) Untrack(ctx context.Context, key string) error {
	p.mu.Lock()
	_, existed := p.states[key]
	delete(p.states, key)
	subs := p.snapshotSubs()
	p.mu.Unlock()

	if !existed {
		return nil
	}
	for _, ch := range subs {
		select {
		case ch <- PresenceEvent{Kind: PresenceLeave, Key: key}:
		default:
		}
	}
	return nil
}

// snapshotSubs must be called with p.mu held.
func (p *memoryPresence) snapshotSubs() []chan PresenceEvent {
	subs := make([]chan PresenceEvent, 0, len(p.subs))
	for _, ch := range p.subs {
		subs = append(subs, ch)
	}
	return subs
}

func (p *memoryPresence) Subscribe(ctx context.Context) (<-chan PresenceEvent, func()) {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	ch := make(chan PresenceEvent, subscriberBuffer)
	p.subs[id] = ch
	p.mu.Unlock()

	cancel := func() {
		p.mu.Lock()
		if existing, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(existing)
		}
		p.mu.Unlock()
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel
}

func (p *memoryPresence) States() map[string]models.PresenceState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]models.PresenceState, len(p.states))
	for k, v := range p.states {
		out[k] = v
	}
	return out
}
