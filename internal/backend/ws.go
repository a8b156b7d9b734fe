package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"tetatet/internal/models"

	"github.com/gorilla/websocket"
)

// wsEnvelope is the frame exchanged with the hosted realtime backend. A
// request carries a correlation ID and gets exactly one response frame back;
// event frames carry no ID and fan out to topic subscribers.
type wsEnvelope struct {
	ID      int64           `json:"id,omitempty"`
	Type    string          `json:"type"`
	Topic   string          `json:"topic,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

const (
	wsTypeResponse = "response"
	wsTypeEvent    = "event"

	topicMessages = "messages"
	topicDocument = "document"
)

type wsConn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}

// WSClient implements the Backend contract over a single websocket
// connection. All row operations are request/response; change feeds and
// presence arrive as event frames on their topic.
type WSClient struct {
	conn    wsConn
	writeMu sync.Mutex

	mu       sync.Mutex
	nextID   int64
	pending  map[int64]chan wsEnvelope
	subs     map[string]map[int64]chan wsEnvelope
	presence map[string]*wsPresence
	closed   bool

	log *slog.Logger
}

func DialWS(ctx context.Context, url string) (*WSClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial realtime backend: %w", err)
	}
	c := newWSClient(conn)
	go c.readLoop()
	return c, nil
}

func newWSClient(conn wsConn) *WSClient {
	return &WSClient{
		conn:     conn,
		pending:  make(map[int64]chan wsEnvelope),
		subs:     make(map[string]map[int64]chan wsEnvelope),
		presence: make(map[string]*wsPresence),
		log:      slog.Default().With("component", "ws"),
	}
}

func (c *WSClient) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *WSClient) readLoop() {
	for {
		var env wsEnvelope
		if err := c.conn.ReadJSON(&env); err != nil {
			c.mu.Lock()
			closed := c.closed
			c.failPendingLocked(err)
			c.mu.Unlock()
			if !closed {
				c.log.Error("realtime connection lost", "error", err)
			}
			return
		}

		switch env.Type {
		case wsTypeResponse:
			c.mu.Lock()
			ch, ok := c.pending[env.ID]
			delete(c.pending, env.ID)
			c.mu.Unlock()
			if ok {
				ch <- env
			}
		case wsTypeEvent:
			c.dispatchEvent(env)
		}
	}
}

// failPendingLocked must be called with c.mu held.
func (c *WSClient) failPendingLocked(err error) {
	for id, ch := range c.pending {
		delete(c.pending, id)
		ch <- wsEnvelope{Type: wsTypeResponse, Error: err.Error()}
	}
	for topic, subs := range c.subs {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(c.subs, topic)
	}
}

func (c *WSClient) dispatchEvent(env wsEnvelope) {
	c.mu.Lock()
	subs := make([]chan wsEnvelope, 0, len(c.subs[env.Topic]))
	for _, ch := range c.subs[env.Topic] {
		subs = append(subs, ch)
	}
	c.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- env:
		default:
			// Slow consumer, drop. Feeds are eventually consistent;
			// the next load reconciles.
		}
	}
}

func (c *WSClient) request(ctx context.Context, reqType, topic string, payload any) (json.RawMessage, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.New("connection closed")
	}
	c.nextID++
	id := c.nextID
	respCh := make(chan wsEnvelope, 1)
	c.pending[id] = respCh
	c.mu.Unlock()

	env := wsEnvelope{ID: id, Type: reqType, Topic: topic, Payload: raw}
	c.writeMu.Lock()
	err := c.conn.WriteJSON(env)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("failed to send %s: %w", reqType, err)
	}

	select {
	case resp := <-respCh:
		if resp.Error != "" {
			return nil, errors.New(resp.Error)
		}
		return resp.Payload, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (c *WSClient) subscribe(ctx context.Context, topic string) (<-chan wsEnvelope, func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	ch := make(chan wsEnvelope, subscriberBuffer)
	if c.subs[topic] == nil {
		c.subs[topic] = make(map[int64]chan wsEnvelope)
	}
	c.subs[topic][id] = ch
	first := len(c.subs[topic]) == 1
	c.mu.Unlock()

	if first {
		if _, err := c.request(ctx, "subscribe", topic, nil); err != nil {
			c.log.Error("subscribe failed", "topic", topic, "error", err)
		}
	}

	cancel := func() {
		c.mu.Lock()
		if subs, ok := c.subs[topic]; ok {
			if existing, ok := subs[id]; ok {
				delete(subs, id)
				close(existing)
			}
		}
		c.mu.Unlock()
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel
}

func (c *WSClient) GetDocument(ctx context.Context, id string) (models.Document, error) {
	var doc models.Document
	payload, err := c.request(ctx, "get_document", topicDocument, map[string]string{"id": id})
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return doc, fmt.Errorf("failed to decode document: %w", err)
	}
	return doc, nil
}

func (c *WSClient) UpdateDocument(ctx context.Context, doc models.Document) error {
	_, err := c.request(ctx, "update_document", topicDocument, doc)
	return err
}

func (c *WSClient) ListMessages(ctx context.Context) ([]models.Message, error) {
	payload, err := c.request(ctx, "list_messages", topicMessages, nil)
	if err != nil {
		return nil, err
	}
	var msgs []models.Message
	if err := json.Unmarshal(payload, &msgs); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return msgs, nil
}

func (c *WSClient) InsertMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	payload, err := c.request(ctx, "insert_message", topicMessages, msg)
	if err != nil {
		return models.Message{}, err
	}
	var saved models.Message
	if err := json.Unmarshal(payload, &saved); err != nil {
		return models.Message{}, fmt.Errorf("failed to decode message: %w", err)
	}
	return saved, nil
}

func (c *WSClient) UpdateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	payload, err := c.request(ctx, "update_message", topicMessages, msg)
	if err != nil {
		return models.Message{}, err
	}
	var saved models.Message
	if err := json.Unmarshal(payload, &saved); err != nil {
		return models.Message{}, fmt.Errorf("failed to decode message: %w", err)
	}
	return saved, nil
}

func (c *WSClient) DeleteAllMessages(ctx context.Context) error {
	_, err := c.request(ctx, "delete_all", topicMessages, nil)
	return err
}

func (c *WSClient) SubscribeMessages(ctx context.Context) (<-chan MessageEvent, func()) {
	raw, cancel := c.subscribe(ctx, topicMessages)
	out := make(chan MessageEvent, subscriberBuffer)
	go func() {
		defer close(out)
		for env := range raw {
			var ev MessageEvent
			if err := json.Unmarshal(env.Payload, &ev); err != nil {
				c.log.Error("bad message event", "error", err)
				continue
			}
			out <- ev
		}
	}()
	return out, cancel
}

func (c *WSClient) SubscribeDocument(ctx context.Context, id string) (<-chan DocumentEvent, func()) {
	raw, cancel := c.subscribe(ctx, topicDocument)
	out := make(chan DocumentEvent, subscriberBuffer)
	go func() {
		defer close(out)
		for env := range raw {
			var ev DocumentEvent
			if err := json.Unmarshal(env.Payload, &ev); err != nil {
				c.log.Error("bad document event", "error", err)
				continue
			}
			if ev.New.ID == id {
				out <- ev
			}
		}
	}()
	return out, cancel
}

func (c *WSClient) Presence(channel string) PresenceChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.presence[channel]
	if !ok {
		p = &wsPresence{client: c, topic: "presence:" + channel, states: make(map[string]models.PresenceState)}
		c.presence[channel] = p
	}
	return p
}

// wsPresence tracks one named presence topic. The local state cache is
// updated from event frames so States never needs a round trip.
type wsPresence struct {
	client *WSClient
	topic  string

	mu     sync.RWMutex
	states map[string]models.PresenceState
}

type wsPresenceFrame struct {
	Kind  PresenceEventKind     `json:"kind"`
	Key   string                `json:"key"`
	State *models.PresenceState `json:"state,omitempty"`
}

func (p *wsPresence) Track(ctx context.Context, key string, state models.PresenceState) error {
	_, err := p.client.request(ctx, "track", p.topic, wsPresenceFrame{Kind: PresenceSync, Key: key, State: &state})
	if err == nil {
		p.mu.Lock()
		p.states[key] = state
		p.mu.Unlock()
	}
	return err
}

func (p *wsPresence) Untrack(ctx context.Context, key string) error {
	_, err := p.client.request(ctx, "untrack", p.topic, wsPresenceFrame{Kind: PresenceLeave, Key: key})
	if err == nil {
		p.mu.Lock()
		delete(p.states, key)
		p.mu.Unlock()
	}
	return err
}

func (p *wsPresence) Subscribe(ctx context.Context) (<-chan PresenceEvent, func()) {
	raw, cancel := p.client.subscribe(ctx, p.topic)
	out := make(chan PresenceEvent, subscriberBuffer)
	go func() {
		defer close(out)
		for env := range raw {
			var frame wsPresenceFrame
			if err := json.Unmarshal(env.Payload, &frame); err != nil {
				p.client.log.Error("bad presence event", "error", err)
				continue
			}
			p.mu.Lock()
			switch frame.Kind {
			case PresenceLeave:
				delete(p.states, frame.Key)
			default:
				if frame.State != nil {
					p.states[frame.Key] = *frame.State
				}
			}
			p.mu.Unlock()
			out <- PresenceEvent{Kind: frame.Kind, Key: frame.Key, State: frame.State}
		}
	}()
	return out, cancel
}

func (p *wsPresence) States() map[string]models.PresenceState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]models.PresenceState, len(p.states))
	for k, v := range p.states {
		out[k] = v
	}
	return out
}
