// Package backend defines the narrow contracts the sync layer has with the
// hosted backend: a row store, a realtime change feed, a presence primitive
// and an object store. Implementations: an in-process backend (memory.go)
// used for local mode and tests, a minio object store and a websocket
// realtime client for the hosted deployment.
package backend

import (
	"context"

	"tetatet/internal/models"
)

type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
	EventDelete EventKind = "delete"
)

// MessageEvent is one realtime change to the messages table. New carries the
// full row for inserts and updates; Old carries the removed row for deletes.
type MessageEvent struct {
	Kind EventKind
	New  *models.Message
	Old  *models.Message
}

// DocumentEvent reports that the singleton document row was updated.
type DocumentEvent struct {
	New models.Document
}

// DocumentStore is select/update access to the singleton document row.
type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (models.Document, error)
	UpdateDocument(ctx context.Context, doc models.Document) error
}

// MessageStore is row access to the messages table. InsertMessage assigns the
// id and timestamps and returns the persisted row.
type MessageStore interface {
	ListMessages(ctx context.Context) ([]models.Message, error)
	InsertMessage(ctx context.Context, msg models.Message) (models.Message, error)
	UpdateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	DeleteAllMessages(ctx context.Context) error
}

// Realtime is the change-feed subscription surface. The returned cancel
// function unregisters the subscriber; the channel is closed afterwards.
type Realtime interface {
	SubscribeMessages(ctx context.Context) (<-chan MessageEvent, func())
	SubscribeDocument(ctx context.Context, id string) (<-chan DocumentEvent, func())
}

type PresenceEventKind string

const (
	PresenceSync  PresenceEventKind = "sync"
	PresenceJoin  PresenceEventKind = "join"
	PresenceLeave PresenceEventKind = "leave"
)

// PresenceEvent is delivered on every presence change of a named channel.
// State is nil for leave events.
type PresenceEvent struct {
	Kind  PresenceEventKind
	Key   string
	State *models.PresenceState
}

// PresenceChannel is the ephemeral shared-state primitive. Track is an
// idempotent overwrite of the caller's own state keyed by identity; States
// returns a snapshot of everyone currently tracked.
type PresenceChannel interface {
	Track(ctx context.Context, key string, state models.PresenceState) error
	Untrack(ctx context.Context, key string) error
	Subscribe(ctx context.Context) (<-chan PresenceEvent, func())
	States() map[string]models.PresenceState
}

// ObjectStore uploads media blobs and resolves their public URLs. Retries are
/// safe: each attempt uses a freshly generated path, so collisions cannot
// happen.
type ObjectStore interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	PublicURL(path string) string
}

// Backend bundles everything a client session needs.
type Backend interface {
	DocumentStore
	MessageStore
	Realtime
	Presence(channel string) PresenceChannel
}
