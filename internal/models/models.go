package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
)

// DocumentID is the fixed id of the singleton shared document. Both parties
// read and write the same row.
const DocumentID = "00000000-0000-0000-0000-000000000001"

// Document is the singleton shared notes document. Content is an opaque
// tree-structured blob owned by the editor surface; HTMLContent is a derived
// rendering cache refreshed on every save.
type Document struct {
	ID           string          `json:"id"`
	Content      json.RawMessage `json:"content"`
	HTMLContent  string          `json:"htmlContent"`
	LastEditorID string          `json:"lastEditorId"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

type MessageType string

const (
	MessageTypeText      MessageType = "text"
	MessageTypeImage     MessageType = "image"
	MessageTypeVideo     MessageType = "video"
	MessageTypeAudio     MessageType = "audio"
	MessageTypeSpotify   MessageType = "spotify"
	MessageTypeInstagram MessageType = "instagram"
	MessageTypeGallery   MessageType = "gallery"
)

// Content is the discriminated payload of a chat message. Exactly one variant
// matching Type is populated; the rest stay nil.
type Content struct {
	Type      MessageType       `json:"type"`
	Text      *TextContent      `json:"text,omitempty"`
	Image     *ImageContent     `json:"image,omitempty"`
	Video     *VideoContent     `json:"video,omitempty"`
	Audio     *AudioContent     `json:"audio,omitempty"`
	Spotify   *SpotifyContent   `json:"spotify,omitempty"`
	Instagram *InstagramContent `json:"instagram,omitempty"`
	Gallery   *GalleryContent   `json:"gallery,omitempty"`
}

type TextContent struct {
	Text string `json:"text"`
}

type ImageContent struct {
	URL     string `json:"url"`
	Caption string `json:"caption,omitempty"`
}

type VideoContent struct {
	URL    string `json:"url"`
	Poster string `json:"poster,omitempty"`
}

type AudioContent struct {
	URL           string  `json:"url"`
	Duration      float64 `json:"duration"`
	Transcription string  `json:"transcription,omitempty"`
}

type SpotifyContent struct {
	TrackID string `json:"trackId"`
	Title   string `json:"title,omitempty"`
	Artist  string `json:"artist,omitempty"`
}

type InstagramContent struct {
	PostURL string `json:"postUrl"`
}

type GalleryContent struct {
	URLs []string `json:"urls"`
}

// Validate checks that the variant matching Type is present.
func (c Content) Validate() error {
	var ok bool
	switch c.Type {
	case MessageTypeText:
		ok = c.Text != nil
	case MessageTypeImage:
		ok = c.Image != nil
	case MessageTypeVideo:
		ok = c.Video != nil
	case MessageTypeAudio:
		ok = c.Audio != nil
	case MessageTypeSpotify:
		ok = c.Spotify != nil
	case MessageTypeInstagram:
		ok = c.Instagram != nil
	case MessageTypeGallery:
		ok = c.Gallery != nil
	default:
		return fmt.Errorf("unknown message type %q", c.Type)
	}
	if !ok {
		return fmt.Errorf("content variant missing for type %q", c.Type)
	}
	return nil
}

// PlainText returns a plain-text projection of the content for rendering
// caches and previews.
func (c Content) PlainText() string {
	switch c.Type {
	case MessageTypeText:
		if c.Text != nil {
			return c.Text.Text
		}
	case MessageTypeImage:
		if c.Image != nil {
			return c.Image.Caption
		}
	case MessageTypeAudio:
		if c.Audio != nil {
			return c.Audio.Transcription
		}
	case MessageTypeSpotify:
		if c.Spotify != nil && c.Spotify.Title != "" {
			return c.Spotify.Artist + " - " + c.Spotify.Title
		}
	}
	return ""
}

// Reactions maps an emoji to the identities that reacted with it. Keys with no
// reactors must not persist; Toggle prunes them.
type Reactions map[string][]string

// Toggle adds userID to the emoji's reactor set if absent, removes it if
// present. An emoji left with no reactors is deleted from the map.
func (r Reactions) Toggle(emoji, userID string) {
	reactors := r[emoji]
	if i := slices.Index(reactors, userID); i >= 0 {
		reactors = slices.Delete(reactors, i, i+1)
		if len(reactors) == 0 {
			delete(r, emoji)
			return
		}
		r[emoji] = reactors
		return
	}
	r[emoji] = append(reactors, userID)
}

// Has reports whether userID has reacted with emoji.
func (r Reactions) Has(emoji, userID string) bool {
	return slices.Contains(r[emoji], userID)
}

// Clone returns a deep copy, safe to mutate independently.
func (r Reactions) Clone() Reactions {
	out := make(Reactions, len(r))
	for emoji, reactors := range r {
		out[emoji] = slices.Clone(reactors)
	}
	return out
}

// Message is one entry of the append-only chat stream. IDs are assigned by the
// backend and immutable; soft-deleted messages stay resolvable as reply
// targets.
type Message struct {
	ID        string      `json:"id"`
	SenderID  string      `json:"senderId"`
	Content   Content     `json:"content"`
	Type      MessageType `json:"messageType"`
	MediaURL  string      `json:"mediaUrl,omitempty"`
	Reactions Reactions   `json:"reactions"`
	ReplyTo   string      `json:"replyTo,omitempty"`
	IsDeleted bool        `json:"isDeleted"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Edited reports whether the message was modified after creation.
func (m Message) Edited() bool {
	return m.UpdatedAt.After(m.CreatedAt)
}

// Cursor is a screen position shared through presence.
type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PresenceState is the ephemeral per-identity payload broadcast over the
// presence channel. Overwritten on every broadcast, never persisted.
type PresenceState struct {
	UserID      string  `json:"userId"`
	DisplayName string  `json:"displayName"`
	Cursor      *Cursor `json:"cursor"`
	IsTyping    bool    `json:"isTyping"`
	IsRecording bool    `json:"isRecording"`
	Timestamp   int64   `json:"timestamp"`
}

// User is one of the exactly two fixed identities.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}
