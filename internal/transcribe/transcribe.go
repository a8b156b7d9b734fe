// Package transcribe is the speech-to-text collaborator. One call per new
// audio message; the result is cached onto the message and never retried.
// A failed transcription leaves the field absent, rendered as unavailable.
package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var ErrNotConfigured = errors.New("transcription not configured")

type Transcriber interface {
	Transcribe(ctx context.Context, audioURL string) (string, error)
}

// HTTPTranscriber posts the audio URL to a whisper-style endpoint and returns
// the plain transcribed text.
type HTTPTranscriber struct {
	url    string
	apiKey string
	client *http.Client
}

func NewHTTPTranscriber(url, apiKey string) *HTTPTranscriber {
	return &HTTPTranscriber{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (t *HTTPTranscriber) Transcribe(ctx context.Context, audioURL string) (string, error) {
	// Missing credentials are fatal for this operation only, surfaced as a
	// clear failure rather than attempted.
	if t.url == "" || t.apiKey == "" {
		return "", ErrNotConfigured
	}

	body, err := json.Marshal(map[string]string{"audioUrl": audioURL})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcription failed with status %d", resp.StatusCode)
	}

	text, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(text)), nil
}
