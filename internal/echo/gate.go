// Package echo distinguishes "change I just made" from "change the peer made"
// on the realtime subscription. Every local write comes back shortly after as
// an apparent remote change; applying it again double-processes at best and
// clobbers in-progress edits at worst.
package echo

import (
	"context"
	"sync"
	"time"

	"github.com/c-pro/geche"
)

// DefaultWindow is how long a marked entity id suppresses its echo. Long
// enough to cover backend fan-out latency, short enough that a genuinely
// concurrent peer update to the same entity is only briefly at risk.
const DefaultWindow = 2 * time.Second

// Gate is a per-entity-id marker set with per-entry expiry. Needed for the
// message stream, where many distinct ids can be in flight concurrently and a
// single flag would suppress unrelated peer events.
type Gate struct {
	local geche.Geche[string, struct{}]
}

func NewGate(ctx context.Context, window time.Duration) *Gate {
	if window <= 0 {
		window = DefaultWindow
	}
	cleanup := window
	if cleanup > time.Second {
		cleanup = time.Second
	}
	return &Gate{
		local: geche.NewMapTTLCache[string, struct{}](ctx, window, cleanup),
	}
}

// MarkLocal records that the local client just mutated the entity. Call
// before the write reaches the backend so the echo cannot outrun the marker.
func (g *Gate) MarkLocal(id string) {
	g.local.Set(id, struct{}{})
}

// IsLocal reports whether an incoming realtime event for the entity is an
// echo of a local mutation still inside the suppression window.
func (g *Gate) IsLocal(id string) bool {
	_, err := g.local.Get(id)
	return err == nil
}

// Flag is the coarse single-document variant: one re-settable boolean with a
// timeout. Acceptable for the singleton document because saves are
// whole-snapshot and debounced, so a brief false-positive suppression cannot
// hide a peer update for long.
type Flag struct {
	mu     sync.Mutex
	until  time.Time
	window time.Duration
	now    func() time.Time
}

// DefaultFlagWindow matches the short reset delay used for in-flight document
// updates.
const DefaultFlagWindow = 500 * time.Millisecond

func NewFlag(window time.Duration) *Flag {
	if window <= 0 {
		window = DefaultFlagWindow
	}
	return &Flag{window: window, now: time.Now}
}

// Set marks a local update in flight. Re-settable: a second Set extends the
// window from now.
func (f *Flag) Set() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.until = f.now().Add(f.window)
}

// Active reports whether a local update is still considered in flight.
func (f *Flag) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now().Before(f.until)
}
