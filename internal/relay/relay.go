// Package relay hands live event streams from the run that produced them
// to the single consumer that reads them. A stream is registered under its
// session id and removed on take, so exactly one consumer can attach.
package relay

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/celadon-dev/celadon/internal/apperr"
	"github.com/celadon-dev/celadon/internal/engine"
)

// Relay is a session-keyed registry of pending event streams.
type Relay struct {
	mu      sync.Mutex
	streams map[string]<-chan engine.Event
	logger  zerolog.Logger
}

func New(logger zerolog.Logger) *Relay {
	return &Relay{
		streams: make(map[string]<-chan engine.Event),
		logger:  logger.With().Str("component", "relay").Logger(),
	}
}

// Register stores the stream for session id, replacing any stream already
// held for it. The replaced stream is abandoned, not drained.
func (r *Relay) Register(id string, events <-chan engine.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.streams[id]; ok {
		r.logger.Warn().Str("session_id", id).Msg("replacing registered stream")
	}
	r.streams[id] = events
}

// Take removes and returns the stream for session id. A second Take for
// the same id fails until a new stream is registered.
func (r *Relay) Take(id string) (<-chan engine.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	events, ok := r.streams[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "no active stream for session %s", id)
	}
	delete(r.streams, id)
	return events, nil
}

// Discard drops a registered stream without consuming it.
func (r *Relay) Discard(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, id)
}
