// Package polling lets clients without a persistent socket take part in a
// room: they pull "events since id X" and push their own events as plain
// HTTP requests. Pushes go through the router's submit paths, so they are
// validated, stored and broadcast exactly like socket traffic.
package polling

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomhub/internal/apperr"
	"github.com/Tyrowin/roomhub/internal/event"
	"github.com/Tyrowin/roomhub/internal/router"
	"github.com/Tyrowin/roomhub/internal/store"
)

// Default page sizes.
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// History is the read side of the durable store.
type History interface {
	MessagesSince(ctx context.Context, roomID, since int64, limit int) ([]store.ChatMessage, error)
	GetMessage(ctx context.Context, id int64) (*store.ChatMessage, error)
}

// Adapter is the polling realization of the router contract.
type Adapter struct {
	history      History
	router       *router.Router
	defaultLimit int
	maxLimit     int
	log          zerolog.Logger
}

// NewAdapter creates an Adapter. Non-positive limits fall back to the
// defaults.
func NewAdapter(history History, rt *router.Router, defaultLimit, maxLimit int, log zerolog.Logger) *Adapter {
	if maxLimit <= 0 {
		maxLimit = MaxLimit
	}
	if defaultLimit <= 0 || defaultLimit > maxLimit {
		defaultLimit = min(DefaultLimit, maxLimit)
	}
	return &Adapter{
		history:      history,
		router:       rt,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
		log:          log.With().Str("component", "polling").Logger(),
	}
}

// PullSince returns persisted chat events with id > since in ascending id
// order, at most limit of them. roomID 0 spans every room. An empty result
// is normal; the call never waits for new events.
func (a *Adapter) PullSince(ctx context.Context, roomID, since int64, limit int) ([]event.Outbound, error) {
	if since < 0 {
		return nil, apperr.Validation("since must not be negative")
	}
	if roomID < 0 {
		return nil, apperr.Validation("room_id must be positive")
	}
	if limit <= 0 {
		limit = a.defaultLimit
	}
	if limit > a.maxLimit {
		limit = a.maxLimit
	}

	msgs, err := a.history.MessagesSince(ctx, roomID, since, limit)
	if err != nil {
		return nil, err
	}

	out := make([]event.Outbound, len(msgs))
	for i, m := range msgs {
		out[i] = m.Event()
	}
	return out, nil
}

// Message returns the persisted chat event with id. A deleted message keeps
// its id and comes back with the deleted flag and no text.
func (a *Adapter) Message(ctx context.Context, id int64) (event.Outbound, error) {
	if id <= 0 {
		return event.Outbound{}, apperr.Validation("invalid message id")
	}
	m, err := a.history.GetMessage(ctx, id)
	if err != nil {
		return event.Outbound{}, err
	}
	return m.Event(), nil
}

// PushMessage submits a chat message on behalf of who and returns its id.
// Socket members of the room receive it live with the same id.
func (a *Adapter) PushMessage(ctx context.Context, roomID int64, who event.Identity, text string) (int64, error) {
	m, err := a.router.SubmitChat(ctx, roomID, who, text, router.TransportPolling)
	if err != nil {
		return 0, err
	}
	return m.ID, nil
}
