// Package router validates, persists and dispatches inbound events. Socket
// frames enter through HandleFrame; the polling transport calls the same
// Submit functions, so both transports share validation, persistence and
// live fan-out.
package router

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomhub/internal/apperr"
	"github.com/Tyrowin/roomhub/internal/event"
	"github.com/Tyrowin/roomhub/internal/hub"
	"github.com/Tyrowin/roomhub/internal/metrics"
	"github.com/Tyrowin/roomhub/internal/moderation"
	"github.com/Tyrowin/roomhub/internal/store"
)

// Transport labels for metrics.
const (
	TransportSocket  = "socket"
	TransportPolling = "polling"
)

// Store is the part of the durable store the router writes to.
type Store interface {
	InsertMessage(ctx context.Context, m *store.ChatMessage) error
	GetPoll(ctx context.Context, id int64) (*store.Poll, error)
	SetPollStatus(ctx context.Context, id int64, status string) error
	CastVote(ctx context.Context, p *store.Poll, userID int64, option int) error
	VoteTallies(ctx context.Context, p *store.Poll) ([]int64, error)
	InsertQuestion(ctx context.Context, q *store.QAQuestion) error
}

// Router is the per-connection state machine: Unjoined, Joined(room), and
// back to Unjoined on leave or disconnect.
type Router struct {
	registry *hub.Registry
	rooms    *hub.Rooms
	store    Store
	mod      *moderation.Authority
	log      zerolog.Logger
	now      func() time.Time
}

// New creates a Router and hooks it into registry so a disconnected member
// is announced to its room.
func New(registry *hub.Registry, rooms *hub.Rooms, st Store, mod *moderation.Authority, log zerolog.Logger) *Router {
	rt := &Router{
		registry: registry,
		rooms:    rooms,
		store:    st,
		mod:      mod,
		log:      log.With().Str("component", "router").Logger(),
		now:      time.Now,
	}
	registry.OnDeregister(rt.disconnected)
	return rt
}

// HandleFrame decodes one inbound payload from conn and dispatches it. Any
// failure is reported to conn alone as an error event and returned.
func (rt *Router) HandleFrame(ctx context.Context, conn *hub.Connection, data []byte) error {
	in, err := event.Decode(data)
	if err != nil {
		rt.fail(conn, "invalid", err)
		return err
	}

	switch ev := in.(type) {
	case event.Join:
		err = rt.join(ctx, conn, ev)
	case event.Leave:
		err = rt.leave(conn, ev)
	case event.ChatMessage:
		err = rt.chat(ctx, conn, ev)
	case event.Typing:
		err = rt.typing(conn, ev)
	case event.PollVote:
		err = rt.vote(ctx, conn, ev)
	case event.QAQuestion:
		err = rt.question(ctx, conn, ev)
	case event.Moderation:
		err = rt.moderate(ctx, conn, ev)
	default:
		err = apperr.Validation("unsupported event type %q", in.Kind())
	}

	if err != nil {
		rt.fail(conn, string(in.Kind()), err)
		return err
	}
	metrics.EventsHandled.WithLabelValues(string(in.Kind()), "ok").Inc()
	return nil
}

func (rt *Router) fail(conn *hub.Connection, kind string, err error) {
	metrics.EventsHandled.WithLabelValues(kind, outcome(err)).Inc()

	level := zerolog.DebugLevel
	if apperr.Is(err, apperr.ErrPersistence) || !isClassified(err) {
		level = zerolog.ErrorLevel
	}
	rt.log.WithLevel(level).Err(err).Str("conn_id", conn.ID).Str("kind", kind).Msg("event rejected")

	rt.registry.SendEvent(conn.ID, event.Failure(apperr.Public(err)))
}

func isClassified(err error) bool {
	var e *apperr.Error
	return errors.As(err, &e)
}

func outcome(err error) string {
	switch {
	case apperr.Is(err, apperr.ErrValidation):
		return "validation"
	case apperr.Is(err, apperr.ErrPermission):
		return "permission"
	case apperr.Is(err, apperr.ErrDuplicateVote):
		return "duplicate_vote"
	case apperr.Is(err, apperr.ErrNotFound):
		return "not_found"
	case apperr.Is(err, apperr.ErrPersistence):
		return "persistence"
	default:
		return "error"
	}
}

// joined resolves the room an event from conn acts on. The connection must
// be in a room, and an explicit room_id must name that room.
func (rt *Router) joined(conn *hub.Connection, roomID int64) (int64, event.Identity, error) {
	current, identity, ok := rt.rooms.Membership(conn.ID)
	if !ok {
		return 0, event.Identity{}, apperr.Validation("join a room first")
	}
	if roomID != 0 && roomID != current {
		return 0, event.Identity{}, apperr.Validation("not joined to room %d", roomID)
	}
	return current, identity, nil
}

// join admits conn to the room. The ban check runs inside the room's
// Sequence, where bans are applied, so a ban cannot slip in between the
// check and the membership change.
func (rt *Router) join(ctx context.Context, conn *hub.Connection, ev event.Join) error {
	var res hub.JoinResult
	err := rt.rooms.Sequence(ev.RoomID, func() error {
		if err := rt.mod.CheckJoin(ctx, ev.RoomID, ev.UserID); err != nil {
			return err
		}
		var err error
		res, err = rt.rooms.Join(conn.ID, ev.RoomID, ev.Identity)
		if err != nil {
			return err
		}
		rt.registry.SendEvent(conn.ID, event.Joined(ev.RoomID, res.MemberCount))
		if !res.Rejoined {
			rt.rooms.BroadcastEvent(ev.RoomID, event.UserJoined(ev.RoomID, ev.Identity, res.MemberCount), conn.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if prev := res.Previous; prev != nil {
		rt.announceLeft(*prev)
	}
	rt.log.Info().Str("conn_id", conn.ID).Int64("room_id", ev.RoomID).Int64("user_id", ev.UserID).Int("members", res.MemberCount).Msg("user joined")
	return nil
}

func (rt *Router) leave(conn *hub.Connection, ev event.Leave) error {
	roomID, _, err := rt.joined(conn, ev.RoomID)
	if err != nil {
		return err
	}
	return rt.rooms.Sequence(roomID, func() error {
		if dep, ok := rt.rooms.Leave(conn.ID); ok {
			rt.rooms.BroadcastEvent(dep.RoomID, event.UserLeft(dep.RoomID, dep.Identity, dep.Remaining), "")
		}
		return nil
	})
}

// disconnected runs once per deregistered connection. Deregister must
// therefore never be called from inside a room's Sequence.
func (rt *Router) disconnected(conn *hub.Connection) {
	roomID, _, ok := rt.rooms.Membership(conn.ID)
	if !ok {
		return
	}
	_ = rt.rooms.Sequence(roomID, func() error {
		if dep, ok := rt.rooms.Leave(conn.ID); ok {
			rt.rooms.BroadcastEvent(dep.RoomID, event.UserLeft(dep.RoomID, dep.Identity, dep.Remaining), "")
		}
		return nil
	})
}

func (rt *Router) announceLeft(dep hub.Departure) {
	_ = rt.rooms.Sequence(dep.RoomID, func() error {
		rt.rooms.BroadcastEvent(dep.RoomID, event.UserLeft(dep.RoomID, dep.Identity, dep.Remaining), "")
		return nil
	})
}

func (rt *Router) chat(ctx context.Context, conn *hub.Connection, ev event.ChatMessage) error {
	roomID, identity, err := rt.joined(conn, ev.RoomID)
	if err != nil {
		return err
	}
	_, err = rt.SubmitChat(ctx, roomID, identity, ev.Text, TransportSocket)
	return err
}

func (rt *Router) typing(conn *hub.Connection, ev event.Typing) error {
	roomID, identity, err := rt.joined(conn, ev.RoomID)
	if err != nil {
		return err
	}
	rt.rooms.BroadcastEvent(roomID, event.TypingIndicator(roomID, identity, ev.IsTyping), conn.ID)
	return nil
}

func (rt *Router) vote(ctx context.Context, conn *hub.Connection, ev event.PollVote) error {
	roomID, identity, err := rt.joined(conn, ev.RoomID)
	if err != nil {
		return err
	}
	_, err = rt.SubmitVote(ctx, roomID, identity, ev.PollID, ev.OptionIndex)
	return err
}

func (rt *Router) question(ctx context.Context, conn *hub.Connection, ev event.QAQuestion) error {
	roomID, identity, err := rt.joined(conn, ev.RoomID)
	if err != nil {
		return err
	}
	q, err := rt.SubmitQuestion(ctx, roomID, identity, ev.SessionID, ev.Question)
	if err != nil {
		return err
	}
	rt.registry.SendEvent(conn.ID, event.QuestionReceived(roomID, q.ID))
	return nil
}

func (rt *Router) moderate(ctx context.Context, conn *hub.Connection, ev event.Moderation) error {
	roomID, _, err := rt.joined(conn, ev.RoomID)
	if err != nil {
		return err
	}
	return rt.rooms.Sequence(roomID, func() error {
		return rt.mod.Apply(ctx, roomID, conn.ID, ev)
	})
}

// CleanText trims text and enforces the 1 to 500 character bound shared by
// chat messages and questions.
func CleanText(text, what string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperr.Validation("%s cannot be empty", what)
	}
	if utf8.RuneCountInString(text) > store.MaxTextLength {
		return "", apperr.Validation("%s too long (max %d characters)", what, store.MaxTextLength)
	}
	return text, nil
}
