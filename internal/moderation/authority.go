// Package moderation gates and applies privileged room actions: timeouts,
// bans and message deletion.
package moderation

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomhub/internal/apperr"
	"github.com/Tyrowin/roomhub/internal/event"
	"github.com/Tyrowin/roomhub/internal/hub"
	"github.com/Tyrowin/roomhub/internal/metrics"
)

// MessageStore is the part of the durable store moderation writes to.
type MessageStore interface {
	MarkMessageDeleted(ctx context.Context, roomID, id int64) error
}

// Authority authorizes moderation commands against a room's moderator set
// and applies them. Callers run it inside the room's Sequence so its
// broadcasts are ordered with chat traffic.
type Authority struct {
	rooms     *hub.Rooms
	store     MessageStore
	sanctions Sanctions
	log       zerolog.Logger
}

// NewAuthority creates an Authority.
func NewAuthority(rooms *hub.Rooms, store MessageStore, sanctions Sanctions, log zerolog.Logger) *Authority {
	return &Authority{
		rooms:     rooms,
		store:     store,
		sanctions: sanctions,
		log:       log.With().Str("component", "moderation").Logger(),
	}
}

// Authorize reports whether connID may moderate roomID.
func (a *Authority) Authorize(roomID int64, connID string) bool {
	return a.rooms.IsModerator(roomID, connID)
}

// Apply authorizes and dispatches one moderation command issued by actor.
func (a *Authority) Apply(ctx context.Context, roomID int64, actor string, m event.Moderation) error {
	switch m.Action {
	case event.ActionTimeout:
		return a.Timeout(ctx, roomID, actor, m.TargetUserID, m.Duration)
	case event.ActionBan:
		return a.Ban(ctx, roomID, actor, m.TargetUserID)
	case event.ActionDeleteMessage:
		return a.DeleteMessage(ctx, roomID, actor, m.MessageID)
	default:
		return apperr.Validation("unknown moderation action %q", m.Action)
	}
}

func (a *Authority) authorize(roomID int64, actor string, action event.ModerationAction) error {
	if a.Authorize(roomID, actor) {
		return nil
	}
	a.log.Warn().Str("conn_id", actor).Int64("room_id", roomID).Str("action", string(action)).Msg("unauthorized moderation attempt")
	return apperr.Permission("insufficient permissions")
}

// Timeout silences target in roomID for the given number of seconds.
func (a *Authority) Timeout(ctx context.Context, roomID int64, actor string, target int64, seconds int) error {
	if err := a.authorize(roomID, actor, event.ActionTimeout); err != nil {
		return err
	}
	if seconds <= 0 {
		return apperr.Validation("duration must be positive")
	}
	if seconds > event.MaxTimeoutSeconds {
		return apperr.Validation("duration must not exceed %d seconds", event.MaxTimeoutSeconds)
	}
	if err := a.sanctions.Timeout(ctx, roomID, target, time.Duration(seconds)*time.Second); err != nil {
		return apperr.Persistence("record timeout", err)
	}

	a.rooms.BroadcastEvent(roomID, event.UserTimeout(roomID, target, seconds), "")
	metrics.ModerationActions.WithLabelValues(string(event.ActionTimeout)).Inc()
	a.log.Info().Int64("room_id", roomID).Int64("target_user_id", target).Int("duration", seconds).Msg("user timed out")
	return nil
}

// Ban excludes target from roomID: its live connections are removed from
// the room and closed once the ban notice is written, and future joins are
// refused until the sanction is cleared.
func (a *Authority) Ban(ctx context.Context, roomID int64, actor string, target int64) error {
	if err := a.authorize(roomID, actor, event.ActionBan); err != nil {
		return err
	}
	if err := a.sanctions.Ban(ctx, roomID, target); err != nil {
		return apperr.Persistence("record ban", err)
	}

	a.rooms.BroadcastEvent(roomID, event.UserBanned(roomID, target), "")
	for _, m := range a.rooms.Members(roomID) {
		if m.Identity.UserID != target {
			continue
		}
		if dep, ok := a.rooms.Leave(m.ConnID); ok {
			a.rooms.BroadcastEvent(roomID, event.UserLeft(roomID, dep.Identity, dep.Remaining), "")
		}
		a.rooms.Registry().Drop(m.ConnID)
	}

	metrics.ModerationActions.WithLabelValues(string(event.ActionBan)).Inc()
	a.log.Info().Int64("room_id", roomID).Int64("target_user_id", target).Msg("user banned")
	return nil
}

// DeleteMessage flags a message of roomID as deleted and tells the room.
func (a *Authority) DeleteMessage(ctx context.Context, roomID int64, actor string, messageID int64) error {
	if err := a.authorize(roomID, actor, event.ActionDeleteMessage); err != nil {
		return err
	}
	if err := a.store.MarkMessageDeleted(ctx, roomID, messageID); err != nil {
		return err
	}

	a.rooms.BroadcastEvent(roomID, event.MessageDeleted(roomID, messageID), "")
	metrics.ModerationActions.WithLabelValues(string(event.ActionDeleteMessage)).Inc()
	a.log.Info().Int64("room_id", roomID).Int64("message_id", messageID).Msg("message deleted")
	return nil
}

// Clear lifts every sanction on userID in roomID.
func (a *Authority) Clear(ctx context.Context, roomID, userID int64) error {
	if err := a.sanctions.Clear(ctx, roomID, userID); err != nil {
		return apperr.Persistence("clear sanctions", err)
	}
	return nil
}

// CheckJoin refuses banned users.
func (a *Authority) CheckJoin(ctx context.Context, roomID, userID int64) error {
	banned, err := a.sanctions.Banned(ctx, roomID, userID)
	if err != nil {
		return apperr.Persistence("check sanctions", err)
	}
	if banned {
		return apperr.Permission("you are banned from this room")
	}
	return nil
}

// CheckPost refuses users who are banned or timed out.
func (a *Authority) CheckPost(ctx context.Context, roomID, userID int64) error {
	if err := a.CheckJoin(ctx, roomID, userID); err != nil {
		return err
	}
	timedOut, err := a.sanctions.TimedOut(ctx, roomID, userID)
	if err != nil {
		return apperr.Persistence("check sanctions", err)
	}
	if timedOut {
		return apperr.Permission("you are timed out in this room")
	}
	return nil
}
