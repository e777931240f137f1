package router

import (
	"context"

	"github.com/Tyrowin/roomhub/internal/apperr"
	"github.com/Tyrowin/roomhub/internal/event"
	"github.com/Tyrowin/roomhub/internal/metrics"
	"github.com/Tyrowin/roomhub/internal/store"
)

// SubmitChat validates and persists a chat message from who, then
// broadcasts it to the whole room, sender included. Persisting and
// broadcasting happen inside the room's Sequence, so every member sees
// messages in id order whichever transport submitted them.
func (rt *Router) SubmitChat(ctx context.Context, roomID int64, who event.Identity, text, transport string) (store.ChatMessage, error) {
	text, err := CleanText(text, "message")
	if err != nil {
		return store.ChatMessage{}, err
	}
	if roomID <= 0 {
		return store.ChatMessage{}, apperr.Validation("room_id is required")
	}

	m := store.ChatMessage{
		RoomID:   roomID,
		UserID:   who.UserID,
		Username: who.Username,
		Role:     string(who.Role),
		Message:  text,
	}
	err = rt.rooms.Sequence(roomID, func() error {
		if err := rt.mod.CheckPost(ctx, roomID, who.UserID); err != nil {
			return err
		}
		if err := rt.store.InsertMessage(ctx, &m); err != nil {
			return err
		}
		rt.rooms.BroadcastEvent(roomID, m.Event(), "")
		return nil
	})
	if err != nil {
		return store.ChatMessage{}, err
	}

	metrics.MessagesPosted.WithLabelValues(transport).Inc()
	rt.log.Debug().Int64("room_id", roomID).Int64("id", m.ID).Int64("user_id", who.UserID).Str("transport", transport).Msg("chat message stored")
	return m, nil
}

// SubmitVote casts who's vote on a poll from roomID and broadcasts the full
// recomputed tallies to roomID. The poll must be active, unexpired and open
// to the room; duplicates follow the poll's vote policy. The poll's state is
// read again inside the room's Sequence, so a vote never lands after
// SetPollStatus has closed a room poll.
func (rt *Router) SubmitVote(ctx context.Context, roomID int64, who event.Identity, pollID int64, option int) (event.Outbound, error) {
	if roomID <= 0 {
		return event.Outbound{}, apperr.Validation("room_id is required")
	}
	poll, err := rt.store.GetPoll(ctx, pollID)
	if err != nil {
		return event.Outbound{}, err
	}
	if !poll.InRoom(roomID) {
		return event.Outbound{}, apperr.Validation("poll %d does not belong to this room", pollID)
	}
	if option < 0 || option >= len(poll.Options) {
		return event.Outbound{}, apperr.Validation("invalid option index")
	}

	var update event.Outbound
	err = rt.rooms.Sequence(roomID, func() error {
		current, err := rt.store.GetPoll(ctx, pollID)
		if err != nil {
			return err
		}
		if !current.Open(rt.now()) {
			return apperr.Validation("poll is not active")
		}
		if err := rt.store.CastVote(ctx, current, who.UserID, option); err != nil {
			return err
		}
		counts, err := rt.store.VoteTallies(ctx, current)
		if err != nil {
			return err
		}
		update = event.PollUpdate(roomID, current.ID, current.Options, counts)
		rt.rooms.BroadcastEvent(roomID, update, "")
		return nil
	})
	if err != nil {
		return event.Outbound{}, err
	}

	rt.log.Debug().Int64("room_id", roomID).Int64("poll_id", pollID).Int64("user_id", who.UserID).Int("option", option).Msg("vote recorded")
	return update, nil
}

// SetPollStatus moves a poll to status. A room poll changes state inside
// its room's Sequence, ordered against the votes cast there. Global polls
// are not tied to one room; votes on them re-check the status under the
// voter's room.
func (rt *Router) SetPollStatus(ctx context.Context, pollID int64, status string) (*store.Poll, error) {
	poll, err := rt.store.GetPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}

	change := func() error {
		if err := rt.store.SetPollStatus(ctx, pollID, status); err != nil {
			return err
		}
		poll, err = rt.store.GetPoll(ctx, pollID)
		return err
	}
	if poll.RoomID > 0 {
		err = rt.rooms.Sequence(poll.RoomID, change)
	} else {
		err = change()
	}
	if err != nil {
		return nil, err
	}

	rt.log.Info().Int64("poll_id", pollID).Int64("room_id", poll.RoomID).Str("status", status).Msg("poll status changed")
	return poll, nil
}

// SubmitQuestion stores a Q&A question as pending. Nothing is broadcast;
// the caller acknowledges the id to the author.
func (rt *Router) SubmitQuestion(ctx context.Context, roomID int64, who event.Identity, sessionID int64, text string) (store.QAQuestion, error) {
	text, err := CleanText(text, "question")
	if err != nil {
		return store.QAQuestion{}, err
	}
	if sessionID <= 0 {
		return store.QAQuestion{}, apperr.Validation("session_id is required")
	}
	if err := rt.mod.CheckPost(ctx, roomID, who.UserID); err != nil {
		return store.QAQuestion{}, err
	}

	q := store.QAQuestion{
		SessionID: sessionID,
		RoomID:    roomID,
		UserID:    who.UserID,
		Username:  who.Username,
		Question:  text,
	}
	if err := rt.store.InsertQuestion(ctx, &q); err != nil {
		return store.QAQuestion{}, err
	}
	return q, nil
}
