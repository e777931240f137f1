// Package event defines the application payloads carried inside socket
// frames and polling request bodies: a closed set of inbound event kinds and
// the outbound events the hub fans out.
package event

import (
	"encoding/json"
	"strings"

	"github.com/Tyrowin/roomhub/internal/apperr"
)

// Kind names an inbound event type on the wire.
type Kind string

// Inbound event kinds.
const (
	KindJoin        Kind = "join"
	KindLeave       Kind = "leave"
	KindChatMessage Kind = "chat_message"
	KindTyping      Kind = "typing"
	KindPollVote    Kind = "poll_vote"
	KindQAQuestion  Kind = "qa_question"
	KindModeration  Kind = "moderation"
)

// kindAliases maps legacy type names to their canonical kind.
var kindAliases = map[string]Kind{
	"message":  KindChatMessage,
	"vote":     KindPollVote,
	"question": KindQAQuestion,
}

// Inbound is an event received from a client. The set of implementations is
// closed; the router switches over them exhaustively.
type Inbound interface {
	Kind() Kind
	// Room returns the room the event targets, 0 when omitted.
	Room() int64
	inbound()
}

// Join asks to enter a room under the given identity.
type Join struct {
	RoomID int64
	Identity
}

// Leave asks to leave the current room.
type Leave struct {
	RoomID int64
}

// ChatMessage is a chat line for the room.
type ChatMessage struct {
	RoomID int64
	Text   string
}

// Typing is a transient typing indicator.
type Typing struct {
	RoomID   int64
	IsTyping bool
}

// PollVote casts a vote for one option of a poll.
type PollVote struct {
	RoomID      int64
	PollID      int64
	OptionIndex int
}

// QAQuestion submits a question to a Q&A session.
type QAQuestion struct {
	RoomID    int64
	SessionID int64
	Question  string
}

// ModerationAction is one of the privileged actions.
type ModerationAction string

// Moderation actions.
const (
	ActionTimeout       ModerationAction = "timeout"
	ActionBan           ModerationAction = "ban"
	ActionDeleteMessage ModerationAction = "delete_message"
)

// MaxTimeoutSeconds is the longest timeout a moderator may impose: 30 days.
const MaxTimeoutSeconds = 30 * 24 * 60 * 60

// Moderation is a privileged command against a user or a message.
type Moderation struct {
	RoomID       int64
	Action       ModerationAction
	TargetUserID int64
	MessageID    int64
	// Duration is the timeout length in seconds.
	Duration int
}

func (Join) Kind() Kind        { return KindJoin }
func (Leave) Kind() Kind       { return KindLeave }
func (ChatMessage) Kind() Kind { return KindChatMessage }
func (Typing) Kind() Kind      { return KindTyping }
func (PollVote) Kind() Kind    { return KindPollVote }
func (QAQuestion) Kind() Kind  { return KindQAQuestion }
func (Moderation) Kind() Kind  { return KindModeration }

func (e Join) Room() int64        { return e.RoomID }
func (e Leave) Room() int64       { return e.RoomID }
func (e ChatMessage) Room() int64 { return e.RoomID }
func (e Typing) Room() int64      { return e.RoomID }
func (e PollVote) Room() int64    { return e.RoomID }
func (e QAQuestion) Room() int64  { return e.RoomID }
func (e Moderation) Room() int64  { return e.RoomID }

func (Join) inbound()        {}
func (Leave) inbound()       {}
func (ChatMessage) inbound() {}
func (Typing) inbound()      {}
func (PollVote) inbound()    {}
func (QAQuestion) inbound()  {}
func (Moderation) inbound()  {}

// wireEvent is the union of every field any inbound type may carry.
type wireEvent struct {
	Type         string `json:"type"`
	RoomID       int64  `json:"room_id"`
	UserID       int64  `json:"user_id"`
	Username     string `json:"username"`
	Role         string `json:"role"`
	Message      string `json:"message"`
	Text         string `json:"text"`
	IsTyping     *bool  `json:"is_typing"`
	PollID       int64  `json:"poll_id"`
	OptionIndex  *int   `json:"option_index"`
	SessionID    int64  `json:"session_id"`
	Question     string `json:"question"`
	Action       string `json:"action"`
	TargetUserID int64  `json:"target_user_id"`
	MessageID    int64  `json:"message_id"`
	Duration     int    `json:"duration"`
}

// Decode parses one JSON payload into an Inbound event. Unknown types and
// missing required fields are validation errors.
func Decode(data []byte) (Inbound, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, apperr.Validation("invalid JSON payload")
	}
	if w.RoomID < 0 {
		return nil, apperr.Validation("room_id must be positive")
	}

	kind := Kind(w.Type)
	if alias, ok := kindAliases[w.Type]; ok {
		kind = alias
	}

	switch kind {
	case KindJoin:
		return decodeJoin(w)
	case KindLeave:
		return Leave{RoomID: w.RoomID}, nil
	case KindChatMessage:
		text := w.Message
		if text == "" {
			text = w.Text
		}
		return ChatMessage{RoomID: w.RoomID, Text: text}, nil
	case KindTyping:
		typing := true
		if w.IsTyping != nil {
			typing = *w.IsTyping
		}
		return Typing{RoomID: w.RoomID, IsTyping: typing}, nil
	case KindPollVote:
		if w.PollID <= 0 {
			return nil, apperr.Validation("poll_id is required")
		}
		if w.OptionIndex == nil {
			return nil, apperr.Validation("option_index is required")
		}
		return PollVote{RoomID: w.RoomID, PollID: w.PollID, OptionIndex: *w.OptionIndex}, nil
	case KindQAQuestion:
		return QAQuestion{RoomID: w.RoomID, SessionID: w.SessionID, Question: w.Question}, nil
	case KindModeration:
		return decodeModeration(w)
	case "":
		return nil, apperr.Validation("type is required")
	default:
		return nil, apperr.Validation("unknown event type %q", w.Type)
	}
}

func decodeJoin(w wireEvent) (Inbound, error) {
	if w.RoomID <= 0 {
		return nil, apperr.Validation("room_id is required")
	}
	id := Identity{
		UserID:   w.UserID,
		Username: strings.TrimSpace(w.Username),
		Role:     Role(strings.TrimSpace(w.Role)),
	}
	if !id.Valid() {
		return nil, apperr.Validation("user_id and username are required")
	}
	if id.Role == "" {
		return nil, apperr.Validation("role is required")
	}
	return Join{RoomID: w.RoomID, Identity: id}, nil
}

func decodeModeration(w wireEvent) (Inbound, error) {
	m := Moderation{
		RoomID:       w.RoomID,
		Action:       ModerationAction(w.Action),
		TargetUserID: w.TargetUserID,
		MessageID:    w.MessageID,
		Duration:     w.Duration,
	}
	switch m.Action {
	case ActionTimeout:
		if m.TargetUserID <= 0 {
			return nil, apperr.Validation("target_user_id is required")
		}
		if m.Duration <= 0 {
			return nil, apperr.Validation("duration must be positive")
		}
		if m.Duration > MaxTimeoutSeconds {
			return nil, apperr.Validation("duration must not exceed %d seconds", MaxTimeoutSeconds)
		}
	case ActionBan:
		if m.TargetUserID <= 0 {
			return nil, apperr.Validation("target_user_id is required")
		}
	case ActionDeleteMessage:
		if m.MessageID <= 0 {
			return nil, apperr.Validation("message_id is required")
		}
	case "":
		return nil, apperr.Validation("action is required")
	default:
		return nil, apperr.Validation("unknown moderation action %q", w.Action)
	}
	return m, nil
}
