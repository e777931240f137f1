package event

import (
	"encoding/json"
	"time"
)

// Outbound event types.
const (
	TypeJoined           = "joined"
	TypeUserJoined       = "user_joined"
	TypeUserLeft         = "user_left"
	TypeChatMessage      = "chat_message"
	TypeTyping           = "typing"
	TypePollUpdate       = "poll_update"
	TypeQuestionReceived = "question_received"
	TypeUserTimeout      = "user_timeout"
	TypeUserBanned       = "user_banned"
	TypeMessageDeleted   = "message_deleted"
	TypeError            = "error"
)

// Outbound is an event sent from the hub to clients. The same JSON shape is
// used over socket frames and in polling responses.
type Outbound struct {
	Type         string   `json:"type"`
	RoomID       int64    `json:"room_id,omitempty"`
	ID           int64    `json:"id,omitempty"`
	UserID       int64    `json:"user_id,omitempty"`
	Username     string   `json:"username,omitempty"`
	Role         Role     `json:"role,omitempty"`
	Message      string   `json:"message,omitempty"`
	Timestamp    string   `json:"timestamp,omitempty"`
	Deleted      bool     `json:"deleted,omitempty"`
	MemberCount  *int     `json:"member_count,omitempty"`
	IsTyping     *bool    `json:"is_typing,omitempty"`
	PollID       int64    `json:"poll_id,omitempty"`
	Options      []string `json:"options,omitempty"`
	Counts       []int64  `json:"counts,omitempty"`
	TotalVotes   *int64   `json:"total_votes,omitempty"`
	TargetUserID int64    `json:"target_user_id,omitempty"`
	MessageID    int64    `json:"message_id,omitempty"`
	Duration     int      `json:"duration,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// Encode marshals the event to JSON.
func (o Outbound) Encode() ([]byte, error) {
	return json.Marshal(o)
}

// Joined acknowledges a join to the joining connection.
func Joined(roomID int64, members int) Outbound {
	return Outbound{Type: TypeJoined, RoomID: roomID, MemberCount: &members}
}

// UserJoined announces a new member to the rest of the room.
func UserJoined(roomID int64, who Identity, members int) Outbound {
	return Outbound{
		Type:        TypeUserJoined,
		RoomID:      roomID,
		UserID:      who.UserID,
		Username:    who.Username,
		Role:        who.Role,
		MemberCount: &members,
	}
}

// UserLeft announces a departure with the remaining member count.
func UserLeft(roomID int64, who Identity, members int) Outbound {
	return Outbound{
		Type:        TypeUserLeft,
		RoomID:      roomID,
		UserID:      who.UserID,
		Username:    who.Username,
		MemberCount: &members,
	}
}

// Chat carries one persisted chat message.
func Chat(id, roomID int64, who Identity, text string, createdAt time.Time) Outbound {
	return Outbound{
		Type:      TypeChatMessage,
		ID:        id,
		RoomID:    roomID,
		UserID:    who.UserID,
		Username:  who.Username,
		Role:      who.Role,
		Message:   text,
		Timestamp: createdAt.UTC().Format(time.RFC3339),
	}
}

// TypingIndicator relays a typing state change.
func TypingIndicator(roomID int64, who Identity, typing bool) Outbound {
	return Outbound{
		Type:     TypeTyping,
		RoomID:   roomID,
		UserID:   who.UserID,
		Username: who.Username,
		IsTyping: &typing,
	}
}

// PollUpdate carries the full recomputed tallies of a poll.
func PollUpdate(roomID, pollID int64, options []string, counts []int64) Outbound {
	var total int64
	for _, c := range counts {
		total += c
	}
	return Outbound{
		Type:       TypePollUpdate,
		RoomID:     roomID,
		PollID:     pollID,
		Options:    options,
		Counts:     counts,
		TotalVotes: &total,
	}
}

// QuestionReceived acknowledges a stored question to its author.
func QuestionReceived(roomID, id int64) Outbound {
	return Outbound{Type: TypeQuestionReceived, RoomID: roomID, ID: id}
}

// UserTimeout announces a timeout.
func UserTimeout(roomID, target int64, seconds int) Outbound {
	return Outbound{Type: TypeUserTimeout, RoomID: roomID, TargetUserID: target, Duration: seconds}
}

// UserBanned announces a ban.
func UserBanned(roomID, target int64) Outbound {
	return Outbound{Type: TypeUserBanned, RoomID: roomID, TargetUserID: target}
}

// MessageDeleted tells clients to drop a message from their view.
func MessageDeleted(roomID, messageID int64) Outbound {
	return Outbound{Type: TypeMessageDeleted, RoomID: roomID, MessageID: messageID}
}

// Failure is the per-sender error event.
func Failure(msg string) Outbound {
	return Outbound{Type: TypeError, Error: msg}
}
