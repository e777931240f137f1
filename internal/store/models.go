package store

import (
	"strings"
	"time"

	"github.com/Tyrowin/roomhub/internal/apperr"
	"github.com/Tyrowin/roomhub/internal/event"
)

// MaxTextLength bounds chat messages and questions, in characters.
const MaxTextLength = 500

// Poll statuses.
const (
	PollActive    = "active"
	PollEnded     = "ended"
	PollCancelled = "cancelled"
)

// Vote policies decide what a second single-choice vote by the same user
// does.
const (
	VoteReject  = "reject"
	VoteReplace = "replace"
)

// Question statuses.
const (
	QuestionPending   = "pending"
	QuestionAnswered  = "answered"
	QuestionDismissed = "dismissed"
)

// ChatMessage is one persisted chat line. ID is the ordering key shared by
// the socket and polling transports.
type ChatMessage struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RoomID    int64     `gorm:"not null;index" json:"room_id"`
	UserID    int64     `gorm:"not null" json:"user_id"`
	Username  string    `gorm:"size:100;not null" json:"username"`
	Role      string    `gorm:"size:32;not null" json:"role"`
	Message   string    `gorm:"size:2000;not null" json:"message"`
	CreatedAt time.Time `json:"created_at"`
	Deleted   bool      `gorm:"not null;default:false" json:"deleted"`
}

// TableName returns the table name for ChatMessage.
func (ChatMessage) TableName() string { return "chat_messages" }

// Author returns the identity the message was posted under.
func (m ChatMessage) Author() event.Identity {
	return event.Identity{UserID: m.UserID, Username: m.Username, Role: event.Role(m.Role)}
}

// Event renders the message as the outbound chat event. Deleted messages
// keep their id and position but lose their text.
func (m ChatMessage) Event() event.Outbound {
	out := event.Chat(m.ID, m.RoomID, m.Author(), m.Message, m.CreatedAt)
	if m.Deleted {
		out.Message = ""
		out.Deleted = true
	}
	return out
}

// Poll is a vote with 2 to 6 options. RoomID 0 means the poll is open to
// every room.
type Poll struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RoomID         int64     `gorm:"not null;default:0;index" json:"room_id"`
	Title          string    `gorm:"size:200;not null" json:"title"`
	Options        []string  `gorm:"serializer:json;type:text;not null" json:"options"`
	Status         string    `gorm:"size:16;not null;default:active" json:"status"`
	MultipleChoice bool      `gorm:"not null;default:false" json:"multiple_choice"`
	VotePolicy     string    `gorm:"size:16;not null;default:reject" json:"vote_policy"`
	EndsAt         time.Time `gorm:"not null" json:"ends_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName returns the table name for Poll.
func (Poll) TableName() string { return "polls" }

// Validate checks a poll before it is created and fills in defaults.
func (p *Poll) Validate(now time.Time) error {
	p.Title = strings.TrimSpace(p.Title)
	if p.Title == "" {
		return apperr.Validation("title is required")
	}
	if len(p.Options) < 2 || len(p.Options) > 6 {
		return apperr.Validation("a poll needs between 2 and 6 options")
	}
	for i, opt := range p.Options {
		p.Options[i] = strings.TrimSpace(opt)
		if p.Options[i] == "" {
			return apperr.Validation("option %d is empty", i)
		}
	}
	if p.RoomID < 0 {
		return apperr.Validation("room_id must be positive")
	}
	if p.Status == "" {
		p.Status = PollActive
	}
	if p.Status != PollActive && p.Status != PollEnded && p.Status != PollCancelled {
		return apperr.Validation("unknown poll status %q", p.Status)
	}
	if p.VotePolicy == "" {
		p.VotePolicy = VoteReject
	}
	if p.VotePolicy != VoteReject && p.VotePolicy != VoteReplace {
		return apperr.Validation("unknown vote policy %q", p.VotePolicy)
	}
	if !p.EndsAt.After(now) {
		return apperr.Validation("ends_at must be in the future")
	}
	return nil
}

// Open reports whether the poll accepts votes at now.
func (p *Poll) Open(now time.Time) bool {
	return p.Status == PollActive && p.EndsAt.After(now)
}

// InRoom reports whether members of roomID may vote on the poll.
func (p *Poll) InRoom(roomID int64) bool {
	return p.RoomID == 0 || p.RoomID == roomID
}

// PollVote is one cast vote. Slot is -1 for single-choice polls and the
// option index for multiple-choice polls, so the unique index on
// (poll_id, user_id, slot) enforces both vote invariants.
type PollVote struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	PollID      int64     `gorm:"not null;uniqueIndex:idx_poll_votes_user_slot"`
	UserID      int64     `gorm:"not null;uniqueIndex:idx_poll_votes_user_slot"`
	Slot        int       `gorm:"not null;uniqueIndex:idx_poll_votes_user_slot"`
	OptionIndex int       `gorm:"not null"`
	CreatedAt   time.Time
}

// TableName returns the table name for PollVote.
func (PollVote) TableName() string { return "poll_votes" }

// QAQuestion is a question submitted to a Q&A session. It is only
// acknowledged to its author; moderators read the queue elsewhere.
type QAQuestion struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID int64     `gorm:"not null;index" json:"session_id"`
	RoomID    int64     `gorm:"not null" json:"room_id"`
	UserID    int64     `gorm:"not null" json:"user_id"`
	Username  string    `gorm:"size:100;not null" json:"username"`
	Question  string    `gorm:"size:2000;not null" json:"question"`
	Status    string    `gorm:"size:16;not null;default:pending" json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the table name for QAQuestion.
func (QAQuestion) TableName() string { return "qa_questions" }
