package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/Tyrowin/roomhub/internal/apperr"
)

// InsertMessage persists m and fills in its ID and CreatedAt.
func (s *Store) InsertMessage(ctx context.Context, m *ChatMessage) error {
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return apperr.Persistence("save message", err)
	}
	return nil
}

// MessagesSince returns up to limit messages with id > since in ascending
// id order. roomID 0 spans every room.
func (s *Store) MessagesSince(ctx context.Context, roomID, since int64, limit int) ([]ChatMessage, error) {
	q := s.db.WithContext(ctx).Where("id > ?", since)
	if roomID > 0 {
		q = q.Where("room_id = ?", roomID)
	}

	var msgs []ChatMessage
	if err := q.Order("id ASC").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, apperr.Persistence("load messages", err)
	}
	return msgs, nil
}

// GetMessage loads one message by id.
func (s *Store) GetMessage(ctx context.Context, id int64) (*ChatMessage, error) {
	var m ChatMessage
	err := s.db.WithContext(ctx).First(&m, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("message %d not found", id)
	}
	if err != nil {
		return nil, apperr.Persistence("load message", err)
	}
	return &m, nil
}

// MarkMessageDeleted sets the deleted flag on a message of roomID. A
// message in another room is reported as not found.
func (s *Store) MarkMessageDeleted(ctx context.Context, roomID, id int64) error {
	res := s.db.WithContext(ctx).
		Model(&ChatMessage{}).
		Where("id = ? AND room_id = ?", id, roomID).
		Update("deleted", true)
	if res.Error != nil {
		return apperr.Persistence("delete message", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("message %d not found in room %d", id, roomID)
	}
	return nil
}
