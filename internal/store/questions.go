package store

import (
	"context"

	"github.com/Tyrowin/roomhub/internal/apperr"
)

// InsertQuestion persists q as pending and fills in its ID.
func (s *Store) InsertQuestion(ctx context.Context, q *QAQuestion) error {
	q.Status = QuestionPending
	if err := s.db.WithContext(ctx).Create(q).Error; err != nil {
		return apperr.Persistence("save question", err)
	}
	return nil
}

// QuestionsBySession returns a session's questions in submission order,
// optionally filtered by status.
func (s *Store) QuestionsBySession(ctx context.Context, sessionID int64, status string) ([]QAQuestion, error) {
	q := s.db.WithContext(ctx).Where("session_id = ?", sessionID)
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var out []QAQuestion
	if err := q.Order("id ASC").Find(&out).Error; err != nil {
		return nil, apperr.Persistence("load questions", err)
	}
	return out, nil
}
