package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Tyrowin/roomhub/internal/apperr"
)

// CreatePoll validates and persists p.
func (s *Store) CreatePoll(ctx context.Context, p *Poll) error {
	if err := p.Validate(time.Now()); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return apperr.Persistence("save poll", err)
	}
	return nil
}

// GetPoll loads a poll by id.
func (s *Store) GetPoll(ctx context.Context, id int64) (*Poll, error) {
	var p Poll
	err := s.db.WithContext(ctx).First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("poll %d not found", id)
	}
	if err != nil {
		return nil, apperr.Persistence("load poll", err)
	}
	return &p, nil
}

// SetPollStatus moves a poll to status.
func (s *Store) SetPollStatus(ctx context.Context, id int64, status string) error {
	if status != PollActive && status != PollEnded && status != PollCancelled {
		return apperr.Validation("unknown poll status %q", status)
	}
	res := s.db.WithContext(ctx).Model(&Poll{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return apperr.Persistence("update poll", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("poll %d not found", id)
	}
	return nil
}

// CastVote records userID's vote for option on p. Under the reject policy a
// second vote in the same slot fails with a duplicate vote error and leaves
// the stored vote untouched; under the replace policy it overwrites it.
// Option bounds and poll state are the caller's to check.
func (s *Store) CastVote(ctx context.Context, p *Poll, userID int64, option int) error {
	v := PollVote{PollID: p.ID, UserID: userID, Slot: -1, OptionIndex: option}
	if p.MultipleChoice {
		v.Slot = option
	}

	db := s.db.WithContext(ctx)
	if p.VotePolicy == VoteReplace {
		db = db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "poll_id"}, {Name: "user_id"}, {Name: "slot"}},
			DoUpdates: clause.AssignmentColumns([]string{"option_index", "created_at"}),
		})
	}

	err := db.Create(&v).Error
	if err == nil {
		return nil
	}
	if isDuplicate(err) {
		if p.MultipleChoice {
			return apperr.DuplicateVote("you already voted for this option")
		}
		return apperr.DuplicateVote("you already voted in this poll")
	}
	return apperr.Persistence("save vote", err)
}

// VoteTallies returns the vote count per option of p, indexed like
// p.Options.
func (s *Store) VoteTallies(ctx context.Context, p *Poll) ([]int64, error) {
	var rows []struct {
		OptionIndex int
		Votes       int64
	}
	err := s.db.WithContext(ctx).
		Model(&PollVote{}).
		Select("option_index, COUNT(*) AS votes").
		Where("poll_id = ?", p.ID).
		Group("option_index").
		Scan(&rows).Error
	if err != nil {
		return nil, apperr.Persistence("count votes", err)
	}

	counts := make([]int64, len(p.Options))
	for _, r := range rows {
		if r.OptionIndex >= 0 && r.OptionIndex < len(counts) {
			counts[r.OptionIndex] = r.Votes
		}
	}
	return counts, nil
}

// CountUserVotes returns how many vote rows userID holds on pollID.
func (s *Store) CountUserVotes(ctx context.Context, pollID, userID int64) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&PollVote{}).
		Where("poll_id = ? AND user_id = ?", pollID, userID).
		Count(&n).Error
	if err != nil {
		return 0, apperr.Persistence("count votes", err)
	}
	return n, nil
}
