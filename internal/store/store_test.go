package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomhub/internal/apperr"
)

// setupTestStore opens an in-memory SQLite store for one test.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(DriverSQLite, ":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newPoll(t *testing.T, s *Store, mutate func(*Poll)) *Poll {
	t.Helper()

	p := &Poll{
		RoomID:  1,
		Title:   "Best map?",
		Options: []string{"A", "B"},
		EndsAt:  time.Now().Add(time.Hour),
	}
	if mutate != nil {
		mutate(p)
	}
	require.NoError(t, s.CreatePoll(context.Background(), p))
	return p
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("oracle", "", zerolog.Nop())
	assert.Error(t, err)
}

func TestMessagesSinceOrderAndLimit(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 15; i++ {
		m := &ChatMessage{RoomID: 1, UserID: 5, Username: "alice", Role: "user", Message: fmt.Sprintf("msg %d", i)}
		require.NoError(t, s.InsertMessage(ctx, m))
		ids = append(ids, m.ID)
	}
	require.NoError(t, s.InsertMessage(ctx, &ChatMessage{RoomID: 2, UserID: 6, Username: "bob", Role: "user", Message: "elsewhere"}))

	msgs, err := s.MessagesSince(ctx, 1, 0, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 10)
	for i, m := range msgs {
		assert.Equal(t, ids[i], m.ID)
	}

	rest, err := s.MessagesSince(ctx, 1, msgs[9].ID, 10)
	require.NoError(t, err)
	assert.Len(t, rest, 5)

	all, err := s.MessagesSince(ctx, 0, 0, 100)
	require.NoError(t, err)
	assert.Len(t, all, 16)
}

func TestMarkMessageDeleted(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	m := &ChatMessage{RoomID: 1, UserID: 5, Username: "alice", Role: "user", Message: "oops"}
	require.NoError(t, s.InsertMessage(ctx, m))

	err := s.MarkMessageDeleted(ctx, 2, m.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound, "a message cannot be deleted through another room")

	require.NoError(t, s.MarkMessageDeleted(ctx, 1, m.ID))

	got, err := s.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, got.Deleted)

	out := got.Event()
	assert.True(t, out.Deleted)
	assert.Empty(t, out.Message)
	assert.Equal(t, m.ID, out.ID)
}

func TestPollValidation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	future := time.Now().Add(time.Hour)

	tests := []struct {
		name string
		poll Poll
	}{
		{"no title", Poll{Options: []string{"A", "B"}, EndsAt: future}},
		{"one option", Poll{Title: "t", Options: []string{"A"}, EndsAt: future}},
		{"seven options", Poll{Title: "t", Options: []string{"1", "2", "3", "4", "5", "6", "7"}, EndsAt: future}},
		{"blank option", Poll{Title: "t", Options: []string{"A", " "}, EndsAt: future}},
		{"expired", Poll{Title: "t", Options: []string{"A", "B"}, EndsAt: time.Now().Add(-time.Minute)}},
		{"bad policy", Poll{Title: "t", Options: []string{"A", "B"}, EndsAt: future, VotePolicy: "sometimes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.poll
			err := s.CreatePoll(ctx, &p)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}

	p := newPoll(t, s, nil)
	got, err := s.GetPoll(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, got.Options)
	assert.Equal(t, PollActive, got.Status)
	assert.Equal(t, VoteReject, got.VotePolicy)

	_, err = s.GetPoll(ctx, p.ID+100)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

// TestCastVoteRejectPolicy covers the default policy: a second vote on a
// single-choice poll is refused and the first one stands.
func TestCastVoteRejectPolicy(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	p := newPoll(t, s, nil)

	require.NoError(t, s.CastVote(ctx, p, 9, 0))
	err := s.CastVote(ctx, p, 9, 1)
	require.ErrorIs(t, err, apperr.ErrDuplicateVote)

	counts, err := s.VoteTallies(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 0}, counts)
}

func TestCastVoteReplacePolicy(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	p := newPoll(t, s, func(p *Poll) { p.VotePolicy = VoteReplace })

	require.NoError(t, s.CastVote(ctx, p, 9, 0))
	require.NoError(t, s.CastVote(ctx, p, 9, 1))

	counts, err := s.VoteTallies(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1}, counts)

	n, err := s.CountUserVotes(ctx, p.ID, 9)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCastVoteMultipleChoice(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	p := newPoll(t, s, func(p *Poll) {
		p.MultipleChoice = true
		p.Options = []string{"A", "B", "C"}
	})

	require.NoError(t, s.CastVote(ctx, p, 9, 0))
	require.NoError(t, s.CastVote(ctx, p, 9, 2))
	assert.ErrorIs(t, s.CastVote(ctx, p, 9, 2), apperr.ErrDuplicateVote)

	counts, err := s.VoteTallies(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 0, 1}, counts)
}

// TestCastVoteConcurrentSingleChoice checks that concurrent attempts by one
// user leave exactly one stored vote.
func TestCastVoteConcurrentSingleChoice(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	p := newPoll(t, s, nil)

	const attempts = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(option int) {
			defer wg.Done()
			err := s.CastVote(ctx, p, 9, option)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, apperr.ErrDuplicateVote)
		}(i % 2)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	n, err := s.CountUserVotes(ctx, p.ID, 9)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestQuestions(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	q := &QAQuestion{SessionID: 3, RoomID: 1, UserID: 5, Username: "alice", Question: "When is the final?"}
	require.NoError(t, s.InsertQuestion(ctx, q))
	assert.NotZero(t, q.ID)

	pending, err := s.QuestionsBySession(ctx, 3, QuestionPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "When is the final?", pending[0].Question)

	none, err := s.QuestionsBySession(ctx, 3, QuestionAnswered)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPing(t *testing.T) {
	s := setupTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}
