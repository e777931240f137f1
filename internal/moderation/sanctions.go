package moderation

import (
	"context"
	"sync"
	"time"
)

// Sanctions records timeouts and bans per (room, user).
type Sanctions interface {
	Timeout(ctx context.Context, roomID, userID int64, d time.Duration) error
	Ban(ctx context.Context, roomID, userID int64) error
	// Clear lifts both a timeout and a ban.
	Clear(ctx context.Context, roomID, userID int64) error
	TimedOut(ctx context.Context, roomID, userID int64) (bool, error)
	Banned(ctx context.Context, roomID, userID int64) (bool, error)
}

type sanctionKey struct {
	roomID int64
	userID int64
}

// MemorySanctions keeps sanctions for the lifetime of the process.
type MemorySanctions struct {
	mu       sync.Mutex
	timeouts map[sanctionKey]time.Time
	bans     map[sanctionKey]struct{}
	now      func() time.Time
}

// NewMemorySanctions creates an empty in-memory sanctions store.
func NewMemorySanctions() *MemorySanctions {
	return &MemorySanctions{
		timeouts: make(map[sanctionKey]time.Time),
		bans:     make(map[sanctionKey]struct{}),
		now:      time.Now,
	}
}

func (m *MemorySanctions) Timeout(_ context.Context, roomID, userID int64, d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.timeouts[sanctionKey{roomID, userID}] = m.now().Add(d)
	return nil
}

func (m *MemorySanctions) Ban(_ context.Context, roomID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bans[sanctionKey{roomID, userID}] = struct{}{}
	return nil
}

func (m *MemorySanctions) Clear(_ context.Context, roomID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := sanctionKey{roomID, userID}
	delete(m.timeouts, k)
	delete(m.bans, k)
	return nil
}

func (m *MemorySanctions) TimedOut(_ context.Context, roomID, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := sanctionKey{roomID, userID}
	until, ok := m.timeouts[k]
	if !ok {
		return false, nil
	}
	if !m.now().Before(until) {
		delete(m.timeouts, k)
		return false, nil
	}
	return true, nil
}

func (m *MemorySanctions) Banned(_ context.Context, roomID, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.bans[sanctionKey{roomID, userID}]
	return ok, nil
}

var _ Sanctions = (*MemorySanctions)(nil)
