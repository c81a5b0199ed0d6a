package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/forumkit/lotteryd/internal/domain"
	"github.com/forumkit/lotteryd/internal/lottery"
)

var schedNow = time.Date(2026, 8, 15, 20, 0, 0, 0, time.UTC)

type memStore struct {
	mu        sync.Mutex
	lotteries map[int64]*domain.Lottery
}

func newMemStore(ls ...domain.Lottery) *memStore {
	s := &memStore{lotteries: map[int64]*domain.Lottery{}}
	for _, l := range ls {
		cp := l
		s.lotteries[cp.ID] = &cp
	}
	return s
}

func (s *memStore) Create(ctx context.Context, l *domain.Lottery) error { return nil }

func (s *memStore) GetByID(ctx context.Context, id int64) (domain.Lottery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lotteries[id]
	if !ok {
		return domain.Lottery{}, domain.ErrNotFound
	}
	return *l, nil
}

func (s *memStore) GetByTopic(ctx context.Context, topicID int64) (domain.Lottery, error) {
	return domain.Lottery{}, domain.ErrNotFound
}

func (s *memStore) RunningByTopic(ctx context.Context, topicID int64) (domain.Lottery, error) {
	return domain.Lottery{}, domain.ErrNotFound
}

func (s *memStore) UpdateParams(ctx context.Context, id int64, p domain.LotteryParams) error {
	return nil
}

func (s *memStore) ListDueDraws(ctx context.Context, now time.Time, limit int) ([]domain.Lottery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Lottery
	for _, l := range s.lotteries {
		if l.Status == domain.StatusRunning && !l.DrawTime.After(now) {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (s *memStore) ListDueLocks(ctx context.Context, now time.Time, lockDelay time.Duration, limit int) ([]domain.Lottery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Lottery
	for _, l := range s.lotteries {
		if l.PostLockedAt == nil && !now.Before(l.CreatedAt.Add(lockDelay)) {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (s *memStore) FinishDraw(ctx context.Context, id int64, winnerIDs []int64, validPositions []int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lotteries[id]
	if !ok || l.Status != domain.StatusRunning {
		return false, nil
	}
	l.Status = domain.StatusFinished
	l.WinnerUserIDs = winnerIDs
	return true, nil
}

func (s *memStore) Cancel(ctx context.Context, id int64, reason domain.CancelReason) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lotteries[id]
	if !ok || l.Status != domain.StatusRunning {
		return false, nil
	}
	l.Status = domain.StatusCancelled
	l.CancelReason = reason
	return true, nil
}

func (s *memStore) MarkPostLocked(ctx context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lotteries[id]
	if !ok {
		return domain.ErrNotFound
	}
	l.PostLockedAt = &at
	return nil
}

func (s *memStore) ListSettledBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Lottery, error) {
	return nil, nil
}

type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
	// denied counts Acquire calls rejected because the lock was pre-held.
	denied int
}

func newMemLocks() *memLocks { return &memLocks{held: map[string]bool{}} }

func (m *memLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] {
		m.denied++
		return nil, domain.ErrLockHeld
	}
	m.held[key] = true
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.held, key)
	}, nil
}

type memForum struct {
	mu      sync.Mutex
	posts   []string
	locked  []int64
	lockErr error
}

func (f *memForum) PostToTopic(ctx context.Context, topicID int64, raw string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, raw)
	return nil
}

func (f *memForum) SendPrivateMessage(ctx context.Context, userID int64, title, raw string) error {
	return nil
}

func (f *memForum) ReplaceTag(ctx context.Context, topicID int64, tag string) error { return nil }

func (f *memForum) LockPost(ctx context.Context, postID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lockErr != nil {
		return f.lockErr
	}
	f.locked = append(f.locked, postID)
	return nil
}

func (f *memForum) CloseTopic(ctx context.Context, topicID int64) error { return nil }

type memTopics struct {
	replies map[int64][]domain.Reply
}

func (t *memTopics) GetTopic(ctx context.Context, topicID int64) (domain.Topic, error) {
	return domain.Topic{ID: topicID}, nil
}

func (t *memTopics) Replies(ctx context.Context, topicID int64) ([]domain.Reply, error) {
	return t.replies[topicID], nil
}

type memUsers struct{}

func (memUsers) GetUser(ctx context.Context, id int64) (domain.User, error) {
	return domain.User{ID: id, Username: "u", Active: true}, nil
}

func (memUsers) GetUsers(ctx context.Context, ids []int64) (map[int64]domain.User, error) {
	out := make(map[int64]domain.User, len(ids))
	for _, id := range ids {
		out[id] = domain.User{ID: id, Username: "u", Active: true}
	}
	return out, nil
}

type memGroups struct{}

func (memGroups) MembersOf(ctx context.Context, groupIDs []int64) (map[int64]bool, error) {
	return map[int64]bool{}, nil
}

func testScheduler(store *memStore, locks *memLocks, forum *memForum, topics *memTopics) *Scheduler {
	logger := slog.New(slog.DiscardHandler)
	resolver := lottery.NewResolver(topics, memUsers{}, memGroups{}, lottery.Config{}, logger)
	engine := lottery.NewEngine(store, nil, memUsers{}, forum, nil, resolver, nil,
		logger, rand.New(rand.NewSource(1)), func() time.Time { return schedNow })
	return New(store, locks, engine, forum, nil, nil, Options{
		LockDelay: 30 * time.Minute,
	}, logger, func() time.Time { return schedNow })
}

func dueLottery(id int64) domain.Lottery {
	return domain.Lottery{
		ID:              id,
		TopicID:         100 + id,
		PostID:          1000 + id,
		CreatorUserID:   1,
		PrizeName:       "徽章",
		DrawTime:        schedNow.Add(-time.Minute),
		WinnersCount:    1,
		MinParticipants: 1,
		BackupStrategy:  domain.BackupContinue,
		LotteryType:     domain.TypeRandom,
		Status:          domain.StatusRunning,
		CreatedAt:       schedNow.Add(-2 * time.Hour),
	}
}

func topicWithReplies(topicID int64, authors ...int64) *memTopics {
	base := schedNow.Add(-time.Hour)
	var replies []domain.Reply
	for i, a := range authors {
		replies = append(replies, domain.Reply{
			ID: int64(i + 10), AuthorID: a, Position: i + 2, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return &memTopics{replies: map[int64][]domain.Reply{topicID: replies}}
}

func TestRunDueDraws(t *testing.T) {
	store := newMemStore(dueLottery(1))
	locks := newMemLocks()
	forum := &memForum{}

	s := testScheduler(store, locks, forum, topicWithReplies(101, 20, 21))
	if err := s.runDueDraws(context.Background()); err != nil {
		t.Fatalf("runDueDraws: %v", err)
	}

	l, _ := store.GetByID(context.Background(), 1)
	if l.Status != domain.StatusFinished {
		t.Errorf("status = %q, want finished", l.Status)
	}
	if len(locks.held) != 0 {
		t.Error("draw lock was not released")
	}
}

func TestRunDueDrawsSkipsHeldLock(t *testing.T) {
	store := newMemStore(dueLottery(1))
	locks := newMemLocks()
	locks.held[drawLockKey(1)] = true
	forum := &memForum{}

	s := testScheduler(store, locks, forum, topicWithReplies(101, 20))
	if err := s.runDueDraws(context.Background()); err != nil {
		t.Fatalf("runDueDraws: %v", err)
	}

	l, _ := store.GetByID(context.Background(), 1)
	if l.Status != domain.StatusRunning {
		t.Errorf("status = %q, want still running while lock held elsewhere", l.Status)
	}
	if locks.denied != 1 {
		t.Errorf("denied = %d, want 1", locks.denied)
	}
}

func TestRunDueDrawsRereadsUnderLock(t *testing.T) {
	// The listing returns a stale running row; the fresh read shows it
	// settled. No second announcement may go out.
	l := dueLottery(1)
	l.Status = domain.StatusFinished
	store := newMemStore(l)
	forum := &memForum{}

	s := testScheduler(store, newMemLocks(), forum, topicWithReplies(101, 20))

	stale := l
	stale.Status = domain.StatusRunning
	s.executeDraw(context.Background(), stale)

	if len(forum.posts) != 0 {
		t.Errorf("posts = %v, want none for settled lottery", forum.posts)
	}
}

func TestRunDueLocks(t *testing.T) {
	l := dueLottery(1)
	store := newMemStore(l)
	forum := &memForum{}

	s := testScheduler(store, newMemLocks(), forum, topicWithReplies(101))
	if err := s.runDueLocks(context.Background()); err != nil {
		t.Fatalf("runDueLocks: %v", err)
	}

	if len(forum.locked) != 1 || forum.locked[0] != l.PostID {
		t.Fatalf("locked posts = %v, want [%d]", forum.locked, l.PostID)
	}
	if len(forum.posts) != 1 || !strings.Contains(forum.posts[0], "已锁定") {
		t.Errorf("lock notice = %v", forum.posts)
	}

	got, _ := store.GetByID(context.Background(), 1)
	if got.PostLockedAt == nil {
		t.Fatal("PostLockedAt not recorded")
	}

	// A second pass finds nothing due.
	if err := s.runDueLocks(context.Background()); err != nil {
		t.Fatalf("second runDueLocks: %v", err)
	}
	if len(forum.locked) != 1 {
		t.Errorf("lock ran twice: %v", forum.locked)
	}
}

func TestRunDueLocksRetriesOnHostFailure(t *testing.T) {
	store := newMemStore(dueLottery(1))
	forum := &memForum{lockErr: errors.New("host unreachable")}

	s := testScheduler(store, newMemLocks(), forum, topicWithReplies(101))
	if err := s.runDueLocks(context.Background()); err != nil {
		t.Fatalf("runDueLocks: %v", err)
	}

	got, _ := store.GetByID(context.Background(), 1)
	if got.PostLockedAt != nil {
		t.Fatal("PostLockedAt recorded despite host failure")
	}

	// Host recovers; the next poll locks the post.
	forum.lockErr = nil
	if err := s.runDueLocks(context.Background()); err != nil {
		t.Fatalf("runDueLocks retry: %v", err)
	}
	got, _ = store.GetByID(context.Background(), 1)
	if got.PostLockedAt == nil {
		t.Fatal("PostLockedAt not recorded after retry")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	store := newMemStore()
	s := testScheduler(store, newMemLocks(), &memForum{}, &memTopics{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
