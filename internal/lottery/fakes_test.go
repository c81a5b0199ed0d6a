package lottery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/forumkit/lotteryd/internal/domain"
)

// In-memory fakes for the store and host interfaces. They implement just
// enough behavior for the creator, resolver, and engine tests.

type fakeStore struct {
	mu        sync.Mutex
	nextID    int64
	lotteries map[int64]*domain.Lottery

	createErr error
	finishErr error
	cancelErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{nextID: 1, lotteries: map[int64]*domain.Lottery{}}
}

func (s *fakeStore) put(l domain.Lottery) *domain.Lottery {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == 0 {
		l.ID = s.nextID
		s.nextID++
	}
	cp := l
	s.lotteries[cp.ID] = &cp
	return s.lotteries[cp.ID]
}

func (s *fakeStore) Create(ctx context.Context, l *domain.Lottery) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.lotteries {
		if existing.TopicID == l.TopicID && existing.Status == domain.StatusRunning {
			return domain.ErrLotteryExists
		}
	}
	l.ID = s.nextID
	s.nextID++
	cp := *l
	s.lotteries[cp.ID] = &cp
	return nil
}

func (s *fakeStore) GetByID(ctx context.Context, id int64) (domain.Lottery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lotteries[id]
	if !ok {
		return domain.Lottery{}, domain.ErrNotFound
	}
	return *l, nil
}

func (s *fakeStore) GetByTopic(ctx context.Context, topicID int64) (domain.Lottery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.lotteries {
		if l.TopicID == topicID {
			return *l, nil
		}
	}
	return domain.Lottery{}, domain.ErrNotFound
}

func (s *fakeStore) RunningByTopic(ctx context.Context, topicID int64) (domain.Lottery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.lotteries {
		if l.TopicID == topicID && l.Status == domain.StatusRunning {
			return *l, nil
		}
	}
	return domain.Lottery{}, domain.ErrNotFound
}

func (s *fakeStore) UpdateParams(ctx context.Context, id int64, p domain.LotteryParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lotteries[id]
	if !ok {
		return domain.ErrNotFound
	}
	l.ApplyParams(p)
	return nil
}

func (s *fakeStore) ListDueDraws(ctx context.Context, now time.Time, limit int) ([]domain.Lottery, error) {
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

func (s *fakeStore) ListDueLocks(ctx context.Context, now time.Time, lockDelay time.Duration, limit int) ([]domain.Lottery, error) {
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

func (s *fakeStore) FinishDraw(ctx context.Context, id int64, winnerIDs []int64, validPositions []int) (bool, error) {
	if s.finishErr != nil {
		return false, s.finishErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lotteries[id]
	if !ok || l.Status != domain.StatusRunning {
		return false, nil
	}
	l.Status = domain.StatusFinished
	l.WinnerUserIDs = winnerIDs
	if len(validPositions) > 0 {
		l.SpecifiedPostNumbers = validPositions
	}
	return true, nil
}

func (s *fakeStore) Cancel(ctx context.Context, id int64, reason domain.CancelReason) (bool, error) {
	if s.cancelErr != nil {
		return false, s.cancelErr
	}
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

func (s *fakeStore) MarkPostLocked(ctx context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lotteries[id]
	if !ok {
		return domain.ErrNotFound
	}
	l.PostLockedAt = &at
	return nil
}

func (s *fakeStore) ListSettledBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Lottery, error) {
	return nil, nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (a *fakeAudit) Log(ctx context.Context, lotteryID int64, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, domain.AuditEntry{LotteryID: lotteryID, Event: event, Detail: detail})
	return nil
}

func (a *fakeAudit) ListByLottery(ctx context.Context, lotteryID int64) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (a *fakeAudit) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (a *fakeAudit) events() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.Event
	}
	return out
}

type fakeTopics struct {
	topics     map[int64]domain.Topic
	replies    map[int64][]domain.Reply
	repliesErr error
}

func (t *fakeTopics) GetTopic(ctx context.Context, topicID int64) (domain.Topic, error) {
	top, ok := t.topics[topicID]
	if !ok {
		return domain.Topic{}, domain.ErrNotFound
	}
	return top, nil
}

func (t *fakeTopics) Replies(ctx context.Context, topicID int64) ([]domain.Reply, error) {
	if t.repliesErr != nil {
		return nil, t.repliesErr
	}
	return t.replies[topicID], nil
}

type fakeUsers struct {
	users      map[int64]domain.User
	listErr    error
	batchCalls int
}

func (u *fakeUsers) GetUser(ctx context.Context, id int64) (domain.User, error) {
	usr, ok := u.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return usr, nil
}

func (u *fakeUsers) GetUsers(ctx context.Context, ids []int64) (map[int64]domain.User, error) {
	u.batchCalls++
	if u.listErr != nil {
		return nil, u.listErr
	}
	out := make(map[int64]domain.User, len(ids))
	for _, id := range ids {
		if usr, ok := u.users[id]; ok {
			out[id] = usr
		}
	}
	return out, nil
}

type fakeGroups struct {
	members map[int64]bool
	err     error
}

func (g *fakeGroups) MembersOf(ctx context.Context, groupIDs []int64) (map[int64]bool, error) {
	if g.err != nil {
		return nil, g.err
	}
	return g.members, nil
}

type fakeForum struct {
	mu       sync.Mutex
	posts    []string
	messages map[int64][]string
	tags     []string
	locked   []int64
	closed   []int64

	postErr error
	pmErr   map[int64]error
}

func newFakeForum() *fakeForum {
	return &fakeForum{messages: map[int64][]string{}, pmErr: map[int64]error{}}
}

func (f *fakeForum) PostToTopic(ctx context.Context, topicID int64, raw string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return f.postErr
	}
	f.posts = append(f.posts, raw)
	return nil
}

func (f *fakeForum) SendPrivateMessage(ctx context.Context, userID int64, title, raw string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.pmErr[userID]; err != nil {
		return err
	}
	f.messages[userID] = append(f.messages[userID], title+"\n"+raw)
	return nil
}

func (f *fakeForum) ReplaceTag(ctx context.Context, topicID int64, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags = append(f.tags, tag)
	return nil
}

func (f *fakeForum) LockPost(ctx context.Context, postID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locked = append(f.locked, postID)
	return nil
}

func (f *fakeForum) CloseTopic(ctx context.Context, topicID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, topicID)
	return nil
}

func (f *fakeForum) lastPost() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.posts) == 0 {
		return ""
	}
	return f.posts[len(f.posts)-1]
}

type fakeBus struct {
	mu        sync.Mutex
	published []string
}

func (b *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, channel+" "+string(payload))
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return nil, errors.New("not implemented")
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
