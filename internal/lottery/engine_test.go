package lottery

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/forumkit/lotteryd/internal/domain"
)

var drawNow = time.Date(2026, 8, 15, 20, 0, 0, 0, time.UTC)

type engineEnv struct {
	store  *fakeStore
	audit  *fakeAudit
	topics *fakeTopics
	users  *fakeUsers
	groups *fakeGroups
	forum  *fakeForum
	bus    *fakeBus
}

// newEngineEnv seeds a topic with n eligible repliers (user IDs 20, 21, ...,
// one reply each at positions 2, 3, ...).
func newEngineEnv(n int) *engineEnv {
	base := drawNow.Add(-24 * time.Hour)
	replies := []domain.Reply{{ID: 10, AuthorID: 1, Position: 1, CreatedAt: base}}
	users := map[int64]domain.User{1: {ID: 1, Username: "organizer", Active: true}}
	for i := 0; i < n; i++ {
		id := int64(20 + i)
		replies = append(replies, domain.Reply{
			ID:        int64(100 + i),
			AuthorID:  id,
			Position:  2 + i,
			CreatedAt: base.Add(time.Duration(i+1) * time.Minute),
		})
		users[id] = domain.User{ID: id, Username: "user" + string(rune('a'+i%26)), Active: true}
	}
	return &engineEnv{
		store:  newFakeStore(),
		audit:  &fakeAudit{},
		topics: &fakeTopics{replies: map[int64][]domain.Reply{100: replies}},
		users:  &fakeUsers{users: users},
		groups: &fakeGroups{},
		forum:  newFakeForum(),
		bus:    &fakeBus{},
	}
}

func (e *engineEnv) engine(seed int64) *Engine {
	resolver := NewResolver(e.topics, e.users, e.groups, Config{}, testLogger())
	return NewEngine(e.store, e.audit, e.users, e.forum, e.bus, resolver, nil,
		testLogger(), rand.New(rand.NewSource(seed)), func() time.Time { return drawNow })
}

func (e *engineEnv) runningLottery(mutate func(*domain.Lottery)) domain.Lottery {
	l := domain.Lottery{
		TopicID:         100,
		PostID:          1000,
		CreatorUserID:   1,
		PrizeName:       "定制徽章",
		PrizeDetails:    "限量版",
		DrawTime:        drawNow,
		WinnersCount:    2,
		MinParticipants: 1,
		BackupStrategy:  domain.BackupContinue,
		LotteryType:     domain.TypeRandom,
		Status:          domain.StatusRunning,
		CreatedAt:       drawNow.Add(-24 * time.Hour),
	}
	if mutate != nil {
		mutate(&l)
	}
	return *e.store.put(l)
}

func TestExecuteDrawRandom(t *testing.T) {
	env := newEngineEnv(5)
	l := env.runningLottery(nil)

	out, err := env.engine(1).ExecuteDraw(context.Background(), l)
	if err != nil {
		t.Fatalf("ExecuteDraw: %v", err)
	}
	if !out.Finished || out.Cancelled {
		t.Fatalf("outcome = %+v, want finished", out)
	}
	if len(out.Winners) != 2 {
		t.Fatalf("winners = %d, want 2", len(out.Winners))
	}
	if out.Winners[0].UserID == out.Winners[1].UserID {
		t.Error("duplicate winner selected")
	}

	stored, _ := env.store.GetByID(context.Background(), l.ID)
	if stored.Status != domain.StatusFinished {
		t.Errorf("stored status = %q, want finished", stored.Status)
	}
	if len(stored.WinnerUserIDs) != 2 {
		t.Errorf("stored winners = %v", stored.WinnerUserIDs)
	}

	post := env.forum.lastPost()
	if !strings.Contains(post, "开奖结果") || !strings.Contains(post, "随机抽取") {
		t.Errorf("announcement missing expected sections:\n%s", post)
	}
	for _, w := range out.Winners {
		if len(env.forum.messages[w.UserID]) != 1 {
			t.Errorf("winner %d received %d messages, want 1", w.UserID, len(env.forum.messages[w.UserID]))
		}
	}
	if got := env.forum.tags; len(got) != 1 || got[0] != TagFinished {
		t.Errorf("tags = %v, want [%s]", got, TagFinished)
	}
	if len(env.forum.closed) != 1 {
		t.Errorf("topic close calls = %d, want 1", len(env.forum.closed))
	}
}

func TestExecuteDrawDirectoryLookups(t *testing.T) {
	env := newEngineEnv(5)
	l := env.runningLottery(nil)

	if _, err := env.engine(1).ExecuteDraw(context.Background(), l); err != nil {
		t.Fatalf("ExecuteDraw: %v", err)
	}
	// Eligibility filter, announcement names, creator name for the private
	// messages. Winner recipients are resolved by the forum layer, not here.
	if env.users.batchCalls != 3 {
		t.Errorf("batch user lookups = %d, want 3", env.users.batchCalls)
	}
}

func TestExecuteDrawWinnersCappedByParticipants(t *testing.T) {
	env := newEngineEnv(3)
	l := env.runningLottery(func(l *domain.Lottery) { l.WinnersCount = 10 })

	out, err := env.engine(1).ExecuteDraw(context.Background(), l)
	if err != nil {
		t.Fatalf("ExecuteDraw: %v", err)
	}
	if len(out.Winners) != 3 {
		t.Fatalf("winners = %d, want all 3 participants", len(out.Winners))
	}
}

func TestExecuteDrawInsufficientCancel(t *testing.T) {
	env := newEngineEnv(2)
	l := env.runningLottery(func(l *domain.Lottery) {
		l.MinParticipants = 5
		l.BackupStrategy = domain.BackupCancel
	})

	out, err := env.engine(1).ExecuteDraw(context.Background(), l)
	if err != nil {
		t.Fatalf("ExecuteDraw: %v", err)
	}
	if !out.Cancelled || out.Reason != domain.ReasonInsufficientParticipants {
		t.Fatalf("outcome = %+v, want insufficient_participants cancel", out)
	}

	stored, _ := env.store.GetByID(context.Background(), l.ID)
	if stored.Status != domain.StatusCancelled {
		t.Errorf("stored status = %q, want cancelled", stored.Status)
	}

	post := env.forum.lastPost()
	if !strings.Contains(post, "活动取消") || !strings.Contains(post, "参与人数不足") {
		t.Errorf("cancellation announcement:\n%s", post)
	}
	if !strings.Contains(post, "需要人数：** 5 人") || !strings.Contains(post, "实际人数：** 2 人") {
		t.Errorf("cancellation missing counts:\n%s", post)
	}
	if got := env.forum.tags; len(got) != 1 || got[0] != TagCancelled {
		t.Errorf("tags = %v, want [%s]", got, TagCancelled)
	}
	if len(env.forum.messages) != 0 {
		t.Error("no private messages expected on cancellation")
	}
}

func TestExecuteDrawInsufficientContinue(t *testing.T) {
	env := newEngineEnv(2)
	l := env.runningLottery(func(l *domain.Lottery) {
		l.MinParticipants = 5
		l.BackupStrategy = domain.BackupContinue
	})

	out, err := env.engine(1).ExecuteDraw(context.Background(), l)
	if err != nil {
		t.Fatalf("ExecuteDraw: %v", err)
	}
	if !out.Finished || !out.Insufficient {
		t.Fatalf("outcome = %+v, want finished with insufficient flag", out)
	}

	post := env.forum.lastPost()
	if !strings.Contains(post, "特别说明") || !strings.Contains(post, "少于设定门槛 5 人") {
		t.Errorf("announcement missing threshold note:\n%s", post)
	}
}

func TestExecuteDrawNoParticipants(t *testing.T) {
	env := newEngineEnv(0)
	l := env.runningLottery(nil)

	out, err := env.engine(1).ExecuteDraw(context.Background(), l)
	if err != nil {
		t.Fatalf("ExecuteDraw: %v", err)
	}
	if !out.Cancelled || out.Reason != domain.ReasonNoParticipants {
		t.Fatalf("outcome = %+v, want no_participants cancel", out)
	}
	if !strings.Contains(env.forum.lastPost(), "无人参与") {
		t.Errorf("cancellation announcement:\n%s", env.forum.lastPost())
	}
}

func TestExecuteDrawSpecified(t *testing.T) {
	env := newEngineEnv(5) // positions 2..6
	l := env.runningLottery(func(l *domain.Lottery) {
		l.LotteryType = domain.TypeSpecified
		l.SpecifiedPostNumbers = []int{4, 99, 2} // 99 has no participant
		l.WinnersCount = 3
	})

	out, err := env.engine(1).ExecuteDraw(context.Background(), l)
	if err != nil {
		t.Fatalf("ExecuteDraw: %v", err)
	}
	if !out.Finished {
		t.Fatalf("outcome = %+v, want finished", out)
	}
	if len(out.Winners) != 2 {
		t.Fatalf("winners = %v, want 2 (invalid position skipped)", out.Winners)
	}
	// Declared order preserved: position 4 then position 2.
	if out.Winners[0].ReplyPosition != 4 || out.Winners[1].ReplyPosition != 2 {
		t.Errorf("winner order = %v, want positions [4 2]", out.Winners)
	}

	stored, _ := env.store.GetByID(context.Background(), l.ID)
	if len(stored.SpecifiedPostNumbers) != 2 || stored.SpecifiedPostNumbers[0] != 4 || stored.SpecifiedPostNumbers[1] != 2 {
		t.Errorf("stored positions = %v, want valid subset [4 2]", stored.SpecifiedPostNumbers)
	}

	post := env.forum.lastPost()
	if !strings.Contains(post, "指定楼层") || !strings.Contains(post, "4楼：@") || !strings.Contains(post, "2楼：@") {
		t.Errorf("specified announcement:\n%s", post)
	}
	if strings.Contains(post, "99楼") {
		t.Errorf("invalid position leaked into announcement:\n%s", post)
	}
}

func TestExecuteDrawAllSpecifiedInvalid(t *testing.T) {
	env := newEngineEnv(3)
	l := env.runningLottery(func(l *domain.Lottery) {
		l.LotteryType = domain.TypeSpecified
		l.SpecifiedPostNumbers = []int{50, 60}
		l.WinnersCount = 2
	})

	out, err := env.engine(1).ExecuteDraw(context.Background(), l)
	if err != nil {
		t.Fatalf("ExecuteDraw: %v", err)
	}
	if !out.Cancelled || out.Reason != domain.ReasonAllSpecifiedInvalid {
		t.Fatalf("outcome = %+v, want all_specified_invalid cancel", out)
	}
}

func TestExecuteDrawAlreadySettled(t *testing.T) {
	env := newEngineEnv(3)
	l := env.runningLottery(func(l *domain.Lottery) { l.Status = domain.StatusFinished })

	out, err := env.engine(1).ExecuteDraw(context.Background(), l)
	if err != nil {
		t.Fatalf("ExecuteDraw: %v", err)
	}
	if out.Finished || out.Cancelled {
		t.Fatalf("outcome = %+v, want no-op", out)
	}
	if len(env.forum.posts) != 0 {
		t.Error("no announcement expected for settled lottery")
	}
}

func TestExecuteDrawLosesFinalizationRace(t *testing.T) {
	// Store says running, but FinishDraw reports it was settled concurrently.
	env := newEngineEnv(3)
	l := env.runningLottery(nil)
	env.store.mu.Lock()
	env.store.lotteries[l.ID].Status = domain.StatusFinished
	env.store.mu.Unlock()

	out, err := env.engine(1).ExecuteDraw(context.Background(), l)
	if err != nil {
		t.Fatalf("ExecuteDraw: %v", err)
	}
	if out.Finished || out.Cancelled {
		t.Fatalf("outcome = %+v, want no-op after losing race", out)
	}
	if len(env.forum.posts) != 0 {
		t.Error("no announcement expected after losing the finalization race")
	}
}

func TestExecuteDrawStoreFailureForcesCancel(t *testing.T) {
	env := newEngineEnv(3)
	l := env.runningLottery(nil)
	env.store.finishErr = errors.New("connection reset")

	out, err := env.engine(1).ExecuteDraw(context.Background(), l)
	if err == nil {
		t.Fatal("expected error from failed finalization")
	}
	if !out.Cancelled || out.Reason != domain.ReasonExecutionError {
		t.Fatalf("outcome = %+v, want execution_error cancel", out)
	}

	stored, _ := env.store.GetByID(context.Background(), l.ID)
	if stored.Status != domain.StatusCancelled {
		t.Errorf("stored status = %q, want cancelled", stored.Status)
	}
	if !strings.Contains(env.forum.lastPost(), "开奖失败") {
		t.Errorf("failure notice:\n%s", env.forum.lastPost())
	}
}

func TestExecuteDrawWinnerMessageFailureIsNotFatal(t *testing.T) {
	env := newEngineEnv(2)
	l := env.runningLottery(func(l *domain.Lottery) { l.WinnersCount = 2 })
	env.forum.pmErr[20] = errors.New("inbox disabled")

	out, err := env.engine(1).ExecuteDraw(context.Background(), l)
	if err != nil {
		t.Fatalf("ExecuteDraw: %v", err)
	}
	if !out.Finished {
		t.Fatalf("outcome = %+v, want finished despite message failure", out)
	}
	if len(env.forum.messages[21]) != 1 {
		t.Error("remaining winner did not receive a message")
	}
}

func TestPickRandomUniform(t *testing.T) {
	// With 10 participants and 1 winner over many seeded draws, every
	// participant should win a reasonable share. Guards against take-first-N
	// selection, which would give one participant everything.
	env := newEngineEnv(10)
	resolver := NewResolver(env.topics, env.users, env.groups, Config{}, testLogger())
	participants, _ := resolver.Eligible(context.Background(), &domain.Lottery{TopicID: 100, CreatorUserID: 1})
	if len(participants) != 10 {
		t.Fatalf("participants = %d, want 10", len(participants))
	}

	e := env.engine(42)
	const rounds = 10000
	counts := map[int64]int{}
	for i := 0; i < rounds; i++ {
		w := e.pickRandom(1, participants)
		counts[w[0].UserID]++
	}

	for id, c := range counts {
		if c < rounds/20 || c > rounds/5 {
			t.Errorf("user %d won %d of %d draws, outside plausible uniform range", id, c, rounds)
		}
	}
	if len(counts) != 10 {
		t.Errorf("only %d distinct winners over %d draws", len(counts), rounds)
	}
}
