package lottery

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/forumkit/lotteryd/internal/domain"
	"github.com/forumkit/lotteryd/internal/notify"
)

// Engine executes draws: it resolves participants, applies the participation
// threshold and backup strategy, selects winners, finalizes the lottery
// state, and emits announcements and notifications.
type Engine struct {
	store    domain.LotteryStore
	audit    domain.AuditStore
	users    domain.UserDirectory
	forum    domain.Forum
	bus      domain.SignalBus
	resolver *Resolver
	notifier *notify.Notifier
	logger   *slog.Logger
	now      func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewEngine wires an Engine. rng and now are injectable for tests; pass nil
// for a time-seeded source and time.Now.
func NewEngine(
	store domain.LotteryStore,
	audit domain.AuditStore,
	users domain.UserDirectory,
	forum domain.Forum,
	bus domain.SignalBus,
	resolver *Resolver,
	notifier *notify.Notifier,
	logger *slog.Logger,
	rng *rand.Rand,
	now func() time.Time,
) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:    store,
		audit:    audit,
		users:    users,
		forum:    forum,
		bus:      bus,
		resolver: resolver,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "draw_engine")),
		now:      now,
		rng:      rng,
	}
}

// ExecuteDraw runs one draw attempt for l. It is idempotent: when the lottery
// is no longer running (duplicate task delivery, concurrent worker) it
// returns a zero outcome and no error. Any execution failure force-cancels
// the lottery and posts a generic failure announcement; a draw is never left
// running after its task fired.
func (e *Engine) ExecuteDraw(ctx context.Context, l domain.Lottery) (domain.DrawOutcome, error) {
	if !l.Running() {
		e.logger.InfoContext(ctx, "draw skipped: lottery no longer running",
			slog.Int64("lottery_id", l.ID),
			slog.String("status", string(l.Status)),
		)
		return domain.DrawOutcome{LotteryID: l.ID}, nil
	}

	outcome, err := e.draw(ctx, &l)
	if err != nil {
		e.failDraw(ctx, &l, err)
		return domain.DrawOutcome{
			LotteryID: l.ID,
			Cancelled: true,
			Reason:    domain.ReasonExecutionError,
		}, err
	}
	return outcome, nil
}

// draw decides and applies the outcome. Errors returned from here take the
// execution-failure path in ExecuteDraw.
func (e *Engine) draw(ctx context.Context, l *domain.Lottery) (domain.DrawOutcome, error) {
	participants, degraded := e.resolver.Eligible(ctx, l)
	eligible := len(participants)

	e.logger.InfoContext(ctx, "draw started",
		slog.Int64("lottery_id", l.ID),
		slog.String("type", string(l.LotteryType)),
		slog.Int("eligible", eligible),
		slog.Int("required", l.MinParticipants),
		slog.Bool("degraded_resolution", degraded),
	)

	insufficient := eligible < l.MinParticipants
	if insufficient && l.BackupStrategy == domain.BackupCancel {
		return e.cancel(ctx, l, domain.ReasonInsufficientParticipants, eligible)
	}

	var winners []domain.Participant
	var validPositions []int
	switch l.LotteryType {
	case domain.TypeSpecified:
		winners, validPositions = pickSpecified(l.SpecifiedPostNumbers, participants)
		if len(winners) == 0 {
			return e.cancel(ctx, l, domain.ReasonAllSpecifiedInvalid, eligible)
		}
	default:
		if eligible == 0 {
			return e.cancel(ctx, l, domain.ReasonNoParticipants, eligible)
		}
		winners = e.pickRandom(l.WinnersCount, participants)
	}

	winnerIDs := make([]int64, len(winners))
	for i, w := range winners {
		winnerIDs[i] = w.UserID
	}

	ok, err := e.store.FinishDraw(ctx, l.ID, winnerIDs, validPositions)
	if err != nil {
		return domain.DrawOutcome{}, fmt.Errorf("lottery: finish draw %d: %w", l.ID, err)
	}
	if !ok {
		// Lost the race to another delivery; nothing more to do.
		e.logger.InfoContext(ctx, "draw already finalized elsewhere", slog.Int64("lottery_id", l.ID))
		return domain.DrawOutcome{LotteryID: l.ID}, nil
	}

	l.Status = domain.StatusFinished
	l.WinnerUserIDs = winnerIDs
	if len(validPositions) > 0 {
		l.SpecifiedPostNumbers = validPositions
	}

	outcome := domain.DrawOutcome{
		LotteryID:    l.ID,
		Finished:     true,
		Winners:      winners,
		Insufficient: insufficient,
		EligibleAt:   eligible,
	}

	e.announceWinners(ctx, l, winners, outcome)
	e.notifyWinners(ctx, l, winners)
	e.updateTag(ctx, l, TagFinished)
	e.closeTopic(ctx, l)
	publishEvent(ctx, e.bus, e.logger, EventCompleted, l)
	e.auditLog(ctx, l.ID, "draw_finished", map[string]any{
		"winners":      winnerIDs,
		"eligible":     eligible,
		"insufficient": insufficient,
	})

	e.logger.InfoContext(ctx, "draw finished",
		slog.Int64("lottery_id", l.ID),
		slog.Int("winners", len(winners)),
		slog.Bool("insufficient", insufficient),
	)
	if e.notifier != nil {
		_ = e.notifier.Notify(ctx, notify.EventDrawFinished,
			"Lottery draw finished",
			fmt.Sprintf("lottery %d (topic %d): %d winners from %d eligible", l.ID, l.TopicID, len(winners), eligible),
		)
	}
	return outcome, nil
}

// pickRandom selects min(want, len(participants)) distinct participants
// uniformly at random. Selection goes through a permutation so list order
// never biases the result.
func (e *Engine) pickRandom(want int, participants []domain.Participant) []domain.Participant {
	n := len(participants)
	if want > n {
		want = n
	}

	e.mu.Lock()
	perm := e.rng.Perm(n)
	e.mu.Unlock()

	out := make([]domain.Participant, want)
	for i := 0; i < want; i++ {
		out[i] = participants[perm[i]]
	}
	return out
}

// pickSpecified resolves declared reply positions against the eligible set,
// in declared order. Positions with no matching participant are silently
// dropped; the surviving subset is returned alongside the winners.
func pickSpecified(positions []int, participants []domain.Participant) ([]domain.Participant, []int) {
	byPosition := make(map[int]domain.Participant, len(participants))
	for _, p := range participants {
		byPosition[p.ReplyPosition] = p
	}

	var winners []domain.Participant
	var valid []int
	for _, pos := range positions {
		p, ok := byPosition[pos]
		if !ok {
			continue
		}
		winners = append(winners, p)
		valid = append(valid, pos)
	}
	return winners, valid
}

// cancel applies a non-error cancellation outcome (threshold unmet, no
// participants, all specified positions invalid).
func (e *Engine) cancel(ctx context.Context, l *domain.Lottery, reason domain.CancelReason, eligible int) (domain.DrawOutcome, error) {
	ok, err := e.store.Cancel(ctx, l.ID, reason)
	if err != nil {
		return domain.DrawOutcome{}, fmt.Errorf("lottery: cancel %d: %w", l.ID, err)
	}
	if !ok {
		e.logger.InfoContext(ctx, "cancel skipped: lottery already finalized", slog.Int64("lottery_id", l.ID))
		return domain.DrawOutcome{LotteryID: l.ID}, nil
	}
	l.Status = domain.StatusCancelled

	e.postToTopic(ctx, l, FormatCancellation(l, reason, eligible, e.now()))
	e.updateTag(ctx, l, TagCancelled)
	publishEvent(ctx, e.bus, e.logger, EventCancelled, l)
	e.auditLog(ctx, l.ID, "draw_cancelled", map[string]any{
		"reason":   string(reason),
		"eligible": eligible,
	})

	e.logger.InfoContext(ctx, "lottery cancelled at draw time",
		slog.Int64("lottery_id", l.ID),
		slog.String("reason", string(reason)),
		slog.Int("eligible", eligible),
	)
	if e.notifier != nil {
		_ = e.notifier.Notify(ctx, notify.EventLotteryCancelled,
			"Lottery cancelled",
			fmt.Sprintf("lottery %d (topic %d): %s, %d eligible", l.ID, l.TopicID, reason, eligible),
		)
	}
	return domain.DrawOutcome{
		LotteryID:  l.ID,
		Cancelled:  true,
		Reason:     reason,
		EligibleAt: eligible,
	}, nil
}

// failDraw is the terminal failure path: force the lottery out of running and
// tell the topic something went wrong. Every step is best-effort; the status
// guard makes a duplicate no-op.
func (e *Engine) failDraw(ctx context.Context, l *domain.Lottery, cause error) {
	e.logger.ErrorContext(ctx, "draw execution failed, force-cancelling",
		slog.Int64("lottery_id", l.ID),
		slog.String("error", cause.Error()),
	)

	ok, err := e.store.Cancel(ctx, l.ID, domain.ReasonExecutionError)
	if err != nil {
		e.logger.ErrorContext(ctx, "force-cancel failed",
			slog.Int64("lottery_id", l.ID),
			slog.String("error", err.Error()),
		)
	}
	if ok {
		l.Status = domain.StatusCancelled
		e.postToTopic(ctx, l, FormatDrawFailure())
		publishEvent(ctx, e.bus, e.logger, EventCancelled, l)
	}

	e.auditLog(ctx, l.ID, "draw_failed", map[string]any{"error": cause.Error()})
	if e.notifier != nil {
		_ = e.notifier.Notify(ctx, notify.EventDrawFailed,
			"Lottery draw failed",
			fmt.Sprintf("lottery %d (topic %d): %v", l.ID, l.TopicID, cause),
		)
	}
}

// usernames resolves display names for announcement bodies. Directory
// failures fall back to numeric placeholders so a lookup error never blocks
// the announcement.
func (e *Engine) usernames(ctx context.Context, ids []int64) map[int64]string {
	out := make(map[int64]string, len(ids))
	users, err := e.users.GetUsers(ctx, ids)
	if err != nil {
		e.logger.WarnContext(ctx, "username lookup failed for announcement",
			slog.String("error", err.Error()),
		)
		users = nil
	}
	for _, id := range ids {
		if u, ok := users[id]; ok && u.Username != "" {
			out[id] = u.Username
		} else {
			out[id] = fmt.Sprintf("用户%d", id)
		}
	}
	return out
}

func (e *Engine) announceWinners(ctx context.Context, l *domain.Lottery, winners []domain.Participant, outcome domain.DrawOutcome) {
	ids := make([]int64, len(winners))
	for i, w := range winners {
		ids[i] = w.UserID
	}
	body := FormatWinners(l, winners, e.usernames(ctx, ids), outcome.EligibleAt, outcome.Insufficient)
	e.postToTopic(ctx, l, body)
}

// notifyWinners sends one private message per winner. Individual send
// failures are logged and never abort the remaining notifications. Recipient
// usernames are resolved inside SendPrivateMessage; only the creator needs a
// lookup here.
func (e *Engine) notifyWinners(ctx context.Context, l *domain.Lottery, winners []domain.Participant) {
	creatorName := e.usernames(ctx, []int64{l.CreatorUserID})[l.CreatorUserID]
	for _, w := range winners {
		title, body := FormatWinnerMessage(l, creatorName)
		if err := e.forum.SendPrivateMessage(ctx, w.UserID, title, body); err != nil {
			e.logger.WarnContext(ctx, "winner notification failed",
				slog.Int64("lottery_id", l.ID),
				slog.Int64("user_id", w.UserID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (e *Engine) postToTopic(ctx context.Context, l *domain.Lottery, raw string) {
	if err := e.forum.PostToTopic(ctx, l.TopicID, raw); err != nil {
		e.logger.WarnContext(ctx, "announcement post failed",
			slog.Int64("lottery_id", l.ID),
			slog.Int64("topic_id", l.TopicID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) updateTag(ctx context.Context, l *domain.Lottery, tag string) {
	if err := e.forum.ReplaceTag(ctx, l.TopicID, tag); err != nil {
		e.logger.WarnContext(ctx, "tag update failed",
			slog.Int64("topic_id", l.TopicID),
			slog.String("tag", tag),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) closeTopic(ctx context.Context, l *domain.Lottery) {
	if err := e.forum.CloseTopic(ctx, l.TopicID); err != nil {
		e.logger.WarnContext(ctx, "topic close failed",
			slog.Int64("topic_id", l.TopicID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) auditLog(ctx context.Context, lotteryID int64, event string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, lotteryID, event, detail); err != nil {
		e.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
