package lottery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/forumkit/lotteryd/internal/domain"
	"github.com/forumkit/lotteryd/internal/parser"
	"github.com/forumkit/lotteryd/internal/validate"
)

// ErrNoLotteryData is returned when a post contains no lottery block or a
// block with no recognizable fields. Not a failure: there is nothing to do.
var ErrNoLotteryData = errors.New("no lottery data in post")

// Creator handles lottery creation from post content and edits inside the
// regret period.
type Creator struct {
	store     domain.LotteryStore
	audit     domain.AuditStore
	topics    domain.TopicReader
	users     domain.UserDirectory
	forum     domain.Forum
	bus       domain.SignalBus
	validator *validate.Validator
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewCreator wires a Creator. now is injectable for tests; pass nil for
// time.Now.
func NewCreator(
	store domain.LotteryStore,
	audit domain.AuditStore,
	topics domain.TopicReader,
	users domain.UserDirectory,
	forum domain.Forum,
	bus domain.SignalBus,
	validator *validate.Validator,
	cfg Config,
	logger *slog.Logger,
	now func() time.Time,
) *Creator {
	if now == nil {
		now = time.Now
	}
	return &Creator{
		store:     store,
		audit:     audit,
		topics:    topics,
		users:     users,
		forum:     forum,
		bus:       bus,
		validator: validator,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "lottery_creator")),
		now:       now,
	}
}

// Create parses raw first-post content, validates it, runs the prerequisite
// checks, and persists a new running lottery. It returns ErrNoLotteryData
// when the post has no block, a *domain.ValidationError or
// *domain.PrerequisiteError on rejection, and the persisted lottery on
// success. Tag and event emission are best-effort.
func (c *Creator) Create(ctx context.Context, topicID, postID, creatorID int64, raw string) (domain.Lottery, error) {
	intent, ok := parser.ParseRaw(raw)
	if !ok {
		return domain.Lottery{}, ErrNoLotteryData
	}

	params, err := c.validator.Params(intent)
	if err != nil {
		return domain.Lottery{}, err
	}

	topic, err := c.checkPrerequisites(ctx, topicID, creatorID)
	if err != nil {
		return domain.Lottery{}, err
	}
	if postID == 0 {
		postID = topic.FirstPostID
	}

	l := domain.Lottery{
		TopicID:       topicID,
		PostID:        postID,
		CreatorUserID: creatorID,
		Status:        domain.StatusRunning,
		CreatedAt:     c.now(),
	}
	l.ApplyParams(params)

	if err := c.store.Create(ctx, &l); err != nil {
		if errors.Is(err, domain.ErrLotteryExists) {
			return domain.Lottery{}, &domain.PrerequisiteError{
				Code:   domain.PrereqDuplicateLottery,
				Detail: fmt.Sprintf("topic %d already has a running lottery", topicID),
			}
		}
		return domain.Lottery{}, fmt.Errorf("lottery: create: %w", err)
	}

	c.logger.InfoContext(ctx, "lottery created",
		slog.Int64("lottery_id", l.ID),
		slog.Int64("topic_id", topicID),
		slog.String("type", string(l.LotteryType)),
		slog.Time("draw_time", l.DrawTime),
	)

	// Tag change is a best-effort host call; a failure must not undo the
	// created lottery.
	if err := c.forum.ReplaceTag(ctx, topicID, TagRunning); err != nil {
		c.logger.WarnContext(ctx, "tag update failed",
			slog.Int64("topic_id", topicID),
			slog.String("error", err.Error()),
		)
	}

	c.auditLog(ctx, l.ID, "lottery_created", map[string]any{
		"topic_id":     topicID,
		"lottery_type": string(l.LotteryType),
		"draw_time":    l.DrawTime,
	})
	publishEvent(ctx, c.bus, c.logger, EventCreated, &l)

	return l, nil
}

// Update re-parses the edited post and overwrites the mutable parameter set,
// provided the lottery is still inside its regret period. The scheduled draw
// is untouched: the draw task re-reads live state at fire time.
func (c *Creator) Update(ctx context.Context, topicID int64, raw string) (domain.Lottery, error) {
	l, err := c.store.RunningByTopic(ctx, topicID)
	if err != nil {
		return domain.Lottery{}, fmt.Errorf("lottery: load running lottery for topic %d: %w", topicID, err)
	}

	now := c.now()
	if !l.InRegretPeriod(now, c.cfg.LockDelay) {
		return domain.Lottery{}, &domain.EditWindowExpiredError{
			LotteryID: l.ID,
			ClosedAt:  l.CreatedAt.Add(c.cfg.LockDelay),
		}
	}

	intent, ok := parser.ParseRaw(raw)
	if !ok {
		return domain.Lottery{}, ErrNoLotteryData
	}
	params, err := c.validator.Params(intent)
	if err != nil {
		return domain.Lottery{}, err
	}

	if err := c.store.UpdateParams(ctx, l.ID, params); err != nil {
		return domain.Lottery{}, fmt.Errorf("lottery: update params: %w", err)
	}
	l.ApplyParams(params)
	l.UpdatedAt = now

	c.logger.InfoContext(ctx, "lottery updated within regret period",
		slog.Int64("lottery_id", l.ID),
		slog.String("type", string(l.LotteryType)),
	)

	c.auditLog(ctx, l.ID, "lottery_updated", map[string]any{
		"lottery_type": string(l.LotteryType),
		"draw_time":    l.DrawTime,
	})
	publishEvent(ctx, c.bus, c.logger, EventUpdated, &l)

	return l, nil
}

// checkPrerequisites enforces the create pre-checks: feature enabled, topic
// exists, category allowed, no running lottery, creator active.
func (c *Creator) checkPrerequisites(ctx context.Context, topicID, creatorID int64) (domain.Topic, error) {
	if !c.cfg.Enabled {
		return domain.Topic{}, &domain.PrerequisiteError{
			Code:   domain.PrereqFeatureDisabled,
			Detail: "the lottery feature is disabled",
		}
	}

	topic, err := c.topics.GetTopic(ctx, topicID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Topic{}, &domain.PrerequisiteError{
				Code:   domain.PrereqTopicMissing,
				Detail: fmt.Sprintf("topic %d does not exist", topicID),
			}
		}
		return domain.Topic{}, fmt.Errorf("lottery: get topic %d: %w", topicID, err)
	}

	if !c.cfg.CategoryAllowed(topic.CategoryID) {
		return domain.Topic{}, &domain.PrerequisiteError{
			Code:   domain.PrereqCategoryNotAllowed,
			Detail: fmt.Sprintf("category %d does not allow lotteries", topic.CategoryID),
		}
	}

	if _, err := c.store.RunningByTopic(ctx, topicID); err == nil {
		return domain.Topic{}, &domain.PrerequisiteError{
			Code:   domain.PrereqDuplicateLottery,
			Detail: fmt.Sprintf("topic %d already has a running lottery", topicID),
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Topic{}, fmt.Errorf("lottery: check running lottery: %w", err)
	}

	creator, err := c.users.GetUser(ctx, creatorID)
	if err != nil {
		return domain.Topic{}, fmt.Errorf("lottery: get creator %d: %w", creatorID, err)
	}
	if !creator.Active || creator.Suspended {
		return domain.Topic{}, &domain.PrerequisiteError{
			Code:   domain.PrereqCreatorInactive,
			Detail: fmt.Sprintf("user %d is not an active account", creatorID),
		}
	}

	return topic, nil
}

func (c *Creator) auditLog(ctx context.Context, lotteryID int64, event string, detail map[string]any) {
	if c.audit == nil {
		return
	}
	if err := c.audit.Log(ctx, lotteryID, event, detail); err != nil {
		c.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
