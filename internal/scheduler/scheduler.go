// Package scheduler runs the periodic worker loops: draw execution, post
// locking at the end of the regret period, and archival of settled lotteries.
// Tasks are discovered by polling the store for due work, so a restarted or
// late worker picks up anything it missed. A distributed lock plus the
// store's status-guarded finalization keeps duplicate deliveries harmless.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/forumkit/lotteryd/internal/domain"
	"github.com/forumkit/lotteryd/internal/lottery"
)

// Archiver exports settled lotteries to cold storage.
type Archiver interface {
	Run(ctx context.Context) error
}

// Scheduler coordinates the worker loops.
type Scheduler struct {
	store   domain.LotteryStore
	locks   domain.LockManager
	engine  *lottery.Engine
	forum   domain.Forum
	bus     domain.SignalBus
	archive Archiver

	pollInterval    time.Duration
	archiveInterval time.Duration
	lockDelay       time.Duration
	batchSize       int
	lockTTL         time.Duration
	logger          *slog.Logger
	now             func() time.Time
}

// Options bound the polling behavior. Zero values get sane defaults.
type Options struct {
	PollInterval    time.Duration
	ArchiveInterval time.Duration
	LockDelay       time.Duration
	BatchSize       int
	LockTTL         time.Duration
}

func New(
	store domain.LotteryStore,
	locks domain.LockManager,
	engine *lottery.Engine,
	forum domain.Forum,
	bus domain.SignalBus,
	archive Archiver,
	opts Options,
	logger *slog.Logger,
	now func() time.Time,
) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 15 * time.Second
	}
	if opts.ArchiveInterval <= 0 {
		opts.ArchiveInterval = 24 * time.Hour
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 2 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		store:           store,
		locks:           locks,
		engine:          engine,
		forum:           forum,
		bus:             bus,
		archive:         archive,
		pollInterval:    opts.PollInterval,
		archiveInterval: opts.ArchiveInterval,
		lockDelay:       opts.LockDelay,
		batchSize:       opts.BatchSize,
		lockTTL:         opts.LockTTL,
		logger:          logger.With(slog.String("component", "scheduler")),
		now:             now,
	}
}

// Run starts the worker loops and blocks until ctx is cancelled. A loop
// returning a non-context error cancels the shared context and Run returns
// that error.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler starting",
		slog.Duration("poll_interval", s.pollInterval),
		slog.Duration("lock_delay", s.lockDelay),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := s.pollLoop(ctx, "draw", s.runDueDraws)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("draw loop: %w", err)
	})

	if s.lockDelay > 0 {
		g.Go(func() error {
			err := s.pollLoop(ctx, "post_lock", s.runDueLocks)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("post lock loop: %w", err)
		})
	}

	if s.archive != nil {
		g.Go(func() error {
			err := s.archiveLoop(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("archive loop: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		s.logger.Error("scheduler stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("scheduler stopped cleanly")
	return nil
}

// pollLoop runs fn immediately and then on every tick. Iteration errors are
// logged and the loop keeps going; only ctx cancellation ends it.
func (s *Scheduler) pollLoop(ctx context.Context, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		s.logger.ErrorContext(ctx, "poll iteration failed",
			slog.String("loop", name),
			slog.String("error", err.Error()),
		)
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("poll loop stopped", slog.String("loop", name))
			return ctx.Err()
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				s.logger.ErrorContext(ctx, "poll iteration failed",
					slog.String("loop", name),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// runDueDraws executes every due draw in the batch. Draws are independent;
// one failing never stops the rest.
func (s *Scheduler) runDueDraws(ctx context.Context) error {
	due, err := s.store.ListDueDraws(ctx, s.now(), s.batchSize)
	if err != nil {
		return fmt.Errorf("list due draws: %w", err)
	}

	for _, l := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.executeDraw(ctx, l)
	}
	return nil
}

// executeDraw runs one draw under the distributed lock. Failing to get the
// lock means another worker has it; the next poll retries anything it left
// unfinished.
func (s *Scheduler) executeDraw(ctx context.Context, l domain.Lottery) {
	release, err := s.locks.Acquire(ctx, drawLockKey(l.ID), s.lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.DebugContext(ctx, "draw locked by another worker", slog.Int64("lottery_id", l.ID))
			return
		}
		s.logger.ErrorContext(ctx, "draw lock acquisition failed",
			slog.Int64("lottery_id", l.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	defer release()

	// Re-read under the lock: an edit or a concurrent finalization may have
	// landed since the listing.
	fresh, err := s.store.GetByID(ctx, l.ID)
	if err != nil {
		s.logger.ErrorContext(ctx, "draw state reload failed",
			slog.Int64("lottery_id", l.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	if _, err := s.engine.ExecuteDraw(ctx, fresh); err != nil {
		s.logger.ErrorContext(ctx, "draw execution failed",
			slog.Int64("lottery_id", l.ID),
			slog.String("error", err.Error()),
		)
	}
}

func drawLockKey(lotteryID int64) string {
	return fmt.Sprintf("lottery:draw:%d", lotteryID)
}

// runDueLocks locks the opening post of every lottery whose regret period has
// ended, posts the lock notice, and records the lock so it runs once.
func (s *Scheduler) runDueLocks(ctx context.Context) error {
	due, err := s.store.ListDueLocks(ctx, s.now(), s.lockDelay, s.batchSize)
	if err != nil {
		return fmt.Errorf("list due locks: %w", err)
	}

	for _, l := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.lockPost(ctx, l)
	}
	return nil
}

func (s *Scheduler) lockPost(ctx context.Context, l domain.Lottery) {
	if err := s.forum.LockPost(ctx, l.PostID); err != nil {
		s.logger.WarnContext(ctx, "post lock failed, will retry next poll",
			slog.Int64("lottery_id", l.ID),
			slog.Int64("post_id", l.PostID),
			slog.String("error", err.Error()),
		)
		return
	}

	// MarkPostLocked is what stops the task from repeating; the notice and
	// event are best-effort extras.
	if err := s.store.MarkPostLocked(ctx, l.ID, s.now()); err != nil {
		s.logger.ErrorContext(ctx, "recording post lock failed",
			slog.Int64("lottery_id", l.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := s.forum.PostToTopic(ctx, l.TopicID, lottery.LockNotice); err != nil {
		s.logger.WarnContext(ctx, "lock notice post failed",
			slog.Int64("topic_id", l.TopicID),
			slog.String("error", err.Error()),
		)
	}

	if s.bus != nil {
		payload := []byte(fmt.Sprintf(`{"type":%q,"lottery_id":%d,"topic_id":%d}`,
			lottery.EventPostLocked, l.ID, l.TopicID))
		if err := s.bus.Publish(ctx, lottery.TopicChannel(l.TopicID), payload); err != nil {
			s.logger.WarnContext(ctx, "post lock event publish failed",
				slog.Int64("lottery_id", l.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "lottery post locked",
		slog.Int64("lottery_id", l.ID),
		slog.Int64("post_id", l.PostID),
	)
}

func (s *Scheduler) archiveLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.archiveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("archive loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.archive.Run(ctx); err != nil {
				s.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
