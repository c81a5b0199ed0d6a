package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// LotteryStore persists lottery aggregates. Implementations must enforce the
// one-running-lottery-per-topic invariant and make the finalization updates
// conditional on status = running so that duplicate draw deliveries no-op.
type LotteryStore interface {
	Create(ctx context.Context, l *Lottery) error
	GetByID(ctx context.Context, id int64) (Lottery, error)
	GetByTopic(ctx context.Context, topicID int64) (Lottery, error)
	// RunningByTopic returns the running lottery on a topic, or ErrNotFound.
	RunningByTopic(ctx context.Context, topicID int64) (Lottery, error)
	// UpdateParams overwrites the mutable parameter set of a running lottery.
	UpdateParams(ctx context.Context, id int64, p LotteryParams) error
	// ListDueDraws returns running lotteries whose draw time has passed.
	ListDueDraws(ctx context.Context, now time.Time, limit int) ([]Lottery, error)
	// ListDueLocks returns running lotteries created at least lockDelay ago
	// whose host post has not been locked yet.
	ListDueLocks(ctx context.Context, now time.Time, lockDelay time.Duration, limit int) ([]Lottery, error)
	// FinishDraw transitions running -> finished, recording winners and, for
	// specified draws, the surviving position subset. It reports false when
	// the lottery was no longer running.
	FinishDraw(ctx context.Context, id int64, winnerIDs []int64, validPositions []int) (bool, error)
	// Cancel transitions running -> cancelled. It reports false when the
	// lottery was no longer running.
	Cancel(ctx context.Context, id int64, reason CancelReason) (bool, error)
	MarkPostLocked(ctx context.Context, id int64, at time.Time) error
	ListSettledBefore(ctx context.Context, cutoff time.Time, limit int) ([]Lottery, error)
}

// AuditEntry is a single append-only audit log row.
type AuditEntry struct {
	ID        string
	LotteryID int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists the lottery audit trail.
type AuditStore interface {
	Log(ctx context.Context, lotteryID int64, event string, detail map[string]any) error
	ListByLottery(ctx context.Context, lotteryID int64) ([]AuditEntry, error)
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]AuditEntry, error)
}

// LockManager provides distributed locks so that at-least-once task delivery
// across workers collapses to a single draw execution.
type LockManager interface {
	// Acquire obtains the lock or returns ErrLockHeld. The returned func
	// releases the lock and is safe to call more than once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter throttles calls against a shared budget, keyed by caller.
type RateLimiter interface {
	// Allow reports whether one more request fits in the window, counting it
	// if so.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	// Wait blocks until a request is allowed or ctx is cancelled.
	Wait(ctx context.Context, key string) error
}

// SignalBus publishes real-time lottery events to forum frontends.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// BlobWriter stores archive exports in object storage.
type BlobWriter interface {
	Write(ctx context.Context, key string, data []byte, contentType string) error
}
