package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forumkit/lotteryd/internal/domain"
)

// LotteryStore implements domain.LotteryStore using PostgreSQL. The
// one-running-lottery-per-topic invariant is enforced by a partial unique
// index on topic_id, and the finalization updates are conditional on
// status = 'running' so a duplicate draw delivery changes nothing.
type LotteryStore struct {
	pool *pgxpool.Pool
}

// NewLotteryStore creates a new LotteryStore backed by the given connection pool.
func NewLotteryStore(pool *pgxpool.Pool) *LotteryStore {
	return &LotteryStore{pool: pool}
}

const lotteryCols = `id, topic_id, post_id, creator_user_id,
	prize_name, prize_details, draw_time, winners_count, min_participants,
	backup_strategy, lottery_type, specified_posts, additional_notes, prize_image,
	status, cancel_reason, winner_user_ids, post_locked_at, created_at, updated_at`

// Create inserts a new running lottery and fills in its assigned ID. A
// violation of the partial unique index on topic_id maps to
// domain.ErrLotteryExists.
func (s *LotteryStore) Create(ctx context.Context, l *domain.Lottery) error {
	const query = `
		INSERT INTO lotteries (
			topic_id, post_id, creator_user_id,
			prize_name, prize_details, draw_time, winners_count, min_participants,
			backup_strategy, lottery_type, specified_posts, additional_notes, prize_image,
			status, created_at, updated_at
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13,
			$14, $15, $15
		)
		RETURNING id`

	err := s.pool.QueryRow(ctx, query,
		l.TopicID, l.PostID, l.CreatorUserID,
		l.PrizeName, l.PrizeDetails, l.DrawTime, l.WinnersCount, l.MinParticipants,
		string(l.BackupStrategy), string(l.LotteryType), toInt32s(l.SpecifiedPostNumbers),
		l.AdditionalNotes, l.PrizeImage,
		string(l.Status), l.CreatedAt,
	).Scan(&l.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrLotteryExists
		}
		return fmt.Errorf("postgres: create lottery for topic %d: %w", l.TopicID, err)
	}
	return nil
}

func scanLottery(row pgx.Row) (domain.Lottery, error) {
	var l domain.Lottery
	var backup, typ, status string
	var cancelReason *string
	var positions []int32
	err := row.Scan(
		&l.ID, &l.TopicID, &l.PostID, &l.CreatorUserID,
		&l.PrizeName, &l.PrizeDetails, &l.DrawTime, &l.WinnersCount, &l.MinParticipants,
		&backup, &typ, &positions, &l.AdditionalNotes, &l.PrizeImage,
		&status, &cancelReason, &l.WinnerUserIDs, &l.PostLockedAt,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return domain.Lottery{}, err
	}
	l.BackupStrategy = domain.BackupStrategy(backup)
	l.LotteryType = domain.LotteryType(typ)
	l.Status = domain.LotteryStatus(status)
	if cancelReason != nil {
		l.CancelReason = domain.CancelReason(*cancelReason)
	}
	l.SpecifiedPostNumbers = fromInt32s(positions)
	return l, nil
}

// GetByID retrieves a lottery by its primary key.
func (s *LotteryStore) GetByID(ctx context.Context, id int64) (domain.Lottery, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+lotteryCols+` FROM lotteries WHERE id = $1`, id)
	l, err := scanLottery(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Lottery{}, domain.ErrNotFound
		}
		return domain.Lottery{}, fmt.Errorf("postgres: get lottery %d: %w", id, err)
	}
	return l, nil
}

// GetByTopic retrieves the most recent lottery on a topic.
func (s *LotteryStore) GetByTopic(ctx context.Context, topicID int64) (domain.Lottery, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+lotteryCols+` FROM lotteries WHERE topic_id = $1 ORDER BY created_at DESC LIMIT 1`, topicID)
	l, err := scanLottery(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Lottery{}, domain.ErrNotFound
		}
		return domain.Lottery{}, fmt.Errorf("postgres: get lottery by topic %d: %w", topicID, err)
	}
	return l, nil
}

// RunningByTopic retrieves the running lottery on a topic, or ErrNotFound.
func (s *LotteryStore) RunningByTopic(ctx context.Context, topicID int64) (domain.Lottery, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+lotteryCols+` FROM lotteries WHERE topic_id = $1 AND status = 'running'`, topicID)
	l, err := scanLottery(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Lottery{}, domain.ErrNotFound
		}
		return domain.Lottery{}, fmt.Errorf("postgres: get running lottery for topic %d: %w", topicID, err)
	}
	return l, nil
}

// UpdateParams overwrites the mutable parameter set of a running lottery.
func (s *LotteryStore) UpdateParams(ctx context.Context, id int64, p domain.LotteryParams) error {
	const query = `
		UPDATE lotteries SET
			prize_name       = $2,
			prize_details    = $3,
			draw_time        = $4,
			winners_count    = $5,
			min_participants = $6,
			backup_strategy  = $7,
			lottery_type     = $8,
			specified_posts  = $9,
			additional_notes = $10,
			prize_image      = $11,
			updated_at       = NOW()
		WHERE id = $1 AND status = 'running'`

	tag, err := s.pool.Exec(ctx, query, id,
		p.PrizeName, p.PrizeDetails, p.DrawTime, p.WinnersCount, p.MinParticipants,
		string(p.BackupStrategy), string(p.LotteryType), toInt32s(p.SpecifiedPostNumbers),
		p.AdditionalNotes, p.PrizeImage,
	)
	if err != nil {
		return fmt.Errorf("postgres: update lottery %d params: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListDueDraws returns running lotteries whose draw time has passed, oldest
// first.
func (s *LotteryStore) ListDueDraws(ctx context.Context, now time.Time, limit int) ([]domain.Lottery, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+lotteryCols+` FROM lotteries
		 WHERE status = 'running' AND draw_time <= $1
		 ORDER BY draw_time ASC LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list due draws: %w", err)
	}
	return collectLotteries(rows, "due draws")
}

// ListDueLocks returns running lotteries created at least lockDelay ago whose
// opening post has not been locked yet.
func (s *LotteryStore) ListDueLocks(ctx context.Context, now time.Time, lockDelay time.Duration, limit int) ([]domain.Lottery, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+lotteryCols+` FROM lotteries
		 WHERE status = 'running' AND post_locked_at IS NULL AND created_at <= $1
		 ORDER BY created_at ASC LIMIT $2`, now.Add(-lockDelay), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list due locks: %w", err)
	}
	return collectLotteries(rows, "due locks")
}

// FinishDraw transitions running -> finished. It reports false when the
// lottery was no longer running (a concurrent delivery won).
func (s *LotteryStore) FinishDraw(ctx context.Context, id int64, winnerIDs []int64, validPositions []int) (bool, error) {
	const query = `
		UPDATE lotteries SET
			status          = 'finished',
			winner_user_ids = $2,
			specified_posts = CASE WHEN cardinality($3::int[]) > 0 THEN $3::int[] ELSE specified_posts END,
			updated_at      = NOW()
		WHERE id = $1 AND status = 'running'`

	tag, err := s.pool.Exec(ctx, query, id, winnerIDs, toInt32s(validPositions))
	if err != nil {
		return false, fmt.Errorf("postgres: finish draw %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Cancel transitions running -> cancelled. It reports false when the lottery
// was no longer running.
func (s *LotteryStore) Cancel(ctx context.Context, id int64, reason domain.CancelReason) (bool, error) {
	const query = `
		UPDATE lotteries SET
			status        = 'cancelled',
			cancel_reason = $2,
			updated_at    = NOW()
		WHERE id = $1 AND status = 'running'`

	tag, err := s.pool.Exec(ctx, query, id, string(reason))
	if err != nil {
		return false, fmt.Errorf("postgres: cancel lottery %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkPostLocked records that the opening post was locked at the given time.
func (s *LotteryStore) MarkPostLocked(ctx context.Context, id int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE lotteries SET post_locked_at = $2, updated_at = NOW() WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("postgres: mark lottery %d post locked: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListSettledBefore returns finished or cancelled lotteries last touched
// before the cutoff, for archival.
func (s *LotteryStore) ListSettledBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Lottery, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+lotteryCols+` FROM lotteries
		 WHERE status IN ('finished', 'cancelled') AND updated_at < $1
		 ORDER BY updated_at ASC LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled lotteries: %w", err)
	}
	return collectLotteries(rows, "settled lotteries")
}

func collectLotteries(rows pgx.Rows, what string) ([]domain.Lottery, error) {
	defer rows.Close()

	var out []domain.Lottery
	for rows.Next() {
		l, err := scanLottery(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan %s: %w", what, err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list %s rows: %w", what, err)
	}
	return out, nil
}

func toInt32s(in []int) []int32 {
	if in == nil {
		return nil
	}
	out := make([]int32, len(in))
	for i, v := range in {
		out[i] = int32(v)
	}
	return out
}

func fromInt32s(in []int32) []int {
	if in == nil {
		return nil
	}
	out := make([]int, len(in))
	for i, v := range in {
		out[i] = int(v)
	}
	return out
}
