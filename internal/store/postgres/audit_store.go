package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forumkit/lotteryd/internal/domain"
)

// AuditStore implements domain.AuditStore using PostgreSQL. The trail is
// append-only; rows are removed only by the archiver after export.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends an audit entry for a lottery. The detail map is stored as
// JSONB.
func (s *AuditStore) Log(ctx context.Context, lotteryID int64, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}

	const query = `INSERT INTO lottery_audit (lottery_id, event, detail) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, query, lotteryID, event, detailJSON); err != nil {
		return fmt.Errorf("postgres: log audit event %s: %w", event, err)
	}
	return nil
}

// ListByLottery returns the full trail for one lottery, oldest first.
func (s *AuditStore) ListByLottery(ctx context.Context, lotteryID int64) ([]domain.AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, lottery_id, event, detail, created_at FROM lottery_audit
		 WHERE lottery_id = $1 ORDER BY created_at ASC`, lotteryID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit for lottery %d: %w", lotteryID, err)
	}
	return collectAuditEntries(rows)
}

// ListBefore returns entries created before the cutoff, oldest first, for
// archival.
func (s *AuditStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, lottery_id, event, detail, created_at FROM lottery_audit
		 WHERE created_at < $1 ORDER BY created_at ASC LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return collectAuditEntries(rows)
}

func collectAuditEntries(rows pgx.Rows) ([]domain.AuditEntry, error) {
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var detailJSON []byte
		if err := rows.Scan(&e.ID, &e.LotteryID, &e.Event, &detailJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit entry: %w", err)
		}
		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal audit detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: audit entries rows: %w", err)
	}
	return entries, nil
}
