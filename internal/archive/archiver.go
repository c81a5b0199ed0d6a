// Package archive exports settled lotteries and their audit trails to object
// storage as JSONL. Exports never delete from the primary store; pruning is
// a separate, manual step taken after an export has been verified.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/forumkit/lotteryd/internal/domain"
	"github.com/forumkit/lotteryd/internal/notify"
)

// batchSize bounds one export query.
const batchSize = 5000

// Archiver runs one export pass per call, driven by the scheduler's archive
// loop.
type Archiver struct {
	store     domain.LotteryStore
	audit     domain.AuditStore
	writer    domain.BlobWriter
	notifier  *notify.Notifier
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// New wires an Archiver. retention is how long settled lotteries stay out of
// the archive; now is injectable for tests.
func New(
	store domain.LotteryStore,
	audit domain.AuditStore,
	writer domain.BlobWriter,
	notifier *notify.Notifier,
	retention time.Duration,
	logger *slog.Logger,
	now func() time.Time,
) *Archiver {
	if now == nil {
		now = time.Now
	}
	return &Archiver{
		store:     store,
		audit:     audit,
		writer:    writer,
		notifier:  notifier,
		retention: retention,
		logger:    logger.With(slog.String("component", "archiver")),
		now:       now,
	}
}

// Run exports settled lotteries and audit entries older than the retention
// cutoff. Export failures alert the operators; the next pass retries.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.now().Add(-a.retention)

	lotteries, err := a.exportLotteries(ctx, cutoff)
	if err != nil {
		a.alert(ctx, fmt.Sprintf("lottery export: %v", err))
		return err
	}

	entries, err := a.exportAudit(ctx, cutoff)
	if err != nil {
		a.alert(ctx, fmt.Sprintf("audit export: %v", err))
		return err
	}

	if lotteries > 0 || entries > 0 {
		a.logger.InfoContext(ctx, "archive pass complete",
			slog.Int("lotteries", lotteries),
			slog.Int("audit_entries", entries),
			slog.Time("cutoff", cutoff),
		)
	}
	return nil
}

func (a *Archiver) exportLotteries(ctx context.Context, cutoff time.Time) (int, error) {
	lotteries, err := a.store.ListSettledBefore(ctx, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("archive: list settled lotteries: %w", err)
	}
	if len(lotteries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(lotteries)
	if err != nil {
		return 0, fmt.Errorf("archive: marshal lotteries: %w", err)
	}

	key := archiveKey("lotteries", cutoff)
	if err := a.writer.Write(ctx, key, buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("archive: upload lotteries: %w", err)
	}

	for _, l := range lotteries {
		if err := a.audit.Log(ctx, l.ID, "archived", map[string]any{"key": key}); err != nil {
			a.logger.WarnContext(ctx, "archive audit log failed",
				slog.Int64("lottery_id", l.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return len(lotteries), nil
}

func (a *Archiver) exportAudit(ctx context.Context, cutoff time.Time) (int, error) {
	entries, err := a.audit.ListBefore(ctx, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("archive: list audit entries: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("archive: marshal audit entries: %w", err)
	}

	key := archiveKey("audit", cutoff)
	if err := a.writer.Write(ctx, key, buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("archive: upload audit entries: %w", err)
	}
	return len(entries), nil
}

func (a *Archiver) alert(ctx context.Context, detail string) {
	if a.notifier == nil {
		return
	}
	_ = a.notifier.Notify(ctx, notify.EventArchiveFailed, "Lottery archive failed", detail)
}

// archiveKey partitions exports by the cutoff's year-month:
//
//	archive/lotteries/2026-08.jsonl
//	archive/audit/2026-08.jsonl
func archiveKey(kind string, cutoff time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, cutoff.Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
