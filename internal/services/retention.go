package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/pos-device-bridge/internal/observability"
	"github.com/tbourn/pos-device-bridge/internal/repo"
)

// RetentionJob purges acknowledged print jobs (and the broadcast records
// that carried them) once they are older than MaxAge, along with expired
// idempotency keys. The order's is_printed flag is kept, so purging never
// loses print truth.
type RetentionJob struct {
	DB       *gorm.DB
	MaxAge   time.Duration
	Interval time.Duration
	Batch    int
	Now      func() time.Time
}

// RetentionResult counts what one pass removed.
type RetentionResult struct {
	PrintEvents     int64 `json:"print_events"`
	IdempotencyKeys int64 `json:"idempotency_keys"`
}

// RunOnce purges in batches until nothing old remains.
func (j *RetentionJob) RunOnce(ctx context.Context) (RetentionResult, error) {
	var res RetentionResult
	now := time.Now().UTC()
	if j.Now != nil {
		now = j.Now()
	}
	cutoff := now.Add(-j.MaxAge)
	batch := j.Batch
	if batch <= 0 {
		batch = 500
	}

	for ctx.Err() == nil {
		n, err := repo.PurgeAcknowledgedPrintEvents(ctx, j.DB, cutoff, batch)
		if err != nil {
			return res, err
		}
		res.PrintEvents += n
		if n < int64(batch) {
			break
		}
	}
	observability.PrintJobs.WithLabelValues("purged").Add(float64(res.PrintEvents))

	n, err := repo.PurgeExpiredIdempotency(ctx, j.DB, now)
	if err != nil {
		return res, err
	}
	res.IdempotencyKeys = n
	return res, nil
}

// Run purges every Interval until ctx is done.
func (j *RetentionJob) Run(ctx context.Context) {
	lg := log.With().Str("component", "retention").Logger()
	interval := j.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			res, err := j.RunOnce(ctx)
			if err != nil {
				lg.Error().Err(err).Msg("retention pass failed")
				continue
			}
			if res.PrintEvents > 0 || res.IdempotencyKeys > 0 {
				lg.Info().Int64("print_events", res.PrintEvents).Int64("idempotency_keys", res.IdempotencyKeys).Msg("retention pass")
			}
		}
	}
}
