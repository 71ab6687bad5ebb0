package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/sweepguard/sweepguard/pkg/risk"
)

// GetVerdict loads a cached AI verdict. It implements risk.CacheStore.
func (d *DB) GetVerdict(ctx context.Context, key string) (*risk.CachedVerdict, bool, error) {
	var (
		v         risk.CachedVerdict
		level     string
		reason    sql.NullString
		cachedRaw string
	)
	err := d.sql.QueryRowContext(ctx, `SELECT risk_level, risk_score, confidence, reason, cached_at FROM ai_cache WHERE cache_key = ?`, key).
		Scan(&level, &v.Score, &v.Confidence, &reason, &cachedRaw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	v.Level = risk.Level(level)
	v.Reason = reason.String
	v.CachedAt = parseTime(cachedRaw)
	return &v, true, nil
}

// PutVerdict stores or refreshes a cached AI verdict.
func (d *DB) PutVerdict(ctx context.Context, key string, v risk.CachedVerdict) error {
	_, err := d.sql.ExecContext(ctx, `
INSERT INTO ai_cache(cache_key, risk_level, risk_score, confidence, reason, cached_at) VALUES(?,?,?,?,?,?)
ON CONFLICT(cache_key) DO UPDATE SET risk_level = excluded.risk_level, risk_score = excluded.risk_score, confidence = excluded.confidence, reason = excluded.reason, cached_at = excluded.cached_at`,
		key, string(v.Level), v.Score, v.Confidence, nullIfEmpty(v.Reason), formatTime(v.CachedAt))
	return err
}

// PruneVerdicts drops cache rows older than cutoff and returns how many
// were removed.
func (d *DB) PruneVerdicts(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.sql.ExecContext(ctx, `DELETE FROM ai_cache WHERE cached_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SaveCostCounter upserts a day or month spending counter. It
// implements cost.Store.
func (d *DB) SaveCostCounter(ctx context.Context, period string, calls int, costVal float64) error {
	_, err := d.sql.ExecContext(ctx, `
INSERT INTO cost_counters(period_key, calls, cost, updated_at) VALUES(?,?,?,CURRENT_TIMESTAMP)
ON CONFLICT(period_key) DO UPDATE SET calls = excluded.calls, cost = excluded.cost, updated_at = CURRENT_TIMESTAMP`,
		period, calls, costVal)
	return err
}

// LoadCostCounter reads a previously saved spending counter.
func (d *DB) LoadCostCounter(ctx context.Context, period string) (int, float64, bool, error) {
	var (
		calls   int
		costVal float64
	)
	err := d.sql.QueryRowContext(ctx, `SELECT calls, cost FROM cost_counters WHERE period_key = ?`, period).Scan(&calls, &costVal)
	if err == sql.ErrNoRows {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, err
	}
	return calls, costVal, true, nil
}
