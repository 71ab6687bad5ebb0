package storage

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"time"

	_ "modernc.org/sqlite"
)

type DB struct {
	sql *sql.DB
}

func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	// Ensure schema exists for convenience.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS cleanup_plans (
  plan_id              TEXT PRIMARY KEY,
  name                 TEXT NOT NULL,
  scan_type            TEXT NOT NULL,
  scan_target          TEXT,
  status               TEXT NOT NULL DEFAULT 'draft',
  total_items          INTEGER NOT NULL DEFAULT 0,
  safe_items           INTEGER NOT NULL DEFAULT 0,
  suspicious_items     INTEGER NOT NULL DEFAULT 0,
  dangerous_items      INTEGER NOT NULL DEFAULT 0,
  total_size           INTEGER NOT NULL DEFAULT 0,
  estimated_freed_size INTEGER NOT NULL DEFAULT 0,
  ai_call_count        INTEGER NOT NULL DEFAULT 0,
  used_rules_only      INTEGER NOT NULL DEFAULT 0 CHECK (used_rules_only IN (0,1)),
  created_at           DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  analyzed_at          DATETIME
);
CREATE TABLE IF NOT EXISTS cleanup_reasons (
  id              INTEGER PRIMARY KEY,
  reason          TEXT NOT NULL,
  hash            TEXT NOT NULL UNIQUE,
  created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  reference_count INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_reasons_hash ON cleanup_reasons(hash);
CREATE TABLE IF NOT EXISTS cleanup_items (
  id             INTEGER PRIMARY KEY,
  plan_id        TEXT NOT NULL REFERENCES cleanup_plans(plan_id),
  path           TEXT NOT NULL,
  name           TEXT NOT NULL,
  size_bytes     INTEGER NOT NULL DEFAULT 0,
  is_dir         INTEGER NOT NULL DEFAULT 0 CHECK (is_dir IN (0,1)),
  risk_level     TEXT NOT NULL,
  risk_score     INTEGER NOT NULL DEFAULT 0,
  confidence     REAL NOT NULL DEFAULT 0,
  method         TEXT NOT NULL,
  source         TEXT,
  recommendation TEXT NOT NULL,
  reason_id      INTEGER REFERENCES cleanup_reasons(id),
  status         TEXT NOT NULL DEFAULT 'pending',
  retry_count    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_items_plan ON cleanup_items(plan_id);
CREATE INDEX IF NOT EXISTS idx_items_status ON cleanup_items(plan_id, status);
CREATE TABLE IF NOT EXISTS cleanup_executions (
  execution_id  TEXT PRIMARY KEY,
  plan_id       TEXT NOT NULL REFERENCES cleanup_plans(plan_id),
  status        TEXT NOT NULL,
  total_items   INTEGER NOT NULL DEFAULT 0,
  success_items INTEGER NOT NULL DEFAULT 0,
  failed_items  INTEGER NOT NULL DEFAULT 0,
  skipped_items INTEGER NOT NULL DEFAULT 0,
  total_size    INTEGER NOT NULL DEFAULT 0,
  freed_size    INTEGER NOT NULL DEFAULT 0,
  failed_size   INTEGER NOT NULL DEFAULT 0,
  started_at    DATETIME,
  completed_at  DATETIME,
  error_message TEXT
);
CREATE INDEX IF NOT EXISTS idx_executions_plan ON cleanup_executions(plan_id);
CREATE TABLE IF NOT EXISTS execution_failures (
  id               INTEGER PRIMARY KEY,
  execution_id     TEXT NOT NULL REFERENCES cleanup_executions(execution_id),
  path             TEXT NOT NULL,
  error_type       TEXT NOT NULL,
  message          TEXT,
  suggested_action TEXT
);
CREATE INDEX IF NOT EXISTS idx_failures_execution ON execution_failures(execution_id);
CREATE TABLE IF NOT EXISTS recovery_records (
  id            TEXT PRIMARY KEY,
  plan_id       TEXT,
  item_id       INTEGER,
  original_path TEXT NOT NULL,
  backup_path   TEXT,
  backup_type   TEXT NOT NULL,
  compressed    INTEGER NOT NULL DEFAULT 0 CHECK (compressed IN (0,1)),
  restored      INTEGER NOT NULL DEFAULT 0 CHECK (restored IN (0,1)),
  created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_recovery_plan ON recovery_records(plan_id);
CREATE TABLE IF NOT EXISTS ai_cache (
  cache_key  TEXT PRIMARY KEY,
  risk_level TEXT NOT NULL,
  risk_score INTEGER NOT NULL DEFAULT 0,
  confidence REAL NOT NULL DEFAULT 0,
  reason     TEXT,
  cached_at  DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS cost_counters (
  period_key TEXT PRIMARY KEY,
  calls      INTEGER NOT NULL DEFAULT 0,
  cost       REAL NOT NULL DEFAULT 0,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
    `); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// SavePlan stores a plan header with its items in one transaction.
// Reason texts are deduplicated through the reason table.
func (d *DB) SavePlan(ctx context.Context, plan *Plan, items []Item) (err error) {
	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `INSERT INTO cleanup_plans(plan_id, name, scan_type, scan_target, status, total_items, safe_items, suspicious_items, dangerous_items, total_size, estimated_freed_size, ai_call_count, used_rules_only, created_at, analyzed_at) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		plan.ID, plan.Name, plan.ScanType, nullIfEmpty(plan.ScanTarget), plan.Status,
		plan.TotalItems, plan.SafeItems, plan.SuspiciousItems, plan.DangerousItems,
		plan.TotalSize, plan.EstimatedFreedSize, plan.AICallCount, boolToInt(plan.UsedRulesOnly),
		formatTime(plan.CreatedAt), nullTime(plan.AnalyzedAt))
	if err != nil {
		return err
	}

	for i := range items {
		it := &items[i]
		var reasonID sql.NullInt64
		if it.Reason != "" {
			id, rerr := upsertReason(ctx, tx, it.Reason)
			if rerr != nil {
				err = rerr
				return err
			}
			reasonID = sql.NullInt64{Int64: id, Valid: true}
		}
		res, ierr := tx.ExecContext(ctx, `INSERT INTO cleanup_items(plan_id, path, name, size_bytes, is_dir, risk_level, risk_score, confidence, method, source, recommendation, reason_id, status, retry_count) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			plan.ID, it.Path, it.Name, it.SizeBytes, boolToInt(it.IsDir),
			it.RiskLevel, it.RiskScore, it.Confidence, it.Method, nullIfEmpty(it.Source),
			it.Recommendation, reasonID, it.Status, it.RetryCount)
		if ierr != nil {
			err = ierr
			return err
		}
		if id, lerr := res.LastInsertId(); lerr == nil {
			it.ID = id
		}
	}

	return tx.Commit()
}

// upsertReason returns the id for a reason text, bumping its reference
// count when the same text was stored before.
func upsertReason(ctx context.Context, tx *sql.Tx, reason string) (int64, error) {
	hash := reasonHash(reason)

	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM cleanup_reasons WHERE hash = ?`, hash).Scan(&id)
	if err == nil {
		_, uerr := tx.ExecContext(ctx, `UPDATE cleanup_reasons SET reference_count = reference_count + 1 WHERE id = ?`, id)
		return id, uerr
	}
	if err != sql.ErrNoRows {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO cleanup_reasons(reason, hash) VALUES(?, ?)`, reason, hash)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func reasonHash(reason string) string {
	sum := md5.Sum([]byte(reason))
	return hex.EncodeToString(sum[:])
}

// ReasonRefCount returns how many items share a reason text. Zero means
// the reason was never stored.
func (d *DB) ReasonRefCount(ctx context.Context, reason string) (int, error) {
	var count int
	err := d.sql.QueryRowContext(ctx, `SELECT reference_count FROM cleanup_reasons WHERE hash = ?`, reasonHash(reason)).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return count, err
}

func (d *DB) GetPlan(ctx context.Context, id string) (*Plan, error) {
	row := d.sql.QueryRowContext(ctx, `SELECT plan_id, name, scan_type, scan_target, status, total_items, safe_items, suspicious_items, dangerous_items, total_size, estimated_freed_size, ai_call_count, used_rules_only, created_at, analyzed_at FROM cleanup_plans WHERE plan_id = ?`, id)
	return scanPlan(row)
}

func (d *DB) ListPlans(ctx context.Context) ([]Plan, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT plan_id, name, scan_type, scan_target, status, total_items, safe_items, suspicious_items, dangerous_items, total_size, estimated_freed_size, ai_call_count, used_rules_only, created_at, analyzed_at FROM cleanup_plans ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *p)
	}
	return plans, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPlan(row rowScanner) (*Plan, error) {
	var (
		p             Plan
		target        sql.NullString
		usedRulesOnly int
		createdAtRaw  string
		analyzedAtRaw sql.NullString
	)
	err := row.Scan(&p.ID, &p.Name, &p.ScanType, &target, &p.Status,
		&p.TotalItems, &p.SafeItems, &p.SuspiciousItems, &p.DangerousItems,
		&p.TotalSize, &p.EstimatedFreedSize, &p.AICallCount, &usedRulesOnly,
		&createdAtRaw, &analyzedAtRaw)
	if err != nil {
		return nil, err
	}
	p.ScanTarget = target.String
	p.UsedRulesOnly = usedRulesOnly == 1
	p.CreatedAt = parseTime(createdAtRaw)
	if analyzedAtRaw.Valid {
		p.AnalyzedAt = parseTime(analyzedAtRaw.String)
	}
	return &p, nil
}

func (d *DB) GetPlanItems(ctx context.Context, planID string) ([]Item, error) {
	rows, err := d.sql.QueryContext(ctx, `
SELECT i.id, i.plan_id, i.path, i.name, i.size_bytes, i.is_dir, i.risk_level, i.risk_score, i.confidence, i.method, i.source, i.recommendation, COALESCE(r.reason, ''), i.status, i.retry_count
FROM cleanup_items i LEFT JOIN cleanup_reasons r ON r.id = i.reason_id
WHERE i.plan_id = ? ORDER BY i.id`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var (
			it     Item
			isDir  int
			source sql.NullString
		)
		if err := rows.Scan(&it.ID, &it.PlanID, &it.Path, &it.Name, &it.SizeBytes, &isDir,
			&it.RiskLevel, &it.RiskScore, &it.Confidence, &it.Method, &source,
			&it.Recommendation, &it.Reason, &it.Status, &it.RetryCount); err != nil {
			return nil, err
		}
		it.IsDir = isDir == 1
		it.Source = source.String
		items = append(items, it)
	}
	return items, rows.Err()
}

func (d *DB) UpdatePlanStatus(ctx context.Context, planID, status string) error {
	_, err := d.sql.ExecContext(ctx, `UPDATE cleanup_plans SET status = ? WHERE plan_id = ?`, status, planID)
	return err
}

func (d *DB) UpdateItemStatus(ctx context.Context, itemID int64, status string, retryCount int) error {
	_, err := d.sql.ExecContext(ctx, `UPDATE cleanup_items SET status = ?, retry_count = ? WHERE id = ?`, status, retryCount, itemID)
	return err
}

// SaveExecution stores an execution result with its failures in one
// transaction.
func (d *DB) SaveExecution(ctx context.Context, exec *Execution, failures []Failure) (err error) {
	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `INSERT INTO cleanup_executions(execution_id, plan_id, status, total_items, success_items, failed_items, skipped_items, total_size, freed_size, failed_size, started_at, completed_at, error_message) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		exec.ID, exec.PlanID, exec.Status,
		exec.TotalItems, exec.SuccessItems, exec.FailedItems, exec.SkippedItems,
		exec.TotalSize, exec.FreedSize, exec.FailedSize,
		nullTime(exec.StartedAt), nullTime(exec.CompletedAt), nullIfEmpty(exec.ErrorMessage))
	if err != nil {
		return err
	}

	for _, f := range failures {
		if _, err = tx.ExecContext(ctx, `INSERT INTO execution_failures(execution_id, path, error_type, message, suggested_action) VALUES(?,?,?,?,?)`,
			exec.ID, f.Path, f.ErrorType, nullIfEmpty(f.Message), nullIfEmpty(f.SuggestedAction)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (d *DB) ListExecutions(ctx context.Context, planID string) ([]Execution, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT execution_id, plan_id, status, total_items, success_items, failed_items, skipped_items, total_size, freed_size, failed_size, started_at, completed_at, error_message FROM cleanup_executions WHERE plan_id = ? ORDER BY started_at`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var (
			e            Execution
			startedAt    sql.NullString
			completedAt  sql.NullString
			errorMessage sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.PlanID, &e.Status,
			&e.TotalItems, &e.SuccessItems, &e.FailedItems, &e.SkippedItems,
			&e.TotalSize, &e.FreedSize, &e.FailedSize,
			&startedAt, &completedAt, &errorMessage); err != nil {
			return nil, err
		}
		if startedAt.Valid {
			e.StartedAt = parseTime(startedAt.String)
		}
		if completedAt.Valid {
			e.CompletedAt = parseTime(completedAt.String)
		}
		e.ErrorMessage = errorMessage.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (d *DB) AddRecoveryRecord(ctx context.Context, rec *RecoveryRecord) error {
	_, err := d.sql.ExecContext(ctx, `INSERT INTO recovery_records(id, plan_id, item_id, original_path, backup_path, backup_type, compressed, restored, created_at) VALUES(?,?,?,?,?,?,?,?,?)`,
		rec.ID, nullIfEmpty(rec.PlanID), rec.ItemID, rec.OriginalPath, nullIfEmpty(rec.BackupPath),
		rec.BackupType, boolToInt(rec.Compressed), boolToInt(rec.Restored), formatTime(rec.CreatedAt))
	return err
}

func (d *DB) GetRecoveryRecord(ctx context.Context, id string) (*RecoveryRecord, error) {
	row := d.sql.QueryRowContext(ctx, `SELECT id, plan_id, item_id, original_path, backup_path, backup_type, compressed, restored, created_at FROM recovery_records WHERE id = ?`, id)
	return scanRecovery(row)
}

// ListRecoveryRecords returns a plan's recovery records, optionally only
// the ones not yet restored.
func (d *DB) ListRecoveryRecords(ctx context.Context, planID string, unrestoredOnly bool) ([]RecoveryRecord, error) {
	query := `SELECT id, plan_id, item_id, original_path, backup_path, backup_type, compressed, restored, created_at FROM recovery_records WHERE plan_id = ?`
	if unrestoredOnly {
		query += ` AND restored = 0`
	}
	query += ` ORDER BY created_at`

	rows, err := d.sql.QueryContext(ctx, query, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RecoveryRecord
	for rows.Next() {
		rec, err := scanRecovery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func scanRecovery(row rowScanner) (*RecoveryRecord, error) {
	var (
		rec          RecoveryRecord
		planID       sql.NullString
		backupPath   sql.NullString
		compressed   int
		restored     int
		createdAtRaw string
	)
	err := row.Scan(&rec.ID, &planID, &rec.ItemID, &rec.OriginalPath, &backupPath,
		&rec.BackupType, &compressed, &restored, &createdAtRaw)
	if err != nil {
		return nil, err
	}
	rec.PlanID = planID.String
	rec.BackupPath = backupPath.String
	rec.Compressed = compressed == 1
	rec.Restored = restored == 1
	rec.CreatedAt = parseTime(createdAtRaw)
	return &rec, nil
}

// ListExpiredRecoveryRecords returns records created before cutoff,
// across all plans.
func (d *DB) ListExpiredRecoveryRecords(ctx context.Context, cutoff time.Time) ([]RecoveryRecord, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT id, plan_id, item_id, original_path, backup_path, backup_type, compressed, restored, created_at FROM recovery_records WHERE created_at < ? ORDER BY created_at`, formatTime(cutoff))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RecoveryRecord
	for rows.Next() {
		rec, err := scanRecovery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (d *DB) MarkRestored(ctx context.Context, id string) error {
	_, err := d.sql.ExecContext(ctx, `UPDATE recovery_records SET restored = 1 WHERE id = ?`, id)
	return err
}

// DeleteRecoveryRecord drops a record after its backup has been purged.
func (d *DB) DeleteRecoveryRecord(ctx context.Context, id string) error {
	_, err := d.sql.ExecContext(ctx, `DELETE FROM recovery_records WHERE id = ?`, id)
	return err
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

// parseTime handles both SQLite's CURRENT_TIMESTAMP format and RFC3339.
func parseTime(raw string) time.Time {
	if t, err := time.Parse("2006-01-02 15:04:05", raw); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
