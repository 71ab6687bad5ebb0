package executor

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sweepguard/sweepguard/internal/utils"
	"github.com/sweepguard/sweepguard/pkg/storage"
)

// RestoreWindow is how long a removed item stays restorable.
const RestoreWindow = 30 * 24 * time.Hour

// RestoreStore is the persistence surface the restorer needs.
type RestoreStore interface {
	GetRecoveryRecord(ctx context.Context, id string) (*storage.RecoveryRecord, error)
	ListRecoveryRecords(ctx context.Context, planID string, unrestoredOnly bool) ([]storage.RecoveryRecord, error)
	ListExpiredRecoveryRecords(ctx context.Context, cutoff time.Time) ([]storage.RecoveryRecord, error)
	MarkRestored(ctx context.Context, id string) error
	DeleteRecoveryRecord(ctx context.Context, id string) error
}

// Restorer brings backed-up items back to their original location.
type Restorer struct {
	store   RestoreStore
	recycle *RecycleStore
	now     func() time.Time
}

func NewRestorer(store RestoreStore, recycle *RecycleStore) *Restorer {
	return &Restorer{store: store, recycle: recycle, now: time.Now}
}

// Restore puts one record's backup back. It refuses already-restored
// and expired records, and never overwrites an occupied original path.
func (r *Restorer) Restore(ctx context.Context, recordID string) error {
	rec, err := r.store.GetRecoveryRecord(ctx, recordID)
	if err != nil {
		return fmt.Errorf("loading recovery record %s: %w", recordID, err)
	}
	return r.restoreRecord(ctx, rec)
}

func (r *Restorer) restoreRecord(ctx context.Context, rec *storage.RecoveryRecord) error {
	if rec.Restored {
		return fmt.Errorf("record %s was already restored", rec.ID)
	}
	if r.now().Sub(rec.CreatedAt) > RestoreWindow {
		return fmt.Errorf("record %s expired (removed %s)", rec.ID, rec.CreatedAt.Format("2006-01-02"))
	}
	if rec.BackupPath == "" {
		return fmt.Errorf("record %s has no backup to restore", rec.ID)
	}
	if _, err := os.Lstat(rec.BackupPath); os.IsNotExist(err) {
		return fmt.Errorf("backup for record %s is missing: %s", rec.ID, rec.BackupPath)
	}
	if _, err := os.Lstat(rec.OriginalPath); err == nil {
		return fmt.Errorf("refusing to overwrite existing path %s", rec.OriginalPath)
	}

	if err := r.recycle.Restore(rec.BackupPath, rec.OriginalPath, rec.Compressed); err != nil {
		return fmt.Errorf("restoring %s: %w", rec.OriginalPath, err)
	}
	if err := r.store.MarkRestored(ctx, rec.ID); err != nil {
		utils.Log.Warnf("marking record %s restored failed: %v", rec.ID, err)
	}
	utils.Log.Infof("restored %s", rec.OriginalPath)
	return nil
}

// RestorePlan restores every unrestored record of a plan, collecting
// per-record errors without stopping.
func (r *Restorer) RestorePlan(ctx context.Context, planID string) (restored int, errs []error) {
	records, err := r.store.ListRecoveryRecords(ctx, planID, true)
	if err != nil {
		return 0, []error{err}
	}
	for i := range records {
		if err := r.restoreRecord(ctx, &records[i]); err != nil {
			errs = append(errs, err)
			continue
		}
		restored++
	}
	return restored, errs
}

// PurgeExpired deletes backups past retention and drops their records.
func (r *Restorer) PurgeExpired(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		retention = RestoreWindow
	}
	cutoff := r.now().Add(-retention)
	records, err := r.store.ListExpiredRecoveryRecords(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, rec := range records {
		if rec.BackupPath != "" {
			if err := r.recycle.Purge(rec.ID); err != nil {
				utils.Log.Warnf("purging backup for record %s failed: %v", rec.ID, err)
				continue
			}
		}
		if err := r.store.DeleteRecoveryRecord(ctx, rec.ID); err != nil {
			utils.Log.Warnf("deleting record %s failed: %v", rec.ID, err)
			continue
		}
		purged++
	}
	return purged, nil
}
