package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sweepguard/sweepguard/internal/utils"
	"github.com/sweepguard/sweepguard/pkg/risk"
	"github.com/sweepguard/sweepguard/pkg/storage"
)

// Status is the lifecycle state of an execution.
type Status string

const (
	StatusPending        Status = "pending"
	StatusRunning        Status = "running"
	StatusCompleted      Status = "completed"
	StatusPartialSuccess Status = "partial_success"
	StatusCancelled      Status = "cancelled"
	StatusFailed         Status = "failed"
)

// BackupType says how an item was preserved before removal.
type BackupType string

const (
	BackupNone     BackupType = "none"
	BackupHardlink BackupType = "hardlink"
	BackupFull     BackupType = "full"
)

// BackupTypeForLevel maps a risk tier to the backup effort it deserves.
func BackupTypeForLevel(level risk.Level) BackupType {
	switch level {
	case risk.LevelSafe:
		return BackupNone
	case risk.LevelDangerous:
		return BackupFull
	default:
		return BackupHardlink
	}
}

// FailureInfo describes one item that could not be cleaned.
type FailureInfo struct {
	Path            string
	ErrorType       ErrorType
	Message         string
	SuggestedAction SuggestedAction
}

// Result summarizes one executor run.
type Result struct {
	ExecutionID string
	PlanID      string
	Status      Status

	TotalItems   int
	SuccessItems int
	FailedItems  int
	SkippedItems int

	TotalSize  int64
	FreedSize  int64
	FailedSize int64

	StartedAt   time.Time
	CompletedAt time.Time

	ErrorMessage string
	Failures     []FailureInfo
}

// ToStorage converts the result into its persistence shape.
func (r *Result) ToStorage() (*storage.Execution, []storage.Failure) {
	exec := &storage.Execution{
		ID:           r.ExecutionID,
		PlanID:       r.PlanID,
		Status:       string(r.Status),
		TotalItems:   r.TotalItems,
		SuccessItems: r.SuccessItems,
		FailedItems:  r.FailedItems,
		SkippedItems: r.SkippedItems,
		TotalSize:    r.TotalSize,
		FreedSize:    r.FreedSize,
		FailedSize:   r.FailedSize,
		StartedAt:    r.StartedAt,
		CompletedAt:  r.CompletedAt,
		ErrorMessage: r.ErrorMessage,
	}
	failures := make([]storage.Failure, len(r.Failures))
	for i, f := range r.Failures {
		failures[i] = storage.Failure{
			ExecutionID:     r.ExecutionID,
			Path:            f.Path,
			ErrorType:       string(f.ErrorType),
			Message:         f.Message,
			SuggestedAction: string(f.SuggestedAction),
		}
	}
	return exec, failures
}

// Backupper is the managed backup boundary, implemented by RecycleStore.
type Backupper interface {
	Store(recordID, path string, isDir bool) (backupPath string, compressed bool, err error)
}

// Disposer is the OS trash boundary, implemented by Trash.
type Disposer interface {
	Dispose(path string) error
}

// RecordStore persists recovery records and item statuses during a run.
// A nil store disables persistence; the run itself is unaffected.
type RecordStore interface {
	AddRecoveryRecord(ctx context.Context, rec *storage.RecoveryRecord) error
	UpdateItemStatus(ctx context.Context, itemID int64, status string, retryCount int) error
}

// Config tunes the executor.
type Config struct {
	MaxRetries int
	RetryDelay time.Duration
}

// Executor removes plan items with backup-then-remove semantics. One
// item failing never aborts the batch; missing privileges for any item
// abort the whole run before anything is touched.
type Executor struct {
	cfg       Config
	whitelist *risk.Whitelist
	recycle   Backupper
	trash     Disposer
	store     RecordStore

	// Seams for privilege checks, replaced in tests.
	requiresElevation func(path string) bool
	hasElevation      func() bool

	now func() time.Time
}

func New(cfg Config, whitelist *risk.Whitelist, recycle Backupper, trash Disposer, store RecordStore) *Executor {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if whitelist == nil {
		whitelist = risk.NewWhitelist()
	}
	return &Executor{
		cfg:               cfg,
		whitelist:         whitelist,
		recycle:           recycle,
		trash:             trash,
		store:             store,
		requiresElevation: requiresElevation,
		hasElevation:      hasElevation,
		now:               time.Now,
	}
}

// Execute removes the selected items in order. The returned result is
// always populated, whatever happened.
func (e *Executor) Execute(ctx context.Context, planID string, items []storage.Item, progress func(done, total int)) *Result {
	res := &Result{
		ExecutionID: uuid.NewString(),
		PlanID:      planID,
		Status:      StatusRunning,
		TotalItems:  len(items),
		StartedAt:   e.now(),
	}
	for _, it := range items {
		res.TotalSize += it.SizeBytes
	}

	// Privilege precheck over the whole selection. One protected path
	// aborts the run with nothing processed.
	if !e.hasElevation() {
		for _, it := range items {
			if e.requiresElevation(it.Path) {
				res.Status = StatusFailed
				res.ErrorMessage = fmt.Sprintf("elevation required for %s; run aborted", it.Path)
				res.Failures = append(res.Failures, FailureInfo{
					Path:            it.Path,
					ErrorType:       ErrPermissionDenied,
					Message:         "administrator privileges required",
					SuggestedAction: ActionAdminPrivilege,
				})
				res.CompletedAt = e.now()
				return res
			}
		}
	}

	cancelled := false
	for i := range items {
		it := &items[i]

		if ctx.Err() != nil {
			cancelled = true
			break
		}

		e.processItem(ctx, res, it)

		if progress != nil {
			progress(i+1, len(items))
		}
	}

	res.CompletedAt = e.now()
	switch {
	case cancelled:
		res.Status = StatusCancelled
	case res.FailedItems > 0 && res.SuccessItems == 0:
		res.Status = StatusFailed
	case res.FailedItems > 0:
		res.Status = StatusPartialSuccess
	default:
		res.Status = StatusCompleted
	}
	return res
}

func (e *Executor) processItem(ctx context.Context, res *Result, it *storage.Item) {
	// Last line of defense: the whitelist may have grown since the plan
	// was built.
	if e.whitelist.Contains(it.Path) {
		utils.Log.Debugf("skipping whitelisted path %s", it.Path)
		res.SkippedItems++
		e.markItem(ctx, it, storage.ItemStatusSkipped, 0)
		return
	}

	if _, err := os.Lstat(it.Path); os.IsNotExist(err) {
		res.SkippedItems++
		e.markItem(ctx, it, storage.ItemStatusSkipped, 0)
		return
	}

	recordID := uuid.NewString()
	backupPath, compressed, retries, err := e.removeWithBackup(ctx, recordID, it)
	if err != nil {
		errType, action := ClassifyError(err)
		if errType == ErrUnknown {
			errType = ErrBackupFailed
			action = ActionRetry
		}
		utils.Log.WithFields(map[string]interface{}{
			"path":  it.Path,
			"error": err,
		}).Warn("cleanup failed")
		res.FailedItems++
		res.FailedSize += it.SizeBytes
		res.Failures = append(res.Failures, FailureInfo{
			Path:            it.Path,
			ErrorType:       errType,
			Message:         err.Error(),
			SuggestedAction: action,
		})
		e.markItem(ctx, it, storage.ItemStatusFailed, retries)
		return
	}

	res.SuccessItems++
	res.FreedSize += it.SizeBytes
	e.markItem(ctx, it, storage.ItemStatusSucceeded, retries)

	// Only the managed store yields a restorable record; the OS trash
	// keeps its own retention.
	if backupPath != "" && e.store != nil {
		rec := &storage.RecoveryRecord{
			ID:           recordID,
			PlanID:       it.PlanID,
			ItemID:       it.ID,
			OriginalPath: it.Path,
			BackupPath:   backupPath,
			BackupType:   string(BackupTypeForLevel(risk.Level(it.RiskLevel))),
			Compressed:   compressed,
			CreatedAt:    e.now(),
		}
		if err := e.store.AddRecoveryRecord(ctx, rec); err != nil {
			utils.Log.Warnf("storing recovery record for %s failed: %v", it.Path, err)
		}
	}
}

// removeWithBackup moves the item into the managed store, retrying
// transient errors, then falls back to the OS trash. The returned
// backupPath is empty when the trash took the item.
func (e *Executor) removeWithBackup(ctx context.Context, recordID string, it *storage.Item) (backupPath string, compressed bool, retries int, err error) {
	if e.recycle != nil {
		for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
			if attempt > 0 {
				retries++
				select {
				case <-time.After(e.cfg.RetryDelay):
				case <-ctx.Done():
					return "", false, retries, ctx.Err()
				}
			}
			backupPath, compressed, err = e.recycle.Store(recordID, it.Path, it.IsDir)
			if err == nil {
				return backupPath, compressed, retries, nil
			}
			errType, _ := ClassifyError(err)
			if !retryable(errType) {
				break
			}
		}
		utils.Log.Debugf("managed backup of %s failed (%v); trying OS trash", it.Path, err)
	}

	if e.trash != nil {
		if terr := e.trash.Dispose(it.Path); terr == nil {
			return "", false, retries, nil
		} else if err == nil {
			err = terr
		}
	}

	if err == nil {
		err = fmt.Errorf("no backup destination configured")
	}
	return "", false, retries, err
}

func (e *Executor) markItem(ctx context.Context, it *storage.Item, status string, retries int) {
	it.Status = status
	it.RetryCount = retries
	if e.store == nil || it.ID == 0 {
		return
	}
	if err := e.store.UpdateItemStatus(ctx, it.ID, status, retries); err != nil {
		utils.Log.Warnf("updating item status for %s failed: %v", it.Path, err)
	}
}

var systemPrefixes = []string{
	"/etc/", "/usr/", "/bin/", "/sbin/", "/lib/", "/boot/", "/var/",
	"c:/windows", "c:/program files",
}

func requiresElevation(path string) bool {
	norm := strings.ToLower(filepath.ToSlash(path))
	for _, prefix := range systemPrefixes {
		if strings.HasPrefix(norm, prefix) {
			return true
		}
	}
	return false
}

func hasElevation() bool {
	if runtime.GOOS == "windows" {
		// Windows elevation is checked by attempting the operation.
		return true
	}
	return os.Geteuid() == 0
}
