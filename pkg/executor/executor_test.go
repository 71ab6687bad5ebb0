package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/sweepguard/sweepguard/pkg/risk"
	"github.com/sweepguard/sweepguard/pkg/storage"
)

type memRecordStore struct {
	records  []storage.RecoveryRecord
	statuses map[int64]string
}

func newMemRecordStore() *memRecordStore {
	return &memRecordStore{statuses: make(map[int64]string)}
}

func (s *memRecordStore) AddRecoveryRecord(ctx context.Context, rec *storage.RecoveryRecord) error {
	s.records = append(s.records, *rec)
	return nil
}

func (s *memRecordStore) UpdateItemStatus(ctx context.Context, itemID int64, status string, retryCount int) error {
	s.statuses[itemID] = status
	return nil
}

// flakyBackup fails a configurable number of times per path before
// handing off to the wrapped store.
type flakyBackup struct {
	inner     Backupper
	failures  map[string]int
	failErr   error
	attempts  int
	permanent map[string]bool
}

func (f *flakyBackup) Store(recordID, path string, isDir bool) (string, bool, error) {
	f.attempts++
	if f.permanent[path] {
		return "", false, f.failErr
	}
	if n := f.failures[path]; n > 0 {
		f.failures[path] = n - 1
		return "", false, f.failErr
	}
	if f.inner == nil {
		return "", false, nil
	}
	return f.inner.Store(recordID, path, isDir)
}

func newTestExecutor(t *testing.T, cfg Config, recycle Backupper, trash Disposer, store RecordStore) *Executor {
	t.Helper()
	e := New(cfg, nil, recycle, trash, store)
	e.hasElevation = func() bool { return false }
	e.requiresElevation = func(string) bool { return false }
	return e
}

func planItems(t *testing.T, dir string, names ...string) []storage.Item {
	t.Helper()
	items := make([]storage.Item, len(names))
	for i, name := range names {
		path := filepath.Join(dir, name)
		writeFile(t, path, "payload "+name)
		items[i] = storage.Item{
			ID:        int64(i + 1),
			PlanID:    "plan-1",
			Path:      path,
			SizeBytes: 100,
			RiskLevel: string(risk.LevelSafe),
			Status:    storage.ItemStatusPending,
		}
	}
	return items
}

func TestExecuteCompleted(t *testing.T) {
	tmp := t.TempDir()
	recycle, err := NewRecycleStore(filepath.Join(tmp, "recycle"), false)
	if err != nil {
		t.Fatal(err)
	}
	store := newMemRecordStore()
	e := newTestExecutor(t, Config{}, recycle, nil, store)

	items := planItems(t, filepath.Join(tmp, "files"), "a.tmp", "b.tmp", "c.tmp")
	res := e.Execute(context.Background(), "plan-1", items, nil)

	if res.Status != StatusCompleted {
		t.Fatalf("got status %s, want completed (%s)", res.Status, res.ErrorMessage)
	}
	if res.SuccessItems != 3 || res.FailedItems != 0 || res.SkippedItems != 0 {
		t.Errorf("got success=%d failed=%d skipped=%d", res.SuccessItems, res.FailedItems, res.SkippedItems)
	}
	if res.FreedSize != 300 {
		t.Errorf("FreedSize = %d, want 300", res.FreedSize)
	}
	for _, it := range items {
		if _, err := os.Lstat(it.Path); !os.IsNotExist(err) {
			t.Errorf("%s still exists", it.Path)
		}
		if it.Status != storage.ItemStatusSucceeded {
			t.Errorf("%s marked %s, want succeeded", it.Path, it.Status)
		}
	}
	if len(store.records) != 3 {
		t.Errorf("got %d recovery records, want 3", len(store.records))
	}
	for _, rec := range store.records {
		if rec.BackupPath == "" || rec.BackupType != string(BackupNone) {
			t.Errorf("record %s: backup %q type %q", rec.ID, rec.BackupPath, rec.BackupType)
		}
	}
}

func TestExecutePartialSuccess(t *testing.T) {
	tmp := t.TempDir()
	recycle, err := NewRecycleStore(filepath.Join(tmp, "recycle"), false)
	if err != nil {
		t.Fatal(err)
	}
	items := planItems(t, filepath.Join(tmp, "files"), "a.tmp", "b.tmp", "c.tmp")

	backup := &flakyBackup{
		inner:     recycle,
		failErr:   errors.New("device write fault"),
		permanent: map[string]bool{items[1].Path: true},
	}
	e := newTestExecutor(t, Config{MaxRetries: 1, RetryDelay: time.Millisecond}, backup, nil, nil)

	res := e.Execute(context.Background(), "plan-1", items, nil)
	if res.Status != StatusPartialSuccess {
		t.Fatalf("got status %s, want partial_success", res.Status)
	}
	if res.SuccessItems != 2 || res.FailedItems != 1 {
		t.Errorf("got success=%d failed=%d", res.SuccessItems, res.FailedItems)
	}
	if len(res.Failures) != 1 {
		t.Fatalf("got %d failures, want 1", len(res.Failures))
	}
	f := res.Failures[0]
	if f.Path != items[1].Path {
		t.Errorf("failure path %q, want %q", f.Path, items[1].Path)
	}
	// Unclassifiable backup errors are reported as backup failures worth
	// retrying.
	if f.ErrorType != ErrBackupFailed || f.SuggestedAction != ActionRetry {
		t.Errorf("failure classified as %s/%s", f.ErrorType, f.SuggestedAction)
	}
	if _, err := os.Lstat(items[1].Path); err != nil {
		t.Error("failed item no longer exists on disk")
	}
}

func TestExecuteRetriesTransientErrors(t *testing.T) {
	tmp := t.TempDir()
	recycle, err := NewRecycleStore(filepath.Join(tmp, "recycle"), false)
	if err != nil {
		t.Fatal(err)
	}
	items := planItems(t, filepath.Join(tmp, "files"), "busy.tmp")

	backup := &flakyBackup{
		inner:    recycle,
		failErr:  syscall.EBUSY,
		failures: map[string]int{items[0].Path: 2},
	}
	e := newTestExecutor(t, Config{MaxRetries: 3, RetryDelay: time.Millisecond}, backup, nil, nil)

	res := e.Execute(context.Background(), "plan-1", items, nil)
	if res.Status != StatusCompleted {
		t.Fatalf("got status %s, want completed", res.Status)
	}
	if backup.attempts != 3 {
		t.Errorf("got %d attempts, want 3 (two retries)", backup.attempts)
	}
	if items[0].RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", items[0].RetryCount)
	}
}

func TestExecuteAllFailed(t *testing.T) {
	tmp := t.TempDir()
	items := planItems(t, filepath.Join(tmp, "files"), "a.tmp")

	backup := &flakyBackup{
		failErr:   errors.New("device write fault"),
		permanent: map[string]bool{items[0].Path: true},
	}
	e := newTestExecutor(t, Config{MaxRetries: 1, RetryDelay: time.Millisecond}, backup, nil, nil)

	res := e.Execute(context.Background(), "plan-1", items, nil)
	if res.Status != StatusFailed {
		t.Errorf("got status %s, want failed", res.Status)
	}
	if res.FailedSize != 100 {
		t.Errorf("FailedSize = %d, want 100", res.FailedSize)
	}
}

func TestExecuteWhitelistSkip(t *testing.T) {
	tmp := t.TempDir()
	recycle, err := NewRecycleStore(filepath.Join(tmp, "recycle"), false)
	if err != nil {
		t.Fatal(err)
	}
	items := planItems(t, filepath.Join(tmp, "files"), "precious.txt")

	wl := risk.NewWhitelist()
	wl.Add(items[0].Path)
	e := New(Config{}, wl, recycle, nil, nil)
	e.hasElevation = func() bool { return false }
	e.requiresElevation = func(string) bool { return false }

	res := e.Execute(context.Background(), "plan-1", items, nil)
	if res.Status != StatusCompleted || res.SkippedItems != 1 || res.SuccessItems != 0 {
		t.Errorf("got status=%s skipped=%d success=%d", res.Status, res.SkippedItems, res.SuccessItems)
	}
	if _, err := os.Lstat(items[0].Path); err != nil {
		t.Error("whitelisted file was removed")
	}
}

func TestExecuteMissingFileSkipped(t *testing.T) {
	tmp := t.TempDir()
	e := newTestExecutor(t, Config{}, nil, nil, nil)

	items := []storage.Item{{PlanID: "plan-1", Path: filepath.Join(tmp, "gone.tmp"), SizeBytes: 10}}
	res := e.Execute(context.Background(), "plan-1", items, nil)
	if res.Status != StatusCompleted || res.SkippedItems != 1 {
		t.Errorf("got status=%s skipped=%d, want completed/1", res.Status, res.SkippedItems)
	}
}

func TestExecutePrivilegePrecheck(t *testing.T) {
	tmp := t.TempDir()
	items := planItems(t, filepath.Join(tmp, "files"), "a.tmp", "b.tmp")

	e := newTestExecutor(t, Config{}, nil, nil, nil)
	e.requiresElevation = func(path string) bool { return path == items[1].Path }

	res := e.Execute(context.Background(), "plan-1", items, nil)
	if res.Status != StatusFailed {
		t.Fatalf("got status %s, want failed", res.Status)
	}
	if res.SuccessItems != 0 || res.SkippedItems != 0 {
		t.Error("precheck abort still processed items")
	}
	if len(res.Failures) != 1 || res.Failures[0].ErrorType != ErrPermissionDenied {
		t.Errorf("got failures %+v", res.Failures)
	}
	if res.Failures[0].SuggestedAction != ActionAdminPrivilege {
		t.Errorf("got action %s, want admin_privilege", res.Failures[0].SuggestedAction)
	}
	// Nothing was touched.
	for _, it := range items {
		if _, err := os.Lstat(it.Path); err != nil {
			t.Errorf("%s was removed during an aborted run", it.Path)
		}
	}
}

func TestExecuteCancelled(t *testing.T) {
	tmp := t.TempDir()
	items := planItems(t, filepath.Join(tmp, "files"), "a.tmp")
	e := newTestExecutor(t, Config{}, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := e.Execute(ctx, "plan-1", items, nil)
	if res.Status != StatusCancelled {
		t.Errorf("got status %s, want cancelled", res.Status)
	}
	if res.SuccessItems != 0 && res.FailedItems != 0 {
		t.Error("cancelled run still processed items")
	}
}

func TestExecuteTrashFallback(t *testing.T) {
	tmp := t.TempDir()
	items := planItems(t, filepath.Join(tmp, "files"), "a.tmp")

	backup := &flakyBackup{
		failErr:   errors.New("device write fault"),
		permanent: map[string]bool{items[0].Path: true},
	}
	trash, err := NewTrash(filepath.Join(tmp, "trash"))
	if err != nil {
		t.Fatal(err)
	}
	store := newMemRecordStore()
	e := newTestExecutor(t, Config{MaxRetries: 1, RetryDelay: time.Millisecond}, backup, trash, store)

	res := e.Execute(context.Background(), "plan-1", items, nil)
	if res.Status != StatusCompleted || res.SuccessItems != 1 {
		t.Fatalf("got status=%s success=%d, want completed/1", res.Status, res.SuccessItems)
	}
	if _, err := os.Lstat(items[0].Path); !os.IsNotExist(err) {
		t.Error("trashed file still exists")
	}
	// Items taken by the OS trash are not restorable through recovery
	// records.
	if len(store.records) != 0 {
		t.Errorf("trash fallback produced %d recovery records", len(store.records))
	}
}

func TestBackupTypeForLevel(t *testing.T) {
	tests := []struct {
		level risk.Level
		want  BackupType
	}{
		{risk.LevelSafe, BackupNone},
		{risk.LevelSuspicious, BackupHardlink},
		{risk.LevelDangerous, BackupFull},
	}
	for _, tt := range tests {
		if got := BackupTypeForLevel(tt.level); got != tt.want {
			t.Errorf("BackupTypeForLevel(%s) = %s, want %s", tt.level, got, tt.want)
		}
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantType   ErrorType
		wantAction SuggestedAction
	}{
		{"permission", os.ErrPermission, ErrPermissionDenied, ActionAdminPrivilege},
		{"eacces", syscall.EACCES, ErrPermissionDenied, ActionAdminPrivilege},
		{"not found", os.ErrNotExist, ErrFileNotFound, ActionSkip},
		{"busy", syscall.EBUSY, ErrFileInUse, ActionCloseApp},
		{"disk full", syscall.ENOSPC, ErrDiskFull, ActionSkip},
		{"unknown", errors.New("boom"), ErrUnknown, ActionSkip},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotType, gotAction := ClassifyError(tt.err)
			if gotType != tt.wantType || gotAction != tt.wantAction {
				t.Errorf("ClassifyError(%v) = %s/%s, want %s/%s", tt.err, gotType, gotAction, tt.wantType, tt.wantAction)
			}
		})
	}
}
