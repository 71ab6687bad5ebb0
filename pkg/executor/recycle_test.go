package executor

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRecycleStoreRoundtrip(t *testing.T) {
	tmp := t.TempDir()
	store, err := NewRecycleStore(filepath.Join(tmp, "recycle"), false)
	if err != nil {
		t.Fatal(err)
	}

	victim := filepath.Join(tmp, "files", "report.txt")
	writeFile(t, victim, "hello")

	backupPath, compressed, err := store.Store("rec-1", victim, false)
	if err != nil {
		t.Fatal(err)
	}
	if compressed {
		t.Error("uncompressed store reported compressed")
	}
	if _, err := os.Lstat(victim); !os.IsNotExist(err) {
		t.Error("original still exists after store")
	}
	if _, err := os.Lstat(backupPath); err != nil {
		t.Fatalf("backup missing: %v", err)
	}

	if err := store.Restore(backupPath, victim, false); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(victim)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Errorf("restored content = %q, want hello", data)
	}
	if _, err := os.Lstat(filepath.Dir(backupPath)); !os.IsNotExist(err) {
		t.Error("record directory survived the restore")
	}
}

func TestRecycleStoreCompressed(t *testing.T) {
	tmp := t.TempDir()
	store, err := NewRecycleStore(filepath.Join(tmp, "recycle"), true)
	if err != nil {
		t.Fatal(err)
	}

	victim := filepath.Join(tmp, "files", "big.log")
	writeFile(t, victim, "line one\nline two\nline three\n")

	backupPath, compressed, err := store.Store("rec-2", victim, false)
	if err != nil {
		t.Fatal(err)
	}
	if !compressed {
		t.Fatal("compressing store reported uncompressed")
	}
	if filepath.Ext(backupPath) != ".zst" {
		t.Errorf("backup path %q lacks the .zst suffix", backupPath)
	}
	if _, err := os.Lstat(victim); !os.IsNotExist(err) {
		t.Error("original still exists after store")
	}

	if err := store.Restore(backupPath, victim, true); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(victim)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "line one\nline two\nline three\n" {
		t.Errorf("decompressed content = %q", data)
	}
}

func TestRecycleStoreDirectory(t *testing.T) {
	tmp := t.TempDir()
	store, err := NewRecycleStore(filepath.Join(tmp, "recycle"), true)
	if err != nil {
		t.Fatal(err)
	}

	dir := filepath.Join(tmp, "files", "leftovers")
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	writeFile(t, filepath.Join(dir, "sub", "b.txt"), "b")

	// Directories are never compressed, even when compression is on.
	backupPath, compressed, err := store.Store("rec-3", dir, true)
	if err != nil {
		t.Fatal(err)
	}
	if compressed {
		t.Error("directory store reported compressed")
	}

	if err := store.Restore(backupPath, dir, false); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "sub", "b.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "b" {
		t.Errorf("nested file content = %q, want b", data)
	}
}

func TestRecycleStorePurge(t *testing.T) {
	tmp := t.TempDir()
	store, err := NewRecycleStore(filepath.Join(tmp, "recycle"), false)
	if err != nil {
		t.Fatal(err)
	}

	victim := filepath.Join(tmp, "files", "junk.tmp")
	writeFile(t, victim, "junk")
	backupPath, _, err := store.Store("rec-4", victim, false)
	if err != nil {
		t.Fatal(err)
	}

	if err := store.Purge("rec-4"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Lstat(backupPath); !os.IsNotExist(err) {
		t.Error("backup survived the purge")
	}
}

func TestNewRecycleStoreRequiresDir(t *testing.T) {
	if _, err := NewRecycleStore("", false); err == nil {
		t.Error("NewRecycleStore accepted an empty directory")
	}
}
