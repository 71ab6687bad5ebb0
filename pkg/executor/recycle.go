package executor

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// RecycleStore is the managed backup area. Every removed item lives in
// its own record directory until restored or purged, so the deleting
// move doubles as the backup.
type RecycleStore struct {
	dir      string
	compress bool
}

// NewRecycleStore prepares the backup area at dir. When compress is set
// regular files are stored zstd-compressed instead of moved.
func NewRecycleStore(dir string, compress bool) (*RecycleStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("recycle store requires a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &RecycleStore{dir: dir, compress: compress}, nil
}

// Dir returns the store root.
func (s *RecycleStore) Dir() string { return s.dir }

// Store moves path into the record's backup directory and returns the
// backup location. The original is gone on success.
func (s *RecycleStore) Store(recordID, path string, isDir bool) (backupPath string, compressed bool, err error) {
	recordDir := filepath.Join(s.dir, recordID)
	if err := os.MkdirAll(recordDir, 0o755); err != nil {
		return "", false, err
	}
	dest := filepath.Join(recordDir, filepath.Base(path))

	if s.compress && !isDir {
		if err := compressFile(path, dest+".zst"); err != nil {
			_ = os.RemoveAll(recordDir)
			return "", false, err
		}
		if err := os.Remove(path); err != nil {
			_ = os.RemoveAll(recordDir)
			return "", false, err
		}
		return dest + ".zst", true, nil
	}

	if err := os.Rename(path, dest); err != nil {
		// Rename fails across filesystems; fall back to copy and delete.
		if cerr := copyTree(path, dest); cerr != nil {
			_ = os.RemoveAll(recordDir)
			return "", false, cerr
		}
		if rerr := os.RemoveAll(path); rerr != nil {
			return dest, false, rerr
		}
	}
	return dest, false, nil
}

// Restore moves a backup back to originalPath, decompressing when the
// backup was stored compressed. The record directory is cleaned up on
// success.
func (s *RecycleStore) Restore(backupPath, originalPath string, compressed bool) error {
	if err := os.MkdirAll(filepath.Dir(originalPath), 0o755); err != nil {
		return err
	}

	if compressed {
		if err := decompressFile(backupPath, originalPath); err != nil {
			return err
		}
	} else if err := os.Rename(backupPath, originalPath); err != nil {
		if cerr := copyTree(backupPath, originalPath); cerr != nil {
			return cerr
		}
	}

	_ = os.RemoveAll(filepath.Dir(backupPath))
	return nil
}

// Purge drops a record's backup directory.
func (s *RecycleStore) Purge(recordID string) error {
	return os.RemoveAll(filepath.Join(s.dir, recordID))
}

func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	enc, err := zstd.NewWriter(out)
	if err != nil {
		out.Close()
		return err
	}
	if _, err := io.Copy(enc, in); err != nil {
		enc.Close()
		out.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func decompressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	dec, err := zstd.NewReader(in)
	if err != nil {
		return err
	}
	defer dec.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, dec.IOReadCloser()); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// copyTree copies a file or directory tree preserving permissions.
func copyTree(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}

	if info.IsDir() {
		if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
			return err
		}
		entries, err := os.ReadDir(src)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if err := copyTree(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
				return err
			}
		}
		return nil
	}

	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(target, dst)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
