package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	homedir "github.com/mitchellh/go-homedir"
)

// Trash moves items into the user's OS trash directory (XDG layout:
// files/ plus a .trashinfo sidecar). It is the fallback when the
// managed recycle store cannot take an item; restoration then relies on
// the desktop environment's own retention.
type Trash struct {
	dir string
	now func() time.Time
}

// NewTrash resolves the trash location, defaulting to
// ~/.local/share/Trash.
func NewTrash(dir string) (*Trash, error) {
	if dir == "" {
		home, err := homedir.Dir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(home, ".local", "share", "Trash")
	}
	for _, sub := range []string{"files", "info"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o700); err != nil {
			return nil, err
		}
	}
	return &Trash{dir: dir, now: time.Now}, nil
}

// Dispose moves path into the trash under a collision-free name.
func (t *Trash) Dispose(path string) error {
	base := filepath.Base(path)
	name := base
	for i := 1; ; i++ {
		if _, err := os.Lstat(filepath.Join(t.dir, "files", name)); os.IsNotExist(err) {
			break
		}
		name = fmt.Sprintf("%s.%d", base, i)
	}

	info := fmt.Sprintf("[Trash Info]\nPath=%s\nDeletionDate=%s\n", path, t.now().Format("2006-01-02T15:04:05"))
	infoPath := filepath.Join(t.dir, "info", name+".trashinfo")
	if err := os.WriteFile(infoPath, []byte(info), 0o600); err != nil {
		return err
	}

	dest := filepath.Join(t.dir, "files", name)
	if err := os.Rename(path, dest); err != nil {
		if cerr := copyTree(path, dest); cerr != nil {
			_ = os.Remove(infoPath)
			return cerr
		}
		if rerr := os.RemoveAll(path); rerr != nil {
			return rerr
		}
	}
	return nil
}
