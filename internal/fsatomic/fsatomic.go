package fsatomic

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// ErrLimit is returned by WriteFrom when the source holds more than the allowed bytes.
var ErrLimit = errors.New("write exceeds size limit")

// TempPath is where WriteFrom stages data for path. The leading dot keeps
// partial files out of directory listings.
func TempPath(path string) string {
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".part")
}

// Guard runs fn while holding whatever lock protects the destination directory.
type Guard func(fn func() error) error

// WriteFrom streams r into path+".part", fsyncs, then renames into place.
// At most limit bytes are accepted (limit <= 0 means unlimited); a longer
// stream fails with ErrLimit and leaves nothing behind. An existing path is
// never overwritten: the rename is refused with fs.ErrExist.
// The existence check and the rename run inside guard when it is non-nil, so
// creators holding the same lock cannot slip in between them.
// If perm is 0, 0644 is used.
func WriteFrom(ctx context.Context, path string, r io.Reader, limit int64, perm fs.FileMode, guard Guard) (int64, error) {
	if perm == 0 {
		perm = 0o644
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	tmp := TempPath(path)
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return 0, err
	}
	fail := func(err error) (int64, error) {
		_ = f.Close()
		_ = os.Remove(tmp)
		return 0, err
	}

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	n, err := io.Copy(f, ctxReader{ctx: ctx, r: src})
	if err != nil {
		return fail(err)
	}
	if limit > 0 && n > limit {
		return fail(ErrLimit)
	}
	if err := f.Sync(); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	commit := func() error {
		if _, err := os.Lstat(path); err == nil {
			return fs.ErrExist
		}
		return rename(tmp, path)
	}
	if guard != nil {
		err = guard(commit)
	} else {
		err = commit()
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	return n, fsyncDir(filepath.Dir(path))
}

// Create makes a new empty file at path and fails if it already exists.
func Create(path string, perm fs.FileMode) (*os.File, error) {
	if perm == 0 {
		perm = 0o644
	}
	return os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
}

// WithLock acquires an exclusive advisory lock for the duration of fn. The lock
// file sits next to path as a dotfile.
func WithLock(path string, fn func() error) error {
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	unlock, err := flockExclusive(LockPath(path))
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

// LockPath is the lock file used by WithLock for path.
func LockPath(path string) string {
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".lock")
}

func rename(from, to string) error {
	var err error
	for i := 0; i < 5; i++ {
		if err = os.Rename(from, to); err == nil || runtime.GOOS != "windows" {
			return err
		}
		// transient sharing violations on Windows
		time.Sleep(time.Duration(10*(i+1)) * time.Millisecond)
	}
	return err
}

// fsyncDir calls Sync on a directory to persist metadata; no-op on Windows.
func fsyncDir(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
