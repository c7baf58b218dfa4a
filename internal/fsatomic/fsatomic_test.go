package fsatomic

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestWriteFromWritesAndRenames(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "disk.hda")
	n, err := WriteFrom(context.Background(), path, strings.NewReader("hello"), 5, 0, nil)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != 5 {
		t.Fatalf("want 5 bytes, got %d", n)
	}
	b, err := os.ReadFile(path)
	if err != nil || string(b) != "hello" {
		t.Fatalf("read: %q %v", b, err)
	}
	if _, err := os.Stat(TempPath(path)); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
}

func TestWriteFromLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.iso")
	_, err := WriteFrom(context.Background(), path, bytes.NewReader(make([]byte, 11)), 10, 0, nil)
	if !errors.Is(err, ErrLimit) {
		t.Fatalf("want ErrLimit, got %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected empty dir, got %d entries", len(entries))
	}
}

func TestWriteFromRefusesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.hda")
	if err := os.WriteFile(path, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := WriteFrom(context.Background(), path, strings.NewReader("new"), 0, 0, nil)
	if !errors.Is(err, fs.ErrExist) {
		t.Fatalf("want ErrExist, got %v", err)
	}
	b, _ := os.ReadFile(path)
	if string(b) != "old" {
		t.Fatalf("existing file modified: %q", b)
	}
}

func TestWriteFromChecksExistenceInsideGuard(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.hda")
	guarded := 0
	guard := func(fn func() error) error {
		guarded++
		// another creator lands while the stream was in flight
		if err := os.WriteFile(path, []byte("theirs"), 0o644); err != nil {
			return err
		}
		return fn()
	}
	_, err := WriteFrom(context.Background(), path, strings.NewReader("ours"), 0, 0, guard)
	if !errors.Is(err, fs.ErrExist) {
		t.Fatalf("want ErrExist, got %v", err)
	}
	if guarded != 1 {
		t.Fatalf("guard ran %d times", guarded)
	}
	if b, _ := os.ReadFile(path); string(b) != "theirs" {
		t.Fatalf("existing file replaced: %q", b)
	}
	if _, err := os.Stat(TempPath(path)); !os.IsNotExist(err) {
		t.Fatalf("staged file left behind: %v", err)
	}
}

func TestWriteFromCancelled(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	path := filepath.Join(dir, "a.hda")
	if _, err := WriteFrom(ctx, path, strings.NewReader("x"), 0, 0, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("file should not exist: %v", err)
	}
}

func TestCreateExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.hda")
	f, err := Create(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	_ = f.Close()
	if _, err := Create(path, 0); !errors.Is(err, fs.ErrExist) {
		t.Fatalf("want ErrExist, got %v", err)
	}
}

func TestWithLockSerialises(t *testing.T) {
	path := filepath.Join(t.TempDir(), "images")
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := WithLock(path, func() error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()
				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("lock: %v", err)
			}
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("critical section entered concurrently: %d", maxSeen)
	}
}
