package validate

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileName_Valid(t *testing.T) {
	valid := []string{
		"harddisk.hda",
		"Mac OS 7.5.iso",
		"new_file1.hda",
		strings.Repeat("a", 251) + ".hda",
	}
	for _, v := range valid {
		if err := FileName(v); err != nil {
			t.Fatalf("expected valid name %q, got error: %v", v, err)
		}
	}
}

func TestFileName_Invalid(t *testing.T) {
	invalid := []string{
		"",
		".",
		"..",
		".hidden.hda",
		"../etc/passwd",
		"sub/dir.hda",
		"back\\slash.iso",
		" padded.iso",
		"nul\x00.iso",
		strings.Repeat("a", 256),
	}
	for _, v := range invalid {
		err := FileName(v)
		if err == nil {
			t.Fatalf("expected error for invalid name %q", v)
		}
		if !errors.Is(err, ErrInvalid) {
			t.Fatalf("name errors must wrap ErrInvalid: %v", err)
		}
	}
}

func TestExtension(t *testing.T) {
	allowed := []string{"hda", ".iso", "HDS"}
	for _, ok := range []string{"a.hda", "b.ISO", "c.hds", "d.tar.iso"} {
		if err := Extension(ok, allowed); err != nil {
			t.Fatalf("expected %q allowed: %v", ok, err)
		}
	}
	for _, bad := range []string{"a.exe", "noext", "b.hda.sh", "c.is"} {
		err := Extension(bad, allowed)
		if !errors.Is(err, ErrBadExtension) || !errors.Is(err, ErrInvalid) {
			t.Fatalf("expected extension error for %q, got %v", bad, err)
		}
	}
}

func TestJoinUnder(t *testing.T) {
	dir := t.TempDir()
	p, err := JoinUnder(dir, "disk.hda")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if p != filepath.Join(dir, "disk.hda") {
		t.Fatalf("unexpected path %s", p)
	}
	if _, err := JoinUnder(dir, "../escape.hda"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("traversal must be rejected, got %v", err)
	}

	// a symlink pointing outside the directory must not resolve to a direct child
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(dir, "link.iso")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if _, err := JoinUnder(dir, "link.iso"); err == nil {
		t.Fatalf("symlink escape should be rejected")
	}
}
