package validate

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/samber/lo"
)

var (
	// ErrInvalid is wrapped by every input validation failure in rasweb.
	ErrInvalid      = errors.New("invalid input")
	ErrBadName      = fmt.Errorf("%w: invalid file name", ErrInvalid)
	ErrBadPath      = fmt.Errorf("%w: path escapes its directory", ErrInvalid)
	ErrBadExtension = fmt.Errorf("%w: file type not allowed", ErrInvalid)
)

// FileName accepts a bare file name that stays inside its directory.
func FileName(s string) error {
	switch {
	case s == "", s == ".", s == "..", len(s) > 255:
		return ErrBadName
	case strings.HasPrefix(s, "."):
		return ErrBadName
	case strings.ContainsAny(s, "/\\\x00"):
		return ErrBadName
	case strings.TrimSpace(s) != s:
		return ErrBadName
	}
	return nil
}

// Ext returns the lower-cased extension of name without the dot.
func Ext(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// Extension checks name against an allow-list of extensions (with or without dots).
func Extension(name string, allowed []string) error {
	ext := Ext(name)
	if ext == "" {
		return fmt.Errorf("%w: %q has no extension", ErrBadExtension, name)
	}
	ok := lo.ContainsBy(allowed, func(a string) bool {
		return strings.EqualFold(strings.TrimPrefix(a, "."), ext)
	})
	if !ok {
		return fmt.Errorf("%w: %q (allowed: %s)", ErrBadExtension, ext, strings.Join(allowed, ", "))
	}
	return nil
}

// JoinUnder joins name to root and guarantees the result is a direct child of root,
// resolving symlinks the way securejoin does.
func JoinUnder(root, name string) (string, error) {
	if err := FileName(name); err != nil {
		return "", err
	}
	p, err := securejoin.SecureJoin(root, name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadPath, err)
	}
	if filepath.Dir(p) != filepath.Clean(root) {
		return "", ErrBadPath
	}
	return p, nil
}
