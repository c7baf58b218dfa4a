// Package images manages the directory of disk image files served to the
// SCSI controller.
package images

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/shirou/gopsutil/v3/disk"

	"rasweb/internal/fsatomic"
	"rasweb/pkg/validate"
)

var (
	ErrExists       = errors.New("image already exists")
	ErrNotFound     = errors.New("image not found")
	ErrNotConfirmed = errors.New("delete requires confirmation")
	ErrNoSpace      = errors.New("not enough free space")
	ErrTooLarge     = fmt.Errorf("%w: upload exceeds maximum size", validate.ErrInvalid)
	ErrInvalidSize  = fmt.Errorf("%w: image size out of range", validate.ErrInvalid)
)

// ActionDelete is the action name a Confirmation must vouch for before Delete runs.
const ActionDelete = "delete_file"

// Confirmation is proof that a user confirmed action on target.
type Confirmation interface {
	Confirms(action, target string) bool
}

type Category string

const (
	CategoryHardDisk  Category = "Hard Disk Image"
	CategoryCDROM     Category = "CD-ROM Image"
	CategoryMO        Category = "MO Image"
	CategoryRemovable Category = "Removable Image"
	CategoryUnknown   Category = "Unknown"
)

var categories = map[string]Category{
	"hda":   CategoryHardDisk,
	"hds":   CategoryHardDisk,
	"hdn":   CategoryHardDisk,
	"hdi":   CategoryHardDisk,
	"nhd":   CategoryHardDisk,
	"hdf":   CategoryHardDisk,
	"hdr":   CategoryRemovable,
	"iso":   CategoryCDROM,
	"cdr":   CategoryCDROM,
	"toast": CategoryCDROM,
	"mos":   CategoryMO,
}

// CategoryOf derives the category from the file extension.
func CategoryOf(name string) Category {
	if c, ok := categories[validate.Ext(name)]; ok {
		return c
	}
	return CategoryUnknown
}

// DeviceType is the controller type an image of this category attaches as.
func (c Category) DeviceType() string {
	switch c {
	case CategoryCDROM:
		return "cd"
	case CategoryMO:
		return "mo"
	case CategoryRemovable:
		return "rm"
	}
	return "hd"
}

type ImageFile struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"modTime"`
	Category Category  `json:"category"`
}

type Options struct {
	Dir               string
	AllowedExtensions []string
	MaxUploadBytes    int64
	MaxCreateMB       int
}

// Usage is the space on the filesystem holding the image directory.
type Usage struct {
	Total uint64 `json:"total"`
	Free  uint64 `json:"free"`
	Used  uint64 `json:"used"`
}

type Store struct {
	opts  Options
	log   zerolog.Logger
	usage func(ctx context.Context, path string) (Usage, error)
}

func New(opts Options, logger zerolog.Logger) *Store {
	opts.Dir = filepath.Clean(opts.Dir)
	return &Store{
		opts:  opts,
		log:   logger.With().Str("component", "images").Logger(),
		usage: diskUsage,
	}
}

func diskUsage(ctx context.Context, path string) (Usage, error) {
	u, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return Usage{}, err
	}
	return Usage{Total: u.Total, Free: u.Free, Used: u.Used}, nil
}

func (s *Store) Dir() string { return s.opts.Dir }

// Extensions returns the allow-list, lower-case without dots.
func (s *Store) Extensions() []string {
	return lo.Map(s.opts.AllowedExtensions, func(e string, _ int) string {
		return strings.ToLower(strings.TrimPrefix(e, "."))
	})
}

func (s *Store) MaxUploadBytes() int64 { return s.opts.MaxUploadBytes }

func (s *Store) List(ctx context.Context) ([]ImageFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.opts.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []ImageFile{}, nil
		}
		return nil, err
	}
	out := make([]ImageFile, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") || !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // removed while listing
		}
		out = append(out, fileInfo(info))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func fileInfo(info fs.FileInfo) ImageFile {
	return ImageFile{
		Name:     info.Name(),
		Size:     info.Size(),
		ModTime:  info.ModTime().UTC(),
		Category: CategoryOf(info.Name()),
	}
}

// Path validates name and returns its absolute location in the image dir.
// The file need not exist yet.
func (s *Store) Path(name string) (string, error) {
	if err := validate.Extension(name, s.opts.AllowedExtensions); err != nil {
		return "", err
	}
	return validate.JoinUnder(s.opts.Dir, name)
}

func (s *Store) Stat(name string) (ImageFile, error) {
	p, err := validate.JoinUnder(s.opts.Dir, name)
	if err != nil {
		return ImageFile{}, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ImageFile{}, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return ImageFile{}, err
	}
	if !info.Mode().IsRegular() {
		return ImageFile{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return fileInfo(info), nil
}

// Create makes an empty image of sizeMB mebibytes, zero filled.
func (s *Store) Create(ctx context.Context, name string, sizeMB int) (ImageFile, error) {
	p, err := s.Path(name)
	if err != nil {
		return ImageFile{}, err
	}
	if sizeMB < 1 || (s.opts.MaxCreateMB > 0 && sizeMB > s.opts.MaxCreateMB) {
		return ImageFile{}, fmt.Errorf("%w: %d MB (1-%d)", ErrInvalidSize, sizeMB, s.opts.MaxCreateMB)
	}
	size := int64(sizeMB) << 20
	var out ImageFile
	err = s.withLock(func() error {
		if exists(p) {
			return fmt.Errorf("%w: %s", ErrExists, name)
		}
		if err := s.checkFree(ctx, size); err != nil {
			return err
		}
		f, err := fsatomic.Create(p, 0o644)
		if err != nil {
			if errors.Is(err, fs.ErrExist) {
				return fmt.Errorf("%w: %s", ErrExists, name)
			}
			return err
		}
		if err := allocate(f, size); err != nil {
			_ = f.Close()
			_ = os.Remove(p)
			return err
		}
		if err := f.Close(); err != nil {
			_ = os.Remove(p)
			return err
		}
		info, err := os.Stat(p)
		if err != nil {
			return err
		}
		out = fileInfo(info)
		return nil
	})
	if err != nil {
		return ImageFile{}, err
	}
	s.log.Info().Str("name", name).Int("sizeMB", sizeMB).Msg("image created")
	return out, nil
}

// Upload stores r as name. declared is the size announced by the client, or
// -1 when unknown; it is checked before any byte is read. The stream itself is
// cut off at the configured maximum.
func (s *Store) Upload(ctx context.Context, name string, declared int64, r io.Reader) (ImageFile, error) {
	p, err := s.Path(name)
	if err != nil {
		return ImageFile{}, err
	}
	limit := s.opts.MaxUploadBytes
	if limit > 0 && declared > limit {
		return ImageFile{}, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, declared, limit)
	}
	if exists(p) {
		return ImageFile{}, fmt.Errorf("%w: %s", ErrExists, name)
	}
	if declared > 0 {
		if err := s.checkFree(ctx, declared); err != nil {
			return ImageFile{}, err
		}
	}
	// the body streams without the directory lock; the existence check and
	// the rename into place run under it
	n, err := fsatomic.WriteFrom(ctx, p, r, limit, 0o644, s.withLock)
	switch {
	case errors.Is(err, fsatomic.ErrLimit):
		return ImageFile{}, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
	case errors.Is(err, fs.ErrExist):
		return ImageFile{}, fmt.Errorf("%w: %s", ErrExists, name)
	case err != nil:
		return ImageFile{}, err
	}
	s.log.Info().Str("name", name).Int64("bytes", n).Msg("image uploaded")
	return s.Stat(name)
}

// Delete removes name. It refuses unless c vouches for a confirmed delete of
// exactly this name.
func (s *Store) Delete(ctx context.Context, name string, c Confirmation) error {
	p, err := validate.JoinUnder(s.opts.Dir, name)
	if err != nil {
		return err
	}
	if c == nil || !c.Confirms(ActionDelete, name) {
		return fmt.Errorf("%w: %s", ErrNotConfirmed, name)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err = s.withLock(func() error {
		info, err := os.Lstat(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("%w: %s", ErrNotFound, name)
			}
			return err
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return os.Remove(p)
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("name", name).Msg("image deleted")
	return nil
}

// SuggestName returns the first unused new_fileN.hda.
func (s *Store) SuggestName() string {
	for i := 1; ; i++ {
		n := fmt.Sprintf("new_file%d.hda", i)
		if !exists(filepath.Join(s.opts.Dir, n)) {
			return n
		}
	}
}

func (s *Store) Usage(ctx context.Context) (Usage, error) {
	return s.usage(ctx, s.opts.Dir)
}

func (s *Store) checkFree(ctx context.Context, need int64) error {
	u, err := s.usage(ctx, s.opts.Dir)
	if err != nil {
		s.log.Warn().Err(err).Msg("free space unknown")
		return nil
	}
	if uint64(need) > u.Free {
		return fmt.Errorf("%w: need %d bytes, %d free", ErrNoSpace, need, u.Free)
	}
	return nil
}

func (s *Store) withLock(fn func() error) error {
	if err := os.MkdirAll(s.opts.Dir, 0o755); err != nil {
		return err
	}
	return fsatomic.WithLock(filepath.Join(s.opts.Dir, "images"), fn)
}

func exists(p string) bool {
	_, err := os.Lstat(p)
	return err == nil
}
