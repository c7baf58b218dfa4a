package controller

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"rasweb/internal/metrics"
	"rasweb/pkg/shell"
	"rasweb/pkg/validate"
)

// ImageResolver maps an image file name to the absolute path handed to rasctl.
type ImageResolver interface {
	Path(name string) (string, error)
}

type Options struct {
	Binary   string
	ImageDir string
}

// Client drives the rasctl binary. It holds no device state; every query
// re-reads the controller.
type Client struct {
	opts   Options
	run    shell.Runner
	images ImageResolver
	locks  *idLocks
	log    zerolog.Logger
}

func New(opts Options, run shell.Runner, images ImageResolver, logger zerolog.Logger) *Client {
	if opts.Binary == "" {
		opts.Binary = "rasctl"
	}
	if images == nil {
		images = dirResolver(opts.ImageDir)
	}
	return &Client{
		opts:   opts,
		run:    run,
		images: images,
		locks:  newIDLocks(),
		log:    logger.With().Str("component", "controller").Logger(),
	}
}

type dirResolver string

func (d dirResolver) Path(name string) (string, error) { return validate.JoinUnder(string(d), name) }

func (c *Client) List(ctx context.Context) ([]DeviceSlot, error) {
	res, err := c.exec(ctx, "list", "-l")
	if err != nil {
		return nil, err
	}
	slots, err := ParseList(res.Stdout, c.opts.ImageDir)
	if err != nil {
		c.log.Error().Err(err).Msg("unparseable rasctl list output")
		return nil, err
	}
	return slots, nil
}

// Slot returns the device at id, if one is attached.
func (c *Client) Slot(ctx context.Context, id int) (DeviceSlot, bool, error) {
	if err := ValidID(id); err != nil {
		return DeviceSlot{}, false, err
	}
	slots, err := c.List(ctx)
	if err != nil {
		return DeviceSlot{}, false, err
	}
	s, ok := lo.Find(slots, func(s DeviceSlot) bool { return s.ID == id })
	return s, ok, nil
}

func (c *Client) Attach(ctx context.Context, id int, typ string, file string) error {
	if err := ValidID(id); err != nil {
		return err
	}
	t, err := ParseDeviceType(typ)
	if err != nil {
		return err
	}
	file = normalizeFile(file)
	switch {
	case file == "" && t.RequiresFile():
		return ErrFileRequired
	case file != "" && !t.AcceptsFile():
		return ErrNoFile
	}
	args := []string{"-i", strconv.Itoa(id), "-c", "attach", "-t", string(t)}
	if file != "" {
		p, err := c.images.Path(file)
		if err != nil {
			return err
		}
		args = append(args, "-f", p)
	}
	defer c.locks.lock(id)()
	_, err = c.exec(ctx, "attach", args...)
	return err
}

func (c *Client) Detach(ctx context.Context, id int) error {
	return c.simple(ctx, id, "detach")
}

func (c *Client) Insert(ctx context.Context, id int, file string) error {
	p, err := c.insertPath(id, file)
	if err != nil {
		return err
	}
	defer c.locks.lock(id)()
	return c.insert(ctx, id, p)
}

// InsertIfEmpty inserts file only when the drive at id holds no media. The
// check and the insert run under the ID lock. It reports false, and runs
// nothing else, when media is already loaded.
func (c *Client) InsertIfEmpty(ctx context.Context, id int, file string) (bool, error) {
	p, err := c.insertPath(id, file)
	if err != nil {
		return false, err
	}
	defer c.locks.lock(id)()
	slots, err := c.List(ctx)
	if err != nil {
		return false, err
	}
	if s, ok := lo.Find(slots, func(s DeviceSlot) bool { return s.ID == id }); ok && s.File != "" {
		return false, nil
	}
	return true, c.insert(ctx, id, p)
}

func (c *Client) insertPath(id int, file string) (string, error) {
	if err := ValidID(id); err != nil {
		return "", err
	}
	file = normalizeFile(file)
	if file == "" {
		return "", ErrFileRequired
	}
	return c.images.Path(file)
}

func (c *Client) insert(ctx context.Context, id int, path string) error {
	_, err := c.exec(ctx, "insert", "-i", strconv.Itoa(id), "-c", "insert", "-f", path)
	return err
}

func (c *Client) Eject(ctx context.Context, id int) error {
	return c.simple(ctx, id, "eject")
}

func (c *Client) Protect(ctx context.Context, id int) error {
	return c.simple(ctx, id, "protect")
}

func (c *Client) Unprotect(ctx context.Context, id int) error {
	return c.simple(ctx, id, "unprotect")
}

func (c *Client) simple(ctx context.Context, id int, op string) error {
	if err := ValidID(id); err != nil {
		return err
	}
	defer c.locks.lock(id)()
	_, err := c.exec(ctx, op, "-i", strconv.Itoa(id), "-c", op)
	return err
}

func (c *Client) exec(ctx context.Context, op string, args ...string) (shell.Result, error) {
	start := time.Now()
	c.log.Debug().Strs("args", args).Str("op", op).Msg("rasctl")
	res, err := c.run.Run(ctx, c.opts.Binary, args...)
	err = shell.Check(c.opts.Binary, args, res, err)
	dur := time.Since(start)
	metrics.ObserveCommand(op, err, dur)
	if err != nil {
		c.log.Warn().Err(err).Str("op", op).Int("code", res.Code).Dur("duration", dur).Msg("rasctl failed")
	}
	return res, err
}

// normalizeFile maps the form placeholder "None" to no file.
func normalizeFile(f string) string {
	f = strings.TrimSpace(f)
	if strings.EqualFold(f, "none") {
		return ""
	}
	return f
}
