package controller

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rasweb/internal/controller/ctltest"
	"rasweb/pkg/shell"
	"rasweb/pkg/validate"
)

func newTestClient(t *testing.T) (*Client, *ctltest.Fake, string) {
	t.Helper()
	dir := t.TempDir()
	fake := ctltest.New()
	c := New(Options{Binary: "rasctl", ImageDir: dir}, fake, nil, zerolog.Nop())
	return c, fake, dir
}

func TestAttachEveryIDThenList(t *testing.T) {
	c, _, _ := newTestClient(t)
	ctx := context.Background()
	for id := 0; id <= MaxID; id++ {
		require.NoError(t, c.Attach(ctx, id, "Hard Disk", "disk"+strconv.Itoa(id)+".hda"))
	}
	slots, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, slots, MaxID+1)
	for i, s := range slots {
		assert.Equal(t, i, s.ID)
		assert.Equal(t, TypeHardDisk, s.Type)
		assert.Equal(t, "disk"+strconv.Itoa(i)+".hda", s.File)
	}
}

func TestAttachCDROM(t *testing.T) {
	c, fake, dir := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Attach(ctx, 2, "CD-ROM", "game.iso"))

	muts := fake.Mutations()
	require.Len(t, muts, 1)
	assert.Equal(t, "rasctl", muts[0].Name)
	assert.Equal(t, []string{"-i", "2", "-c", "attach", "-t", "cd", "-f", filepath.Join(dir, "game.iso")}, muts[0].Args)

	s, ok, err := c.Slot(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, TypeCDROM, s.Type)
	assert.Equal(t, "game.iso", s.File)

	_, ok, err = c.Slot(ctx, 3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAttachEmptyCDROMAndInsertEject(t *testing.T) {
	c, fake, dir := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Attach(ctx, 4, "cd", "None"))
	s, _, err := c.Slot(ctx, 4)
	require.NoError(t, err)
	assert.True(t, s.NoMedia)

	require.NoError(t, c.Insert(ctx, 4, "other.iso"))
	s, _, _ = c.Slot(ctx, 4)
	assert.Equal(t, "other.iso", s.File)
	assert.False(t, s.NoMedia)

	require.NoError(t, c.Eject(ctx, 4))
	s, _, _ = c.Slot(ctx, 4)
	assert.True(t, s.NoMedia)

	muts := fake.Mutations()
	require.Len(t, muts, 3)
	assert.Equal(t, []string{"-i", "4", "-c", "attach", "-t", "cd"}, muts[0].Args)
	assert.Equal(t, []string{"-i", "4", "-c", "insert", "-f", filepath.Join(dir, "other.iso")}, muts[1].Args)
	assert.Equal(t, []string{"-i", "4", "-c", "eject"}, muts[2].Args)
}

func TestInsertIfEmpty(t *testing.T) {
	c, fake, _ := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.Attach(ctx, 5, "cd", ""))

	ok, err := c.InsertIfEmpty(ctx, 5, "first.iso")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.InsertIfEmpty(ctx, 5, "second.iso")
	require.NoError(t, err)
	assert.False(t, ok, "loaded drive is left alone")

	s, _, _ := c.Slot(ctx, 5)
	assert.Equal(t, "first.iso", s.File)
	assert.Len(t, fake.Mutations(), 2, "attach and the first insert only")

	_, err = c.InsertIfEmpty(ctx, 5, "../x.iso")
	assert.ErrorIs(t, err, validate.ErrInvalid)
}

func TestDetachAndProtect(t *testing.T) {
	c, _, _ := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.Attach(ctx, 1, "hd", "a.hda"))
	require.NoError(t, c.Protect(ctx, 1))
	s, _, _ := c.Slot(ctx, 1)
	assert.True(t, s.WriteProtected)
	assert.Equal(t, "a.hda", s.File)

	require.NoError(t, c.Unprotect(ctx, 1))
	s, _, _ = c.Slot(ctx, 1)
	assert.False(t, s.WriteProtected)

	require.NoError(t, c.Detach(ctx, 1))
	slots, err := c.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestValidationRunsNoSubprocess(t *testing.T) {
	c, fake, _ := newTestClient(t)
	ctx := context.Background()

	cases := []struct {
		name string
		run  func() error
		want error
	}{
		{"id too high", func() error { return c.Attach(ctx, 8, "hd", "a.hda") }, ErrBadID},
		{"negative id", func() error { return c.Detach(ctx, -1) }, ErrBadID},
		{"unknown type", func() error { return c.Attach(ctx, 0, "floppy", "a.hda") }, ErrBadType},
		{"hd without file", func() error { return c.Attach(ctx, 0, "hd", "") }, ErrFileRequired},
		{"bridge with file", func() error { return c.Attach(ctx, 6, "bridge", "a.hda") }, ErrNoFile},
		{"traversal", func() error { return c.Attach(ctx, 0, "hd", "../../etc/passwd") }, validate.ErrBadName},
		{"insert traversal", func() error { return c.Insert(ctx, 0, "../x.iso") }, validate.ErrBadName},
		{"insert nothing", func() error { return c.Insert(ctx, 0, "None") }, ErrFileRequired},
		{"eject bad id", func() error { return c.Eject(ctx, 99) }, ErrBadID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.run()
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.ErrorIs(t, err, validate.ErrInvalid)
		})
	}
	assert.Empty(t, fake.Calls())
}

func TestControllerFailureSurfacesOutput(t *testing.T) {
	c, fake, _ := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.Attach(ctx, 3, "hd", "a.hda"))

	err := c.Attach(ctx, 3, "hd", "b.hda")
	var ce *shell.CommandError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, 1, ce.Code)
	assert.Contains(t, ce.Lines, "Error : Duplicate ID 3")

	fake.FailNext("Error : Operation denied")
	err = c.Detach(ctx, 3)
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, err.Error(), "Operation denied")
	assert.Contains(t, ce.Command(), "-c detach")
}

func TestListRejectsGarbage(t *testing.T) {
	c, fake, _ := newTestClient(t)
	fake.SetListOutput([]byte("|  1 | SCHD\n"))
	_, err := c.List(context.Background())
	var pe *ParseError
	assert.True(t, errors.As(err, &pe))
}

func TestStderrOnSuccessIsFailure(t *testing.T) {
	run := runnerFunc(func(ctx context.Context, name string, args ...string) (shell.Result, error) {
		return shell.Result{Stderr: []byte("warning: odd\n")}, nil
	})
	c := New(Options{ImageDir: t.TempDir()}, run, nil, zerolog.Nop())
	err := c.Eject(context.Background(), 0)
	var ce *shell.CommandError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "rasctl", ce.Name)
	assert.Equal(t, []string{"warning: odd"}, ce.Lines)
}

type runnerFunc func(ctx context.Context, name string, args ...string) (shell.Result, error)

func (f runnerFunc) Run(ctx context.Context, name string, args ...string) (shell.Result, error) {
	return f(ctx, name, args...)
}
