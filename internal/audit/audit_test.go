package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndRecent(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "db", "audit.db"), zerolog.Nop())
	require.NoError(t, err)
	defer l.Close()
	ctx := context.Background()

	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, l.Record(ctx, Entry{At: at, Action: "connect_new_device", Target: "2", Params: map[string]string{"type": "cd"}, State: "executed"}))
	require.NoError(t, l.Record(ctx, Entry{Action: "delete_file", Target: "a.hda", State: "failed", Detail: "image not found"}))

	got, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "delete_file", got[0].Action)
	assert.Equal(t, "image not found", got[0].Detail)
	assert.Nil(t, got[0].Params)
	assert.Equal(t, "cd", got[1].Params["type"])
	assert.True(t, got[1].At.Equal(at))

	got, err = l.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestNilLogIsNoop(t *testing.T) {
	var l *Log
	assert.NoError(t, l.Record(context.Background(), Entry{Action: "x"}))
	got, err := l.Recent(context.Background(), 5)
	assert.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, l.Close())
}
