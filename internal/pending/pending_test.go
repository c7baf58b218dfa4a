package pending

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClockStore(ttl time.Duration) (*Store, *time.Time) {
	s := NewStore(ttl)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestProposeConfirmOnce(t *testing.T) {
	s, _ := newClockStore(time.Minute)
	params := map[string]string{"id": "3"}
	a := s.Propose("remove_device", "3", params, "Are you sure?")
	params["id"] = "5"

	require.NotEmpty(t, a.Token)
	assert.Equal(t, 1, s.Len())

	got, err := s.Get(a.Token)
	require.NoError(t, err)
	assert.Equal(t, "3", got.Params["id"], "stored params are a copy")

	c, err := s.Confirm(a.Token)
	require.NoError(t, err)
	assert.True(t, c.Confirms("remove_device", "3"))
	assert.False(t, c.Confirms("remove_device", "4"))
	assert.False(t, c.Confirms("eject_disk", "3"))
	assert.Equal(t, 0, s.Len())

	_, err = s.Confirm(a.Token)
	assert.ErrorIs(t, err, ErrUnknownToken)
}

func TestZeroConfirmedConfirmsNothing(t *testing.T) {
	var c Confirmed
	assert.False(t, c.Confirms("", ""))
}

func TestExpiry(t *testing.T) {
	s, now := newClockStore(time.Minute)
	a := s.Propose("delete_file", "a.hda", nil, "")
	*now = now.Add(time.Minute)

	_, err := s.Get(a.Token)
	assert.ErrorIs(t, err, ErrExpired)
	_, err = s.Confirm(a.Token)
	assert.ErrorIs(t, err, ErrExpired)
	_, err = s.Confirm(a.Token)
	assert.ErrorIs(t, err, ErrUnknownToken)
	assert.Equal(t, 0, s.Len())
}

func TestCancel(t *testing.T) {
	s, _ := newClockStore(time.Minute)
	a := s.Propose("eject_disk", "1", nil, "")
	got, err := s.Cancel(a.Token)
	require.NoError(t, err)
	assert.Equal(t, "eject_disk", got.Name)
	_, err = s.Confirm(a.Token)
	assert.ErrorIs(t, err, ErrUnknownToken)
}

func TestConcurrentConfirmSingleWinner(t *testing.T) {
	s := NewStore(time.Minute)
	a := s.Propose("shutdown_raspberry_pi", "", nil, "")
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Confirm(a.Token); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}
