package system

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rasweb/pkg/shell"
)

type recorder struct {
	calls [][]string
	res   shell.Result
	err   error
}

func (r *recorder) Run(_ context.Context, name string, args ...string) (shell.Result, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	return r.res, r.err
}

func TestServiceCommands(t *testing.T) {
	rec := &recorder{}
	s := NewService("rascsi.service", true, rec, zerolog.Nop())
	ctx := context.Background()
	require.NoError(t, s.Restart(ctx))
	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, [][]string{
		{"sudo", "-n", "systemctl", "restart", "rascsi.service"},
		{"sudo", "-n", "systemctl", "stop", "rascsi.service"},
	}, rec.calls)
}

func TestServiceFailure(t *testing.T) {
	rec := &recorder{res: shell.Result{Code: 5, Stderr: []byte("Unit rascsi.service not loaded.\n")}, err: errors.New("exit status 5")}
	s := NewService("rascsi.service", false, rec, zerolog.Nop())
	err := s.Restart(context.Background())
	var ce *shell.CommandError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 5, ce.Code)
	assert.Equal(t, []string{"Unit rascsi.service not loaded."}, ce.Lines)
	assert.Equal(t, "systemctl", rec.calls[0][0])
}

func TestServiceStatus(t *testing.T) {
	rec := &recorder{res: shell.Result{Stdout: []byte("ActiveState=failed\nSubState=failed\nUnitFileState=enabled\nMainPID=0\n")}}
	s := NewService("rascsi.service", true, rec, zerolog.Nop())
	st, err := s.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "failed", st.Status)
	assert.True(t, st.Enabled)
	assert.False(t, st.Healthy)
	assert.Zero(t, st.PID)
	assert.Equal(t, "systemctl", rec.calls[0][0], "status does not need sudo")

	rec.res = shell.Result{Stdout: []byte("ActiveState=active\nSubState=running\nUnitFileState=disabled\nMainPID=412\n")}
	st, err = s.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "running", st.Status)
	assert.Equal(t, 412, st.PID)
	assert.False(t, st.Enabled)
}

func TestHostPower(t *testing.T) {
	rec := &recorder{}
	h := NewHost(false, rec, zerolog.Nop())
	require.NoError(t, h.Reboot(context.Background()))
	require.NoError(t, h.Shutdown(context.Background()))
	assert.Equal(t, [][]string{{"shutdown", "-r", "now"}, {"shutdown", "-h", "now"}}, rec.calls)
}

func TestHostInfo(t *testing.T) {
	h := NewHost(false, &recorder{}, zerolog.Nop())
	h.info = func(context.Context) (*host.InfoStat, error) {
		return &host.InfoStat{Hostname: "rascsi", Platform: "raspbian", Uptime: 90, KernelArch: "armv7l"}, nil
	}
	info, err := h.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rascsi", info.Hostname)
	assert.Equal(t, 90*time.Second, info.Uptime)
	assert.Equal(t, "armv7l", info.Arch)
}
