// Package system controls the emulator's systemd unit and the Raspberry Pi
// itself.
package system

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/host"

	"rasweb/pkg/shell"
)

type ServiceStatus struct {
	Unit    string `json:"unit"`
	Status  string `json:"status"`
	Active  string `json:"activeState"`
	Sub     string `json:"subState,omitempty"`
	Enabled bool   `json:"enabled"`
	PID     int    `json:"pid,omitempty"`
	Healthy bool   `json:"healthy"`
}

// Service drives one systemd unit through systemctl.
type Service struct {
	unit string
	sudo bool
	run  shell.Runner
	log  zerolog.Logger
}

func NewService(unit string, sudo bool, run shell.Runner, logger zerolog.Logger) *Service {
	return &Service{
		unit: unit,
		sudo: sudo,
		run:  run,
		log:  logger.With().Str("component", "service").Str("unit", unit).Logger(),
	}
}

func (s *Service) Unit() string { return s.unit }

func (s *Service) Restart(ctx context.Context) error {
	return s.systemctl(ctx, "restart", s.unit)
}

func (s *Service) Stop(ctx context.Context) error {
	return s.systemctl(ctx, "stop", s.unit)
}

// Status reads the unit state with systemctl show. An inactive or failed unit
// is a status, not an error.
func (s *Service) Status(ctx context.Context) (ServiceStatus, error) {
	args := []string{"show", s.unit, "--no-page", "-p", "ActiveState,SubState,UnitFileState,MainPID"}
	res, err := s.run.Run(ctx, "systemctl", args...)
	if err := shell.Check("systemctl", args, res, err); err != nil {
		return ServiceStatus{Unit: s.unit, Status: "unknown"}, err
	}
	return parseShow(s.unit, string(res.Stdout)), nil
}

func parseShow(unit, out string) ServiceStatus {
	props := map[string]string{}
	for _, line := range strings.Split(out, "\n") {
		if k, v, ok := strings.Cut(strings.TrimSpace(line), "="); ok {
			props[k] = v
		}
	}
	st := ServiceStatus{Unit: unit, Status: "unknown", Active: props["ActiveState"], Sub: props["SubState"]}
	switch st.Active {
	case "active":
		st.Status = "running"
		st.Healthy = true
	case "inactive":
		st.Status = "stopped"
	case "failed":
		st.Status = "failed"
	case "activating":
		st.Status = "starting"
	case "deactivating":
		st.Status = "stopping"
	}
	if e := props["UnitFileState"]; e == "enabled" || e == "enabled-runtime" {
		st.Enabled = true
	}
	if pid, err := strconv.Atoi(props["MainPID"]); err == nil && pid > 0 {
		st.PID = pid
	}
	return st
}

func (s *Service) systemctl(ctx context.Context, args ...string) error {
	name, argv := withSudo(s.sudo, "systemctl", args...)
	res, err := s.run.Run(ctx, name, argv...)
	if err := shell.Check(name, argv, res, err); err != nil {
		s.log.Warn().Err(err).Str("op", args[0]).Msg("systemctl failed")
		return err
	}
	s.log.Info().Str("op", args[0]).Msg("service command done")
	return nil
}

type HostInfo struct {
	Hostname        string        `json:"hostname"`
	Platform        string        `json:"platform"`
	PlatformVersion string        `json:"platformVersion"`
	Kernel          string        `json:"kernel"`
	Arch            string        `json:"arch"`
	Uptime          time.Duration `json:"uptime"`
}

// Host reboots and powers off the machine.
type Host struct {
	sudo bool
	run  shell.Runner
	log  zerolog.Logger
	info func(ctx context.Context) (*host.InfoStat, error)
}

func NewHost(sudo bool, run shell.Runner, logger zerolog.Logger) *Host {
	return &Host{
		sudo: sudo,
		run:  run,
		log:  logger.With().Str("component", "host").Logger(),
		info: host.InfoWithContext,
	}
}

func (h *Host) Reboot(ctx context.Context) error {
	return h.shutdown(ctx, "-r")
}

func (h *Host) Shutdown(ctx context.Context) error {
	return h.shutdown(ctx, "-h")
}

func (h *Host) shutdown(ctx context.Context, mode string) error {
	name, argv := withSudo(h.sudo, "shutdown", mode, "now")
	h.log.Warn().Str("mode", mode).Msg("host power action")
	res, err := h.run.Run(ctx, name, argv...)
	return shell.Check(name, argv, res, err)
}

func (h *Host) Info(ctx context.Context) (HostInfo, error) {
	hi, err := h.info(ctx)
	if err != nil {
		return HostInfo{}, err
	}
	return HostInfo{
		Hostname:        hi.Hostname,
		Platform:        hi.Platform,
		PlatformVersion: hi.PlatformVersion,
		Kernel:          hi.KernelVersion,
		Arch:            hi.KernelArch,
		Uptime:          time.Duration(hi.Uptime) * time.Second,
	}, nil
}

func withSudo(sudo bool, name string, args ...string) (string, []string) {
	if !sudo {
		return name, args
	}
	return "sudo", append([]string{"-n", name}, args...)
}
