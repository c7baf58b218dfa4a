package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"rasweb/internal/audit"
	"rasweb/internal/controller"
	"rasweb/internal/dispatch"
	"rasweb/internal/images"
	"rasweb/internal/system"
)

// Snapshot is everything the index page and GET /api/status show. Parts that
// could not be read are left empty and named in Errors.
type Snapshot struct {
	Devices []controller.DeviceSlot `json:"devices"`
	Images  []images.ImageFile      `json:"images"`
	Service *system.ServiceStatus   `json:"service,omitempty"`
	Host    *system.HostInfo        `json:"host,omitempty"`
	Usage   *images.Usage           `json:"usage,omitempty"`
	Recent  []audit.Entry           `json:"recent,omitempty"`
	Errors  map[string]string       `json:"errors,omitempty"`
}

const snapshotTimeout = 10 * time.Second

func (s *Server) snapshot(ctx context.Context) Snapshot {
	ctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()

	var (
		mu   sync.Mutex
		snap = Snapshot{Devices: []controller.DeviceSlot{}, Images: []images.ImageFile{}}
	)
	setErr := func(part, msg string) {
		mu.Lock()
		defer mu.Unlock()
		if snap.Errors == nil {
			snap.Errors = map[string]string{}
		}
		snap.Errors[part] = msg
	}

	var g errgroup.Group
	g.Go(func() error {
		out := s.d.Dispatch(ctx, dispatch.Request{Action: dispatch.ActionListDevices})
		if out.Failure != nil {
			setErr("devices", out.Failure.Message)
			return nil
		}
		if v, ok := out.Result.([]controller.DeviceSlot); ok {
			mu.Lock()
			snap.Devices = v
			mu.Unlock()
		}
		return nil
	})
	g.Go(func() error {
		out := s.d.Dispatch(ctx, dispatch.Request{Action: dispatch.ActionListImages})
		if out.Failure != nil {
			setErr("images", out.Failure.Message)
			return nil
		}
		if v, ok := out.Result.([]images.ImageFile); ok {
			mu.Lock()
			snap.Images = v
			mu.Unlock()
		}
		return nil
	})
	g.Go(func() error {
		out := s.d.Dispatch(ctx, dispatch.Request{Action: dispatch.ActionServiceStatus})
		if out.Failure != nil {
			setErr("service", out.Failure.Message)
			return nil
		}
		if st, ok := out.Result.(system.ServiceStatus); ok {
			mu.Lock()
			snap.Service = &st
			mu.Unlock()
		}
		return nil
	})
	if s.host != nil {
		g.Go(func() error {
			hi, err := s.host.Info(ctx)
			if err != nil {
				setErr("host", err.Error())
				return nil
			}
			mu.Lock()
			snap.Host = &hi
			mu.Unlock()
			return nil
		})
	}
	if s.images != nil {
		g.Go(func() error {
			u, err := s.images.Usage(ctx)
			if err != nil {
				setErr("usage", err.Error())
				return nil
			}
			mu.Lock()
			snap.Usage = &u
			mu.Unlock()
			return nil
		})
	}
	if s.audit != nil {
		g.Go(func() error {
			rec, err := s.audit.Recent(ctx, 10)
			if err != nil {
				setErr("audit", err.Error())
				return nil
			}
			mu.Lock()
			snap.Recent = rec
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return snap
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.snapshot(r.Context()))
}
