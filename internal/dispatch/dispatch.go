// Package dispatch maps named user actions onto controller, image store and
// system calls. Destructive actions are first proposed and only run when the
// caller comes back with the confirmation token.
package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"rasweb/internal/audit"
	"rasweb/internal/controller"
	"rasweb/internal/images"
	"rasweb/internal/metrics"
	"rasweb/internal/pending"
	"rasweb/internal/system"
)

type Controller interface {
	List(ctx context.Context) ([]controller.DeviceSlot, error)
	Slot(ctx context.Context, id int) (controller.DeviceSlot, bool, error)
	Attach(ctx context.Context, id int, typ string, file string) error
	Detach(ctx context.Context, id int) error
	Insert(ctx context.Context, id int, file string) error
	InsertIfEmpty(ctx context.Context, id int, file string) (bool, error)
	Eject(ctx context.Context, id int) error
	Protect(ctx context.Context, id int) error
	Unprotect(ctx context.Context, id int) error
}

type Images interface {
	List(ctx context.Context) ([]images.ImageFile, error)
	Create(ctx context.Context, name string, sizeMB int) (images.ImageFile, error)
	Delete(ctx context.Context, name string, c images.Confirmation) error
}

type Service interface {
	Restart(ctx context.Context) error
	Stop(ctx context.Context) error
	Status(ctx context.Context) (system.ServiceStatus, error)
}

type Host interface {
	Reboot(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

type Auditor interface {
	Record(ctx context.Context, e audit.Entry) error
}

type State string

const (
	StateExecuted             State = "executed"
	StateConfirmationRequired State = "confirmation_required"
	StateCancelled            State = "cancelled"
	StateUnknown              State = "unknown"
	StateFailed               State = "failed"
)

type Request struct {
	Action string            `json:"action"`
	Params map[string]string `json:"params,omitempty"`
	Token  string            `json:"token,omitempty"`
	Cancel bool              `json:"cancel,omitempty"`
}

// Outcome is the result of one Dispatch call.
type Outcome struct {
	Action    string     `json:"action"`
	Target    string     `json:"target,omitempty"`
	State     State      `json:"state"`
	Message   string     `json:"message,omitempty"`
	Prompt    string     `json:"prompt,omitempty"`
	Token     string     `json:"token,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Result    any        `json:"result,omitempty"`
	Failure   *Failure   `json:"failure,omitempty"`
}

type Deps struct {
	Controller Controller
	Images     Images
	Service    Service
	Host       Host
	Pending    *pending.Store
	Audit      Auditor
	Logger     zerolog.Logger
}

type Dispatcher struct {
	ctl     Controller
	images  Images
	service Service
	host    Host
	pending *pending.Store
	audit   Auditor
	log     zerolog.Logger
	actions map[string]*action
}

func New(d Deps) *Dispatcher {
	if d.Pending == nil {
		d.Pending = pending.NewStore(0)
	}
	return &Dispatcher{
		ctl:     d.Controller,
		images:  d.Images,
		service: d.Service,
		host:    d.Host,
		pending: d.Pending,
		audit:   d.Audit,
		log:     d.Logger.With().Str("component", "dispatch").Logger(),
		actions: actionTable(),
	}
}

// Known reports whether name (or one of its aliases) is a dispatchable action.
func (d *Dispatcher) Known(name string) bool {
	_, ok := d.actions[canonical(name)]
	return ok
}

// Destructive reports whether name always needs confirmation.
func (d *Dispatcher) Destructive(name string) bool {
	a, ok := d.actions[canonical(name)]
	return ok && a.destructive
}

// Pending returns the proposal behind token without consuming it.
func (d *Dispatcher) Pending(token string) (pending.Action, error) {
	return d.pending.Get(token)
}

func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Outcome {
	name := canonical(req.Action)
	params := normalizeParams(req.Params)

	a, ok := d.actions[name]
	if !ok && (name != "" || req.Token == "") {
		return d.unknown(req.Action)
	}
	if req.Token != "" {
		return d.resume(ctx, name, params, req)
	}

	target, err := a.prepare(params)
	if err != nil {
		return d.fail(ctx, name, target, params, err)
	}
	if a.attempt != nil {
		start := time.Now()
		result, msg, done, err := a.attempt(ctx, d, params)
		if err != nil {
			return d.fail(ctx, name, target, params, err)
		}
		if done {
			return d.executed(ctx, a, target, params, result, msg, start)
		}
	} else if !a.destructive {
		return d.execute(ctx, a, target, params, pending.Confirmed{})
	}

	pa := d.pending.Propose(name, target, params, a.prompt(target, params))
	metrics.IncAction(name, string(StateConfirmationRequired))
	d.log.Info().Str("action", name).Str("target", target).Msg("confirmation required")
	exp := pa.ExpiresAt
	return Outcome{
		Action:    name,
		Target:    target,
		State:     StateConfirmationRequired,
		Prompt:    pa.Prompt,
		Token:     pa.Token,
		ExpiresAt: &exp,
	}
}

// resume handles a request that carries a token: a confirmation or a cancel.
// The params stored with the proposal are the ones executed. A request that
// names an action, device or file other than the proposal's is refused and
// the token stays valid.
func (d *Dispatcher) resume(ctx context.Context, name string, params map[string]string, req Request) Outcome {
	pa, err := d.pending.Get(req.Token)
	if err != nil {
		return d.fail(ctx, name, "", nil, confirmationError(err))
	}
	if name != "" && name != pa.Name {
		err := confirmationError(fmt.Errorf("token was issued for %s, not %s", pa.Name, name))
		return d.fail(ctx, name, "", nil, err)
	}
	if err := sameTarget(params, pa); err != nil {
		return d.fail(ctx, pa.Name, pa.Target, nil, confirmationError(err))
	}
	a, ok := d.actions[pa.Name]
	if !ok {
		return d.unknown(pa.Name)
	}

	if req.Cancel {
		if _, err := d.pending.Cancel(req.Token); err != nil {
			return d.fail(ctx, pa.Name, pa.Target, nil, confirmationError(err))
		}
		metrics.IncAction(pa.Name, string(StateCancelled))
		d.record(ctx, pa.Name, pa.Target, pa.Params, StateCancelled, "")
		return Outcome{Action: pa.Name, Target: pa.Target, State: StateCancelled, Message: "Cancelled"}
	}

	c, err := d.pending.Confirm(req.Token)
	if err != nil {
		return d.fail(ctx, pa.Name, pa.Target, nil, confirmationError(err))
	}
	stored := c.Action()
	return d.execute(ctx, a, stored.Target, stored.Params, c)
}

// sameTarget checks the id and file named by a confirming request, if any,
// against the ones stored with the proposal.
func sameTarget(params map[string]string, pa pending.Action) error {
	if v := params["id"]; v != "" {
		got, err1 := strconv.Atoi(v)
		want, err2 := strconv.Atoi(pa.Params["id"])
		if err1 != nil || err2 != nil || got != want {
			return fmt.Errorf("token was issued for %s %s, not SCSI ID %s", pa.Name, pa.Target, v)
		}
	}
	if v := params["file"]; v != "" && v != pa.Params["file"] {
		return fmt.Errorf("token was issued for %s %s, not %s", pa.Name, pa.Target, v)
	}
	return nil
}

func (d *Dispatcher) execute(ctx context.Context, a *action, target string, params map[string]string, c pending.Confirmed) Outcome {
	start := time.Now()
	result, msg, err := a.run(ctx, d, params, c)
	if err != nil {
		return d.fail(ctx, a.name, target, params, err)
	}
	return d.executed(ctx, a, target, params, result, msg, start)
}

func (d *Dispatcher) executed(ctx context.Context, a *action, target string, params map[string]string, result any, msg string, start time.Time) Outcome {
	metrics.IncAction(a.name, string(StateExecuted))
	if a.mutates {
		d.record(ctx, a.name, target, params, StateExecuted, msg)
		d.log.Info().Str("action", a.name).Str("target", target).Dur("duration", time.Since(start)).Msg("action executed")
	}
	return Outcome{Action: a.name, Target: target, State: StateExecuted, Message: msg, Result: result}
}

func (d *Dispatcher) unknown(name string) Outcome {
	metrics.IncAction("unknown", string(StateUnknown))
	d.log.Warn().Str("action", name).Msg("unknown action")
	f := &Failure{Kind: KindUnknownAction, Message: "Unknown command: " + name}
	return Outcome{Action: name, State: StateUnknown, Message: f.Message, Failure: f}
}

func (d *Dispatcher) fail(ctx context.Context, name, target string, params map[string]string, err error) Outcome {
	f := Classify(err)
	metrics.IncAction(name, string(StateFailed))
	ev := d.log.Warn()
	if f.Kind == KindInternal {
		ev = d.log.Error()
	}
	ev.Err(err).Str("action", name).Str("target", target).Str("kind", string(f.Kind)).Msg("action failed")
	if f.Kind != KindValidation && f.Kind != KindConfirmation {
		d.record(ctx, name, target, params, StateFailed, f.Message)
	}
	return Outcome{Action: name, Target: target, State: StateFailed, Message: f.Message, Failure: f}
}

func (d *Dispatcher) record(ctx context.Context, name, target string, params map[string]string, st State, detail string) {
	if d.audit == nil {
		return
	}
	// recorded even when the request context is already done
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.audit.Record(rctx, audit.Entry{Action: name, Target: target, Params: params, State: string(st), Detail: detail}); err != nil {
		d.log.Error().Err(err).Str("action", name).Msg("audit record failed")
	}
}

func canonical(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if c, ok := aliases[n]; ok {
		return c
	}
	return n
}

// normalizeParams trims values and folds the legacy form field names.
func normalizeParams(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		k = strings.ToLower(strings.TrimSpace(k))
		if alt, ok := paramAliases[k]; ok {
			k = alt
		}
		out[k] = strings.TrimSpace(v)
	}
	return out
}

var paramAliases = map[string]string{
	"file_name": "file",
	"scsi_id":   "id",
	"size_mb":   "size",
}
