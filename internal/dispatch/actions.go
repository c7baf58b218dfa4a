package dispatch

import (
	"context"
	"fmt"
	"strconv"

	"rasweb/internal/controller"
	"rasweb/internal/images"
	"rasweb/internal/pending"
	"rasweb/pkg/validate"
)

// Action names, as posted by the web forms.
const (
	ActionListDevices   = "list_devices"
	ActionListImages    = "list_images"
	ActionAttach        = "connect_new_device"
	ActionDetach        = "remove_device"
	ActionInsert        = "insert_disk"
	ActionEject         = "eject_disk"
	ActionProtect       = "protect_disk"
	ActionUnprotect     = "unprotect_disk"
	ActionCreateImage   = "create_new_image"
	ActionDeleteImage   = images.ActionDelete
	ActionRestart       = "restart_rascsi_service"
	ActionStop          = "stop_rascsi_service"
	ActionReboot        = "reboot_raspberry_pi"
	ActionShutdown      = "shutdown_raspberry_pi"
	ActionServiceStatus = "service_status"
)

var aliases = map[string]string{
	"attach":    ActionAttach,
	"detach":    ActionDetach,
	"insert":    ActionInsert,
	"eject":     ActionEject,
	"protect":   ActionProtect,
	"unprotect": ActionUnprotect,
	"create":    ActionCreateImage,
	"delete":    ActionDeleteImage,
	"restart":   ActionRestart,
	"stop":      ActionStop,
	"reboot":    ActionReboot,
	"shutdown":  ActionShutdown,
}

type action struct {
	name        string
	destructive bool
	// mutates actions are written to the audit log
	mutates bool
	// attempt runs actions that are only sometimes destructive; done=false
	// means the action needs confirmation and nothing ran
	attempt func(ctx context.Context, d *Dispatcher, p map[string]string) (result any, msg string, done bool, err error)
	prepare   func(p map[string]string) (string, error)
	prompt    func(target string, p map[string]string) string
	run       func(ctx context.Context, d *Dispatcher, p map[string]string, c pending.Confirmed) (any, string, error)
}

func errMissing(field string) error {
	return fmt.Errorf("%w: missing %s", validate.ErrInvalid, field)
}

func paramID(p map[string]string) (int, error) {
	s, ok := p["id"]
	if !ok || s == "" {
		return 0, errMissing("id")
	}
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", controller.ErrBadID, s)
	}
	return id, controller.ValidID(id)
}

func idTarget(p map[string]string) (string, error) {
	id, err := paramID(p)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(id), nil
}

func fileTarget(p map[string]string) (string, error) {
	f := p["file"]
	if f == "" {
		return "", errMissing("file")
	}
	return f, validate.FileName(f)
}

func noTarget(map[string]string) (string, error) { return "", nil }

func fixed(prompt string) func(string, map[string]string) string {
	return func(string, map[string]string) string { return prompt }
}

func actionTable() map[string]*action {
	table := []*action{
		{
			name:    ActionListDevices,
			prepare: noTarget,
			run: func(ctx context.Context, d *Dispatcher, _ map[string]string, _ pending.Confirmed) (any, string, error) {
				slots, err := d.ctl.List(ctx)
				return slots, "", err
			},
		},
		{
			name:    ActionListImages,
			prepare: noTarget,
			run: func(ctx context.Context, d *Dispatcher, _ map[string]string, _ pending.Confirmed) (any, string, error) {
				files, err := d.images.List(ctx)
				return files, "", err
			},
		},
		{
			name:    ActionAttach,
			mutates: true,
			prepare: func(p map[string]string) (string, error) {
				if p["type"] == "" {
					return "", errMissing("type")
				}
				if _, err := controller.ParseDeviceType(p["type"]); err != nil {
					return "", err
				}
				return idTarget(p)
			},
			run: func(ctx context.Context, d *Dispatcher, p map[string]string, _ pending.Confirmed) (any, string, error) {
				id, _ := paramID(p)
				if err := d.ctl.Attach(ctx, id, p["type"], p["file"]); err != nil {
					return nil, "", err
				}
				return nil, fmt.Sprintf("Attached SCSI ID %d", id), nil
			},
		},
		{
			name:        ActionDetach,
			destructive: true,
			mutates:     true,
			prepare:     idTarget,
			prompt: func(target string, _ map[string]string) string {
				return "Are you sure you want to disconnect SCSI ID " + target + "? If the host is running, this could cause undesirable behavior."
			},
			run: func(ctx context.Context, d *Dispatcher, p map[string]string, _ pending.Confirmed) (any, string, error) {
				id, _ := paramID(p)
				if err := d.ctl.Detach(ctx, id); err != nil {
					return nil, "", err
				}
				return nil, fmt.Sprintf("Disconnected SCSI ID %d", id), nil
			},
		},
		{
			name:    ActionInsert,
			mutates: true,
			prepare: func(p map[string]string) (string, error) {
				if _, err := fileTarget(p); err != nil {
					return "", err
				}
				return idTarget(p)
			},
			// swapping media out of a loaded drive is as disruptive as an eject
			attempt: func(ctx context.Context, d *Dispatcher, p map[string]string) (any, string, bool, error) {
				id, _ := paramID(p)
				ok, err := d.ctl.InsertIfEmpty(ctx, id, p["file"])
				if err != nil || !ok {
					return nil, "", false, err
				}
				return nil, fmt.Sprintf("Inserted %s into SCSI ID %d", p["file"], id), true, nil
			},
			prompt: func(target string, p map[string]string) string {
				return "SCSI ID " + target + " already holds media. Are you sure you want to replace it with " + p["file"] + "?"
			},
			run: func(ctx context.Context, d *Dispatcher, p map[string]string, _ pending.Confirmed) (any, string, error) {
				id, _ := paramID(p)
				if err := d.ctl.Insert(ctx, id, p["file"]); err != nil {
					return nil, "", err
				}
				return nil, fmt.Sprintf("Inserted %s into SCSI ID %d", p["file"], id), nil
			},
		},
		{
			name:        ActionEject,
			destructive: true,
			mutates:     true,
			prepare:     idTarget,
			prompt: func(target string, _ map[string]string) string {
				return "Are you sure you want to eject the media in SCSI ID " + target + "? If the host is running, this could cause undesirable behavior."
			},
			run: func(ctx context.Context, d *Dispatcher, p map[string]string, _ pending.Confirmed) (any, string, error) {
				id, _ := paramID(p)
				if err := d.ctl.Eject(ctx, id); err != nil {
					return nil, "", err
				}
				return nil, fmt.Sprintf("Ejected SCSI ID %d", id), nil
			},
		},
		{
			name:    ActionProtect,
			mutates: true,
			prepare: idTarget,
			run: func(ctx context.Context, d *Dispatcher, p map[string]string, _ pending.Confirmed) (any, string, error) {
				id, _ := paramID(p)
				return nil, fmt.Sprintf("Write protected SCSI ID %d", id), d.ctl.Protect(ctx, id)
			},
		},
		{
			name:    ActionUnprotect,
			mutates: true,
			prepare: idTarget,
			run: func(ctx context.Context, d *Dispatcher, p map[string]string, _ pending.Confirmed) (any, string, error) {
				id, _ := paramID(p)
				return nil, fmt.Sprintf("Removed write protection from SCSI ID %d", id), d.ctl.Unprotect(ctx, id)
			},
		},
		{
			name:    ActionCreateImage,
			mutates: true,
			prepare: func(p map[string]string) (string, error) {
				if p["size"] == "" {
					return "", errMissing("size")
				}
				if _, err := strconv.Atoi(p["size"]); err != nil {
					return "", fmt.Errorf("%w: size %q is not a number", validate.ErrInvalid, p["size"])
				}
				return fileTarget(p)
			},
			run: func(ctx context.Context, d *Dispatcher, p map[string]string, _ pending.Confirmed) (any, string, error) {
				size, _ := strconv.Atoi(p["size"])
				img, err := d.images.Create(ctx, p["file"], size)
				if err != nil {
					return nil, "", err
				}
				return img, fmt.Sprintf("Created %s (%d MB)", img.Name, size), nil
			},
		},
		{
			name:        ActionDeleteImage,
			destructive: true,
			mutates:     true,
			prepare:     fileTarget,
			prompt: func(target string, _ map[string]string) string {
				return "Are you sure you want to PERMANENTLY delete " + target + "?"
			},
			run: func(ctx context.Context, d *Dispatcher, p map[string]string, c pending.Confirmed) (any, string, error) {
				if err := d.images.Delete(ctx, p["file"], c); err != nil {
					return nil, "", err
				}
				return nil, "Deleted " + p["file"], nil
			},
		},
		{
			name:        ActionRestart,
			destructive: true,
			mutates:     true,
			prepare:     noTarget,
			prompt:      fixed("Are you sure you want to restart the RaSCSI service? Attached devices will be dropped."),
			run: func(ctx context.Context, d *Dispatcher, _ map[string]string, _ pending.Confirmed) (any, string, error) {
				return nil, "Service restarted", d.service.Restart(ctx)
			},
		},
		{
			name:        ActionStop,
			destructive: true,
			mutates:     true,
			prepare:     noTarget,
			prompt:      fixed("Are you sure you want to stop the RaSCSI service?"),
			run: func(ctx context.Context, d *Dispatcher, _ map[string]string, _ pending.Confirmed) (any, string, error) {
				return nil, "Service stopped", d.service.Stop(ctx)
			},
		},
		{
			name:        ActionReboot,
			destructive: true,
			mutates:     true,
			prepare:     noTarget,
			prompt:      fixed("Are you sure you want to reboot the Raspberry Pi?"),
			run: func(ctx context.Context, d *Dispatcher, _ map[string]string, _ pending.Confirmed) (any, string, error) {
				return nil, "Rebooting", d.host.Reboot(ctx)
			},
		},
		{
			name:        ActionShutdown,
			destructive: true,
			mutates:     true,
			prepare:     noTarget,
			prompt:      fixed("Are you sure you want to shut down the Raspberry Pi?"),
			run: func(ctx context.Context, d *Dispatcher, _ map[string]string, _ pending.Confirmed) (any, string, error) {
				return nil, "Shutting down", d.host.Shutdown(ctx)
			},
		},
		{
			name:    ActionServiceStatus,
			prepare: noTarget,
			run: func(ctx context.Context, d *Dispatcher, _ map[string]string, _ pending.Confirmed) (any, string, error) {
				st, err := d.service.Status(ctx)
				return st, "", err
			},
		},
	}
	out := make(map[string]*action, len(table))
	for _, a := range table {
		out[a.name] = a
	}
	return out
}
