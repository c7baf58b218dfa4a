// Package ctltest provides an in-memory stand-in for the rasctl binary.
package ctltest

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"rasweb/pkg/shell"
)

var codes = map[string]string{
	"hd": "SCHD", "rm": "SCRM", "mo": "SCMO", "cd": "SCCD", "bridge": "SCBR", "daynaport": "SCDP",
}

type device struct {
	code    string
	file    string
	protect bool
}

// Call is one recorded invocation.
type Call struct {
	Name string
	Args []string
}

// Fake implements shell.Runner and behaves like rasctl for -l, attach, detach,
// insert, eject, protect and unprotect.
type Fake struct {
	mu       sync.Mutex
	devices  map[int]*device
	calls    []Call
	failNext string
	raw      []byte
}

func New() *Fake {
	return &Fake{devices: map[int]*device{}}
}

// FailNext makes the next mutating call exit 1 with msg on stderr.
func (f *Fake) FailNext(msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = msg
}

// SetListOutput replaces the -l output with raw bytes.
func (f *Fake) SetListOutput(raw []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw = raw
}

// Calls returns the invocations seen so far.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Mutations returns the invocations other than -l.
func (f *Fake) Mutations() []Call {
	out := []Call{}
	for _, c := range f.Calls() {
		if len(c.Args) == 1 && c.Args[0] == "-l" {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (f *Fake) Run(ctx context.Context, name string, args ...string) (shell.Result, error) {
	if err := ctx.Err(); err != nil {
		return shell.Result{Code: -1}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Name: name, Args: append([]string(nil), args...)})

	if len(args) == 1 && args[0] == "-l" {
		if f.raw != nil {
			return shell.Result{Stdout: f.raw}, nil
		}
		return shell.Result{Stdout: []byte(f.table())}, nil
	}
	if f.failNext != "" {
		msg := f.failNext
		f.failNext = ""
		return fail(msg)
	}

	opts := parseArgs(args)
	id, err := strconv.Atoi(opts["-i"])
	if err != nil || id < 0 || id > 7 {
		return fail("Error : Invalid device ID (0-7)")
	}
	d := f.devices[id]
	switch opts["-c"] {
	case "attach":
		if d != nil {
			return fail(fmt.Sprintf("Error : Duplicate ID %d", id))
		}
		code, ok := codes[opts["-t"]]
		if !ok {
			return fail("Error : Invalid device type")
		}
		f.devices[id] = &device{code: code, file: opts["-f"]}
	case "detach":
		if d == nil {
			return fail("Error : No such device")
		}
		delete(f.devices, id)
	case "insert":
		if d == nil || !removable(d.code) {
			return fail("Error : Operation denied (Device does not support removable media)")
		}
		d.file = opts["-f"]
	case "eject":
		if d == nil || !removable(d.code) {
			return fail("Error : Operation denied (Device does not support removable media)")
		}
		d.file = ""
	case "protect", "unprotect":
		if d == nil {
			return fail("Error : No such device")
		}
		d.protect = opts["-c"] == "protect"
	default:
		return fail("Error : Invalid command")
	}
	return shell.Result{}, nil
}

func (f *Fake) table() string {
	if len(f.devices) == 0 {
		return "No device is installed.\n"
	}
	ids := make([]int, 0, len(f.devices))
	for id := range f.devices {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	border := "+----+----+------+-------------------------------------\n"
	var b strings.Builder
	b.WriteString(border)
	b.WriteString("| ID | UN | TYPE | DEVICE STATUS\n")
	b.WriteString(border)
	for _, id := range ids {
		d := f.devices[id]
		status := d.file
		switch {
		case d.code == "SCBR":
			status = "RaSCSI BRIDGE"
		case status == "" && removable(d.code):
			status = "NO MEDIA"
		}
		if d.protect && status != "NO MEDIA" {
			status += "(WRITEPROTECT)"
		}
		fmt.Fprintf(&b, "|  %d |  0 | %s | %s\n", id, d.code, status)
	}
	b.WriteString(border)
	return b.String()
}

func removable(code string) bool {
	return code == "SCCD" || code == "SCMO" || code == "SCRM"
}

func parseArgs(args []string) map[string]string {
	out := map[string]string{}
	for i := 0; i+1 < len(args); i += 2 {
		out[args[i]] = args[i+1]
	}
	if f, ok := out["-f"]; ok {
		out["-f"] = filepath.Clean(f)
	}
	return out
}

func fail(msg string) (shell.Result, error) {
	return shell.Result{Stderr: []byte(msg + "\n"), Code: 1}, fmt.Errorf("exit status 1")
}
