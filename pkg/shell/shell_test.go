package shell

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRunCapturesOutputAndCode(t *testing.T) {
	res, err := Run(context.Background(), 5*time.Second, "sh", "-c", "echo out; echo err 1>&2; exit 3")
	if err == nil {
		t.Fatalf("expected exit error")
	}
	if res.Code != 3 {
		t.Fatalf("code: %d", res.Code)
	}
	if strings.TrimSpace(string(res.Stdout)) != "out" || strings.TrimSpace(string(res.Stderr)) != "err" {
		t.Fatalf("unexpected output: %q %q", res.Stdout, res.Stderr)
	}
	if got := res.Lines(); len(got) != 2 || got[0] != "err" || got[1] != "out" {
		t.Fatalf("lines: %v", got)
	}
}

func TestRunTimeout(t *testing.T) {
	_, err := Run(context.Background(), 50*time.Millisecond, "sleep", "5")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	cerr := Check("sleep", []string{"5"}, Result{Code: -1}, err)
	if !errors.Is(cerr, ErrTimeout) {
		t.Fatalf("timeout should survive Check: %v", cerr)
	}
}

func TestCheck(t *testing.T) {
	if err := Check("true", nil, Result{}, nil); err != nil {
		t.Fatalf("clean run should pass: %v", err)
	}

	err := Check("rasctl", []string{"-i", "1", "-c", "detach"}, Result{Stderr: []byte("Error : No such device\n")}, nil)
	var ce *CommandError
	if !errors.As(err, &ce) {
		t.Fatalf("stderr output must fail, got %v", err)
	}
	if ce.Command() != "rasctl -i 1 -c detach" {
		t.Fatalf("command: %q", ce.Command())
	}
	if len(ce.Lines) != 1 || ce.Lines[0] != "Error : No such device" {
		t.Fatalf("lines: %v", ce.Lines)
	}

	err = Check("rasctl", []string{"-l"}, Result{Code: 2}, errors.New("exit status 2"))
	if !errors.As(err, &ce) || ce.Code != 2 {
		t.Fatalf("exit code not kept: %v", err)
	}
	if !strings.Contains(err.Error(), "exit 2") {
		t.Fatalf("message: %s", err.Error())
	}
}
