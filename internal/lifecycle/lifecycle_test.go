package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/vkardon/tcproxy/internal/reactor"
)

func TestBaseNameStripsSuffixAndDir(t *testing.T) {
	cases := map[string]string{
		"/usr/local/bin/tcproxy":    "tcproxy",
		"tcproxy.exe":               "tcproxy",
		"./build/tcproxy.linux.bin": "tcproxy",
		"tcproxy":                   "tcproxy",
	}
	for in, want := range cases {
		if got := BaseName(in); got != want {
			t.Errorf("BaseName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAcquireThenSecondAcquireFails(t *testing.T) {
	// fcntl record locks never conflict within one process, so the second
	// instance is this test binary re-run as a child process. The child
	// exits 3 when its Acquire fails and 0 when it succeeds.
	if base := os.Getenv("TCPROXY_GUARD_CHILD"); base != "" {
		if _, err := Acquire(base); err != nil {
			os.Exit(3)
		}
		os.Exit(0)
	}

	base := filepath.Base(t.TempDir()) // unique-ish per test run

	g1, err := Acquire(base)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	defer g1.Release()
	defer os.Remove("/tmp/" + base + ".lock")

	child := exec.Command(os.Args[0], "-test.run=^TestAcquireThenSecondAcquireFails$")
	child.Env = append(os.Environ(), "TCPROXY_GUARD_CHILD="+base)
	var exitErr *exec.ExitError
	if err := child.Run(); !errors.As(err, &exitErr) || exitErr.ExitCode() != 3 {
		t.Fatalf("second Acquire from another process: %v, want already-running error (exit 3)", err)
	}
}

func TestAcquireAfterReleaseSucceeds(t *testing.T) {
	base := filepath.Base(t.TempDir())
	defer os.Remove("/tmp/" + base + ".lock")

	g1, err := Acquire(base)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	g1.Release()

	g2, err := Acquire(base)
	if err != nil {
		t.Fatalf("Acquire after Release: %v", err)
	}
	g2.Release()
}

func TestSignalWakerWakesReactor(t *testing.T) {
	re := reactor.New(nil)
	w, err := NewSignalWaker(re)
	if err != nil {
		t.Fatalf("NewSignalWaker: %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Watch(ctx, slog.Default())
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Watch did not return after ctx cancellation")
	}

	runDone := make(chan error, 1)
	go func() { runDone <- re.Run() }()

	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("Run() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("reactor did not stop after self-pipe wake")
	}
}
