package reactor

import (
	"os"
	"testing"
	"time"
)

// makePipe returns a readable/writable fd pair backed by a real OS pipe
// so select(2) has something genuine to report on.
func makePipe(t *testing.T) (r, w *os.File) {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	t.Cleanup(func() {
		r.Close()
		w.Close()
	})
	return r, w
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	re := New(nil)
	r, w := makePipe(t)
	defer w.Close()

	if err := re.Register(int(r.Fd()), NoPeer, func(int) {}, nil); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := re.Register(int(r.Fd()), NoPeer, func(int) {}, nil); err == nil {
		t.Fatalf("second Register on same fd: want error, got nil")
	}
}

func TestUnregisterClearsSlot(t *testing.T) {
	re := New(nil)
	r, w := makePipe(t)
	defer w.Close()
	fd := int(r.Fd())

	if err := re.Register(fd, 7, func(int) {}, func(int) {}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	re.Unregister(fd)

	if _, ok := re.Slot(fd); ok {
		t.Fatalf("Slot(%d) still present after Unregister", fd)
	}
}

func TestRunDispatchesReadReadyAndStops(t *testing.T) {
	re := New(nil)
	r, w := makePipe(t)
	defer w.Close()
	fd := int(r.Fd())

	fired := make(chan struct{}, 1)
	if err := re.Register(fd, NoPeer, func(gotFD int) {
		if gotFD != fd {
			t.Errorf("handler got fd %d, want %d", gotFD, fd)
		}
		buf := make([]byte, 1)
		r.Read(buf)
		fired <- struct{}{}
		re.Stop()
	}, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := w.Write([]byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- re.Run() }()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("handler never fired")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after Stop")
	}
}

func TestUnregisterDuringBatchPreventsLaterDispatch(t *testing.T) {
	re := New(nil)
	r1, w1 := makePipe(t)
	defer w1.Close()
	r2, w2 := makePipe(t)
	defer w2.Close()
	fd1, fd2 := int(r1.Fd()), int(r2.Fd())

	var fd2Fired bool
	if err := re.Register(fd1, NoPeer, func(int) {
		re.Unregister(fd2)
		buf := make([]byte, 1)
		r1.Read(buf)
	}, nil); err != nil {
		t.Fatalf("Register fd1: %v", err)
	}
	if err := re.Register(fd2, NoPeer, func(int) {
		fd2Fired = true
		buf := make([]byte, 1)
		r2.Read(buf)
	}, nil); err != nil {
		t.Fatalf("Register fd2: %v", err)
	}

	w1.Write([]byte("a"))
	w2.Write([]byte("b"))

	if err := re.runOnce(); err != nil {
		t.Fatalf("runOnce: %v", err)
	}

	if fd2Fired && fd1 < fd2 {
		t.Fatalf("fd2 handler fired after being unregistered mid-batch by fd1's handler")
	}
}
