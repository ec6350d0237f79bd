package control

import (
	"fmt"
	"net"
	"os"
	"testing"

	"github.com/vkardon/tcproxy/internal/reactor"
	"github.com/vkardon/tcproxy/internal/routing"
)

func testBaseName(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("tcproxy-test-%d", os.Getpid())
}

func fixedResolver(m map[string][]net.IP) routing.Resolver {
	return func(host string) ([]net.IP, error) { return m[host], nil }
}

func TestOpenCreatesFIFOAndRegistersHandler(t *testing.T) {
	re := reactor.New(nil)
	rt := routing.New(nil, nil)
	base := testBaseName(t)
	ch := New(base, re, rt, nil)

	if err := ch.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ch.Close()

	if _, err := os.Stat(ch.path); err != nil {
		t.Fatalf("fifo not created at %s: %v", ch.path, err)
	}
	if _, ok := re.Slot(ch.fd); !ok {
		t.Fatalf("fifo fd not registered with reactor")
	}
}

func TestExitCommandStopsReactor(t *testing.T) {
	re := reactor.New(nil)
	rt := routing.New(nil, nil)
	ch := New(testBaseName(t), re, rt, nil)

	ch.execute("ExIt")

	if !re.Stopped() {
		t.Fatalf("reactor not stopped after exit command")
	}
}

func TestAddCommandInsertsRoute(t *testing.T) {
	re := reactor.New(nil)
	rt := routing.New(fixedResolver(map[string][]net.IP{
		"10.0.0.5":  {net.ParseIP("10.0.0.5")},
		"127.0.0.1": {net.ParseIP("127.0.0.1")},
	}), nil)
	ch := New(testBaseName(t), re, rt, nil)

	ch.execute("add 10.0.0.5 127.0.0.1:9100")

	rt2, ok := rt.LookupByIP("10.0.0.5")
	if !ok {
		t.Fatalf("route not added")
	}
	if rt2.TargetIP != "127.0.0.1" || rt2.TargetPort != 9100 {
		t.Errorf("route = %s:%d, want 127.0.0.1:9100", rt2.TargetIP, rt2.TargetPort)
	}
}

func TestUnknownCommandDoesNotPanic(t *testing.T) {
	re := reactor.New(nil)
	rt := routing.New(nil, nil)
	ch := New(testBaseName(t), re, rt, nil)

	ch.execute("frobnicate everything")
	if re.Stopped() {
		t.Errorf("unknown command should not stop the reactor")
	}
}

func TestOnCommandAccumulatesUntilEOF(t *testing.T) {
	re := reactor.New(nil)
	rt := routing.New(fixedResolver(map[string][]net.IP{
		"10.0.0.5":  {net.ParseIP("10.0.0.5")},
		"127.0.0.1": {net.ParseIP("127.0.0.1")},
	}), nil)
	base := testBaseName(t)
	ch := New(base, re, rt, nil)
	if err := ch.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ch.Close()

	w, err := os.OpenFile(ch.path, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open fifo for write: %v", err)
	}

	cmd := "add 10.0.0.5 127.0.0.1:9100\n"
	if _, err := w.Write([]byte(cmd)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	ch.OnCommand(ch.fd) // drains the "in-progress" read, no EOF yet

	w.Close() // signal end of command

	// Re-select is not available in this unit test; emulate the second
	// EOF-producing read directly the way the reactor would after the
	// writer's close wakes the fd for reading again.
	ch.OnCommand(ch.fd)

	if _, ok := rt.LookupByIP("10.0.0.5"); !ok {
		t.Fatalf("route not added after FIFO close-terminated command")
	}
}
