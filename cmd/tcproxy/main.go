// Command tcproxy is a single-threaded, readiness-driven TCP reverse
// proxy. It takes one positional argument, the path to its
// configuration file, and runs until an `exit` command arrives on its
// control FIFO or it receives SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vkardon/tcproxy/internal/config"
	"github.com/vkardon/tcproxy/internal/control"
	"github.com/vkardon/tcproxy/internal/lifecycle"
	"github.com/vkardon/tcproxy/internal/proxy"
	"github.com/vkardon/tcproxy/internal/reactor"
	"github.com/vkardon/tcproxy/internal/routing"
	"github.com/vkardon/tcproxy/internal/sockopt"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(os.Args, logger); err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(args []string, logger *slog.Logger) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: %s <config-file>", args[0])
	}
	configPath := args[1]

	sockopt.IgnoreSIGPIPE()

	baseName := lifecycle.BaseName(args[0])

	guard, err := lifecycle.Acquire(baseName)
	if err != nil {
		return err
	}
	defer guard.Release()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", configPath, err)
	}
	port, ok := cfg.GetInt("tcp_proxy", "port")
	if !ok {
		return fmt.Errorf("config: missing required key tcp_proxy.port")
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("config: port %d out of range 1..65535", port)
	}

	re := reactor.New(logger)

	routes := routing.New(nil, nil)
	var addErrs []error
	cfg.Enumerate("tcp_proxy\\routes", "route", func(spec string) bool {
		source, target, targetPort, err := routing.ParseSpec(spec)
		if err != nil {
			addErrs = append(addErrs, err)
			return true
		}
		if err := routes.Add(source, target, targetPort); err != nil {
			addErrs = append(addErrs, fmt.Errorf("route %q: %w", spec, err))
		}
		return true
	})
	for _, err := range addErrs {
		logger.Warn("route from config rejected", slog.String("error", err.Error()))
	}

	engine := proxy.New(re, routes, logger)
	if err := engine.ListenAndServe(uint16(port)); err != nil {
		return fmt.Errorf("listen on port %d: %w", port, err)
	}
	defer engine.Close()

	ctrl := control.New(baseName, re, routes, logger)
	if err := ctrl.Open(); err != nil {
		return fmt.Errorf("open control fifo: %w", err)
	}
	defer ctrl.Close()

	waker, err := lifecycle.NewSignalWaker(re)
	if err != nil {
		return fmt.Errorf("set up signal handling: %w", err)
	}
	defer waker.Close()

	logger.Info("tcproxy started",
		slog.Time("at", time.Now()),
		slog.Int("port", port),
		slog.Int("routes", routes.Len()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// Cancel the shared context so the signal-watcher goroutine also
		// returns when the reactor stops via the FIFO `exit` command
		// rather than a signal.
		defer cancel()
		return re.Run()
	})
	g.Go(func() error {
		waker.Watch(ctx, logger)
		return nil
	})

	waitErr := g.Wait()
	engine.CloseAll()
	if waitErr != nil {
		return waitErr
	}
	logger.Info("tcproxy stopped")
	return nil
}
