// ruuvi-lapio sends sensory data over http.
//
// Usage:
//
//	ruuvi-lapio [--debug] [flags] dest
//
// A producer subscribes to Ruuvi tag advertisements and normalizes every
// reading. By default it runs as a child process (this binary started
// with --producer) streaming readings back over a pipe. The main process
// posts each reading to dest as JSON and keeps going until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Uranury/ruuvi-lapio/config"
	"github.com/Uranury/ruuvi-lapio/delivery"
	"github.com/Uranury/ruuvi-lapio/dispatch"
	"github.com/Uranury/ruuvi-lapio/handoff"
	"github.com/Uranury/ruuvi-lapio/observe"
	"github.com/Uranury/ruuvi-lapio/producer"
	"github.com/Uranury/ruuvi-lapio/sensors"
)

// simulatedInterval is how often each simulated tag advertises.
const simulatedInterval = 2 * time.Second

// shutdownTimeout bounds waiting for the producer and the status server.
const shutdownTimeout = handoff.KillAfter + 5*time.Second

func main() {
	if err := run(); err != nil {
		if errors.Is(err, config.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	c, err := config.Load(os.Args[1:], os.Stderr)
	if err != nil {
		return err
	}

	logger := newLogger(c.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.Producer {
		return runProducer(ctx, c, logger.With("role", "producer"))
	}
	return runBridge(ctx, c, logger)
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func newSource(c *config.Configuration, logger *slog.Logger) sensors.Source {
	if c.Source == config.SourceSimulated {
		return sensors.NewSimulated(c.SimulatedTags, simulatedInterval)
	}
	return sensors.NewBLE(logger)
}

// runProducer is the body of the producer child process. Readings go to
// stdout as a CBOR stream, so nothing else may write there.
func runProducer(ctx context.Context, c *config.Configuration, logger *slog.Logger) error {
	w := &producer.Worker{
		Source: newSource(c, logger),
		Sink:   handoff.NewStreamWriter(os.Stdout),
		Logger: logger,
	}
	return w.Run(ctx)
}

func startProducer(ctx context.Context, c *config.Configuration, queue *handoff.Queue, logger *slog.Logger) (handoff.Handle, error) {
	if c.Isolation == config.IsolationGoroutine {
		w := &producer.Worker{
			Source: newSource(c, logger),
			Sink:   queue,
			Logger: logger.With("role", "producer"),
		}
		return handoff.Go(ctx, w.Run), nil
	}

	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}
	p, err := handoff.StartProcess(ctx, exe, c.ProducerArgs(), os.Environ(), queue, logger)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// runBridge owns everything that lives for the whole program: the
// producer, the shared HTTP client and the optional status surface. The
// signal context cancels the producer; the dispatch loop notices and
// returns, and the rest is torn down here.
func runBridge(ctx context.Context, c *config.Configuration, logger *slog.Logger) error {
	queue := handoff.NewQueue()
	prod, err := startProducer(ctx, c, queue, logger)
	if err != nil {
		return err
	}

	client := delivery.NewClient(c.Timeout)
	defer client.CloseIdleConnections()
	sender := &delivery.Sender{Client: client, Dest: c.Dest, Logger: logger}

	loop := &dispatch.Loop{
		Queue:        queue,
		Producer:     prod,
		Deliver:      sender.Deliver,
		PollInterval: dispatch.DefaultPollInterval,
		Logger:       logger,
	}

	if c.Influx.Enabled() {
		influx := observe.NewInflux(c.Influx.URL, c.Influx.Token, c.Influx.Org, c.Influx.Bucket, logger)
		defer influx.Close()
		loop.Observers = append(loop.Observers, influx)
		logger.Info("mirroring readings to influxdb", "url", c.Influx.URL, "bucket", c.Influx.Bucket)
	}

	var status *observe.Server
	var hub *observe.Hub
	if c.StatusAddress != "" {
		hub = observe.NewHub(logger)
		loop.Observers = append(loop.Observers, hub)
		status = observe.Serve(c.StatusAddress, observe.NewRouter(prod, loop, hub), logger)
	}

	logger.Info("ruuvi-lapio starting",
		"dest", c.Dest,
		"source", c.Source,
		"isolation", c.Isolation,
		"timeout", c.Timeout,
	)
	loop.Run(ctx)
	logger.Info("event loop terminated")

	prod.Cancel()
	select {
	case <-prod.Done():
	case <-time.After(shutdownTimeout):
		logger.Warn("producer did not stop in time")
	}

	if status != nil {
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := status.Shutdown(shutdownCtx); err != nil {
			logger.Warn("status server shutdown", "error", err)
		}
	}
	logger.Info("process shutdown")

	if err := prod.Err(); err != nil {
		logger.Error("producer terminated unexpectedly", "error", err)
		return fmt.Errorf("producer: %w", err)
	}
	return nil
}
