// Package producer subscribes to a sensor source and pushes every
// reading, normalized, onto a handoff sink.
package producer

import (
	"context"
	"log/slog"

	"github.com/Uranury/ruuvi-lapio/reading"
	"github.com/Uranury/ruuvi-lapio/sensors"
)

// Sink accepts normalized readings. Push must not block for long; it is
// called from the source's callback.
type Sink interface {
	Push(reading.Normalized) error
}

// Worker bridges a push-based Source into a Sink.
type Worker struct {
	Source sensors.Source
	Sink   Sink
	Logger *slog.Logger
}

// Run subscribes to the source and blocks until ctx is cancelled (nil)
// or the subscription fails (the error). It never resubscribes.
func (w *Worker) Run(ctx context.Context) error {
	w.Logger.Info("producer subscribing", "source", w.Source.Name())
	err := w.Source.Listen(ctx, w.handle)
	if err != nil {
		w.Logger.Error("producer subscription ended", "source", w.Source.Name(), "error", err)
		return err
	}
	w.Logger.Info("producer stopped", "source", w.Source.Name())
	return nil
}

// handle processes one callback. Failures stay here: a bad reading is
// logged and dropped.
func (w *Worker) handle(_ string, data sensors.SensorData) {
	defer func() {
		if p := recover(); p != nil {
			w.Logger.Error("reading handler panicked", "mac", data.MAC, "panic", p)
		}
	}()

	formatted, err := reading.Format(data)
	if err != nil {
		w.Logger.Warn("dropping malformed reading", "mac", data.MAC, "error", err)
		return
	}
	w.Logger.Debug("formatted reading", "reading", formatted)

	if err := w.Sink.Push(formatted); err != nil {
		w.Logger.Error("push reading", "mac", formatted.MAC, "error", err)
	}
}
