package producer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Uranury/ruuvi-lapio/handoff"
	"github.com/Uranury/ruuvi-lapio/reading"
	"github.com/Uranury/ruuvi-lapio/sensors"
)

// fakeSource replays fixed readings, then waits for cancellation or
// fails with err.
type fakeSource struct {
	readings []sensors.SensorData
	err      error
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Listen(ctx context.Context, h sensors.Handler) error {
	for _, r := range f.readings {
		h("id-"+r.MAC, r)
	}
	if f.err != nil {
		return f.err
	}
	<-ctx.Done()
	return nil
}

type failingSink struct{ calls int }

func (s *failingSink) Push(reading.Normalized) error {
	s.calls++
	return errors.New("pipe closed")
}

type panickingSink struct{}

func (panickingSink) Push(reading.Normalized) error { panic("boom") }

func raw(mac string, seq int) sensors.SensorData {
	return sensors.SensorData{MAC: mac, Fields: map[string]any{
		"temperature":                 21.345,
		"humidity":                    55.789,
		"pressure":                    1013.21,
		"acceleration":                1000.0,
		"battery":                     2980,
		"measurement_sequence_number": seq,
		"movement_counter":            1,
		"tx_power":                    4,
		"acceleration_x":              0,
		"acceleration_y":              0,
		"acceleration_z":              1000,
	}}
}

func logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestWorkerPushesFormattedReadings(t *testing.T) {
	bad := raw("bad", 99)
	delete(bad.Fields, "tx_power")

	src := &fakeSource{readings: []sensors.SensorData{raw("a", 1), bad, raw("b", 2), raw("c", 3)}}
	q := handoff.NewQueue()
	w := &Worker{Source: src, Sink: q, Logger: logger()}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return q.Len() == 3 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	for i, mac := range []string{"a", "b", "c"} {
		r, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, mac, r.MAC)
		assert.Equal(t, int64(i+1), r.MeasurementSequenceNumber)
		assert.Equal(t, int64(2134), r.Temperature)
	}
	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestWorkerSubscriptionFailure(t *testing.T) {
	boom := errors.New("no bluetooth adapter")
	w := &Worker{Source: &fakeSource{err: boom}, Sink: handoff.NewQueue(), Logger: logger()}
	assert.ErrorIs(t, w.Run(context.Background()), boom)
}

func TestWorkerSurvivesSinkFailures(t *testing.T) {
	sink := &failingSink{}
	src := &fakeSource{readings: []sensors.SensorData{raw("a", 1), raw("b", 2)}, err: errors.New("end")}
	w := &Worker{Source: src, Sink: sink, Logger: logger()}

	assert.Error(t, w.Run(context.Background()))
	assert.Equal(t, 2, sink.calls)
}

func TestWorkerRecoversHandlerPanic(t *testing.T) {
	src := &fakeSource{readings: []sensors.SensorData{raw("a", 1)}, err: errors.New("end")}
	w := &Worker{Source: src, Sink: panickingSink{}, Logger: logger()}

	assert.NotPanics(t, func() { w.Run(context.Background()) })
}

func TestWorkerUnderRoutineHandle(t *testing.T) {
	q := handoff.NewQueue()
	w := &Worker{Source: &fakeSource{readings: []sensors.SensorData{raw("a", 1)}}, Sink: q, Logger: logger()}

	h := handoff.Go(context.Background(), w.Run)
	require.Eventually(t, func() bool { return q.Len() == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.True(t, h.Running())

	h.Cancel()
	<-h.Done()
	assert.False(t, h.Running())
	assert.NoError(t, h.Err())
}
