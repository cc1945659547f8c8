package observe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	influxlog "github.com/influxdata/influxdb-client-go/v2/log"

	"github.com/Uranury/ruuvi-lapio/reading"
)

// Measurement is the InfluxDB measurement readings are written under.
const Measurement = "ruuvi"

const (
	pointBuffer    = 1024
	requestTimeout = 10 // seconds
	closeTimeout   = 5 * time.Second
)

// Influx mirrors dispatched readings into an InfluxDB bucket. Readings
// are handed to a writer goroutine; when it falls behind they are
// dropped. Write failures are only logged.
type Influx struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *slog.Logger

	mu     sync.Mutex
	closed bool
	points chan reading.Normalized

	written  chan struct{}
	errsDone chan struct{}
}

func NewInflux(url, token, org, bucket string, logger *slog.Logger) *Influx {
	level := influxlog.WarningLevel
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		level = influxlog.DebugLevel
	}
	influxlog.Log = &influxLogger{logger: logger.With("component", "influxdb")}

	opts := influxdb2.DefaultOptions().
		SetLogLevel(level).
		SetHTTPRequestTimeout(requestTimeout)
	client := influxdb2.NewClientWithOptions(url, token, opts)
	writeAPI := client.WriteAPI(org, bucket)

	i := &Influx{
		client:   client,
		writeAPI: writeAPI,
		logger:   logger,
		points:   make(chan reading.Normalized, pointBuffer),
		written:  make(chan struct{}),
		errsDone: make(chan struct{}),
	}
	errs := writeAPI.Errors()
	go func() {
		defer close(i.errsDone)
		for err := range errs {
			logger.Warn("influx write", "error", err)
		}
	}()
	go i.write()
	return i
}

// Observe queues r for writing without blocking.
func (i *Influx) Observe(r reading.Normalized) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return
	}
	select {
	case i.points <- r:
	default:
		i.logger.Debug("influx mirror lagging, dropping reading", "mac", r.MAC)
	}
}

func (i *Influx) write() {
	defer close(i.written)
	for r := range i.points {
		p := influxdb2.NewPointWithMeasurement(Measurement).
			AddTag("mac", r.MAC).
			SetTime(time.Now())

		p.AddField("temperature", r.Temperature)
		p.AddField("humidity", r.Humidity)
		p.AddField("pressure", r.Pressure)
		p.AddField("acceleration", r.Acceleration)
		p.AddField("battery", r.Battery)
		p.AddField("measurement_sequence_number", r.MeasurementSequenceNumber)
		p.AddField("movement_counter", r.MovementCounter)
		p.AddField("tx_power", r.TxPower)
		p.AddField("acceleration_x", r.AccelerationX)
		p.AddField("acceleration_y", r.AccelerationY)
		p.AddField("acceleration_z", r.AccelerationZ)

		// blocks while the client's buffers are full
		i.writeAPI.WritePoint(p)
	}
}

// Close writes out queued readings, flushes and releases the client. It
// gives up after a few seconds if the server is not answering.
func (i *Influx) Close() {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.closed = true
	close(i.points)
	i.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-i.written
		i.writeAPI.Flush()
		i.client.Close()
		<-i.errsDone
	}()
	select {
	case <-done:
	case <-time.After(closeTimeout):
		i.logger.Warn("influx mirror not flushed, giving up", "after", closeTimeout)
	}
}

// influxLogger sends the influx client's own log lines to slog. Write
// errors also arrive on WriteAPI.Errors, which is where they are logged
// as warnings.
type influxLogger struct {
	logger *slog.Logger

	mu    sync.Mutex
	level uint
}

func (l *influxLogger) Debugf(format string, v ...any) { l.Debug(fmt.Sprintf(format, v...)) }
func (l *influxLogger) Debug(msg string)               { l.logger.Debug(msg) }
func (l *influxLogger) Infof(format string, v ...any)  { l.Info(fmt.Sprintf(format, v...)) }
func (l *influxLogger) Info(msg string)                { l.logger.Debug(msg) }
func (l *influxLogger) Warnf(format string, v ...any)  { l.Warn(fmt.Sprintf(format, v...)) }
func (l *influxLogger) Warn(msg string)                { l.logger.Warn(msg) }
func (l *influxLogger) Errorf(format string, v ...any) { l.Error(fmt.Sprintf(format, v...)) }
func (l *influxLogger) Error(msg string)               { l.logger.Debug(msg) }
func (l *influxLogger) SetPrefix(string)               {}

func (l *influxLogger) SetLogLevel(level uint) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *influxLogger) LogLevel() uint {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}
