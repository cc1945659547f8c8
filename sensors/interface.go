package sensors

import (
	"context"
	"time"
)

// SensorData is a raw reading as produced by a sensor source. Field
// values are plain Go numerics, or nil when the sensor reported the
// measurement as unavailable.
type SensorData struct {
	MAC       string         `json:"mac"`
	Fields    map[string]any `json:"fields"`
	Timestamp time.Time      `json:"timestamp"`
}

// Handler receives one reading together with the identifier the source
// saw it under (for BLE, the advertiser address).
type Handler func(id string, data SensorData)

// Source interface that all sensor sources must implement
type Source interface {
	// Listen blocks, calling h for every reading, until ctx is cancelled
	// (returns nil) or the subscription fails (returns the error).
	Listen(ctx context.Context, h Handler) error
	Name() string
}
