package sensors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tinygo.org/x/bluetooth"
)

// stopRetry is how often a cancelled scan is asked to stop until it does.
const stopRetry = 100 * time.Millisecond

// Scanner is the part of *bluetooth.Adapter that BLE uses.
type Scanner interface {
	Enable() error
	Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
}

// BLE listens for Ruuvi advertisements on a Bluetooth adapter.
type BLE struct {
	Adapter Scanner
	Logger  *slog.Logger
}

func NewBLE(logger *slog.Logger) *BLE {
	return &BLE{Adapter: bluetooth.DefaultAdapter, Logger: logger}
}

func (b *BLE) Name() string {
	return "ble"
}

// Listen enables the adapter and scans until ctx is cancelled. A missing
// or unusable adapter is reported as an error.
func (b *BLE) Listen(ctx context.Context, h Handler) error {
	if err := b.Adapter.Enable(); err != nil {
		return fmt.Errorf("enable bluetooth adapter: %w", err)
	}

	if ctx.Err() != nil {
		return nil
	}

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
		case <-stopped:
			return
		}
		// the scan may not have started yet, in which case StopScan fails
		// and has to be repeated
		t := time.NewTicker(stopRetry)
		defer t.Stop()
		for {
			if err := b.Adapter.StopScan(); err != nil {
				b.Logger.Debug("stop scan", "error", err)
			}
			select {
			case <-stopped:
				return
			case <-t.C:
			}
		}
	}()

	err := b.Adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		if ctx.Err() != nil {
			return
		}
		for _, md := range result.ManufacturerData() {
			if md.CompanyID != RuuviCompanyID {
				continue
			}
			addr := result.Address.String()
			data, err := DecodeRuuvi(addr, md.Data)
			if err != nil {
				if !errors.Is(err, ErrUnsupportedFormat) {
					b.Logger.Debug("undecodable advertisement", "address", addr, "error", err)
				}
				continue
			}
			h(addr, data)
		}
	})
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("bluetooth scan: %w", err)
	}
	return errors.New("bluetooth scan ended")
}
