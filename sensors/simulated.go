package sensors

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Simulated emits format 5 advertisements for a set of virtual tags.
// Payloads go through DecodeRuuvi like real ones.
type Simulated struct {
	Tags     int
	Interval time.Duration

	movement []uint8
	sequence []uint16
}

func NewSimulated(tags int, interval time.Duration) *Simulated {
	if tags < 1 {
		tags = 1
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Simulated{
		Tags:     tags,
		Interval: interval,
		movement: make([]uint8, tags),
		sequence: make([]uint16, tags),
	}
}

func (s *Simulated) Name() string {
	return "simulated"
}

func (s *Simulated) Listen(ctx context.Context, h Handler) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		for i := 0; i < s.Tags; i++ {
			mac := simulatedMAC(i)
			data, err := DecodeRuuvi(mac, s.advertise(i))
			if err != nil {
				return fmt.Errorf("simulated tag %d: %w", i, err)
			}
			h(mac, data)
		}
	}
}

// advertise builds the next payload for tag i. Values wander around
// indoor conditions.
func (s *Simulated) advertise(i int) []byte {
	// Simulate readings - replace with a real adapter via the BLE source
	temperature := 20.0 + rand.Float64()*10.0
	humidity := 40.0 + rand.Float64()*40.0
	pressure := 1000.0 + rand.Float64()*50.0

	if rand.IntN(10) == 0 {
		s.movement[i]++
		if s.movement[i] == math.MaxUint8 {
			s.movement[i] = 0
		}
	}
	s.sequence[i]++
	if s.sequence[i] == math.MaxUint16 {
		s.sequence[i] = 0
	}

	return encodeRAWv2(rawv2{
		temperature: temperature,
		humidity:    humidity,
		pressure:    pressure,
		accelX:      int16(rand.IntN(40) - 20),
		accelY:      int16(rand.IntN(40) - 20),
		accelZ:      int16(1000 + rand.IntN(40) - 20),
		batteryMV:   2900 + rand.IntN(100),
		txPower:     4,
		movement:    s.movement[i],
		sequence:    s.sequence[i],
		mac:         [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, byte(i)},
	})
}

type rawv2 struct {
	temperature float64
	humidity    float64
	pressure    float64 // hPa
	accelX      int16
	accelY      int16
	accelZ      int16
	batteryMV   int
	txPower     int
	movement    uint8
	sequence    uint16
	mac         [6]byte
}

func encodeRAWv2(r rawv2) []byte {
	p := make([]byte, rawv2Length)
	p[0] = FormatRAWv2
	binary.BigEndian.PutUint16(p[1:3], uint16(int16(math.Round(r.temperature/0.005))))
	binary.BigEndian.PutUint16(p[3:5], uint16(math.Round(r.humidity/0.0025)))
	binary.BigEndian.PutUint16(p[5:7], uint16(math.Round(r.pressure*100)-50000))
	binary.BigEndian.PutUint16(p[7:9], uint16(r.accelX))
	binary.BigEndian.PutUint16(p[9:11], uint16(r.accelY))
	binary.BigEndian.PutUint16(p[11:13], uint16(r.accelZ))
	power := uint16(r.batteryMV-1600)<<5 | uint16((r.txPower+40)/2)&0x1f
	binary.BigEndian.PutUint16(p[13:15], power)
	p[15] = r.movement
	binary.BigEndian.PutUint16(p[16:18], r.sequence)
	copy(p[18:24], r.mac[:])
	return p
}

func simulatedMAC(i int) string {
	return fmt.Sprintf("AA:BB:CC:DD:EE:%02X", byte(i))
}
