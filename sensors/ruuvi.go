package sensors

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"
)

// RuuviCompanyID is the Bluetooth SIG manufacturer id used by Ruuvi tags.
const RuuviCompanyID = 0x0499

// Ruuvi advertisement data formats understood by DecodeRuuvi.
const (
	FormatRAWv1 = 3
	FormatRAWv2 = 5
)

const (
	rawv1Length = 14
	rawv2Length = 24
)

var (
	ErrUnsupportedFormat = errors.New("unsupported ruuvi data format")
	ErrShortPayload      = errors.New("ruuvi payload too short")
)

// DecodeRuuvi decodes Ruuvi manufacturer data (without the company id)
// into a SensorData using the field names of the Ruuvi data format
// documentation. Measurements the tag marks as invalid are stored as nil.
// addr is used as the MAC for formats that do not carry one.
func DecodeRuuvi(addr string, payload []byte) (SensorData, error) {
	if len(payload) == 0 {
		return SensorData{}, ErrShortPayload
	}
	switch payload[0] {
	case FormatRAWv1:
		return decodeRAWv1(addr, payload)
	case FormatRAWv2:
		return decodeRAWv2(payload)
	default:
		return SensorData{}, fmt.Errorf("%w: %d", ErrUnsupportedFormat, payload[0])
	}
}

func decodeRAWv1(addr string, p []byte) (SensorData, error) {
	if len(p) < rawv1Length {
		return SensorData{}, fmt.Errorf("%w: format 3 needs %d bytes, got %d", ErrShortPayload, rawv1Length, len(p))
	}

	temperature := float64(p[2]&0x7f) + float64(p[3])/100
	if p[2]&0x80 != 0 {
		temperature = -temperature
	}
	ax := int16(binary.BigEndian.Uint16(p[6:8]))
	ay := int16(binary.BigEndian.Uint16(p[8:10]))
	az := int16(binary.BigEndian.Uint16(p[10:12]))

	fields := map[string]any{
		"data_format":    FormatRAWv1,
		"humidity":       float64(p[1]) * 0.5,
		"temperature":    round2(temperature),
		"pressure":       round2(float64(int(binary.BigEndian.Uint16(p[4:6]))+50000) / 100),
		"acceleration":   magnitude(ax, ay, az),
		"acceleration_x": int(ax),
		"acceleration_y": int(ay),
		"acceleration_z": int(az),
		"battery":        int(binary.BigEndian.Uint16(p[12:14])),
		"mac":            addr,
	}
	return SensorData{MAC: addr, Fields: fields, Timestamp: time.Now()}, nil
}

func decodeRAWv2(p []byte) (SensorData, error) {
	if len(p) < rawv2Length {
		return SensorData{}, fmt.Errorf("%w: format 5 needs %d bytes, got %d", ErrShortPayload, rawv2Length, len(p))
	}

	fields := map[string]any{"data_format": FormatRAWv2}

	if t := int16(binary.BigEndian.Uint16(p[1:3])); t != math.MinInt16 {
		fields["temperature"] = round2(float64(t) * 0.005)
	} else {
		fields["temperature"] = nil
	}
	if h := binary.BigEndian.Uint16(p[3:5]); h != math.MaxUint16 {
		fields["humidity"] = round2(float64(h) * 0.0025)
	} else {
		fields["humidity"] = nil
	}
	if pr := binary.BigEndian.Uint16(p[5:7]); pr != math.MaxUint16 {
		fields["pressure"] = round2(float64(int(pr)+50000) / 100)
	} else {
		fields["pressure"] = nil
	}

	ax := int16(binary.BigEndian.Uint16(p[7:9]))
	ay := int16(binary.BigEndian.Uint16(p[9:11]))
	az := int16(binary.BigEndian.Uint16(p[11:13]))
	if ax == math.MinInt16 || ay == math.MinInt16 || az == math.MinInt16 {
		fields["acceleration"] = nil
		fields["acceleration_x"] = nil
		fields["acceleration_y"] = nil
		fields["acceleration_z"] = nil
	} else {
		fields["acceleration"] = magnitude(ax, ay, az)
		fields["acceleration_x"] = int(ax)
		fields["acceleration_y"] = int(ay)
		fields["acceleration_z"] = int(az)
	}

	power := binary.BigEndian.Uint16(p[13:15])
	if v := power >> 5; v != 0x7ff {
		fields["battery"] = int(v) + 1600
	} else {
		fields["battery"] = nil
	}
	if v := power & 0x1f; v != 0x1f {
		fields["tx_power"] = int(v)*2 - 40
	} else {
		fields["tx_power"] = nil
	}

	if m := p[15]; m != math.MaxUint8 {
		fields["movement_counter"] = int(m)
	} else {
		fields["movement_counter"] = nil
	}
	if s := binary.BigEndian.Uint16(p[16:18]); s != math.MaxUint16 {
		fields["measurement_sequence_number"] = int(s)
	} else {
		fields["measurement_sequence_number"] = nil
	}

	mac := hex.EncodeToString(p[18:24])
	fields["mac"] = mac

	return SensorData{MAC: mac, Fields: fields, Timestamp: time.Now()}, nil
}

func magnitude(x, y, z int16) float64 {
	fx, fy, fz := float64(x), float64(y), float64(z)
	return math.Sqrt(fx*fx + fy*fy + fz*fz)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
