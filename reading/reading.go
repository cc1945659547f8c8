// Package reading turns raw sensor readings into the fixed-point integer
// form that is sent to the destination.
package reading

import (
	"errors"
	"fmt"
	"math"

	"github.com/Uranury/ruuvi-lapio/sensors"
)

// Normalized is a reading ready for transmission. Scaled fields carry two
// implied decimal digits.
type Normalized struct {
	Humidity                  int64  `json:"humidity"`
	Temperature               int64  `json:"temperature"`
	Pressure                  int64  `json:"pressure"`
	Acceleration              int64  `json:"acceleration"`
	Battery                   int64  `json:"battery"`
	MeasurementSequenceNumber int64  `json:"measurement_sequence_number"`
	MovementCounter           int64  `json:"movement_counter"`
	TxPower                   int64  `json:"tx_power"`
	AccelerationX             int64  `json:"acceleration_x"`
	AccelerationY             int64  `json:"acceleration_y"`
	AccelerationZ             int64  `json:"acceleration_z"`
	MAC                       string `json:"mac"`
}

// ErrFormat matches every error returned by Format.
var ErrFormat = errors.New("malformed reading")

// MissingFieldError reports a required field absent from the raw reading.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing field %q", e.Field)
}

func (e *MissingFieldError) Is(target error) bool { return target == ErrFormat }

// TypeConversionError reports a field whose value cannot be turned into
// the expected type.
type TypeConversionError struct {
	Field string
	Value any
}

func (e *TypeConversionError) Error() string {
	return fmt.Sprintf("field %q: cannot convert %v (%T)", e.Field, e.Value, e.Value)
}

func (e *TypeConversionError) Is(target error) bool { return target == ErrFormat }

type field struct {
	name  string
	scale float64
	dst   func(*Normalized) *int64
}

var fields = []field{
	{"humidity", 100, func(n *Normalized) *int64 { return &n.Humidity }},
	{"temperature", 100, func(n *Normalized) *int64 { return &n.Temperature }},
	{"pressure", 100, func(n *Normalized) *int64 { return &n.Pressure }},
	{"acceleration", 100, func(n *Normalized) *int64 { return &n.Acceleration }},
	{"battery", 1, func(n *Normalized) *int64 { return &n.Battery }},
	{"measurement_sequence_number", 1, func(n *Normalized) *int64 { return &n.MeasurementSequenceNumber }},
	{"movement_counter", 1, func(n *Normalized) *int64 { return &n.MovementCounter }},
	{"tx_power", 1, func(n *Normalized) *int64 { return &n.TxPower }},
	{"acceleration_x", 1, func(n *Normalized) *int64 { return &n.AccelerationX }},
	{"acceleration_y", 1, func(n *Normalized) *int64 { return &n.AccelerationY }},
	{"acceleration_z", 1, func(n *Normalized) *int64 { return &n.AccelerationZ }},
}

// Format normalizes a raw reading. Humidity, temperature, pressure and
// acceleration are multiplied by 100; every value is truncated toward
// zero. The MAC comes from the "mac" field when present, otherwise from
// data.MAC.
func Format(data sensors.SensorData) (Normalized, error) {
	var n Normalized
	for _, f := range fields {
		raw, ok := data.Fields[f.name]
		if !ok {
			return Normalized{}, &MissingFieldError{Field: f.name}
		}
		v, err := truncate(raw, f.scale)
		if err != nil {
			return Normalized{}, &TypeConversionError{Field: f.name, Value: raw}
		}
		*f.dst(&n) = v
	}

	mac, err := macOf(data)
	if err != nil {
		return Normalized{}, err
	}
	n.MAC = mac
	return n, nil
}

func macOf(data sensors.SensorData) (string, error) {
	raw, ok := data.Fields["mac"]
	if !ok {
		if data.MAC == "" {
			return "", &MissingFieldError{Field: "mac"}
		}
		return data.MAC, nil
	}
	mac, ok := raw.(string)
	if !ok {
		return "", &TypeConversionError{Field: "mac", Value: raw}
	}
	return mac, nil
}

var errNotNumeric = errors.New("not numeric")

// truncate converts v*scale to int64, truncating toward zero. Integers
// with scale 1 are converted exactly.
func truncate(v any, scale float64) (int64, error) {
	if scale == 1 {
		switch x := v.(type) {
		case int:
			return int64(x), nil
		case int8:
			return int64(x), nil
		case int16:
			return int64(x), nil
		case int32:
			return int64(x), nil
		case int64:
			return x, nil
		case uint8:
			return int64(x), nil
		case uint16:
			return int64(x), nil
		case uint32:
			return int64(x), nil
		}
	}

	f, err := toFloat(v)
	if err != nil {
		return 0, err
	}
	f *= scale
	if math.IsNaN(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, errNotNumeric
	}
	return int64(f), nil
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int8:
		return float64(x), nil
	case int16:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint:
		return float64(x), nil
	case uint8:
		return float64(x), nil
	case uint16:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case interface{ Float64() (float64, error) }:
		return x.Float64()
	default:
		return 0, errNotNumeric
	}
}
