package modbus

import (
	"fmt"
	"math"
)

const (
	RegisterHolding = "holding"
	RegisterInput   = "input"

	DataTypeUint16  = "uint16"
	DataTypeInt16   = "int16"
	DataTypeUint32  = "uint32"
	DataTypeInt32   = "int32"
	DataTypeFloat32 = "float32"
)

// RegisterCount is the number of 16 bit words a data type spans.
func RegisterCount(dataType string) (uint16, error) {
	switch dataType {
	case DataTypeUint16, DataTypeInt16, "":
		return 1, nil
	case DataTypeUint32, DataTypeInt32, DataTypeFloat32:
		return 2, nil
	default:
		return 0, fmt.Errorf("unsupported data type %q", dataType)
	}
}

// Decode converts raw big-endian register words (high word first) into an
// engineering value: raw*scale + offset.
func Decode(registers []uint16, dataType string, scale, offset float64) (float64, error) {
	n, err := RegisterCount(dataType)
	if err != nil {
		return 0, err
	}
	if len(registers) < int(n) {
		return 0, fmt.Errorf("%s needs %d registers, got %d", dataType, n, len(registers))
	}

	var raw float64
	switch dataType {
	case DataTypeUint16, "":
		raw = float64(registers[0])
	case DataTypeInt16:
		raw = float64(int16(registers[0]))
	case DataTypeUint32:
		raw = float64(uint32(registers[0])<<16 | uint32(registers[1]))
	case DataTypeInt32:
		raw = float64(int32(uint32(registers[0])<<16 | uint32(registers[1])))
	case DataTypeFloat32:
		f := math.Float32frombits(uint32(registers[0])<<16 | uint32(registers[1]))
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return 0, fmt.Errorf("register holds a non-finite float")
		}
		raw = float64(f)
	}

	if scale == 0 {
		scale = 1
	}
	return raw*scale + offset, nil
}
