package modbus

import (
	"encoding/binary"
	"fmt"
)

// Frame is a Modbus TCP ADU: the 7 byte MBAP header followed by the PDU.
type Frame struct {
	TransactionID uint16
	ProtocolID    uint16 // always 0 for Modbus
	Length        uint16 // unit id + PDU
	UnitID        uint8
	FunctionCode  uint8
	Data          []byte
}

const (
	FuncCodeReadHoldingRegisters = 0x03
	FuncCodeReadInputRegisters   = 0x04

	headerLength   = 7
	exceptionFlag  = 0x80
	maxFrameLength = 260
	maxRegisters   = 125
)

// ExceptionError is a Modbus exception response from the device.
type ExceptionError struct {
	FunctionCode uint8
	Code         uint8
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus exception 0x%02X on function 0x%02X (%s)", e.Code, e.FunctionCode, exceptionText(e.Code))
}

func exceptionText(code uint8) string {
	switch code {
	case 0x01:
		return "illegal function"
	case 0x02:
		return "illegal data address"
	case 0x03:
		return "illegal data value"
	case 0x04:
		return "server device failure"
	case 0x06:
		return "server device busy"
	case 0x0B:
		return "gateway target failed to respond"
	default:
		return "unknown"
	}
}

func (f *Frame) Encode() []byte {
	f.Length = uint16(len(f.Data) + 2)

	frame := make([]byte, headerLength+1+len(f.Data))
	binary.BigEndian.PutUint16(frame[0:2], f.TransactionID)
	binary.BigEndian.PutUint16(frame[2:4], f.ProtocolID)
	binary.BigEndian.PutUint16(frame[4:6], f.Length)
	frame[6] = f.UnitID
	frame[7] = f.FunctionCode
	copy(frame[8:], f.Data)

	return frame
}

func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < headerLength+1 {
		return nil, fmt.Errorf("frame too short: %d bytes", len(data))
	}

	frame := &Frame{
		TransactionID: binary.BigEndian.Uint16(data[0:2]),
		ProtocolID:    binary.BigEndian.Uint16(data[2:4]),
		Length:        binary.BigEndian.Uint16(data[4:6]),
		UnitID:        data[6],
		FunctionCode:  data[7],
	}

	if frame.ProtocolID != 0 {
		return nil, fmt.Errorf("invalid protocol ID: 0x%04X", frame.ProtocolID)
	}
	if int(frame.Length) != len(data)-6 {
		return nil, fmt.Errorf("length field %d does not match %d bytes", frame.Length, len(data)-6)
	}

	if len(data) > headerLength+1 {
		frame.Data = data[headerLength+1:]
	}

	return frame, nil
}

// ReadRegistersRequest builds a 0x03 or 0x04 request.
func ReadRegistersRequest(function uint8, unitID uint8, startAddr, quantity uint16) *Frame {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], startAddr)
	binary.BigEndian.PutUint16(data[2:4], quantity)

	return &Frame{
		UnitID:       unitID,
		FunctionCode: function,
		Data:         data,
	}
}

// Exception returns the device exception carried by f, if any.
func (f *Frame) Exception() error {
	if f.FunctionCode&exceptionFlag == 0 {
		return nil
	}
	code := uint8(0)
	if len(f.Data) > 0 {
		code = f.Data[0]
	}
	return &ExceptionError{FunctionCode: f.FunctionCode &^ exceptionFlag, Code: code}
}

// ParseRegisterResponse reads the register words of a 0x03/0x04 response.
func (f *Frame) ParseRegisterResponse(expected uint16) ([]uint16, error) {
	if err := f.Exception(); err != nil {
		return nil, err
	}
	if len(f.Data) < 1 {
		return nil, fmt.Errorf("response too short")
	}

	byteCount := int(f.Data[0])
	if byteCount%2 != 0 || len(f.Data) < byteCount+1 {
		return nil, fmt.Errorf("incomplete response data")
	}
	if byteCount/2 != int(expected) {
		return nil, fmt.Errorf("expected %d registers, got %d", expected, byteCount/2)
	}

	registers := make([]uint16, byteCount/2)
	for i := range registers {
		offset := 1 + i*2
		registers[i] = binary.BigEndian.Uint16(f.Data[offset : offset+2])
	}

	return registers, nil
}
