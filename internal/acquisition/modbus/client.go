package modbus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// Client is a Modbus TCP master for one device address. Requests are
// serialised; a broken connection is dropped and redialled on the next call.
type Client struct {
	address       string
	timeout       time.Duration
	mu            sync.Mutex
	conn          net.Conn
	transactionID uint16
}

func NewClient(address string, timeout time.Duration) *Client {
	return &Client{
		address: address,
		timeout: timeout,
	}
}

func (c *Client) Address() string {
	return c.address
}

func (c *Client) connect(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return fmt.Errorf("connection to %s failed: %w", c.address, err)
	}
	c.conn = conn
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropLocked()
}

func (c *Client) dropLocked() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Send writes request and waits for the matching response.
func (c *Client) Send(ctx context.Context, request *Frame) (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.transactionID++
	request.TransactionID = c.transactionID

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		c.dropLocked()
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	if _, err := c.conn.Write(request.Encode()); err != nil {
		c.dropLocked()
		return nil, fmt.Errorf("write failed: %w", err)
	}

	response, err := c.readFrame()
	if err != nil {
		c.dropLocked()
		return nil, err
	}

	if response.TransactionID != request.TransactionID {
		c.dropLocked()
		return nil, fmt.Errorf("transaction ID mismatch: expected %d, got %d",
			request.TransactionID, response.TransactionID)
	}
	if response.FunctionCode&^exceptionFlag != request.FunctionCode {
		return nil, fmt.Errorf("function code mismatch: expected 0x%02X, got 0x%02X",
			request.FunctionCode, response.FunctionCode)
	}

	return response, nil
}

func (c *Client) readFrame() (*Frame, error) {
	buf := make([]byte, maxFrameLength)
	if _, err := io.ReadFull(c.conn, buf[:headerLength]); err != nil {
		return nil, fmt.Errorf("read header failed: %w", err)
	}

	length := int(binary.BigEndian.Uint16(buf[4:6]))
	if length < 2 || headerLength-1+length > maxFrameLength {
		return nil, fmt.Errorf("invalid frame length %d", length)
	}

	total := headerLength - 1 + length
	if _, err := io.ReadFull(c.conn, buf[headerLength:total]); err != nil {
		return nil, fmt.Errorf("read body failed: %w", err)
	}

	frame, err := DecodeFrame(buf[:total])
	if err != nil {
		return nil, fmt.Errorf("decode failed: %w", err)
	}
	return frame, nil
}

// ReadRegisters reads quantity holding or input registers starting at addr.
func (c *Client) ReadRegisters(ctx context.Context, unitID uint8, registerType string, addr, quantity uint16) ([]uint16, error) {
	if quantity == 0 || quantity > maxRegisters {
		return nil, fmt.Errorf("invalid register quantity %d", quantity)
	}

	function := uint8(FuncCodeReadHoldingRegisters)
	switch registerType {
	case RegisterHolding, "":
	case RegisterInput:
		function = FuncCodeReadInputRegisters
	default:
		return nil, fmt.Errorf("unsupported register type %q", registerType)
	}

	response, err := c.Send(ctx, ReadRegistersRequest(function, unitID, addr, quantity))
	if err != nil {
		return nil, err
	}
	return response.ParseRegisterResponse(quantity)
}

// IsException reports whether err came from a device exception response.
func IsException(err error) bool {
	var ex *ExceptionError
	return errors.As(err, &ex)
}
