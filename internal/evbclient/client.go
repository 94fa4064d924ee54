// Package evbclient implements the persistent TCP session to the EVB sensor
// aggregator device: request/response over the length-framed, CRC-8 packets
// defined in internal/protocol.
package evbclient

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/arachnonestor/motion-supervisor/internal/protocol"
)

// TransportErrorKind classifies a failure in the framing/transport layer,
// as distinct from a DeviceError returned by the device itself.
type TransportErrorKind int

const (
	TransportTimeout TransportErrorKind = iota
	TransportClosed
	TransportFraming
	TransportCRC
)

func (k TransportErrorKind) String() string {
	switch k {
	case TransportTimeout:
		return "timeout"
	case TransportClosed:
		return "closed"
	case TransportFraming:
		return "framing"
	case TransportCRC:
		return "crc"
	default:
		return "unknown"
	}
}

// TransportError wraps a transport-layer failure (socket or framing, not a
// device-level error response).
type TransportError struct {
	Kind TransportErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("evbclient: transport %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("evbclient: transport %s", e.Kind)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DeviceError is raised when the EVB responds with the reserved ERROR
// (0xE0) type.
type DeviceError struct {
	OrigType byte
	Winch    byte
	Code     protocol.DeviceErrorCode
	Message  string
}

func (e *DeviceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("evbclient: device error type=0x%02X winch=%d code=%s: %s", e.OrigType, e.Winch, e.Code, e.Message)
	}
	return fmt.Sprintf("evbclient: device error type=0x%02X winch=%d code=%s", e.OrigType, e.Winch, e.Code)
}

// Client is a single persistent TCP connection to the EVB device. Send is
// synchronous and not safe for concurrent use by multiple goroutines — the
// sensor poller is the sole owner of a Client's socket.
type Client struct {
	conn    net.Conn
	r       *bufio.Reader
	timeout time.Duration
}

// Dial opens a new TCP connection to the sensor device.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, &TransportError{Kind: TransportClosed, Err: err}
	}
	return &Client{conn: conn, r: bufio.NewReader(conn), timeout: timeout}, nil
}

// Close releases the underlying socket.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Send transmits a framed request and blocks for the matching framed
// response, returning the response type and payload. An ERROR (0xE0)
// response is surfaced as a *DeviceError; any socket/framing problem as a
// *TransportError.
func (c *Client) Send(typ byte, payload []byte) (byte, []byte, error) {
	frame, err := protocol.BuildPacket(typ, payload)
	if err != nil {
		return 0, nil, err
	}

	if c.timeout > 0 {
		if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, nil, &TransportError{Kind: TransportClosed, Err: err}
		}
	}

	if _, err := c.conn.Write(frame); err != nil {
		return 0, nil, classifyIOErr(err)
	}

	respType, respPayload, err := c.readFrame()
	if err != nil {
		return 0, nil, err
	}

	if respType == protocol.TypeError {
		devErr, perr := protocol.ParseDeviceError(respPayload)
		if perr != nil {
			return 0, nil, &TransportError{Kind: TransportFraming, Err: perr}
		}
		return respType, respPayload, &DeviceError{
			OrigType: devErr.OrigType,
			Winch:    devErr.Winch,
			Code:     devErr.Code,
			Message:  devErr.Message,
		}
	}

	return respType, respPayload, nil
}

func (c *Client) readFrame() (byte, []byte, error) {
	preamble, err := c.r.ReadByte()
	if err != nil {
		return 0, nil, classifyIOErr(err)
	}
	if preamble != protocol.Preamble {
		return 0, nil, &TransportError{Kind: TransportFraming, Err: fmt.Errorf("bad preamble 0x%02X", preamble)}
	}
	typ, err := c.r.ReadByte()
	if err != nil {
		return 0, nil, classifyIOErr(err)
	}
	length, err := c.r.ReadByte()
	if err != nil {
		return 0, nil, classifyIOErr(err)
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := readFull(c.r, payload); err != nil {
			return 0, nil, classifyIOErr(err)
		}
	}
	crcByte, err := c.r.ReadByte()
	if err != nil {
		return 0, nil, classifyIOErr(err)
	}
	if err := protocol.ValidateFrame(preamble, typ, length, payload, crcByte); err != nil {
		return 0, nil, &TransportError{Kind: TransportCRC, Err: err}
	}
	return typ, payload, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func classifyIOErr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TransportError{Kind: TransportTimeout, Err: err}
	}
	return &TransportError{Kind: TransportClosed, Err: err}
}
