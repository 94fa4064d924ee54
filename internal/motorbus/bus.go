// Package motorbus serializes RS-485 Modbus-RTU traffic to the brushless DC
// winch drives: register 0x8005 (RPM setpoint) and 0x8000 (run/stop
// command). It is single-owner and single-threaded internally — callers
// must not issue overlapping operations.
package motorbus

import (
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"github.com/goburrow/serial"
	"github.com/sirupsen/logrus"
)

// Command words written to register 0x8000.
const (
	cmdForward   uint16 = 0x0902
	cmdReverse   uint16 = 0x0B02
	cmdStopNat   uint16 = 0x0802 // natural stop
	cmdStopBrake uint16 = 0x0D02 // brake stop
)

const (
	registerCommand uint16 = 0x8000
	registerRPM     uint16 = 0x8005

	minRPM uint16 = 0
	maxRPM uint16 = 4000
)

// Direction is the commanded rotation sense for Start.
type Direction int

const (
	Forward Direction = iota
	Reverse
)

// Outcome distinguishes a clean write from a missing echo. A missing echo
// is a warning, not an error — the bus's next cycle will
// re-issue only differences, so a dropped echo is not fatal on its own.
type Outcome int

const (
	Ok Outcome = iota
	NoResponse
)

// Handler is the subset of a connected Modbus-RTU client this package
// drives: a per-call slave address switch (the bus is shared by up to four
// drives) plus the single write operation the drives accept.
type Handler interface {
	SetSlave(id byte)
	WriteSingleRegister(address, value uint16) ([]byte, error)
}

// rtuHandler adapts goburrow/modbus's RTU handler + client pair to Handler,
// since goburrow addresses the target slave via a field on the handler
// rather than a per-call parameter.
type rtuHandler struct {
	h *modbus.RTUClientHandler
	c modbus.Client
}

func (r *rtuHandler) SetSlave(id byte) { r.h.SlaveId = id }

func (r *rtuHandler) WriteSingleRegister(address, value uint16) ([]byte, error) {
	return r.c.WriteSingleRegister(address, value)
}

// Bus is the serialized, single-owner driver for one RS-485 line shared by
// up to four drives, addressed by Modbus slave id.
type Bus struct {
	mu       sync.Mutex
	client   Handler
	settle   time.Duration
	log      *logrus.Entry
	warnSeen map[warnKey]time.Time
}

type warnKey struct {
	slave byte
	op    string
}

// Config configures the serial link a Bus opens.
type Config struct {
	SerialPort string
	BaudRate   int
	Timeout    time.Duration // bounded echo-read timeout, default 1s
	Settle     time.Duration // settling wait after each write; the echo is read before it, inside the write call

	// RS485DirControl enables kernel-driven DE/RE toggling for
	// transceivers without automatic direction switching.
	RS485DirControl bool
}

// Open establishes the RS-485 serial connection and returns a ready Bus
// along with its Close func.
func Open(cfg Config) (*Bus, func() error, error) {
	h := modbus.NewRTUClientHandler(cfg.SerialPort)
	h.BaudRate = cfg.BaudRate
	h.DataBits = 8
	h.Parity = "N"
	h.StopBits = 1
	if cfg.Timeout > 0 {
		h.Timeout = cfg.Timeout
	} else {
		h.Timeout = 1 * time.Second
	}
	if cfg.RS485DirControl {
		h.RS485 = serial.RS485Config{
			Enabled:            true,
			RtsHighDuringSend:  true,
			DelayRtsBeforeSend: time.Millisecond,
			DelayRtsAfterSend:  time.Millisecond,
		}
	}
	if err := h.Connect(); err != nil {
		return nil, nil, err
	}
	client := modbus.NewClient(h)
	settle := cfg.Settle
	if settle <= 0 {
		settle = 100 * time.Millisecond
	}
	b := NewWithHandler(&rtuHandler{h: h, c: client}, settle)
	return b, h.Close, nil
}

// NewWithHandler wires a Bus against an already-connected Handler — the
// seam tests use to fake the serial link.
func NewWithHandler(client Handler, settle time.Duration) *Bus {
	return &Bus{
		client:   client,
		settle:   settle,
		log:      logrus.WithField("component", "motorbus"),
		warnSeen: make(map[warnKey]time.Time),
	}
}

// encodeRPM clamps to [0, 4000] then applies the drive-firmware byte-swap
// quirk: the wire carries a big-endian 16-bit word containing the swapped
// bytes of the native RPM value (low byte in high position, high byte in
// low position). goburrow/modbus always encodes WriteSingleRegister's value
// big-endian, so pre-swapping here reproduces the wire bytes exactly.
func encodeRPM(rpm uint16) uint16 {
	if rpm > maxRPM {
		rpm = maxRPM
	}
	if rpm < minRPM {
		rpm = minRPM
	}
	low := byte(rpm & 0xFF)
	high := byte(rpm >> 8)
	return uint16(low)<<8 | uint16(high)
}

func commandWord(dir Direction) uint16 {
	if dir == Reverse {
		return cmdReverse
	}
	return cmdForward
}

// WriteRPM sets the RPM setpoint register on the given slave.
func (b *Bus) WriteRPM(slave byte, rpm uint16) (Outcome, error) {
	return b.write(slave, "write_rpm", registerRPM, encodeRPM(rpm))
}

// Start commands the drive to run in the given direction.
func (b *Bus) Start(slave byte, dir Direction) (Outcome, error) {
	return b.write(slave, "start", registerCommand, commandWord(dir))
}

// Stop issues a natural stop (0x0802). Drives exiting the normal path use
// the natural, not braking, stop rather than an emergency brake.
func (b *Bus) Stop(slave byte) (Outcome, error) {
	return b.write(slave, "stop", registerCommand, cmdStopNat)
}

// BrakeStop issues an immediate braking stop (0x0D02), for emergency paths
// that cannot tolerate coast-down time.
func (b *Bus) BrakeStop(slave byte) (Outcome, error) {
	return b.write(slave, "brake_stop", registerCommand, cmdStopBrake)
}

func (b *Bus) write(slave byte, op string, register, value uint16) (Outcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.client.SetSlave(slave)
	_, err := b.client.WriteSingleRegister(register, value)
	time.Sleep(b.settle)
	if err != nil {
		b.warnNoResponse(slave, op, err)
		return NoResponse, nil
	}
	return Ok, nil
}

// warnNoResponse rate-limits the "no echo" log line per (slave, op) so a
// contended bus doesn't flood the log — the next poll cycle re-issues only
// what changed, so a missed echo self-heals.
func (b *Bus) warnNoResponse(slave byte, op string, err error) {
	key := warnKey{slave: slave, op: op}
	if last, ok := b.warnSeen[key]; ok && time.Since(last) < 5*time.Second {
		return
	}
	b.warnSeen[key] = time.Now()
	b.log.WithFields(logrus.Fields{"slave": slave, "op": op}).Warnf("no echo from drive: %v", err)
}
