package supervisor

import "time"

// Config collects every supervisor-level tunable.
type Config struct {
	WinchIDs []WinchID

	HallThreshold uint16
	HallMax       uint16
	HallRPMMax    uint16
	HallRPMMin    uint16

	PollInterval time.Duration
	StaleTimeout time.Duration

	BackoffInitial time.Duration
	BackoffMax     time.Duration
	BackoffFactor  float64

	UseBundle bool
	UsePower  bool
	UseIMU    bool

	// ModbusAddresses maps a WinchID to its Modbus slave address. Winches
	// absent from the map share DefaultSlave.
	ModbusAddresses map[WinchID]byte
	DefaultSlave    byte
}

// DefaultConfig returns the stock tuning for a four-winch rig.
func DefaultConfig() Config {
	return Config{
		WinchIDs:        []WinchID{1, 2, 3, 4},
		HallThreshold:   1500,
		HallMax:         2800,
		HallRPMMax:      1500,
		HallRPMMin:      200,
		PollInterval:    50 * time.Millisecond,
		StaleTimeout:    1500 * time.Millisecond,
		BackoffInitial:  200 * time.Millisecond,
		BackoffMax:      2 * time.Second,
		BackoffFactor:   1.5,
		UseBundle:       true,
		UsePower:        true,
		UseIMU:          true,
		ModbusAddresses: map[WinchID]byte{},
		DefaultSlave:    1,
	}
}

func (c Config) slaveFor(w WinchID) byte {
	if addr, ok := c.ModbusAddresses[w]; ok {
		return addr
	}
	return c.DefaultSlave
}
