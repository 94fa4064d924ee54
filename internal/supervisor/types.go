// Package supervisor implements the motion supervisor: the mode state
// machine, job lifecycle, per-motor command cache, sensor poller, and the
// thread-safe command facade the presentation layer consumes.
package supervisor

import (
	"time"

	"github.com/arachnonestor/motion-supervisor/internal/protocol"
)

// WinchID identifies one of the configured cable winches.
type WinchID int

// Mode is one of the four supervisor states. FAULT is exited only via
// ClearFault.
type Mode string

const (
	ModeIdle  Mode = "IDLE"
	ModeSetup Mode = "SETUP"
	ModeTest  Mode = "TEST"
	ModeFault Mode = "FAULT"
)

// Power is the power-telemetry portion of a winch bundle.
type Power struct {
	BusMV     uint16 `json:"bus_mv"`
	CurrentMA int16  `json:"current_ma"`
	PowerMW   uint32 `json:"power_mw"`
}

// Bundle is the full per-winch aggregate read in one EVB request.
type Bundle struct {
	Flags      byte   `json:"flags"`
	TotalCount int32  `json:"total_count"`
	DeltaCount int32  `json:"delta_count"`
	HallRaw    uint16 `json:"hall_raw"`
	DistMM     uint16 `json:"dist_mm"`
	Strength   uint16 `json:"strength"`
	TempRaw    uint16 `json:"temp_raw"`
	AgeMs      uint16 `json:"age_ms"`
	Power      Power  `json:"power"`
}

// IMU is the latest orientation/motion reading, absent until the first
// successful IMU request.
type IMU struct {
	Gyro  [3]float32 `json:"gyro"`
	Accel [3]float32 `json:"accel"`
	TempC float32    `json:"temp_c"`
	Pitch float32    `json:"pitch"`
	Roll  float32    `json:"roll"`
	Yaw   float32    `json:"yaw"`
}

// Snapshot is the latest merged sensor reading. Stale snapshots are never
// overwritten with partial data on failure — on failure the snapshot is
// frozen and the supervisor transitions to FAULT.
type Snapshot struct {
	Halls       map[WinchID]uint16
	Power       map[WinchID]Power
	Bundles     map[WinchID]Bundle
	IMU         *IMU
	LastUpdate  *time.Time
	MaxHallSeen map[WinchID]uint16
}

func newSnapshot(winches []WinchID) Snapshot {
	s := Snapshot{
		Halls:       make(map[WinchID]uint16, len(winches)),
		Power:       make(map[WinchID]Power, len(winches)),
		Bundles:     make(map[WinchID]Bundle, len(winches)),
		MaxHallSeen: make(map[WinchID]uint16, len(winches)),
	}
	return s
}

// clone returns a deep copy suitable for returning to external observers
// without risking concurrent mutation.
func (s Snapshot) clone() Snapshot {
	out := Snapshot{
		Halls:       make(map[WinchID]uint16, len(s.Halls)),
		Power:       make(map[WinchID]Power, len(s.Power)),
		Bundles:     make(map[WinchID]Bundle, len(s.Bundles)),
		MaxHallSeen: make(map[WinchID]uint16, len(s.MaxHallSeen)),
	}
	for k, v := range s.Halls {
		out.Halls[k] = v
	}
	for k, v := range s.Power {
		out.Power[k] = v
	}
	for k, v := range s.Bundles {
		out.Bundles[k] = v
	}
	for k, v := range s.MaxHallSeen {
		out.MaxHallSeen[k] = v
	}
	if s.IMU != nil {
		imu := *s.IMU
		out.IMU = &imu
	}
	if s.LastUpdate != nil {
		t := *s.LastUpdate
		out.LastUpdate = &t
	}
	return out
}

// MotorDirection is the commanded rotation sense cached per motor.
type MotorDirection int

const (
	DirNone MotorDirection = iota
	DirForward
	DirReverse
)

// MotorRuntimeState is the per-winch command cache: what the supervisor
// last told the drive to do, used to suppress redundant Modbus writes.
type MotorRuntimeState struct {
	Running      bool           `json:"running"`
	CommandedRPM uint16         `json:"commanded_rpm"`
	CommandedDir MotorDirection `json:"commanded_dir"`
}

// JobKind distinguishes the two job termination shapes.
type JobKind int

const (
	JobTimed JobKind = iota
	JobHallGated
)

// JobInfo is the read-only, point-in-time description of the active job
// exposed via GetStatus.
type JobInfo struct {
	Label      string `json:"label"`
	Generation uint64 `json:"generation"`
	Active     bool   `json:"active"`
}

// LastCommand is the rolling single-slot diagnostic record of the most
// recent externally issued intent.
type LastCommand struct {
	At     time.Time `json:"ts"`
	Action string    `json:"action"`
	Detail string    `json:"detail"`
}

// Status is the deep-copied, external-facing snapshot returned by
// GetStatus. No field aliases supervisor-owned memory.
type Status struct {
	Mode           Mode                          `json:"mode"`
	Fault          string                        `json:"fault"` // empty when not faulted
	Halls          map[WinchID]uint16            `json:"halls"`
	Power          map[WinchID]Power             `json:"power"`
	Bundles        map[WinchID]Bundle            `json:"bundles"`
	IMU            *IMU                          `json:"imu,omitempty"`
	LastUpdate     *time.Time                    `json:"last_update,omitempty"`
	MaxHallSeen    map[WinchID]uint16            `json:"max_hall_seen"`
	Job            JobInfo                       `json:"job"`
	LastCommand    LastCommand                   `json:"last_command"`
	MotorStates    map[WinchID]MotorRuntimeState `json:"motor_states"`
	EVBLastError   string                        `json:"evb_last_error"`
	EVBErrorStreak uint64                        `json:"evb_error_streak"`
	PollCycles     uint64                        `json:"poll_cycles"`
}

// bundleFromWire adapts a parsed protocol.BundleResp into the supervisor's
// domain Bundle type.
func bundleFromWire(b protocol.BundleResp) Bundle {
	return Bundle{
		Flags:      b.Flags,
		TotalCount: b.TotalCount,
		DeltaCount: b.DeltaCount,
		HallRaw:    b.HallRaw,
		DistMM:     b.DistMM,
		Strength:   b.Strength,
		TempRaw:    b.TempRaw,
		AgeMs:      b.AgeMs,
		Power: Power{
			BusMV:     b.BusMV,
			CurrentMA: b.CurrentMA,
			PowerMW:   b.PowerMW,
		},
	}
}

func imuFromWire(i protocol.IMUResp) IMU {
	return IMU{
		Gyro:  i.Gyro,
		Accel: i.Accel,
		TempC: i.TempC,
		Pitch: i.Pitch,
		Roll:  i.Roll,
		Yaw:   i.Yaw,
	}
}
