package supervisor

import (
	"sync"
	"time"

	"github.com/arachnonestor/motion-supervisor/internal/motorbus"
	"github.com/arachnonestor/motion-supervisor/internal/safety"
	"github.com/sirupsen/logrus"
)

// MotorBus is the subset of motorbus.Bus the supervisor drives. Accepting
// an interface here lets job/balance-loop logic be tested without a real
// RS-485 link.
type MotorBus interface {
	WriteRPM(slave byte, rpm uint16) (motorbus.Outcome, error)
	Start(slave byte, dir motorbus.Direction) (motorbus.Outcome, error)
	Stop(slave byte) (motorbus.Outcome, error)
}

// Supervisor is the process-local, mutex-guarded motion supervisor value:
// the sole owner of MotorRuntimeState, Mode, the current Job, and the
// generation counter. Constructed once at startup and passed by reference
// to adapters — no ambient globals.
type Supervisor struct {
	mu sync.Mutex

	cfg   Config
	bus   MotorBus
	safe  safety.Monitor
	log   *logrus.Entry
	clock func() time.Time

	mode  Mode
	fault string

	snapshot Snapshot

	motorState map[WinchID]*MotorRuntimeState

	generation          uint64
	jobLabel            string
	jobActive           bool
	jobAllowsHallBelow  bool
	jobCancel           chan struct{}
	jobDone             chan struct{}

	lastCmd LastCommand

	evbLastError   string
	evbErrorStreak uint64
	pollCycles     uint64
}

// New constructs a Supervisor. bus must already be connected; the
// supervisor never dials or opens it.
func New(cfg Config, bus MotorBus) *Supervisor {
	states := make(map[WinchID]*MotorRuntimeState, len(cfg.WinchIDs))
	for _, w := range cfg.WinchIDs {
		states[w] = &MotorRuntimeState{}
	}
	return &Supervisor{
		cfg:        cfg,
		bus:        bus,
		safe:       safety.New(cfg.HallThreshold, cfg.StaleTimeout),
		log:        logrus.WithField("component", "supervisor"),
		clock:      time.Now,
		mode:       ModeIdle,
		snapshot:   newSnapshot(cfg.WinchIDs),
		motorState: states,
	}
}

// GetStatus returns a deep copy of the full supervisor state. Never
// performs I/O — only a brief mutex hold.
func (s *Supervisor) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	motorStates := make(map[WinchID]MotorRuntimeState, len(s.motorState))
	for w, st := range s.motorState {
		motorStates[w] = *st
	}
	snap := s.snapshot.clone()

	return Status{
		Mode:           s.mode,
		Fault:          s.fault,
		Halls:          snap.Halls,
		Power:          snap.Power,
		Bundles:        snap.Bundles,
		IMU:            snap.IMU,
		LastUpdate:     snap.LastUpdate,
		MaxHallSeen:    snap.MaxHallSeen,
		Job:            JobInfo{Label: s.jobLabel, Generation: s.generation, Active: s.jobActive},
		LastCommand:    s.lastCmd,
		MotorStates:    motorStates,
		EVBLastError:   s.evbLastError,
		EVBErrorStreak: s.evbErrorStreak,
		PollCycles:     s.pollCycles,
	}
}

// RecordCommand updates the diagnostic LastCommand slot.
func (s *Supervisor) RecordCommand(action, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCmd = LastCommand{At: s.clock(), Action: action, Detail: detail}
}

// SetMode transitions the mode state machine. Rejected while in FAULT
// unless the target is FAULT itself; every transition stops motors and
// cancels any active job first.
func (s *Supervisor) SetMode(m Mode) error {
	switch m {
	case ModeIdle, ModeSetup, ModeTest, ModeFault:
	default:
		return preconditionErr("invalid mode: " + string(m))
	}

	s.mu.Lock()
	if s.fault != "" && m != ModeFault {
		s.mu.Unlock()
		return preconditionErr("in FAULT; clear_fault first")
	}
	s.cancelJobLocked()
	s.mode = m
	s.mu.Unlock()

	s.stopAllMotorsAsync("mode change")
	return nil
}

// ClearFault is the sole path out of FAULT: clears the reason, enters
// IDLE, stops motors.
func (s *Supervisor) ClearFault() {
	s.mu.Lock()
	s.fault = ""
	s.mode = ModeIdle
	s.cancelJobLocked()
	s.mu.Unlock()

	s.stopAllMotorsAsync("fault cleared")
}

// StopAll cancels the current job and stops motors; optionally enters
// FAULT with reason latched (first reason wins).
func (s *Supervisor) StopAll(reason string, asFault bool) {
	s.mu.Lock()
	s.cancelJobLocked()
	if asFault {
		if s.fault == "" {
			s.fault = reason
		}
		s.mode = ModeFault
	}
	s.mu.Unlock()

	s.stopAllMotorsAsync(reason)
}

// EmergencyStop force-stops and enters FAULT regardless of current state.
// Callers on a request thread must not block on serial I/O, so the actual
// stop is dispatched to a short-lived goroutine. A concurrently exiting job
// worker runs its own stop pass as well; stopMotor skips winches the command
// cache already records as stopped, so each winch receives at most one Stop.
func (s *Supervisor) EmergencyStop(reason string) {
	s.StopAll(reason, true)
}

// CancelJob is non-fault job cancellation: increments the generation and
// requests an asynchronous motor stop.
func (s *Supervisor) CancelJob(reason string) {
	s.mu.Lock()
	s.cancelJobLocked()
	s.mu.Unlock()

	s.stopAllMotorsAsync(reason)
}

// cancelJobLocked increments the generation counter, invalidating any
// in-flight job worker's captured generation. Caller must hold s.mu.
func (s *Supervisor) cancelJobLocked() {
	s.generation++
	if s.jobCancel != nil {
		close(s.jobCancel)
		s.jobCancel = nil
	}
	s.jobActive = false
	s.jobLabel = ""
	s.jobAllowsHallBelow = false
}

// stopAllMotorsAsync issues Stop to every configured winch on a
// short-lived goroutine so request threads and the status/SSE stream stay
// responsive. Redundant calls are safe: stopMotor skips winches the command
// cache already records as stopped.
func (s *Supervisor) stopAllMotorsAsync(reason string) {
	go s.stopAllMotorsSync(reason)
}

func (s *Supervisor) stopAllMotorsSync(reason string) {
	for _, w := range s.cfg.WinchIDs {
		s.stopMotor(w)
	}
}

// stopMotor issues a bus Stop for one winch. The command cache is claimed
// under the mutex before the serial write, so concurrent stop paths (job
// teardown plus an async operator stop) issue at most one Stop per winch.
// Any bus failure is logged, never re-raised — the goal is monotonic
// convergence to stopped.
func (s *Supervisor) stopMotor(w WinchID) {
	s.mu.Lock()
	state := s.motorState[w]
	if state == nil {
		state = &MotorRuntimeState{}
		s.motorState[w] = state
	}
	if !state.Running {
		s.mu.Unlock()
		return
	}
	state.Running = false
	state.CommandedDir = DirNone
	s.mu.Unlock()

	slave := s.cfg.slaveFor(w)
	if _, err := s.bus.Stop(slave); err != nil {
		s.log.WithField("winch", w).Warnf("stop failed: %v", err)
	}
}

// Shutdown cancels any active job, waits briefly for its worker to exit,
// and stops every motor synchronously. Intended for a clean process exit,
// not the runtime fault path.
func (s *Supervisor) Shutdown(timeout time.Duration) {
	s.mu.Lock()
	done := s.jobDone
	s.cancelJobLocked()
	s.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-time.After(timeout):
		}
	}
	s.stopAllMotorsSync("shutdown")
}
