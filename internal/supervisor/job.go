package supervisor

import (
	"time"

	"github.com/arachnonestor/motion-supervisor/internal/motorbus"
)

// ensureReady validates the mode guard and that no job is already active.
// Caller must hold s.mu.
func (s *Supervisor) ensureReady(required Mode) error {
	if s.fault != "" {
		return preconditionErr("FAULT: " + s.fault)
	}
	if s.mode != required {
		return preconditionErr("mode must be " + string(required))
	}
	if s.jobActive {
		return preconditionErr("another job running")
	}
	return nil
}

// SetupJog commands the "up" vector at rpm for seconds, requiring SETUP.
func (s *Supervisor) SetupJog(rpm uint16, seconds float64) error {
	return s.startTimedJob(ModeSetup, directionMap["up"], rpm, seconds, "setup_jog")
}

// TestUp commands the "up" vector at rpm for seconds, requiring TEST.
func (s *Supervisor) TestUp(rpm uint16, seconds float64) error {
	return s.startTimedJob(ModeTest, directionMap["up"], rpm, seconds, "test_up")
}

// TestDirection commands an arbitrary named direction vector, requiring
// TEST and, additionally, that the current safety status permits motion.
func (s *Supervisor) TestDirection(name string, rpm uint16, seconds float64) error {
	vec, ok := vectorFor(name)
	if !ok {
		return preconditionErr("invalid direction: " + name)
	}

	s.mu.Lock()
	if err := s.ensureReady(ModeTest); err != nil {
		s.mu.Unlock()
		return err
	}
	status := s.safe.Evaluate(cloneHalls(s.snapshot.Halls), s.snapshot.LastUpdate, s.clock())
	if !status.CanMove {
		s.fault = status.Reason
		s.mode = ModeFault
		s.mu.Unlock()
		s.stopAllMotorsAsync("safety stop")
		return safetyErr(status.Reason)
	}
	s.mu.Unlock()

	return s.startTimedJob(ModeTest, vec, rpm, seconds, "dir_"+name)
}

func (s *Supervisor) startTimedJob(required Mode, vec directionVector, rpm uint16, seconds float64, label string) error {
	s.mu.Lock()
	if err := s.ensureReady(required); err != nil {
		s.mu.Unlock()
		return err
	}
	s.generation++
	gen := s.generation
	cancel := make(chan struct{})
	done := make(chan struct{})
	s.jobCancel = cancel
	s.jobDone = done
	s.jobLabel = label
	s.jobActive = true
	s.mu.Unlock()

	s.log.WithField("job", label).Infof("job start rpm=%d sec=%.1f", rpm, seconds)
	go s.runTimedJob(gen, cancel, done, vec, rpm, seconds, label)
	return nil
}

func (s *Supervisor) runTimedJob(gen uint64, cancel, done chan struct{}, vec directionVector, rpm uint16, seconds float64, label string) {
	defer close(done)
	defer s.finishJob(gen, label, "job finished")

	func() {
		defer func() {
			if r := recover(); r != nil {
				s.handleJobPanic(label, r)
			}
		}()
		if err := s.commandMotors(vec, rpm); err != nil {
			return
		}
		select {
		case <-time.After(durationFromSeconds(seconds)):
		case <-cancel:
		}
	}()
}

func (s *Supervisor) handleJobPanic(label string, r interface{}) {
	s.EmergencyStop(jobFailedErr(label, toString(r)).Error())
}

// finishJob stops motors and clears the job slot if its generation is
// still current. Stop is always attempted regardless of staleness —
// redundant stops are safe and idempotent.
func (s *Supervisor) finishJob(gen uint64, label, reason string) {
	s.stopAllMotorsSync(reason)
	s.mu.Lock()
	if s.generation == gen {
		s.jobActive = false
		s.jobLabel = ""
		s.jobCancel = nil
		s.jobAllowsHallBelow = false
	}
	s.mu.Unlock()
}

// SetupHallRun starts the unbounded, hall-gated job: each cycle reads
// current halls and, per motor, stops below threshold or maps hall->RPM.
// Requires SETUP. reverse selects the down vector instead of up.
func (s *Supervisor) SetupHallRun(rpm uint16, seconds float64, reverse bool) error {
	vec := setupHallDirection(reverse)

	s.mu.Lock()
	if err := s.ensureReady(ModeSetup); err != nil {
		s.mu.Unlock()
		return err
	}
	s.generation++
	gen := s.generation
	cancel := make(chan struct{})
	done := make(chan struct{})
	s.jobCancel = cancel
	s.jobDone = done
	s.jobLabel = "setup_hall_run"
	s.jobActive = true
	s.jobAllowsHallBelow = true
	s.mu.Unlock()

	s.log.WithField("job", "setup_hall_run").Infof("hall-gated job start rpm=%d", rpm)
	go s.runHallGatedJob(gen, cancel, done, vec, rpm, seconds)
	return nil
}

func (s *Supervisor) runHallGatedJob(gen uint64, cancel, done chan struct{}, vec directionVector, rpm uint16, seconds float64) {
	defer close(done)
	defer s.finishJob(gen, "setup_hall_run", "job finished")

	deadline := time.Time{}
	if seconds > 0 {
		deadline = s.clock().Add(durationFromSeconds(seconds))
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	func() {
		defer func() {
			if r := recover(); r != nil {
				s.handleJobPanic("setup_hall_run", r)
			}
		}()
		for {
			select {
			case <-cancel:
				return
			case <-ticker.C:
				if !deadline.IsZero() && s.clock().After(deadline) {
					return
				}
				if err := s.commandHallGated(vec, rpm); err != nil {
					return
				}
			}
		}
	}()
}

// commandHallGated implements the hall-gated per-motor mapping: a
// below-threshold hall stops that motor only (allow_hall_below=true); the
// safety rule's other clauses still fault: absent, stale or missing hall
// data trips FAULT here, and comms failures are faulted by the sensor poller.
func (s *Supervisor) commandHallGated(vec directionVector, rpm uint16) error {
	s.mu.Lock()
	if s.fault != "" {
		s.mu.Unlock()
		return preconditionErr("FAULT: " + s.fault)
	}
	status := s.safe.EvaluateAllowingHallBelow(cloneHalls(s.snapshot.Halls), s.snapshot.LastUpdate, s.clock())
	if !status.CanMove {
		s.fault = status.Reason
		s.mode = ModeFault
		s.mu.Unlock()
		s.stopAllMotorsAsync("safety stop")
		return safetyErr(status.Reason)
	}
	halls := make(map[WinchID]uint16, len(s.snapshot.Halls))
	for k, v := range s.snapshot.Halls {
		halls[k] = v
	}
	s.mu.Unlock()

	for i, w := range s.cfg.WinchIDs {
		if i >= len(vec) {
			break
		}
		sgn := vec[i]
		if sgn == signNone {
			s.stopMotor(w)
			continue
		}
		hall, ok := halls[w]
		if !ok || hall < s.cfg.HallThreshold {
			s.stopMotor(w)
			continue
		}
		mapped := mapHallToRPM(hall, s.cfg.HallThreshold, s.cfg.HallMax, s.cfg.HallRPMMin, s.cfg.HallRPMMax)
		dir := motorbus.Forward
		if sgn == signReverse {
			dir = motorbus.Reverse
		}
		s.commandMotor(w, dir, mapped)
	}
	return nil
}

// mapHallToRPM linearly interpolates hall magnitude between
// (hallThreshold, rpmMin) and (hallMax, rpmMax), clamped at both ends.
func mapHallToRPM(hall, threshold, max, rpmMin, rpmMax uint16) uint16 {
	if hall <= threshold {
		return rpmMin
	}
	if hall >= max || max <= threshold {
		return rpmMax
	}
	span := float64(max - threshold)
	frac := float64(hall-threshold) / span
	out := float64(rpmMin) + frac*float64(rpmMax-rpmMin)
	return uint16(out + 0.5)
}

// commandMotors applies the safety gate then commands every non-zero
// winch in vec at rpm, using the per-motor command cache to suppress
// redundant Modbus writes.
func (s *Supervisor) commandMotors(vec directionVector, rpm uint16) error {
	s.mu.Lock()
	status := s.safe.Evaluate(cloneHalls(s.snapshot.Halls), s.snapshot.LastUpdate, s.clock())
	if !status.CanMove {
		s.fault = status.Reason
		s.mode = ModeFault
		s.mu.Unlock()
		s.stopAllMotorsAsync("safety stop")
		return safetyErr(status.Reason)
	}
	s.mu.Unlock()

	for i, w := range s.cfg.WinchIDs {
		if i >= len(vec) {
			break
		}
		sgn := vec[i]
		if sgn == signNone {
			s.stopMotor(w)
			continue
		}
		dir := motorbus.Forward
		if sgn == signReverse {
			dir = motorbus.Reverse
		}
		s.commandMotor(w, dir, rpm)
	}
	return nil
}

// commandMotor issues only the Modbus writes necessary to reach the
// desired (running, rpm, dir) state for one winch.
func (s *Supervisor) commandMotor(w WinchID, dir motorbus.Direction, rpm uint16) {
	s.mu.Lock()
	state := s.motorState[w]
	if state == nil {
		state = &MotorRuntimeState{}
		s.motorState[w] = state
	}
	needRPM := !state.Running || state.CommandedRPM != rpm
	wantDir := DirForward
	if dir == motorbus.Reverse {
		wantDir = DirReverse
	}
	needStart := !state.Running || state.CommandedDir != wantDir
	s.mu.Unlock()

	slave := s.cfg.slaveFor(w)
	if needRPM {
		if _, err := s.bus.WriteRPM(slave, rpm); err != nil {
			s.log.WithField("winch", w).Warnf("write_rpm failed: %v", err)
		}
	}
	if needStart {
		if _, err := s.bus.Start(slave, dir); err != nil {
			s.log.WithField("winch", w).Warnf("start failed: %v", err)
		}
	}

	s.mu.Lock()
	state.Running = true
	state.CommandedRPM = rpm
	state.CommandedDir = wantDir
	s.mu.Unlock()
}

func cloneHalls(h map[WinchID]uint16) map[int]uint16 {
	out := make(map[int]uint16, len(h))
	for k, v := range h {
		out[int(k)] = v
	}
	return out
}

func durationFromSeconds(s float64) time.Duration {
	if s < 0 {
		s = 0
	}
	return time.Duration(s * float64(time.Second))
}

func toString(r interface{}) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	if s, ok := r.(string); ok {
		return s
	}
	return "panic"
}
