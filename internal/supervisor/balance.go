package supervisor

import (
	"context"
	"time"

	"github.com/arachnonestor/motion-supervisor/internal/motorbus"
)

// PID is a simple clamped proportional-integral-derivative controller.
type PID struct {
	Kp, Ki, Kd float64
	Min, Max   float64

	integral float64
	lastErr  float64
	hasLast  bool
}

// DefaultBalancePID returns the stock gains and output clamp for the
// IMU-roll balance loop.
func DefaultBalancePID() PID {
	return PID{Kp: 20, Ki: 0.1, Kd: 5, Min: -1000, Max: 1000}
}

// Reset clears accumulated integral/derivative state.
func (p *PID) Reset() {
	p.integral = 0
	p.lastErr = 0
	p.hasLast = false
}

// Update advances the controller by one step and returns the clamped
// output correction.
func (p *PID) Update(setpoint, measurement, dt float64) float64 {
	err := setpoint - measurement
	p.integral += err * dt
	var derivative float64
	if p.hasLast && dt > 0 {
		derivative = (err - p.lastErr) / dt
	}
	p.lastErr = err
	p.hasLast = true

	out := p.Kp*err + p.Ki*p.integral + p.Kd*derivative
	if out < p.Min {
		return p.Min
	}
	if out > p.Max {
		return p.Max
	}
	return out
}

// BalanceConfig tunes the optional IMU-roll balance loop.
type BalanceConfig struct {
	BaseRPM     float64
	MinInterval time.Duration
	MaxInterval time.Duration
	Backoff     float64
	Recover     float64
	PID         PID
}

// DefaultBalanceConfig returns the stock tuning for RunBalanceLoop.
func DefaultBalanceConfig() BalanceConfig {
	return BalanceConfig{
		BaseRPM:     1000,
		MinInterval: 20 * time.Millisecond,
		MaxInterval: 200 * time.Millisecond,
		Backoff:     1.5,
		Recover:     0.9,
		PID:         DefaultBalancePID(),
	}
}

// RunBalanceLoop is the blocking alternative driver: reads IMU roll from
// the shared snapshot, applies a PID, and commands the "up" vector at
// base_rpm + correction. Exits on fault or context cancellation.
//
// The loop interval starts at cfg.MinInterval and is multiplied by
// cfg.Recover after every iteration, clamped to [MinInterval, MaxInterval].
// cfg.Backoff is not applied.
func (s *Supervisor) RunBalanceLoop(ctx context.Context, cfg BalanceConfig) error {
	pid := cfg.PID
	interval := cfg.MinInterval
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			s.stopAllMotorsSync("balance loop stop")
			return ctx.Err()
		default:
		}

		s.mu.Lock()
		if s.fault != "" {
			reason := s.fault
			s.mu.Unlock()
			s.stopAllMotorsSync("balance loop stop")
			return safetyErr(reason)
		}
		imu := s.snapshot.IMU
		updated := s.snapshot.LastUpdate
		s.mu.Unlock()

		if imu == nil || updated == nil || time.Since(*updated) > cfg.MaxInterval {
			if !sleepCtx(ctx, 50*time.Millisecond) {
				s.stopAllMotorsSync("balance loop stop")
				return ctx.Err()
			}
			continue
		}

		loopStart := time.Now()
		dt := loopStart.Sub(last).Seconds()
		last = loopStart

		correction := pid.Update(0, float64(imu.Roll), dt)
		rpmTarget := cfg.BaseRPM + correction
		s.commandBalanceMotors(rpmTarget)

		interval = clampDuration(scaleDuration(interval, cfg.Recover), cfg.MinInterval, cfg.MaxInterval)
		sleepFor := interval - time.Since(loopStart)
		if sleepFor > 0 {
			if !sleepCtx(ctx, sleepFor) {
				s.stopAllMotorsSync("balance loop stop")
				return ctx.Err()
			}
		}
	}
}

func (s *Supervisor) commandBalanceMotors(rpmTarget float64) {
	rpm := rpmTarget
	if rpm < 0 {
		rpm = 0
	}
	vec := directionMap["up"]
	for i, w := range s.cfg.WinchIDs {
		if i >= len(vec) {
			break
		}
		if vec[i] == signNone {
			s.stopMotor(w)
			continue
		}
		s.commandMotor(w, motorbus.Forward, uint16(rpm))
	}
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}

func scaleDuration(d time.Duration, factor float64) time.Duration {
	return time.Duration(float64(d) * factor)
}
