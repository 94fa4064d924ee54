package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/arachnonestor/motion-supervisor/internal/evbclient"
)

// DialFunc opens a fresh connection to the sensor device. The poller is
// the sole owner of this socket — it never shares it.
type DialFunc func() (evbclient.Conn, error)

// Poller is the background sensor-poll worker: pulls bundle/IMU data at
// cfg.PollInterval, merges into the supervisor's snapshot, applies the
// safety rule, and faults + backs off on comms failure.
type Poller struct {
	sup  *Supervisor
	dial DialFunc
}

// NewPoller binds a Poller to a Supervisor and a dial function.
func NewPoller(sup *Supervisor, dial DialFunc) *Poller {
	return &Poller{sup: sup, dial: dial}
}

// Run blocks, reconnecting with exponential backoff on failure, until ctx
// is cancelled. It never overtakes itself: at most one in-flight request
// per cycle.
func (p *Poller) Run(ctx context.Context) error {
	backoff := p.sup.cfg.BackoffInitial

	for ctx.Err() == nil {
		conn, err := p.dial()
		if err != nil {
			p.sup.log.Warnf("EVB connection failure: %v", err)
			p.sup.pollerFault(fmt.Sprintf("EVB connection failure: %v", err))
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff, p.sup.cfg.BackoffFactor, p.sup.cfg.BackoffMax)
			continue
		}

		backoff = p.sup.cfg.BackoffInitial
		cycleErr := p.pollLoop(ctx, conn)
		conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if cycleErr != nil {
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff, p.sup.cfg.BackoffFactor, p.sup.cfg.BackoffMax)
		}
	}
	return ctx.Err()
}

func (p *Poller) pollLoop(ctx context.Context, conn evbclient.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		cycleStart := time.Now()

		halls := make(map[WinchID]uint16, len(p.sup.cfg.WinchIDs))
		power := make(map[WinchID]Power, len(p.sup.cfg.WinchIDs))
		bundles := make(map[WinchID]Bundle, len(p.sup.cfg.WinchIDs))

		for _, w := range p.sup.cfg.WinchIDs {
			domain, err := p.fetchWinch(conn, w)
			if err != nil {
				msg := fmt.Sprintf("EVB error: %v", err)
				p.sup.log.WithField("winch", w).Warn(msg)
				p.sup.pollerFault(msg)
				return err
			}
			halls[w] = domain.HallRaw
			power[w] = domain.Power
			bundles[w] = domain
		}

		var imu *IMU
		if p.sup.cfg.UseIMU {
			if raw, err := conn.IMU(); err == nil {
				v := imuFromWire(raw)
				imu = &v
			}
			// IMU failure is non-fatal and does not update imu.
		}

		now := time.Now()
		p.sup.mergeSnapshot(halls, power, bundles, imu, now)

		elapsed := time.Since(cycleStart)
		remaining := p.sup.cfg.PollInterval - elapsed
		if remaining > 0 {
			if !sleepCtx(ctx, remaining) {
				return nil
			}
		}
	}
}

// fetchWinch pulls one winch's hall/power/bundle reading. When UseBundle is
// set (the default), a single BUNDLE request covers all three; the legacy
// mode instead issues a SNAPSHOT (hall) and, if UsePower, a POWER request
// and merges them by hand, matching the two-request EVB firmware predating
// the BUNDLE aggregate.
func (p *Poller) fetchWinch(conn evbclient.Conn, w WinchID) (Bundle, error) {
	if p.sup.cfg.UseBundle {
		b, err := conn.Bundle(byte(w))
		if err != nil {
			return Bundle{}, err
		}
		return bundleFromWire(b), nil
	}

	snap, err := conn.Snapshot(byte(w))
	if err != nil {
		return Bundle{}, err
	}
	domain := Bundle{HallRaw: snap.Hall, TotalCount: int32(snap.TotalCount)}

	if p.sup.cfg.UsePower {
		pw, err := conn.Power(byte(w))
		if err != nil {
			return Bundle{}, err
		}
		domain.Power = Power{BusMV: pw.BusMV, CurrentMA: pw.CurrentMA, PowerMW: pw.PowerMW}
	}
	return domain, nil
}

// mergeSnapshot performs the whole poll-cycle merge as one critical
// section, so the snapshot is atomic with respect to external observers.
// Stop-due-to-safety is issued before returning, ensuring an unsafe
// condition is acted on within this cycle.
func (s *Supervisor) mergeSnapshot(halls map[WinchID]uint16, power map[WinchID]Power, bundles map[WinchID]Bundle, imu *IMU, now time.Time) {
	s.mu.Lock()
	for w, v := range halls {
		s.snapshot.Halls[w] = v
		if v > s.snapshot.MaxHallSeen[w] {
			s.snapshot.MaxHallSeen[w] = v
		}
	}
	for w, v := range power {
		s.snapshot.Power[w] = v
	}
	for w, v := range bundles {
		s.snapshot.Bundles[w] = v
	}
	if imu != nil {
		s.snapshot.IMU = imu
	}
	s.snapshot.LastUpdate = &now
	s.pollCycles++
	s.evbErrorStreak = 0
	s.evbLastError = ""

	status := s.safe.Evaluate(cloneHalls(s.snapshot.Halls), s.snapshot.LastUpdate, now)
	activeAllowsBelowHall := s.jobAllowsHallBelow
	unsafe := !status.CanMove && !(activeAllowsBelowHall && status.Reason == hallBelowReasonPrefix(s.cfg.HallThreshold))
	if unsafe {
		if s.fault == "" {
			s.fault = status.Reason
		}
		s.mode = ModeFault
	}
	s.mu.Unlock()

	if unsafe {
		s.stopAllMotorsSync("safety stop")
	}
}

// pollerFault is the poller's path into FAULT on any transport or device
// failure: records the error and streak, then emergency-stops. The streak
// clears only after a full successful cycle; the FAULT itself is the
// operator's to clear.
func (s *Supervisor) pollerFault(reason string) {
	s.mu.Lock()
	s.evbLastError = reason
	s.evbErrorStreak++
	s.mu.Unlock()
	s.EmergencyStop(reason)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nextBackoff(cur time.Duration, factor float64, max time.Duration) time.Duration {
	next := time.Duration(float64(cur) * factor)
	if next > max {
		next = max
	}
	if next <= 0 {
		next = max
	}
	return next
}

func hallBelowReasonPrefix(threshold uint16) string {
	return fmt.Sprintf("hall below %d", threshold)
}
