package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPIDUpdateClampsOutput(t *testing.T) {
	pid := DefaultBalancePID()
	require.Equal(t, 1000.0, pid.Update(0, -1e6, 0.05))

	pid = DefaultBalancePID()
	require.Equal(t, -1000.0, pid.Update(0, 1e6, 0.05))
}

func TestPIDProportionalTerm(t *testing.T) {
	pid := PID{Kp: 2, Min: -100, Max: 100}
	require.InDelta(t, 10.0, pid.Update(0, -5, 0.05), 1e-9)
}

func TestPIDResetClearsState(t *testing.T) {
	pid := PID{Kp: 1, Ki: 1, Kd: 1, Min: -100, Max: 100}
	pid.Update(0, -5, 0.1)
	pid.Reset()
	require.Zero(t, pid.Update(0, 0, 0.1))
}

func TestRunBalanceLoopExitsOnFault(t *testing.T) {
	sup := New(testConfig(), &fakeBus{})
	sup.EmergencyStop("boom")

	err := sup.RunBalanceLoop(context.Background(), DefaultBalanceConfig())
	require.Error(t, err)
}

func TestRunBalanceLoopExitsOnCancel(t *testing.T) {
	sup := New(testConfig(), &fakeBus{})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := sup.RunBalanceLoop(ctx, DefaultBalanceConfig())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClampDurationBounds(t *testing.T) {
	require.Equal(t, 20*time.Millisecond, clampDuration(5*time.Millisecond, 20*time.Millisecond, 200*time.Millisecond))
	require.Equal(t, 200*time.Millisecond, clampDuration(time.Second, 20*time.Millisecond, 200*time.Millisecond))
}
