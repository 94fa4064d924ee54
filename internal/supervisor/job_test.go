package supervisor

import (
	"testing"
	"time"

	"github.com/arachnonestor/motion-supervisor/internal/motorbus"
	"github.com/stretchr/testify/require"
)

func TestMapHallToRPMBoundaries(t *testing.T) {
	const threshold, max, rpmMin, rpmMax = uint16(1500), uint16(2800), uint16(200), uint16(1500)

	require.Equal(t, rpmMin, mapHallToRPM(threshold-1, threshold, max, rpmMin, rpmMax))
	require.Equal(t, rpmMin, mapHallToRPM(threshold, threshold, max, rpmMin, rpmMax))
	require.Equal(t, rpmMax, mapHallToRPM(max, threshold, max, rpmMin, rpmMax))
	require.Equal(t, rpmMax, mapHallToRPM(max+200, threshold, max, rpmMin, rpmMax))

	mid := mapHallToRPM(threshold+(max-threshold)/2, threshold, max, rpmMin, rpmMax)
	require.InDelta(t, (rpmMin+rpmMax)/2, mid, 1)
}

func TestVectorForKnownAndUnknown(t *testing.T) {
	_, ok := vectorFor("forward")
	require.True(t, ok)
	_, ok = vectorFor("diagonal")
	require.False(t, ok)
}

func TestSetupHallDirectionTogglesUpDown(t *testing.T) {
	require.Equal(t, directionMap["up"], setupHallDirection(false))
	require.Equal(t, directionMap["down"], setupHallDirection(true))
}

func TestDirectionVectorsAreFourWinchAntisymmetric(t *testing.T) {
	for name, vec := range directionMap {
		if name == "up" || name == "down" {
			continue
		}
		sum := sign(0)
		for _, s := range vec {
			sum += s
		}
		require.Equal(t, sign(0), sum, "vector %s should balance to zero net sign", name)
	}
}

func TestDurationFromSecondsClampsNegative(t *testing.T) {
	require.Equal(t, int64(0), durationFromSeconds(-5).Nanoseconds())
}

func TestSetupHallRunCommandsMappedRPMOnceThenStopsSlippedWinch(t *testing.T) {
	bus := &fakeBus{}
	cfg := testConfig()
	cfg.ModbusAddresses = map[WinchID]byte{1: 1, 2: 2, 3: 3, 4: 4}
	sup := New(cfg, bus)
	require.NoError(t, sup.SetMode(ModeSetup))
	freshSnapshot(sup, map[WinchID]uint16{1: 2000, 2: 2000, 3: 2000, 4: 2000})

	require.NoError(t, sup.SetupHallRun(0, 0, false))
	time.Sleep(40 * time.Millisecond)

	// hall 2000 maps to round(200 + (2000-1500)/(2800-1500) * 1300) = 700;
	// the command cache suppresses every re-issue after the first cycle.
	for slave := byte(1); slave <= 4; slave++ {
		rpms := bus.callsFor("rpm", slave)
		require.Len(t, rpms, 1, "slave %d rpm writes", slave)
		require.Equal(t, uint16(700), rpms[0].rpm)
		starts := bus.callsFor("start", slave)
		require.Len(t, starts, 1, "slave %d starts", slave)
		require.Equal(t, motorbus.Forward, starts[0].dir)
	}

	// winch 2 slips below the engagement threshold: it alone stops, the
	// others keep running, and the mode stays SETUP with no fault.
	freshSnapshot(sup, map[WinchID]uint16{1: 2000, 2: 1400, 3: 2000, 4: 2000})
	time.Sleep(40 * time.Millisecond)

	st := sup.GetStatus()
	require.Equal(t, ModeSetup, st.Mode)
	require.Empty(t, st.Fault)
	require.False(t, st.MotorStates[2].Running)
	require.True(t, st.MotorStates[1].Running)
	require.NotEmpty(t, bus.callsFor("stop", 2))

	sup.CancelJob("test done")
}
