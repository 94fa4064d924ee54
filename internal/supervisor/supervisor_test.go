package supervisor

import (
	"sync"
	"testing"
	"time"

	"github.com/arachnonestor/motion-supervisor/internal/motorbus"
	"github.com/stretchr/testify/require"
)

type busCall struct {
	op    string
	slave byte
	rpm   uint16
	dir   motorbus.Direction
}

type fakeBus struct {
	mu    sync.Mutex
	calls []busCall
}

func (f *fakeBus) WriteRPM(slave byte, rpm uint16) (motorbus.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, busCall{op: "rpm", slave: slave, rpm: rpm})
	return motorbus.Ok, nil
}

func (f *fakeBus) Start(slave byte, dir motorbus.Direction) (motorbus.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, busCall{op: "start", slave: slave, dir: dir})
	return motorbus.Ok, nil
}

func (f *fakeBus) Stop(slave byte) (motorbus.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, busCall{op: "stop", slave: slave})
	return motorbus.Ok, nil
}

func (f *fakeBus) countOp(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.op == op {
			n++
		}
	}
	return n
}

func (f *fakeBus) callsFor(op string, slave byte) []busCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []busCall
	for _, c := range f.calls {
		if c.op == op && c.slave == slave {
			out = append(out, c)
		}
	}
	return out
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.WinchIDs = []WinchID{1, 2, 3, 4}
	cfg.PollInterval = 5 * time.Millisecond
	cfg.StaleTimeout = 200 * time.Millisecond
	return cfg
}

func freshSnapshot(sup *Supervisor, halls map[WinchID]uint16) {
	now := time.Now()
	sup.mu.Lock()
	for w, v := range halls {
		sup.snapshot.Halls[w] = v
	}
	sup.snapshot.LastUpdate = &now
	sup.mu.Unlock()
}

func TestSetModeRejectedInFault(t *testing.T) {
	bus := &fakeBus{}
	sup := New(testConfig(), bus)
	sup.StopAll("boom", true)

	err := sup.SetMode(ModeSetup)
	require.Error(t, err)
	require.Equal(t, ModeFault, sup.GetStatus().Mode)
}

func TestClearFaultReturnsToIdle(t *testing.T) {
	bus := &fakeBus{}
	sup := New(testConfig(), bus)
	sup.StopAll("boom", true)
	sup.ClearFault()

	st := sup.GetStatus()
	require.Equal(t, ModeIdle, st.Mode)
	require.Empty(t, st.Fault)
}

func TestSetModeIncrementsGenerationAndCancelsJob(t *testing.T) {
	bus := &fakeBus{}
	sup := New(testConfig(), bus)
	require.NoError(t, sup.SetMode(ModeSetup))
	freshSnapshot(sup, map[WinchID]uint16{1: 2000, 2: 2000, 3: 2000, 4: 2000})

	require.NoError(t, sup.SetupJog(500, 10))
	require.True(t, sup.GetStatus().Job.Active)

	genBefore := sup.GetStatus().Job.Generation
	require.NoError(t, sup.SetMode(ModeIdle))
	st := sup.GetStatus()
	require.False(t, st.Job.Active)
	require.Greater(t, st.Job.Generation, genBefore)
}

func TestStopAllIsIdempotent(t *testing.T) {
	bus := &fakeBus{}
	sup := New(testConfig(), bus)
	require.NoError(t, sup.SetMode(ModeSetup))
	freshSnapshot(sup, map[WinchID]uint16{1: 2000, 2: 2000, 3: 2000, 4: 2000})
	require.NoError(t, sup.SetupJog(500, 10))
	time.Sleep(10 * time.Millisecond)

	sup.StopAll("idle", false)
	sup.StopAll("idle again", false)
	time.Sleep(10 * time.Millisecond)

	// A second StopAll on already-stopped motors must not issue extra Stop
	// writes (stopMotor no-ops when the cache already reads not-running).
	require.LessOrEqual(t, bus.countOp("stop"), 4)
}

func TestJobRejectedWhenAnotherActive(t *testing.T) {
	bus := &fakeBus{}
	sup := New(testConfig(), bus)
	require.NoError(t, sup.SetMode(ModeSetup))
	freshSnapshot(sup, map[WinchID]uint16{1: 2000, 2: 2000, 3: 2000, 4: 2000})

	require.NoError(t, sup.SetupJog(500, 10))
	err := sup.SetupJog(500, 10)
	require.Error(t, err)
}

func TestTestDirectionFaultsWhenUnsafe(t *testing.T) {
	bus := &fakeBus{}
	sup := New(testConfig(), bus)
	require.NoError(t, sup.SetMode(ModeTest))
	// No snapshot has ever been merged: LastUpdate is nil, so the safety
	// gate must reject before any job starts.
	err := sup.TestDirection("forward", 500, 1)
	require.Error(t, err)
	require.Equal(t, ModeFault, sup.GetStatus().Mode)
}

func TestTestDirectionRejectsUnknownName(t *testing.T) {
	bus := &fakeBus{}
	sup := New(testConfig(), bus)
	require.NoError(t, sup.SetMode(ModeTest))
	err := sup.TestDirection("sideways", 500, 1)
	require.Error(t, err)
}

func TestShutdownStopsAllMotors(t *testing.T) {
	bus := &fakeBus{}
	sup := New(testConfig(), bus)
	require.NoError(t, sup.SetMode(ModeSetup))
	freshSnapshot(sup, map[WinchID]uint16{1: 2000, 2: 2000, 3: 2000, 4: 2000})
	require.NoError(t, sup.SetupJog(500, 10))
	time.Sleep(5 * time.Millisecond)

	sup.Shutdown(100 * time.Millisecond)
	require.False(t, sup.GetStatus().Job.Active)
	require.GreaterOrEqual(t, bus.countOp("stop"), 1)
}

func TestSetModeRejectsUnknownMode(t *testing.T) {
	sup := New(testConfig(), &fakeBus{})
	require.Error(t, sup.SetMode(Mode("TURBO")))
	require.Equal(t, ModeIdle, sup.GetStatus().Mode)
}

func TestFaultReasonLatchesFirst(t *testing.T) {
	sup := New(testConfig(), &fakeBus{})
	sup.EmergencyStop("first")
	sup.EmergencyStop("second")
	require.Equal(t, "first", sup.GetStatus().Fault)
}

func TestEmergencyStopDuringTimedJob(t *testing.T) {
	bus := &fakeBus{}
	sup := New(testConfig(), bus)
	require.NoError(t, sup.SetMode(ModeTest))
	freshSnapshot(sup, map[WinchID]uint16{1: 2000, 2: 2000, 3: 2000, 4: 2000})
	require.NoError(t, sup.TestUp(400, 10))
	time.Sleep(10 * time.Millisecond)

	sup.EmergencyStop("manual")
	time.Sleep(20 * time.Millisecond)

	st := sup.GetStatus()
	require.Equal(t, ModeFault, st.Mode)
	require.Equal(t, "manual", st.Fault)
	require.False(t, st.Job.Active)
	for _, w := range []WinchID{1, 2, 3, 4} {
		require.False(t, st.MotorStates[w].Running, "winch %d still running", w)
	}
}

func TestGetStatusDoesNotAliasSnapshot(t *testing.T) {
	bus := &fakeBus{}
	sup := New(testConfig(), bus)
	freshSnapshot(sup, map[WinchID]uint16{1: 2000})

	st := sup.GetStatus()
	st.Halls[1] = 9999

	sup.mu.Lock()
	internal := sup.snapshot.Halls[1]
	sup.mu.Unlock()
	require.Equal(t, uint16(2000), internal)
}
