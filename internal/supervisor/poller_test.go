package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/arachnonestor/motion-supervisor/internal/evbclient"
	"github.com/arachnonestor/motion-supervisor/internal/protocol"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu        sync.Mutex
	hall      uint16
	bundleErr error
	closed    bool
}

func (f *fakeConn) Bundle(winch byte) (protocol.BundleResp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bundleErr != nil {
		return protocol.BundleResp{}, f.bundleErr
	}
	return protocol.BundleResp{HallRaw: f.hall}, nil
}

func (f *fakeConn) Snapshot(winch byte) (protocol.SnapshotResp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bundleErr != nil {
		return protocol.SnapshotResp{}, f.bundleErr
	}
	return protocol.SnapshotResp{Hall: f.hall}, nil
}

func (f *fakeConn) Power(winch byte) (protocol.PowerResp, error) {
	return protocol.PowerResp{}, nil
}

func (f *fakeConn) IMU() (protocol.IMUResp, error) {
	return protocol.IMUResp{}, nil
}

func (f *fakeConn) Distance() (protocol.DistanceResp, error) {
	return protocol.DistanceResp{}, nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

var _ evbclient.Conn = (*fakeConn)(nil)

func TestNextBackoffGrowsAndCaps(t *testing.T) {
	d := nextBackoff(200*time.Millisecond, 1.5, 2*time.Second)
	require.Equal(t, 300*time.Millisecond, d)

	d = nextBackoff(2*time.Second, 1.5, 2*time.Second)
	require.Equal(t, 2*time.Second, d)
}

func TestHallBelowReasonPrefixMatchesSafetyFormat(t *testing.T) {
	require.Equal(t, "hall below 1500", hallBelowReasonPrefix(1500))
}

func TestPollLoopFaultsOnBundleError(t *testing.T) {
	bus := &fakeBus{}
	cfg := testConfig()
	cfg.UseIMU = false
	sup := New(cfg, bus)
	conn := &fakeConn{bundleErr: errors.New("timeout")}

	p := NewPoller(sup, func() (evbclient.Conn, error) { return conn, nil })
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = p.pollLoop(ctx, conn)

	st := sup.GetStatus()
	require.Equal(t, ModeFault, st.Mode)
	require.NotEmpty(t, st.Fault)
	require.NotEmpty(t, st.EVBLastError)
	require.GreaterOrEqual(t, st.EVBErrorStreak, uint64(1))
}

func TestPollLoopMergesHallData(t *testing.T) {
	bus := &fakeBus{}
	cfg := testConfig()
	cfg.UseIMU = false
	sup := New(cfg, bus)
	conn := &fakeConn{hall: 2000}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	p := NewPoller(sup, func() (evbclient.Conn, error) { return conn, nil })
	_ = p.pollLoop(ctx, conn)

	st := sup.GetStatus()
	require.Equal(t, uint16(2000), st.Halls[1])
	require.NotNil(t, st.LastUpdate)
	require.GreaterOrEqual(t, st.PollCycles, uint64(1))
	require.Zero(t, st.EVBErrorStreak)
}

func TestPollLoopLegacyModeUsesSnapshotInsteadOfBundle(t *testing.T) {
	bus := &fakeBus{}
	cfg := testConfig()
	cfg.UseIMU = false
	cfg.UseBundle = false
	cfg.UsePower = false
	sup := New(cfg, bus)
	conn := &fakeConn{hall: 1800}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	p := NewPoller(sup, func() (evbclient.Conn, error) { return conn, nil })
	_ = p.pollLoop(ctx, conn)

	st := sup.GetStatus()
	require.Equal(t, uint16(1800), st.Halls[1])
	require.NotNil(t, st.LastUpdate)
}
