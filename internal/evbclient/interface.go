package evbclient

import "github.com/arachnonestor/motion-supervisor/internal/protocol"

// Conn is the subset of *Client the sensor poller depends on. Consumers
// that need to fake the EVB device in tests satisfy this instead of
// juggling a real TCP socket.
type Conn interface {
	Bundle(winch byte) (protocol.BundleResp, error)
	Snapshot(winch byte) (protocol.SnapshotResp, error)
	Power(winch byte) (protocol.PowerResp, error)
	IMU() (protocol.IMUResp, error)
	Distance() (protocol.DistanceResp, error)
	Close() error
}

var _ Conn = (*Client)(nil)
