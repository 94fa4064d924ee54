package evbclient

import "github.com/arachnonestor/motion-supervisor/internal/protocol"

// Ping issues a PING (0x01) request and returns once the device replies.
func (c *Client) Ping() error {
	_, _, err := c.Send(protocol.TypePing, nil)
	return err
}

// Bundle issues a BUNDLE (0x09) request for one winch: the single-request
// aggregate of encoder counts, hall value, distance, and power telemetry.
func (c *Client) Bundle(winch byte) (protocol.BundleResp, error) {
	_, payload, err := c.Send(protocol.TypeBundle, []byte{winch})
	if err != nil {
		return protocol.BundleResp{}, err
	}
	return protocol.ParseBundle(payload)
}

// Delta issues a DELTA (0x05) request for one winch: encoder counts
// accumulated since the previous DELTA poll.
func (c *Client) Delta(winch byte) (protocol.DeltaResp, error) {
	_, payload, err := c.Send(protocol.TypeDelta, []byte{winch})
	if err != nil {
		return protocol.DeltaResp{}, err
	}
	return protocol.ParseDelta(payload)
}

// Snapshot issues a SNAPSHOT (0x04) request for one winch.
func (c *Client) Snapshot(winch byte) (protocol.SnapshotResp, error) {
	_, payload, err := c.Send(protocol.TypeSnapshot, []byte{winch})
	if err != nil {
		return protocol.SnapshotResp{}, err
	}
	return protocol.ParseSnapshot(payload)
}

// Power issues a POWER (0x08) request for one winch.
func (c *Client) Power(winch byte) (protocol.PowerResp, error) {
	_, payload, err := c.Send(protocol.TypePower, []byte{winch})
	if err != nil {
		return protocol.PowerResp{}, err
	}
	return protocol.ParsePower(payload)
}

// Distance issues a DISTANCE (0x07) request for the global distance sensor.
func (c *Client) Distance() (protocol.DistanceResp, error) {
	_, payload, err := c.Send(protocol.TypeDistance, nil)
	if err != nil {
		return protocol.DistanceResp{}, err
	}
	return protocol.ParseDistance(payload)
}

// IMU issues an IMU (0x0A) request.
func (c *Client) IMU() (protocol.IMUResp, error) {
	_, payload, err := c.Send(protocol.TypeIMU, nil)
	if err != nil {
		return protocol.IMUResp{}, err
	}
	return protocol.ParseIMU(payload)
}
