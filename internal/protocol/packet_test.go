package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildPacketRoundTripsCRC(t *testing.T) {
	frame, err := BuildPacket(TypeSnapshot, []byte{0x02})
	require.NoError(t, err)
	require.Len(t, frame, 3+1+1)
	require.Equal(t, Preamble, frame[0])
	require.Equal(t, TypeSnapshot, frame[1])
	require.Equal(t, byte(1), frame[2])

	payload := frame[3 : len(frame)-1]
	crcByte := frame[len(frame)-1]
	require.NoError(t, ValidateFrame(frame[0], frame[1], frame[2], payload, crcByte))
}

func TestValidateFrameRejectsBadCRC(t *testing.T) {
	frame, err := BuildPacket(TypePing, nil)
	require.NoError(t, err)
	frame[len(frame)-1] ^= 0xFF
	payload := frame[3 : len(frame)-1]
	err = ValidateFrame(frame[0], frame[1], frame[2], payload, frame[len(frame)-1])
	require.Error(t, err)
}

func TestValidateFrameRejectsBadPreamble(t *testing.T) {
	err := ValidateFrame(0x00, TypePing, 0, nil, 0x00)
	require.Error(t, err)
}

func TestBuildPacketRejectsOversizePayload(t *testing.T) {
	_, err := BuildPacket(TypeBundle, make([]byte, MaxPayload+1))
	require.Error(t, err)
}

func TestParseSnapshotAcceptsLegacyAndCurrentLengths(t *testing.T) {
	legacy := []byte{0x02, 0x10, 0x00, 0x00, 0x00, 0xDC, 0x05}
	r, err := ParseSnapshot(legacy)
	require.NoError(t, err)
	require.EqualValues(t, 2, r.Winch)
	require.EqualValues(t, 0x10, r.TotalCount)
	require.EqualValues(t, 0x05DC, r.Hall)
	require.False(t, r.HasCacheAge)

	current := append(append([]byte{}, legacy...), 0x64, 0x00, 0x00, 0x00)
	r2, err := ParseSnapshot(current)
	require.NoError(t, err)
	require.True(t, r2.HasCacheAge)
	require.EqualValues(t, 100, r2.CacheAgeMs)
}

func TestParseSnapshotRejectsUnknownLength(t *testing.T) {
	_, err := ParseSnapshot(make([]byte, 9))
	require.Error(t, err)
}

func TestParseBundleRoundTripsWinch(t *testing.T) {
	payload := make([]byte, 32)
	payload[0] = 3 // winch
	b, err := ParseBundle(payload)
	require.NoError(t, err)
	require.EqualValues(t, 3, b.Winch)
	require.True(t, b.HasCacheAge)
}

func TestParseIMULegacyLength(t *testing.T) {
	payload := make([]byte, 40)
	r, err := ParseIMU(payload)
	require.NoError(t, err)
	require.False(t, r.HasCacheAge)
	require.Zero(t, r.Roll)
}

func TestParseDeviceError(t *testing.T) {
	payload := []byte{byte(TypeBundle), 0x02, byte(ErrNoData), 'n', 'o', 'p', 'e'}
	r, err := ParseDeviceError(payload)
	require.NoError(t, err)
	require.Equal(t, byte(TypeBundle), r.OrigType)
	require.EqualValues(t, 2, r.Winch)
	require.Equal(t, ErrNoData, r.Code)
	require.Equal(t, "nope", r.Message)
	require.Equal(t, "no data", r.Code.String())
}
