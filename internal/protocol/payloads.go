package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Accepted response payload lengths. Implementations must accept both the
// legacy and current form; a length matching neither is a protocol error.
var (
	snapshotLengths = []int{7, 11}
	deltaLengths    = []int{5, 9}
	distanceLengths = []int{9, 13}
	powerLengths    = []int{9, 13}
	bundleLengths   = []int{28, 32}
	imuLengths      = []int{40, 44}
)

func lenOK(n int, accepted []int) bool {
	for _, a := range accepted {
		if n == a {
			return true
		}
	}
	return false
}

// SnapshotResp is the response to a SNAPSHOT (0x04) request.
type SnapshotResp struct {
	Winch       byte
	TotalCount  uint32
	Hall        uint16
	CacheAgeMs  uint32
	HasCacheAge bool
}

func ParseSnapshot(payload []byte) (SnapshotResp, error) {
	if !lenOK(len(payload), snapshotLengths) {
		return SnapshotResp{}, fmt.Errorf("protocol: bad SNAPSHOT length %d", len(payload))
	}
	r := SnapshotResp{
		Winch:      payload[0],
		TotalCount: binary.LittleEndian.Uint32(payload[1:5]),
		Hall:       binary.LittleEndian.Uint16(payload[5:7]),
	}
	if len(payload) == 11 {
		r.CacheAgeMs = binary.LittleEndian.Uint32(payload[7:11])
		r.HasCacheAge = true
	}
	return r, nil
}

// DeltaResp is the response to a DELTA (0x05) request.
type DeltaResp struct {
	Winch       byte
	Delta       int32
	CacheAgeMs  uint32
	HasCacheAge bool
}

func ParseDelta(payload []byte) (DeltaResp, error) {
	if !lenOK(len(payload), deltaLengths) {
		return DeltaResp{}, fmt.Errorf("protocol: bad DELTA length %d", len(payload))
	}
	r := DeltaResp{
		Winch: payload[0],
		Delta: int32(binary.LittleEndian.Uint32(payload[1:5])),
	}
	if len(payload) == 9 {
		r.CacheAgeMs = binary.LittleEndian.Uint32(payload[5:9])
		r.HasCacheAge = true
	}
	return r, nil
}

// DistanceResp is the response to a DISTANCE (0x07) request.
type DistanceResp struct {
	OK          byte
	DistMM      uint16
	Strength    uint16
	TempRaw     uint16
	AgeMs       uint16
	CacheAgeMs  uint32
	HasCacheAge bool
}

func ParseDistance(payload []byte) (DistanceResp, error) {
	if !lenOK(len(payload), distanceLengths) {
		return DistanceResp{}, fmt.Errorf("protocol: bad DISTANCE length %d", len(payload))
	}
	r := DistanceResp{
		OK:       payload[0],
		DistMM:   binary.LittleEndian.Uint16(payload[1:3]),
		Strength: binary.LittleEndian.Uint16(payload[3:5]),
		TempRaw:  binary.LittleEndian.Uint16(payload[5:7]),
		AgeMs:    binary.LittleEndian.Uint16(payload[7:9]),
	}
	if len(payload) == 13 {
		r.CacheAgeMs = binary.LittleEndian.Uint32(payload[9:13])
		r.HasCacheAge = true
	}
	return r, nil
}

// PowerResp is the response to a POWER (0x08) request.
type PowerResp struct {
	Winch       byte
	BusMV       uint16
	CurrentMA   int16
	PowerMW     uint32
	CacheAgeMs  uint32
	HasCacheAge bool
}

func ParsePower(payload []byte) (PowerResp, error) {
	if !lenOK(len(payload), powerLengths) {
		return PowerResp{}, fmt.Errorf("protocol: bad POWER length %d", len(payload))
	}
	r := PowerResp{
		Winch:     payload[0],
		BusMV:     binary.LittleEndian.Uint16(payload[1:3]),
		CurrentMA: int16(binary.LittleEndian.Uint16(payload[3:5])),
		PowerMW:   binary.LittleEndian.Uint32(payload[5:9]),
	}
	if len(payload) == 13 {
		r.CacheAgeMs = binary.LittleEndian.Uint32(payload[9:13])
		r.HasCacheAge = true
	}
	return r, nil
}

// BundleResp is the response to a BUNDLE (0x09) request: a single-request
// aggregate of a winch's encoder counts, hall value, distance, and power.
type BundleResp struct {
	Winch       byte
	Flags       byte
	TotalCount  int32
	DeltaCount  int32
	HallRaw     uint16
	DistMM      uint16
	Strength    uint16
	TempRaw     uint16
	AgeMs       uint16
	BusMV       uint16
	CurrentMA   int16
	PowerMW     uint32
	CacheAgeMs  uint32
	HasCacheAge bool
}

func ParseBundle(payload []byte) (BundleResp, error) {
	if !lenOK(len(payload), bundleLengths) {
		return BundleResp{}, fmt.Errorf("protocol: bad BUNDLE length %d", len(payload))
	}
	r := BundleResp{
		Winch:      payload[0],
		Flags:      payload[1],
		TotalCount: int32(binary.LittleEndian.Uint32(payload[2:6])),
		DeltaCount: int32(binary.LittleEndian.Uint32(payload[6:10])),
		HallRaw:    binary.LittleEndian.Uint16(payload[10:12]),
		DistMM:     binary.LittleEndian.Uint16(payload[12:14]),
		Strength:   binary.LittleEndian.Uint16(payload[14:16]),
		TempRaw:    binary.LittleEndian.Uint16(payload[16:18]),
		AgeMs:      binary.LittleEndian.Uint16(payload[18:20]),
		BusMV:      binary.LittleEndian.Uint16(payload[20:22]),
		CurrentMA:  int16(binary.LittleEndian.Uint16(payload[22:24])),
		PowerMW:    binary.LittleEndian.Uint32(payload[24:28]),
	}
	if len(payload) == 32 {
		r.CacheAgeMs = binary.LittleEndian.Uint32(payload[28:32])
		r.HasCacheAge = true
	}
	return r, nil
}

// IMUResp is the response to an IMU (0x0A) request: ten little-endian f32
// values (gyro xyz, accel xyz, temp, pitch, roll, yaw) plus an optional
// cache-age trailer.
type IMUResp struct {
	Gyro        [3]float32
	Accel       [3]float32
	TempC       float32
	Pitch       float32
	Roll        float32
	Yaw         float32
	CacheAgeMs  uint32
	HasCacheAge bool
}

func ParseIMU(payload []byte) (IMUResp, error) {
	if !lenOK(len(payload), imuLengths) {
		return IMUResp{}, fmt.Errorf("protocol: bad IMU length %d", len(payload))
	}
	readF32 := func(off int) float32 {
		bits := binary.LittleEndian.Uint32(payload[off : off+4])
		return math.Float32frombits(bits)
	}
	r := IMUResp{
		Gyro:  [3]float32{readF32(0), readF32(4), readF32(8)},
		Accel: [3]float32{readF32(12), readF32(16), readF32(20)},
		TempC: readF32(24),
		Pitch: readF32(28),
		Roll:  readF32(32),
		Yaw:   readF32(36),
	}
	if len(payload) == 44 {
		r.CacheAgeMs = binary.LittleEndian.Uint32(payload[40:44])
		r.HasCacheAge = true
	}
	return r, nil
}

// DeviceErrorResp is the payload of an ERROR (0xE0) response.
type DeviceErrorResp struct {
	OrigType byte
	Winch    byte
	Code     DeviceErrorCode
	Message  string
}

func ParseDeviceError(payload []byte) (DeviceErrorResp, error) {
	if len(payload) < 3 {
		return DeviceErrorResp{}, fmt.Errorf("protocol: short ERROR payload (%d bytes)", len(payload))
	}
	r := DeviceErrorResp{
		OrigType: payload[0],
		Winch:    payload[1],
		Code:     DeviceErrorCode(payload[2]),
	}
	if len(payload) > 3 {
		r.Message = string(payload[3:])
	}
	return r, nil
}
