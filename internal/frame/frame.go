// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package frame encodes and decodes the fixed-size byte buffers exchanged
// with the robot's main microcontroller in one I2C transaction.
//
// Actuator frame (20 bytes, host -> MCU):
//
//	[0:2]   left wheel speed register, int16 little-endian
//	[2:4]   right wheel speed register, int16 little-endian
//	[4]     speaker sound id
//	[5]     LED1/LED3/LED5/LED7 on/off bitmask
//	[6:18]  RGB LED2, LED4, LED6, LED8 (3 bytes each)
//	[18]    settings
//	[19]    checksum (XOR of bytes 0..18)
//
// Sensor frame (47 bytes, MCU -> host):
//
//	[0:16]  8 proximity intensities, uint16 little-endian
//	[16:32] 8 ambient light values, uint16 little-endian
//	[32:40] 4 microphone levels, uint16 little-endian
//	[40]    selector (low nibble) and button (high nibble)
//	[41:43] left motor steps, int16 little-endian
//	[43:45] right motor steps, int16 little-endian
//	[45]    TV remote code
//	[46]    checksum (XOR of bytes 0..45)
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	ActuatorSize = 20
	SensorSize   = 47

	// ProximityCount is the number of IR proximity sensors around the ring.
	ProximityCount = 8
	AmbientCount   = 8
	MicCount       = 4
)

var (
	ErrLength   = errors.New("frame: unexpected length")
	ErrChecksum = errors.New("frame: checksum mismatch")
)

// Actuator is the host -> MCU buffer. Only the wheel registers are driven by
// the velocity command; the remaining bytes stay zero unless set explicitly.
type Actuator [ActuatorSize]byte

// SetWheels stores the left/right speed registers, low byte first.
func (a *Actuator) SetWheels(left, right int16) {
	binary.LittleEndian.PutUint16(a[0:2], uint16(left))
	binary.LittleEndian.PutUint16(a[2:4], uint16(right))
}

// Wheels returns the left/right speed registers currently held in the frame.
func (a *Actuator) Wheels() (left, right int16) {
	return int16(binary.LittleEndian.Uint16(a[0:2])), int16(binary.LittleEndian.Uint16(a[2:4]))
}

// Seal writes the XOR checksum into the last byte.
func (a *Actuator) Seal() {
	a[ActuatorSize-1] = Checksum(a[:ActuatorSize-1])
}

// Bytes returns a copy of the frame suitable for handing to a transport.
func (a *Actuator) Bytes() []byte {
	b := make([]byte, ActuatorSize)
	copy(b, a[:])
	return b
}

// Sensor is the decoded MCU -> host buffer.
type Sensor struct {
	Proximity  [ProximityCount]uint16 `json:"proximity"`
	Ambient    [AmbientCount]uint16   `json:"ambient"`
	Mic        [MicCount]uint16       `json:"mic"`
	Selector   uint8                  `json:"selector"`
	Button     uint8                  `json:"button"`
	LeftSteps  int16                  `json:"left_steps"`
	RightSteps int16                  `json:"right_steps"`
	TVRemote   uint8                  `json:"tv_remote"`
}

// DecodeSensor parses a complete sensor frame. A buffer of any other length
// is rejected as a whole; partial frames are never decoded. When verify is
// set the trailing checksum byte must match.
func DecodeSensor(b []byte, verify bool) (Sensor, error) {
	if len(b) != SensorSize {
		return Sensor{}, fmt.Errorf("%w: got %d bytes, want %d", ErrLength, len(b), SensorSize)
	}
	if verify {
		if sum := Checksum(b[:SensorSize-1]); sum != b[SensorSize-1] {
			return Sensor{}, fmt.Errorf("%w: computed 0x%02X, frame has 0x%02X", ErrChecksum, sum, b[SensorSize-1])
		}
	}

	var s Sensor
	for i := 0; i < ProximityCount; i++ {
		s.Proximity[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	for i := 0; i < AmbientCount; i++ {
		s.Ambient[i] = binary.LittleEndian.Uint16(b[16+i*2:])
	}
	for i := 0; i < MicCount; i++ {
		s.Mic[i] = binary.LittleEndian.Uint16(b[32+i*2:])
	}
	s.Selector = b[40] & 0x0F
	s.Button = b[40] >> 4
	s.LeftSteps = int16(binary.LittleEndian.Uint16(b[41:43]))
	s.RightSteps = int16(binary.LittleEndian.Uint16(b[43:45]))
	s.TVRemote = b[45]
	return s, nil
}

// Checksum XORs every byte of b.
func Checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum ^= v
	}
	return sum
}
