// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package bus provides the I2C transports used to talk to the robot's main
// microcontroller: a periph.io backed one and a raw Linux i2c-dev one.
package bus

import (
	"errors"
	"fmt"
	"strings"
)

// Transport is a byte-level I2C link. Read reports how many bytes actually
// arrived so callers can detect short frames.
type Transport interface {
	SelectTarget(addr uint16) error
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	Close() error
}

var (
	ErrShortWrite = errors.New("bus: short write")
	ErrShortRead  = errors.New("bus: short read")
)

// Stage names the step of an exchange that failed.
type Stage string

const (
	StageSelect Stage = "select"
	StageWrite  Stage = "write"
	StageRead   Stage = "read"
)

// TransactionError wraps a failure in one step of Exchange.
type TransactionError struct {
	Stage Stage
	Addr  uint16
	N     int // bytes transferred before the failure
	Err   error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("i2c 0x%02X %s (%d bytes): %v", e.Addr, e.Stage, e.N, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// Exchange selects addr, writes w in full, then reads exactly len(r) bytes.
// The returned count is the number of bytes read; anything other than
// len(r) comes with an error wrapping ErrShortRead.
func Exchange(t Transport, addr uint16, w, r []byte) (int, error) {
	if err := t.SelectTarget(addr); err != nil {
		return 0, &TransactionError{Stage: StageSelect, Addr: addr, Err: err}
	}

	n, err := t.Write(w)
	if err != nil {
		return 0, &TransactionError{Stage: StageWrite, Addr: addr, N: n, Err: err}
	}
	if n != len(w) {
		return 0, &TransactionError{Stage: StageWrite, Addr: addr, N: n, Err: ErrShortWrite}
	}

	n, err = t.Read(r)
	if err != nil {
		return n, &TransactionError{Stage: StageRead, Addr: addr, N: n, Err: err}
	}
	if n != len(r) {
		return n, &TransactionError{Stage: StageRead, Addr: addr, N: n, Err: ErrShortRead}
	}
	return n, nil
}

// Kinds accepted by Open.
const (
	KindPeriph = "periph"
	KindI2CDev = "i2cdev"
	// KindSim needs no hardware; see Sim.
	KindSim = "sim"
)

// Open returns a transport of the given kind on the named bus. name may be a
// device path ("/dev/i2c-4") or a bare bus number ("4").
func Open(kind, name string) (Transport, error) {
	switch kind {
	case KindPeriph, "":
		p, err := OpenPeriph(periphName(name))
		if err != nil {
			return nil, err
		}
		return p, nil
	case KindI2CDev:
		d, err := OpenDev(devPath(name))
		if err != nil {
			return nil, err
		}
		return d, nil
	case KindSim:
		return NewSim(), nil
	default:
		return nil, fmt.Errorf("bus: unknown transport %q (want %s, %s or %s)", kind, KindPeriph, KindI2CDev, KindSim)
	}
}

func periphName(name string) string {
	return strings.TrimPrefix(name, "/dev/i2c-")
}

func devPath(name string) string {
	if strings.HasPrefix(name, "/") {
		return name
	}
	return "/dev/i2c-" + name
}
