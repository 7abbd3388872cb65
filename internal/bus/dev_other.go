// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

//go:build !linux

package bus

import "errors"

// Dev is only available on Linux.
type Dev struct{}

func OpenDev(path string) (*Dev, error) {
	return nil, errors.New("bus: i2c-dev transport requires linux")
}

func (d *Dev) SelectTarget(addr uint16) error { return errors.New("bus: unsupported") }
func (d *Dev) Write(b []byte) (int, error)    { return 0, errors.New("bus: unsupported") }
func (d *Dev) Read(b []byte) (int, error)     { return 0, errors.New("bus: unsupported") }
func (d *Dev) Close() error                   { return nil }
