// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

//go:build linux

package bus

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// I2C_SLAVE from linux/i2c-dev.h.
const ioctlI2CSlave = 0x0703

// Dev talks to /dev/i2c-N directly with plain read(2)/write(2), so a short
// read from the adapter is reported as such instead of being hidden.
type Dev struct {
	path string

	mu sync.Mutex
	fd int
}

// OpenDev opens the i2c-dev character device. The descriptor is held until
// Close.
func OpenDev(path string) (*Dev, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Dev{path: path, fd: fd}, nil
}

func (d *Dev) SelectTarget(addr uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return fmt.Errorf("%s: closed", d.path)
	}
	if err := unix.IoctlSetInt(d.fd, ioctlI2CSlave, int(addr)); err != nil {
		return fmt.Errorf("%s: set target 0x%02X: %w", d.path, addr, err)
	}
	return nil
}

func (d *Dev) Write(b []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return 0, fmt.Errorf("%s: closed", d.path)
	}
	n, err := unix.Write(d.fd, b)
	if n < 0 {
		n = 0
	}
	return n, err
}

func (d *Dev) Read(b []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return 0, fmt.Errorf("%s: closed", d.path)
	}
	n, err := unix.Read(d.fd, b)
	if n < 0 {
		n = 0
	}
	return n, err
}

// Close is idempotent.
func (d *Dev) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	return err
}

func (d *Dev) String() string {
	return "i2cdev(" + d.path + ")"
}
