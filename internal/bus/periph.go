// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package bus

import (
	"fmt"
	"io"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Periph drives the link through a periph.io I2C bus. The kernel performs
// each read as a single message, so a successful Read always fills b.
type Periph struct {
	bus i2c.Bus
	dev i2c.Dev
}

// OpenPeriph initialises the periph host drivers and opens the named bus
// ("" selects the first one available).
func OpenPeriph(name string) (*Periph, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	b, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("i2c open failed on bus %q: %w", name, err)
	}
	return NewPeriph(b), nil
}

// NewPeriph wraps an already opened bus.
func NewPeriph(b i2c.Bus) *Periph {
	return &Periph{bus: b, dev: i2c.Dev{Bus: b}}
}

func (p *Periph) SelectTarget(addr uint16) error {
	if addr > 0x3FF {
		return fmt.Errorf("invalid i2c address 0x%X", addr)
	}
	p.dev.Addr = addr
	return nil
}

func (p *Periph) Write(b []byte) (int, error) {
	if err := p.dev.Tx(b, nil); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (p *Periph) Read(b []byte) (int, error) {
	if err := p.dev.Tx(nil, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Close releases the bus if it was opened by OpenPeriph or is closable.
func (p *Periph) Close() error {
	if c, ok := p.bus.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (p *Periph) String() string {
	return fmt.Sprintf("periph(%s)", p.bus)
}
