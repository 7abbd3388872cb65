// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package bus

import (
	"errors"
	"sync"
)

// Fake is an in-memory Transport for tests and bench runs without hardware.
// Reads are served from a script; once the script is exhausted the last
// entry repeats.
type Fake struct {
	mu sync.Mutex

	SelectErr error
	WriteErr  error

	// Reads is consumed one entry per Read call.
	Reads []FakeRead

	addr    uint16
	writes  [][]byte
	selects []uint16
	closed  bool
	reads   int
}

// FakeRead scripts one Read: Data is copied into the caller's buffer (and may
// be shorter than it), Err is returned alongside.
type FakeRead struct {
	Data []byte
	Err  error
}

var errFakeClosed = errors.New("bus: fake closed")

func (f *Fake) SelectTarget(addr uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errFakeClosed
	}
	f.selects = append(f.selects, addr)
	if f.SelectErr != nil {
		return f.SelectErr
	}
	f.addr = addr
	return nil
}

func (f *Fake) Write(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, errFakeClosed
	}
	if f.WriteErr != nil {
		return 0, f.WriteErr
	}
	f.writes = append(f.writes, append([]byte(nil), b...))
	return len(b), nil
}

func (f *Fake) Read(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, errFakeClosed
	}
	if len(f.Reads) == 0 {
		return 0, nil
	}
	i := f.reads
	if i >= len(f.Reads) {
		i = len(f.Reads) - 1
	}
	f.reads++
	r := f.Reads[i]
	n := copy(b, r.Data)
	return n, r.Err
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Writes returns copies of every buffer written so far.
func (f *Fake) Writes() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.writes))
	copy(out, f.writes)
	return out
}

// Selects returns every address passed to SelectTarget.
func (f *Fake) Selects() []uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint16(nil), f.selects...)
}

func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
