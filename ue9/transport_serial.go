// Copyright (c) 2016-2026 The labjack developers. All rights reserved.
// Project site: https://github.com/gotmc/labjack
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package ue9

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

const defaultBaudRate = 115200

// SerialTransport carries commands, responses and stream data over a single
// serial-like port, such as a USB-serial bridge or a pseudo-terminal.
type SerialTransport struct {
	port    serial.Port
	name    string
	timeout time.Duration
}

// OpenSerial opens the named port at the given baud rate, 8N1.
func OpenSerial(name string, baud int) (*SerialTransport, error) {
	if baud <= 0 {
		baud = defaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	return NewSerialTransport(port, name), nil
}

// NewSerialTransport wraps an already open port.
func NewSerialTransport(port serial.Port, name string) *SerialTransport {
	return &SerialTransport{port: port, name: name}
}

func (t *SerialTransport) setTimeout(d time.Duration) error {
	if d == t.timeout {
		return nil
	}
	if err := t.port.SetReadTimeout(d); err != nil {
		return fmt.Errorf("failed to set timeout on %s: %w", t.name, err)
	}
	t.timeout = d
	return nil
}

// Write sends p to the port.
func (t *SerialTransport) Write(p []byte) error {
	for len(p) > 0 {
		n, err := t.port.Write(p)
		if err != nil {
			return fmt.Errorf("error writing to %s: %w", t.name, err)
		}
		p = p[n:]
	}
	return nil
}

func (t *SerialTransport) read(max int, timeout time.Duration) ([]byte, error) {
	if err := t.setTimeout(timeout); err != nil {
		return nil, err
	}
	buf := make([]byte, max)
	n, err := t.port.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("error reading from %s: %w", t.name, err)
	}
	if n == 0 {
		return nil, nil
	}
	return buf[:n], nil
}

// Read returns the bytes that arrive before the timeout.
func (t *SerialTransport) Read(max int, timeout time.Duration) ([]byte, error) {
	p, err := t.read(max, timeout)
	if err != nil {
		return nil, err
	}
	if len(p) == 0 {
		return nil, &TimeoutError{Op: "serial read", Want: max}
	}
	return p, nil
}

// ReadStream is Read on the shared channel, returning (nil, nil) on a
// timeout with no data.
func (t *SerialTransport) ReadStream(max int, timeout time.Duration) ([]byte, error) {
	return t.read(max, timeout)
}

// Flush discards any input received but not yet read.
func (t *SerialTransport) Flush() error {
	if err := t.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("error flushing %s: %w", t.name, err)
	}
	return nil
}

// Policy returns the serial stream policy: USB-sized packets on a byte
// stream shared with command responses.
func (t *SerialTransport) Policy() StreamPolicy {
	return StreamPolicy{
		Kind:          KindSerial,
		PacketSize:    usbStreamPacketSize,
		ByteStream:    true,
		SharedChannel: true,
	}
}

// Close closes the port.
func (t *SerialTransport) Close() error {
	return t.port.Close()
}
