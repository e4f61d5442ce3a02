// Copyright (c) 2016-2026 The labjack developers. All rights reserved.
// Project site: https://github.com/gotmc/labjack
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package ue9

import (
	"fmt"
	"strings"
	"time"
)

// Transport is a byte channel to a UE9. Read returns whatever bytes arrive
// on the command channel before the timeout and a *TimeoutError when none
// do. ReadStream reads the stream channel and returns (nil, nil) when no
// bytes arrive before the timeout.
type Transport interface {
	Write(p []byte) error
	Read(max int, timeout time.Duration) ([]byte, error)
	ReadStream(max int, timeout time.Duration) ([]byte, error)
	Flush() error
	Policy() StreamPolicy
	Close() error
}

// TransportKind identifies the physical link.
type TransportKind int

// Available transport kinds
const (
	KindUSB TransportKind = iota
	KindSerial
	KindTCP
)

var transportKinds = map[TransportKind]string{
	KindUSB:    "usb",
	KindSerial: "serial",
	KindTCP:    "tcp",
}

func (k TransportKind) String() string {
	if s, ok := transportKinds[k]; ok {
		return s
	}
	return fmt.Sprintf("transport(%d)", int(k))
}

// ParseTransportKind returns the kind for a config name.
func ParseTransportKind(s string) (TransportKind, error) {
	for k, name := range transportKinds {
		if strings.EqualFold(name, s) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown transport %q", s)
}

// StreamPolicy is the only transport-specific knowledge the streaming
// engine needs.
type StreamPolicy struct {
	Kind TransportKind
	// PacketSize is the number of bytes each stream packet occupies on the
	// link, including any trailer the link appends.
	PacketSize int
	// ByteStream is set when the link can split or merge packets, so reads
	// must be reassembled on packet boundaries.
	ByteStream bool
	// SharedChannel is set when stream data and command responses arrive on
	// the same channel.
	SharedChannel bool
}

// trailer returns the number of bytes the link appends to each 46-byte
// stream packet.
func (p StreamPolicy) trailer() int {
	if p.PacketSize > streamPacketSize {
		return p.PacketSize - streamPacketSize
	}
	return 0
}

// readFull reads exactly n bytes from the command channel, accumulating
// short reads until the deadline passes.
func readFull(t Transport, n int, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 0, n)
	for len(buf) < n {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return buf, &TimeoutError{Op: "read", Got: len(buf), Want: n}
		}
		p, err := t.Read(n-len(buf), remaining)
		if err != nil {
			if IsTimeout(err) {
				return buf, &TimeoutError{Op: "read", Got: len(buf), Want: n}
			}
			return buf, err
		}
		buf = append(buf, p...)
	}
	return buf, nil
}
