// Copyright (c) 2016-2026 The labjack developers. All rights reserved.
// Project site: https://github.com/gotmc/labjack
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package ue9

import (
	"encoding/binary"
	"fmt"
)

const (
	extendedHeaderSize = 6
	maxExtendedPayload = 2 * 0xFF
)

// Frame is a complete command or response buffer. Byte 0 is always the
// Checksum8.
type Frame []byte

// Checksum8 returns the 8-bit additive checksum of b with the carry folded
// back in twice.
func Checksum8(b []byte) byte {
	var total uint32
	for _, v := range b {
		total += uint32(v)
	}
	s := (total & 0xff) + (total >> 8)
	s = (s & 0xff) + (s >> 8)
	return byte(s)
}

// Checksum16 returns the 16-bit additive checksum of b.
func Checksum16(b []byte) uint16 {
	var total uint16
	for _, v := range b {
		total += uint16(v)
	}
	return total
}

// IsExtended reports whether a frame whose byte 1 is b1 uses the extended
// layout (two checksums, payload word count in byte 2).
func IsExtended(b1 byte) bool {
	return (b1&0x78)>>3 == 15
}

// Encode builds an extended command frame for cmd. The payload is copied
// starting at byte 6 and padded to an even length; checksums are computed
// last over the final buffer. A payload longer than 510 bytes cannot be
// counted in byte 2 and panics; every command bounds its payload first.
func Encode(cmd command, payload []byte) Frame {
	n := len(payload)
	if n > maxExtendedPayload {
		panic(fmt.Sprintf("%s payload of %d bytes exceeds %d", cmd, n, maxExtendedPayload))
	}
	if n%2 != 0 {
		n++
	}
	f := make(Frame, extendedHeaderSize+n)
	f[1] = cmd.header()
	f[2] = byte(n / 2)
	f[3] = byte(cmd)
	copy(f[extendedHeaderSize:], payload)
	f.seal()
	return f
}

// EncodeNormal builds a normal (non-extended) command frame whose command
// byte is b1 followed by body.
func EncodeNormal(b1 byte, body []byte) Frame {
	f := make(Frame, 2+len(body))
	f[1] = b1
	copy(f[2:], body)
	f.seal()
	return f
}

// seal writes the checksums into f using the framing indicated by byte 1.
func (f Frame) seal() {
	if len(f) < 2 {
		return
	}
	if IsExtended(f[1]) && len(f) >= extendedHeaderSize {
		binary.LittleEndian.PutUint16(f[4:6], Checksum16(f[extendedHeaderSize:]))
		f[0] = Checksum8(f[1:extendedHeaderSize])
		return
	}
	f[0] = Checksum8(f[1:])
}

// Payload returns the bytes after the extended header, or after the
// command byte for a normal frame.
func (f Frame) Payload() []byte {
	if len(f) >= extendedHeaderSize && IsExtended(f[1]) {
		return f[extendedHeaderSize:]
	}
	if len(f) < 2 {
		return nil
	}
	return f[2:]
}

// Echo describes the response a command expects: its exact length and the
// identifying bytes starting at byte 1.
type Echo struct {
	Length int
	Bytes  []byte
}

func extendedEcho(cmd command, respLen int) Echo {
	return Echo{
		Length: respLen,
		Bytes:  []byte{cmd.header(), byte((respLen - extendedHeaderSize) / 2), byte(cmd)},
	}
}

func normalEcho(b1 byte, respLen int) Echo {
	return Echo{Length: respLen, Bytes: []byte{b1}}
}

func (e Echo) extended() bool {
	return len(e.Bytes) > 0 && IsExtended(e.Bytes[0])
}

// Decode validates raw against the expected echo. The framing (which bytes
// the checksums cover) is taken from the echo rather than from raw, so a
// corrupted byte 1 cannot change the covered range. Checks run in order:
// length, device-reported bad checksum, Checksum8/Checksum16, echo bytes.
func Decode(raw []byte, echo Echo) (Frame, error) {
	if echo.Length > 0 && len(raw) != echo.Length {
		return nil, &FramingError{Got: len(raw), PacketSize: echo.Length}
	}
	if len(raw) < 2 {
		return nil, &FramingError{Got: len(raw), PacketSize: echo.Length}
	}
	if raw[0] == 0xB8 && raw[1] == 0xB8 {
		return nil, &ChecksumError{DeviceReported: true}
	}
	if echo.extended() {
		if len(raw) < extendedHeaderSize {
			return nil, &FramingError{Got: len(raw), PacketSize: echo.Length}
		}
		want16 := Checksum16(raw[extendedHeaderSize:])
		got16 := binary.LittleEndian.Uint16(raw[4:6])
		want8 := Checksum8(raw[1:extendedHeaderSize])
		if got16 != want16 || raw[0] != want8 {
			return nil, &ChecksumError{Got8: raw[0], Want8: want8, Got16: got16, Want16: want16}
		}
	} else {
		want8 := Checksum8(raw[1:])
		if raw[0] != want8 {
			return nil, &ChecksumError{Got8: raw[0], Want8: want8}
		}
	}
	if len(raw) < 1+len(echo.Bytes) {
		return nil, &FramingError{Got: len(raw), PacketSize: echo.Length}
	}
	for i, b := range echo.Bytes {
		if raw[1+i] != b {
			return nil, &EchoMismatchError{
				Want: append([]byte(nil), echo.Bytes...),
				Got:  append([]byte(nil), raw[1:1+len(echo.Bytes)]...),
			}
		}
	}
	return Frame(raw), nil
}
