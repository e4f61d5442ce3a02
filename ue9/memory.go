// Copyright (c) 2016-2026 The labjack developers. All rights reserved.
// Project site: https://github.com/gotmc/labjack
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package ue9

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	readMemResponseLength = 8 + memBlockSize
	readDefaultsLength    = 40
	defaultsBlockSize     = 32
	numDefaultsBlocks     = 8
	flushBufferLength     = 2
)

// Erase and set-defaults keys.
var (
	eraseCalKey        = [2]byte{0x4C, 0x4A}
	setDefaultsKey     = [2]byte{0xBA, 0x26}
	factoryDefaultsKey = [2]byte{0x82, 0xC7}
)

func validMemBlock(block int) bool {
	return block >= 0 && block < numMemBlocks
}

// ReadMem reads one 128-byte block of non-volatile memory. Blocks 0 to 4
// hold the calibration constants.
func (s *Session) ReadMem(block int) ([]byte, error) {
	if !validMemBlock(block) {
		return nil, fmt.Errorf("memory block must be in the range 0 to %d", numMemBlocks-1)
	}
	resp, err := s.transact(commandReadMem.String(),
		Encode(commandReadMem, []byte{0x00, byte(block)}),
		extendedEcho(commandReadMem, readMemResponseLength), true)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), resp[8:]...), nil
}

// WriteMem writes one 128-byte block of non-volatile memory. The memory
// must have been erased first.
func (s *Session) WriteMem(block int, data []byte) error {
	if !validMemBlock(block) {
		return fmt.Errorf("memory block must be in the range 0 to %d", numMemBlocks-1)
	}
	if len(data) != memBlockSize {
		return fmt.Errorf("memory block data must be %d bytes, got %d", memBlockSize, len(data))
	}
	p := make([]byte, 2+memBlockSize)
	p[1] = byte(block)
	copy(p[2:], data)
	_, err := s.transact(commandWriteMem.String(),
		Encode(commandWriteMem, p),
		extendedEcho(commandWriteMem, shortResponseLength), true)
	return err
}

// EraseMem erases the user memory, or the calibration memory when cal is
// set.
func (s *Session) EraseMem(cal bool) error {
	p := make([]byte, 2)
	if cal {
		copy(p, eraseCalKey[:])
	}
	_, err := s.transact(commandEraseMem.String(),
		Encode(commandEraseMem, p),
		extendedEcho(commandEraseMem, shortResponseLength), true)
	return err
}

// ReadDefaults reads one 32-byte block of the power-up defaults, or of the
// current configuration when current is set.
func (s *Session) ReadDefaults(block int, current bool) ([]byte, error) {
	if block < 0 || block >= numDefaultsBlocks {
		return nil, fmt.Errorf("defaults block must be in the range 0 to %d", numDefaultsBlocks-1)
	}
	b := byte(block)
	if current {
		b |= 0x80
	}
	resp, err := s.transact(commandDefaults.String(),
		Encode(commandDefaults, []byte{0x00, b}),
		extendedEcho(commandDefaults, readDefaultsLength), true)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), resp[8:8+defaultsBlockSize]...), nil
}

// SetDefaults stores the current configuration, or the factory defaults
// when factory is set, as the power-up defaults.
func (s *Session) SetDefaults(factory bool) error {
	key := setDefaultsKey
	if factory {
		key = factoryDefaultsKey
	}
	_, err := s.transact(commandDefaults.String(),
		Encode(commandDefaults, key[:]),
		extendedEcho(commandDefaults, shortResponseLength), true)
	return err
}

// PowerUpDefaults is the decoded power-up defaults stored in flash.
type PowerUpDefaults struct {
	FIODir, FIOState  byte
	EIODir, EIOState  byte
	CIODir, CIOState  byte
	MIODir, MIOState  byte
	ConfigWriteMask   byte
	NumTimersEnabled  byte
	CounterMask       byte
	PinOffset         byte
	TimerClockBase    byte
	TimerClockDivisor byte
	Timers            [maxTimers]TimerConfig
	DAC0              uint16
	DAC1              uint16
	AINResolution     [numAINChannels]byte
	AINGain           [numAINChannels]Gain
	AINSettling       [numAINChannels]byte
}

// ReadDefaultsConfig reads and decodes defaults blocks 0 to 4.
func (s *Session) ReadDefaultsConfig() (*PowerUpDefaults, error) {
	var blocks [5][]byte
	for i := range blocks {
		b, err := s.ReadDefaults(i, false)
		if err != nil {
			return nil, err
		}
		blocks[i] = b
	}
	return parsePowerUpDefaults(blocks), nil
}

func parsePowerUpDefaults(blocks [5][]byte) *PowerUpDefaults {
	d := &PowerUpDefaults{}
	b := blocks[0]
	d.FIODir, d.FIOState = b[4], b[5]
	d.EIODir, d.EIOState = b[6], b[7]
	d.CIODir, d.CIOState = b[8], b[9]
	d.MIODir, d.MIOState = b[10], b[11]
	d.ConfigWriteMask = b[16]
	d.NumTimersEnabled = b[17]
	d.CounterMask = b[18]
	d.PinOffset = b[19]

	b = blocks[1]
	d.TimerClockBase = b[0]
	d.TimerClockDivisor = b[1]
	for i := 0; i < 4; i++ {
		d.Timers[i] = TimerConfig{Mode: b[16+4*i], Value: binary.LittleEndian.Uint16(b[17+4*i : 19+4*i])}
	}

	b = blocks[2]
	for i := 0; i < 2; i++ {
		d.Timers[4+i] = TimerConfig{Mode: b[4*i], Value: binary.LittleEndian.Uint16(b[1+4*i : 3+4*i])}
	}
	d.DAC0 = binary.BigEndian.Uint16(b[16:18])
	d.DAC1 = binary.BigEndian.Uint16(b[20:22])

	for i := 0; i < numAINChannels; i++ {
		d.AINResolution[i] = blocks[3][i]
		d.AINGain[i] = Gain(blocks[3][i+16])
		d.AINSettling[i] = blocks[4][i]
	}
	return d
}

// FlushBuffer empties the device's stream buffer.
func (s *Session) FlushBuffer() error {
	if err := s.requireNotStreaming("FlushBuffer"); err != nil {
		return err
	}
	return s.flushBuffer()
}

func (s *Session) flushBuffer() error {
	_, err := s.roundTrip("FlushBuffer",
		EncodeNormal(normalFlushBuffer, nil),
		normalEcho(replyFlushBuffer, flushBufferLength), false, 0)
	return err
}

func convertBytesToFloat64(data []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(data))
}
