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
	maxTimers                   = 6
	timerCounterCommandLength   = 30
	timerCounterResponseLength  = 40
	watchdogConfigCommandLength = 16
	watchdogReadResponseLength  = 16
	shortResponseLength         = 8
)

// TimerConfig is the mode and value of one enabled timer.
type TimerConfig struct {
	Mode  byte
	Value uint16
}

// TimerCounterRequest enables, configures, resets and reads the timers and
// counters. The configuration fields are only applied when UpdateConfig is
// set; the number of enabled timers is len(Timers).
type TimerCounterRequest struct {
	TimerClockDivisor byte
	UpdateConfig      bool
	Timers            []TimerConfig
	Counter0Enabled   bool
	Counter1Enabled   bool
	TimerClockBase    TimerClockBase
	// ResetTimers resets timer i when bit i is set.
	ResetTimers   byte
	ResetCounter0 bool
	ResetCounter1 bool
}

// TimerCounterResult holds the enable state and current value of every
// timer and counter.
type TimerCounterResult struct {
	TimerEnabled   [maxTimers]bool
	CounterEnabled [2]bool
	Timers         [maxTimers]uint32
	Counters       [2]uint32
}

func (r *TimerCounterRequest) payload() ([]byte, error) {
	if len(r.Timers) > maxTimers {
		return nil, fmt.Errorf("only a maximum of %d timers can be enabled, got %d", maxTimers, len(r.Timers))
	}
	p := make([]byte, timerCounterCommandLength-extendedHeaderSize)
	p[0] = r.TimerClockDivisor
	if r.UpdateConfig {
		p[1] = 0x80 | byte(len(r.Timers))
		if r.Counter0Enabled {
			p[1] |= 0x08
		}
		if r.Counter1Enabled {
			p[1] |= 0x10
		}
		for i, tc := range r.Timers {
			p[4+3*i] = tc.Mode
			binary.LittleEndian.PutUint16(p[5+3*i:7+3*i], tc.Value)
		}
	}
	p[2] = byte(r.TimerClockBase)
	p[3] = r.ResetTimers & 0x3f
	if r.ResetCounter0 {
		p[3] |= 0x40
	}
	if r.ResetCounter1 {
		p[3] |= 0x80
	}
	return p, nil
}

// TimerCounter configures and reads the timers and counters.
func (s *Session) TimerCounter(req TimerCounterRequest) (*TimerCounterResult, error) {
	payload, err := req.payload()
	if err != nil {
		return nil, err
	}
	resp, err := s.transact(commandTimerCounter.String(),
		Encode(commandTimerCounter, payload),
		extendedEcho(commandTimerCounter, timerCounterResponseLength), true)
	if err != nil {
		return nil, err
	}
	var res TimerCounterResult
	for i := 0; i < maxTimers; i++ {
		res.TimerEnabled[i] = resp[7]>>uint(i)&1 == 1
		res.Timers[i] = binary.LittleEndian.Uint32(resp[8+4*i : 12+4*i])
	}
	for i := 0; i < 2; i++ {
		res.CounterEnabled[i] = resp[7]>>uint(i+6)&1 == 1
		// The low byte of each counter is not reported.
		res.Counters[i] = binary.LittleEndian.Uint32([]byte{0, resp[32+4*i], resp[33+4*i], resp[34+4*i]})
	}
	return &res, nil
}

// Watchdog option bits.
const (
	WatchdogUpdateDAC0     byte = 1 << 0
	WatchdogUpdateDAC1     byte = 1 << 1
	WatchdogUpdateDigitalA byte = 1 << 3
	WatchdogUpdateDigitalB byte = 1 << 4
	WatchdogResetControl   byte = 1 << 5
	WatchdogResetCommon    byte = 1 << 6
)

// WatchdogSettings is the watchdog configuration.
type WatchdogSettings struct {
	// Options is a combination of the Watchdog option bits.
	Options       byte
	TimeoutPeriod uint16 // seconds
	DIOConfigA    byte
	DIOConfigB    byte
	DAC0Enabled   bool
	DAC0          uint16
	DAC1Enabled   bool
	DAC1          uint16
}

// WatchdogConfig writes the watchdog configuration and returns the option
// bits the device reports.
func (s *Session) WatchdogConfig(w WatchdogSettings) (byte, error) {
	p := make([]byte, watchdogConfigCommandLength-extendedHeaderSize)
	p[1] = w.Options
	binary.LittleEndian.PutUint16(p[2:4], w.TimeoutPeriod)
	p[4] = w.DIOConfigA
	p[5] = w.DIOConfigB
	putDAC(p[6:8], w.DAC0Enabled, w.DAC0&dacMaxBits)
	putDAC(p[8:10], w.DAC1Enabled, w.DAC1&dacMaxBits)
	resp, err := s.transact(commandWatchdog.String(),
		Encode(commandWatchdog, p),
		extendedEcho(commandWatchdog, shortResponseLength), true)
	if err != nil {
		return 0, err
	}
	return resp[7], nil
}

// WatchdogRead returns the current watchdog configuration.
func (s *Session) WatchdogRead() (*WatchdogSettings, error) {
	resp, err := s.transact(commandWatchdog.String(),
		Encode(commandWatchdog, nil),
		extendedEcho(commandWatchdog, watchdogReadResponseLength), true)
	if err != nil {
		return nil, err
	}
	return &WatchdogSettings{
		Options:       resp[7],
		TimeoutPeriod: binary.LittleEndian.Uint16(resp[8:10]),
		DIOConfigA:    resp[10],
		DIOConfigB:    resp[11],
		DAC0Enabled:   resp[13]>>7&1 == 1,
		DAC0:          uint16(resp[13]&0xf)<<8 | uint16(resp[12]),
		DAC1Enabled:   resp[15]>>7&1 == 1,
		DAC1:          uint16(resp[15]&0xf)<<8 | uint16(resp[14]),
	}, nil
}
