// Copyright (c) 2016-2026 The labjack developers. All rights reserved.
// Project site: https://github.com/gotmc/labjack
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package ue9

import (
	"encoding/binary"
	"fmt"
)

// Calibration memory blocks.
const (
	calBlockUnipolar = 0
	calBlockBipolar  = 1
	calBlockDAC      = 2
	calBlockProUni   = 3
	calBlockProBip   = 4
	calMinBlockSize  = 40
	proResolution    = 17
)

// CalibrationEntry is the slope and offset of one affine conversion.
type CalibrationEntry struct {
	Slope  float64 `json:"slope" yaml:"slope"`
	Offset float64 `json:"offset" yaml:"offset"`
}

// Apply returns raw*slope + offset.
func (e CalibrationEntry) Apply(raw float64) float64 {
	return raw*e.Slope + e.Offset
}

// CalibrationTable holds the conversion constants of one device. AIN is
// keyed by gain code; ProAIN holds the high resolution converter's constants
// and is used for resolutions above 17 bits when HiRes is set.
type CalibrationTable struct {
	AIN       map[Gain]CalibrationEntry `json:"ain" yaml:"ain"`
	ProAIN    map[Gain]CalibrationEntry `json:"pro_ain" yaml:"pro_ain"`
	DAC       [2]CalibrationEntry       `json:"dac" yaml:"dac"`
	TempSlope float64                   `json:"temp_slope" yaml:"temp_slope"`
	HiRes     bool                      `json:"hi_res" yaml:"hi_res"`
}

var nominalAIN = map[Gain]CalibrationEntry{
	GainUni1: {Slope: 0.000077503, Offset: -0.012},
	GainUni2: {Slope: 0.000038736, Offset: -0.012},
	GainUni4: {Slope: 0.000019353, Offset: -0.012},
	GainUni8: {Slope: 0.0000096764, Offset: -0.012},
	GainBip1: {Slope: 0.00015629, Offset: -5.1760},
}

const (
	nominalTempSlope = 0.012968
	nominalDACSlope  = 842.59
)

// DefaultCalibration returns the nominal constants used until the device's
// own calibration has been read. The normal and high resolution nominal
// values are the same.
func DefaultCalibration() *CalibrationTable {
	t := &CalibrationTable{
		AIN:       make(map[Gain]CalibrationEntry, len(nominalAIN)),
		ProAIN:    make(map[Gain]CalibrationEntry, 2),
		TempSlope: nominalTempSlope,
	}
	for g, e := range nominalAIN {
		t.AIN[g] = e
	}
	t.ProAIN[GainUni1] = nominalAIN[GainUni1]
	t.ProAIN[GainBip1] = nominalAIN[GainBip1]
	for i := range t.DAC {
		t.DAC[i] = CalibrationEntry{Slope: nominalDACSlope}
	}
	return t
}

// MemoryReader reads one block of non-volatile memory. *Session implements
// it.
type MemoryReader interface {
	ReadMem(block int) ([]byte, error)
}

// LoadCalibration reads calibration blocks 0 to 2, plus blocks 3 and 4 when
// hiRes is set, and parses the little-endian IEEE-754 doubles they hold.
func LoadCalibration(r MemoryReader, hiRes bool) (*CalibrationTable, error) {
	read := func(block int) ([]byte, error) {
		b, err := r.ReadMem(block)
		if err != nil {
			return nil, fmt.Errorf("error reading calibration block %d: %w", block, err)
		}
		if len(b) < calMinBlockSize {
			return nil, &FramingError{Got: len(b), PacketSize: memBlockSize}
		}
		return b, nil
	}
	entry := func(b []byte, off int) CalibrationEntry {
		return CalibrationEntry{
			Slope:  convertBytesToFloat64(b[off : off+8]),
			Offset: convertBytesToFloat64(b[off+8 : off+16]),
		}
	}

	t := &CalibrationTable{
		AIN:    make(map[Gain]CalibrationEntry, 5),
		ProAIN: make(map[Gain]CalibrationEntry, 2),
		HiRes:  hiRes,
	}
	b, err := read(calBlockUnipolar)
	if err != nil {
		return nil, err
	}
	for i, g := range []Gain{GainUni1, GainUni2, GainUni4, GainUni8} {
		t.AIN[g] = entry(b, 16*i)
	}

	if b, err = read(calBlockBipolar); err != nil {
		return nil, err
	}
	t.AIN[GainBip1] = entry(b, 0)

	if b, err = read(calBlockDAC); err != nil {
		return nil, err
	}
	t.DAC[0] = entry(b, 0)
	t.DAC[1] = entry(b, 16)
	t.TempSlope = convertBytesToFloat64(b[32:40])

	if hiRes {
		if b, err = read(calBlockProUni); err != nil {
			return nil, err
		}
		t.ProAIN[GainUni1] = entry(b, 0)
		if b, err = read(calBlockProBip); err != nil {
			return nil, err
		}
		t.ProAIN[GainBip1] = entry(b, 0)
	}
	return t, nil
}

// entry picks the constants for gain. An unknown gain falls back to the
// nominal entry for that gain, then to unipolar gain 1, so a conversion
// never fails.
func (t *CalibrationTable) entry(gain Gain, resolution int) CalibrationEntry {
	if t.HiRes && resolution > proResolution {
		if e, ok := t.ProAIN[gain]; ok {
			return e
		}
	}
	if e, ok := t.AIN[gain]; ok {
		return e
	}
	if e, ok := nominalAIN[gain]; ok {
		return e
	}
	return nominalAIN[GainUni1]
}

// ToVoltage converts a raw analog reading taken with gain at the given
// resolution to volts.
func (t *CalibrationTable) ToVoltage(raw float64, gain Gain, resolution int) float64 {
	return t.entry(gain, resolution).Apply(raw)
}

// Slope returns the slope ToVoltage applies for gain at the given
// resolution.
func (t *CalibrationTable) Slope(gain Gain, resolution int) float64 {
	return t.entry(gain, resolution).Slope
}

// ToTemperature converts a raw reading of the internal temperature sensor
// to kelvin.
func (t *CalibrationTable) ToTemperature(raw float64) float64 {
	return raw * t.TempSlope
}

// VoltageToDACBits returns the 12-bit code that sets DAC dac (0 or 1) to
// volts, clamped to the converter's range.
func (t *CalibrationTable) VoltageToDACBits(volts float64, dac int) uint16 {
	e := t.DAC[dac&1]
	bits := int(volts*e.Slope + e.Offset)
	switch {
	case bits < 0:
		return 0
	case bits > dacMaxBits:
		return dacMaxBits
	}
	return uint16(bits)
}

// DecodeWord decodes a 2-byte little-endian sample into its uint16
// equivalent.
func DecodeWord(data []byte) uint16 {
	return binary.LittleEndian.Uint16(data)
}

// Calibration returns the table used for conversions: the table loaded from
// the device or set by SetCalibration, otherwise the Session's nominal table.
func (s *Session) Calibration() *CalibrationTable {
	return s.cal
}

// SetCalibration replaces the calibration table. A nil table restores the
// nominal constants.
func (s *Session) SetCalibration(t *CalibrationTable) {
	if t == nil {
		t = DefaultCalibration()
	}
	s.cal = t
}

// LoadCalibration reads the calibration constants from the device and makes
// them the Session's table. The control configuration is read first if it
// has not been, to learn whether the device has the high resolution
// converter.
func (s *Session) LoadCalibration() (*CalibrationTable, error) {
	if err := s.requireNotStreaming("LoadCalibration"); err != nil {
		return nil, err
	}
	if s.control == nil {
		if _, err := s.ControlConfig(nil); err != nil {
			return nil, err
		}
	}
	t, err := LoadCalibration(s, s.hiRes)
	if err != nil {
		return nil, err
	}
	s.cal = t
	s.log.WithField("hires", t.HiRes).Debug("calibration loaded")
	return t, nil
}
