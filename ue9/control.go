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
	controlConfigCommandLength  = 18
	controlConfigResponseLength = 24
	feedbackCommandLength       = 34
	feedbackResponseLength      = 64
	singleIOLength              = 8
)

// Control config write mask bits.
const (
	controlMaskPower   byte = 1 << 0
	controlMaskDigital byte = 1 << 1
	controlMaskDAC     byte = 1 << 2
)

// Fields of ControlSettings, used to track which have been set.
const (
	ctlPower uint16 = 1 << iota
	ctlFIODir
	ctlFIOState
	ctlEIODir
	ctlEIOState
	ctlCIODir
	ctlCIOState
	ctlMIODir
	ctlMIOState
	ctlDAC0Enable
	ctlDAC0
	ctlDAC1Enable
	ctlDAC1

	ctlDigitalGroup = ctlFIODir | ctlFIOState | ctlEIODir | ctlEIOState |
		ctlCIODir | ctlCIOState | ctlMIODir | ctlMIOState
	ctlDACGroup = ctlDAC0Enable | ctlDAC0 | ctlDAC1Enable | ctlDAC1
)

// ControlSettings holds the control processor power-up settings to write.
// Only fields set through a setter are written. The device writes each
// group (power, digital I/O, DACs) as a whole, so a partially set group is
// completed from the device's current values before writing.
type ControlSettings struct {
	set               uint16
	powerLevel        PowerLevel
	fioDir, fioState  byte
	eioDir, eioState  byte
	cioDir, cioState  byte
	mioDir, mioState  byte
	noDigitalDefaults bool
	dac0Enable        bool
	dac1Enable        bool
	dac0, dac1        uint16
}

// NewControlSettings returns an empty set of control settings.
func NewControlSettings() *ControlSettings {
	return &ControlSettings{}
}

// SetPowerLevel sets the processor clock.
func (c *ControlSettings) SetPowerLevel(p PowerLevel) *ControlSettings {
	c.set |= ctlPower
	c.powerLevel = p
	return c
}

// SetFIO sets the FIO power-up directions and states.
func (c *ControlSettings) SetFIO(dir, state byte) *ControlSettings {
	c.set |= ctlFIODir | ctlFIOState
	c.fioDir, c.fioState = dir, state
	return c
}

// SetEIO sets the EIO power-up directions and states.
func (c *ControlSettings) SetEIO(dir, state byte) *ControlSettings {
	c.set |= ctlEIODir | ctlEIOState
	c.eioDir, c.eioState = dir, state
	return c
}

// SetCIO sets the four CIO power-up directions and states.
func (c *ControlSettings) SetCIO(dir, state byte) *ControlSettings {
	c.set |= ctlCIODir | ctlCIOState
	c.cioDir, c.cioState = dir&0xf, state&0xf
	return c
}

// SetMIO sets the three MIO power-up directions and states.
func (c *ControlSettings) SetMIO(dir, state byte) *ControlSettings {
	c.set |= ctlMIODir | ctlMIOState
	c.mioDir, c.mioState = dir&0x7, state&0x7
	return c
}

// SetNoDigitalDefaults stops the device loading the digital I/O defaults at
// power-up.
func (c *ControlSettings) SetNoDigitalDefaults(v bool) *ControlSettings {
	c.noDigitalDefaults = v
	return c
}

// SetDAC0 sets the DAC0 power-up enable and 12-bit value.
func (c *ControlSettings) SetDAC0(enabled bool, bits uint16) *ControlSettings {
	c.set |= ctlDAC0Enable | ctlDAC0
	c.dac0Enable, c.dac0 = enabled, bits&dacMaxBits
	return c
}

// SetDAC1 sets the DAC1 power-up enable and 12-bit value.
func (c *ControlSettings) SetDAC1(enabled bool, bits uint16) *ControlSettings {
	c.set |= ctlDAC1Enable | ctlDAC1
	c.dac1Enable, c.dac1 = enabled, bits&dacMaxBits
	return c
}

// WriteMask returns the mask byte that will be sent.
func (c *ControlSettings) WriteMask() byte {
	if c == nil {
		return 0
	}
	var mask byte
	if c.set&ctlPower != 0 {
		mask |= controlMaskPower
	}
	if c.set&ctlDigitalGroup != 0 {
		mask |= controlMaskDigital
	}
	if c.set&ctlDACGroup != 0 {
		mask |= controlMaskDAC
	}
	return mask
}

func (c *ControlSettings) partial() bool {
	if c == nil {
		return false
	}
	d := c.set & ctlDigitalGroup
	a := c.set & ctlDACGroup
	return (d != 0 && d != ctlDigitalGroup) || (a != 0 && a != ctlDACGroup)
}

// complete fills unset members of partially set groups from info.
func (c ControlSettings) complete(info *ControlInfo) *ControlSettings {
	if c.set&ctlDigitalGroup != 0 {
		if c.set&ctlFIODir == 0 {
			c.fioDir = info.FIODir
		}
		if c.set&ctlFIOState == 0 {
			c.fioState = info.FIOState
		}
		if c.set&ctlEIODir == 0 {
			c.eioDir = info.EIODir
		}
		if c.set&ctlEIOState == 0 {
			c.eioState = info.EIOState
		}
		if c.set&ctlCIODir == 0 {
			c.cioDir = info.CIODir
		}
		if c.set&ctlCIOState == 0 {
			c.cioState = info.CIOState
		}
		if c.set&ctlMIODir == 0 {
			c.mioDir = info.MIODir
		}
		if c.set&ctlMIOState == 0 {
			c.mioState = info.MIOState
		}
		c.set |= ctlDigitalGroup
	}
	if c.set&ctlDACGroup != 0 {
		if c.set&ctlDAC0 == 0 {
			c.dac0Enable, c.dac0 = info.DAC0Enabled, info.DAC0
		}
		if c.set&ctlDAC1 == 0 {
			c.dac1Enable, c.dac1 = info.DAC1Enabled, info.DAC1
		}
		c.set |= ctlDACGroup
	}
	return &c
}

func (c *ControlSettings) payload() []byte {
	p := make([]byte, controlConfigCommandLength-extendedHeaderSize)
	if c == nil {
		return p
	}
	p[0] = c.WriteMask()
	if c.set&ctlPower != 0 {
		p[1] = byte(c.powerLevel)
	}
	if c.set&ctlDigitalGroup != 0 {
		p[2] = c.fioDir
		p[3] = c.fioState
		p[4] = c.eioDir
		p[5] = c.eioState
		p[6] = c.cioDir<<4 | c.cioState
		p[7] = c.mioDir<<4 | c.mioState
		if c.noDigitalDefaults {
			p[7] |= 1 << 7
		}
	}
	if c.set&ctlDACGroup != 0 {
		putDAC(p[8:10], c.dac0Enable, c.dac0)
		putDAC(p[10:12], c.dac1Enable, c.dac1)
	}
	return p
}

func putDAC(dst []byte, enabled bool, bits uint16) {
	dst[0] = byte(bits)
	dst[1] = byte(bits>>8) & 0xf
	if enabled {
		dst[1] |= 1 << 7
	}
}

// ControlInfo is the control processor configuration reported by the
// device.
type ControlInfo struct {
	PowerLevel       PowerLevel
	ResetSource      byte
	ControlFWVersion string
	ControlBLVersion string
	HiRes            bool
	FIODir           byte
	FIOState         byte
	EIODir           byte
	EIOState         byte
	CIODir           byte
	CIOState         byte
	MIODir           byte
	MIOState         byte
	DAC0Enabled      bool
	DAC0             uint16
	DAC1Enabled      bool
	DAC1             uint16
	DeviceName       string
}

func parseControlInfo(r []byte) *ControlInfo {
	info := &ControlInfo{
		PowerLevel:       PowerLevel(r[7]),
		ResetSource:      r[8],
		ControlFWVersion: fmt.Sprintf("%d.%02d", r[10], r[9]),
		ControlBLVersion: fmt.Sprintf("%d.%02d", r[12], r[11]),
		HiRes:            r[13]&1 != 0,
		FIODir:           r[14],
		FIOState:         r[15],
		EIODir:           r[16],
		EIOState:         r[17],
		CIODir:           (r[18] >> 4) & 0xf,
		CIOState:         r[18] & 0xf,
		MIODir:           (r[19] >> 4) & 0x7,
		MIOState:         r[19] & 0x7,
		DAC0Enabled:      r[21]>>7&1 == 1,
		DAC0:             uint16(r[21]&0xf)<<8 | uint16(r[20]),
		DAC1Enabled:      r[23]>>7&1 == 1,
		DAC1:             uint16(r[23]&0xf)<<8 | uint16(r[22]),
		DeviceName:       "UE9",
	}
	if info.HiRes {
		info.DeviceName = "UE9-Pro"
	}
	return info
}

// ControlConfig writes the set fields of settings (nil writes nothing) and
// returns the configuration the device reports afterwards. It updates the
// Session's device name.
func (s *Session) ControlConfig(settings *ControlSettings) (*ControlInfo, error) {
	name := commandControlConfig.String()
	if err := s.requireNotStreaming(name); err != nil {
		return nil, err
	}
	if settings.partial() {
		current, err := s.ControlConfig(nil)
		if err != nil {
			return nil, err
		}
		settings = settings.complete(current)
	}
	resp, err := s.transact(name,
		Encode(commandControlConfig, settings.payload()),
		extendedEcho(commandControlConfig, controlConfigResponseLength), true)
	if err != nil {
		return nil, err
	}
	info := parseControlInfo(resp)
	s.control = info
	s.hiRes = info.HiRes
	s.deviceName = info.DeviceName
	return info, nil
}

// FeedbackRequest is the Feedback command: digital masks, directions and
// states, optional DAC updates and the analog inputs to read.
type FeedbackRequest struct {
	FIOMask, FIODir, FIOState byte
	EIOMask, EIODir, EIOState byte
	CIOMask, CIODir, CIOState byte
	MIOMask, MIODir, MIOState byte

	DAC0Update, DAC0Enabled bool
	DAC0                    uint16
	DAC1Update, DAC1Enabled bool
	DAC1                    uint16

	// AINMask selects which of the 16 analog slots are read. Slots 14 and
	// 15 read the channels named by AIN14Channel and AIN15Channel.
	AINMask      uint16
	AIN14Channel byte
	AIN15Channel byte
	Resolution   byte
	SettlingTime byte
	Gains        [numFeedbackAIN]Gain
}

// FeedbackResult is the device's reply to Feedback.
type FeedbackResult struct {
	FIODir, FIOState byte
	EIODir, EIOState byte
	CIODir, CIOState byte
	MIODir, MIOState byte
	AIN              [numFeedbackAIN]float64
	Counter0         uint32
	Counter1         uint32
	TimerA           uint32
	TimerB           uint32
	TimerC           uint32
}

func (r *FeedbackRequest) payload() []byte {
	p := make([]byte, feedbackCommandLength-extendedHeaderSize)
	p[0] = r.FIOMask
	p[1] = r.FIODir
	p[2] = r.FIOState
	p[3] = r.EIOMask
	p[4] = r.EIODir
	p[5] = r.EIOState
	p[6] = r.CIOMask
	p[7] = (r.CIODir&0xf)<<4 | r.CIOState&0xf
	p[8] = r.MIOMask
	p[9] = (r.MIODir&0x7)<<4 | r.MIOState&0x7
	if r.DAC0Update {
		putDAC(p[10:12], r.DAC0Enabled, r.DAC0&dacMaxBits)
		p[11] |= 1 << 6
	}
	if r.DAC1Update {
		putDAC(p[12:14], r.DAC1Enabled, r.DAC1&dacMaxBits)
		p[13] |= 1 << 6
	}
	binary.LittleEndian.PutUint16(p[14:16], r.AINMask)
	p[16] = r.AIN14Channel
	p[17] = r.AIN15Channel
	p[18] = r.Resolution
	p[19] = r.SettlingTime
	for i := 0; i < numFeedbackAIN/2; i++ {
		p[20+i] = byte(r.Gains[2*i])&0xf | (byte(r.Gains[2*i+1])&0xf)<<4
	}
	return p
}

// Feedback writes and reads most of the device's I/O in one transaction.
// Analog readings are calibrated with the gain requested for each slot.
func (s *Session) Feedback(req FeedbackRequest) (*FeedbackResult, error) {
	resp, err := s.transact(commandFeedback.String(),
		Encode(commandFeedback, req.payload()),
		extendedEcho(commandFeedback, feedbackResponseLength), false)
	if err != nil {
		return nil, err
	}
	res := &FeedbackResult{
		FIODir:   resp[6],
		FIOState: resp[7],
		EIODir:   resp[8],
		EIOState: resp[9],
		CIODir:   (resp[10] >> 4) & 0xf,
		CIOState: resp[10] & 0xf,
		MIODir:   (resp[11] >> 4) & 0x7,
		MIOState: resp[11] & 0x7,
		Counter0: binary.LittleEndian.Uint32(resp[44:48]),
		Counter1: binary.LittleEndian.Uint32(resp[48:52]),
		TimerA:   binary.LittleEndian.Uint32(resp[52:56]),
		TimerB:   binary.LittleEndian.Uint32(resp[56:60]),
		TimerC:   binary.LittleEndian.Uint32(resp[60:64]),
	}
	cal := s.Calibration()
	for i := 0; i < numFeedbackAIN; i++ {
		raw := binary.LittleEndian.Uint16(resp[12+2*i : 14+2*i])
		res.AIN[i] = cal.ToVoltage(float64(raw), req.Gains[i], int(req.Resolution))
	}
	return res, nil
}

// SingleIORequest reads or writes one input or output.
type SingleIORequest struct {
	IOType       IOType
	Channel      byte
	Dir          byte
	State        byte
	Gain         Gain
	Resolution   byte
	SettlingTime byte
	DAC          uint16
}

// SingleIOResult is the device's reply to SingleIO. For analog input Raw is
// the 24-bit reading scaled to 16 bits; for analog output it is the value
// written.
type SingleIOResult struct {
	IOType  IOType
	Channel byte
	Dir     byte
	State   byte
	Raw     float64
}

// SingleIO performs one digital or analog operation.
func (s *Session) SingleIO(req SingleIORequest) (*SingleIOResult, error) {
	body := make([]byte, singleIOLength-2)
	body[0] = byte(req.IOType)
	body[1] = req.Channel
	switch req.IOType {
	case IODigitalBitWrite, IODigitalPortWrite:
		body[2] = req.Dir
		body[3] = req.State
	case IOAnalogIn:
		body[2] = byte(req.Gain)
		body[3] = req.Resolution
		body[4] = req.SettlingTime
	case IOAnalogOut:
		body[2] = byte(req.DAC)
		body[3] = byte(req.DAC>>8) & 0xf
	case IODigitalBitRead, IODigitalPortRead:
	default:
		return nil, fmt.Errorf("invalid IOType %d", req.IOType)
	}
	echo := Echo{Length: singleIOLength, Bytes: []byte{replySingleIO, byte(req.IOType), req.Channel}}
	resp, err := s.transact("SingleIO", EncodeNormal(normalSingleIO, body), echo, false)
	if err != nil {
		return nil, err
	}
	res := &SingleIOResult{IOType: IOType(resp[2]), Channel: resp[3]}
	switch res.IOType {
	case IOAnalogIn:
		res.Raw = float64(uint32(resp[6])<<16|uint32(resp[5])<<8|uint32(resp[4])) / 256
	case IOAnalogOut:
		res.Raw = float64(uint32(resp[6])<<16 | uint32(resp[5])<<8 | uint32(resp[4]))
	default:
		res.Dir = resp[4]
		res.State = resp[5]
	}
	return res, nil
}

// ReadAnalogInput reads one analog input and returns the calibrated
// voltage.
func (s *Session) ReadAnalogInput(channel byte, gain Gain, resolution, settling byte) (float64, error) {
	res, err := s.SingleIO(SingleIORequest{
		IOType:       IOAnalogIn,
		Channel:      channel,
		Gain:         gain,
		Resolution:   resolution,
		SettlingTime: settling,
	})
	if err != nil {
		return 0, err
	}
	return s.Calibration().ToVoltage(res.Raw, gain, int(resolution)), nil
}

// SingleRead returns the calibrated voltage of one analog input. It uses the
// gain and resolution of the configured stream when the channel is part of
// it, otherwise unipolar gain 1 at 12 bits.
func (s *Session) SingleRead(channel byte) (float64, error) {
	gain, resolution, settling := GainUni1, byte(12), byte(0)
	if s.stream != nil {
		for _, ch := range s.stream.cfg.Channels {
			if ch.Channel == channel {
				gain = ch.Gain
				resolution = s.stream.cfg.Resolution
				settling = s.stream.cfg.SettlingTime
				break
			}
		}
	}
	return s.ReadAnalogInput(channel, gain, resolution, settling)
}

// Temperature returns the internal temperature sensor reading in kelvin.
func (s *Session) Temperature() (float64, error) {
	res, err := s.SingleIO(SingleIORequest{
		IOType:     IOAnalogIn,
		Channel:    ChannelTemperature,
		Gain:       GainUni1,
		Resolution: 12,
	})
	if err != nil {
		return 0, err
	}
	return s.Calibration().ToTemperature(res.Raw), nil
}

// SetDAC sets analog output dac (0 or 1) to the given voltage using the
// calibrated DAC slope and offset.
func (s *Session) SetDAC(dac int, volts float64) error {
	if dac != 0 && dac != 1 {
		return fmt.Errorf("invalid DAC %d", dac)
	}
	_, err := s.SingleIO(SingleIORequest{
		IOType:  IOAnalogOut,
		Channel: byte(dac),
		DAC:     s.Calibration().VoltageToDACBits(volts, dac),
	})
	return err
}
