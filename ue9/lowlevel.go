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
	maxSPIBytes      = 240
	maxI2CBytes      = 240
	maxAsynchTXBytes = 254
	asynchRXLength   = 40
	asynchConfigLen  = 10
	sht1xResponseLen = 16
	uartClockHz      = 48000000
)

// SPIMode is the clock polarity and phase.
type SPIMode byte

// Available SPI modes
const (
	SPIModeA SPIMode = 0 // CPOL 0, CPHA 0
	SPIModeB SPIMode = 1 // CPOL 0, CPHA 1
	SPIModeC SPIMode = 2 // CPOL 1, CPHA 0
	SPIModeD SPIMode = 3 // CPOL 1, CPHA 1
)

// SPIRequest describes one SPI transfer.
type SPIRequest struct {
	Bytes            []byte
	AutoCS           bool
	DisableDirConfig bool
	Mode             SPIMode
	ClockFactor      byte
	CSPin            byte
	CLKPin           byte
	MISOPin          byte
	MOSIPin          byte
}

// DefaultSPIRequest returns a request for bytes using automatic chip
// select on FIO1, clock on FIO0, MISO on FIO3 and MOSI on FIO2.
func DefaultSPIRequest(bytes []byte) SPIRequest {
	return SPIRequest{
		Bytes:   bytes,
		AutoCS:  true,
		CSPin:   1,
		CLKPin:  0,
		MISOPin: 3,
		MOSIPin: 2,
	}
}

// SPI writes req.Bytes and returns the bytes clocked in.
func (s *Session) SPI(req SPIRequest) ([]byte, error) {
	n := len(req.Bytes)
	if n == 0 || n > maxSPIBytes {
		return nil, fmt.Errorf("SPI transfer must be 1 to %d bytes, got %d", maxSPIBytes, n)
	}
	padded := n + n%2
	p := make([]byte, 8+padded)
	if req.AutoCS {
		p[0] |= 1 << 7
	}
	if req.DisableDirConfig {
		p[0] |= 1 << 6
	}
	p[0] |= byte(req.Mode) & 0x3
	p[1] = req.ClockFactor
	p[3] = req.CSPin
	p[4] = req.CLKPin
	p[5] = req.MISOPin
	p[6] = req.MOSIPin
	p[7] = byte(n)
	copy(p[8:], req.Bytes)
	resp, err := s.transact(commandSPI.String(),
		Encode(commandSPI, p),
		extendedEcho(commandSPI, 8+padded), true)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), resp[8:8+n]...), nil
}

// I2CRequest describes one I2C transaction.
type I2CRequest struct {
	// Address is the 7-bit address; it is shifted left on the wire.
	Address               byte
	Bytes                 []byte
	NumBytesToReceive     int
	EnableClockStretching bool
	NoStopWhenRestarting  bool
	ResetAtStart          bool
	SpeedAdjust           byte
	SDAPin                byte
	SCLPin                byte
}

// I2CResult is the acknowledgement array and received bytes.
type I2CResult struct {
	Acks  [4]byte
	Bytes []byte
}

// I2C sends req.Bytes to the device at req.Address and reads back
// req.NumBytesToReceive bytes.
func (s *Session) I2C(req I2CRequest) (*I2CResult, error) {
	n := len(req.Bytes)
	if n > maxI2CBytes || req.NumBytesToReceive < 0 || req.NumBytesToReceive > maxI2CBytes {
		return nil, fmt.Errorf("I2C transfer too large: send %d, receive %d", n, req.NumBytesToReceive)
	}
	padded := n + n%2
	p := make([]byte, 8+padded)
	if req.ResetAtStart {
		p[0] |= 1 << 1
	}
	if req.NoStopWhenRestarting {
		p[0] |= 1 << 2
	}
	if req.EnableClockStretching {
		p[0] |= 1 << 3
	}
	p[1] = req.SpeedAdjust
	p[2] = req.SDAPin
	p[3] = req.SCLPin
	p[4] = req.Address << 1
	p[6] = byte(n)
	p[7] = byte(req.NumBytesToReceive)
	copy(p[8:], req.Bytes)
	recv := req.NumBytesToReceive + req.NumBytesToReceive%2
	resp, err := s.transact(commandI2C.String(),
		Encode(commandI2C, p),
		extendedEcho(commandI2C, 12+recv), true)
	if err != nil {
		return nil, err
	}
	res := &I2CResult{Bytes: append([]byte(nil), resp[12:12+req.NumBytesToReceive]...)}
	copy(res.Acks[:], resp[8:12])
	return res, nil
}

// AsynchConfigResult is the UART configuration reported by the device.
type AsynchConfigResult struct {
	Update     bool
	UARTEnable bool
	BaudFactor uint16
}

// BaudFactor returns the UART baud factor for a desired baud rate.
func BaudFactor(baud int) uint16 {
	if baud <= 0 {
		return 0
	}
	return uint16(65536 - uartClockHz/(2*baud))
}

// AsynchConfig configures the UART. When update is false the current
// configuration is only read.
func (s *Session) AsynchConfig(update, enable bool, baud int) (*AsynchConfigResult, error) {
	p := make([]byte, asynchConfigLen-extendedHeaderSize)
	if update {
		p[1] |= 1 << 7
	}
	if enable {
		p[1] |= 1 << 6
	}
	binary.LittleEndian.PutUint16(p[2:4], BaudFactor(baud))
	resp, err := s.transact(commandAsynchConfig.String(),
		Encode(commandAsynchConfig, p),
		extendedEcho(commandAsynchConfig, asynchConfigLen), true)
	if err != nil {
		return nil, err
	}
	return &AsynchConfigResult{
		Update:     resp[7]>>7&1 == 1,
		UARTEnable: resp[7]>>6&1 == 1,
		BaudFactor: binary.LittleEndian.Uint16(resp[8:10]),
	}, nil
}

// AsynchTX queues bytes for transmission on the UART. It returns the number
// of bytes sent and the number waiting in the receive buffer.
func (s *Session) AsynchTX(bytes []byte) (sent, inRX int, err error) {
	n := len(bytes)
	if n > maxAsynchTXBytes {
		return 0, 0, fmt.Errorf("too many UART bytes: %d", n)
	}
	padded := n + n%2
	p := make([]byte, 2+padded)
	p[1] = byte(n)
	copy(p[2:], bytes)
	resp, err := s.transact(commandAsynchTX.String(),
		Encode(commandAsynchTX, p),
		extendedEcho(commandAsynchTX, asynchConfigLen), true)
	if err != nil {
		return 0, 0, err
	}
	return int(resp[7]), int(resp[8]), nil
}

// AsynchRX returns the oldest 32 bytes of the UART receive buffer and the
// number of bytes that were in it.
func (s *Session) AsynchRX(flush bool) ([]byte, int, error) {
	p := make([]byte, 2)
	if flush {
		p[1] = 1
	}
	resp, err := s.transact(commandAsynchRX.String(),
		Encode(commandAsynchRX, p),
		extendedEcho(commandAsynchRX, asynchRXLength), true)
	if err != nil {
		return nil, 0, err
	}
	return append([]byte(nil), resp[8:asynchRXLength]...), int(resp[7]), nil
}

// SHT1xResult is a Sensirion SHT1X reading. Temperature is in degrees
// Celsius, Humidity in percent relative humidity.
type SHT1xResult struct {
	StatusReg      byte
	StatusCRC      byte
	Temperature    float64
	TemperatureCRC byte
	Humidity       float64
	HumidityCRC    byte
}

// SHT1x reads a Sensirion SHT1X temperature/humidity sensor. Options bit 7
// reads temperature, bit 6 humidity, bit 2 enables the heater and bit 0
// selects low resolution.
func (s *Session) SHT1x(dataPin, clockPin, options byte) (*SHT1xResult, error) {
	p := []byte{dataPin, clockPin, 0, options}
	resp, err := s.transact(commandSHT1x.String(),
		Encode(commandSHT1x, p),
		extendedEcho(commandSHT1x, sht1xResponseLen), true)
	if err != nil {
		return nil, err
	}
	rawT := float64(uint16(resp[11])<<8 | uint16(resp[10]))
	temp := -39.60 + 0.01*rawT
	rawH := float64(uint16(resp[14])<<8 | uint16(resp[13]))
	humid := -4 + 0.0405*rawH - 0.0000028*rawH*rawH
	humid = (temp-25)*(0.01+0.00008*rawH) + humid
	return &SHT1xResult{
		StatusReg:      resp[8],
		StatusCRC:      resp[9],
		Temperature:    temp,
		TemperatureCRC: resp[12],
		Humidity:       humid,
		HumidityCRC:    resp[15],
	}, nil
}
