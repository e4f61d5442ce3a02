// Copyright (c) 2016-2026 The labjack developers. All rights reserved.
// Project site: https://github.com/gotmc/labjack
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package ue9

import "fmt"

// command is the extended command number carried in byte 3 of an extended
// frame.
type command byte

// Extended commands
const (
	// Comm processor commands (header byte 0x78)
	commandCommConfig command = 0x01
	commandDiscovery  command = 0xA9
	// Control processor commands (header byte 0xF8)
	commandFeedback      command = 0x00
	commandControlConfig command = 0x08
	commandWatchdog      command = 0x09
	commandDefaults      command = 0x0E
	commandStreamConfig  command = 0x11
	commandAsynchConfig  command = 0x14
	commandAsynchTX      command = 0x15
	commandAsynchRX      command = 0x16
	commandTimerCounter  command = 0x18
	commandWriteMem      command = 0x28
	commandEraseMem      command = 0x29
	commandReadMem       command = 0x2A
	commandSHT1x         command = 0x39
	commandSPI           command = 0x3A
	commandI2C           command = 0x3B
)

// commands names each command in logs, errors and metric labels.
var commands = map[command]string{
	commandCommConfig:    "CommConfig",
	commandDiscovery:     "Discovery",
	commandFeedback:      "Feedback",
	commandControlConfig: "ControlConfig",
	commandWatchdog:      "Watchdog",
	commandDefaults:      "Defaults",
	commandStreamConfig:  "StreamConfig",
	commandAsynchConfig:  "AsynchConfig",
	commandAsynchTX:      "AsynchTX",
	commandAsynchRX:      "AsynchRX",
	commandTimerCounter:  "TimerCounter",
	commandWriteMem:      "WriteMem",
	commandEraseMem:      "EraseMem",
	commandReadMem:       "ReadMem",
	commandSHT1x:         "SHT1x",
	commandSPI:           "SPI",
	commandI2C:           "I2C",
}

func (c command) String() string {
	if s, ok := commands[c]; ok {
		return s
	}
	return fmt.Sprintf("command 0x%02x", byte(c))
}

// header returns byte 1 of the extended frame for the command. Commands
// handled by the comm processor use 0x78, everything else 0xF8.
func (c command) header() byte {
	switch c {
	case commandCommConfig, commandDiscovery:
		return headerComm
	}
	return headerControl
}

const (
	headerComm    byte = 0x78
	headerControl byte = 0xF8
)

// Normal (non-extended) commands. The command byte is byte 1 of the frame.
const (
	normalFlushBuffer byte = 0x08
	normalSingleIO    byte = 0xA3
	normalStreamStart byte = 0xA8
	normalStreamStop  byte = 0xB0
)

// Normal response command bytes.
const (
	replyFlushBuffer byte = 0x08
	replySingleIO    byte = 0xA3
	replyStreamStart byte = 0xA9
	replyStreamStop  byte = 0xB1
)

// Stream data packets are extended frames with these identifying bytes.
const (
	streamPacketB1 byte = 0xF9
	streamPacketB2 byte = 0x14
	streamPacketB3 byte = 0xC0
)

// IOType selects the operation performed by SingleIO.
type IOType byte

// Available IOTypes
const (
	IODigitalBitRead   IOType = 0
	IODigitalBitWrite  IOType = 1
	IODigitalPortRead  IOType = 2
	IODigitalPortWrite IOType = 3
	IOAnalogIn         IOType = 4
	IOAnalogOut        IOType = 5
)

var ioTypes = map[IOType]string{
	IODigitalBitRead:   "Digital bit read",
	IODigitalBitWrite:  "Digital bit write",
	IODigitalPortRead:  "Digital port read",
	IODigitalPortWrite: "Digital port write",
	IOAnalogIn:         "Analog input",
	IOAnalogOut:        "Analog output",
}

func (t IOType) String() string {
	return ioTypes[t]
}
