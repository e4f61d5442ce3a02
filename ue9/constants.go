// Copyright (c) 2016-2026 The labjack developers. All rights reserved.
// Project site: https://github.com/gotmc/labjack
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package ue9

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

const (
	vendorID       = 0x0cd5
	productID      = 0x0009
	defaultTimeout = 2000 // ms
	numAINChannels = 14
	numFeedbackAIN = 16
	memBlockSize   = 128
	numMemBlocks   = 8
	dacMaxBits     = 0x0FFF
)

// Network ports used by the UE9.
const (
	DataPort      = 52360
	StreamPort    = 52361
	DiscoveryPort = 52362
)

// Stream packet geometry. A stream packet is a 46-byte extended frame; the
// USB link appends two zero bytes to each packet.
const (
	streamPacketSize    = 46
	usbStreamPacketSize = 48
	streamHeaderSize    = 12
	samplesPerPacket    = 16
	bytesPerSample      = 2
	maxStreamChannels   = 128
	clearDataReads      = 10
)

// Special stream channel numbers.
const (
	ChannelTemperature = 133
	ChannelDigitalFIO  = 193 // FIO/EIO pair
	ChannelDigitalCIO  = 194 // CIO/MIO pair
	channelCounterBase = 200 // channels at or above carry timer/counter words
)

// Gain is the BipGain code selecting the analog input range and polarity.
type Gain byte

// Available gains
const (
	GainUni1 Gain = 0x0 // 0 to 5 V
	GainUni2 Gain = 0x1 // 0 to 2.5 V
	GainUni4 Gain = 0x2 // 0 to 1.25 V
	GainUni8 Gain = 0x3 // 0 to 0.625 V
	GainBip1 Gain = 0x8 // ±5 V
)

// Gains maps the names usable in a JSON or YAML config file to the Gain
// codes.
var Gains = map[string]Gain{
	"uni5V":     GainUni1,
	"uni2.5V":   GainUni2,
	"uni1.25V":  GainUni4,
	"uni0.625V": GainUni8,
	"bip5V":     GainBip1,
}

var gainNames = map[Gain]string{
	GainUni1: "uni5V",
	GainUni2: "uni2.5V",
	GainUni4: "uni1.25V",
	GainUni8: "uni0.625V",
	GainBip1: "bip5V",
}

var gainDescriptions = map[Gain]string{
	GainUni1: "0 to 5V",
	GainUni2: "0 to 2.5V",
	GainUni4: "0 to 1.25V",
	GainUni8: "0 to 0.625V",
	GainBip1: "±5V",
}

func (g Gain) String() string {
	if s, ok := gainDescriptions[g]; ok {
		return s
	}
	return fmt.Sprintf("gain 0x%02x", byte(g))
}

// ParseGain finds the Gain for the given config name.
func ParseGain(s string) (Gain, error) {
	g, ok := Gains[s]
	if !ok {
		return 0, fmt.Errorf("invalid gain %q", s)
	}
	return g, nil
}

// UnmarshalJSON implements the Unmarshaler interface for Gain by taking a
// string that matches a key in the Gains map.
func (g *Gain) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("gain should be a string, got %s", data)
	}
	got, err := ParseGain(s)
	if err != nil {
		return err
	}
	*g = got
	return nil
}

// MarshalJSON implements the Marshaler interface for Gain.
func (g Gain) MarshalJSON() ([]byte, error) {
	s, ok := gainNames[g]
	if !ok {
		return nil, fmt.Errorf("no name for gain 0x%02x", byte(g))
	}
	return json.Marshal(s)
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for Gain.
func (g *Gain) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("gain should be a string, got %s", value.Value)
	}
	got, err := ParseGain(s)
	if err != nil {
		return err
	}
	*g = got
	return nil
}

// MarshalYAML implements the yaml.Marshaler interface for Gain.
func (g Gain) MarshalYAML() (interface{}, error) {
	s, ok := gainNames[g]
	if !ok {
		return nil, fmt.Errorf("no name for gain 0x%02x", byte(g))
	}
	return s, nil
}

// ClockFrequency selects the internal stream clock.
type ClockFrequency byte

// Available stream clocks
const (
	Clock4MHz   ClockFrequency = 0
	Clock48MHz  ClockFrequency = 1
	Clock750kHz ClockFrequency = 2
	Clock24MHz  ClockFrequency = 3
)

var clockHz = map[ClockFrequency]float64{
	Clock4MHz:   4e6,
	Clock48MHz:  48e6,
	Clock750kHz: 750e3,
	Clock24MHz:  24e6,
}

// Hz returns the clock frequency in hertz.
func (f ClockFrequency) Hz() float64 {
	return clockHz[f&0x3]
}

func (f ClockFrequency) String() string {
	switch f & 0x3 {
	case Clock48MHz:
		return "48 MHz"
	case Clock750kHz:
		return "750 kHz"
	case Clock24MHz:
		return "24 MHz"
	}
	return "4 MHz"
}

// PowerLevel is the control processor clock setting.
type PowerLevel byte

// Available power levels
const (
	PowerFixedHigh PowerLevel = 0 // 48 MHz
	PowerFixedLow  PowerLevel = 1 // 6 MHz
)

// TimerClockBase selects the clock used by output mode timers.
type TimerClockBase byte

// Available timer clock bases
const (
	TimerClock750kHz TimerClockBase = 0
	TimerClockSystem TimerClockBase = 1
)
