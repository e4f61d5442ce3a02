// Copyright (c) 2016-2026 The labjack developers. All rights reserved.
// Project site: https://github.com/gotmc/labjack
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package ue9

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the driver configuration as read from a YAML file.
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Log       LogConfig       `yaml:"log"`
	Timing    TimingConfig    `yaml:"timing"`
	Stream    StreamConfig    `yaml:"stream"`
}

// TransportConfig selects and addresses the link to the device.
type TransportConfig struct {
	Kind         string `yaml:"kind"` // usb, serial or tcp
	Address      string `yaml:"address"`
	DataPort     int    `yaml:"data_port"`
	StreamPort   int    `yaml:"stream_port"`
	SerialPort   string `yaml:"serial_port"`
	BaudRate     int    `yaml:"baud_rate"`
	SerialNumber string `yaml:"serial_number"`
}

// TimingConfig holds the Session timeouts and stream timing policy.
type TimingConfig struct {
	// CommandTimeout bounds each command/response transaction.
	CommandTimeout time.Duration `yaml:"command_timeout"`
	// StreamReadTimeout bounds each read made by NextBlock.
	StreamReadTimeout time.Duration `yaml:"stream_read_timeout"`
	// ReassemblyMaxWait is how long a partial group of stream packets on a
	// byte-stream link may wait before the whole packets buffered so far
	// are emitted in multiples of four.
	ReassemblyMaxWait time.Duration `yaml:"reassembly_max_wait"`
	// DelayOffset is added to every sample block timestamp.
	DelayOffset time.Duration `yaml:"delay_offset"`
	// DrainReads bounds the read loop that clears stale stream data.
	DrainReads int `yaml:"drain_reads"`
}

// DefaultTimingConfig returns the timing used when none is configured.
func DefaultTimingConfig() TimingConfig {
	return TimingConfig{
		CommandTimeout:    defaultTimeout * time.Millisecond,
		StreamReadTimeout: 100 * time.Millisecond,
		ReassemblyMaxWait: 1100 * time.Millisecond,
		DrainReads:        clearDataReads,
	}
}

// withDefaults fills zero fields from DefaultTimingConfig. DelayOffset may
// legitimately be zero and is left alone.
func (t TimingConfig) withDefaults() TimingConfig {
	d := DefaultTimingConfig()
	if t.CommandTimeout <= 0 {
		t.CommandTimeout = d.CommandTimeout
	}
	if t.StreamReadTimeout <= 0 {
		t.StreamReadTimeout = d.StreamReadTimeout
	}
	if t.ReassemblyMaxWait <= 0 {
		t.ReassemblyMaxWait = d.ReassemblyMaxWait
	}
	if t.DrainReads <= 0 {
		t.DrainReads = d.DrainReads
	}
	return t
}

// DefaultConfig returns a configuration for the first UE9 on USB streaming
// AIN0 at 100 Hz.
func DefaultConfig() *Config {
	return &Config{
		Transport: TransportConfig{
			Kind:       "usb",
			DataPort:   DataPort,
			StreamPort: StreamPort,
			BaudRate:   defaultBaudRate,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Timing: DefaultTimingConfig(),
		Stream: StreamConfig{
			Channels:      []StreamChannel{{Channel: 0, Gain: GainUni1}},
			Resolution:    12,
			ScanFrequency: 100,
		},
	}
}

// LoadConfig reads and parses the YAML file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML data on top of DefaultConfig, so omitted fields
// keep their defaults.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if _, err := ParseTransportKind(cfg.Transport.Kind); err != nil {
		return nil, err
	}
	cfg.Timing = cfg.Timing.withDefaults()
	return cfg, nil
}
