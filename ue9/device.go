// Copyright (c) 2016-2026 The labjack developers. All rights reserved.
// Project site: https://github.com/gotmc/labjack
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package ue9

import (
	"fmt"
	"time"

	"github.com/gotmc/libusb"
	"github.com/sirupsen/logrus"
)

// Options configures a Session.
type Options struct {
	Logger      logrus.FieldLogger
	Metrics     *Metrics
	Timing      TimingConfig
	Calibration *CalibrationTable
}

// Session owns one Transport and all per-device state: stream state,
// reassembly buffer, calibration and cached identity. A Session is not safe
// for concurrent use.
type Session struct {
	t       Transport
	policy  StreamPolicy
	log     logrus.FieldLogger
	metrics *Metrics
	timing  TimingConfig
	cal     *CalibrationTable
	usbCtx  *libusb.Context

	deviceName string
	hiRes      bool
	comm       *CommInfo
	control    *ControlInfo

	state  StreamState
	stream *streamSetup
	// Stream bytes received but not yet emitted as whole packets.
	pending    []byte
	groupStart time.Time
	position   int
	scanIndex  int64
	startedAt  time.Time
}

// NewSession creates a Session on an open transport.
func NewSession(t Transport, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	cal := opts.Calibration
	if cal == nil {
		cal = DefaultCalibration()
	}
	policy := t.Policy()
	s := &Session{
		t:          t,
		policy:     policy,
		log:        logger.WithField("transport", policy.Kind.String()),
		metrics:    opts.Metrics,
		timing:     opts.Timing.withDefaults(),
		cal:        cal,
		deviceName: "UE9",
		state:      StateIdle,
	}
	return s
}

// Connect opens the transport described by cfg, reads the device identity
// and loads calibration. A device whose calibration cannot be read keeps the
// nominal table.
func Connect(cfg *Config, opts Options) (*Session, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = NewLogger(cfg.Log)
	}
	if opts.Timing == (TimingConfig{}) {
		opts.Timing = cfg.Timing
	}
	kind, err := ParseTransportKind(cfg.Transport.Kind)
	if err != nil {
		return nil, err
	}
	var (
		t      Transport
		usbCtx *libusb.Context
	)
	switch kind {
	case KindUSB:
		usbCtx, err = InitUSB()
		if err != nil {
			return nil, fmt.Errorf("couldn't create USB context: %w", err)
		}
		var u *USBTransport
		if cfg.Transport.SerialNumber != "" {
			u, err = OpenUSBViaSN(usbCtx, cfg.Transport.SerialNumber)
		} else {
			u, err = OpenFirstUSB(usbCtx)
		}
		if err != nil {
			usbCtx.Close()
			return nil, err
		}
		t = u
	case KindSerial:
		t, err = OpenSerial(cfg.Transport.SerialPort, cfg.Transport.BaudRate)
		if err != nil {
			return nil, err
		}
	case KindTCP:
		t, err = DialTCP(cfg.Transport.Address, cfg.Transport.DataPort, cfg.Transport.StreamPort)
		if err != nil {
			return nil, err
		}
	}
	s := NewSession(t, opts)
	s.usbCtx = usbCtx
	if err := s.identify(); err != nil {
		s.Close()
		return nil, err
	}
	if opts.Calibration == nil {
		if _, err := s.LoadCalibration(); err != nil {
			s.log.WithError(err).Warn("using nominal calibration")
		}
	}
	return s, nil
}

// identify reads the comm and control configuration without writing
// anything, caching the device name and identifiers.
func (s *Session) identify() error {
	if _, err := s.CommConfig(nil); err != nil {
		return fmt.Errorf("error reading comm config: %w", err)
	}
	if _, err := s.ControlConfig(nil); err != nil {
		return fmt.Errorf("error reading control config: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"name":   s.deviceName,
		"serial": s.SerialNumber(),
	}).Info("connected")
	return nil
}

// Close stops any active stream and closes the transport.
func (s *Session) Close() error {
	if s.state == StateStreaming {
		if err := s.StreamStop(false); err != nil {
			s.log.WithError(err).Warn("error stopping stream on close")
		}
	}
	err := s.t.Close()
	if s.usbCtx != nil {
		s.usbCtx.Close()
		s.usbCtx = nil
	}
	return err
}

// Policy returns the stream policy of the Session's transport.
func (s *Session) Policy() StreamPolicy {
	return s.policy
}

// DeviceName returns "UE9" or "UE9-Pro" once the control configuration has
// been read.
func (s *Session) DeviceName() string {
	return s.deviceName
}

// HiRes reports whether the device has the high resolution converter.
func (s *Session) HiRes() bool {
	return s.hiRes
}

// SerialNumber returns the serial number from the last comm config read, or
// zero if it has not been read.
func (s *Session) SerialNumber() uint32 {
	if s.comm == nil {
		return 0
	}
	return s.comm.SerialNumber
}

// CommInfo returns the last comm configuration read from the device.
func (s *Session) CommInfo() *CommInfo {
	return s.comm
}

// ControlInfo returns the last control configuration read from the device.
func (s *Session) ControlInfo() *ControlInfo {
	return s.control
}

// State returns the stream state.
func (s *Session) State() StreamState {
	return s.state
}

// requireNotStreaming guards every configuration transaction.
func (s *Session) requireNotStreaming(op string) error {
	if s.state == StateStreaming {
		return &StateError{Op: op, State: s.state}
	}
	return nil
}

// transact writes cmd, reads exactly echo.Length bytes and decodes them. If
// checkError is set, a non-zero byte 6 is returned as a *DeviceError.
func (s *Session) transact(name string, cmd Frame, echo Echo, checkError bool) (Frame, error) {
	if err := s.requireNotStreaming(name); err != nil {
		return nil, err
	}
	return s.roundTrip(name, cmd, echo, checkError, 6)
}

func (s *Session) roundTrip(name string, cmd Frame, echo Echo, checkError bool, errorByte int) (resp Frame, err error) {
	start := time.Now()
	defer func() {
		s.metrics.observeTransaction(name, start, err)
		if err != nil {
			s.log.WithError(err).WithField("command", name).Debug("transaction failed")
		}
	}()
	s.log.Debugf("%s: sent % x", name, []byte(cmd))
	if err = s.t.Write(cmd); err != nil {
		return nil, err
	}
	raw, err := readFull(s.t, echo.Length, s.timing.CommandTimeout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	s.log.Debugf("%s: received % x", name, raw)
	resp, err = Decode(raw, echo)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if checkError && resp[errorByte] != 0 {
		return nil, &DeviceError{Command: name, Code: resp[errorByte]}
	}
	return resp, nil
}
