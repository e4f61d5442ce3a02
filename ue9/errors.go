// Copyright (c) 2016-2026 The labjack developers. All rights reserved.
// Project site: https://github.com/gotmc/labjack
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package ue9

import (
	"errors"
	"fmt"
)

// TimeoutError is returned when a transport read delivers no bytes, or
// fewer than the expected number, before the deadline.
type TimeoutError struct {
	Op   string
	Got  int
	Want int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out: got %d of %d bytes", e.Op, e.Got, e.Want)
}

// ChecksumError is returned when a response fails checksum validation or
// the device reports that it received a command with a bad checksum.
type ChecksumError struct {
	Got8           byte
	Want8          byte
	Got16          uint16
	Want16         uint16
	DeviceReported bool
}

func (e *ChecksumError) Error() string {
	if e.DeviceReported {
		return "device detected a bad checksum"
	}
	return fmt.Sprintf("checksum mismatch: checksum8 0x%02x want 0x%02x, checksum16 0x%04x want 0x%04x",
		e.Got8, e.Want8, e.Got16, e.Want16)
}

// EchoMismatchError is returned when a response does not echo the command
// identifying bytes that were sent.
type EchoMismatchError struct {
	Want []byte
	Got  []byte
}

func (e *EchoMismatchError) Error() string {
	return fmt.Sprintf("incorrect command bytes: want % x, got % x", e.Want, e.Got)
}

// DeviceError is returned when the device answers with a non-zero
// low-level error code.
type DeviceError struct {
	Command string
	Code    byte
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s returned error %s (%d)", e.Command, e.Name(), e.Code)
}

// Name returns the symbolic name of the error code.
func (e *DeviceError) Name() string {
	if s, ok := errorCodes[e.Code]; ok {
		return s
	}
	return "UNKNOWN_ERROR"
}

// StateError is returned when an operation is invoked in a stream state
// that does not permit it. It signals a programming error.
type StateError struct {
	Op    string
	State StreamState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s not allowed while %s", e.Op, e.State)
}

// FramingError is returned when a buffer is not the size its framing
// requires, for example a packetized link that delivered a partial stream
// packet.
type FramingError struct {
	Got        int
	PacketSize int
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing error: got %d bytes, want a multiple of %d", e.Got, e.PacketSize)
}

// IsTimeout reports whether err is, or wraps, a TimeoutError.
func IsTimeout(err error) bool {
	var t *TimeoutError
	return errors.As(err, &t)
}

// IsRetryable reports whether the failed transaction may be retried by the
// caller. Timeouts, checksum failures and echo mismatches are retryable;
// device rejections and state errors are not.
func IsRetryable(err error) bool {
	var (
		t *TimeoutError
		c *ChecksumError
		e *EchoMismatchError
	)
	return errors.As(err, &t) || errors.As(err, &c) || errors.As(err, &e)
}

// Device low-level error codes.
const (
	errStreamIsActive   byte = 48
	errStreamNotRunning byte = 52
)

var errorCodes = map[byte]string{
	1:   "SCRATCH_WRT_FAIL",
	2:   "SCRATCH_ERASE_FAIL",
	3:   "DATA_BUFFER_OVERFLOW",
	4:   "ADC0_BUFFER_OVERFLOW",
	5:   "FUNCTION_INVALID",
	6:   "SWDT_TIME_INVALID",
	7:   "XBR_CONFIG_ERROR",
	16:  "FLASH_WRITE_FAIL",
	17:  "FLASH_ERASE_FAIL",
	18:  "FLASH_JMP_FAIL",
	19:  "FLASH_PSP_TIMEOUT",
	20:  "FLASH_ABORT_RECEIVED",
	21:  "FLASH_PAGE_MISMATCH",
	22:  "FLASH_BLOCK_MISMATCH",
	23:  "FLASH_PAGE_NOT_IN_CODE_AREA",
	24:  "MEM_ILLEGAL_ADDRESS",
	25:  "FLASH_LOCKED",
	26:  "INVALID_BLOCK",
	27:  "FLASH_ILLEGAL_PAGE",
	28:  "FLASH_TOO_MANY_BYTES",
	29:  "FLASH_INVALID_STRING_NUM",
	40:  "SHT1x_COMM_TIME_OUT",
	41:  "SHT1x_NO_ACK",
	42:  "SHT1x_CRC_FAILED",
	43:  "SHT1x_TOO_MANY_W_BYTES",
	44:  "SHT1x_TOO_MANY_R_BYTES",
	45:  "SHT1x_INVALID_MODE",
	46:  "SHT1x_INVALID_LINE",
	48:  "STREAM_IS_ACTIVE",
	49:  "STREAM_TABLE_INVALID",
	50:  "STREAM_CONFIG_INVALID",
	52:  "STREAM_NOT_RUNNING",
	53:  "STREAM_INVALID_TRIGGER",
	54:  "STREAM_ADC0_BUFFER_OVERFLOW",
	55:  "STREAM_SCAN_OVERLAP",
	56:  "STREAM_SAMPLE_NUM_INVALID",
	57:  "STREAM_BIPOLAR_GAIN_INVALID",
	58:  "STREAM_SCAN_RATE_INVALID",
	59:  "STREAM_AUTORECOVER_ACTIVE",
	60:  "STREAM_AUTORECOVER_REPORT",
	63:  "STREAM_AUTORECOVER_OVERFLOW",
	64:  "TIMER_INVALID_MODE",
	65:  "TIMER_QUADRATURE_AB_ERROR",
	66:  "TIMER_QUAD_PULSE_SEQUENCE",
	67:  "TIMER_BAD_CLOCK_SOURCE",
	68:  "TIMER_STREAM_ACTIVE",
	69:  "TIMER_PWMSTOP_MODULE_ERROR",
	70:  "TIMER_SEQUENCE_ERROR",
	71:  "TIMER_LINE_SEQUENCE_ERROR",
	72:  "TIMER_SHARING_ERROR",
	80:  "EXT_OSC_NOT_STABLE",
	81:  "INVALID_POWER_SETTING",
	82:  "PLL_NOT_LOCKED",
	96:  "INVALID_PIN",
	97:  "PIN_CONFIGURED_FOR_ANALOG",
	98:  "PIN_CONFIGURED_FOR_DIGITAL",
	99:  "IOTYPE_SYNCH_ERROR",
	100: "INVALID_OFFSET",
	101: "IOTYPE_NOT_VALID",
	102: "TC_PIN_OFFSET_MUST_BE_4-8",
}

// errorKind is the metrics label for a transaction failure.
func errorKind(err error) string {
	var (
		t *TimeoutError
		c *ChecksumError
		e *EchoMismatchError
		d *DeviceError
		f *FramingError
		s *StateError
	)
	switch {
	case errors.As(err, &t):
		return "timeout"
	case errors.As(err, &c):
		return "checksum"
	case errors.As(err, &e):
		return "echo"
	case errors.As(err, &d):
		return "device"
	case errors.As(err, &f):
		return "framing"
	case errors.As(err, &s):
		return "state"
	}
	return "transport"
}
