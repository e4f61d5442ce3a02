// Copyright (c) 2016-2026 The labjack developers. All rights reserved.
// Project site: https://github.com/gotmc/labjack
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package ue9

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	streamConfigResponseLength = 8
	streamStartStopLength      = 4
	clearDataReadSize          = 192
	maxScanInterval            = 65535
	minUndividedScanFrequency  = 11.5
	slowScanFrequency          = 200
	slowPacketsPerRead         = 4
	fastPacketsPerRead         = 8
	// Partial groups are emitted in multiples of this many packets.
	packetGroup = 4
)

// StreamState is the state of the streaming engine.
type StreamState int

// Stream states. StreamStop returns to StateConfigured so a stream can be
// restarted without configuring it again.
const (
	StateIdle StreamState = iota
	StateConfigured
	StateStreaming
)

var streamStates = map[StreamState]string{
	StateIdle:       "idle",
	StateConfigured: "configured",
	StateStreaming:  "streaming",
}

func (s StreamState) String() string {
	if name, ok := streamStates[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// StreamChannel is one entry of the scan list.
type StreamChannel struct {
	Channel byte `json:"channel" yaml:"channel"`
	Gain    Gain `json:"gain" yaml:"gain"`
}

// StreamConfig is the channel list and timing of a stream. When
// ScanFrequency is set the clock, divider and scan interval are derived from
// it; otherwise Clock, DivideBy256 and ScanInterval are used as given.
type StreamConfig struct {
	Channels        []StreamChannel `json:"channels" yaml:"channels"`
	Resolution      byte            `json:"resolution" yaml:"resolution"`
	SettlingTime    byte            `json:"settling_time" yaml:"settling_time"`
	ScanFrequency   float64         `json:"scan_frequency" yaml:"scan_frequency"`
	Clock           ClockFrequency  `json:"clock" yaml:"clock"`
	DivideBy256     bool            `json:"divide_by_256" yaml:"divide_by_256"`
	ScanInterval    uint16          `json:"scan_interval" yaml:"scan_interval"`
	ExternalTrigger bool            `json:"external_trigger" yaml:"external_trigger"`
	ScanPulseOutput bool            `json:"scan_pulse_output" yaml:"scan_pulse_output"`
}

// Validate checks the channel list and timing.
func (c *StreamConfig) Validate() error {
	n := len(c.Channels)
	if n == 0 || n > maxStreamChannels {
		return fmt.Errorf("stream needs 1 to %d channels, got %d", maxStreamChannels, n)
	}
	for i, ch := range c.Channels {
		if _, ok := gainNames[ch.Gain]; !ok {
			return fmt.Errorf("channel %d (index %d) has invalid gain 0x%02x", ch.Channel, i, byte(ch.Gain))
		}
	}
	if c.ScanFrequency < 0 {
		return fmt.Errorf("scan frequency must be positive, got %g", c.ScanFrequency)
	}
	if c.ScanFrequency == 0 && c.ScanInterval == 0 {
		return errors.New("either a scan frequency or a scan interval is required")
	}
	return nil
}

type clockStep struct {
	min   float64
	clock ClockFrequency
}

// The slowest clock that still reaches the requested scan frequency keeps
// the scan interval in range with the finest granularity.
var (
	undividedClocks = []clockStep{
		{733, Clock48MHz},
		{367, Clock24MHz},
		{61.1, Clock4MHz},
		{0, Clock750kHz},
	}
	dividedClocks = []clockStep{
		{2.87, Clock48MHz},
		{1.44, Clock24MHz},
		{0.239, Clock4MHz},
		{0, Clock750kHz},
	}
)

// SelectClock picks the stream clock, divider and scan interval for a scan
// frequency in hertz. The interval is truncated and clamped to 1..65535.
func SelectClock(freq float64) (ClockFrequency, bool, uint16) {
	divide := freq < minUndividedScanFrequency
	steps := undividedClocks
	if divide {
		steps = dividedClocks
	}
	clock := Clock750kHz
	for _, s := range steps {
		if freq >= s.min {
			clock = s.clock
			break
		}
	}
	hz := clock.Hz()
	if divide {
		hz /= 256
	}
	return clock, divide, clampInterval(hz / freq)
}

func clampInterval(v float64) uint16 {
	switch {
	case v > maxScanInterval:
		return maxScanInterval
	case v < 1:
		return 1
	}
	return uint16(v)
}

// ScanRate returns the scan frequency in hertz produced by a clock, divider
// and scan interval.
func ScanRate(clock ClockFrequency, divide bool, interval uint16) float64 {
	hz := clock.Hz()
	if divide {
		hz /= 256
	}
	if interval == 0 {
		interval = 1
	}
	return hz / float64(interval)
}

func packetsPerRead(scanRate float64) int {
	if scanRate < slowScanFrequency {
		return slowPacketsPerRead
	}
	return fastPacketsPerRead
}

// streamSetup is a validated StreamConfig plus everything derived from it.
type streamSetup struct {
	cfg            StreamConfig
	clock          ClockFrequency
	divide         bool
	interval       uint16
	scanRate       float64
	packetsPerRead int
	packetSize     int
}

func newStreamSetup(cfg StreamConfig, policy StreamPolicy) (*streamSetup, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Channels = append([]StreamChannel(nil), cfg.Channels...)
	su := &streamSetup{cfg: cfg, packetSize: policy.PacketSize}
	if cfg.ScanFrequency > 0 {
		su.clock, su.divide, su.interval = SelectClock(cfg.ScanFrequency)
	} else {
		su.clock, su.divide, su.interval = cfg.Clock&0x3, cfg.DivideBy256, cfg.ScanInterval
	}
	su.scanRate = ScanRate(su.clock, su.divide, su.interval)
	su.packetsPerRead = packetsPerRead(su.scanRate)
	return su, nil
}

func (su *streamSetup) payload() []byte {
	n := len(su.cfg.Channels)
	p := make([]byte, 6+2*n)
	p[0] = byte(n)
	p[1] = su.cfg.Resolution
	p[2] = su.cfg.SettlingTime
	p[3] = byte(su.clock) << 3
	if su.divide {
		p[3] |= 0x02
	}
	if su.cfg.ExternalTrigger {
		p[3] |= 0x40
	}
	if su.cfg.ScanPulseOutput {
		p[3] |= 0x80
	}
	p[4] = byte(su.interval)
	p[5] = byte(su.interval >> 8)
	for i, ch := range su.cfg.Channels {
		p[6+2*i] = ch.Channel
		p[7+2*i] = byte(ch.Gain) & 0x0f
	}
	return p
}

// StreamInfo describes the configured stream.
type StreamInfo struct {
	Clock          ClockFrequency
	DivideBy256    bool
	ScanInterval   uint16
	ScanRate       float64
	SampleRate     float64
	PacketsPerRead int
	PacketSize     int
}

// StreamInfo returns the derived timing of the configured stream, or nil
// if no stream has been configured.
func (s *Session) StreamInfo() *StreamInfo {
	if s.stream == nil {
		return nil
	}
	su := s.stream
	return &StreamInfo{
		Clock:          su.clock,
		DivideBy256:    su.divide,
		ScanInterval:   su.interval,
		ScanRate:       su.scanRate,
		SampleRate:     su.scanRate * float64(len(su.cfg.Channels)),
		PacketsPerRead: su.packetsPerRead,
		PacketSize:     su.packetSize,
	}
}

// StreamConfigure sends the stream configuration to the device. It is valid
// in the idle and configured states and moves the Session to configured.
func (s *Session) StreamConfigure(cfg StreamConfig) error {
	name := commandStreamConfig.String()
	if err := s.requireNotStreaming(name); err != nil {
		return err
	}
	su, err := newStreamSetup(cfg, s.policy)
	if err != nil {
		return err
	}
	_, err = s.transact(name,
		Encode(commandStreamConfig, su.payload()),
		extendedEcho(commandStreamConfig, streamConfigResponseLength), true)
	if err != nil {
		return err
	}
	s.stream = su
	s.state = StateConfigured
	s.log.WithFields(logrus.Fields{
		"channels": len(su.cfg.Channels),
		"clock":    su.clock.String(),
		"interval": su.interval,
		"scanRate": su.scanRate,
		"ppr":      su.packetsPerRead,
	}).Info("stream configured")
	return nil
}

// StreamStart empties the device's stream buffer, optionally drains stale
// stream data left on the link, and starts the stream.
func (s *Session) StreamStart(clearData bool) error {
	if s.state != StateConfigured {
		return &StateError{Op: "StreamStart", State: s.state}
	}
	if err := s.flushBuffer(); err != nil {
		return err
	}
	if clearData {
		s.clearStreamData()
	}
	_, err := s.roundTrip("StreamStart",
		EncodeNormal(normalStreamStart, nil),
		normalEcho(replyStreamStart, streamStartStopLength), true, 2)
	if err != nil {
		return err
	}
	s.resetStream()
	s.startedAt = time.Now()
	s.state = StateStreaming
	s.log.Info("stream started")
	return nil
}

// StreamStop stops the stream, empties the device's stream buffer and
// optionally drains stale stream data. A device that reports the stream was
// not running is treated as stopped. The reassembly buffer is always
// discarded.
//
// If the stop fails, including a timeout waiting for the reply, the Session
// stays Streaming and StreamStop may be called again. A device that did
// stop answers the retry with STREAM_NOT_RUNNING, which completes the stop.
func (s *Session) StreamStop(clearData bool) error {
	if s.state != StateStreaming {
		return &StateError{Op: "StreamStop", State: s.state}
	}
	cmd := EncodeNormal(normalStreamStop, nil)
	echo := normalEcho(replyStreamStop, streamStartStopLength)
	var err error
	if s.policy.SharedChannel {
		err = s.stopShared(cmd, echo)
	} else {
		_, err = s.roundTrip("StreamStop", cmd, echo, true, 2)
	}
	var de *DeviceError
	if err != nil && !(errors.As(err, &de) && de.Code == errStreamNotRunning) {
		return err
	}
	s.state = StateConfigured
	s.resetStream()
	if err := s.flushBuffer(); err != nil {
		return err
	}
	if clearData {
		s.clearStreamData()
	}
	s.log.Info("stream stopped")
	return nil
}

// stopShared sends the stop command on a link that carries stream data and
// responses together, scanning the incoming bytes for the stop reply.
func (s *Session) stopShared(cmd Frame, echo Echo) (err error) {
	start := time.Now()
	defer func() { s.metrics.observeTransaction("StreamStop", start, err) }()
	if err = s.t.Write(cmd); err != nil {
		return err
	}
	deadline := start.Add(s.timing.CommandTimeout)
	var buf []byte
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return &TimeoutError{Op: "StreamStop", Want: echo.Length}
		}
		p, rerr := s.t.ReadStream(s.policy.PacketSize, remaining)
		if rerr != nil {
			return rerr
		}
		buf = append(buf, p...)
		for i := 0; i+echo.Length <= len(buf); i++ {
			if buf[i+1] != replyStreamStop {
				continue
			}
			resp, derr := Decode(buf[i:i+echo.Length], echo)
			if derr != nil {
				continue
			}
			if resp[2] != 0 {
				return &DeviceError{Command: "StreamStop", Code: resp[2]}
			}
			return nil
		}
		if keep := echo.Length - 1; len(buf) > keep {
			buf = buf[len(buf)-keep:]
		}
	}
}

// clearStreamData reads and discards stream data until the link is quiet,
// for at most DrainReads reads.
func (s *Session) clearStreamData() {
	if err := s.t.Flush(); err != nil {
		s.log.WithError(err).Debug("flush failed")
	}
	for i := 0; i < s.timing.DrainReads; i++ {
		p, err := s.t.ReadStream(clearDataReadSize, s.timing.StreamReadTimeout)
		if err != nil {
			s.log.WithError(err).Debug("clearing stream data")
			return
		}
		if len(p) == 0 {
			return
		}
		if len(p) == clearDataReadSize && allZero(p) {
			return
		}
		if len(p) < clearDataReadSize && !s.policy.ByteStream {
			return
		}
	}
}

func (s *Session) resetStream() {
	s.pending = nil
	s.groupStart = time.Time{}
	s.position = 0
	s.scanIndex = 0
}

// SampleBlock is one decoded read of stream packets. Analog values are
// calibrated volts keyed by channel number; Digital holds the two port
// bytes of channels 193 and 194; Counter holds the raw words of timer and
// counter channels.
type SampleBlock struct {
	NumPackets int `json:"num_packets"`
	// Errors is the number of packets whose error byte was non-zero.
	Errors      int                `json:"errors"`
	FirstPacket byte               `json:"first_packet"`
	Raw         []byte             `json:"-"`
	Analog      map[byte][]float64 `json:"analog,omitempty"`
	Digital     map[byte][][2]byte `json:"digital,omitempty"`
	Counter     map[byte][]uint16  `json:"counter,omitempty"`
	ScanIndex   int64              `json:"scan_index"`
	Timestamp   time.Time          `json:"timestamp"`
}

// NextBlock reads the next block of stream packets. It returns (nil, nil)
// when no complete block is available yet; that is not an error and the
// caller should simply poll again. No call blocks for longer than the
// stream read timeout.
func (s *Session) NextBlock() (*SampleBlock, error) {
	if s.state != StateStreaming {
		return nil, &StateError{Op: "NextBlock", State: s.state}
	}
	var (
		raw []byte
		err error
	)
	if s.policy.ByteStream {
		raw, err = s.reassemble()
	} else {
		raw, err = s.readPackets()
	}
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		s.metrics.observePending()
		return nil, nil
	}
	block := s.decodeBlock(raw)
	if block == nil {
		s.metrics.observePending()
		return nil, nil
	}
	return block, nil
}

// readPackets reads one batch from a packetized link. A read that is not a
// whole number of packets is a framing error.
func (s *Session) readPackets() ([]byte, error) {
	size := s.stream.packetSize
	raw, err := s.t.ReadStream(size*s.stream.packetsPerRead, s.timing.StreamReadTimeout)
	if err != nil {
		return nil, err
	}
	if len(raw)%size != 0 {
		return nil, &FramingError{Got: len(raw), PacketSize: size}
	}
	return raw, nil
}

// reassemble reads from a byte-stream link into the pending buffer and
// returns whole packets: a full batch when one is buffered, or after
// ReassemblyMaxWait the buffered packets in multiples of four.
func (s *Session) reassemble() ([]byte, error) {
	size := s.stream.packetSize
	want := size * s.stream.packetsPerRead
	if s.groupStart.IsZero() {
		s.groupStart = time.Now()
	}
	if len(s.pending) < want {
		p, err := s.t.ReadStream(want-len(s.pending), s.timing.StreamReadTimeout)
		if err != nil {
			return nil, err
		}
		if len(p) > 0 {
			s.pending = append(s.pending, p...)
		}
	}
	n := len(s.pending) / size
	if n < s.stream.packetsPerRead {
		if time.Since(s.groupStart) <= s.timing.ReassemblyMaxWait {
			return nil, nil
		}
		s.groupStart = time.Time{}
		if n < packetGroup {
			return nil, nil
		}
		n = n / packetGroup * packetGroup
		s.log.WithField("packets", n).Debug("emitting partial group")
	} else {
		n = s.stream.packetsPerRead
	}
	s.groupStart = time.Time{}
	out := append([]byte(nil), s.pending[:n*size]...)
	s.pending = append([]byte(nil), s.pending[n*size:]...)
	return out, nil
}

// isEmptyPacket reports whether p is the all-zero filler the device sends
// when it has no data.
func isEmptyPacket(p []byte) bool {
	return p[1] == 0 && allZero(p)
}

func isStreamPacket(p []byte) bool {
	return p[1] == streamPacketB1 && p[2] == streamPacketB2 && p[3] == streamPacketB3
}

func allZero(p []byte) bool {
	for _, b := range p {
		if b != 0 {
			return false
		}
	}
	return true
}

// decodeBlock splits raw into packets, drops empty ones and decodes the
// samples. It returns nil if every packet was empty.
func (s *Session) decodeBlock(raw []byte) *SampleBlock {
	su := s.stream
	size := su.packetSize
	dataLen := size - s.policy.trailer()
	cal := s.Calibration()
	block := &SampleBlock{ScanIndex: s.scanIndex}
	block.Timestamp = s.startedAt.
		Add(time.Duration(float64(s.scanIndex) / su.scanRate * float64(time.Second))).
		Add(s.timing.DelayOffset)

	kept := make([]byte, 0, len(raw))
	empty := 0
	for off := 0; off+size <= len(raw); off += size {
		p := raw[off : off+size]
		if isEmptyPacket(p) {
			empty++
			continue
		}
		kept = append(kept, p...)
		p = p[:dataLen]
		if block.NumPackets == 0 {
			block.FirstPacket = p[10]
		}
		block.NumPackets++
		if !isStreamPacket(p) {
			block.Errors++
			s.log.WithField("header", fmt.Sprintf("% x", p[1:4])).Warn("malformed stream packet")
			s.skipSamples(samplesPerPacket)
			continue
		}
		if p[11] != 0 {
			block.Errors++
			s.log.WithFields(logrus.Fields{
				"packet": p[10],
				"error":  (&DeviceError{Code: p[11]}).Name(),
			}).Warn("stream packet error")
		}
		for i := 0; i < samplesPerPacket; i++ {
			at := streamHeaderSize + bytesPerSample*i
			s.addSample(block, p[at:at+bytesPerSample], cal)
		}
	}
	s.metrics.observeEmpty(empty)
	if block.NumPackets == 0 {
		return nil
	}
	block.Raw = kept
	s.metrics.observeBlock(block.NumPackets, block.Errors)
	return block
}

// skipSamples advances the scan list position past n samples that were
// dropped, keeping later samples on their channels.
func (s *Session) skipSamples(n int) {
	nch := len(s.stream.cfg.Channels)
	total := s.position + n
	s.scanIndex += int64(total / nch)
	s.position = total % nch
}

// addSample stores one sample under the channel at the current scan list
// position and advances the position, which carries over between packets
// and blocks.
func (s *Session) addSample(block *SampleBlock, sample []byte, cal *CalibrationTable) {
	ch := s.stream.cfg.Channels[s.position]
	switch {
	case ch.Channel == ChannelDigitalFIO || ch.Channel == ChannelDigitalCIO:
		if block.Digital == nil {
			block.Digital = make(map[byte][][2]byte)
		}
		block.Digital[ch.Channel] = append(block.Digital[ch.Channel], [2]byte{sample[0], sample[1]})
	case ch.Channel >= channelCounterBase:
		if block.Counter == nil {
			block.Counter = make(map[byte][]uint16)
		}
		block.Counter[ch.Channel] = append(block.Counter[ch.Channel], DecodeWord(sample))
	default:
		if block.Analog == nil {
			block.Analog = make(map[byte][]float64)
		}
		v := cal.ToVoltage(float64(DecodeWord(sample)), ch.Gain, int(s.stream.cfg.Resolution))
		block.Analog[ch.Channel] = append(block.Analog[ch.Channel], v)
	}
	s.position++
	if s.position >= len(s.stream.cfg.Channels) {
		s.position = 0
		s.scanIndex++
	}
}
