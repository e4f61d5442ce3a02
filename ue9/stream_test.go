// Copyright (c) 2016-2026 The labjack developers. All rights reserved.
// Project site: https://github.com/gotmc/labjack
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package ue9

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	c "github.com/smartystreets/goconvey/convey"
)

func TestSelectClock(t *testing.T) {
	testCases := []struct {
		freq     float64
		clock    ClockFrequency
		divide   bool
		interval uint16
	}{
		{50000, Clock48MHz, false, 960},
		{1000, Clock48MHz, false, 48000},
		{500, Clock24MHz, false, 48000},
		{100, Clock4MHz, false, 40000},
		{20, Clock750kHz, false, 37500},
		{10, Clock48MHz, true, 18750},
		{2, Clock24MHz, true, 46875},
		{1, Clock4MHz, true, 15625},
		{0.1, Clock750kHz, true, 29296},
		{0.01, Clock750kHz, true, 65535},
		{60e6, Clock48MHz, false, 1},
	}
	for _, tc := range testCases {
		t.Run(fmt.Sprintf("%g Hz", tc.freq), func(t *testing.T) {
			clock, divide, interval := SelectClock(tc.freq)
			if clock != tc.clock {
				t.Errorf("clock: expected %s, got %s", tc.clock, clock)
			}
			if divide != tc.divide {
				t.Errorf("divide: expected %v, got %v", tc.divide, divide)
			}
			if interval != tc.interval {
				t.Errorf("interval: expected %d, got %d", tc.interval, interval)
			}
		})
	}
}

func TestScanRate(t *testing.T) {
	testCases := []struct {
		clock    ClockFrequency
		divide   bool
		interval uint16
		expected float64
	}{
		{Clock24MHz, false, 48000, 500},
		{Clock48MHz, true, 18750, 10},
		{Clock4MHz, false, 0, 4e6},
		{Clock750kHz, false, 7500, 100},
	}
	for _, tc := range testCases {
		t.Run(fmt.Sprintf("%s / %d", tc.clock, tc.interval), func(t *testing.T) {
			if got := ScanRate(tc.clock, tc.divide, tc.interval); got != tc.expected {
				t.Errorf("Expected %g, got %g", tc.expected, got)
			}
		})
	}
}

func TestStreamConfigValidate(t *testing.T) {
	one := []StreamChannel{{Channel: 0, Gain: GainUni1}}
	testCases := []struct {
		name  string
		cfg   StreamConfig
		valid bool
	}{
		{"frequency", StreamConfig{Channels: one, ScanFrequency: 100}, true},
		{"interval", StreamConfig{Channels: one, Clock: Clock4MHz, ScanInterval: 4000}, true},
		{"no channels", StreamConfig{ScanFrequency: 100}, false},
		{"too many channels", StreamConfig{Channels: make([]StreamChannel, 129), ScanFrequency: 100}, false},
		{"bad gain", StreamConfig{Channels: []StreamChannel{{Channel: 0, Gain: Gain(0x05)}}, ScanFrequency: 100}, false},
		{"negative frequency", StreamConfig{Channels: one, ScanFrequency: -1}, false},
		{"no timing", StreamConfig{Channels: one}, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.valid && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.valid && err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func twoChannels(freq float64) StreamConfig {
	return StreamConfig{
		Channels: []StreamChannel{
			{Channel: 0, Gain: GainUni1},
			{Channel: 1, Gain: GainBip1},
		},
		Resolution:    12,
		ScanFrequency: freq,
	}
}

func counterChannels(n int) StreamConfig {
	cfg := StreamConfig{Resolution: 12, ScanFrequency: 500}
	for i := 0; i < n; i++ {
		cfg.Channels = append(cfg.Channels, StreamChannel{Channel: byte(channelCounterBase + i), Gain: GainUni1})
	}
	return cfg
}

func streamingSession(t *testing.T, policy StreamPolicy, cfg StreamConfig, timing TimingConfig) (*Session, *simDevice, *fakeTransport) {
	t.Helper()
	dev := newSimDevice()
	f := dev.transport(policy)
	s := NewSession(f, Options{Logger: quietLogger(), Timing: timing})
	if err := s.StreamConfigure(cfg); err != nil {
		t.Fatalf("StreamConfigure: %v", err)
	}
	if err := s.StreamStart(false); err != nil {
		t.Fatalf("StreamStart: %v", err)
	}
	return s, dev, f
}

func TestStreamConfigure(t *testing.T) {
	c.Convey("Given a session on a simulated USB device", t, func() {
		dev := newSimDevice()
		f := dev.transport(usbPolicy)
		s := newTestSession(f)
		c.Convey("When a two channel stream at 500 Hz is configured", func() {
			err := s.StreamConfigure(twoChannels(500))
			c.So(err, c.ShouldBeNil)
			c.Convey("Then the 24 MHz clock and interval 48000 are selected", func() {
				info := s.StreamInfo()
				c.So(info.Clock, c.ShouldEqual, Clock24MHz)
				c.So(info.DivideBy256, c.ShouldBeFalse)
				c.So(info.ScanInterval, c.ShouldEqual, 48000)
				c.So(info.ScanRate, c.ShouldEqual, 500)
				c.So(info.SampleRate, c.ShouldEqual, 1000)
				c.So(info.PacketsPerRead, c.ShouldEqual, 8)
				c.So(info.PacketSize, c.ShouldEqual, 48)
			})
			c.Convey("Then the command carries the scan list and timing", func() {
				cmd := dev.lastConfig
				c.So(cmd[3], c.ShouldEqual, byte(commandStreamConfig))
				c.So(cmd[6:16], c.ShouldResemble, []byte{
					2, 12, 0, 0x18, 0x80, 0xBB,
					0, byte(GainUni1), 1, byte(GainBip1),
				})
			})
			c.Convey("Then the session is configured", func() {
				c.So(s.State(), c.ShouldEqual, StateConfigured)
			})
		})
		c.Convey("When a slow stream is configured", func() {
			err := s.StreamConfigure(twoChannels(100))
			c.So(err, c.ShouldBeNil)
			c.Convey("Then four packets are read at a time", func() {
				c.So(s.StreamInfo().PacketsPerRead, c.ShouldEqual, 4)
			})
		})
		c.Convey("When the scan clock is given explicitly", func() {
			cfg := StreamConfig{
				Channels:        []StreamChannel{{Channel: 3, Gain: GainUni2}},
				Resolution:      16,
				SettlingTime:    1,
				Clock:           Clock750kHz,
				DivideBy256:     true,
				ScanInterval:    293,
				ExternalTrigger: true,
				ScanPulseOutput: true,
			}
			err := s.StreamConfigure(cfg)
			c.So(err, c.ShouldBeNil)
			c.Convey("Then it is sent unchanged with the trigger and pulse flags", func() {
				c.So(dev.lastConfig[6:14], c.ShouldResemble, []byte{1, 16, 1, 0xD2, 0x25, 0x01, 3, byte(GainUni2)})
			})
		})
		c.Convey("When the device rejects the configuration", func() {
			dev.streamErr = 50
			err := s.StreamConfigure(twoChannels(500))
			c.Convey("Then the device error is returned and the session stays idle", func() {
				var de *DeviceError
				c.So(errors.As(err, &de), c.ShouldBeTrue)
				c.So(de.Name(), c.ShouldEqual, "STREAM_CONFIG_INVALID")
				c.So(s.State(), c.ShouldEqual, StateIdle)
				c.So(s.StreamInfo(), c.ShouldBeNil)
			})
		})
		c.Convey("When the configuration is invalid", func() {
			err := s.StreamConfigure(StreamConfig{ScanFrequency: 100})
			c.Convey("Then nothing is sent", func() {
				c.So(err, c.ShouldNotBeNil)
				c.So(f.writes, c.ShouldBeEmpty)
			})
		})
	})
}

func TestStreamCycle(t *testing.T) {
	c.Convey("Given a configured two channel stream on USB", t, func() {
		dev := newSimDevice()
		f := dev.transport(usbPolicy)
		s := NewSession(f, Options{
			Logger: quietLogger(),
			Timing: TimingConfig{DelayOffset: 5 * time.Millisecond},
		})
		c.So(s.StreamConfigure(twoChannels(500)), c.ShouldBeNil)
		c.Convey("When the stream is started", func() {
			err := s.StreamStart(false)
			c.So(err, c.ShouldBeNil)
			c.Convey("Then the buffer was flushed before the start command", func() {
				n := len(f.writes)
				c.So(f.writes[n-2], c.ShouldResemble, []byte{0x08, 0x08})
				c.So(f.writes[n-1], c.ShouldResemble, []byte{0xA8, 0xA8})
				c.So(s.State(), c.ShouldEqual, StateStreaming)
			})
			c.Convey("When no data has arrived", func() {
				block, err := s.NextBlock()
				c.Convey("Then nothing is pending and there is no error", func() {
					c.So(err, c.ShouldBeNil)
					c.So(block, c.ShouldBeNil)
				})
			})
			c.Convey("When two batches of packets arrive", func() {
				f.queueStream(rampPackets(8, 0, 2), rampPackets(8, 128, 2))
				first, err := s.NextBlock()
				c.So(err, c.ShouldBeNil)
				second, err := s.NextBlock()
				c.So(err, c.ShouldBeNil)
				c.Convey("Then each holds eight packets of samples", func() {
					c.So(first.NumPackets, c.ShouldEqual, 8)
					c.So(first.Errors, c.ShouldEqual, 0)
					c.So(first.FirstPacket, c.ShouldEqual, 0)
					c.So(len(first.Raw), c.ShouldEqual, 8*48)
					c.So(first.Analog[0], c.ShouldHaveLength, 64)
					c.So(first.Analog[1], c.ShouldHaveLength, 64)
				})
				c.Convey("Then samples alternate between the channels", func() {
					cal := DefaultCalibration()
					c.So(first.Analog[0][0], c.ShouldAlmostEqual, cal.ToVoltage(0, GainUni1, 12), 1e-12)
					c.So(first.Analog[1][0], c.ShouldAlmostEqual, cal.ToVoltage(1, GainBip1, 12), 1e-12)
					c.So(first.Analog[0][10], c.ShouldAlmostEqual, cal.ToVoltage(20, GainUni1, 12), 1e-12)
					c.So(second.Analog[1][0], c.ShouldAlmostEqual, cal.ToVoltage(129, GainBip1, 12), 1e-12)
				})
				c.Convey("Then the scan index and timestamp advance", func() {
					c.So(first.ScanIndex, c.ShouldEqual, 0)
					c.So(second.ScanIndex, c.ShouldEqual, 64)
					c.So(second.Timestamp.Sub(first.Timestamp).Seconds(), c.ShouldAlmostEqual, 0.128, 1e-6)
					c.So(first.Timestamp.Sub(s.startedAt), c.ShouldEqual, 5*time.Millisecond)
				})
			})
			c.Convey("When the stream is stopped", func() {
				err := s.StreamStop(false)
				c.So(err, c.ShouldBeNil)
				c.Convey("Then the session is configured again", func() {
					c.So(s.State(), c.ShouldEqual, StateConfigured)
					c.So(dev.running, c.ShouldBeFalse)
					c.So(f.writes[len(f.writes)-2], c.ShouldResemble, []byte{0xB0, 0xB0})
				})
				c.Convey("Then it can be restarted without configuring", func() {
					c.So(s.StreamStart(false), c.ShouldBeNil)
					c.So(s.State(), c.ShouldEqual, StateStreaming)
					f.queueStream(rampPackets(8, 0, 2))
					block, err := s.NextBlock()
					c.So(err, c.ShouldBeNil)
					c.So(block, c.ShouldNotBeNil)
					c.So(block.NumPackets, c.ShouldEqual, 8)
					c.So(block.Analog[0], c.ShouldHaveLength, 64)
					c.So(block.Analog[1], c.ShouldHaveLength, 64)
					c.So(block.ScanIndex, c.ShouldEqual, 0)
				})
			})
			c.Convey("When the device has already stopped streaming", func() {
				dev.running = false
				err := s.StreamStop(false)
				c.Convey("Then the stop still succeeds", func() {
					c.So(err, c.ShouldBeNil)
					c.So(s.State(), c.ShouldEqual, StateConfigured)
				})
			})
			c.Convey("When the stop reply is lost", func() {
				s.timing.CommandTimeout = 20 * time.Millisecond
				f.handler = func(ft *fakeTransport, cmd []byte) {
					dev.handle(ft, cmd)
					ft.resp = nil
				}
				err := s.StreamStop(false)
				c.So(IsTimeout(err), c.ShouldBeTrue)
				c.So(s.State(), c.ShouldEqual, StateStreaming)
				c.Convey("Then retrying the stop returns the session to configured", func() {
					f.handler = dev.handle
					c.So(s.StreamStop(false), c.ShouldBeNil)
					c.So(s.State(), c.ShouldEqual, StateConfigured)
					c.So(s.StreamConfigure(twoChannels(100)), c.ShouldBeNil)
				})
			})
			c.Convey("When the stop fails", func() {
				dev.stopErr = 5
				err := s.StreamStop(false)
				c.Convey("Then the session keeps streaming", func() {
					var de *DeviceError
					c.So(errors.As(err, &de), c.ShouldBeTrue)
					c.So(de.Code, c.ShouldEqual, 5)
					c.So(s.State(), c.ShouldEqual, StateStreaming)
				})
			})
		})
		c.Convey("When the device is already streaming", func() {
			dev.running = true
			err := s.StreamStart(false)
			c.Convey("Then the start fails with STREAM_IS_ACTIVE", func() {
				var de *DeviceError
				c.So(errors.As(err, &de), c.ShouldBeTrue)
				c.So(de.Code, c.ShouldEqual, errStreamIsActive)
				c.So(s.State(), c.ShouldEqual, StateConfigured)
			})
		})
	})
}

func TestStreamStateErrors(t *testing.T) {
	c.Convey("Given an idle session", t, func() {
		dev := newSimDevice()
		s := newTestSession(dev.transport(usbPolicy))
		c.Convey("Then starting, stopping and reading are refused", func() {
			var se *StateError
			c.So(errors.As(s.StreamStart(false), &se), c.ShouldBeTrue)
			c.So(se.State, c.ShouldEqual, StateIdle)
			c.So(errors.As(s.StreamStop(false), &se), c.ShouldBeTrue)
			_, err := s.NextBlock()
			c.So(errors.As(err, &se), c.ShouldBeTrue)
		})
	})
	c.Convey("Given a streaming session", t, func() {
		s, _, f := streamingSession(t, usbPolicy, twoChannels(500), TimingConfig{})
		writes := len(f.writes)
		c.Convey("Then configuration commands are refused without touching the link", func() {
			var se *StateError
			c.So(errors.As(s.StreamConfigure(twoChannels(100)), &se), c.ShouldBeTrue)
			c.So(se.State, c.ShouldEqual, StateStreaming)
			_, err := s.ReadMem(0)
			c.So(errors.As(err, &se), c.ShouldBeTrue)
			_, err = s.ControlConfig(nil)
			c.So(errors.As(err, &se), c.ShouldBeTrue)
			_, err = s.CommConfig(nil)
			c.So(errors.As(err, &se), c.ShouldBeTrue)
			c.So(errors.As(s.FlushBuffer(), &se), c.ShouldBeTrue)
			c.So(errors.As(s.StreamStart(false), &se), c.ShouldBeTrue)
			_, err = s.LoadCalibration()
			c.So(errors.As(err, &se), c.ShouldBeTrue)
			c.So(len(f.writes), c.ShouldEqual, writes)
		})
	})
}

func TestStreamPacketDecoding(t *testing.T) {
	c.Convey("Given a USB stream of three counter channels", t, func() {
		s, _, f := streamingSession(t, usbPolicy, counterChannels(3), TimingConfig{})
		c.Convey("When a full batch arrives", func() {
			f.queueStream(rampPackets(8, 0, 2))
			block, err := s.NextBlock()
			c.So(err, c.ShouldBeNil)
			c.Convey("Then the scan list wraps across packet boundaries", func() {
				c.So(block.Counter[200], c.ShouldHaveLength, 43)
				c.So(block.Counter[201], c.ShouldHaveLength, 43)
				c.So(block.Counter[202], c.ShouldHaveLength, 42)
				c.So(block.Counter[200][5], c.ShouldEqual, 15)
				c.So(block.Counter[201][5], c.ShouldEqual, 16)
				c.So(block.Counter[202][41], c.ShouldEqual, 125)
			})
			c.Convey("Then the next block continues the scan", func() {
				f.queueStream(rampPackets(8, 128, 2))
				next, err := s.NextBlock()
				c.So(err, c.ShouldBeNil)
				c.So(next.ScanIndex, c.ShouldEqual, 42)
				c.So(next.Counter[202][0], c.ShouldEqual, 128)
				c.So(next.Counter[200][0], c.ShouldEqual, 129)
			})
		})
		c.Convey("When a batch holds empty filler packets", func() {
			raw := rampPackets(4, 0, 2)
			copy(raw[48:96], make([]byte, 48))
			f.queueStream(raw)
			block, err := s.NextBlock()
			c.So(err, c.ShouldBeNil)
			c.Convey("Then they are dropped", func() {
				c.So(block.NumPackets, c.ShouldEqual, 3)
				c.So(block.Raw, c.ShouldHaveLength, 3*48)
				c.So(block.Counter[200][0], c.ShouldEqual, 0)
				c.So(block.Counter[201][5], c.ShouldEqual, 32)
				c.So(block.Counter[202][5], c.ShouldEqual, 33)
			})
		})
		c.Convey("When every packet is empty", func() {
			f.queueStream(make([]byte, 4*48))
			block, err := s.NextBlock()
			c.Convey("Then nothing is returned", func() {
				c.So(err, c.ShouldBeNil)
				c.So(block, c.ShouldBeNil)
			})
		})
		c.Convey("When a read is not a whole number of packets", func() {
			f.queueStream(make([]byte, 47))
			_, err := s.NextBlock()
			c.Convey("Then a FramingError is returned", func() {
				var fe *FramingError
				c.So(errors.As(err, &fe), c.ShouldBeTrue)
				c.So(fe.Got, c.ShouldEqual, 47)
				c.So(fe.PacketSize, c.ShouldEqual, 48)
			})
		})
		c.Convey("When packets report errors", func() {
			raw := rampPackets(4, 0, 2)
			bad := streamPacket(1, 55, make([]uint16, samplesPerPacket), 2)
			copy(raw[48:96], bad)
			malformed := raw[96:144]
			malformed[2] = 0x11
			f.queueStream(raw)
			block, err := s.NextBlock()
			c.So(err, c.ShouldBeNil)
			c.Convey("Then they are counted", func() {
				c.So(block.NumPackets, c.ShouldEqual, 4)
				c.So(block.Errors, c.ShouldEqual, 2)
			})
			c.Convey("Then samples of a malformed packet are skipped", func() {
				c.So(len(block.Counter[200])+len(block.Counter[201])+len(block.Counter[202]), c.ShouldEqual, 48)
			})
			c.Convey("Then later samples stay on their channels", func() {
				// Sample i of the ramp belongs to channel 200 + i%3.
				c.So(block.Counter[200][11:], c.ShouldResemble, []uint16{48, 51, 54, 57, 60, 63})
				c.So(block.Counter[201][11:], c.ShouldResemble, []uint16{49, 52, 55, 58, 61})
				c.So(block.Counter[202][10:], c.ShouldResemble, []uint16{50, 53, 56, 59, 62})
				for ch, words := range block.Counter {
					for _, v := range words {
						if v != 0 && byte(channelCounterBase+int(v)%3) != ch {
							t.Errorf("sample %d landed in channel %d", v, ch)
						}
					}
				}
			})
			c.Convey("Then the next block starts at the right scan", func() {
				f.queueStream(rampPackets(4, 64, 2))
				next, err := s.NextBlock()
				c.So(err, c.ShouldBeNil)
				c.So(next.ScanIndex, c.ShouldEqual, 21)
				c.So(next.Counter[201][0], c.ShouldEqual, 64)
			})
		})
	})
	c.Convey("Given a stream of digital and analog channels", t, func() {
		cfg := StreamConfig{
			Channels: []StreamChannel{
				{Channel: ChannelDigitalFIO},
				{Channel: 2, Gain: GainUni1},
			},
			Resolution:    12,
			ScanFrequency: 500,
		}
		s, _, f := streamingSession(t, usbPolicy, cfg, TimingConfig{})
		f.queueStream(streamPacket(0, 0, []uint16{0x0281, 100, 0x0300, 200}, 2))
		block, err := s.NextBlock()
		c.So(err, c.ShouldBeNil)
		c.Convey("Then port bytes are kept raw", func() {
			c.So(block.Digital[ChannelDigitalFIO][0], c.ShouldResemble, [2]byte{0x81, 0x02})
			c.So(block.Digital[ChannelDigitalFIO][1], c.ShouldResemble, [2]byte{0x00, 0x03})
			c.So(block.Analog[2][0], c.ShouldAlmostEqual, DefaultCalibration().ToVoltage(100, GainUni1, 12), 1e-12)
		})
	})
}

func TestStreamReassembly(t *testing.T) {
	c.Convey("Given a TCP stream at 500 Hz", t, func() {
		s, _, f := streamingSession(t, tcpPolicy, twoChannels(500), TimingConfig{})
		want := rampPackets(8, 0, 0)
		c.Convey("When the packets arrive split at arbitrary points", func() {
			f.queueStream(want[:7], want[7:107], want[107:157], want[157:])
			var block *SampleBlock
			for i := 0; i < 10 && block == nil; i++ {
				b, err := s.NextBlock()
				c.So(err, c.ShouldBeNil)
				block = b
			}
			c.Convey("Then they are reassembled on packet boundaries", func() {
				c.So(block, c.ShouldNotBeNil)
				c.So(block.NumPackets, c.ShouldEqual, 8)
				c.So(bytes.Equal(block.Raw, want), c.ShouldBeTrue)
				c.So(block.Analog[1][63], c.ShouldAlmostEqual, DefaultCalibration().ToVoltage(127, GainBip1, 12), 1e-12)
				c.So(s.pending, c.ShouldBeEmpty)
			})
		})
		c.Convey("When fewer than a batch of packets has arrived", func() {
			f.queueStream(want[:3*46+10])
			block, err := s.NextBlock()
			c.Convey("Then nothing is returned and the bytes are kept", func() {
				c.So(err, c.ShouldBeNil)
				c.So(block, c.ShouldBeNil)
				c.So(s.pending, c.ShouldResemble, want[:3*46+10])
			})
			c.Convey("Then the rest completes the batch", func() {
				f.queueStream(want[3*46+10:])
				block, err := s.NextBlock()
				c.So(err, c.ShouldBeNil)
				c.So(block.NumPackets, c.ShouldEqual, 8)
				c.So(bytes.Equal(block.Raw, want), c.ShouldBeTrue)
			})
		})
		c.Convey("When more than a batch has arrived", func() {
			f.queueStream(rampPackets(9, 0, 0))
			block, err := s.NextBlock()
			c.So(err, c.ShouldBeNil)
			c.Convey("Then one batch is returned and the rest is read later", func() {
				c.So(block.NumPackets, c.ShouldEqual, 8)
				block, err := s.NextBlock()
				c.So(err, c.ShouldBeNil)
				c.So(block, c.ShouldBeNil)
				c.So(s.pending, c.ShouldHaveLength, 46)
			})
		})
		c.Convey("When the stream is stopped with bytes pending", func() {
			f.queueStream(want[:100])
			_, err := s.NextBlock()
			c.So(err, c.ShouldBeNil)
			c.So(s.StreamStop(false), c.ShouldBeNil)
			c.Convey("Then the pending bytes are discarded", func() {
				c.So(s.pending, c.ShouldBeEmpty)
			})
		})
	})
	c.Convey("Given a TCP stream with a short maximum wait", t, func() {
		s, _, f := streamingSession(t, tcpPolicy, twoChannels(500), TimingConfig{ReassemblyMaxWait: time.Nanosecond})
		c.Convey("When five packets have arrived and the wait has passed", func() {
			raw := rampPackets(5, 0, 0)
			f.queueStream(append(raw, 0xF9, 0xF9))
			block, err := s.NextBlock()
			c.So(err, c.ShouldBeNil)
			c.Convey("Then a partial group of four is emitted", func() {
				c.So(block, c.ShouldNotBeNil)
				c.So(block.NumPackets, c.ShouldEqual, 4)
				c.So(s.pending, c.ShouldHaveLength, 46+2)
			})
			c.Convey("Then fewer than four packets stay pending", func() {
				block, err := s.NextBlock()
				c.So(err, c.ShouldBeNil)
				c.So(block, c.ShouldBeNil)
				c.So(s.pending, c.ShouldHaveLength, 46+2)
			})
		})
	})
}

func TestSharedChannelStop(t *testing.T) {
	c.Convey("Given a serial stream", t, func() {
		s, dev, f := streamingSession(t, serialPolicy, twoChannels(500), TimingConfig{})
		c.Convey("When it is stopped while packets are still arriving", func() {
			f.queueStream(rampPackets(2, 0, 2))
			err := s.StreamStop(false)
			c.Convey("Then the stop reply is found among the stream bytes", func() {
				c.So(err, c.ShouldBeNil)
				c.So(s.State(), c.ShouldEqual, StateConfigured)
				c.So(dev.running, c.ShouldBeFalse)
				c.So(f.stream, c.ShouldBeEmpty)
			})
		})
		c.Convey("When the stop reply never arrives", func() {
			f.handler = nil
			s.timing.CommandTimeout = 20 * time.Millisecond
			err := s.StreamStop(false)
			c.Convey("Then the stop times out", func() {
				c.So(IsTimeout(err), c.ShouldBeTrue)
				c.So(s.State(), c.ShouldEqual, StateStreaming)
			})
		})
	})
}

func TestClearStreamData(t *testing.T) {
	c.Convey("Given a configured TCP stream with stale data on the link", t, func() {
		dev := newSimDevice()
		f := dev.transport(tcpPolicy)
		s := newTestSession(f)
		c.So(s.StreamConfigure(twoChannels(500)), c.ShouldBeNil)
		f.queueStream(bytes.Repeat([]byte{0xAA}, 100), bytes.Repeat([]byte{0xAA}, 100))
		c.Convey("When the stream is started with clearing", func() {
			c.So(s.StreamStart(true), c.ShouldBeNil)
			c.Convey("Then the stale data is drained", func() {
				c.So(f.stream, c.ShouldBeEmpty)
				c.So(f.flushes, c.ShouldEqual, 1)
			})
		})
	})
	c.Convey("Given a configured USB stream with stale data", t, func() {
		dev := newSimDevice()
		f := dev.transport(usbPolicy)
		s := newTestSession(f)
		c.So(s.StreamConfigure(twoChannels(500)), c.ShouldBeNil)
		f.queueStream(make([]byte, 50), bytes.Repeat([]byte{0x01}, 192))
		c.Convey("When the stream is started with clearing", func() {
			c.So(s.StreamStart(true), c.ShouldBeNil)
			c.Convey("Then a short read ends the drain", func() {
				c.So(f.stream, c.ShouldHaveLength, 1)
			})
		})
	})
	c.Convey("Given a USB link that returns zero filled reads", t, func() {
		dev := newSimDevice()
		f := dev.transport(usbPolicy)
		s := newTestSession(f)
		c.So(s.StreamConfigure(twoChannels(500)), c.ShouldBeNil)
		f.queueStream(bytes.Repeat([]byte{0x01}, 192), make([]byte, 192), bytes.Repeat([]byte{0x01}, 192))
		c.Convey("When the stream is started with clearing", func() {
			c.So(s.StreamStart(true), c.ShouldBeNil)
			c.Convey("Then the drain stops at the first all zero read", func() {
				c.So(f.stream, c.ShouldHaveLength, 1)
			})
		})
	})
}
