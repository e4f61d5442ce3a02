// Copyright (c) 2016-2026 The labjack developers. All rights reserved.
// Project site: https://github.com/gotmc/labjack
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package ue9

import (
	"encoding/binary"
	"io"
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

// fakeTransport is an in-memory Transport. Command responses queued with
// reply are returned by Read; chunks queued with queueStream are returned by
// ReadStream one at a time, split further if a read asks for fewer bytes.
type fakeTransport struct {
	policy  StreamPolicy
	handler func(f *fakeTransport, cmd []byte)
	resp    []byte
	stream  [][]byte
	writes  [][]byte
	flushes int
	closed  bool
	readErr error
}

func newFakeTransport(policy StreamPolicy, handler func(f *fakeTransport, cmd []byte)) *fakeTransport {
	return &fakeTransport{policy: policy, handler: handler}
}

func (f *fakeTransport) reply(b []byte) {
	f.resp = append(f.resp, b...)
}

func (f *fakeTransport) queueStream(chunks ...[]byte) {
	for _, c := range chunks {
		f.stream = append(f.stream, append([]byte(nil), c...))
	}
}

func (f *fakeTransport) Write(p []byte) error {
	f.writes = append(f.writes, append([]byte(nil), p...))
	if f.handler != nil {
		f.handler(f, p)
	}
	return nil
}

func (f *fakeTransport) Read(max int, timeout time.Duration) ([]byte, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	if len(f.resp) == 0 {
		return nil, &TimeoutError{Op: "fake read", Want: max}
	}
	n := max
	if n > len(f.resp) {
		n = len(f.resp)
	}
	p := append([]byte(nil), f.resp[:n]...)
	f.resp = f.resp[n:]
	return p, nil
}

func (f *fakeTransport) ReadStream(max int, timeout time.Duration) ([]byte, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	if len(f.stream) == 0 {
		return nil, nil
	}
	chunk := f.stream[0]
	if len(chunk) > max {
		f.stream[0] = chunk[max:]
		return append([]byte(nil), chunk[:max]...), nil
	}
	f.stream = f.stream[1:]
	return chunk, nil
}

func (f *fakeTransport) Flush() error {
	f.flushes++
	return nil
}

func (f *fakeTransport) Policy() StreamPolicy {
	return f.policy
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

// lastWrite returns the most recent frame written.
func (f *fakeTransport) lastWrite() []byte {
	if len(f.writes) == 0 {
		return nil
	}
	return f.writes[len(f.writes)-1]
}

func (f *fakeTransport) writesOf(cmd command) [][]byte {
	var out [][]byte
	for _, w := range f.writes {
		if len(w) >= extendedHeaderSize && IsExtended(w[1]) && command(w[3]) == cmd {
			out = append(out, w)
		}
	}
	return out
}

var (
	usbPolicy    = StreamPolicy{Kind: KindUSB, PacketSize: usbStreamPacketSize}
	tcpPolicy    = StreamPolicy{Kind: KindTCP, PacketSize: streamPacketSize, ByteStream: true}
	serialPolicy = StreamPolicy{Kind: KindSerial, PacketSize: usbStreamPacketSize, ByteStream: true, SharedChannel: true}
)

// simDevice answers commands the way a UE9 does.
type simDevice struct {
	hiRes      bool
	serial     uint32
	mem        [numMemBlocks][]byte
	control    []byte // bytes 7..23 of the control config response
	comm       []byte // bytes 8..37 of the comm config response
	streamErr  byte
	startErr   byte
	stopErr    byte
	running    bool
	feedback   []byte // bytes 6..63 of the feedback response
	singleIO   []byte // bytes 4..7 of the SingleIO response
	corrupt    bool
	lastConfig []byte
}

func newSimDevice() *simDevice {
	d := &simDevice{serial: 0x10_27_0F_42}
	for i := range d.mem {
		d.mem[i] = make([]byte, memBlockSize)
	}
	d.comm = make([]byte, commConfigLength-8)
	d.comm[0] = 1
	// 192.168.1.50, gateway 192.168.1.1, subnet 255.255.255.0
	copy(d.comm[2:6], []byte{50, 1, 168, 192})
	copy(d.comm[6:10], []byte{1, 1, 168, 192})
	copy(d.comm[10:14], []byte{0, 255, 255, 255})
	binary.LittleEndian.PutUint16(d.comm[14:16], DataPort)
	binary.LittleEndian.PutUint16(d.comm[16:18], StreamPort)
	d.comm[19] = 9
	copy(d.comm[20:23], []byte{0x42, 0x0F, 0x27})
	copy(d.comm[23:26], []byte{0xC2, 0x50, 0x00})
	// hardware 2.16, comm firmware 1.75
	d.comm[26], d.comm[27] = 0x10, 0x02
	d.comm[28], d.comm[29] = 0x4B, 0x01
	d.control = make([]byte, controlConfigResponseLength-7)
	return d
}

func (d *simDevice) transport(policy StreamPolicy) *fakeTransport {
	return newFakeTransport(policy, d.handle)
}

func (d *simDevice) setCalibration(block int, off int, values ...float64) {
	for i, v := range values {
		binary.LittleEndian.PutUint64(d.mem[block][off+8*i:], math.Float64bits(v))
	}
}

func extendedResponse(cmd command, payload []byte) []byte {
	return Encode(cmd, payload)
}

func (d *simDevice) respond(f *fakeTransport, b []byte) {
	if d.corrupt {
		b = append([]byte(nil), b...)
		b[len(b)-1] ^= 0x01
	}
	f.reply(b)
}

func (d *simDevice) handle(f *fakeTransport, cmd []byte) {
	if IsExtended(cmd[1]) {
		d.handleExtended(f, cmd)
		return
	}
	switch cmd[1] {
	case normalFlushBuffer:
		d.respond(f, EncodeNormal(replyFlushBuffer, nil))
	case normalStreamStart:
		code := d.startErr
		if d.running {
			code = errStreamIsActive
		}
		if code == 0 {
			d.running = true
		}
		d.respond(f, EncodeNormal(replyStreamStart, []byte{code, 0}))
	case normalStreamStop:
		code := d.stopErr
		if !d.running && code == 0 {
			code = errStreamNotRunning
		}
		d.running = false
		r := EncodeNormal(replyStreamStop, []byte{code, 0})
		if f.policy.SharedChannel {
			f.queueStream(r)
			return
		}
		d.respond(f, r)
	case normalSingleIO:
		p := make([]byte, singleIOLength-2)
		p[0], p[1] = cmd[2], cmd[3]
		copy(p[2:], d.singleIO)
		d.respond(f, EncodeNormal(replySingleIO, p))
	}
}

func (d *simDevice) handleExtended(f *fakeTransport, cmd []byte) {
	c := command(cmd[3])
	switch c {
	case commandCommConfig:
		p := make([]byte, commConfigLength-extendedHeaderSize)
		copy(p[2:], d.comm)
		d.respond(f, extendedResponse(c, p))
	case commandControlConfig:
		p := make([]byte, controlConfigResponseLength-extendedHeaderSize)
		copy(p[1:], d.control)
		if d.hiRes {
			p[7] |= 1
		}
		d.respond(f, extendedResponse(c, p))
	case commandReadMem:
		p := make([]byte, readMemResponseLength-extendedHeaderSize)
		copy(p[2:], d.mem[cmd[7]])
		d.respond(f, extendedResponse(c, p))
	case commandStreamConfig:
		d.lastConfig = append([]byte(nil), cmd...)
		p := make([]byte, streamConfigResponseLength-extendedHeaderSize)
		p[0] = d.streamErr
		d.respond(f, extendedResponse(c, p))
	case commandFeedback:
		p := make([]byte, feedbackResponseLength-extendedHeaderSize)
		copy(p, d.feedback)
		d.respond(f, extendedResponse(c, p))
	case commandTimerCounter:
		p := make([]byte, timerCounterResponseLength-extendedHeaderSize)
		p[1] = 0x43
		for i := 0; i < maxTimers; i++ {
			binary.LittleEndian.PutUint32(p[2+4*i:], uint32(1000*(i+1)))
		}
		copy(p[26:29], []byte{0x01, 0x02, 0x03})
		copy(p[30:33], []byte{0x04, 0x05, 0x06})
		d.respond(f, extendedResponse(c, p))
	case commandWatchdog:
		if cmd[2] == 0 {
			p := make([]byte, watchdogReadResponseLength-extendedHeaderSize)
			p[1] = WatchdogUpdateDAC0 | WatchdogResetControl
			binary.LittleEndian.PutUint16(p[2:4], 30)
			p[4], p[5] = 0x81, 0x02
			p[6], p[7] = 0xFF, 0x87
			d.respond(f, extendedResponse(c, p))
			return
		}
		p := make([]byte, shortResponseLength-extendedHeaderSize)
		p[1] = cmd[7]
		d.respond(f, extendedResponse(c, p))
	case commandWriteMem, commandEraseMem:
		d.respond(f, extendedResponse(c, make([]byte, shortResponseLength-extendedHeaderSize)))
	case commandSPI:
		n := int(cmd[13])
		p := make([]byte, 2+n+n%2)
		for i := 0; i < n; i++ {
			p[2+i] = ^cmd[14+i]
		}
		d.respond(f, extendedResponse(c, p))
	case commandI2C:
		recv := int(cmd[13])
		p := make([]byte, 6+recv+recv%2)
		copy(p[2:6], []byte{1, 1, 0, 0})
		for i := 0; i < recv; i++ {
			p[6+i] = byte(0xA0 + i)
		}
		d.respond(f, extendedResponse(c, p))
	case commandAsynchConfig:
		p := make([]byte, asynchConfigLen-extendedHeaderSize)
		p[1] = cmd[7]
		p[2], p[3] = cmd[8], cmd[9]
		d.respond(f, extendedResponse(c, p))
	case commandAsynchTX:
		p := make([]byte, asynchConfigLen-extendedHeaderSize)
		p[1], p[2] = cmd[7], 3
		d.respond(f, extendedResponse(c, p))
	case commandAsynchRX:
		p := make([]byte, asynchRXLength-extendedHeaderSize)
		p[1] = 5
		copy(p[2:], "hello")
		d.respond(f, extendedResponse(c, p))
	case commandSHT1x:
		p := make([]byte, sht1xResponseLen-extendedHeaderSize)
		p[2], p[3] = 0x40, 0x11
		binary.LittleEndian.PutUint16(p[4:6], 6400)
		p[6] = 0x22
		binary.LittleEndian.PutUint16(p[7:9], 1000)
		p[9] = 0x33
		d.respond(f, extendedResponse(c, p))
	case commandDefaults:
		if cmd[6] == 0 {
			p := make([]byte, readDefaultsLength-extendedHeaderSize)
			p[2] = cmd[7]
			d.respond(f, extendedResponse(c, p))
			return
		}
		d.respond(f, extendedResponse(c, make([]byte, shortResponseLength-extendedHeaderSize)))
	}
}

// streamPacket builds one stream packet with the given counter, error code
// and samples, followed by trailer zero bytes.
func streamPacket(counter, errCode byte, samples []uint16, trailer int) []byte {
	p := make([]byte, streamPacketSize+trailer)
	p[1], p[2], p[3] = streamPacketB1, streamPacketB2, streamPacketB3
	p[10] = counter
	p[11] = errCode
	for i, v := range samples {
		binary.LittleEndian.PutUint16(p[streamHeaderSize+2*i:], v)
	}
	Frame(p[:streamPacketSize]).seal()
	return p
}

// rampPackets returns n packets whose samples count up from start.
func rampPackets(n int, start uint16, trailer int) []byte {
	var out []byte
	v := start
	for i := 0; i < n; i++ {
		samples := make([]uint16, samplesPerPacket)
		for j := range samples {
			samples[j] = v
			v++
		}
		out = append(out, streamPacket(byte(i), 0, samples, trailer)...)
	}
	return out
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestSession(t Transport) *Session {
	return NewSession(t, Options{Logger: quietLogger()})
}
