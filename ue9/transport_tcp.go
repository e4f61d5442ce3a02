// Copyright (c) 2016-2026 The labjack developers. All rights reserved.
// Project site: https://github.com/gotmc/labjack
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package ue9

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

const tcpDialTimeout = 5 * time.Second

// TCPTransport talks to a UE9 over Ethernet. Commands use the data port and
// stream packets arrive on the stream port.
type TCPTransport struct {
	data   net.Conn
	stream net.Conn
	addr   string
}

// DialTCP connects to the data and stream ports of the UE9 at host. Zero
// ports select the defaults.
func DialTCP(host string, dataPort, streamPort int) (*TCPTransport, error) {
	if dataPort == 0 {
		dataPort = DataPort
	}
	if streamPort == 0 {
		streamPort = StreamPort
	}
	data, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(dataPort)), tcpDialTimeout)
	if err != nil {
		return nil, fmt.Errorf("couldn't connect to UE9 at %s: %w", host, err)
	}
	stream, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(streamPort)), tcpDialTimeout)
	if err != nil {
		data.Close()
		return nil, fmt.Errorf("couldn't open stream port of UE9 at %s: %w", host, err)
	}
	return NewTCPTransport(data, stream, host), nil
}

// NewTCPTransport wraps already connected data and stream connections.
func NewTCPTransport(data, stream net.Conn, addr string) *TCPTransport {
	return &TCPTransport{data: data, stream: stream, addr: addr}
}

func readConn(conn net.Conn, max int, timeout time.Duration) ([]byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	buf := make([]byte, max)
	n, err := conn.Read(buf)
	if err != nil {
		if n > 0 {
			return buf[:n], nil
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, nil
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, nil
		}
		return nil, err
	}
	return buf[:n], nil
}

// Write sends p on the data connection.
func (t *TCPTransport) Write(p []byte) error {
	if _, err := t.data.Write(p); err != nil {
		return fmt.Errorf("error writing to %s: %w", t.addr, err)
	}
	return nil
}

// Read reads command response bytes from the data connection.
func (t *TCPTransport) Read(max int, timeout time.Duration) ([]byte, error) {
	p, err := readConn(t.data, max, timeout)
	if err != nil {
		return nil, fmt.Errorf("error reading from %s: %w", t.addr, err)
	}
	if len(p) == 0 {
		return nil, &TimeoutError{Op: "tcp read", Want: max}
	}
	return p, nil
}

// ReadStream reads stream bytes from the stream connection. Packets may be
// split across reads.
func (t *TCPTransport) ReadStream(max int, timeout time.Duration) ([]byte, error) {
	p, err := readConn(t.stream, max, timeout)
	if err != nil {
		return nil, fmt.Errorf("error reading stream from %s: %w", t.addr, err)
	}
	return p, nil
}

// Flush discards unread bytes waiting on the data connection.
func (t *TCPTransport) Flush() error {
	for {
		p, err := readConn(t.data, 64, time.Millisecond)
		if err != nil {
			return fmt.Errorf("error flushing %s: %w", t.addr, err)
		}
		if len(p) == 0 {
			return nil
		}
	}
}

// Policy returns the TCP stream policy: bare 46-byte packets on a byte
// stream.
func (t *TCPTransport) Policy() StreamPolicy {
	return StreamPolicy{Kind: KindTCP, PacketSize: streamPacketSize, ByteStream: true}
}

// Close closes both connections.
func (t *TCPTransport) Close() error {
	err1 := t.stream.Close()
	err2 := t.data.Close()
	if err2 != nil {
		return err2
	}
	return err1
}
