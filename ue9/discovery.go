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

	"github.com/sirupsen/logrus"
)

const defaultPollInterval = time.Second

// DiscoveryConfig configures a UDP discovery.
type DiscoveryConfig struct {
	// Address is the broadcast destination; it defaults to
	// 255.255.255.255:52362.
	Address string
	// Timeout bounds the whole discovery.
	Timeout time.Duration
	// PollInterval ends the discovery early once no reply has arrived for
	// this long.
	PollInterval time.Duration
	Logger       logrus.FieldLogger
}

// Discover broadcasts a discovery request and returns the comm
// configuration of every UE9 that answers within timeout, keyed by IP
// address.
func Discover(timeout time.Duration) (map[string]*CommInfo, error) {
	return DiscoverWith(DiscoveryConfig{Timeout: timeout})
}

// DiscoverWith runs a discovery with the given configuration. A later reply
// from the same address replaces an earlier one. Replies that fail
// validation are logged and skipped.
func DiscoverWith(cfg DiscoveryConfig) (map[string]*CommInfo, error) {
	if cfg.Address == "" {
		cfg.Address = net.JoinHostPort(net.IPv4bcast.String(), strconv.Itoa(DiscoveryPort))
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.PollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	raddr, err := net.ResolveUDPAddr("udp4", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("error resolving %s: %w", cfg.Address, err)
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("error opening discovery socket: %w", err)
	}
	defer conn.Close()

	if _, err := conn.WriteToUDP(Encode(commandDiscovery, nil), raddr); err != nil {
		return nil, fmt.Errorf("error sending discovery request: %w", err)
	}

	found := make(map[string]*CommInfo)
	echo := Echo{Length: commConfigLength, Bytes: []byte{headerComm}}
	buf := make([]byte, 2*commConfigLength)
	deadline := time.Now().Add(cfg.Timeout)
	for {
		wait := time.Until(deadline)
		if wait <= 0 {
			break
		}
		if wait > cfg.PollInterval {
			wait = cfg.PollInterval
		}
		if err := conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
			return nil, err
		}
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				break
			}
			return nil, fmt.Errorf("error reading discovery reply: %w", err)
		}
		resp, err := Decode(buf[:n], echo)
		if err != nil {
			logger.WithError(err).WithField("from", from.String()).Warn("skipping discovery reply")
			continue
		}
		info, err := ParseCommInfo(resp)
		if err != nil {
			logger.WithError(err).WithField("from", from.String()).Warn("skipping discovery reply")
			continue
		}
		found[from.IP.String()] = info
		logger.WithFields(logrus.Fields{
			"from":   from.IP.String(),
			"serial": info.SerialNumber,
		}).Debug("discovered device")
	}
	return found, nil
}
