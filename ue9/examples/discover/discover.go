// Copyright (c) 2016-2026 The labjack developers. All rights reserved.
// Project site: https://github.com/gotmc/labjack
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package main

import (
	"flag"
	"sort"
	"time"

	"github.com/gotmc/labjack/ue9"
	"github.com/sirupsen/logrus"
)

func main() {
	timeout := flag.Duration("timeout", 3*time.Second, "how long to wait for replies")
	addr := flag.String("addr", "", "broadcast address, default 255.255.255.255:52362")
	level := flag.String("level", "info", "log level")
	flag.Parse()

	log := ue9.NewLogger(ue9.LogConfig{Level: *level})
	found, err := ue9.DiscoverWith(ue9.DiscoveryConfig{
		Address: *addr,
		Timeout: *timeout,
		Logger:  log,
	})
	if err != nil {
		log.Fatalf("Discovery failed: %s", err)
	}
	if len(found) == 0 {
		log.Info("no UE9 answered")
		return
	}
	ips := make([]string, 0, len(found))
	for ip := range found {
		ips = append(ips, ip)
	}
	sort.Strings(ips)
	for _, ip := range ips {
		info := found[ip]
		log.WithFields(logrus.Fields{
			"ip":        ip,
			"serial":    info.SerialNumber,
			"local_id":  info.LocalID,
			"mac":       info.MACAddress.String(),
			"data_port": info.PortA,
			"dhcp":      info.DHCPEnabled,
			"hardware":  info.HWVersion,
			"firmware":  info.CommFWVersion,
		}).Info("found UE9")
	}
}
