// Copyright (c) 2016-2026 The labjack developers. All rights reserved.
// Project site: https://github.com/gotmc/labjack
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gotmc/labjack/blockpub"
	"github.com/gotmc/labjack/ue9"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "./ue9.yaml", "YAML config file")
	metricsAddr := flag.String("metrics", ":9109", "address to serve /metrics on, empty to disable")
	redisAddr := flag.String("redis", "", "redis address to publish blocks to, empty to disable")
	redisChannel := flag.String("channel", "ue9:blocks", "redis pub/sub channel")
	totalBlocks := flag.Int("blocks", 100, "number of sample blocks to read, 0 to run until interrupted")
	flag.Parse()

	cfg, err := ue9.LoadConfig(*configPath)
	if err != nil {
		logrus.Fatalf("Error loading config: %s", err)
	}
	log := ue9.NewLogger(cfg.Log)

	reg := prometheus.NewRegistry()
	metrics := ue9.NewMetrics(reg)
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pub *blockpub.Publisher
	if *redisAddr != "" {
		pub, err = blockpub.New(ctx, blockpub.Config{Addr: *redisAddr, Channel: *redisChannel}, log)
		if err != nil {
			log.Fatalf("Couldn't connect to redis: %s", err)
		}
		defer pub.Close()
	}

	daq, err := ue9.Connect(cfg, ue9.Options{Logger: log, Metrics: metrics})
	if err != nil {
		log.Fatalf("Couldn't connect to the UE9: %s", err)
	}
	defer daq.Close()
	log.WithFields(logrus.Fields{
		"device": daq.DeviceName(),
		"serial": daq.SerialNumber(),
	}).Info("connected")

	if err := daq.StreamConfigure(cfg.Stream); err != nil {
		log.Fatalf("Error configuring stream: %s", err)
	}
	info := daq.StreamInfo()
	log.WithFields(logrus.Fields{
		"clock":      info.Clock.String(),
		"interval":   info.ScanInterval,
		"scan_rate":  info.ScanRate,
		"per_read":   info.PacketsPerRead,
		"channels":   len(cfg.Stream.Channels),
		"resolution": cfg.Stream.Resolution,
	}).Info("stream configured")

	if err := daq.StreamStart(true); err != nil {
		log.Fatalf("Error starting stream: %s", err)
	}
	start := time.Now()
	blocks, packets, errs := 0, 0, 0
	for *totalBlocks == 0 || blocks < *totalBlocks {
		if ctx.Err() != nil {
			break
		}
		block, err := daq.NextBlock()
		if err != nil {
			log.WithError(err).Error("error reading stream")
			break
		}
		if block == nil {
			continue
		}
		blocks++
		packets += block.NumPackets
		errs += block.Errors
		for ch, volts := range block.Analog {
			if len(volts) > 0 {
				log.Debugf("AIN%d first = %.5f V (%d samples)", ch, volts[0], len(volts))
			}
		}
		if pub != nil {
			if err := pub.Publish(ctx, daq.DeviceName(), daq.SerialNumber(), block); err != nil {
				log.WithError(err).Warn("couldn't publish block")
			}
		}
	}
	if err := daq.StreamStop(true); err != nil {
		log.WithError(err).Error("error stopping stream")
	}
	log.WithFields(logrus.Fields{
		"blocks":  blocks,
		"packets": packets,
		"errors":  errs,
		"elapsed": time.Since(start).Round(time.Millisecond).String(),
	}).Info("stream finished")
}
