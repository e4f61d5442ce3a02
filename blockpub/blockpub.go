// Copyright (c) 2016-2026 The labjack developers. All rights reserved.
// Project site: https://github.com/gotmc/labjack
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package blockpub publishes UE9 stream sample blocks to Redis. Each block
// is sent on a pub/sub channel and kept in a capped list per device.
package blockpub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gotmc/labjack/ue9"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Config addresses the Redis server and names the channel and list.
type Config struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Channel  string `yaml:"channel"`
	// MaxLen caps each device list; zero keeps 1000 blocks.
	MaxLen int64 `yaml:"max_len"`
}

const defaultMaxLen = 1000

// Message is the JSON document published for each block.
type Message struct {
	Device string           `json:"device"`
	Serial uint32           `json:"serial"`
	SentAt time.Time        `json:"sent_at"`
	Block  *ue9.SampleBlock `json:"block"`
}

// Encode marshals a block for the given device.
func Encode(device string, serial uint32, block *ue9.SampleBlock) ([]byte, error) {
	if block == nil {
		return nil, fmt.Errorf("no block to encode for %s", device)
	}
	return json.Marshal(&Message{
		Device: device,
		Serial: serial,
		SentAt: time.Now().UTC(),
		Block:  block,
	})
}

// ListKey is the Redis list holding the recent blocks of a device.
func ListKey(device string, serial uint32) string {
	return fmt.Sprintf("ue9:%s:%d:blocks", device, serial)
}

// Publisher sends sample blocks to Redis.
type Publisher struct {
	client  *redis.Client
	channel string
	maxLen  int64
	log     logrus.FieldLogger
}

// New connects to Redis and checks the connection.
func New(ctx context.Context, cfg Config, log logrus.FieldLogger) (*Publisher, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.Channel == "" {
		return nil, fmt.Errorf("no redis channel configured")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("couldn't connect to redis at %s: %w", cfg.Addr, err)
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = defaultMaxLen
	}
	log.WithField("addr", cfg.Addr).Info("connected to redis")
	return &Publisher{client: client, channel: cfg.Channel, maxLen: maxLen, log: log}, nil
}

// Publish sends one block on the channel and pushes it onto the device
// list, trimming the list to its cap, in a single pipeline.
func (p *Publisher) Publish(ctx context.Context, device string, serial uint32, block *ue9.SampleBlock) error {
	data, err := Encode(device, serial, block)
	if err != nil {
		return err
	}
	key := ListKey(device, serial)
	pipe := p.client.Pipeline()
	pipe.Publish(ctx, p.channel, data)
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, p.maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("error publishing block %d: %w", block.ScanIndex, err)
	}
	p.log.WithFields(logrus.Fields{
		"channel":    p.channel,
		"scan_index": block.ScanIndex,
		"packets":    block.NumPackets,
	}).Debug("published block")
	return nil
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
