// Package cmn provides common constants, types, and utilities shared by the
// transport stack.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import "time"

// read-mostly, most often used values: defaults are assigned at package init
// and Set replaces all of them from a Config, to avoid a lookup per frame on
// the fast (receive) path.
type readMostly struct {
	transferIDTimeout time.Duration
	sendTimeout       time.Duration
	level             int
	mtu               int
}

var Rom readMostly

func (rom *readMostly) init() {
	rom.transferIDTimeout = 2 * time.Second
	rom.sendTimeout = time.Second
	rom.mtu = 8 // classic CAN 2.0 payload
}

func (rom *readMostly) Set(cfg *Config) {
	rom.transferIDTimeout = cfg.TransferIDTimeout
	rom.sendTimeout = cfg.SendTimeout
	rom.level = cfg.LogLevel
	rom.mtu = cfg.MTU
}

func (rom *readMostly) TransferIDTimeout() time.Duration { return rom.transferIDTimeout }
func (rom *readMostly) SendTimeout() time.Duration       { return rom.sendTimeout }
func (rom *readMostly) MTU() int                         { return rom.mtu }

func (rom *readMostly) FastV(verbosity int) bool { return rom.level >= verbosity }

func init() { Rom.init() }
