// Package cos provides common low-level types and utilities
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import "sync"

// StopCh is a broadcast-once close-channel: multiple goroutines can Listen(),
// a single Close() wakes them all, and Close() is safe to call more than once.
type StopCh struct {
	ch   chan struct{}
	once sync.Once
}

func NewStopCh() StopCh { return StopCh{ch: make(chan struct{})} }

func (sc *StopCh) Init() {
	if sc.ch == nil {
		sc.ch = make(chan struct{})
	}
}

func (sc *StopCh) Listen() <-chan struct{} { return sc.ch }

func (sc *StopCh) Close() { sc.once.Do(func() { close(sc.ch) }) }
