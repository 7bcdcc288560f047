// Package can: a loopback bus, used by the `loopback` registry key (spec.md
// §6) and by this package's own tests - every frame sent is immediately
// available to Recv, with no real bus underneath.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package can

import "errors"

// ErrBusClosed is returned by Recv/Send once Close has been called.
var ErrBusClosed = errors.New("can: bus closed")

// LoopbackBus implements Bus entirely in memory: anything Send puts on the
// bus, Recv eventually returns, including to the sender itself - matching a
// CAN bus's broadcast nature.
type LoopbackBus struct {
	ch     chan RawFrame
	closed chan struct{}
}

func NewLoopbackBus() *LoopbackBus {
	return &LoopbackBus{ch: make(chan RawFrame, 256), closed: make(chan struct{})}
}

func (b *LoopbackBus) Send(f RawFrame) error {
	select {
	case <-b.closed:
		return ErrBusClosed
	default:
	}
	select {
	case b.ch <- f:
		return nil
	case <-b.closed:
		return ErrBusClosed
	}
}

func (b *LoopbackBus) Recv() (RawFrame, error) {
	select {
	case f := <-b.ch:
		return f, nil
	case <-b.closed:
		return RawFrame{}, ErrBusClosed
	}
}

func (b *LoopbackBus) Close() error {
	select {
	case <-b.closed:
	default:
		close(b.closed)
	}
	return nil
}
