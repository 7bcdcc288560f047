// Package core provides the per-transport session lifecycle, idle-teardown,
// and send/receive bookkeeping shared by the CAN, UDP, and serial media
// layers: each such layer drives its own socket/bus I/O on a dedicated
// goroutine and hands completed transfers to, or pulls outgoing ones from,
// the session types defined here.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package core

import (
	"sync"

	"github.com/cyphal-go/cytx/cmn/atomic"
	"github.com/cyphal-go/cytx/cyphal"
)

// Session is the state shared by every input (subscriber/server) and output
// (publisher/client) session, regardless of which media layer owns it.
type Session struct {
	ID   string // stable key chosen by the owning transport (kind + specifier + remote)
	Spec cyphal.SessionSpecifier

	sessST atomic.Bool // active/inactive: set by any send or recv, cleared by the collector's tick

	time struct {
		ticks int // collector heap key: ticks remaining until teardown
		index int // collector heap index, maintained by container/heap
	}

	stats struct {
		transfers atomic.Int64
		frames    atomic.Int64
		bytes     atomic.Int64
		errors    atomic.Int64
		drops     atomic.Int64
	}

	mu      sync.Mutex
	closed  bool
	onClose func()
}

func NewSession(id string, spec cyphal.SessionSpecifier) *Session {
	return &Session{ID: id, Spec: spec}
}

func (s *Session) touch() {
	s.sessST.Store(true)
	s.time.ticks = idleTicks
}

func (s *Session) IsActive() bool { return s.sessST.Load() }

func (s *Session) recordSent(frames, n int) {
	s.stats.transfers.Inc()
	s.stats.frames.Add(int64(frames))
	s.stats.bytes.Add(int64(n))
	s.touch()
}

func (s *Session) recordRecv(frames, n int) {
	s.stats.transfers.Inc()
	s.stats.frames.Add(int64(frames))
	s.stats.bytes.Add(int64(n))
	s.touch()
}

func (s *Session) recordError() { s.stats.errors.Inc() }

func (s *Session) recordDrop(n int) { s.stats.drops.Add(int64(n)) }

// RecordSent, RecordError, and RecordDrop let transport packages outside
// core (can, ho, udp, serial) update statistics on the sessions they embed.
func (s *Session) RecordSent(frames, n int) { s.recordSent(frames, n) }
func (s *Session) RecordError()             { s.recordError() }
func (s *Session) RecordDrop(n int)         { s.recordDrop(n) }

// Stats is a point-in-time, eventually-consistent snapshot - counters are
// read without synchronizing with in-flight sends, matching how the rest of
// the stack treats statistics as advisory rather than authoritative.
type Stats = cyphal.Stats

func (s *Session) Stat() Stats {
	return Stats{
		Transfers:    s.stats.transfers.Load(),
		Frames:       s.stats.frames.Load(),
		PayloadBytes: s.stats.bytes.Load(),
		Errors:       s.stats.errors.Load(),
		Drops:        s.stats.drops.Load(),
	}
}

func (s *Session) Close(onIdle func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.onClose = onIdle
	if onIdle != nil {
		onIdle()
	}
}

func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
