// Package core: the transport-agnostic half of an input session - the
// completed-transfer queue, deadline-based receive, and the transfer-ID
// timeout setting. Media-specific packages (can, ho) embed this and add
// their own per-source reassembler bookkeeping on top, since the reassembler
// type (and its transfer-ID width) differs per wire format.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package core

import (
	"sync"
	"time"

	"github.com/cyphal-go/cytx/cmn/atomic"
	"github.com/cyphal-go/cytx/cyphal"
)

// DefaultTransferIDTimeout is the Cyphal-specified default, used until a
// caller overrides it with SetTransferIDTimeout.
const DefaultTransferIDTimeout = 2 * time.Second

// InputSession is embedded by every concrete input session. It owns the
// bounded completed-transfer queue and blocking receive, independent of how
// transfers are assembled.
type InputSession struct {
	Session
	Meta cyphal.PayloadMetadata

	tidTimeoutNs atomic.Int64

	capacity int // <= 0 selects the default queue size of 4096
	queueCh  chan cyphal.TransferFrom
	doneCh   chan struct{}
	once     sync.Once

	mu        sync.Mutex
	errByKind map[int]int64 // per-reassembly-error-code breakdown
}

// NewInputSession constructs the generic half of an input session. capacity
// <= 0 gives a completed-transfer queue of 4096 entries; the queue is never
// unbounded, and Push drops transfers once it is full.
func NewInputSession(id string, spec cyphal.SessionSpecifier, meta cyphal.PayloadMetadata, capacity int) *InputSession {
	s := &InputSession{
		Session:   *NewSession(id, spec),
		Meta:      meta,
		capacity:  capacity,
		doneCh:    make(chan struct{}),
		errByKind: make(map[int]int64),
	}
	s.tidTimeoutNs.Store(int64(DefaultTransferIDTimeout))
	if capacity > 0 {
		s.queueCh = make(chan cyphal.TransferFrom, capacity)
	} else {
		s.queueCh = make(chan cyphal.TransferFrom, 4096)
	}
	return s
}

func (s *InputSession) TransferIDTimeout() time.Duration {
	return time.Duration(s.tidTimeoutNs.Load())
}

// SetTransferIDTimeout validates d is strictly positive, matching the
// contract's rejection of non-positive overrides.
func (s *InputSession) SetTransferIDTimeout(d time.Duration) error {
	if d <= 0 {
		return cyphal.NewErrInvalidTransportConfiguration("transfer-ID timeout must be positive, got %s", d)
	}
	s.tidTimeoutNs.Store(int64(d))
	return nil
}

// Push enqueues a reassembled transfer. If the queue is full, the transfer
// is dropped and the drop counter is incremented by its fragment count
// rather than blocking the demultiplexer that feeds every session.
func (s *InputSession) Push(t cyphal.TransferFrom, frames int) {
	select {
	case s.queueCh <- t:
		s.recordRecv(frames, t.Payload.Len())
	default:
		s.recordDrop(frames)
	}
}

// RecordReassemblyError tallies a reassembly failure under its error code,
// for the per-error-code breakdown ErrorBreakdown exposes, in addition to
// the plain error counter inherited from Session.
func (s *InputSession) RecordReassemblyError(code int) {
	s.recordError()
	s.mu.Lock()
	s.errByKind[code]++
	s.mu.Unlock()
}

// ErrorBreakdown returns a snapshot of reassembly errors by error code.
func (s *InputSession) ErrorBreakdown() map[int]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]int64, len(s.errByKind))
	for k, v := range s.errByKind {
		out[k] = v
	}
	return out
}

// Receive blocks cooperatively until a transfer is available or deadline
// passes. A deadline already in the past is polled once without yielding.
// Returns ok=false with a nil error on timeout; returns ErrResourceClosed
// once the session is closed and the queue has drained.
func (s *InputSession) Receive(deadline time.Time) (t cyphal.TransferFrom, ok bool, err error) {
	now := time.Now()
	if !deadline.After(now) {
		select {
		case t, open := <-s.queueCh:
			if !open {
				return t, false, cyphal.NewErrResourceClosed("input session")
			}
			return t, true, nil
		default:
			select {
			case <-s.doneCh:
				return t, false, cyphal.NewErrResourceClosed("input session")
			default:
				return t, false, nil
			}
		}
	}

	timer := time.NewTimer(deadline.Sub(now))
	defer timer.Stop()
	select {
	case t, open := <-s.queueCh:
		if !open {
			return t, false, cyphal.NewErrResourceClosed("input session")
		}
		return t, true, nil
	case <-s.doneCh:
		// drain whatever is already queued before reporting closure.
		select {
		case t, open := <-s.queueCh:
			if open {
				return t, true, nil
			}
		default:
		}
		return t, false, cyphal.NewErrResourceClosed("input session")
	case <-timer.C:
		return t, false, nil
	}
}

// Close marks the session closed and wakes any blocked Receive; onIdle runs
// under the same idempotence guarantee as Session.Close.
func (s *InputSession) Close(onIdle func()) {
	s.once.Do(func() { close(s.doneCh) })
	s.Session.Close(onIdle)
}
