// Package can: CAN input and output sessions, built on the transport-agnostic
// halves in cyphal/core and the CAN-specific frame reassembler/serializer.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package can

import (
	"sync"
	"time"

	"github.com/cyphal-go/cytx/cmn/atomic"
	"github.com/cyphal-go/cytx/cmn/nlog"
	"github.com/cyphal-go/cytx/cyphal"
	"github.com/cyphal-go/cytx/cyphal/core"
)

// FrameSink transmits one already-serialized CAN frame; implemented by the
// media driver (SocketCAN, a virtual bus for tests, and so on).
type FrameSink interface {
	Send(Frame) error
}

// InputSession is a promiscuous or selective CAN input session. A
// promiscuous session keeps one Reassembler per observed source node-ID,
// created lazily; a selective session keeps exactly one.
type InputSession struct {
	core.InputSession

	mu           sync.Mutex
	promiscuous  bool
	selectiveSrc cyphal.NodeID
	reassemblers map[cyphal.NodeID]*Reassembler
}

func NewInputSession(id string, spec cyphal.SessionSpecifier, meta cyphal.PayloadMetadata, capacity int) *InputSession {
	return &InputSession{
		InputSession: *core.NewInputSession(id, spec, meta, capacity),
		promiscuous:  spec.Promiscuous,
		selectiveSrc: spec.RemoteID,
		reassemblers: make(map[cyphal.NodeID]*Reassembler),
	}
}

// reassemblerFor returns (creating if necessary) the reassembler for src,
// rejecting sources a selective session does not accept.
func (s *InputSession) reassemblerFor(src cyphal.NodeID) *Reassembler {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.promiscuous && src != s.selectiveSrc {
		return nil
	}
	r, ok := s.reassemblers[src]
	if !ok {
		r = NewReassembler(s.Meta.Extent)
		s.reassemblers[src] = r
	}
	return r
}

// Accept folds one received CAN frame into the matching source's
// reassembler and, on a completed transfer, enqueues it.
func (s *InputSession) Accept(ts cyphal.Timestamp, src cyphal.NodeID, f Frame) {
	r := s.reassemblerFor(src)
	if r == nil {
		return
	}
	res, ok, rerr := r.Process(ts, s.TransferIDTimeout(), f)
	if !ok {
		if rerr != ErrNone {
			s.RecordReassemblyError(int(rerr))
		}
		return
	}
	s.Push(cyphal.TransferFrom{
		Transfer: cyphal.Transfer{
			Timestamp:  res.Timestamp,
			Specifier:  s.Spec.Data,
			TransferID: uint64(res.TransferID),
			Payload:    res.Payload,
		},
		Source: src,
	}, res.FrameCount)
}

// OutputSession is a broadcast or unicast CAN output session.
type OutputSession struct {
	core.OutputSession

	id         ID // destination/subject identity, minus the transfer-id-derived tail bits
	mtu        int
	sink       FrameSink
	nextTID    atomic64
	multiplier atomic.Int32
}

// atomic64 is a minimal monotonically-incrementing counter; transfer-ID
// sequencing does not need the full cmn/atomic surface.
type atomic64 struct {
	mu sync.Mutex
	v  uint64
}

func (a *atomic64) next() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	v := a.v
	a.v++
	return v
}

func NewOutputSession(idStr string, spec cyphal.SessionSpecifier, meta cyphal.PayloadMetadata, id ID, mtu int, sink FrameSink, allowUnicastMessage bool) (*OutputSession, error) {
	base, err := core.NewOutputSession(idStr, spec, meta, allowUnicastMessage)
	if err != nil {
		return nil, err
	}
	s := &OutputSession{OutputSession: *base, id: id, mtu: mtu, sink: sink}
	s.multiplier.Store(1)
	return s, nil
}

// SetMultiplier sets the number of times each transfer's frames are put on
// the wire back-to-back (spec.md's "redundant output": the same frames,
// same transfer-id, repeated M-1 additional times for unreliable media). m
// below 1 is clamped to 1.
func (s *OutputSession) SetMultiplier(m int) {
	if m < 1 {
		m = 1
	}
	s.multiplier.Store(int32(m))
}

// Send serializes transfer into CAN frames once and hands them to the sink,
// repeating the identical frame sequence (same transfer-id) Multiplier-1
// additional times. Only the first copy's outcome determines the return
// value and feedback delivery; errors on redundant copies are logged, not
// raised, per the "redundant output" contract.
func (s *OutputSession) Send(transfer cyphal.Transfer, deadline time.Time) (bool, error) {
	tid := s.nextTID.next()
	id := s.id
	id.Priority = transfer.Priority
	frames, err := Serialize(id, tid, transfer.Payload, s.mtu)
	if err != nil {
		return false, err
	}
	mult := int(s.multiplier.Load())
	if mult < 1 {
		mult = 1
	}
	s.MarkPending(tid, transfer.Timestamp)
	for copyN := 0; copyN < mult; copyN++ {
		for i, f := range frames {
			if !deadline.IsZero() && time.Now().After(deadline) {
				if copyN == 0 {
					return false, nil
				}
				return true, nil
			}
			if err := s.sink.Send(f); err != nil {
				s.RecordError()
				if copyN == 0 {
					return false, err
				}
				nlog.Warningf("can: output session %s: redundant copy %d/%d failed: %v", s.ID, copyN+1, mult, err)
				break
			}
			if copyN == 0 && i == 0 {
				s.Deliver(tid, cyphal.Now())
			}
		}
	}
	s.RecordSent(len(frames), transfer.Payload.Len())
	return true, nil
}
