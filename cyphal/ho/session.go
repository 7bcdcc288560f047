// Package ho: input and output sessions for the high-overhead wire format,
// shared by the UDP and serial media packages. Built on the
// transport-agnostic halves in cyphal/core plus this package's reassembler
// and serializer.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package ho

import (
	"sync"
	"time"

	"github.com/cyphal-go/cytx/cmn/atomic"
	"github.com/cyphal-go/cytx/cmn/nlog"
	"github.com/cyphal-go/cytx/cyphal"
	"github.com/cyphal-go/cytx/cyphal/core"
)

// FrameSink transmits one already-serialized high-overhead frame.
type FrameSink interface {
	Send(Frame) error
}

// InputSession is a promiscuous or selective high-overhead input session. A
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

// Accept folds one received high-overhead frame into the matching source's
// reassembler (or, for an anonymous sender, the stateless single-frame path)
// and, on a completed transfer, enqueues it.
func (s *InputSession) Accept(ts cyphal.Timestamp, src cyphal.NodeID, h Header, payload []byte) {
	var res Result
	var ok bool
	var rerr ReassemblyError
	if src == cyphal.AnonymousNode {
		res, ok, rerr = ConstructAnonymousTransfer(ts, h, payload)
	} else {
		r := s.reassemblerFor(src)
		if r == nil {
			return
		}
		res, ok, rerr = r.Process(ts, h, payload)
	}
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
			TransferID: res.TransferID,
			Payload:    res.Payload,
		},
		Source: src,
	}, res.FrameCount)
}

type tidCounter struct {
	mu sync.Mutex
	v  uint64
}

func (c *tidCounter) next() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.v
	c.v++
	return v
}

// OutputSession is a broadcast or unicast high-overhead output session.
type OutputSession struct {
	core.OutputSession

	hdr        Header // template: priority/src/dst/spec filled in, transfer-id/frame-index overwritten per send
	mtu        int
	sink       FrameSink
	tid        tidCounter
	multiplier atomic.Int32
}

func NewOutputSession(id string, spec cyphal.SessionSpecifier, meta cyphal.PayloadMetadata, hdr Header, mtu int, sink FrameSink, allowUnicastMessage bool) (*OutputSession, error) {
	base, err := core.NewOutputSession(id, spec, meta, allowUnicastMessage)
	if err != nil {
		return nil, err
	}
	s := &OutputSession{OutputSession: *base, hdr: hdr, mtu: mtu, sink: sink}
	s.multiplier.Store(1)
	return s, nil
}

// SetMultiplier sets the number of times each transfer's frames are put on
// the wire back-to-back; see can.OutputSession.SetMultiplier for the
// rationale. m below 1 is clamped to 1.
func (s *OutputSession) SetMultiplier(m int) {
	if m < 1 {
		m = 1
	}
	s.multiplier.Store(int32(m))
}

// Send serializes transfer into high-overhead frames once and hands them to
// the sink, repeating the identical frame sequence (same transfer-id)
// Multiplier-1 additional times. Only the first copy's outcome determines the
// return value and feedback delivery; errors on redundant copies are logged,
// not raised.
func (s *OutputSession) Send(transfer cyphal.Transfer, deadline time.Time) (bool, error) {
	tid := s.tid.next()
	h := s.hdr
	h.Priority = transfer.Priority
	h.TransferID = tid
	frames, err := Serialize(h, transfer.Payload, s.mtu)
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
				nlog.Warningf("ho: output session %s: redundant copy %d/%d failed: %v", s.ID, copyN+1, mult, err)
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
