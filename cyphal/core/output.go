// Package core: the transport-agnostic half of an output session -
// construction-time broadcast/unicast validation and feedback callback
// management. Each transport embeds this and adds Send's actual
// serialize-and-transmit step, since frame formats differ per medium.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package core

import (
	"sync"

	"github.com/cyphal-go/cytx/cmn/nlog"
	"github.com/cyphal-go/cytx/cyphal"
)

// maxPendingFeedback bounds the number of in-flight "sent, awaiting
// loopback" entries kept per output session; once exceeded, the oldest
// entry is evicted and logged rather than growing without bound.
const maxPendingFeedback = 64

// OutputSession is embedded by every concrete output session.
type OutputSession struct {
	Session
	Meta cyphal.PayloadMetadata

	mu      sync.Mutex
	handler func(cyphal.Feedback)
	pending map[uint64]cyphal.Timestamp
	order   []uint64
}

// NewOutputSession validates spec against the Cyphal v1.0 broadcast/unicast
// rules before constructing the session: service transfers must be unicast,
// and unicast message transfers are only permitted when allowUnicastMessage
// is set (the experimental extension).
func NewOutputSession(id string, spec cyphal.SessionSpecifier, meta cyphal.PayloadMetadata, allowUnicastMessage bool) (*OutputSession, error) {
	if spec.Data.IsService() && spec.Promiscuous {
		return nil, cyphal.NewErrUnsupportedSessionConfiguration("service transfers shall be unicast")
	}
	if !spec.Data.IsService() && !spec.Promiscuous && !allowUnicastMessage {
		return nil, cyphal.NewErrUnsupportedSessionConfiguration("unicast message transfers are an experimental extension, not enabled on this transport")
	}
	return &OutputSession{
		Session: *NewSession(id, spec),
		Meta:    meta,
		pending: make(map[uint64]cyphal.Timestamp),
	}, nil
}

// EnableFeedback installs handler, replacing any previously installed one.
func (s *OutputSession) EnableFeedback(handler func(cyphal.Feedback)) {
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()
}

// DisableFeedback removes the handler; subsequent transmissions stop
// tracking pending entries.
func (s *OutputSession) DisableFeedback() {
	s.mu.Lock()
	s.handler = nil
	s.pending = make(map[uint64]cyphal.Timestamp)
	s.order = nil
	s.mu.Unlock()
}

// MarkPending records that transferID's first frame is about to go out, so a
// later call to Deliver can look up the original transfer timestamp. Safe to
// call even when feedback is disabled; it is then a no-op.
func (s *OutputSession) MarkPending(transferID uint64, ts cyphal.Timestamp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handler == nil {
		return
	}
	if _, exists := s.pending[transferID]; !exists {
		if len(s.order) >= maxPendingFeedback {
			stale := s.order[0]
			s.order = s.order[1:]
			delete(s.pending, stale)
			nlog.Warningf("core: output session %s: pending feedback overflow, dropping entry for transfer %d", s.ID, stale)
		}
		s.order = append(s.order, transferID)
	}
	s.pending[transferID] = ts
}

// Deliver is invoked by the media driver once the first frame of
// transferID has actually left the node; it looks up the matching pending
// entry and, if feedback is enabled, invokes the handler with the resulting
// Feedback value.
func (s *OutputSession) Deliver(transferID uint64, firstFrameTx cyphal.Timestamp) {
	s.mu.Lock()
	handler := s.handler
	orig, ok := s.pending[transferID]
	if ok {
		delete(s.pending, transferID)
		for i, id := range s.order {
			if id == transferID {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()
	if handler != nil && ok {
		handler(cyphal.Feedback{OriginalTransmissionTimestamp: orig, FirstFrameTransmissionTimestamp: firstFrameTx})
	}
}
