// Package redundant aggregates N "inferior" cyphal.Transport instances
// (typically one per physical interface, possibly of different media) into
// one that application code talks to exactly like a single transport:
// outgoing transfers are broadcast to every inferior with an optional
// transfer multiplier, and incoming ones are deduplicated by transfer
// identity before being handed to the caller.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package redundant

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/OneOfOne/xxhash"
	"golang.org/x/sync/errgroup"

	"github.com/cyphal-go/cytx/cmn/nlog"
	"github.com/cyphal-go/cytx/cmn/prob"
	"github.com/cyphal-go/cytx/cyphal"
)

// dedupSeed is an arbitrary fixed seed for the xxhash dedup key, kept
// distinct from any protocol CRC - this is purely a local fingerprint, never
// sent on the wire.
const dedupSeed = 0x63797068 // "cyph"

func dedupKey(src cyphal.NodeID, spec cyphal.DataSpecifier, transferID uint64) uint64 {
	var b [2 + 1 + 4 + 2 + 8]byte
	binary.LittleEndian.PutUint16(b[0:], uint16(src))
	b[2] = byte(spec.Kind)
	binary.LittleEndian.PutUint32(b[3:], spec.SubjectID)
	binary.LittleEndian.PutUint16(b[7:], spec.ServiceID)
	binary.LittleEndian.PutUint64(b[9:], transferID)
	return xxhash.Checksum64S(b[:], dedupSeed)
}

// Transport aggregates inferiors []cyphal.Transport. All inferiors must
// share the same local node-ID; the first inferior's is reported.
type Transport struct {
	inferiors []cyphal.Transport

	mu                sync.Mutex
	inputs            map[string]*InputSession
	outputs           map[string]*OutputSession
	closed            bool
	serviceMultiplier int
}

// New constructs a redundant transport over inferiors, which must be
// non-empty.
func New(inferiors []cyphal.Transport) *Transport {
	return &Transport{
		inferiors:         inferiors,
		inputs:            make(map[string]*InputSession),
		outputs:           make(map[string]*OutputSession),
		serviceMultiplier: 1,
	}
}

// SetServiceMultiplier sets the retransmit count applied to output sessions
// opened for service (request/response) data specifiers from this point on -
// the `udp.duplicate_service_transfers` registry key's effect (spec.md §6).
// Message sessions are unaffected: multiplying best-effort broadcast traffic
// is a bandwidth/latency tradeoff the spec reserves for services only.
func (t *Transport) SetServiceMultiplier(m int) {
	if m < 1 {
		m = 1
	}
	t.mu.Lock()
	t.serviceMultiplier = m
	t.mu.Unlock()
}

func (t *Transport) LocalNodeID() cyphal.NodeID {
	if len(t.inferiors) == 0 {
		return cyphal.AnonymousNode
	}
	return t.inferiors[0].LocalNodeID()
}

// Capture installs handler on every inferior; a capture event observed on
// any interface is reported, tagged by that interface's own event payload
// type (the redundant layer does not wrap or normalize it).
func (t *Transport) Capture(handler func(cyphal.Timestamp, any)) {
	for _, inf := range t.inferiors {
		inf.Capture(handler)
	}
}

func (t *Transport) NewInputSession(spec cyphal.SessionSpecifier, meta cyphal.PayloadMetadata) (cyphal.InputSession, error) {
	key := keyOf(spec)
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, cyphal.NewErrResourceClosed("redundant transport")
	}
	if s, ok := t.inputs[key]; ok {
		t.mu.Unlock()
		return s, nil
	}
	t.mu.Unlock()

	inferiors := make([]cyphal.InputSession, 0, len(t.inferiors))
	for _, inf := range t.inferiors {
		s, err := inf.NewInputSession(spec, meta)
		if err != nil {
			for _, opened := range inferiors {
				opened.Close(nil)
			}
			return nil, err
		}
		inferiors = append(inferiors, s)
	}
	s := newInputSession(inferiors)

	t.mu.Lock()
	t.inputs[key] = s
	t.mu.Unlock()
	return s, nil
}

func (t *Transport) NewOutputSession(spec cyphal.SessionSpecifier, meta cyphal.PayloadMetadata) (cyphal.OutputSession, error) {
	key := keyOf(spec)
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, cyphal.NewErrResourceClosed("redundant transport")
	}
	if s, ok := t.outputs[key]; ok {
		t.mu.Unlock()
		return s, nil
	}
	t.mu.Unlock()

	inferiors := make([]cyphal.OutputSession, 0, len(t.inferiors))
	for _, inf := range t.inferiors {
		s, err := inf.NewOutputSession(spec, meta)
		if err != nil {
			for _, opened := range inferiors {
				opened.Close(nil)
			}
			return nil, err
		}
		inferiors = append(inferiors, s)
	}
	mult := 1
	if spec.Data.IsService() {
		t.mu.Lock()
		mult = t.serviceMultiplier
		t.mu.Unlock()
	}
	s := newOutputSession(inferiors, mult)
	s.applyMultiplier()

	t.mu.Lock()
	t.outputs[key] = s
	t.mu.Unlock()
	return s, nil
}

func keyOf(spec cyphal.SessionSpecifier) string {
	return fmt.Sprintf("%d/%d/%d/%v/%d", spec.Data.Kind, spec.Data.SubjectID, spec.Data.ServiceID, spec.Promiscuous, spec.RemoteID)
}

// Close closes every inferior concurrently, via errgroup, and returns the
// first error (if any); every inferior is still given the chance to close
// even if an earlier one fails.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	var g errgroup.Group
	for _, inf := range t.inferiors {
		inf := inf
		g.Go(func() error {
			if err := inf.Close(); err != nil {
				nlog.Warningf("redundant: inferior close failed: %v", err)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// InputSession merges completed transfers from every inferior input session
// of the same specifier, deduplicating by (source, specifier, transfer-id)
// so that a transfer sent with multiplier M>=2 is observed exactly once.
type InputSession struct {
	inferiors []cyphal.InputSession
	spec      cyphal.DataSpecifier
	seen      *prob.Filter

	doneCh chan struct{}
	once   sync.Once
}

func newInputSession(inferiors []cyphal.InputSession) *InputSession {
	s := &InputSession{inferiors: inferiors, seen: prob.NewFilter(1 << 12), doneCh: make(chan struct{})}
	return s
}

// Receive polls every inferior once per iteration until one yields a fresh
// (non-duplicate) transfer or deadline elapses; this keeps the redundant
// layer single-threaded from the caller's perspective without needing a
// fan-in goroutine per inferior.
func (s *InputSession) Receive(deadline time.Time) (cyphal.TransferFrom, bool, error) {
	pastDeadline := time.Unix(0, 0)
	poll := func() (cyphal.TransferFrom, bool, error, bool) {
		for _, inf := range s.inferiors {
			t, ok, err := inf.Receive(pastDeadline) // non-blocking poll: deadline already past
			if err != nil {
				return t, false, err, true
			}
			if !ok {
				continue
			}
			key := dedupKey(t.Source, t.Specifier, t.TransferID)
			if s.seen.Lookup(uint64Bytes(key)) {
				continue // already delivered via another inferior
			}
			s.seen.Insert(uint64Bytes(key))
			return t, true, nil, true
		}
		return cyphal.TransferFrom{}, false, nil, false
	}

	if t, ok, err, _ := poll(); ok || err != nil {
		return t, ok, err
	}
	if !deadline.After(time.Now()) {
		return cyphal.TransferFrom{}, false, nil
	}

	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if t, ok, err, _ := poll(); ok || err != nil {
				return t, ok, err
			}
		case <-time.After(time.Until(deadline)):
			return cyphal.TransferFrom{}, false, nil
		}
	}
}

func uint64Bytes(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

// Stat sums the per-inferior snapshots; this is an approximation (the same
// transfer may be counted once per inferior before dedup), noted here
// rather than hidden.
func (s *InputSession) Stat() cyphal.Stats {
	var out cyphal.Stats
	for _, inf := range s.inferiors {
		st := inf.Stat()
		out.Transfers += st.Transfers
		out.Frames += st.Frames
		out.PayloadBytes += st.PayloadBytes
		out.Errors += st.Errors
		out.Drops += st.Drops
	}
	return out
}

func (s *InputSession) TransferIDTimeout() time.Duration {
	if len(s.inferiors) == 0 {
		return 0
	}
	return s.inferiors[0].TransferIDTimeout()
}

func (s *InputSession) SetTransferIDTimeout(d time.Duration) error {
	for _, inf := range s.inferiors {
		if err := inf.SetTransferIDTimeout(d); err != nil {
			return err
		}
	}
	return nil
}

func (s *InputSession) Close(onIdle func()) {
	s.once.Do(func() { close(s.doneCh) })
	for _, inf := range s.inferiors {
		inf.Close(nil)
	}
	if onIdle != nil {
		onIdle()
	}
}

func (s *InputSession) IsClosed() bool {
	select {
	case <-s.doneCh:
		return true
	default:
		return false
	}
}

// multiplierSetter is implemented by the concrete can/ho output sessions;
// when an inferior supports it, the multiplier is pushed down so the SAME
// frames (same transfer-id) are repeated on the wire, rather than this layer
// re-serializing a fresh transfer-id per copy - the dedup invariant in
// spec.md §4.4 depends on every copy sharing one transfer-id.
type multiplierSetter interface {
	SetMultiplier(int)
}

// OutputSession fans Send out to every inferior concurrently; a transfer
// multiplier configured at session-open time is delegated to each inferior
// that supports it (see multiplierSetter) instead of being applied here.
// The first successful inferior send counts as overall success; errors on
// any one inferior are logged, not raised (spec.md §4.4).
type OutputSession struct {
	inferiors  []cyphal.OutputSession
	multiplier int
}

func newOutputSession(inferiors []cyphal.OutputSession, multiplier int) *OutputSession {
	if multiplier < 1 {
		multiplier = 1
	}
	return &OutputSession{inferiors: inferiors, multiplier: multiplier}
}

// applyMultiplier pushes the configured multiplier down to every inferior
// output session capable of repeating a transfer's frames itself.
func (s *OutputSession) applyMultiplier() {
	for _, inf := range s.inferiors {
		if ms, ok := inf.(multiplierSetter); ok {
			ms.SetMultiplier(s.multiplier)
		}
	}
}

// SetMultiplier adjusts the redundant retransmit count for subsequent sends.
func (s *OutputSession) SetMultiplier(m int) {
	if m < 1 {
		m = 1
	}
	s.multiplier = m
	s.applyMultiplier()
}

func (s *OutputSession) Send(transfer cyphal.Transfer, deadline time.Time) (bool, error) {
	var g errgroup.Group
	results := make([]bool, len(s.inferiors))
	for i, inf := range s.inferiors {
		i, inf := i, inf
		g.Go(func() error {
			ok, err := inf.Send(transfer, deadline)
			if err != nil {
				nlog.Warningf("redundant: inferior send failed: %v", err)
			}
			results[i] = ok
			return nil
		})
	}
	_ = g.Wait()

	for _, ok := range results {
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (s *OutputSession) EnableFeedback(handler func(cyphal.Feedback)) {
	for _, inf := range s.inferiors {
		inf.EnableFeedback(handler)
	}
}

func (s *OutputSession) DisableFeedback() {
	for _, inf := range s.inferiors {
		inf.DisableFeedback()
	}
}

func (s *OutputSession) Stat() cyphal.Stats {
	var out cyphal.Stats
	for _, inf := range s.inferiors {
		st := inf.Stat()
		out.Transfers += st.Transfers
		out.Frames += st.Frames
		out.PayloadBytes += st.PayloadBytes
		out.Errors += st.Errors
		out.Drops += st.Drops
	}
	return out
}

func (s *OutputSession) Close(onIdle func()) {
	for _, inf := range s.inferiors {
		inf.Close(nil)
	}
	if onIdle != nil {
		onIdle()
	}
}

func (s *OutputSession) IsClosed() bool {
	for _, inf := range s.inferiors {
		if !inf.IsClosed() {
			return false
		}
	}
	return true
}
