// Package can: the CAN transport façade - owns the bus connection, the
// dispatch table, and every session, and is what a registry factory (see
// cyphal/registry) hands back to the application as a cyphal.Transport.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package can

import (
	"fmt"
	"sync"

	"github.com/cyphal-go/cytx/cmn/nlog"
	"github.com/cyphal-go/cytx/cyphal"
	"github.com/cyphal-go/cytx/cyphal/crc"
)

// RawFrame is one CAN 2.0/FD frame at the media boundary, before the
// Cyphal-specific ID/tail-byte parsing in this package is applied. A real
// driver (SocketCAN, a candump replay, a bench harness) implements Bus in
// terms of whatever frame type its kernel/library API hands back.
type RawFrame struct {
	ID   uint32
	Data []byte // includes the tail byte and any DLC padding
}

// Bus is the minimal media interface a CAN driver must satisfy. This package
// provides LoopbackBus and the read-only CandumpBus; there is no SocketCAN
// driver.
type Bus interface {
	Send(RawFrame) error
	Recv() (RawFrame, error) // blocks until a frame arrives or the bus closes
	Close() error
}

// Transport is one CAN interface's worth of Cyphal transport state: local
// node-ID, MTU (7 for classic CAN 2.0, up to 63 for CAN FD), the dispatch
// table, and the live session registry.
type Transport struct {
	local cyphal.NodeID
	mtu   int
	bus   Bus

	mu       sync.Mutex
	dispatch DispatchTable
	inputs   map[string]*InputSession
	outputs  map[string]*OutputSession
	closed   bool
	capture  func(cyphal.Timestamp, any)

	doneCh chan struct{}
	wg     sync.WaitGroup
}

// CaptureEvent is the payload handed to a capture hook: the raw bytes of
// one transmitted or received CAN frame, tagged with its direction.
type CaptureEvent struct {
	RawFrame
	TX bool
}

// NewTransport constructs a CAN transport bound to bus, with local as this
// node's identity (cyphal.AnonymousNode for an anonymous instance) and mtu
// as the per-frame payload budget excluding the tail byte. An mtu for which
// mtu+1 is not a DLC schedule entry is rounded down to one that is (8
// becomes 7), so that Pack never pads a non-last frame outside the CRC.
func NewTransport(local cyphal.NodeID, mtu int, bus Bus) *Transport {
	for mtu > 0 && RequiredPadding(mtu) != 0 {
		mtu--
	}
	t := &Transport{
		local:   local,
		mtu:     mtu,
		bus:     bus,
		inputs:  make(map[string]*InputSession),
		outputs: make(map[string]*OutputSession),
		doneCh:  make(chan struct{}),
	}
	t.wg.Add(1)
	go t.run()
	return t
}

func (t *Transport) LocalNodeID() cyphal.NodeID { return t.local }

func (t *Transport) Capture(handler func(cyphal.Timestamp, any)) {
	t.mu.Lock()
	t.capture = handler
	t.mu.Unlock()
}

func sessionKey(spec cyphal.SessionSpecifier) string {
	return fmt.Sprintf("%d/%d/%d/%v/%d", spec.Data.Kind, spec.Data.SubjectID, spec.Data.ServiceID, spec.Promiscuous, spec.RemoteID)
}

// NewInputSession returns the input session for spec, creating it on first
// request; repeated requests for an equal spec return the same object,
// satisfying the session-identity invariant (spec.md §3).
func (t *Transport) NewInputSession(spec cyphal.SessionSpecifier, meta cyphal.PayloadMetadata) (cyphal.InputSession, error) {
	key := sessionKey(spec)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, cyphal.NewErrResourceClosed("can transport")
	}
	if s, ok := t.inputs[key]; ok {
		return s, nil
	}
	s := NewInputSession(key, spec, meta, 0)
	t.inputs[key] = s
	t.dispatch.Add(spec.Data, spec.RemoteID, spec.Promiscuous, s)
	return s, nil
}

// NewOutputSession returns (creating if necessary) the output session for
// spec. Anonymous nodes may not address unicast service sessions, since a
// service reply has nowhere logical to come back to without a node-ID.
func (t *Transport) NewOutputSession(spec cyphal.SessionSpecifier, meta cyphal.PayloadMetadata) (cyphal.OutputSession, error) {
	if t.local == cyphal.AnonymousNode && spec.Data.IsService() {
		return nil, cyphal.NewErrOperationNotDefinedForAnonymousNode("anonymous node cannot open a service output session")
	}
	key := sessionKey(spec)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, cyphal.NewErrResourceClosed("can transport")
	}
	if s, ok := t.outputs[key]; ok {
		return s, nil
	}
	id := ID{Spec: spec.Data, SrcNode: t.local}
	if spec.Data.IsService() {
		id.DstNode = spec.RemoteID
	}
	allowUnicastMsg := false
	s, err := NewOutputSession(key, spec, meta, id, t.mtu, t, allowUnicastMsg)
	if err != nil {
		return nil, err
	}
	t.outputs[key] = s
	return s, nil
}

// Send implements FrameSink for every OutputSession this transport owns; it
// also feeds the capture hook, so transmitted frames are traceable the same
// way received ones are.
func (t *Transport) Send(f Frame) error {
	b, err := f.ID.Pack()
	if err != nil {
		return err
	}
	if !f.ID.Spec.IsService() && f.ID.SrcNode == cyphal.AnonymousNode {
		// pseudo-node-ID: the 5 low bits of the CRC-16 of the frame's payload
		// (anonymous transfers are single-frame)
		b |= uint32(crc.NewCRC16(f.Payload)) & 0x1F
	}
	raw := RawFrame{ID: b, Data: f.Pack()}
	t.mu.Lock()
	cap := t.capture
	t.mu.Unlock()
	if cap != nil {
		cap(cyphal.Now(), CaptureEvent{RawFrame: raw, TX: true})
	}
	return t.bus.Send(raw)
}

// run is the dedicated media-reading goroutine. Parsed frames are handed to
// session Accept methods, which only ever touch this transport's own session
// state; the one piece of user code it calls is the capture hook, which runs
// on this goroutine for every received frame.
func (t *Transport) run() {
	defer t.wg.Done()
	for {
		raw, err := t.bus.Recv()
		if err != nil {
			select {
			case <-t.doneCh:
				return
			default:
			}
			nlog.Warningf("can: bus recv error, transport stopping: %v", err)
			t.teardown()
			return
		}
		ts := cyphal.Now()
		t.mu.Lock()
		cap := t.capture
		t.mu.Unlock()
		if cap != nil {
			cap(ts, CaptureEvent{RawFrame: raw})
		}
		id, err := ParseID(raw.ID)
		if err != nil {
			continue // shared bus: not every frame is ours to parse
		}
		if id.Spec.IsService() && id.DstNode != t.local {
			continue // unicast service traffic addressed to another node
		}
		fr, err := UnpackPayload(raw.Data)
		if err != nil {
			continue
		}
		fr.ID = id
		src := id.SrcNode
		t.mu.Lock()
		listeners := t.dispatch.LookupAll(id.Spec, src)
		t.mu.Unlock()
		for _, l := range listeners {
			l.(*InputSession).Accept(ts, src, fr)
		}
	}
}

func (t *Transport) teardown() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	inputs := t.inputs
	outputs := t.outputs
	t.mu.Unlock()
	for _, s := range inputs {
		s.Close(nil)
	}
	for _, s := range outputs {
		s.Close(nil)
	}
}

// Close shuts the bus down and closes every session this transport owns;
// idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()
	close(t.doneCh)
	err := t.bus.Close()
	t.wg.Wait()
	t.teardown()
	return err
}
