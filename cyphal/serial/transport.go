// Package serial: the byte-stream transport façade. Unlike UDP, a serial
// line carries every subject and service multiplexed over one stream, so
// demultiplexing happens in software against a single reader goroutine
// instead of one socket per data specifier.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package serial

import (
	"fmt"
	"io"
	"sync"

	"github.com/cyphal-go/cytx/cmn/nlog"
	"github.com/cyphal-go/cytx/cyphal"
	"github.com/cyphal-go/cytx/cyphal/ho"
)

// listener receives every frame that parsed; frames that fail to parse are
// dropped by Link.Recv and never reach a listener.
type listener interface {
	Accept(ts cyphal.Timestamp, src cyphal.NodeID, h ho.Header, payload []byte)
}

// Transport is one serial link's worth of Cyphal transport state.
type Transport struct {
	local cyphal.NodeID
	mtu   int
	link  *Link

	mu          sync.Mutex
	promiscuous map[cyphal.DataSpecifier]listener
	selective   map[cyphal.DataSpecifier]map[cyphal.NodeID]listener
	inputs      map[string]*ho.InputSession
	outputs     map[string]*ho.OutputSession
	closed      bool
	capture     func(cyphal.Timestamp, any)

	doneCh chan struct{}
	wg     sync.WaitGroup
}

// CaptureEvent is the payload handed to a capture hook for serial.
type CaptureEvent struct {
	Frame ho.Frame
	TX    bool
}

// NewTransport wraps rw (a UART, a pty, anything io.ReadWriter) as a Cyphal
// serial transport for local node local with per-frame payload budget mtu.
func NewTransport(local cyphal.NodeID, mtu int, rw io.ReadWriter) *Transport {
	t := &Transport{
		local:       local,
		mtu:         mtu,
		link:        NewLink(rw),
		promiscuous: make(map[cyphal.DataSpecifier]listener),
		selective:   make(map[cyphal.DataSpecifier]map[cyphal.NodeID]listener),
		inputs:      make(map[string]*ho.InputSession),
		outputs:     make(map[string]*ho.OutputSession),
		doneCh:      make(chan struct{}),
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

func (t *Transport) NewInputSession(spec cyphal.SessionSpecifier, meta cyphal.PayloadMetadata) (cyphal.InputSession, error) {
	key := sessionKey(spec)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, cyphal.NewErrResourceClosed("serial transport")
	}
	if s, ok := t.inputs[key]; ok {
		return s, nil
	}
	s := ho.NewInputSession(key, spec, meta, 0)
	t.inputs[key] = s
	if spec.Promiscuous {
		t.promiscuous[spec.Data] = s
	} else {
		m, ok := t.selective[spec.Data]
		if !ok {
			m = make(map[cyphal.NodeID]listener)
			t.selective[spec.Data] = m
		}
		m[spec.RemoteID] = s
	}
	return s, nil
}

func (t *Transport) NewOutputSession(spec cyphal.SessionSpecifier, meta cyphal.PayloadMetadata) (cyphal.OutputSession, error) {
	if t.local == cyphal.AnonymousNode && spec.Data.IsService() {
		return nil, cyphal.NewErrOperationNotDefinedForAnonymousNode("anonymous node cannot open a service output session")
	}
	key := sessionKey(spec)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, cyphal.NewErrResourceClosed("serial transport")
	}
	if s, ok := t.outputs[key]; ok {
		return s, nil
	}
	hdr := ho.Header{Src: t.local, Spec: spec.Data}
	if spec.Data.IsService() {
		hdr.Dst = spec.RemoteID
	}
	allowUnicastMsg := false
	s, err := ho.NewOutputSession(key, spec, meta, hdr, t.mtu, &sink{t}, allowUnicastMsg)
	if err != nil {
		return nil, err
	}
	t.outputs[key] = s
	return s, nil
}

type sink struct{ t *Transport }

func (s *sink) Send(f ho.Frame) error {
	s.t.mu.Lock()
	cap := s.t.capture
	s.t.mu.Unlock()
	if cap != nil {
		cap(cyphal.Now(), CaptureEvent{Frame: f, TX: true})
	}
	return s.t.link.Send(f)
}

// run reads frames off the link and fans each one out to the matching
// selective and/or promiscuous listener, the same two-listener contract
// cyphal/udp's Reader implements for its own media.
func (t *Transport) run() {
	defer t.wg.Done()
	for {
		f, err := t.link.Recv()
		if err != nil {
			select {
			case <-t.doneCh:
				return
			default:
			}
			nlog.Warningf("serial: link recv error, transport stopping: %v", err)
			t.teardown()
			return
		}
		ts := cyphal.Now()
		t.mu.Lock()
		cap := t.capture
		t.mu.Unlock()
		if cap != nil {
			cap(ts, CaptureEvent{Frame: f})
		}
		src := f.Header.Src
		t.mu.Lock()
		prom := t.promiscuous[f.Header.Spec]
		var sel listener
		if m, ok := t.selective[f.Header.Spec]; ok {
			sel = m[src]
		}
		t.mu.Unlock()
		if prom != nil {
			prom.Accept(ts, src, f.Header, f.Payload)
		}
		if sel != nil {
			sel.Accept(ts, src, f.Header, f.Payload)
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

// Close stops the reader goroutine and closes every session; idempotent.
// If rw also implements io.Closer it is closed too, which unblocks the
// reader goroutine.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()
	close(t.doneCh)
	if c, ok := t.link.rw.(io.Closer); ok {
		_ = c.Close()
	}
	t.wg.Wait()
	t.teardown()
	return nil
}
