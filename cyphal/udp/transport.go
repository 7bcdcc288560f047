// Package udp: the UDP/IP transport façade - one Reader per data specifier,
// one send socket, and the session registry. What a registry factory hands
// back to the application as a cyphal.Transport.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package udp

import (
	"fmt"
	"net"
	"sync"

	"github.com/cyphal-go/cytx/cyphal"
	"github.com/cyphal-go/cytx/cyphal/ho"
)

// Transport is one local UDP interface's worth of Cyphal/UDP transport
// state.
type Transport struct {
	local   cyphal.NodeID
	localIP net.IP
	mtu     int

	sendSock *Socket

	mu       sync.Mutex
	readers  map[cyphal.DataSpecifier]*Reader
	inputs   map[string]*ho.InputSession
	outputs  map[string]*ho.OutputSession
	closed   bool
	capture  func(cyphal.Timestamp, any)
}

// CaptureEvent is the payload handed to a capture hook for UDP: the parsed
// high-overhead frame and the peer address, tagged with direction.
type CaptureEvent struct {
	Frame ho.Frame
	Peer  *net.UDPAddr
	TX    bool
}

// NewTransport binds a send socket for local and returns a transport ready
// to construct sessions; localIP identifies this node's address for the
// self-reception filter in Reader.
func NewTransport(local cyphal.NodeID, localIP net.IP, mtu int) (*Transport, error) {
	sock, err := Dial()
	if err != nil {
		return nil, cyphal.NewErrInvalidMediaConfiguration("udp: dial failed: %v", err)
	}
	return &Transport{
		local:    local,
		localIP:  localIP,
		mtu:      mtu,
		sendSock: sock,
		readers:  make(map[cyphal.DataSpecifier]*Reader),
		inputs:   make(map[string]*ho.InputSession),
		outputs:  make(map[string]*ho.OutputSession),
	}, nil
}

func (t *Transport) LocalNodeID() cyphal.NodeID { return t.local }

// Capture installs the capture hook. Only transmitted frames are reported
// (TX is always true); datagrams received by the Readers are not captured.
func (t *Transport) Capture(handler func(cyphal.Timestamp, any)) {
	t.mu.Lock()
	t.capture = handler
	t.mu.Unlock()
}

func sessionKey(spec cyphal.SessionSpecifier) string {
	return fmt.Sprintf("%d/%d/%d/%v/%d", spec.Data.Kind, spec.Data.SubjectID, spec.Data.ServiceID, spec.Promiscuous, spec.RemoteID)
}

// readerFor returns (binding a new multicast socket if necessary) the
// Reader responsible for spec's data specifier; every session on the same
// subject/service shares one socket, since the group+port is the same for
// all of them.
func (t *Transport) readerFor(spec cyphal.DataSpecifier) (*Reader, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.readers[spec]; ok {
		return r, nil
	}
	group := Endpoint(spec, t.local)
	sock, err := Listen(group)
	if err != nil {
		return nil, cyphal.NewErrInvalidMediaConfiguration("udp: listen on %v failed: %v", group, err)
	}
	r := NewReader(sock, t.localIP, spec, t.mtu)
	t.readers[spec] = r
	go r.Run()
	return r, nil
}

func (t *Transport) NewInputSession(spec cyphal.SessionSpecifier, meta cyphal.PayloadMetadata) (cyphal.InputSession, error) {
	key := sessionKey(spec)
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, cyphal.NewErrResourceClosed("udp transport")
	}
	if s, ok := t.inputs[key]; ok {
		t.mu.Unlock()
		return s, nil
	}
	t.mu.Unlock()

	r, err := t.readerFor(spec.Data)
	if err != nil {
		return nil, err
	}
	s := ho.NewInputSession(key, spec, meta, 0)
	t.mu.Lock()
	t.inputs[key] = s
	t.mu.Unlock()
	if spec.Promiscuous {
		r.SetPromiscuous(s)
	} else {
		r.SetSelective(spec.RemoteID, s)
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
		return nil, cyphal.NewErrResourceClosed("udp transport")
	}
	if s, ok := t.outputs[key]; ok {
		return s, nil
	}
	hdr := ho.Header{Src: t.local, Spec: spec.Data}
	if spec.Data.IsService() {
		hdr.Dst = spec.RemoteID
	}
	sink := &outputSink{t: t, dst: Endpoint(spec.Data, spec.RemoteID)}
	allowUnicastMsg := false
	s, err := ho.NewOutputSession(key, spec, meta, hdr, t.mtu, sink, allowUnicastMsg)
	if err != nil {
		return nil, err
	}
	t.outputs[key] = s
	return s, nil
}

// outputSink adapts one destination UDP address to ho.FrameSink, feeding the
// transport's capture hook on the way out.
type outputSink struct {
	t   *Transport
	dst *net.UDPAddr
}

func (s *outputSink) Send(f ho.Frame) error {
	s.t.mu.Lock()
	cap := s.t.capture
	s.t.mu.Unlock()
	if cap != nil {
		cap(cyphal.Now(), CaptureEvent{Frame: f, Peer: s.dst, TX: true})
	}
	return s.t.sendSock.Send(s.dst, f)
}

// Close shuts down every reader and the send socket, and closes every
// session; idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	readers := t.readers
	inputs := t.inputs
	outputs := t.outputs
	t.mu.Unlock()

	var firstErr error
	for _, r := range readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, s := range inputs {
		s.Close(nil)
	}
	for _, s := range outputs {
		s.Close(nil)
	}
	if err := t.sendSock.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
