// Package can: OutputSession multiplier tests against a recording sink.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package can_test

import (
	"sync"
	"testing"
	"time"

	"github.com/cyphal-go/cytx/cyphal"
	"github.com/cyphal-go/cytx/cyphal/can"
)

type recordingSink struct {
	mu    sync.Mutex
	sent  []can.Frame
	errAt int // index of the Send call to fail, -1 for never
}

func (s *recordingSink) Send(f can.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errAt >= 0 && len(s.sent) == s.errAt {
		s.sent = append(s.sent, f)
		return errBoom
	}
	s.sent = append(s.sent, f)
	return nil
}

var errBoom = &testErr{"boom"}

type testErr struct{ s string }

func (e *testErr) Error() string { return e.s }

func newOutputSession(t *testing.T, sink *recordingSink, spec cyphal.SessionSpecifier) *can.OutputSession {
	t.Helper()
	id := can.ID{Spec: spec.Data, SrcNode: 1}
	if spec.Data.IsService() {
		id.DstNode = spec.RemoteID
	}
	s, err := can.NewOutputSession("k", spec, cyphal.PayloadMetadata{Extent: 64}, id, 8, sink, false)
	if err != nil {
		t.Fatalf("NewOutputSession: %v", err)
	}
	return s
}

func TestOutputSession_DefaultMultiplierSendsOnce(t *testing.T) {
	sink := &recordingSink{errAt: -1}
	spec := cyphal.SessionSpecifier{Data: cyphal.NewMessageSpecifier(1), Promiscuous: true}
	s := newOutputSession(t, sink, spec)

	ok, err := s.Send(cyphal.Transfer{Priority: cyphal.PriorityNominal, Specifier: spec.Data, Payload: cyphal.FragmentedPayload{[]byte("x")}}, time.Time{})
	if err != nil || !ok {
		t.Fatalf("Send: ok=%v err=%v", ok, err)
	}
	if len(sink.sent) != 1 {
		t.Fatalf("sink recorded %d frames, want 1", len(sink.sent))
	}
}

func TestOutputSession_MultiplierRepeatsIdenticalTransferID(t *testing.T) {
	sink := &recordingSink{errAt: -1}
	spec := cyphal.SessionSpecifier{Data: cyphal.NewMessageSpecifier(2), Promiscuous: true}
	s := newOutputSession(t, sink, spec)
	s.SetMultiplier(3)

	ok, err := s.Send(cyphal.Transfer{Priority: cyphal.PriorityNominal, Specifier: spec.Data, Payload: cyphal.FragmentedPayload{[]byte("x")}}, time.Time{})
	if err != nil || !ok {
		t.Fatalf("Send: ok=%v err=%v", ok, err)
	}
	if len(sink.sent) != 3 {
		t.Fatalf("sink recorded %d frames, want 3", len(sink.sent))
	}
	for i, f := range sink.sent {
		if f.TransferIDMod32 != sink.sent[0].TransferIDMod32 {
			t.Errorf("frame %d: transfer-id mod32 = %d, want %d (identical across all copies)", i, f.TransferIDMod32, sink.sent[0].TransferIDMod32)
		}
	}
}

func TestOutputSession_MultiplierClampsBelowOne(t *testing.T) {
	sink := &recordingSink{errAt: -1}
	spec := cyphal.SessionSpecifier{Data: cyphal.NewMessageSpecifier(3), Promiscuous: true}
	s := newOutputSession(t, sink, spec)
	s.SetMultiplier(0)

	if _, err := s.Send(cyphal.Transfer{Priority: cyphal.PriorityNominal, Specifier: spec.Data, Payload: cyphal.FragmentedPayload{[]byte("x")}}, time.Time{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(sink.sent) != 1 {
		t.Fatalf("sink recorded %d frames, want 1 (multiplier clamped to 1)", len(sink.sent))
	}
}

func TestOutputSession_FirstCopyErrorIsRaised(t *testing.T) {
	sink := &recordingSink{errAt: 0}
	spec := cyphal.SessionSpecifier{Data: cyphal.NewMessageSpecifier(4), Promiscuous: true}
	s := newOutputSession(t, sink, spec)
	s.SetMultiplier(3)

	ok, err := s.Send(cyphal.Transfer{Priority: cyphal.PriorityNominal, Specifier: spec.Data, Payload: cyphal.FragmentedPayload{[]byte("x")}}, time.Time{})
	if err == nil {
		t.Fatal("expected an error from the first copy's failed send")
	}
	if ok {
		t.Fatal("Send reported success despite the first copy failing")
	}
}

func TestOutputSession_RedundantCopyErrorIsSuppressed(t *testing.T) {
	sink := &recordingSink{errAt: 1} // the second copy's send fails
	spec := cyphal.SessionSpecifier{Data: cyphal.NewMessageSpecifier(5), Promiscuous: true}
	s := newOutputSession(t, sink, spec)
	s.SetMultiplier(3)

	ok, err := s.Send(cyphal.Transfer{Priority: cyphal.PriorityNominal, Specifier: spec.Data, Payload: cyphal.FragmentedPayload{[]byte("x")}}, time.Time{})
	if err != nil {
		t.Fatalf("Send: unexpected error from a redundant copy: %v", err)
	}
	if !ok {
		t.Fatal("Send reported failure despite the first copy succeeding")
	}
}
