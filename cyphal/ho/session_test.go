// Package ho: OutputSession multiplier tests against a recording sink.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package ho_test

import (
	"sync"
	"testing"
	"time"

	"github.com/cyphal-go/cytx/cyphal"
	"github.com/cyphal-go/cytx/cyphal/ho"
)

type recordingSink struct {
	mu    sync.Mutex
	sent  []ho.Frame
	errAt int
}

func (s *recordingSink) Send(f ho.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fail := s.errAt >= 0 && len(s.sent) == s.errAt
	s.sent = append(s.sent, f)
	if fail {
		return errBoom
	}
	return nil
}

var errBoom = &testErr{"boom"}

type testErr struct{ s string }

func (e *testErr) Error() string { return e.s }

func newOutputSession(t *testing.T, sink *recordingSink, spec cyphal.SessionSpecifier) *ho.OutputSession {
	t.Helper()
	hdr := ho.Header{Src: 1, Spec: spec.Data}
	if spec.Data.IsService() {
		hdr.Dst = spec.RemoteID
	}
	s, err := ho.NewOutputSession("k", spec, cyphal.PayloadMetadata{Extent: 256}, hdr, 256, sink, false)
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
	s.SetMultiplier(4)

	ok, err := s.Send(cyphal.Transfer{Priority: cyphal.PriorityNominal, Specifier: spec.Data, Payload: cyphal.FragmentedPayload{[]byte("x")}}, time.Time{})
	if err != nil || !ok {
		t.Fatalf("Send: ok=%v err=%v", ok, err)
	}
	if len(sink.sent) != 4 {
		t.Fatalf("sink recorded %d frames, want 4", len(sink.sent))
	}
	for i, f := range sink.sent {
		if f.Header.TransferID != sink.sent[0].Header.TransferID {
			t.Errorf("frame %d: transfer-id = %d, want %d (identical across all copies)", i, f.Header.TransferID, sink.sent[0].Header.TransferID)
		}
	}
}

func TestOutputSession_MultiplierAppliesAcrossMultiFrameTransfers(t *testing.T) {
	sink := &recordingSink{errAt: -1}
	spec := cyphal.SessionSpecifier{Data: cyphal.NewMessageSpecifier(3), Promiscuous: true}
	s := newOutputSession(t, sink, spec)
	s.SetMultiplier(2)

	payload := make([]byte, 600) // spans several 256-byte frames
	ok, err := s.Send(cyphal.Transfer{Priority: cyphal.PriorityNominal, Specifier: spec.Data, Payload: cyphal.FragmentedPayload{payload}}, time.Time{})
	if err != nil || !ok {
		t.Fatalf("Send: ok=%v err=%v", ok, err)
	}
	if len(sink.sent)%2 != 0 {
		t.Fatalf("sink recorded an odd number of frames (%d) for multiplier=2", len(sink.sent))
	}
	half := len(sink.sent) / 2
	for i := 0; i < half; i++ {
		if sink.sent[i].Header != sink.sent[half+i].Header {
			t.Errorf("frame %d header differs between copies: %+v vs %+v", i, sink.sent[i].Header, sink.sent[half+i].Header)
		}
	}
}

func TestOutputSession_RedundantCopyErrorIsSuppressed(t *testing.T) {
	sink := &recordingSink{errAt: 1}
	spec := cyphal.SessionSpecifier{Data: cyphal.NewMessageSpecifier(4), Promiscuous: true}
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
