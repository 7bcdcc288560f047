// Package tracer: alien-capture reassembly tests for both media families.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package tracer_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/cyphal-go/cytx/cyphal"
	"github.com/cyphal-go/cytx/cyphal/can"
	"github.com/cyphal-go/cytx/cyphal/ho"
	"github.com/cyphal-go/cytx/cyphal/tracer"
)

func canRawFrame(t *testing.T, id can.ID, f can.Frame) can.RawFrame {
	t.Helper()
	packed, err := id.Pack()
	if err != nil {
		t.Fatalf("ID.Pack: %v", err)
	}
	return can.RawFrame{ID: packed, Data: f.Pack()}
}

func TestCANTracer_SingleFrameTransfer(t *testing.T) {
	tr := tracer.NewCANTracer()
	id := can.ID{Priority: cyphal.PriorityNominal, Spec: cyphal.NewMessageSpecifier(5), SrcNode: 3}
	frames, err := can.Serialize(id, 0, cyphal.FragmentedPayload{[]byte("hi")}, 8)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	raw := canRawFrame(t, id, frames[0])

	trace := tr.Update(cyphal.Now(), raw)
	if trace.Kind != tracer.KindTransfer {
		t.Fatalf("Kind = %v, want KindTransfer", trace.Kind)
	}
	if !bytes.Equal(trace.Transfer.Payload.Flatten(), []byte("hi")) {
		t.Errorf("payload = %q, want %q", trace.Transfer.Payload.Flatten(), "hi")
	}
	if trace.Transfer.Source != 3 {
		t.Errorf("Source = %d, want 3", trace.Transfer.Source)
	}
}

func TestCANTracer_MultiFrameAccumulatesAcrossUpdates(t *testing.T) {
	tr := tracer.NewCANTracer()
	id := can.ID{Priority: cyphal.PriorityNominal, Spec: cyphal.NewMessageSpecifier(6), SrcNode: 4}
	payload := make([]byte, 40)
	for i := range payload {
		payload[i] = byte(i)
	}
	frames, err := can.Serialize(id, 1, cyphal.FragmentedPayload{payload}, 8)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if len(frames) < 2 {
		t.Fatalf("expected a multi-frame transfer, got %d frame(s)", len(frames))
	}

	var last tracer.Trace
	for i, f := range frames {
		last = tr.Update(cyphal.Now(), canRawFrame(t, id, f))
		if i < len(frames)-1 && last.Kind == tracer.KindTransfer {
			t.Fatalf("transfer completed early at frame %d of %d", i, len(frames))
		}
	}
	if last.Kind != tracer.KindTransfer {
		t.Fatalf("final Kind = %v, want KindTransfer", last.Kind)
	}
	if !bytes.Equal(last.Transfer.Payload.Flatten(), payload) {
		t.Errorf("payload mismatch: got %d bytes, want %d", last.Transfer.Payload.Len(), len(payload))
	}
}

func TestCANTracer_MalformedCaptureIsOutOfBand(t *testing.T) {
	tr := tracer.NewCANTracer()
	trace := tr.Update(cyphal.Now(), can.RawFrame{ID: 0xFFFFFFFF, Data: nil})
	if trace.Kind != tracer.KindOutOfBand {
		t.Fatalf("Kind = %v, want KindOutOfBand", trace.Kind)
	}
}

func TestCANTracer_TracksMultipleSourcesIndependently(t *testing.T) {
	tr := tracer.NewCANTracer()
	idA := can.ID{Priority: cyphal.PriorityNominal, Spec: cyphal.NewMessageSpecifier(7), SrcNode: 1}
	idB := can.ID{Priority: cyphal.PriorityNominal, Spec: cyphal.NewMessageSpecifier(7), SrcNode: 2}
	fa, _ := can.Serialize(idA, 0, cyphal.FragmentedPayload{[]byte("a")}, 8)
	fb, _ := can.Serialize(idB, 0, cyphal.FragmentedPayload{[]byte("b")}, 8)

	ta := tr.Update(cyphal.Now(), canRawFrame(t, idA, fa[0]))
	tb := tr.Update(cyphal.Now(), canRawFrame(t, idB, fb[0]))
	if ta.Kind != tracer.KindTransfer || tb.Kind != tracer.KindTransfer {
		t.Fatalf("expected both to complete: a=%v b=%v", ta.Kind, tb.Kind)
	}
	if ta.Transfer.Source == tb.Transfer.Source {
		t.Fatal("sources should differ")
	}
}

func TestHOTracer_SingleFrameTransfer(t *testing.T) {
	tr := tracer.NewHOTracer()
	h := ho.Header{Priority: cyphal.PriorityNominal, Src: 9, Spec: cyphal.NewMessageSpecifier(11), TransferID: 3, EOT: true}
	frames, err := ho.Serialize(h, cyphal.FragmentedPayload{[]byte("payload")}, 256)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	trace := tr.Update(cyphal.Now(), frames[0])
	if trace.Kind != tracer.KindTransfer {
		t.Fatalf("Kind = %v, want KindTransfer", trace.Kind)
	}
	if !bytes.Equal(trace.Transfer.Payload.Flatten(), []byte("payload")) {
		t.Errorf("payload = %q, want %q", trace.Transfer.Payload.Flatten(), "payload")
	}
}

func TestHOTracer_AnonymousSourceUsesAnonymousConstruction(t *testing.T) {
	tr := tracer.NewHOTracer()
	h := ho.Header{Priority: cyphal.PriorityNominal, Src: cyphal.AnonymousNode, Spec: cyphal.NewMessageSpecifier(12), EOT: true}
	frames, err := ho.Serialize(h, cyphal.FragmentedPayload{[]byte("anon")}, 256)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	trace := tr.Update(cyphal.Now(), frames[0])
	if trace.Kind != tracer.KindTransfer {
		t.Fatalf("Kind = %v, want KindTransfer", trace.Kind)
	}
	if trace.Transfer.Source != cyphal.AnonymousNode {
		t.Errorf("Source = %d, want AnonymousNode", trace.Transfer.Source)
	}
}

func TestTrace_String(t *testing.T) {
	cases := []struct {
		kind tracer.Kind
		want string
	}{
		{kind: tracer.KindNone, want: "none"},
		{kind: tracer.KindOutOfBand, want: "out-of-band"},
		{kind: tracer.KindError, want: "reassembly error"},
	}
	for _, c := range cases {
		if got := (tracer.Trace{Kind: c.kind}).String(); got != c.want {
			t.Errorf("Trace{Kind: %v}.String() = %q, want %q", c.kind, got, c.want)
		}
	}
}

func TestHOTracer_DeadlineIgnoredByPureCompute(t *testing.T) {
	// Update never blocks - it is pure compute over whatever capture it is
	// handed, regardless of how long ago the capture happened.
	tr := tracer.NewHOTracer()
	h := ho.Header{Priority: cyphal.PriorityNominal, Src: 1, Spec: cyphal.NewMessageSpecifier(13), EOT: true}
	frames, _ := ho.Serialize(h, cyphal.FragmentedPayload{[]byte("x")}, 256)
	stale := cyphal.Timestamp{System: time.Now().Add(-time.Hour), Monotonic: 0}
	trace := tr.Update(stale, frames[0])
	if trace.Kind != tracer.KindTransfer {
		t.Fatalf("Kind = %v, want KindTransfer even for a stale timestamp", trace.Kind)
	}
}
