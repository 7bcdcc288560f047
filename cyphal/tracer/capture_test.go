// Package tracer: capture Sink record/query round-trip tests.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package tracer_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/cyphal-go/cytx/cyphal"
	"github.com/cyphal-go/cytx/cyphal/tracer"
)

func TestSink_RecordAndQueryRoundTrip(t *testing.T) {
	sink, err := tracer.OpenSink(":memory:")
	if err != nil {
		t.Fatalf("OpenSink: %v", err)
	}
	defer sink.Close()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mk := func(offset time.Duration, tid uint64, payload string) tracer.Trace {
		return tracer.Trace{
			Kind:              tracer.KindTransfer,
			Timestamp:         cyphal.Timestamp{System: base.Add(offset)},
			TransferIDTimeout: time.Second,
			Transfer: tracer.AlienTransfer{
				Priority:    cyphal.PriorityNominal,
				Specifier:   cyphal.NewMessageSpecifier(42),
				Source:      7,
				Destination: cyphal.AnonymousNode,
				TransferID:  tid,
				Payload:     cyphal.FragmentedPayload{[]byte(payload)},
			},
		}
	}

	traces := []tracer.Trace{
		mk(0, 0, "first"),
		mk(time.Second, 1, "second"),
		mk(2*time.Second, 2, "third"),
	}
	for _, tr := range traces {
		if err := sink.Record(tr); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := sink.Query(base, base.Add(10*time.Second))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != len(traces) {
		t.Fatalf("Query returned %d traces, want %d", len(got), len(traces))
	}
	for i, tr := range got {
		want := traces[i]
		if tr.Kind != want.Kind {
			t.Errorf("trace[%d].Kind = %v, want %v", i, tr.Kind, want.Kind)
		}
		if tr.Transfer.TransferID != want.Transfer.TransferID {
			t.Errorf("trace[%d].TransferID = %d, want %d", i, tr.Transfer.TransferID, want.Transfer.TransferID)
		}
		if !bytes.Equal(tr.Transfer.Payload.Flatten(), want.Transfer.Payload.Flatten()) {
			t.Errorf("trace[%d].Payload = %q, want %q", i, tr.Transfer.Payload.Flatten(), want.Transfer.Payload.Flatten())
		}
		if tr.Transfer.Source != want.Transfer.Source {
			t.Errorf("trace[%d].Source = %d, want %d", i, tr.Transfer.Source, want.Transfer.Source)
		}
	}
}

func TestSink_QueryRangeExcludesOutOfWindowRecords(t *testing.T) {
	sink, err := tracer.OpenSink(":memory:")
	if err != nil {
		t.Fatalf("OpenSink: %v", err)
	}
	defer sink.Close()

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	early := tracer.Trace{Kind: tracer.KindTransfer, Timestamp: cyphal.Timestamp{System: base}, Transfer: tracer.AlienTransfer{Payload: cyphal.FragmentedPayload{[]byte("early")}}}
	late := tracer.Trace{Kind: tracer.KindTransfer, Timestamp: cyphal.Timestamp{System: base.Add(time.Hour)}, Transfer: tracer.AlienTransfer{Payload: cyphal.FragmentedPayload{[]byte("late")}}}
	if err := sink.Record(early); err != nil {
		t.Fatalf("Record(early): %v", err)
	}
	if err := sink.Record(late); err != nil {
		t.Fatalf("Record(late): %v", err)
	}

	got, err := sink.Query(base, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Query returned %d traces, want 1", len(got))
	}
	if !bytes.Equal(got[0].Transfer.Payload.Flatten(), []byte("early")) {
		t.Errorf("Query returned %q, want %q", got[0].Transfer.Payload.Flatten(), "early")
	}
}
