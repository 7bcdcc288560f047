// Package stats: Registry/Collector tests.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package stats_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cyphal-go/cytx/cyphal"
	"github.com/cyphal-go/cytx/cyphal/stats"
)

type fakeSource struct{ s cyphal.Stats }

func (f fakeSource) Stat() cyphal.Stats { return f.s }

func TestRegistry_CollectRendersEveryTrackedSource(t *testing.T) {
	reg := stats.NewRegistry()
	reg.Add("node-a", fakeSource{cyphal.Stats{Transfers: 3, Frames: 9, PayloadBytes: 100, Errors: 1, Drops: 2}})

	promReg := prometheus.NewRegistry()
	if err := promReg.Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}

	mfs, err := promReg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := map[string]float64{}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			found[mf.GetName()] = m.GetGauge().GetValue()
		}
	}
	want := map[string]float64{
		"cyphal_session_transfers":     3,
		"cyphal_session_frames":        9,
		"cyphal_session_payload_bytes": 100,
		"cyphal_session_errors":        1,
		"cyphal_session_drops":         2,
	}
	for name, v := range want {
		if found[name] != v {
			t.Errorf("metric %s = %v, want %v", name, found[name], v)
		}
	}
}

func TestRegistry_RemoveStopsTracking(t *testing.T) {
	reg := stats.NewRegistry()
	reg.Add("node-a", fakeSource{cyphal.Stats{Transfers: 1}})
	reg.Remove("node-a")

	promReg := prometheus.NewRegistry()
	if err := promReg.Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	mfs, err := promReg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range mfs {
		if len(mf.GetMetric()) != 0 {
			t.Errorf("metric %s has samples after Remove: %v", mf.GetName(), mf.GetMetric())
		}
	}
}
