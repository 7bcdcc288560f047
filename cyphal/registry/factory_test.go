// Package registry: Build and ParseBitrate tests.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package registry_test

import (
	"testing"

	"github.com/cyphal-go/cytx/cyphal"
	"github.com/cyphal-go/cytx/cyphal/can"
	"github.com/cyphal-go/cytx/cyphal/redundant"
	"github.com/cyphal-go/cytx/cyphal/registry"
)

func TestBuild_Loopback(t *testing.T) {
	reg := registry.MapRegister{"loopback": true, "node.id": uint16(42)}
	tr, err := registry.Build(reg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer tr.Close()
	if _, ok := tr.(*can.Transport); !ok {
		t.Fatalf("Build(loopback) returned %T, want *can.Transport", tr)
	}
	if tr.LocalNodeID() != 42 {
		t.Errorf("LocalNodeID() = %d, want 42", tr.LocalNodeID())
	}
}

func TestBuild_NoSubTransportConfigured(t *testing.T) {
	_, err := registry.Build(registry.MapRegister{})
	if !cyphal.IsErrInvalidTransportConfiguration(err) {
		t.Fatalf("Build({}) error = %v, want ErrInvalidTransportConfiguration", err)
	}
}

func TestBuild_UDPMTUOutOfRange(t *testing.T) {
	reg := registry.MapRegister{"udp.iface": "127.0.0.1", "udp.mtu": uint16(100)}
	_, err := registry.Build(reg)
	if !cyphal.IsErrInvalidTransportConfiguration(err) {
		t.Fatalf("Build(small udp.mtu) error = %v, want ErrInvalidTransportConfiguration", err)
	}
}

func TestBuild_UDPIfaceNotAnIP(t *testing.T) {
	reg := registry.MapRegister{"udp.iface": "not-an-ip"}
	_, err := registry.Build(reg)
	if !cyphal.IsErrInvalidTransportConfiguration(err) {
		t.Fatalf("Build(bad udp.iface) error = %v, want ErrInvalidTransportConfiguration", err)
	}
}

func TestBuild_CANIfaceUnsupportedDriver(t *testing.T) {
	reg := registry.MapRegister{"can.iface": "vcan0"}
	_, err := registry.Build(reg)
	if !cyphal.IsErrInvalidMediaConfiguration(err) {
		t.Fatalf("Build(vcan0) error = %v, want ErrInvalidMediaConfiguration", err)
	}
}

func TestBuild_SingleCANLoopbackIfaceReturnsBareTransport(t *testing.T) {
	reg := registry.MapRegister{"can.iface": "loopback", "can.mtu": uint16(8)}
	tr, err := registry.Build(reg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer tr.Close()
	if _, ok := tr.(*can.Transport); !ok {
		t.Fatalf("Build(one can.iface) returned %T, want *can.Transport", tr)
	}
}

func TestBuild_MultipleCANIfacesAggregateUnderRedundant(t *testing.T) {
	reg := registry.MapRegister{"can.iface": "loopback loopback", "node.id": uint16(9)}
	tr, err := registry.Build(reg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer tr.Close()
	rt, ok := tr.(*redundant.Transport)
	if !ok {
		t.Fatalf("Build(two can.iface) returned %T, want *redundant.Transport", tr)
	}
	if rt.LocalNodeID() != 9 {
		t.Errorf("LocalNodeID() = %d, want 9", rt.LocalNodeID())
	}
}

func TestParseBitrate(t *testing.T) {
	cases := []struct {
		in                      string
		arbitration, data       uint32
		wantErr                 bool
	}{
		{in: "1000000,4000000", arbitration: 1000000, data: 4000000},
		{in: " 500000 , 2000000 ", arbitration: 500000, data: 2000000},
		{in: "1000000", wantErr: true},
		{in: "abc,4000000", wantErr: true},
		{in: "1000000,xyz", wantErr: true},
	}
	for _, c := range cases {
		a, d, err := registry.ParseBitrate(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseBitrate(%q): expected error, got a=%d d=%d", c.in, a, d)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseBitrate(%q): %v", c.in, err)
			continue
		}
		if a != c.arbitration || d != c.data {
			t.Errorf("ParseBitrate(%q) = (%d, %d), want (%d, %d)", c.in, a, d, c.arbitration, c.data)
		}
	}
}

func TestMapRegister_Getters(t *testing.T) {
	reg := registry.MapRegister{
		"s":  "hello",
		"u16": uint16(7),
		"u16i": 9,
		"u32": uint32(123456),
		"u32i": 321,
		"b":  true,
	}
	if v, ok := reg.String("s"); !ok || v != "hello" {
		t.Errorf("String(s) = (%q, %v), want (hello, true)", v, ok)
	}
	if _, ok := reg.String("missing"); ok {
		t.Error("String(missing) reported ok=true")
	}
	if v, ok := reg.Uint16("u16"); !ok || v != 7 {
		t.Errorf("Uint16(u16) = (%d, %v), want (7, true)", v, ok)
	}
	if v, ok := reg.Uint16("u16i"); !ok || v != 9 {
		t.Errorf("Uint16(u16i) = (%d, %v), want (9, true)", v, ok)
	}
	if v, ok := reg.Uint32("u32"); !ok || v != 123456 {
		t.Errorf("Uint32(u32) = (%d, %v), want (123456, true)", v, ok)
	}
	if v, ok := reg.Uint32("u32i"); !ok || v != 321 {
		t.Errorf("Uint32(u32i) = (%d, %v), want (321, true)", v, ok)
	}
	if v, ok := reg.Bool("b"); !ok || !v {
		t.Errorf("Bool(b) = (%v, %v), want (true, true)", v, ok)
	}
	if _, ok := reg.Bool("missing"); ok {
		t.Error("Bool(missing) reported ok=true")
	}
}
