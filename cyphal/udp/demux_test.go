// Package udp: source-node mapping test.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package udp_test

import (
	"net"
	"testing"

	"github.com/cyphal-go/cytx/cyphal"
	"github.com/cyphal-go/cytx/cyphal/udp"
)

func TestSourceNodeID(t *testing.T) {
	cases := []struct {
		ip   net.IP
		want cyphal.NodeID
	}{
		{ip: net.IPv4(239, 1, 0, 5), want: 5},
		{ip: net.IPv4(239, 0, 1, 0), want: 256},
		{ip: net.IPv4(239, 1, 0, 0), want: 0},
		{ip: net.ParseIP("::1"), want: cyphal.AnonymousNode}, // not a v4 address
	}
	for _, c := range cases {
		got := udp.SourceNodeID(c.ip)
		if got != c.want {
			t.Errorf("SourceNodeID(%v) = %d, want %d", c.ip, got, c.want)
		}
	}
}

func TestSourceNodeID_RoundTripsWithServiceGroup(t *testing.T) {
	for _, n := range []cyphal.NodeID{0, 1, 42, 127, 8191} {
		group := udp.ServiceGroup(n)
		if got := udp.SourceNodeID(group); got != n {
			t.Errorf("SourceNodeID(ServiceGroup(%d)) = %d, want %d", n, got, n)
		}
	}
}
