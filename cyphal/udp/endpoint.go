// Package udp implements the UDP/IP media layer: multicast group address
// derivation, port assignment, and a socket driver built on the shared
// high-overhead frame format.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package udp

import (
	"net"

	"github.com/cyphal-go/cytx/cyphal"
)

// MessagePort is the fixed destination port for every subject (message)
// session, regardless of subject-id - messages are told apart by multicast
// group, not port.
const MessagePort = 16383

// ServicePortBase is the first port in the range used for service sessions;
// the port for a given service-id and role is ServicePortBase + 2*serviceID
// + role (0 for request, 1 for response), keeping request and response
// traffic for the same service on adjacent, predictable ports.
const ServicePortBase = 16384

// DefaultTTL is the multicast TTL applied to outgoing datagrams unless a
// register overrides it; 16 keeps traffic within a routed site without
// needing an explicit scope configuration for the common case.
const DefaultTTL = 16

// ServicePort returns the destination port for a request (isRequest=true) or
// response (isRequest=false) to/from serviceID.
func ServicePort(serviceID uint16, isRequest bool) int {
	role := 1
	if isRequest {
		role = 0
	}
	return ServicePortBase + 2*int(serviceID) + role
}

// multicastBase is the locally-administered IPv4 multicast prefix (239/8)
// this transport claims; the low two octets are filled in per session.
var multicastBase = net.IPv4(239, 0, 0, 0).To4()

// SubjectGroup returns the multicast group address for a message subject.
// Subject-ids fit in 13 bits, so they occupy the low two octets directly.
func SubjectGroup(subjectID uint32) net.IP {
	ip := make(net.IP, 4)
	copy(ip, multicastBase)
	ip[1] = 0 // message address space
	ip[2] = byte(subjectID >> 8)
	ip[3] = byte(subjectID)
	return ip
}

// ServiceGroup returns the multicast group address used to reach a specific
// node's service endpoints; service sessions are always addressed to a
// single destination node; the group just makes the common "everyone on one
// segment" deployment work without per-peer unicast routes.
func ServiceGroup(node cyphal.NodeID) net.IP {
	ip := make(net.IP, 4)
	copy(ip, multicastBase)
	ip[1] = 1 // service address space
	ip[2] = byte(node >> 8)
	ip[3] = byte(node)
	return ip
}

// Endpoint resolves a session specifier to the UDP group+port a CAN-less
// Cyphal/UDP node would join or send to.
func Endpoint(spec cyphal.DataSpecifier, dst cyphal.NodeID) *net.UDPAddr {
	if !spec.IsService() {
		return &net.UDPAddr{IP: SubjectGroup(spec.SubjectID), Port: MessagePort}
	}
	return &net.UDPAddr{IP: ServiceGroup(dst), Port: ServicePort(spec.ServiceID, spec.Kind == cyphal.KindRequest)}
}

// DSCP maps a transfer priority to the 6-bit DiffServ code point the
// reference implementation recommends for egress QoS marking. Applying it is
// a platform/media concern left to the caller (Socket.SetDSCP); this is a
// pure function so it can be used or ignored without dragging socket code
// into unit tests.
func DSCP(p cyphal.Priority) int {
	// evenly spread the eight priorities across the CS (class selector)
	// code points, exceptional getting the highest.
	return int(cyphal.PriorityOptional-p) * 8
}
