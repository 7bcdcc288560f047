// Package cyphal defines the transport-agnostic primitives shared by every
// concrete link (CAN, UDP, serial): timestamps, priorities, data and session
// specifiers, payload framing, and the transfer abstraction that media-layer
// packages assemble and tear down.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package cyphal

import (
	"fmt"
	"time"

	"github.com/cyphal-go/cytx/cmn/mono"
)

// Timestamp carries both a wall-clock reading (for diagnostics/tracing) and a
// monotonic one (for timeout arithmetic); the latter is immune to clock
// jumps.
type Timestamp struct {
	System    time.Time
	Monotonic time.Duration
}

func Now() Timestamp {
	return Timestamp{System: time.Now(), Monotonic: time.Duration(mono.NanoTime())}
}

func (ts Timestamp) IsZero() bool { return ts.System.IsZero() }

// Priority is one of the eight Cyphal priority levels, lower value meaning
// more urgent.
type Priority uint8

const (
	PriorityExceptional Priority = iota
	PriorityImmediate
	PriorityFast
	PriorityHigh
	PriorityNominal
	PriorityLow
	PrioritySlow
	PriorityOptional
)

func (p Priority) Valid() bool { return p <= PriorityOptional }

func (p Priority) String() string {
	names := [...]string{"exceptional", "immediate", "fast", "high", "nominal", "low", "slow", "optional"}
	if int(p) < len(names) {
		return names[p]
	}
	return fmt.Sprintf("priority(%d)", p)
}

// TransferKind distinguishes a best-effort broadcast message from a
// request/response service call.
type TransferKind uint8

const (
	KindMessage TransferKind = iota
	KindRequest
	KindResponse
)

// DataSpecifier names a subject (message) or a service (request/response
// pair over the same service-id).
type DataSpecifier struct {
	Kind      TransferKind
	SubjectID uint32 // valid for KindMessage
	ServiceID uint16 // valid for KindRequest/KindResponse
}

func NewMessageSpecifier(subjectID uint32) DataSpecifier {
	return DataSpecifier{Kind: KindMessage, SubjectID: subjectID}
}

func NewServiceSpecifier(serviceID uint16, isRequest bool) DataSpecifier {
	k := KindResponse
	if isRequest {
		k = KindRequest
	}
	return DataSpecifier{Kind: k, ServiceID: serviceID}
}

func (ds DataSpecifier) IsService() bool { return ds.Kind != KindMessage }

// NodeID identifies a node on a link; AnonymousNode marks an anonymous
// (message-only) publisher, legal only on CAN.
type NodeID uint16

const AnonymousNode NodeID = 0xFFFF

// SessionSpecifier names one end of a session: a subject or service id, plus
// (for services, and optionally for messages) a remote node. Promiscuous=true
// means RemoteID is unused: for an input session it accepts any source, for
// an output session it broadcasts instead of unicasting to RemoteID.
type SessionSpecifier struct {
	Data        DataSpecifier
	RemoteID    NodeID
	Promiscuous bool
}

// IsBroadcast aliases Promiscuous for output-session call sites, where
// "broadcast" reads more naturally than "promiscuous".
func (s SessionSpecifier) IsBroadcast() bool { return s.Promiscuous }

// PayloadMetadata describes the extent and extensibility of a data type,
// used for capacity planning and CRC policy decisions (not wire data).
type PayloadMetadata struct {
	Extent uint32
}

// FragmentedPayload is a read-only, possibly-scattered view over a transfer's
// payload bytes; media drivers build it without copying where possible.
type FragmentedPayload [][]byte

func (fp FragmentedPayload) Len() int {
	n := 0
	for _, f := range fp {
		n += len(f)
	}
	return n
}

// CopyTo copies the fragments into a single contiguous slice, which must be
// at least Len() bytes.
func (fp FragmentedPayload) CopyTo(dst []byte) int {
	off := 0
	for _, f := range fp {
		off += copy(dst[off:], f)
	}
	return off
}

func (fp FragmentedPayload) Flatten() []byte {
	b := make([]byte, fp.Len())
	fp.CopyTo(b)
	return b
}

// Transfer is an outgoing transfer: priority, specifier, and payload to send.
type Transfer struct {
	Timestamp  Timestamp
	Priority   Priority
	Specifier  DataSpecifier
	TransferID uint64
	Payload    FragmentedPayload
}

// TransferFrom is an incoming, fully reassembled transfer plus where it came
// from.
type TransferFrom struct {
	Transfer
	Source NodeID
}

// Feedback reports local send-side confirmation of a transfer having left
// the node (not end-to-end delivery).
type Feedback struct {
	OriginalTransmissionTimestamp Timestamp
	FirstFrameTransmissionTimestamp Timestamp
}

// Stats is a session's point-in-time, eventually-consistent counter
// snapshot, shared by every media-specific session type (core.Session.Stat
// returns this directly).
type Stats struct {
	Transfers    int64
	Frames       int64
	PayloadBytes int64
	Errors       int64
	Drops        int64
}
