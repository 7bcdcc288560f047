// Package cyphal: media-agnostic interfaces satisfied structurally (no
// explicit implements-clause needed) by every concrete session/transport in
// the can, ho/udp, and ho/serial packages. Defined here, instead of in
// cyphal/core, because core is imported by those packages and cannot import
// them back; a redundant transport (and a tracer) that must treat a CAN
// transport and a UDP transport interchangeably depends on this package
// alone.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package cyphal

import "time"

// InputSession is the receive half of a session: block for the next
// reassembled transfer, or time out. Every concrete input session (CAN,
// UDP, serial) satisfies this without declaring it, since they all embed
// cyphal/core.InputSession.
type InputSession interface {
	Receive(deadline time.Time) (TransferFrom, bool, error)
	Stat() Stats
	TransferIDTimeout() time.Duration
	SetTransferIDTimeout(time.Duration) error
	Close(onIdle func())
	IsClosed() bool
}

// OutputSession is the send half of a session.
type OutputSession interface {
	Send(transfer Transfer, deadline time.Time) (bool, error)
	EnableFeedback(handler func(Feedback))
	DisableFeedback()
	Stat() Stats
	Close(onIdle func())
	IsClosed() bool
}

// Transport is the per-medium façade: it owns sessions, the media
// connection, and (optionally) a capture hook, and is the thing a registry
// factory (§6) ultimately returns to the application - directly, or
// aggregated behind a redundant transport.
type Transport interface {
	// LocalNodeID returns AnonymousNode if this instance has no assigned
	// node-ID.
	LocalNodeID() NodeID
	NewInputSession(spec SessionSpecifier, meta PayloadMetadata) (InputSession, error)
	NewOutputSession(spec SessionSpecifier, meta PayloadMetadata) (OutputSession, error)
	// Capture installs a hook invoked for every transmitted and received
	// link-layer event (the UDP transport reports transmitted frames
	// only); nil disables capture. Only one hook is kept - a
	// tracer that wants both the capture feed and other consumers should
	// fan it out itself.
	Capture(handler func(Timestamp, any))
	Close() error
}
