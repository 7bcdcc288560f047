// Package can: transfer reassembler.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package can

import (
	"time"

	"github.com/cyphal-go/cytx/cyphal"
	"github.com/cyphal-go/cytx/cyphal/crc"
)

// ReassemblyError classifies a frame that could not be folded into a
// transfer; none of these are necessarily the sender's fault (a frame lost
// upstream looks the same as one that never existed).
type ReassemblyError int

const (
	ErrNone ReassemblyError = iota
	ErrMissedStartOfTransfer
	ErrUnexpectedToggleBit
	ErrUnexpectedTransferID
	ErrTransferCRCMismatch
	ErrPayloadTooLarge
)

func (e ReassemblyError) String() string {
	switch e {
	case ErrMissedStartOfTransfer:
		return "missed start of transfer"
	case ErrUnexpectedToggleBit:
		return "unexpected toggle bit"
	case ErrUnexpectedTransferID:
		return "unexpected transfer-id"
	case ErrTransferCRCMismatch:
		return "transfer crc mismatch"
	case ErrPayloadTooLarge:
		return "payload exceeds extent"
	default:
		return "none"
	}
}

const transferIDModulo = 32

// forwardDistance is the number of increments (mod transferIDModulo) needed
// to reach b starting from a; used to decide whether a frame's transfer-id
// is the one just before the expected one (distance 1, a repeat of the
// transfer that last completed) or far enough away to force a restart.
func forwardDistance(a, b uint8) uint8 {
	d := int(b) - int(a)
	if d < 0 {
		d += transferIDModulo
	}
	return uint8(d)
}

// Reassembler holds the in-progress multi-frame transfer state for exactly
// one source node on exactly one session. CAN requires strictly in-order,
// alternating-toggle delivery, so a per-source instance only ever needs to
// remember "what came last".
type Reassembler struct {
	extent uint32

	haveState  bool // false until the first frame has ever been accepted
	active     bool // an accumulator is currently open (saw SOF, not yet EOT)
	transferID uint8 // mod-32, expected next (or in-progress) transfer-id
	toggle     bool  // expected toggle of the next frame
	timestamp  cyphal.Timestamp
	payload    []byte
	crc        crc.CRC16
	frameCount int
}

func NewReassembler(extent uint32) *Reassembler {
	return &Reassembler{extent: extent}
}

// Result is returned by Process when a frame completes a transfer.
type Result struct {
	Timestamp  cyphal.Timestamp
	TransferID uint8 // mod-32; callers reconstruct the full counter themselves
	Payload    cyphal.FragmentedPayload
	FrameCount int
}

// Process folds one CAN frame into the reassembler's state, following the
// upstream pycyphal algorithm (including its issue #198 fix): a
// start-of-transfer frame only forces a restart when the reassembler has
// never seen a frame, the transfer-id timeout has elapsed, or the frame's
// transfer-id is neither the expected one nor the one just before it. Otherwise
// every frame - start or not - is checked against the current expected
// transfer-id and toggle bit before being folded in; a continuation frame
// that arrives while no accumulator is open is MissedStartOfTransfer even if
// its transfer-id and toggle happen to match what a freshly reset
// reassembler expects (see can/reassembler_test.go's issue-198 case).
func (r *Reassembler) Process(ts cyphal.Timestamp, timeout time.Duration, f Frame) (res Result, ok bool, rerr ReassemblyError) {
	timedOut := !r.haveState || (f.TransferIDMod32 != r.transferID && ts.Monotonic-r.timestamp.Monotonic > timeout)
	notPrevious := forwardDistance(f.TransferIDMod32, r.transferID) > 1
	needRestart := f.StartOfTransfer && (timedOut || notPrevious)

	if needRestart {
		r.active = false
		r.transferID = f.TransferIDMod32
		r.toggle = f.Toggle
	}

	if f.TransferIDMod32 != r.transferID {
		return res, false, ErrUnexpectedTransferID
	}
	if f.Toggle != r.toggle {
		return res, false, ErrUnexpectedToggleBit
	}

	if f.StartOfTransfer {
		r.haveState = true
		r.active = true
		r.timestamp = ts
		r.payload = r.payload[:0]
		r.crc = crc.CRC16Initial
		r.frameCount = 0
	}
	if !r.active {
		// A non-start frame whose transfer-id/toggle happen to match a
		// reassembler that has just been reset (or never started) must not
		// be mistaken for a genuine continuation - there is no accumulator
		// to continue.
		return res, false, ErrMissedStartOfTransfer
	}

	r.timestamp = earliestMonotonic(r.timestamp, ts)
	r.toggle = !r.toggle
	r.frameCount++
	r.crc = r.crc.Add(f.Payload)
	truncated := uint32(len(r.payload)) >= r.extent+crc.CRC16Size && r.extent != 0
	if !truncated {
		r.payload = append(r.payload, f.Payload...)
	}

	if !f.EndOfTransfer {
		return res, false, ErrNone
	}

	r.active = false
	r.transferID = (r.transferID + 1) % transferIDModulo
	r.toggle = true
	finishedID := f.TransferIDMod32

	if f.StartOfTransfer {
		// single-frame transfer: no CRC trailer, no truncation check beyond
		// the implicit one already applied above.
		out := make([]byte, len(r.payload))
		copy(out, r.payload)
		return Result{Timestamp: r.timestamp, TransferID: finishedID, Payload: cyphal.FragmentedPayload{out}, FrameCount: r.frameCount}, true, ErrNone
	}
	if !r.crc.Valid() {
		return res, false, ErrTransferCRCMismatch
	}
	if truncated {
		// the CRC trailer itself was discarded by truncation; the whole
		// (truncated) payload is the deliverable.
		out := make([]byte, len(r.payload))
		copy(out, r.payload)
		return Result{Timestamp: r.timestamp, TransferID: finishedID, Payload: cyphal.FragmentedPayload{out}, FrameCount: r.frameCount}, true, ErrNone
	}
	if uint32(len(r.payload)) < crc.CRC16Size {
		return res, false, ErrTransferCRCMismatch
	}
	payload := r.payload[:len(r.payload)-crc.CRC16Size]
	out := make([]byte, len(payload))
	copy(out, payload)
	return Result{Timestamp: r.timestamp, TransferID: finishedID, Payload: cyphal.FragmentedPayload{out}, FrameCount: r.frameCount}, true, ErrNone
}

func earliestMonotonic(a, b cyphal.Timestamp) cyphal.Timestamp {
	if b.Monotonic < a.Monotonic {
		return b
	}
	return a
}

// Expired reports whether an in-progress reassembly should be abandoned
// given how long ago its first frame arrived, per the node-wide transfer-id
// timeout.
func (r *Reassembler) Expired(now cyphal.Timestamp, timeout time.Duration) bool {
	return r.active && now.Monotonic-r.timestamp.Monotonic > timeout
}

func (r *Reassembler) Abandon() { r.active = false }
