// Package ho: transfer reassembler for the high-overhead (UDP/serial) wire
// format. Unlike the CAN reassembler, frames may arrive out of order - the
// underlying media (UDP datagrams racing across paths, serial frames
// interleaved with other traffic) gives no ordering guarantee - so frames are
// kept by index until every one between 0 and the highest seen has arrived.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package ho

import (
	"github.com/cyphal-go/cytx/cyphal"
	"github.com/cyphal-go/cytx/cyphal/crc"
)

type ReassemblyError int

const (
	ErrNone ReassemblyError = iota
	ErrUnexpectedTransferID
	ErrMultiframeMissingFrames
	ErrMultiframeEmptyFrame
	ErrMultiframeEOTMisplaced
	ErrMultiframeEOTInconsistent
	ErrPayloadTooLarge
	ErrTransferCRCMismatch
)

func (e ReassemblyError) String() string {
	switch e {
	case ErrUnexpectedTransferID:
		return "unexpected transfer-id"
	case ErrMultiframeMissingFrames:
		return "multiframe missing frames"
	case ErrMultiframeEmptyFrame:
		return "multiframe empty frame"
	case ErrMultiframeEOTMisplaced:
		return "multiframe eot misplaced"
	case ErrMultiframeEOTInconsistent:
		return "multiframe eot inconsistent"
	case ErrPayloadTooLarge:
		return "payload exceeds extent"
	case ErrTransferCRCMismatch:
		return "transfer crc mismatch"
	default:
		return "none"
	}
}

// Reassembler accumulates out-of-order frames for one source/session pair
// and one transfer-id at a time; a frame for a numerically later transfer-id
// restarts it, and a frame for an older one, or for the transfer it has just
// completed, is rejected.
type Reassembler struct {
	extent uint32

	active     bool
	transferID uint64
	maxIndex   uint32 // index carried by the EOT frame, once seen
	eotSeen    bool
	frames     map[uint32][]byte
	frameTS    map[uint32]cyphal.Timestamp
}

func NewReassembler(extent uint32) *Reassembler {
	return &Reassembler{extent: extent, frames: make(map[uint32][]byte), frameTS: make(map[uint32]cyphal.Timestamp)}
}

type Result struct {
	Timestamp  cyphal.Timestamp
	TransferID uint64
	Payload    cyphal.FragmentedPayload
	FrameCount int
}

func (r *Reassembler) restart(transferID uint64) (missingFrames bool) {
	missingFrames = r.active && len(r.frames) > 0
	r.active = true
	r.transferID = transferID
	r.maxIndex = 0
	r.eotSeen = false
	clear(r.frames)
	clear(r.frameTS)
	return missingFrames
}

// Process folds one frame into the in-progress transfer. A multi-frame
// transfer's non-last frame carrying zero payload bytes is a protocol
// violation (MultiframeEmptyFrame); two differing indices both claiming
// end-of-transfer, or any frame whose index exceeds the established
// end-of-transfer index, restart the accumulator and are reported.
func (r *Reassembler) Process(ts cyphal.Timestamp, h Header, payload []byte) (res Result, ok bool, rerr ReassemblyError) {
	switch {
	case !r.active && r.eotSeen && h.TransferID <= r.transferID:
		// the last transfer has finished (eotSeen is kept until the next
		// restart): a repeat of it, or an older one, is a stale duplicate
		return res, false, ErrUnexpectedTransferID
	case !r.active:
		r.restart(h.TransferID)
	case h.TransferID != r.transferID:
		if h.TransferID < r.transferID {
			return res, false, ErrUnexpectedTransferID // stale duplicate, ignore
		}
		if r.restart(h.TransferID) {
			rerr = ErrMultiframeMissingFrames
		}
	}

	if r.eotSeen && h.FrameIndex > r.maxIndex {
		r.restart(h.TransferID)
		return res, false, ErrMultiframeEOTMisplaced
	}
	if h.EOT && r.eotSeen && h.FrameIndex != r.maxIndex {
		r.restart(h.TransferID)
		return res, false, ErrMultiframeEOTInconsistent
	}
	if len(payload) == 0 && !(h.FrameIndex == 0 && h.EOT) {
		// empty payload is only legal on a single-frame (index 0, EOT) transfer
		r.restart(h.TransferID)
		return res, false, ErrMultiframeEmptyFrame
	}

	if _, dup := r.frames[h.FrameIndex]; dup {
		if rerr != ErrNone {
			return res, false, rerr
		}
		return res, false, ErrNone
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	r.frames[h.FrameIndex] = buf
	r.frameTS[h.FrameIndex] = ts

	if h.EOT {
		r.eotSeen = true
		r.maxIndex = h.FrameIndex
	}

	if !r.eotSeen || len(r.frames) != int(r.maxIndex)+1 {
		if rerr != ErrNone {
			return res, false, rerr
		}
		return res, false, ErrNone
	}

	r.active = false
	frags := make(cyphal.FragmentedPayload, r.maxIndex+1)
	c := crc.CRC32CInitial
	for i := uint32(0); i <= r.maxIndex; i++ {
		f, have := r.frames[i]
		if !have {
			return res, false, ErrNone // hole - keep waiting (shouldn't happen given the length check)
		}
		frags[i] = f
		c = c.Add(f)
	}
	// the delivered timestamp is that of frame index 0 - the first logical
	// frame wins regardless of physical arrival order.
	timestamp, have0 := r.frameTS[0]
	if !have0 {
		timestamp = ts
	}

	// Every high-overhead transfer, single-frame included, carries a trailing
	// CRC-32C over its payload (Serialize always appends one); verify and
	// strip it uniformly rather than special-casing the single-frame case.
	if !c.Valid() {
		return res, false, ErrTransferCRCMismatch
	}
	flat := frags.Flatten()
	if len(flat) < crc.CRC32CSize {
		return res, false, ErrTransferCRCMismatch
	}
	payloadOnly := flat[:len(flat)-crc.CRC32CSize]
	if uint32(len(payloadOnly)) > r.extent && r.extent != 0 {
		return res, false, ErrPayloadTooLarge
	}
	return Result{Timestamp: timestamp, TransferID: r.transferID, Payload: cyphal.FragmentedPayload{payloadOnly}, FrameCount: int(r.maxIndex) + 1}, true, ErrNone
}

// construct_anonymous_transfer helper (pycyphal naming kept in the doc
// comment, not the identifier): reassembles a single anonymous frame without
// needing a live Reassembler instance - anonymous senders never emit
// multi-frame transfers, so this is a pure, stateless validation.
func ConstructAnonymousTransfer(ts cyphal.Timestamp, h Header, payload []byte) (res Result, ok bool, rerr ReassemblyError) {
	if h.FrameIndex != 0 || !h.EOT {
		return res, false, ErrMultiframeMissingFrames
	}
	if len(payload) < crc.CRC32CSize || !crc.NewCRC32C(payload).Valid() {
		return res, false, ErrTransferCRCMismatch
	}
	out := payload[:len(payload)-crc.CRC32CSize]
	buf := make([]byte, len(out))
	copy(buf, out)
	return Result{Timestamp: ts, TransferID: h.TransferID, Payload: cyphal.FragmentedPayload{buf}, FrameCount: 1}, true, ErrNone
}
