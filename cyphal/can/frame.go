// Package can implements the CAN 2.0/FD data-link encoding: the 29-bit
// extended CAN ID layout, the tail byte carried in every frame, the DLC
// padding schedule, the input dispatch table, and the CAN transfer
// reassembler.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package can

import (
	"errors"

	"github.com/cyphal-go/cytx/cyphal"
)

// ErrBadFrame is returned by Unpack when the extended ID or tail byte
// violates the wire format.
var ErrBadFrame = errors.New("can: malformed frame")

// 29-bit extended CAN ID bit layout. Message frames and service frames share
// the three high bits (priority) but diverge below that.
const (
	idTotalBits = 29

	// message frame
	msgSubjectIDBits   = 13
	msgReservedBit     = 1 << 22 // must be zero
	msgAnonBit         = 1 << 24
	msgSrcNodeBits     = 7
	msgSubjectIDShift  = msgSrcNodeBits + 2 // two reserved zero bits separate subject-ID from source node-ID
	msgLowReservedBits = 0x3 << msgSrcNodeBits

	// service frame
	svcServiceIDBits = 9
	svcRequestBit    = 1 << 24
	svcIsServiceBit  = 1 << 25 // discriminates service vs. message
	svcDstNodeBits   = 7
	svcSrcNodeBits   = 7

	priorityBits  = 3
	priorityShift = idTotalBits - priorityBits
)

const (
	maxSubjectID = 1<<msgSubjectIDBits - 1
	maxServiceID = 1<<svcServiceIDBits - 1
	maxNodeID    = 1<<7 - 1 // 127, CAN node-ids are 7 bits
)

// TailByte bits: start-of-transfer, end-of-transfer, toggle, and a 5-bit
// transfer-ID modulo 32.
const (
	tailSOF    = 1 << 7
	tailEOT    = 1 << 6
	tailToggle = 1 << 5
	tailTIDMask = 0x1F
)

// DLCPadding is the CAN FD length-code padding schedule: any payload length is
// rounded up to the next value in this table before transmission.
var DLCPadding = [...]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

// PadLen returns the smallest schedule entry >= n, or -1 if n exceeds the
// largest CAN FD frame.
func PadLen(n int) int {
	for _, l := range DLCPadding {
		if l >= n {
			return l
		}
	}
	return -1
}

// RequiredPadding returns how many zero bytes must follow a payload of
// dataLen bytes (not counting the tail byte) so that dataLen+1 lands exactly
// on a DLC schedule entry. Used by the serializer to pad *before* computing
// the multi-frame transfer CRC, so that the padding ends up inside the CRC's
// scope instead of being silently appended by Pack after the fact.
func RequiredPadding(dataLen int) int {
	total := PadLen(dataLen + 1)
	if total < 0 {
		return 0
	}
	return total - 1 - dataLen
}

// ID is a parsed 29-bit CAN identifier.
type ID struct {
	Priority cyphal.Priority
	Spec     cyphal.DataSpecifier
	SrcNode  cyphal.NodeID // AnonymousNode for anonymous message frames
	DstNode  cyphal.NodeID // valid only for service frames
}

// Pack renders the ID into its 29-bit representation (low bits of the
// returned uint32; the top 3 bits are always clear).
func (id ID) Pack() (uint32, error) {
	if !id.Priority.Valid() {
		return 0, ErrBadFrame
	}
	v := uint32(id.Priority) << priorityShift
	if id.Spec.IsService() {
		if id.Spec.ServiceID > maxServiceID || id.DstNode > maxNodeID {
			return 0, ErrBadFrame
		}
		v |= svcIsServiceBit
		v |= uint32(id.SrcNode)
		v |= uint32(id.DstNode) << svcSrcNodeBits
		v |= uint32(id.Spec.ServiceID) << (svcDstNodeBits + svcSrcNodeBits)
		if id.Spec.Kind == cyphal.KindRequest {
			v |= svcRequestBit
		}
		return v, nil
	}
	if id.Spec.SubjectID > maxSubjectID {
		return 0, ErrBadFrame
	}
	if id.SrcNode == cyphal.AnonymousNode {
		v |= msgAnonBit
	} else {
		if id.SrcNode > maxNodeID {
			return 0, ErrBadFrame
		}
		v |= uint32(id.SrcNode)
	}
	v |= uint32(id.Spec.SubjectID) << msgSubjectIDShift
	return v, nil
}

// ParseID decodes a 29-bit extended CAN ID.
func ParseID(v uint32) (ID, error) {
	v &= 1<<idTotalBits - 1
	id := ID{Priority: cyphal.Priority(v >> priorityShift)}
	if v&svcIsServiceBit != 0 {
		id.SrcNode = cyphal.NodeID(v & maxNodeID)
		id.DstNode = cyphal.NodeID((v >> svcSrcNodeBits) & maxNodeID)
		serviceID := uint16((v >> (svcDstNodeBits + svcSrcNodeBits)) & maxServiceID)
		id.Spec = cyphal.NewServiceSpecifier(serviceID, v&svcRequestBit != 0)
		if id.SrcNode == id.DstNode {
			return ID{}, ErrBadFrame
		}
		return id, nil
	}
	if v&msgReservedBit != 0 || v&msgLowReservedBits != 0 {
		return ID{}, ErrBadFrame
	}
	subjectID := uint32((v >> msgSubjectIDShift) & maxSubjectID)
	id.Spec = cyphal.NewMessageSpecifier(subjectID)
	if v&msgAnonBit != 0 {
		id.SrcNode = cyphal.AnonymousNode
	} else {
		id.SrcNode = cyphal.NodeID(v & maxNodeID)
	}
	return id, nil
}

// Frame is one CAN 2.0/FD frame carrying a Cyphal fragment: the ID, the
// payload (unpadded user bytes, tail byte excluded), and the parsed tail.
type Frame struct {
	ID              ID
	Payload         []byte // excludes the tail byte; from UnpackPayload it still includes any DLC padding
	StartOfTransfer bool
	EndOfTransfer   bool
	Toggle          bool
	TransferIDMod32 uint8
}

// Pack produces the padded on-wire byte sequence (payload + padding + tail).
func (f Frame) Pack() []byte {
	tail := byte(0)
	if f.StartOfTransfer {
		tail |= tailSOF
	}
	if f.EndOfTransfer {
		tail |= tailEOT
	}
	if f.Toggle {
		tail |= tailToggle
	}
	tail |= f.TransferIDMod32 & tailTIDMask

	total := PadLen(len(f.Payload) + 1)
	if total < 0 {
		total = len(f.Payload) + 1
	}
	out := make([]byte, total)
	copy(out, f.Payload)
	for i := len(f.Payload); i < total-1; i++ {
		out[i] = 0 // CAN FD padding byte, per spec: zero-filled
	}
	out[total-1] = tail
	return out
}

// UnpackPayload splits a raw (post-DLC) CAN frame data field into the parsed
// tail fields and the payload. Only the tail byte is removed: any DLC padding
// stays in the payload, since padding cannot be distinguished from trailing
// zero payload bytes by this function alone - callers needing exact
// reassembly rely on the multi-frame CRC instead.
func UnpackPayload(data []byte) (f Frame, err error) {
	if len(data) == 0 {
		return f, ErrBadFrame
	}
	tail := data[len(data)-1]
	f.StartOfTransfer = tail&tailSOF != 0
	f.EndOfTransfer = tail&tailEOT != 0
	f.Toggle = tail&tailToggle != 0
	f.TransferIDMod32 = tail & tailTIDMask
	f.Payload = data[:len(data)-1]
	if f.StartOfTransfer && !f.Toggle {
		return f, ErrBadFrame // a transfer's first frame's toggle is always set
	}
	return f, nil
}
