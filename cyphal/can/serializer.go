// Package can: transfer serializer - splits an outgoing transfer's payload
// into one (single-frame) or several (multi-frame, CRC-protected) CAN
// frames, following the padding and fragmentation rules of the CAN
// transport's wire format.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package can

import (
	"errors"

	"github.com/cyphal-go/cytx/cyphal"
	"github.com/cyphal-go/cytx/cyphal/crc"
)

// ErrNoFrames is returned when mtu is non-positive; there is no valid
// encoding of any payload in that case.
var ErrNoFrames = errors.New("can: mtu must be positive")

// Serialize splits payload into the CAN frames of one transfer addressed by
// id, tagging them with the given (whole, pre-modulo) transferID. mtu is the
// maximum frame payload in bytes excluding the tail byte (7 for classic CAN
// with an 8-byte DLC budget, up to 63 for CAN FD's 64-byte budget).
//
// Only the first returned frame may ever be loopback-timestamped by a
// caller: that is sufficient to satisfy a feedback request, since every
// frame of one transfer leaves the node back-to-back.
func Serialize(id ID, transferID uint64, payload cyphal.FragmentedPayload, mtu int) ([]Frame, error) {
	if mtu < 1 {
		return nil, ErrNoFrames
	}
	tidMod := uint8(transferID % transferIDModulo)
	flat := payload.Flatten()

	if len(flat) <= mtu {
		return []Frame{{
			ID:              id,
			Payload:         flat,
			StartOfTransfer: true,
			EndOfTransfer:   true,
			Toggle:          true,
			TransferIDMod32: tidMod,
		}}, nil
	}

	// Multi-frame: pad (inside CRC scope) so the last chunk lands on a valid
	// DLC, then CRC the payload+padding, then refragment payload+padding+crc
	// at mtu boundaries.
	lastChunk := len(flat) % mtu
	if lastChunk == 0 {
		lastChunk = mtu
	}
	var padding []byte
	if lastChunk+crc.CRC16Size < mtu {
		padLen := RequiredPadding(lastChunk + crc.CRC16Size)
		padding = make([]byte, padLen)
	}

	c := crc.NewCRC16(flat)
	c = c.Add(padding)
	cb := c.Bytes()

	stream := make([]byte, 0, len(flat)+len(padding)+crc.CRC16Size)
	stream = append(stream, flat...)
	stream = append(stream, padding...)
	stream = append(stream, cb[:]...)

	n := (len(stream) + mtu - 1) / mtu
	frames := make([]Frame, 0, n)
	for i := 0; i < n; i++ {
		lo := i * mtu
		hi := lo + mtu
		if hi > len(stream) {
			hi = len(stream)
		}
		frames = append(frames, Frame{
			ID:              id,
			Payload:         stream[lo:hi],
			StartOfTransfer: i == 0,
			EndOfTransfer:   i == n-1,
			Toggle:          i%2 == 0,
			TransferIDMod32: tidMod,
		})
	}
	return frames, nil
}
