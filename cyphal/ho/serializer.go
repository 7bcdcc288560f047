// Package ho: transfer serializer shared by the UDP and serial media
// layers - splits an outgoing transfer's payload into one (single-frame) or
// several (multi-frame, CRC-protected) high-overhead frames.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package ho

import (
	"errors"

	"github.com/cyphal-go/cytx/cyphal"
	"github.com/cyphal-go/cytx/cyphal/crc"
)

var ErrNoFrames = errors.New("ho: mtu must be positive")

// Serialize splits payload into the high-overhead frames of one transfer.
// hdr carries the transfer's constant fields (priority, src/dst, data
// specifier, transfer-id); FrameIndex and EOT are overwritten per frame.
// mtu is the maximum payload bytes per frame, header excluded.
func Serialize(hdr Header, payload cyphal.FragmentedPayload, mtu int) ([]Frame, error) {
	if mtu < 1 {
		return nil, ErrNoFrames
	}
	flat := payload.Flatten()

	// room for the 4-byte transfer CRC in the single frame itself.
	if len(flat) <= mtu-crc.CRC32CSize {
		cb := crc.NewCRC32C(flat).Bytes()
		body := make([]byte, 0, len(flat)+crc.CRC32CSize)
		body = append(body, flat...)
		body = append(body, cb[:]...)
		h := hdr
		h.FrameIndex, h.EOT = 0, true
		return []Frame{{Header: h, Payload: body}}, nil
	}

	cb := crc.NewCRC32C(flat).Bytes()
	stream := make([]byte, 0, len(flat)+crc.CRC32CSize)
	stream = append(stream, flat...)
	stream = append(stream, cb[:]...)

	n := (len(stream) + mtu - 1) / mtu
	frames := make([]Frame, 0, n)
	for i := 0; i < n; i++ {
		lo := i * mtu
		hi := lo + mtu
		if hi > len(stream) {
			hi = len(stream)
		}
		h := hdr
		h.FrameIndex = uint32(i)
		h.EOT = i == n-1
		frames = append(frames, Frame{Header: h, Payload: stream[lo:hi]})
	}
	return frames, nil
}
