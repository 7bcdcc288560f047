// Package ho implements the high-overhead transport frame format shared by
// the UDP and serial media layers: a 24-byte little-endian header protected
// by its own CRC-16/CCITT, followed by payload and (on the last frame) a
// CRC-32C over the whole transfer.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package ho

import (
	"encoding/binary"
	"errors"

	"github.com/cyphal-go/cytx/cyphal"
	"github.com/cyphal-go/cytx/cyphal/crc"
)

const HeaderSize = 24

var ErrBadHeader = errors.New("ho: malformed header")

const headerVersion = 1

// data-specifier word: low 14 bits hold subject-id or service-id, bit 15 (SNM,
// "service-not-message") discriminates the two, and for services bit 14 marks
// request vs response.
const (
	snmBit     = 1 << 15
	svcReqBit  = 1 << 14
	dsValueMask = 1<<14 - 1
)

// frame-index word: low 31 bits are the zero-based frame index, top bit
// marks end-of-transfer.
const eotBit = 1 << 31

// Header is the parsed high-overhead frame header.
type Header struct {
	Priority   cyphal.Priority
	Src        cyphal.NodeID
	Dst        cyphal.NodeID
	Spec       cyphal.DataSpecifier
	TransferID uint64
	FrameIndex uint32
	EOT        bool
	UserData   uint16
}

func dataSpecifierWord(ds cyphal.DataSpecifier) uint16 {
	if !ds.IsService() {
		return uint16(ds.SubjectID) & dsValueMask
	}
	v := uint16(ds.ServiceID)&dsValueMask | snmBit
	if ds.Kind == cyphal.KindRequest {
		v |= svcReqBit
	}
	return v
}

func parseDataSpecifier(v uint16) cyphal.DataSpecifier {
	if v&snmBit == 0 {
		return cyphal.NewMessageSpecifier(uint32(v & dsValueMask))
	}
	return cyphal.NewServiceSpecifier(v&dsValueMask, v&svcReqBit != 0)
}

// Pack renders the header plus its trailing CRC-16/CCITT into a fresh
// HeaderSize-byte buffer.
func (h Header) Pack() []byte {
	b := make([]byte, HeaderSize)
	b[0] = headerVersion
	b[1] = byte(h.Priority)
	binary.LittleEndian.PutUint16(b[2:], uint16(h.Src))
	binary.LittleEndian.PutUint16(b[4:], uint16(h.Dst))
	binary.LittleEndian.PutUint16(b[6:], dataSpecifierWord(h.Spec))
	binary.LittleEndian.PutUint64(b[8:], h.TransferID)
	fi := h.FrameIndex
	if h.EOT {
		fi |= eotBit
	}
	binary.LittleEndian.PutUint32(b[16:], fi)
	binary.LittleEndian.PutUint16(b[20:], h.UserData)
	c := crc.NewCRC16(b[:22])
	cb := c.Bytes()
	b[22], b[23] = cb[0], cb[1]
	return b
}

// ParseHeader validates the header CRC and decodes the fields.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrBadHeader
	}
	if b[0] != headerVersion {
		return Header{}, ErrBadHeader
	}
	c := crc.NewCRC16(b[:22])
	cb := c.Bytes()
	if b[22] != cb[0] || b[23] != cb[1] {
		return Header{}, ErrBadHeader
	}
	h := Header{
		Priority: cyphal.Priority(b[1]),
		Src:      cyphal.NodeID(binary.LittleEndian.Uint16(b[2:])),
		Dst:      cyphal.NodeID(binary.LittleEndian.Uint16(b[4:])),
	}
	h.Spec = parseDataSpecifier(binary.LittleEndian.Uint16(b[6:]))
	// subject-ids are 13 bits and service-ids 9 bits; a wider value is malformed
	if (!h.Spec.IsService() && h.Spec.SubjectID > 1<<13-1) || (h.Spec.IsService() && h.Spec.ServiceID > 1<<9-1) {
		return Header{}, ErrBadHeader
	}
	h.TransferID = binary.LittleEndian.Uint64(b[8:])
	fi := binary.LittleEndian.Uint32(b[16:])
	h.EOT = fi&eotBit != 0
	h.FrameIndex = fi &^ eotBit
	h.UserData = binary.LittleEndian.Uint16(b[20:])
	return h, nil
}

// Frame is one high-overhead link-layer frame: header, then payload, and -
// only on the frame for which Header.EOT is set - a trailing CRC-32C over
// the complete transfer payload (not just this frame).
type Frame struct {
	Header  Header
	Payload []byte
}

func (f Frame) Pack() []byte {
	out := make([]byte, 0, HeaderSize+len(f.Payload))
	out = append(out, f.Header.Pack()...)
	out = append(out, f.Payload...)
	return out
}

func Unpack(b []byte) (Frame, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Header: h, Payload: b[HeaderSize:]}, nil
}
