// Package crc implements the two checksums used on the wire: CRC-16/CCITT-FALSE
// (CAN multi-frame transfers, and as a header guard) and CRC-32C/Castagnoli
// (high-overhead transfers carried over UDP and serial). Both are exposed
// with the "check residue" convention: appending a correctly computed CRC to
// the covered bytes and recomputing over the result yields a fixed residue
// value, which receivers use to validate a transfer without separately
// comparing the trailing CRC bytes.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package crc

// CRC16 is CRC-16/CCITT-FALSE: poly 0x1021, init 0xFFFF, no reflection, no
// final xor.
type CRC16 uint16

const (
	CRC16Initial = CRC16(0xFFFF)
	CRC16Residue = CRC16(0x0000)
	CRC16Size    = 2
)

var crc16Table [256]uint16

func init() {
	const poly = 0x1021
	for i := range crc16Table {
		crc := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ poly
			} else {
				crc <<= 1
			}
		}
		crc16Table[i] = crc
	}
}

func (c CRC16) Add(data []byte) CRC16 {
	crc := uint16(c)
	for _, b := range data {
		crc = crc<<8 ^ crc16Table[byte(crc>>8)^b]
	}
	return CRC16(crc)
}

func (c CRC16) AddByte(b byte) CRC16 {
	crc := uint16(c)
	return CRC16(crc<<8 ^ crc16Table[byte(crc>>8)^b])
}

// Bytes returns the CRC in big-endian wire order.
func (c CRC16) Bytes() [2]byte { return [2]byte{byte(c >> 8), byte(c)} }

func NewCRC16(data []byte) CRC16 { return CRC16Initial.Add(data) }

func (c CRC16) Valid() bool { return c == CRC16Residue }

// CRC32C is CRC-32C (Castagnoli): poly 0x1EDC6F41 reflected, init
// 0xFFFFFFFF, input/output reflected, final xor 0xFFFFFFFF.
type CRC32C uint32

const (
	CRC32CInitial = CRC32C(0xFFFFFFFF)
	CRC32CResidue = CRC32C(0xB798B438)
	CRC32CSize    = 4
)

var crc32cTable [256]uint32

func init() {
	const poly = 0x82F63B78 // reflected 0x1EDC6F41
	for i := range crc32cTable {
		crc := uint32(i)
		for j := 0; j < 8; j++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ poly
			} else {
				crc >>= 1
			}
		}
		crc32cTable[i] = crc
	}
}

func (c CRC32C) Add(data []byte) CRC32C {
	crc := uint32(c)
	for _, b := range data {
		crc = crc32cTable[byte(crc)^b] ^ crc>>8
	}
	return CRC32C(crc)
}

// NewCRC32C returns the raw (non-finalized) running accumulator after
// processing data, starting from CRC32CInitial. It is not itself the CRC-32C
// checksum - call Bytes() to finalize it, or keep accumulating (e.g. with the
// checksum bytes appended) and compare against CRC32CResidue with Valid().
func NewCRC32C(data []byte) CRC32C {
	return CRC32CInitial.Add(data)
}

// Value finalizes a raw running accumulator into the actual CRC-32C value.
func (c CRC32C) Value() uint32 { return uint32(c) ^ 0xFFFFFFFF }

// Bytes returns the CRC in little-endian wire order, as used by the
// high-overhead transport header and trailer.
func (c CRC32C) Bytes() [4]byte {
	v := c.Value()
	return [4]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func (c CRC32C) Valid() bool { return c == CRC32CResidue }
