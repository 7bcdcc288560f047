// Package serial implements the byte-stream (COBS-framed) transport: frame
// delimiting over an arbitrary reliable or unreliable byte stream, built on
// top of the shared high-overhead frame format.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package serial

// FrameDelimiter is the byte that marks frame boundaries on the wire; COBS
// encoding guarantees it never appears inside an encoded frame's body.
const FrameDelimiter = 0x00

// COBSEncode returns src encoded per Consistent Overhead Byte Stuffing, not
// including the leading/trailing delimiter bytes (callers add those when
// writing to the stream).
func COBSEncode(src []byte) []byte {
	out := make([]byte, 0, len(src)+len(src)/254+2)
	codeIdx := len(out)
	out = append(out, 0) // placeholder for the first code byte
	code := byte(1)

	flush := func() {
		out[codeIdx] = code
		codeIdx = len(out)
		out = append(out, 0)
		code = 1
	}

	for _, b := range src {
		if b == 0 {
			flush()
			continue
		}
		out = append(out, b)
		code++
		if code == 0xFF {
			flush()
		}
	}
	out[codeIdx] = code
	return out
}

// COBSDecode reverses COBSEncode; it returns nil if src is malformed.
func COBSDecode(src []byte) []byte {
	out := make([]byte, 0, len(src))
	i := 0
	for i < len(src) {
		code := int(src[i])
		if code == 0 || i+code > len(src) {
			return nil
		}
		i++
		out = append(out, src[i:i+code-1]...)
		i += code - 1
		if code < 0xFF && i < len(src) {
			out = append(out, 0)
		}
	}
	return out
}
