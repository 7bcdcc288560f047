// Package serial: media driver wrapping an arbitrary io.ReadWriter (a UART,
// a pty, a TCP socket standing in for one in tests) with COBS framing and
// the high-overhead wire format.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package serial

import (
	"bufio"
	"io"
	"sync"

	"github.com/cyphal-go/cytx/cyphal/ho"
)

// Link reads and writes delimited, COBS-encoded high-overhead frames over a
// byte stream. Writes are serialized; reads are expected to be driven by a
// single dedicated goroutine per the cooperative concurrency model, so Recv
// itself does not lock.
type Link struct {
	rw  io.ReadWriter
	r   *bufio.Reader
	mu  sync.Mutex
	buf []byte
}

func NewLink(rw io.ReadWriter) *Link {
	return &Link{rw: rw, r: bufio.NewReaderSize(rw, 1<<16)}
}

// Send writes one fully-formed high-overhead frame, COBS-encoded and
// delimiter-bracketed.
func (l *Link) Send(f ho.Frame) error {
	enc := COBSEncode(f.Pack())
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.rw.Write([]byte{FrameDelimiter}); err != nil {
		return err
	}
	if _, err := l.rw.Write(enc); err != nil {
		return err
	}
	_, err := l.rw.Write([]byte{FrameDelimiter})
	return err
}

// Recv blocks until the next delimiter-bounded frame is read, decoded, and
// parsed. Consecutive delimiters (an empty frame) are skipped rather than
// reported as an error, matching how idle links often pad with the
// delimiter byte.
func (l *Link) Recv() (ho.Frame, error) {
	for {
		raw, err := l.r.ReadBytes(FrameDelimiter)
		if err != nil {
			return ho.Frame{}, err
		}
		raw = raw[:len(raw)-1] // drop the trailing delimiter
		if len(raw) == 0 {
			continue
		}
		dec := COBSDecode(raw)
		if dec == nil {
			continue // corrupt frame: resync on the next delimiter
		}
		f, err := ho.Unpack(dec)
		if err != nil {
			continue
		}
		return f, nil
	}
}

