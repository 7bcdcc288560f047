// Package can: candump replay driver. `candump:<path>` names a directory of
// candump-format text logs (one or more files, read in filename order); each
// line follows `(<epoch.usec>) <iface> <id>#<hex-data>`. This is a read-only
// pseudo-bus used for offline replay and testing against a recorded capture,
// not a live interface.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package can

import (
	"bufio"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/karrick/godirwalk"
)

// ErrReadOnlyBus is returned by CandumpBus.Send: a replay has nothing to send
// to.
var ErrReadOnlyBus = errors.New("can: candump bus is read-only")

// CandumpBus replays a directory of candump logs as a Bus. End-of-stream is
// surfaced as Recv returning ErrBusClosed once every frame has been
// delivered, whether or not Close has run - an ordinary closed-resource error, not a
// forced process exit via environment variable (see DESIGN.md on the
// REDESIGN FLAGS this implements).
type CandumpBus struct {
	ch     chan RawFrame
	closed chan struct{}
}

// OpenCandump enumerates every regular file directly under dir (in name
// order, via godirwalk for the fast, allocation-light directory scan the
// teacher uses for namespace walks elsewhere), parses each as a candump log,
// and returns a Bus that replays every frame found, across all files, in the
// order encountered.
func OpenCandump(dir string) (*CandumpBus, error) {
	var names []string
	err := godirwalk.Walk(dir, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if path == dir {
				return nil
			}
			if de.IsDir() {
				return filepath.SkipDir
			}
			names = append(names, path)
			return nil
		},
		Unsorted: true,
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	b := &CandumpBus{ch: make(chan RawFrame, 1024), closed: make(chan struct{})}
	var frames []RawFrame
	for _, name := range names {
		fs, err := parseCandumpFile(name)
		if err != nil {
			close(b.closed)
			return nil, err
		}
		frames = append(frames, fs...)
	}
	go func() {
		defer close(b.ch)
		for _, f := range frames {
			select {
			case b.ch <- f:
			case <-b.closed:
				return
			}
		}
	}()
	return b, nil
}

func parseCandumpFile(path string) ([]RawFrame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []RawFrame
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		rf, ok := parseCandumpLine(sc.Text())
		if ok {
			out = append(out, rf)
		}
	}
	return out, sc.Err()
}

// parseCandumpLine parses one `(<epoch.usec>) <iface> <id>#<hex-data>` line.
// The timestamp and interface name are not carried into RawFrame - a replay
// has no wall-clock meaning beyond delivery order - so only the id/data pair
// is returned.
func parseCandumpLine(line string) (RawFrame, bool) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return RawFrame{}, false
	}
	idData := fields[2]
	hashIdx := strings.IndexByte(idData, '#')
	if hashIdx < 0 {
		return RawFrame{}, false
	}
	idStr, dataStr := idData[:hashIdx], idData[hashIdx+1:]
	id, err := strconv.ParseUint(idStr, 16, 32)
	if err != nil {
		return RawFrame{}, false
	}
	data, err := hex.DecodeString(dataStr)
	if err != nil {
		return RawFrame{}, false
	}
	return RawFrame{ID: uint32(id), Data: data}, true
}

func (b *CandumpBus) Send(RawFrame) error { return ErrReadOnlyBus }

func (b *CandumpBus) Recv() (RawFrame, error) {
	f, ok := <-b.ch
	if !ok {
		return RawFrame{}, ErrBusClosed
	}
	return f, nil
}

func (b *CandumpBus) Close() error {
	select {
	case <-b.closed:
	default:
		close(b.closed)
	}
	return nil
}
