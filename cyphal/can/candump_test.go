// Package can: candump replay bus tests.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package can_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cyphal-go/cytx/cyphal/can"
)

func writeCandump(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", name, err)
	}
}

func TestOpenCandump_ReplaysFramesInFileOrder(t *testing.T) {
	dir := t.TempDir()
	writeCandump(t, dir, "a.log", "(1700000000.000001) vcan0 123#0102\n(1700000000.000002) vcan0 124#03\n")
	writeCandump(t, dir, "b.log", "(1700000001.000000) vcan0 125#0405\n")

	bus, err := can.OpenCandump(dir)
	if err != nil {
		t.Fatalf("OpenCandump: %v", err)
	}
	defer bus.Close()

	want := []can.RawFrame{
		{ID: 0x123, Data: []byte{0x01, 0x02}},
		{ID: 0x124, Data: []byte{0x03}},
		{ID: 0x125, Data: []byte{0x04, 0x05}},
	}
	for i, w := range want {
		got, err := bus.Recv()
		if err != nil {
			t.Fatalf("Recv[%d]: %v", i, err)
		}
		if got.ID != w.ID || string(got.Data) != string(w.Data) {
			t.Errorf("Recv[%d] = %+v, want %+v", i, got, w)
		}
	}
	if _, err := bus.Recv(); err != can.ErrBusClosed {
		t.Fatalf("Recv after last frame: err = %v, want ErrBusClosed", err)
	}
}

func TestOpenCandump_SkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	writeCandump(t, dir, "a.log", ""+
		"not a candump line\n"+
		"(1700000000.000001) vcan0 123#0102\n"+
		"(1700000000.000002) vcan0 nohash\n"+
		"(1700000000.000003) vcan0 zz#0102\n", // bad hex id
	)

	bus, err := can.OpenCandump(dir)
	if err != nil {
		t.Fatalf("OpenCandump: %v", err)
	}
	defer bus.Close()

	got, err := bus.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if got.ID != 0x123 {
		t.Errorf("ID = %#x, want 0x123", got.ID)
	}
	if _, err := bus.Recv(); err != can.ErrBusClosed {
		t.Fatalf("Recv after only valid frame: err = %v, want ErrBusClosed", err)
	}
}

func TestCandumpBus_SendIsReadOnly(t *testing.T) {
	dir := t.TempDir()
	writeCandump(t, dir, "a.log", "(1700000000.000001) vcan0 1#00\n")
	bus, err := can.OpenCandump(dir)
	if err != nil {
		t.Fatalf("OpenCandump: %v", err)
	}
	defer bus.Close()

	if err := bus.Send(can.RawFrame{}); err != can.ErrReadOnlyBus {
		t.Fatalf("Send: err = %v, want ErrReadOnlyBus", err)
	}
}

func TestCandumpBus_CloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeCandump(t, dir, "a.log", "(1700000000.000001) vcan0 1#00\n")
	bus, err := can.OpenCandump(dir)
	if err != nil {
		t.Fatalf("OpenCandump: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
