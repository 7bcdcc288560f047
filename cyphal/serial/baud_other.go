//go:build !linux

/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package serial

import (
	"fmt"
	"os"
)

// SetBaudRate is unimplemented outside Linux; this module targets POSIX
// network stacks (see DESIGN.md on the Windows-workaround REDESIGN FLAG) but
// only wires the termios ioctl for the one platform the teacher's own build
// tags target.
func SetBaudRate(f *os.File, rate uint32) error {
	if rate == 0 {
		return nil
	}
	return fmt.Errorf("serial: baud rate override not supported on this platform")
}
