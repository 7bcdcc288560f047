//go:build linux

// Package serial: baud-rate override for a POSIX tty, via the termios
// ioctls - the one bit of serial line discipline a runnable driver needs
// that cyphal/ho and cyphal/serial's COBS/framing code has no business
// knowing about.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package serial

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

var baudRates = map[uint32]uint32{
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	921600:  unix.B921600,
	1000000: unix.B1000000,
}

// SetBaudRate applies rate to the tty backing f, leaving other termios
// settings untouched. A rate of 0 is a no-op (registry.Build's "keep
// current" convention for serial.baudrate).
func SetBaudRate(f *os.File, rate uint32) error {
	if rate == 0 {
		return nil
	}
	speed, ok := baudRates[rate]
	if !ok {
		return fmt.Errorf("serial: unsupported baud rate %d", rate)
	}
	t, err := unix.IoctlGetTermios(int(f.Fd()), unix.TCGETS)
	if err != nil {
		return err
	}
	t.Ispeed = speed
	t.Ospeed = speed
	return unix.IoctlSetTermios(int(f.Fd()), unix.TCSETS, t)
}
