// Package cmn provides common constants, types, and utilities shared by the
// transport stack.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import "time"

// Config holds the subset of register-driven values that are hot enough to
// warrant caching in Rom. The full key/value register surface lives in the
// registry package; this is just the part the transport fast path reads.
type Config struct {
	TransferIDTimeout time.Duration
	SendTimeout       time.Duration
	LogLevel          int
	MTU               int
}
