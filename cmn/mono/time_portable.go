//go:build !mono

// Package mono provides low-level monotonic time
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package mono

import "time"

// Portable fallback for builds that don't opt into the linkname trick in
// fast_nanotime.go (`-tags mono`). Slower (one syscall on most platforms) but
// correct everywhere cross-compilation needs to work. The reading is the
// monotonic time elapsed since package init, so wall-clock jumps do not
// affect it.
var start = time.Now()

func NanoTime() int64 { return int64(time.Since(start)) }
