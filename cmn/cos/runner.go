// Package cos provides common low-level types and utilities
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package cos

// Runner is implemented by every long-lived background loop (media drivers,
// the stream collector, the housekeeper) so they can be started and stopped
// uniformly.
type Runner interface {
	Name() string
	Run() error
	Stop(err error)
}
