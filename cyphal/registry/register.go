// Package registry builds a cyphal.Transport from a typed key/value
// configuration surface, the role the teacher's CLI/registry loading plays
// for a running aisnode: a small set of recognized keys turn into one or
// more wired-up media transports, aggregated under a redundant transport
// when more than one is configured.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package registry

// Register is the minimal typed key/value store the factory consumes. It is
// intentionally narrow - string/uint16/uint32/bool getters, nothing else -
// since loading it from a file, environment, or remote config service is
// explicitly out of this module's scope (spec.md Non-goals); only the
// interface the factory needs from it is defined here.
type Register interface {
	String(key string) (string, bool)
	Uint16(key string) (uint16, bool)
	Uint32(key string) (uint32, bool)
	Bool(key string) (bool, bool)
}

// MapRegister is an in-memory Register, good enough for tests and for small
// programs that assemble their configuration in Go rather than from an
// external file.
type MapRegister map[string]any

func (m MapRegister) String(key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (m MapRegister) Uint16(key string) (uint16, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case uint16:
		return n, true
	case int:
		return uint16(n), true
	}
	return 0, false
}

func (m MapRegister) Uint32(key string) (uint32, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case uint32:
		return n, true
	case int:
		return uint32(n), true
	}
	return 0, false
}

func (m MapRegister) Bool(key string) (bool, bool) {
	v, ok := m[key]
	if !ok {
		return 0 != 0, false
	}
	b, ok := v.(bool)
	return b, ok
}
