// Package prob implements a fully-featured dynamic probabilistic filter,
// used where an exact set is too costly to keep (e.g. de-duplicating
// already-seen transfer identities across a long-lived redundant link).
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package prob

import (
	"sync"

	cuckoo "github.com/seiflotfy/cuckoofilter"
)

// Filter is a cuckoo filter that grows by swapping in a larger sibling once
// it crosses a load-factor threshold, rather than paying for an exact-sized
// filter up front. False positives are possible (by design). False negatives
// are possible too: a grow starts from an empty filter, so entries inserted
// before it are no longer found.
type Filter struct {
	mu    sync.RWMutex
	cur   *cuckoo.Filter
	cap   uint
	count uint
}

const growFactor = 2

func NewFilter(initialCapacity uint) *Filter {
	if initialCapacity == 0 {
		initialCapacity = 1 << 14
	}
	return &Filter{cur: cuckoo.NewFilter(initialCapacity), cap: initialCapacity}
}

func (f *Filter) Lookup(data []byte) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cur.Lookup(data)
}

// Insert adds data to the filter, transparently reallocating into a bigger
// filter (carrying forward nothing - cuckoo filters are not mergeable) once
// the load factor gets too high for reliable inserts.
func (f *Filter) Insert(data []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.cur.Insert(data) {
		f.grow()
		f.cur.Insert(data)
	}
	f.count++
	return true
}

func (f *Filter) Delete(data []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cur.Delete(data)
}

func (f *Filter) Reset() {
	f.mu.Lock()
	f.cur = cuckoo.NewFilter(f.cap)
	f.count = 0
	f.mu.Unlock()
}

func (f *Filter) Count() uint {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.count
}

// grow must be called with f.mu held.
func (f *Filter) grow() {
	f.cap *= growFactor
	f.cur = cuckoo.NewFilter(f.cap)
}
