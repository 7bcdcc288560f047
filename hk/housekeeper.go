// Package hk provides a mechanism for registering cleanup/periodic functions
// invoked at their own independently configurable intervals.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package hk

import (
	"container/heap"
	"sync"
	"time"

	"github.com/cyphal-go/cytx/cmn/cos"
)

const dfltTick = 500 * time.Millisecond

type (
	// CleanupFunc runs at its own interval; a zero/negative returned duration
	// unregisters it.
	CleanupFunc func() time.Duration

	request struct {
		f        CleanupFunc
		name     string
		due      time.Time
		index    int
		initTime time.Duration
	}

	HK struct {
		mu       sync.Mutex
		byName   map[string]*request
		heap     []*request
		ticker   *time.Ticker
		stopCh   cos.StopCh
		regCh    chan *request
		unregCh  chan string
		started  chan struct{}
		once     sync.Once
	}
)

var DefaultHK = New()

func New() *HK {
	return &HK{
		byName:  make(map[string]*request),
		regCh:   make(chan *request, 16),
		unregCh: make(chan string, 16),
		started: make(chan struct{}),
		stopCh:  cos.NewStopCh(),
	}
}

// TestInit recreates DefaultHK for isolated test runs.
func TestInit() { DefaultHK = New() }

func WaitStarted() { <-DefaultHK.started }

func Reg(name string, f CleanupFunc, initTime time.Duration) {
	DefaultHK.Reg(name, f, initTime)
}

func Unreg(name string) { DefaultHK.Unreg(name) }

func (h *HK) Name() string { return "housekeeper" }

func (h *HK) Reg(name string, f CleanupFunc, initTime time.Duration) {
	h.regCh <- &request{f: f, name: name, initTime: initTime}
}

func (h *HK) Unreg(name string) { h.unregCh <- name }

func (h *HK) Run() error {
	h.ticker = time.NewTicker(dfltTick)
	defer h.ticker.Stop()
	h.once.Do(func() { close(h.started) })
	for {
		select {
		case <-h.ticker.C:
			h.fire(time.Now())
		case r := <-h.regCh:
			r.due = time.Now().Add(cos.NonZero(r.initTime, dfltTick))
			h.mu.Lock()
			if old, ok := h.byName[r.name]; ok {
				heap.Remove(h, old.index)
			}
			h.byName[r.name] = r
			heap.Push(h, r)
			h.mu.Unlock()
		case name := <-h.unregCh:
			h.mu.Lock()
			if r, ok := h.byName[name]; ok {
				heap.Remove(h, r.index)
				delete(h.byName, name)
			}
			h.mu.Unlock()
		case <-h.stopCh.Listen():
			return nil
		}
	}
}

func (h *HK) Stop(error) { h.stopCh.Close() }

func (h *HK) fire(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for len(h.heap) > 0 && !h.heap[0].due.After(now) {
		r := h.heap[0]
		d := r.f()
		if d <= 0 {
			heap.Pop(h)
			delete(h.byName, r.name)
			continue
		}
		r.due = now.Add(d)
		heap.Fix(h, 0)
	}
}

// min-heap by due time

func (h *HK) Len() int            { return len(h.heap) }
func (h *HK) Less(i, j int) bool  { return h.heap[i].due.Before(h.heap[j].due) }
func (h *HK) Swap(i, j int) {
	h.heap[i], h.heap[j] = h.heap[j], h.heap[i]
	h.heap[i].index, h.heap[j].index = i, j
}

func (h *HK) Push(x any) {
	r := x.(*request)
	r.index = len(h.heap)
	h.heap = append(h.heap, r)
}

func (h *HK) Pop() any {
	old := h.heap
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	h.heap = old[:n-1]
	return r
}

var _ cos.Runner = (*HK)(nil)
