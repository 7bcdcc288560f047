// Package core: idle-session collector.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package core

import (
	"container/heap"
	"time"

	"github.com/cyphal-go/cytx/cmn/cos"
	"github.com/cyphal-go/cytx/cmn/nlog"
)

const (
	dfltTick  = time.Second
	idleTicks = 30 // ~30s of inactivity before a session is torn down
)

type ctrl struct {
	s   *Session
	add bool
}

// collector runs the single event loop that owns every session's idle
// countdown: one ticker, one min-heap ordered by ticks-remaining, and as
// many producers feeding ctrlCh as there are media-layer drivers - never one
// goroutine per session.
type collector struct {
	sessions map[string]*Session
	ticker   *time.Ticker
	stopCh   cos.StopCh
	ctrlCh   chan ctrl
	heap     []*Session
	onIdle   func(*Session)
}

func newCollector(onIdle func(*Session)) *collector {
	return &collector{
		sessions: make(map[string]*Session),
		stopCh:   cos.NewStopCh(),
		ctrlCh:   make(chan ctrl, 64),
		onIdle:   onIdle,
	}
}

func (gc *collector) add(s *Session)    { gc.ctrlCh <- ctrl{s, true} }
func (gc *collector) remove(s *Session) { gc.ctrlCh <- ctrl{s, false} }

func (gc *collector) run() {
	gc.ticker = time.NewTicker(dfltTick)
	defer gc.ticker.Stop()
	for {
		select {
		case <-gc.ticker.C:
			gc.tick()
		case c, ok := <-gc.ctrlCh:
			if !ok {
				return
			}
			s := c.s
			_, exists := gc.sessions[s.ID]
			if c.add {
				if exists {
					continue
				}
				s.time.ticks = idleTicks
				gc.sessions[s.ID] = s
				heap.Push(gc, s)
			} else if exists {
				heap.Remove(gc, s.time.index)
				delete(gc.sessions, s.ID)
			}
		case <-gc.stopCh.Listen():
			gc.sessions = nil
			return
		}
	}
}

func (gc *collector) stop() { gc.stopCh.Close() }

// tick decrements every session's ticks-remaining once per dfltTick, resets
// any session touched since the last tick, and tears down the rest.
func (gc *collector) tick() {
	for len(gc.heap) > 0 {
		s := gc.heap[0]
		if s.IsActive() {
			s.sessST.Store(false)
			s.time.ticks = idleTicks
			heap.Fix(gc, 0)
			continue
		}
		s.time.ticks--
		if s.time.ticks > 0 {
			heap.Fix(gc, 0)
			break
		}
		nlog.Infof("core: session %s idle, tearing down", s.ID)
		heap.Pop(gc)
		delete(gc.sessions, s.ID)
		if gc.onIdle != nil {
			gc.onIdle(s)
		}
	}
}

// min-heap by ticks-remaining

func (gc *collector) Len() int           { return len(gc.heap) }
func (gc *collector) Less(i, j int) bool { return gc.heap[i].time.ticks < gc.heap[j].time.ticks }
func (gc *collector) Swap(i, j int) {
	gc.heap[i], gc.heap[j] = gc.heap[j], gc.heap[i]
	gc.heap[i].time.index = i
	gc.heap[j].time.index = j
}

func (gc *collector) Push(x any) {
	s := x.(*Session)
	s.time.index = len(gc.heap)
	gc.heap = append(gc.heap, s)
}

func (gc *collector) Pop() any {
	old := gc.heap
	n := len(old)
	s := old[n-1]
	old[n-1] = nil
	gc.heap = old[:n-1]
	return s
}
