// Package nlog - aistore logger, provides buffering, timestamping, writing, and
// flushing/syncing/rotating
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"fmt"
	"os"
	"sync"
	"time"
)

var (
	host, _ = os.Hostname()
	pid     = os.Getpid()

	logDir string
	module string // e.g. "can", "udp", "serial" - set by SetLogDirRole
	title  string

	toStderr     bool
	alsoToStderr bool

	onceInitFiles sync.Once

	nlogs         [3]*nlog
	sevText       = [3]string{"INFO", "WARNING", "ERROR"}
	redactFnames  = map[string]struct{}{} // file names never logged (e.g. secrets handling)
	pool          sync.Pool
)

func sname() string {
	if module == "" {
		return "cytx"
	}
	return "cytx." + module
}

func initFiles() {
	for _, sev := range []severity{sevInfo, sevWarn, sevErr} {
		nlogs[sev] = newNlog(sev)
	}
	if toStderr {
		return
	}
	now := time.Now()
	for _, sev := range []severity{sevInfo, sevErr} {
		if f, _, err := fcreate(sevText[sev], now); err == nil {
			nlogs[sev].file = f
		}
	}
}

func fcreate(tag string, now time.Time) (*os.File, string, error) {
	if logDir == "" {
		return nil, "", fmt.Errorf("nlog: log directory not set")
	}
	name, link := logfname(tag, now)
	path := logDir + string(os.PathSeparator) + name
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	return f, link, err
}

func assert(cond bool) {
	if !cond {
		panic("nlog: assertion failed")
	}
}
