// Package udp: socket reader / demultiplexer. One Reader owns one socket
// bound to the group+port for a single data specifier; it runs a dedicated
// goroutine that decodes each datagram, timestamps it, filters
// self-reception, maps the source IP to a node-ID, and fans the result out
// to at most two listeners - the promiscuous one (if any) and the selective
// one for that source (if any).
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package udp

import (
	"net"
	"sync"
	"time"

	"github.com/cyphal-go/cytx/cmn/nlog"
	"github.com/cyphal-go/cytx/cyphal"
	"github.com/cyphal-go/cytx/cyphal/ho"
)

// timeInThePast forces a blocked ReadFromUDP to return immediately so Run
// can observe doneCh, without racing an fd reuse against a reader that
// might still be inside the kernel read call.
var timeInThePast = time.Unix(0, 0)

// SourceNodeID maps a datagram's source IP to the node-ID that owns it,
// using the low two octets of the address - the same convention Endpoint
// uses to build multicast groups for a given node.
func SourceNodeID(ip net.IP) cyphal.NodeID {
	v4 := ip.To4()
	if v4 == nil {
		return cyphal.AnonymousNode
	}
	return cyphal.NodeID(uint16(v4[2])<<8 | uint16(v4[3]))
}

// listener receives frames demultiplexed from one Reader's socket.
type listener interface {
	Accept(ts cyphal.Timestamp, src cyphal.NodeID, h ho.Header, payload []byte)
}

// Reader is the per-data-specifier socket reader described by the
// demultiplexer contract.
type Reader struct {
	sock      *Socket
	localIP   net.IP
	spec      cyphal.DataSpecifier
	mtu       int
	wakeCh    chan struct{}
	closeOnce sync.Once
	doneCh    chan struct{}
	exitedCh  chan struct{}

	mu          sync.Mutex
	promiscuous listener
	selective   map[cyphal.NodeID]listener

	droppedBySource map[string]int64
}

func NewReader(sock *Socket, localIP net.IP, spec cyphal.DataSpecifier, mtu int) *Reader {
	return &Reader{
		sock:            sock,
		localIP:         localIP,
		spec:            spec,
		mtu:             mtu,
		wakeCh:          make(chan struct{}, 1),
		doneCh:          make(chan struct{}),
		exitedCh:        make(chan struct{}),
		selective:       make(map[cyphal.NodeID]listener),
		droppedBySource: make(map[string]int64),
	}
}

func (r *Reader) SetPromiscuous(l listener) {
	r.mu.Lock()
	r.promiscuous = l
	r.mu.Unlock()
}

func (r *Reader) SetSelective(src cyphal.NodeID, l listener) {
	r.mu.Lock()
	if l == nil {
		delete(r.selective, src)
	} else {
		r.selective[src] = l
	}
	r.mu.Unlock()
}

// Run is the reader's dedicated goroutine; it returns when the socket is
// closed out from under it or Close is called. Close does not release the
// socket until Run has actually returned (signaled via exitedCh), since a
// reused file descriptor could otherwise start delivering a new reader's
// datagrams to this stale goroutine's in-flight read.
func (r *Reader) Run() {
	defer close(r.exitedCh)
	buf := make([]byte, r.mtu+ho.HeaderSize+64)
	for {
		select {
		case <-r.doneCh:
			return
		default:
		}
		f, addr, err := r.sock.Recv(buf)
		ts := cyphal.Now()
		if err != nil {
			select {
			case <-r.doneCh:
				return
			default:
			}
			if addr == nil {
				// socket-level failure, not a malformed frame: nothing
				// useful to report the parse error against.
				nlog.Warningf("udp: reader for %+v: recv error: %v", r.spec, err)
				continue
			}
			// a datagram arrived but failed to parse as a Cyphal
			// high-overhead frame; still invoke the selective listener
			// (with a nil frame) so it can count the error.
			src := SourceNodeID(addr.IP)
			r.mu.Lock()
			sel := r.selective[src]
			r.mu.Unlock()
			if sel != nil {
				sel.Accept(ts, src, ho.Header{}, nil)
			}
			continue
		}
		if addr != nil && addr.IP.Equal(r.localIP) {
			continue // self-reception
		}
		src := SourceNodeID(addr.IP)
		r.mu.Lock()
		prom := r.promiscuous
		sel := r.selective[src]
		r.mu.Unlock()
		if prom == nil && sel == nil {
			r.mu.Lock()
			r.droppedBySource[addr.IP.String()]++
			r.mu.Unlock()
			continue
		}
		if prom != nil {
			prom.Accept(ts, src, f.Header, f.Payload)
		}
		if sel != nil {
			sel.Accept(ts, src, f.Header, f.Payload)
		}
	}
}

// DroppedBySource returns a snapshot of the dropped-datagram counters keyed
// by source IP, for sources with no matching listener.
func (r *Reader) DroppedBySource() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int64, len(r.droppedBySource))
	for k, v := range r.droppedBySource {
		out[k] = v
	}
	return out
}

// Close stops Run and releases the socket. It does not close the socket
// while a read may still be outstanding on it: Run observes doneCh on its
// next loop iteration, and Close joins it before returning.
func (r *Reader) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.doneCh)
		_ = r.sock.conn.SetReadDeadline(timeInThePast)
		<-r.exitedCh
		err = r.sock.Close()
	})
	return err
}
