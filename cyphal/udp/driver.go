// Package udp: socket driver.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package udp

import (
	"net"
	"syscall"

	"github.com/higebu/netfd"
	"golang.org/x/net/ipv4"

	"github.com/cyphal-go/cytx/cmn/nlog"
	"github.com/cyphal-go/cytx/cyphal/ho"
)

// Socket wraps one UDP socket used either to publish (send-only, unicast
// source) or to subscribe (joined to one or more multicast groups).
type Socket struct {
	conn *net.UDPConn
	pc   *ipv4.PacketConn
	ttl  int
}

// Listen opens a socket bound to port, joins group, and enables SO_REUSEPORT
// so multiple local subscribers (e.g. a publisher and a tracer) can bind the
// same group/port concurrently, which net.ListenMulticastUDP alone does not
// allow on Linux.
func Listen(group *net.UDPAddr) (*Socket, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: group.Port})
	if err != nil {
		return nil, err
	}
	if err := enableReusePort(conn); err != nil {
		nlog.Warningf("udp: SO_REUSEPORT unavailable on this socket: %v", err)
	}
	pc := ipv4.NewPacketConn(conn)
	ifaces, _ := net.Interfaces()
	joined := false
	for i := range ifaces {
		if ifaces[i].Flags&net.FlagMulticast == 0 {
			continue
		}
		if err := pc.JoinGroup(&ifaces[i], group); err == nil {
			joined = true
		}
	}
	if !joined {
		conn.Close()
		return nil, net.InvalidAddrError("no multicast-capable interface")
	}
	return &Socket{conn: conn, pc: pc, ttl: DefaultTTL}, nil
}

// Dial opens a send-only socket for publishing to a multicast group at the
// configured (or default) TTL.
func Dial() (*Socket, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, err
	}
	pc := ipv4.NewPacketConn(conn)
	_ = pc.SetMulticastTTL(DefaultTTL)
	return &Socket{conn: conn, pc: pc, ttl: DefaultTTL}, nil
}

func (s *Socket) SetTTL(ttl int) error {
	s.ttl = ttl
	return s.pc.SetMulticastTTL(ttl)
}

// SetDSCP applies a differentiated-services code point to outgoing
// datagrams, used to prioritize exceptional/immediate traffic on networks
// that honor it.
func (s *Socket) SetDSCP(dscp int) error { return s.pc.SetTOS(dscp << 2) }

func (s *Socket) Send(addr *net.UDPAddr, f ho.Frame) error {
	_, err := s.conn.WriteToUDP(f.Pack(), addr)
	return err
}

// Recv reads one datagram and parses it as a high-overhead frame.
func (s *Socket) Recv(buf []byte) (ho.Frame, *net.UDPAddr, error) {
	n, addr, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		return ho.Frame{}, nil, err
	}
	f, err := ho.Unpack(buf[:n])
	if err != nil {
		return ho.Frame{}, addr, err
	}
	return f, addr, nil
}

func (s *Socket) Close() error { return s.conn.Close() }

func enableReusePort(conn *net.UDPConn) error {
	fd, err := netfd.Fd(conn)
	if err != nil {
		return err
	}
	return syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, 0x0F /* SO_REUSEPORT */, 1)
}
