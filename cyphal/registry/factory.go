package registry

import (
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/teris-io/shortid"

	"github.com/cyphal-go/cytx/cmn/nlog"
	"github.com/cyphal-go/cytx/cyphal"
	"github.com/cyphal-go/cytx/cyphal/can"
	"github.com/cyphal-go/cytx/cyphal/redundant"
	"github.com/cyphal-go/cytx/cyphal/serial"
	"github.com/cyphal-go/cytx/cyphal/udp"
)

const (
	defaultUDPMTU    = 1200
	minUDPMTU        = 1200
	maxUDPMTU        = 9000
	defaultCANMTU    = 8
	candumpPrefix    = "candump:"
	loopbackIfaceTag = "loopback"
)

var lid = shortid.MustNew(1, "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ-_", 1)

func nextLID() string {
	s, err := lid.Generate()
	if err != nil {
		return "lid"
	}
	return s
}

// Build constructs a cyphal.Transport from reg, per spec.md §6's
// configuration surface. Exactly one sub-transport is returned directly;
// more than one is aggregated under a redundant.Transport.
func Build(reg Register) (cyphal.Transport, error) {
	local := cyphal.AnonymousNode
	if v, ok := reg.Uint16("node.id"); ok {
		local = cyphal.NodeID(v)
	}

	if v, ok := reg.Bool("loopback"); ok && v {
		mtu := defaultCANMTU
		if m, ok := reg.Uint16("can.mtu"); ok {
			mtu = int(m)
		}
		t := can.NewTransport(local, canUsableMTU(mtu), can.NewLoopbackBus())
		nlog.Infof("registry: built loopback transport lid=%s node=%d mtu=%d", nextLID(), local, mtu)
		return t, nil
	}

	var transports []cyphal.Transport

	if ifaces, ok := reg.String("udp.iface"); ok && strings.TrimSpace(ifaces) != "" {
		mtu := defaultUDPMTU
		if m, ok := reg.Uint16("udp.mtu"); ok {
			mtu = int(m)
		}
		if mtu < minUDPMTU || mtu > maxUDPMTU {
			return nil, cyphal.NewErrInvalidTransportConfiguration("udp.mtu %d out of range [%d, %d]", mtu, minUDPMTU, maxUDPMTU)
		}
		for _, ip := range strings.Fields(ifaces) {
			addr := net.ParseIP(ip)
			if addr == nil {
				return nil, cyphal.NewErrInvalidTransportConfiguration("udp.iface: %q is not an IP address", ip)
			}
			t, err := udp.NewTransport(local, addr, mtu)
			if err != nil {
				return nil, errors.Wrapf(err, "registry: udp sub-transport %s", ip)
			}
			nlog.Infof("registry: built udp transport lid=%s node=%d addr=%s mtu=%d", nextLID(), local, ip, mtu)
			transports = append(transports, t)
		}
	}

	if ifaces, ok := reg.String("serial.iface"); ok && strings.TrimSpace(ifaces) != "" {
		var baud uint32
		if b, ok := reg.Uint32("serial.baudrate"); ok {
			baud = b
		}
		mtu := defaultUDPMTU // the high-overhead format's frame budget, same default as UDP
		for _, port := range strings.Fields(ifaces) {
			f, err := os.OpenFile(port, os.O_RDWR, 0)
			if err != nil {
				return nil, errors.Wrapf(err, "registry: open serial port %s", port)
			}
			if err := serial.SetBaudRate(f, baud); err != nil {
				nlog.Warningf("registry: serial %s: baud rate override failed: %v", port, err)
			}
			t := serial.NewTransport(local, mtu, f)
			nlog.Infof("registry: built serial transport lid=%s node=%d port=%s baud=%d", nextLID(), local, port, baud)
			transports = append(transports, t)
		}
	}

	if ifaces, ok := reg.String("can.iface"); ok && strings.TrimSpace(ifaces) != "" {
		mtu := defaultCANMTU
		if m, ok := reg.Uint16("can.mtu"); ok {
			mtu = int(m)
		}
		for _, spec := range strings.Fields(ifaces) {
			bus, err := openCANBus(spec)
			if err != nil {
				return nil, errors.Wrapf(err, "registry: can sub-transport %s", spec)
			}
			t := can.NewTransport(local, canUsableMTU(mtu), bus)
			nlog.Infof("registry: built can transport lid=%s node=%d iface=%s mtu=%d", nextLID(), local, spec, mtu)
			transports = append(transports, t)
		}
	}

	switch len(transports) {
	case 0:
		return nil, cyphal.NewErrInvalidTransportConfiguration("no sub-transport configured (set udp.iface, serial.iface, can.iface, or loopback)")
	case 1:
		return transports[0], nil
	default:
		rt := redundant.New(transports)
		if v, ok := reg.Bool("udp.duplicate_service_transfers"); ok && v {
			rt.SetServiceMultiplier(2)
		}
		nlog.Infof("registry: built redundant transport lid=%s node=%d inferiors=%d", nextLID(), local, len(transports))
		return rt, nil
	}
}

// canUsableMTU converts the spec.md §6 `can.mtu` register value - the CAN
// frame data-field size, 8 for classic CAN 2.0 or up to 64 for CAN FD - into
// the usable payload size can.Transport expects, which reserves one byte of
// every frame for the tail byte (7 or up to 63).
func canUsableMTU(frameMTU int) int {
	return frameMTU - 1
}

// openCANBus resolves one can.iface token to a Bus: "loopback" for the
// in-memory bus, "candump:<path>" for the read-only replay driver. A real
// SocketCAN or other live interface name is out of this module's scope
// (spec.md §1/§6 - "platform media drivers beyond the minimal ... needed to
// exercise the transport core end-to-end"); configuring one here is reported
// as an invalid configuration rather than silently falling back to loopback.
func openCANBus(spec string) (can.Bus, error) {
	switch {
	case spec == loopbackIfaceTag:
		return can.NewLoopbackBus(), nil
	case strings.HasPrefix(spec, candumpPrefix):
		return can.OpenCandump(strings.TrimPrefix(spec, candumpPrefix))
	default:
		return nil, cyphal.NewErrInvalidMediaConfiguration("unsupported can.iface driver %q (supported: %q, %q<path>)", spec, loopbackIfaceTag, candumpPrefix)
	}
}

// ParseBitrate splits the spec.md §6 `can.bitrate` register value
// "<arbitration>,<data>" into its two component rates. The software buses
// this module ships (loopback, candump) have no real bit-rate concept; this
// exists purely so a caller reading the rate out of a Register for logging
// or a future hardware driver does not have to reimplement the parsing.
func ParseBitrate(v string) (arbitration, data uint32, err error) {
	parts := strings.SplitN(v, ",", 2)
	if len(parts) != 2 {
		return 0, 0, errors.Errorf("can.bitrate: expected \"<arbitration>,<data>\", got %q", v)
	}
	a, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 32)
	if err != nil {
		return 0, 0, errors.Wrap(err, "can.bitrate arbitration rate")
	}
	d, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 32)
	if err != nil {
		return 0, 0, errors.Wrap(err, "can.bitrate data rate")
	}
	return uint32(a), uint32(d), nil
}
