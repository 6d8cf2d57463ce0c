package probe

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"time"
)

// Interface is a network interface we can probe from.
type Interface struct {
	Index        int
	Name         string
	HardwareAddr net.HardwareAddr
	Addrs        []netip.Addr
}

// IPv4 returns the first IPv4 address of the interface, or the zero Addr.
func (ifi Interface) IPv4() netip.Addr {
	for _, a := range ifi.Addrs {
		if a.Is4() {
			return a
		}
	}
	return netip.Addr{}
}

// Channel sends and receives raw Ethernet frames on one interface.
type Channel interface {
	// Send transmits a complete Ethernet frame.
	Send(frame []byte) error
	// Receive blocks until a frame arrives or the deadline passes. A passed
	// deadline is reported with an error satisfying os.ErrDeadlineExceeded.
	Receive(buf []byte, deadline time.Time) (int, error)
	Close() error
}

// Opener opens a Channel on an interface.
type Opener func(ifi Interface) (Channel, error)

// ChannelError is a failure on one interface's channel. It never affects
// the other interfaces of a round.
type ChannelError struct {
	Interface string
	Op        string
	Err       error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("probe: %s on %s: %v", e.Op, e.Interface, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// SystemInterfaces lists the host's interfaces that are up, are not loopback
// and carry an Ethernet hardware address.
func SystemInterfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("probe: list interfaces: %w", err)
	}
	var out []Interface
	for _, ifi := range ifaces {
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagLoopback != 0 || len(ifi.HardwareAddr) != 6 {
			continue
		}
		it := Interface{Index: ifi.Index, Name: ifi.Name, HardwareAddr: ifi.HardwareAddr}
		addrs, err := ifi.Addrs()
		if err != nil {
			return nil, fmt.Errorf("probe: addresses of %s: %w", ifi.Name, err)
		}
		for _, a := range addrs {
			ipn, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if ip, ok := netip.AddrFromSlice(ipn.IP); ok {
				it.Addrs = append(it.Addrs, ip.Unmap())
			}
		}
		out = append(out, it)
	}
	return out, nil
}
