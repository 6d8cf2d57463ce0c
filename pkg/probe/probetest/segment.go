// Package probetest simulates layer-2 segments so discovery can run without
// raw sockets.
package probetest

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/ryandielhenn/rackmap/pkg/probe"
)

// Segment is a broadcast domain. Hosts added to it answer ARP requests for
// their address; every frame sent by a port reaches every other open port.
type Segment struct {
	mu    sync.Mutex
	hosts map[netip.Addr]net.HardwareAddr
	ports []*port
}

func NewSegment() *Segment {
	return &Segment{hosts: make(map[netip.Addr]net.HardwareAddr)}
}

// AddHost makes addr answer ARP requests on the segment.
func (s *Segment) AddHost(addr netip.Addr, hw net.HardwareAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hosts[addr] = hw
}

// Open attaches a new port for ifi. It satisfies probe.Opener.
func (s *Segment) Open(ifi probe.Interface) (probe.Channel, error) {
	p := &port{seg: s, frames: make(chan []byte, 256)}
	s.mu.Lock()
	s.ports = append(s.ports, p)
	s.mu.Unlock()
	return p, nil
}

func (s *Segment) deliver(from *port, frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.ports {
		if p == from || p.closed {
			continue
		}
		select {
		case p.frames <- append([]byte(nil), frame...):
		default:
		}
	}
}

func (s *Segment) answer(frame []byte) []byte {
	target, ok := probe.ParseRequest(frame)
	if !ok {
		return nil
	}
	req := probe.Frame(frame)
	s.mu.Lock()
	hw, ok := s.hosts[target]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	reply, err := probe.BuildReply(hw, target, req.SenderHardware(), req.SenderProtocol())
	if err != nil {
		return nil
	}
	return reply
}

type port struct {
	seg    *Segment
	frames chan []byte
	// closed is guarded by seg.mu.
	closed bool
}

func (p *port) Send(frame []byte) error {
	p.seg.mu.Lock()
	closed := p.closed
	p.seg.mu.Unlock()
	if closed {
		return net.ErrClosed
	}
	p.seg.deliver(p, frame)
	if reply := p.seg.answer(frame); reply != nil {
		p.seg.deliver(nil, reply)
	}
	return nil
}

func (p *port) Receive(buf []byte, deadline time.Time) (int, error) {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case f := <-p.frames:
		return copy(buf, f), nil
	case <-timer.C:
		return 0, os.ErrDeadlineExceeded
	}
}

func (p *port) Close() error {
	p.seg.mu.Lock()
	defer p.seg.mu.Unlock()
	p.closed = true
	return nil
}

// Interface returns a probe.Interface with a single IPv4 address.
func Interface(name string, hw net.HardwareAddr, addr netip.Addr) probe.Interface {
	return probe.Interface{Name: name, HardwareAddr: hw, Addrs: []netip.Addr{addr}}
}

// Interfaces returns an enumerator for probe.EngineOptions.
func Interfaces(ifaces ...probe.Interface) func() ([]probe.Interface, error) {
	return func() ([]probe.Interface, error) { return ifaces, nil }
}

// MAC returns a locally administered hardware address derived from n.
func MAC(n int) net.HardwareAddr {
	return net.HardwareAddr{0x02, 0, 0, byte(n >> 16), byte(n >> 8), byte(n)}
}

// Addr returns 10.0.0.n.
func Addr(n int) netip.Addr {
	if n < 0 || n > 255 {
		panic(fmt.Sprintf("probetest: host number %d out of range", n))
	}
	return netip.AddrFrom4([4]byte{10, 0, 0, byte(n)})
}
