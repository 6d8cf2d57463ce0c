package probe

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
)

const (
	EtherTypeARP  uint16 = 0x0806
	EtherTypeIPv4 uint16 = 0x0800

	hardwareEthernet uint16 = 1

	OpRequest uint16 = 1
	OpReply   uint16 = 2

	ethernetHeaderLen = 14
	arpPacketLen      = 28

	// MinFrameLen is the shortest frame ParseReply will look at.
	MinFrameLen = ethernetHeaderLen + arpPacketLen
	// FrameLen is the padded size of frames we send (the Ethernet minimum).
	FrameLen = 60
)

// Broadcast is the Ethernet broadcast address.
var Broadcast = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// Frame is an Ethernet frame carrying an ARP packet. Accessors read fixed
// offsets and assume len(f) >= MinFrameLen.
type Frame []byte

func (f Frame) Destination() net.HardwareAddr    { return net.HardwareAddr(f[0:6]) }
func (f Frame) Source() net.HardwareAddr         { return net.HardwareAddr(f[6:12]) }
func (f Frame) EtherType() uint16                { return binary.BigEndian.Uint16(f[12:14]) }
func (f Frame) HardwareType() uint16             { return binary.BigEndian.Uint16(f[14:16]) }
func (f Frame) ProtocolType() uint16             { return binary.BigEndian.Uint16(f[16:18]) }
func (f Frame) HardwareLen() uint8               { return f[18] }
func (f Frame) ProtocolLen() uint8               { return f[19] }
func (f Frame) Operation() uint16                { return binary.BigEndian.Uint16(f[20:22]) }
func (f Frame) SenderHardware() net.HardwareAddr { return net.HardwareAddr(f[22:28]) }
func (f Frame) SenderProtocol() netip.Addr       { return netip.AddrFrom4([4]byte(f[28:32])) }
func (f Frame) TargetHardware() net.HardwareAddr { return net.HardwareAddr(f[32:38]) }
func (f Frame) TargetProtocol() netip.Addr       { return netip.AddrFrom4([4]byte(f[38:42])) }

func (f Frame) setAddresses(dst, src net.HardwareAddr) {
	copy(f[0:6], dst)
	copy(f[6:12], src)
	binary.BigEndian.PutUint16(f[12:14], EtherTypeARP)
}

func (f Frame) setARP(op uint16, sha net.HardwareAddr, spa netip.Addr, tha net.HardwareAddr, tpa netip.Addr) {
	binary.BigEndian.PutUint16(f[14:16], hardwareEthernet)
	binary.BigEndian.PutUint16(f[16:18], EtherTypeIPv4)
	f[18] = 6
	f[19] = 4
	binary.BigEndian.PutUint16(f[20:22], op)
	copy(f[22:28], sha)
	spa4 := spa.As4()
	copy(f[28:32], spa4[:])
	copy(f[32:38], tha)
	tpa4 := tpa.As4()
	copy(f[38:42], tpa4[:])
}

// BuildRequest returns a broadcast ARP request asking who has target.
// senderIP may be the zero Addr, which is sent as 0.0.0.0.
func BuildRequest(senderHW net.HardwareAddr, senderIP, target netip.Addr) (Frame, error) {
	if len(senderHW) != 6 {
		return nil, fmt.Errorf("probe: sender hardware address %q is not Ethernet", senderHW)
	}
	if !senderIP.IsValid() {
		senderIP = netip.IPv4Unspecified()
	}
	if !senderIP.Is4() || !target.Is4() {
		return nil, fmt.Errorf("probe: %s -> %s is not an IPv4 pair", senderIP, target)
	}
	f := make(Frame, FrameLen)
	f.setAddresses(Broadcast, senderHW)
	f.setARP(OpRequest, senderHW, senderIP, Broadcast, target)
	return f, nil
}

// BuildReply returns the ARP reply a host at senderIP/senderHW sends back to
// the requester at targetIP/targetHW.
func BuildReply(senderHW net.HardwareAddr, senderIP netip.Addr, targetHW net.HardwareAddr, targetIP netip.Addr) (Frame, error) {
	if len(senderHW) != 6 || len(targetHW) != 6 {
		return nil, fmt.Errorf("probe: %q -> %q is not an Ethernet pair", senderHW, targetHW)
	}
	if !senderIP.Is4() || !targetIP.Is4() {
		return nil, fmt.Errorf("probe: %s -> %s is not an IPv4 pair", senderIP, targetIP)
	}
	f := make(Frame, FrameLen)
	f.setAddresses(targetHW, senderHW)
	f.setARP(OpReply, senderHW, senderIP, targetHW, targetIP)
	return f, nil
}

// ParseRequest reports the asked-for address if b is an Ethernet/IPv4 ARP request.
func ParseRequest(b []byte) (netip.Addr, bool) {
	f, ok := arpFrame(b)
	if !ok || f.Operation() != OpRequest {
		return netip.Addr{}, false
	}
	return f.TargetProtocol(), true
}

// ParseReply reports the responder's address if b is an Ethernet/IPv4 ARP
// reply. Short or foreign frames yield false.
func ParseReply(b []byte) (netip.Addr, bool) {
	f, ok := arpFrame(b)
	if !ok || f.Operation() != OpReply {
		return netip.Addr{}, false
	}
	return f.SenderProtocol(), true
}

func arpFrame(b []byte) (Frame, bool) {
	if len(b) < MinFrameLen {
		return nil, false
	}
	f := Frame(b)
	if f.EtherType() != EtherTypeARP || f.ProtocolType() != EtherTypeIPv4 {
		return nil, false
	}
	if f.HardwareLen() != 6 || f.ProtocolLen() != 4 {
		return nil, false
	}
	return f, true
}
