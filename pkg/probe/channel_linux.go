//go:build linux

package probe

import (
	"net"
	"time"

	"github.com/mdlayher/packet"
	"golang.org/x/sys/unix"
)

type packetChannel struct {
	conn *packet.Conn
}

// Open binds a raw AF_PACKET socket to ifi that sees only ARP frames.
// It needs CAP_NET_RAW.
func Open(ifi Interface) (Channel, error) {
	conn, err := packet.Listen(&net.Interface{
		Index:        ifi.Index,
		Name:         ifi.Name,
		HardwareAddr: ifi.HardwareAddr,
	}, packet.Raw, unix.ETH_P_ARP, nil)
	if err != nil {
		return nil, &ChannelError{Interface: ifi.Name, Op: "open", Err: err}
	}
	return &packetChannel{conn: conn}, nil
}

func (c *packetChannel) Send(frame []byte) error {
	_, err := c.conn.WriteTo(frame, &packet.Addr{HardwareAddr: Broadcast})
	return err
}

func (c *packetChannel) Receive(buf []byte, deadline time.Time) (int, error) {
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}
	n, _, err := c.conn.ReadFrom(buf)
	return n, err
}

func (c *packetChannel) Close() error { return c.conn.Close() }
