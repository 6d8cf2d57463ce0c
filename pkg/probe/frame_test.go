package probe_test

import (
	"encoding/binary"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryandielhenn/rackmap/pkg/probe"
	"github.com/ryandielhenn/rackmap/pkg/probe/probetest"
)

func TestBuildRequestLayout(t *testing.T) {
	hw := probetest.MAC(1)
	f, err := probe.BuildRequest(hw, netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("10.0.0.2"))
	require.NoError(t, err)

	require.Len(t, f, probe.FrameLen)
	assert.Equal(t, probe.Broadcast, f.Destination())
	assert.Equal(t, hw, f.Source())
	assert.Equal(t, probe.EtherTypeARP, f.EtherType())
	assert.Equal(t, uint16(1), f.HardwareType())
	assert.Equal(t, probe.EtherTypeIPv4, f.ProtocolType())
	assert.Equal(t, uint8(6), f.HardwareLen())
	assert.Equal(t, uint8(4), f.ProtocolLen())
	assert.Equal(t, probe.OpRequest, f.Operation())
	assert.Equal(t, hw, f.SenderHardware())
	assert.Equal(t, netip.MustParseAddr("10.0.0.1"), f.SenderProtocol())
	assert.Equal(t, netip.MustParseAddr("10.0.0.2"), f.TargetProtocol())
	assert.Equal(t, make([]byte, probe.FrameLen-probe.MinFrameLen), []byte(f[probe.MinFrameLen:]), "padding")
}

func TestBuildRequestWithoutSenderAddress(t *testing.T) {
	f, err := probe.BuildRequest(probetest.MAC(1), netip.Addr{}, probetest.Addr(2))
	require.NoError(t, err)
	assert.Equal(t, netip.IPv4Unspecified(), f.SenderProtocol())
}

func TestBuildRequestRejectsBadInput(t *testing.T) {
	_, err := probe.BuildRequest(probetest.MAC(1), probetest.Addr(1), netip.MustParseAddr("fe80::1"))
	assert.Error(t, err)
	_, err = probe.BuildRequest([]byte{1, 2, 3}, probetest.Addr(1), probetest.Addr(2))
	assert.Error(t, err)
}

func TestParseReply(t *testing.T) {
	reply, err := probe.BuildReply(probetest.MAC(2), probetest.Addr(2), probetest.MAC(1), probetest.Addr(1))
	require.NoError(t, err)
	request, err := probe.BuildRequest(probetest.MAC(1), probetest.Addr(1), probetest.Addr(2))
	require.NoError(t, err)

	addr, ok := probe.ParseReply(reply)
	require.True(t, ok)
	assert.Equal(t, probetest.Addr(2), addr)
	// unpadded frames are fine as long as the ARP body is complete
	_, ok = probe.ParseReply(reply[:probe.MinFrameLen])
	assert.True(t, ok)

	tests := []struct {
		name  string
		frame []byte
	}{
		{"request", request},
		{"short", reply[:probe.MinFrameLen-1]},
		{"empty", nil},
		{"not arp", patch(reply, 12, 0x0800)},
		{"not ipv4", patch(reply, 16, 0x86dd)},
		{"unknown op", patch(reply, 20, 9)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := probe.ParseReply(tt.frame)
			assert.False(t, ok)
		})
	}
}

func TestParseRequest(t *testing.T) {
	request, err := probe.BuildRequest(probetest.MAC(1), probetest.Addr(1), probetest.Addr(7))
	require.NoError(t, err)
	target, ok := probe.ParseRequest(request)
	require.True(t, ok)
	assert.Equal(t, probetest.Addr(7), target)
}

func patch(frame []byte, off int, v uint16) []byte {
	out := append([]byte(nil), frame...)
	binary.BigEndian.PutUint16(out[off:], v)
	return out
}
