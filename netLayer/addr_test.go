package netLayer_test

import (
	"net"
	"testing"

	"github.com/e1732a364fed/vlessgate/netLayer"
	"github.com/stretchr/testify/require"
)

func TestParseAddrSegmentIPv4(t *testing.T) {
	a, n, err := netLayer.ParseAddrSegment(netLayer.AtypIP4, []byte{93, 184, 216, 34, 0xff})
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "93.184.216.34", a.HostStr())
}

func TestParseAddrSegmentDomain(t *testing.T) {
	seg := append([]byte{7}, "example"...)
	seg = append(seg, 'x', 'y')
	a, n, err := netLayer.ParseAddrSegment(netLayer.AtypDomain, seg)
	require.NoError(t, err)
	require.Equal(t, 8, n)
	require.Equal(t, "example", a.HostStr())
	require.Nil(t, a.IP)
}

func TestParseAddrSegmentIPv6(t *testing.T) {
	ip := net.ParseIP("2001:db8::1")
	a, n, err := netLayer.ParseAddrSegment(netLayer.AtypIP6, ip)
	require.NoError(t, err)
	require.Equal(t, 16, n)
	require.True(t, ip.Equal(a.IP))

	a.Port = 443
	require.Equal(t, "[2001:db8::1]:443", a.String())
}

func TestParseAddrSegmentErrors(t *testing.T) {
	_, _, err := netLayer.ParseAddrSegment(4, []byte{1, 2, 3, 4})
	require.ErrorIs(t, err, netLayer.ErrAddrTypeUnsupported)

	_, _, err = netLayer.ParseAddrSegment(netLayer.AtypIP4, []byte{1, 2, 3})
	require.ErrorIs(t, err, netLayer.ErrShortAddr)

	_, _, err = netLayer.ParseAddrSegment(netLayer.AtypIP6, make([]byte, 15))
	require.ErrorIs(t, err, netLayer.ErrShortAddr)

	_, _, err = netLayer.ParseAddrSegment(netLayer.AtypDomain, []byte{5, 'a', 'b'})
	require.ErrorIs(t, err, netLayer.ErrShortAddr)

	_, _, err = netLayer.ParseAddrSegment(netLayer.AtypDomain, []byte{0})
	require.ErrorIs(t, err, netLayer.ErrEmptyDomain)
}

func TestAddressBytesRoundTrip(t *testing.T) {
	for _, s := range []string{"1.2.3.4:80", "[::1]:443", "example.com:53"} {
		a, err := netLayer.NewAddrByHostPort(s)
		require.NoError(t, err)

		bs, atyp := a.AddressBytes()
		b, n, err := netLayer.ParseAddrSegment(atyp, bs)
		require.NoError(t, err)
		require.Equal(t, len(bs), n)
		b.Port = a.Port
		require.Equal(t, a.String(), b.String())
	}
}
