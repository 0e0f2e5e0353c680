package vless_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/e1732a364fed/vlessgate/netLayer"
	"github.com/e1732a364fed/vlessgate/proxy/vless"
	"github.com/e1732a364fed/vlessgate/utils"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

const testUUIDStr = "a684455c-b14f-11ea-bf0d-42010aaa0003"

func testUUID(t *testing.T) [16]byte {
	id, err := utils.StrToUUID(testUUIDStr)
	require.NoError(t, err)
	return id
}

func encodeRequest(t *testing.T, version byte, id [16]byte, cmd byte, target netLayer.Addr, payload []byte) []byte {
	buf, err := vless.EncodeRequest(version, id, cmd, target, payload)
	require.NoError(t, err)
	return buf
}

// fakeInbound 模拟 ws.Conn: chunks 中的数据依次由 Next 返回, Send 的数据全部记录下来.
type fakeInbound struct {
	chunks chan []byte
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	sent   []byte
	notify chan struct{}
}

func newFakeInbound(chunks ...[]byte) *fakeInbound {
	in := &fakeInbound{
		chunks: make(chan []byte, 16),
		closed: make(chan struct{}),
		notify: make(chan struct{}, 1),
	}
	for _, c := range chunks {
		in.chunks <- c
	}
	return in
}

func (in *fakeInbound) Next() ([]byte, error) {
	select {
	case <-in.closed:
		return nil, io.EOF
	default:
	}
	select {
	case b, ok := <-in.chunks:
		if !ok {
			return nil, io.EOF
		}
		return b, nil
	case <-in.closed:
		return nil, io.EOF
	}
}

func (in *fakeInbound) Send(p []byte) error {
	select {
	case <-in.closed:
		return nil
	default:
	}
	in.mu.Lock()
	in.sent = append(in.sent, p...)
	in.mu.Unlock()

	select {
	case in.notify <- struct{}{}:
	default:
	}
	return nil
}

func (in *fakeInbound) Close() error {
	in.once.Do(func() { close(in.closed) })
	return nil
}

// end 模拟客户端正常结束发送
func (in *fakeInbound) end() { close(in.chunks) }

func (in *fakeInbound) isClosed() bool {
	select {
	case <-in.closed:
		return true
	default:
		return false
	}
}

func (in *fakeInbound) sentBytes() []byte {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]byte(nil), in.sent...)
}

func (in *fakeInbound) waitSent(t *testing.T, n int) []byte {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if bs := in.sentBytes(); len(bs) >= n {
			return bs
		}
		select {
		case <-in.notify:
		case <-deadline:
			t.Fatalf("timeout waiting for %d sent bytes, got %d", n, len(in.sentBytes()))
		}
	}
}

func serve(s *vless.Server, in vless.Inbound) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Serve(context.Background(), in, 1)
	}()
	return errCh
}

func waitServe(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
	return nil
}

func TestDecodeRequest_IPv4(t *testing.T) {
	id := testUUID(t)
	buf := append([]byte{0x00}, id[:]...)
	buf = append(buf, 0x00, 0x01, 0x01, 0xBB, 0x01, 93, 184, 216, 34)

	h, err := vless.DecodeRequest(buf, id)
	require.NoError(t, err)
	require.Equal(t, "93.184.216.34", h.Target.HostStr())
	require.Equal(t, 443, h.Target.Port)
	require.Equal(t, "tcp", h.Target.Network)
	require.Equal(t, 22, h.AddrOffset)
	require.Equal(t, 26, h.PayloadOffset)
	require.False(t, h.IsUDP())
}

func TestDecodeRequest_DomainWithOptions(t *testing.T) {
	id := testUUID(t)
	buf := append([]byte{0x01}, id[:]...)
	buf = append(buf, 0x03, 0xAA, 0xBB, 0xCC) // 3 option bytes, ignored
	buf = append(buf, vless.CmdTCP, 0x00, 0x50, netLayer.AtypDomain, 7)
	buf = append(buf, "example"...)
	buf = append(buf, "GET /"...)

	h, err := vless.DecodeRequest(buf, id)
	require.NoError(t, err)
	require.Equal(t, byte(1), h.Version)
	require.Equal(t, byte(3), h.OptionLen)
	require.Equal(t, "example", h.Target.HostStr())
	require.Equal(t, 80, h.Target.Port)
	require.Equal(t, 22+3, h.AddrOffset)
	require.Equal(t, h.AddrOffset+8, h.PayloadOffset)
	require.Equal(t, "GET /", string(buf[h.PayloadOffset:]))
}

func TestDecodeRequest_IPv6(t *testing.T) {
	id := testUUID(t)
	target := netLayer.Addr{IP: net.ParseIP("2001:db8::1"), Port: 8443}
	buf := encodeRequest(t, 0, id, vless.CmdTCP, target, []byte("x"))

	h, err := vless.DecodeRequest(buf, id)
	require.NoError(t, err)
	require.Equal(t, netLayer.AtypIP6, h.AddrType)
	require.Equal(t, "[2001:db8::1]:8443", h.Target.String())
	require.Equal(t, 22+16, h.PayloadOffset)
}

func TestDecodeRequest_Errors(t *testing.T) {
	id := testUUID(t)
	other := id
	other[15] ^= 0xff

	tcpTarget := netLayer.Addr{IP: net.IPv4(1, 2, 3, 4), Port: 443}
	valid := encodeRequest(t, 0, id, vless.CmdTCP, tcpTarget, nil)

	badAtyp := append([]byte(nil), valid...)
	badAtyp[21] = 9

	emptyDomain := append([]byte{0}, id[:]...)
	emptyDomain = append(emptyDomain, 0, vless.CmdTCP, 0, 80, netLayer.AtypDomain, 0, 0, 0)

	truncatedIP6 := append([]byte{0}, id[:]...)
	truncatedIP6 = append(truncatedIP6, 0, vless.CmdTCP, 0, 80, netLayer.AtypIP6, 1, 2, 3, 4, 5)

	longOptions := append([]byte{0}, id[:]...)
	longOptions = append(longOptions, 200, 1, 2, 3, 4, 5, 6)

	badCmd := append([]byte(nil), valid...)
	badCmd[18] = 3

	cases := []struct {
		name string
		buf  []byte
		want error
	}{
		{"too short", valid[:23], vless.ErrHandshakeTooShort},
		{"empty", nil, vless.ErrHandshakeTooShort},
		{"options past end", longOptions, vless.ErrHandshakeTooShort},
		{"id mismatch", encodeRequest(t, 0, other, vless.CmdTCP, tcpTarget, nil), vless.ErrIdentifierMismatch},
		{"mux command", badCmd, vless.ErrCommandUnsupported},
		{"unknown atyp", badAtyp, vless.ErrAddressTypeUnsupported},
		{"empty domain", emptyDomain, vless.ErrEmptyAddress},
		{"truncated address", truncatedIP6, vless.ErrHandshakeTooShort},
		{"udp not dns", encodeRequest(t, 0, id, vless.CmdUDP, netLayer.Addr{IP: net.IPv4(8, 8, 8, 8), Port: 443}, nil), vless.ErrUDPPortNotAllowed},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := vless.DecodeRequest(c.buf, id)
			require.Error(t, err)
			require.True(t, errors.Is(err, c.want), "got %v", err)
		})
	}
}

func TestDecodeRequest_UDPDNS(t *testing.T) {
	id := testUUID(t)
	buf := encodeRequest(t, 0, id, vless.CmdUDP, netLayer.Addr{IP: net.IPv4(8, 8, 8, 8), Port: 53}, nil)

	h, err := vless.DecodeRequest(buf, id)
	require.NoError(t, err)
	require.True(t, h.IsUDP())
	require.Equal(t, "udp", h.Target.Network)
	require.Equal(t, len(buf), h.PayloadOffset)
}

func TestEncodeRequest_BadDomain(t *testing.T) {
	id := testUUID(t)

	_, err := vless.EncodeRequest(0, id, vless.CmdTCP, netLayer.Addr{Name: string(bytes.Repeat([]byte("a"), 256)), Port: 80}, nil)
	require.ErrorIs(t, err, vless.ErrAddressTooLong)

	_, err = vless.EncodeRequest(0, id, vless.CmdTCP, netLayer.Addr{Port: 80}, nil)
	require.ErrorIs(t, err, vless.ErrEmptyAddress)

	name := string(bytes.Repeat([]byte("a"), 255))
	buf, err := vless.EncodeRequest(0, id, vless.CmdTCP, netLayer.Addr{Name: name, Port: 80}, nil)
	require.NoError(t, err)

	h, err := vless.DecodeRequest(buf, id)
	require.NoError(t, err)
	require.Equal(t, name, h.Target.Name)
	require.Equal(t, len(buf), h.PayloadOffset)
}

func TestEncodeResponse(t *testing.T) {
	require.Equal(t, []byte{0, 0}, vless.EncodeResponse(0))
	require.Equal(t, []byte{7, 0}, vless.EncodeResponse(7))
}

func TestReadFrame(t *testing.T) {
	r := bytes.NewReader([]byte{0x00, 0x02, 0xAA, 0xBB})
	bs, err := vless.ReadFrame(r)
	require.NoError(t, err)
	require.Equal(t, []byte{0xAA, 0xBB}, bs)

	_, err = vless.ReadFrame(r)
	require.Equal(t, io.EOF, err)

	_, err = vless.ReadFrame(bytes.NewReader([]byte{0x00, 0x02, 0xAA}))
	require.True(t, errors.Is(err, vless.ErrFrameTruncated))

	_, err = vless.ReadFrame(bytes.NewReader([]byte{0x00, 0x02}))
	require.True(t, errors.Is(err, vless.ErrFrameTruncated))

	_, err = vless.ReadFrame(bytes.NewReader([]byte{0x00}))
	require.True(t, errors.Is(err, vless.ErrFrameTruncated))
}

func TestFrameSplitAcrossReads(t *testing.T) {
	var stream []byte
	stream, err := vless.AppendFrame(stream, []byte("first"))
	require.NoError(t, err)
	stream, err = vless.AppendFrame(stream, []byte("second"))
	require.NoError(t, err)

	// read boundaries do not line up with frame boundaries
	r := io.MultiReader(bytes.NewReader(stream[:3]), bytes.NewReader(stream[3:9]), bytes.NewReader(stream[9:]))

	bs, err := vless.ReadFrame(r)
	require.NoError(t, err)
	require.Equal(t, "first", string(bs))
	bs, err = vless.ReadFrame(r)
	require.NoError(t, err)
	require.Equal(t, "second", string(bs))
}

func TestWriteFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	err := vless.WriteFrame(&buf, make([]byte, vless.MaxFrameLen+1))
	require.True(t, errors.Is(err, vless.ErrFrameTooLarge))
	require.Zero(t, buf.Len())

	_, err = vless.AppendFrame(nil, make([]byte, vless.MaxFrameLen+1))
	require.True(t, errors.Is(err, vless.ErrFrameTooLarge))

	require.NoError(t, vless.WriteFrame(&buf, make([]byte, vless.MaxFrameLen)))
	require.Equal(t, 2+vless.MaxFrameLen, buf.Len())
	require.Equal(t, []byte{0xff, 0xff}, buf.Bytes()[:2])
}

func listenEcho(t *testing.T) net.Listener {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				io.Copy(c, c)
				c.Close()
			}()
		}
	}()
	return ln
}

func addrOf(t *testing.T, ln net.Listener) netLayer.Addr {
	a, err := netLayer.NewAddrByHostPort(ln.Addr().String())
	require.NoError(t, err)
	return a
}

func newTestServer(t *testing.T, dns vless.DNSExchanger) *vless.Server {
	d, err := netLayer.NewDialer(time.Second*3, nil)
	require.NoError(t, err)
	return vless.NewServer(testUUID(t), d, dns)
}

func TestServeTCP_Echo(t *testing.T) {
	ln := listenEcho(t)
	s := newTestServer(t, nil)

	first := encodeRequest(t, 0, testUUID(t), vless.CmdTCP, addrOf(t, ln), []byte("hello"))
	in := newFakeInbound(first)
	errCh := serve(s, in)

	got := in.waitSent(t, 2+5)
	require.Equal(t, "\x00\x00hello", string(got))

	in.chunks <- []byte("world")
	got = in.waitSent(t, 2+10)
	require.Equal(t, "\x00\x00helloworld", string(got), "response header must appear exactly once")

	in.end()
	require.NoError(t, waitServe(t, errCh))
	require.True(t, in.isClosed())
}

func TestServeTCP_RemoteCloses(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		c.Write([]byte("bye"))
		c.Close()
	}()

	s := newTestServer(t, nil)
	in := newFakeInbound(encodeRequest(t, 1, testUUID(t), vless.CmdTCP, addrOf(t, ln), nil))
	errCh := serve(s, in)

	// the inbound never ends on its own; the outbound closing must end the session
	require.NoError(t, waitServe(t, errCh))
	require.True(t, in.isClosed())
	require.Equal(t, "\x01\x00bye", string(in.sentBytes()))
}

func TestServeTCP_InboundCloseClosesTarget(t *testing.T) {
	for name, stop := range map[string]func(*fakeInbound){
		"close": func(in *fakeInbound) { in.Close() },
		"end":   func(in *fakeInbound) { in.end() },
	} {
		t.Run(name, func(t *testing.T) {
			ln, err := net.Listen("tcp", "127.0.0.1:0")
			require.NoError(t, err)
			defer ln.Close()

			accepted := make(chan net.Conn, 1)
			go func() {
				c, err := ln.Accept()
				if err != nil {
					return
				}
				accepted <- c
			}()

			s := newTestServer(t, nil)
			in := newFakeInbound(encodeRequest(t, 0, testUUID(t), vless.CmdTCP, addrOf(t, ln), []byte("x")))
			errCh := serve(s, in)

			var c net.Conn
			select {
			case c = <-accepted:
			case <-time.After(5 * time.Second):
				t.Fatal("target never accepted")
			}
			defer c.Close()

			c.SetReadDeadline(time.Now().Add(5 * time.Second))
			var buf [8]byte
			_, err = io.ReadFull(c, buf[:1])
			require.NoError(t, err)
			require.Equal(t, byte('x'), buf[0])

			stop(in)

			_, err = c.Read(buf[:])
			require.ErrorIs(t, err, io.EOF, "target must see the close")

			waitServe(t, errCh)
			require.True(t, in.isClosed())
		})
	}
}

func TestServeTCP_DialFailed(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	target := addrOf(t, ln)
	ln.Close()

	s := newTestServer(t, nil)
	in := newFakeInbound(encodeRequest(t, 0, testUUID(t), vless.CmdTCP, target, []byte("x")))

	err = waitServe(t, serve(s, in))
	require.True(t, errors.Is(err, vless.ErrDialFailed), "got %v", err)
	require.True(t, in.isClosed())
	require.Empty(t, in.sentBytes())
}

func TestServeTCP_BlockedTarget(t *testing.T) {
	ln := listenEcho(t)

	d, err := netLayer.NewDialer(time.Second, []string{"127.0.0.0/8"})
	require.NoError(t, err)
	s := vless.NewServer(testUUID(t), d, nil)

	in := newFakeInbound(encodeRequest(t, 0, testUUID(t), vless.CmdTCP, addrOf(t, ln), nil))
	err = waitServe(t, serve(s, in))
	require.True(t, errors.Is(err, vless.ErrDialFailed), "got %v", err)
	require.Empty(t, in.sentBytes())
}

func TestServe_HandshakeRejected(t *testing.T) {
	id := testUUID(t)
	other := id
	other[0] ^= 1

	cases := map[string][]byte{
		"short":       make([]byte, 10),
		"wrong id":    encodeRequest(t, 0, other, vless.CmdTCP, netLayer.Addr{IP: net.IPv4(1, 1, 1, 1), Port: 80}, nil),
		"udp not dns": encodeRequest(t, 0, id, vless.CmdUDP, netLayer.Addr{IP: net.IPv4(1, 1, 1, 1), Port: 123}, nil),
	}
	for name, first := range cases {
		t.Run(name, func(t *testing.T) {
			s := newTestServer(t, nil)
			in := newFakeInbound(first)
			require.Error(t, waitServe(t, serve(s, in)))
			require.True(t, in.isClosed())
			require.Empty(t, in.sentBytes())
		})
	}
}

func TestServe_ContextCancel(t *testing.T) {
	ln := listenEcho(t)
	s := newTestServer(t, nil)
	in := newFakeInbound(encodeRequest(t, 0, testUUID(t), vless.CmdTCP, addrOf(t, ln), []byte("a")))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx, in, 9) }()

	in.waitSent(t, 3)
	cancel()

	waitServe(t, errCh)
	require.True(t, in.isClosed())
}

// fakeDNS answers every A query with 10.0.0.1, and fails queries for fail.example.
type fakeDNS struct {
	mu      sync.Mutex
	queries int
}

func (f *fakeDNS) Exchange(ctx context.Context, query []byte) ([]byte, error) {
	f.mu.Lock()
	f.queries++
	f.mu.Unlock()

	m := new(dns.Msg)
	if err := m.Unpack(query); err != nil {
		return nil, err
	}
	if len(m.Question) == 1 && m.Question[0].Name == "fail.example." {
		return nil, utils.ErrInErr{ErrDesc: "fake doh", ErrDetail: vless.ErrDNSQueryFailed}
	}

	r := new(dns.Msg)
	r.SetReply(m)
	rr, err := dns.NewRR(m.Question[0].Name + " 60 IN A 10.0.0.1")
	if err != nil {
		return nil, err
	}
	r.Answer = append(r.Answer, rr)
	return r.Pack()
}

func packQuery(t *testing.T, id uint16, name string) []byte {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeA)
	m.Id = id
	bs, err := m.Pack()
	require.NoError(t, err)
	return bs
}

func frame(t *testing.T, datagrams ...[]byte) []byte {
	var out []byte
	for _, d := range datagrams {
		var err error
		out, err = vless.AppendFrame(out, d)
		require.NoError(t, err)
	}
	return out
}

// readAnswers 解析 响应头 之后的所有 udp 帧, 返回 id -> 应答
func readAnswers(t *testing.T, bs []byte) map[uint16]*dns.Msg {
	require.True(t, len(bs) >= 2)
	require.Equal(t, []byte{0, 0}, bs[:2])

	res := make(map[uint16]*dns.Msg)
	r := bytes.NewReader(bs[2:])
	for {
		d, err := vless.ReadFrame(r)
		if err == io.EOF {
			return res
		}
		require.NoError(t, err)

		m := new(dns.Msg)
		require.NoError(t, m.Unpack(d))
		res[m.Id] = m
	}
}

func TestServeUDP_DNS(t *testing.T) {
	f := &fakeDNS{}
	s := newTestServer(t, f)

	q1 := packQuery(t, 1, "a.example")
	q2 := packQuery(t, 2, "b.example")
	q3 := packQuery(t, 3, "c.example")

	rest := frame(t, q2, q3)
	first := encodeRequest(t, 0, testUUID(t), vless.CmdUDP, netLayer.Addr{IP: net.IPv4(8, 8, 8, 8), Port: 53}, frame(t, q1))

	// q2 is split over two chunks
	in := newFakeInbound(first, rest[:5], rest[5:])
	in.end()

	require.NoError(t, waitServe(t, serve(s, in)))

	answers := readAnswers(t, in.sentBytes())
	require.Len(t, answers, 3)
	for id, name := range map[uint16]string{1: "a.example.", 2: "b.example.", 3: "c.example."} {
		m := answers[id]
		require.NotNil(t, m, "answer %d", id)
		require.True(t, m.Response)
		require.Len(t, m.Answer, 1)
		require.Equal(t, name, m.Answer[0].Header().Name)
		require.Equal(t, "10.0.0.1", m.Answer[0].(*dns.A).A.String())
	}
}

func TestServeUDP_QueryFailureIsIsolated(t *testing.T) {
	f := &fakeDNS{}
	s := newTestServer(t, f)
	s.MaxInflightDNS = 1

	first := encodeRequest(t, 0, testUUID(t), vless.CmdUDP, netLayer.Addr{Name: "dns.example", Port: 53},
		frame(t, packQuery(t, 7, "fail.example"), packQuery(t, 8, "ok.example")))
	in := newFakeInbound(first)
	in.end()

	require.NoError(t, waitServe(t, serve(s, in)))
	require.Equal(t, 2, f.queries)

	answers := readAnswers(t, in.sentBytes())
	require.Len(t, answers, 1)
	require.NotNil(t, answers[8])
}

func TestServeUDP_TruncatedFrame(t *testing.T) {
	f := &fakeDNS{}
	s := newTestServer(t, f)

	q := packQuery(t, 5, "a.example")
	payload := append(frame(t, q), 0x00, 0x20, 0x01)

	in := newFakeInbound(encodeRequest(t, 0, testUUID(t), vless.CmdUDP, netLayer.Addr{IP: net.IPv4(1, 1, 1, 1), Port: 53}, payload))
	in.end()

	err := waitServe(t, serve(s, in))
	require.True(t, errors.Is(err, vless.ErrFrameTruncated), "got %v", err)

	// the complete frame before the broken one was still answered
	answers := readAnswers(t, in.sentBytes())
	require.NotNil(t, answers[5])
}
