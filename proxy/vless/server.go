package vless

import (
	"context"
	"io"
	"net"
	"sync"

	"github.com/e1732a364fed/vlessgate/netLayer"
	"github.com/e1732a364fed/vlessgate/utils"
	"go.uber.org/zap"
)

// DefaultMaxInflightDNS 是每个连接同时进行中的 dns 查询 的上限
const DefaultMaxInflightDNS = 16

// Inbound is the upgraded client stream, as produced by ws.Conn.
//
// Next 返回下一段数据, 序列结束时返回 io.EOF 或 传输层的错误.
// Send 在连接已关闭时 静默丢弃数据. Close 可多次调用.
type Inbound interface {
	Next() ([]byte, error)
	Send(p []byte) error
	Close() error
}

// Dialer opens outbound tcp connections. *netLayer.Dialer and *net.Dialer satisfy it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// DNSExchanger resolves one raw dns message. *netLayer.DoHClient satisfies it.
type DNSExchanger interface {
	Exchange(ctx context.Context, query []byte) ([]byte, error)
}

// Server 处理 vless 入站连接. 唯一的用户 uuid 在创建时给出, 之后只读, 多个连接共享无需加锁.
type Server struct {
	uuid   [16]byte
	dialer Dialer
	dns    DNSExchanger

	MaxInflightDNS int
}

func NewServer(uuid [16]byte, dialer Dialer, dns DNSExchanger) *Server {
	return &Server{
		uuid:           uuid,
		dialer:         dialer,
		dns:            dns,
		MaxInflightDNS: DefaultMaxInflightDNS,
	}
}

func (s *Server) Name() string { return Name }

type sessionState int32

const (
	stateHandshaking sessionState = iota
	stateRelaying
	stateClosed
)

func (st sessionState) String() string {
	switch st {
	case stateHandshaking:
		return "handshaking"
	case stateRelaying:
		return "relaying"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

// session 只被 Serve 所在的 goroutine 推进, 所以不需要锁.
type session struct {
	id     uint64
	state  sessionState
	kind   string // "tcp" or "udp_dns" once relaying
	in     Inbound
	header *RequestHeader
}

func (sess *session) fields() []zap.Field {
	fs := []zap.Field{zap.Uint64("conn", sess.id), zap.Stringer("state", sess.state)}
	if sess.header != nil {
		fs = append(fs, zap.String("target", sess.header.Target.String()), zap.String("kind", sess.kind))
	}
	return fs
}

// Serve 处理一个入站连接, 直到任意一方关闭. 阻塞.
//
// 第一段数据 被解码为 vless 请求头, 之后的数据都是原始负载, 不会再被当作头部.
// 返回时 in 一定已经被关闭. ctx 被取消时 in 会被关闭, 从而结束整个会话.
func (s *Server) Serve(ctx context.Context, in Inbound, connID uint64) (err error) {
	sess := &session{id: connID, in: in}

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			in.Close()
		case <-stop:
		}
	}()

	defer func() {
		close(stop)
		in.Close()
		sess.state = stateClosed

		if ce := utils.CanLogDebug("vless session end"); ce != nil {
			ce.Write(append(sess.fields(), zap.Error(err))...)
		}
	}()

	first, err := in.Next()
	if err != nil {
		return utils.ErrInErr{ErrDesc: "read vless header", ErrDetail: err}
	}

	hdr, err := DecodeRequest(first, s.uuid)
	if err != nil {
		if ce := utils.CanLogWarn("vless handshake failed"); ce != nil {
			ce.Write(zap.Uint64("conn", connID), zap.Error(err))
		}
		return err
	}
	sess.header = hdr

	if ce := utils.CanLogInfo("vless request"); ce != nil {
		ce.Write(
			zap.Uint64("conn", connID),
			zap.String("target", hdr.Target.String()),
			zap.String("network", hdr.Target.Network),
			zap.Uint8("version", hdr.Version),
		)
	}

	payload := first[hdr.PayloadOffset:]
	out := newResponseWriter(in, hdr.Version)

	if hdr.IsUDP() {
		return s.relayDNS(ctx, sess, out, payload)
	}
	return s.relayTCP(ctx, sess, out, payload)
}

// responseWriter 把响应头 加在 发往客户端的 第一段数据 前面, 之后的数据原样发送.
// tcp 只有一个写者, udp 则有多个dns查询 goroutine 同时写, 所以要加锁.
type responseWriter struct {
	mu     sync.Mutex
	in     Inbound
	header []byte
}

func newResponseWriter(in Inbound, version byte) *responseWriter {
	return &responseWriter{
		in:     in,
		header: EncodeResponse(version),
	}
}

func (w *responseWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var err error
	if w.header != nil {
		buf := utils.GetBuf()
		buf.Write(w.header)
		buf.Write(p)
		w.header = nil

		err = w.in.Send(buf.Bytes())
		utils.PutBuf(buf)
	} else {
		err = w.in.Send(p)
	}

	if err != nil {
		return 0, utils.ErrInErr{ErrDesc: "write to inbound", ErrDetail: ErrRelayWriteFailed, Data: err}
	}
	return len(p), nil
}

// inboundConn 把 Inbound 包装成 io.ReadWriteCloser, 写入经过 responseWriter.
type inboundConn struct {
	in       Inbound
	w        *responseWriter
	leftover []byte
}

func (ic *inboundConn) Read(p []byte) (int, error) {
	if len(ic.leftover) == 0 {
		bs, err := ic.in.Next()
		if err != nil {
			return 0, err
		}
		ic.leftover = bs
	}
	n := copy(p, ic.leftover)
	ic.leftover = ic.leftover[n:]
	return n, nil
}

func (ic *inboundConn) Write(p []byte) (int, error) {
	return ic.w.Write(p)
}

func (ic *inboundConn) Close() error {
	return ic.in.Close()
}

var _ io.ReadWriteCloser = (*inboundConn)(nil)

// outboundConn marks write failures toward the target as ErrRelayWriteFailed.
type outboundConn struct {
	net.Conn
}

func (oc outboundConn) Write(p []byte) (int, error) {
	n, err := oc.Conn.Write(p)
	if err != nil && !netLayer.IsClosedErr(err) {
		err = utils.ErrInErr{ErrDesc: "write to target", ErrDetail: ErrRelayWriteFailed, Data: err}
	}
	return n, err
}
