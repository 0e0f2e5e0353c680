package vless

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/e1732a364fed/vlessgate/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// relayDNS 从入站流中 依次拆出 带两字节长度头的 udp 包, 每个包作为一个 dns 查询 并发地发出.
//
// 单个查询失败或超时只影响这一个包. 回复按照完成的顺序发回, 不保证与请求顺序一致;
// 客户端用 dns 消息自己的 id 来配对.
func (s *Server) relayDNS(ctx context.Context, sess *session, out *responseWriter, payload []byte) error {
	sess.state = stateRelaying
	sess.kind = "udp_dns"

	ic := &inboundConn{in: sess.in, w: out}
	r := io.MultiReader(bytes.NewReader(payload), ic)

	limit := s.MaxInflightDNS
	if limit <= 0 {
		limit = DefaultMaxInflightDNS
	}
	var g errgroup.Group
	g.SetLimit(limit)

	var err error
	for {
		var datagram []byte
		datagram, err = ReadFrame(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			break
		}
		if len(datagram) == 0 {
			continue
		}

		g.Go(func() error {
			s.queryDNS(ctx, sess, datagram, out)
			return nil
		})
	}

	// 入站已经结束; 等待还没完成的查询, 每个都有自己的超时
	g.Wait()

	if err != nil {
		if ce := utils.CanLogWarn("vless udp frame decode failed"); ce != nil {
			ce.Write(zap.Uint64("conn", sess.id), zap.Error(err))
		}
	}
	return err
}

func (s *Server) queryDNS(ctx context.Context, sess *session, datagram []byte, out io.Writer) {
	answer, err := s.dns.Exchange(ctx, datagram)
	if err != nil {
		if ce := utils.CanLogWarn("vless dns query failed"); ce != nil {
			ce.Write(zap.Uint64("conn", sess.id), zap.Int("len", len(datagram)), zap.Error(err))
		}
		return
	}

	if err = WriteFrame(out, answer); err != nil {
		if ce := utils.CanLogWarn("vless dns answer write failed"); ce != nil {
			ce.Write(zap.Uint64("conn", sess.id), zap.Error(err))
		}
		// 写入客户端失败 对整个连接是致命的
		if errors.Is(err, ErrRelayWriteFailed) {
			sess.in.Close()
		}
	}
}
