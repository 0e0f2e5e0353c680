package vless

import (
	"context"

	"github.com/e1732a364fed/vlessgate/netLayer"
	"github.com/e1732a364fed/vlessgate/utils"
	"go.uber.org/zap"
)

// relayTCP 拨号目标, 先写入头部之后附带的数据, 然后双向转发.
// 任意一方结束, 两边都会被关闭.
func (s *Server) relayTCP(ctx context.Context, sess *session, out *responseWriter, payload []byte) error {
	target := &sess.header.Target

	rc, err := s.dialer.DialContext(ctx, "tcp", target.String())
	if err != nil {
		if ce := utils.CanLogWarn("vless dial target failed"); ce != nil {
			ce.Write(zap.Uint64("conn", sess.id), zap.String("target", target.String()), zap.Error(err))
		}
		return utils.ErrInErr{ErrDesc: "vless tcp", ErrDetail: ErrDialFailed, Data: err}
	}

	sess.state = stateRelaying
	sess.kind = "tcp"

	if len(payload) > 0 {
		if _, err = rc.Write(payload); err != nil {
			rc.Close()
			return utils.ErrInErr{ErrDesc: "write first payload to target", ErrDetail: ErrRelayWriteFailed, Data: err}
		}
	}

	cs := netLayer.Relay(target, outboundConn{rc}, &inboundConn{in: sess.in, w: out})

	if ce := utils.CanLogDebug("vless tcp relay end"); ce != nil {
		ce.Write(append(sess.fields(), zap.Int64("up", cs.Up), zap.Int64("down", cs.Down))...)
	}
	return cs.Err()
}
