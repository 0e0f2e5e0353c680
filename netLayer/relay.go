package netLayer

import (
	"errors"
	"io"
	"net"

	"github.com/e1732a364fed/vlessgate/utils"
	"go.uber.org/zap"
)

// CopyStats is what Relay reports once both directions have stopped.
type CopyStats struct {
	Up, Down int64 // Up: local -> remote, Down: remote -> local

	UpErr, DownErr error
}

// Err returns the first error that is not a normal end of stream.
func (cs CopyStats) Err() error {
	if cs.DownErr != nil {
		return cs.DownErr
	}
	return cs.UpErr
}

// IsClosedErr reports errors that only say the other goroutine has already closed the conn.
func IsClosedErr(err error) bool {
	return err == nil || errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe)
}

func copyOnce(dst io.Writer, src io.Reader) (int64, error) {
	bs := utils.GetPacket()
	n, err := io.CopyBuffer(dst, src, bs)
	utils.PutPacket(bs)
	return n, err
}

// Relay 从 wlc 读取 写入到 wrc，并同时从 wrc 读取写入 wlc. 阻塞.
//
// 任意一个方向结束(EOF 或 错误), 都会主动关闭双方连接, 这样另一个方向也会很快结束;
// 不会出现一边关了另一边还开着的情况. 两个方向都结束后才返回.
func Relay(realTargetAddr *Addr, wrc, wlc io.ReadWriteCloser) (cs CopyStats) {
	upDone := make(chan struct{})

	go func() {
		cs.Up, cs.UpErr = copyOnce(wrc, wlc)

		wlc.Close()
		wrc.Close()
		close(upDone)
	}()

	cs.Down, cs.DownErr = copyOnce(wlc, wrc)

	wlc.Close()
	wrc.Close()
	<-upDone

	if IsClosedErr(cs.UpErr) {
		cs.UpErr = nil
	}
	if IsClosedErr(cs.DownErr) {
		cs.DownErr = nil
	}

	if ce := utils.CanLogDebug("relay end"); ce != nil {
		ce.Write(
			zap.String("target", realTargetAddr.String()),
			zap.Int64("up", cs.Up),
			zap.Int64("down", cs.Down),
			zap.NamedError("upErr", cs.UpErr),
			zap.NamedError("downErr", cs.DownErr),
		)
	}
	return
}
