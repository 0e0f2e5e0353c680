package ws

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/e1732a364fed/vlessgate/utils"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// ChunkQueueLen is how many received messages may wait for the reader.
const ChunkQueueLen = 16

const closeWriteTimeout = time.Second

const (
	stateOpen int32 = iota
	stateClosing
	stateClosed
)

// Conn 把 websocket 的 "收到一条消息" 这种推送式的事件 转换成 一个有序的, 拉取式的 []byte 序列.
//
// 一个 pump goroutine 负责读取 websocket 帧并放入一个有界 channel, 使用者用 Next 或 Read 拉取.
// 序列只能有一个读者. Send 和 Close 可以在任意goroutine中调用.
//
// 序列的结束: 对方发来close帧或直接断开 → io.EOF; 传输层错误 → 该错误;
// early data 解码失败 → ErrEarlyDataDecodeFailed.
type Conn struct {
	conn net.Conn
	r    io.Reader

	state       atomic.Int32
	peerClosed  atomic.Bool
	localClosed atomic.Bool

	chunks  chan []byte
	done    chan struct{}
	termErr error //只在 close(chunks) 之前写入

	closeOnce sync.Once
	writeMu   sync.Mutex

	leftover []byte
}

// NewConn wraps an upgraded server side websocket connection.
//
// r 是读取端, 一般是握手时用到的 bufio.Reader (里面可能已经缓存了第一帧), 为nil时直接读 c.
// earlyData 不为空时会先被解码, 作为序列的第一个元素.
func NewConn(c net.Conn, r io.Reader, earlyData string) *Conn {
	if r == nil {
		r = c
	}
	wc := &Conn{
		conn:   c,
		r:      r,
		chunks: make(chan []byte, ChunkQueueLen),
		done:   make(chan struct{}),
	}

	if earlyData != "" {
		ed, err := DecodeEarlyData(earlyData)
		if err != nil {
			wc.termErr = err
			close(wc.chunks)
			wc.close(false)
			return wc
		}
		if len(ed) > 0 {
			wc.chunks <- ed
		}
	}

	go wc.pump()
	return wc
}

func (c *Conn) pump() {
	defer close(c.chunks)

	// 控制帧(ping, close)的回复 与 Send 共用一个写锁
	rw := utils.RW{Reader: c.r, Writer: lockedWriter{c}}

	for {
		msg, _, err := wsutil.ReadClientData(rw)
		if err != nil {
			var closedErr wsutil.ClosedError

			switch {
			case errors.As(err, &closedErr):
				c.peerClosed.Store(true)
			case errors.Is(err, io.EOF):
			case c.state.Load() != stateOpen:
				// 我们自己关闭的
			default:
				c.termErr = err
				if ce := utils.CanLogDebug("ws read failed"); ce != nil {
					ce.Write(zap.Error(err))
				}
			}
			c.close(false)
			return
		}
		if len(msg) == 0 {
			continue
		}

		select {
		case c.chunks <- msg:
		case <-c.done:
			return
		}
	}
}

// Next returns the next chunk of the sequence, in arrival order.
// After the sequence ends every call returns the same terminal error (io.EOF for a clean end).
func (c *Conn) Next() ([]byte, error) {
	if c.localClosed.Load() {
		return nil, io.EOF
	}
	bs, ok := <-c.chunks
	if ok {
		return bs, nil
	}
	if c.termErr != nil {
		return nil, c.termErr
	}
	return nil, io.EOF
}

// Read implements io.Reader on top of Next.
func (c *Conn) Read(p []byte) (int, error) {
	if len(c.leftover) == 0 {
		bs, err := c.Next()
		if err != nil {
			return 0, err
		}
		c.leftover = bs
	}
	n := copy(p, c.leftover)
	c.leftover = c.leftover[n:]
	return n, nil
}

// IsOpen reports whether Send would still write.
func (c *Conn) IsOpen() bool {
	return c.state.Load() == stateOpen
}

// Send writes p as one binary frame.
//
// 如果连接已经不是打开状态, 数据被直接丢弃, 返回nil; 不排队, 不重试.
func (c *Conn) Send(p []byte) error {
	if !c.IsOpen() {
		if ce := utils.CanLogDebug("ws send dropped, conn not open"); ce != nil {
			ce.Write(zap.Int("len", len(p)))
		}
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if !c.IsOpen() {
		return nil
	}
	return wsutil.WriteServerBinary(c.conn, p)
}

// Write implements io.Writer with Send.
func (c *Conn) Write(p []byte) (int, error) {
	if err := c.Send(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close 可以多次调用, 也可以与 pump 的关闭 同时发生; 底层连接只会被关闭一次.
// 调用 Close 后 Next 不再返回数据.
func (c *Conn) Close() error {
	return c.close(true)
}

func (c *Conn) close(local bool) (err error) {
	if local {
		c.localClosed.Store(true)
	}
	c.closeOnce.Do(func() {
		c.state.Store(stateClosing)

		// 解除可能正阻塞在写上的 Send, 否则下面拿不到锁
		c.conn.SetWriteDeadline(time.Now().Add(closeWriteTimeout))

		c.writeMu.Lock()
		if !c.peerClosed.Load() {
			ws.WriteFrame(c.conn, ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "")))
		}
		err = c.conn.Close()
		c.writeMu.Unlock()

		c.state.Store(stateClosed)
		close(c.done)
	})
	return
}

func (c *Conn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

type lockedWriter struct {
	c *Conn
}

func (lw lockedWriter) Write(p []byte) (int, error) {
	lw.c.writeMu.Lock()
	defer lw.c.writeMu.Unlock()
	return lw.c.conn.Write(p)
}
