/*
Package machine 把 websocket 监听, vless 服务端 和 回落 组装成一个可以直接运行的机器;
这个机器可以直接被可执行文件所使用.

machine把所有运行所需要的代码包装起来, 对外像一个黑盒子.

关键点是不使用任何静态变量, 所有变量都放在machine中.
*/
package machine

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/e1732a364fed/vlessgate/advLayer/ws"
	"github.com/e1732a364fed/vlessgate/config"
	"github.com/e1732a364fed/vlessgate/httpLayer"
	"github.com/e1732a364fed/vlessgate/netLayer"
	"github.com/e1732a364fed/vlessgate/proxy/vless"
	"github.com/e1732a364fed/vlessgate/utils"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const shutdownTimeout = time.Second * 5

type M struct {
	conf *config.Conf

	vlessServer *vless.Server
	wsServer    *ws.Server
	forwarder   *httpLayer.Forwarder //为nil时 非websocket请求 返回404

	callbacks

	sync.Mutex
	running    bool
	listener   net.Listener
	httpServer *http.Server
	baseCtx    context.Context
	cancel     context.CancelFunc
	sessions   sync.WaitGroup

	ActiveConnectionCount atomic.Int32
	AllConnectionCount    atomic.Uint64
	lastConnID            atomic.Uint64
}

// New 按照 c 创建各个组件, 但不开始监听. c 应当已经通过 Validate.
func New(c *config.Conf) (*M, error) {
	uuid, err := utils.StrToUUID(c.Listen.UUID)
	if err != nil {
		return nil, err
	}

	dialer, err := netLayer.NewDialer(c.Dial.Timeout(), c.Dial.BlockedCIDRs)
	if err != nil {
		return nil, err
	}

	doh, err := netLayer.NewDoHClient(c.DNS.DoH, c.DNS.Timeout())
	if err != nil {
		return nil, err
	}

	m := &M{
		conf:        c,
		vlessServer: vless.NewServer(uuid, dialer, doh),
		wsServer:    ws.NewServer(c.Listen.EarlyData),
	}
	m.vlessServer.MaxInflightDNS = c.DNS.MaxInflight

	if c.Listen.Fallback != "" {
		m.forwarder, err = httpLayer.NewForwarder(c.Listen.Fallback, 0)
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *M) IsRunning() bool {
	m.Lock()
	defer m.Unlock()
	return m.running
}

// Addr 返回实际监听的地址; 未运行时返回nil
func (m *M) Addr() net.Addr {
	m.Lock()
	defer m.Unlock()
	if m.listener == nil {
		return nil
	}
	return m.listener.Addr()
}

// Start 开始监听, 非阻塞.
func (m *M) Start() error {
	m.Lock()
	if m.running {
		m.Unlock()
		return nil
	}

	addr := m.conf.Listen.Addr
	ln, err := netLayer.Listen(addr, m.conf.Listen.ProxyProtocol)
	if err != nil {
		m.Unlock()
		return utils.ErrInErr{ErrDesc: "listen failed", ErrDetail: err, Data: addr}
	}

	m.listener = ln
	m.baseCtx, m.cancel = context.WithCancel(context.Background())
	m.httpServer = &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: time.Second * 10,
		ErrorLog:          zap.NewStdLog(utils.ZapLogger),
	}
	m.running = true

	srv := m.httpServer
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			if ce := utils.CanLogErr("http server stopped"); ce != nil {
				ce.Write(zap.Error(err))
			}
		}
	}()
	m.Unlock()

	if ce := utils.CanLogInfo("vlessgate listening"); ce != nil {
		ce.Write(
			zap.String("addr", ln.Addr().String()),
			zap.String("path", m.conf.Listen.Path),
			zap.Bool("early_data", m.conf.Listen.EarlyData),
			zap.Bool("proxy_protocol", m.conf.Listen.ProxyProtocol),
			zap.String("fallback", m.conf.Listen.Fallback),
		)
	}
	m.callToggleCallback(1)
	return nil
}

// Stop 停止接受新连接, 取消所有会话 并等待它们结束. 阻塞.
func (m *M) Stop() {
	m.Lock()
	if !m.running {
		m.Unlock()
		return
	}
	if ce := utils.CanLogInfo("Stopping..."); ce != nil {
		ce.Write(zap.Int32("active_connections", m.ActiveConnectionCount.Load()))
	}

	m.running = false
	m.cancel()
	srv := m.httpServer
	m.listener = nil
	m.Unlock()

	//Shutdown 时不能持有锁, serveWS 要拿锁检查 running
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	srv.Shutdown(ctx)
	cancel()

	// hijack 之后的连接不归 http.Server 管, 要自己等
	m.sessions.Wait()

	if ce := utils.CanLogInfo("vlessgate stopped"); ce != nil {
		ce.Write(zap.Uint64("total_connections", m.AllConnectionCount.Load()))
	}
	m.callToggleCallback(0)
}

func (m *M) PrintAllState(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	fmt.Fprintln(w, "running", m.IsRunning())
	fmt.Fprintln(w, "activeConnectionCount", m.ActiveConnectionCount.Load())
	fmt.Fprintln(w, "allConnectionCount", m.AllConnectionCount.Load())
}
