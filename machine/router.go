package machine

import (
	"net/http"

	"github.com/e1732a364fed/vlessgate/advLayer/ws"
	"github.com/e1732a364fed/vlessgate/httpLayer"
	"github.com/e1732a364fed/vlessgate/utils"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Handler 返回 machine 的路由: 配置的路径上的 websocket 升级请求 交给 vless,
// 其它所有请求 都交给 回落.
func (m *M) Handler() http.Handler {
	r := mux.NewRouter()

	//路径要原样转发给回落, 不要让mux清理和重定向
	r.SkipClean(true)

	r.Path(m.conf.Listen.Path).
		HeadersRegexp("Upgrade", "(?i)^websocket$").
		HandlerFunc(m.serveWS)

	fallback := m.fallbackHandler()
	r.PathPrefix("/").Handler(fallback)
	r.NotFoundHandler = fallback
	r.MethodNotAllowedHandler = fallback

	return r
}

func (m *M) fallbackHandler() http.Handler {
	if m.forwarder != nil {
		return m.forwarder
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ce := utils.CanLogDebug("no fallback, 404"); ce != nil {
			ce.Write(zap.String("path", r.URL.Path), zap.String("from", r.RemoteAddr))
		}
		httpLayer.SetNginx404Response(w)
	})
}

// serveWS 在 http.Server 为这个请求开的 goroutine 里 运行整个 vless 会话.
func (m *M) serveWS(w http.ResponseWriter, r *http.Request) {
	if err := ws.CheckUpgradeRequest(r); err != nil {
		if ce := utils.CanLogDebug("bad ws handshake, 400"); ce != nil {
			ce.Write(zap.String("from", r.RemoteAddr), zap.Error(err))
		}
		httpLayer.SetNginx400Response(w)
		return
	}

	//Add 必须和 running 的检查在同一把锁里, 这样 Stop 开始 Wait 之后 不会再有新的 Add
	m.Lock()
	if !m.running {
		m.Unlock()
		httpLayer.SetNginx404Response(w)
		return
	}
	m.sessions.Add(1)
	ctx := m.baseCtx
	m.Unlock()
	defer m.sessions.Done()

	conn, err := m.wsServer.Upgrade(w, r)
	if err != nil {
		return
	}

	id := m.lastConnID.Inc()
	m.AllConnectionCount.Inc()
	m.ActiveConnectionCount.Inc()
	defer m.ActiveConnectionCount.Dec()

	if ce := utils.CanLogInfo("new connection"); ce != nil {
		ce.Write(zap.Uint64("conn", id), zap.String("from", conn.RemoteAddr().String()))
	}

	err = m.vlessServer.Serve(ctx, conn, id)

	if ce := utils.CanLogInfo("connection closed"); ce != nil {
		ce.Write(zap.Uint64("conn", id), zap.Error(err))
	}
}
