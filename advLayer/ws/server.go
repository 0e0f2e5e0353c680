package ws

import (
	"encoding/base64"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/e1732a364fed/vlessgate/utils"
	"github.com/gobwas/ws"
	"go.uber.org/zap"
)

type Server struct {
	UseEarlyData bool

	// Timeout bounds writing the 101 response. 0 means no limit.
	Timeout time.Duration
}

func NewServer(useEarlyData bool) *Server {
	return &Server{
		UseEarlyData: useEarlyData,
		Timeout:      time.Second * 10,
	}
}

// CheckUpgradeRequest 在交给 gobwas 之前检查握手必需的头部.
//
// gobwas 握手失败时会自己写错误响应, 所以格式不对的请求要在这里拦下, 由调用者回复.
func CheckUpgradeRequest(r *http.Request) error {
	if r.Method != http.MethodGet {
		return ws.ErrHandshakeBadMethod
	}
	if !headerHasToken(r.Header.Get("Connection"), "upgrade") {
		return ws.ErrHandshakeBadConnection
	}
	if r.Header.Get("Sec-WebSocket-Version") != "13" {
		return ws.ErrHandshakeBadSecVersion
	}

	//key 是16字节的 base64
	key, err := base64.StdEncoding.DecodeString(r.Header.Get("Sec-WebSocket-Key"))
	if err != nil || len(key) != 16 {
		return ws.ErrHandshakeBadSecKey
	}
	return nil
}

func headerHasToken(v, token string) bool {
	for _, s := range strings.Split(v, ",") {
		if strings.EqualFold(strings.TrimSpace(s), token) {
			return true
		}
	}
	return false
}

// Upgrade 用 gobwas/ws.HTTPUpgrader 完成握手, 返回的 Conn 已经开始读取 websocket 数据.
//
// 失败时 gobwas 已经向客户端写入了 http 错误响应, 调用者不需要再写.
func (s *Server) Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	var earlyData string

	u := ws.HTTPUpgrader{
		Timeout: s.Timeout,
	}

	if s.UseEarlyData {
		if ed := r.Header.Get(EarlyDataHeader); ed != "" {
			earlyData = ed

			// xray 的服务端会把这个头原样返回, 浏览器类客户端也要求返回值是它发出的协议之一.
			// 只有是合法 token 时才能交给 gobwas 返回, 否则 gobwas 会认为请求格式有误.
			if isTokenSafe(ed) {
				u.Protocol = func(p string) bool {
					return p == ed
				}
			}
		}
	}

	netConn, rw, _, err := u.Upgrade(r, w)
	if err != nil {
		if ce := utils.CanLogDebug("ws upgrade failed"); ce != nil {
			ce.Write(zap.String("from", r.RemoteAddr), zap.Error(err))
		}
		return nil, err
	}

	// http.Server 可能在hijack之前给连接设置过 deadline
	netConn.SetDeadline(time.Time{})

	var reader io.Reader = netConn
	if rw != nil && rw.Reader != nil {
		reader = rw.Reader
	}

	return NewConn(netConn, reader, earlyData), nil
}
