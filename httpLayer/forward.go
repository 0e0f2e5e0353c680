package httpLayer

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/e1732a364fed/vlessgate/utils"
	"go.uber.org/zap"
)

const DefaultForwardTimeout = time.Second * 30

// Forwarder 把 普通http请求 原样转发到一个固定的后端, 路径和查询参数追加在后端地址之后.
//
// Host, Origin, Referer 头部在请求和响应中都会被去掉; 状态码和 body 以流的方式返回.
// 后端不可达时 返回 500 和 FallbackErrorBody.
type Forwarder struct {
	Target *url.URL

	proxy *httputil.ReverseProxy
}

// NewForwarder 的 target 必须是 http 或 https 的 url, 比如 https://example.com 或 http://127.0.0.1:80/base
func NewForwarder(target string, timeout time.Duration) (*Forwarder, error) {
	if !govalidator.IsRequestURL(target) {
		return nil, utils.ErrInErr{ErrDesc: "new forwarder", ErrDetail: ErrInvalidFallback, Data: target}
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, utils.ErrInErr{ErrDesc: "new forwarder", ErrDetail: ErrInvalidFallback, Data: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, utils.ErrInErr{ErrDesc: "new forwarder", ErrDetail: ErrInvalidFallback, Data: target}
	}
	if timeout <= 0 {
		timeout = DefaultForwardTimeout
	}

	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ResponseHeaderTimeout = timeout

	f := &Forwarder{Target: u}
	f.proxy = &httputil.ReverseProxy{
		Director:       f.direct,
		Transport:      tr,
		ModifyResponse: f.modifyResponse,
		ErrorHandler:   f.handleError,
	}
	return f, nil
}

func (f *Forwarder) direct(r *http.Request) {
	r.URL.Scheme = f.Target.Scheme
	r.URL.Host = f.Target.Host
	r.URL.Path = joinPath(f.Target.Path, r.URL.Path)
	r.URL.RawPath = ""
	if f.Target.RawQuery != "" {
		if r.URL.RawQuery == "" {
			r.URL.RawQuery = f.Target.RawQuery
		} else {
			r.URL.RawQuery = f.Target.RawQuery + "&" + r.URL.RawQuery
		}
	}

	//不带原来的 Host, 由 transport 按照 目标地址 填写
	r.Host = ""
	FilterHeader(r.Header)

	// nil 值表示 不要添加 X-Forwarded-For
	r.Header["X-Forwarded-For"] = nil

	if _, ok := r.Header["User-Agent"]; !ok {
		r.Header.Set("User-Agent", "")
	}
}

func (f *Forwarder) modifyResponse(res *http.Response) error {
	FilterHeader(res.Header)
	return nil
}

func (f *Forwarder) handleError(rw http.ResponseWriter, r *http.Request, err error) {
	if ce := utils.CanLogWarn("fallback forward failed"); ce != nil {
		ce.Write(
			zap.String("target", f.Target.String()),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	rw.WriteHeader(http.StatusInternalServerError)
	rw.Write([]byte(FallbackErrorBody))
}

func (f *Forwarder) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if ce := utils.CanLogDebug("fallback forward"); ce != nil {
		ce.Write(
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("from", r.RemoteAddr),
		)
	}
	f.proxy.ServeHTTP(rw, r)
}

func joinPath(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash && b != "":
		return a + "/" + b
	}
	return a + b
}
