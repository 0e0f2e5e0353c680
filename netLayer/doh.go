package netLayer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/e1732a364fed/vlessgate/utils"
	"github.com/miekg/dns"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

const (
	DefaultDoHURL     = "https://1.1.1.1/dns-query"
	DefaultDoHTimeout = time.Second * 15

	DoHContentType = "application/dns-message"

	// 一个dns消息最长就是 65535, 因为 tcp/dot 上 dns 用两字节长度头
	MaxDNSMessageLen = 65535
)

var (
	ErrDNSQueryFailed  = errors.New("dns query failed")
	ErrDNSQueryTimeout = errors.New("dns query timeout")
)

// DoHClient 把一个完整的 dns 消息 作为 https 请求的 body 发出去 (RFC 8484, POST 方式).
//
// miekg/dns 不支持 doh, 见 https://github.com/miekg/dns/pull/800 ,
// 所以这里直接用 net/http; miekg/dns 只用来在日志里显示查询内容.
type DoHClient struct {
	URL     string
	Timeout time.Duration

	client *http.Client
}

func NewDoHClient(url string, timeout time.Duration) (*DoHClient, error) {
	if url == "" {
		url = DefaultDoHURL
	}
	if timeout <= 0 {
		timeout = DefaultDoHTimeout
	}

	tr := &http.Transport{
		Proxy: nil,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if err := http2.ConfigureTransport(tr); err != nil {
		return nil, utils.ErrInErr{ErrDesc: "configure http2 for doh failed", ErrDetail: err}
	}

	return &DoHClient{
		URL:     url,
		Timeout: timeout,
		client:  &http.Client{Transport: tr},
	}, nil
}

// Exchange sends one dns message and returns the raw answer.
//
// 返回的错误 满足 errors.Is(err, ErrDNSQueryTimeout) 或 errors.Is(err, ErrDNSQueryFailed).
func (c *DoHClient) Exchange(ctx context.Context, query []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	logDNSMsg("doh query", query)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(query))
	if err != nil {
		return nil, utils.ErrInErr{ErrDesc: "build doh request failed", ErrDetail: ErrDNSQueryFailed, Data: err}
	}
	req.Header.Set("Content-Type", DoHContentType)
	req.Header.Set("Accept", DoHContentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyDoHErr(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, utils.ErrInErr{ErrDesc: "doh server returned " + strconv.Itoa(resp.StatusCode), ErrDetail: ErrDNSQueryFailed}
	}

	answer, err := io.ReadAll(io.LimitReader(resp.Body, MaxDNSMessageLen+1))
	if err != nil {
		return nil, classifyDoHErr(ctx, err)
	}
	if len(answer) > MaxDNSMessageLen {
		return nil, utils.ErrInErr{ErrDesc: "doh answer too long", ErrDetail: ErrDNSQueryFailed, Data: len(answer)}
	}

	logDNSMsg("doh answer", answer)

	return answer, nil
}

func classifyDoHErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return utils.ErrInErr{ErrDesc: "doh request timeout", ErrDetail: ErrDNSQueryTimeout, Data: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return utils.ErrInErr{ErrDesc: "doh request timeout", ErrDetail: ErrDNSQueryTimeout, Data: err}
	}
	return utils.ErrInErr{ErrDesc: "doh request failed", ErrDetail: ErrDNSQueryFailed, Data: err}
}

// dns查询内容对我们来说是不透明的, 解析失败也照样转发, 这里只是为了日志.
func logDNSMsg(msg string, bs []byte) {
	ce := utils.CanLogDebug(msg)
	if ce == nil {
		return
	}
	var m dns.Msg
	if err := m.Unpack(bs); err != nil {
		ce.Write(zap.Int("len", len(bs)), zap.NamedError("unpackErr", err))
		return
	}
	fields := []zap.Field{
		zap.Uint16("id", m.Id),
		zap.String("rcode", dns.RcodeToString[m.Rcode]),
		zap.Int("answers", len(m.Answer)),
	}
	if len(m.Question) > 0 {
		q := m.Question[0]
		fields = append(fields, zap.String("name", q.Name), zap.String("type", dns.TypeToString[q.Qtype]))
	}
	ce.Write(fields...)
}
