package netLayer

import (
	"net"
	"time"

	"github.com/pires/go-proxyproto"
)

var proxyProtocolListenPolicyFunc = func(upstream net.Addr) (proxyproto.Policy, error) { return proxyproto.REQUIRE, nil }

// Listen 监听 tcp 地址.
//
// useProxyProtocol 为true时, 每个连接都必须以 PROXY protocol 头部开头 (v1 或 v2),
// 之后 conn.RemoteAddr() 返回的就是头部里写的 真实客户端地址. 适用于在 haproxy/nginx 等 后面 部署的情况.
//
// Reference: http://www.haproxy.org/download/1.8/doc/proxy-protocol.txt
func Listen(addr string, useProxyProtocol bool) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if !useProxyProtocol {
		return ln, nil
	}
	return &proxyproto.Listener{
		Listener:          ln,
		Policy:            proxyProtocolListenPolicyFunc,
		ReadHeaderTimeout: 5 * time.Second,
	}, nil
}
