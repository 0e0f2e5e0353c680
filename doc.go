/*
Package vlessgate 是一个 vless over websocket 的服务端.

# Structure 本项目结构

utils -> netLayer -> httpLayer -> advLayer/ws -> proxy/vless -> config -> machine -> cmd/vlessgate

根项目只有文档; 实际转发过程在 proxy/vless 子包中, 组装在 machine 子包中.

# Chain

具体 转发过程 的 调用链 是 http.Server -> machine.serveWS -> ws.Server.Upgrade ->
vless.Server.Serve -> DecodeRequest -> { relayTCP -> netLayer.Relay ,
relayDNS -> ReadFrame -> netLayer.DoHClient.Exchange -> WriteFrame }

非 websocket 的请求 由 httpLayer.Forwarder 转发到配置的回落地址, 没有配置时返回 模仿nginx的404.

# UDP

vless 的 udp 只允许访问 53 端口, 每个 udp 包都被当作一个 dns 查询, 通过 dns over https 发出,
不会真的发出任何 udp 包.
*/
package vlessgate
