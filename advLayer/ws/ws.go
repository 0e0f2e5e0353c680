/*
Package ws implements the websocket layer of vlessgate.

It upgrades an http request with gobwas/ws and turns the websocket message
stream into a pull based ordered sequence of byte chunks (Conn), which is what
the vless layer reads its handshake and payload from.

# Reference

websocket rfc: https://datatracker.ietf.org/doc/html/rfc6455/

Below is a real websocket handshake progress:

Request

	GET /chat HTTP/1.1
	    Host: server.example.com
	    Upgrade: websocket
	    Connection: Upgrade
	    Sec-WebSocket-Key: x3JJHMbDL1EzLkh9GBhXDw==
	    Sec-WebSocket-Protocol: chat, superchat
	    Sec-WebSocket-Version: 13

Response

	HTTP/1.1 101 Switching Protocols
	    Upgrade: websocket
	    Connection: Upgrade
	    Sec-WebSocket-Accept: HSmrc0sMlYUkAGmm5OPpG2HaGWk=
	    Sec-WebSocket-Protocol: chat

# Early data

xray和v2ray中，使用了 header中的 Sec-WebSocket-Protocol 字段 来传输 earlydata，来实现 0-rtt;
我们为了兼容同样用此字段. 内容是 base64 编码的 (一般是 RawURLEncoding), 解码后就是
vless 的握手包头 加上 可能附带的 第一段数据.

gobwas包只支持http1.1, 所以如果使用nginx前置，确保 proxy_http_version 1.1;
*/
package ws

import (
	"encoding/base64"
	"errors"
	"strings"

	"github.com/e1732a364fed/vlessgate/utils"
)

// 2048 /3 = 682.6666...  (682 又 三分之二),
// 683 * 4 = 2732, 你若不信，运行 ws_test.go中的 TestBase64Len
const MaxEarlyDataLen_Base64 = 2732
const MaxEarlyDataLen = 2048

const EarlyDataHeader = "Sec-WebSocket-Protocol"

var ErrEarlyDataDecodeFailed = errors.New("early data decode failed")

var b64Replacer = strings.NewReplacer("+", "-", "/", "_")

// DecodeEarlyData decodes the base64 early data string.
// Both the url and the standard alphabet are accepted, padding is optional.
func DecodeEarlyData(s string) ([]byte, error) {
	if len(s) > MaxEarlyDataLen_Base64 {
		return nil, utils.ErrInErr{ErrDesc: "early data too long", ErrDetail: ErrEarlyDataDecodeFailed, Data: len(s)}
	}
	s = b64Replacer.Replace(strings.TrimRight(s, "="))

	bs, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, utils.ErrInErr{ErrDesc: "early data is not base64", ErrDetail: ErrEarlyDataDecodeFailed, Data: err}
	}
	return bs, nil
}

// isTokenSafe reports whether s is a single http token that only uses the
// base64 url alphabet, so gobwas can echo it back as the selected sub protocol.
func isTokenSafe(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return s != ""
}
