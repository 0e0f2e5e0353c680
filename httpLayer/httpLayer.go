/*
Package httpLayer 提供http层的一些方法和定义.

比如 非websocket的普通http请求 的回落(转发到固定的后端), 以及 模仿nginx的错误响应.
*/
package httpLayer

import (
	"errors"
	"net/http"
)

// FallbackErrorBody 是转发失败时 返回给客户端的 500 响应体
const FallbackErrorBody = "Error proxying request"

var ErrInvalidFallback = errors.New("invalid fallback url")

// 转发时 请求和响应中都会被去掉的头部
var forbiddenHeaders = []string{"Host", "Origin", "Referer"}

// FilterHeader removes the forbidden headers from h in place.
func FilterHeader(h http.Header) {
	for _, k := range forbiddenHeaders {
		h.Del(k)
	}
}
