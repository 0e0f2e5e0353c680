package httpLayer

import (
	"net/http"
	"time"
)

const (
	nginxServerStr = "nginx/1.21.5"

	//符合 nginx返回的时间格式, 即 http.TimeFormat
	Nginx_timeFormatStr = http.TimeFormat

	Nginx400_html = "<html>\r\n<head><title>400 Bad Request</title></head>\r\n<body>\r\n<center><h1>400 Bad Request</h1></center>\r\n<hr><center>nginx/1.21.5</center>\r\n</body>\r\n</html>\r\n"

	Nginx404_html = "<html>\r\n<head><title>404 Not Found</title></head>\r\n<body>\r\n<center><h1>404 Not Found</h1></center>\r\n<hr><center>nginx/1.21.5</center>\r\n</body>\r\n</html>\r\n"
)

func nginxHTML(code int) string {
	if code == http.StatusBadRequest {
		return Nginx400_html
	}
	return Nginx404_html
}

// SetNginxResponse writes an error page that looks like it comes from nginx.
// code 只支持 400 和 404; 其它值都按 404 处理.
//
// 未配置回落的路径 回复404, 头部不合格的 websocket 请求 在交给 gobwas 之前 回复400.
func SetNginxResponse(rw http.ResponseWriter, code int) {
	if code != http.StatusBadRequest {
		code = http.StatusNotFound
	}

	h := rw.Header()
	h.Set("Server", nginxServerStr)
	h.Set("Content-Type", "text/html")
	h.Set("Date", time.Now().UTC().Format(Nginx_timeFormatStr))
	if code == http.StatusBadRequest {
		h.Set("Connection", "close")
	}

	//header 必须在 WriteHeader 之前设置, 否则无效
	rw.WriteHeader(code)
	rw.Write([]byte(nginxHTML(code)))

	if flusher, ok := rw.(http.Flusher); ok {
		flusher.Flush()
	}
}

func SetNginx400Response(rw http.ResponseWriter) { SetNginxResponse(rw, http.StatusBadRequest) }

func SetNginx404Response(rw http.ResponseWriter) { SetNginxResponse(rw, http.StatusNotFound) }
