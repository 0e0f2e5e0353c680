package main

import (
	"fmt"
	"io"
	"runtime"
)

const (
	desc      = "A vless over websocket gateway, with dns over https for udp\n"
	delimiter = "===============================\n"
)

var Version string = "[version_undefined]" //版本号可由 -ldflags "-X 'main.Version=v1.x.x'" 指定

func versionStr() string {
	return fmt.Sprintf("vlessgate %s, %s %s %s\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func printVersion(w io.StringWriter) {
	w.WriteString(delimiter)
	w.WriteString(versionStr())
	w.WriteString(delimiter)
	w.WriteString(desc)
	w.WriteString(delimiter)
}
