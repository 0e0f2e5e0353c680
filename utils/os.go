package utils

import (
	"os"
	"os/signal"
	"syscall"
)

// GetSystemKillChan 返回一个 在收到 SIGINT 或 SIGTERM 时 可读的 chan
func GetSystemKillChan() <-chan os.Signal {
	osSignals := make(chan os.Signal, 1)
	signal.Notify(osSignals, os.Interrupt, syscall.SIGTERM) //os.Kill cannot be trapped
	return osSignals
}
