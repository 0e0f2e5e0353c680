package utils

import (
	"bytes"
	"sync"
)

var (
	// 作为参考对比，tcp默认是 16384, 16k; io.Copy 内部默认buffer大小为 32k.
	// 总之 我们64k已经够了, 一个udp包或者一个dns消息都放得下
	standardPacketPool sync.Pool

	bufPool sync.Pool
)

// MaxBufLen is the length of every slice handed out by GetPacket.
const MaxBufLen = 64 * 1024

func init() {
	standardPacketPool = sync.Pool{
		New: func() any {
			return make([]byte, MaxBufLen)
		},
	}

	bufPool = sync.Pool{
		New: func() any {
			return &bytes.Buffer{}
		},
	}
}

// GetBuf 从Pool中获取一个 *bytes.Buffer
func GetBuf() *bytes.Buffer {
	return bufPool.Get().(*bytes.Buffer)
}

// PutBuf 将 buf 放回 Pool
func PutBuf(buf *bytes.Buffer) {
	buf.Reset()
	bufPool.Put(buf)
}

// GetPacket returns a []byte of length MaxBufLen, suitable for one Read from a net.Conn.
func GetPacket() []byte {
	return standardPacketPool.Get().([]byte)
}

// PutPacket 放回用 GetPacket 获取的 []byte. 容量不够的直接丢掉
func PutPacket(bs []byte) {
	if cap(bs) < MaxBufLen {
		return
	}
	standardPacketPool.Put(bs[:MaxBufLen])
}
