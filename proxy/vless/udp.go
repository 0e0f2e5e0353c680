package vless

import (
	"errors"
	"io"

	"github.com/e1732a364fed/vlessgate/utils"
)

// MaxFrameLen is the largest datagram a 2 byte length head can describe.
const MaxFrameLen = 65535

// ReadFrame 依照 vless udp 的格式 从 r 读取一个数据包: 两字节大端长度头 + 数据.
//
// 在包的边界上遇到 EOF 返回 io.EOF; 包读了一半就结束 返回 ErrFrameTruncated.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBytes [2]byte
	_, err := io.ReadFull(r, lenBytes[:])
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, utils.ErrInErr{ErrDesc: "read udp length head", ErrDetail: ErrFrameTruncated}
		}
		return nil, err
	}

	l := int(lenBytes[0])<<8 | int(lenBytes[1])
	bs := make([]byte, l)
	if _, err = io.ReadFull(r, bs); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, utils.ErrInErr{ErrDesc: "read udp payload", ErrDetail: ErrFrameTruncated, Data: l}
		}
		return nil, err
	}
	return bs, nil
}

// AppendFrame appends the length head and the datagram to dst.
func AppendFrame(dst, datagram []byte) ([]byte, error) {
	l := len(datagram)
	if l > MaxFrameLen {
		return dst, utils.ErrInErr{ErrDesc: "append udp frame", ErrDetail: ErrFrameTooLarge, Data: l}
	}
	dst = append(dst, byte(l>>8), byte(l))
	return append(dst, datagram...), nil
}

// WriteFrame writes one framed datagram with a single Write call.
func WriteFrame(w io.Writer, datagram []byte) error {
	l := len(datagram)
	if l > MaxFrameLen {
		return utils.ErrInErr{ErrDesc: "write udp frame", ErrDetail: ErrFrameTooLarge, Data: l}
	}

	buf := utils.GetBuf()
	buf.WriteByte(byte(l >> 8))
	buf.WriteByte(byte(l))
	buf.Write(datagram)

	_, err := w.Write(buf.Bytes())
	utils.PutBuf(buf)
	return err
}
