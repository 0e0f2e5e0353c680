package vless

import (
	"crypto/subtle"
	"encoding/binary"
	"errors"

	"github.com/e1732a364fed/vlessgate/netLayer"
	"github.com/e1732a364fed/vlessgate/utils"
)

// RequestHeader is the decoded vless request header. It is only valid for the
// connection that produced it.
type RequestHeader struct {
	Version   byte
	UUID      [16]byte
	OptionLen byte
	Command   byte
	AddrType  byte

	// Target.Network is "tcp" or "udp"
	Target netLayer.Addr

	AddrOffset    int // index of the first address byte
	PayloadOffset int // index of the first payload byte
}

func (h *RequestHeader) IsUDP() bool {
	return h.Command == CmdUDP
}

// DecodeRequest 解码第一段数据中的 vless 请求头.
//
// version 不做检查, 原样在响应里返回. 任何错误都意味着连接应当被直接关闭, 不返回任何数据.
func DecodeRequest(buf []byte, authorized [16]byte) (*RequestHeader, error) {
	if len(buf) < MinHeaderLen {
		return nil, utils.ErrInErr{ErrDesc: "decode vless header", ErrDetail: ErrHandshakeTooShort, Data: len(buf)}
	}

	h := &RequestHeader{
		Version: buf[0],
	}
	copy(h.UUID[:], buf[1:17])

	if subtle.ConstantTimeCompare(h.UUID[:], authorized[:]) != 1 {
		return nil, utils.ErrInErr{ErrDesc: "decode vless header", ErrDetail: ErrIdentifierMismatch, Data: utils.UUIDToStr(h.UUID[:])}
	}

	// options 目前没有任何定义, 读一下然后直接舍弃
	h.OptionLen = buf[17]
	cmdIndex := 18 + int(h.OptionLen)

	if len(buf) < cmdIndex+4 {
		return nil, utils.ErrInErr{ErrDesc: "decode vless header", ErrDetail: ErrHandshakeTooShort, Data: len(buf)}
	}

	h.Command = buf[cmdIndex]
	switch h.Command {
	case CmdTCP:
		h.Target.Network = "tcp"
	case CmdUDP:
		h.Target.Network = "udp"
	default:
		return nil, utils.ErrInErr{ErrDesc: "decode vless header", ErrDetail: ErrCommandUnsupported, Data: h.Command}
	}

	port := binary.BigEndian.Uint16(buf[cmdIndex+1:])
	h.AddrType = buf[cmdIndex+3]
	h.AddrOffset = cmdIndex + 4

	addr, n, err := netLayer.ParseAddrSegment(h.AddrType, buf[h.AddrOffset:])
	if err != nil {
		if errors.Is(err, netLayer.ErrShortAddr) {
			err = ErrHandshakeTooShort
		}
		return nil, utils.ErrInErr{ErrDesc: "decode vless address", ErrDetail: err, Data: h.AddrType}
	}

	h.Target.IP = addr.IP
	h.Target.Name = addr.Name
	h.Target.Port = int(port)
	h.PayloadOffset = h.AddrOffset + n

	if h.Command == CmdUDP && port != DNSPort {
		return nil, utils.ErrInErr{ErrDesc: "decode vless header", ErrDetail: ErrUDPPortNotAllowed, Data: port}
	}

	return h, nil
}

// EncodeResponse returns the 2 byte response header: the echoed version and a zero addon length.
// 协议里没有失败的响应, 出错时直接关闭连接.
func EncodeResponse(version byte) []byte {
	return []byte{version, 0}
}

// EncodeRequest builds a request header followed by payload. Used by tests and tools
// that need to speak to the server.
//
// 域名必须非空且不超过255字节, 否则无法编码.
func EncodeRequest(version byte, uuid [16]byte, cmd byte, target netLayer.Addr, payload []byte) ([]byte, error) {
	if target.IP == nil {
		if target.Name == "" {
			return nil, utils.ErrInErr{ErrDesc: "encode vless request", ErrDetail: ErrEmptyAddress}
		}
		if len(target.Name) > 255 {
			return nil, utils.ErrInErr{ErrDesc: "encode vless request", ErrDetail: ErrAddressTooLong, Data: len(target.Name)}
		}
	}
	addr, atyp := target.AddressBytes()

	buf := make([]byte, 0, headerFixedLen+len(addr)+len(payload))
	buf = append(buf, version)
	buf = append(buf, uuid[:]...)
	buf = append(buf, 0, cmd, byte(target.Port>>8), byte(target.Port), atyp)
	buf = append(buf, addr...)
	buf = append(buf, payload...)
	return buf, nil
}
