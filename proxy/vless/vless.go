// Package vless implements the server side of the vless protocol over an already
// upgraded inbound stream: header decoding, the tcp relay and the udp (dns only) tunnel.
//
// Request header, all multi byte fields big endian:
//
//	1 version | 16 uuid | 1 optLen N | N options | 1 cmd | 2 port | 1 atyp | address | payload...
//
// atyp 1: 4 bytes ipv4, 2: 1 byte length + domain, 3: 16 bytes ipv6.
//
// Response header, written in front of the first chunk sent back:
//
//	1 version (echoed) | 1 addon length (always 0)
package vless

import (
	"errors"

	"github.com/e1732a364fed/vlessgate/netLayer"
)

const Name = "vless"

// CMD types
const (
	_ byte = iota
	CmdTCP
	CmdUDP
)

const (
	// MinHeaderLen 是合法头部的最短长度, 即 没有option 且 域名长度为1 的情况.
	MinHeaderLen = 24

	// version + uuid + optLen + cmd + port + atyp, 不含 options
	headerFixedLen = 1 + 16 + 1 + 1 + 2 + 1

	// udp 只允许dns
	DNSPort = 53
)

var (
	ErrHandshakeTooShort  = errors.New("vless handshake too short")
	ErrIdentifierMismatch = errors.New("vless invalid user")
	ErrCommandUnsupported = errors.New("vless command unsupported")
	ErrUDPPortNotAllowed  = errors.New("vless udp is only allowed for dns (port 53)")
	ErrDialFailed         = errors.New("vless dial target failed")
	ErrRelayWriteFailed   = errors.New("vless relay write failed")
	ErrFrameTruncated     = errors.New("vless udp frame truncated")
	ErrFrameTooLarge      = errors.New("vless udp frame too large")
	ErrAddressTooLong     = errors.New("vless domain longer than 255 bytes")

	ErrEmptyAddress           = netLayer.ErrEmptyDomain
	ErrAddressTypeUnsupported = netLayer.ErrAddrTypeUnsupported
	ErrDNSQueryFailed         = netLayer.ErrDNSQueryFailed
	ErrDNSQueryTimeout        = netLayer.ErrDNSQueryTimeout
)
