package netLayer

import (
	"errors"
	"net"
	"strconv"
)

// Atyp, for vless; 注意与 trojan和socks5的区别，trojan和socks5的相同含义的值是1，3，4
const (
	AtypIP4    byte = 1
	AtypDomain byte = 2
	AtypIP6    byte = 3
)

var (
	ErrAddrTypeUnsupported = errors.New("address type unsupported")
	ErrShortAddr           = errors.New("address segment too short")
	ErrEmptyDomain         = errors.New("domain name is empty")
)

// Addr represents a address that you want to access by proxy. Either Name or IP is used exclusively.
// Addr完整地表示了一个 传输层的目标，同时用 Network 字段 来记录网络层协议名
type Addr struct {
	Network string
	Name    string // domain name
	IP      net.IP
	Port    int
}

// NewAddrByHostPort parses host:port. An empty host means 127.0.0.1.
func NewAddrByHostPort(hostPortStr string) (Addr, error) {
	host, portStr, err := net.SplitHostPort(hostPortStr)
	if err != nil {
		return Addr{}, err
	}
	if host == "" {
		host = "127.0.0.1"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Addr{}, err
	}

	a := Addr{Port: port}
	if ip := net.ParseIP(host); ip != nil {
		a.IP = ip
	} else {
		a.Name = host
	}
	return a, nil
}

// ParseAddrSegment decodes the address part of a vless request header.
//
// b starts right after the address type byte. The returned int is the number of bytes of b
// that belong to the address: 4 for AtypIP4, 1+len for AtypDomain and 16 for AtypIP6.
// Port and Network of the returned Addr are left for the caller.
func ParseAddrSegment(atyp byte, b []byte) (addr Addr, n int, err error) {
	switch atyp {
	case AtypIP4:
		n = net.IPv4len
		if len(b) < n {
			return addr, 0, ErrShortAddr
		}
		addr.IP = net.IPv4(b[0], b[1], b[2], b[3]).To4()

	case AtypDomain:
		if len(b) < 1 {
			return addr, 0, ErrShortAddr
		}
		l := int(b[0])
		if l == 0 {
			return addr, 0, ErrEmptyDomain
		}
		n = 1 + l
		if len(b) < n {
			return addr, 0, ErrShortAddr
		}
		addr.Name = string(b[1:n])

	case AtypIP6:
		n = net.IPv6len
		if len(b) < n {
			return addr, 0, ErrShortAddr
		}
		addr.IP = make(net.IP, net.IPv6len)
		copy(addr.IP, b[:n])

	default:
		return addr, 0, ErrAddrTypeUnsupported
	}
	return
}

// Return host:port string.
// 若有Name而没有ip，则返回 a.Name:a.Port . 否则返回 a.IP: a.Port;
func (a *Addr) String() string {
	return net.JoinHostPort(a.HostStr(), strconv.Itoa(a.Port))
}

// Returned host string
func (a *Addr) HostStr() string {
	if a.IP == nil {
		return a.Name
	}
	return a.IP.String()
}

func (a *Addr) IsUDP() bool {
	switch a.Network {
	case "udp", "udp4", "udp6":
		return true
	}
	return false
}

// AddressBytes 如果a的ip不为空，则会返回 AtypIP4 或 AtypIP6, 否则会返回 AtypDomain.
// 如果atyp类型是 域名，则 第一字节为该域名的总长度, 其余字节为域名内容。
// 如果类型是ip，则会拷贝出该ip的数据的副本。
func (a *Addr) AddressBytes() (addr []byte, atyp byte) {

	if a.IP != nil {
		if ip4 := a.IP.To4(); ip4 != nil {
			addr = make([]byte, net.IPv4len)
			atyp = AtypIP4
			copy(addr[:], ip4)
		} else {
			addr = make([]byte, net.IPv6len)
			atyp = AtypIP6
			copy(addr[:], a.IP)
		}
	} else {
		if len(a.Name) > 255 {
			return nil, 0
		}
		addr = make([]byte, 1+len(a.Name))
		atyp = AtypDomain
		addr[0] = byte(len(a.Name))
		copy(addr[1:], a.Name)
	}

	return
}
