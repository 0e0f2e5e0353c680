package netLayer

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/e1732a364fed/vlessgate/utils"
	"github.com/yl2chen/cidranger"
	"go.uber.org/zap"
)

const DefaultDialTimeout = time.Second * 10

var ErrBlockedTarget = errors.New("target address is blocked")

// Dialer opens outbound connections for the relays.
//
// 若设置了 blocked, 则域名会先被解析, 只要有一个ip落在 blocked 范围内就拒绝拨号;
// 拨号时使用解析出的ip, 这样就不会出现 检查时 和 拨号时 解析结果不一致的情况.
type Dialer struct {
	Timeout time.Duration

	blocked  cidranger.Ranger
	resolver *net.Resolver
}

// NewDialer returns a Dialer that refuses targets inside any of blockedCIDRs.
func NewDialer(timeout time.Duration, blockedCIDRs []string) (*Dialer, error) {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	d := &Dialer{
		Timeout:  timeout,
		resolver: net.DefaultResolver,
	}
	if len(blockedCIDRs) == 0 {
		return d, nil
	}

	d.blocked = cidranger.NewPCTrieRanger()
	for _, s := range blockedCIDRs {
		_, ipnet, err := net.ParseCIDR(s)
		if err != nil {
			return nil, utils.ErrInErr{ErrDesc: "invalid blocked cidr", ErrDetail: err, Data: s}
		}
		if err = d.blocked.Insert(cidranger.NewBasicRangerEntry(*ipnet)); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *Dialer) isBlocked(ip net.IP) bool {
	if d.blocked == nil {
		return false
	}
	if ip4 := ip.To4(); ip4 != nil {
		ip = ip4
	}
	ok, err := d.blocked.Contains(ip)
	return err == nil && ok
}

// DialContext 拨号 address (host:port).
func (d *Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	nd := &net.Dialer{Timeout: d.Timeout}

	if d.blocked == nil {
		return nd.DialContext(ctx, network, address)
	}

	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}

	var ips []net.IP
	if ip := net.ParseIP(host); ip != nil {
		ips = []net.IP{ip}
	} else {
		ipAddrs, err := d.resolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, err
		}
		for _, ia := range ipAddrs {
			ips = append(ips, ia.IP)
		}
	}

	for _, ip := range ips {
		if d.isBlocked(ip) {
			if ce := utils.CanLogWarn("refused blocked target"); ce != nil {
				ce.Write(zap.String("target", address), zap.String("ip", ip.String()))
			}
			return nil, utils.ErrInErr{ErrDesc: "dial refused", ErrDetail: ErrBlockedTarget, Data: address}
		}
	}

	var lastErr error
	for _, ip := range ips {
		c, err := nd.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
		if err == nil {
			return c, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}
