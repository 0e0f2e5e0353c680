// Package config 定义 vlessgate 的 toml 配置文件格式, 并负责读取和检查.
package config

import (
	"errors"
	"net"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/asaskevich/govalidator"
	"github.com/e1732a364fed/vlessgate/utils"
	"go.uber.org/zap"
)

const (
	DefaultListenAddr     = "0.0.0.0:8080"
	DefaultPath           = "/"
	DefaultDoH            = "https://1.1.1.1/dns-query"
	DefaultDialTimeoutSec = 10
	DefaultDNSTimeoutSec  = 15
	DefaultMaxInflight    = 16
)

var ErrInvalidConf = errors.New("invalid config")

// Conf 由 app, listen, dial, dns 四部分组成
type Conf struct {
	App    AppConf    `toml:"app"`
	Listen ListenConf `toml:"listen"`
	Dial   DialConf   `toml:"dial"`
	DNS    DNSConf    `toml:"dns"`
}

type AppConf struct {
	LogLevel *int    `toml:"loglevel"` //需要为指针, 否则无法判断0到底是未给出的默认值还是 显式声明的0
	LogFile  *string `toml:"logfile"`
}

type ListenConf struct {
	Addr          string `toml:"addr"`
	Path          string `toml:"path"` // websocket 路径, 必须以 / 开头
	UUID          string `toml:"uuid"`
	EarlyData     bool   `toml:"early_data"`
	ProxyProtocol bool   `toml:"proxy_protocol"`
	Fallback      string `toml:"fallback"` // 非 websocket 请求 转发到这里; 为空则返回404
}

type DialConf struct {
	TimeoutSeconds int      `toml:"timeout"`
	BlockedCIDRs   []string `toml:"blocked_cidrs"`
}

type DNSConf struct {
	DoH            string `toml:"doh"`
	TimeoutSeconds int    `toml:"timeout"`
	MaxInflight    int    `toml:"max_inflight"`
}

func (dc DialConf) Timeout() time.Duration { return time.Duration(dc.TimeoutSeconds) * time.Second }

func (dc DNSConf) Timeout() time.Duration { return time.Duration(dc.TimeoutSeconds) * time.Second }

// Default returns a Conf filled with default values. UUID 没有默认值.
func Default() *Conf {
	c := &Conf{}
	c.SetDefaults()
	c.Listen.EarlyData = true
	return c
}

// SetDefaults 为没有给出的项 填上默认值
func (c *Conf) SetDefaults() {
	if c.Listen.Addr == "" {
		c.Listen.Addr = DefaultListenAddr
	}
	if c.Listen.Path == "" {
		c.Listen.Path = DefaultPath
	}
	if c.Dial.TimeoutSeconds <= 0 {
		c.Dial.TimeoutSeconds = DefaultDialTimeoutSec
	}
	if c.DNS.DoH == "" {
		c.DNS.DoH = DefaultDoH
	}
	if c.DNS.TimeoutSeconds <= 0 {
		c.DNS.TimeoutSeconds = DefaultDNSTimeoutSec
	}
	if c.DNS.MaxInflight <= 0 {
		c.DNS.MaxInflight = DefaultMaxInflight
	}
}

func invalid(field string, v any) error {
	return utils.ErrInErr{ErrDesc: "config " + field, ErrDetail: ErrInvalidConf, Data: v}
}

// Validate 检查各项的格式. 应在 SetDefaults 之后调用.
func (c *Conf) Validate() error {
	if !govalidator.IsUUID(c.Listen.UUID) {
		return invalid("listen.uuid", c.Listen.UUID)
	}
	if _, err := utils.StrToUUID(c.Listen.UUID); err != nil {
		return invalid("listen.uuid", c.Listen.UUID)
	}

	host, port, err := net.SplitHostPort(c.Listen.Addr)
	if err != nil || !govalidator.IsPort(port) {
		return invalid("listen.addr", c.Listen.Addr)
	}
	if host != "" && !govalidator.IsHost(host) {
		return invalid("listen.addr", c.Listen.Addr)
	}

	if !strings.HasPrefix(c.Listen.Path, "/") {
		return invalid("listen.path", c.Listen.Path)
	}
	if c.Listen.Fallback != "" && !govalidator.IsRequestURL(c.Listen.Fallback) {
		return invalid("listen.fallback", c.Listen.Fallback)
	}

	for _, s := range c.Dial.BlockedCIDRs {
		if !govalidator.IsCIDR(s) {
			return invalid("dial.blocked_cidrs", s)
		}
	}

	if !govalidator.IsRequestURL(c.DNS.DoH) || !(strings.HasPrefix(c.DNS.DoH, "https://") || strings.HasPrefix(c.DNS.DoH, "http://")) {
		return invalid("dns.doh", c.DNS.DoH)
	}
	return nil
}

// LoadTomlConfStr decodes str, fills defaults and validates the result.
func LoadTomlConfStr(str string) (*Conf, error) {
	c := Default()
	md, err := toml.Decode(str, c)
	if err != nil {
		return nil, utils.ErrInErr{ErrDesc: "decode toml config", ErrDetail: err}
	}
	if und := md.Undecoded(); len(und) > 0 {
		if ce := utils.CanLogWarn("config has unknown keys"); ce != nil {
			keys := make([]string, len(und))
			for i, k := range und {
				keys[i] = k.String()
			}
			ce.Write(zap.Strings("keys", keys))
		}
	}
	c.SetDefaults()
	if err = c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func LoadTomlConfFile(fileNamePath string) (*Conf, error) {
	bs, err := os.ReadFile(fileNamePath)
	if err != nil {
		return nil, utils.ErrInErr{ErrDesc: "can't open config file", ErrDetail: err, Data: fileNamePath}
	}
	return LoadTomlConfStr(string(bs))
}
