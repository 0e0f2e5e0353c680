/*
Package main 读取配置文件, 然后在 websocket 上运行 vless 服务端.

命令行参数请使用 --help / -h 查看详情. 命令行给出的参数 优先于 配置文件中的同名项.
*/
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"runtime/debug"

	"github.com/e1732a364fed/vlessgate/config"
	"github.com/e1732a364fed/vlessgate/machine"
	"github.com/e1732a364fed/vlessgate/utils"
	"github.com/pkg/profile"
	"go.uber.org/zap"
)

const defaultConfFn = "server.toml"

var (
	configFileName string
	startMProf     bool
	printVer       bool

	listenAddr string
	listenUUID string
)

func init() {
	flag.StringVar(&configFileName, "c", defaultConfFn, "config file name")
	flag.BoolVar(&startMProf, "mp", false, "memory pprof")
	flag.BoolVar(&printVer, "v", false, "print the version string then exit")

	flag.StringVar(&listenAddr, "L", "", "listen address, overrides [listen].addr")
	flag.StringVar(&listenUUID, "u", "", "uuid, overrides [listen].uuid")
}

func main() {
	os.Exit(mainFunc())
}

// loadConf 读取配置文件, 然后用命令行参数覆盖.
// 没有配置文件时 只要命令行给出了 uuid 也可以运行.
func loadConf() (*config.Conf, error) {
	var c *config.Conf

	fpath := utils.GetFilePath(configFileName)
	if fpath != "" {
		var err error
		if c, err = config.LoadTomlConfFile(fpath); err != nil && !utils.IsFlagGiven("u") {
			return nil, err
		}
	} else if utils.IsFlagGiven("c") {
		log.Printf("-c provided but %q doesn't exist", configFileName)
	}
	if c == nil {
		c = config.Default()
	}

	if utils.IsFlagGiven("L") {
		c.Listen.Addr = listenAddr
	}
	if utils.IsFlagGiven("u") {
		c.Listen.UUID = listenUUID
	}

	if appConf := c.App; appConf.LogFile != nil && !utils.IsFlagGiven("lf") {
		utils.LogOutFileName = *appConf.LogFile
	}
	if appConf := c.App; appConf.LogLevel != nil && !utils.IsFlagGiven("ll") {
		utils.LogLevel = *appConf.LogLevel
	}

	c.SetDefaults()
	return c, c.Validate()
}

func mainFunc() (result int) {
	defer func() {
		if r := recover(); r != nil {
			if ce := utils.CanLogErr("Captured panic!"); ce != nil {
				stackStr := string(debug.Stack())
				ce.Write(
					zap.Any("err:", r),
					zap.String("stacktrace", stackStr),
				)

				log.Println(stackStr) //zap 的console encoder 会转义换行符, 可读性比较差, 所以单独打印出来
			} else {
				log.Println("panic captured!", r, "\n", string(debug.Stack()))
			}

			result = -3
		}
	}()

	utils.ParseFlags()

	if printVer {
		os.Stdout.WriteString(versionStr())
		return 0
	}
	printVersion(os.Stdout)

	if startMProf {
		//若不使用 NoShutdownHook, 则 我们ctrl+c退出时不会产生 pprof文件
		p := profile.Start(profile.MemProfile, profile.MemProfileRate(1), profile.NoShutdownHook)
		defer p.Stop()
	}

	conf, err := loadConf()

	utils.InitLog()
	defer utils.ZapLogger.Sync()

	if err != nil {
		if ce := utils.CanLogErr("load config failed, exit now"); ce != nil {
			ce.Write(zap.Error(err))
		} else {
			log.Println("load config failed, exit now", err)
		}
		return -1
	}

	if wdir, err := os.Getwd(); err == nil {
		if ce := utils.CanLogInfo("Working at"); ce != nil {
			ce.Write(zap.String("dir", wdir))
		}
	}
	fmt.Printf("Log Level:%d\n", utils.LogLevel)

	m, err := machine.New(conf)
	if err != nil {
		if ce := utils.CanLogErr("can not create machine"); ce != nil {
			ce.Write(zap.Error(err))
		}
		return -1
	}

	if err = m.Start(); err != nil {
		if ce := utils.CanLogErr("can not start"); ce != nil {
			ce.Write(zap.Error(err))
		}
		return -1
	}

	<-utils.GetSystemKillChan()

	m.Stop()
	m.PrintAllState(os.Stdout)

	if ce := utils.CanLogInfo("Program exited"); ce != nil {
		ce.Write()
	}
	return 0
}
