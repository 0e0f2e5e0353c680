// Package utils provides general utilities.
package utils

import (
	"flag"
	"io"
)

// RW 是一种简单的组合, 在ws包中被用到.
type RW struct {
	io.Reader
	io.Writer
}

// GetGivenFlags 把已经给出的命令行参数提取到map里.
// flag包没法一下子获取所有的已经配置的参数, 只能遍历.
func GetGivenFlags() (m map[string]*flag.Flag) {
	m = make(map[string]*flag.Flag)
	flag.Visit(func(f *flag.Flag) {
		m[f.Name] = f
	})

	return
}

var GivenFlags map[string]*flag.Flag

// ParseFlags calls flag.Parse() and assigns given flags to GivenFlags.
func ParseFlags() {
	flag.Parse()
	GivenFlags = GetGivenFlags()
}

// IsFlagGiven reports whether the named flag was set on the command line.
// ParseFlags must have been called.
func IsFlagGiven(name string) bool {
	return GivenFlags[name] != nil
}
