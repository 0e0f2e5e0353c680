/*
Package netLayer contains definitions in network layer AND transport layer.

本包有 地址解析, 拨号(带目标ip黑名单), relay, 监听(可选 PROXY protocol) 以及 dns over https 等相关功能。

以后如果要控制tcp拨号的细节时，也要在此包里实现.
*/
package netLayer
