package machine

type callbacks struct {
	toggle []func(int) //开关代理, 1 为启动, 0 为停止
}

// AddToggleCallback 注册一个在 Start 成功 和 Stop 完成 之后调用的函数
func (m *M) AddToggleCallback(f func(int)) {
	m.toggle = append(m.toggle, f)
}

func (m *M) callToggleCallback(e int) {
	for _, f := range m.toggle {
		f(e)
	}
}
