package transport

import "sync"

// MaxDatagram 是单个 UDP 数据报的最大载荷。
const MaxDatagram = 64 * 1024

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, MaxDatagram)
		return &b
	},
}

// getBuf 从缓冲池获取一个接收缓冲区。
func getBuf() []byte {
	p := bufPool.Get().(*[]byte)
	return *p
}

// putBuf 将缓冲区放回缓冲池（会忽略异常小的切片）。
func putBuf(b []byte) {
	if cap(b) < 4096 {
		return
	}
	b = b[:cap(b)]
	bufPool.Put(&b)
}
