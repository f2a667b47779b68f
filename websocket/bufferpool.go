package websocket

import "sync"

// sizeClasses are the power-of-two buffer sizes pooled by pooledBuffer,
// mirroring the size-class idea behind a NUMA-aware slab pool but without
// the per-node sharding this client has no use for.
var sizeClasses = [...]int{
	1 << 10, // 1K
	2 << 10,
	4 << 10,
	8 << 10,
	16 << 10,
	32 << 10,
	64 << 10,
	128 << 10,
	256 << 10,
	512 << 10,
	1 << 20,
	2 << 20,
	4 << 20,
	8 << 20,
	16 << 20,
}

func sizeClassFor(n int) int {
	for _, c := range sizeClasses {
		if n <= c {
			return c
		}
	}
	return n
}

var bytePools = func() map[int]*sync.Pool {
	m := make(map[int]*sync.Pool, len(sizeClasses))
	for _, c := range sizeClasses {
		c := c
		m[c] = &sync.Pool{New: func() any { return make([]byte, c) }}
	}
	return m
}()

// acquireBuffer returns a []byte of length n backed by a pooled slice of
// its size class. The returned slice must be released with releaseBuffer.
func acquireBuffer(n int) []byte {
	class := sizeClassFor(n)
	if pool, ok := bytePools[class]; ok {
		buf := pool.Get().([]byte)
		return buf[:n]
	}
	return make([]byte, n)
}

// releaseBuffer returns buf to its size-class pool. buf's capacity, not
// its prior length, determines which class it returns to.
func releaseBuffer(buf []byte) {
	class := sizeClassFor(cap(buf))
	if pool, ok := bytePools[class]; ok {
		pool.Put(buf[:cap(buf)])
	}
}

// pooledBuffer is a growable byte region backed by the process-wide size
// class pools. It owns exactly one pooled slice at a time; growth doubles
// capacity, copies the written prefix, and releases the old slice.
type pooledBuffer struct {
	buf []byte // full backing capacity
	len int    // bytes written
}

func newPooledBuffer(initial int) *pooledBuffer {
	return &pooledBuffer{buf: acquireBuffer(initial)}
}

// grow ensures at least n more bytes of spare capacity, doubling (or more,
// if n alone exceeds double) and copying the written prefix forward.
func (p *pooledBuffer) grow(n int) {
	need := p.len + n
	if need <= len(p.buf) {
		return
	}
	newCap := len(p.buf) * 2
	if newCap < need {
		newCap = need
	}
	newBuf := acquireBuffer(newCap)
	copy(newBuf, p.buf[:p.len])
	old := p.buf
	p.buf = newBuf
	releaseBuffer(old)
}

// append copies b onto the end of the written region, growing as needed.
func (p *pooledBuffer) append(b []byte) {
	p.grow(len(b))
	copy(p.buf[p.len:], b)
	p.len += len(b)
}

// reset discards the written region in O(1): only the cursor moves, the
// backing bytes are not zeroed.
func (p *pooledBuffer) reset() {
	p.len = 0
}

// writtenView returns the written prefix. The slice aliases the pooled
// backing array and is valid only until the next append or release.
func (p *pooledBuffer) writtenView() []byte {
	return p.buf[:p.len]
}

// release returns the backing slice to its pool. The pooledBuffer must not
// be used again afterward.
func (p *pooledBuffer) release() {
	if p.buf != nil {
		releaseBuffer(p.buf)
		p.buf = nil
		p.len = 0
	}
}
