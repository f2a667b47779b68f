package websocket

// messageAssembler accumulates a possibly-fragmented application message's
// payload into a pooled buffer. reset is O(1): it rewinds the write cursor
// without zeroing, per spec §4.1.
type messageAssembler struct {
	buf *pooledBuffer
}

func newMessageAssembler(initialSize int) *messageAssembler {
	return &messageAssembler{buf: newPooledBuffer(initialSize)}
}

func (a *messageAssembler) append(b []byte) {
	a.buf.append(b)
}

func (a *messageAssembler) reset() {
	a.buf.reset()
}

func (a *messageAssembler) length() int {
	return a.buf.len
}

// writtenView returns the accumulated bytes. The view aliases the
// assembler's pooled buffer and is only valid until the next append,
// reset, or release.
func (a *messageAssembler) writtenView() []byte {
	return a.buf.writtenView()
}

func (a *messageAssembler) release() {
	a.buf.release()
}

// newControlAssembler builds an assembler sized per the caller's configured
// control buffer size. An oversized control frame never reaches it: frame
// Header decode already rejects a control frame whose declared length
// exceeds the 125-byte control limit before any payload is streamed.
func newControlAssembler(initialSize int) *messageAssembler {
	return newMessageAssembler(initialSize)
}
