package websocket

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
)

// frameWriter emits complete frames onto the transport. The client always
// masks (RFC 6455 §5.3): a fresh mask key is generated per frame and the
// payload is copied chunk by chunk into a rented scratch buffer, masked
// in place, and written — the caller's buffer is never mutated.
type frameWriter struct {
	w       io.Writer
	scratch []byte
}

func newFrameWriter(w io.Writer, scratchSize int) *frameWriter {
	return &frameWriter{w: w, scratch: acquireBuffer(scratchSize)}
}

func (fw *frameWriter) release() {
	releaseBuffer(fw.scratch)
}

// writeFrame builds and emits one frame: header bytes always precede
// payload bytes on the wire, per spec §4.3.
func (fw *frameWriter) writeFrame(fin bool, rsv1 bool, opcode byte, payload []byte) error {
	var header [maxFrameHeaderSize]byte
	var b0 byte
	if fin {
		b0 |= finalBit
	}
	if rsv1 {
		b0 |= rsv1Bit
	}
	b0 |= opcode & opcodeMask
	header[0] = b0

	plen := len(payload)
	headerLen := 2
	switch {
	case plen <= 125:
		header[1] = byte(plen) | maskBit
	case plen <= 0xFFFF:
		header[1] = payloadLen16 | maskBit
		binary.BigEndian.PutUint16(header[2:4], uint16(plen))
		headerLen = 4
	default:
		header[1] = payloadLen64 | maskBit
		binary.BigEndian.PutUint64(header[2:10], uint64(plen))
		headerLen = 10
	}

	var maskKey [4]byte
	if _, err := io.ReadFull(rand.Reader, maskKey[:]); err != nil {
		return transportErr("write-frame", fmt.Errorf("generating mask key: %w", err))
	}
	copy(header[headerLen:headerLen+4], maskKey[:])
	headerLen += 4

	if _, err := fw.w.Write(header[:headerLen]); err != nil {
		return transportErr("write-frame", err)
	}

	offset := 0
	for written := 0; written < plen; {
		n := len(fw.scratch)
		if remaining := plen - written; remaining < n {
			n = remaining
		}
		chunk := fw.scratch[:n]
		copy(chunk, payload[written:written+n])
		offset = maskBytes(maskKey, offset, chunk)
		if _, err := fw.w.Write(chunk); err != nil {
			return transportErr("write-frame", err)
		}
		written += n
	}
	return nil
}
