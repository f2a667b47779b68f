package websocket

import (
	"encoding/binary"
	"fmt"
	"io"
)

// frameReader decodes frame headers and streams frame payloads from the
// transport. It owns one rented scratch buffer, used for both header
// bytes and payload chunking, so a steady-state receive does not
// allocate per frame.
type frameReader struct {
	r               io.Reader
	scratch         []byte
	maxMessageBytes int64
	rejectMasked    bool
}

func newFrameReader(r io.Reader, scratchSize int, maxMessageBytes int64, rejectMasked bool) *frameReader {
	return &frameReader{
		r:               r,
		scratch:         acquireBuffer(scratchSize),
		maxMessageBytes: maxMessageBytes,
		rejectMasked:    rejectMasked,
	}
}

func (fr *frameReader) release() {
	releaseBuffer(fr.scratch)
}

// readHeader decodes one frame header per spec §4.2.
func (fr *frameReader) readHeader() (frameHeader, error) {
	var h frameHeader

	hdr := fr.scratch[:2]
	if _, err := io.ReadFull(fr.r, hdr); err != nil {
		return h, protoErr("read-header", fmt.Errorf("truncated connection: %w", err))
	}

	h.fin = hdr[0]&finalBit != 0
	h.rsv1 = hdr[0]&rsv1Bit != 0
	rsv2 := hdr[0]&rsv2Bit != 0
	rsv3 := hdr[0]&rsv3Bit != 0
	if rsv2 || rsv3 {
		return h, protoErr("read-header", ErrReservedBits)
	}

	h.opcode = hdr[0] & opcodeMask
	h.masked = hdr[1]&maskBit != 0
	length := int64(hdr[1] & payloadLenMask)

	switch length {
	case payloadLen16:
		ext := fr.scratch[:2]
		if _, err := io.ReadFull(fr.r, ext); err != nil {
			return h, protoErr("read-header", fmt.Errorf("truncated connection: %w", err))
		}
		length = int64(binary.BigEndian.Uint16(ext))
	case payloadLen64:
		ext := fr.scratch[:8]
		if _, err := io.ReadFull(fr.r, ext); err != nil {
			return h, protoErr("read-header", fmt.Errorf("truncated connection: %w", err))
		}
		length = int64(binary.BigEndian.Uint64(ext))
	}

	if length > fr.maxMessageBytes {
		return h, protoErr("read-header", fmt.Errorf("payload length %d exceeds max message bytes %d", length, fr.maxMessageBytes))
	}
	if isControlOpcode(h.opcode) && length > maxControlFramePayloadSize {
		return h, protoErr("read-header", ErrControlFramePayloadTooBig)
	}
	if isControlOpcode(h.opcode) && !h.fin {
		return h, protoErr("read-header", ErrFragmentedControlFrame)
	}
	h.payloadLen = length

	if h.masked {
		if fr.rejectMasked {
			return h, protoErr("read-header", fmt.Errorf("masked server frame rejected"))
		}
		key := fr.scratch[:4]
		if _, err := io.ReadFull(fr.r, key); err != nil {
			return h, protoErr("read-header", fmt.Errorf("truncated connection: %w", err))
		}
		copy(h.maskKey[:], key)
	}

	return h, nil
}

// streamPayload reads h's payload in scratch-sized chunks, unmasking if
// necessary, and appends each chunk to into. A short read before the
// payload is fully consumed is a Protocol failure per spec §4.2.
func (fr *frameReader) streamPayload(h frameHeader, into *messageAssembler) error {
	remaining := h.payloadLen
	offset := 0
	for remaining > 0 {
		chunkLen := int64(len(fr.scratch))
		if remaining < chunkLen {
			chunkLen = remaining
		}
		chunk := fr.scratch[:chunkLen]
		n, err := fr.r.Read(chunk)
		if n == 0 {
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			return protoErr("stream-payload", fmt.Errorf("connection closed mid-payload: %w", err))
		}
		if h.masked {
			offset = maskBytes(h.maskKey, offset, chunk[:n])
		}
		into.append(chunk[:n])
		remaining -= int64(n)
		if err != nil && remaining > 0 {
			return protoErr("stream-payload", fmt.Errorf("connection closed mid-payload: %w", err))
		}
	}
	return nil
}

// discardPayload drains and discards h's payload without assembling it,
// used when a frame fails a validation check after its header is already
// parsed but before any caller-visible assembler should see bytes.
func (fr *frameReader) discardPayload(h frameHeader) error {
	remaining := h.payloadLen
	for remaining > 0 {
		chunkLen := int64(len(fr.scratch))
		if remaining < chunkLen {
			chunkLen = remaining
		}
		n, err := fr.r.Read(fr.scratch[:chunkLen])
		if n == 0 {
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			return protoErr("discard-payload", fmt.Errorf("connection closed mid-payload: %w", err))
		}
		remaining -= int64(n)
	}
	return nil
}
