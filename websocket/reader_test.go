package websocket

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildServerFrame encodes a frame the way a compliant server would: never
// masked, unless masked is explicitly requested to exercise rejection.
func buildServerFrame(fin bool, rsv1 bool, opcode byte, payload []byte, masked bool) []byte {
	var b0 byte
	if fin {
		b0 |= finalBit
	}
	if rsv1 {
		b0 |= rsv1Bit
	}
	b0 |= opcode

	var out []byte
	out = append(out, b0)

	plen := len(payload)
	switch {
	case plen <= 125:
		b1 := byte(plen)
		if masked {
			b1 |= maskBit
		}
		out = append(out, b1)
	case plen <= 0xFFFF:
		b1 := byte(payloadLen16)
		if masked {
			b1 |= maskBit
		}
		out = append(out, b1)
		ext := make([]byte, 2)
		binary.BigEndian.PutUint16(ext, uint16(plen))
		out = append(out, ext...)
	default:
		b1 := byte(payloadLen64)
		if masked {
			b1 |= maskBit
		}
		out = append(out, b1)
		ext := make([]byte, 8)
		binary.BigEndian.PutUint64(ext, uint64(plen))
		out = append(out, ext...)
	}

	if masked {
		key := [4]byte{0x12, 0x34, 0x56, 0x78}
		out = append(out, key[:]...)
		maskedPayload := append([]byte{}, payload...)
		maskBytes(key, 0, maskedPayload)
		out = append(out, maskedPayload...)
	} else {
		out = append(out, payload...)
	}
	return out
}

func TestFrameReaderDecodesHeaderAndPayload(t *testing.T) {
	payload := []byte("hello from the server")
	raw := buildServerFrame(true, false, TextMessage, payload, false)

	fr := newFrameReader(bytes.NewReader(raw), 4096, 1<<20, true)
	defer fr.release()

	h, err := fr.readHeader()
	require.NoError(t, err)
	assert.True(t, h.fin)
	assert.False(t, h.rsv1)
	assert.Equal(t, byte(TextMessage), h.opcode)
	assert.Equal(t, int64(len(payload)), h.payloadLen)

	asm := newMessageAssembler(64)
	defer asm.release()
	require.NoError(t, fr.streamPayload(h, asm))
	assert.Equal(t, payload, asm.writtenView())
}

func TestFrameReaderExtendedLengthBoundaries(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{"At 125", 125},
		{"At 126", 126},
		{"At 65535", 65535},
		{"At 65536", 65536},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := make([]byte, tt.size)
			for i := range payload {
				payload[i] = byte(i)
			}
			raw := buildServerFrame(true, false, BinaryMessage, payload, false)

			fr := newFrameReader(bytes.NewReader(raw), 16*1024, int64(tt.size)+1, true)
			defer fr.release()

			h, err := fr.readHeader()
			require.NoError(t, err)
			assert.Equal(t, int64(tt.size), h.payloadLen)

			asm := newMessageAssembler(64)
			defer asm.release()
			require.NoError(t, fr.streamPayload(h, asm))
			assert.Equal(t, payload, asm.writtenView())
		})
	}
}

func TestFrameReaderRejectsReservedBits(t *testing.T) {
	raw := buildServerFrame(true, false, TextMessage, []byte("x"), false)
	raw[0] |= rsv2Bit

	fr := newFrameReader(bytes.NewReader(raw), 4096, 1<<20, true)
	defer fr.release()

	_, err := fr.readHeader()
	require.ErrorIs(t, err, ErrReservedBits)
}

func TestFrameReaderRejectsFragmentedControlFrame(t *testing.T) {
	raw := buildServerFrame(false, false, PingMessage, []byte("x"), false)

	fr := newFrameReader(bytes.NewReader(raw), 4096, 1<<20, true)
	defer fr.release()

	_, err := fr.readHeader()
	require.ErrorIs(t, err, ErrFragmentedControlFrame)
}

func TestFrameReaderRejectsOversizedControlFrame(t *testing.T) {
	payload := make([]byte, maxControlFramePayloadSize+1)
	raw := buildServerFrame(true, false, PingMessage, payload, false)

	fr := newFrameReader(bytes.NewReader(raw), 4096, 1<<20, true)
	defer fr.release()

	_, err := fr.readHeader()
	require.ErrorIs(t, err, ErrControlFramePayloadTooBig)
}

func TestFrameReaderEnforcesMaxMessageBytes(t *testing.T) {
	payload := make([]byte, 1000)
	raw := buildServerFrame(true, false, BinaryMessage, payload, false)

	fr := newFrameReader(bytes.NewReader(raw), 4096, 999, true)
	defer fr.release()

	_, err := fr.readHeader()
	require.Error(t, err)
	var werr *Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, KindProtocol, werr.Kind)
}

func TestFrameReaderRejectsMaskedServerFrameByDefault(t *testing.T) {
	raw := buildServerFrame(true, false, TextMessage, []byte("x"), true)

	fr := newFrameReader(bytes.NewReader(raw), 4096, 1<<20, true)
	defer fr.release()

	_, err := fr.readHeader()
	require.Error(t, err)
}

func TestFrameReaderAcceptsMaskedServerFrameWhenPermitted(t *testing.T) {
	payload := []byte("masked but tolerated")
	raw := buildServerFrame(true, false, TextMessage, payload, true)

	fr := newFrameReader(bytes.NewReader(raw), 4096, 1<<20, false)
	defer fr.release()

	h, err := fr.readHeader()
	require.NoError(t, err)
	assert.True(t, h.masked)

	asm := newMessageAssembler(64)
	defer asm.release()
	require.NoError(t, fr.streamPayload(h, asm))
	assert.Equal(t, payload, asm.writtenView())
}

func TestFrameReaderTruncatedHeaderIsProtocolError(t *testing.T) {
	fr := newFrameReader(bytes.NewReader([]byte{0x81}), 4096, 1<<20, true)
	defer fr.release()

	_, err := fr.readHeader()
	require.Error(t, err)
	var werr *Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, KindProtocol, werr.Kind)
}
