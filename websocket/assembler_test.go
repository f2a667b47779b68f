package websocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageAssemblerAppendAccumulates(t *testing.T) {
	a := newMessageAssembler(8)
	defer a.release()

	a.append([]byte("hello, "))
	a.append([]byte("world"))

	assert.Equal(t, "hello, world", string(a.writtenView()))
	assert.Equal(t, len("hello, world"), a.length())
}

func TestMessageAssemblerResetClearsWithoutRealloc(t *testing.T) {
	a := newMessageAssembler(8)
	defer a.release()

	a.append([]byte("fragment one"))
	require.NotEmpty(t, a.writtenView())

	a.reset()
	assert.Equal(t, 0, a.length())
	assert.Empty(t, a.writtenView())

	a.append([]byte("fragment two"))
	assert.Equal(t, "fragment two", string(a.writtenView()))
}

func TestControlAssemblerSizedForControlFrames(t *testing.T) {
	a := newControlAssembler(maxControlFramePayloadSize + 1)
	defer a.release()

	payload := make([]byte, maxControlFramePayloadSize)
	for i := range payload {
		payload[i] = byte(i)
	}
	a.append(payload)
	assert.Equal(t, payload, a.writtenView())
}
