package websocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsControlOpcode(t *testing.T) {
	tests := []struct {
		name     string
		opcode   byte
		expected bool
	}{
		{"Text is data", TextMessage, false},
		{"Binary is data", BinaryMessage, false},
		{"Continuation is data", continuationFrame, false},
		{"Close is control", CloseMessage, true},
		{"Ping is control", PingMessage, true},
		{"Pong is control", PongMessage, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isControlOpcode(tt.opcode))
		})
	}
}

func TestIsDataOpcode(t *testing.T) {
	assert.True(t, isDataOpcode(TextMessage))
	assert.True(t, isDataOpcode(BinaryMessage))
	assert.False(t, isDataOpcode(continuationFrame))
	assert.False(t, isDataOpcode(byte(PingMessage)))
}

func TestMessageTypeConstants(t *testing.T) {
	tests := []struct {
		name     string
		constant int
		expected int
	}{
		{"TextMessage", TextMessage, 1},
		{"BinaryMessage", BinaryMessage, 2},
		{"CloseMessage", CloseMessage, 8},
		{"PingMessage", PingMessage, 9},
		{"PongMessage", PongMessage, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.constant)
		})
	}
}

func TestCloseCodeConstants(t *testing.T) {
	tests := []struct {
		name     string
		constant int
		expected int
	}{
		{"CloseNormalClosure", CloseNormalClosure, 1000},
		{"CloseNoStatusReceived", CloseNoStatusReceived, 1005},
		{"CloseAbnormalClosure", CloseAbnormalClosure, 1006},
		{"CloseTLSHandshake", CloseTLSHandshake, 1015},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.constant)
		})
	}
}
