package websocket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptionsValidates(t *testing.T) {
	o := DefaultOptions()
	require.NoError(t, o.Validate())
	assert.True(t, o.RejectMaskedServerFrames)
	assert.True(t, o.ClientContextTakeover)
	assert.True(t, o.ServerContextTakeover)
}

func TestOptionsValidate(t *testing.T) {
	base := func() Options { return DefaultOptions() }

	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr bool
	}{
		{"Valid window bits", func(o *Options) { o.ClientMaxWindowBits = 10 }, false},
		{"Client window bits too low", func(o *Options) { o.ClientMaxWindowBits = 7 }, true},
		{"Server window bits too high", func(o *Options) { o.ServerMaxWindowBits = 16 }, true},
		{"Negative ping interval", func(o *Options) { o.PingInterval = -time.Second }, true},
		{"Ping payload too big", func(o *Options) { o.PingPayload = make([]byte, 126) }, true},
		{"Proxy host without port", func(o *Options) { o.ProxyHost = "proxy.example.com" }, true},
		{"Proxy host with valid port", func(o *Options) { o.ProxyHost = "proxy.example.com"; o.ProxyPort = 8080 }, false},
		{"Zero max message bytes", func(o *Options) { o.MaxMessageBytes = 0 }, true},
		{"Zero buffer size", func(o *Options) { o.ReceiveScratchSize = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := base()
			tt.mutate(&o)
			err := o.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				var werr *Error
				require.ErrorAs(t, err, &werr)
				assert.Equal(t, KindConfiguration, werr.Kind)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateCloseCode(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		reason  string
		wantErr bool
	}{
		{"Normal closure", CloseNormalClosure, "bye", false},
		{"No status received is reserved", CloseNoStatusReceived, "", true},
		{"Abnormal closure is reserved", CloseAbnormalClosure, "", true},
		{"TLS handshake is reserved", CloseTLSHandshake, "", true},
		{"Below 1000", 999, "", true},
		{"Reserved range", 2000, "", true},
		{"Above 5000", 5001, "", true},
		{"Application-defined code", 4000, "custom", false},
		{"Reason too long", CloseNormalClosure, string(make([]byte, 124)), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateCloseCode(tt.code, tt.reason)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
