package websocket

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

const extensionToken = "permessage-deflate"

// NegotiatedCompression holds the result of parsing the server's
// Sec-WebSocket-Extensions response, computed once during the handshake
// and immutable for the connection's lifetime.
type NegotiatedCompression struct {
	Enabled                 bool
	ClientNoContextTakeover bool
	ServerNoContextTakeover bool
	ClientMaxWindowBits     int
	ServerMaxWindowBits     int
}

// renderOffer builds the client's permessage-deflate extension offer per
// spec §4.5, from already-validated Options. An empty return means
// compression was not requested.
func renderOffer(o *Options) string {
	if !o.Compression {
		return ""
	}
	var parts []string
	parts = append(parts, extensionToken)
	if !o.ClientContextTakeover {
		parts = append(parts, "client_no_context_takeover")
	}
	if !o.ServerContextTakeover {
		parts = append(parts, "server_no_context_takeover")
	}
	if o.ClientMaxWindowBits != 0 {
		parts = append(parts, fmt.Sprintf("client_max_window_bits=%d", o.ClientMaxWindowBits))
	}
	if o.ServerMaxWindowBits != 0 {
		parts = append(parts, fmt.Sprintf("server_max_window_bits=%d", o.ServerMaxWindowBits))
	}
	return strings.Join(parts, "; ")
}

// extension is one comma-separated, semicolon-delimited token from a
// Sec-WebSocket-Extensions header, per RFC 6455 §9.1.
type extension struct {
	name   string
	params map[string]string
}

func parseExtensionHeader(value string) []extension {
	var extensions []extension
	for _, raw := range strings.Split(value, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" || !httpguts.ValidHeaderFieldValue(raw) {
			continue
		}
		parts := strings.Split(raw, ";")
		e := extension{name: strings.TrimSpace(parts[0]), params: make(map[string]string)}
		for _, p := range parts[1:] {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if idx := strings.Index(p, "="); idx >= 0 {
				e.params[strings.TrimSpace(p[:idx])] = strings.Trim(strings.TrimSpace(p[idx+1:]), `"`)
			} else {
				e.params[p] = ""
			}
		}
		extensions = append(extensions, e)
	}
	return extensions
}

// parseNegotiated parses the server's Sec-WebSocket-Extensions header. It
// fails if the server selected permessage-deflate but the client never
// offered it (offered reflects whether Options.Compression was set).
func parseNegotiated(header http.Header, offered bool) (NegotiatedCompression, error) {
	value := header.Get("Sec-WebSocket-Extensions")
	if strings.TrimSpace(value) == "" {
		return NegotiatedCompression{}, nil
	}

	for _, ext := range parseExtensionHeader(value) {
		if !strings.EqualFold(ext.name, extensionToken) {
			continue
		}
		if !offered {
			return NegotiatedCompression{}, protoErr("negotiate", fmt.Errorf("server selected %s but client did not offer it", extensionToken))
		}

		nc := NegotiatedCompression{Enabled: true}
		if _, ok := ext.params["client_no_context_takeover"]; ok {
			nc.ClientNoContextTakeover = true
		}
		if _, ok := ext.params["server_no_context_takeover"]; ok {
			nc.ServerNoContextTakeover = true
		}
		if v, ok := ext.params["client_max_window_bits"]; ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				nc.ClientMaxWindowBits = n
			}
		}
		if v, ok := ext.params["server_max_window_bits"]; ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				nc.ServerMaxWindowBits = n
			}
		}
		return nc, nil
	}
	return NegotiatedCompression{}, nil
}
