// Package websocket implements a low-allocation RFC 6455 WebSocket client,
// plus the permessage-deflate extension (RFC 7692), for latency-sensitive
// consumers of streaming data such as market-data feeds.
//
// This package is a client only. It does not upgrade HTTP server
// connections, does not compress outgoing messages, and does not
// reconnect automatically — see the Non-goals in the project's design
// notes. A steady-state receive of an uncompressed message reuses pooled
// buffers end to end and should not allocate on the read path.
//
// Example:
//
//	var d websocket.Dialer
//	c, err := d.Dial("wss://example.com/stream", websocket.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close(context.Background())
//
//	for {
//	    payload, messageType, err := c.Receive(context.Background())
//	    if err != nil {
//	        var closeErr *websocket.CloseError
//	        if errors.As(err, &closeErr) {
//	            break
//	        }
//	        log.Fatal(err)
//	    }
//	    fmt.Println(messageType, string(payload))
//	}
//
// Concurrency:
//
// At most one Send and one Receive may be in flight at a time. A second
// concurrent Receive call fails immediately with a Usage error. Send calls
// (including the internally generated auto-pong and close echo) are
// serialized by a single send lock; frame boundaries are never interleaved.
package websocket
