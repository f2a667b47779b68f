package websocket

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/sha1"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/idna"
)

const (
	websocketGUID    = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	websocketVersion = "13"
)

// Dialer drives the client-side opening handshake: DNS resolution, TCP
// connect, optional HTTP CONNECT proxy tunnel, optional TLS, HTTP/1.1
// Upgrade, and accept-key verification, per spec §4.6.
type Dialer struct{}

// Dial is DialContext with context.Background.
func (d *Dialer) Dial(urlStr string, opts Options) (*Client, error) {
	return d.DialContext(context.Background(), urlStr, opts)
}

// DialContext performs the full handshake sequence and returns a Client in
// the Open state, or an error and a disposed transport.
func (d *Dialer) DialContext(ctx context.Context, urlStr string, opts Options) (*Client, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Compression {
		if err := compressionSelfCheck(); err != nil {
			return nil, newErr(KindCompressionUnavailable, "dial", err)
		}
	}

	u, err := url.Parse(urlStr)
	if err != nil {
		return nil, configErr("dial", fmt.Errorf("parsing url: %w", err))
	}
	var useTLS bool
	switch u.Scheme {
	case "ws":
		useTLS = false
	case "wss":
		useTLS = true
	default:
		return nil, configErr("dial", fmt.Errorf("unsupported scheme %q, want ws or wss", u.Scheme))
	}

	if opts.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.HandshakeTimeout)
		defer cancel()
	}

	host := u.Hostname()
	port := u.Port()
	if port == "" {
		if useTLS {
			port = "443"
		} else {
			port = "80"
		}
	}

	conn, err := d.dial(ctx, &opts, host, port)
	if err != nil {
		return nil, err
	}

	if useTLS {
		serverName, err := idna.Lookup.ToASCII(host)
		if err != nil {
			conn.Close()
			return nil, configErr("dial", fmt.Errorf("normalizing host %q: %w", host, err))
		}
		tlsConn, err := wrapTLS(ctx, conn, serverName, opts.TLSConfig)
		if err != nil {
			conn.Close()
			return nil, err
		}
		conn = tlsConn
	}

	client, err := d.upgrade(ctx, conn, u, &opts)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return client, nil
}

// withConnDeadline runs fn with conn's deadline bound to ctx: an explicit
// ctx.Deadline() is applied up front, and ctx cancellation without one
// (or past that deadline) still unblocks fn by poking the deadline once
// ctx is done, the same idiom Client.runCancelable uses post-handshake.
func withConnDeadline(ctx context.Context, conn net.Conn, fn func() error) (err error, cancelled bool) {
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	done := ctx.Done()
	if done == nil {
		return fn(), false
	}

	stop := make(chan struct{})
	go func() {
		select {
		case <-done:
			_ = conn.SetDeadline(aLongTimeAgo)
		case <-stop:
		}
	}()
	err = fn()
	close(stop)

	select {
	case <-done:
		return err, true
	default:
		_ = conn.SetDeadline(time.Time{})
		return err, false
	}
}

// dial connects to the target, or to the configured proxy, normalizing an
// internationalized host to A-labels before resolution (golang.org/x/net/idna).
func (d *Dialer) dial(ctx context.Context, opts *Options, host, port string) (net.Conn, error) {
	if opts.ProxyHost != "" {
		return d.dialProxy(ctx, opts, host, port)
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return nil, configErr("dial", fmt.Errorf("normalizing host %q: %w", host, err))
	}
	addr, err := resolveFirst(ctx, ascii)
	if err != nil {
		return nil, transportErr("dial", err)
	}
	return dialTCPNoDelay(ctx, net.JoinHostPort(addr, port))
}

func (d *Dialer) dialProxy(ctx context.Context, opts *Options, targetHost, targetPort string) (net.Conn, error) {
	proxyAddr := net.JoinHostPort(opts.ProxyHost, strconv.Itoa(opts.ProxyPort))
	conn, err := dialTCPNoDelay(ctx, proxyAddr)
	if err != nil {
		return nil, transportErr("dial-proxy", err)
	}

	hostPort := net.JoinHostPort(targetHost, targetPort)
	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: hostPort},
		Host:   hostPort,
		Header: make(http.Header),
	}
	req.Header.Set("Proxy-Connection", "Keep-Alive")
	if opts.ProxyUser != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(opts.ProxyUser + ":" + opts.ProxyPassword))
		req.Header.Set("Proxy-Authorization", "Basic "+auth)
	}

	writeErr, cancelled := withConnDeadline(ctx, conn, func() error {
		return req.Write(conn)
	})
	if writeErr != nil {
		conn.Close()
		if cancelled {
			return nil, cancelledErr("dial-proxy", ctx.Err())
		}
		return nil, transportErr("dial-proxy", writeErr)
	}

	br := bufio.NewReaderSize(conn, opts.HandshakeBufferSize)
	var resp *http.Response
	readErr, cancelled := withConnDeadline(ctx, conn, func() error {
		var err error
		resp, err = http.ReadResponse(br, req)
		return err
	})
	if readErr != nil {
		conn.Close()
		if cancelled {
			return nil, cancelledErr("dial-proxy", ctx.Err())
		}
		return nil, protoErr("dial-proxy", fmt.Errorf("reading CONNECT response: %w", readErr))
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, protoErr("dial-proxy", fmt.Errorf("proxy CONNECT failed: %s", resp.Status))
	}
	return conn, nil
}

func dialTCPNoDelay(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return conn, nil
}

func resolveFirst(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}
	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		return "", err
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("no addresses found for %q", host)
	}
	return addrs[0], nil
}

// wrapTLS establishes TLS 1.2/1.3 with SNI set to host. Certificate
// revocation checking is left to the stdlib default (disabled); see the
// Open Question resolution in SPEC_FULL.md §12.
func wrapTLS(ctx context.Context, conn net.Conn, host string, base *tls.Config) (net.Conn, error) {
	var cfg *tls.Config
	if base != nil {
		cfg = base.Clone()
	} else {
		cfg = &tls.Config{}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	if cfg.MinVersion == 0 {
		cfg.MinVersion = tls.VersionTLS12
	}

	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, transportErr("tls-handshake", err)
	}
	return tlsConn, nil
}

// upgrade sends the HTTP/1.1 GET Upgrade request and validates the
// server's response per spec §4.6 steps 5-9. ctx bounds both the request
// write and the response read, so HandshakeTimeout covers the Upgrade leg
// exactly as its doc comment on Options promises, not just DNS/TCP/TLS.
func (d *Dialer) upgrade(ctx context.Context, conn net.Conn, u *url.URL, opts *Options) (*Client, error) {
	keyBytes := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, keyBytes); err != nil {
		return nil, transportErr("upgrade", fmt.Errorf("generating key: %w", err))
	}
	key := base64.StdEncoding.EncodeToString(keyBytes)

	path := u.RequestURI()
	if path == "" {
		path = "/"
	}
	hostHeader := u.Host

	var b strings.Builder
	fmt.Fprintf(&b, "GET %s HTTP/1.1\r\n", path)
	fmt.Fprintf(&b, "Host: %s\r\n", hostHeader)
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	fmt.Fprintf(&b, "Sec-WebSocket-Key: %s\r\n", key)
	fmt.Fprintf(&b, "Sec-WebSocket-Version: %s\r\n", websocketVersion)
	offer := renderOffer(opts)
	if offer != "" {
		fmt.Fprintf(&b, "Sec-WebSocket-Extensions: %s\r\n", offer)
	}
	b.WriteString("\r\n")

	writeErr, cancelled := withConnDeadline(ctx, conn, func() error {
		_, err := io.WriteString(conn, b.String())
		return err
	})
	if writeErr != nil {
		if cancelled {
			return nil, cancelledErr("upgrade", ctx.Err())
		}
		return nil, transportErr("upgrade", writeErr)
	}

	// A single buffered reader serves both the status-line/header parse and,
	// afterward, the frame codec: any bytes the server pipelined right
	// behind the handshake response are already sitting in br's buffer and
	// must not be dropped on the floor.
	lr := &limitingReader{r: conn, limit: int64(opts.HandshakeBufferSize)}
	br := bufio.NewReaderSize(lr, opts.HandshakeBufferSize)

	var resp *http.Response
	readErr, cancelled := withConnDeadline(ctx, conn, func() error {
		var err error
		resp, err = http.ReadResponse(br, nil)
		return err
	})
	if readErr != nil {
		if cancelled {
			return nil, cancelledErr("upgrade", ctx.Err())
		}
		return nil, protoErr("upgrade", fmt.Errorf("reading handshake response: %w", readErr))
	}
	defer resp.Body.Close()
	lr.unlimit()

	if err := validateUpgradeResponse(resp, key); err != nil {
		return nil, err
	}

	negotiated, err := parseNegotiated(resp.Header, opts.Compression)
	if err != nil {
		return nil, err
	}

	// The handshake deadline must not leak into steady-state frame I/O.
	_ = conn.SetDeadline(time.Time{})

	return newClient(conn, br, opts, negotiated), nil
}

// limitingReader fails with an explicit error once more than limit bytes
// have been read, rather than blocking indefinitely on an oversized or
// stalled handshake response. unlimit disables the check once the
// handshake is done, since br keeps serving as the connection's buffered
// frame-level reader for the rest of the Client's life.
type limitingReader struct {
	r        io.Reader
	limit    int64
	read     int64
	disabled bool
}

func (l *limitingReader) Read(p []byte) (int, error) {
	if l.disabled {
		return l.r.Read(p)
	}
	if l.read >= l.limit {
		return 0, fmt.Errorf("handshake response exceeds %d bytes", l.limit)
	}
	if int64(len(p)) > l.limit-l.read {
		p = p[:l.limit-l.read]
	}
	n, err := l.r.Read(p)
	l.read += int64(n)
	return n, err
}

func (l *limitingReader) unlimit() { l.disabled = true }

func validateUpgradeResponse(resp *http.Response, key string) error {
	if resp.StatusCode != http.StatusSwitchingProtocols {
		return protoErr("upgrade", fmt.Errorf("%w: status %s", ErrBadHandshake, resp.Status))
	}
	if !strings.EqualFold(resp.Header.Get("Upgrade"), "websocket") {
		return protoErr("upgrade", fmt.Errorf("%w: bad Upgrade header", ErrBadHandshake))
	}
	if !headerContainsToken(resp.Header.Get("Connection"), "upgrade") {
		return protoErr("upgrade", fmt.Errorf("%w: bad Connection header", ErrBadHandshake))
	}
	expected := computeAcceptKey(key)
	got := resp.Header.Get("Sec-WebSocket-Accept")
	if !constantTimeEqual(expected, got) {
		return protoErr("upgrade", fmt.Errorf("%w: bad Sec-WebSocket-Accept", ErrBadHandshake))
	}
	return nil
}

func headerContainsToken(value, token string) bool {
	for _, v := range strings.Split(value, ",") {
		if strings.EqualFold(strings.TrimSpace(v), token) {
			return true
		}
	}
	return false
}

// computeAcceptKey computes Sec-WebSocket-Accept per spec §4.6 step 8.
func computeAcceptKey(challengeKey string) string {
	h := sha1.New()
	h.Write([]byte(challengeKey))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
