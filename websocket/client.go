package websocket

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// clientState enumerates the lifecycle spec §5 defines. Transitions only
// move forward except CloseSent/CloseReceived, which are independent
// latches both leading to Closed once the other side arrives.
type clientState int32

const (
	stateNone clientState = iota
	stateConnecting
	stateOpen
	stateCloseSent
	stateCloseReceived
	stateClosed
	stateAborted
)

// Client is a single WebSocket connection opened by Dialer.Dial. All
// exported methods are safe to call from multiple goroutines except that
// at most one Send and one Receive may be in flight at a time; a second
// concurrent Receive fails immediately with a Usage error rather than
// blocking, per spec §5.
type Client struct {
	id   string
	opts Options

	conn net.Conn
	fr   *frameReader
	fw   *frameWriter

	sendMu sync.Mutex

	negotiated NegotiatedCompression
	inflater   *Inflater

	dataAssembler    *messageAssembler
	controlAssembler *messageAssembler

	state             atomic.Int32
	receiveInProgress atomic.Bool
	closeSent         atomic.Bool
	closeReceived     atomic.Bool
	closing           atomic.Bool
	disposed          atomic.Bool

	pingCancel context.CancelFunc
	pingDone   chan struct{}
}

func newClient(conn net.Conn, transport io.Reader, opts *Options, negotiated NegotiatedCompression) *Client {
	c := &Client{
		id:               newCorrelationID(),
		opts:             *opts,
		conn:             conn,
		fr:               newFrameReader(transport, opts.ReceiveScratchSize, opts.MaxMessageBytes, opts.RejectMaskedServerFrames),
		fw:               newFrameWriter(conn, opts.SendScratchSize),
		negotiated:       negotiated,
		dataAssembler:    newMessageAssembler(opts.MessageBufferSize),
		controlAssembler: newControlAssembler(opts.ControlBufferSize),
	}
	c.state.Store(int32(stateOpen))

	if negotiated.Enabled {
		c.inflater = NewInflater(opts.InflateBufferSize, !negotiated.ServerNoContextTakeover)
	}

	if opts.PingInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		c.pingCancel = cancel
		c.pingDone = make(chan struct{})
		go c.pingLoop(ctx)
	}

	return c
}

// ID returns the correlation id assigned at construction (github.com/google/uuid),
// intended purely for the caller's own logging; the library itself never logs.
func (c *Client) ID() string { return c.id }

func (c *Client) setState(s clientState) { c.state.Store(int32(s)) }
func (c *Client) getState() clientState  { return clientState(c.state.Load()) }

// isCancelledErr reports whether err is the Cancelled-kind *Error produced
// by runCancelable, without caring about its wrapped cause.
func isCancelledErr(err error) bool {
	return errors.Is(err, &Error{Kind: KindCancelled})
}

// runCancelable runs fn, arranging for ctx's cancellation to unblock it: a
// watcher goroutine pokes setDeadline with aLongTimeAgo as soon as ctx is
// done, which forces any in-flight conn read/write to return immediately.
// A cancellation observed before fn ever starts is reported without
// touching the client's state, since nothing has reached the wire; a
// cancellation that interrupts fn mid-flight leaves the frame stream in an
// indeterminate state and moves the client to Aborted.
func (c *Client) runCancelable(ctx context.Context, op string, setDeadline func(time.Time) error, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return cancelledErr(op, err)
	}
	done := ctx.Done()
	if done == nil {
		return fn()
	}

	stop := make(chan struct{})
	go func() {
		select {
		case <-done:
			_ = setDeadline(aLongTimeAgo)
		case <-stop:
		}
	}()
	err := fn()
	close(stop)

	select {
	case <-done:
		c.setState(stateAborted)
		return cancelledErr(op, ctx.Err())
	default:
		_ = setDeadline(time.Time{})
		return err
	}
}

// Send transmits one complete, unfragmented data message. Outgoing
// messages are never compressed: a market-data consumer's own traffic is
// small control/subscribe payloads, so the cost of a deflate pass on the
// send path buys nothing and this client does not pay it. ctx bounds the
// write; cancellation mid-write aborts the connection, per spec §5.
func (c *Client) Send(ctx context.Context, messageType int, payload []byte) error {
	if !isDataOpcode(byte(messageType)) {
		return usageErr("send", ErrInvalidMessageType)
	}
	if c.getState() != stateOpen {
		return usageErr("send", ErrNotConnected)
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	err := c.runCancelable(ctx, "send", c.conn.SetWriteDeadline, func() error {
		return c.fw.writeFrame(true, false, byte(messageType), payload)
	})
	if err != nil && !isCancelledErr(err) {
		c.setState(stateAborted)
	}
	return err
}

// SendPing sends a Ping control frame carrying payload, which must not
// exceed 125 bytes.
func (c *Client) SendPing(ctx context.Context, payload []byte) error {
	if len(payload) > maxControlFramePayloadSize {
		return usageErr("send-ping", ErrControlFramePayloadTooBig)
	}
	if c.getState() != stateOpen {
		return usageErr("send-ping", ErrNotConnected)
	}
	return c.sendControlLocked(ctx, PingMessage, payload)
}

func (c *Client) sendControlLocked(ctx context.Context, opcode byte, payload []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	err := c.runCancelable(ctx, "send-control", c.conn.SetWriteDeadline, func() error {
		return c.fw.writeFrame(true, false, opcode, payload)
	})
	if err != nil && !isCancelledErr(err) {
		c.setState(stateAborted)
	}
	return err
}

// Receive blocks until one complete application message has been read,
// reassembling fragments and handling interleaved control frames inline
// (spec §4.7-§4.8): Ping triggers an immediate Pong when AutoPongOnPing is
// set, Pong is dropped, and Close answers the peer's close frame, disposes
// the transport, and returns a *CloseError. ctx bounds each blocking read; a
// cancellation observed at a frame boundary is reported without aborting
// the connection, while one that interrupts a header or payload read
// mid-frame aborts it, per spec §5.
func (c *Client) Receive(ctx context.Context) ([]byte, int, error) {
	if !c.receiveInProgress.CompareAndSwap(false, true) {
		return nil, 0, usageErr("receive", ErrConcurrentReceive)
	}
	defer c.receiveInProgress.Store(false)

	if s := c.getState(); s != stateOpen && s != stateCloseSent {
		return nil, 0, usageErr("receive", ErrNotConnected)
	}

	c.dataAssembler.reset()
	var messageType int
	var compressed bool
	first := true

	for {
		if err := ctx.Err(); err != nil {
			return nil, 0, cancelledErr("receive", err)
		}

		var h frameHeader
		err := c.runCancelable(ctx, "receive", c.conn.SetReadDeadline, func() error {
			var innerErr error
			h, innerErr = c.fr.readHeader()
			return innerErr
		})
		if err != nil {
			if !isCancelledErr(err) {
				c.setState(stateAborted)
			}
			return nil, 0, err
		}

		if isControlOpcode(h.opcode) {
			if cerr := c.handleControlFrame(ctx, h); cerr != nil {
				return nil, 0, cerr
			}
			continue
		}

		if first {
			if h.opcode == continuationFrame {
				_ = c.fr.discardPayload(h)
				return nil, 0, protoErr("receive", ErrUnexpectedContinuation)
			}
			if !isDataOpcode(h.opcode) {
				_ = c.fr.discardPayload(h)
				return nil, 0, protoErr("receive", ErrInvalidOpcode)
			}
			if h.rsv1 && c.inflater == nil {
				_ = c.fr.discardPayload(h)
				return nil, 0, protoErr("receive", fmt.Errorf("rsv1 set but compression was not negotiated"))
			}
			messageType = int(h.opcode)
			compressed = h.rsv1
			first = false
		} else {
			if h.opcode != continuationFrame {
				_ = c.fr.discardPayload(h)
				return nil, 0, protoErr("receive", ErrExpectedContinuation)
			}
			if h.rsv1 {
				_ = c.fr.discardPayload(h)
				return nil, 0, protoErr("receive", ErrReservedBits)
			}
		}

		err = c.runCancelable(ctx, "receive", c.conn.SetReadDeadline, func() error {
			return c.fr.streamPayload(h, c.dataAssembler)
		})
		if err != nil {
			if !isCancelledErr(err) {
				c.setState(stateAborted)
			}
			return nil, 0, err
		}

		if h.fin {
			break
		}
	}

	payload := c.dataAssembler.writtenView()
	if compressed {
		out, err := c.inflater.Inflate(payload)
		if err != nil {
			c.setState(stateAborted)
			return nil, 0, err
		}
		return out, messageType, nil
	}
	return payload, messageType, nil
}

// handleControlFrame consumes one control frame's payload and dispatches
// it. A Close frame returns a *CloseError; Ping and Pong return nil after
// acting on the frame, letting Receive's loop continue toward the next
// data frame.
func (c *Client) handleControlFrame(ctx context.Context, h frameHeader) error {
	c.controlAssembler.reset()
	err := c.runCancelable(ctx, "receive", c.conn.SetReadDeadline, func() error {
		return c.fr.streamPayload(h, c.controlAssembler)
	})
	if err != nil {
		if !isCancelledErr(err) {
			c.setState(stateAborted)
		}
		return err
	}
	payload := append([]byte(nil), c.controlAssembler.writtenView()...)

	switch h.opcode {
	case CloseMessage:
		code, text, err := parseClosePayload(payload)
		if err != nil {
			c.setState(stateAborted)
			return err
		}
		c.closeReceived.Store(true)
		c.setState(stateCloseReceived)
		c.echoCloseIfNeeded(ctx, code, text)
		_ = c.disposeTransport()
		return &CloseError{Code: code, Text: text}
	case PingMessage:
		if c.opts.AutoPongOnPing {
			if err := c.sendControlLocked(ctx, PongMessage, payload); err != nil {
				return err
			}
		}
		return nil
	case PongMessage:
		return nil
	default:
		return protoErr("receive", ErrInvalidOpcode)
	}
}

// parseClosePayload decodes a received Close frame payload. A length of 1
// is neither empty nor long enough to hold the 2-byte close code, which
// RFC 6455 §5.5.1 makes a protocol violation rather than a missing code.
func parseClosePayload(payload []byte) (code int, text string, err error) {
	switch len(payload) {
	case 0:
		return CloseNoStatusReceived, "", nil
	case 1:
		return 0, "", protoErr("receive", fmt.Errorf("close frame payload length 1 is invalid"))
	default:
		return int(binary.BigEndian.Uint16(payload[:2])), string(payload[2:]), nil
	}
}

func closePayload(code int, reason string) []byte {
	if code == CloseNoStatusReceived {
		return nil
	}
	b := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(b[:2], uint16(code))
	copy(b[2:], reason)
	return b
}

// echoCloseIfNeeded answers a received close frame once, per the close
// handshake in spec §4.10: whichever side closes second just tears down
// the transport, so this never blocks waiting for anything further. It
// echoes the peer's own code and reason text back, not a bare code.
func (c *Client) echoCloseIfNeeded(ctx context.Context, code int, text string) {
	if !c.closeSent.CompareAndSwap(false, true) {
		return
	}
	_ = c.sendControlLocked(ctx, CloseMessage, closePayload(code, text))
}

// CloseOutput sends a Close frame with the given code and reason without
// waiting for the peer's answering Close or tearing down the transport;
// Close does both of those. Calling it twice is a Usage error.
func (c *Client) CloseOutput(ctx context.Context, code int, reason string) error {
	if err := validateCloseCode(code, reason); err != nil {
		return err
	}
	if !c.closeSent.CompareAndSwap(false, true) {
		return usageErr("close-output", ErrClosing)
	}
	if err := c.sendControlLocked(ctx, CloseMessage, closePayload(code, reason)); err != nil {
		return err
	}
	if c.getState() == stateOpen {
		c.setState(stateCloseSent)
	}
	return nil
}

// Close performs an orderly shutdown: sends a Close frame if one has not
// already gone out, waits up to ctx's deadline for the peer's answering
// Close to arrive (best effort — a caller mid-Receive will observe it
// there instead), then tears down the transport and releases every pooled
// buffer this Client owns. A second explicit call is a Usage error, but a
// Close following a Receive that already observed the peer's Close frame
// succeeds: the transport was already torn down there and this call just
// confirms it.
func (c *Client) Close(ctx context.Context) error {
	if !c.closing.CompareAndSwap(false, true) {
		return usageErr("close", ErrClosing)
	}
	c.stopPinger()

	if !c.closeSent.Load() {
		_ = c.CloseOutput(ctx, CloseNormalClosure, "")
	}

	if !c.closeReceived.Load() {
		c.waitForPeerClose(ctx)
	}

	return c.disposeTransport()
}

// disposeTransport tears the connection down exactly once: it is reached
// both from an explicit Close and, per spec §4.8, inline from
// handleControlFrame when the peer's Close frame arrives first — whichever
// path gets there first runs the teardown, and the other is a no-op.
func (c *Client) disposeTransport() error {
	if !c.disposed.CompareAndSwap(false, true) {
		return nil
	}
	c.stopPinger()
	err := c.conn.Close()
	c.releaseResources()
	c.setState(stateClosed)
	if err != nil {
		return transportErr("close", err)
	}
	return nil
}

// waitForPeerClose gives the peer a short, context-bounded window to
// answer before Close gives up and tears the transport down anyway; it
// never competes with a caller-owned Receive loop for frame bytes.
func (c *Client) waitForPeerClose(ctx context.Context) {
	if c.receiveInProgress.Load() {
		return
	}
	deadline := 250 * time.Millisecond
	if dl, ok := ctx.Deadline(); ok {
		if remaining := time.Until(dl); remaining < deadline {
			deadline = remaining
		}
	}
	if deadline <= 0 {
		return
	}
	waitCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	_, _, _ = c.Receive(waitCtx)
}

func (c *Client) releaseResources() {
	c.fr.release()
	c.fw.release()
	c.dataAssembler.release()
	c.controlAssembler.release()
	if c.inflater != nil {
		c.inflater.release()
	}
}

func (c *Client) stopPinger() {
	if c.pingCancel == nil {
		return
	}
	c.pingCancel()
	<-c.pingDone
}

// pingLoop is the keep-alive pinger of spec §4.9: a background goroutine
// that sends PingPayload at PingInterval and swallows its own send
// errors, leaving failure detection to the caller's Receive/Send calls.
func (c *Client) pingLoop(ctx context.Context) {
	defer close(c.pingDone)
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.sendControlLocked(context.Background(), PingMessage, c.opts.PingPayload)
		}
	}
}
