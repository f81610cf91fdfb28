// released under the MIT license

// Package network implements the non-blocking TCP/TLS socket engine:
// connect cascade over resolved endpoints, buffered reads, gathered
// writes with partial-send handling, and TLS interposed transparently
// between the raw stream and the protocol layer.
package network

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/lep/biboumi/gateway/dns"
	"github.com/lep/biboumi/gateway/eventloop"
	"github.com/lep/biboumi/gateway/logger"
)

// State is the connection lifecycle position of a Handler.
type State int

const (
	StateIdle State = iota
	StateResolving
	StateConnecting
	StateEstablished
	StateTLSHandshaking
	StateReady
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateConnecting:
		return "connecting"
	case StateEstablished:
		return "established"
	case StateTLSHandshaking:
		return "tls-handshaking"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

const (
	connectTimeout = 5 * time.Second
	readChunkSize  = 4096
	// matches UIO_FASTIOV: at most this many chunks per gathered send
	maxSendChunks = 8
)

var errNoPeerCertificate = errors.New("peer presented no certificate")

// Protocol is the layer above the socket. Upcalls run on the loop
// goroutine; none of them may block.
type Protocol interface {
	// OnConnected fires once the TCP connection is established (before
	// TLS negotiation completes, if any).
	OnConnected()
	// OnConnectionFailed fires when resolution fails, every endpoint is
	// exhausted, or the connect timeout expires. Terminal.
	OnConnectionFailed(msg string)
	// OnConnectionClose fires when an established connection ends; msg
	// is empty for an orderly peer close.
	OnConnectionClose(msg string)
	// ParseInBuffer is invoked after n new bytes were appended to In.
	ParseInBuffer(n int)
}

// Handler drives one TCP (optionally TLS) connection on the event loop.
// All exported methods and all upcalls run on the loop goroutine;
// blocking work happens on private goroutines whose completions are
// posted back and checked against a generation counter, so a Close
// orphans every in-flight operation.
type Handler struct {
	// policy knobs, set before Connect
	BindAddress        string
	CAFile             string
	TrustedFingerprint string
	AbortOnInvalidCert bool

	In InBuffer

	loop     *eventloop.Loop
	log      *logger.Manager
	resolver *dns.Resolver
	proto    Protocol

	id    uint64
	state State
	gen   uint64

	host   string
	port   string
	useTLS bool

	endpoints []dns.Endpoint
	cursor    int
	lastError string

	conn       net.Conn
	dialCancel context.CancelFunc

	out      OutBuffer
	preBuf   []byte
	flushing bool
}

var nextHandlerID uint64

func NewHandler(loop *eventloop.Loop, log *logger.Manager, proto Protocol) *Handler {
	nextHandlerID++
	return &Handler{
		loop:     loop,
		log:      log,
		proto:    proto,
		resolver: dns.NewResolver(loop),
		id:       nextHandlerID,
		state:    StateIdle,
	}
}

func (h *Handler) State() State { return h.state }

func (h *Handler) IsConnected() bool {
	return h.state == StateEstablished || h.state == StateTLSHandshaking || h.state == StateReady
}

func (h *Handler) IsConnecting() bool {
	return h.state == StateResolving || h.state == StateConnecting || h.resolver.IsResolving()
}

func (h *Handler) timeoutName() string {
	return fmt.Sprintf("connection_timeout%d", h.id)
}

// Connect starts the cascade: resolve, then try each endpoint in
// resolver order. Re-entrant: calling it again after a Close starts a
// fresh attempt (the resolver result is cleared on Close).
func (h *Handler) Connect(host, port string, useTLS bool) {
	h.host, h.port, h.useTLS = host, port, useTLS

	if h.IsConnecting() || h.IsConnected() {
		return
	}
	h.log.Info("connect", fmt.Sprintf("trying to connect to %s:%s (tls=%v)", host, port, useTLS))
	h.state = StateResolving
	h.resolver.Resolve(host, port, useTLS,
		func(endpoints []dns.Endpoint) {
			h.endpoints = endpoints
			h.cursor = 0
			h.tryNextEndpoint()
		},
		func(msg string) {
			h.closeInternal()
			h.proto.OnConnectionFailed(msg)
		})
}

func (h *Handler) tryNextEndpoint() {
	if h.cursor >= len(h.endpoints) {
		msg := h.lastError
		if msg == "" {
			msg = "no addresses to connect to"
		}
		h.log.Error("connect", "all connection attempts failed", msg)
		h.closeInternal()
		h.proto.OnConnectionFailed(msg)
		return
	}
	endpoint := h.endpoints[h.cursor]
	h.cursor++
	h.state = StateConnecting

	family := "IPv4"
	if endpoint.IP.To4() == nil {
		family = "IPv6"
	}
	h.log.Debug("connect", "trying "+family+" address", endpoint.Addr())

	gen := h.gen
	ctx, cancel := context.WithCancel(context.Background())
	h.dialCancel = cancel
	h.loop.AddTimer(connectTimeout, h.timeoutName(), h.onConnectTimeout)

	bindAddress := h.BindAddress
	go func() {
		dialer := net.Dialer{KeepAlive: 30 * time.Second}
		if bindAddress != "" {
			if local := resolveBindAddress(ctx, bindAddress); local != nil {
				dialer.LocalAddr = local
			}
		}
		conn, err := dialer.DialContext(ctx, "tcp", endpoint.Addr())
		h.loop.Post(func() { h.onDialResult(gen, conn, err) })
	}()
}

// resolveBindAddress turns the configured source address into a local
// TCP address, taking the first resolution result that parses.
func resolveBindAddress(ctx context.Context, bindAddress string) net.Addr {
	if ip := net.ParseIP(bindAddress); ip != nil {
		return &net.TCPAddr{IP: ip}
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, bindAddress)
	if err != nil || len(addrs) == 0 {
		return nil
	}
	return &net.TCPAddr{IP: addrs[0].IP}
}

func (h *Handler) onConnectTimeout() {
	h.closeInternal()
	h.proto.OnConnectionFailed("connection timed out")
}

func (h *Handler) onDialResult(gen uint64, conn net.Conn, err error) {
	if gen != h.gen {
		if conn != nil {
			conn.Close()
		}
		return
	}
	h.loop.CancelTimer(h.timeoutName())
	h.dialCancel = nil
	if err != nil {
		h.lastError = err.Error()
		h.log.Info("connect", "connection failed", h.lastError)
		h.tryNextEndpoint()
		return
	}
	h.log.Info("connect", "connection success", conn.RemoteAddr().String())
	h.conn = conn
	h.state = StateEstablished
	if h.useTLS {
		h.startTLS()
	}
	h.proto.OnConnected()
	if !h.useTLS {
		h.becomeReady()
	}
}

func (h *Handler) startTLS() {
	h.state = StateTLSHandshaking
	config := &tls.Config{
		ServerName:            h.host,
		InsecureSkipVerify:    true, // verification runs in verifyPeerChain
		VerifyPeerCertificate: h.verifyPeerChain,
	}
	tlsConn := tls.Client(h.conn, config)
	gen := h.gen
	go func() {
		err := tlsConn.HandshakeContext(context.Background())
		h.loop.Post(func() { h.onTLSResult(gen, tlsConn, err) })
	}()
}

func (h *Handler) onTLSResult(gen uint64, tlsConn *tls.Conn, err error) {
	if gen != h.gen {
		tlsConn.Close()
		return
	}
	if err != nil {
		msg := "TLS error: " + err.Error()
		h.log.Warning("tls", msg)
		h.closeInternal()
		h.proto.OnConnectionClose(msg)
		return
	}
	h.conn = tlsConn
	h.onTLSActivated()
}

// onTLSActivated flushes the pre-buffer accumulated while the session
// was negotiating, then opens the connection for regular traffic.
func (h *Handler) onTLSActivated() {
	h.log.Debug("tls", "handshake with "+h.host+" complete")
	if len(h.preBuf) > 0 {
		h.out.Append(h.preBuf)
		h.preBuf = nil
	}
	h.becomeReady()
}

func (h *Handler) becomeReady() {
	h.state = StateReady
	h.startReader()
	h.watchSendEvents()
}

func (h *Handler) startReader() {
	gen := h.gen
	conn := h.conn
	go func() {
		for {
			buf := make([]byte, readChunkSize)
			n, err := conn.Read(buf)
			if n > 0 {
				data := buf[:n]
				h.loop.Post(func() { h.onRead(gen, data) })
			}
			if err != nil {
				h.loop.Post(func() { h.onReadError(gen, err) })
				return
			}
		}
	}()
}

func (h *Handler) onRead(gen uint64, data []byte) {
	if gen != h.gen {
		return
	}
	h.In.Append(data)
	h.proto.ParseInBuffer(len(data))
}

func (h *Handler) onReadError(gen uint64, err error) {
	if gen != h.gen {
		return
	}
	if err == io.EOF {
		h.closeInternal()
		h.proto.OnConnectionClose("")
		return
	}
	msg := err.Error()
	if _, ok := err.(tls.RecordHeaderError); ok || strings.Contains(msg, "tls:") {
		msg = "TLS error: " + msg
	}
	h.log.Warning("connect", "error while reading from socket", msg)
	h.closeInternal()
	h.proto.OnConnectionClose(msg)
}

// SendData queues data for transmission, preserving submission order.
// While a configured TLS session is still negotiating, data is held in
// the pre-buffer and flushed on activation.
func (h *Handler) SendData(data []byte) {
	if len(data) == 0 {
		return
	}
	if h.useTLS && h.state != StateReady {
		h.preBuf = append(h.preBuf, data...)
		return
	}
	h.out.Append(data)
	h.watchSendEvents()
}

// watchSendEvents enables the write pump. One gathered send of up to
// maxSendChunks chunks is in flight at a time; the pump disables itself
// when the queue drains.
func (h *Handler) watchSendEvents() {
	if h.state != StateReady || h.flushing || h.out.Empty() {
		return
	}
	h.flushing = true
	gen := h.gen
	conn := h.conn
	batch := h.out.Batch(maxSendChunks)
	go func() {
		buffers := net.Buffers(batch)
		n, err := buffers.WriteTo(conn)
		h.loop.Post(func() { h.onSendResult(gen, n, err) })
	}()
}

func (h *Handler) onSendResult(gen uint64, n int64, err error) {
	if gen != h.gen {
		return
	}
	h.flushing = false
	h.out.Advance(int(n))
	if err != nil {
		h.log.Error("connect", "send failed", err.Error())
		h.closeInternal()
		h.proto.OnConnectionClose(err.Error())
		return
	}
	h.watchSendEvents()
}

// Close tears the connection down: cancels the connect timeout, orphans
// in-flight goroutines, closes the socket and clears all buffers.
// Idempotent; called from every error path.
func (h *Handler) Close() {
	h.closeInternal()
}

func (h *Handler) closeInternal() {
	h.loop.CancelTimer(h.timeoutName())
	if h.dialCancel != nil {
		h.dialCancel()
		h.dialCancel = nil
	}
	h.gen++
	if h.conn != nil {
		h.conn.Close()
		h.conn = nil
	}
	h.state = StateClosed
	h.In.Clear()
	h.out.Clear()
	h.preBuf = nil
	h.flushing = false
	h.endpoints = nil
	h.cursor = 0
	h.resolver.Clear()
}
