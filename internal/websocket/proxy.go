// Package websocket implements the WebSocket Path (§4.12): an HTTP-Upgrade
// handshake proxied over a raw hijacked connection, with a per-origin
// connection-rate limiter in front of the handshake and a per-connection
// message-rate limiter enforced on the live socket.
package websocket

import (
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/gateway/config"
	"github.com/wudi/gateway/internal/logging"
)

// Proxy handles WebSocket proxying via HTTP hijack.
type Proxy struct {
	readBufferSize  int
	writeBufferSize int
	readTimeout     time.Duration
	writeTimeout    time.Duration
	pingInterval    time.Duration
	pongTimeout     time.Duration

	conns          *connectionLimiter
	msgPerSecond   float64
	msgBurst       int
	logger         *zap.Logger
}

// NewProxy creates a new WebSocket proxy.
func NewProxy(cfg config.WebSocketConfig) *Proxy {
	readBuf := cfg.ReadBufferSize
	if readBuf <= 0 {
		readBuf = 4096
	}

	writeBuf := cfg.WriteBufferSize
	if writeBuf <= 0 {
		writeBuf = 4096
	}

	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 60 * time.Second
	}

	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	pingInterval := cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}

	pongTimeout := cfg.PongTimeout
	if pongTimeout <= 0 {
		pongTimeout = 60 * time.Second
	}

	return &Proxy{
		readBufferSize:  readBuf,
		writeBufferSize: writeBuf,
		readTimeout:     readTimeout,
		writeTimeout:    writeTimeout,
		pingInterval:    pingInterval,
		pongTimeout:     pongTimeout,
		conns:           newConnectionLimiter(cfg.ConnectionsPerMin, cfg.ConnectionBurst),
		msgPerSecond:    cfg.MessagesPerSecond,
		msgBurst:        cfg.MessageBurst,
		logger:          logging.Global(),
	}
}

// IsUpgradeRequest checks if the request is a WebSocket upgrade request.
func IsUpgradeRequest(r *http.Request) bool {
	connection := strings.ToLower(r.Header.Get("Connection"))
	upgrade := strings.ToLower(r.Header.Get("Upgrade"))

	return strings.Contains(connection, "upgrade") && upgrade == "websocket"
}

func requestOrigin(r *http.Request) string {
	if origin := r.Header.Get("Origin"); origin != "" {
		return origin
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ServeHTTP proxies a WebSocket connection to the backend. The connection-
// rate limiter is checked before Upgrade; once hijacked, the client-to-
// backend direction is metered by the per-connection message-rate limiter,
// closing with code 4429 on breach.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request, backendURL string) {
	if !p.conns.Allow(requestOrigin(r)) {
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}

	target, err := url.Parse(backendURL)
	if err != nil {
		http.Error(w, "Bad Gateway: invalid backend URL", http.StatusBadGateway)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "WebSocket upgrade not supported", http.StatusInternalServerError)
		return
	}

	clientConn, clientBuf, err := hijacker.Hijack()
	if err != nil {
		http.Error(w, "Failed to hijack connection", http.StatusInternalServerError)
		return
	}
	defer clientConn.Close()

	backendAddr := target.Host
	if !strings.Contains(backendAddr, ":") {
		if target.Scheme == "https" || target.Scheme == "wss" {
			backendAddr += ":443"
		} else {
			backendAddr += ":80"
		}
	}

	backendConn, err := net.DialTimeout("tcp", backendAddr, 10*time.Second)
	if err != nil {
		p.logger.Warn("websocket proxy: failed to dial backend", zap.String("addr", backendAddr), zap.Error(err))
		clientBuf.WriteString("HTTP/1.1 502 Bad Gateway\r\n\r\n")
		clientBuf.Flush()
		return
	}
	defer backendConn.Close()

	reqPath := r.URL.Path
	if r.URL.RawQuery != "" {
		reqPath += "?" + r.URL.RawQuery
	}

	backendConn.Write([]byte(r.Method + " " + reqPath + " HTTP/1.1\r\n"))

	r.Header.Set("Host", target.Host)
	for key, values := range r.Header {
		for _, v := range values {
			backendConn.Write([]byte(key + ": " + v + "\r\n"))
		}
	}
	backendConn.Write([]byte("\r\n"))

	buf := make([]byte, p.readBufferSize)
	n, err := backendConn.Read(buf)
	if err != nil {
		p.logger.Warn("websocket proxy: failed to read backend response", zap.Error(err))
		clientBuf.WriteString("HTTP/1.1 502 Bad Gateway\r\n\r\n")
		clientBuf.Flush()
		return
	}

	clientConn.Write(buf[:n])

	limiter := newMessageLimiter(p.msgPerSecond, p.msgBurst)

	errCh := make(chan error, 2)

	go func() {
		errCh <- relayRateLimited(backendConn, clientConn, limiter, clientConn)
	}()

	go func() {
		_, err := io.Copy(clientConn, backendConn)
		errCh <- err
	}()

	<-errCh

	clientConn.SetDeadline(time.Now().Add(1 * time.Second))
	backendConn.SetDeadline(time.Now().Add(1 * time.Second))
}

// relayRateLimited copies WebSocket frames from src to dst, parsing just
// enough of each frame header to gate data frames against limiter. On
// breach it writes a 4429 close frame to closer and stops relaying.
func relayRateLimited(dst io.Writer, src io.Reader, limiter interface {
	Allow() bool
}, closer io.Writer) error {
	for {
		fh, err := readFrameHeader(src)
		if err != nil {
			return err
		}

		if isDataFrame(fh.opcode) {
			if !limiter.Allow() {
				writeCloseFrame(closer, CloseRateLimited)
				return nil
			}
		}

		if fh.opcode == opClose {
			if err := writeFrameHeader(dst, fh); err != nil {
				return err
			}
			io.CopyN(dst, src, int64(fh.payloadLen))
			return nil
		}

		if err := writeFrameHeader(dst, fh); err != nil {
			return err
		}
		if fh.payloadLen > 0 {
			if _, err := io.CopyN(dst, src, int64(fh.payloadLen)); err != nil {
				return err
			}
		}
	}
}
