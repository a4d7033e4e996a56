package websocket

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/textproto"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DialOptions configures Dial. The zero value dials with no subprotocols,
// no extra headers, and the package default logger and write-fragmentation
// size.
type DialOptions struct {
	// Subprotocols offered to the server, in preference order.
	Subprotocols []string

	// Header carries additional request headers (cookies, bearer tokens,
	// etc.) sent with the opening handshake.
	Header textproto.MIMEHeader

	// TLSConfig configures the TLS connection used for wss:// targets. If
	// nil, a default config appropriate for the target host is used.
	TLSConfig *tls.Config

	// HandshakeTimeout bounds the TCP/TLS dial plus the opening handshake
	// exchange. Zero means no timeout beyond ctx.
	HandshakeTimeout time.Duration

	// MaxWriteFrameSize overrides defaultMaxWriteFrame for this Conn.
	MaxWriteFrameSize int

	// Handler receives this Conn's lifecycle and message events.
	Handler ConnHandler

	// Logger overrides the package default logger.
	Logger *zerolog.Logger
}

// Dial performs a TCP or TLS connect to the ws:// or wss:// URL rawURL,
// sends the opening handshake, and on success returns a Conn already in
// StateConnected with its read loop running (spec.md §4.5, §6).
//
// Grounded on daabr-chrome-vision/pkg/websocket.Handshake's raw-socket
// approach (no net/http client involved, since net/http has no hook for
// taking ownership of the connection after a client-initiated Upgrade).
func Dial(ctx context.Context, rawURL string, opts *DialOptions) (*Conn, error) {
	if opts == nil {
		opts = &DialOptions{}
	}

	target, err := parseWSURL(rawURL)
	if err != nil {
		return nil, err
	}

	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if opts.HandshakeTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, opts.HandshakeTimeout)
		defer cancel()
	}

	var d net.Dialer
	nc, err := d.DialContext(dialCtx, "tcp", net.JoinHostPort(target.host, target.port))
	if err != nil {
		return nil, fmt.Errorf("websocket: dial: %w", err)
	}

	if target.secure {
		tlsCfg := opts.TLSConfig
		if tlsCfg == nil {
			tlsCfg = &tls.Config{ServerName: target.host, MinVersion: tls.VersionTLS12}
		} else if tlsCfg.ServerName == "" {
			cfg := tlsCfg.Clone()
			cfg.ServerName = target.host
			tlsCfg = cfg
		}
		tc := tls.Client(nc, tlsCfg)
		if err := tc.HandshakeContext(dialCtx); err != nil {
			_ = nc.Close()
			if dialCtx.Err() == context.DeadlineExceeded {
				return nil, fmt.Errorf("websocket: %w: %w", ErrHandshakeTimeout, err)
			}
			return nil, fmt.Errorf("websocket: TLS handshake: %w", err)
		}
		nc = tc
	}

	if dl, ok := dialCtx.Deadline(); ok {
		_ = nc.SetDeadline(dl)
	}

	key, err := generateKey()
	if err != nil {
		_ = nc.Close()
		return nil, err
	}

	req := buildClientRequest(target, key, opts.Subprotocols, nil, opts.Header)
	if _, err := nc.Write(req); err != nil {
		_ = nc.Close()
		return nil, fmt.Errorf("websocket: write handshake request: %w", err)
	}

	br := bufio.NewReader(nc)
	result, err := parseServerResponse(br, key)
	if err != nil {
		_ = nc.Close()
		return nil, err
	}
	if br.Buffered() > 0 {
		// The server is not permitted to pipeline frame data ahead of its
		// handshake response, but guard against a buggy peer rather than
		// silently drop bytes.
		_ = nc.Close()
		return nil, fmt.Errorf("websocket: %w: unexpected data after handshake response", ErrHandshakeRefused)
	}

	// Handshake succeeded; clear the dial deadline so it does not also
	// bound the life of the connection.
	_ = nc.SetDeadline(time.Time{})

	c := newConn(nc, connConfig{
		isServer:    false,
		subprotocol: result.subprotocol,
		requestURL:  rawURL,
		origin:      target.origin,
		maxWrite:    opts.MaxWriteFrameSize,
		handler:     opts.Handler,
		logger:      logger,
	})
	c.start()
	return c, nil
}
