// Package smtp resolves sender domains to submission endpoints and negotiates
// authenticated SMTP sessions over them.
//
// Negotiation is two-phase: STARTTLS on the resolved port first, then implicit
// TLS on port 465 if anything in the first attempt fails. Provider TLS
// conventions vary and the resolver only supplies one port hint, so both
// shapes have to be tried before giving up.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	netsmtp "net/smtp"
	"strconv"
	"time"

	"github.com/ignite/mailtrace/internal/pkg/logger"
)

// ImplicitTLSPort is the fallback port for the second connection attempt.
const ImplicitTLSPort = 465

// DefaultConnectTimeout bounds each connection attempt, TLS handshake
// included.
const DefaultConnectTimeout = 30 * time.Second

// ErrAuthRejected marks credential rejection by the server. Wrapped into the
// returned error so callers can separate bad credentials from unreachable or
// misbehaving servers with errors.Is.
var ErrAuthRejected = errors.New("smtp: authentication rejected")

// Session is a live authenticated SMTP session. The caller owns it and must
// Close on every exit path, success or failure, to avoid leaking sockets.
type Session interface {
	// Send submits one message. from and to are envelope addresses, msg is
	// the full RFC 5322 message including headers.
	Send(from, to string, msg []byte) error
	Close() error
}

// Dialer opens authenticated SMTP sessions.
type Dialer interface {
	Dial(ctx context.Context, host string, port int, username, password string) (Session, error)
}

// NetDialer is the production Dialer backed by net/smtp. The zero value is
// usable and applies DefaultConnectTimeout.
type NetDialer struct {
	Timeout time.Duration

	// TLSConfig overrides the client TLS configuration, for relays with
	// private CAs. Nil verifies against the system roots with ServerName set
	// to the resolved host.
	TLSConfig *tls.Config
}

// Dial negotiates an authenticated session against host. It tries STARTTLS on
// the given port, and on any failure (connect, handshake or auth) retries with
// implicit TLS on port 465. Exactly two attempts; an auth rejection from
// either attempt takes precedence in the returned error.
func (d *NetDialer) Dial(ctx context.Context, host string, port int, username, password string) (Session, error) {
	sess, err := d.attempt(ctx, host, port, username, password, false)
	if err == nil {
		return sess, nil
	}
	logger.Debug("starttls attempt failed, falling back to implicit tls",
		"host", host, "port", port, "error", err.Error())

	sess, fallbackErr := d.attempt(ctx, host, ImplicitTLSPort, username, password, true)
	if fallbackErr == nil {
		return sess, nil
	}
	if errors.Is(fallbackErr, ErrAuthRejected) {
		return nil, fallbackErr
	}
	// An auth rejection on the first attempt classifies the whole dial even
	// when the fallback port turned out to be unreachable.
	if errors.Is(err, ErrAuthRejected) {
		return nil, err
	}
	return nil, fmt.Errorf("smtp connect to %s failed on port %d and %d: %w", host, port, ImplicitTLSPort, fallbackErr)
}

func (d *NetDialer) attempt(ctx context.Context, host string, port int, username, password string, implicitTLS bool) (Session, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	dialer := &net.Dialer{Timeout: timeout}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	// Bound the whole negotiation, not just the TCP connect.
	conn.SetDeadline(time.Now().Add(timeout))

	tlsCfg := d.TLSConfig
	if tlsCfg == nil {
		tlsCfg = &tls.Config{ServerName: host}
	}
	if implicitTLS {
		tlsConn := tls.Client(conn, tlsCfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("tls handshake %s: %w", addr, err)
		}
		conn = tlsConn
	}

	client, err := netsmtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp greeting %s: %w", addr, err)
	}

	if !implicitTLS {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			client.Close()
			return nil, fmt.Errorf("server %s does not offer STARTTLS", addr)
		}
		if err := client.StartTLS(tlsCfg); err != nil {
			client.Close()
			return nil, fmt.Errorf("starttls %s: %w", addr, err)
		}
	}

	auth := netsmtp.PlainAuth("", username, password, host)
	if err := client.Auth(auth); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrAuthRejected, err)
	}

	// Negotiation deadline no longer applies; the send gets its own budget
	// from the caller.
	conn.SetDeadline(time.Time{})
	return &clientSession{client: client}, nil
}

type clientSession struct {
	client *netsmtp.Client
}

func (s *clientSession) Send(from, to string, msg []byte) error {
	if err := s.client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := s.client.Rcpt(to); err != nil {
		return fmt.Errorf("RCPT TO: %w", err)
	}
	w, err := s.client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish message: %w", err)
	}
	return nil
}

func (s *clientSession) Close() error {
	if err := s.client.Quit(); err != nil {
		return s.client.Close()
	}
	return nil
}
