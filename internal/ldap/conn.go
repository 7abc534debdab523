package ldap

import (
	"context"
	"crypto/tls"
	"net"
	"net/url"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// Conn is the subset of *ldap.Conn used by this package.
type Conn interface {
	Bind(username, password string) error
	GSSAPIBind(client ldap.GSSAPIClient, servicePrincipal, authzid string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	SetTimeout(timeout time.Duration)
	Close() error
}

var _ Conn = (*ldap.Conn)(nil)

// Dialer opens a transport connection to the configured endpoint.
type Dialer interface {
	Dial(ctx context.Context, cfg *Config) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, cfg *Config) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, cfg *Config) (Conn, error) {
	return f(ctx, cfg)
}

// NetDialer dials real directory servers.
type NetDialer struct{}

var _ Dialer = NetDialer{}

// Dial connects within cfg.ConnectTimeout, negotiates TLS for ldaps:// or
// StartTLS, and arms the go-ldap request timeout with cfg.Timeout. TLS
// negotiation, including StartTLS, counts against the connect timeout.
func (NetDialer) Dial(ctx context.Context, cfg *Config) (Conn, error) {
	addr, err := cfg.Address()
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, configError("directory URL cannot be parsed", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	rawConn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	netConn := rawConn

	isTLS := u.Scheme == "ldaps"
	if isTLS {
		tlsConfig, err := cfg.TLSConfig(u.Hostname())
		if err != nil {
			_ = rawConn.Close()
			return nil, err
		}
		tlsConn := tls.Client(rawConn, tlsConfig)
		if err := tlsConn.HandshakeContext(dialCtx); err != nil {
			_ = rawConn.Close()
			return nil, err
		}
		netConn = tlsConn
	}

	conn := ldap.NewConn(netConn, isTLS)
	conn.Start()
	// go-ldap waits forever without a request timeout, and StartTLS is the
	// first request.
	conn.SetTimeout(cfg.Timeout)

	if cfg.StartTLS {
		tlsConfig, err := cfg.TLSConfig(u.Hostname())
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		if err := startTLS(dialCtx, conn, rawConn, tlsConfig); err != nil {
			return nil, err
		}
	}

	return conn, nil
}

// startTLS upgrades conn, giving up when ctx is done. The request timeout does
// not cover the handshake, so an expired ctx closes the socket under it; conn
// is closed on every failure.
func startTLS(ctx context.Context, conn *ldap.Conn, rawConn net.Conn, tlsConfig *tls.Config) error {
	done := make(chan error, 1)
	go func() {
		done <- conn.StartTLS(tlsConfig)
	}()

	select {
	case err := <-done:
		if err != nil {
			_ = conn.Close()
		}
		return err
	case <-ctx.Done():
		_ = rawConn.Close()
		go func() {
			<-done
			_ = conn.Close()
		}()
		return ctx.Err()
	}
}
