package ldap

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// Session is one directory connection owned by a single operation. It is not
// shared between calls.
type Session struct {
	conn    Conn
	timeout time.Duration
	label   string

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

// OpenSession dials the directory. Dial failures are translated, so the
// returned error is always an *Error.
func OpenSession(ctx context.Context, cfg *Config, dialer Dialer, label string) (*Session, error) {
	var conn Conn
	err := LogOperation(ctx, "ldap", "connect", map[string]any{
		"url":     cfg.URL,
		"session": label,
	}, func() error {
		var dialErr error
		conn, dialErr = dialer.Dial(ctx, cfg)
		return dialErr
	})
	if err != nil {
		LogConnectionEvent(ctx, "connection_failed", map[string]any{"url": cfg.URL, "session": label})
		return nil, Translate("connect", err)
	}

	LogConnectionEvent(ctx, "connection_established", map[string]any{"url": cfg.URL, "session": label})
	return &Session{
		conn:    conn,
		timeout: cfg.Timeout,
		label:   label,
	}, nil
}

// Close releases the connection. It is idempotent and never fails; close
// errors are logged.
func (s *Session) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		if err := s.conn.Close(); err != nil {
			tflog.SubsystemWarn(ctx, "ldap", "Failed to close directory connection", map[string]any{
				"session": s.label,
				"error":   err.Error(),
			})
			return
		}
		LogConnectionEvent(ctx, "connection_closed", map[string]any{"session": s.label})
	})
}

// Closed reports whether Close has run.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Bind performs a simple bind.
func (s *Session) Bind(ctx context.Context, dn, password string) error {
	_, err := run(ctx, s, "bind", func() (struct{}, error) {
		return struct{}{}, s.conn.Bind(dn, password)
	})
	return err
}

// GSSAPIBind performs a SASL GSSAPI bind and then deletes the client's
// security context. The context is deleted once the bind call has returned,
// even when the operation timed out first.
func (s *Session) GSSAPIBind(ctx context.Context, client ldap.GSSAPIClient, spn string) error {
	_, err := run(ctx, s, "bind", func() (struct{}, error) {
		defer func() {
			_ = client.DeleteSecContext()
		}()
		return struct{}{}, s.conn.GSSAPIBind(client, spn, "")
	})
	return err
}

// Search runs req. On a size-limit-exceeded response the partial result is
// returned together with the error.
func (s *Session) Search(ctx context.Context, req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	return run(ctx, s, "search", func() (*ldap.SearchResult, error) {
		return s.conn.Search(req)
	})
}

type opResult[T any] struct {
	val T
	err error
}

// run executes fn under the session's operation timeout. When the deadline
// passes first the connection is closed, which aborts the outstanding request,
// and a Timeout error is returned without waiting for fn.
func run[T any](ctx context.Context, s *Session, op string, fn func() (T, error)) (T, error) {
	var zero T
	if s.Closed() {
		return zero, newError(op, KindServiceError, "session already closed", nil)
	}

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan opResult[T], 1)
	go func() {
		val, err := fn()
		done <- opResult[T]{val: val, err: err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-opCtx.Done():
		s.Close(ctx)
		err := opCtx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			return zero, newError(op, KindTimeout, "", err)
		}
		return zero, newError(op, KindServiceError, "operation cancelled", err)
	}
}
