package ldap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"syscall"

	"github.com/go-ldap/ldap/v3"
)

// ErrorKind is the closed set of failure classes exposed to callers.
type ErrorKind int

const (
	KindServiceError ErrorKind = iota
	KindInvalidCredentials
	KindNotFound
	KindAmbiguousMatch
	KindTimeout
	KindConnectionRefused
	KindConfigurationError
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindNotFound:
		return "not_found"
	case KindAmbiguousMatch:
		return "ambiguous_match"
	case KindTimeout:
		return "timeout"
	case KindConnectionRefused:
		return "connection_refused"
	case KindConfigurationError:
		return "configuration_error"
	default:
		return "service_error"
	}
}

// Retryable reports whether the failure is an infrastructure condition that a
// caller may retry.
func (k ErrorKind) Retryable() bool {
	return k == KindTimeout || k == KindConnectionRefused
}

// Rejects reports whether the failure should be presented to the end user as a
// rejected login rather than an unavailable service.
func (k ErrorKind) Rejects() bool {
	switch k {
	case KindInvalidCredentials, KindNotFound, KindAmbiguousMatch:
		return true
	default:
		return false
	}
}

func (k ErrorKind) defaultReason() string {
	switch k {
	case KindInvalidCredentials:
		return "invalid credentials"
	case KindNotFound:
		return "no matching directory entry"
	case KindAmbiguousMatch:
		return "login matches more than one directory entry"
	case KindTimeout:
		return "directory did not respond in time"
	case KindConnectionRefused:
		return "directory is unreachable"
	case KindConfigurationError:
		return "directory client is misconfigured"
	default:
		return "unexpected directory error"
	}
}

// Sentinels for errors.Is. Any *Error matches the sentinel of its kind.
var (
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrAmbiguousMatch     = &Error{Kind: KindAmbiguousMatch}
	ErrTimeout            = &Error{Kind: KindTimeout}
	ErrConnectionRefused  = &Error{Kind: KindConnectionRefused}
	ErrConfiguration      = &Error{Kind: KindConfigurationError}
	ErrService            = &Error{Kind: KindServiceError}
)

// Error is the only error type returned across the package's public surface.
//
// Error() renders the operation, the kind and a caller-safe reason. Directory
// diagnostic messages and result codes are kept out of it; use Detail for
// server-side logging.
type Error struct {
	Op       string    // operation that failed, e.g. "resolve"
	Kind     ErrorKind // taxonomy class
	Reason   string    // caller-safe explanation
	LDAPCode uint16    // LDAP result code, 0 when not a protocol error
	account  string    // account state decoded from the diagnostic; Detail only
	cause    error
}

func (e *Error) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = e.Kind.defaultReason()
	}
	if e.Op == "" {
		return fmt.Sprintf("ldap: %s: %s", e.Kind, reason)
	}
	return fmt.Sprintf("ldap %s: %s: %s", e.Op, e.Kind, reason)
}

// Detail returns the full description including the underlying cause.
func (e *Error) Detail() string {
	var parts []string
	parts = append(parts, e.Error())
	if e.LDAPCode > 0 {
		parts = append(parts, fmt.Sprintf("code %d (%s)", e.LDAPCode, resultCodeText(e.LDAPCode)))
	}
	if e.account != "" {
		parts = append(parts, "account: "+e.account)
	}
	if e.cause != nil {
		parts = append(parts, "cause: "+e.cause.Error())
	}
	return strings.Join(parts, " - ")
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches sentinel errors by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Retryable reports whether the error kind is retryable.
func (e *Error) Retryable() bool {
	return e.Kind.Retryable()
}

func newError(op string, kind ErrorKind, reason string, cause error) *Error {
	return &Error{
		Op:     op,
		Kind:   kind,
		Reason: reason,
		cause:  cause,
	}
}

// configError builds a ConfigurationError.
func configError(reason string, cause error) *Error {
	return newError("configure", KindConfigurationError, reason, cause)
}

// KindOf returns the kind of err, or KindServiceError for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindServiceError
}

// Translate maps any error raised while talking to the directory onto the
// closed taxonomy. An *Error passes through unchanged (its Op is filled in if
// empty); nil stays nil.
func Translate(op string, err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		if e.Op == "" {
			cp := *e
			cp.Op = op
			return &cp
		}
		return e
	}

	kind, code := classify(err)
	out := newError(op, kind, "", err)
	out.LDAPCode = code
	if kind == KindInvalidCredentials {
		out.account = accountState(err)
	}
	return out
}

func classify(err error) (ErrorKind, uint16) {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout, 0
	}
	if errors.Is(err, context.Canceled) {
		return KindServiceError, 0
	}

	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		switch ldapErr.ResultCode {
		case ldap.LDAPResultInvalidCredentials:
			return KindInvalidCredentials, ldapErr.ResultCode
		case ldap.LDAPResultNoSuchObject:
			return KindNotFound, ldapErr.ResultCode
		case ldap.LDAPResultTimeLimitExceeded, ldap.LDAPResultTimeout:
			return KindTimeout, ldapErr.ResultCode
		case ldap.LDAPResultBusy,
			ldap.LDAPResultUnavailable,
			ldap.LDAPResultServerDown,
			ldap.LDAPResultConnectError:
			return KindConnectionRefused, ldapErr.ResultCode
		case ldap.ErrorNetwork:
			if kind, ok := classifyNetwork(ldapErr.Err); ok {
				return kind, 0
			}
			if ldapErr.Err != nil && strings.Contains(ldapErr.Err.Error(), "timed out") {
				return KindTimeout, 0
			}
			return KindConnectionRefused, 0
		default:
			return KindServiceError, ldapErr.ResultCode
		}
	}

	if kind, ok := classifyNetwork(err); ok {
		return kind, 0
	}
	return KindServiceError, 0
}

func classifyNetwork(err error) (ErrorKind, bool) {
	if err == nil {
		return 0, false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout, true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return KindConnectionRefused, true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return KindConnectionRefused, true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindConnectionRefused, true
	}
	return 0, false
}

// Active Directory appends a sub-code to result 49, e.g.
// "80090308: LdapErr: DSID-0C09044E, comment: AcceptSecurityContext error, data 52e, v4563".
// It tells locked, disabled and expired accounts apart, so it only reaches
// Detail().
var adSubCodePattern = regexp.MustCompile(`(?i)\bdata ([0-9a-f]{3,4})\b`)

var adSubCodeReasons = map[string]string{
	"525": "user not found",
	"52e": "invalid credentials",
	"530": "logon not permitted at this time",
	"531": "logon not permitted from this workstation",
	"532": "password expired",
	"533": "account disabled",
	"701": "account expired",
	"773": "password must be reset",
	"775": "account locked",
}

func accountState(err error) string {
	var ldapErr *ldap.Error
	if !errors.As(err, &ldapErr) || ldapErr.Err == nil {
		return ""
	}
	m := adSubCodePattern.FindStringSubmatch(ldapErr.Err.Error())
	if m == nil {
		return ""
	}
	return adSubCodeReasons[strings.ToLower(m[1])]
}

func resultCodeText(code uint16) string {
	if text, ok := ldap.LDAPResultCodeMap[code]; ok {
		return text
	}
	return fmt.Sprintf("unknown result code %d", code)
}
