package ldap

import (
	"context"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/terraform-provider-dirauth/internal/metrics"
)

// Status tags an authentication Outcome.
type Status int

const (
	StatusServiceUnavailable Status = iota
	StatusAuthenticated
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusAuthenticated:
		return "authenticated"
	case StatusRejected:
		return "rejected"
	default:
		return "service_unavailable"
	}
}

// Outcome is the result of one Authenticate call. User is set only when
// Status is StatusAuthenticated; Err is set otherwise.
type Outcome struct {
	Status    Status
	User      *User
	Err       *Error
	AttemptID string
}

// Reason is the caller-safe explanation for a non-authenticated outcome.
func (o *Outcome) Reason() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

func outcomeFor(attemptID string, err *Error) *Outcome {
	status := StatusServiceUnavailable
	if err.Kind.Rejects() {
		status = StatusRejected
	}
	return &Outcome{Status: status, Err: err, AttemptID: attemptID}
}

// Authenticator verifies credentials against one directory. It holds no
// per-call state; every method opens and closes its own connections, so it is
// safe for concurrent use.
type Authenticator struct {
	cfg      *Config
	dialer   Dialer
	resolver *Resolver
	verifier *Verifier
	mapper   *Mapper
	probe    *Probe
	metrics  metrics.Recorder
}

// Option customizes an Authenticator.
type Option func(*Authenticator)

// WithDialer replaces the network dialer.
func WithDialer(d Dialer) Option {
	return func(a *Authenticator) {
		a.dialer = d
	}
}

// WithRecorder records operation metrics.
func WithRecorder(r metrics.Recorder) Option {
	return func(a *Authenticator) {
		a.metrics = r
	}
}

// WithSchema replaces the profile attribute aliases.
func WithSchema(schema Schema) Option {
	return func(a *Authenticator) {
		a.mapper = NewMapper(schema)
	}
}

// NewAuthenticator validates a private copy of cfg. An invalid configuration
// is returned as a ConfigurationError and must stop the caller from serving.
func NewAuthenticator(cfg *Config, opts ...Option) (*Authenticator, error) {
	if cfg == nil {
		return nil, configError("configuration is required", nil)
	}
	own := cfg.Clone()
	if err := own.Prepare(); err != nil {
		return nil, err
	}

	a := &Authenticator{
		cfg:     own,
		dialer:  NetDialer{},
		mapper:  NewMapper(DefaultSchema()),
		metrics: metrics.NewNoop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.resolver = NewResolver(own.BaseDN, own.LoginAttributes)
	a.verifier = NewVerifier(own, a.dialer)
	a.probe = NewProbe(own, a.dialer)

	return a, nil
}

// Config returns a copy of the effective configuration.
func (a *Authenticator) Config() *Config {
	return a.cfg.Clone()
}

// Authenticate checks username and password. Wrong passwords, unknown and
// ambiguous logins are Rejected; infrastructure failures are
// ServiceUnavailable. The user bind happens on its own connection; the profile
// is read on the service connection used for resolution.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) *Outcome {
	ctx = WithLogging(ctx)
	attemptID := uuid.NewString()
	ctx = tflog.SubsystemSetField(ctx, subsystemLDAP, "attempt_id", attemptID)
	start := time.Now()

	user, err := a.authenticate(ctx, username, password)

	var outcome *Outcome
	if err != nil {
		e := Translate("authenticate", err)
		LogLDAPError(ctx, "authenticate", e, map[string]any{"username": username})
		outcome = outcomeFor(attemptID, e)
	} else {
		outcome = &Outcome{Status: StatusAuthenticated, User: user, AttemptID: attemptID}
	}

	kind := ""
	if outcome.Err != nil {
		kind = outcome.Err.Kind.String()
	}
	a.metrics.RecordAuthentication(outcome.Status.String(), kind, time.Since(start))
	LogPerformance(ctx, subsystemLDAP, "authenticate", time.Since(start), map[string]any{
		"username": username,
		"status":   outcome.Status.String(),
	})
	return outcome
}

func (a *Authenticator) authenticate(ctx context.Context, username, password string) (*User, error) {
	if password == "" {
		return nil, newError("authenticate", KindInvalidCredentials, "empty password", nil)
	}

	s, err := a.openServiceSession(ctx, "resolve")
	if err != nil {
		return nil, err
	}
	defer s.Close(ctx)

	dn, err := a.resolver.Resolve(ctx, s, username)
	if err != nil {
		return nil, err
	}

	if err := a.verifier.Verify(ctx, dn, password); err != nil {
		return nil, err
	}

	return a.mapper.Fetch(ctx, s, dn)
}

// Lookup returns the profile for username without checking a password.
func (a *Authenticator) Lookup(ctx context.Context, username string) (*User, error) {
	ctx = WithLogging(ctx)

	user, err := a.lookup(ctx, username)
	if err != nil {
		e := Translate("lookup", err)
		LogLDAPError(ctx, "lookup", e, map[string]any{"username": username})
		a.metrics.RecordLookup(e.Kind.String())
		return nil, e
	}
	a.metrics.RecordLookup("found")
	return user, nil
}

func (a *Authenticator) lookup(ctx context.Context, username string) (*User, error) {
	s, err := a.openServiceSession(ctx, "lookup")
	if err != nil {
		return nil, err
	}
	defer s.Close(ctx)

	dn, err := a.resolver.Resolve(ctx, s, username)
	if err != nil {
		return nil, err
	}
	return a.mapper.Fetch(ctx, s, dn)
}

// Search returns up to SearchSizeLimit users with a SearchAttributes value
// containing query. Entries without a username are dropped. When the
// directory truncates the result the partial page is returned.
func (a *Authenticator) Search(ctx context.Context, query string) ([]*User, error) {
	ctx = WithLogging(ctx)

	users, err := a.search(ctx, query)
	if err != nil {
		e := Translate("search", err)
		LogLDAPError(ctx, "search", e, map[string]any{"query": query})
		a.metrics.RecordSearch(e.Kind.String(), 0)
		return nil, e
	}
	a.metrics.RecordSearch("ok", len(users))
	return users, nil
}

func (a *Authenticator) search(ctx context.Context, query string) ([]*User, error) {
	if query == "" {
		return nil, newError("search", KindNotFound, "empty query", nil)
	}

	s, err := a.openServiceSession(ctx, "search")
	if err != nil {
		return nil, err
	}
	defer s.Close(ctx)

	req := ldap.NewSearchRequest(
		a.cfg.BaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		a.cfg.SearchSizeLimit,
		0,
		false,
		SubstringFilter(a.cfg.SearchAttributes, query),
		a.mapper.Attributes(),
		nil,
	)

	result, err := s.Search(ctx, req)
	if err != nil {
		if !ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded) || result == nil {
			return nil, err
		}
		tflog.SubsystemDebug(ctx, subsystemLDAP, "Search truncated by size limit", map[string]any{
			"size_limit": a.cfg.SearchSizeLimit,
			"returned":   len(result.Entries),
		})
	}

	users := make([]*User, 0, len(result.Entries))
	for _, entry := range result.Entries {
		if user := a.mapper.FromEntry(entry); user.Username != "" {
			users = append(users, user)
		}
	}
	return users, nil
}

// HealthCheck probes the directory. It never fails.
func (a *Authenticator) HealthCheck(ctx context.Context) *HealthReport {
	ctx = WithLogging(ctx)
	start := time.Now()
	report := a.probe.Run(ctx)
	a.metrics.RecordHealthCheck(report.Healthy, time.Since(start))
	return report
}

// openServiceSession opens a connection and binds it with the service
// account (or leaves it anonymous).
func (a *Authenticator) openServiceSession(ctx context.Context, label string) (*Session, error) {
	s, err := OpenSession(ctx, a.cfg, a.dialer, label)
	if err != nil {
		return nil, err
	}
	if err := bindService(ctx, s, a.cfg); err != nil {
		s.Close(ctx)
		return nil, err
	}
	return s, nil
}

// bindService authenticates s as the configured service account. A rejected
// service bind is a ConfigurationError, never the end user's
// InvalidCredentials.
func bindService(ctx context.Context, s *Session, cfg *Config) error {
	var err error
	switch cfg.Mode() {
	case BindModeAnonymous:
		return nil
	case BindModeSimple:
		err = s.Bind(ctx, cfg.BindDN, cfg.BindPassword)
	case BindModeKerberos:
		err = kerberosBind(ctx, s, cfg)
	}
	if err == nil {
		LogConnectionEvent(ctx, "authentication_success", map[string]any{"bind_mode": cfg.Mode().String()})
		return nil
	}

	e := Translate("service_bind", err)
	switch e.Kind {
	case KindInvalidCredentials, KindNotFound:
		return &Error{
			Op:       "service_bind",
			Kind:     KindConfigurationError,
			Reason:   "service account credentials rejected",
			LDAPCode: e.LDAPCode,
			cause:    err,
		}
	}
	if e.LDAPCode == ldap.LDAPResultInvalidDNSyntax || e.LDAPCode == ldap.LDAPResultInappropriateAuthentication {
		return &Error{
			Op:       "service_bind",
			Kind:     KindConfigurationError,
			Reason:   "service account bind not accepted",
			LDAPCode: e.LDAPCode,
			cause:    err,
		}
	}
	return e
}
