package ldap

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-ldap/ldap/v3"
)

// BindMode is how the resolution session authenticates before searching.
type BindMode int

const (
	BindModeAnonymous BindMode = iota // no service account configured
	BindModeSimple                    // service account DN and secret
	BindModeKerberos                  // GSSAPI with a Kerberos principal
)

func (m BindMode) String() string {
	switch m {
	case BindModeSimple:
		return "simple"
	case BindModeKerberos:
		return "kerberos"
	default:
		return "anonymous"
	}
}

// Config describes one directory endpoint. Construct it with DefaultConfig or
// LoadConfigFromEnv, then hand it to NewAuthenticator, which takes a private
// copy.
type Config struct {
	// Connection settings
	URL            string        // ldap:// or ldaps:// endpoint
	BaseDN         string        // root of every user search
	Timeout        time.Duration `default:"5s"` // per-operation bound (bind, search)
	ConnectTimeout time.Duration `default:"5s"` // transport connect bound

	// Service account used for the resolution session
	BindDN       string
	BindPassword string
	BindLogin    string // short login; derives BindDN as CN=<login>,CN=Users,<BaseDN>

	// TLS settings
	StartTLS           bool
	InsecureSkipVerify bool
	CACertFile         string

	// Schema settings
	LoginAttributes  []string `default:"[\"uid\",\"sAMAccountName\",\"cn\",\"userPrincipalName\"]"`
	SearchAttributes []string `default:"[\"uid\",\"cn\",\"mail\",\"displayName\",\"sAMAccountName\",\"userPrincipalName\"]"`
	SearchSizeLimit  int      `default:"50"`

	// Kerberos service account (GSSAPI); BindLogin is the principal.
	KerberosRealm  string
	KerberosKeytab string
	KerberosConfig string `default:"/etc/krb5.conf"`
	KerberosCCache string
	KerberosSPN    string
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		// Tags are static; a failure here is a programming error.
		panic(fmt.Sprintf("ldap: invalid config defaults: %v", err))
	}
	return cfg
}

// Mode reports the bind mode implied by the configuration.
func (c *Config) Mode() BindMode {
	switch {
	case c.KerberosRealm != "":
		return BindModeKerberos
	case c.BindDN != "" || c.BindPassword != "" || c.BindLogin != "":
		return BindModeSimple
	default:
		return BindModeAnonymous
	}
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	cp := *c
	cp.LoginAttributes = slices.Clone(c.LoginAttributes)
	cp.SearchAttributes = slices.Clone(c.SearchAttributes)
	return &cp
}

// Prepare applies defaults, derives BindDN from BindLogin and validates the
// result. Errors are always ConfigurationError.
func (c *Config) Prepare() error {
	if err := defaults.Set(c); err != nil {
		return configError("cannot apply defaults", err)
	}

	c.URL = strings.TrimSpace(c.URL)
	c.BaseDN = strings.TrimSpace(c.BaseDN)
	c.BindDN = strings.TrimSpace(c.BindDN)

	if c.KerberosRealm == "" && c.BindDN == "" && c.BindLogin != "" && c.BaseDN != "" {
		c.BindDN = fmt.Sprintf("CN=%s,CN=Users,%s", EscapeDNValue(c.BindLogin), c.BaseDN)
	}

	return c.Validate()
}

// Validate checks the configuration without modifying it.
func (c *Config) Validate() error {
	u, err := c.endpoint()
	if err != nil {
		return err
	}

	if c.BaseDN == "" {
		return configError("base DN is required", nil)
	}
	if _, err := ldap.ParseDN(c.BaseDN); err != nil {
		return configError("base DN is not a valid distinguished name", err)
	}

	if c.Timeout <= 0 {
		return configError("operation timeout must be positive", nil)
	}
	if c.ConnectTimeout <= 0 {
		return configError("connect timeout must be positive", nil)
	}

	if c.StartTLS && u.Scheme == "ldaps" {
		return configError("StartTLS cannot be combined with an ldaps:// URL", nil)
	}

	if len(c.LoginAttributes) == 0 {
		return configError("at least one login attribute is required", nil)
	}
	for _, attr := range slices.Concat(c.LoginAttributes, c.SearchAttributes) {
		if !IsAttributeName(attr) {
			return configError(fmt.Sprintf("invalid attribute name %q", attr), nil)
		}
	}
	if c.SearchSizeLimit < 0 {
		return configError("search size limit cannot be negative", nil)
	}

	switch c.Mode() {
	case BindModeSimple:
		if c.BindDN == "" {
			return configError("service account secret configured without a bind DN", nil)
		}
		if c.BindPassword == "" {
			return configError("service account bind DN configured without a secret", nil)
		}
		if _, err := ldap.ParseDN(c.BindDN); err != nil {
			return configError("bind DN is not a valid distinguished name", err)
		}
	case BindModeKerberos:
		if c.BindLogin == "" && c.KerberosCCache == "" {
			return configError("kerberos bind requires a principal (bind login) or a credential cache", nil)
		}
	}

	if c.CACertFile != "" {
		if _, err := os.Stat(c.CACertFile); err != nil {
			return configError("CA certificate file is not readable", err)
		}
	}

	return nil
}

func (c *Config) endpoint() (*url.URL, error) {
	if c.URL == "" {
		return nil, configError("directory URL is required", nil)
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return nil, configError("directory URL cannot be parsed", err)
	}
	if u.Scheme != "ldap" && u.Scheme != "ldaps" {
		return nil, configError(fmt.Sprintf("unsupported URL scheme %q", u.Scheme), nil)
	}
	if u.Hostname() == "" {
		return nil, configError("directory URL has no host", nil)
	}
	return u, nil
}

// Address returns host:port of the endpoint, filling in the scheme's default
// port.
func (c *Config) Address() (string, error) {
	u, err := c.endpoint()
	if err != nil {
		return "", err
	}
	port := u.Port()
	if port == "" {
		port = ldap.DefaultLdapPort
		if u.Scheme == "ldaps" {
			port = ldap.DefaultLdapsPort
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

// TLSConfig builds the client TLS configuration for host.
func (c *Config) TLSConfig(host string) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         host,
		InsecureSkipVerify: c.InsecureSkipVerify, //nolint:gosec // operator opt-in
	}

	if c.CACertFile != "" {
		pem, err := os.ReadFile(c.CACertFile)
		if err != nil {
			return nil, configError("cannot read CA certificate file", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, configError("CA certificate file contains no PEM certificates", nil)
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

// LogFields renders the configuration for diagnostics with secrets masked.
func (c *Config) LogFields() map[string]any {
	fields := map[string]any{
		"url":                c.URL,
		"base_dn":            c.BaseDN,
		"bind_mode":          c.Mode().String(),
		"bind_dn":            c.BindDN,
		"bind_password":      "",
		"timeout_ms":         c.Timeout.Milliseconds(),
		"connect_timeout_ms": c.ConnectTimeout.Milliseconds(),
		"start_tls":          c.StartTLS,
		"login_attributes":   strings.Join(c.LoginAttributes, ","),
	}
	if c.BindPassword != "" {
		fields["bind_password"] = "********"
	}
	if c.KerberosRealm != "" {
		fields["kerberos_realm"] = c.KerberosRealm
	}
	return fields
}

// attributeNamePattern accepts attribute descriptions (RFC 4512 descr) or
// numeric OIDs.
var attributeNamePattern = regexp.MustCompile(`^(?:[A-Za-z][A-Za-z0-9-]*|[0-9]+(?:\.[0-9]+)+)$`)

// IsAttributeName reports whether name can be used as an attribute in a
// search filter.
func IsAttributeName(name string) bool {
	return attributeNamePattern.MatchString(name)
}
