package ldap

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
)

// kerberosBind authenticates the service session with GSSAPI. Every failure
// to obtain credentials is a ConfigurationError; bind failures are returned
// as-is for the caller to translate. The session owns the client once the
// bind starts.
func kerberosBind(ctx context.Context, s *Session, cfg *Config) error {
	client, err := newGSSAPIClient(ctx, cfg)
	if err != nil {
		LogKerberosEvent(ctx, "credentials_failed", map[string]any{
			"realm": cfg.KerberosRealm,
			"error": err.Error(),
		})
		return configError("kerberos credentials unavailable", err)
	}

	spn, err := servicePrincipal(cfg)
	if err != nil {
		_ = client.DeleteSecContext()
		return configError("cannot determine kerberos service principal", err)
	}

	if err := s.GSSAPIBind(ctx, client, spn); err != nil {
		LogKerberosEvent(ctx, "bind_failed", map[string]any{"spn": spn})
		return err
	}
	return nil
}

// newGSSAPIClient picks credentials in order: credential cache, keytab,
// password.
func newGSSAPIClient(ctx context.Context, cfg *Config) (ldap.GSSAPIClient, error) {
	krb5conf := cfg.KerberosConfig
	if krb5conf == "" {
		krb5conf = "/etc/krb5.conf"
	}
	if !fileExists(krb5conf) {
		return nil, fmt.Errorf("kerberos configuration file %s not found", krb5conf)
	}

	principal, realm := splitPrincipal(cfg.BindLogin, cfg.KerberosRealm)
	disableFAST := krb5client.DisablePAFXFAST(true)

	for _, ccache := range []string{cfg.KerberosCCache, defaultCCachePath()} {
		if fileExists(ccache) {
			LogKerberosEvent(ctx, "credentials_loaded", map[string]any{"source": "ccache", "path": ccache})
			return gssapi.NewClientFromCCache(ccache, krb5conf, disableFAST)
		}
	}

	if principal != "" {
		for _, keytab := range []string{cfg.KerberosKeytab, defaultKeytabPath()} {
			if fileExists(keytab) {
				LogKerberosEvent(ctx, "credentials_loaded", map[string]any{"source": "keytab", "path": keytab, "principal": principal})
				return gssapi.NewClientWithKeytab(principal, realm, keytab, krb5conf, disableFAST)
			}
		}
	}

	if principal != "" && cfg.BindPassword != "" {
		LogKerberosEvent(ctx, "credentials_loaded", map[string]any{"source": "password", "principal": principal})
		return gssapi.NewClientWithPassword(principal, realm, cfg.BindPassword, krb5conf, disableFAST)
	}

	return nil, fmt.Errorf("no credential cache, keytab or password available for principal %q", principal)
}

// splitPrincipal separates "user@REALM"; an explicit realm wins.
func splitPrincipal(login, realm string) (string, string) {
	if i := strings.LastIndex(login, "@"); i > 0 {
		if realm == "" {
			realm = login[i+1:]
		}
		login = login[:i]
	}
	return login, strings.ToUpper(realm)
}

// servicePrincipal returns the configured SPN or ldap/<host>.
func servicePrincipal(cfg *Config) (string, error) {
	if cfg.KerberosSPN != "" {
		return cfg.KerberosSPN, nil
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return "", err
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("no host in %q", cfg.URL)
	}
	return "ldap/" + host, nil
}

func defaultCCachePath() string {
	if ccache := os.Getenv("KRB5CCNAME"); ccache != "" {
		return strings.TrimPrefix(ccache, "FILE:")
	}
	return fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
}

func defaultKeytabPath() string {
	if keytab := os.Getenv("KRB5_KTNAME"); keytab != "" {
		return strings.TrimPrefix(keytab, "FILE:")
	}
	return "/etc/krb5.keytab"
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}
