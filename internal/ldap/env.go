package ldap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variables read by LoadConfigFromEnv, in lookup order. The
// LDAP_* names are accepted for deployments configured before the DIRAUTH_*
// names existed.
var (
	EnvURL              = []string{"DIRAUTH_URL", "LDAP_URL"}
	EnvBaseDN           = []string{"DIRAUTH_BASE_DN", "LDAP_BASE_DN"}
	EnvBindDN           = []string{"DIRAUTH_BIND_DN", "LDAP_ADMIN_DN"}
	EnvBindPassword     = []string{"DIRAUTH_BIND_PASSWORD", "LDAP_ADMIN_PASSWORD", "LDAP_PASSWORD"}
	EnvBindLogin        = []string{"DIRAUTH_BIND_LOGIN", "LDAP_LOGIN"}
	EnvTimeoutMS        = []string{"DIRAUTH_TIMEOUT_MS", "LDAP_TIMEOUT"}
	EnvConnectTimeoutMS = []string{"DIRAUTH_CONNECT_TIMEOUT_MS"}
	EnvStartTLS         = []string{"DIRAUTH_START_TLS"}
	EnvSkipTLSVerify    = []string{"DIRAUTH_SKIP_TLS_VERIFY"}
	EnvCACertFile       = []string{"DIRAUTH_CA_CERT_FILE"}
	EnvLoginAttributes  = []string{"DIRAUTH_LOGIN_ATTRIBUTES"}
	EnvKerberosRealm    = []string{"DIRAUTH_KERBEROS_REALM"}
	EnvKerberosKeytab   = []string{"DIRAUTH_KERBEROS_KEYTAB"}
	EnvKerberosConfig   = []string{"DIRAUTH_KERBEROS_CONFIG", "KRB5_CONFIG"}
	EnvKerberosCCache   = []string{"DIRAUTH_KERBEROS_CCACHE"}
	EnvKerberosSPN      = []string{"DIRAUTH_KERBEROS_SPN"}
	EnvSearchSizeLimit  = []string{"DIRAUTH_SEARCH_SIZE_LIMIT"}
	EnvSearchAttributes = []string{"DIRAUTH_SEARCH_ATTRIBUTES"}
)

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LookupEnv returns the first non-empty value among keys.
func LookupEnv(lookup LookupFunc, keys []string) (string, bool) {
	for _, key := range keys {
		if v, ok := lookup(key); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// LoadConfigFromEnv builds a Config from the process environment. A nil lookup
// uses os.LookupEnv. The result has defaults applied but is not validated.
func LoadConfigFromEnv(lookup LookupFunc) (*Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	cfg := DefaultConfig()

	str := func(dst *string, keys []string) {
		if v, ok := LookupEnv(lookup, keys); ok {
			*dst = v
		}
	}
	str(&cfg.URL, EnvURL)
	str(&cfg.BaseDN, EnvBaseDN)
	str(&cfg.BindDN, EnvBindDN)
	str(&cfg.BindPassword, EnvBindPassword)
	str(&cfg.BindLogin, EnvBindLogin)
	str(&cfg.CACertFile, EnvCACertFile)
	str(&cfg.KerberosRealm, EnvKerberosRealm)
	str(&cfg.KerberosKeytab, EnvKerberosKeytab)
	str(&cfg.KerberosConfig, EnvKerberosConfig)
	str(&cfg.KerberosCCache, EnvKerberosCCache)
	str(&cfg.KerberosSPN, EnvKerberosSPN)

	if v, ok := LookupEnv(lookup, EnvTimeoutMS); ok {
		d, err := ParseMilliseconds(v)
		if err != nil {
			return nil, configError(fmt.Sprintf("invalid %s", EnvTimeoutMS[0]), err)
		}
		cfg.Timeout = d
		cfg.ConnectTimeout = d
	}
	if v, ok := LookupEnv(lookup, EnvConnectTimeoutMS); ok {
		d, err := ParseMilliseconds(v)
		if err != nil {
			return nil, configError(fmt.Sprintf("invalid %s", EnvConnectTimeoutMS[0]), err)
		}
		cfg.ConnectTimeout = d
	}

	for _, b := range []struct {
		dst  *bool
		keys []string
	}{
		{&cfg.StartTLS, EnvStartTLS},
		{&cfg.InsecureSkipVerify, EnvSkipTLSVerify},
	} {
		if v, ok := LookupEnv(lookup, b.keys); ok {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				return nil, configError(fmt.Sprintf("invalid %s", b.keys[0]), err)
			}
			*b.dst = parsed
		}
	}

	if v, ok := LookupEnv(lookup, EnvSearchSizeLimit); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, configError(fmt.Sprintf("invalid %s", EnvSearchSizeLimit[0]), err)
		}
		cfg.SearchSizeLimit = n
	}
	if v, ok := LookupEnv(lookup, EnvLoginAttributes); ok {
		cfg.LoginAttributes = SplitList(v)
	}
	if v, ok := LookupEnv(lookup, EnvSearchAttributes); ok {
		cfg.SearchAttributes = SplitList(v)
	}

	return cfg, nil
}

// ParseMilliseconds parses a non-negative integer millisecond count.
func ParseMilliseconds(s string) (time.Duration, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative duration %d", n)
	}
	return time.Duration(n) * time.Millisecond, nil
}

// SplitList splits a comma separated list, dropping empty items.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
