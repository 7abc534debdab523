package provider

import (
	"fmt"
	"os"
	"strings"
	"testing"
)

// Environment variables describing the directory used by acceptance tests.
const (
	EnvTestURL          = "DIRAUTH_TEST_URL"
	EnvTestBaseDN       = "DIRAUTH_TEST_BASE_DN"
	EnvTestBindDN       = "DIRAUTH_TEST_BIND_DN"
	EnvTestBindPassword = "DIRAUTH_TEST_BIND_PASSWORD"
	EnvTestUser         = "DIRAUTH_TEST_USER"
	EnvTestUserPassword = "DIRAUTH_TEST_USER_PASSWORD"
	EnvTestSkipVerify   = "DIRAUTH_TEST_SKIP_TLS_VERIFY"

	DefaultTestBaseDN = "DC=example,DC=com"
)

// TestConfig holds the acceptance test directory settings.
type TestConfig struct {
	URL          string
	BaseDN       string
	BindDN       string
	BindPassword string
	User         string
	UserPassword string
	SkipVerify   bool
}

// GetTestConfig returns the test configuration from environment variables.
func GetTestConfig() *TestConfig {
	return &TestConfig{
		URL:          os.Getenv(EnvTestURL),
		BaseDN:       getEnvWithDefault(EnvTestBaseDN, DefaultTestBaseDN),
		BindDN:       os.Getenv(EnvTestBindDN),
		BindPassword: os.Getenv(EnvTestBindPassword),
		User:         os.Getenv(EnvTestUser),
		UserPassword: os.Getenv(EnvTestUserPassword),
		SkipVerify:   os.Getenv(EnvTestSkipVerify) != "",
	}
}

// IsAccTest returns true if acceptance tests should run.
func IsAccTest() bool {
	return os.Getenv("TF_ACC") != ""
}

// SkipIfNotAccTest skips the test if TF_ACC is not set.
func SkipIfNotAccTest(t *testing.T) {
	t.Helper()
	if !IsAccTest() {
		t.Skip("Skipping acceptance test - set TF_ACC=1 to run")
	}
}

// testAccPreCheckWithConfig skips unless a real directory is configured.
func testAccPreCheckWithConfig(t *testing.T) *TestConfig {
	t.Helper()
	SkipIfNotAccTest(t)

	config := GetTestConfig()
	if config.URL == "" {
		t.Skipf("Skipping test: %s must be set to a real directory", EnvTestURL)
	}
	if (config.BindDN == "") != (config.BindPassword == "") {
		t.Skipf("Skipping test: set both or neither of %s and %s", EnvTestBindDN, EnvTestBindPassword)
	}
	return config
}

// testAccPreCheckUser additionally requires a known user.
func testAccPreCheckUser(t *testing.T) *TestConfig {
	t.Helper()
	config := testAccPreCheckWithConfig(t)
	if config.User == "" || config.UserPassword == "" {
		t.Skipf("Skipping test: %s and %s must be set", EnvTestUser, EnvTestUserPassword)
	}
	return config
}

// testProviderConfig renders the provider block for the test directory.
func testProviderConfig() string {
	config := GetTestConfig()

	var b strings.Builder
	b.WriteString("provider \"dirauth\" {\n")
	fmt.Fprintf(&b, "  url     = %q\n", config.URL)
	fmt.Fprintf(&b, "  base_dn = %q\n", config.BaseDN)
	if config.BindDN != "" {
		fmt.Fprintf(&b, "  bind_dn       = %q\n", config.BindDN)
		fmt.Fprintf(&b, "  bind_password = %q\n", config.BindPassword)
	}
	if config.SkipVerify {
		b.WriteString("  skip_tls_verify = true\n")
	}
	b.WriteString("}\n")
	return b.String()
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
