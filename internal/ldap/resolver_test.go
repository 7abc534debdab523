package ldap

import (
	"context"
	"errors"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSession(t *testing.T, dir *fakeDirectory) *Session {
	t.Helper()
	s, err := OpenSession(context.Background(), testConfig(), dir, "test")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func TestResolver_SearchRequest(t *testing.T) {
	r := NewResolver(testBaseDN, []string{"uid", "mail"})
	req := r.SearchRequest("alice")

	assert.Equal(t, testBaseDN, req.BaseDN)
	assert.Equal(t, ldap.ScopeWholeSubtree, req.Scope)
	assert.Equal(t, ldap.NeverDerefAliases, req.DerefAliases)
	assert.Equal(t, 2, req.SizeLimit)
	assert.Equal(t, "(|(uid=alice)(mail=alice))", req.Filter)
	assert.Equal(t, []string{"1.1"}, req.Attributes)
}

func TestResolver_Resolve(t *testing.T) {
	tests := []struct {
		name     string
		login    string
		wantDN   string
		wantKind ErrorKind
	}{
		{"uid match", "alice", "uid=alice,ou=people,dc=example,dc=com", 0},
		{"case insensitive", "ALICE", "uid=alice,ou=people,dc=example,dc=com", 0},
		{"sAMAccountName match", "bob", "cn=Bob Builder,cn=Users,dc=example,dc=com", 0},
		{"upn match", "bob@example.com", "cn=Bob Builder,cn=Users,dc=example,dc=com", 0},
		{"unknown", "carol", "", KindNotFound},
		{"empty", "", "", KindNotFound},
		{"whitespace", "   ", "", KindNotFound},
		{"ambiguous cn", "dup", "", KindAmbiguousMatch},
		{"wildcard is literal", "*", "", KindNotFound},
		{"injection is literal", "*)(uid=*", "", KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openTestSession(t, seededDirectory())
			r := NewResolver(testBaseDN, DefaultConfig().LoginAttributes)

			dn, err := r.Resolve(context.Background(), s, tt.login)
			if tt.wantDN != "" {
				require.NoError(t, err)
				assert.Equal(t, tt.wantDN, dn)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, KindOf(err))
			assert.Empty(t, dn)
		})
	}
}

func TestResolver_AmbiguousOnSizeLimit(t *testing.T) {
	dir := seededDirectory().add("uid=dup3,ou=people,dc=example,dc=com", "dup-pw", map[string][]string{
		"uid": {"dup3"},
		"cn":  {"dup"},
	})
	s := openTestSession(t, dir)

	_, err := NewResolver(testBaseDN, []string{"cn"}).Resolve(context.Background(), s, "dup")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAmbiguousMatch)
}

func TestResolver_SearchFailures(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind ErrorKind
	}{
		{"unwilling", ldap.NewError(ldap.LDAPResultUnwillingToPerform, errors.New("no")), KindServiceError},
		{"server down", ldap.NewError(ldap.LDAPResultServerDown, errors.New("down")), KindConnectionRefused},
		{"bad base", ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("no such object")), KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := seededDirectory()
			dir.searchErr = tt.err
			s := openTestSession(t, dir)

			_, err := NewResolver(testBaseDN, []string{"uid"}).Resolve(context.Background(), s, "alice")
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, KindOf(err))

			var e *Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, "resolve", e.Op)
		})
	}
}

func TestResolver_DoesNotShareLoginAttributes(t *testing.T) {
	attrs := []string{"uid"}
	r := NewResolver(testBaseDN, attrs)
	attrs[0] = "mail"

	assert.Equal(t, "(uid=x)", r.Filter("x"))
}
