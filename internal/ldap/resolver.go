package ldap

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// resolveSizeLimit is the smallest limit that still tells one match from many.
const resolveSizeLimit = 2

// noAttributes requests no attributes at all, only DNs (RFC 4511 4.5.1.8).
const noAttributes = "1.1"

// Resolver turns a login token into exactly one DN.
type Resolver struct {
	baseDN     string
	loginAttrs []string
}

// NewResolver builds a resolver searching baseDN with an OR over loginAttrs.
func NewResolver(baseDN string, loginAttrs []string) *Resolver {
	return &Resolver{
		baseDN:     baseDN,
		loginAttrs: slices.Clone(loginAttrs),
	}
}

// Filter returns the search filter for login.
func (r *Resolver) Filter(login string) string {
	return EqualityFilter(r.loginAttrs, login)
}

// SearchRequest returns the subtree search issued for login.
func (r *Resolver) SearchRequest(login string) *ldap.SearchRequest {
	return ldap.NewSearchRequest(
		r.baseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		resolveSizeLimit,
		0,
		false,
		r.Filter(login),
		[]string{noAttributes},
		nil,
	)
}

// Resolve searches for login on s. Zero matches is NotFound, more than one is
// AmbiguousMatch; the resolver never picks among several candidates.
func (r *Resolver) Resolve(ctx context.Context, s *Session, login string) (string, error) {
	if strings.TrimSpace(login) == "" {
		return "", newError("resolve", KindNotFound, "empty login", nil)
	}

	req := r.SearchRequest(login)
	tflog.SubsystemDebug(ctx, subsystemLDAP, "Resolving login", map[string]any{
		"base_dn": r.baseDN,
		"filter":  req.Filter,
	})

	result, err := s.Search(ctx, req)
	if err != nil {
		// More entries than the size limit: ambiguous by definition.
		if ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded) && result != nil && len(result.Entries) > 0 {
			return "", r.ambiguous(len(result.Entries))
		}
		return "", Translate("resolve", err)
	}

	switch len(result.Entries) {
	case 0:
		return "", newError("resolve", KindNotFound, "", nil)
	case 1:
		dn := result.Entries[0].DN
		if dn == "" {
			return "", newError("resolve", KindServiceError, "directory returned an entry without a DN", nil)
		}
		return dn, nil
	default:
		return "", r.ambiguous(len(result.Entries))
	}
}

func (r *Resolver) ambiguous(n int) *Error {
	return newError("resolve", KindAmbiguousMatch, "", fmt.Errorf("search matched %d entries", n))
}
