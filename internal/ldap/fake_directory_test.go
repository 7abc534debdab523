package ldap

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
)

const (
	testBaseDN     = "dc=example,dc=com"
	testServiceDN  = "cn=svc,ou=system,dc=example,dc=com"
	testServicePwd = "svc-secret"
)

type fakeEntry struct {
	dn       string
	password string
	attrs    map[string][]string
}

// fakeDirectory is an in-memory directory implementing Dialer and Reacher.
type fakeDirectory struct {
	mu      sync.Mutex
	entries []*fakeEntry

	serviceDN  string
	servicePwd string

	bindDelay   time.Duration
	searchDelay time.Duration
	dialErr     error
	reachErr    error
	searchErr   error
	bindErr     error // returned for every non-service bind

	conns    []*fakeConn
	binds    []string
	searches []*ldap.SearchRequest
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		serviceDN:  testServiceDN,
		servicePwd: testServicePwd,
	}
}

func (d *fakeDirectory) add(dn, password string, attrs map[string][]string) *fakeDirectory {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, &fakeEntry{dn: dn, password: password, attrs: attrs})
	return d
}

func (d *fakeDirectory) remove(dn string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, e := range d.entries {
		if strings.EqualFold(e.dn, dn) {
			d.entries = append(d.entries[:i], d.entries[i+1:]...)
			return
		}
	}
}

func (d *fakeDirectory) Dial(_ context.Context, _ *Config) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	c := &fakeConn{dir: d, closedCh: make(chan struct{})}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDirectory) Reach(_ context.Context, _ *Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.reachErr != nil {
		return d.reachErr
	}
	return d.dialErr
}

func (d *fakeDirectory) openConns() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.conns {
		if !c.isClosed() {
			n++
		}
	}
	return n
}

func (d *fakeDirectory) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDirectory) boundDNs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.binds...)
}

func (d *fakeDirectory) lastSearch() *ldap.SearchRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.searches) == 0 {
		return nil
	}
	return d.searches[len(d.searches)-1]
}

type fakeConn struct {
	dir      *fakeDirectory
	mu       sync.Mutex
	closed   bool
	closedCh chan struct{}
	boundDN  string
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) wait(delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-c.closedCh:
		return ldap.NewError(ldap.ErrorNetwork, errors.New("ldap: connection closed"))
	}
}

func (c *fakeConn) Bind(username, password string) error {
	if c.isClosed() {
		return ldap.NewError(ldap.ErrorNetwork, errors.New("ldap: connection closed"))
	}
	d := c.dir
	d.mu.Lock()
	d.binds = append(d.binds, username)
	delay, forced := d.bindDelay, d.bindErr
	d.mu.Unlock()

	if err := c.wait(delay); err != nil {
		return err
	}

	if username == d.serviceDN && password == d.servicePwd {
		c.setBound(username)
		return nil
	}
	if forced != nil {
		return forced
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.entries {
		if strings.EqualFold(e.dn, username) && e.password != "" && e.password == password {
			return nil
		}
	}
	return ldap.NewError(ldap.LDAPResultInvalidCredentials,
		errors.New("80090308: LdapErr: DSID-0C09044E, comment: AcceptSecurityContext error, data 52e, v4563"))
}

func (c *fakeConn) setBound(dn string) {
	c.mu.Lock()
	c.boundDN = dn
	c.mu.Unlock()
}

// GSSAPIBind rejects real clients. A *fakeGSSAPIClient is used before and
// after waiting out bindDelay, as go-ldap does across its token exchange.
func (c *fakeConn) GSSAPIBind(client ldap.GSSAPIClient, _, _ string) error {
	fc, ok := client.(*fakeGSSAPIClient)
	if !ok {
		return ldap.NewError(ldap.LDAPResultAuthMethodNotSupported, errors.New("GSSAPI not supported"))
	}

	d := c.dir
	d.mu.Lock()
	delay := d.bindDelay
	d.mu.Unlock()

	fc.use()
	err := c.wait(delay)
	fc.use()
	if err != nil {
		return err
	}
	c.setBound("gssapi")
	return nil
}

// fakeGSSAPIClient records use of the security context after deletion.
type fakeGSSAPIClient struct {
	mu              sync.Mutex
	deleted         bool
	usedAfterDelete bool
}

func (c *fakeGSSAPIClient) use() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleted {
		c.usedAfterDelete = true
	}
}

func (c *fakeGSSAPIClient) state() (deleted, usedAfterDelete bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleted, c.usedAfterDelete
}

func (c *fakeGSSAPIClient) InitSecContext(string, []byte) ([]byte, bool, error) {
	c.use()
	return nil, false, nil
}

func (c *fakeGSSAPIClient) InitSecContextWithOptions(string, []byte, []int) ([]byte, bool, error) {
	c.use()
	return nil, false, nil
}

func (c *fakeGSSAPIClient) NegotiateSaslAuth([]byte, string) ([]byte, error) {
	c.use()
	return nil, nil
}

func (c *fakeGSSAPIClient) DeleteSecContext() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = true
	return nil
}

func (c *fakeConn) SetTimeout(time.Duration) {}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.closedCh)
	}
	return nil
}

func (c *fakeConn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	if c.isClosed() {
		return nil, ldap.NewError(ldap.ErrorNetwork, errors.New("ldap: connection closed"))
	}
	d := c.dir
	d.mu.Lock()
	d.searches = append(d.searches, req)
	delay, forced := d.searchDelay, d.searchErr
	d.mu.Unlock()

	if err := c.wait(delay); err != nil {
		return nil, err
	}
	if forced != nil {
		return nil, forced
	}

	f, err := parseFakeFilter(req.Filter)
	if err != nil {
		return nil, ldap.NewError(ldap.LDAPResultFilterError, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	result := &ldap.SearchResult{}

	if req.BaseDN == "" && req.Scope == ldap.ScopeBaseObject {
		result.Entries = append(result.Entries, ldap.NewEntry("", map[string][]string{
			"namingContexts": {testBaseDN},
		}))
		return result, nil
	}

	var matched []*fakeEntry
	baseFound := strings.EqualFold(req.BaseDN, testBaseDN)
	for _, e := range d.entries {
		if strings.EqualFold(e.dn, req.BaseDN) {
			baseFound = true
		}
		if !inScope(e.dn, req.BaseDN, req.Scope) {
			continue
		}
		if f.match(e) {
			matched = append(matched, e)
		}
	}

	if req.Scope == ldap.ScopeBaseObject && strings.EqualFold(req.BaseDN, testBaseDN) && len(matched) == 0 {
		matched = append(matched, &fakeEntry{dn: testBaseDN, attrs: map[string][]string{"objectClass": {"domain"}}})
	}
	if !baseFound {
		return nil, ldap.NewError(ldap.LDAPResultNoSuchObject, fmt.Errorf("no such object %q", req.BaseDN))
	}

	var limitErr error
	if req.SizeLimit > 0 && len(matched) > req.SizeLimit {
		matched = matched[:req.SizeLimit]
		limitErr = ldap.NewError(ldap.LDAPResultSizeLimitExceeded, errors.New("size limit exceeded"))
	}

	for _, e := range matched {
		result.Entries = append(result.Entries, ldap.NewEntry(e.dn, selectAttrs(e.attrs, req.Attributes)))
	}
	return result, limitErr
}

func inScope(dn, base string, scope int) bool {
	dn, base = strings.ToLower(dn), strings.ToLower(base)
	switch scope {
	case ldap.ScopeBaseObject:
		return dn == base
	case ldap.ScopeSingleLevel:
		i := strings.Index(dn, ",")
		return i > 0 && dn[i+1:] == base
	default:
		return dn == base || strings.HasSuffix(dn, ","+base)
	}
}

func selectAttrs(attrs map[string][]string, requested []string) map[string][]string {
	out := map[string][]string{}
	for _, r := range requested {
		if r == noAttributes {
			continue
		}
		for name, values := range attrs {
			if strings.EqualFold(name, r) {
				out[name] = values
			}
		}
	}
	return out
}

// fakeFilter supports the subset of RFC 4515 produced by this package: AND,
// OR, equality, presence and substring assertions.
type fakeFilter struct {
	op       byte // '&', '|' or '='
	children []*fakeFilter
	attr     string
	segments []string // value split on unescaped '*'
}

func parseFakeFilter(s string) (*fakeFilter, error) {
	f, rest, err := parseFakeFilterAt(s)
	if err != nil {
		return nil, err
	}
	if rest != "" {
		return nil, fmt.Errorf("trailing data %q", rest)
	}
	return f, nil
}

func parseFakeFilterAt(s string) (*fakeFilter, string, error) {
	if !strings.HasPrefix(s, "(") {
		return nil, "", fmt.Errorf("expected '(' in %q", s)
	}
	s = s[1:]
	if s != "" && (s[0] == '&' || s[0] == '|') {
		f := &fakeFilter{op: s[0]}
		s = s[1:]
		for strings.HasPrefix(s, "(") {
			child, rest, err := parseFakeFilterAt(s)
			if err != nil {
				return nil, "", err
			}
			f.children = append(f.children, child)
			s = rest
		}
		if !strings.HasPrefix(s, ")") {
			return nil, "", fmt.Errorf("unterminated set")
		}
		return f, s[1:], nil
	}

	end := strings.IndexByte(s, ')')
	if end < 0 {
		return nil, "", fmt.Errorf("unterminated item")
	}
	item := s[:end]
	if strings.ContainsAny(item, "(") {
		return nil, "", fmt.Errorf("unescaped '(' in %q", item)
	}
	eq := strings.IndexByte(item, '=')
	if eq <= 0 {
		return nil, "", fmt.Errorf("no attribute in %q", item)
	}

	f := &fakeFilter{op: '=', attr: item[:eq]}
	for _, raw := range strings.Split(item[eq+1:], "*") {
		v, err := unescapeFilterValue(raw)
		if err != nil {
			return nil, "", err
		}
		f.segments = append(f.segments, v)
	}
	return f, s[end+1:], nil
}

func unescapeFilterValue(s string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		if i+2 >= len(s) {
			return "", fmt.Errorf("short escape in %q", s)
		}
		n, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte(n))
		i += 2
	}
	return b.String(), nil
}

func (f *fakeFilter) match(e *fakeEntry) bool {
	switch f.op {
	case '&':
		for _, c := range f.children {
			if !c.match(e) {
				return false
			}
		}
		return true
	case '|':
		for _, c := range f.children {
			if c.match(e) {
				return true
			}
		}
		return false
	}

	if strings.EqualFold(f.attr, "objectClass") && len(f.segments) == 2 && f.segments[0] == "" && f.segments[1] == "" {
		return true
	}

	for name, values := range e.attrs {
		if !strings.EqualFold(name, f.attr) {
			continue
		}
		for _, v := range values {
			if f.matchValue(v) {
				return true
			}
		}
	}
	return false
}

func (f *fakeFilter) matchValue(v string) bool {
	v = strings.ToLower(v)
	if len(f.segments) == 1 {
		return v == strings.ToLower(f.segments[0])
	}
	first, last := strings.ToLower(f.segments[0]), strings.ToLower(f.segments[len(f.segments)-1])
	if !strings.HasPrefix(v, first) {
		return false
	}
	v = v[len(first):]
	for _, mid := range f.segments[1 : len(f.segments)-1] {
		mid = strings.ToLower(mid)
		i := strings.Index(v, mid)
		if i < 0 {
			return false
		}
		v = v[i+len(mid):]
	}
	return strings.HasSuffix(v, last)
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.URL = "ldap://directory.example.com"
	cfg.BaseDN = testBaseDN
	cfg.BindDN = testServiceDN
	cfg.BindPassword = testServicePwd
	cfg.Timeout = 500 * time.Millisecond
	cfg.ConnectTimeout = 500 * time.Millisecond
	return cfg
}

// seededDirectory holds alice and bob in ou=people plus two entries sharing
// cn "dup".
func seededDirectory() *fakeDirectory {
	return newFakeDirectory().
		add("uid=alice,ou=people,dc=example,dc=com", "alice-pw", map[string][]string{
			"objectClass": {"inetOrgPerson"},
			"uid":         {"alice"},
			"cn":          {"Alice Liddell"},
			"displayName": {"Alice L."},
			"mail":        {"alice@example.com"},
			"memberOf":    {"cn=staff,ou=groups,dc=example,dc=com", "cn=admins,ou=groups,dc=example,dc=com", "cn=staff,ou=groups,dc=example,dc=com"},
		}).
		add("cn=Bob Builder,cn=Users,dc=example,dc=com", "bob-pw", map[string][]string{
			"objectClass":       {"user"},
			"sAMAccountName":    {"bob"},
			"userPrincipalName": {"bob@example.com"},
			"cn":                {"Bob Builder"},
		}).
		add("uid=dup1,ou=people,dc=example,dc=com", "dup-pw", map[string][]string{
			"uid": {"dup1"},
			"cn":  {"dup"},
		}).
		add("uid=dup2,ou=people,dc=example,dc=com", "dup-pw", map[string][]string{
			"uid": {"dup2"},
			"cn":  {"dup"},
		})
}
