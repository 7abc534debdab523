package provider_test

import (
	"context"
	"errors"
	"math/big"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-framework/attr"
	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/tfsdk"
	"github.com/hashicorp/terraform-plugin-go/tftypes"
	"github.com/stretchr/testify/require"

	ldapclient "github.com/isometry/terraform-provider-dirauth/internal/ldap"
	"github.com/isometry/terraform-provider-dirauth/internal/provider"
)

const (
	stubBaseDN     = "dc=example,dc=com"
	stubServiceDN  = "cn=svc,dc=example,dc=com"
	stubServicePwd = "svc-secret"
	stubURL        = "ldap://directory.example.com"
)

type stubUser struct {
	dn       string
	login    string
	password string
	attrs    map[string][]string
}

// stubDirectory answers exactly the searches the authenticator issues.
type stubDirectory struct {
	mu    sync.Mutex
	users []stubUser
	down  bool
	dials int
}

func newStubDirectory() *stubDirectory {
	return &stubDirectory{
		users: []stubUser{
			{
				dn:       "uid=alice,ou=people,dc=example,dc=com",
				login:    "alice",
				password: "alice-pw",
				attrs: map[string][]string{
					"uid":         {"alice"},
					"cn":          {"Alice Liddell"},
					"displayName": {"Alice L."},
					"mail":        {"alice@example.com"},
					"memberOf":    {"cn=staff,ou=groups,dc=example,dc=com", "cn=admins,ou=groups,dc=example,dc=com"},
				},
			},
			{
				dn:       "uid=alan,ou=people,dc=example,dc=com",
				login:    "alan",
				password: "alan-pw",
				attrs: map[string][]string{
					"uid": {"alan"},
					"cn":  {"Alan Turing"},
				},
			},
			{dn: "uid=dup,ou=east,dc=example,dc=com", login: "dup", password: "dup-pw", attrs: map[string][]string{"uid": {"dup"}}},
			{dn: "uid=dup,ou=west,dc=example,dc=com", login: "dup", password: "dup-pw", attrs: map[string][]string{"uid": {"dup"}}},
		},
	}
}

func (d *stubDirectory) setDown(down bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.down = down
}

func (d *stubDirectory) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *stubDirectory) Dial(ctx context.Context, cfg *ldapclient.Config) (ldapclient.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.down {
		return nil, ldap.NewError(ldap.ErrorNetwork, errors.New("dial tcp 192.0.2.1:389: connect: connection refused"))
	}
	return &stubConn{dir: d}, nil
}

type stubConn struct {
	dir *stubDirectory
}

func (c *stubConn) Bind(username, password string) error {
	if strings.EqualFold(username, stubServiceDN) && password == stubServicePwd {
		return nil
	}
	for _, u := range c.dir.users {
		if strings.EqualFold(username, u.dn) && password == u.password {
			return nil
		}
	}
	return ldap.NewError(ldap.LDAPResultInvalidCredentials,
		errors.New("80090308: LdapErr: DSID-0C09044E, comment: AcceptSecurityContext error, data 52e, v4563"))
}

func (c *stubConn) GSSAPIBind(client ldap.GSSAPIClient, servicePrincipal, authzid string) error {
	return ldap.NewError(ldap.LDAPResultAuthMethodNotSupported, errors.New("GSSAPI not supported"))
}

func (c *stubConn) SetTimeout(time.Duration) {}

func (c *stubConn) Close() error {
	return nil
}

// substringAssertion captures the value of a (attr=*value*) assertion.
var substringAssertion = regexp.MustCompile(`=\*([^*()]+)\*\)`)

func (c *stubConn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	result := &ldap.SearchResult{}

	if req.Scope == ldap.ScopeBaseObject {
		switch {
		case req.BaseDN == "":
			result.Entries = append(result.Entries, ldap.NewEntry("", map[string][]string{"namingContexts": {stubBaseDN}}))
		case strings.EqualFold(req.BaseDN, stubBaseDN):
			result.Entries = append(result.Entries, ldap.NewEntry(stubBaseDN, map[string][]string{"objectClass": {"domain"}}))
		default:
			for _, u := range c.dir.users {
				if strings.EqualFold(req.BaseDN, u.dn) {
					result.Entries = append(result.Entries, ldap.NewEntry(u.dn, u.attrs))
				}
			}
			if len(result.Entries) == 0 {
				return nil, ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("0000208D: NameErr: DSID-03100288, problem 2001 (NO_OBJECT)"))
			}
		}
		return result, nil
	}

	filter := strings.ToLower(req.Filter)
	var queries []string
	for _, m := range substringAssertion.FindAllStringSubmatch(filter, -1) {
		queries = append(queries, m[1])
	}

	for _, u := range c.dir.users {
		matched := strings.Contains(filter, "="+u.login+")")
		for _, q := range queries {
			matched = matched || strings.Contains(u.login, q)
		}
		if !matched {
			continue
		}
		if req.SizeLimit > 0 && len(result.Entries) == req.SizeLimit {
			return result, ldap.NewError(ldap.LDAPResultSizeLimitExceeded, errors.New("size limit exceeded"))
		}
		result.Entries = append(result.Entries, ldap.NewEntry(u.dn, u.attrs))
	}
	return result, nil
}

// newProviderData builds provider data backed by dir.
func newProviderData(t *testing.T, dir *stubDirectory) *provider.ProviderData {
	t.Helper()

	cfg := ldapclient.DefaultConfig()
	cfg.URL = stubURL
	cfg.BaseDN = stubBaseDN
	cfg.BindDN = stubServiceDN
	cfg.BindPassword = stubServicePwd
	cfg.Timeout = time.Second
	cfg.ConnectTimeout = time.Second

	auth, err := ldapclient.NewAuthenticator(cfg, ldapclient.WithDialer(dir))
	require.NoError(t, err)

	return &provider.ProviderData{Authenticator: auth, Version: "test"}
}

// objectValue builds a config object of typ, leaving every attribute not in
// values null.
func objectValue(t *testing.T, typ attr.Type, values map[string]tftypes.Value) tftypes.Value {
	t.Helper()

	objType, ok := typ.TerraformType(t.Context()).(tftypes.Object)
	require.True(t, ok, "schema type is not an object")

	vals := make(map[string]tftypes.Value, len(objType.AttributeTypes))
	for name, at := range objType.AttributeTypes {
		if v, ok := values[name]; ok {
			vals[name] = v
			continue
		}
		vals[name] = tftypes.NewValue(at, nil)
	}
	return tftypes.NewValue(objType, vals)
}

func tfString(s string) tftypes.Value {
	return tftypes.NewValue(tftypes.String, s)
}

func tfBool(b bool) tftypes.Value {
	return tftypes.NewValue(tftypes.Bool, b)
}

func tfNumber(n int64) tftypes.Value {
	return tftypes.NewValue(tftypes.Number, new(big.Float).SetInt64(n))
}

func tfStringList(values ...string) tftypes.Value {
	elems := make([]tftypes.Value, 0, len(values))
	for _, v := range values {
		elems = append(elems, tfString(v))
	}
	return tftypes.NewValue(tftypes.List{ElementType: tftypes.String}, elems)
}

// readDataSource configures ds with data and runs Read with the given
// configuration values.
func readDataSource(t *testing.T, ds datasource.DataSource, data *provider.ProviderData, values map[string]tftypes.Value) *datasource.ReadResponse {
	t.Helper()
	ctx := t.Context()

	if data != nil {
		configureResp := &datasource.ConfigureResponse{}
		ds.(datasource.DataSourceWithConfigure).Configure(ctx, datasource.ConfigureRequest{ProviderData: data}, configureResp)
		require.False(t, configureResp.Diagnostics.HasError(), "configure: %v", configureResp.Diagnostics)
	}

	schemaResp := &datasource.SchemaResponse{}
	ds.Schema(ctx, datasource.SchemaRequest{}, schemaResp)
	require.False(t, schemaResp.Diagnostics.HasError())

	req := datasource.ReadRequest{
		Config: tfsdk.Config{
			Schema: schemaResp.Schema,
			Raw:    objectValue(t, schemaResp.Schema.Type(), values),
		},
	}
	resp := &datasource.ReadResponse{
		State: tfsdk.State{
			Schema: schemaResp.Schema,
			Raw:    tftypes.NewValue(schemaResp.Schema.Type().TerraformType(ctx), nil),
		},
	}

	ds.Read(ctx, req, resp)
	return resp
}
