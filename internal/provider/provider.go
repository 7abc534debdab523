package provider

import (
	"context"
	"regexp"
	"time"

	"github.com/hashicorp/terraform-plugin-framework-validators/int64validator"
	"github.com/hashicorp/terraform-plugin-framework-validators/listvalidator"
	"github.com/hashicorp/terraform-plugin-framework-validators/providervalidator"
	"github.com/hashicorp/terraform-plugin-framework-validators/stringvalidator"
	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-framework/ephemeral"
	"github.com/hashicorp/terraform-plugin-framework/function"
	"github.com/hashicorp/terraform-plugin-framework/path"
	"github.com/hashicorp/terraform-plugin-framework/provider"
	"github.com/hashicorp/terraform-plugin-framework/provider/schema"
	"github.com/hashicorp/terraform-plugin-framework/resource"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/terraform-provider-dirauth/internal/ldap"
	"github.com/isometry/terraform-provider-dirauth/internal/provider/validators"
)

// Ensure DirAuthProvider satisfies various provider interfaces.
var _ provider.Provider = &DirAuthProvider{}
var _ provider.ProviderWithFunctions = &DirAuthProvider{}
var _ provider.ProviderWithEphemeralResources = &DirAuthProvider{}
var _ provider.ProviderWithConfigValidators = &DirAuthProvider{}

// DirAuthProvider defines the provider implementation.
type DirAuthProvider struct {
	// version is set to the provider version on release, "dev" when the
	// provider is built and ran locally, and "test" when running acceptance
	// testing.
	version string

	// authOptions are passed to every Authenticator built by Configure.
	authOptions []ldapclient.Option
	lookupEnv   ldapclient.LookupFunc
}

// DirAuthProviderModel describes the provider data model.
type DirAuthProviderModel struct {
	// Connection settings
	URL              types.String `tfsdk:"url"`
	BaseDN           types.String `tfsdk:"base_dn"`
	TimeoutMS        types.Int64  `tfsdk:"timeout_ms"`
	ConnectTimeoutMS types.Int64  `tfsdk:"connect_timeout_ms"`

	// Service account
	BindDN       types.String `tfsdk:"bind_dn"`
	BindPassword types.String `tfsdk:"bind_password"`
	BindLogin    types.String `tfsdk:"bind_login"`

	// TLS settings
	StartTLS      types.Bool   `tfsdk:"start_tls"`
	SkipTLSVerify types.Bool   `tfsdk:"skip_tls_verify"`
	CACertFile    types.String `tfsdk:"ca_cert_file"`

	// Lookup settings
	LoginAttributes  types.List  `tfsdk:"login_attributes"`
	SearchAttributes types.List  `tfsdk:"search_attributes"`
	SearchSizeLimit  types.Int64 `tfsdk:"search_size_limit"`

	// Kerberos settings (optional)
	KerberosRealm  types.String `tfsdk:"kerberos_realm"`
	KerberosKeytab types.String `tfsdk:"kerberos_keytab"`
	KerberosConfig types.String `tfsdk:"kerberos_config"`
	KerberosCCache types.String `tfsdk:"kerberos_ccache"`
	KerberosSPN    types.String `tfsdk:"kerberos_spn"`
}

// Option customizes the provider returned by New.
type Option func(*DirAuthProvider)

// WithAuthenticatorOptions passes opts to the directory authenticator.
func WithAuthenticatorOptions(opts ...ldapclient.Option) Option {
	return func(p *DirAuthProvider) {
		p.authOptions = append(p.authOptions, opts...)
	}
}

// WithEnvLookup replaces os.LookupEnv for environment fallbacks.
func WithEnvLookup(lookup ldapclient.LookupFunc) Option {
	return func(p *DirAuthProvider) {
		p.lookupEnv = lookup
	}
}

func (p *DirAuthProvider) Metadata(ctx context.Context, req provider.MetadataRequest, resp *provider.MetadataResponse) {
	resp.TypeName = "dirauth"
	resp.Version = p.version
}

func (p *DirAuthProvider) Schema(ctx context.Context, req provider.SchemaRequest, resp *provider.SchemaResponse) {
	attributeNames := listvalidator.ValueStringsAre(validators.IsAttributeName())

	resp.Schema = schema.Schema{
		MarkdownDescription: "The dirauth provider verifies user credentials and reads user profiles from an LDAP " +
			"directory such as Active Directory or OpenLDAP. It never writes to the directory.",
		Attributes: map[string]schema.Attribute{
			// Connection settings
			"url": schema.StringAttribute{
				MarkdownDescription: "Directory URL (e.g., `ldaps://dc1.example.com:636`). " +
					"Can be set via the `DIRAUTH_URL` or `LDAP_URL` environment variable.",
				Optional: true,
				Validators: []validator.String{
					stringvalidator.RegexMatches(regexp.MustCompile(`^(?i)ldaps?://`), "must be an ldap:// or ldaps:// URL"),
				},
			},
			"base_dn": schema.StringAttribute{
				MarkdownDescription: "Base DN under which users are searched (e.g., `dc=example,dc=com`). " +
					"Can be set via the `DIRAUTH_BASE_DN` or `LDAP_BASE_DN` environment variable.",
				Optional: true,
				Validators: []validator.String{
					validators.IsValidDN(),
				},
			},
			"timeout_ms": schema.Int64Attribute{
				MarkdownDescription: "Timeout in milliseconds for each directory operation (default: 5000). " +
					"Also bounds connection establishment unless `connect_timeout_ms` is set. " +
					"Can be set via the `DIRAUTH_TIMEOUT_MS` or `LDAP_TIMEOUT` environment variable.",
				Optional: true,
				Validators: []validator.Int64{
					int64validator.AtLeast(1),
				},
			},
			"connect_timeout_ms": schema.Int64Attribute{
				MarkdownDescription: "Connection timeout in milliseconds. " +
					"Can be set via the `DIRAUTH_CONNECT_TIMEOUT_MS` environment variable.",
				Optional: true,
				Validators: []validator.Int64{
					int64validator.AtLeast(1),
				},
			},

			// Service account
			"bind_dn": schema.StringAttribute{
				MarkdownDescription: "DN of the service account used to resolve logins. Leave unset, together with " +
					"`bind_password`, for anonymous resolution. " +
					"Can be set via the `DIRAUTH_BIND_DN` or `LDAP_ADMIN_DN` environment variable.",
				Optional: true,
				Validators: []validator.String{
					validators.IsValidDN(),
				},
			},
			"bind_password": schema.StringAttribute{
				MarkdownDescription: "Password of the service account. " +
					"Can be set via the `DIRAUTH_BIND_PASSWORD`, `LDAP_ADMIN_PASSWORD` or `LDAP_PASSWORD` environment variable.",
				Optional:  true,
				Sensitive: true,
			},
			"bind_login": schema.StringAttribute{
				MarkdownDescription: "Short login of the service account. When `bind_dn` is unset the DN " +
					"`CN=<login>,CN=Users,<base_dn>` is derived from it. Also names the principal for Kerberos binds. " +
					"Can be set via the `DIRAUTH_BIND_LOGIN` or `LDAP_LOGIN` environment variable.",
				Optional: true,
				Validators: []validator.String{
					stringvalidator.LengthAtLeast(1),
				},
			},

			// TLS settings
			"start_tls": schema.BoolAttribute{
				MarkdownDescription: "Upgrade an `ldap://` connection with StartTLS (default: false). " +
					"Can be set via the `DIRAUTH_START_TLS` environment variable.",
				Optional: true,
			},
			"skip_tls_verify": schema.BoolAttribute{
				MarkdownDescription: "Skip TLS certificate verification (default: false). Not recommended for production. " +
					"Can be set via the `DIRAUTH_SKIP_TLS_VERIFY` environment variable.",
				Optional: true,
			},
			"ca_cert_file": schema.StringAttribute{
				MarkdownDescription: "Path to a PEM file of CA certificates trusted for TLS. " +
					"Can be set via the `DIRAUTH_CA_CERT_FILE` environment variable.",
				Optional: true,
			},

			// Lookup settings
			"login_attributes": schema.ListAttribute{
				MarkdownDescription: "Attributes a login name may match, in order (default: `uid`, `sAMAccountName`, " +
					"`cn`, `userPrincipalName`). " +
					"Can be set as a comma separated list via the `DIRAUTH_LOGIN_ATTRIBUTES` environment variable.",
				ElementType: types.StringType,
				Optional:    true,
				Validators: []validator.List{
					listvalidator.SizeAtLeast(1),
					attributeNames,
				},
			},
			"search_attributes": schema.ListAttribute{
				MarkdownDescription: "Attributes matched by `dirauth_users` queries (default: `uid`, `cn`, `mail`, " +
					"`displayName`, `sAMAccountName`, `userPrincipalName`). " +
					"Can be set as a comma separated list via the `DIRAUTH_SEARCH_ATTRIBUTES` environment variable.",
				ElementType: types.StringType,
				Optional:    true,
				Validators: []validator.List{
					listvalidator.SizeAtLeast(1),
					attributeNames,
				},
			},
			"search_size_limit": schema.Int64Attribute{
				MarkdownDescription: "Maximum number of users returned by `dirauth_users`; 0 leaves the limit to the server " +
					"(default: 50). Can be set via the `DIRAUTH_SEARCH_SIZE_LIMIT` environment variable.",
				Optional: true,
				Validators: []validator.Int64{
					int64validator.AtLeast(0),
				},
			},

			// Kerberos settings
			"kerberos_realm": schema.StringAttribute{
				MarkdownDescription: "Kerberos realm for a GSSAPI service bind (e.g., `EXAMPLE.COM`). " +
					"Can be set via the `DIRAUTH_KERBEROS_REALM` environment variable.",
				Optional: true,
				Validators: []validator.String{
					stringvalidator.LengthAtLeast(1),
				},
			},
			"kerberos_keytab": schema.StringAttribute{
				MarkdownDescription: "Path to a keytab holding the service principal's key. " +
					"Can be set via the `DIRAUTH_KERBEROS_KEYTAB` environment variable.",
				Optional: true,
			},
			"kerberos_config": schema.StringAttribute{
				MarkdownDescription: "Path to krb5.conf (default: `/etc/krb5.conf`). " +
					"Can be set via the `DIRAUTH_KERBEROS_CONFIG` or `KRB5_CONFIG` environment variable.",
				Optional: true,
			},
			"kerberos_ccache": schema.StringAttribute{
				MarkdownDescription: "Path to a Kerberos credential cache. " +
					"Can be set via the `DIRAUTH_KERBEROS_CCACHE` environment variable.",
				Optional: true,
			},
			"kerberos_spn": schema.StringAttribute{
				MarkdownDescription: "Service principal of the directory (default: `ldap/<host>`). " +
					"Can be set via the `DIRAUTH_KERBEROS_SPN` environment variable.",
				Optional: true,
			},
		},
	}
}

func (p *DirAuthProvider) ConfigValidators(ctx context.Context) []provider.ConfigValidator {
	return []provider.ConfigValidator{
		// An explicit DN and a login to derive one from are mutually exclusive
		providervalidator.Conflicting(
			path.MatchRoot("bind_dn"),
			path.MatchRoot("bind_login"),
		),
	}
}

func (p *DirAuthProvider) Configure(ctx context.Context, req provider.ConfigureRequest, resp *provider.ConfigureResponse) {
	var data DirAuthProviderModel

	resp.Diagnostics.Append(req.Config.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	ctx = p.configureLogging(ctx)

	tflog.Info(ctx, "Configuring directory authentication provider", map[string]any{
		"version": p.version,
	})

	config := p.buildLDAPConfig(ctx, &data, &resp.Diagnostics)
	if resp.Diagnostics.HasError() {
		return
	}

	// The directory is not contacted here; dirauth_health reports reachability.
	start := time.Now()
	auth, err := ldapclient.NewAuthenticator(config, p.authOptions...)
	if err != nil {
		tflog.Error(ctx, "Invalid directory configuration", map[string]any{
			"error":       err.Error(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		resp.Diagnostics.AddError(
			"Invalid Directory Configuration",
			"The provider configuration cannot be used to contact the directory. "+
				"Please verify your configuration settings and environment variables.\n\n"+
				"Configuration Error: "+err.Error(),
		)
		return
	}

	tflog.Info(ctx, "Directory authentication provider configured", ldapclient.SanitizeFields(auth.Config().LogFields()))

	providerData := &ProviderData{
		Authenticator: auth,
		Version:       p.version,
	}

	resp.DataSourceData = providerData
	resp.EphemeralResourceData = providerData
}

func (p *DirAuthProvider) configureLogging(ctx context.Context) context.Context {
	ctx = initializeLogging(ctx)
	ctx = tflog.SetField(ctx, "provider", "dirauth")
	ctx = tflog.SetField(ctx, "provider_version", p.version)

	tflog.Debug(ctx, "Directory authentication provider logging configured")

	return ctx
}

// buildLDAPConfig starts from the environment and overlays every attribute
// set in the provider block.
func (p *DirAuthProvider) buildLDAPConfig(ctx context.Context, data *DirAuthProviderModel, diags *diag.Diagnostics) *ldapclient.Config {
	config, err := ldapclient.LoadConfigFromEnv(p.lookupEnv)
	if err != nil {
		diags.AddError(
			"Invalid Environment Configuration",
			"A DIRAUTH_* or LDAP_* environment variable could not be parsed.\n\n"+
				"Configuration Error: "+err.Error(),
		)
		return nil
	}

	// Connection settings
	config.URL = p.getStringValue(data.URL, config.URL)
	config.BaseDN = p.getStringValue(data.BaseDN, config.BaseDN)
	if !data.TimeoutMS.IsNull() {
		config.Timeout = p.getDurationValue(data.TimeoutMS, config.Timeout)
		config.ConnectTimeout = config.Timeout
	}
	config.ConnectTimeout = p.getDurationValue(data.ConnectTimeoutMS, config.ConnectTimeout)

	// Service account
	config.BindDN = p.getStringValue(data.BindDN, config.BindDN)
	config.BindPassword = p.getStringValue(data.BindPassword, config.BindPassword)
	config.BindLogin = p.getStringValue(data.BindLogin, config.BindLogin)

	// TLS settings
	config.StartTLS = p.getBoolValue(data.StartTLS, config.StartTLS)
	config.InsecureSkipVerify = p.getBoolValue(data.SkipTLSVerify, config.InsecureSkipVerify)
	config.CACertFile = p.getStringValue(data.CACertFile, config.CACertFile)

	// Lookup settings
	config.LoginAttributes = p.getListValue(ctx, data.LoginAttributes, config.LoginAttributes, diags)
	config.SearchAttributes = p.getListValue(ctx, data.SearchAttributes, config.SearchAttributes, diags)
	config.SearchSizeLimit = int(p.getInt64Value(data.SearchSizeLimit, int64(config.SearchSizeLimit)))

	// Kerberos settings
	config.KerberosRealm = p.getStringValue(data.KerberosRealm, config.KerberosRealm)
	config.KerberosKeytab = p.getStringValue(data.KerberosKeytab, config.KerberosKeytab)
	config.KerberosConfig = p.getStringValue(data.KerberosConfig, config.KerberosConfig)
	config.KerberosCCache = p.getStringValue(data.KerberosCCache, config.KerberosCCache)
	config.KerberosSPN = p.getStringValue(data.KerberosSPN, config.KerberosSPN)

	if config.InsecureSkipVerify {
		tflog.Warn(ctx, "TLS certificate verification is disabled")
	}

	return config
}

// Helper functions for configuration value resolution. A value set in the
// provider block wins over the environment-derived fallback.

func (p *DirAuthProvider) getStringValue(configValue types.String, fallback string) string {
	if !configValue.IsNull() && !configValue.IsUnknown() && configValue.ValueString() != "" {
		return configValue.ValueString()
	}
	return fallback
}

func (p *DirAuthProvider) getBoolValue(configValue types.Bool, fallback bool) bool {
	if !configValue.IsNull() && !configValue.IsUnknown() {
		return configValue.ValueBool()
	}
	return fallback
}

func (p *DirAuthProvider) getInt64Value(configValue types.Int64, fallback int64) int64 {
	if !configValue.IsNull() && !configValue.IsUnknown() {
		return configValue.ValueInt64()
	}
	return fallback
}

func (p *DirAuthProvider) getDurationValue(configValue types.Int64, fallback time.Duration) time.Duration {
	return time.Duration(p.getInt64Value(configValue, fallback.Milliseconds())) * time.Millisecond
}

func (p *DirAuthProvider) getListValue(ctx context.Context, configValue types.List, fallback []string, diags *diag.Diagnostics) []string {
	if configValue.IsNull() || configValue.IsUnknown() {
		return fallback
	}
	var values []string
	diags.Append(configValue.ElementsAs(ctx, &values, false)...)
	if len(values) == 0 {
		return fallback
	}
	return values
}

func (p *DirAuthProvider) Resources(ctx context.Context) []func() resource.Resource {
	return []func() resource.Resource{
		// The provider is read-only
	}
}

func (p *DirAuthProvider) EphemeralResources(ctx context.Context) []func() ephemeral.EphemeralResource {
	return []func() ephemeral.EphemeralResource{
		NewAuthenticationEphemeralResource,
	}
}

func (p *DirAuthProvider) DataSources(ctx context.Context) []func() datasource.DataSource {
	return []func() datasource.DataSource{
		NewHealthDataSource,
		NewUserDataSource,
		NewUsersDataSource,
	}
}

func (p *DirAuthProvider) Functions(ctx context.Context) []func() function.Function {
	return []func() function.Function{
		NewEscapeFilterFunction,
		NewEscapeDNValueFunction,
	}
}

func New(version string, opts ...Option) func() provider.Provider {
	return func() provider.Provider {
		p := &DirAuthProvider{
			version: version,
		}
		for _, opt := range opts {
			opt(p)
		}
		return p
	}
}
