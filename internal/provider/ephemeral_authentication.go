package provider

import (
	"context"

	"github.com/hashicorp/terraform-plugin-framework/ephemeral"
	"github.com/hashicorp/terraform-plugin-framework/ephemeral/schema"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/terraform-provider-dirauth/internal/ldap"
)

// Ensure provider defined types fully satisfy framework interfaces.
var _ ephemeral.EphemeralResource = &AuthenticationEphemeralResource{}
var _ ephemeral.EphemeralResourceWithConfigure = &AuthenticationEphemeralResource{}

func NewAuthenticationEphemeralResource() ephemeral.EphemeralResource {
	return &AuthenticationEphemeralResource{}
}

// AuthenticationEphemeralResource checks a username and password. Being
// ephemeral, neither the credentials nor the outcome are written to state.
type AuthenticationEphemeralResource struct {
	auth *ldapclient.Authenticator
}

// AuthenticationEphemeralResourceModel describes the ephemeral resource data model.
type AuthenticationEphemeralResourceModel struct {
	Username     types.String `tfsdk:"username"`
	Password     types.String `tfsdk:"password"`
	FailOnReject types.Bool   `tfsdk:"fail_on_reject"`

	Authenticated types.Bool   `tfsdk:"authenticated"`
	Status        types.String `tfsdk:"status"`
	Reason        types.String `tfsdk:"reason"`
	ErrorKind     types.String `tfsdk:"error_kind"`
	AttemptID     types.String `tfsdk:"attempt_id"`
	User          types.Object `tfsdk:"user"`
}

func (r *AuthenticationEphemeralResource) Metadata(ctx context.Context, req ephemeral.MetadataRequest, resp *ephemeral.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_authentication"
}

func (r *AuthenticationEphemeralResource) Schema(ctx context.Context, req ephemeral.SchemaRequest, resp *ephemeral.SchemaResponse) {
	userAttrs := make(map[string]schema.Attribute, len(userProfileAttrTypes))
	for name, typ := range userProfileAttrTypes {
		desc := userProfileDescriptions[name]
		switch typ {
		case types.BoolType:
			userAttrs[name] = schema.BoolAttribute{MarkdownDescription: desc, Computed: true}
		case types.StringType:
			userAttrs[name] = schema.StringAttribute{MarkdownDescription: desc, Computed: true}
		default:
			userAttrs[name] = schema.ListAttribute{MarkdownDescription: desc, Computed: true, ElementType: types.StringType}
		}
	}

	resp.Schema = schema.Schema{
		MarkdownDescription: "Verifies a username and password against the directory. The login is resolved to " +
			"exactly one entry with the service account, then the password is checked with a bind as that entry. " +
			"A wrong password, an unknown login or an ambiguous login yields `status = \"rejected\"`; " +
			"directory failures are reported as errors.",

		Attributes: map[string]schema.Attribute{
			"username": schema.StringAttribute{
				MarkdownDescription: "Login name to authenticate. An empty or unknown login is rejected.",
				Required:            true,
			},
			"password": schema.StringAttribute{
				MarkdownDescription: "Password to verify. An empty password is always rejected.",
				Required:            true,
				Sensitive:           true,
			},
			"fail_on_reject": schema.BoolAttribute{
				MarkdownDescription: "Raise an error instead of returning a rejected outcome (default: false).",
				Optional:            true,
			},
			"authenticated": schema.BoolAttribute{
				MarkdownDescription: "Whether the credentials were accepted.",
				Computed:            true,
			},
			"status": schema.StringAttribute{
				MarkdownDescription: "`authenticated` or `rejected`.",
				Computed:            true,
			},
			"reason": schema.StringAttribute{
				MarkdownDescription: "Why the credentials were rejected. Never reveals directory internals.",
				Computed:            true,
			},
			"error_kind": schema.StringAttribute{
				MarkdownDescription: "Rejection category: `invalid_credentials`, `not_found` or `ambiguous_match`.",
				Computed:            true,
			},
			"attempt_id": schema.StringAttribute{
				MarkdownDescription: "Identifier of this attempt, also present on every provider log line it produced.",
				Computed:            true,
			},
			"user": schema.SingleNestedAttribute{
				MarkdownDescription: "Profile of the authenticated user; null unless `authenticated` is true.",
				Computed:            true,
				Attributes:          userAttrs,
			},
		},
	}
}

func (r *AuthenticationEphemeralResource) Configure(ctx context.Context, req ephemeral.ConfigureRequest, resp *ephemeral.ConfigureResponse) {
	if data := providerDataFrom(req.ProviderData, "Ephemeral Resource", &resp.Diagnostics); data != nil {
		r.auth = data.Authenticator
	}
}

func (r *AuthenticationEphemeralResource) Open(ctx context.Context, req ephemeral.OpenRequest, resp *ephemeral.OpenResponse) {
	ctx = initializeLogging(ctx)

	var data AuthenticationEphemeralResourceModel

	resp.Diagnostics.Append(req.Config.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	logCompletion := ldapclient.LogEphemeralResourceOperation(ctx, "dirauth_authentication", "open", map[string]any{
		"username": data.Username.ValueString(),
	})
	defer func() {
		logCompletion(firstError(resp.Diagnostics))
	}()

	if r.auth == nil {
		resp.Diagnostics.AddError("Provider Not Configured", "The dirauth provider must be configured before authenticating users.")
		return
	}

	outcome := r.auth.Authenticate(ctx, data.Username.ValueString(), data.Password.ValueString())

	tflog.Info(ctx, "Authentication attempt completed", map[string]any{
		"username":   data.Username.ValueString(),
		"status":     outcome.Status.String(),
		"attempt_id": outcome.AttemptID,
	})

	switch outcome.Status {
	case ldapclient.StatusServiceUnavailable:
		addDirectoryError(ctx, &resp.Diagnostics, "authenticate", outcome.Err)
		return
	case ldapclient.StatusRejected:
		if data.FailOnReject.ValueBool() {
			resp.Diagnostics.AddError(
				"Authentication Rejected",
				"The directory rejected the credentials for "+data.Username.ValueString()+": "+outcome.Reason()+
					"\n\nAttempt ID: "+outcome.AttemptID,
			)
			return
		}
	}

	r.mapOutcomeToModel(ctx, outcome, &data, resp)

	resp.Diagnostics.Append(resp.Result.Set(ctx, &data)...)
}

// mapOutcomeToModel maps an authenticated or rejected outcome to the model.
func (r *AuthenticationEphemeralResource) mapOutcomeToModel(ctx context.Context, outcome *ldapclient.Outcome, data *AuthenticationEphemeralResourceModel, resp *ephemeral.OpenResponse) {
	data.Authenticated = types.BoolValue(outcome.Status == ldapclient.StatusAuthenticated)
	data.Status = types.StringValue(outcome.Status.String())
	data.AttemptID = types.StringValue(outcome.AttemptID)
	data.Reason = stringOrNull(outcome.Reason())
	data.ErrorKind = types.StringNull()
	if outcome.Err != nil {
		data.ErrorKind = types.StringValue(outcome.Err.Kind.String())
	}
	data.User = userProfileObject(ctx, outcome.User, &resp.Diagnostics)
}
