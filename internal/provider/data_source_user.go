package provider

import (
	"context"

	"github.com/hashicorp/terraform-plugin-framework-validators/stringvalidator"
	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/datasource/schema"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/terraform-provider-dirauth/internal/ldap"
)

// Ensure provider defined types fully satisfy framework interfaces.
var _ datasource.DataSource = &UserDataSource{}
var _ datasource.DataSourceWithConfigure = &UserDataSource{}

func NewUserDataSource() datasource.DataSource {
	return &UserDataSource{}
}

// UserDataSource reads the profile of one user without checking a password.
type UserDataSource struct {
	auth *ldapclient.Authenticator
}

// UserDataSourceModel describes the data source data model.
type UserDataSourceModel struct {
	ID    types.String `tfsdk:"id"`
	Login types.String `tfsdk:"login"`

	DN          types.String `tfsdk:"dn"`
	Username    types.String `tfsdk:"username"`
	DisplayName types.String `tfsdk:"display_name"`
	Email       types.String `tfsdk:"email"`
	Groups      types.List   `tfsdk:"groups"`
	ObjectSID   types.String `tfsdk:"object_sid"`
	ObjectGUID  types.String `tfsdk:"object_guid"`
	Disabled    types.Bool   `tfsdk:"disabled"`
}

func (d *UserDataSource) Metadata(ctx context.Context, req datasource.MetadataRequest, resp *datasource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_user"
}

func (d *UserDataSource) Schema(ctx context.Context, req datasource.SchemaRequest, resp *datasource.SchemaResponse) {
	attrs := userProfileSchemaAttributes()
	attrs["id"] = schema.StringAttribute{
		MarkdownDescription: "The Distinguished Name of the user.",
		Computed:            true,
	}
	attrs["login"] = schema.StringAttribute{
		MarkdownDescription: "Login name to resolve. Matched exactly, case-insensitively, against each of the " +
			"provider's `login_attributes`; wildcards are not expanded.",
		Required: true,
		Validators: []validator.String{
			stringvalidator.LengthAtLeast(1),
		},
	}

	resp.Schema = schema.Schema{
		MarkdownDescription: "Resolves a login name to exactly one directory entry and returns its profile. " +
			"Reading fails when no entry or more than one entry matches.",
		Attributes: attrs,
	}
}

func (d *UserDataSource) Configure(ctx context.Context, req datasource.ConfigureRequest, resp *datasource.ConfigureResponse) {
	if data := providerDataFrom(req.ProviderData, "Data Source", &resp.Diagnostics); data != nil {
		d.auth = data.Authenticator
	}
}

func (d *UserDataSource) Read(ctx context.Context, req datasource.ReadRequest, resp *datasource.ReadResponse) {
	ctx = initializeLogging(ctx)

	var data UserDataSourceModel

	resp.Diagnostics.Append(req.Config.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	logCompletion := ldapclient.LogDataSourceOperation(ctx, "dirauth_user", "read", map[string]any{
		"login": data.Login.ValueString(),
	})
	defer func() {
		logCompletion(firstError(resp.Diagnostics))
	}()

	if d.auth == nil {
		resp.Diagnostics.AddError("Provider Not Configured", "The dirauth provider must be configured before reading users.")
		return
	}

	user, err := d.auth.Lookup(ctx, data.Login.ValueString())
	if err != nil {
		addDirectoryError(ctx, &resp.Diagnostics, "lookup", err)
		return
	}

	tflog.Debug(ctx, "Resolved user", map[string]any{
		"login":  data.Login.ValueString(),
		"dn":     user.DN,
		"groups": len(user.Groups),
	})

	profile := newUserProfileModel(ctx, user, &resp.Diagnostics)
	data.ID = types.StringValue(user.DN)
	data.DN = profile.DN
	data.Username = profile.Username
	data.DisplayName = profile.DisplayName
	data.Email = profile.Email
	data.Groups = profile.Groups
	data.ObjectSID = profile.ObjectSID
	data.ObjectGUID = profile.ObjectGUID
	data.Disabled = profile.Disabled

	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}
