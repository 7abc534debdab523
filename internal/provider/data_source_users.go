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
var _ datasource.DataSource = &UsersDataSource{}
var _ datasource.DataSourceWithConfigure = &UsersDataSource{}

func NewUsersDataSource() datasource.DataSource {
	return &UsersDataSource{}
}

// UsersDataSource lists users whose searchable attributes contain a query.
type UsersDataSource struct {
	auth *ldapclient.Authenticator
}

// UsersDataSourceModel describes the data source data model.
type UsersDataSourceModel struct {
	ID        types.String       `tfsdk:"id"`
	Query     types.String       `tfsdk:"query"`
	UserCount types.Int64        `tfsdk:"user_count"`
	Users     []UserProfileModel `tfsdk:"users"`
}

func (d *UsersDataSource) Metadata(ctx context.Context, req datasource.MetadataRequest, resp *datasource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_users"
}

func (d *UsersDataSource) Schema(ctx context.Context, req datasource.SchemaRequest, resp *datasource.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "Searches for users whose `search_attributes` contain the query as a substring. " +
			"At most `search_size_limit` users are returned; a truncated result is not an error.",

		Attributes: map[string]schema.Attribute{
			"id": schema.StringAttribute{
				MarkdownDescription: "The query.",
				Computed:            true,
			},
			"query": schema.StringAttribute{
				MarkdownDescription: "Text to search for. Filter metacharacters such as `*` are matched literally.",
				Required:            true,
				Validators: []validator.String{
					stringvalidator.LengthAtLeast(1),
				},
			},
			"user_count": schema.Int64Attribute{
				MarkdownDescription: "Number of users returned.",
				Computed:            true,
			},
			"users": schema.ListNestedAttribute{
				MarkdownDescription: "Matching users. Entries without a username attribute are omitted.",
				Computed:            true,
				NestedObject: schema.NestedAttributeObject{
					Attributes: userProfileSchemaAttributes(),
				},
			},
		},
	}
}

func (d *UsersDataSource) Configure(ctx context.Context, req datasource.ConfigureRequest, resp *datasource.ConfigureResponse) {
	if data := providerDataFrom(req.ProviderData, "Data Source", &resp.Diagnostics); data != nil {
		d.auth = data.Authenticator
	}
}

func (d *UsersDataSource) Read(ctx context.Context, req datasource.ReadRequest, resp *datasource.ReadResponse) {
	ctx = initializeLogging(ctx)

	var data UsersDataSourceModel

	resp.Diagnostics.Append(req.Config.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	logCompletion := ldapclient.LogDataSourceOperation(ctx, "dirauth_users", "read", map[string]any{
		"query": data.Query.ValueString(),
	})
	defer func() {
		logCompletion(firstError(resp.Diagnostics))
	}()

	if d.auth == nil {
		resp.Diagnostics.AddError("Provider Not Configured", "The dirauth provider must be configured before searching users.")
		return
	}

	users, err := d.auth.Search(ctx, data.Query.ValueString())
	if err != nil {
		addDirectoryError(ctx, &resp.Diagnostics, "search", err)
		return
	}

	tflog.Debug(ctx, "Search completed", map[string]any{
		"query":    data.Query.ValueString(),
		"returned": len(users),
	})

	data.ID = data.Query
	data.UserCount = types.Int64Value(int64(len(users)))
	data.Users = make([]UserProfileModel, 0, len(users))
	for _, user := range users {
		data.Users = append(data.Users, newUserProfileModel(ctx, user, &resp.Diagnostics))
	}

	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}
