package provider

import (
	"context"

	"github.com/hashicorp/terraform-plugin-framework/attr"
	"github.com/hashicorp/terraform-plugin-framework/datasource/schema"
	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-framework/types"

	ldapclient "github.com/isometry/terraform-provider-dirauth/internal/ldap"
)

// UserProfileModel is the directory profile shared by the user, users and
// authentication schemas.
type UserProfileModel struct {
	DN          types.String `tfsdk:"dn"`
	Username    types.String `tfsdk:"username"`
	DisplayName types.String `tfsdk:"display_name"`
	Email       types.String `tfsdk:"email"`
	Groups      types.List   `tfsdk:"groups"`
	ObjectSID   types.String `tfsdk:"object_sid"`
	ObjectGUID  types.String `tfsdk:"object_guid"`
	Disabled    types.Bool   `tfsdk:"disabled"`
}

var userProfileAttrTypes = map[string]attr.Type{
	"dn":           types.StringType,
	"username":     types.StringType,
	"display_name": types.StringType,
	"email":        types.StringType,
	"groups":       types.ListType{ElemType: types.StringType},
	"object_sid":   types.StringType,
	"object_guid":  types.StringType,
	"disabled":     types.BoolType,
}

var userProfileDescriptions = map[string]string{
	"dn":           "Distinguished Name of the user entry.",
	"username":     "Canonical login: the first of `uid`, `sAMAccountName`, `userPrincipalName` or `cn` present on the entry.",
	"display_name": "Display name, from `displayName` or `cn`.",
	"email":        "Email address, from `mail`.",
	"groups":       "Group DNs from `memberOf`, in directory order.",
	"object_sid":   "Security Identifier in `S-1-...` form (Active Directory only).",
	"object_guid":  "Object GUID in canonical form (Active Directory only).",
	"disabled":     "Whether the ACCOUNTDISABLE bit of `userAccountControl` is set (Active Directory only).",
}

// userProfileSchemaAttributes returns the computed profile attributes for a
// data source schema.
func userProfileSchemaAttributes() map[string]schema.Attribute {
	attrs := make(map[string]schema.Attribute, len(userProfileAttrTypes))
	for name, typ := range userProfileAttrTypes {
		desc := userProfileDescriptions[name]
		switch typ {
		case types.BoolType:
			attrs[name] = schema.BoolAttribute{MarkdownDescription: desc, Computed: true}
		case types.StringType:
			attrs[name] = schema.StringAttribute{MarkdownDescription: desc, Computed: true}
		default:
			attrs[name] = schema.ListAttribute{MarkdownDescription: desc, Computed: true, ElementType: types.StringType}
		}
	}
	return attrs
}

// newUserProfileModel converts a directory profile. Absent string values
// become null; groups are always a list.
func newUserProfileModel(ctx context.Context, user *ldapclient.User, diags *diag.Diagnostics) UserProfileModel {
	groups, d := types.ListValueFrom(ctx, types.StringType, nonNil(user.Groups))
	diags.Append(d...)

	return UserProfileModel{
		DN:          types.StringValue(user.DN),
		Username:    stringOrNull(user.Username),
		DisplayName: stringOrNull(user.DisplayName),
		Email:       stringOrNull(user.Email),
		Groups:      groups,
		ObjectSID:   stringOrNull(user.ObjectSID),
		ObjectGUID:  stringOrNull(user.ObjectGUID),
		Disabled:    types.BoolValue(user.Disabled),
	}
}

// userProfileObject wraps a profile for a single nested attribute. A nil
// user yields a null object.
func userProfileObject(ctx context.Context, user *ldapclient.User, diags *diag.Diagnostics) types.Object {
	if user == nil {
		return types.ObjectNull(userProfileAttrTypes)
	}
	obj, d := types.ObjectValueFrom(ctx, userProfileAttrTypes, newUserProfileModel(ctx, user, diags))
	diags.Append(d...)
	return obj
}

func stringOrNull(s string) types.String {
	if s == "" {
		return types.StringNull()
	}
	return types.StringValue(s)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
