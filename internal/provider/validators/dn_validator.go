package validators

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"

	ldapclient "github.com/isometry/terraform-provider-dirauth/internal/ldap"
)

var _ validator.String = syntaxValidator{}

// syntaxValidator rejects strings that check refuses.
type syntaxValidator struct {
	description string
	summary     string
	check       func(string) error
}

func (v syntaxValidator) Description(_ context.Context) string {
	return v.description
}

func (v syntaxValidator) MarkdownDescription(ctx context.Context) string {
	return v.Description(ctx)
}

func (v syntaxValidator) ValidateString(ctx context.Context, request validator.StringRequest, response *validator.StringResponse) {
	if request.ConfigValue.IsNull() || request.ConfigValue.IsUnknown() {
		return
	}

	value := request.ConfigValue.ValueString()
	if err := v.check(value); err != nil {
		response.Diagnostics.AddAttributeError(
			request.Path,
			v.summary,
			fmt.Sprintf("The value %q %s: %s", value, v.description, err.Error()),
		)
	}
}

// IsValidDN returns a validator which ensures that any configured value
// parses as an RFC 4514 Distinguished Name. Null and unknown values are
// skipped.
func IsValidDN() validator.String {
	return syntaxValidator{
		description: "must be a valid Distinguished Name",
		summary:     "Invalid Distinguished Name",
		check: func(s string) error {
			if s == "" {
				return errors.New("DN cannot be empty")
			}
			dn, err := ldap.ParseDN(s)
			if err != nil {
				return err
			}
			if len(dn.RDNs) == 0 {
				return errors.New("DN has no components")
			}
			return nil
		},
	}
}

// IsAttributeName returns a validator which ensures that any configured
// value is an LDAP attribute description or numeric OID.
func IsAttributeName() validator.String {
	return syntaxValidator{
		description: "must be an LDAP attribute name",
		summary:     "Invalid Attribute Name",
		check: func(s string) error {
			if !ldapclient.IsAttributeName(s) {
				return errors.New("expected letters, digits and hyphens starting with a letter, or a dotted OID")
			}
			return nil
		},
	}
}
