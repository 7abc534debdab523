package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/terraform-provider-dirauth/internal/ldap"
)

// ProviderData is shared by every data source and ephemeral resource of one
// configured provider instance.
type ProviderData struct {
	Authenticator *ldap.Authenticator
	Version       string
}

// providerDataFrom unpacks the value passed to Configure. A nil value means
// the provider has not been configured yet and is not an error.
func providerDataFrom(raw any, kind string, diags *diag.Diagnostics) *ProviderData {
	if raw == nil {
		return nil
	}

	data, ok := raw.(*ProviderData)
	if !ok || data.Authenticator == nil {
		diags.AddError(
			fmt.Sprintf("Unexpected %s Configure Type", kind),
			fmt.Sprintf("Expected *provider.ProviderData, got: %T. Please report this issue to the provider developers.", raw),
		)
		return nil
	}
	return data
}

// addDirectoryError reports err with the summary matching its kind. Only the
// caller-safe message reaches the diagnostic; the authenticator has already
// logged the full detail.
func addDirectoryError(ctx context.Context, diags *diag.Diagnostics, op string, err error) {
	tflog.Debug(ctx, "Directory operation failed", map[string]any{
		"operation":  op,
		"error_kind": ldap.KindOf(err).String(),
	})

	summary := "Directory Error"
	switch ldap.KindOf(err) {
	case ldap.KindNotFound:
		summary = "Directory Entry Not Found"
	case ldap.KindAmbiguousMatch:
		summary = "Ambiguous Directory Entry"
	case ldap.KindTimeout, ldap.KindConnectionRefused:
		summary = "Directory Unavailable"
	case ldap.KindConfigurationError:
		summary = "Directory Misconfigured"
	}

	detail := err.Error()
	var e *ldap.Error
	if errors.As(err, &e) && e.Retryable() {
		detail += "\n\nThe condition is transient; retrying later may succeed."
	}
	diags.AddError(summary, detail)
}
