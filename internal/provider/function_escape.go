package provider

import (
	"context"

	"github.com/hashicorp/terraform-plugin-framework/function"

	ldapclient "github.com/isometry/terraform-provider-dirauth/internal/ldap"
)

var _ function.Function = &EscapeFunction{}

// EscapeFunction exposes one of the directory escaping routines as a
// provider function taking and returning a string.
type EscapeFunction struct {
	name        string
	summary     string
	description string
	escape      func(string) string
}

func NewEscapeFilterFunction() function.Function {
	return &EscapeFunction{
		name:    "escape_filter",
		summary: "Escape a value for use in an LDAP search filter",
		description: "Escapes `*`, `(`, `)`, `\\`, NUL and non-ASCII bytes as `\\xx` hex pairs (RFC 4515), " +
			"so the value is matched literally inside a filter assertion.",
		escape: ldapclient.EscapeFilterValue,
	}
}

func NewEscapeDNValueFunction() function.Function {
	return &EscapeFunction{
		name:    "escape_dn_value",
		summary: "Escape a value for use as an RDN value in a Distinguished Name",
		description: "Escapes `,`, `+`, `\"`, `\\`, `<`, `>`, `;`, NUL, a leading `#` or space and a trailing space " +
			"(RFC 4514), so the value can be embedded in a DN such as `CN=<value>,CN=Users,DC=example,DC=com`.",
		escape: ldapclient.EscapeDNValue,
	}
}

// Metadata returns the function name.
func (f *EscapeFunction) Metadata(_ context.Context, req function.MetadataRequest, resp *function.MetadataResponse) {
	resp.Name = f.name
}

// Definition returns the function signature.
func (f *EscapeFunction) Definition(_ context.Context, req function.DefinitionRequest, resp *function.DefinitionResponse) {
	resp.Definition = function.Definition{
		Summary:             f.summary,
		Description:         f.description,
		MarkdownDescription: f.description,
		Parameters: []function.Parameter{
			function.StringParameter{
				Name:                "value",
				Description:         "Raw value to escape.",
				MarkdownDescription: "Raw value to escape.",
			},
		},
		Return: function.StringReturn{},
	}
}

// Run escapes the argument.
func (f *EscapeFunction) Run(ctx context.Context, req function.RunRequest, resp *function.RunResponse) {
	var value string

	resp.Error = function.ConcatFuncErrors(resp.Error, req.Arguments.Get(ctx, &value))
	if resp.Error != nil {
		return
	}

	resp.Error = function.ConcatFuncErrors(resp.Error, resp.Result.Set(ctx, f.escape(value)))
}
