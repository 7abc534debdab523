package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/datasource/schema"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/terraform-provider-dirauth/internal/ldap"
)

// Ensure provider defined types fully satisfy framework interfaces.
var _ datasource.DataSource = &HealthDataSource{}
var _ datasource.DataSourceWithConfigure = &HealthDataSource{}

func NewHealthDataSource() datasource.DataSource {
	return &HealthDataSource{}
}

// HealthDataSource runs the read-only directory probe.
type HealthDataSource struct {
	auth *ldapclient.Authenticator
}

// HealthDataSourceModel describes the data source data model.
type HealthDataSourceModel struct {
	ID              types.String       `tfsdk:"id"`
	FailOnUnhealthy types.Bool         `tfsdk:"fail_on_unhealthy"`
	Reachable       types.Bool         `tfsdk:"reachable"`
	Healthy         types.Bool         `tfsdk:"healthy"`
	NamingContexts  types.List         `tfsdk:"naming_contexts"`
	CheckedAt       types.String       `tfsdk:"checked_at"`
	Config          types.Map          `tfsdk:"config"`
	Stages          []HealthStageModel `tfsdk:"stages"`
}

// HealthStageModel describes one probe stage.
type HealthStageModel struct {
	Name       types.String `tfsdk:"name"`
	Status     types.String `tfsdk:"status"`
	Message    types.String `tfsdk:"message"`
	Detail     types.String `tfsdk:"detail"`
	DurationMS types.Int64  `tfsdk:"duration_ms"`
}

func (d *HealthDataSource) Metadata(ctx context.Context, req datasource.MetadataRequest, resp *datasource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_health"
}

func (d *HealthDataSource) Schema(ctx context.Context, req datasource.SchemaRequest, resp *datasource.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "Probes the configured directory with a read-only sequence of network, connect, bind, " +
			"search and naming context stages. The probe never modifies the directory and, unless " +
			"`fail_on_unhealthy` is set, never fails: problems are reported per stage.",

		Attributes: map[string]schema.Attribute{
			"id": schema.StringAttribute{
				MarkdownDescription: "The directory URL.",
				Computed:            true,
			},
			"fail_on_unhealthy": schema.BoolAttribute{
				MarkdownDescription: "Raise an error when a required stage fails (default: false).",
				Optional:            true,
			},
			"reachable": schema.BoolAttribute{
				MarkdownDescription: "Whether an LDAP session could be opened.",
				Computed:            true,
			},
			"healthy": schema.BoolAttribute{
				MarkdownDescription: "Whether every required stage passed.",
				Computed:            true,
			},
			"naming_contexts": schema.ListAttribute{
				MarkdownDescription: "Naming contexts advertised by the root DSE.",
				Computed:            true,
				ElementType:         types.StringType,
			},
			"checked_at": schema.StringAttribute{
				MarkdownDescription: "RFC 3339 time the probe started.",
				Computed:            true,
			},
			"config": schema.MapAttribute{
				MarkdownDescription: "Effective connection settings with secrets masked.",
				Computed:            true,
				ElementType:         types.StringType,
			},
			"stages": schema.ListNestedAttribute{
				MarkdownDescription: "Probe stages in execution order.",
				Computed:            true,
				NestedObject: schema.NestedAttributeObject{
					Attributes: map[string]schema.Attribute{
						"name": schema.StringAttribute{
							MarkdownDescription: "Stage name: `network`, `connect`, `bind`, `search` or `naming_contexts`.",
							Computed:            true,
						},
						"status": schema.StringAttribute{
							MarkdownDescription: "One of `ok`, `failed`, `warning` or `skipped`.",
							Computed:            true,
						},
						"message": schema.StringAttribute{
							MarkdownDescription: "Short description of the outcome.",
							Computed:            true,
						},
						"detail": schema.StringAttribute{
							MarkdownDescription: "Full diagnostic for a failed stage.",
							Computed:            true,
						},
						"duration_ms": schema.Int64Attribute{
							MarkdownDescription: "Stage duration in milliseconds.",
							Computed:            true,
						},
					},
				},
			},
		},
	}
}

func (d *HealthDataSource) Configure(ctx context.Context, req datasource.ConfigureRequest, resp *datasource.ConfigureResponse) {
	if data := providerDataFrom(req.ProviderData, "Data Source", &resp.Diagnostics); data != nil {
		d.auth = data.Authenticator
	}
}

func (d *HealthDataSource) Read(ctx context.Context, req datasource.ReadRequest, resp *datasource.ReadResponse) {
	ctx = initializeLogging(ctx)

	var data HealthDataSourceModel

	resp.Diagnostics.Append(req.Config.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	logCompletion := ldapclient.LogDataSourceOperation(ctx, "dirauth_health", "read", nil)
	defer func() {
		logCompletion(firstError(resp.Diagnostics))
	}()

	if d.auth == nil {
		resp.Diagnostics.AddError("Provider Not Configured", "The dirauth provider must be configured before probing the directory.")
		return
	}

	report := d.auth.HealthCheck(ctx)

	tflog.Info(ctx, "Directory probe completed", map[string]any{
		"reachable": report.Reachable,
		"healthy":   report.Healthy,
	})

	d.mapReportToModel(ctx, report, &data, resp)

	if data.FailOnUnhealthy.ValueBool() && !report.Healthy {
		resp.Diagnostics.AddError("Directory Unhealthy", unhealthySummary(report))
		return
	}

	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

// mapReportToModel maps the probe report to the Terraform model.
func (d *HealthDataSource) mapReportToModel(ctx context.Context, report *ldapclient.HealthReport, data *HealthDataSourceModel, resp *datasource.ReadResponse) {
	data.ID = types.StringValue(d.auth.Config().URL)
	data.Reachable = types.BoolValue(report.Reachable)
	data.Healthy = types.BoolValue(report.Healthy)
	data.CheckedAt = types.StringValue(report.CheckedAt.UTC().Format(time.RFC3339))

	contexts, diags := types.ListValueFrom(ctx, types.StringType, nonNil(report.NamingContexts))
	resp.Diagnostics.Append(diags...)
	data.NamingContexts = contexts

	config := make(map[string]string, len(report.Config))
	for k, v := range report.Config {
		config[k] = fmt.Sprint(v)
	}
	configValue, diags := types.MapValueFrom(ctx, types.StringType, config)
	resp.Diagnostics.Append(diags...)
	data.Config = configValue

	data.Stages = make([]HealthStageModel, 0, len(report.Stages))
	for _, stage := range report.Stages {
		data.Stages = append(data.Stages, HealthStageModel{
			Name:       types.StringValue(stage.Name),
			Status:     types.StringValue(string(stage.Status)),
			Message:    types.StringValue(stage.Message),
			Detail:     stringOrNull(stage.Detail),
			DurationMS: types.Int64Value(stage.Duration.Milliseconds()),
		})
	}
}

// unhealthySummary lists the failed stages for a diagnostic.
func unhealthySummary(report *ldapclient.HealthReport) string {
	summary := "The directory probe reported failures:\n"
	for _, stage := range report.Stages {
		if stage.Status == ldapclient.StageFailed {
			summary += fmt.Sprintf("\n- %s: %s", stage.Name, stage.Message)
		}
	}
	return summary
}
