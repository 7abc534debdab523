package ldap

import (
	"context"
	"errors"
	"maps"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

const (
	subsystemLDAP     = "ldap"
	subsystemProvider = "provider"
)

// WithLogging attaches the ldap logging subsystem to ctx. Its level follows
// TF_LOG_PROVIDER_DIRAUTH_LDAP.
func WithLogging(ctx context.Context) context.Context {
	return tflog.NewSubsystem(ctx, subsystemLDAP,
		tflog.WithLevelFromEnv("TF_LOG_PROVIDER_DIRAUTH_LDAP"),
		tflog.WithRootFields(),
	)
}

// LogOperation logs the start and end of fn with its duration.
func LogOperation(ctx context.Context, subsystem, operation string, fields map[string]any, fn func() error) error {
	start := time.Now()

	logFields := make(map[string]any, len(fields)+3)
	maps.Copy(logFields, fields)
	logFields["operation"] = operation

	tflog.SubsystemDebug(ctx, subsystem, "Starting operation", SanitizeFields(logFields))

	err := fn()

	logFields["duration_ms"] = time.Since(start).Milliseconds()
	if err != nil {
		logFields["error"] = err.Error()
		tflog.SubsystemDebug(ctx, subsystem, "Operation failed", SanitizeFields(logFields))
	} else {
		tflog.SubsystemDebug(ctx, subsystem, "Operation completed successfully", SanitizeFields(logFields))
	}

	return err
}

// LogPerformance logs a finished operation, escalating the level for slow ones.
func LogPerformance(ctx context.Context, subsystem, operation string, duration time.Duration, fields map[string]any) {
	logFields := make(map[string]any, len(fields)+2)
	maps.Copy(logFields, fields)
	logFields["operation"] = operation
	logFields["duration_ms"] = duration.Milliseconds()

	switch {
	case duration > 5*time.Second:
		tflog.SubsystemWarn(ctx, subsystem, "Slow operation detected", SanitizeFields(logFields))
	case duration > time.Second:
		tflog.SubsystemInfo(ctx, subsystem, "Operation performance", SanitizeFields(logFields))
	default:
		tflog.SubsystemDebug(ctx, subsystem, "Operation performance", SanitizeFields(logFields))
	}
}

// LogLDAPError logs a failure with everything known about it. Only
// server-side logs see the detail; callers see Error().
func LogLDAPError(ctx context.Context, operation string, err error, fields map[string]any) {
	logFields := make(map[string]any, len(fields)+5)
	maps.Copy(logFields, fields)
	logFields["operation"] = operation

	var e *Error
	if errors.As(err, &e) {
		logFields["error_kind"] = e.Kind.String()
		logFields["error"] = e.Detail()
		if e.LDAPCode > 0 {
			logFields["ldap_result_code"] = e.LDAPCode
		}
	} else {
		logFields["error"] = err.Error()
	}

	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		logFields["ldap_result_code"] = ldapErr.ResultCode
		if ldapErr.MatchedDN != "" {
			logFields["ldap_matched_dn"] = ldapErr.MatchedDN
		}
		if ldapErr.Err != nil {
			logFields["ldap_diagnostic_message"] = ldapErr.Err.Error()
		}
	}

	// Rejections are routine; only infrastructure and unexpected failures are errors.
	if e != nil && e.Kind.Rejects() {
		tflog.SubsystemInfo(ctx, subsystemLDAP, "LDAP operation rejected", SanitizeFields(logFields))
		return
	}
	tflog.SubsystemError(ctx, subsystemLDAP, "LDAP operation failed", SanitizeFields(logFields))
}

// LogConnectionEvent logs connection lifecycle events.
func LogConnectionEvent(ctx context.Context, event string, fields map[string]any) {
	logFields := make(map[string]any, len(fields)+1)
	maps.Copy(logFields, fields)
	logFields["event"] = event

	switch event {
	case "connection_failed", "authentication_failed":
		tflog.SubsystemWarn(ctx, subsystemLDAP, "Connection event", logFields)
	case "connection_established", "connection_closed", "authentication_success":
		tflog.SubsystemDebug(ctx, subsystemLDAP, "Connection event", logFields)
	default:
		tflog.SubsystemTrace(ctx, subsystemLDAP, "Connection event", logFields)
	}
}

// LogKerberosEvent logs Kerberos credential events.
func LogKerberosEvent(ctx context.Context, event string, fields map[string]any) {
	logFields := make(map[string]any, len(fields)+1)
	maps.Copy(logFields, fields)
	logFields["event"] = event

	switch event {
	case "credentials_loaded":
		tflog.SubsystemDebug(ctx, subsystemLDAP, "Kerberos event", SanitizeFields(logFields))
	case "credentials_failed", "bind_failed":
		tflog.SubsystemError(ctx, subsystemLDAP, "Kerberos event", SanitizeFields(logFields))
	default:
		tflog.SubsystemTrace(ctx, subsystemLDAP, "Kerberos event", SanitizeFields(logFields))
	}
}

var sensitiveKeys = map[string]bool{
	"password":      true,
	"passwd":        true,
	"bind_password": true,
	"secret":        true,
	"token":         true,
	"key":           true,
	"private_key":   true,
	"credential":    true,
	"credentials":   true,
}

// SanitizeFields returns a copy of fields with sensitive values redacted.
// Values that are already masked or empty are left alone.
func SanitizeFields(fields map[string]any) map[string]any {
	sanitized := make(map[string]any, len(fields))

	for k, v := range fields {
		str, isString := v.(string)
		switch {
		case sensitiveKeys[strings.ToLower(k)]:
			if isString && (str == "" || strings.Trim(str, "*") == "") {
				sanitized[k] = v
			} else {
				sanitized[k] = "[REDACTED]"
			}
		case isString && containsSensitivePattern(str):
			sanitized[k] = "[REDACTED]"
		default:
			sanitized[k] = v
		}
	}

	return sanitized
}

func containsSensitivePattern(s string) bool {
	lower := strings.ToLower(s)
	for _, pattern := range []string{"password=", "passwd=", "secret=", "token=", "key="} {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// LogDataSourceOperation logs entry and exit of a data source operation. Call
// the returned function with the final error.
func LogDataSourceOperation(ctx context.Context, dataSource, operation string, fields map[string]any) func(error) {
	return logProviderOperation(ctx, "data_source", dataSource, operation, fields)
}

// LogEphemeralResourceOperation logs entry and exit of an ephemeral resource
// operation.
func LogEphemeralResourceOperation(ctx context.Context, resource, operation string, fields map[string]any) func(error) {
	return logProviderOperation(ctx, "ephemeral_resource", resource, operation, fields)
}

func logProviderOperation(ctx context.Context, kind, name, operation string, fields map[string]any) func(error) {
	start := time.Now()

	entryFields := make(map[string]any, len(fields)+2)
	maps.Copy(entryFields, fields)
	entryFields[kind] = name
	entryFields["operation"] = operation

	tflog.SubsystemDebug(ctx, subsystemProvider, "Starting "+strings.ReplaceAll(kind, "_", " ")+" operation", SanitizeFields(entryFields))

	return func(err error) {
		exitFields := maps.Clone(entryFields)
		exitFields["duration_ms"] = time.Since(start).Milliseconds()
		exitFields["has_error"] = err != nil

		if err != nil {
			exitFields["error"] = err.Error()
			tflog.SubsystemError(ctx, subsystemProvider, strings.ReplaceAll(kind, "_", " ")+" operation failed", SanitizeFields(exitFields))
			return
		}
		tflog.SubsystemDebug(ctx, subsystemProvider, strings.ReplaceAll(kind, "_", " ")+" operation completed", SanitizeFields(exitFields))
	}
}
