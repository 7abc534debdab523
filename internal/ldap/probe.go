package ldap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// Probe stage names, in execution order.
const (
	StageNetwork        = "network"
	StageConnect        = "connect"
	StageBind           = "bind"
	StageSearch         = "search"
	StageNamingContexts = "naming_contexts"
)

// StageStatus is the outcome of one probe stage.
type StageStatus string

const (
	StageOK      StageStatus = "ok"
	StageFailed  StageStatus = "failed"
	StageWarning StageStatus = "warning" // informational stage failed
	StageSkipped StageStatus = "skipped"
)

// StageResult describes one probe stage.
type StageResult struct {
	Name     string
	Status   StageStatus
	Message  string
	Detail   string // full diagnostic for operators, empty on success
	Duration time.Duration
}

// HealthReport is the result of a probe run.
type HealthReport struct {
	Reachable      bool // an LDAP session could be opened
	Healthy        bool // every required stage passed
	Stages         []StageResult
	Config         map[string]any // configuration with secrets masked
	NamingContexts []string
	CheckedAt      time.Time
}

// Stage returns the named stage.
func (r *HealthReport) Stage(name string) (StageResult, bool) {
	for _, s := range r.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageResult{}, false
}

// Reacher is implemented by dialers that can check plain transport
// reachability of the endpoint.
type Reacher interface {
	Reach(ctx context.Context, cfg *Config) error
}

// Reach opens and closes a TCP connection to the endpoint.
func (NetDialer) Reach(ctx context.Context, cfg *Config) error {
	addr, err := cfg.Address()
	if err != nil {
		return err
	}
	d := &net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Probe runs a read-only connect, bind and search against the directory.
type Probe struct {
	cfg    *Config
	dialer Dialer
	now    func() time.Time
}

func NewProbe(cfg *Config, dialer Dialer) *Probe {
	return &Probe{cfg: cfg, dialer: dialer, now: time.Now}
}

// Run executes every stage and reports the outcome. It never fails: errors
// are recorded on their stage and the remaining required stages are skipped.
func (p *Probe) Run(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Config:    p.cfg.LogFields(),
		CheckedAt: p.now(),
	}

	var session *Session
	defer func() {
		if session != nil {
			session.Close(ctx)
		}
	}()

	stages := []struct {
		name     string
		required bool
		run      func() (string, error)
	}{
		{StageNetwork, true, func() (string, error) {
			reacher, ok := p.dialer.(Reacher)
			if !ok {
				return "", errSkipStage
			}
			addr, _ := p.cfg.Address()
			if err := reacher.Reach(ctx, p.cfg); err != nil {
				return "", Translate("reach", err)
			}
			return fmt.Sprintf("%s accepts TCP connections", addr), nil
		}},
		{StageConnect, true, func() (string, error) {
			s, err := OpenSession(ctx, p.cfg, p.dialer, "probe")
			if err != nil {
				return "", err
			}
			session = s
			report.Reachable = true
			return "LDAP session established", nil
		}},
		{StageBind, true, func() (string, error) {
			if err := bindService(ctx, session, p.cfg); err != nil {
				return "", err
			}
			if p.cfg.Mode() == BindModeAnonymous {
				return "anonymous access; no service account configured", nil
			}
			return fmt.Sprintf("%s bind succeeded", p.cfg.Mode()), nil
		}},
		{StageSearch, true, func() (string, error) {
			req := ldap.NewSearchRequest(p.cfg.BaseDN, ldap.ScopeBaseObject, ldap.NeverDerefAliases,
				1, 0, false, "(objectClass=*)", []string{noAttributes}, nil)
			result, err := session.Search(ctx, req)
			if err != nil {
				return "", Translate("search", err)
			}
			if len(result.Entries) == 0 {
				return "", newError("search", KindNotFound, "base DN returned no entry", nil)
			}
			return fmt.Sprintf("base DN %s is readable", p.cfg.BaseDN), nil
		}},
		{StageNamingContexts, false, func() (string, error) {
			req := ldap.NewSearchRequest("", ldap.ScopeBaseObject, ldap.NeverDerefAliases,
				1, 0, false, "(objectClass=*)", []string{"namingContexts"}, nil)
			result, err := session.Search(ctx, req)
			if err != nil {
				return "", Translate("root_dse", err)
			}
			if len(result.Entries) > 0 {
				report.NamingContexts = result.Entries[0].GetEqualFoldAttributeValues("namingContexts")
			}
			return fmt.Sprintf("%d naming contexts advertised", len(report.NamingContexts)), nil
		}},
	}

	failed := false
	for _, stage := range stages {
		if failed {
			report.Stages = append(report.Stages, StageResult{
				Name:    stage.name,
				Status:  StageSkipped,
				Message: "skipped after an earlier failure",
			})
			continue
		}

		res := p.runStage(ctx, stage.name, stage.required, stage.run)
		report.Stages = append(report.Stages, res)
		if res.Status == StageFailed {
			failed = true
		}
	}

	report.Healthy = !failed
	tflog.SubsystemInfo(ctx, subsystemLDAP, "Health check completed", map[string]any{
		"reachable": report.Reachable,
		"healthy":   report.Healthy,
	})
	return report
}

var errSkipStage = errors.New("stage not applicable")

func (p *Probe) runStage(ctx context.Context, name string, required bool, fn func() (string, error)) (res StageResult) {
	start := p.now()
	res.Name = name

	defer func() {
		if r := recover(); r != nil {
			res.Status = StageFailed
			res.Message = "stage aborted unexpectedly"
			res.Detail = fmt.Sprint(r)
		}
		res.Duration = p.now().Sub(start)
	}()

	msg, err := fn()
	switch {
	case err == nil:
		res.Status = StageOK
		res.Message = msg
	case errors.Is(err, errSkipStage):
		res.Status = StageSkipped
		res.Message = "dialer cannot test transport reachability"
	default:
		e := Translate(name, err)
		res.Status = StageFailed
		if !required {
			res.Status = StageWarning
		}
		res.Message = e.Error()
		res.Detail = e.Detail()
		LogLDAPError(ctx, "health_check."+name, e, nil)
	}
	return res
}
