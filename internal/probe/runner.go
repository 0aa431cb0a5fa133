package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// suiteOrder is the fixed execution order. Auth runs before the handshake,
// edge runs last because its shutdown check kills the server.
var suiteOrder = []string{
	"auth",
	"lifecycle",
	"jsonrpc",
	"tools",
	"resources",
	"prompts",
	"notifications",
	"tasks",
	"edge",
}

// Runner wires a transport, a session, and the check catalog into one probe
// run producing a Report.
type Runner struct {
	cfg    *Config
	logger *Logger
}

func NewRunner(cfg *Config, logger *Logger) *Runner {
	return &Runner{cfg: cfg, logger: logger}
}

// newTransport opens a channel to the configured server. Each call yields
// an independent connection.
func (r *Runner) newTransport() (Transport, error) {
	switch r.cfg.TransportName() {
	case TransportStdio:
		return NewStdioTransport(r.cfg.Command, r.logger), nil
	case TransportHTTP:
		return NewHTTPTransport(r.cfg.URL, r.cfg.Headers, r.cfg.EffectiveTimeout(), r.logger), nil
	default:
		return nil, fmt.Errorf("unsupported transport %q", r.cfg.Transport)
	}
}

// Run executes every requested suite against the target and returns the
// report. A target that cannot be reached at all yields a ConnectError;
// anything the server does after that is a check outcome, not a Go error.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{
		ProbeVersion: ProbeVersion,
		SpecVersion:  SpecVersion,
		RunID:        uuid.NewString(),
		Target:       r.cfg.Target(),
		Transport:    r.cfg.TransportName(),
		Timestamp:    start.UTC().Format(time.RFC3339),
		Capabilities: map[string]bool{},
	}

	transport, err := r.newTransport()
	if err != nil {
		return nil, err
	}

	session := NewSession(transport, r.cfg.EffectiveTimeout(), r.logger)
	if err := session.Start(ctx); err != nil {
		return nil, &ConnectError{Target: r.cfg.Target(), Err: err}
	}
	defer session.Close()

	rc := &runContext{
		session:      session,
		cfg:          r.cfg,
		logger:       r.logger,
		timeout:      r.cfg.EffectiveTimeout(),
		newTransport: r.newTransport,
	}
	if r.cfg.TransportName() == TransportHTTP && r.cfg.OAuth.Enabled {
		rc.oauth = newOAuthContext(r.cfg.URL, r.cfg.OAuth, r.cfg.EffectiveTimeout(), r.logger)
	}

	aborted := false
	for _, name := range suiteOrder {
		suite, applies := r.resolveSuite(name, rc)
		if !applies {
			continue
		}
		if aborted {
			report.Suites = append(report.Suites, skippedSuite(suite, "initialize handshake failed"))
			continue
		}
		if name != "auth" && name != "lifecycle" && session.Disconnected() {
			report.Suites = append(report.Suites, skippedSuite(suite, "server disconnected"))
			report.Aborted = "server disconnected"
			continue
		}

		r.logger.InfoVerbose("Running suite: %s", suite.Name)
		result := runSuite(ctx, suite, rc, r.logger)
		report.Suites = append(report.Suites, result)

		if name == "lifecycle" {
			r.captureHandshake(report, session)
			for _, check := range result.Checks {
				if check.ID == "INIT-001" && check.Status == StatusFail {
					r.logger.Warning("Initialize handshake failed, skipping remaining suites")
					aborted = true
					report.Aborted = "initialize handshake failed"
				}
			}
		}
	}

	report.DurationMS = float64(time.Since(start)) / float64(time.Millisecond)
	return report, nil
}

// captureHandshake copies what initialize revealed into the report.
func (r *Runner) captureHandshake(report *Report, session *Session) {
	report.ServerInfo = session.ServerInfo()
	for _, name := range []string{"tools", "resources", "prompts", "tasks"} {
		report.Capabilities[name] = session.HasCapability(name)
	}
}

// resolveSuite maps a suite name to its definition and decides whether it
// applies to this run: suite selection first, then transport constraints,
// then capability gating. Explicitly requesting a suite overrides its
// capability gate so broken capability advertising is still observable.
func (r *Runner) resolveSuite(name string, rc *runContext) (suiteDef, bool) {
	if !r.cfg.suiteRequested(name) {
		return suiteDef{}, false
	}

	switch name {
	case "auth":
		if rc.oauth == nil {
			return suiteDef{}, false
		}
		return authSuite(), true
	case "lifecycle":
		return lifecycleSuite(), true
	case "jsonrpc":
		return jsonrpcSuite(), true
	case "tools":
		return r.gated(toolsSuite(), rc)
	case "resources":
		return r.gated(resourcesSuite(), rc)
	case "prompts":
		return r.gated(promptsSuite(), rc)
	case "notifications":
		return notificationsSuite(), true
	case "tasks":
		return r.gated(tasksSuite(), rc)
	case "edge":
		return edgeSuite(), true
	default:
		return suiteDef{}, false
	}
}

func (r *Runner) gated(suite suiteDef, rc *runContext) (suiteDef, bool) {
	if suite.Capability == "" || rc.session.HasCapability(suite.Capability) {
		return suite, true
	}
	if r.cfg.suiteExplicit(suite.Name) {
		return suite, true
	}
	return suiteDef{}, false
}

// runSuite executes each check in order, stamping severity and wall-clock
// duration. A panicking check is recorded as FAIL and the suite carries on.
func runSuite(ctx context.Context, suite suiteDef, rc *runContext, logger *Logger) SuiteResult {
	result := SuiteResult{Name: suite.Name}
	for _, def := range suite.Checks {
		start := time.Now()
		outcome := runCheck(ctx, def, rc, logger)
		result.Checks = append(result.Checks, CheckResult{
			ID:          def.ID,
			Description: def.Description,
			Status:      outcome.Status,
			Severity:    def.Severity,
			DurationMS:  float64(time.Since(start)) / float64(time.Millisecond),
			Details:     outcome.Details,
			TimedOut:    outcome.TimedOut,
		})
	}
	return result
}

func runCheck(ctx context.Context, def checkDef, rc *runContext, logger *Logger) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("check %s panicked: %v", def.ID, r)
			outcome = Fail("check panicked: %v", r)
		}
	}()
	return def.Run(ctx, rc)
}

// skippedSuite records every check of a suite as SKIP with one reason.
func skippedSuite(suite suiteDef, reason string) SuiteResult {
	result := SuiteResult{Name: suite.Name}
	for _, def := range suite.Checks {
		result.Checks = append(result.Checks, CheckResult{
			ID:          def.ID,
			Description: def.Description,
			Status:      StatusSkip,
			Severity:    def.Severity,
			Details:     reason,
		})
	}
	return result
}
