package jobdef

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jobmill/jobmill/internal/domain/model"
)

// dangerousSQLKeywords are rejected in user-authored SQL jobs at validation
// time. The backend trusts validated definitions and does not re-scan.
var dangerousSQLKeywords = []string{
	"DROP",
	"DELETE",
	"TRUNCATE",
	"ALTER",
	"EXEC",
	"EXECUTE",
	"GRANT",
	"REVOKE",
	"SHUTDOWN",
}

var sqlKeywordPatterns = func() map[string]*regexp.Regexp {
	m := make(map[string]*regexp.Regexp, len(dangerousSQLKeywords))
	for _, kw := range dangerousSQLKeywords {
		m[kw] = regexp.MustCompile(`(?i)\b` + kw + `\b`)
	}
	return m
}()

// knownExecutionPolicies are the policies powershell.exe accepts.
var knownExecutionPolicies = map[string]bool{
	"restricted":   true,
	"allsigned":    true,
	"remotesigned": true,
	"unrestricted": true,
	"bypass":       true,
	"undefined":    true,
}

// Validate runs the structural checks for a job definition and returns the
// graded report. Schedule content (cron syntax, timezones, past-due dates)
// is graded separately by the trigger evaluator; only the block's presence
// is checked here.
func (d *Document) Validate() *model.ValidationReport {
	report := model.NewValidationReport()

	switch d.Type {
	case model.JobTypePowerShell:
		d.validatePowerShell(report)
	case model.JobTypeSQL:
		d.validateSQL(report)
	case model.JobTypeAgent:
		d.validateAgentJob(report)
	case "":
		report.Fail("type", "type is required")
	default:
		report.Fail("type", fmt.Sprintf("unknown job type %q", d.Type))
	}

	if d.Timeout < 0 {
		report.Fail("timeout", "timeout must be positive")
	}
	if d.MaxRetries < 0 {
		report.Fail("max_retries", "max_retries must be >= 0")
	}
	if d.RetryDelay < 0 {
		report.Fail("retry_delay", "retry_delay must be >= 0")
	}
	if d.Schedule != nil && !d.Schedule.Type.Valid() {
		report.Fail("schedule.type", fmt.Sprintf("unknown schedule type %q", d.Schedule.Type))
	}

	return report
}

func (d *Document) validatePowerShell(report *model.ValidationReport) {
	hasInline := strings.TrimSpace(d.InlineScript) != ""
	hasPath := strings.TrimSpace(d.ScriptPath) != ""
	switch {
	case !hasInline && !hasPath:
		report.Fail("inlineScript", "one of inlineScript or scriptPath is required")
	case hasInline && hasPath:
		report.Warn("scriptPath", "both inlineScript and scriptPath are set; inlineScript takes precedence")
	}
	if p := strings.TrimSpace(d.ExecutionPolicy); p != "" && !knownExecutionPolicies[strings.ToLower(p)] {
		report.Warn("executionPolicy", fmt.Sprintf("unrecognized execution policy %q", p))
	}
}

func (d *Document) validateSQL(report *model.ValidationReport) {
	query := strings.TrimSpace(d.Query)
	if query == "" {
		report.Fail("query", "query is required")
		return
	}
	for _, kw := range dangerousSQLKeywords {
		if sqlKeywordPatterns[kw].MatchString(query) {
			report.Fail("query", fmt.Sprintf("query contains restricted keyword %s", kw))
		}
	}
	if d.MaxRows < 0 {
		report.Fail("max_rows", "max_rows must be >= 0")
	}
}

func (d *Document) validateAgentJob(report *model.ValidationReport) {
	if len(d.Steps) == 0 {
		report.Fail("steps", "agent_job requires at least one step")
		return
	}
	for i, step := range d.Steps {
		field := fmt.Sprintf("steps[%d]", i)
		if !step.Action.Valid() {
			report.Fail(field+".action", fmt.Sprintf("unknown step action %q", step.Action))
		}
		if strings.TrimSpace(step.Script) == "" && strings.TrimSpace(step.Command) == "" {
			report.Fail(field, "step requires script or command")
		}
		if step.Timeout < 0 {
			report.Fail(field+".timeout", "step timeout must be positive")
		}
	}
}
