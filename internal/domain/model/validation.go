package model

// ValidationLevel grades a validation check or an overall report.
type ValidationLevel string

const (
	// ValidationPassed means every check passed.
	ValidationPassed ValidationLevel = "PASSED"
	// ValidationWarning means the definition is runnable but questionable.
	ValidationWarning ValidationLevel = "WARNING"
	// ValidationFailed means the definition must not be scheduled or run.
	ValidationFailed ValidationLevel = "FAILED"
)

// severity orders levels for report aggregation.
func (l ValidationLevel) severity() int {
	switch l {
	case ValidationFailed:
		return 2
	case ValidationWarning:
		return 1
	default:
		return 0
	}
}

// ValidationCheck is a single finding in a validation report.
type ValidationCheck struct {
	Level   ValidationLevel `json:"level"`
	Field   string          `json:"field,omitempty"`
	Message string          `json:"message"`
}

// ValidationReport aggregates validation findings. Status is the worst
// level observed; an empty report is PASSED.
type ValidationReport struct {
	Status ValidationLevel   `json:"status"`
	Checks []ValidationCheck `json:"checks,omitempty"`
}

// NewValidationReport returns an empty, passing report.
func NewValidationReport() *ValidationReport {
	return &ValidationReport{Status: ValidationPassed}
}

// Fail records a FAILED finding against a field.
func (r *ValidationReport) Fail(field, message string) {
	r.add(ValidationCheck{Level: ValidationFailed, Field: field, Message: message})
}

// Warn records a WARNING finding against a field.
func (r *ValidationReport) Warn(field, message string) {
	r.add(ValidationCheck{Level: ValidationWarning, Field: field, Message: message})
}

// Pass records an informational PASSED finding.
func (r *ValidationReport) Pass(field, message string) {
	r.add(ValidationCheck{Level: ValidationPassed, Field: field, Message: message})
}

// Merge folds another report's findings into this one.
func (r *ValidationReport) Merge(other *ValidationReport) {
	if other == nil {
		return
	}
	for _, c := range other.Checks {
		r.add(c)
	}
}

// Failed reports whether any finding is FAILED.
func (r *ValidationReport) Failed() bool {
	return r.Status == ValidationFailed
}

func (r *ValidationReport) add(c ValidationCheck) {
	r.Checks = append(r.Checks, c)
	if c.Level.severity() > r.Status.severity() {
		r.Status = c.Level
	}
}
