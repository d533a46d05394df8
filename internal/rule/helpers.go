package rule

import (
	"fmt"

	"flightcheck/internal/model"
)

func NotApplicable(r Rule, summary string) *model.Result {
	return status(r, model.SeverityNA, summary, "")
}

func TooFewEvents(r Rule) *model.Result {
	return NotApplicable(r, "There were too few events in the recording to evaluate this rule.")
}

func MissingAttribute(r Rule, typeID, attr string) *model.Result {
	return NotApplicable(r, fmt.Sprintf("Events of type %s do not carry the %s attribute.", typeID, attr))
}

func Ignored(r Rule, summary string) *model.Result {
	return status(r, model.SeverityIgnore, summary, "")
}

// Failed records a fault raised while evaluating r.
func Failed(r Rule, err error) *model.Result {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return status(r, model.SeverityFailed, "The rule could not be evaluated because of an internal error.", detail)
}

// Misconfigured is the degraded result for a rejected preference value.
func Misconfigured(r Rule, err *ConfigError) *model.Result {
	return model.NewResult(model.ResultFields{
		RuleID:   r.ID(),
		RuleName: r.Name(),
		Topic:    r.Topic(),
		Severity: model.SeverityNA,
		Score:    model.NoScore,
		Summary:  fmt.Sprintf("Could not evaluate: bad configuration for %s.", err.Key),
		Error:    err.Error(),
	})
}

func status(r Rule, severity model.Severity, summary, detail string) *model.Result {
	return model.NewResult(model.ResultFields{
		RuleID:   r.ID(),
		RuleName: r.Name(),
		Topic:    r.Topic(),
		Severity: severity,
		Score:    model.NoScore,
		Summary:  summary,
		Error:    detail,
	})
}
