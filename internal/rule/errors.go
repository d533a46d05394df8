package rule

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDuplicateRule     = errors.New("duplicate rule id")
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrUnknownRule       = errors.New("unknown rule")
)

// CycleError reports a dependency cycle. Path starts and ends with the same rule.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.Path, " -> ")
}

// DefectError is a programming error in a rule: an undeclared result key, a missing
// summary, a malformed declaration.
type DefectError struct {
	RuleID string
	Reason string
	Err    error
}

func (e *DefectError) Error() string {
	msg := fmt.Sprintf("rule %s: %s", e.RuleID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DefectError) Unwrap() error { return e.Err }

// ConfigError is an unparsable or out-of-range preference value.
type ConfigError struct {
	RuleID string
	Key    string
	Value  any
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("rule %s: invalid preference %s=%v: %v", e.RuleID, e.Key, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
