package model

import (
	"fmt"
	"strings"
)

type Severity string

const (
	SeverityOK      Severity = "ok"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"

	// Non-ordered statuses.
	SeverityNA        Severity = "na"
	SeverityIgnore    Severity = "ignore"
	SeverityFailed    Severity = "failed"
	SeverityCancelled Severity = "cancelled"
)

// NoScore marks results that carry no meaningful score.
const NoScore = -1.0

const (
	InfoThreshold    = 25.0
	WarningThreshold = 75.0
)

// SeverityFor maps a 0-100 score onto the ordered severities.
func SeverityFor(score float64) Severity {
	switch {
	case score < 0:
		return SeverityNA
	case score < InfoThreshold:
		return SeverityOK
	case score < WarningThreshold:
		return SeverityInfo
	default:
		return SeverityWarning
	}
}

// Rank orders severities for sorting and thresholds. Non-ordered statuses rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityOK:
		return 1
	case SeverityInfo:
		return 2
	case SeverityWarning:
		return 3
	default:
		return 0
	}
}

func (s Severity) Ordered() bool {
	return s.Rank() > 0
}

// AtLeast reports whether s is an ordered severity not below min.
func (s Severity) AtLeast(min Severity) bool {
	return s.Ordered() && s.Rank() >= min.Rank()
}

func (s Severity) String() string {
	return string(s)
}

func (s Severity) Valid() bool {
	switch s {
	case SeverityOK, SeverityInfo, SeverityWarning, SeverityNA, SeverityIgnore, SeverityFailed, SeverityCancelled:
		return true
	}
	return false
}

func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid severity %q", string(s))
	}
	return []byte(s), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	parsed, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func ParseSeverity(v string) (Severity, error) {
	s := Severity(strings.ToLower(strings.TrimSpace(v)))
	switch s {
	case "warn":
		return SeverityWarning, nil
	case "not_applicable", "n/a":
		return SeverityNA, nil
	}
	if !s.Valid() {
		return "", fmt.Errorf("unknown severity %q", v)
	}
	return s, nil
}
