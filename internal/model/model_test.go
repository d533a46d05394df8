package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityFor(t *testing.T) {
	cases := []struct {
		score float64
		want  Severity
	}{
		{-1, SeverityNA},
		{0, SeverityOK},
		{24.99, SeverityOK},
		{25, SeverityInfo},
		{74.9, SeverityInfo},
		{75, SeverityWarning},
		{99.9, SeverityWarning},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SeverityFor(tc.score), "score %v", tc.score)
	}
}

func TestSeverityOrdering(t *testing.T) {
	assert.True(t, SeverityWarning.AtLeast(SeverityInfo))
	assert.True(t, SeverityInfo.AtLeast(SeverityInfo))
	assert.False(t, SeverityOK.AtLeast(SeverityInfo))
	assert.False(t, SeverityNA.AtLeast(SeverityOK))
	assert.False(t, SeverityFailed.Ordered())

	s, err := ParseSeverity(" WARN ")
	require.NoError(t, err)
	assert.Equal(t, SeverityWarning, s)
	_, err = ParseSeverity("critical")
	assert.Error(t, err)
}

func TestAvailabilityOrder(t *testing.T) {
	levels := []Availability{
		AvailabilityUnknown,
		AvailabilityUnavailable,
		AvailabilityDisabled,
		AvailabilityEnabled,
		AvailabilityAvailable,
	}
	for i := 1; i < len(levels); i++ {
		assert.True(t, levels[i-1].Less(levels[i]), "%s < %s", levels[i-1], levels[i])
		assert.True(t, levels[i].Satisfies(levels[i-1]))
	}
	assert.Equal(t, AvailabilityDisabled, MinAvailability(AvailabilityAvailable, AvailabilityDisabled, AvailabilityEnabled))
	assert.Equal(t, AvailabilityAvailable, MinAvailability())

	var a Availability
	require.NoError(t, a.UnmarshalText([]byte("Enabled")))
	assert.Equal(t, AvailabilityEnabled, a)
}

func TestResultIsImmutable(t *testing.T) {
	values := map[string]any{"count": 3}
	res := NewResult(ResultFields{RuleID: "r", Severity: SeverityOK, Score: 0, Summary: "fine", Values: values})
	values["count"] = 99

	v, ok := res.Value("count")
	require.True(t, ok)
	assert.Equal(t, 3, v)

	copied := res.Values()
	copied["count"] = 42
	v, _ = res.Value("count")
	assert.Equal(t, 3, v)
}

func TestReportOrdering(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	rep := NewReport("run", RecordingInfo{Name: "rec"}, now, []*Result{
		NewResult(ResultFields{RuleID: "b", Severity: SeverityWarning, Score: 80}),
		NewResult(ResultFields{RuleID: "a", Severity: SeverityOK, Score: 1}),
	}, []string{"z", "c"})

	results := rep.Results()
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].RuleID())
	assert.Equal(t, "b", results[1].RuleID())
	assert.Equal(t, []string{"c", "z"}, rep.Cancelled())
	assert.Equal(t, SeverityWarning, rep.Worst())
	assert.Equal(t, 1, rep.Count(SeverityOK))
	assert.Equal(t, ReportVersion, rep.Version())
}
