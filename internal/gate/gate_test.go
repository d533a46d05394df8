package gate

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightcheck/internal/model"
	"flightcheck/internal/recording"
	"flightcheck/internal/rule"
)

func requiring(reqs ...model.EventRequirement) rule.Rule {
	return rule.NewFunc(rule.Base{RuleID: "r", RuleName: "R", RuleTopic: "t", Requirements: reqs}, func(context.Context, recording.Source, rule.Preferences, rule.PriorResults) (*model.Result, error) {
		return nil, nil
	})
}

func testRecording() *recording.Recording {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return recording.NewBuilder("rec").
		Type("jdk.ThreadPark", "").
		Setting(recording.EnabledSetting("jdk.ClassLoad", true)).
		Setting(recording.EnabledSetting("jdk.ObjectAllocationSample", false)).
		Event(recording.Event{Type: "jdk.GCPhasePause", Start: now}).
		Build()
}

func TestGatePasses(t *testing.T) {
	g := New(testRecording())
	level, res := g.Check(requiring(
		model.Requires("jdk.GCPhasePause", model.AvailabilityAvailable),
		model.Requires("jdk.ClassLoad", model.AvailabilityEnabled),
	))
	assert.Nil(t, res)
	assert.Equal(t, model.AvailabilityEnabled, level)

	level, res = g.Check(requiring())
	assert.Nil(t, res)
	assert.Equal(t, model.AvailabilityAvailable, level)
}

func TestGateShortCircuits(t *testing.T) {
	rec := testRecording()
	cases := []struct {
		name     string
		req      model.EventRequirement
		severity model.Severity
		summary  string
	}{
		{"unavailable", model.Requires("jdk.Missing", model.AvailabilityAvailable), model.SeverityNA,
			"The recording does not contain the required event types: jdk.Missing."},
		{"disabled", model.Requires("jdk.ObjectAllocationSample", model.AvailabilityEnabled), model.SeverityInfo,
			"Required event types were disabled during recording: jdk.ObjectAllocationSample."},
		{"known without setting", model.Requires("jdk.ThreadPark", model.AvailabilityAvailable), model.SeverityInfo,
			"Required event types were disabled during recording: jdk.ThreadPark."},
		{"enabled but empty", model.Requires("jdk.ClassLoad", model.AvailabilityAvailable), model.SeverityNA,
			"No events of the required types were recorded: jdk.ClassLoad."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, res := Check(rec, requiring(tc.req))
			require.NotNil(t, res)
			assert.Equal(t, tc.severity, res.Severity())
			assert.Equal(t, tc.summary, res.Summary())
			assert.Equal(t, model.NoScore, res.Score())
			assert.Equal(t, "r", res.RuleID())
		})
	}
}

func TestGateReportsWorstUnmetLevel(t *testing.T) {
	_, res := Check(testRecording(), requiring(
		model.Requires("jdk.ObjectAllocationSample", model.AvailabilityAvailable),
		model.Requires("jdk.Missing", model.AvailabilityAvailable),
		model.Requires("jdk.AlsoMissing", model.AvailabilityAvailable),
	))
	require.NotNil(t, res)
	assert.Equal(t, model.SeverityNA, res.Severity())
	assert.Equal(t, "The recording does not contain the required event types: jdk.AlsoMissing, jdk.Missing.", res.Summary())
}

type countingSource struct {
	recording.Source
	applies atomic.Int64
}

func (c *countingSource) Apply(f recording.Filter) recording.Source {
	c.applies.Add(1)
	return c.Source.Apply(f)
}

func TestGateMemoizesAvailability(t *testing.T) {
	src := &countingSource{Source: testRecording()}
	g := New(src)
	first := g.Availability("jdk.GCPhasePause")
	calls := src.applies.Load()
	second := g.Availability("jdk.GCPhasePause")
	assert.Equal(t, first, second)
	assert.Equal(t, calls, src.applies.Load())

	rec := testRecording()
	New(rec).Availability("jdk.GCPhasePause")
	_, ok := rec.Memo().Load(memoKey("jdk.GCPhasePause"))
	assert.True(t, ok)
}
