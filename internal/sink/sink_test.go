package sink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightcheck/internal/model"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

type fakeConn struct {
	msgs    []*nats.Msg
	flushed int
	closed  bool
}

func (f *fakeConn) PublishMsg(msg *nats.Msg) error {
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeConn) FlushWithContext(context.Context) error {
	f.flushed++
	return nil
}

func (f *fakeConn) Close() { f.closed = true }

func testReport(name string, sev model.Severity) *model.Report {
	res := model.NewResult(model.ResultFields{RuleID: "GcPause", RuleName: "GC Pauses", Severity: sev, Score: 80, Summary: "long pause"})
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return model.NewReport("run-"+name, model.RecordingInfo{Name: name}, at, []*model.Result{res}, nil)
}

func TestKafkaPublisherWritesKeyedReport(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaWithWriter(w, "reports")

	require.NoError(t, p.Publish(context.Background(), testReport("app.jfr", model.SeverityWarning)))
	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "app.jfr", string(msg.Key))
	assert.Equal(t, "kafka:reports", p.Name())

	var doc map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &doc))
	assert.Equal(t, "run-app.jfr", doc["run"].(map[string]any)["id"])

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "warning", headers[headerWorst])

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisherWrapsWriteError(t *testing.T) {
	p := NewKafkaWithWriter(&fakeWriter{err: errors.New("broker down")}, "reports")
	err := p.Publish(context.Background(), testReport("a", model.SeverityInfo))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestNATSPublisherSetsHeaders(t *testing.T) {
	conn := &fakeConn{}
	p := NewNATSWithConn(conn, "flightcheck.reports")

	require.NoError(t, p.Publish(context.Background(), testReport("a", model.SeverityInfo)))
	require.Len(t, conn.msgs, 1)
	assert.Equal(t, "flightcheck.reports", conn.msgs[0].Subject)
	assert.Equal(t, "run-a", conn.msgs[0].Header.Get(headerRunID))
	assert.Equal(t, 1, conn.flushed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Publish(ctx, testReport("a", model.SeverityInfo)), context.Canceled)

	require.NoError(t, p.Close())
	assert.True(t, conn.closed)
}

func TestDispatcherFiltersAndCoolsDown(t *testing.T) {
	w := &fakeWriter{}
	d := NewDispatcher(nil, model.SeverityInfo, time.Minute, NewKafkaWithWriter(w, "reports"))
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	d.gate.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, d.Publish(ctx, testReport("a", model.SeverityOK)))
	assert.Empty(t, w.msgs)

	require.NoError(t, d.Publish(ctx, testReport("a", model.SeverityWarning)))
	require.NoError(t, d.Publish(ctx, testReport("a", model.SeverityWarning)))
	assert.Len(t, w.msgs, 1)

	require.NoError(t, d.Publish(ctx, testReport("a", model.SeverityInfo)))
	assert.Len(t, w.msgs, 2)

	now = now.Add(2 * time.Minute)
	require.NoError(t, d.Publish(ctx, testReport("a", model.SeverityWarning)))
	assert.Len(t, w.msgs, 3)
}

func TestDispatcherJoinsErrors(t *testing.T) {
	good := &fakeWriter{}
	d := NewDispatcher(nil, "", 0,
		NewKafkaWithWriter(&fakeWriter{err: errors.New("boom")}, "a"),
		NewKafkaWithWriter(good, "b"),
	)
	err := d.Publish(context.Background(), testReport("x", model.SeverityOK))
	require.Error(t, err)
	assert.Len(t, good.msgs, 1)
	assert.Equal(t, 2, d.Len())
	require.NoError(t, d.Close())
}

func TestCooldownDisabled(t *testing.T) {
	c := NewCooldown()
	assert.True(t, c.AllowKey("k", 0))
	assert.True(t, c.AllowKey("k", 0))
	assert.True(t, c.AllowKey("k", time.Hour))
	assert.False(t, c.AllowKey("k", time.Hour))
}
