package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"flightcheck/internal/model"
	"flightcheck/internal/report"
)

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	PublishMsg(msg *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	Close()
}

type NATSPublisher struct {
	conn    Conn
	subject string
}

func NewNATS(url, subject string, logger *slog.Logger) (*NATSPublisher, error) {
	if url == "" || subject == "" {
		return nil, errors.New("nats sink requires url and subject")
	}
	opts := []nats.Option{
		nats.Name("flightcheck"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.Timeout(5 * time.Second),
	}
	if logger != nil {
		opts = append(opts,
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					logger.Warn("nats disconnected", "error", err)
				}
			}),
			nats.ReconnectHandler(func(_ *nats.Conn) {
				logger.Info("nats reconnected")
			}),
		)
	}
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return NewNATSWithConn(conn, subject), nil
}

func NewNATSWithConn(conn Conn, subject string) *NATSPublisher {
	return &NATSPublisher{conn: conn, subject: subject}
}

func (p *NATSPublisher) Name() string { return "nats:" + p.subject }

func (p *NATSPublisher) Publish(ctx context.Context, rep *model.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := report.MarshalRun(rep)
	if err != nil {
		return err
	}
	msg := &nats.Msg{Subject: p.subject, Data: payload, Header: nats.Header{}}
	msg.Header.Set(headerRunID, rep.RunID())
	msg.Header.Set(headerWorst, string(rep.Worst()))
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", rep.RunID(), err)
	}
	return p.conn.FlushWithContext(ctx)
}

func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}
