package notifier

import (
	"context"
	"fmt"
	"time"

	"escrow-pay.backend/pkg/logger"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type natsConn interface {
	Publish(subject string, data []byte) error
	Close()
}

var connectNATS = func(url string, opts ...nats.Option) (natsConn, error) {
	return nats.Connect(url, opts...)
}

// NATSSink publishes on a NATS subject named after the topic.
type NATSSink struct {
	conn   natsConn
	prefix string
}

// NewNATSSink connects to url. The connection reconnects forever in the
// background; publishes during an outage are buffered by the client.
func NewNATSSink(url, prefix string, timeout time.Duration) (*NATSSink, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	conn, err := connectNATS(url,
		nats.Name("escrow-pay"),
		nats.Timeout(timeout),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn(context.Background(), "NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info(context.Background(), "NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSSink{conn: conn, prefix: prefix}, nil
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Publish(_ context.Context, topic string, payload []byte) error {
	return s.conn.Publish(s.prefix+topic, payload)
}

// Close drops the connection.
func (s *NATSSink) Close() {
	s.conn.Close()
}
