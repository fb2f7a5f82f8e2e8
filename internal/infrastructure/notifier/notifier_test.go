package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"escrow-pay.backend/internal/domain/entities"
	"escrow-pay.backend/internal/domain/status"
	"escrow-pay.backend/pkg/redis"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	name     string
	err      error
	topics   []string
	payloads [][]byte
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Publish(_ context.Context, topic string, payload []byte) error {
	s.topics = append(s.topics, topic)
	s.payloads = append(s.payloads, payload)
	return s.err
}

func sampleEvent() entities.StatusChangedEvent {
	return entities.StatusChangedEvent{
		PaymentID:  uuid.New(),
		OldMain:    status.Paid,
		NewMain:    status.Confirmed,
		OldEscrow:  status.EscrowLocked,
		NewEscrow:  status.EscrowConfirmed,
		Metadata:   map[string]any{"source": "chain"},
		OccurredAt: time.Now().UTC(),
	}
}

func TestFanOut_FailingSinkDoesNotBlockOthers(t *testing.T) {
	broken := &recordingSink{name: "broken", err: errors.New("down")}
	ok := &recordingSink{name: "ok"}
	f := NewFanOut(broken, nil, ok)
	require.Equal(t, []string{"broken", "ok"}, f.Sinks())

	ev := sampleEvent()
	f.NotifyStatusChanged(context.Background(), ev)

	require.Len(t, broken.payloads, 1)
	require.Len(t, ok.payloads, 1)
	require.Equal(t, entities.StatusChangedTopic, ok.topics[0])

	var decoded entities.StatusChangedEvent
	require.NoError(t, json.Unmarshal(ok.payloads[0], &decoded))
	require.Equal(t, ev.PaymentID, decoded.PaymentID)
	require.Equal(t, status.Confirmed, decoded.NewMain)
	require.Equal(t, status.EscrowConfirmed, decoded.NewEscrow)
}

func TestFanOut_UnencodableMetadataIsDropped(t *testing.T) {
	sink := &recordingSink{name: "ok"}
	ev := sampleEvent()
	ev.Metadata = map[string]any{"bad": make(chan int)}

	NewFanOut(sink).NotifyStatusChanged(context.Background(), ev)
	require.Empty(t, sink.payloads)
}

func TestRedisSink_Publish(t *testing.T) {
	mr := miniredis.RunT(t)
	prev := redis.GetClient()
	redis.SetClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { redis.SetClient(prev) })

	ctx := context.Background()
	sub := redis.Subscribe(ctx, "escrow:"+entities.StatusChangedTopic)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	sink := NewRedisSink("escrow:")
	require.Equal(t, "redis", sink.Name())
	require.NoError(t, sink.Publish(ctx, entities.StatusChangedTopic, []byte(`{"x":1}`)))

	select {
	case msg := <-sub.Channel():
		require.Equal(t, `{"x":1}`, msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("redis message not delivered")
	}
}

type stubNATSConn struct {
	subjects []string
	err      error
	closed   bool
}

func (c *stubNATSConn) Publish(subject string, _ []byte) error {
	c.subjects = append(c.subjects, subject)
	return c.err
}

func (c *stubNATSConn) Close() { c.closed = true }

func TestNATSSink(t *testing.T) {
	orig := connectNATS
	t.Cleanup(func() { connectNATS = orig })

	conn := &stubNATSConn{}
	var gotURL string
	connectNATS = func(url string, _ ...nats.Option) (natsConn, error) {
		gotURL = url
		return conn, nil
	}

	sink, err := NewNATSSink("nats://localhost:4222", "escrow.", 0)
	require.NoError(t, err)
	require.Equal(t, "nats://localhost:4222", gotURL)
	require.Equal(t, "nats", sink.Name())

	require.NoError(t, sink.Publish(context.Background(), entities.StatusChangedTopic, []byte("{}")))
	require.Equal(t, []string{"escrow." + entities.StatusChangedTopic}, conn.subjects)

	sink.Close()
	require.True(t, conn.closed)
}

func TestNATSSink_ConnectFailure(t *testing.T) {
	orig := connectNATS
	t.Cleanup(func() { connectNATS = orig })
	connectNATS = func(string, ...nats.Option) (natsConn, error) {
		return nil, nats.ErrNoServers
	}

	_, err := NewNATSSink("nats://nowhere:4222", "", time.Second)
	require.ErrorIs(t, err, nats.ErrNoServers)
}
