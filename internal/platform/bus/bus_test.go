package bus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDeliversToSubscribers(t *testing.T) {
	m := NewMemory()
	var got []string
	m.Subscribe(func(_ context.Context, msg Message) error {
		got = append(got, msg.ID)
		return nil
	})
	boom := errors.New("consumer down")
	fail := true
	m.Subscribe(func(context.Context, Message) error {
		if fail {
			fail = false
			return boom
		}
		return nil
	})

	err := m.Publish(context.Background(), Message{ID: "a", RoutingKey: "deposit.settled"})
	assert.ErrorIs(t, err, boom)
	require.NoError(t, m.Publish(context.Background(), Message{ID: "a", RoutingKey: "deposit.settled"}))
	assert.Equal(t, []string{"a", "a"}, got)
	assert.Len(t, m.Messages(), 2)

	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.Publish(context.Background(), Message{ID: "b"}), ErrClosed)
}

func TestKafkaMessageMapping(t *testing.T) {
	msg := Message{
		ID: "01HX", Source: "wallet", EventType: "withdrawal.reserved", RoutingKey: "withdrawal.reserved",
		Key: "p1", Payload: []byte(`{"amountMinor":5}`), Headers: map[string]string{"correlation-id": "c1"},
	}
	km := toKafka("wallet.", msg)
	assert.Equal(t, "wallet.withdrawal.reserved", km.Topic)
	assert.Equal(t, []byte("p1"), km.Key)

	back := fromKafka(km)
	assert.Equal(t, msg, back)

	// Messages without wallet headers get a stable id from their position.
	foreign := fromKafka(kafka.Message{Topic: "provider.events", Partition: 2, Offset: 41, Value: []byte(`{}`)})
	assert.Equal(t, "provider.events/2/41", foreign.ID)
	assert.Equal(t, "provider.events", foreign.RoutingKey)
}

func TestKafkaKeyDefaultsToMessageID(t *testing.T) {
	km := toKafka("", Message{ID: "evt-9", RoutingKey: "bet.placed"})
	assert.Equal(t, []byte("evt-9"), km.Key)
	assert.Equal(t, "bet.placed", km.Topic)
}

func TestRedisPublisher(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	p := NewRedisPublisher(rdb, "wallet:")
	msg := Message{ID: "e1", EventType: "deposit.settled", RoutingKey: "deposit.settled", Payload: []byte(`{}`)}
	payload, err := json.Marshal(msg)
	require.NoError(t, err)

	mock.ExpectPublish("wallet:deposit.settled", payload).SetVal(1)
	require.NoError(t, p.Publish(context.Background(), msg))

	mock.ExpectPublish("wallet:deposit.settled", payload).SetErr(errors.New("connection refused"))
	assert.Error(t, p.Publish(context.Background(), msg))
	assert.NoError(t, mock.ExpectationsWereMet())
}

type recording struct {
	ids []string
	err error
}

func (r *recording) Publish(_ context.Context, msg Message) error {
	r.ids = append(r.ids, msg.ID)
	return r.err
}

func TestFanoutStopsAtFirstFailure(t *testing.T) {
	first := &recording{err: errors.New("down")}
	second := &recording{}
	err := Fanout{first, second}.Publish(context.Background(), Message{ID: "x"})
	assert.Error(t, err)
	assert.Equal(t, []string{"x"}, first.ids)
	assert.Empty(t, second.ids)
}
