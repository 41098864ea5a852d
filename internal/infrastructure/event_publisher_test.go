package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
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

func TestKafkaPublisherPublish(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w, log: zerolog.Nop()}

	event := map[string]any{"type": "ticket.created", "ticket_number": "TKT-20240108-AB12"}
	require.NoError(t, p.Publish(context.Background(), "TKT-20240108-AB12", event))

	require.Len(t, w.msgs, 1)
	require.Equal(t, "TKT-20240108-AB12", string(w.msgs[0].Key))
	require.False(t, w.msgs[0].Time.IsZero())

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	require.Equal(t, "ticket.created", decoded["type"])

	require.NoError(t, p.Close())
	require.True(t, w.closed)
}

func TestKafkaPublisherErrors(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := &KafkaPublisher{writer: w, log: zerolog.Nop()}

	require.ErrorContains(t, p.Publish(context.Background(), "k", map[string]string{"a": "b"}), "broker down")
	require.ErrorContains(t, p.Publish(context.Background(), "k", make(chan int)), "encode event")
}

func TestNopPublisher(t *testing.T) {
	require.NoError(t, NopPublisher{}.Publish(context.Background(), "k", struct{}{}))
}
