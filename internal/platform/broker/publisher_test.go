package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	declared   string
	kind       string
	declareErr error
	published  []amqp.Publishing
	keys       []string
	closed     bool
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	c.declared, c.kind = name, kind
	return c.declareErr
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.keys = append(c.keys, exchange+"/"+key)
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestPublishSendsPersistentJSON(t *testing.T) {
	ch := &fakeChannel{}
	p, err := newPublisher(ch, "backoffice.events")
	require.NoError(t, err)
	require.Equal(t, "backoffice.events", ch.declared)
	require.Equal(t, amqp.ExchangeTopic, ch.kind)

	require.NoError(t, p.Publish(context.Background(), "approval.transitioned", map[string]any{"kind": "carrier", "id": 4}))
	require.Equal(t, []string{"backoffice.events/approval.transitioned"}, ch.keys)
	msg := ch.published[0]
	require.Equal(t, "application/json", msg.ContentType)
	require.Equal(t, amqp.Persistent, msg.DeliveryMode)
	require.NotEmpty(t, msg.MessageId)

	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.Body, &body))
	require.Equal(t, "carrier", body["kind"])
}

func TestPublishAfterClose(t *testing.T) {
	ch := &fakeChannel{}
	p, err := newPublisher(ch, "events")
	require.NoError(t, err)
	require.NoError(t, p.Close())
	require.True(t, ch.closed)
	require.ErrorIs(t, p.Publish(context.Background(), "k", 1), ErrClosed)
	require.NoError(t, p.Close())
}

func TestDeclareFailureClosesChannel(t *testing.T) {
	ch := &fakeChannel{declareErr: errors.New("access refused")}
	_, err := newPublisher(ch, "events")
	require.Error(t, err)
	require.True(t, ch.closed)
}
