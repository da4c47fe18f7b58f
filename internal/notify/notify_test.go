package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	published []amqp.Publishing
	keys      []string
	err       error
	closed    bool
}

func (f *fakeChannel) Publish(_, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestAMQPPublisher_Publish(t *testing.T) {
	ch := &fakeChannel{}
	p := newAMQPPublisher(ch, "campaign_sends")
	first := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

	err := p.Publish(context.Background(), Event{
		Type:        EventCampaignQueued,
		CampaignID:  3,
		CompanyID:   10,
		Items:       25,
		FirstFireAt: first,
		LastFireAt:  first.Add(time.Minute),
	})
	require.NoError(t, err)
	require.Len(t, ch.published, 1)

	msg := ch.published[0]
	assert.Equal(t, "campaign_sends", ch.keys[0])
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, uint8(amqp.Persistent), msg.DeliveryMode)
	assert.Equal(t, EventCampaignQueued, msg.Type)

	var got Event
	require.NoError(t, json.Unmarshal(msg.Body, &got))
	assert.Equal(t, int64(3), got.CampaignID)
	assert.Equal(t, 25, got.Items)
	assert.False(t, got.OccurredAt.IsZero())
}

func TestAMQPPublisher_Error(t *testing.T) {
	boom := errors.New("channel closed")
	p := newAMQPPublisher(&fakeChannel{err: boom}, "q")
	err := p.Publish(context.Background(), Event{Type: EventCampaignQueued})
	assert.ErrorIs(t, err, boom)
}

func TestAMQPPublisher_CancelledContext(t *testing.T) {
	ch := &fakeChannel{}
	p := newAMQPPublisher(ch, "q")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, p.Publish(ctx, Event{}), context.Canceled)
	assert.Empty(t, ch.published)
}

func TestAMQPPublisher_Close(t *testing.T) {
	ch := &fakeChannel{}
	require.NoError(t, newAMQPPublisher(ch, "q").Close())
	assert.True(t, ch.closed)
}
