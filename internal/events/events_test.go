package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	e := New(TypeGranted, at)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, TypeGranted, e.Type)
	assert.Equal(t, time.UTC, e.OccurredAt.Location())
	assert.True(t, at.Equal(e.OccurredAt))

	assert.NotEqual(t, e.ID, New(TypeGranted, at).ID)
}

func TestToRecord(t *testing.T) {
	expires := time.Date(2027, 3, 1, 10, 0, 0, 0, time.UTC)
	e := New(TypeRevoked, expires)
	e.PurchaseReference = "cs_123"
	e.Email = "a@x.com"
	e.AccountID = "42"
	e.ExpiresAt = &expires

	record, err := toRecord("enrollments", e)
	require.NoError(t, err)
	assert.Equal(t, "enrollments", record.Topic)
	assert.Equal(t, []byte("cs_123"), record.Key)
	require.Len(t, record.Headers, 1)
	assert.Equal(t, headerEventType, record.Headers[0].Key)
	assert.Equal(t, "enrollment.revoked", string(record.Headers[0].Value))

	var decoded Event
	require.NoError(t, json.Unmarshal(record.Value, &decoded))
	assert.Equal(t, e.ID, decoded.ID)
	assert.Equal(t, "a@x.com", decoded.Email)
	require.NotNil(t, decoded.ExpiresAt)
	assert.True(t, expires.Equal(*decoded.ExpiresAt))
}

func TestNewKafkaPublisherValidation(t *testing.T) {
	_, err := NewKafkaPublisher(nil, "topic")
	assert.Error(t, err)
	_, err = NewKafkaPublisher([]string{"localhost:9092"}, "")
	assert.Error(t, err)
}

func TestKafkaPublishReturnsWhenBrokerUnreachable(t *testing.T) {
	p, err := NewKafkaPublisher([]string{"127.0.0.1:1"}, "enrollments", WithDeliveryTimeout(time.Second))
	require.NoError(t, err)
	t.Cleanup(p.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	started := time.Now()
	err = p.Publish(ctx, New(TypeGranted, started))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish enrollment.granted")
	assert.Less(t, time.Since(started), 5*time.Second)
}

func TestRecorderAndNoop(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, Noop{}.Publish(ctx, New(TypeGranted, time.Now())))

	r := &Recorder{}
	require.NoError(t, r.Publish(ctx, New(TypeGranted, time.Now())))
	require.NoError(t, r.Publish(ctx, New(TypeRevoked, time.Now())))
	require.Len(t, r.Events, 2)
	assert.Equal(t, TypeRevoked, r.Events[1].Type)
}
