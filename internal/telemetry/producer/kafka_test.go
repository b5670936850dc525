package producer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lms-bridge/internal/telemetry/domain"
)

func TestNewKafkaProducer_Disabled(t *testing.T) {
	p, err := NewKafkaProducer(nil, "events")
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = NewKafkaProducer([]string{"localhost:9092"}, "")
	require.NoError(t, err)
	assert.Nil(t, p)

	assert.NoError(t, p.Emit(context.Background(), &domain.Event{EventType: "x"}))
	assert.NoError(t, p.Close())
}

func TestMessage(t *testing.T) {
	ev := domain.NewEvent(domain.EventIdentityProvision, "identity", "u-1", map[string]int{"external_user_id": 7})
	msg, err := message(ev)
	require.NoError(t, err)
	assert.Equal(t, "u-1", string(msg.Key))
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, domain.EventIdentityProvision, string(msg.Headers[0].Value))
	assert.Equal(t, "identity", string(msg.Headers[1].Value))

	var decoded domain.Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, ev.EventType, decoded.EventType)
	assert.JSONEq(t, `{"external_user_id":7}`, string(decoded.Metadata))

	msg, err = message(domain.NewEvent(domain.EventSyncCompleted, "catalog", "", nil))
	require.NoError(t, err)
	assert.Equal(t, domain.EventSyncCompleted, string(msg.Key))
}
