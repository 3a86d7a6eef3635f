package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope(t *testing.T) {
	evt := New(TypeIntakeCompleted, map[string]interface{}{"session_id": "s1"})

	raw, err := Marshal(evt)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"INTAKE_COMPLETED"`)

	back, err := Unmarshal(raw)
	require.NoError(t, err)
	assert.Equal(t, TypeIntakeCompleted, back.EventType())
	assert.Equal(t, "s1", back.Payload()["session_id"])
	assert.True(t, evt.Timestamp().Equal(back.Timestamp()))

	_, err = Unmarshal([]byte("not json"))
	assert.Error(t, err)
}
