package pipeline

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionEmitPreservesOrder(t *testing.T) {
	s := newSession("test", 8)

	require.True(t, s.emit(context.Background(), statusEvent("first")))
	require.True(t, s.emit(context.Background(), statusEvent("second")))
	s.close()

	events := collect(s)
	require.Len(t, events, 2)
	assert.Equal(t, "first", events[0].Status.Message)
	assert.Equal(t, "second", events[1].Status.Message)
}

func TestSessionEmitAfterCancel(t *testing.T) {
	s := newSession("test", 8)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, s.emit(ctx, statusEvent("dropped")))
	s.close()
	assert.Empty(t, collect(s))
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	s := newSession("test", 8)
	s.close()
	s.close()
}

func TestGateSingleOwner(t *testing.T) {
	var g Gate

	require.True(t, g.TryAcquire())
	assert.False(t, g.TryAcquire())

	g.Release()
	assert.True(t, g.TryAcquire())
}

func TestEventMarshalFlattensPayload(t *testing.T) {
	data, err := json.Marshal(statusEvent("Executing code..."))
	require.NoError(t, err)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "status", decoded["type"])
	assert.Equal(t, "Executing code...", decoded["message"])
}

func TestEventMarshalCompleteHasOnlyType(t *testing.T) {
	data, err := json.Marshal(Event{Kind: EventComplete})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"complete"}`, string(data))
}

func TestTerminalKinds(t *testing.T) {
	assert.True(t, Event{Kind: EventComplete}.Terminal())
	assert.True(t, errorEvent("boom").Terminal())
	assert.False(t, statusEvent("working").Terminal())
	assert.False(t, codeChunkEvent("df").Terminal())
}
