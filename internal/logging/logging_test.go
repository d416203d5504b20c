package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestComponentTagsCmp(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf)

	logger := Component("engine")
	logger.Info().Msg("attached")

	entry := decode(t, &buf)
	assert.Equal(t, "engine", entry["cmp"])
	assert.Equal(t, "attached", entry["message"])
}

func TestContextHookAddsIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Hook(ContextHook{})

	ctx := WithRequestID(WithActorID(context.Background(), "alice"), "req-1")
	logger.Info().Ctx(ctx).Msg("hello")

	entry := decode(t, &buf)
	assert.Equal(t, "alice", entry["actor_id"])
	assert.Equal(t, "req-1", entry["request_id"])
}

func TestContextHookWithoutIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Hook(ContextHook{})

	logger.Info().Ctx(context.Background()).Msg("plain")

	entry := decode(t, &buf)
	assert.NotContains(t, entry, "actor_id")
	assert.NotContains(t, entry, "request_id")
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })

	require.Error(t, Setup(&bytes.Buffer{}, "loud", false))
}

func TestSetupFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })

	require.NoError(t, Setup(&buf, "warn", false))
	l := Component("x")
	l.Info().Msg("dropped")
	assert.Zero(t, buf.Len())
	l.Warn().Msg("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestContextAccessorsEmpty(t *testing.T) {
	assert.Empty(t, ActorID(context.Background()))
	assert.Empty(t, RequestID(context.Background()))
}
