package logging

import (
	"context"

	"github.com/rs/zerolog"
)

// ContextHook copies actor_id and request_id from the event's context.
type ContextHook struct{}

func (h ContextHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == nil || ctx == context.Background() {
		return
	}
	if actorID := ActorID(ctx); actorID != "" {
		e.Str("actor_id", actorID)
	}
	if requestID := RequestID(ctx); requestID != "" {
		e.Str("request_id", requestID)
	}
}
