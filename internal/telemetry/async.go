package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"lms-bridge/internal/telemetry/domain"
)

const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is the pause between gRPC GracefulStop and provider shutdown that lets
// detached emits started by EmitAsync finish.
const ShutdownDrainDuration = emitTimeout

// EmitAsync hands event to emitter on a detached goroutine bounded by emitTimeout. Failures are
// logged and otherwise ignored. A nil emitter or event is a no-op. The event gets an ID if it has
// none.
func EmitAsync(emitter EventEmitter, event *domain.Event) {
	if emitter == nil || event == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	go func(ev *domain.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := emitter.Emit(ctx, ev); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"event_id":   ev.ID,
				"event_type": ev.EventType,
			}).Warn("event emit failed")
		}
	}(event)
}
