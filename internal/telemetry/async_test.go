package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lms-bridge/internal/telemetry/domain"
)

// mockEventEmitter implements EventEmitter for tests.
type mockEventEmitter struct {
	mu      sync.Mutex
	events  []*domain.Event
	emitErr error
	delay   time.Duration
	done    chan struct{}
}

func (m *mockEventEmitter) Emit(ctx context.Context, event *domain.Event) error {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.delay):
		}
	}
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	if m.done != nil {
		m.done <- struct{}{}
	}
	return m.emitErr
}

func (m *mockEventEmitter) getEvents() []*domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Event(nil), m.events...)
}

func waitDone(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("emit did not run")
	}
}

func TestEmitAsync_NilArgs(t *testing.T) {
	EmitAsync(nil, &domain.Event{EventType: "x"})

	emitter := &mockEventEmitter{}
	EmitAsync(emitter, nil)
	time.Sleep(10 * time.Millisecond)
	if n := len(emitter.getEvents()); n != 0 {
		t.Errorf("expected 0 events, got %d", n)
	}
}

func TestEmitAsync_AssignsIDAndEmits(t *testing.T) {
	emitter := &mockEventEmitter{done: make(chan struct{}, 1)}
	EmitAsync(emitter, domain.NewEvent(domain.EventSSOMinted, "sso", "user-1", map[string]string{"redirect": "/my"}))
	waitDone(t, emitter.done)

	events := emitter.getEvents()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].ID == "" {
		t.Error("event ID should be assigned")
	}
	if events[0].UserID != "user-1" || string(events[0].Metadata) != `{"redirect":"/my"}` {
		t.Errorf("event = %+v", events[0])
	}
}

func TestEmitAsync_ErrorIsSwallowed(t *testing.T) {
	emitter := &mockEventEmitter{emitErr: errors.New("broker down"), done: make(chan struct{}, 1)}
	EmitAsync(emitter, &domain.Event{EventType: "x"})
	waitDone(t, emitter.done)
}

func TestMulti_FansOutAndJoinsErrors(t *testing.T) {
	ok := &mockEventEmitter{}
	bad := &mockEventEmitter{emitErr: errors.New("boom")}
	m := Multi(ok, nil, bad)

	err := m.Emit(context.Background(), &domain.Event{EventType: "x"})
	if err == nil || err.Error() != "boom" {
		t.Errorf("err = %v, want boom", err)
	}
	if len(ok.getEvents()) != 1 || len(bad.getEvents()) != 1 {
		t.Error("every emitter should receive the event")
	}
}

func TestNewEvent_UnmarshalableMetadataDropped(t *testing.T) {
	e := domain.NewEvent("x", "test", "", map[string]any{"bad": make(chan int)})
	if e.Metadata != nil {
		t.Errorf("Metadata = %s, want nil", e.Metadata)
	}
	if e.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
}
