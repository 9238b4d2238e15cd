package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
)

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
}

func (p *recordingPublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

func TestDispatcherRunsAllHandlers(t *testing.T) {
	d := NewInMemoryDispatcher()
	calls := 0
	boom := errors.New("boom")
	d.Subscribe(EventMessageAppended, func(context.Context, Event) error { calls++; return boom })
	d.Subscribe(EventMessageAppended, func(context.Context, Event) error { calls++; return nil })

	err := d.Publish(context.Background(), Event{Type: EventMessageAppended})
	if calls != 2 {
		t.Fatalf("expected both handlers to run, got %d", calls)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined handler error, got %v", err)
	}
}

func TestNATSForwarderPublishesPerType(t *testing.T) {
	pub := &recordingPublisher{}
	d := NewInMemoryDispatcher()
	NewNATSForwarder(pub, "inbox.events", nil).Attach(d)

	ctx := context.Background()
	_ = d.Publish(ctx, Event{ID: "e1", Type: EventConversationClosingSoon, ConversationID: "c1"})
	_ = d.Publish(ctx, Event{ID: "e2", Type: EventPatientOptedOut, ConversationID: "c2"})

	if len(pub.subjects) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(pub.subjects))
	}
	if pub.subjects[0] != "inbox.events.conversation_closing_soon" || pub.subjects[1] != "inbox.events.patient_opted_out" {
		t.Errorf("unexpected subjects %v", pub.subjects)
	}
	var decoded Event
	if err := json.Unmarshal(pub.payloads[1], &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded.ConversationID != "c2" {
		t.Errorf("conversation id = %q", decoded.ConversationID)
	}
}

func TestNATSForwarderReturnsPublishError(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("nats down")}
	f := NewNATSForwarder(pub, "inbox.events", nil)
	if err := f.Handle(context.Background(), Event{Type: EventTriageCompleted}); err == nil {
		t.Fatal("expected publish error")
	}
}
