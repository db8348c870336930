package events

import (
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestBusPublishOrder(t *testing.T) {
	bus := NewBus(testLogger())
	sub := bus.Subscribe("doc-1")
	defer bus.Unsubscribe(sub)

	statuses := []string{"planning", "drafting", "citation_check", "grammar_check", "readability_check", "done"}
	for i, status := range statuses {
		bus.Publish("doc-1", NewWorkflowStatus("doc-1", status, float64(i*20), nil))
	}

	for i, want := range statuses {
		ev := <-sub.C
		ws, ok := ev.(WorkflowStatus)
		if !ok {
			t.Fatalf("event %d: got %T, want WorkflowStatus", i, ev)
		}
		if ws.Status != want {
			t.Errorf("event %d: status = %q, want %q", i, ws.Status, want)
		}
		if ws.EventKind() != KindWorkflowStatus {
			t.Errorf("event %d: kind = %q, want %q", i, ws.EventKind(), KindWorkflowStatus)
		}
	}
}

func TestBusFanout(t *testing.T) {
	bus := NewBus(testLogger())
	first := bus.Subscribe("doc-1")
	second := bus.Subscribe("doc-1")
	defer bus.Unsubscribe(first)
	defer bus.Unsubscribe(second)

	if got := bus.SubscriberCount("doc-1"); got != 2 {
		t.Fatalf("SubscriberCount = %d, want 2", got)
	}

	bus.Publish("doc-1", NewContentUpdate("doc-1", "draft text", true, "node-1"))

	for _, sub := range []*Subscription{first, second} {
		ev := <-sub.C
		cu, ok := ev.(ContentUpdate)
		if !ok {
			t.Fatalf("got %T, want ContentUpdate", ev)
		}
		if cu.Content != "draft text" || !cu.Preview {
			t.Errorf("got content=%q preview=%v, want draft text/true", cu.Content, cu.Preview)
		}
	}
}

func TestBusDocumentIsolation(t *testing.T) {
	bus := NewBus(testLogger())
	subA := bus.Subscribe("doc-a")
	subB := bus.Subscribe("doc-b")
	defer bus.Unsubscribe(subA)
	defer bus.Unsubscribe(subB)

	bus.Publish("doc-a", NewError("doc-a", "boom", "Draft"))

	ev := <-subA.C
	if ev.EventDocument() != "doc-a" {
		t.Errorf("EventDocument = %q, want doc-a", ev.EventDocument())
	}

	select {
	case ev := <-subB.C:
		t.Fatalf("doc-b subscriber received %v", ev)
	default:
	}
}

func TestBusDropsSlowSubscriber(t *testing.T) {
	var droppedDoc string
	bus := NewBus(testLogger(),
		WithBufferSize(2),
		WithDropHook(func(documentID string) { droppedDoc = documentID }),
	)
	sub := bus.Subscribe("doc-1")

	// Fill the buffer, then overflow it without reading.
	bus.Publish("doc-1", NewPong("doc-1"))
	bus.Publish("doc-1", NewPong("doc-1"))
	bus.Publish("doc-1", NewPong("doc-1"))

	if got := bus.SubscriberCount("doc-1"); got != 0 {
		t.Fatalf("SubscriberCount after overflow = %d, want 0", got)
	}
	if droppedDoc != "doc-1" {
		t.Errorf("drop hook document = %q, want doc-1", droppedDoc)
	}

	// The buffered events remain readable, then the channel closes.
	for i := 0; i < 2; i++ {
		if _, ok := <-sub.C; !ok {
			t.Fatalf("channel closed after %d events, want 2 buffered", i)
		}
	}
	if _, ok := <-sub.C; ok {
		t.Error("channel still open after subscription dropped")
	}
}

func TestBusUnsubscribeIdempotent(t *testing.T) {
	bus := NewBus(testLogger())
	sub := bus.Subscribe("doc-1")

	bus.Unsubscribe(sub)
	bus.Unsubscribe(sub)
	bus.Unsubscribe(nil)

	if got := bus.SubscriberCount("doc-1"); got != 0 {
		t.Fatalf("SubscriberCount = %d, want 0", got)
	}
	if _, ok := <-sub.C; ok {
		t.Error("channel still open after unsubscribe")
	}

	// Publishing to a document with no subscribers must not panic.
	bus.Publish("doc-1", NewPong("doc-1"))
}

func TestEventConstructors(t *testing.T) {
	ce := NewConnectionEstablished("doc-1", "conn-1")
	if ce.EventKind() != KindConnectionEstablished || ce.ConnectionID != "conn-1" {
		t.Errorf("unexpected connection event: %+v", ce)
	}
	if ce.Timestamp.IsZero() {
		t.Error("constructor left timestamp zero")
	}

	score := 72.5
	mu := NewMetricsUpdate("doc-1", "node-9", MetricsSummary{
		ReadabilityScore: &score,
		WordCount:        1200,
	})
	if mu.Metrics.ReadabilityScore == nil || *mu.Metrics.ReadabilityScore != 72.5 {
		t.Errorf("metrics readability = %v, want 72.5", mu.Metrics.ReadabilityScore)
	}
	if mu.EventDocument() != "doc-1" {
		t.Errorf("EventDocument = %q, want doc-1", mu.EventDocument())
	}
}
