package observability

import (
	"context"
	"strings"
	"testing"

	"github.com/gatenode-ai/gatenode/internal/eventbus"
)

func TestEventCounterSnapshot(t *testing.T) {
	counter := NewEventCounter()

	counter.OnPublish(eventbus.Envelope{Topic: eventbus.TopicDaemonStatus})
	counter.OnPublish(eventbus.Envelope{Topic: eventbus.TopicDaemonStatus})
	counter.OnPublish(eventbus.Envelope{Topic: eventbus.TopicConfigUpdated})
	counter.OnPublish(eventbus.Envelope{Topic: ""})

	counts := counter.Snapshot()
	if counts[eventbus.TopicDaemonStatus] != 2 {
		t.Errorf("daemon status count = %d, want 2", counts[eventbus.TopicDaemonStatus])
	}
	if counts[eventbus.TopicConfigUpdated] != 1 {
		t.Errorf("config updated count = %d, want 1", counts[eventbus.TopicConfigUpdated])
	}
	if len(counts) != 2 {
		t.Errorf("snapshot has %d topics, want 2", len(counts))
	}

	// Mutating the snapshot must not affect the counter.
	counts[eventbus.TopicDaemonStatus] = 99
	if counter.Snapshot()[eventbus.TopicDaemonStatus] != 2 {
		t.Error("snapshot is not a copy")
	}
}

func TestCounterObservesBusPublishes(t *testing.T) {
	counter := NewEventCounter()
	bus := eventbus.New(eventbus.WithObserver(counter))
	defer bus.Shutdown()

	eventbus.Publish(context.Background(), bus, eventbus.Daemon.Status, eventbus.SourceDaemon, eventbus.DaemonStatusEvent{Running: true})
	eventbus.Publish(context.Background(), bus, eventbus.Daemon.Status, eventbus.SourceDaemon, eventbus.DaemonStatusEvent{Running: false})

	if got := counter.Snapshot()[eventbus.TopicDaemonStatus]; got != 2 {
		t.Fatalf("observed %d publishes, want 2", got)
	}
	if m := bus.Metrics(); m.PublishTotal != 2 {
		t.Fatalf("bus publish total = %d, want 2", m.PublishTotal)
	}
}

func TestExporterOutput(t *testing.T) {
	counter := NewEventCounter()
	bus := eventbus.New(eventbus.WithObserver(counter))
	defer bus.Shutdown()

	eventbus.Publish(context.Background(), bus, eventbus.Daemon.Status, eventbus.SourceDaemon, eventbus.DaemonStatusEvent{Running: true})

	exporter := NewExporter(bus, counter)
	exporter.WithWSClients(func() int { return 3 })

	output := string(exporter.Export())

	for _, want := range []string{
		`gatenode_eventbus_events_total{topic="daemon.status"} 1`,
		"gatenode_eventbus_publish_total 1",
		"gatenode_eventbus_dropped_total 0",
		"gatenode_ws_clients 3",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
}

func TestExporterOmitsUnconfiguredSections(t *testing.T) {
	exporter := NewExporter(nil, nil)
	output := string(exporter.Export())
	if output != "" {
		t.Fatalf("expected empty output, got:\n%s", output)
	}
}
