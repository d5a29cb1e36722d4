package observability

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/gatenode-ai/gatenode/internal/eventbus"
)

// Exporter renders node metrics in Prometheus text exposition format.
type Exporter struct {
	bus       *eventbus.Bus
	counter   *EventCounter
	wsClients func() int
}

// NewExporter constructs an exporter backed by the provided bus and
// event counter. Either may be nil; the matching sections are omitted.
func NewExporter(bus *eventbus.Bus, counter *EventCounter) *Exporter {
	return &Exporter{
		bus:     bus,
		counter: counter,
	}
}

// WithWSClients enables exporting the current websocket client count.
func (e *Exporter) WithWSClients(provider func() int) {
	e.wsClients = provider
}

// Export produces the metrics payload.
func (e *Exporter) Export() []byte {
	var buf bytes.Buffer

	e.writeEventCounters(&buf)
	e.writeBusMetrics(&buf)
	e.writeWSClients(&buf)

	return buf.Bytes()
}

func (e *Exporter) writeEventCounters(buf *bytes.Buffer) {
	if e.counter == nil {
		return
	}

	counts := e.counter.Snapshot()
	if len(counts) == 0 {
		return
	}

	buf.WriteString("# HELP gatenode_eventbus_events_total Total number of published events per topic.\n")
	buf.WriteString("# TYPE gatenode_eventbus_events_total counter\n")

	topics := make([]string, 0, len(counts))
	for topic := range counts {
		topics = append(topics, string(topic))
	}
	sort.Strings(topics)
	for _, topicName := range topics {
		value := counts[eventbus.Topic(topicName)]
		buf.WriteString(fmt.Sprintf("gatenode_eventbus_events_total{topic=%q} %d\n", topicName, value))
	}
}

func (e *Exporter) writeBusMetrics(buf *bytes.Buffer) {
	if e.bus == nil {
		return
	}

	metrics := e.bus.Metrics()

	buf.WriteString("# HELP gatenode_eventbus_publish_total Total number of events published on the bus.\n")
	buf.WriteString("# TYPE gatenode_eventbus_publish_total counter\n")
	buf.WriteString(fmt.Sprintf("gatenode_eventbus_publish_total %d\n", metrics.PublishTotal))

	buf.WriteString("# HELP gatenode_eventbus_dropped_total Total number of events dropped by slow subscribers.\n")
	buf.WriteString("# TYPE gatenode_eventbus_dropped_total counter\n")
	buf.WriteString(fmt.Sprintf("gatenode_eventbus_dropped_total %d\n", metrics.DroppedTotal))
}

func (e *Exporter) writeWSClients(buf *bytes.Buffer) {
	if e.wsClients == nil {
		return
	}

	buf.WriteString("# HELP gatenode_ws_clients Number of connected websocket status clients.\n")
	buf.WriteString("# TYPE gatenode_ws_clients gauge\n")
	buf.WriteString(fmt.Sprintf("gatenode_ws_clients %d\n", e.wsClients()))
}
