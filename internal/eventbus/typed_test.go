package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestTypedSubscriptionFiltersPayloads(t *testing.T) {
	bus := New()
	defer bus.Shutdown()

	sub := SubscribeTo(bus, TLSForward.Status)
	defer sub.Close()

	ctx := context.Background()
	// Raw publish with a mismatched payload type on the same topic.
	bus.publish(ctx, Envelope{Topic: TopicTLSForwardStatus, Payload: "not a status"})
	Publish(ctx, bus, TLSForward.Status, SourceTLSForward, TLSForwardStatusEvent{State: "connected", Domain: "node.example.dev"})

	select {
	case env := <-sub.C():
		if env.Payload.State != "connected" || env.Payload.Domain != "node.example.dev" {
			t.Fatalf("payload = %+v", env.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("typed event not delivered")
	}
}

func TestTypedSubscriptionCloseIdempotent(t *testing.T) {
	bus := New()
	defer bus.Shutdown()

	sub := SubscribeTo(bus, Daemon.Status)
	sub.Close()
	sub.Close()

	if _, ok := <-sub.C(); ok {
		t.Fatal("channel should be closed")
	}
}

func TestTypedSubscriptionNilBus(t *testing.T) {
	sub := Subscribe[DaemonStatusEvent](nil, TopicDaemonStatus)
	if _, ok := <-sub.C(); ok {
		t.Fatal("nil-bus typed subscription should be closed")
	}
	sub.Close()
}

func TestPublishWithOptsSetsCorrelation(t *testing.T) {
	bus := New()
	defer bus.Shutdown()

	sub := SubscribeTo(bus, Config.Updated)
	defer sub.Close()

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	PublishWithOpts(context.Background(), bus, Config.Updated, SourceServer,
		ConfigUpdatedEvent{UpdatedBy: "owner"},
		WithCorrelationID("req-42"), WithTimestamp(ts))

	env := <-sub.C()
	if env.CorrelationID != "req-42" {
		t.Fatalf("correlation = %q", env.CorrelationID)
	}
	if !env.Timestamp.Equal(ts) {
		t.Fatalf("timestamp = %v", env.Timestamp)
	}
}

func TestConsumeForwardsUntilCancel(t *testing.T) {
	bus := New()
	defer bus.Shutdown()

	sub := SubscribeTo(bus, Daemon.Status)
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	got := make(chan DaemonStatusEvent, 4)

	wg.Add(1)
	go ConsumeEnvelope(ctx, sub, &wg, func(env TypedEnvelope[DaemonStatusEvent]) {
		got <- env.Payload
	})

	Publish(context.Background(), bus, Daemon.Status, SourceDaemon, DaemonStatusEvent{UserCount: 7})

	select {
	case ev := <-got:
		if ev.UserCount != 7 {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("consumer did not receive event")
	}

	cancel()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop after cancel")
	}
}

func TestServiceLifecycleShutdownStopsWorkers(t *testing.T) {
	bus := New()
	defer bus.Shutdown()

	var lc ServiceLifecycle
	lc.Start(context.Background())

	sub := SubscribeTo(bus, Daemon.Status)
	lc.AddSubscriptions(sub, nil, (*TypedSubscription[DaemonStatusEvent])(nil))

	got := make(chan DaemonStatusEvent, 1)
	stopped := make(chan struct{})
	lc.Go(func(ctx context.Context) {
		ConsumeEnvelope(ctx, sub, nil, func(env TypedEnvelope[DaemonStatusEvent]) {
			got <- env.Payload
		})
		close(stopped)
	})

	Publish(context.Background(), bus, Daemon.Status, SourceDaemon, DaemonStatusEvent{UserCount: 3})
	select {
	case ev := <-got:
		if ev.UserCount != 3 {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("worker did not receive event")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := lc.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	select {
	case <-stopped:
	default:
		t.Fatal("worker still running after shutdown")
	}
}
