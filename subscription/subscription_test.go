package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/davidarico/dungeon-crawler-chris-sub000/domain"
)

type chanSink struct {
	events chan domain.ChangeEvent
	err    error
}

func newChanSink() *chanSink { return &chanSink{events: make(chan domain.ChangeEvent, 8)} }

func (s *chanSink) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	s.events <- ev
	return s.err
}

func (s *chanSink) next(t *testing.T) domain.ChangeEvent {
	t.Helper()
	select {
	case ev := <-s.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relayed event")
	}
	return domain.ChangeEvent{}
}

func waitForSubscriber(t *testing.T, mr *miniredis.Miniredis, channel string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for mr.PubSubNumSub(channel)[channel] == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("no subscriber on %s", channel)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRedisRelayRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rc.Close()

	logger, _ := test.NewNullLogger()
	sink := newChanSink()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		SubscribeUpdates(ctx, logger, rc, "live-updates", sink)
		close(done)
	}()
	waitForSubscriber(t, mr, "live-updates")

	relay := NewRedisRelay(rc, "live-updates")
	sent := domain.ChangeEvent{
		EntityID:         "p1",
		GameID:           "g1",
		ChangeType:       domain.ChangeUpdate,
		AffectedRelation: domain.RelationEquipment,
		Slot:             "head",
		Timestamp:        "2024-05-01T10:00:00.000000001Z",
	}
	if err := relay.Publish(ctx, sent); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := sink.next(t); got != sent {
		t.Fatalf("relayed event mismatch: got %+v want %+v", got, sent)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("SubscribeUpdates did not return after cancel")
	}
}

func TestRedisSubscriptionSkipsMalformedMessages(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rc.Close()

	logger, hook := test.NewNullLogger()
	sink := newChanSink()
	sink.err = errors.New("hub unavailable")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go SubscribeUpdates(ctx, logger, rc, "live-updates", sink)
	waitForSubscriber(t, mr, "live-updates")

	mr.Publish("live-updates", "{not json")
	mr.Publish("live-updates", `{"gameId":"g1"}`)
	mr.Publish("live-updates", `{"entityId":"p2","timestamp":"T2"}`)

	if got := sink.next(t); got.EntityID != "p2" || got.Timestamp != "T2" {
		t.Fatalf("unexpected event %+v", got)
	}
	var parseErrors int
	for _, e := range hook.AllEntries() {
		if e.Message == "unable to parse relayed update" {
			parseErrors++
		}
	}
	if parseErrors != 2 {
		t.Fatalf("expected 2 parse errors logged, got %d", parseErrors)
	}
}

func TestRedisRelayPublishError(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rc.Close()
	mr.Close()

	relay := NewRedisRelay(rc, "live-updates")
	if err := relay.Publish(context.Background(), domain.ChangeEvent{EntityID: "p1"}); err == nil {
		t.Fatal("expected error from closed redis")
	}
}

func TestConnectNATSUnreachable(t *testing.T) {
	logger, _ := test.NewNullLogger()
	_, err := ConnectNATS(NATSOptions{
		URL:           "nats://127.0.0.1:1",
		MaxReconnects: 0,
		ReconnectWait: 10 * time.Millisecond,
	}, logger)
	if err == nil {
		t.Fatal("expected connection error")
	}
}

func TestConnectNATSRetriesInBackground(t *testing.T) {
	logger, _ := test.NewNullLogger()
	nc, err := ConnectNATS(NATSOptions{
		URL:                  "nats://127.0.0.1:1",
		MaxReconnects:        -1,
		ReconnectWait:        10 * time.Millisecond,
		RetryOnFailedConnect: true,
	}, logger)
	if err != nil {
		t.Fatalf("expected a reconnecting connection, got %v", err)
	}
	defer nc.Close()
	if nc.IsConnected() {
		t.Fatal("connection should not be established")
	}
}

func TestNATSRelayRoundTrip(t *testing.T) {
	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	srv := natsserver.RunServer(&opts)
	defer srv.Shutdown()

	logger, hook := test.NewNullLogger()
	nc, err := ConnectNATS(NATSOptions{URL: srv.ClientURL(), MaxReconnects: -1, ReconnectWait: 10 * time.Millisecond}, logger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()

	sink := newChanSink()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	returned := make(chan error, 1)
	go func() { returned <- SubscribeNATS(ctx, logger, nc, "live.updates", sink) }()
	select {
	case err := <-returned:
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("SubscribeNATS did not return while ctx is live")
	}
	if err := nc.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	relay := NewNATSRelay(nc, "live.updates", logger)
	sent := domain.ChangeEvent{
		EntityID:         "p1",
		GameID:           "g1",
		ChangeType:       domain.ChangeInsert,
		AffectedRelation: domain.RelationItems,
		Timestamp:        "2024-05-01T10:00:00.000000002Z",
	}
	if err := relay.Publish(ctx, sent); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := sink.next(t); got != sent {
		t.Fatalf("relayed event mismatch: got %+v want %+v", got, sent)
	}

	if err := nc.Publish("live.updates", []byte("{not json")); err != nil {
		t.Fatalf("publish raw: %v", err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		var parseErrors int
		for _, e := range hook.AllEntries() {
			if e.Message == "unable to parse relayed update" {
				parseErrors++
			}
		}
		if parseErrors == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("malformed message was not reported")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	deadline = time.Now().Add(2 * time.Second)
	for nc.NumSubscriptions() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription not dropped after cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
