package security

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestAlerter(t *testing.T) *Alerter {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewAlerter(client, "test:alerts")
}

func TestAlerterObserveTriggers(t *testing.T) {
	alerter := newTestAlerter(t)
	ctx := context.Background()
	var last AlertResult
	for i := 0; i < 10; i++ {
		result, err := alerter.Observe(ctx, EventRespond, OutcomeFail, "127.0.0.1")
		if err != nil {
			t.Fatalf("observe: %v", err)
		}
		last = result
	}
	if !last.Triggered || last.Count != 10 {
		t.Fatalf("expected alert threshold to trigger, got %+v", last)
	}
}

func TestAlerterObserveIgnoresUnknownRule(t *testing.T) {
	alerter := newTestAlerter(t)
	result, err := alerter.Observe(context.Background(), "candidature.custom", "success", "127.0.0.1")
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if result.Triggered || result.Count != 0 {
		t.Fatalf("unexpected result for unknown rule: %+v", result)
	}
}

func TestNilAlerterIsNoop(t *testing.T) {
	var alerter *Alerter
	if _, err := alerter.Observe(context.Background(), EventSubmit, OutcomeFail, "1.2.3.4"); err != nil {
		t.Fatalf("nil alerter should not error: %v", err)
	}
	if NewAlerter(nil, "") != nil {
		t.Fatalf("expected nil alerter without client")
	}
}
