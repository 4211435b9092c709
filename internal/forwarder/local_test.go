package forwarder

import (
	"testing"
	"time"
)

func TestLocalForwarderDeliversRequestToSubscribedReplica(t *testing.T) {
	bus := NewLocalBus()
	a := bus.ForReplica("replica-a")
	b := bus.ForReplica("replica-b")

	received := make(chan ForwardedRequest, 1)
	if err := b.Subscribe("replica-b", func(req ForwardedRequest) {
		received <- req
	}, func(ForwardedResult) {}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := a.PublishRequest("replica-b", ForwardedRequest{RequestID: "r1", TargetClientID: "c1"}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case req := <-received:
		if req.RequestID != "r1" {
			t.Fatalf("unexpected request id: %s", req.RequestID)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for forwarded request")
	}
}

func TestLocalForwarderDeliversResultBackToOrigin(t *testing.T) {
	bus := NewLocalBus()
	a := bus.ForReplica("replica-a")
	b := bus.ForReplica("replica-b")

	received := make(chan ForwardedResult, 1)
	if err := a.Subscribe("replica-a", func(ForwardedRequest) {}, func(res ForwardedResult) {
		received <- res
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := b.PublishResult("replica-a", ForwardedResult{RequestID: "r1", Status: 200}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case res := <-received:
		if res.RequestID != "r1" || res.Status != 200 {
			t.Fatalf("unexpected result: %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for forwarded result")
	}
}

func TestLocalForwarderPublishToUnsubscribedReplicaIsNoOp(t *testing.T) {
	bus := NewLocalBus()
	a := bus.ForReplica("replica-a")

	if err := a.PublishRequest("replica-unknown", ForwardedRequest{RequestID: "r1"}); err != nil {
		t.Fatalf("expected no error publishing to an unsubscribed replica, got %v", err)
	}
}
