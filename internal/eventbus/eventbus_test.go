package eventbus

import "testing"

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("s1")
	defer bus.Unsubscribe("s1", sub)

	bus.Publish("s1", SessionState(true))

	select {
	case ev := <-sub.Events():
		if ev.Type != "session_state" {
			t.Fatalf("expected session_state, got %s", ev.Type)
		}
	default:
		t.Fatalf("expected event to be delivered synchronously via buffered channel")
	}
}

func TestPublishNeverBlocksOnFullQueue(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("s1")
	defer bus.Unsubscribe("s1", sub)

	for i := 0; i < subscriberCapacity+10; i++ {
		bus.Publish("s1", SessionState(true))
	}

	if sub.Lagged() == 0 {
		t.Fatalf("expected lagged counter to increment after overflow")
	}
}

func TestPublishToSessionWithNoSubscribersIsNoop(t *testing.T) {
	bus := NewBus()
	bus.Publish("nobody-listening", SessionState(false))
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("s1")
	bus.Unsubscribe("s1", sub)

	_, ok := <-sub.Events()
	if ok {
		t.Fatalf("expected channel to be closed after unsubscribe")
	}
	if bus.SubscriberCount("s1") != 0 {
		t.Fatalf("expected subscriber count 0 after unsubscribe")
	}
}
