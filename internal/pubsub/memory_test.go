package pubsub

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryPubSub_PublishSubscribe(t *testing.T) {
	ps := NewMemoryPubSub()
	defer ps.Close()

	topic := "test-topic"
	received := make(chan *Message, 1)

	// Subscribe
	sub, err := ps.Subscribe(context.Background(), topic, func(ctx context.Context, msg *Message) {
		received <- msg
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	// Publish
	payload, _ := json.Marshal(map[string]string{"test": "data"})
	msg := &Message{
		Topic:   topic,
		Type:    "test.event",
		Payload: payload,
	}

	err = ps.Publish(context.Background(), topic, msg)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	// Wait for message
	select {
	case got := <-received:
		if got.Type != msg.Type {
			t.Errorf("got type %q, want %q", got.Type, msg.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestMemoryPubSub_MultipleSubscribers(t *testing.T) {
	ps := NewMemoryPubSub()
	defer ps.Close()

	topic := "multi-sub"
	var count atomic.Int32
	var wg sync.WaitGroup

	// Create 3 subscribers
	for i := 0; i < 3; i++ {
		wg.Add(1)
		sub, err := ps.Subscribe(context.Background(), topic, func(ctx context.Context, msg *Message) {
			count.Add(1)
			wg.Done()
		})
		if err != nil {
			t.Fatalf("Subscribe %d failed: %v", i, err)
		}
		defer sub.Unsubscribe()
	}

	// Publish one message
	msg := &Message{Topic: topic, Type: "test"}
	ps.Publish(context.Background(), topic, msg)

	// Wait with timeout
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if count.Load() != 3 {
			t.Errorf("got %d deliveries, want 3", count.Load())
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout: only got %d deliveries", count.Load())
	}
}

func TestMemoryPubSub_Unsubscribe(t *testing.T) {
	ps := NewMemoryPubSub()
	defer ps.Close()

	topic := "unsub-test"
	received := make(chan struct{}, 10)

	sub, _ := ps.Subscribe(context.Background(), topic, func(ctx context.Context, msg *Message) {
		received <- struct{}{}
	})

	// First publish should deliver
	ps.Publish(context.Background(), topic, &Message{Topic: topic, Type: "test"})
	select {
	case <-received:
		// ok
	case <-time.After(time.Second):
		t.Fatal("first message not received")
	}

	// Unsubscribe
	sub.Unsubscribe()

	// Give goroutines time to complete
	time.Sleep(50 * time.Millisecond)

	// Second publish should not deliver
	ps.Publish(context.Background(), topic, &Message{Topic: topic, Type: "test"})

	select {
	case <-received:
		t.Error("received message after unsubscribe")
	case <-time.After(100 * time.Millisecond):
		// ok - no message received
	}
}

func TestMemoryPubSub_Close(t *testing.T) {
	ps := NewMemoryPubSub()

	topic := "close-test"
	ps.Subscribe(context.Background(), topic, func(ctx context.Context, msg *Message) {})

	if ps.TopicCount() != 1 {
		t.Errorf("expected 1 topic, got %d", ps.TopicCount())
	}

	ps.Close()

	if ps.TopicCount() != 0 {
		t.Errorf("expected 0 topics after close, got %d", ps.TopicCount())
	}

	// Operations should fail after close
	err := ps.Publish(context.Background(), topic, &Message{})
	if err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	_, err = ps.Subscribe(context.Background(), topic, func(ctx context.Context, msg *Message) {})
	if err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestMemoryPubSub_NoSubscribers(t *testing.T) {
	ps := NewMemoryPubSub()
	defer ps.Close()

	// Publishing to topic with no subscribers should not error
	err := ps.Publish(context.Background(), "empty-topic", &Message{Type: "test"})
	if err != nil {
		t.Errorf("publish to empty topic failed: %v", err)
	}
}

func TestMemoryPubSub_PreservesOrder(t *testing.T) {
	ps := NewMemoryPubSub()
	defer ps.Close()

	topic := Topics.Call("order")
	const n = 200
	got := make(chan string, n)

	sub, err := ps.Subscribe(context.Background(), topic, func(ctx context.Context, msg *Message) {
		// A slow first delivery must not let later messages overtake it.
		if msg.Type == "0" {
			time.Sleep(20 * time.Millisecond)
		}
		got <- msg.Type
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	for i := 0; i < n; i++ {
		if err := ps.Publish(context.Background(), topic, &Message{Topic: topic, Type: strconv.Itoa(i)}); err != nil {
			t.Fatalf("Publish %d failed: %v", i, err)
		}
	}

	for i := 0; i < n; i++ {
		select {
		case typ := <-got:
			if typ != strconv.Itoa(i) {
				t.Fatalf("message %d: got type %q", i, typ)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for message %d", i)
		}
	}
}

func TestMemoryPubSub_ConcurrentPublishersSameOrderForAll(t *testing.T) {
	ps := NewMemoryPubSub()
	defer ps.Close()

	topic := Topics.Call("fanout")
	const publishers, perPublisher = 8, 50
	const total = publishers * perPublisher

	var seqs [2]chan string
	for i := range seqs {
		ch := make(chan string, total)
		seqs[i] = ch
		sub, err := ps.Subscribe(context.Background(), topic, func(ctx context.Context, msg *Message) {
			ch <- msg.Type
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
		defer sub.Unsubscribe()
	}

	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				typ := strconv.Itoa(p) + "-" + strconv.Itoa(i)
				if err := ps.Publish(context.Background(), topic, &Message{Topic: topic, Type: typ}); err != nil {
					t.Errorf("Publish failed: %v", err)
				}
			}
		}(p)
	}
	wg.Wait()

	for i := 0; i < total; i++ {
		var a, b string
		select {
		case a = <-seqs[0]:
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for message %d on first subscriber", i)
		}
		select {
		case b = <-seqs[1]:
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for message %d on second subscriber", i)
		}
		if a != b {
			t.Fatalf("message %d: subscribers disagree, %q vs %q", i, a, b)
		}
	}
}

func TestMemoryPubSub_CloseTwice(t *testing.T) {
	ps := NewMemoryPubSub()
	if err := ps.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := ps.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage("call:1", "turn.changed", map[string]int{"current_turn": 2})
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	if msg.Topic != "call:1" || msg.Type != "turn.changed" {
		t.Errorf("unexpected message %+v", msg)
	}
	if string(msg.Payload) != `{"current_turn":2}` {
		t.Errorf("unexpected payload %s", msg.Payload)
	}

	if _, err := NewMessage("call:1", "bad", make(chan int)); err == nil {
		t.Error("expected error for unencodable payload")
	}
}

func TestTopicBuilder(t *testing.T) {
	tests := []struct {
		name   string
		method func() string
		want   string
	}{
		{"Call", func() string { return Topics.Call("789") }, "call:789"},
		{"Signals", func() string { return Topics.Signals("789") }, "signals:789"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.method()
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
