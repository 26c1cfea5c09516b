package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
)

func TestChannelBus(t *testing.T) {
	ctx := context.Background()

	t.Run("PublishSubscribe", func(t *testing.T) {
		b := NewChannelBus(10)
		defer b.Close()

		received := make(chan *domain.Message, 1)
		_, err := b.Subscribe(ctx, domain.TopicVerdict, func(ctx context.Context, msg *domain.Message) error {
			received <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}

		if err := b.Publish(ctx, domain.TopicVerdict, []byte(`{"txId":"tx-1"}`)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		select {
		case msg := <-received:
			if string(msg.Payload) != `{"txId":"tx-1"}` {
				t.Errorf("unexpected payload: %s", msg.Payload)
			}
			if msg.Topic != domain.TopicVerdict {
				t.Errorf("unexpected topic: %s", msg.Topic)
			}
		case <-time.After(time.Second):
			t.Fatal("message not delivered")
		}
	})

	t.Run("TopicIsolation", func(t *testing.T) {
		b := NewChannelBus(10)
		defer b.Close()

		var mu sync.Mutex
		var got []string
		_, _ = b.Subscribe(ctx, domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
			mu.Lock()
			got = append(got, msg.Topic)
			mu.Unlock()
			return nil
		})

		_ = b.Publish(ctx, domain.TopicVerdict, []byte("v"))
		_ = b.Publish(ctx, domain.TopicAlert, []byte("a"))

		time.Sleep(50 * time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		if len(got) != 1 || got[0] != domain.TopicAlert {
			t.Errorf("expected only alert topic, got %v", got)
		}
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		b := NewChannelBus(10)
		defer b.Close()

		var count sync.WaitGroup
		count.Add(2)
		for i := 0; i < 2; i++ {
			_, _ = b.Subscribe(ctx, domain.TopicTransactionIngested, func(ctx context.Context, msg *domain.Message) error {
				count.Done()
				return nil
			})
		}

		_ = b.Publish(ctx, domain.TopicTransactionIngested, []byte("tx"))

		done := make(chan struct{})
		go func() { count.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("not all subscribers received the message")
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		b := NewChannelBus(10)
		defer b.Close()

		received := make(chan struct{}, 10)
		sub, _ := b.Subscribe(ctx, domain.TopicVerdict, func(ctx context.Context, msg *domain.Message) error {
			received <- struct{}{}
			return nil
		})

		_ = sub.Unsubscribe()
		time.Sleep(10 * time.Millisecond)
		_ = b.Publish(ctx, domain.TopicVerdict, []byte("v"))

		select {
		case <-received:
			t.Error("received message after unsubscribe")
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("ClosedBusRejectsPublish", func(t *testing.T) {
		b := NewChannelBus(10)
		b.Close()

		if err := b.Publish(ctx, domain.TopicVerdict, []byte("v")); err == nil {
			t.Error("expected error publishing to closed bus")
		}
		if err := b.Ping(ctx); err == nil {
			t.Error("expected ping failure on closed bus")
		}
	})
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 10})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer b.Close()

		if err := b.Ping(context.Background()); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		_, err := New(domain.EventBusConfig{Type: "kafka"})
		if err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
