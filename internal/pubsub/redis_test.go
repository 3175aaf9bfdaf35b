package pubsub

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/4xmen/goftegu/pkg/config"
	"github.com/4xmen/goftegu/pkg/protocol"
)

func TestRedisBusRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDRESS")
	if addr == "" {
		t.Skip("REDIS_ADDRESS not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bus, err := NewRedis(ctx, config.RedisConfig{Address: addr, ChannelPrefix: "goftegu-test:" + t.Name()})
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer bus.Close()

	got := make(chan *Frame, 1)
	listenCtx, stop := context.WithCancel(ctx)
	defer stop()
	go bus.Listen(listenCtx, func(f *Frame) {
		select {
		case got <- f:
		default:
		}
	})

	env, _ := protocol.NewEnvelope(protocol.EventUserTyping, protocol.TypingNotice{ConversationID: 3, Name: "bob"})
	want := &Frame{Group: "room:3", Except: "conn-1", Event: env}

	// The subscription may not be confirmed yet; publish until it arrives.
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if err := bus.Publish(ctx, want); err != nil {
			t.Fatalf("Publish: %v", err)
		}
		select {
		case f := <-got:
			if f.Group != want.Group || f.Except != want.Except || f.Event.Type != protocol.EventUserTyping {
				t.Fatalf("received %+v", f)
			}
			return
		case <-ticker.C:
		case <-ctx.Done():
			t.Fatal("timed out waiting for frame")
		}
	}
}

func TestChannel(t *testing.T) {
	b := &RedisBus{prefix: "p"}
	if got := b.Channel("user:4"); got != "p:user:4" {
		t.Fatalf("Channel = %q", got)
	}
}
