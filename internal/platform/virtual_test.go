package platform

import (
	"context"
	"errors"
	"testing"
	"time"
)

func echoHandler(ctx context.Context, message string) (<-chan string, error) {
	ch := make(chan string, 2)
	ch <- "echo: "
	ch <- message
	close(ch)
	return ch, nil
}

func TestVirtualSendMessageAccumulatesChunks(t *testing.T) {
	p := NewVirtual("test", 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx, echoHandler)

	resp, err := p.SendMessage(ctx, "hi")
	if err != nil {
		t.Fatal(err)
	}
	if resp != "echo: hi" {
		t.Fatalf("resp = %q", resp)
	}
}

func TestVirtualSendMessageReportsHandlerErrorInline(t *testing.T) {
	p := NewVirtual("test", 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx, func(ctx context.Context, message string) (<-chan string, error) {
		return nil, errors.New("boom")
	})

	resp, err := p.SendMessage(ctx, "hi")
	if err != nil {
		t.Fatal(err)
	}
	if resp != "[Error: boom]" {
		t.Fatalf("resp = %q", resp)
	}
}

func TestVirtualSendMessageSerializesTurns(t *testing.T) {
	p := NewVirtual("test", 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx, echoHandler)

	for i := 0; i < 5; i++ {
		resp, err := p.SendMessage(ctx, "turn")
		if err != nil {
			t.Fatal(err)
		}
		if resp != "echo: turn" {
			t.Fatalf("resp = %q", resp)
		}
	}
}

func TestVirtualStopUnblocksPendingSendMessage(t *testing.T) {
	p := NewVirtual("test", 0)
	// No Run goroutine consuming the queue, so each send is enqueued
	// but its caller waits for a reply until Stop is called.
	done := make(chan error, 1)
	go func() {
		_, err := p.SendMessage(context.Background(), "a")
		done <- err
	}()
	go func() {
		_, err := p.SendMessage(context.Background(), "b")
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	p.Stop()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error once the platform is stopped")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Stop to unblock SendMessage")
	}
}
