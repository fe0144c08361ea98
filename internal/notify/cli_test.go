package notify

import (
	"context"
	"testing"

	"github.com/arc-run/arc/pkg/models"
)

func TestCLIChannelDeliversOnlyWhenActive(t *testing.T) {
	ch := NewCLIChannel(4)

	ok, err := ch.Deliver(context.Background(), models.Notification{JobName: "job"})
	if err != nil || ok {
		t.Fatalf("expected no delivery while inactive, ok=%v err=%v", ok, err)
	}

	ch.SetActive(true)
	ok, err = ch.Deliver(context.Background(), models.Notification{JobName: "job"})
	if err != nil || !ok {
		t.Fatalf("expected delivery while active, ok=%v err=%v", ok, err)
	}

	select {
	case n := <-ch.Queue():
		if n.JobName != "job" {
			t.Fatalf("unexpected notification: %+v", n)
		}
	default:
		t.Fatal("expected a queued notification")
	}
}

func TestCLIChannelDeliverDoesNotBlockWhenQueueFull(t *testing.T) {
	ch := NewCLIChannel(1)
	ch.SetActive(true)

	if ok, _ := ch.Deliver(context.Background(), models.Notification{JobName: "a"}); !ok {
		t.Fatal("first delivery should succeed")
	}
	ok, err := ch.Deliver(context.Background(), models.Notification{JobName: "b"})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("delivery into a full queue should report false, not block")
	}
}
