package notify

import (
	"context"
	"testing"

	"github.com/arc-run/arc/pkg/models"
)

type fakeChannel struct {
	name       string
	active     bool
	external   bool
	deliverOK  bool
	deliverErr error
	delivered  []models.Notification
}

func (f *fakeChannel) Name() string     { return f.name }
func (f *fakeChannel) IsActive() bool   { return f.active }
func (f *fakeChannel) IsExternal() bool { return f.external }
func (f *fakeChannel) Deliver(ctx context.Context, n models.Notification) (bool, error) {
	if f.deliverErr != nil {
		return false, f.deliverErr
	}
	f.delivered = append(f.delivered, n)
	return f.deliverOK, nil
}

func TestRouterPrefersExternalOverCLI(t *testing.T) {
	r := New()
	external := &fakeChannel{name: "telegram", active: true, external: true, deliverOK: true}
	cli := &fakeChannel{name: "cli", active: true, deliverOK: true}
	file := &fakeChannel{name: "file", active: true, deliverOK: true}
	r.Register(cli)
	r.Register(external)
	r.Register(file)

	r.Notify(context.Background(), models.Notification{JobName: "job"})

	if len(external.delivered) != 1 {
		t.Fatalf("external should receive the notification, got %d", len(external.delivered))
	}
	if len(cli.delivered) != 0 {
		t.Fatalf("cli should be skipped when an external channel delivers, got %d", len(cli.delivered))
	}
	if len(file.delivered) != 1 {
		t.Fatalf("file must always receive the notification, got %d", len(file.delivered))
	}
}

func TestRouterFallsBackToCLIWhenNoExternalDelivers(t *testing.T) {
	r := New()
	external := &fakeChannel{name: "telegram", active: false}
	cli := &fakeChannel{name: "cli", active: true, deliverOK: true}
	file := &fakeChannel{name: "file", active: true, deliverOK: true}
	r.Register(external)
	r.Register(cli)
	r.Register(file)

	r.Notify(context.Background(), models.Notification{JobName: "job"})

	if len(cli.delivered) != 1 {
		t.Fatalf("cli should receive the notification, got %d", len(cli.delivered))
	}
}

func TestRouterAlwaysLogsToFile(t *testing.T) {
	r := New()
	file := &fakeChannel{name: "file", active: true, deliverOK: true}
	r.Register(file)

	r.Notify(context.Background(), models.Notification{JobName: "job"})

	if len(file.delivered) != 1 {
		t.Fatalf("file channel must always receive the notification, got %d", len(file.delivered))
	}
}

func TestRouterSwallowsChannelErrors(t *testing.T) {
	r := New()
	broken := &fakeChannel{name: "telegram", active: true, external: true, deliverErr: errFakeDeliver}
	file := &fakeChannel{name: "file", active: true, deliverOK: true}
	r.Register(broken)
	r.Register(file)

	err := r.Notify(context.Background(), models.Notification{JobName: "job"})
	if err != nil {
		t.Fatalf("Notify must never return an error, got %v", err)
	}
	if len(file.delivered) != 1 {
		t.Fatal("file channel should still receive the notification")
	}
}

var errFakeDeliver = &fakeDeliverError{}

type fakeDeliverError struct{}

func (e *fakeDeliverError) Error() string { return "boom" }
