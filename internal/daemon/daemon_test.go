package daemon_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"omnireel/internal/daemon"
	"omnireel/internal/testsupport"
)

type echoProvider struct{}

func (echoProvider) Name() string { return "echo" }

func (echoProvider) Invoke(context.Context, string, json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithCapability("deep-reasoning", "echo"))
	cfg.API.Enabled = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := daemon.New(ctx, cfg, nil, daemon.WithProviders(echoProvider{}))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := d.Status(ctx)
	if !status.Running || !status.Workflow.Running {
		t.Fatalf("status = %+v, want running", status)
	}
	if status.APIAddress == "" {
		t.Fatal("api should be listening")
	}
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	time.Sleep(50 * time.Millisecond)
	if d.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestSecondDaemonIsLockedOut(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()

	first, err := daemon.New(ctx, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { first.Close() })
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}

	second, err := daemon.New(ctx, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { second.Close() })
	err = second.Start(ctx)
	if err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("second Start err = %v, want lock failure", err)
	}
}

func TestNotificationNeedsTopic(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = ""
	d, err := daemon.New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })
	ok, msg, err := d.TestNotification(context.Background())
	if ok || err != nil || !strings.Contains(msg, "not configured") {
		t.Fatalf("TestNotification = %v, %q, %v", ok, msg, err)
	}
}
