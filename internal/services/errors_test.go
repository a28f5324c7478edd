package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"omnireel/internal/jobs"
	"omnireel/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrTransient, "scripting", "invoke", "provider failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"scripting", "invoke", "provider failed", "boom"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestDispositionMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want jobs.Status
	}{
		{"exhausted", services.Wrap(services.ErrExhausted, "scripting", "invoke", "deep-reasoning", nil), jobs.StatusBlocked},
		{"job timeout", fmt.Errorf("run stage: %w", context.DeadlineExceeded), jobs.StatusBlocked},
		{"validation", services.Wrap(services.ErrValidation, "scripting", "validate", "no sources", nil), jobs.StatusFailed},
		{"fatal", services.Wrap(services.ErrFatal, "ingesting", "invoke", "auth", nil), jobs.StatusFailed},
		{"cancelled", services.Wrap(services.ErrCancelled, "", "", "operator", nil), jobs.StatusFailed},
		{"unknown", errors.New("mystery"), jobs.StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := services.Disposition(tt.err); got != tt.want {
				t.Fatalf("Disposition = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDetailsExtractsStageContext(t *testing.T) {
	err := services.WithHint(
		services.Wrap(services.ErrValidation, "scripting", "validate", "script missing hook", errors.New("empty")),
		"rerun ingestion",
	)
	details := services.Details(fmt.Errorf("run: %w", err))
	if details.Kind != "validation" {
		t.Fatalf("unexpected kind %q", details.Kind)
	}
	if details.Stage != "scripting" || details.Operation != "validate" {
		t.Fatalf("unexpected stage context: %+v", details)
	}
	if details.Hint != "rerun ingestion" {
		t.Fatalf("unexpected hint %q", details.Hint)
	}
	if details.Cause != "empty" {
		t.Fatalf("unexpected cause %q", details.Cause)
	}

	plain := services.Details(errors.New("plain"))
	if plain.Kind != "fatal" || plain.Hint == "" {
		t.Fatalf("unexpected details for plain error: %+v", plain)
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJobID(ctx, "job-1")
	ctx = services.WithStage(ctx, "scripting")
	ctx = services.WithWorker(ctx, "worker-0")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.JobIDFromContext(ctx); !ok || id != "job-1" {
		t.Fatalf("unexpected job id: %v %v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "scripting" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if worker, ok := services.WorkerFromContext(ctx); !ok || worker != "worker-0" {
		t.Fatalf("unexpected worker: %v %v", worker, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	ctx = services.WithJobID(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected blank stage to be ignored")
	}
	if _, ok := services.JobIDFromContext(ctx); ok {
		t.Fatal("expected blank job id to be ignored")
	}
}
