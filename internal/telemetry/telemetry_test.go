package telemetry

import (
	"context"
	"errors"
	"testing"
)

func TestSetup_NoEndpointUsesInProcessProvider(t *testing.T) {
	ctx := context.Background()
	tracer, shutdown, err := Setup(ctx, "", false)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer shutdown(ctx)

	_, span := tracer.StartExecutorSpan(ctx, "stub", "task-001")
	tracer.EndExecutorSpan(span, "COMPLETE", nil)
}

func TestEndExecutorSpan_RecordsError(t *testing.T) {
	ctx := context.Background()
	tracer, shutdown, err := Setup(ctx, "", false)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer shutdown(ctx)

	_, span := tracer.StartExecutorSpan(ctx, "stub", "task-002")
	tracer.EndExecutorSpan(span, "ERROR", errors.New("executor failed"))
}

func TestLockAndEvidenceSpans(t *testing.T) {
	ctx := context.Background()
	tracer, shutdown, err := Setup(ctx, "", false)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer shutdown(ctx)

	_, lockSpan := tracer.StartLockSpan(ctx, []string{"a.go", "b.go"})
	tracer.EndLockSpan(lockSpan, nil)

	_, evSpan := tracer.StartEvidenceSpan(ctx, "llm-abc-0000")
	tracer.EndEvidenceSpan(evSpan, nil)
}
