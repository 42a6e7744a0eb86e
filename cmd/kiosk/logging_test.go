package main

import (
	"context"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

func TestSeverityMatchesSlogLevels(t *testing.T) {
	cases := map[slog.Level]log.Severity{
		slog.LevelDebug: log.SeverityDebug,
		slog.LevelInfo:  log.SeverityInfo,
		slog.LevelWarn:  log.SeverityWarn,
		slog.LevelError: log.SeverityError,
	}
	for level, want := range cases {
		if got := severityOf(level); got != want {
			t.Fatalf("%s: expected severity %d, got %d", level, want, got)
		}
	}
}

func TestMinSeverityDropsQuieterRecords(t *testing.T) {
	next := &countingProcessor{}
	p := minSeverity{Processor: next, min: log.SeverityWarn}

	var debug, warn sdklog.Record
	debug.SetSeverity(log.SeverityDebug)
	warn.SetSeverity(log.SeverityWarn)

	if err := p.OnEmit(context.Background(), &debug); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.OnEmit(context.Background(), &warn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.emitted != 1 {
		t.Fatalf("expected one forwarded record, got %d", next.emitted)
	}
}

type countingProcessor struct {
	emitted int
}

func (p *countingProcessor) OnEmit(context.Context, *sdklog.Record) error {
	p.emitted++
	return nil
}

func (p *countingProcessor) Shutdown(context.Context) error   { return nil }
func (p *countingProcessor) ForceFlush(context.Context) error { return nil }
