package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// initLogging sends CLI logs and every library logger to w at level or
// above. The returned function flushes and stops the log pipeline.
func initLogging(w io.Writer, level slog.Level) (shutdown func(context.Context) error, err error) {
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))

	exporter, err := stdoutlog.New(stdoutlog.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("failed to create log exporter: %w", err)
	}
	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(minSeverity{
			Processor: sdklog.NewSimpleProcessor(exporter),
			min:       severityOf(level),
		}),
	)
	global.SetLoggerProvider(provider)
	return provider.Shutdown, nil
}

// severityOf maps a slog level the way the otelslog bridge does.
func severityOf(level slog.Level) log.Severity {
	return log.Severity(int(level) + 9)
}

// minSeverity drops records below min.
type minSeverity struct {
	sdklog.Processor
	min log.Severity
}

func (p minSeverity) OnEmit(ctx context.Context, record *sdklog.Record) error {
	if record.Severity() < p.min {
		return nil
	}
	return p.Processor.OnEmit(ctx, record)
}
