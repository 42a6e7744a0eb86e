package main

import (
	"context"
	"fmt"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"
	orchestration "github.com/koscakluka/ema-kiosk/core"
	"github.com/koscakluka/ema-kiosk/internal/config"
)

func runKiosk(ctx context.Context, cfg config.Config) error {
	backend, err := openBackend(cfg.Audio)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			slog.Warn("failed to close audio backend", "error", err)
		}
	}()

	orchestrator := orchestration.NewOrchestrator(
		orchestration.WithSocketConfig(cfg.SocketConfig()),
		orchestration.WithSessionIssuer(cfg.Issuer()),
		orchestration.WithCaptureDevice(backend.Microphone()),
		orchestration.WithPlaybackSink(backend),
		orchestration.WithVADConfig(cfg.VADConfig()),
		orchestration.WithMaxUtterance(cfg.Conversation.MaxUtterance),
		orchestration.WithCompletionResetDelay(cfg.Conversation.CompletionResetDelay),
	)
	defer orchestrator.Close()

	program := tea.NewProgram(newModel(ctx, orchestrator), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to start terminal interface: %w", err)
	}
	return nil
}
