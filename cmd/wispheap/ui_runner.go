package main

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"wisp/internal/ui"
	"wisp/internal/workload"
)

type stressOutcome struct {
	reports []workload.Report
	err     error
}

func runStressWithUI(ctx context.Context, title string, cfg workload.Config, workers int) ([]workload.Report, error) {
	events := make(chan workload.Event, 256)
	outcomeCh := make(chan stressOutcome, 1)

	go func() {
		cfgCopy := cfg
		cfgCopy.Progress = workload.ChannelSink{Ch: events}
		reports, err := workload.RunParallel(ctx, cfgCopy, workers)
		outcomeCh <- stressOutcome{reports: reports, err: err}
		close(events)
	}()

	model := ui.NewProgressModel(title, workers, events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stdout))
	_, uiErr := program.Run()
	outcome := <-outcomeCh
	if uiErr != nil {
		return outcome.reports, uiErr
	}
	return outcome.reports, outcome.err
}
