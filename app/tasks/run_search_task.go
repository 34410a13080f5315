package tasks

import (
	"context"
	"fmt"
	"log/slog"
)

type RunSearchTask struct {
	Task
	runner SearchRunner
	logger *slog.Logger
}

func NewRunSearchTask(searchName string, runner SearchRunner, logger *slog.Logger) *RunSearchTask {
	return &RunSearchTask{
		Task:   NewTask(TaskTypeRunSearch, searchName),
		runner: runner,
		logger: logger,
	}
}

func (t *RunSearchTask) Execute(ctx context.Context) error {
	result, err := t.runner.RunSearch(ctx, t.SearchName, "")
	if err != nil {
		return fmt.Errorf("failed to run search: %w", err)
	}

	if result.Skipped {
		t.logger.Debug("Search skipped", "search", t.SearchName)
		return nil
	}

	t.logger.Info("Task completed",
		"type", string(t.Type),
		"id", t.ID,
		"search", t.SearchName,
		"duration", t.GetDuration(),
		"total", result.TotalResults,
		"failed_sites", len(result.Failed()))

	return nil
}
