package tasks

import (
	"context"
	"fmt"
	"log/slog"
)

type CleanupHistoryTask struct {
	Task
	cleaner       HistoryCleaner
	retentionDays int
	logger        *slog.Logger
}

func NewCleanupHistoryTask(cleaner HistoryCleaner, retentionDays int, logger *slog.Logger) *CleanupHistoryTask {
	return &CleanupHistoryTask{
		Task:          NewTask(TaskTypeCleanupHistory, ""),
		cleaner:       cleaner,
		retentionDays: retentionDays,
		logger:        logger,
	}
}

func (t *CleanupHistoryTask) Execute(ctx context.Context) error {
	removed, err := t.cleaner.Cleanup(ctx, t.retentionDays)
	if err != nil {
		return fmt.Errorf("failed to clean listing history: %w", err)
	}

	t.logger.Info("Task completed",
		"type", string(t.Type),
		"id", t.ID,
		"duration", t.GetDuration(),
		"retention_days", t.retentionDays,
		"removed", removed)

	return nil
}
