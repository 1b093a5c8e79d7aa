// Package janitor 周期性执行清理任务（磁盘容量、过期产物），直到 context 结束。
package janitor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Task 是一个具名清理任务，Sweep 返回本轮删除的条目数。
type Task struct {
	Name  string
	Sweep func(ctx context.Context) int
}

// Run 每隔 interval 依次执行所有任务，阻塞到 ctx 结束。interval <= 0 时立即返回。
func Run(ctx context.Context, interval time.Duration, logger *logrus.Logger, tasks ...Task) {
	if interval <= 0 || len(tasks) == 0 {
		return
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			RunOnce(ctx, logger, tasks...)
		}
	}
}

// RunOnce 执行一轮所有任务；单个任务 panic 不会影响其它任务。
func RunOnce(ctx context.Context, logger *logrus.Logger, tasks ...Task) {
	for _, task := range tasks {
		if ctx.Err() != nil {
			return
		}
		runTask(ctx, logger, task)
	}
}

func runTask(ctx context.Context, logger *logrus.Logger, task Task) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(logrus.Fields{
				"action": "janitor",
				"task":   task.Name,
				"panic":  r,
			}).Error("janitor_task_panic")
		}
	}()

	removed := task.Sweep(ctx)
	logger.WithFields(logrus.Fields{
		"action":     "janitor",
		"task":       task.Name,
		"removed":    removed,
		"elapsed_ms": time.Since(started).Milliseconds(),
	}).Debug("janitor_task_complete")
}
