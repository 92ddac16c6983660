package inbound

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/memohai/switchboard/internal/logger"
)

// task is one independent side effect after the reply.
type task struct {
	name string
	run  func(ctx context.Context) error
}

// runTasks runs tasks in order; a failure or panic in one is logged and the rest still run.
func (p *Processor) runTasks(ctx context.Context, tasks []task) {
	for _, t := range tasks {
		if err := runTask(ctx, t); err != nil {
			logger.FromContext(ctx).Warn("post-processing task failed",
				slog.String("task", t.name),
				slog.Any("error", err))
		}
	}
}

func runTask(ctx context.Context, t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.run(ctx)
}
