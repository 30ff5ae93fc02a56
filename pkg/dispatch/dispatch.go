// Package dispatch runs post-commit side effects of order changes, either inline or on a
// single actor that handles them one at a time in commit order.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

const defaultTaskTimeout = 5 * time.Second

// Task is one side effect. A failing task is logged and never retried.
type Task struct {
	Name    string
	OrderID string
	Run     func(ctx context.Context) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, task Task)
}

// Inline runs tasks on the caller's goroutine with the caller's context.
type Inline struct {
	Logger *zap.Logger
}

func (d Inline) Dispatch(ctx context.Context, task Task) {
	if err := task.Run(ctx); err != nil && d.Logger != nil {
		d.Logger.Warn("Side effect failed",
			zap.String("task", task.Name),
			zap.String("order_id", task.OrderID),
			zap.Error(err))
	}
}

type flush struct{}

type flushed struct {
	Processed int
	Failed    int
}

type sideEffectActor struct {
	logger    *zap.Logger
	timeout   time.Duration
	processed int
	failed    int
}

func (a *sideEffectActor) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *Task:
		runCtx, cancel := context.WithTimeout(context.Background(), a.timeout)
		err := msg.Run(runCtx)
		cancel()

		a.processed++
		if err != nil {
			a.failed++
			a.logger.Warn("Side effect failed",
				zap.String("task", msg.Name),
				zap.String("order_id", msg.OrderID),
				zap.Error(err))
		}

	case *flush:
		ctx.Respond(&flushed{Processed: a.processed, Failed: a.failed})

	case *actor.Started:
		a.logger.Info("Side effect actor started")

	case *actor.Stopped:
		a.logger.Info("Side effect actor stopped",
			zap.Int("processed", a.processed),
			zap.Int("failed", a.failed))
	}
}

// ActorDispatcher hands tasks to an actor, so callers return before the audit store or the
// broker answer. Tasks run with their own timeout, detached from the request context.
type ActorDispatcher struct {
	system *actor.ActorSystem
	pid    *actor.PID
}

func NewActorDispatcher(logger *zap.Logger, taskTimeout time.Duration) (*ActorDispatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if taskTimeout <= 0 {
		taskTimeout = defaultTaskTimeout
	}

	system := actor.NewActorSystem()
	props := actor.PropsFromProducer(func() actor.Actor {
		return &sideEffectActor{logger: logger.Named("side-effect-actor"), timeout: taskTimeout}
	})
	pid, err := system.Root.SpawnNamed(props, "side-effects")
	if err != nil {
		return nil, fmt.Errorf("failed to spawn side effect actor: %w", err)
	}

	return &ActorDispatcher{system: system, pid: pid}, nil
}

func (d *ActorDispatcher) Dispatch(_ context.Context, task Task) {
	d.system.Root.Send(d.pid, &task)
}

// Flush waits until every task sent before it has run and reports the running totals.
func (d *ActorDispatcher) Flush(timeout time.Duration) (processed, failed int, err error) {
	res, err := d.system.Root.RequestFuture(d.pid, &flush{}, timeout).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to flush side effects: %w", err)
	}
	f, ok := res.(*flushed)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected flush response %T", res)
	}
	return f.Processed, f.Failed, nil
}

// Close drains queued tasks and stops the actor.
func (d *ActorDispatcher) Close() error {
	return d.system.Root.PoisonFuture(d.pid).Wait()
}
