package workpool

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/NIC619/tem-operator-bot/internal/infra/metrics"
)

// FailureHook вызывается, когда фоновая задача завершилась ошибкой.
type FailureHook func(ctx context.Context, task string, err error)

// Pool ограниченный пул фоновых задач. Go блокируется, пока все слоты заняты.
type Pool struct {
	group     *errgroup.Group
	ctx       context.Context
	timeout   time.Duration
	log       zerolog.Logger
	onFailure FailureHook
}

// New создаёт пул размером size. Задачи получают ctx, отвязанный от отмены обработчика,
// но ограниченный taskTimeout.
func New(ctx context.Context, size int, taskTimeout time.Duration, logger zerolog.Logger, onFailure FailureHook) *Pool {
	if size <= 0 {
		size = 4
	}
	if taskTimeout <= 0 {
		taskTimeout = 2 * time.Minute
	}
	g := &errgroup.Group{}
	g.SetLimit(size)
	return &Pool{group: g, ctx: context.WithoutCancel(ctx), timeout: taskTimeout, log: logger, onFailure: onFailure}
}

// Go запускает задачу. Ошибка задачи логируется и передаётся в FailureHook, повторов нет.
func (p *Pool) Go(name string, fn func(ctx context.Context) error) {
	id := uuid.NewString()
	p.group.Go(func() error {
		taskLog := p.log.With().Str("task", name).Str("task_id", id).Logger()
		ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
		defer cancel()

		start := time.Now()
		err := safeRun(ctx, fn)
		metrics.ObserveTask(name, err)
		if err != nil {
			taskLog.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("фоновая задача завершилась ошибкой")
			if p.onFailure != nil {
				p.onFailure(ctx, name, err)
			}
			return nil
		}
		taskLog.Debug().Dur("elapsed", time.Since(start)).Msg("фоновая задача выполнена")
		return nil
	})
}

// Wait дожидается завершения всех запущенных задач.
func (p *Pool) Wait() {
	_ = p.group.Wait()
}

func safeRun(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}
