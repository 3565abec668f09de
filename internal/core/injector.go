package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/scopechat-server/internal/script"
)

type injection struct {
	channel string
	code    string
	scope   script.Scope
}

// Injector runs injected code off the dispatch path. Each channel gets its
// own worker so injections into one scope run in order while other channels
// keep flowing.
type Injector struct {
	engine    script.Engine
	timeout   time.Duration
	queueSize int
	metrics   *routerMetrics
	log       *zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	workers map[string]chan injection
}

func newInjector(engine script.Engine, timeout time.Duration, queueSize int, m *routerMetrics, logger *zerolog.Logger) *Injector {
	if queueSize <= 0 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Injector{
		engine:    engine,
		timeout:   timeout,
		queueSize: queueSize,
		metrics:   m,
		log:       logger,
		ctx:       ctx,
		cancel:    cancel,
		workers:   make(map[string]chan injection),
	}
}

// Enqueue schedules code for execution in ch's scope. It never blocks;
// returns false if the scope's queue is full or the injector is closed.
func (i *Injector) Enqueue(ch *Channel, code string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return false
	}

	queue, ok := i.workers[ch.Name]
	if !ok {
		queue = make(chan injection, i.queueSize)
		i.workers[ch.Name] = queue
		i.wg.Add(1)
		go i.work(queue)
	}

	select {
	case queue <- injection{channel: ch.Name, code: code, scope: ch.Scope}:
		return true
	default:
		return false
	}
}

func (i *Injector) work(queue <-chan injection) {
	defer i.wg.Done()

	for job := range queue {
		if i.ctx.Err() != nil {
			i.metrics.recordInjection("canceled")
			continue
		}
		i.run(job)
	}
}

func (i *Injector) run(job injection) {
	ctx := i.ctx
	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	start := time.Now()
	err := i.execute(ctx, job)
	logger := i.log.With().Str("channel", job.channel).Str("scope", job.scope.ID()).Dur("took", time.Since(start)).Logger()
	if err != nil {
		i.metrics.recordInjection("error")
		logger.Warn().Err(err).Msg("injection failed")
		return
	}
	i.metrics.recordInjection("ok")
	logger.Debug().Msg("injection executed")
}

// execute shields the worker from engine panics.
func (i *Injector) execute(ctx context.Context, job injection) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panic: %v", r)
		}
	}()
	return i.engine.Execute(ctx, job.code, job.scope)
}

// Close stops accepting injections, cancels running ones and waits for
// workers to exit.
func (i *Injector) Close() {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.closed = true
	i.cancel()
	for _, queue := range i.workers {
		close(queue)
	}
	i.mu.Unlock()

	i.wg.Wait()
}
