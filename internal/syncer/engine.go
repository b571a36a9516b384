// Package syncer drains the local queues into their upstreams. Each domain
// has one worker; a worker runs at most one cycle at a time and owns its
// status.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Kellyhimself/POS-sub002/internal/domain"
	"github.com/Kellyhimself/POS-sub002/internal/event"
	apperrors "github.com/Kellyhimself/POS-sub002/pkg/errors"
)

const tracerName = "github.com/Kellyhimself/POS-sub002/internal/syncer"

var (
	// ErrCycleInProgress is returned when a cycle for the domain is already
	// running; the trigger is dropped.
	ErrCycleInProgress = errors.New("sync cycle already in progress")
	// ErrOffline is returned when a cycle is requested while offline.
	ErrOffline = errors.New("device is offline")
)

// Queue is the local store as seen by the engine.
type Queue interface {
	QueryUnsynced(ctx context.Context, d domain.Domain, storeID string) ([]domain.QueueItem, error)
	MarkSynced(ctx context.Context, d domain.Domain, id string, rev int64, response json.RawMessage) error
	MarkFailed(ctx context.Context, d domain.Domain, id string, rev int64, reason string) error
	RecordAttempt(ctx context.Context, d domain.Domain, id string, rev int64, lastErr string) error
	Counts(ctx context.Context, d domain.Domain) (domain.QueueCounts, error)
}

// ModeSource reports whether the device is online.
type ModeSource interface {
	IsOnline() bool
}

// Config holds engine settings.
type Config struct {
	StoreID string
	// Interval is the periodic trigger per domain. Zero disables it.
	Interval time.Duration
}

// Engine owns one worker per registered handler.
type Engine struct {
	cfg    Config
	queue  Queue
	mode   ModeSource
	events *event.Publisher
	logger *slog.Logger
	now    func() time.Time

	order   []domain.Domain
	workers map[domain.Domain]*worker

	subMu   sync.RWMutex
	subs    map[int]func(Status)
	nextSub int

	// deltas is read-held while a stock-moving domain drains and held
	// exclusively by reconciliation, so a delta the remote has applied is
	// never still counted as pending.
	deltas sync.RWMutex

	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type worker struct {
	handler Handler
	logger  *slog.Logger
	trigger chan struct{}

	cycle sync.Mutex

	mu     sync.RWMutex
	status Status
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for status timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithEvents publishes item outcomes through p.
func WithEvents(p *event.Publisher) Option {
	return func(e *Engine) { e.events = p }
}

// NewEngine creates an engine with one worker per handler.
func NewEngine(cfg Config, queue Queue, mode ModeSource, handlers []Handler, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		cfg:     cfg,
		queue:   queue,
		mode:    mode,
		logger:  logger,
		now:     time.Now,
		workers: make(map[domain.Domain]*worker, len(handlers)),
		subs:    make(map[int]func(Status)),
	}
	for _, opt := range opts {
		opt(e)
	}
	for _, h := range handlers {
		d := h.Domain()
		e.order = append(e.order, d)
		e.workers[d] = &worker{
			handler: h,
			logger:  logger.With(slog.String("domain", string(d))),
			trigger: make(chan struct{}, 1),
			status:  Status{Domain: d},
		}
	}
	return e
}

// Start launches the workers and the periodic schedule. Queue counts are
// loaded first so Status is meaningful before the first cycle.
func (e *Engine) Start(ctx context.Context) error {
	for _, d := range e.order {
		if err := e.refreshCounts(ctx, e.workers[d]); err != nil {
			return err
		}
	}

	ctx, e.cancel = context.WithCancel(ctx)
	for _, d := range e.order {
		w := e.workers[d]
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.loop(ctx, w)
		}()
	}

	if e.cfg.Interval > 0 {
		e.cron = cron.New(cron.WithLocation(time.UTC))
		for _, d := range e.order {
			e.cron.Schedule(cron.Every(e.cfg.Interval), cron.FuncJob(func() {
				_ = e.Trigger(d)
			}))
		}
		e.cron.Start()
	}

	e.logger.Info("sync engine started",
		slog.Int("domains", len(e.order)),
		slog.Duration("interval", e.cfg.Interval),
	)
	return nil
}

// Stop halts the schedule, cancels running cycles and waits for workers.
func (e *Engine) Stop() {
	if e.cron != nil {
		<-e.cron.Stop().Done()
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

func (e *Engine) loop(ctx context.Context, w *worker) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.trigger:
			_, err := e.runCycle(ctx, w)
			if err != nil && !errors.Is(err, ErrOffline) && !errors.Is(err, ErrCycleInProgress) {
				w.logger.Error("sync cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Trigger asks the domain's worker to run a cycle. Triggers coalesce: while
// one is waiting, further ones are dropped.
func (e *Engine) Trigger(d domain.Domain) error {
	w, ok := e.workers[d]
	if !ok {
		return apperrors.InvalidInput(fmt.Sprintf("unknown sync domain %q", d))
	}
	select {
	case w.trigger <- struct{}{}:
	default:
	}
	return nil
}

// TriggerAll triggers every domain.
func (e *Engine) TriggerAll() {
	for _, d := range e.order {
		_ = e.Trigger(d)
	}
}

// OnModeChanged is a mode listener: going online drains every queue.
func (e *Engine) OnModeChanged(ev domain.ModeChanged) {
	if ev.Mode == domain.ModeOnline {
		e.logger.Info("device online, triggering sync", slog.String("reason", ev.Reason))
		e.TriggerAll()
	}
}

// RunCycle runs one cycle for d in the caller's goroutine.
func (e *Engine) RunCycle(ctx context.Context, d domain.Domain) (CycleResult, error) {
	w, ok := e.workers[d]
	if !ok {
		return CycleResult{}, apperrors.InvalidInput(fmt.Sprintf("unknown sync domain %q", d))
	}
	return e.runCycle(ctx, w)
}

func (e *Engine) runCycle(ctx context.Context, w *worker) (res CycleResult, err error) {
	if !e.mode.IsOnline() {
		return CycleResult{}, ErrOffline
	}
	if !w.cycle.TryLock() {
		return CycleResult{}, ErrCycleInProgress
	}
	defer w.cycle.Unlock()

	d := w.handler.Domain()
	res = CycleResult{Domain: d, Started: e.now().UTC()}
	e.update(w, func(s *Status) { s.Running = true })

	ctx, span := otel.Tracer(tracerName).Start(ctx, "sync.cycle",
		trace.WithAttributes(attribute.String("sync.domain", string(d))),
	)
	start := time.Now()
	defer func() {
		cycleDuration.WithLabelValues(string(d)).Observe(time.Since(start).Seconds())
		span.SetAttributes(
			attribute.Int("sync.synced", res.Synced),
			attribute.Int("sync.failed", res.Failed),
			attribute.Int("sync.deferred", res.Deferred),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if d.MovesStock() {
		e.deltas.RLock()
	}
	lastItemErr, err := e.drain(ctx, w, &res)
	if d.MovesStock() {
		e.deltas.RUnlock()
	}
	if err == nil {
		if r, ok := w.handler.(Reconciler); ok && res.Deferred == 0 {
			e.deltas.Lock()
			rerr := r.Reconcile(ctx, e.cfg.StoreID)
			e.deltas.Unlock()
			if rerr != nil {
				w.logger.WarnContext(ctx, "reconciliation failed", slog.String("error", rerr.Error()))
				lastItemErr = rerr.Error()
			}
		}
	}
	res.Finished = e.now().UTC()

	result := "ok"
	if err != nil {
		result = "error"
	}
	cyclesTotal.WithLabelValues(string(d), result).Inc()

	countErr := e.refreshCounts(context.WithoutCancel(ctx), w)
	e.update(w, func(s *Status) {
		s.Running = false
		s.LastCycle = &res
		switch {
		case err != nil:
			s.LastError = err.Error()
		case lastItemErr != "":
			s.LastError = lastItemErr
		default:
			s.LastError = ""
		}
		if err == nil {
			t := res.Finished
			s.LastSyncTime = &t
		}
	})
	if countErr != nil && err == nil {
		err = countErr
	}

	w.logger.InfoContext(ctx, "sync cycle finished",
		slog.Int("synced", res.Synced),
		slog.Int("failed", res.Failed),
		slog.Int("deferred", res.Deferred),
		slog.Duration("duration", res.Finished.Sub(res.Started)),
	)
	return res, err
}

// drain pushes every unsynced item once. Item-level failures never abort
// the cycle; only a local persistence failure does.
func (e *Engine) drain(ctx context.Context, w *worker, res *CycleResult) (string, error) {
	d := w.handler.Domain()
	items, err := e.queue.QueryUnsynced(ctx, d, e.cfg.StoreID)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "", nil
	}

	var lastItemErr string
	apply := func(item domain.QueueItem, out domain.Outcome) error {
		msg, err := e.apply(ctx, w, item, out, res)
		if msg != "" {
			lastItemErr = msg
		}
		return err
	}

	if bh, ok := w.handler.(BatchHandler); ok && bh.BatchSize() > 0 {
		size := bh.BatchSize()
		for start := 0; start < len(items); start += size {
			if ctx.Err() != nil {
				return lastItemErr, ctx.Err()
			}
			chunk := items[start:min(start+size, len(items))]
			outcomes := bh.SyncBatch(ctx, chunk)
			for i, item := range chunk {
				if err := apply(item, outcomes[i]); err != nil {
					return lastItemErr, err
				}
			}
		}
		return lastItemErr, nil
	}

	for _, item := range items {
		if ctx.Err() != nil {
			return lastItemErr, ctx.Err()
		}
		if err := apply(item, w.handler.Sync(ctx, item)); err != nil {
			return lastItemErr, err
		}
	}
	return lastItemErr, nil
}

// apply settles the revision of item that was delivered. An item rewritten
// meanwhile is left pending for the next cycle and counted as deferred.
func (e *Engine) apply(ctx context.Context, w *worker, item domain.QueueItem, out domain.Outcome, res *CycleResult) (string, error) {
	msg, err := e.settle(ctx, w, item, out, res)
	if errors.Is(err, apperrors.ErrConflict) {
		res.Deferred++
		itemsTotal.WithLabelValues(string(item.Domain), "changed").Inc()
		w.logger.InfoContext(ctx, "queue item changed during sync, left pending",
			slog.String("item_id", item.ID),
			slog.Int64("revision", item.Revision),
		)
		return "", nil
	}
	return msg, err
}

func (e *Engine) settle(ctx context.Context, w *worker, item domain.QueueItem, out domain.Outcome, res *CycleResult) (string, error) {
	d := item.Domain
	switch o := out.(type) {
	case domain.Success:
		if err := e.queue.MarkSynced(ctx, d, item.ID, item.Revision, o.Response); err != nil {
			return "", err
		}
		res.Synced++
		itemsTotal.WithLabelValues(string(d), "synced").Inc()
		e.events.Synced(ctx, item)
		return "", nil

	case domain.Failed:
		if err := e.queue.MarkFailed(ctx, d, item.ID, item.Revision, o.Reason); err != nil {
			return "", err
		}
		res.Failed++
		itemsTotal.WithLabelValues(string(d), "failed").Inc()
		w.logger.WarnContext(ctx, "queue item rejected",
			slog.String("item_id", item.ID),
			slog.String("reason", o.Reason),
		)
		item.Attempts++
		e.events.Failed(ctx, item, o.Reason)
		return o.Reason, nil

	case domain.Pending:
		msg := "deferred"
		if o.Err != nil {
			msg = o.Err.Error()
		}
		if err := e.queue.RecordAttempt(ctx, d, item.ID, item.Revision, msg); err != nil {
			return "", err
		}
		res.Deferred++
		itemsTotal.WithLabelValues(string(d), "deferred").Inc()
		w.logger.DebugContext(ctx, "queue item deferred",
			slog.String("item_id", item.ID),
			slog.String("error", msg),
		)
		item.Attempts++
		e.events.Deferred(ctx, item, o.Err)
		return msg, nil
	}
	return "", fmt.Errorf("unknown outcome %T for %s/%s", out, d, item.ID)
}

func (e *Engine) refreshCounts(ctx context.Context, w *worker) error {
	d := w.handler.Domain()
	counts, err := e.queue.Counts(ctx, d)
	if err != nil {
		return err
	}
	queueDepth.WithLabelValues(string(d), string(domain.StatusPending)).Set(float64(counts.Pending))
	queueDepth.WithLabelValues(string(d), string(domain.StatusFailed)).Set(float64(counts.Failed))
	e.update(w, func(s *Status) {
		s.Pending = counts.Pending
		s.Failed = counts.Failed
	})
	return nil
}

// Refresh reloads queue counts for d, as after a local write.
func (e *Engine) Refresh(ctx context.Context, d domain.Domain) error {
	w, ok := e.workers[d]
	if !ok {
		return apperrors.InvalidInput(fmt.Sprintf("unknown sync domain %q", d))
	}
	return e.refreshCounts(ctx, w)
}

func (e *Engine) update(w *worker, fn func(*Status)) {
	w.mu.Lock()
	fn(&w.status)
	snapshot := w.status.clone()
	w.mu.Unlock()

	e.subMu.RLock()
	subs := make([]func(Status), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.subMu.RUnlock()
	for _, fn := range subs {
		fn(snapshot)
	}
}

// Status returns a snapshot of d's worker status.
func (e *Engine) Status(d domain.Domain) (Status, bool) {
	w, ok := e.workers[d]
	if !ok {
		return Status{}, false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status.clone(), true
}

// Statuses returns every worker's status in registration order.
func (e *Engine) Statuses() []Status {
	out := make([]Status, 0, len(e.order))
	for _, d := range e.order {
		s, _ := e.Status(d)
		out = append(out, s)
	}
	return out
}

// Domains lists the registered domains.
func (e *Engine) Domains() []domain.Domain {
	return append([]domain.Domain(nil), e.order...)
}

// Subscribe registers fn for every status change and returns a function
// that removes it. fn runs on the goroutine that changed the status and
// must not block.
func (e *Engine) Subscribe(fn func(Status)) func() {
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.subMu.Unlock()

	return func() {
		e.subMu.Lock()
		delete(e.subs, id)
		e.subMu.Unlock()
	}
}
