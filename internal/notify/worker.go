package notify

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"skyalert/internal/eventbus"
	"skyalert/internal/metrics"
	"skyalert/internal/model"
	"skyalert/internal/runtime/supervisor"
	"skyalert/internal/storage"
	"skyalert/internal/transport"
	"skyalert/pkg/logx"
)

// WorkerConfig sizes the delivery pool. Zero values take the defaults.
type WorkerConfig struct {
	Workers       int           // default 4
	QueueSize     int           // default 256
	RatePerSec    int           // default 10, global across workers
	RetryMax      int           // total attempts per payload, default 5
	RetryBase     time.Duration // default 2s
	RetryMaxDelay time.Duration // default 2m
}

func (c *WorkerConfig) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 10
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 5
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 2 * time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 2 * time.Minute
	}
}

// item is one queued delivery. attempt is the number of the attempt the
// item is queued FOR (1-based), so a retry re-enters the queue with the
// count it will consume.
type item struct {
	payload model.NotificationPayload
	attempt int
}

// Worker drains the delivery queue through the transport mux, persisting
// the pending -> retrying(n) -> sent | failed state machine to the delivery
// log on every attempt. Retries are scheduled with time.AfterFunc; nothing
// on the dispatch path ever sleeps.
type Worker struct {
	log        logx.Logger
	mux        *transport.Mux
	deliveries storage.DeliveryLogRepo
	channels   storage.ChannelRepo
	bus        eventbus.Bus

	cfg     WorkerConfig
	queue   chan item
	limiter *rate.Limiter

	now func() time.Time
}

func NewWorker(log logx.Logger, mux *transport.Mux, deliveries storage.DeliveryLogRepo, channels storage.ChannelRepo, bus eventbus.Bus, cfg WorkerConfig) *Worker {
	cfg.applyDefaults()
	return &Worker{
		log:        log,
		mux:        mux,
		deliveries: deliveries,
		channels:   channels,
		bus:        bus,
		cfg:        cfg,
		queue:      make(chan item, cfg.QueueSize),
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		now:        time.Now,
	}
}

// Start launches the pool under the supervisor.
func (w *Worker) Start(sup *supervisor.Supervisor) {
	for i := 0; i < w.cfg.Workers; i++ {
		sup.Go(fmt.Sprintf("delivery-worker-%d", i), w.run)
	}
}

func (w *Worker) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case it := <-w.queue:
			metrics.DeliveryQueueDepth.Set(float64(len(w.queue)))
			if err := w.limiter.Wait(ctx); err != nil {
				return nil
			}
			w.attempt(ctx, it)
		}
	}
}

// Enqueue hands a payload to the pool. It never blocks; false means the
// queue is full and the caller should fall back to a synchronous send.
func (w *Worker) Enqueue(p model.NotificationPayload) bool {
	select {
	case w.queue <- item{payload: p, attempt: 1}:
		metrics.DeliveryQueueDepth.Set(float64(len(w.queue)))
		return true
	default:
		return false
	}
}

// SendSync performs the first attempt inline. A failed attempt still enters
// the normal retry schedule; the returned error reports only the inline
// attempt.
func (w *Worker) SendSync(ctx context.Context, p model.NotificationPayload) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}
	return w.attempt(ctx, item{payload: p, attempt: 1})
}

// QueueDepth reports the current backlog.
func (w *Worker) QueueDepth() int { return len(w.queue) }

func (w *Worker) attempt(ctx context.Context, it item) error {
	p := it.payload
	start := w.now()
	err := w.mux.Send(ctx, p)
	elapsed := w.now().Sub(start)

	entry, getErr := w.deliveries.GetDelivery(ctx, p.ID)
	if getErr != nil {
		// The log row should exist; synthesize one so state is not lost.
		entry = &model.DeliveryLogEntry{
			ID:        p.ID,
			TriggerID: p.TriggerID,
			RuleID:    p.RuleID,
			ChannelID: p.ChannelID,
			Status:    model.DeliveryPending,
			CreatedAt: start,
		}
		if createErr := w.deliveries.Create(ctx, entry); createErr != nil {
			w.log.Error("delivery log row unavailable",
				logx.String("delivery_id", p.ID), logx.Err(createErr))
		}
	}
	entry.RetryCount = it.attempt
	entry.UpdatedAt = w.now()
	entry.DurationMS = elapsed.Milliseconds()

	if err == nil {
		sentAt := w.now()
		entry.Status = model.DeliverySent
		entry.SentAt = &sentAt
		entry.LastError = ""
		if updErr := w.deliveries.Update(ctx, entry); updErr != nil {
			w.log.Error("delivery log update failed",
				logx.String("delivery_id", p.ID), logx.Err(updErr))
		}
		_ = w.channels.RecordSuccess(ctx, p.ChannelID, sentAt)
		metrics.DeliveriesTotal.WithLabelValues(string(p.ChannelType), "sent").Inc()
		metrics.DeliveryAttempts.Observe(float64(it.attempt))
		w.bus.Publish(eventbus.Event{Type: eventbus.TypeDeliverySent, Data: *entry})
		w.log.Debug("delivered",
			logx.String("delivery_id", p.ID),
			logx.String("channel_type", string(p.ChannelType)),
			logx.Int("attempt", it.attempt),
			logx.Duration("took", elapsed))
		return nil
	}

	entry.LastError = err.Error()
	_ = w.channels.RecordFailure(ctx, p.ChannelID, w.now(), err.Error())

	if it.attempt >= w.cfg.RetryMax {
		entry.Status = model.DeliveryFailed
		if updErr := w.deliveries.Update(ctx, entry); updErr != nil {
			w.log.Error("delivery log update failed",
				logx.String("delivery_id", p.ID), logx.Err(updErr))
		}
		metrics.DeliveriesTotal.WithLabelValues(string(p.ChannelType), "failed").Inc()
		metrics.DeliveryAttempts.Observe(float64(it.attempt))
		w.bus.Publish(eventbus.Event{Type: eventbus.TypeDeliveryFailed, Data: *entry})
		w.log.Warn("delivery failed permanently",
			logx.String("delivery_id", p.ID),
			logx.String("channel_id", p.ChannelID),
			logx.Int("attempts", it.attempt),
			logx.Err(err))
		return err
	}

	entry.Status = model.DeliveryRetrying
	if updErr := w.deliveries.Update(ctx, entry); updErr != nil {
		w.log.Error("delivery log update failed",
			logx.String("delivery_id", p.ID), logx.Err(updErr))
	}
	delay := w.backoff(it.attempt)
	w.log.Debug("delivery retry scheduled",
		logx.String("delivery_id", p.ID),
		logx.Int("attempt", it.attempt),
		logx.Duration("delay", delay),
		logx.Err(err))

	next := item{payload: p, attempt: it.attempt + 1}
	time.AfterFunc(delay, func() {
		select {
		case <-ctx.Done():
		case w.queue <- next:
			metrics.DeliveryQueueDepth.Set(float64(len(w.queue)))
		default:
			// Queue saturated at refire time; attempt inline rather than
			// losing the payload.
			go w.attempt(ctx, next)
		}
	})
	return err
}

// backoff is base * 2^(attempt-1) plus up to 10% jitter, capped.
func (w *Worker) backoff(attempt int) time.Duration {
	d := w.cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= w.cfg.RetryMaxDelay {
			d = w.cfg.RetryMaxDelay
			break
		}
	}
	if jitterMax := int64(d / 10); jitterMax > 0 {
		d += time.Duration(rand.Int63n(jitterMax))
	}
	if d > w.cfg.RetryMaxDelay {
		d = w.cfg.RetryMaxDelay
	}
	return d
}
