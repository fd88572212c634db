package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"skyalert/internal/eventbus"
	"skyalert/internal/model"
	"skyalert/internal/storage"
	"skyalert/internal/transport"
	"skyalert/pkg/logx"
)

type memDeliveryRepo struct {
	mu      sync.Mutex
	entries map[string]model.DeliveryLogEntry
	history map[string][]model.DeliveryStatus
}

func newMemDeliveryRepo() *memDeliveryRepo {
	return &memDeliveryRepo{
		entries: map[string]model.DeliveryLogEntry{},
		history: map[string][]model.DeliveryStatus{},
	}
}

func (m *memDeliveryRepo) Create(ctx context.Context, e *model.DeliveryLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.ID] = *e
	m.history[e.ID] = append(m.history[e.ID], e.Status)
	return nil
}

func (m *memDeliveryRepo) Update(ctx context.Context, e *model.DeliveryLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.ID] = *e
	m.history[e.ID] = append(m.history[e.ID], e.Status)
	return nil
}

func (m *memDeliveryRepo) GetDelivery(ctx context.Context, id string) (*model.DeliveryLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := e
	return &cp, nil
}

func (m *memDeliveryRepo) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}

func (m *memDeliveryRepo) statuses(id string) []model.DeliveryStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.DeliveryStatus, len(m.history[id]))
	copy(out, m.history[id])
	return out
}

// flakyTransport fails the first n sends, then succeeds.
type flakyTransport struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyTransport) Send(ctx context.Context, p model.NotificationPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return errors.New("endpoint unavailable")
	}
	return nil
}

func newTestWorker(tr transport.Transport, repo *memDeliveryRepo) *Worker {
	mux := transport.NewMux()
	mux.Register(model.ChannelWebhook, tr)
	return NewWorker(logx.Nop(), mux, repo, &fakeChannelRepo{}, eventbus.New(), WorkerConfig{
		Workers:       1,
		QueueSize:     16,
		RatePerSec:    1000,
		RetryMax:      5,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
	})
}

func testPayload(id string) model.NotificationPayload {
	return model.NotificationPayload{
		ID:          id,
		ChannelID:   "c1",
		ChannelType: model.ChannelWebhook,
		Endpoint:    "https://example.com/hook",
		Title:       "t",
		Body:        "b",
		Priority:    model.PriorityInfo,
		EventType:   model.EventRuleMatch,
		TriggerID:   "trig",
		RuleID:      "rule",
	}
}

func waitForStatus(t *testing.T, repo *memDeliveryRepo, id string, want model.DeliveryStatus) model.DeliveryLogEntry {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		e, err := repo.GetDelivery(context.Background(), id)
		if err == nil && e.Status == want {
			return *e
		}
		time.Sleep(5 * time.Millisecond)
	}
	e, _ := repo.GetDelivery(context.Background(), id)
	t.Fatalf("delivery %s never reached %s (last: %+v)", id, want, e)
	return model.DeliveryLogEntry{}
}

func TestDeliveryFailureCeiling(t *testing.T) {
	t.Parallel()

	repo := newMemDeliveryRepo()
	tr := &flakyTransport{failures: 100} // never succeeds
	w := newTestWorker(tr, repo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.run(ctx)

	p := testPayload("d1")
	repo.Create(ctx, &model.DeliveryLogEntry{
		ID: p.ID, TriggerID: p.TriggerID, RuleID: p.RuleID, ChannelID: p.ChannelID,
		Status: model.DeliveryPending, CreatedAt: time.Now(),
	})
	if !w.Enqueue(p) {
		t.Fatal("enqueue refused")
	}

	e := waitForStatus(t, repo, "d1", model.DeliveryFailed)
	if e.RetryCount != 5 {
		t.Fatalf("RetryCount = %d, want 5", e.RetryCount)
	}
	if e.LastError == "" {
		t.Fatal("LastError must record the final failure")
	}

	want := []model.DeliveryStatus{
		model.DeliveryPending,
		model.DeliveryRetrying, model.DeliveryRetrying,
		model.DeliveryRetrying, model.DeliveryRetrying,
		model.DeliveryFailed,
	}
	got := repo.statuses("d1")
	if len(got) != len(want) {
		t.Fatalf("status history = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("status[%d] = %s, want %s (history %v)", i, got[i], want[i], got)
		}
	}
}

func TestDeliveryRecoversAfterRetries(t *testing.T) {
	t.Parallel()

	repo := newMemDeliveryRepo()
	tr := &flakyTransport{failures: 2}
	w := newTestWorker(tr, repo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.run(ctx)

	p := testPayload("d2")
	repo.Create(ctx, &model.DeliveryLogEntry{
		ID: p.ID, TriggerID: p.TriggerID, RuleID: p.RuleID, ChannelID: p.ChannelID,
		Status: model.DeliveryPending, CreatedAt: time.Now(),
	})
	w.Enqueue(p)

	e := waitForStatus(t, repo, "d2", model.DeliverySent)
	if e.RetryCount != 3 {
		t.Fatalf("RetryCount = %d, want 3 (two failures then success)", e.RetryCount)
	}
	if e.SentAt == nil {
		t.Fatal("SentAt missing on a sent delivery")
	}
	if e.LastError != "" {
		t.Fatalf("LastError = %q, want empty after success", e.LastError)
	}
}

func TestDeliveryFirstAttemptSuccess(t *testing.T) {
	t.Parallel()

	repo := newMemDeliveryRepo()
	w := newTestWorker(&flakyTransport{}, repo)

	ctx := context.Background()
	p := testPayload("d3")
	repo.Create(ctx, &model.DeliveryLogEntry{
		ID: p.ID, TriggerID: p.TriggerID, RuleID: p.RuleID, ChannelID: p.ChannelID,
		Status: model.DeliveryPending, CreatedAt: time.Now(),
	})

	if err := w.SendSync(ctx, p); err != nil {
		t.Fatalf("SendSync error: %v", err)
	}
	e, err := repo.GetDelivery(ctx, "d3")
	if err != nil {
		t.Fatalf("GetDelivery: %v", err)
	}
	if e.Status != model.DeliverySent || e.RetryCount != 1 {
		t.Fatalf("entry = %+v, want sent on first attempt", e)
	}
}

func TestUnknownChannelTypeFailsAttempt(t *testing.T) {
	t.Parallel()

	repo := newMemDeliveryRepo()
	w := newTestWorker(&flakyTransport{}, repo)

	ctx := context.Background()
	p := testPayload("d4")
	p.ChannelType = model.ChannelTelegram // nothing registered for it
	repo.Create(ctx, &model.DeliveryLogEntry{
		ID: p.ID, Status: model.DeliveryPending, CreatedAt: time.Now(),
	})

	if err := w.SendSync(ctx, p); !errors.Is(err, transport.ErrNoTransport) {
		t.Fatalf("err = %v, want ErrNoTransport", err)
	}
}

func TestQueueFullSignalsCaller(t *testing.T) {
	t.Parallel()

	repo := newMemDeliveryRepo()
	mux := transport.NewMux()
	mux.Register(model.ChannelWebhook, &flakyTransport{})
	w := NewWorker(logx.Nop(), mux, repo, &fakeChannelRepo{}, eventbus.New(), WorkerConfig{
		Workers: 1, QueueSize: 1, RatePerSec: 1000,
		RetryMax: 1, RetryBase: time.Millisecond, RetryMaxDelay: time.Millisecond,
	})
	// No worker running: the queue fills and stays full.

	if !w.Enqueue(testPayload("q1")) {
		t.Fatal("first enqueue should fit")
	}
	if w.Enqueue(testPayload("q2")) {
		t.Fatal("second enqueue should report a full queue")
	}
}
