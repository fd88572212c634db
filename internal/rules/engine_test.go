package rules

import (
	"context"
	"sync"
	"testing"
	"time"

	"skyalert/internal/cooldown"
	"skyalert/internal/metrics"
	"skyalert/internal/model"
	"skyalert/pkg/logx"
)

type fakeRuleRepo struct {
	mu      sync.Mutex
	rules   []model.Rule
	touched map[string]time.Time
}

func (f *fakeRuleRepo) ListEnabled(ctx context.Context) ([]model.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Rule, len(f.rules))
	copy(out, f.rules)
	return out, nil
}

func (f *fakeRuleRepo) TouchLastTriggered(ctx context.Context, ruleID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.touched == nil {
		f.touched = map[string]time.Time{}
	}
	f.touched[ruleID] = at
	return nil
}

type captureSink struct {
	mu     sync.Mutex
	events []model.TriggerEvent
}

func (s *captureSink) HandleTrigger(ctx context.Context, ev model.TriggerEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *captureSink) all() []model.TriggerEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.TriggerEvent, len(s.events))
	copy(out, s.events)
	return out
}

func newTestEngine(repo *fakeRuleRepo, sink Sink) *Engine {
	return NewEngine(
		logx.Nop(),
		NewSelector(repo, time.Second),
		repo,
		cooldown.New(nil, "", logx.Nop()),
		metrics.NewCollector(16),
		nil,
		sink,
		5*time.Minute,
	)
}

func TestEmergencySquawkFiresWithZeroRules(t *testing.T) {
	t.Parallel()

	repo := &fakeRuleRepo{}
	sink := &captureSink{}
	e := newTestEngine(repo, sink)

	e.EvaluateSnapshot(context.Background(), model.AircraftSnapshot{
		Hex:    "ae01ce",
		Squawk: "7700",
	})

	events := sink.all()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.RuleID != EmergencyRuleID {
		t.Fatalf("RuleID = %s, want %s", ev.RuleID, EmergencyRuleID)
	}
	if ev.Priority != model.PriorityCritical {
		t.Fatalf("Priority = %s, want critical", ev.Priority)
	}
	if ev.EventType != model.EventEmergency {
		t.Fatalf("EventType = %s, want %s", ev.EventType, model.EventEmergency)
	}
}

func TestEmergencySquawkBypassesCooldown(t *testing.T) {
	t.Parallel()

	repo := &fakeRuleRepo{}
	sink := &captureSink{}
	e := newTestEngine(repo, sink)

	snap := model.AircraftSnapshot{Hex: "ae01ce", Squawk: "7600"}
	e.EvaluateSnapshot(context.Background(), snap)
	e.EvaluateSnapshot(context.Background(), snap)

	if got := len(sink.all()); got != 2 {
		t.Fatalf("emergency fired %d times, want 2 (no cooldown)", got)
	}
}

func TestRuleCooldownBlocksSecondFire(t *testing.T) {
	t.Parallel()

	repo := &fakeRuleRepo{rules: []model.Rule{{
		ID:       "low-alt",
		Name:     "Low altitude",
		Enabled:  true,
		Priority: model.PriorityWarning,
		Condition: &model.Condition{
			Field: model.FieldAltitude, Cmp: model.CmpLess, Value: "3000",
		},
		Cooldown: 5 * time.Minute,
	}}}
	sink := &captureSink{}
	e := newTestEngine(repo, sink)

	snap := model.AircraftSnapshot{Hex: "abc123", AltitudeFt: fptr(2500)}
	e.EvaluateSnapshot(context.Background(), snap)
	e.EvaluateSnapshot(context.Background(), snap)

	if got := len(sink.all()); got != 1 {
		t.Fatalf("rule fired %d times within cooldown, want 1", got)
	}
	if _, ok := repo.touched["low-alt"]; !ok {
		t.Fatal("last-triggered bookkeeping missing")
	}
}

func TestCooldownIsPerAircraft(t *testing.T) {
	t.Parallel()

	repo := &fakeRuleRepo{rules: []model.Rule{{
		ID:      "low-alt",
		Enabled: true,
		Condition: &model.Condition{
			Field: model.FieldAltitude, Cmp: model.CmpLess, Value: "3000",
		},
		Cooldown: 5 * time.Minute,
	}}}
	sink := &captureSink{}
	e := newTestEngine(repo, sink)

	e.EvaluateBatch(context.Background(), []model.AircraftSnapshot{
		{Hex: "abc123", AltitudeFt: fptr(2500)},
		{Hex: "def456", AltitudeFt: fptr(2400)},
	})

	if got := len(sink.all()); got != 2 {
		t.Fatalf("got %d events, want one per aircraft", got)
	}
}

func TestSuppressionWindowBlocksFire(t *testing.T) {
	t.Parallel()

	repo := &fakeRuleRepo{rules: []model.Rule{{
		ID:      "quiet-rule",
		Enabled: true,
		Condition: &model.Condition{
			Field: model.FieldAltitude, Cmp: model.CmpLess, Value: "3000",
		},
		Suppress: []model.SuppressionWindow{
			{Day: time.Friday, Start: "22:00", End: "06:00"},
		},
	}}}
	sink := &captureSink{}
	e := newTestEngine(repo, sink)
	e.now = func() time.Time { return fridayAt(23, 30) }

	e.EvaluateSnapshot(context.Background(), model.AircraftSnapshot{
		Hex: "abc123", AltitudeFt: fptr(2500),
	})

	if got := len(sink.all()); got != 0 {
		t.Fatalf("suppressed rule fired %d times, want 0", got)
	}
}
