package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"skyalert/internal/cooldown"
	"skyalert/internal/eventbus"
	"skyalert/internal/metrics"
	"skyalert/internal/model"
	"skyalert/internal/storage"
	logx "skyalert/pkg/logx"
)

// EmergencyRuleID is the synthetic rule id used for the fixed
// emergency-squawk rule in metrics and trigger events.
const EmergencyRuleID = "emergency-squawk"

// Sink receives trigger events the engine emits. The dispatcher implements
// this; tests substitute their own.
type Sink interface {
	HandleTrigger(ctx context.Context, ev model.TriggerEvent)
}

// Engine orchestrates selection, evaluation, cooldown, and metrics per
// snapshot batch, and emits trigger events to the sink.
//
// Everything downstream of a match is contained: a rule evaluation error,
// cooldown store loss, or sink failure never aborts the remaining rules or
// surfaces to the ingestion caller.
type Engine struct {
	log       logx.Logger
	selector  *Selector
	rules     storage.RuleRepo
	cooldowns *cooldown.Coordinator
	collector *metrics.Collector
	bus       eventbus.Bus
	sink      Sink

	defaultCooldown time.Duration

	// now is swappable for schedule/suppression tests.
	now func() time.Time
}

func NewEngine(
	log logx.Logger,
	selector *Selector,
	rulesRepo storage.RuleRepo,
	cooldowns *cooldown.Coordinator,
	collector *metrics.Collector,
	bus eventbus.Bus,
	sink Sink,
	defaultCooldown time.Duration,
) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	if defaultCooldown <= 0 {
		defaultCooldown = 5 * time.Minute
	}
	return &Engine{
		log:             log,
		selector:        selector,
		rules:           rulesRepo,
		cooldowns:       cooldowns,
		collector:       collector,
		bus:             bus,
		sink:            sink,
		defaultCooldown: defaultCooldown,
		now:             time.Now,
	}
}

// EvaluateSnapshot runs one aircraft snapshot through all rules.
func (e *Engine) EvaluateSnapshot(ctx context.Context, snap model.AircraftSnapshot) {
	e.EvaluateBatch(ctx, []model.AircraftSnapshot{snap})
}

// EvaluateBatch runs one ingestion cycle: every snapshot against every
// enabled, schedule-valid rule, plus the fixed emergency-squawk rule.
func (e *Engine) EvaluateBatch(ctx context.Context, snaps []model.AircraftSnapshot) {
	if len(snaps) == 0 {
		return
	}
	start := e.now()

	ruleSet, cacheHit, err := e.selector.Select(ctx, start)
	if err != nil {
		// Selector already served a stale set if it had one.
		e.log.Warn("rule fetch failed", logx.Err(err))
	}

	var triggers int
	for _, snap := range snaps {
		triggers += e.evalOne(ctx, snap, ruleSet, start)
	}

	took := e.now().Sub(start)
	e.collector.RecordCycle(metrics.CycleRecord{
		At:             start,
		Duration:       took,
		Aircraft:       len(snaps),
		RulesEvaluated: len(ruleSet) * len(snaps),
		Triggers:       triggers,
		CacheHit:       cacheHit,
	})
	metrics.CycleDuration.Observe(took.Seconds())
	if e.cooldowns.Degraded() {
		metrics.CooldownFallbackActive.Set(1)
	} else {
		metrics.CooldownFallbackActive.Set(0)
	}
}

func (e *Engine) evalOne(ctx context.Context, snap model.AircraftSnapshot, ruleSet []model.Rule, now time.Time) int {
	var fired int

	// The fixed emergency rule is evaluated in addition to user rules,
	// bypasses cooldown and suppression, and always fires when matched.
	if desc, ok := model.EmergencySquawks[snap.Squawk]; ok {
		e.emit(ctx, model.TriggerEvent{
			ID:        uuid.NewString(),
			RuleID:    EmergencyRuleID,
			RuleName:  "Emergency squawk",
			Priority:  model.PriorityCritical,
			EventType: model.EventEmergency,
			Summary:   fmt.Sprintf("%s squawking %s (%s)", snap.Ident(), snap.Squawk, desc),
			At:        now,
			Aircraft:  snap,
		}, true)
		fired++
	}

	for i := range ruleSet {
		r := ruleSet[i]
		if e.evalRule(ctx, snap, r, now) {
			fired++
		}
	}
	return fired
}

// evalRule returns true when the rule fired. Any panic inside evaluation is
// contained so one malformed rule cannot abort the rest of the pass.
func (e *Engine) evalRule(ctx context.Context, snap model.AircraftSnapshot, r model.Rule, now time.Time) (fired bool) {
	defer func() {
		if rec := recover(); rec != nil {
			fired = false
			e.log.Error("rule evaluation panicked",
				logx.String("rule_id", r.ID),
				logx.String("hex", snap.Hex),
				logx.Any("panic", rec))
		}
	}()

	t0 := e.now()
	matched := Matches(snap, r)
	e.collector.RecordEvaluation(r.ID, e.now().Sub(t0))
	metrics.EvaluationsTotal.WithLabelValues(r.ID).Inc()

	if !matched {
		return false
	}

	if Suppressed(r, now) {
		e.collector.RecordSuppressed(r.ID)
		return false
	}

	cd := r.Cooldown
	if cd <= 0 {
		cd = e.defaultCooldown
	}
	canFire, lastFire, err := e.cooldowns.CheckAndSet(ctx, r.ID, snap.Hex, cd)
	if err != nil {
		// The coordinator already fell back; the decision stands.
		e.log.Debug("cooldown check degraded", logx.String("rule_id", r.ID), logx.Err(err))
	}
	if !canFire {
		e.collector.RecordCooldownBlock(r.ID)
		metrics.CooldownBlocksTotal.WithLabelValues(r.ID).Inc()
		if e.bus != nil {
			e.bus.Publish(eventbus.Event{Type: eventbus.TypeCooldownBlocked, Time: now, Data: map[string]any{
				"rule_id":   r.ID,
				"hex":       snap.Hex,
				"last_fire": lastFire,
			}})
		}
		return false
	}

	e.emit(ctx, model.TriggerEvent{
		ID:                 uuid.NewString(),
		RuleID:             r.ID,
		RuleName:           r.Name,
		Priority:           r.Priority,
		EventType:          model.EventRuleMatch,
		Summary:            fmt.Sprintf("%s: %s matched", r.Name, snap.Ident()),
		At:                 now,
		Aircraft:           snap,
		OwnerID:            r.OwnerID,
		ChannelIDs:         r.ChannelIDs,
		UseDefaultChannels: r.UseDefaultChannels,
		WebhookURL:         r.WebhookURL,
	}, false)
	return true
}

func (e *Engine) emit(ctx context.Context, ev model.TriggerEvent, emergency bool) {
	e.collector.RecordTrigger(ev.RuleID, ev.At)
	metrics.TriggersTotal.WithLabelValues(ev.RuleID, string(ev.Priority)).Inc()

	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeTriggerFired, Time: ev.At, Data: ev})
	}

	if !emergency && e.rules != nil {
		if err := e.rules.TouchLastTriggered(ctx, ev.RuleID, ev.At); err != nil {
			e.log.Warn("last-triggered update failed", logx.String("rule_id", ev.RuleID), logx.Err(err))
		}
	}

	e.log.Info("trigger fired",
		logx.String("rule_id", ev.RuleID),
		logx.String("hex", ev.Aircraft.Hex),
		logx.String("priority", string(ev.Priority)),
		logx.String("summary", ev.Summary))

	if e.sink != nil {
		e.sink.HandleTrigger(ctx, ev)
	}
}
