package metrics

import (
	"sort"
	"sync"
	"time"
)

const defaultRingSize = 1000

// CycleRecord captures one evaluation cycle (one snapshot batch).
type CycleRecord struct {
	At             time.Time     `json:"at"`
	Duration       time.Duration `json:"duration"`
	Aircraft       int           `json:"aircraft"`
	RulesEvaluated int           `json:"rules_evaluated"`
	Triggers       int           `json:"triggers"`
	CacheHit       bool          `json:"cache_hit"`
}

// RuleMetric is the per-rule counter view with derived fields.
type RuleMetric struct {
	RuleID         string        `json:"rule_id"`
	Evaluations    uint64        `json:"evaluations"`
	Triggers       uint64        `json:"triggers"`
	CooldownBlocks uint64        `json:"cooldown_blocks"`
	Suppressed     uint64        `json:"suppressed"`
	TriggerRate    float64       `json:"trigger_rate"` // triggers / evaluations
	AvgEvalTime    time.Duration `json:"avg_eval_time"`
	LastTrigger    time.Time     `json:"last_trigger,omitempty"`
}

// Summary aggregates a trailing window plus all-time totals.
type Summary struct {
	Window time.Duration `json:"window"`

	WindowCycles        int           `json:"window_cycles"`
	AvgCycleDuration    time.Duration `json:"avg_cycle_duration"`
	AvgAircraftPerCycle float64       `json:"avg_aircraft_per_cycle"`
	AvgRulesPerCycle    float64       `json:"avg_rules_per_cycle"`
	WindowTriggers      int           `json:"window_triggers"`
	WindowCacheHitRatio float64       `json:"window_cache_hit_ratio"`

	TotalCycles        uint64  `json:"total_cycles"`
	TotalTriggers      uint64  `json:"total_triggers"`
	AllTimeCacheHitRatio float64 `json:"all_time_cache_hit_ratio"`
}

// Histogram is an equal-width bucketing of recent cycle durations.
type Histogram struct {
	Min     time.Duration   `json:"min"`
	Max     time.Duration   `json:"max"`
	Median  time.Duration   `json:"median"`
	Buckets []HistogramBucket `json:"buckets"`
}

type HistogramBucket struct {
	From  time.Duration `json:"from"`
	To    time.Duration `json:"to"`
	Count int           `json:"count"`
}

type ruleCounters struct {
	evaluations    uint64
	triggers       uint64
	cooldownBlocks uint64
	suppressed     uint64
	totalEvalTime  time.Duration
	lastTrigger    time.Time
}

// Collector keeps a bounded ring of recent cycle records and an
// unbounded-by-rule-id map of per-rule counters. All methods are safe for
// concurrent use.
type Collector struct {
	mu sync.Mutex

	ring []CycleRecord
	head int // next write position
	size int // filled entries, <= len(ring)

	rules map[string]*ruleCounters

	totalCycles    uint64
	totalTriggers  uint64
	totalCacheHits uint64
}

func NewCollector(ringSize int) *Collector {
	if ringSize <= 0 {
		ringSize = defaultRingSize
	}
	return &Collector{
		ring:  make([]CycleRecord, ringSize),
		rules: map[string]*ruleCounters{},
	}
}

// RecordCycle appends one evaluation-cycle record.
func (c *Collector) RecordCycle(rec CycleRecord) {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ring[c.head] = rec
	c.head = (c.head + 1) % len(c.ring)
	if c.size < len(c.ring) {
		c.size++
	}
	c.totalCycles++
	c.totalTriggers += uint64(rec.Triggers)
	if rec.CacheHit {
		c.totalCacheHits++
	}
}

func (c *Collector) rule(id string) *ruleCounters {
	rc := c.rules[id]
	if rc == nil {
		rc = &ruleCounters{}
		c.rules[id] = rc
	}
	return rc
}

// RecordEvaluation counts one rule evaluation and its elapsed time.
func (c *Collector) RecordEvaluation(ruleID string, took time.Duration) {
	c.mu.Lock()
	rc := c.rule(ruleID)
	rc.evaluations++
	rc.totalEvalTime += took
	c.mu.Unlock()
}

// RecordTrigger counts a fired trigger for a rule.
func (c *Collector) RecordTrigger(ruleID string, at time.Time) {
	c.mu.Lock()
	rc := c.rule(ruleID)
	rc.triggers++
	rc.lastTrigger = at
	c.mu.Unlock()
}

// RecordCooldownBlock counts a match that cooldown refused.
func (c *Collector) RecordCooldownBlock(ruleID string) {
	c.mu.Lock()
	c.rule(ruleID).cooldownBlocks++
	c.mu.Unlock()
}

// RecordSuppressed counts a match inside a suppression window.
// Suppressed matches count as evaluated-but-not-triggered, consistent with
// cooldown-blocked rules.
func (c *Collector) RecordSuppressed(ruleID string) {
	c.mu.Lock()
	c.rule(ruleID).suppressed++
	c.mu.Unlock()
}

// Reset clears all counters and the cycle ring atomically.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.ring {
		c.ring[i] = CycleRecord{}
	}
	c.head = 0
	c.size = 0
	c.rules = map[string]*ruleCounters{}
	c.totalCycles = 0
	c.totalTriggers = 0
	c.totalCacheHits = 0
}

// recent returns the filled ring entries, oldest first. Caller holds mu.
func (c *Collector) recentLocked() []CycleRecord {
	out := make([]CycleRecord, 0, c.size)
	start := (c.head - c.size + len(c.ring)) % len(c.ring)
	for i := 0; i < c.size; i++ {
		out = append(out, c.ring[(start+i)%len(c.ring)])
	}
	return out
}

// Summary aggregates the trailing window plus all-time totals.
func (c *Collector) Summary(window time.Duration) Summary {
	if window <= 0 {
		window = 15 * time.Minute
	}
	cutoff := time.Now().Add(-window)

	c.mu.Lock()
	defer c.mu.Unlock()

	s := Summary{
		Window:        window,
		TotalCycles:   c.totalCycles,
		TotalTriggers: c.totalTriggers,
	}
	if c.totalCycles > 0 {
		s.AllTimeCacheHitRatio = float64(c.totalCacheHits) / float64(c.totalCycles)
	}

	var (
		durSum     time.Duration
		aircraft   int
		rulesEval  int
		cacheHits  int
	)
	for _, rec := range c.recentLocked() {
		if rec.At.Before(cutoff) {
			continue
		}
		s.WindowCycles++
		durSum += rec.Duration
		aircraft += rec.Aircraft
		rulesEval += rec.RulesEvaluated
		s.WindowTriggers += rec.Triggers
		if rec.CacheHit {
			cacheHits++
		}
	}
	if s.WindowCycles > 0 {
		n := s.WindowCycles
		s.AvgCycleDuration = durSum / time.Duration(n)
		s.AvgAircraftPerCycle = float64(aircraft) / float64(n)
		s.AvgRulesPerCycle = float64(rulesEval) / float64(n)
		s.WindowCacheHitRatio = float64(cacheHits) / float64(n)
	}
	return s
}

// RuleMetrics returns the top-N rules by trigger count.
func (c *Collector) RuleMetrics(limit int) []RuleMetric {
	c.mu.Lock()
	out := make([]RuleMetric, 0, len(c.rules))
	for id, rc := range c.rules {
		m := RuleMetric{
			RuleID:         id,
			Evaluations:    rc.evaluations,
			Triggers:       rc.triggers,
			CooldownBlocks: rc.cooldownBlocks,
			Suppressed:     rc.suppressed,
			LastTrigger:    rc.lastTrigger,
		}
		if rc.evaluations > 0 {
			m.TriggerRate = float64(rc.triggers) / float64(rc.evaluations)
			m.AvgEvalTime = rc.totalEvalTime / time.Duration(rc.evaluations)
		}
		out = append(out, m)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Triggers != out[j].Triggers {
			return out[i].Triggers > out[j].Triggers
		}
		return out[i].RuleID < out[j].RuleID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// TimingHistogram buckets recent cycle durations into n equal-width buckets
// across the observed min/max.
func (c *Collector) TimingHistogram(buckets int) Histogram {
	if buckets <= 0 {
		buckets = 10
	}

	c.mu.Lock()
	recs := c.recentLocked()
	c.mu.Unlock()

	var h Histogram
	if len(recs) == 0 {
		return h
	}

	durs := make([]time.Duration, 0, len(recs))
	for _, r := range recs {
		durs = append(durs, r.Duration)
	}
	sort.Slice(durs, func(i, j int) bool { return durs[i] < durs[j] })

	h.Min = durs[0]
	h.Max = durs[len(durs)-1]
	h.Median = durs[len(durs)/2]

	width := (h.Max - h.Min) / time.Duration(buckets)
	if width <= 0 {
		// All observations identical: one bucket holds everything.
		h.Buckets = []HistogramBucket{{From: h.Min, To: h.Max, Count: len(durs)}}
		return h
	}

	h.Buckets = make([]HistogramBucket, buckets)
	for i := range h.Buckets {
		h.Buckets[i].From = h.Min + time.Duration(i)*width
		h.Buckets[i].To = h.Buckets[i].From + width
	}
	for _, d := range durs {
		idx := int((d - h.Min) / width)
		if idx >= buckets {
			idx = buckets - 1
		}
		h.Buckets[idx].Count++
	}
	return h
}
