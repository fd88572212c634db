package model

import (
	"fmt"
	"time"
)

// Priority is the fixed severity order for rules and notifications:
// info < warning < critical.
type Priority string

const (
	PriorityInfo     Priority = "info"
	PriorityWarning  Priority = "warning"
	PriorityCritical Priority = "critical"
)

// Rank maps a priority to its position in the total order.
// Unknown values rank below info.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityWarning:
		return 2
	case PriorityInfo:
		return 1
	default:
		return 0
	}
}

// ConditionField identifies which snapshot attribute a condition reads.
type ConditionField string

const (
	FieldHex          ConditionField = "hex"
	FieldCallsign     ConditionField = "callsign"
	FieldSquawk       ConditionField = "squawk"
	FieldAltitude     ConditionField = "altitude"
	FieldVerticalRate ConditionField = "vertical_rate"
	FieldSpeed        ConditionField = "speed"
	FieldCategory     ConditionField = "category"
	FieldProximity    ConditionField = "proximity"
	FieldMilitary     ConditionField = "military"
	FieldEmergency    ConditionField = "emergency"
	FieldAircraftType ConditionField = "aircraft_type"
	FieldRegistration ConditionField = "registration"
	FieldOperator     ConditionField = "operator"
)

// Comparator is the operator applied between a snapshot value and a
// condition literal.
type Comparator string

const (
	CmpEquals       Comparator = "eq"
	CmpNotEquals    Comparator = "ne"
	CmpContains     Comparator = "contains"
	CmpStartsWith   Comparator = "starts_with"
	CmpLess         Comparator = "lt"
	CmpLessEqual    Comparator = "lte"
	CmpGreater      Comparator = "gt"
	CmpGreaterEqual Comparator = "gte"
)

// GroupLogic combines conditions within a group, and groups within a tree.
type GroupLogic string

const (
	LogicAnd GroupLogic = "and"
	LogicOr  GroupLogic = "or"
)

// Condition is a single leaf predicate over one snapshot field.
type Condition struct {
	Field ConditionField `json:"field"`
	Cmp   Comparator     `json:"cmp"`
	Value string         `json:"value"`
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %q", c.Field, c.Cmp, c.Value)
}

// ConditionGroup is an AND/OR combination of leaf conditions.
// An empty group never matches.
type ConditionGroup struct {
	Logic      GroupLogic  `json:"logic"`
	Conditions []Condition `json:"conditions"`
}

// ConditionTree combines groups with AND/OR logic. Trees are decoded once at
// rule-load time; evaluation walks the typed structure.
type ConditionTree struct {
	Logic  GroupLogic       `json:"logic"`
	Groups []ConditionGroup `json:"groups"`
}

// SuppressionWindow is a recurring weekly window during which a matching
// rule must not fire. End may be earlier than Start, in which case the
// window wraps past midnight into the next day.
type SuppressionWindow struct {
	Day   time.Weekday `json:"day"`
	Start string       `json:"start"` // "HH:MM"
	End   string       `json:"end"`   // "HH:MM"
}

// Rule is a user-authored alerting rule. This core never mutates rules
// except for the last-triggered bookkeeping timestamp.
type Rule struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Enabled  bool     `json:"enabled"`
	Priority Priority `json:"priority"`

	// Exactly one of Condition (legacy single predicate) or Tree is set.
	Condition *Condition     `json:"condition,omitempty"`
	Tree      *ConditionTree `json:"tree,omitempty"`

	StartsAt  *time.Time          `json:"starts_at,omitempty"`
	ExpiresAt *time.Time          `json:"expires_at,omitempty"`
	Suppress  []SuppressionWindow `json:"suppress,omitempty"`

	Cooldown time.Duration `json:"cooldown"`

	ChannelIDs         []string `json:"channel_ids,omitempty"`
	UseDefaultChannels bool     `json:"use_default_channels"`
	WebhookURL         string   `json:"webhook_url,omitempty"`

	OwnerID string `json:"owner_id,omitempty"`
	Shared  bool   `json:"shared"`

	LastTriggered *time.Time `json:"last_triggered,omitempty"`
}

// ScheduleValid reports whether the rule's validity window covers now.
// A rule with a future start or a past expiry never matches.
func (r Rule) ScheduleValid(now time.Time) bool {
	if r.StartsAt != nil && now.Before(*r.StartsAt) {
		return false
	}
	if r.ExpiresAt != nil && now.After(*r.ExpiresAt) {
		return false
	}
	return true
}
