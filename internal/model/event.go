package model

import "time"

// Event types attached to triggers and used for routing/template lookup.
const (
	EventRuleMatch = "rule_match"
	EventEmergency = "emergency"
)

// TriggerEvent records that a rule matched a snapshot and cooldown allowed
// firing. It is handed to the dispatcher and mirrored to downstream
// consumers; it is not persisted by this core.
type TriggerEvent struct {
	ID        string    `json:"id"`
	RuleID    string    `json:"rule_id"`
	RuleName  string    `json:"rule_name"`
	Priority  Priority  `json:"priority"`
	EventType string    `json:"event_type"`
	Summary   string    `json:"summary"`
	At        time.Time `json:"at"`

	Aircraft AircraftSnapshot `json:"aircraft"`

	// Routing context carried from the triggering rule.
	OwnerID            string   `json:"owner_id,omitempty"`
	ChannelIDs         []string `json:"channel_ids,omitempty"`
	UseDefaultChannels bool     `json:"use_default_channels,omitempty"`
	WebhookURL         string   `json:"webhook_url,omitempty"`
}

// NotificationPayload is one rendered, channel-ready message.
type NotificationPayload struct {
	ID          string      `json:"id"`
	ChannelID   string      `json:"channel_id"`
	ChannelType ChannelType `json:"channel_type"`
	Endpoint    string      `json:"endpoint"`

	Title string         `json:"title"`
	Body  string         `json:"body"`
	Rich  map[string]any `json:"rich,omitempty"`

	Priority  Priority `json:"priority"`
	EventType string   `json:"event_type"`
	TriggerID string   `json:"trigger_id"`
	RuleID    string   `json:"rule_id"`
}

// DeliveryStatus is the delivery state machine:
// pending -> retrying(n) -> sent | failed.
type DeliveryStatus string

const (
	DeliveryPending  DeliveryStatus = "pending"
	DeliveryRetrying DeliveryStatus = "retrying"
	DeliverySent     DeliveryStatus = "sent"
	DeliveryFailed   DeliveryStatus = "failed"
)

// DeliveryLogEntry is the persisted record of one payload's delivery,
// created at dispatch and updated per attempt.
type DeliveryLogEntry struct {
	ID        string `json:"id"`
	TriggerID string `json:"trigger_id"`
	RuleID    string `json:"rule_id"`
	ChannelID string `json:"channel_id"`

	Status     DeliveryStatus `json:"status"`
	RetryCount int            `json:"retry_count"`
	LastError  string         `json:"last_error,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
	DurationMS int64      `json:"duration_ms,omitempty"`
}
