package model

import "time"

// ChannelType is the closed set of destination kinds this core can route to.
type ChannelType string

const (
	ChannelDiscord  ChannelType = "discord"
	ChannelSlack    ChannelType = "slack"
	ChannelTeams    ChannelType = "teams"
	ChannelTelegram ChannelType = "telegram"
	ChannelMQTT     ChannelType = "mqtt"
	ChannelWebhook  ChannelType = "webhook"
)

// RichCapable reports whether a channel type accepts a structured payload
// beyond plain title/body text.
func (t ChannelType) RichCapable() bool {
	switch t {
	case ChannelDiscord, ChannelSlack, ChannelTeams, ChannelTelegram:
		return true
	default:
		return false
	}
}

// Channel is a configured external notification destination.
type Channel struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Type     ChannelType `json:"type"`
	Endpoint string      `json:"endpoint"`

	RichFormat bool `json:"rich_format"`
	Global     bool `json:"global"`
	Enabled    bool `json:"enabled"`

	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

// Preference is one user's routing preference for one channel.
type Preference struct {
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
	Enabled   bool   `json:"enabled"`

	// MinPriority suppresses notifications ranked below it. Empty means all.
	MinPriority Priority `json:"min_priority,omitempty"`

	// EventTypes is an allowlist; empty means all event types.
	EventTypes []string `json:"event_types,omitempty"`

	// Quiet hours in local wall-clock "HH:MM"; End may wrap past midnight.
	// Both empty disables quiet hours.
	QuietStart string `json:"quiet_start,omitempty"`
	QuietEnd   string `json:"quiet_end,omitempty"`
}

// MessageTemplate is an operator-configured rendering template for a
// (event type, priority) pair. RichTemplate, when set, is a JSON document
// whose string values are themselves rendered before use.
type MessageTemplate struct {
	ID           string   `json:"id"`
	EventType    string   `json:"event_type"`
	Priority     Priority `json:"priority"`
	Title        string   `json:"title"`
	Body         string   `json:"body"`
	RichTemplate string   `json:"rich_template,omitempty"`
}
