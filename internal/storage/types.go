package storage

import (
	"context"
	"errors"
	"time"

	"skyalert/internal/model"
)

var ErrNotFound = errors.New("storage: not found")

// RuleRepo is the read surface the rule engine consumes. The only rule
// mutation this core performs is the last-triggered bookkeeping write.
type RuleRepo interface {
	ListEnabled(ctx context.Context) ([]model.Rule, error)
	TouchLastTriggered(ctx context.Context, ruleID string, at time.Time) error
}

// ChannelRepo serves routing and records per-channel delivery health.
type ChannelRepo interface {
	List(ctx context.Context) ([]model.Channel, error)
	Get(ctx context.Context, id string) (*model.Channel, error)
	RecordSuccess(ctx context.Context, id string, at time.Time) error
	RecordFailure(ctx context.Context, id string, at time.Time, lastErr string) error
}

// PreferenceRepo serves per-user channel preferences for routing.
type PreferenceRepo interface {
	ListForUser(ctx context.Context, userID string) ([]model.Preference, error)
}

// TemplateRepo resolves configured message templates. Find returns
// ErrNotFound when no template is configured for the pair; callers fall
// back to built-in defaults.
type TemplateRepo interface {
	Find(ctx context.Context, eventType string, priority model.Priority) (*model.MessageTemplate, error)
}

// DeliveryLogRepo persists per-payload delivery state, one row per payload,
// updated on every attempt.
type DeliveryLogRepo interface {
	Create(ctx context.Context, e *model.DeliveryLogEntry) error
	Update(ctx context.Context, e *model.DeliveryLogEntry) error
	GetDelivery(ctx context.Context, id string) (*model.DeliveryLogEntry, error)
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// Store bundles all repositories backed by one database.
type Store interface {
	RuleRepo
	ChannelRepo
	PreferenceRepo
	TemplateRepo
	DeliveryLogRepo
	Close() error
}
