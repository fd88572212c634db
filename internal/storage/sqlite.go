package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"skyalert/internal/model"
	logx "skyalert/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open opens (and migrates) the SQLite database at cfg.Path.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- rules ----

func (s *sqliteStore) ListEnabled(ctx context.Context) ([]model.Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, enabled, priority, condition, tree, starts_at, expires_at,
		        suppress, cooldown_sec, channel_ids, use_default_channels,
		        webhook_url, owner_id, shared, last_triggered
		 FROM rules WHERE enabled = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Rule
	for rows.Next() {
		var (
			r             model.Rule
			enabled       int
			cond, tree    sql.NullString
			starts, exp   sql.NullString
			suppress      sql.NullString
			cooldownSec   int64
			channelIDs    sql.NullString
			useDefault    int
			webhook       sql.NullString
			owner         sql.NullString
			shared        int
			lastTriggered sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Name, &enabled, &r.Priority, &cond, &tree,
			&starts, &exp, &suppress, &cooldownSec, &channelIDs, &useDefault,
			&webhook, &owner, &shared, &lastTriggered); err != nil {
			return nil, err
		}
		r.Enabled = enabled != 0
		r.UseDefaultChannels = useDefault != 0
		r.Shared = shared != 0
		r.Cooldown = time.Duration(cooldownSec) * time.Second
		r.WebhookURL = webhook.String
		r.OwnerID = owner.String
		r.StartsAt = scanTimePtr(starts)
		r.ExpiresAt = scanTimePtr(exp)
		r.LastTriggered = scanTimePtr(lastTriggered)

		// Condition JSON is decoded once here; the engine evaluates the
		// typed tree without re-inspecting raw structures.
		if cond.Valid && cond.String != "" {
			var c model.Condition
			if err := json.Unmarshal([]byte(cond.String), &c); err != nil {
				return nil, fmt.Errorf("rule %s: condition: %w", r.ID, err)
			}
			r.Condition = &c
		}
		if tree.Valid && tree.String != "" {
			var t model.ConditionTree
			if err := json.Unmarshal([]byte(tree.String), &t); err != nil {
				return nil, fmt.Errorf("rule %s: tree: %w", r.ID, err)
			}
			r.Tree = &t
		}
		if suppress.Valid && suppress.String != "" {
			if err := json.Unmarshal([]byte(suppress.String), &r.Suppress); err != nil {
				return nil, fmt.Errorf("rule %s: suppress: %w", r.ID, err)
			}
		}
		if channelIDs.Valid && channelIDs.String != "" {
			if err := json.Unmarshal([]byte(channelIDs.String), &r.ChannelIDs); err != nil {
				return nil, fmt.Errorf("rule %s: channel_ids: %w", r.ID, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) TouchLastTriggered(ctx context.Context, ruleID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE rules SET last_triggered = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339Nano), ruleID)
	return err
}

// ---- channels ----

const channelCols = `id, name, type, endpoint, rich_format, is_global, enabled,
	last_success_at, last_failure_at, last_error`

func (s *sqliteStore) List(ctx context.Context) ([]model.Channel, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+channelCols+` FROM channels`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Channel
	for rows.Next() {
		ch, err := scanChannel(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *ch)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Get(ctx context.Context, id string) (*model.Channel, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+channelCols+` FROM channels WHERE id = ?`, id)
	ch, err := scanChannel(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ch, err
}

func scanChannel(scan func(dest ...any) error) (*model.Channel, error) {
	var (
		ch                 model.Channel
		rich, global, enab int
		succ, fail, lerr   sql.NullString
	)
	if err := scan(&ch.ID, &ch.Name, &ch.Type, &ch.Endpoint, &rich, &global, &enab,
		&succ, &fail, &lerr); err != nil {
		return nil, err
	}
	ch.RichFormat = rich != 0
	ch.Global = global != 0
	ch.Enabled = enab != 0
	ch.LastSuccessAt = scanTimePtr(succ)
	ch.LastFailureAt = scanTimePtr(fail)
	ch.LastError = lerr.String
	return &ch, nil
}

func (s *sqliteStore) RecordSuccess(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE channels SET last_success_at = ?, last_error = NULL WHERE id = ?`,
		at.UTC().Format(time.RFC3339Nano), id)
	return err
}

func (s *sqliteStore) RecordFailure(ctx context.Context, id string, at time.Time, lastErr string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE channels SET last_failure_at = ?, last_error = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339Nano), nullStr(lastErr), id)
	return err
}

// ---- preferences ----

func (s *sqliteStore) ListForUser(ctx context.Context, userID string) ([]model.Preference, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, channel_id, enabled, min_priority, event_types, quiet_start, quiet_end
		 FROM preferences WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Preference
	for rows.Next() {
		var (
			p          model.Preference
			enab       int
			minPrio    sql.NullString
			eventTypes sql.NullString
			qs, qe     sql.NullString
		)
		if err := rows.Scan(&p.UserID, &p.ChannelID, &enab, &minPrio, &eventTypes, &qs, &qe); err != nil {
			return nil, err
		}
		p.Enabled = enab != 0
		p.MinPriority = model.Priority(minPrio.String)
		p.QuietStart = qs.String
		p.QuietEnd = qe.String
		if eventTypes.Valid && eventTypes.String != "" {
			if err := json.Unmarshal([]byte(eventTypes.String), &p.EventTypes); err != nil {
				return nil, fmt.Errorf("preference %s/%s: event_types: %w", p.UserID, p.ChannelID, err)
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ---- templates ----

func (s *sqliteStore) Find(ctx context.Context, eventType string, priority model.Priority) (*model.MessageTemplate, error) {
	var (
		t    model.MessageTemplate
		rich sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, event_type, priority, title, body, rich_template
		 FROM templates WHERE event_type = ? AND priority = ?`,
		eventType, string(priority)).
		Scan(&t.ID, &t.EventType, &t.Priority, &t.Title, &t.Body, &rich)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.RichTemplate = rich.String
	return &t, nil
}

// ---- delivery log ----

func (s *sqliteStore) Create(ctx context.Context, e *model.DeliveryLogEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_log(id, trigger_id, rule_id, channel_id, status,
		        retry_count, last_error, created_at, updated_at, sent_at, duration_ms)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.TriggerID, e.RuleID, e.ChannelID, string(e.Status),
		e.RetryCount, nullStr(e.LastError),
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
		e.UpdatedAt.UTC().Format(time.RFC3339Nano),
		fmtTimePtr(e.SentAt), e.DurationMS)
	return err
}

func (s *sqliteStore) Update(ctx context.Context, e *model.DeliveryLogEntry) error {
	e.UpdatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`UPDATE delivery_log SET status = ?, retry_count = ?, last_error = ?,
		        updated_at = ?, sent_at = ?, duration_ms = ?
		 WHERE id = ?`,
		string(e.Status), e.RetryCount, nullStr(e.LastError),
		e.UpdatedAt.UTC().Format(time.RFC3339Nano),
		fmtTimePtr(e.SentAt), e.DurationMS, e.ID)
	return err
}

func (s *sqliteStore) GetDelivery(ctx context.Context, id string) (*model.DeliveryLogEntry, error) {
	var (
		e              model.DeliveryLogEntry
		lastErr        sql.NullString
		created, upd   string
		sent           sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, trigger_id, rule_id, channel_id, status, retry_count,
		        last_error, created_at, updated_at, sent_at, duration_ms
		 FROM delivery_log WHERE id = ?`, id).
		Scan(&e.ID, &e.TriggerID, &e.RuleID, &e.ChannelID, &e.Status, &e.RetryCount,
			&lastErr, &created, &upd, &sent, &e.DurationMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.LastError = lastErr.String
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, upd)
	e.SentAt = scanTimePtr(sent)
	return &e, nil
}

func (s *sqliteStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM delivery_log WHERE created_at < ?`,
		olderThan.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ---- scan helpers ----

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func scanTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
