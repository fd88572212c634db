package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"skyalert/internal/config"
	"skyalert/internal/cooldown"
	"skyalert/internal/eventbus"
	"skyalert/internal/fanout"
	"skyalert/internal/ingest"
	"skyalert/internal/metrics"
	"skyalert/internal/model"
	"skyalert/internal/notify"
	"skyalert/internal/ops"
	"skyalert/internal/rules"
	"skyalert/internal/runtime/supervisor"
	"skyalert/internal/storage"
	"skyalert/internal/transport"
	"skyalert/pkg/logx"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr := config.NewManager(configPath)
	cfg, err := mgr.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Log.Level,
		Console: cfg.Log.Console,
		File: logx.FileConfig{
			Enabled: cfg.Log.File.Enabled,
			Path:    cfg.Log.File.Path,
		},
	})
	defer logSvc.Close()
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	log.Info("starting", logx.String("config", configPath))

	// Storage.
	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	// Cooldown coordinator, Redis-backed when enabled.
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
	}
	cooldowns := cooldown.New(rdb, cfg.Redis.KeyPrefix, log.With(logx.String("comp", "cooldown")))

	collector := metrics.NewCollector(cfg.Metrics.RingSize)
	bus := eventbus.New()

	// Transports.
	mux := transport.NewMux()
	webhook := transport.NewWebhookTransport(10 * time.Second)
	mux.Register(model.ChannelWebhook, webhook)
	mux.Register(model.ChannelDiscord, webhook)
	mux.Register(model.ChannelSlack, webhook)
	mux.Register(model.ChannelTeams, webhook)
	if cfg.Transports.Telegram.Enabled {
		tg, err := transport.NewTelegramTransport(cfg.Transports.Telegram.Token)
		if err != nil {
			return fmt.Errorf("telegram transport: %w", err)
		}
		mux.Register(model.ChannelTelegram, tg)
	}
	var mq *transport.MQTTTransport
	if cfg.Transports.MQTT.Enabled {
		mq, err = transport.NewMQTTTransport(transport.MQTTOptions{
			Broker:   cfg.Transports.MQTT.Broker,
			ClientID: cfg.Transports.MQTT.ClientID,
			Username: cfg.Transports.MQTT.Username,
			Password: cfg.Transports.MQTT.Password,
		})
		if err != nil {
			return fmt.Errorf("mqtt transport: %w", err)
		}
		defer mq.Close()
		mux.Register(model.ChannelMQTT, mq)
	}

	// Delivery pipeline.
	retryBase, err := config.ParseDurationOrDefault("notify.retry_base", cfg.Notify.RetryBase, 2*time.Second)
	if err != nil {
		return err
	}
	retryMaxDelay, err := config.ParseDurationOrDefault("notify.retry_max_delay", cfg.Notify.RetryMaxDelay, 2*time.Minute)
	if err != nil {
		return err
	}
	worker := notify.NewWorker(
		log.With(logx.String("comp", "delivery")),
		mux, store, store, bus,
		notify.WorkerConfig{
			Workers:       cfg.Notify.Workers,
			QueueSize:     cfg.Notify.QueueSize,
			RatePerSec:    cfg.Notify.RatePerSec,
			RetryMax:      cfg.Notify.RetryMax,
			RetryBase:     retryBase,
			RetryMaxDelay: retryMaxDelay,
		})
	router := notify.NewRouter(
		log.With(logx.String("comp", "router")),
		store, store, cfg.Notify.FallbackEndpoints)
	dispatcher := notify.NewDispatcher(
		log.With(logx.String("comp", "dispatch")),
		router, store, store, worker, bus)

	// Rule engine.
	cacheTTL, err := config.ParseDurationOrDefault("engine.rule_cache_ttl", cfg.Engine.RuleCacheTTL, 15*time.Second)
	if err != nil {
		return err
	}
	defaultCooldown, err := config.ParseDurationOrDefault("engine.default_cooldown", cfg.Engine.DefaultCooldown, 5*time.Minute)
	if err != nil {
		return err
	}
	selector := rules.NewSelector(store, cacheTTL)
	engine := rules.NewEngine(
		log.With(logx.String("comp", "engine")),
		selector, store, cooldowns, collector, bus, dispatcher, defaultCooldown)

	sup := supervisor.New(ctx, supervisor.WithLogger(log.With(logx.String("comp", "supervisor"))))

	worker.Start(sup)

	if cfg.Ingest.URL != "" {
		interval, err := config.ParseDurationOrDefault("ingest.interval", cfg.Ingest.Interval, 5*time.Second)
		if err != nil {
			return err
		}
		timeout, err := config.ParseDurationOrDefault("ingest.timeout", cfg.Ingest.Timeout, 10*time.Second)
		if err != nil {
			return err
		}
		opts := ingest.Options{URL: cfg.Ingest.URL, Interval: interval, Timeout: timeout}
		if o := cfg.Ingest.Observer; o != nil {
			opts.Observer = &ingest.Observer{Lat: o.Lat, Lon: o.Lon}
		}
		poller := ingest.NewPoller(log.With(logx.String("comp", "ingest")), opts, engine)
		sup.GoRestart("ingest-poller", poller.Run)
	}

	if len(cfg.Fanout.Brokers) > 0 {
		mirror := fanout.NewMirror(
			log.With(logx.String("comp", "fanout")),
			cfg.Fanout.Brokers, cfg.Fanout.Topic, bus)
		sup.GoRestart("kafka-mirror", mirror.Run)
	}

	if cfg.Ops.Enabled {
		summaryWindow, err := config.ParseDurationOrDefault("metrics.summary_window", cfg.Metrics.SummaryWindow, 15*time.Minute)
		if err != nil {
			return err
		}
		opsSrv := ops.NewServer(
			log.With(logx.String("comp", "ops")),
			cfg.Ops.Addr, collector, cooldowns,
			&channelTester{store: store, worker: worker},
			mgr, summaryWindow)
		sup.GoRestart("ops-server", opsSrv.Run)
	}

	// Config hot reload. Rule/channel data lives in SQLite and is picked up
	// by the selector's TTL; the watcher covers log level and the like.
	sup.Go("config-watch", mgr.Watch)
	sup.Go("config-apply", func(ctx context.Context) error {
		ch := mgr.Subscribe(4)
		defer mgr.Unsubscribe(ch)
		for {
			select {
			case <-ctx.Done():
				return nil
			case next := <-ch:
				if next == nil {
					continue
				}
				logSvc.Apply(logx.Config{
					Level:   next.Log.Level,
					Console: next.Log.Console,
					File: logx.FileConfig{
						Enabled: next.Log.File.Enabled,
						Path:    next.Log.File.Path,
					},
				})
				selector.Invalidate()
				log.Info("configuration reloaded")
			}
		}
	})

	// Maintenance jobs.
	cr := cron.New()
	prune := cfg.Maintenance.CooldownPrune
	if prune == "" {
		prune = "*/5 * * * *"
	}
	if _, err := cr.AddFunc(prune, func() {
		if n := cooldowns.PruneLocal(); n > 0 {
			log.Debug("pruned local cooldown entries", logx.Int("n", n))
		}
	}); err != nil {
		return fmt.Errorf("cooldown prune schedule: %w", err)
	}
	retention := cfg.Maintenance.LogRetention
	if retention == "" {
		retention = "17 3 * * *"
	}
	maxAge, err := config.ParseDurationOrDefault("maintenance.delivery_log_max_age", cfg.Maintenance.DeliveryLogMaxAge, 720*time.Hour)
	if err != nil {
		return err
	}
	if _, err := cr.AddFunc(retention, func() {
		jctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := store.Prune(jctx, time.Now().Add(-maxAge))
		if err != nil {
			log.Warn("delivery log retention failed", logx.Err(err))
			return
		}
		log.Info("delivery log pruned", logx.Int64("rows", n))
	}); err != nil {
		return fmt.Errorf("log retention schedule: %w", err)
	}
	cr.Start()
	defer cr.Stop()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	log.Info("ready")

	<-ctx.Done()
	log.Info("shutting down")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	sup.Cancel()
	wctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("shutdown incomplete", logx.Err(err))
	}
	return nil
}

// channelTester sends a synthetic payload straight through the delivery
// pool for the ops channel-test endpoint.
type channelTester struct {
	store  storage.Store
	worker *notify.Worker
}

func (t *channelTester) TestChannel(ctx context.Context, channelID string) error {
	ch, err := t.store.Get(ctx, channelID)
	if err != nil {
		return err
	}
	if !ch.Enabled {
		return errors.New("channel is disabled")
	}
	p := model.NotificationPayload{
		ID:          uuid.NewString(),
		ChannelID:   ch.ID,
		ChannelType: ch.Type,
		Endpoint:    ch.Endpoint,
		Title:       "Test notification",
		Body:        "Channel connectivity test from skyalert.",
		Priority:    model.PriorityInfo,
		EventType:   model.EventRuleMatch,
		TriggerID:   "test",
		RuleID:      "test",
	}
	entry := &model.DeliveryLogEntry{
		ID:        p.ID,
		TriggerID: p.TriggerID,
		RuleID:    p.RuleID,
		ChannelID: ch.ID,
		Status:    model.DeliveryPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := t.store.Create(ctx, entry); err != nil {
		return err
	}
	return t.worker.SendSync(ctx, p)
}
