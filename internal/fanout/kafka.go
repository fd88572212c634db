// Package fanout mirrors trigger events to Kafka so downstream consumers
// (live map push, archival) can follow along without coupling to this
// process.
package fanout

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"skyalert/internal/eventbus"
	"skyalert/internal/model"
	"skyalert/pkg/logx"
)

const DefaultTopic = "skyalert.triggers"

type Mirror struct {
	log    logx.Logger
	writer *kafka.Writer
	bus    eventbus.Bus
}

func NewMirror(log logx.Logger, brokers []string, topic string, bus eventbus.Bus) *Mirror {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Mirror{
		log: log,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 100 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
		bus: bus,
	}
}

// Run subscribes to the bus and forwards every trigger.fired event until
// ctx is cancelled. Publish errors are logged and dropped; the mirror never
// backpressures the engine.
func (m *Mirror) Run(ctx context.Context) error {
	ch, unsub := m.bus.Subscribe(64)
	defer unsub()
	defer m.writer.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if e.Type != eventbus.TypeTriggerFired {
				continue
			}
			ev, ok := e.Data.(model.TriggerEvent)
			if !ok {
				continue
			}
			m.publish(ctx, ev)
		}
	}
}

func (m *Mirror) publish(ctx context.Context, ev model.TriggerEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		m.log.Error("encode trigger", logx.Err(err))
		return
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err = m.writer.WriteMessages(wctx, kafka.Message{
		// Key by aircraft so one aircraft's triggers stay ordered within a
		// partition.
		Key:   []byte(ev.Aircraft.Hex),
		Value: b,
		Time:  ev.At,
	})
	if err != nil {
		m.log.Warn("kafka publish failed",
			logx.String("trigger_id", ev.ID), logx.Err(err))
		return
	}
	m.log.Debug("trigger mirrored",
		logx.String("trigger_id", ev.ID),
		logx.String("hex", ev.Aircraft.Hex))
}
