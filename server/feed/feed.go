// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package feed publishes committed market events to Kafka.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"decred.org/nftdex/server/market"
	"github.com/segmentio/kafka-go"
)

const (
	defaultQueueSize    = 1024
	defaultWriteTimeout = 10 * time.Second
	// maxBatch is the most events written in one WriteMessages call.
	maxBatch = 100
)

// MessageWriter writes messages to a topic. It is satisfied by
// *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config is the configuration of the Kafka feed.
type Config struct {
	Brokers      []string
	Topic        string
	QueueSize    int
	WriteTimeout time.Duration
}

// Kafka is a market.Publisher that writes events as JSON to a Kafka topic,
// keyed by order ID. Publish never blocks. Events are dropped and counted if
// the queue is full.
type Kafka struct {
	w            MessageWriter
	queue        chan *market.Event
	writeTimeout time.Duration
	dropped      atomic.Uint64
	written      atomic.Uint64
}

var _ market.Publisher = (*Kafka)(nil)

// NewKafka creates a Kafka feed. Run must be called to begin writing.
func NewKafka(cfg *Config) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("no kafka brokers")
	}
	if cfg.Topic == "" {
		return nil, errors.New("no kafka topic")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return newKafka(w, cfg), nil
}

func newKafka(w MessageWriter, cfg *Config) *Kafka {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Kafka{
		w:            w,
		queue:        make(chan *market.Event, queueSize),
		writeTimeout: writeTimeout,
	}
}

// Publish queues the event.
func (k *Kafka) Publish(ev *market.Event) {
	select {
	case k.queue <- ev:
	default:
		n := k.dropped.Add(1)
		log.Warnf("Event queue full. Dropped %s event for order %v (%d dropped total).", ev.Type, ev.OrderID, n)
	}
}

// Dropped is the number of events dropped because the queue was full.
func (k *Kafka) Dropped() uint64 {
	return k.dropped.Load()
}

// Written is the number of events written to the topic.
func (k *Kafka) Written() uint64 {
	return k.written.Load()
}

// Run writes queued events until the context is canceled. Events still queued
// at shutdown are written before the writer is closed.
func (k *Kafka) Run(ctx context.Context) {
	defer func() {
		if err := k.w.Close(); err != nil {
			log.Errorf("Error closing kafka writer: %v", err)
		}
	}()
	for {
		select {
		case ev := <-k.queue:
			k.writeBatch(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-k.queue:
					k.writeBatch(ev)
				default:
					return
				}
			}
		}
	}
}

// writeBatch writes the event and any others already queued.
func (k *Kafka) writeBatch(first *market.Event) {
	evs := []*market.Event{first}
out:
	for len(evs) < maxBatch {
		select {
		case ev := <-k.queue:
			evs = append(evs, ev)
		default:
			break out
		}
	}
	msgs := make([]kafka.Message, 0, len(evs))
	for _, ev := range evs {
		msg, err := encode(ev)
		if err != nil {
			log.Errorf("Error encoding %s event: %v", ev.Type, err)
			continue
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return
	}
	// The context of Run may already be canceled at shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), k.writeTimeout)
	defer cancel()
	if err := k.w.WriteMessages(ctx, msgs...); err != nil {
		log.Errorf("Error writing %d events to kafka: %v", len(msgs), err)
		return
	}
	k.written.Add(uint64(len(msgs)))
	log.Tracef("Wrote %d events to kafka", len(msgs))
}

func encode(ev *market.Event) (kafka.Message, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	key := ev.OrderID.String()
	if ev.OrderID.IsZero() {
		key = string(ev.Type)
	}
	return kafka.Message{
		Key:   []byte(key),
		Value: b,
		Time:  ev.Stamp,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
			{Key: "id", Value: []byte(ev.ID.String())},
		},
	}, nil
}

// Nop is a market.Publisher that discards events.
type Nop struct{}

// Publish discards the event.
func (Nop) Publish(*market.Event) {}
