// Package events publishes refresh notifications to Kafka for downstream
// consumers (dashboards, other replicas).
package events

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	json "github.com/goccy/go-json"
)

type RefreshCompleted struct {
	RunID     string    `json:"run_id"`
	Trigger   string    `json:"trigger"`
	Processed int       `json:"processed"`
	Errors    int       `json:"errors"`
	Skipped   int       `json:"skipped"`
	Cities    []string  `json:"cities,omitempty"`
	TS        time.Time `json:"ts"`
}

type Publisher struct {
	topic   string
	events  chan RefreshCompleted
	prod    sarama.AsyncProducer
	log     *slog.Logger
	stopped chan struct{}
}

func NewPublisher(brokers []string, topic string, queueSize int, log *slog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("events: create async producer: %w", err)
	}
	return NewWithProducer(prod, topic, queueSize, log), nil
}

// NewWithProducer starts the publish loop over an existing producer, which
// the Publisher then owns.
func NewWithProducer(prod sarama.AsyncProducer, topic string, queueSize int, log *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 64
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Publisher{
		topic:   topic,
		events:  make(chan RefreshCompleted, queueSize),
		prod:    prod,
		log:     log.With("component", "events"),
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.log.Error("marshal refresh event", "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.RunID),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		for err := range p.prod.Errors() {
			if err != nil {
				p.log.Warn("producer error", "err", err)
			}
		}
	}()

	return p
}

// Publish never blocks; when the queue is full the event is dropped.
func (p *Publisher) Publish(ev RefreshCompleted) {
	select {
	case p.events <- ev:
	default:
		p.log.Warn("event queue full, dropping", "run_id", ev.RunID)
	}
}

// Close drains queued events and closes the producer.
func (p *Publisher) Close() error {
	close(p.events)
	<-p.stopped

	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("events: close producer: %w", err)
	}
	return nil
}
