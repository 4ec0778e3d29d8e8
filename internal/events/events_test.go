package events

import (
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	json "github.com/goccy/go-json"
)

func TestPublisher_SendsJSONKeyedByRun(t *testing.T) {
	prod := mocks.NewAsyncProducer(t, nil)
	prod.ExpectInputWithMessageCheckerFunctionAndSucceed(func(m *sarama.ProducerMessage) error {
		b, err := m.Value.Encode()
		if err != nil {
			return err
		}
		var ev RefreshCompleted
		if err := json.Unmarshal(b, &ev); err != nil {
			return err
		}
		if ev.RunID != "run-1" || ev.Processed != 2 || m.Topic != "coverage-events" {
			t.Errorf("unexpected message: topic=%s ev=%+v", m.Topic, ev)
		}
		return nil
	})

	p := NewWithProducer(prod, "coverage-events", 4, nil)
	p.Publish(RefreshCompleted{RunID: "run-1", Trigger: "scheduled", Processed: 2, TS: time.Now()})
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestPublisher_DropsWhenQueueFull(t *testing.T) {
	// no publish loop: the queue only fills
	p := &Publisher{events: make(chan RefreshCompleted, 1), log: slog.Default()}
	p.Publish(RefreshCompleted{RunID: "a"})
	p.Publish(RefreshCompleted{RunID: "b"}) // dropped, must not block
	if got := len(p.events); got != 1 {
		t.Fatalf("queued=%d want 1", got)
	}
}
