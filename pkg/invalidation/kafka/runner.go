// Package kafka consumes coverage cache invalidation events from a Kafka
// topic and applies them to the local cache.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/core/model"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/invalidation"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/refresh"
)

// Cache is the part of cache.Service the runner drives.
type Cache interface {
	InvalidateCity(ctx context.Context, city string, typ model.CalculationType) (int, error)
	InvalidateAllCoverage(ctx context.Context) (int, error)
	InvalidateKey(ctx context.Context, key string, typ model.CalculationType) error
	CleanupExpired(ctx context.Context, city string) (int, error)
}

type Refresher interface {
	TriggerManual(ctx context.Context, city string) (refresh.RunSummary, error)
}

type Runner struct {
	log      *slog.Logger
	cfg      InvalidationConfig
	cache    Cache
	refresh  Refresher
	ms       *metricSet
	ver      *versionDedupe
	assigned atomic.Bool
	assignMu sync.RWMutex
	assign   map[int32]struct{}
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

type Options struct {
	Logger   *slog.Logger
	Register prometheus.Registerer
	// Refresher handles op=refresh; without it refresh events only invalidate.
	Refresher Refresher
}

func New(cfg InvalidationConfig, c Cache, opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ms := newMetricSet(opts.Register)
	return &Runner{
		log:     opts.Logger.With("component", "invalidation"),
		cfg:     cfg,
		cache:   c,
		refresh: opts.Refresher,
		ms:      ms,
		ver:     newVersionDedupe(cfg.DedupeSize, ms.dropped),
		assign:  map[int32]struct{}{},
	}
}

func (r *Runner) Start(ctx context.Context) error {
	if !r.cfg.Active() {
		r.log.Info("invalidation runner disabled", "driver", r.cfg.Driver, "enabled", r.cfg.Enabled)
		return nil
	}
	if err := r.cfg.Validate(); err != nil {
		return fmt.Errorf("kafka runner config: %w", err)
	}
	if r.cache == nil {
		return errors.New("kafka runner: cache dependency is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = r.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = r.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = r.cfg.RebalanceTimeout
	if r.cfg.InitialOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(r.cfg.Brokers, r.cfg.GroupID, cfg)
	if err != nil {
		cancel()
		return fmt.Errorf("consumer group: %w", err)
	}

	h := &groupHandler{
		setup: func(sess sarama.ConsumerGroupSession) {
			r.assignMu.Lock()
			r.assigned.Store(true)
			r.assign = map[int32]struct{}{}
			for _, parts := range sess.Claims() {
				for _, p := range parts {
					r.assign[p] = struct{}{}
				}
			}
			r.assignMu.Unlock()
		},
		cleanup: func(sarama.ConsumerGroupSession) {
			r.assignMu.Lock()
			r.assigned.Store(false)
			r.assign = map[int32]struct{}{}
			r.assignMu.Unlock()
		},
		process: r.handleMessage,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if err := group.Close(); err != nil {
				r.log.Error("kafka consumer group close", "err", err)
			}
		}()

		for {
			if err := group.Consume(ctx, []string{r.cfg.Topic}, h); err != nil {
				r.log.Error("kafka consume error", "err", err)
				select {
				case <-time.After(2 * time.Second):
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for err := range group.Errors() {
			r.log.Error("kafka group error", "err", err)
		}
	}()

	r.log.Info("kafka invalidation runner started",
		"topic", r.cfg.Topic, "group", r.cfg.GroupID, "brokers", r.cfg.Brokers)
	return nil
}

func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.log.Info("kafka invalidation runner stopped")
}

func (r *Runner) Readiness() (ready bool, partitions []int32) {
	if !r.assigned.Load() {
		return false, nil
	}
	r.assignMu.RLock()
	defer r.assignMu.RUnlock()
	for p := range r.assign {
		partitions = append(partitions, p)
	}
	return true, partitions
}

// handleMessage returns an error only for failures worth redelivering;
// malformed messages are counted and committed.
func (r *Runner) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()
	if !msg.Timestamp.IsZero() {
		r.ms.lagGauge.Set(time.Since(msg.Timestamp).Seconds())
	}

	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		r.ms.msgs.WithLabelValues("malformed").Inc()
		r.log.Warn("dropping undecodable invalidation event", "offset", msg.Offset, "partition", msg.Partition, "err", err)
		return nil
	}
	if ev.TS.IsZero() {
		ev.TS = msg.Timestamp
	}
	if err := ev.Validate(); err != nil {
		r.ms.msgs.WithLabelValues("malformed").Inc()
		r.log.Warn("dropping invalid invalidation event", "offset", msg.Offset, "op", ev.Op, "err", err)
		return nil
	}

	err := r.Apply(ctx, ev)
	r.observe(string(ev.Op), err, time.Since(start))
	return err
}

// Apply executes one validated event unless a same-or-newer version for its
// scope was already applied.
func (r *Runner) Apply(ctx context.Context, ev invalidation.Event) error {
	scope := ev.DedupeKey()
	if !r.ver.shouldApply(scope, ev.Version) {
		r.ms.apply.WithLabelValues("skip_version").Inc()
		r.log.Debug("skipping replayed invalidation", "scope", scope, "version", ev.Version)
		return nil
	}
	city := strings.TrimSpace(ev.City)

	switch ev.Op {
	case invalidation.OpInvalidate:
		if ev.Key != "" {
			if err := r.cache.InvalidateKey(ctx, ev.Key, ev.CalculationType); err != nil {
				r.ver.forget(scope, ev.Version)
				return err
			}
			r.ms.apply.WithLabelValues("delete").Inc()
			return nil
		}
		n, err := r.cache.InvalidateCity(ctx, city, ev.CalculationType)
		if err != nil {
			r.ver.forget(scope, ev.Version)
			return err
		}
		r.ms.apply.WithLabelValues("delete").Add(float64(n))

	case invalidation.OpInvalidateAll:
		n, err := r.cache.InvalidateAllCoverage(ctx)
		if err != nil {
			r.ver.forget(scope, ev.Version)
			return err
		}
		r.ms.apply.WithLabelValues("delete").Add(float64(n))

	case invalidation.OpCleanup:
		n, err := r.cache.CleanupExpired(ctx, city)
		if err != nil {
			r.ver.forget(scope, ev.Version)
			return err
		}
		r.ms.apply.WithLabelValues("cleanup").Add(float64(n))

	case invalidation.OpRefresh:
		if r.refresh == nil {
			n, err := r.cache.InvalidateCity(ctx, city, "")
			if err != nil {
				r.ver.forget(scope, ev.Version)
				return err
			}
			r.ms.apply.WithLabelValues("delete").Add(float64(n))
			return nil
		}
		if r.cfg.RefreshTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.cfg.RefreshTimeout)
			defer cancel()
		}
		sum, err := r.refresh.TriggerManual(ctx, city)
		if errors.Is(err, refresh.ErrCityNotFound) {
			r.ms.apply.WithLabelValues("unknown_city").Inc()
			r.log.Warn("refresh event for unknown city", "city", city)
			return nil
		}
		if err != nil {
			r.ver.forget(scope, ev.Version)
			return err
		}
		r.ms.apply.WithLabelValues("refresh").Inc()
		r.log.Info("refresh event applied", "city", city, "run_id", sum.RunID, "processed", sum.Processed, "errors", sum.Errors)
	}
	return nil
}

func (r *Runner) observe(op string, err error, dur time.Duration) {
	if op == "" {
		op = "unknown"
	}
	if err != nil {
		r.ms.msgs.WithLabelValues("error").Inc()
	} else {
		r.ms.msgs.WithLabelValues("ok").Inc()
	}
	r.ms.proc.WithLabelValues(op).Observe(dur.Seconds())
}

type groupHandler struct {
	setup   func(sarama.ConsumerGroupSession)
	cleanup func(sarama.ConsumerGroupSession)
	process func(context.Context, *sarama.ConsumerMessage) error
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	if h.setup != nil {
		h.setup(sess)
	}
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	if h.cleanup != nil {
		h.cleanup(sess)
	}
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for msg := range claim.Messages() {
		if err := h.process(ctx, msg); err != nil {
			return err
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}
