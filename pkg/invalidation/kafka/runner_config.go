package kafka

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type Driver string

const (
	DriverNone  Driver = "none"
	DriverKafka Driver = "kafka"
)

type InvalidationConfig struct {
	Enabled bool
	Driver  Driver

	Brokers []string
	Topic   string
	GroupID string

	SessionTimeout   time.Duration
	Heartbeat        time.Duration
	RebalanceTimeout time.Duration
	InitialOldest    bool

	// DedupeSize bounds the number of scopes whose last version is remembered.
	DedupeSize int
	// RefreshTimeout bounds a refresh triggered by an event.
	RefreshTimeout time.Duration
}

// Active reports whether Start will join a consumer group.
func (c InvalidationConfig) Active() bool { return c.Enabled && c.Driver == DriverKafka }

// Validate checks an active config; an inactive one is always valid.
func (c InvalidationConfig) Validate() error {
	if !c.Active() {
		return nil
	}
	var errs []error
	if len(c.Brokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is empty"))
	}
	if c.Topic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC is empty"))
	}
	if c.GroupID == "" {
		errs = append(errs, errors.New("KAFKA_GROUP_ID is empty"))
	}
	if c.Heartbeat <= 0 || c.Heartbeat >= c.SessionTimeout {
		errs = append(errs, errors.New("heartbeat must be positive and below the session timeout"))
	}
	return errors.Join(errs...)
}

// FromEnv reads INVALIDATION_* and KAFKA_* variables. Topic and group
// default to coverage-invalidation and coverage-invalidator.
func FromEnv() InvalidationConfig {
	driver := Driver(strings.ToLower(env("INVALIDATION_DRIVER", string(DriverNone))))
	enabled, _ := strconv.ParseBool(env("INVALIDATION_ENABLED", "false"))

	return InvalidationConfig{
		Enabled:          enabled,
		Driver:           driver,
		Brokers:          Split(env("KAFKA_BROKERS", "localhost:9092")),
		Topic:            env("KAFKA_TOPIC", "coverage-invalidation"),
		GroupID:          env("KAFKA_GROUP_ID", "coverage-invalidator"),
		SessionTimeout:   envDuration("KAFKA_SESSION_TIMEOUT", 30*time.Second),
		Heartbeat:        envDuration("KAFKA_HEARTBEAT", 3*time.Second),
		RebalanceTimeout: envDuration("KAFKA_REBALANCE_TIMEOUT", 30*time.Second),
		InitialOldest:    strings.ToLower(env("KAFKA_INITIAL_OFFSET", "oldest")) != "newest",
		DedupeSize:       envInt("INVALIDATION_DEDUPE_SIZE", 8192),
		RefreshTimeout:   envDuration("INVALIDATION_REFRESH_TIMEOUT", 30*time.Minute),
	}
}

// Split parses a comma separated broker list.
func Split(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if x := strings.TrimSpace(p); x != "" {
			out = append(out, x)
		}
	}
	return out
}

func env(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func envDuration(k string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(env(k, "")); err == nil && d > 0 {
		return d
	}
	return def
}

func envInt(k string, def int) int {
	if n, err := strconv.Atoi(env(k, "")); err == nil && n > 0 {
		return n
	}
	return def
}
