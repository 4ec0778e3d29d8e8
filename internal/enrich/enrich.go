// Package enrich fetches live context for a city from public APIs: current
// weather (OpenWeatherMap), country facts (REST Countries) and recent news
// (NewsAPI). Every provider is optional; a failing one leaves its section
// empty.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/goccy/go-json"
	gocache "github.com/patrickmn/go-cache"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"

	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/core/model"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/core/observability"
)

const (
	UpstreamWeather   = "openweather"
	UpstreamCountries = "restcountries"
	UpstreamNews      = "newsapi"
)

const (
	DefaultWeatherURL   = "https://api.openweathermap.org/data/2.5"
	DefaultCountriesURL = "https://restcountries.com/v3.1"
	DefaultNewsURL      = "https://newsapi.org/v2"
)

// ErrNotConfigured is returned by a provider whose API key is missing.
var ErrNotConfigured = errors.New("enrich: provider not configured")

// StatusError is a non-2xx upstream answer.
type StatusError struct {
	Upstream string
	Code     int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Upstream, e.Code)
}

func clientError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code >= 400 && se.Code < 500
}

type Config struct {
	OpenWeatherAPIKey string
	NewsAPIKey        string

	WeatherURL   string
	CountriesURL string
	NewsURL      string

	CacheTTL        time.Duration
	MaxRetries      uint64
	RetryInitial    time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

func (c *Config) defaults() {
	if c.WeatherURL == "" {
		c.WeatherURL = DefaultWeatherURL
	}
	if c.CountriesURL == "" {
		c.CountriesURL = DefaultCountriesURL
	}
	if c.NewsURL == "" {
		c.NewsURL = DefaultNewsURL
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 10 * time.Minute
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 200 * time.Millisecond
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
}

type Client struct {
	cfg      Config
	http     *http.Client
	memo     *gocache.Cache
	breakers map[string]*gobreaker.CircuitBreaker[[]byte]
	log      *slog.Logger
}

func New(cfg Config, hc *http.Client, log *slog.Logger) *Client {
	cfg.defaults()
	if hc == nil {
		hc = http.DefaultClient
	}
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		cfg:      cfg,
		http:     hc,
		memo:     gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		breakers: map[string]*gobreaker.CircuitBreaker[[]byte]{},
		log:      log.With("component", "enrich"),
	}
	for _, name := range []string{UpstreamWeather, UpstreamCountries, UpstreamNews} {
		c.breakers[name] = c.newBreaker(name)
	}
	return c
}

func (c *Client) newBreaker(name string) *gobreaker.CircuitBreaker[[]byte] {
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    name,
		Timeout: c.cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.cfg.BreakerFailures
		},
		// a 4xx means the upstream is healthy and the request was wrong
		IsSuccessful: func(err error) bool {
			return err == nil || clientError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn("upstream breaker state changed", "upstream", name, "from", from.String(), "to", to.String())
		},
	})
}

// BreakerState reports the breaker state of one upstream ("closed", "open"
// or "half-open").
func (c *Client) BreakerState(upstream string) string {
	if b, ok := c.breakers[upstream]; ok {
		return b.State().String()
	}
	return ""
}

// fetch GETs u through the upstream's breaker, retrying transport errors and
// 5xx answers with exponential backoff.
func (c *Client) fetch(ctx context.Context, upstream, u string) ([]byte, error) {
	start := time.Now()
	body, err := c.breakers[upstream].Execute(func() ([]byte, error) {
		var out []byte
		op := func() error {
			b, err := c.get(ctx, upstream, u)
			if err != nil {
				if clientError(err) {
					return backoff.Permanent(err)
				}
				return err
			}
			out = b
			return nil
		}
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = c.cfg.RetryInitial
		err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, c.cfg.MaxRetries), ctx))
		return out, err
	})
	observability.ObserveUpstreamLatency(upstream, err == nil, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", upstream, err)
	}
	return body, nil
}

func (c *Client) get(ctx context.Context, upstream, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, &StatusError{Upstream: upstream, Code: resp.StatusCode}
	}
	return io.ReadAll(io.LimitReader(resp.Body, 4<<20))
}

// memoized returns the cached value under key or loads, stores and returns it.
func memoized[T any](c *Client, key string, load func() (T, error)) (T, error) {
	if v, ok := c.memo.Get(key); ok {
		if t, ok := v.(T); ok {
			return t, nil
		}
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	c.memo.SetDefault(key, v)
	return v, nil
}

func decode[T any](body []byte, upstream string) (T, error) {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return v, fmt.Errorf("%s: decode: %w", upstream, err)
	}
	return v, nil
}

// CityData is the combined enrichment for one city. Absent sections are nil.
type CityData struct {
	Timestamp time.Time         `json:"timestamp"`
	Weather   *Weather          `json:"weather"`
	Country   *Country          `json:"country_info"`
	News      []Article         `json:"recent_news"`
	Sources   map[string]string `json:"data_sources"`
}

// City queries every provider concurrently. It never fails: a provider error
// is logged and its section left empty.
func (c *Client) City(ctx context.Context, city model.City) CityData {
	out := CityData{Timestamp: time.Now().UTC(), Sources: map[string]string{}}

	var g errgroup.Group
	g.Go(func() error {
		w, err := c.Weather(ctx, city.Latitude, city.Longitude)
		c.report(ctx, UpstreamWeather, city.Name, err)
		if err == nil {
			out.Weather = &w
		}
		return nil
	})
	g.Go(func() error {
		co, err := c.Country(ctx, city.Country)
		c.report(ctx, UpstreamCountries, city.Name, err)
		if err == nil {
			out.Country = &co
		}
		return nil
	})
	g.Go(func() error {
		n, err := c.News(ctx, city.Name, city.Country)
		c.report(ctx, UpstreamNews, city.Name, err)
		if err == nil {
			out.News = n
		}
		return nil
	})
	_ = g.Wait()

	if out.Weather != nil {
		out.Sources["weather"] = "OpenWeatherMap"
	}
	if out.Country != nil {
		out.Sources["country"] = "REST Countries"
	}
	if out.News != nil {
		out.Sources["news"] = "NewsAPI"
	}
	return out
}

func (c *Client) report(ctx context.Context, upstream, city string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, ErrNotConfigured):
		c.log.DebugContext(ctx, "enrichment provider not configured", "upstream", upstream)
	default:
		c.log.WarnContext(ctx, "enrichment provider failed", "upstream", upstream, "city", city, "err", err)
	}
}
