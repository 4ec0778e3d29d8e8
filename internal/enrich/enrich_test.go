package enrich

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/core/httpclient"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/core/model"
)

const (
	weatherURL = DefaultWeatherURL + "/weather"
	newsURL    = DefaultNewsURL + "/everything"
	countryRx  = `=~^https://restcountries\.com/v3\.1/name/`
)

const owmBody = `{
  "main": {"temp": 14.55, "feels_like": 13.88, "humidity": 72, "pressure": 1014},
  "weather": [{"description": "broken clouds", "icon": "04d"}],
  "wind": {"speed": 4.12, "deg": 240},
  "visibility": 10000
}`

const countryBody = `[{
  "name": {"common": "Germany", "official": "Federal Republic of Germany"},
  "capital": ["Berlin"],
  "population": 83240525,
  "region": "Europe",
  "subregion": "Western Europe",
  "languages": {"deu": "German"},
  "currencies": {"EUR": {"name": "Euro"}},
  "timezones": ["UTC+01:00"],
  "flags": {"png": "https://flagcdn.com/w320/de.png"}
}]`

const newsBody = `{"articles": [
  {"title": "a", "url": "https://n/a", "publishedAt": "2025-01-03T00:00:00Z", "source": {"name": "S"}},
  {"title": "b", "url": "https://n/b", "publishedAt": "2025-01-02T00:00:00Z", "source": {"name": "S"}},
  {"title": "c", "url": "https://n/c", "publishedAt": "2025-01-01T00:00:00Z", "source": {"name": "S"}},
  {"title": "d", "url": "https://n/d", "publishedAt": "2024-12-31T00:00:00Z", "source": {"name": "S"}}
]}`

func newClient(t *testing.T, cfg Config) (*Client, *httpmock.MockTransport) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	if cfg.RetryInitial == 0 {
		cfg.RetryInitial = time.Millisecond
	}
	return New(cfg, httpclient.NewOutbound(time.Second, httpclient.WithTransport(mt)), nil), mt
}

func TestWeather_ParsesAndMemoizes(t *testing.T) {
	c, mt := newClient(t, Config{OpenWeatherAPIKey: "k"})
	mt.RegisterResponder(http.MethodGet, weatherURL, httpmock.NewStringResponder(http.StatusOK, owmBody))

	for range 2 {
		w, err := c.Weather(context.Background(), 52.52, 13.405)
		if err != nil {
			t.Fatalf("Weather: %v", err)
		}
		if w.Temperature != 14.55 || w.Humidity != 72 || w.WindDirection != 240 {
			t.Fatalf("weather=%+v", w)
		}
		if w.Description != "Broken Clouds" || w.Source != "OpenWeatherMap" {
			t.Fatalf("description=%q source=%q", w.Description, w.Source)
		}
	}
	if n := mt.GetTotalCallCount(); n != 1 {
		t.Fatalf("upstream calls=%d want 1 (second read memoized)", n)
	}
}

func TestWeather_NotConfigured(t *testing.T) {
	c, mt := newClient(t, Config{})
	if _, err := c.Weather(context.Background(), 1, 2); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err=%v want ErrNotConfigured", err)
	}
	if _, err := c.News(context.Background(), "x", "y"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err=%v want ErrNotConfigured", err)
	}
	if n := mt.GetTotalCallCount(); n != 0 {
		t.Fatalf("calls=%d", n)
	}
}

func TestFetch_ClientErrorIsNotRetried(t *testing.T) {
	c, mt := newClient(t, Config{OpenWeatherAPIKey: "k", MaxRetries: 3})
	mt.RegisterResponder(http.MethodGet, weatherURL, httpmock.NewStringResponder(http.StatusUnauthorized, `{}`))

	_, err := c.Weather(context.Background(), 1, 2)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusUnauthorized {
		t.Fatalf("err=%v want 401 StatusError", err)
	}
	if n := mt.GetTotalCallCount(); n != 1 {
		t.Fatalf("calls=%d want 1", n)
	}
	if st := c.BreakerState(UpstreamWeather); st != "closed" {
		t.Fatalf("breaker=%s, 4xx must not count as failure", st)
	}
}

func TestFetch_ServerErrorRetriedThenSucceeds(t *testing.T) {
	c, mt := newClient(t, Config{OpenWeatherAPIKey: "k", MaxRetries: 3})
	mt.RegisterResponder(http.MethodGet, weatherURL, httpmock.ResponderFromMultipleResponses([]*http.Response{
		httpmock.NewStringResponse(http.StatusBadGateway, ""),
		httpmock.NewStringResponse(http.StatusServiceUnavailable, ""),
		httpmock.NewStringResponse(http.StatusOK, owmBody),
	}))

	if _, err := c.Weather(context.Background(), 1, 2); err != nil {
		t.Fatalf("Weather: %v", err)
	}
	if n := mt.GetTotalCallCount(); n != 3 {
		t.Fatalf("calls=%d want 3", n)
	}
}

func TestFetch_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	c, mt := newClient(t, Config{NewsAPIKey: "k", MaxRetries: 1, BreakerFailures: 2, BreakerCooldown: time.Hour})
	mt.RegisterResponder(http.MethodGet, newsURL, httpmock.NewStringResponder(http.StatusInternalServerError, ""))

	ctx := context.Background()
	for i := range 2 {
		if _, err := c.News(ctx, "Berlin", "Germany"); err == nil {
			t.Fatalf("call %d: expected error", i)
		}
	}
	if st := c.BreakerState(UpstreamNews); st != "open" {
		t.Fatalf("breaker=%s want open", st)
	}
	before := mt.GetTotalCallCount()
	if _, err := c.News(ctx, "Berlin", "Germany"); !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("err=%v want ErrOpenState", err)
	}
	if mt.GetTotalCallCount() != before {
		t.Fatalf("open breaker must not reach the upstream")
	}
}

func TestCountryAndNews(t *testing.T) {
	c, mt := newClient(t, Config{NewsAPIKey: "k"})
	mt.RegisterResponder(http.MethodGet, countryRx, httpmock.NewStringResponder(http.StatusOK, countryBody))
	mt.RegisterResponder(http.MethodGet, newsURL, httpmock.NewStringResponder(http.StatusOK, newsBody))
	ctx := context.Background()

	co, err := c.Country(ctx, "Germany")
	if err != nil {
		t.Fatalf("Country: %v", err)
	}
	if co.Capital != "Berlin" || co.Population != 83240525 || len(co.Currencies) != 1 || co.Currencies[0] != "Euro" {
		t.Fatalf("country=%+v", co)
	}
	if len(co.Languages) != 1 || co.Languages[0] != "German" {
		t.Fatalf("languages=%v", co.Languages)
	}

	news, err := c.News(ctx, "Berlin", "Germany")
	if err != nil {
		t.Fatalf("News: %v", err)
	}
	if len(news) != maxArticles || news[0].Title != "a" || news[0].Source != "S" {
		t.Fatalf("news=%+v", news)
	}

	if _, err := c.Country(ctx, "Unknown"); err == nil {
		t.Fatalf("placeholder country must not be looked up")
	}
}

func TestCity_PartialFailureLeavesSectionEmpty(t *testing.T) {
	c, mt := newClient(t, Config{OpenWeatherAPIKey: "k", NewsAPIKey: "k", MaxRetries: 1})
	mt.RegisterResponder(http.MethodGet, weatherURL, httpmock.NewStringResponder(http.StatusOK, owmBody))
	mt.RegisterResponder(http.MethodGet, countryRx, httpmock.NewStringResponder(http.StatusOK, countryBody))
	mt.RegisterResponder(http.MethodGet, newsURL, httpmock.NewStringResponder(http.StatusInternalServerError, ""))

	got := c.City(context.Background(), model.City{Name: "Berlin", Country: "Germany", Latitude: 52.52, Longitude: 13.405})
	if got.Weather == nil || got.Country == nil {
		t.Fatalf("weather=%v country=%v", got.Weather, got.Country)
	}
	if got.News != nil {
		t.Fatalf("news=%v want nil on failure", got.News)
	}
	if got.Sources["weather"] != "OpenWeatherMap" || got.Sources["country"] != "REST Countries" {
		t.Fatalf("sources=%v", got.Sources)
	}
	if _, ok := got.Sources["news"]; ok {
		t.Fatalf("failed provider listed as source")
	}
}
