package enrich

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Weather struct {
	Temperature   float64   `json:"temperature"`
	FeelsLike     float64   `json:"feels_like"`
	Humidity      int       `json:"humidity"`
	Pressure      int       `json:"pressure"`
	Description   string    `json:"description"`
	Icon          string    `json:"icon,omitempty"`
	WindSpeed     float64   `json:"wind_speed"`
	WindDirection int       `json:"wind_direction"`
	Visibility    int       `json:"visibility"`
	Timestamp     time.Time `json:"timestamp"`
	Source        string    `json:"source"`
}

type owmResponse struct {
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
		Pressure  int     `json:"pressure"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
		Deg   int     `json:"deg"`
	} `json:"wind"`
	Visibility int `json:"visibility"`
}

// Weather returns current conditions at lat/lon in metric units.
func (c *Client) Weather(ctx context.Context, lat, lon float64) (Weather, error) {
	if c.cfg.OpenWeatherAPIKey == "" {
		return Weather{}, ErrNotConfigured
	}
	latS := strconv.FormatFloat(lat, 'f', 4, 64)
	lonS := strconv.FormatFloat(lon, 'f', 4, 64)
	return memoized(c, "weather:"+latS+":"+lonS, func() (Weather, error) {
		q := url.Values{}
		q.Set("lat", latS)
		q.Set("lon", lonS)
		q.Set("units", "metric")
		q.Set("appid", c.cfg.OpenWeatherAPIKey)
		body, err := c.fetch(ctx, UpstreamWeather, c.cfg.WeatherURL+"/weather?"+q.Encode())
		if err != nil {
			return Weather{}, err
		}
		r, err := decode[owmResponse](body, UpstreamWeather)
		if err != nil {
			return Weather{}, err
		}
		w := Weather{
			Temperature:   r.Main.Temp,
			FeelsLike:     r.Main.FeelsLike,
			Humidity:      r.Main.Humidity,
			Pressure:      r.Main.Pressure,
			WindSpeed:     r.Wind.Speed,
			WindDirection: r.Wind.Deg,
			Visibility:    r.Visibility,
			Timestamp:     time.Now().UTC(),
			Source:        "OpenWeatherMap",
		}
		if len(r.Weather) > 0 {
			w.Description = titleCase(r.Weather[0].Description)
			w.Icon = r.Weather[0].Icon
		}
		return w, nil
	})
}

type Country struct {
	Name         string    `json:"name"`
	OfficialName string    `json:"official_name"`
	Capital      string    `json:"capital,omitempty"`
	Population   int64     `json:"population"`
	Region       string    `json:"region"`
	Subregion    string    `json:"subregion,omitempty"`
	Languages    []string  `json:"languages"`
	Currencies   []string  `json:"currencies"`
	Timezones    []string  `json:"timezones"`
	FlagURL      string    `json:"flag_url,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Source       string    `json:"source"`
}

type restCountry struct {
	Name struct {
		Common   string `json:"common"`
		Official string `json:"official"`
	} `json:"name"`
	Capital    []string          `json:"capital"`
	Population int64             `json:"population"`
	Region     string            `json:"region"`
	Subregion  string            `json:"subregion"`
	Languages  map[string]string `json:"languages"`
	Currencies map[string]struct {
		Name string `json:"name"`
	} `json:"currencies"`
	Timezones []string `json:"timezones"`
	Flags     struct {
		PNG string `json:"png"`
	} `json:"flags"`
}

// Country looks a country up by name and returns the first match.
func (c *Client) Country(ctx context.Context, name string) (Country, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "unknown") {
		return Country{}, fmt.Errorf("%s: no country for city", UpstreamCountries)
	}
	return memoized(c, "country:"+strings.ToLower(name), func() (Country, error) {
		q := url.Values{}
		q.Set("fields", "name,capital,population,region,subregion,languages,currencies,timezones,flags")
		body, err := c.fetch(ctx, UpstreamCountries, c.cfg.CountriesURL+"/name/"+url.PathEscape(name)+"?"+q.Encode())
		if err != nil {
			return Country{}, err
		}
		list, err := decode[[]restCountry](body, UpstreamCountries)
		if err != nil {
			return Country{}, err
		}
		if len(list) == 0 {
			return Country{}, fmt.Errorf("%s: no match for %q", UpstreamCountries, name)
		}
		r := list[0]
		co := Country{
			Name:         r.Name.Common,
			OfficialName: r.Name.Official,
			Population:   r.Population,
			Region:       r.Region,
			Subregion:    r.Subregion,
			Languages:    sortedValues(r.Languages),
			Timezones:    r.Timezones,
			FlagURL:      r.Flags.PNG,
			Timestamp:    time.Now().UTC(),
			Source:       "REST Countries",
		}
		if len(r.Capital) > 0 {
			co.Capital = r.Capital[0]
		}
		for _, k := range sortedKeys(r.Currencies) {
			co.Currencies = append(co.Currencies, r.Currencies[k].Name)
		}
		return co, nil
	})
}

type Article struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url"`
	PublishedAt string `json:"published_at"`
	Source      string `json:"source"`
	ImageURL    string `json:"image_url,omitempty"`
}

type newsResponse struct {
	Articles []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		URL         string `json:"url"`
		URLToImage  string `json:"urlToImage"`
		PublishedAt string `json:"publishedAt"`
		Source      struct {
			Name string `json:"name"`
		} `json:"source"`
	} `json:"articles"`
}

const maxArticles = 3

// News returns up to three recent English articles about the city.
func (c *Client) News(ctx context.Context, city, country string) ([]Article, error) {
	if c.cfg.NewsAPIKey == "" {
		return nil, ErrNotConfigured
	}
	key := "news:" + strings.ToLower(city) + ":" + strings.ToLower(country)
	return memoized(c, key, func() ([]Article, error) {
		q := url.Values{}
		q.Set("q", fmt.Sprintf("%q AND (%q OR city OR urban)", city, country))
		q.Set("sortBy", "publishedAt")
		q.Set("pageSize", "5")
		q.Set("language", "en")
		q.Set("apiKey", c.cfg.NewsAPIKey)
		body, err := c.fetch(ctx, UpstreamNews, c.cfg.NewsURL+"/everything?"+q.Encode())
		if err != nil {
			return nil, err
		}
		r, err := decode[newsResponse](body, UpstreamNews)
		if err != nil {
			return nil, err
		}
		out := make([]Article, 0, maxArticles)
		for _, a := range r.Articles {
			if len(out) == maxArticles {
				break
			}
			out = append(out, Article{
				Title:       a.Title,
				Description: a.Description,
				URL:         a.URL,
				PublishedAt: a.PublishedAt,
				Source:      a.Source.Name,
				ImageURL:    a.URLToImage,
			})
		}
		return out, nil
	})
}
