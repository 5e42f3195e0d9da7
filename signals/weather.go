package signals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"negotiatex/config"
)

// ErrDisabled is returned when the capability has no API key configured.
var ErrDisabled = errors.New("signals: capability disabled")

type WeatherStatus string

const (
	WeatherGood     WeatherStatus = "good"
	WeatherModerate WeatherStatus = "moderate"
	WeatherBad      WeatherStatus = "bad"
	WeatherUnknown  WeatherStatus = "unknown"
)

// Weather is the per-city snapshot fed into a negotiation.
type Weather struct {
	Status    WeatherStatus `json:"status"`
	Temp      float64       `json:"temp"`
	Condition string        `json:"condition"`
}

// UnknownWeather is substituted whenever a lookup fails.
func UnknownWeather() Weather {
	return Weather{Status: WeatherUnknown, Temp: 25, Condition: "clear"}
}

type WeatherClient struct {
	config     *config.WeatherConfig
	httpClient *http.Client
}

// owmResponse is the subset of the OpenWeatherMap current-weather payload we read.
type owmResponse struct {
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Main struct {
		Temp float64 `json:"temp"`
	} `json:"main"`
}

func NewWeatherClient(cfg *config.WeatherConfig) *WeatherClient {
	return &WeatherClient{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Weather fetches current conditions for city.
func (c *WeatherClient) Weather(ctx context.Context, city string) (Weather, error) {
	if c == nil || c.config.APIKey == "" {
		return Weather{}, ErrDisabled
	}
	city = strings.TrimSpace(city)
	if city == "" {
		return Weather{}, fmt.Errorf("signals: weather: empty city")
	}

	q := url.Values{}
	q.Set("q", city)
	q.Set("appid", c.config.APIKey)
	q.Set("units", "metric")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/weather?"+q.Encode(), nil)
	if err != nil {
		return Weather{}, fmt.Errorf("signals: weather: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Weather{}, fmt.Errorf("signals: weather: send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Weather{}, fmt.Errorf("signals: weather: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Weather{}, fmt.Errorf("signals: weather: status %d", resp.StatusCode)
	}

	var result owmResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return Weather{}, fmt.Errorf("signals: weather: parse response: %w", err)
	}
	if len(result.Weather) == 0 {
		return Weather{}, fmt.Errorf("signals: weather: no conditions for %s", city)
	}

	cond := result.Weather[0]
	condition := strings.ToLower(cond.Description)
	if condition == "" {
		condition = strings.ToLower(cond.Main)
	}
	return Weather{
		Status:    classify(cond.Main),
		Temp:      result.Main.Temp,
		Condition: condition,
	}, nil
}

func classify(main string) WeatherStatus {
	switch strings.ToLower(main) {
	case "clear", "clouds":
		return WeatherGood
	case "rain", "drizzle", "mist", "haze", "fog", "smoke", "dust", "sand":
		return WeatherModerate
	case "thunderstorm", "snow", "squall", "tornado", "ash":
		return WeatherBad
	default:
		return WeatherUnknown
	}
}
