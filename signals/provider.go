package signals

import (
	"context"

	"negotiatex/config"
)

// Provider bundles the weather and news capabilities behind one value.
// Either client may be nil, in which case that slice reports ErrDisabled.
type Provider struct {
	WeatherClient *WeatherClient
	NewsClient    *NewsClient
}

func NewProvider(cfg *config.Config) *Provider {
	return &Provider{
		WeatherClient: NewWeatherClient(&cfg.Weather),
		NewsClient:    NewNewsClient(&cfg.News),
	}
}

func (p *Provider) Weather(ctx context.Context, city string) (Weather, error) {
	return p.WeatherClient.Weather(ctx, city)
}

func (p *Provider) Headlines(ctx context.Context) ([]string, error) {
	return p.NewsClient.Headlines(ctx)
}
