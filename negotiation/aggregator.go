package negotiation

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"negotiatex/pkg/logger"
	"negotiatex/records"
	"negotiatex/signals"
)

// ExternalContextProvider fetches live signals. Each method fails
// independently of the other.
type ExternalContextProvider interface {
	Weather(ctx context.Context, city string) (signals.Weather, error)
	Headlines(ctx context.Context) ([]string, error)
}

// Timeouts bound each external call made while aggregating.
type Timeouts struct {
	Records time.Duration
	Weather time.Duration
	News    time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Records <= 0 {
		t.Records = 3 * time.Second
	}
	if t.Weather <= 0 {
		t.Weather = 5 * time.Second
	}
	if t.News <= 0 {
		t.News = 5 * time.Second
	}
	return t
}

var (
	originKeys      = []string{"source_location", "source", "origin", "pickup_city"}
	destinationKeys = []string{"destination_location", "destination", "dropoff_city"}
)

// Aggregator fuses request fields, persisted records, weather and news into
// a Context. It never returns an error: every failed slice is replaced by
// its default.
type Aggregator struct {
	store    records.Store
	provider ExternalContextProvider
	timeouts Timeouts
}

func NewAggregator(store records.Store, provider ExternalContextProvider, timeouts Timeouts) *Aggregator {
	if store == nil {
		store = records.Unavailable{}
	}
	return &Aggregator{
		store:    store,
		provider: provider,
		timeouts: timeouts.withDefaults(),
	}
}

// Build issues the three record fetches, both weather lookups and the news
// fetch concurrently and merges the results.
func (a *Aggregator) Build(ctx context.Context, req Request) Context {
	var (
		shipmentRec records.Record
		profileRec  records.Record
		responseRec records.Record
		origin      = signals.UnknownWeather()
		destination = signals.UnknownWeather()
		news        = []string{signals.NewsUnavailable}
	)

	// Weather lookups for cities missing from the request wait for the
	// shipment record instead of skipping it.
	shipmentDone := make(chan struct{})

	var g errgroup.Group

	g.Go(func() error {
		defer close(shipmentDone)
		shipmentRec = a.fetchRecord(ctx, "shipment", func(ctx context.Context) (records.Record, error) {
			return a.store.Shipment(ctx, req.ShipmentID)
		})
		return nil
	})
	g.Go(func() error {
		profileRec = a.fetchRecord(ctx, "carrier_profile", func(ctx context.Context) (records.Record, error) {
			return a.store.CarrierProfile(ctx, req.CarrierID)
		})
		return nil
	})
	g.Go(func() error {
		responseRec = a.fetchRecord(ctx, "carrier_response", func(ctx context.Context) (records.Record, error) {
			return a.store.CarrierResponse(ctx, req.ShipmentID, req.CarrierID)
		})
		return nil
	})
	g.Go(func() error {
		city := lookupString(req.ShipperTerms, originKeys...)
		if city == "" {
			<-shipmentDone
			city = lookupString(shipmentRec, originKeys...)
		}
		origin = a.fetchWeather(ctx, city)
		return nil
	})
	g.Go(func() error {
		city := lookupString(req.ShipperTerms, destinationKeys...)
		if city == "" {
			<-shipmentDone
			city = lookupString(shipmentRec, destinationKeys...)
		}
		destination = a.fetchWeather(ctx, city)
		return nil
	})
	g.Go(func() error {
		news = a.fetchNews(ctx)
		return nil
	})

	_ = g.Wait()

	return Context{
		ShipmentID:     req.ShipmentID,
		CarrierID:      req.CarrierID,
		Requester:      req.RequesterEmail,
		Shipper:        merge(req.ShipperTerms, shipmentRec),
		Carrier:        merge(req.CarrierConstraints, responseRec),
		CarrierProfile: merge(nil, profileRec),
		Weather:        WeatherReport{Origin: origin, Destination: destination},
		News:           news,
	}
}

func (a *Aggregator) fetchRecord(ctx context.Context, what string, fetch func(context.Context) (records.Record, error)) records.Record {
	ctx, cancel := context.WithTimeout(ctx, a.timeouts.Records)
	defer cancel()

	rec, err := fetch(ctx)
	if err != nil {
		logger.Debug(ctx, "record degraded to empty", "component", "records", "record", what, "error", err)
		return records.Record{}
	}
	return rec
}

func (a *Aggregator) fetchWeather(ctx context.Context, city string) signals.Weather {
	if a.provider == nil || city == "" {
		return signals.UnknownWeather()
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeouts.Weather)
	defer cancel()

	w, err := a.provider.Weather(ctx, city)
	if err != nil {
		logger.Warn(ctx, "weather degraded to unknown", "component", "weather", "city", city, "error", err)
		return signals.UnknownWeather()
	}
	return w
}

func (a *Aggregator) fetchNews(ctx context.Context) []string {
	if a.provider == nil {
		return []string{signals.NewsUnavailable}
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeouts.News)
	defer cancel()

	headlines, err := a.provider.Headlines(ctx)
	if err != nil {
		logger.Warn(ctx, "news degraded to placeholder", "component", "news", "error", err)
		return []string{signals.NewsUnavailable}
	}
	if headlines == nil {
		headlines = []string{}
	}
	return headlines
}
