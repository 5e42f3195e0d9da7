package negotiation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"negotiatex/signals"
)

func TestEngine_FallbackWhenNoExternal(t *testing.T) {
	engine := NewEngine(NewAggregator(nil, nil, Timeouts{}), nil, 0)

	res := engine.Negotiate(context.Background(), Request{
		ShipperTerms:       map[string]any{"budget": "10000–25000"},
		CarrierConstraints: map[string]any{"cost": 8000},
		ShipmentID:         "s-1",
		CarrierID:          "c-1",
		RequesterEmail:     "a@b.c",
	})

	if res.Status != "success" || res.Source != SourceFallback {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.JustifiedPrice != 16575 || res.ConfidenceScore != 85 {
		t.Fatalf("unexpected price/confidence %v %d", res.JustifiedPrice, res.ConfidenceScore)
	}
	if res.AgreementID == "" || res.ShipmentID != "s-1" || res.CarrierID != "c-1" {
		t.Fatalf("missing identifiers: %+v", res)
	}
}

func TestEngine_WeatherErrorStillSucceeds(t *testing.T) {
	provider := &fakeProvider{weatherErr: errors.New("weather down"), news: []string{"h"}}
	engine := NewEngine(NewAggregator(nil, provider, Timeouts{}), nil, 0)

	res := engine.Negotiate(context.Background(), Request{
		ShipperTerms: map[string]any{"source_location": "Delhi", "destination_location": "Jaipur"},
	})

	if res.Status != "success" {
		t.Fatalf("expected success, got %q", res.Status)
	}
	want := signals.Weather{Status: signals.WeatherUnknown, Temp: 25, Condition: "clear"}
	if res.Weather.Origin != want || res.Weather.Destination != want {
		t.Fatalf("expected unknown weather, got %+v", res.Weather)
	}
}

func TestEngine_ExternalFailureFallsBack(t *testing.T) {
	failing := MediatorFunc(func(context.Context, Context, string) (Agreement, error) {
		return Agreement{}, ErrMediatorParse
	})
	engine := NewEngine(NewAggregator(nil, nil, Timeouts{}), failing, time.Second)

	ag, _ := engine.Mediate(context.Background(), Request{}, "agr-1")
	if ag.Source != SourceFallback || ag.ID != "agr-1" {
		t.Fatalf("expected fallback agreement, got %+v", ag)
	}
}

func TestEngine_ExternalTimeoutFallsBack(t *testing.T) {
	slow := MediatorFunc(func(ctx context.Context, _ Context, _ string) (Agreement, error) {
		<-ctx.Done()
		return Agreement{}, ErrMediatorUnavailable
	})
	engine := NewEngine(nil, slow, 20*time.Millisecond)

	ag, _ := engine.Mediate(context.Background(), Request{}, "agr-1")
	if ag.Source != SourceFallback {
		t.Fatalf("expected fallback, got %s", ag.Source)
	}
}

func TestEngine_CancelledCallerStillResolves(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok := MediatorFunc(func(ctx context.Context, _ Context, id string) (Agreement, error) {
		if err := ctx.Err(); err != nil {
			return Agreement{}, err
		}
		return Agreement{ID: id, Source: SourceMediator}, nil
	})
	engine := NewEngine(nil, ok, time.Second)

	ag, _ := engine.Mediate(ctx, Request{}, "agr-1")
	if ag.Source != SourceMediator {
		t.Fatalf("mediation was aborted by caller cancellation: %+v", ag)
	}
}

func TestEngine_UsesExternalMediator(t *testing.T) {
	server := completionServer(t, http.StatusOK, recordedCompletion)
	defer server.Close()

	engine := NewEngine(NewAggregator(nil, nil, Timeouts{}), newTestMediator(server.URL), time.Second)
	res := engine.Negotiate(context.Background(), Request{RequesterEmail: "a@b.c"})
	if res.Source != SourceMediator || res.JustifiedPrice != 17000 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestEngine_BrokenExternalServerFallsBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	engine := NewEngine(nil, newTestMediator(server.URL), time.Second)
	res := engine.Negotiate(context.Background(), Request{})
	if res.Source != SourceFallback || res.Status != "success" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestEngine_TypedNilExternalIsIgnored(t *testing.T) {
	var m *ExternalMediator
	engine := NewEngine(nil, m, time.Second)
	ag, _ := engine.Mediate(context.Background(), Request{}, "a")
	if ag.Source != SourceFallback {
		t.Fatalf("expected fallback, got %s", ag.Source)
	}
}

func TestNewAgreementID_Unique(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewAgreementID("same@caller", at)
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
