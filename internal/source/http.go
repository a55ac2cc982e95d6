package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/rs/zerolog/log"

	"github.com/forecastops/forecastops/internal/duration"
)

// HTTPSourceConfig configures the remote actuals client.
type HTTPSourceConfig struct {
	Endpoint       string            `yaml:"endpoint"`
	Timeout        duration.Duration `yaml:"timeout"`          // default 10s
	RequestsPerSec float64           `yaml:"requests_per_sec"` // default 8
}

// DefaultHTTPSourceConfig returns the default remote actuals configuration.
func DefaultHTTPSourceConfig() HTTPSourceConfig {
	return HTTPSourceConfig{Timeout: duration.Duration(10 * time.Second), RequestsPerSec: 8}
}

// HTTPSource fetches realized values from a remote provider, guarded by a
// circuit breaker so reconciliation batches fail fast once the provider is
// down instead of timing out per record.
type HTTPSource struct {
	cfg     HTTPSourceConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

type actualPayload struct {
	Date  string   `json:"date"`
	Value *float64 `json:"value"`
}

// NewHTTPSource creates the remote actuals client.
func NewHTTPSource(cfg HTTPSourceConfig) *HTTPSource {
	if cfg.Timeout <= 0 {
		cfg.Timeout = duration.Duration(10 * time.Second)
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 8
	}
	return &HTTPSource{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout.D()},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "actuals-source",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
					Msg("actuals source breaker state change")
			},
		}),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1),
	}
}

// ValueOn queries the provider for the date, passing the drift tolerance
// through so the provider can apply its own calendar.
func (src *HTTPSource) ValueOn(ctx context.Context, date time.Time, maxDriftDays int) (float64, bool, error) {
	if err := src.limiter.Wait(ctx); err != nil {
		return 0, false, fmt.Errorf("%w: rate limiter: %v", ErrExternalSource, err)
	}

	result, err := src.breaker.Execute(func() (interface{}, error) {
		q := url.Values{}
		q.Set("date", date.Format("2006-01-02"))
		q.Set("max_drift_days", fmt.Sprintf("%d", maxDriftDays))

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.cfg.Endpoint+"/v1/actual?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		resp, err := src.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return (*actualPayload)(nil), nil
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("provider returned HTTP %d", resp.StatusCode)
		}
		var payload actualPayload
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return &payload, nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrExternalSource, err)
	}

	payload := result.(*actualPayload)
	if payload == nil || payload.Value == nil {
		return 0, false, nil
	}
	return *payload.Value, true, nil
}
