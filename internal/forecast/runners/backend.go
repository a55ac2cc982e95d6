package runners

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/forecastops/forecastops/internal/duration"
)

// ErrBackendUnavailable wraps any failure of the foundation-model inference
// backend (network, HTTP status, open circuit). Callers treat it as an
// external-source failure: fatal for the specific backtest, retryable later.
var ErrBackendUnavailable = errors.New("foundation backend unavailable")

// ForecastRequest is the inference request sent to a foundation backend.
type ForecastRequest struct {
	Variant     string    `json:"variant"`
	Context     []float64 `json:"context"`
	Steps       int       `json:"steps"`
	NumSamples  int       `json:"num_samples"`
	Temperature float64   `json:"temperature"`
}

// ForecastResponse carries sampled forecast trajectories from the backend,
// one row per sample, one column per horizon step.
type ForecastResponse struct {
	Samples [][]float64 `json:"samples"`
}

// Backend is the inference contract for a pretrained foundation model.
type Backend interface {
	Forecast(ctx context.Context, req *ForecastRequest) (*ForecastResponse, error)
	Close() error
}

// HTTPBackendConfig configures the HTTP inference client.
type HTTPBackendConfig struct {
	Endpoint       string            `yaml:"endpoint"`
	Timeout        duration.Duration `yaml:"timeout"`          // per-request (default 30s)
	RequestsPerSec float64           `yaml:"requests_per_sec"` // rate limit (default 4)
	Burst          int               `yaml:"burst"`            // limiter burst (default 2)
}

// DefaultHTTPBackendConfig returns the default backend client configuration.
func DefaultHTTPBackendConfig() HTTPBackendConfig {
	return HTTPBackendConfig{Timeout: duration.Duration(30 * time.Second), RequestsPerSec: 4, Burst: 2}
}

// HTTPBackend calls a foundation-model inference service over HTTP JSON,
// guarded by a circuit breaker and a client-side rate limit so a flapping
// backend cannot stall optimization sweeps.
type HTTPBackend struct {
	cfg     HTTPBackendConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// NewHTTPBackend creates the HTTP inference client.
func NewHTTPBackend(cfg HTTPBackendConfig) *HTTPBackend {
	if cfg.Timeout <= 0 {
		cfg.Timeout = duration.Duration(30 * time.Second)
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 4
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 2
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "foundation-backend",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("foundation backend breaker state change")
		},
	})
	return &HTTPBackend{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout.D()},
		breaker: breaker,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.Burst),
	}
}

// Forecast posts the request and decodes sampled trajectories.
func (b *HTTPBackend) Forecast(ctx context.Context, req *ForecastRequest) (*ForecastResponse, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %v", ErrBackendUnavailable, err)
	}

	result, err := b.breaker.Execute(func() (interface{}, error) {
		body, err := json.Marshal(req)
		if err != nil {
			return nil, err
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.Endpoint+"/v1/forecast", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := b.client.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("backend returned HTTP %d", resp.StatusCode)
		}
		var decoded ForecastResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return &decoded, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return result.(*ForecastResponse), nil
}

// Close releases client resources.
func (b *HTTPBackend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}
