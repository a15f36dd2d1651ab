package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"weatherwatch/internal/storage"
)

const currentWeatherPath = "/weather"

// OpenWeatherOptions parameterise the OpenWeatherMap fetcher.
type OpenWeatherOptions struct {
	BaseURL            string
	APIKey             string
	Timeout            time.Duration
	UserAgent          string
	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration
}

// OpenWeather fetches current conditions from the OpenWeatherMap API.
type OpenWeather struct {
	opts    OpenWeatherOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	breaker *gobreaker.CircuitBreaker
}

type currentWeatherResponse struct {
	Name    string `json:"name"`
	Dt      int64  `json:"dt"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Main *struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
	} `json:"main"`
}

// NewOpenWeather constructs an OpenWeatherMap reading source.
func NewOpenWeather(opts OpenWeatherOptions, logger zerolog.Logger) *OpenWeather {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openweathermap.org/data/2.5"
	}

	maxFailures := opts.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	openTimeout := opts.BreakerOpenTimeout
	if openTimeout <= 0 {
		openTimeout = time.Minute
	}

	log := logger.With().Str("component", "openweather_fetcher").Logger()
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openweather",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// only an unreachable service counts against the breaker
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})

	return &OpenWeather{
		opts:    opts,
		logger:  log,
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		breaker: breaker,
	}
}

// Fetch retrieves the current reading for a location by name.
func (o *OpenWeather) Fetch(ctx context.Context, location string) (storage.Reading, error) {
	if strings.TrimSpace(location) == "" {
		return storage.Reading{}, errors.New("location name required")
	}
	if o.opts.APIKey == "" {
		return storage.Reading{}, errors.New("source.api_key is not configured")
	}

	result, err := o.breaker.Execute(func() (interface{}, error) {
		return o.fetchOnce(ctx, location)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return storage.Reading{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return storage.Reading{}, err
	}

	reading, ok := result.(storage.Reading)
	if !ok {
		return storage.Reading{}, fmt.Errorf("%w: unexpected breaker result %T", ErrMalformedResponse, result)
	}
	return reading, nil
}

func (o *OpenWeather) fetchOnce(ctx context.Context, location string) (storage.Reading, error) {
	params := url.Values{}
	params.Set("q", location)
	params.Set("appid", o.opts.APIKey)
	endpoint := o.baseURL + currentWeatherPath + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return storage.Reading{}, fmt.Errorf("create weather request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if o.opts.UserAgent != "" {
		req.Header.Set("User-Agent", o.opts.UserAgent)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return storage.Reading{}, fmt.Errorf("%w: %s: %v", ErrUnavailable, location, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return storage.Reading{}, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return storage.Reading{}, fmt.Errorf("%w: %s", ErrNotFound, location)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return storage.Reading{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return storage.Reading{}, fmt.Errorf("weather api status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload currentWeatherResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return storage.Reading{}, fmt.Errorf("%w: decode: %v", ErrMalformedResponse, err)
	}

	reading, err := toReading(location, payload)
	if err != nil {
		return storage.Reading{}, err
	}

	o.logger.Debug().Str("location", location).
		Float64("temperature_c", reading.TemperatureC).
		Str("condition", reading.Condition).
		Msg("reading fetched")
	return reading, nil
}

func toReading(location string, payload currentWeatherResponse) (storage.Reading, error) {
	if len(payload.Weather) == 0 || payload.Weather[0].Main == "" {
		return storage.Reading{}, fmt.Errorf("%w: missing weather condition", ErrMalformedResponse)
	}
	if payload.Main == nil {
		return storage.Reading{}, fmt.Errorf("%w: missing main block", ErrMalformedResponse)
	}
	if payload.Dt <= 0 {
		return storage.Reading{}, fmt.Errorf("%w: missing observation time", ErrMalformedResponse)
	}

	return storage.Reading{
		Location:     location,
		Condition:    payload.Weather[0].Main,
		TemperatureC: KelvinToCelsius(payload.Main.Temp),
		FeelsLikeC:   KelvinToCelsius(payload.Main.FeelsLike),
		ObservedAt:   payload.Dt,
	}, nil
}

var _ ReadingSource = (*OpenWeather)(nil)
