package openweather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/couchcryptid/weather-etl/internal/domain"
	"github.com/couchcryptid/weather-etl/internal/observability"
	"github.com/go-playground/validator/v10"
	"github.com/sony/gobreaker"
)

// DefaultBaseURL is the OpenWeatherMap current-weather endpoint.
const DefaultBaseURL = "https://api.openweathermap.org/data/2.5/weather"

// maxBodyBytes caps a success response body.
const maxBodyBytes = 1 << 20

var (
	errStatus       = errors.New("unexpected status code")
	errBodyTooLarge = errors.New("response body too large")
)

// Client fetches the current observation for a location from OpenWeatherMap.
type Client struct {
	httpClient *http.Client
	baseURL    string
	circuit    *gobreaker.CircuitBreaker
	validate   *validator.Validate
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates an OpenWeatherMap client. The circuit breaker opens after
// five consecutive failed requests and half-opens after one minute.
func NewClient(baseURL string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		circuit:    newBreaker(logger),
		validate:   newValidator(),
		metrics:    metrics,
		logger:     logger,
	}
}

func newBreaker(logger *slog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openweather",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Current performs one request for the current observation at location and
// normalizes it. Every failure is returned as *domain.ExtractionError.
func (c *Client) Current(ctx context.Context, location, apiKey string) (domain.WeatherRecord, error) {
	params := url.Values{
		"q":     {location},
		"appid": {apiKey},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return domain.WeatherRecord{}, &domain.ExtractionError{Op: "create request", Err: err}
	}

	start := time.Now()
	body, err := c.circuit.Execute(func() (interface{}, error) {
		return c.do(req)
	})
	c.metrics.ProviderDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.ProviderRequests.WithLabelValues("error").Inc()
		return domain.WeatherRecord{}, &domain.ExtractionError{Op: "request", Err: err}
	}

	rec, err := c.normalize(body.([]byte), location)
	if err != nil {
		c.metrics.ProviderRequests.WithLabelValues("rejected").Inc()
		return domain.WeatherRecord{}, err
	}
	c.metrics.ProviderRequests.WithLabelValues("success").Inc()
	return rec, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %d: %s", errStatus, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("%w: exceeds %d bytes", errBodyTooLarge, maxBodyBytes)
	}
	return body, nil
}

// normalize maps provider fields onto a WeatherRecord. Provider fields not
// named here are ignored.
func (c *Client) normalize(body []byte, location string) (domain.WeatherRecord, error) {
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.WeatherRecord{}, &domain.ExtractionError{Op: "decode response", Err: err}
	}
	if err := c.validate.Struct(resp); err != nil {
		return domain.WeatherRecord{}, &domain.ExtractionError{Op: "validate response", Err: describeValidation(err)}
	}

	name := strings.TrimSpace(resp.Name)
	if name == "" {
		name = location
	}

	return domain.WeatherRecord{
		ObservedAt:  time.Unix(*resp.Dt, 0).UTC(),
		Location:    name,
		Temperature: *resp.Main.Temp,
		FeelsLike:   *resp.Main.FeelsLike,
		Condition:   *resp.Weather[0].Main,
		Humidity:    *resp.Main.Humidity,
		WindSpeed:   *resp.Wind.Speed,
	}, nil
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		// Namespace is "response.main.temp"; drop the root type name.
		_, field, _ := strings.Cut(fe.Namespace(), ".")
		fields = append(fields, field)
	}
	return fmt.Errorf("%w: %s", domain.ErrMissingField, strings.Join(fields, ", "))
}

// OpenWeatherMap API response types. Pointers distinguish absent fields from
// legitimate zero values.

type response struct {
	Dt      *int64      `json:"dt" validate:"required"`
	Name    string      `json:"name"`
	Main    *mainBlock  `json:"main" validate:"required"`
	Weather []condition `json:"weather" validate:"required,min=1,dive"`
	Wind    *windBlock  `json:"wind" validate:"required"`
}

type mainBlock struct {
	Temp      *float64 `json:"temp" validate:"required"`
	FeelsLike *float64 `json:"feels_like" validate:"required"`
	Humidity  *int     `json:"humidity" validate:"required"`
}

type condition struct {
	Main *string `json:"main" validate:"required,min=1"`
}

type windBlock struct {
	Speed *float64 `json:"speed" validate:"required"`
}
