// Package marketdata provides the rate-limited, circuit-broken, TTL-cached
// client over the HTTP market-data provider.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/quantarc/signal-engine/internal/breaker"
	"github.com/quantarc/signal-engine/internal/cache"
	"github.com/quantarc/signal-engine/internal/ratelimit"
	"github.com/quantarc/signal-engine/pkg/types"
)

// Config configures the provider client.
type Config struct {
	BaseURL        string
	APIKey         string
	CryptoExchange string
	RequestTimeout time.Duration
	RetryCount     int
	BatchChunkSize int
}

// DefaultConfig returns provider client defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:        "https://api.twelvedata.com",
		CryptoExchange: "Binance",
		RequestTimeout: 15 * time.Second,
		RetryCount:     2, // retries after the first attempt: 3 attempts in all
		BatchChunkSize: 50,
	}
}

// ProviderError is a non-transient error reported by the provider body.
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

// SeriesValue is one timestamped sample of an indicator response. Composite
// indicators carry multiple named values (e.g. slow_k/slow_d).
type SeriesValue struct {
	Timestamp time.Time
	Values    map[string]float64
}

// Client is the normalized market-data access layer. Time-series and
// indicator calls run cache lookup, rate-limiter acquire, then a
// circuit-broken HTTP request; price and batch calls skip the cache.
type Client struct {
	logger  *zap.Logger
	cfg     Config
	http    *resty.Client
	cache   *cache.Cache
	limiter *ratelimit.Limiter
	circuit *breaker.Breaker
}

// New creates the provider client.
func New(logger *zap.Logger, cfg Config, c *cache.Cache, limiter *ratelimit.Limiter, circuit *breaker.Breaker) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultConfig().BaseURL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = DefaultConfig().RetryCount
	}
	if cfg.BatchChunkSize <= 0 {
		cfg.BatchChunkSize = DefaultConfig().BatchChunkSize
	}
	if cfg.CryptoExchange == "" {
		cfg.CryptoExchange = DefaultConfig().CryptoExchange
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.RequestTimeout).
		SetHeader("Authorization", "apikey "+cfg.APIKey).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(8 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})

	return &Client{
		logger:  logger,
		cfg:     cfg,
		http:    httpClient,
		cache:   c,
		limiter: limiter,
		circuit: circuit,
	}
}

// GetTimeSeries fetches OHLCV bars for a symbol and timeframe, oldest-first.
func (c *Client) GetTimeSeries(ctx context.Context, symbol string, tf types.Timeframe, outputSize int) ([]types.Bar, error) {
	key := cache.Key(symbol, tf, "ohlcv", map[string]string{"outputsize": strconv.Itoa(outputSize)}, "")
	if cached, ok := c.cache.Get(key); ok {
		return cached.([]types.Bar), nil
	}

	params := c.baseParams(symbol, tf)
	params["outputsize"] = strconv.Itoa(outputSize)

	body, err := c.request(ctx, "/time_series", params)
	if err != nil {
		return nil, err
	}

	bars, err := parseTimeSeries(body)
	if err != nil {
		return nil, err
	}

	c.cache.Set(key, bars, cache.TTLFor(cache.ClassOHLCV, tf))
	return bars, nil
}

// GetIndicator fetches one indicator series, oldest-first. params holds the
// indicator-specific query parameters (time_period etc.).
func (c *Client) GetIndicator(ctx context.Context, symbol string, tf types.Timeframe, indicator string, params map[string]string, outputSize int) ([]SeriesValue, error) {
	key := cache.Key(symbol, tf, indicator, params, "")
	if cached, ok := c.cache.Get(key); ok {
		return cached.([]SeriesValue), nil
	}

	query := c.baseParams(symbol, tf)
	query["outputsize"] = strconv.Itoa(outputSize)
	for k, v := range params {
		query[k] = v
	}

	body, err := c.request(ctx, "/"+indicator, query)
	if err != nil {
		return nil, err
	}

	series, err := parseIndicator(body)
	if err != nil {
		return nil, err
	}

	c.cache.Set(key, series, cache.TTLFor(cache.ClassIndicator, tf))
	return series, nil
}

// GetPrice fetches the live price for a symbol.
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	params := map[string]string{"symbol": providerSymbol(symbol)}
	if isCrypto(symbol) {
		params["exchange"] = c.cfg.CryptoExchange
	}

	body, err := c.request(ctx, "/price", params)
	if err != nil {
		return 0, err
	}

	var payload struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("parse price response: %w", err)
	}
	price, err := strconv.ParseFloat(payload.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", payload.Price, err)
	}
	return price, nil
}

// baseParams builds the query parameters shared by every endpoint.
func (c *Client) baseParams(symbol string, tf types.Timeframe) map[string]string {
	params := map[string]string{
		"symbol":   providerSymbol(symbol),
		"interval": providerInterval(tf),
	}
	if isCrypto(symbol) {
		params["exchange"] = c.cfg.CryptoExchange
	}
	return params
}

// request performs one admission-controlled, circuit-broken GET and returns
// the raw body. Transient failures are retried inside the HTTP client.
func (c *Client) request(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	if _, err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	result, err := c.circuit.Execute(func() (interface{}, error) {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(params).
			Get(path)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("provider returned status %d", resp.StatusCode())
		}
		if perr := providerBodyError(resp.Body()); perr != nil {
			return nil, perr
		}
		return resp.Body(), nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// providerBodyError detects the provider's in-band error envelope
// (status:"error" with 2xx transport status).
func providerBodyError(body []byte) error {
	var envelope struct {
		Status  string `json:"status"`
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		// Not an object envelope; let the caller's parser decide.
		return nil
	}
	if envelope.Status == "error" {
		return &ProviderError{Code: envelope.Code, Message: envelope.Message}
	}
	return nil
}

const providerTimeLayout = "2006-01-02 15:04:05"

func parseProviderTime(value string) (time.Time, error) {
	if ts, err := time.Parse(providerTimeLayout, value); err == nil {
		return ts, nil
	}
	return time.Parse("2006-01-02", value)
}

// parseTimeSeries decodes a /time_series body into oldest-first bars.
func parseTimeSeries(body []byte) ([]types.Bar, error) {
	var payload struct {
		Values []struct {
			Datetime string `json:"datetime"`
			Open     string `json:"open"`
			High     string `json:"high"`
			Low      string `json:"low"`
			Close    string `json:"close"`
			Volume   string `json:"volume"`
		} `json:"values"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse time series: %w", err)
	}

	bars := make([]types.Bar, 0, len(payload.Values))
	for _, v := range payload.Values {
		ts, err := parseProviderTime(v.Datetime)
		if err != nil {
			return nil, fmt.Errorf("parse bar timestamp %q: %w", v.Datetime, err)
		}
		bar := types.Bar{Timestamp: ts}
		if bar.Open, err = strconv.ParseFloat(v.Open, 64); err != nil {
			return nil, fmt.Errorf("parse open: %w", err)
		}
		if bar.High, err = strconv.ParseFloat(v.High, 64); err != nil {
			return nil, fmt.Errorf("parse high: %w", err)
		}
		if bar.Low, err = strconv.ParseFloat(v.Low, 64); err != nil {
			return nil, fmt.Errorf("parse low: %w", err)
		}
		if bar.Close, err = strconv.ParseFloat(v.Close, 64); err != nil {
			return nil, fmt.Errorf("parse close: %w", err)
		}
		if v.Volume != "" {
			if bar.Volume, err = strconv.ParseFloat(v.Volume, 64); err != nil {
				return nil, fmt.Errorf("parse volume: %w", err)
			}
		}
		bars = append(bars, bar)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars, nil
}

// parseIndicator decodes an indicator body into oldest-first samples,
// keeping every numeric field so composites (stoch, bbands, macd) survive.
func parseIndicator(body []byte) ([]SeriesValue, error) {
	var payload struct {
		Values []map[string]string `json:"values"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse indicator: %w", err)
	}

	series := make([]SeriesValue, 0, len(payload.Values))
	for _, raw := range payload.Values {
		datetime, ok := raw["datetime"]
		if !ok {
			continue
		}
		ts, err := parseProviderTime(datetime)
		if err != nil {
			return nil, fmt.Errorf("parse indicator timestamp %q: %w", datetime, err)
		}

		sv := SeriesValue{Timestamp: ts, Values: make(map[string]float64, len(raw)-1)}
		for field, value := range raw {
			if field == "datetime" {
				continue
			}
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				continue
			}
			sv.Values[field] = f
		}
		series = append(series, sv)
	}

	sort.Slice(series, func(i, j int) bool { return series[i].Timestamp.Before(series[j].Timestamp) })
	return series, nil
}
