package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/quantarc/signal-engine/pkg/types"
)

// BatchDelimiter separates requestId segments. It is reserved: no internal
// symbol name may contain it, so ids can never collide with symbols.
const BatchDelimiter = "::"

// BatchRequestID builds "SYMBOL::INDICATOR::TIMEFRAME".
func BatchRequestID(symbol, indicator string, tf types.Timeframe) string {
	return strings.Join([]string{symbol, indicator, string(tf)}, BatchDelimiter)
}

// ParseBatchRequestID splits a batch requestId back into its segments.
func ParseBatchRequestID(id string) (symbol, indicator string, tf types.Timeframe, err error) {
	parts := strings.Split(id, BatchDelimiter)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("malformed batch request id %q", id)
	}
	return parts[0], parts[1], types.Timeframe(parts[2]), nil
}

// BatchRequest is one entry of the batch submission map.
type BatchRequest struct {
	URL string `json:"url"`
}

// BatchURL builds the relative provider URL for a batch entry.
func (c *Client) BatchURL(symbol string, tf types.Timeframe, endpoint string, params map[string]string, outputSize int) string {
	values := url.Values{}
	values.Set("symbol", providerSymbol(symbol))
	values.Set("interval", providerInterval(tf))
	values.Set("outputsize", strconv.Itoa(outputSize))
	if isCrypto(symbol) {
		values.Set("exchange", c.cfg.CryptoExchange)
	}
	for k, v := range params {
		values.Set(k, v)
	}
	return "/" + endpoint + "?" + values.Encode()
}

// BatchResult is the decoded payload for one requestId. Exactly one of
// Bars / Series is populated on success; Err is set per-request otherwise.
type BatchResult struct {
	Bars   []types.Bar
	Series []SeriesValue
	Err    error
}

// batchEnvelope is the provider's per-request response wrapper.
type batchEnvelope struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
	Message  string          `json:"message,omitempty"`
}

// GetBatch submits the request map in fixed-size chunks. Chunk failures and
// per-request errors are logged and reflected in the result map; the batch
// never aborts on partial failure. Every submitted requestId is present in
// the returned map.
func (c *Client) GetBatch(ctx context.Context, requests map[string]BatchRequest) map[string]*BatchResult {
	results := make(map[string]*BatchResult, len(requests))
	ids := make([]string, 0, len(requests))
	for id := range requests {
		ids = append(ids, id)
	}

	for start := 0; start < len(ids); start += c.cfg.BatchChunkSize {
		end := start + c.cfg.BatchChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := make(map[string]BatchRequest, end-start)
		for _, id := range ids[start:end] {
			chunk[id] = requests[id]
		}

		chunkResults, err := c.postBatchChunk(ctx, chunk)
		if err != nil {
			c.logger.Error("batch chunk failed",
				zap.Int("chunk_start", start),
				zap.Int("chunk_size", len(chunk)),
				zap.Error(err),
			)
			for id := range chunk {
				results[id] = &BatchResult{Err: err}
			}
			continue
		}
		for id, res := range chunkResults {
			results[id] = res
		}
	}

	return results
}

// postBatchChunk performs one /batch wire call.
func (c *Client) postBatchChunk(ctx context.Context, chunk map[string]BatchRequest) (map[string]*BatchResult, error) {
	if _, err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	raw, err := c.circuit.Execute(func() (interface{}, error) {
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(chunk).
			Post("/batch")
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("batch returned status %d", resp.StatusCode())
		}
		return resp.Body(), nil
	})
	if err != nil {
		return nil, err
	}

	var envelopes map[string]batchEnvelope
	if err := json.Unmarshal(raw.([]byte), &envelopes); err != nil {
		return nil, fmt.Errorf("parse batch response: %w", err)
	}

	results := make(map[string]*BatchResult, len(chunk))
	for id := range chunk {
		envelope, ok := envelopes[id]
		if !ok {
			results[id] = &BatchResult{Err: fmt.Errorf("batch response missing request %q", id)}
			c.logger.Warn("batch response missing request", zap.String("request_id", id))
			continue
		}
		results[id] = c.decodeBatchEnvelope(id, envelope)
	}
	return results, nil
}

func (c *Client) decodeBatchEnvelope(id string, envelope batchEnvelope) *BatchResult {
	if envelope.Status != "success" && envelope.Status != "ok" {
		err := &ProviderError{Message: envelope.Message}
		c.logger.Warn("batch request error",
			zap.String("request_id", id),
			zap.String("message", envelope.Message),
		)
		return &BatchResult{Err: err}
	}

	_, indicator, _, err := ParseBatchRequestID(id)
	if err != nil {
		return &BatchResult{Err: err}
	}

	if indicator == "ohlcv" || indicator == "time_series" || indicator == "trend_ohlcv" {
		bars, err := parseTimeSeries(envelope.Response)
		if err != nil {
			c.logger.Warn("batch bar parse failed", zap.String("request_id", id), zap.Error(err))
			return &BatchResult{Err: err}
		}
		return &BatchResult{Bars: bars}
	}

	series, err := parseIndicator(envelope.Response)
	if err != nil {
		c.logger.Warn("batch indicator parse failed", zap.String("request_id", id), zap.Error(err))
		return &BatchResult{Err: err}
	}
	return &BatchResult{Series: series}
}
