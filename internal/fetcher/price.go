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
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const simplePricePath = "/simple/price"

// PriceOptions parameterise the price oracle.
type PriceOptions struct {
	BaseURL   string
	AssetID   string
	Currency  string
	Fallback  decimal.Decimal
	Timeout   time.Duration
	UserAgent string
}

// PriceOracle fetches the native asset price over HTTP and falls back to the
// last good value, then to a static default, when the API misbehaves.
type PriceOracle struct {
	opts    PriceOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string

	mu   sync.Mutex
	last decimal.Decimal
}

// NewPriceOracle constructs a price oracle.
func NewPriceOracle(opts PriceOptions, logger zerolog.Logger) *PriceOracle {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}
	if opts.AssetID == "" {
		opts.AssetID = "ethereum"
	}
	if opts.Currency == "" {
		opts.Currency = "usd"
	}

	return &PriceOracle{
		opts:    opts,
		logger:  logger.With().Str("component", "price_oracle").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// NativePrice returns a positive price, never blocking past the HTTP timeout.
func (o *PriceOracle) NativePrice(ctx context.Context) (decimal.Decimal, error) {
	price, err := o.FetchPrice(ctx)
	if err == nil {
		o.mu.Lock()
		o.last = price
		o.mu.Unlock()
		return price, nil
	}

	o.mu.Lock()
	last := o.last
	o.mu.Unlock()

	if last.IsPositive() {
		o.logger.Warn().Err(err).Str("price", last.String()).Msg("price fetch failed; using last known price")
		return last, nil
	}
	if o.opts.Fallback.IsPositive() {
		o.logger.Warn().Err(err).Str("price", o.opts.Fallback.String()).Msg("price fetch failed; using static fallback")
		return o.opts.Fallback, nil
	}
	return decimal.Decimal{}, fmt.Errorf("no price available: %w", err)
}

// FetchPrice queries the API once.
func (o *PriceOracle) FetchPrice(ctx context.Context) (decimal.Decimal, error) {
	query := url.Values{}
	query.Set("ids", o.opts.AssetID)
	query.Set("vs_currencies", o.opts.Currency)
	endpoint := o.baseURL + simplePricePath + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(o.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "mirrorbot/1.0")
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decimal.Decimal{}, fmt.Errorf("price api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var prices map[string]map[string]decimal.Decimal
	if err := json.Unmarshal(payload, &prices); err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse price response: %w", err)
	}
	price, ok := prices[o.opts.AssetID][o.opts.Currency]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("price for %s/%s missing from response", o.opts.AssetID, o.opts.Currency)
	}
	if !price.IsPositive() {
		return decimal.Decimal{}, errors.New("price api returned non-positive price")
	}
	return price, nil
}

var _ PriceSource = (*PriceOracle)(nil)
