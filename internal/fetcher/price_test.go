package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func TestPriceOracleSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != simplePricePath {
			t.Fatalf("路径应为 %s, 实际 %s", simplePricePath, r.URL.Path)
		}
		if r.URL.Query().Get("ids") != "ethereum" || r.URL.Query().Get("vs_currencies") != "usd" {
			t.Fatalf("查询参数不正确: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ethereum":{"usd":2500.5}}`))
	}))
	defer srv.Close()

	o := NewPriceOracle(PriceOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	price, err := o.NativePrice(context.Background())
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("2500.5")) {
		t.Fatalf("期望价格 2500.5, 实际 %s", price)
	}
}

func TestPriceOracleFallsBackToLastKnown(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"ethereum":{"usd":3000}}`))
			return
		}
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	o := NewPriceOracle(PriceOptions{BaseURL: srv.URL, Fallback: decimal.NewFromInt(1), Timeout: time.Second}, noopLogger())
	if _, err := o.NativePrice(context.Background()); err != nil {
		t.Fatalf("first fetch: %v", err)
	}

	price, err := o.NativePrice(context.Background())
	if err != nil {
		t.Fatalf("fallback should not error: %v", err)
	}
	if !price.Equal(decimal.NewFromInt(3000)) {
		t.Fatalf("应回退到上次价格 3000, 实际 %s", price)
	}
}

func TestPriceOracleStaticFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	o := NewPriceOracle(PriceOptions{BaseURL: srv.URL, Fallback: decimal.NewFromInt(2000), Timeout: time.Second}, noopLogger())
	price, err := o.NativePrice(context.Background())
	if err != nil {
		t.Fatalf("static fallback should not error: %v", err)
	}
	if !price.Equal(decimal.NewFromInt(2000)) {
		t.Fatalf("应使用静态价格 2000, 实际 %s", price)
	}
}

func TestPriceOracleNoFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":1}}`))
	}))
	defer srv.Close()

	o := NewPriceOracle(PriceOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := o.NativePrice(context.Background()); err == nil {
		t.Fatal("缺少价格且无回退时应报错")
	}
}

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}
