// Package marketdata fetches windowed OHLC candles from the Binance public
// klines endpoint. Settlement depends only on the Candle shape; a missing
// candle means "not yet settleable", never a hard failure.
package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pollmarket/internal/market"
)

// ErrCandleUnavailable is returned when the upstream has no bar for the
// requested window yet (window still open, or data gap).
var ErrCandleUnavailable = errors.New("candle unavailable")

// ErrRateLimited is returned on upstream 429/418 responses; callers should
// retry on a later scan rather than immediately.
var ErrRateLimited = errors.New("rate limited by upstream")

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("klines API error (%d): %s", e.Status, e.Body)
}

type Candle struct {
	Start time.Time
	Open  decimal.Decimal
	High  decimal.Decimal
	Low   decimal.Decimal
	Close decimal.Decimal
}

// Gateway is the consumer-side contract settlement and the candle ingest
// job depend on.
type Gateway interface {
	GetCandle(ctx context.Context, m market.Market, start time.Time) (Candle, error)
	GetCandles(ctx context.Context, m market.Market, start time.Time, count int) ([]Candle, error)
}

type Client struct {
	host       string
	httpClient *http.Client
}

func NewClient(httpClient *http.Client, host string) *Client {
	if host == "" {
		host = "https://data-api.binance.vision"
	}
	host = strings.TrimRight(host, "/")
	return &Client{
		host:       host,
		httpClient: httpClient,
	}
}

// intervalFor maps a market granularity onto a Binance kline interval.
// Yearly has no native interval; it is aggregated from monthly bars.
func intervalFor(g market.Granularity) string {
	switch g {
	case market.Gran15m:
		return "15m"
	case market.Gran1h:
		return "1h"
	case market.Gran4h:
		return "4h"
	case market.Gran1w:
		return "1w"
	case market.Gran1mo, market.Gran1y:
		return "1M"
	default:
		return "1d"
	}
}

func (c *Client) GetCandle(ctx context.Context, m market.Market, start time.Time) (Candle, error) {
	g := m.Granularity()
	if g == market.Gran1y {
		return c.aggregateYear(ctx, m, start)
	}
	rows, err := c.fetchKlines(ctx, m.Symbol(), intervalFor(g), start, 1)
	if err != nil {
		return Candle{}, err
	}
	if len(rows) == 0 || !rows[0].Start.Equal(start) {
		return Candle{}, ErrCandleUnavailable
	}
	return rows[0], nil
}

func (c *Client) GetCandles(ctx context.Context, m market.Market, start time.Time, count int) ([]Candle, error) {
	if count <= 0 {
		return nil, nil
	}
	g := m.Granularity()
	if g == market.Gran1y {
		out := make([]Candle, 0, count)
		cur := start
		for i := 0; i < count; i++ {
			candle, err := c.aggregateYear(ctx, m, cur)
			if err != nil {
				if errors.Is(err, ErrCandleUnavailable) {
					break
				}
				return nil, err
			}
			out = append(out, candle)
			cur = cur.AddDate(1, 0, 0)
		}
		return out, nil
	}
	return c.fetchKlines(ctx, m.Symbol(), intervalFor(g), start, count)
}

// aggregateYear folds twelve monthly bars into one yearly candle. A partial
// year returns whatever is closed so far as long as the first month exists.
func (c *Client) aggregateYear(ctx context.Context, m market.Market, start time.Time) (Candle, error) {
	months, err := c.fetchKlines(ctx, m.Symbol(), "1M", start, 12)
	if err != nil {
		return Candle{}, err
	}
	if len(months) == 0 || !months[0].Start.Equal(start) {
		return Candle{}, ErrCandleUnavailable
	}
	agg := Candle{
		Start: start,
		Open:  months[0].Open,
		High:  months[0].High,
		Low:   months[0].Low,
		Close: months[0].Close,
	}
	for _, mo := range months[1:] {
		if mo.High.GreaterThan(agg.High) {
			agg.High = mo.High
		}
		if mo.Low.LessThan(agg.Low) {
			agg.Low = mo.Low
		}
		agg.Close = mo.Close
	}
	return agg, nil
}

func (c *Client) fetchKlines(ctx context.Context, symbol, interval string, start time.Time, limit int) ([]Candle, error) {
	if symbol == "" {
		return nil, fmt.Errorf("market has no upstream symbol")
	}
	if limit > 1000 {
		limit = 1000
	}
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("interval", interval)
	query.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	query.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+"/api/v3/klines?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 418 {
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	return parseKlines(body)
}

// parseKlines decodes the raw klines payload. Each row is a heterogeneous
// array: [openTime, open, high, low, close, volume, ...]. Rows that do not
// parse are skipped rather than failing the batch.
func parseKlines(body []byte) ([]Candle, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode klines: %w", err)
	}
	out := make([]Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			continue
		}
		var openMs int64
		if err := json.Unmarshal(row[0], &openMs); err != nil {
			continue
		}
		open, err1 := decimalField(row[1])
		high, err2 := decimalField(row[2])
		low, err3 := decimalField(row[3])
		closePx, err4 := decimalField(row[4])
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}
		out = append(out, Candle{
			Start: time.UnixMilli(openMs).UTC(),
			Open:  open,
			High:  high,
			Low:   low,
			Close: closePx,
		})
	}
	return out, nil
}

func decimalField(raw json.RawMessage) (decimal.Decimal, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(s)
}
