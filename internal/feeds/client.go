package feeds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"stocktracker/internal"
	"stocktracker/internal/config"
)

// Client pulls the three marketplace feeds: operator-fulfilled stocks,
// seller-fulfilled stocks and orders. Every request carries a timeout, a
// shared rate limit and a bounded retry with exponential backoff.
type Client struct {
	cfg        config.Config
	httpClient *http.Client
	limiter    *RateLimiter
}

func NewClient(cfg config.Config) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: time.Duration(cfg.FeedTimeoutMs) * time.Millisecond},
		limiter:    NewRateLimiter(cfg.FeedRateLimitRPS),
	}
}

func (c *Client) FetchOperatorStocks(ctx context.Context) ([]internal.OperatorStockRecord, error) {
	// The stocks endpoint returns the current snapshot; dateFrom only trims
	// rows untouched since then, so a wide window is fine.
	dateFrom := time.Now().UTC().AddDate(0, 0, -30).Format("2006-01-02")
	body, err := c.fetch(ctx, c.cfg.StatsAPIBaseURL, "/api/v1/supplier/stocks", map[string]string{"dateFrom": dateFrom})
	if err != nil {
		return nil, err
	}

	var rows []internal.OperatorStockRecord
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, &internal.ExternalError{Op: "operator stocks", Class: internal.FailureFatal, Err: fmt.Errorf("decode: %w", err)}
	}
	return rows, nil
}

type sellerStocksPage struct {
	Stocks []internal.SellerStockRecord `json:"stocks"`
	Total  int                          `json:"total"`
}

func (c *Client) FetchSellerStocks(ctx context.Context) ([]internal.SellerStockRecord, error) {
	const pageSize = 1000
	all := make([]internal.SellerStockRecord, 0)

	for skip := 0; ; skip += pageSize {
		body, err := c.fetch(ctx, c.cfg.MarketplaceAPIBaseURL, "/api/v2/stocks", map[string]string{
			"skip": strconv.Itoa(skip),
			"take": strconv.Itoa(pageSize),
		})
		if err != nil {
			return nil, err
		}

		var page sellerStocksPage
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, &internal.ExternalError{Op: "seller stocks", Class: internal.FailureFatal, Err: fmt.Errorf("decode: %w", err)}
		}
		all = append(all, page.Stocks...)

		if len(page.Stocks) < pageSize || len(all) >= page.Total {
			break
		}
	}

	return all, nil
}

type orderRow struct {
	OrderID         string `json:"srid"`
	SupplierArticle string `json:"supplierArticle"`
	NmID            int64  `json:"nmId"`
	Barcode         string `json:"barcode"`
	WarehouseName   string `json:"warehouseName"`
	IsCancel        bool   `json:"isCancel"`
	Date            string `json:"date"`
}

func (c *Client) FetchOrders(ctx context.Context) ([]internal.OrderEvent, error) {
	dateFrom := time.Now().UTC().Add(-time.Duration(c.cfg.OrderLookbackHours) * time.Hour).Format(time.RFC3339)
	body, err := c.fetch(ctx, c.cfg.StatsAPIBaseURL, "/api/v1/supplier/orders", map[string]string{"dateFrom": dateFrom})
	if err != nil {
		return nil, err
	}

	var rows []orderRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, &internal.ExternalError{Op: "orders", Class: internal.FailureFatal, Err: fmt.Errorf("decode: %w", err)}
	}

	out := make([]internal.OrderEvent, 0, len(rows))
	for _, row := range rows {
		out = append(out, internal.OrderEvent{
			OrderID:       row.OrderID,
			Article:       row.SupplierArticle,
			NmID:          row.NmID,
			Barcode:       row.Barcode,
			WarehouseName: row.WarehouseName,
			Canceled:      row.IsCancel,
			Date:          parseFeedDate(row.Date),
		})
	}
	return out, nil
}

// parseFeedDate handles the feed's timezone-less timestamps alongside RFC3339.
func parseFeedDate(value string) time.Time {
	layouts := []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}

func (c *Client) fetch(ctx context.Context, base, endpoint string, params map[string]string) ([]byte, error) {
	if strings.TrimSpace(c.cfg.APIToken) == "" {
		return nil, &internal.ExternalError{Op: endpoint, Class: internal.FailureFatal, Err: errors.New("missing MARKETPLACE_API_TOKEN")}
	}

	u, err := url.Parse(strings.TrimRight(base, "/") + endpoint)
	if err != nil {
		return nil, &internal.ExternalError{Op: endpoint, Class: internal.FailureFatal, Err: err}
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	maxAttempts := c.cfg.FeedMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		c.limiter.WaitTurn()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, &internal.ExternalError{Op: endpoint, Class: internal.FailureFatal, Err: err}
		}
		req.Header.Set("Authorization", c.cfg.APIToken)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return body, nil
		}

		if isRetryableStatus(resp.StatusCode) && attempt < maxAttempts {
			lastErr = fmt.Errorf("feed status %d", resp.StatusCode)
			time.Sleep(backoffDelay(attempt))
			continue
		}

		class := internal.FailureFatal
		if isRetryableStatus(resp.StatusCode) {
			class = internal.FailureRetryable
		}
		return nil, &internal.ExternalError{
			Op:     endpoint,
			Status: resp.StatusCode,
			Class:  class,
			Err:    fmt.Errorf("feed error: %s", strings.TrimSpace(string(body))),
		}
	}

	if lastErr == nil {
		lastErr = errors.New("feed request failed")
	}
	return nil, &internal.ExternalError{Op: endpoint, Class: internal.FailureRetryable, Err: lastErr}
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func backoffDelay(attempt int) time.Duration {
	return time.Duration(250*(1<<(attempt-1))+rand.Intn(100)) * time.Millisecond
}
