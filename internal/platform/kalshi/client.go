// Package kalshi implements the REST and streaming clients for the Kalshi
// exchange API.
package kalshi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/marketgate/internal/book"
	"github.com/alanyoungcy/marketgate/internal/crypto"
	"github.com/alanyoungcy/marketgate/internal/domain"
)

// Client is the signed REST client for the Kalshi exchange API.
type Client struct {
	baseURL    string
	basePath   string // path prefix included in the signed payload
	signer     *crypto.RequestSigner
	httpClient *http.Client
}

// NewClient creates a Kalshi REST client.
//
// baseURL is the API root, e.g. "https://api.elections.kalshi.com/trade-api/v2".
// signer must be non-nil: REST access without credentials is a configuration
// error, unlike the stream client which degrades to public data.
func NewClient(baseURL string, signer *crypto.RequestSigner) (*Client, error) {
	if signer == nil {
		return nil, fmt.Errorf("kalshi: signer is required for REST access")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("kalshi: parse base url: %w", err)
	}

	return &Client{
		baseURL:  baseURL,
		basePath: u.Path,
		signer:   signer,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// GetEvents returns up to limit events for the given series ticker, with
// nested markets included.
func (c *Client) GetEvents(ctx context.Context, seriesTicker string, limit int) ([]Event, error) {
	params := url.Values{}
	params.Set("series_ticker", seriesTicker)
	params.Set("status", "open")
	params.Set("with_nested_markets", "true")
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.doSignedRequest(ctx, http.MethodGet, "/events?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("kalshi: get events %s: %w", seriesTicker, err)
	}

	var resp struct {
		Events []Event `json:"events"`
		Cursor string  `json:"cursor"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("kalshi: decode events: %w", err)
	}

	return resp.Events, nil
}

// GetMarket returns a single market by its ticker.
func (c *Client) GetMarket(ctx context.Context, ticker string) (Market, error) {
	path := "/markets/" + url.PathEscape(ticker)

	body, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return Market{}, fmt.Errorf("kalshi: get market %s: %w", ticker, err)
	}

	var resp struct {
		Market Market `json:"market"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return Market{}, fmt.Errorf("kalshi: decode market: %w", err)
	}

	return resp.Market, nil
}

// GetOrderbook returns the book for the given ticker, normalized to the
// probability scale: yes-side bids map directly, no-side bids invert into
// asks via (100 - price) / 100.
func (c *Client) GetOrderbook(ctx context.Context, ticker string) (domain.OrderbookSnapshot, error) {
	path := "/markets/" + url.PathEscape(ticker) + "/orderbook"

	body, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("kalshi: get orderbook %s: %w", ticker, err)
	}

	var resp struct {
		Orderbook Orderbook `json:"orderbook"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("kalshi: decode orderbook: %w", err)
	}

	return normalizeOrderbook(ticker, resp.Orderbook.Yes, resp.Orderbook.No), nil
}

// GetOrders returns the user's orders, optionally filtered by status
// ("resting", "canceled", "executed").
func (c *Client) GetOrders(ctx context.Context, status string) ([]Order, error) {
	path := "/portfolio/orders"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}

	body, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("kalshi: get orders: %w", err)
	}

	var resp struct {
		Orders []Order `json:"orders"`
		Cursor string  `json:"cursor"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("kalshi: decode orders: %w", err)
	}

	return resp.Orders, nil
}

// CancelOrder cancels a resting order by its ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	path := "/portfolio/orders/" + url.PathEscape(orderID)

	if _, err := c.doSignedRequest(ctx, http.MethodDelete, path, nil); err != nil {
		return fmt.Errorf("kalshi: cancel order %s: %w", orderID, err)
	}

	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doSignedRequest builds, signs, sends, and reads an HTTP request against the
// Kalshi API. path is relative to the API root and includes any query string;
// the signed path is the full request URI including the API prefix.
func (c *Client) doSignedRequest(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	headers, err := c.signer.RESTHeaders(method, c.basePath+path, bodyStr)
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	return respBody, nil
}

// checkStatus maps non-2xx HTTP status codes to domain errors.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr ErrorResponse
	_ = json.Unmarshal(body, &apiErr)

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s (%s)", domain.ErrNotFound, apiErr.Message, apiErr.Code)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s (%s)", domain.ErrUnauthorized, apiErr.Message, apiErr.Code)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s (%s)", domain.ErrRateLimited, apiErr.Message, apiErr.Code)
	default:
		return fmt.Errorf("kalshi: HTTP %d: %s (%s)", statusCode, apiErr.Message, apiErr.Code)
	}
}

// normalizeOrderbook converts the raw yes/no cent levels to a sorted
// probability-scale snapshot.
func normalizeOrderbook(ticker string, yes, no []Level) domain.OrderbookSnapshot {
	bids := make([]domain.PriceLevel, 0, len(yes))
	for _, l := range yes {
		bids = append(bids, domain.PriceLevel{Price: centsToProb(l.Price()), Size: l.Quantity()})
	}
	asks := make([]domain.PriceLevel, 0, len(no))
	for _, l := range no {
		asks = append(asks, domain.PriceLevel{Price: centsToProb(100 - l.Price()), Size: l.Quantity()})
	}

	b := book.New(domain.VenueKalshi, ticker)
	b.ApplySnapshot(bids, asks)
	return b.Snapshot()
}
