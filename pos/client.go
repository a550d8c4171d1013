package pos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Per-request deadlines. Transaction payloads for a busy store routinely run
// to tens of megabytes, hence the much longer budget on that endpoint.
const (
	transactionsTimeout = 180 * time.Second
	defaultTimeout      = 60 * time.Second
	retryPause          = 2 * time.Second
)

// StatusError is a non-2xx response from the vendor.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("pos: status %d: %s", e.Code, e.Body)
}

// ParseError is a 200 response whose body failed to decode. Permanent:
// a retry would fetch the same malformed payload.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("pos: decoding %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying: transport failures,
// 5xx and 429. Malformed bodies, context cancellation or expiry, and
// other 4xx responses are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	// Remaining transport-level errors (reset, DNS) are retryable.
	return true
}

// Client talks to the POS vendor reporting API. Authentication is HTTP
// Basic with the store's API key as the username and an empty password,
// so the key travels per call rather than per client: one Client serves
// the whole fleet.
type Client struct {
	baseURL string
	http    *http.Client

	// pause between the first failure and the single retry; shortened in tests.
	pause time.Duration
}

// NewClient creates a vendor client rooted at baseURL
// (e.g. "https://api.posvendor.com").
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{},
		pause:   retryPause,
	}
}

// TransactionQuery selects the optional payload sections of the
// transactions report.
type TransactionQuery struct {
	IncludeDetail   bool
	IncludeTaxes    bool
	IncludeOrderIds bool
}

// GetTransactions fetches all transactions in [from, to] (UTC instants).
func (c *Client) GetTransactions(ctx context.Context, apiKey string, from, to time.Time, q TransactionQuery) ([]Transaction, error) {
	v := url.Values{}
	v.Set("FromDateUTC", from.UTC().Format("2006-01-02T15:04:05"))
	v.Set("ToDateUTC", to.UTC().Format("2006-01-02T15:04:05"))
	v.Set("IncludeDetail", strconv.FormatBool(q.IncludeDetail))
	v.Set("IncludeTaxes", strconv.FormatBool(q.IncludeTaxes))
	v.Set("IncludeOrderIds", strconv.FormatBool(q.IncludeOrderIds))

	var txns []Transaction
	err := c.getJSON(ctx, apiKey, "/reporting/transactions?"+v.Encode(), transactionsTimeout, &txns)
	return txns, err
}

// GetInventoryReport fetches the full inventory snapshot for the store
// owning apiKey.
func (c *Client) GetInventoryReport(ctx context.Context, apiKey string) ([]InventoryItem, error) {
	var items []InventoryItem
	err := c.getJSON(ctx, apiKey, "/reporting/inventory", defaultTimeout, &items)
	return items, err
}

// GetDiscounts fetches the active discount list (v2 endpoint).
func (c *Client) GetDiscounts(ctx context.Context, apiKey string) ([]Discount, error) {
	var ds []Discount
	err := c.getJSON(ctx, apiKey, "/discounts/v2/list?includeInactive=false&includeInclusionExclusionData=true", defaultTimeout, &ds)
	return ds, err
}

// getJSON performs a GET with one retry after a short pause. The retry is
// unconditional for transient failures; permanent 4xx surfaces immediately.
func (c *Client) getJSON(ctx context.Context, apiKey, path string, timeout time.Duration, dst interface{}) error {
	err := c.doOnce(ctx, apiKey, path, timeout, dst)
	if err == nil || !IsTransient(err) {
		return err
	}

	log.Printf("[POS] transient failure on %s, retrying in %v: %v", path, c.pause, err)
	select {
	case <-time.After(c.pause):
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.doOnce(ctx, apiKey, path, timeout, dst)
}

func (c *Client) doOnce(ctx context.Context, apiKey, path string, timeout time.Duration, dst interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(apiKey, "")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return &ParseError{Path: path, Err: err}
	}
	return nil
}
