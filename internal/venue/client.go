// Package venue is the HTTP adapter for the external custody and exchange
// venue: asset transfers in and out of custody, the native-asset wrapper,
// the constant-product pool, and the asset liveness probe. The vault only
// specifies the contract it holds the venue to; everything behind these
// endpoints is out of scope.
package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Client talks to the venue's REST API.
type Client struct {
	baseURL string
	http    *http.Client
	wrapped string
}

// NewClient creates a venue client. wrapped is the tradable representation
// of the native currency.
func NewClient(baseURL, wrapped string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		wrapped: wrapped,
	}
}

type transferRequest struct {
	Principal string `json:"principal"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
}

type swapRequest struct {
	AssetIn  string `json:"asset_in"`
	AssetOut string `json:"asset_out"`
	AmountIn string `json:"amount_in"`
	MinOut   string `json:"min_out"`
}

type swapResponse struct {
	AmountOut string `json:"amount_out"`
}

type reservesResponse struct {
	ReserveIn  string `json:"reserve_in"`
	ReserveOut string `json:"reserve_out"`
}

// Pull moves amount of asset from the principal's wallet into custody.
func (c *Client) Pull(ctx context.Context, principal, asset string, amount decimal.Decimal) error {
	return c.post(ctx, "/transfers/pull", transferRequest{principal, asset, amount.String()}, nil)
}

// Push moves amount of asset from custody back to the principal's wallet.
func (c *Client) Push(ctx context.Context, principal, asset string, amount decimal.Decimal) error {
	return c.post(ctx, "/transfers/push", transferRequest{principal, asset, amount.String()}, nil)
}

// Wrap converts custodied native currency into its tradable representation.
func (c *Client) Wrap(ctx context.Context, amount decimal.Decimal) error {
	return c.post(ctx, "/wrap", map[string]string{"amount": amount.String()}, nil)
}

// WrappedID returns the wrapped native asset id.
func (c *Client) WrappedID() string {
	return c.wrapped
}

// Probe checks that assetID answers like the expected asset interface.
func (c *Client) Probe(ctx context.Context, assetID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/assets/"+assetID, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("asset probe: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("asset probe: venue returned %d", resp.StatusCode)
	}
	return nil
}

// Reserves returns the pool reserves for (assetIn, assetOut).
func (c *Client) Reserves(ctx context.Context, assetIn, assetOut string) (decimal.Decimal, decimal.Decimal, error) {
	var out reservesResponse
	url := fmt.Sprintf("/pools/%s/%s/reserves", assetIn, assetOut)
	if err := c.get(ctx, url, &out); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	rin, err := decimal.NewFromString(out.ReserveIn)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("malformed reserve_in: %w", err)
	}
	rout, err := decimal.NewFromString(out.ReserveOut)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("malformed reserve_out: %w", err)
	}
	return rin, rout, nil
}

// Swap executes a trade against the pool and returns the realized output.
func (c *Client) Swap(ctx context.Context, assetIn, assetOut string, amountIn, minOut decimal.Decimal) (decimal.Decimal, error) {
	var out swapResponse
	err := c.post(ctx, "/pools/swap", swapRequest{assetIn, assetOut, amountIn.String(), minOut.String()}, &out)
	if err != nil {
		return decimal.Zero, err
	}
	amount, err := decimal.NewFromString(out.AmountOut)
	if err != nil {
		return decimal.Zero, fmt.Errorf("malformed amount_out: %w", err)
	}
	return amount, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("venue request %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("venue request %s: status %d", path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("venue response %s: %w", path, err)
		}
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("venue request %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("venue request %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
