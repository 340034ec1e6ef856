package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// APIError carries a non-200 venue response.
type APIError struct {
	Venue  string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (%d): %s", e.Venue, e.Status, e.Body)
}

// RESTAdapter talks to a venue over a small JSON API:
//
//	GET  /markets/{event_id}        -> {"listed":bool,"resolved":bool}
//	GET  /price?event_id=...        -> {"price":"0.31","liquidity":"52000","resolved":false}
//	POST /orders                    -> {"quantity":"8","cost":"2.45"}
//	POST /settle                    -> {"payout":"8.00"}
type RESTAdapter struct {
	name       string
	host       string
	httpClient *http.Client
}

func NewRESTAdapter(name, host string, httpClient *http.Client) *RESTAdapter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &RESTAdapter{
		name:       name,
		host:       strings.TrimRight(host, "/"),
		httpClient: httpClient,
	}
}

func (a *RESTAdapter) Name() string { return a.name }

func (a *RESTAdapter) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	fullURL := a.host + path
	if len(query) > 0 {
		fullURL = fullURL + "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return a.do(req)
}

func (a *RESTAdapter) post(ctx context.Context, path string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.host+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	return a.do(req)
}

func (a *RESTAdapter) do(req *http.Request) ([]byte, error) {
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Venue: a.name, Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

func (a *RESTAdapter) ValidateEvent(ctx context.Context, eventID string) (bool, error) {
	body, err := a.get(ctx, "/markets/"+url.PathEscape(eventID), nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	var out struct {
		Listed bool `json:"listed"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return false, fmt.Errorf("invalid market response: %w", err)
	}
	return out.Listed, nil
}

func (a *RESTAdapter) Quote(ctx context.Context, eventID string) (Quote, error) {
	query := url.Values{}
	query.Set("event_id", eventID)
	body, err := a.get(ctx, "/price", query)
	if err != nil {
		return Quote{}, err
	}
	var out struct {
		Price     jsonDecimal `json:"price"`
		Liquidity jsonDecimal `json:"liquidity"`
		Resolved  bool        `json:"resolved"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return Quote{}, fmt.Errorf("invalid price response: %w", err)
	}
	return Quote{
		Price:     out.Price.Decimal,
		Liquidity: out.Liquidity.Decimal,
		Resolved:  out.Resolved,
		At:        time.Now().UTC(),
	}, nil
}

func (a *RESTAdapter) BuyOutcome(ctx context.Context, eventID string, quantity, maxCost decimal.Decimal) (TradeResult, error) {
	return a.order(ctx, eventID, "buy", quantity, &maxCost)
}

func (a *RESTAdapter) SellOutcome(ctx context.Context, eventID string, quantity decimal.Decimal) (TradeResult, error) {
	return a.order(ctx, eventID, "sell", quantity, nil)
}

func (a *RESTAdapter) order(ctx context.Context, eventID, side string, quantity decimal.Decimal, maxCost *decimal.Decimal) (TradeResult, error) {
	payload := map[string]any{
		"event_id": eventID,
		"side":     side,
		"quantity": quantity.String(),
	}
	if maxCost != nil {
		payload["max_cost"] = maxCost.String()
	}
	body, err := a.post(ctx, "/orders", payload)
	if err != nil {
		return TradeResult{}, err
	}
	var out struct {
		Quantity jsonDecimal `json:"quantity"`
		Cost     jsonDecimal `json:"cost"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return TradeResult{}, fmt.Errorf("invalid order response: %w", err)
	}
	return TradeResult{Quantity: out.Quantity.Decimal, Cost: out.Cost.Decimal}, nil
}

func (a *RESTAdapter) SettlePosition(ctx context.Context, eventID string) (SettleResult, error) {
	body, err := a.post(ctx, "/settle", map[string]any{"event_id": eventID})
	if err != nil {
		return SettleResult{}, err
	}
	var out struct {
		Payout jsonDecimal `json:"payout"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return SettleResult{}, fmt.Errorf("invalid settle response: %w", err)
	}
	return SettleResult{Payout: out.Payout.Decimal}, nil
}

// jsonDecimal accepts both string and number encodings.
type jsonDecimal struct {
	decimal.Decimal
}

func (d *jsonDecimal) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		d.Decimal = decimal.Zero
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		val, err := decimal.NewFromString(s)
		if err != nil {
			return err
		}
		d.Decimal = val
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		d.Decimal = decimal.NewFromFloat(f)
		return nil
	}
	return fmt.Errorf("invalid decimal: %s", string(b))
}
