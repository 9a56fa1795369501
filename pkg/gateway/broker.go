package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	pathAccounts  = "/port/v1/accounts/me"
	pathBalances  = "/port/v1/balances/me"
	pathPositions = "/port/v1/positions/me"
	pathOrders    = "/port/v1/orders/me"
	pathPlace     = "/trade/v2/orders"
)

// Account is one trading account of the logged-in client.
type Account struct {
	AccountID   string `json:"AccountId"`
	AccountKey  string `json:"AccountKey"`
	ClientKey   string `json:"ClientKey"`
	Currency    string `json:"Currency"`
	AccountType string `json:"AccountType"`
	DisplayName string `json:"DisplayName,omitempty"`
}

// Balance summarizes cash and value for the client or one account.
type Balance struct {
	Currency                  string  `json:"Currency"`
	CashBalance               float64 `json:"CashBalance"`
	TotalValue                float64 `json:"TotalValue"`
	MarginAvailableForTrading float64 `json:"MarginAvailableForTrading"`
	UnrealizedPositionsValue  float64 `json:"UnrealizedPositionsValue"`
}

// Position is an open net position.
type Position struct {
	PositionID   string `json:"PositionId"`
	PositionBase struct {
		AccountID string  `json:"AccountId"`
		Amount    float64 `json:"Amount"`
		AssetType string  `json:"AssetType"`
		Uic       int64   `json:"Uic"`
		OpenPrice float64 `json:"OpenPrice"`
	} `json:"PositionBase"`
}

// OpenOrder is a working order.
type OpenOrder struct {
	OrderID    string  `json:"OrderId"`
	AccountID  string  `json:"AccountId"`
	Uic        int64   `json:"Uic"`
	AssetType  string  `json:"AssetType"`
	BuySell    string  `json:"BuySell"`
	Amount     float64 `json:"Amount"`
	OrderType  string  `json:"OpenOrderType"`
	Status     string  `json:"Status"`
	Price      float64 `json:"Price,omitempty"`
	OrderTime  string  `json:"OrderTime,omitempty"`
	ExternalID string  `json:"ExternalReference,omitempty"`
}

// PlacedOrder is the broker's acknowledgement of a submitted order.
type PlacedOrder struct {
	OrderID   string
	RequestID string
	Response  *Response
}

type listEnvelope[T any] struct {
	Data []T `json:"Data"`
}

// Accounts lists the accounts of the logged-in client.
func (c *Client) Accounts(ctx context.Context) ([]Account, error) {
	return list[Account](ctx, c, pathAccounts, nil)
}

// Balances returns the client balance, or one account's when accountKey is set.
func (c *Client) Balances(ctx context.Context, accountKey string) (*Balance, error) {
	var q url.Values
	if accountKey != "" {
		q = url.Values{"AccountKey": {accountKey}}
	}
	resp, err := c.Request(ctx, http.MethodGet, pathBalances, nil, q)
	if err != nil {
		return nil, err
	}
	var b Balance
	if err := resp.JSON(&b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Positions lists open positions.
func (c *Client) Positions(ctx context.Context) ([]Position, error) {
	return list[Position](ctx, c, pathPositions, url.Values{"FieldGroups": {"PositionBase"}})
}

// Orders lists working orders.
func (c *Client) Orders(ctx context.Context) ([]OpenOrder, error) {
	return list[OpenOrder](ctx, c, pathOrders, nil)
}

// PlaceOrder submits an order payload as-is. Each submission carries a fresh
// X-Request-ID so the broker can reject accidental duplicates.
func (c *Client) PlaceOrder(ctx context.Context, payload map[string]any) (*PlacedOrder, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("order payload is empty")
	}
	requestID := uuid.NewString()
	header := http.Header{"X-Request-Id": {requestID}}

	resp, err := c.do(ctx, http.MethodPost, pathPlace, payload, nil, header)
	if err != nil {
		return nil, err
	}

	placed := &PlacedOrder{
		OrderID:   resp.Get("OrderId").String(),
		RequestID: requestID,
		Response:  resp,
	}
	c.logger.WithFields(log.Fields{
		"order_id":   placed.OrderID,
		"request_id": requestID,
	}).Info("order placed")
	return placed, nil
}

func list[T any](ctx context.Context, c *Client, path string, query url.Values) ([]T, error) {
	resp, err := c.Request(ctx, http.MethodGet, path, nil, query)
	if err != nil {
		return nil, err
	}
	var env listEnvelope[T]
	if err := resp.JSON(&env); err != nil {
		return nil, err
	}
	return env.Data, nil
}
