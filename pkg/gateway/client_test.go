package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuth struct {
	mu    sync.Mutex
	token string
	err   error
	calls int
}

func (f *fakeAuth) AccessToken(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.token, f.err
}

func quietLogger() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestClient(t *testing.T, handler http.HandlerFunc, auth Authenticator) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL+"/sim/openapi", auth, WithLogger(quietLogger()))
	require.NoError(t, err)
	return c
}

func TestRequestAttachesBearerAndQuery(t *testing.T) {
	var got *http.Request
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"Data":[{"AccountId":"A1"}]}`)
	}, &fakeAuth{token: "tok"})

	resp, err := c.Request(context.Background(), http.MethodGet, "port/v1/accounts/me", nil, url.Values{"$top": {"10"}})
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok", got.Header.Get("Authorization"))
	assert.Equal(t, "/sim/openapi/port/v1/accounts/me", got.URL.Path)
	assert.Equal(t, "10", got.URL.Query().Get("$top"))
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "A1", resp.Get("Data.0.AccountId").String())
}

func TestRequestSendsJSONBody(t *testing.T) {
	var body map[string]any
	var contentType string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{}`)
	}, &fakeAuth{token: "tok"})

	_, err := c.Request(context.Background(), http.MethodPost, "/x", map[string]any{"Amount": 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, float64(1), body["Amount"])
}

func TestRequestNon2xx(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"ErrorCode":"InvalidModelState"}`)
	}, &fakeAuth{token: "tok"})

	_, err := c.Request(context.Background(), http.MethodGet, "/port/v1/balances/me", nil, nil)
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusBadRequest, reqErr.Status)
	assert.Equal(t, "/port/v1/balances/me", reqErr.Endpoint)
	assert.Equal(t, http.MethodGet, reqErr.Method)
	assert.Contains(t, reqErr.Body, "InvalidModelState")
	assert.Equal(t, 1, calls, "failed requests must not be retried")
}

func TestRequestAuthFailureSkipsCall(t *testing.T) {
	authErr := errors.New("authorization required")
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	}, &fakeAuth{err: authErr})

	_, err := c.Request(context.Background(), http.MethodGet, "/port/v1/accounts/me", nil, nil)
	assert.ErrorIs(t, err, authErr)
	assert.False(t, called)
}

func TestRequestTokenPerCall(t *testing.T) {
	auth := &fakeAuth{token: "tok"}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	}, auth)

	for i := 0; i < 3; i++ {
		_, err := c.Request(context.Background(), http.MethodGet, "/ping", nil, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, auth.calls)
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		auth    Authenticator
		wantErr bool
	}{
		{"valid", "https://gateway.saxobank.com/sim/openapi", &fakeAuth{}, false},
		{"bad url", "not a url", &fakeAuth{}, true},
		{"nil auth", "https://gateway.saxobank.com/sim/openapi", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.baseURL, tt.auth)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRateLimitedClientStillServes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	c, err := New(srv.URL, &fakeAuth{token: "t"}, WithRateLimit(1000, 2), WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NotNil(t, c.limiter)

	for i := 0; i < 4; i++ {
		_, err := c.Request(context.Background(), http.MethodGet, "/", nil, nil)
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Request(ctx, http.MethodGet, "/", nil, nil)
	assert.Error(t, err)
}

func TestPlaceOrder(t *testing.T) {
	var requestID string
	var payload map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sim/openapi/trade/v2/orders", r.URL.Path)
		requestID = r.Header.Get("X-Request-ID")
		_ = json.NewDecoder(r.Body).Decode(&payload)
		_, _ = io.WriteString(w, `{"OrderId":"76543210"}`)
	}, &fakeAuth{token: "tok"})

	placed, err := c.PlaceOrder(context.Background(), map[string]any{
		"AccountKey": "acc",
		"Uic":        50629,
		"BuySell":    "Buy",
		"Amount":     1,
		"OrderType":  "Market",
	})
	require.NoError(t, err)

	assert.Equal(t, "76543210", placed.OrderID)
	assert.Equal(t, requestID, placed.RequestID)
	_, err = uuid.Parse(requestID)
	assert.NoError(t, err)
	assert.Equal(t, "acc", payload["AccountKey"])

	_, err = c.PlaceOrder(context.Background(), nil)
	assert.Error(t, err)
}

func TestListOperations(t *testing.T) {
	responses := map[string]string{
		"/port/v1/accounts/me":  `{"Data":[{"AccountId":"A1","AccountKey":"k1","Currency":"EUR"},{"AccountId":"A2","AccountKey":"k2"}]}`,
		"/port/v1/positions/me": `{"Data":[{"PositionId":"p1","PositionBase":{"Amount":3,"Uic":261,"AssetType":"Stock"}}]}`,
		"/port/v1/orders/me":    `{"Data":[{"OrderId":"o1","BuySell":"Buy","Amount":2}]}`,
		"/port/v1/balances/me":  `{"Currency":"EUR","CashBalance":1234.5,"TotalValue":2000}`,
	}
	var lastQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastQuery = r.URL.Query()
		body, ok := responses[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, body)
	}))
	defer srv.Close()

	c, err := New(srv.URL, &fakeAuth{token: "t"}, WithLogger(quietLogger()))
	require.NoError(t, err)
	ctx := context.Background()

	accounts, err := c.Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "k1", accounts[0].AccountKey)
	assert.Equal(t, "EUR", accounts[0].Currency)

	positions, err := c.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(261), positions[0].PositionBase.Uic)
	assert.Equal(t, "PositionBase", lastQuery.Get("FieldGroups"))

	orders, err := c.Orders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "o1", orders[0].OrderID)

	bal, err := c.Balances(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, 1234.5, bal.CashBalance)
	assert.Equal(t, "k1", lastQuery.Get("AccountKey"))
}

func TestRequestErrorMessage(t *testing.T) {
	err := &RequestError{Method: "GET", Endpoint: "/x", Status: 500, Body: "boom"}
	assert.Equal(t, "GET /x failed with status 500: boom", err.Error())
}
