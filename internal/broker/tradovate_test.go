package broker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"tradewire/internal/cache"
	"tradewire/internal/domain"
)

// memStore is an in-memory cache.Store for wiring the adapter's token and
// account caching in tests.
type memStore struct {
	mu      sync.Mutex
	entries map[string]string
}

var _ cache.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]string)}
}

func (m *memStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	return v, ok, nil
}

func (m *memStore) Put(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// tradovateStub plays the venue: it issues tokens, serves canned position
// and contract lists, and records the orders it receives.
type tradovateStub struct {
	t         *testing.T
	positions string
	contracts string

	mu           sync.Mutex
	authCalls    int
	accountCalls int
	liquidations []map[string]any
	orders       []map[string]any
	captcha      bool
}

func (s *tradovateStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.URL.Path != "/auth/accesstokenrequest" {
		if got, want := r.Header.Get("Authorization"), "Bearer tok-1"; got != want {
			s.t.Errorf("Authorization = %q, want %q", got, want)
		}
	}

	switch r.URL.Path {
	case "/auth/accesstokenrequest":
		s.authCalls++
		if s.captcha {
			io.WriteString(w, `{"p-ticket":"tck-1","p-time":120,"p-captcha":true}`)
			return
		}
		expires := time.Now().Add(80 * time.Minute).UTC().Format(time.RFC3339)
		io.WriteString(w, `{"accessToken":"tok-1","expirationTime":"`+expires+`"}`)
	case "/account/list":
		s.accountCalls++
		io.WriteString(w, `[{"id":4242,"name":"DEMO4242"}]`)
	case "/position/list":
		io.WriteString(w, s.positions)
	case "/contract/items":
		if r.URL.Query().Get("ids") == "" {
			s.t.Error("contract lookup missing ids parameter")
		}
		io.WriteString(w, s.contracts)
	case "/order/liquidateposition":
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.t.Errorf("decoding liquidation body: %v", err)
		}
		s.liquidations = append(s.liquidations, body)
		io.WriteString(w, `{"orderId":111}`)
	case "/order/placeorder":
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.t.Errorf("decoding order body: %v", err)
		}
		s.orders = append(s.orders, body)
		io.WriteString(w, `{"orderId":222}`)
	case "/cashBalance/getcashbalancesnapshot":
		io.WriteString(w, `{"totalCashValue":52000.5,"totalPnL":120.25}`)
	default:
		s.t.Errorf("unexpected request: %s %s", r.Method, r.URL)
		http.NotFound(w, r)
	}
}

func newTestTradovate(t *testing.T, stub *tradovateStub) *Tradovate {
	t.Helper()
	stub.t = t
	server := httptest.NewServer(stub)
	t.Cleanup(server.Close)
	cfg := TradovateConfig{
		BaseURL:  server.URL,
		Username: "trader",
		Password: "pw",
		DeviceID: "dev-1",
		CID:      "77",
		Secret:   "sec",
		Quantity: 1,
	}
	return NewTradovate(cfg, newMemStore(), testLogger())
}

func TestTradovateCurrentPosition(t *testing.T) {
	stub := &tradovateStub{
		positions: `[
			{"id":1,"accountId":4242,"contractId":101,"netPos":2},
			{"id":2,"accountId":4242,"contractId":102,"netPos":-1},
			{"id":3,"accountId":4242,"contractId":103,"netPos":0}
		]`,
		contracts: `[{"id":101,"name":"ESU5"},{"id":102,"name":"NQU5"}]`,
	}
	tv := newTestTradovate(t, stub)

	pos, err := tv.CurrentPosition(context.Background(), "ESU5")
	if err != nil {
		t.Fatalf("CurrentPosition: %v", err)
	}
	if pos.NetQuantity != 2 {
		t.Errorf("NetQuantity = %v, want 2", pos.NetQuantity)
	}
	if got := pos.State(); got != domain.StateLong {
		t.Errorf("State = %v, want %v", got, domain.StateLong)
	}
}

func TestTradovateTokenReuse(t *testing.T) {
	stub := &tradovateStub{positions: `[]`}
	tv := newTestTradovate(t, stub)

	for i := 0; i < 3; i++ {
		if _, err := tv.CurrentPosition(context.Background(), "ESU5"); err != nil {
			t.Fatalf("CurrentPosition #%d: %v", i+1, err)
		}
	}
	if stub.authCalls != 1 {
		t.Errorf("auth calls = %d, want 1 for a fresh token", stub.authCalls)
	}
}

func TestTradovateAuthCaptchaTerminal(t *testing.T) {
	stub := &tradovateStub{positions: `[]`, captcha: true}
	tv := newTestTradovate(t, stub)

	_, err := tv.CurrentPosition(context.Background(), "ESU5")
	if err == nil {
		t.Fatal("CurrentPosition succeeded despite captcha challenge")
	}
	if got := domain.KindOf(err); got != domain.KindAuthentication {
		t.Errorf("KindOf = %v, want %v", got, domain.KindAuthentication)
	}
	if !strings.Contains(err.Error(), "captcha") {
		t.Errorf("error = %q, want captcha mention", err)
	}
	if stub.authCalls != 1 {
		t.Errorf("auth calls = %d, want 1: captcha must not be retried", stub.authCalls)
	}
}

func TestTradovateLiquidateAll(t *testing.T) {
	stub := &tradovateStub{
		positions: `[
			{"id":1,"accountId":4242,"contractId":101,"netPos":2},
			{"id":2,"accountId":4242,"contractId":102,"netPos":-1}
		]`,
		contracts: `[{"id":101,"name":"ESU5"},{"id":102,"name":"NQU5"}]`,
	}
	tv := newTestTradovate(t, stub)

	out, err := tv.LiquidateAll(context.Background(), "ESU5")
	if err != nil {
		t.Fatalf("LiquidateAll: %v", err)
	}
	if out.Skipped {
		t.Error("LiquidateAll skipped with an open position")
	}
	if len(stub.liquidations) != 1 {
		t.Fatalf("liquidations = %d, want 1", len(stub.liquidations))
	}
	if got := stub.liquidations[0]["contractId"]; got != float64(101) {
		t.Errorf("liquidated contractId = %v, want 101", got)
	}
	if got := stub.liquidations[0]["admin"]; got != false {
		t.Errorf("admin = %v, want false", got)
	}
}

func TestTradovateLiquidateAllFlat(t *testing.T) {
	stub := &tradovateStub{positions: `[]`}
	tv := newTestTradovate(t, stub)

	out, err := tv.LiquidateAll(context.Background(), "ESU5")
	if err != nil {
		t.Fatalf("LiquidateAll: %v", err)
	}
	if !out.Skipped {
		t.Error("LiquidateAll on a flat contract not skipped")
	}
	if len(stub.liquidations) != 0 {
		t.Errorf("liquidations = %d, want 0", len(stub.liquidations))
	}
}

func TestTradovateCloseSide(t *testing.T) {
	stub := &tradovateStub{
		positions: `[{"id":1,"accountId":4242,"contractId":101,"netPos":2}]`,
		contracts: `[{"id":101,"name":"ESU5"}]`,
	}
	tv := newTestTradovate(t, stub)

	out, err := tv.Close(context.Background(), "ESU5", domain.DirectionShort)
	if err != nil {
		t.Fatalf("Close short side: %v", err)
	}
	if !out.Skipped {
		t.Error("closing the unheld short side not skipped")
	}

	out, err = tv.Close(context.Background(), "ESU5", domain.DirectionLong)
	if err != nil {
		t.Fatalf("Close long side: %v", err)
	}
	if out.Skipped {
		t.Error("closing the held long side skipped")
	}
	if len(stub.liquidations) != 1 {
		t.Errorf("liquidations = %d, want 1", len(stub.liquidations))
	}
}

func TestTradovateOpenPlacesOrder(t *testing.T) {
	stub := &tradovateStub{positions: `[]`}
	tv := newTestTradovate(t, stub)

	out, err := tv.Open(context.Background(), "ESU5", domain.DirectionLong)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if out.Skipped {
		t.Error("Open reported skipped, want executed")
	}
	if len(stub.orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(stub.orders))
	}
	order := stub.orders[0]
	if got := order["accountSpec"]; got != "trader" {
		t.Errorf("accountSpec = %v, want trader", got)
	}
	if got := order["accountId"]; got != float64(4242) {
		t.Errorf("accountId = %v, want 4242", got)
	}
	if got := order["action"]; got != "Buy" {
		t.Errorf("action = %v, want Buy", got)
	}
	if got := order["symbol"]; got != "ESU5" {
		t.Errorf("symbol = %v, want ESU5", got)
	}
	if got := order["orderQty"]; got != float64(1) {
		t.Errorf("orderQty = %v, want 1", got)
	}
	if got := order["orderType"]; got != "Market" {
		t.Errorf("orderType = %v, want Market", got)
	}
	if got := order["isAutomated"]; got != true {
		t.Errorf("isAutomated = %v, want true", got)
	}
}

func TestTradovateAccountCached(t *testing.T) {
	stub := &tradovateStub{positions: `[]`}
	tv := newTestTradovate(t, stub)

	for i := 0; i < 2; i++ {
		if _, err := tv.Open(context.Background(), "ESU5", domain.DirectionLong); err != nil {
			t.Fatalf("Open #%d: %v", i+1, err)
		}
	}
	if stub.accountCalls != 1 {
		t.Errorf("account list calls = %d, want 1 with a warm cache", stub.accountCalls)
	}
}

func TestTradovateOrderRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/accesstokenrequest":
			expires := time.Now().Add(80 * time.Minute).UTC().Format(time.RFC3339)
			io.WriteString(w, `{"accessToken":"tok-1","expirationTime":"`+expires+`"}`)
		case "/account/list":
			io.WriteString(w, `[{"id":4242,"name":"DEMO4242"}]`)
		case "/order/placeorder":
			io.WriteString(w, `{"failureReason":"UnknownReason","failureText":"Access is denied"}`)
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL)
		}
	}))
	t.Cleanup(server.Close)

	cfg := TradovateConfig{BaseURL: server.URL, Username: "trader", CID: "77"}
	tv := NewTradovate(cfg, newMemStore(), testLogger())

	_, err := tv.Open(context.Background(), "ESU5", domain.DirectionShort)
	if err == nil {
		t.Fatal("Open succeeded against a rejected order")
	}
	if !strings.Contains(err.Error(), "Access is denied") {
		t.Errorf("error = %q, want rejection text", err)
	}
}

func TestTradovateAccountStatus(t *testing.T) {
	stub := &tradovateStub{positions: `[]`}
	tv := newTestTradovate(t, stub)

	status, err := tv.AccountStatus(context.Background())
	if err != nil {
		t.Fatalf("AccountStatus: %v", err)
	}
	if got := status["totalCashValue"]; got != 52000.5 {
		t.Errorf("totalCashValue = %v, want 52000.5", got)
	}
	if got := status["account_name"]; got != "DEMO4242" {
		t.Errorf("account_name = %v, want DEMO4242", got)
	}
}
