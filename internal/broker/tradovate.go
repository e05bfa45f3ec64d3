package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"tradewire/internal/cache"
	"tradewire/internal/domain"
	"tradewire/internal/token"
	"tradewire/internal/util"
)

// Compile-time interface check.
var _ Adapter = (*Tradovate)(nil)

// TradovateConfig carries the credentials and order sizing for the futures
// adapter. BaseURL selects the demo or live environment.
type TradovateConfig struct {
	BaseURL  string
	Username string
	Password string
	DeviceID string
	CID      string
	Secret   string
	Quantity int
}

// Tradovate trades CME-family futures through the Tradovate REST API. The
// adapter runs with net-position semantics: a repeat signal in the held
// direction is a skip, and a flip liquidates every open position on the
// contract before the new order. Access tokens are cached through the token
// manager; the default account is cached for twelve hours.
type Tradovate struct {
	baseURL  string
	username string
	password string
	deviceID string
	cid      string
	secret   string
	quantity int
	client   *http.Client
	limiter  *rate.Limiter
	tokens   *token.Manager
	store    cache.Store
	log      *slog.Logger
}

// NewTradovate returns an adapter backed by the given cache store. The
// store holds both the access token record and the account snapshot. log
// may be nil.
func NewTradovate(cfg TradovateConfig, store cache.Store, log *slog.Logger) *Tradovate {
	if log == nil {
		log = slog.Default()
	}
	quantity := cfg.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	return &Tradovate{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		deviceID: cfg.DeviceID,
		cid:      cfg.CID,
		secret:   cfg.Secret,
		quantity: quantity,
		client:   newHTTPClient(),
		limiter:  newLimiter(),
		tokens:   token.NewManager(store, "tradovate", log),
		store:    store,
		log:      log.With("component", "tradovate"),
	}
}

// Name returns "tradovate".
func (t *Tradovate) Name() string {
	return "tradovate"
}

// Semantics returns net-position: the held direction decides whether a
// signal trades at all.
func (t *Tradovate) Semantics() Semantics {
	return SemanticsNetPosition
}

// CloseStyle returns liquidate-all.
func (t *Tradovate) CloseStyle() CloseStyle {
	return CloseLiquidateAll
}

// --- Broker operations ---

// CurrentPosition sums the net position across every open position whose
// contract name matches the target contract.
func (t *Tradovate) CurrentPosition(ctx context.Context, contract string) (domain.Position, error) {
	open, err := t.openPositions(ctx, contract)
	if err != nil {
		return domain.Position{}, err
	}
	pos := domain.Position{Instrument: contract}
	for _, p := range open {
		pos.NetQuantity += p.NetPos
	}
	return pos, nil
}

// Close liquidates the open positions on the contract held on the given
// side. Holding nothing on that side is a benign skip.
func (t *Tradovate) Close(ctx context.Context, contract string, side domain.Direction) (domain.StepOutcome, error) {
	open, err := t.openPositions(ctx, contract)
	if err != nil {
		return domain.StepOutcome{}, err
	}
	var matched []tradovatePosition
	for _, p := range open {
		if (side == domain.DirectionLong) == (p.NetPos > 0) {
			matched = append(matched, p)
		}
	}
	if len(matched) == 0 {
		return domain.StepOutcome{
			Skipped: true,
			Detail:  fmt.Sprintf("no %s position on %s to close", strings.ToLower(string(side)), contract),
		}, nil
	}
	if err := t.liquidate(ctx, matched); err != nil {
		return domain.StepOutcome{}, err
	}
	return domain.StepOutcome{Detail: fmt.Sprintf("closed %s side of %s", strings.ToLower(string(side)), contract)}, nil
}

// LiquidateAll liquidates every open position on the contract, long or
// short. A flat contract is a benign skip.
func (t *Tradovate) LiquidateAll(ctx context.Context, contract string) (domain.StepOutcome, error) {
	open, err := t.openPositions(ctx, contract)
	if err != nil {
		return domain.StepOutcome{}, err
	}
	if len(open) == 0 {
		return domain.StepOutcome{Skipped: true, Detail: fmt.Sprintf("no open positions on %s", contract)}, nil
	}
	if err := t.liquidate(ctx, open); err != nil {
		return domain.StepOutcome{}, err
	}
	return domain.StepOutcome{Detail: fmt.Sprintf("liquidated %d position(s) on %s", len(open), contract)}, nil
}

// Open places a market order for the configured quantity in the signal
// direction.
func (t *Tradovate) Open(ctx context.Context, contract string, dir domain.Direction) (domain.StepOutcome, error) {
	headers, err := t.bearer(ctx)
	if err != nil {
		return domain.StepOutcome{}, err
	}
	acct, err := t.account(ctx, headers)
	if err != nil {
		return domain.StepOutcome{}, err
	}

	action := "Buy"
	if dir == domain.DirectionShort {
		action = "Sell"
	}
	body := map[string]any{
		"accountSpec": t.username,
		"accountId":   acct.ID,
		"action":      action,
		"symbol":      contract,
		"orderQty":    t.quantity,
		"orderType":   "Market",
		"isAutomated": true,
	}
	var resp tradovateOrderResponse
	if _, err := doJSON(ctx, t.client, t.limiter, t.Name(), http.MethodPost, t.baseURL+"/order/placeorder", headers, body, &resp); err != nil {
		return domain.StepOutcome{}, err
	}
	if resp.OrderID == 0 {
		return domain.StepOutcome{}, domain.Errorf(domain.KindUnexpected, "tradovate: order rejected: %s", resp.failure())
	}
	t.log.Info("market order placed", "contract", contract, "action", action, "quantity", t.quantity, "order_id", resp.OrderID)
	return domain.StepOutcome{Detail: fmt.Sprintf("order %d: %s %d %s", resp.OrderID, action, t.quantity, contract)}, nil
}

// AccountStatus returns the cash balance snapshot for the default account.
func (t *Tradovate) AccountStatus(ctx context.Context) (map[string]any, error) {
	headers, err := t.bearer(ctx)
	if err != nil {
		return nil, err
	}
	acct, err := t.account(ctx, headers)
	if err != nil {
		return nil, err
	}

	var snapshot map[string]any
	body := map[string]any{"accountId": acct.ID}
	if _, err := doJSON(ctx, t.client, t.limiter, t.Name(), http.MethodPost, t.baseURL+"/cashBalance/getcashbalancesnapshot", headers, body, &snapshot); err != nil {
		return nil, err
	}
	if snapshot == nil {
		snapshot = map[string]any{}
	}
	snapshot["account_id"] = acct.ID
	snapshot["account_name"] = acct.Name
	return snapshot, nil
}

// --- Authentication ---

// issueToken authenticates against Tradovate, honoring the server's
// directed backoff: a p-ticket response asks for a wait of p-time seconds
// before retrying with the ticket attached, and p-captcha means a human has
// to log in through the UI first, which is terminal.
func (t *Tradovate) issueToken(ctx context.Context) (token.Token, error) {
	var tok token.Token
	ticket := ""
	err := util.RetryDirected(ctx, 3, time.Second, func() (time.Duration, bool, error) {
		body := map[string]any{
			"name":       t.username,
			"password":   t.password,
			"appId":      "Automation",
			"appVersion": "0.0.1",
			"deviceId":   t.deviceID,
			"cid":        t.cid,
			"sec":        t.secret,
		}
		if n, err := strconv.Atoi(t.cid); err == nil {
			body["cid"] = n
		}
		if ticket != "" {
			body["p-ticket"] = ticket
		}

		var resp tradovateAuthResponse
		if _, err := doJSON(ctx, t.client, t.limiter, t.Name(), http.MethodPost, t.baseURL+"/auth/accesstokenrequest", nil, body, &resp); err != nil {
			return 0, false, err
		}
		if resp.PCaptcha {
			return 0, true, domain.Errorf(domain.KindAuthentication, "tradovate: captcha challenge outstanding, manual login required")
		}
		if resp.PTicket != "" {
			ticket = resp.PTicket
			t.log.Warn("authentication penalty, server directed wait", "wait_seconds", resp.PTime)
			return time.Duration(resp.PTime) * time.Second, false, errors.New("tradovate: penalty ticket issued")
		}
		if resp.AccessToken == "" {
			return 0, true, domain.Errorf(domain.KindAuthentication, "tradovate: authentication failed: %s", resp.ErrorText)
		}
		expires, err := time.Parse(time.RFC3339, resp.ExpirationTime)
		if err != nil {
			return 0, true, domain.Errorf(domain.KindUnexpected, "tradovate: bad token expiration %q: %w", resp.ExpirationTime, err)
		}
		tok = token.Token{Value: resp.AccessToken, ExpiresAt: expires}
		return 0, false, nil
	})
	if err != nil {
		return token.Token{}, err
	}
	return tok, nil
}

// bearer returns the auth header map, refreshing the token when needed.
func (t *Tradovate) bearer(ctx context.Context) (map[string]string, error) {
	tok, err := t.tokens.Valid(ctx, t.issueToken)
	if err != nil {
		return nil, err
	}
	return map[string]string{"Authorization": "Bearer " + tok.Value}, nil
}

// --- Account and position plumbing ---

// account returns the default trading account, reading through the cache.
// A cache outage falls through to the API; a cache write failure is logged
// and swallowed.
func (t *Tradovate) account(ctx context.Context, headers map[string]string) (tradovateAccount, error) {
	key := cache.AccountKey(t.username)
	if raw, ok, err := t.store.Get(ctx, key); err == nil && ok {
		var acct tradovateAccount
		if json.Unmarshal([]byte(raw), &acct) == nil && acct.ID != 0 {
			return acct, nil
		}
	}

	var accounts []tradovateAccount
	if _, err := doJSON(ctx, t.client, t.limiter, t.Name(), http.MethodGet, t.baseURL+"/account/list", headers, nil, &accounts); err != nil {
		return tradovateAccount{}, err
	}
	if len(accounts) == 0 {
		return tradovateAccount{}, domain.Errorf(domain.KindLookup, "tradovate: no accounts on file for %s", t.username)
	}
	acct := accounts[0]
	if data, err := json.Marshal(acct); err == nil {
		if err := t.store.Put(ctx, key, string(data), cache.AccountTTL); err != nil {
			t.log.Warn("account cache write failed", "error", err)
		}
	}
	return acct, nil
}

// openPositions returns the non-flat positions whose contract name matches
// the target contract. Contract names come from a second lookup because the
// position list only carries contract IDs.
func (t *Tradovate) openPositions(ctx context.Context, contract string) ([]tradovatePosition, error) {
	headers, err := t.bearer(ctx)
	if err != nil {
		return nil, err
	}

	var all []tradovatePosition
	if _, err := doJSON(ctx, t.client, t.limiter, t.Name(), http.MethodGet, t.baseURL+"/position/list", headers, nil, &all); err != nil {
		return nil, err
	}
	var open []tradovatePosition
	ids := make([]string, 0, len(all))
	for _, p := range all {
		if p.NetPos == 0 {
			continue
		}
		open = append(open, p)
		ids = append(ids, strconv.Itoa(p.ContractID))
	}
	if len(open) == 0 {
		return nil, nil
	}

	var contracts []tradovateContract
	url := t.baseURL + "/contract/items?ids=" + strings.Join(ids, ",")
	if _, err := doJSON(ctx, t.client, t.limiter, t.Name(), http.MethodGet, url, headers, nil, &contracts); err != nil {
		return nil, err
	}
	names := make(map[int]string, len(contracts))
	for _, c := range contracts {
		names[c.ID] = c.Name
	}

	var matched []tradovatePosition
	for _, p := range open {
		if strings.Contains(names[p.ContractID], contract) {
			matched = append(matched, p)
		}
	}
	return matched, nil
}

// liquidate sends one liquidation order per position.
func (t *Tradovate) liquidate(ctx context.Context, positions []tradovatePosition) error {
	headers, err := t.bearer(ctx)
	if err != nil {
		return err
	}
	for _, p := range positions {
		body := map[string]any{"accountId": p.AccountID, "contractId": p.ContractID, "admin": false}
		var resp tradovateOrderResponse
		if _, err := doJSON(ctx, t.client, t.limiter, t.Name(), http.MethodPost, t.baseURL+"/order/liquidateposition", headers, body, &resp); err != nil {
			return err
		}
		if resp.OrderID == 0 {
			return domain.Errorf(domain.KindUnexpected, "tradovate: liquidation rejected for contract %d: %s", p.ContractID, resp.failure())
		}
		t.log.Info("position liquidated", "contract_id", p.ContractID, "order_id", resp.OrderID)
	}
	return nil
}

// --- API response types ---

type tradovateAuthResponse struct {
	AccessToken    string `json:"accessToken"`
	ExpirationTime string `json:"expirationTime"`
	ErrorText      string `json:"errorText"`
	PTicket        string `json:"p-ticket"`
	PTime          int    `json:"p-time"`
	PCaptcha       bool   `json:"p-captcha"`
}

type tradovateAccount struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type tradovatePosition struct {
	ID         int     `json:"id"`
	AccountID  int     `json:"accountId"`
	ContractID int     `json:"contractId"`
	NetPos     float64 `json:"netPos"`
}

type tradovateContract struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type tradovateOrderResponse struct {
	OrderID       int    `json:"orderId"`
	ErrorText     string `json:"errorText"`
	FailureReason string `json:"failureReason"`
	FailureText   string `json:"failureText"`
}

// failure returns the most specific rejection text the venue sent.
func (r tradovateOrderResponse) failure() string {
	for _, s := range []string{r.FailureText, r.FailureReason, r.ErrorText} {
		if s != "" {
			return s
		}
	}
	return "no reason given"
}
