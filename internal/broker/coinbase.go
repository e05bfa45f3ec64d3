package broker

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"tradewire/internal/domain"
)

// Compile-time interface check.
var _ Adapter = (*Coinbase)(nil)

// coinbaseMinSizes holds the venue's minimum market order size per base
// currency. Bases outside this map are rejected.
var coinbaseMinSizes = map[string]decimal.Decimal{
	"BTC": decimal.New(1, -6),
	"ETH": decimal.New(1, -3),
	"XRP": decimal.New(1, 0),
}

// Sizing factors: longs risk 2% of the quote balance, shorts sell the base
// balance less a 0.5% fee buffer.
var (
	riskFraction = decimal.New(2, -2)
	feeBuffer    = decimal.New(995, -3)
)

// Coinbase trades spot crypto through the Advanced Trade v3 REST API. The
// adapter runs with always-execute semantics. Spot accounts have no
// native position object, so the held side is derived from the most recent
// filled market order on the product.
type Coinbase struct {
	baseURL    string
	host       string
	keyName    string
	privateKey string
	client     *http.Client
	limiter    *rate.Limiter
	log        *slog.Logger
}

// NewCoinbase returns an adapter authenticated with a CDP API key: keyName
// is the key's resource name and privateKey its PEM-encoded EC key. log may
// be nil.
func NewCoinbase(baseURL, keyName, privateKey string, log *slog.Logger) *Coinbase {
	if log == nil {
		log = slog.Default()
	}
	trimmed := strings.TrimRight(baseURL, "/")
	host := trimmed
	if u, err := url.Parse(trimmed); err == nil && u.Host != "" {
		host = u.Host
	}
	return &Coinbase{
		baseURL:    trimmed,
		host:       host,
		keyName:    keyName,
		privateKey: privateKey,
		client:     newHTTPClient(),
		limiter:    newLimiter(),
		log:        log.With("component", "coinbase"),
	}
}

// Name returns "coinbase".
func (c *Coinbase) Name() string {
	return "coinbase"
}

// Semantics returns always-execute.
func (c *Coinbase) Semantics() Semantics {
	return SemanticsAlwaysExecute
}

// CloseStyle returns close-opposite-side.
func (c *Coinbase) CloseStyle() CloseStyle {
	return CloseOppositeSide
}

// --- Broker operations ---

// CurrentPosition derives the held side from the last filled market order
// on the product: a buy means long by its base size, a sell short. No prior
// orders means flat.
func (c *Coinbase) CurrentPosition(ctx context.Context, symbol string) (domain.Position, error) {
	product, _, _, err := splitProduct(symbol)
	if err != nil {
		return domain.Position{}, err
	}
	pos := domain.Position{Instrument: product}
	last, ok, err := c.lastMarketOrder(ctx, product)
	if err != nil {
		return domain.Position{}, err
	}
	if !ok {
		return pos, nil
	}
	size, err := decimal.NewFromString(last.baseSize())
	if err != nil {
		return domain.Position{}, domain.Errorf(domain.KindUnexpected, "coinbase: bad base size %q on order %s: %w", last.baseSize(), last.OrderID, err)
	}
	if last.Side == "BUY" {
		pos.NetQuantity = size.InexactFloat64()
	} else {
		pos.NetQuantity = size.Neg().InexactFloat64()
	}
	return pos, nil
}

// Close flattens the held side by placing the opposite market order for the
// last order's base size. No prior orders, or a held side that does not
// match, is a benign skip.
func (c *Coinbase) Close(ctx context.Context, symbol string, side domain.Direction) (domain.StepOutcome, error) {
	product, _, _, err := splitProduct(symbol)
	if err != nil {
		return domain.StepOutcome{}, err
	}
	last, ok, err := c.lastMarketOrder(ctx, product)
	if err != nil {
		return domain.StepOutcome{}, err
	}
	if !ok {
		return domain.StepOutcome{Skipped: true, Detail: "no prior market orders on " + product}, nil
	}
	held := domain.DirectionShort
	if last.Side == "BUY" {
		held = domain.DirectionLong
	}
	if held != side {
		return domain.StepOutcome{
			Skipped: true,
			Detail:  fmt.Sprintf("no %s position on %s to close", strings.ToLower(string(side)), product),
		}, nil
	}
	return c.closeOrder(ctx, product, held, last)
}

// LiquidateAll flattens whatever side the last market order left open.
func (c *Coinbase) LiquidateAll(ctx context.Context, symbol string) (domain.StepOutcome, error) {
	product, _, _, err := splitProduct(symbol)
	if err != nil {
		return domain.StepOutcome{}, err
	}
	last, ok, err := c.lastMarketOrder(ctx, product)
	if err != nil {
		return domain.StepOutcome{}, err
	}
	if !ok {
		return domain.StepOutcome{Skipped: true, Detail: "no prior market orders on " + product}, nil
	}
	held := domain.DirectionShort
	if last.Side == "BUY" {
		held = domain.DirectionLong
	}
	return c.closeOrder(ctx, product, held, last)
}

// Open sizes and places a market order in the signal direction. Longs risk
// 2% of the quote balance at the best ask; shorts sell the base balance
// less the fee buffer. A size below the venue minimum is a validation
// error, not a trade.
func (c *Coinbase) Open(ctx context.Context, symbol string, dir domain.Direction) (domain.StepOutcome, error) {
	product, base, quote, err := splitProduct(symbol)
	if err != nil {
		return domain.StepOutcome{}, err
	}
	size, err := c.orderSize(ctx, product, base, quote, dir)
	if err != nil {
		return domain.StepOutcome{}, err
	}
	side := "BUY"
	if dir == domain.DirectionShort {
		side = "SELL"
	}
	orderID, err := c.placeMarket(ctx, product, side, size.String())
	if err != nil {
		return domain.StepOutcome{}, err
	}
	c.log.Info("market order placed", "product", product, "side", side, "base_size", size.String(), "order_id", orderID)
	return domain.StepOutcome{Detail: fmt.Sprintf("market %s %s %s (order %s)", strings.ToLower(side), size, product, orderID)}, nil
}

// AccountStatus returns the primary account's balance snapshot.
func (c *Coinbase) AccountStatus(ctx context.Context) (map[string]any, error) {
	var resp coinbaseAccounts
	query := url.Values{"limit": {"1"}}
	if err := c.call(ctx, http.MethodGet, "/api/v3/brokerage/accounts", query, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Accounts) == 0 {
		return nil, domain.Errorf(domain.KindLookup, "coinbase: no accounts on file")
	}
	acct := resp.Accounts[0]
	return map[string]any{
		"uuid":              acct.UUID,
		"name":              acct.Name,
		"currency":          acct.Currency,
		"available_balance": acct.AvailableBalance.Value,
		"balance_currency":  acct.AvailableBalance.Currency,
	}, nil
}

// --- Sizing ---

// orderSize computes the base-currency size for a market order in the
// given direction, enforcing the venue minimum.
func (c *Coinbase) orderSize(ctx context.Context, product, base, quote string, dir domain.Direction) (decimal.Decimal, error) {
	min, ok := coinbaseMinSizes[base]
	if !ok {
		return decimal.Zero, domain.Errorf(domain.KindValidation, "coinbase: no minimum order size defined for %s", base)
	}
	_, ask, err := c.bestBidAsk(ctx, product)
	if err != nil {
		return decimal.Zero, err
	}

	var size decimal.Decimal
	switch dir {
	case domain.DirectionLong:
		avail, err := c.availableBalance(ctx, quote)
		if err != nil {
			return decimal.Zero, err
		}
		size = avail.Mul(riskFraction).Div(ask).Round(8)
	case domain.DirectionShort:
		avail, err := c.availableBalance(ctx, base)
		if err != nil {
			return decimal.Zero, err
		}
		size = avail.Mul(feeBuffer).Round(8)
		if size.GreaterThan(avail) {
			return decimal.Zero, domain.Errorf(domain.KindValidation, "coinbase: computed size %s exceeds available %s %s", size, avail, base)
		}
	}
	if size.LessThan(min) {
		return decimal.Zero, domain.Errorf(domain.KindValidation, "coinbase: order size %s %s below minimum %s", size, base, min)
	}
	return size, nil
}

// bestBidAsk returns the top of book for the product. Either side missing
// means the venue cannot price the order right now.
func (c *Coinbase) bestBidAsk(ctx context.Context, product string) (bid, ask decimal.Decimal, err error) {
	var resp coinbasePricebooks
	query := url.Values{"product_ids": {product}}
	if err := c.call(ctx, http.MethodGet, "/api/v3/brokerage/best_bid_ask", query, nil, &resp); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if len(resp.Pricebooks) == 0 || len(resp.Pricebooks[0].Bids) == 0 || len(resp.Pricebooks[0].Asks) == 0 {
		return decimal.Zero, decimal.Zero, domain.Errorf(domain.KindDependency, "coinbase: no bid/ask available for %s", product)
	}
	book := resp.Pricebooks[0]
	bid, err = decimal.NewFromString(book.Bids[0].Price)
	if err != nil {
		return decimal.Zero, decimal.Zero, domain.Errorf(domain.KindUnexpected, "coinbase: bad bid price %q: %w", book.Bids[0].Price, err)
	}
	ask, err = decimal.NewFromString(book.Asks[0].Price)
	if err != nil {
		return decimal.Zero, decimal.Zero, domain.Errorf(domain.KindUnexpected, "coinbase: bad ask price %q: %w", book.Asks[0].Price, err)
	}
	return bid, ask, nil
}

// availableBalance returns the available balance for one currency.
func (c *Coinbase) availableBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	var resp coinbaseAccounts
	query := url.Values{"limit": {"250"}}
	if err := c.call(ctx, http.MethodGet, "/api/v3/brokerage/accounts", query, nil, &resp); err != nil {
		return decimal.Zero, err
	}
	for _, acct := range resp.Accounts {
		if acct.Currency != currency {
			continue
		}
		if acct.AvailableBalance.Currency != currency {
			return decimal.Zero, domain.Errorf(domain.KindUnexpected, "coinbase: balance currency mismatch: account %s reports %s", currency, acct.AvailableBalance.Currency)
		}
		avail, err := decimal.NewFromString(acct.AvailableBalance.Value)
		if err != nil {
			return decimal.Zero, domain.Errorf(domain.KindUnexpected, "coinbase: bad balance %q for %s: %w", acct.AvailableBalance.Value, currency, err)
		}
		return avail, nil
	}
	return decimal.Zero, domain.Errorf(domain.KindValidation, "coinbase: no account holds %s", currency)
}

// --- Order plumbing ---

// lastMarketOrder returns the most recently filled market order on the
// product, if any.
func (c *Coinbase) lastMarketOrder(ctx context.Context, product string) (coinbaseOrder, bool, error) {
	var resp coinbaseOrders
	query := url.Values{
		"product_ids":  {product},
		"product_type": {"SPOT"},
		"order_types":  {"MARKET"},
		"limit":        {"1"},
		"sort_by":      {"LAST_FILL_TIME"},
	}
	if err := c.call(ctx, http.MethodGet, "/api/v3/brokerage/orders/historical/batch", query, nil, &resp); err != nil {
		return coinbaseOrder{}, false, err
	}
	if len(resp.Orders) == 0 {
		return coinbaseOrder{}, false, nil
	}
	return resp.Orders[0], true, nil
}

// closeOrder places the market order that flattens the held side.
func (c *Coinbase) closeOrder(ctx context.Context, product string, held domain.Direction, last coinbaseOrder) (domain.StepOutcome, error) {
	size := last.baseSize()
	if size == "" {
		return domain.StepOutcome{}, domain.Errorf(domain.KindUnexpected, "coinbase: order %s has no base size to close against", last.OrderID)
	}
	side := "SELL"
	if held == domain.DirectionShort {
		side = "BUY"
	}
	orderID, err := c.placeMarket(ctx, product, side, size)
	if err != nil {
		return domain.StepOutcome{}, err
	}
	c.log.Info("position closed", "product", product, "held", held, "base_size", size, "order_id", orderID)
	return domain.StepOutcome{Detail: fmt.Sprintf("closed %s %s with market %s (order %s)", strings.ToLower(string(held)), product, strings.ToLower(side), orderID)}, nil
}

// placeMarket submits an immediate-or-cancel market order and returns the
// venue order ID.
func (c *Coinbase) placeMarket(ctx context.Context, product, side, baseSize string) (string, error) {
	req := coinbaseOrderRequest{
		ClientOrderID: uuid.NewString(),
		ProductID:     product,
		Side:          side,
	}
	req.OrderConfiguration.MarketIOC.BaseSize = baseSize

	var resp coinbaseOrderResponse
	if err := c.call(ctx, http.MethodPost, "/api/v3/brokerage/orders", nil, req, &resp); err != nil {
		return "", err
	}
	if !resp.Success {
		return "", domain.Errorf(domain.KindUnexpected, "coinbase: order rejected: %s", resp.failure())
	}
	return resp.SuccessResponse.OrderID, nil
}

// call signs and performs one Advanced Trade request. The token binds to
// the method and path, so every request gets a fresh one.
func (c *Coinbase) call(ctx context.Context, method, path string, query url.Values, in, out any) error {
	jwt, err := signJWT(c.keyName, c.privateKey, method, c.host, path, time.Now())
	if err != nil {
		return err
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	headers := map[string]string{"Authorization": "Bearer " + jwt}
	_, err = doJSON(ctx, c.client, c.limiter, c.Name(), method, u, headers, in, out)
	return err
}

// splitProduct converts a chart symbol like BTCUSD into the product ID
// BTC-USD plus its base and quote currencies. The base is always the first
// three characters.
func splitProduct(symbol string) (product, base, quote string, err error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if len(s) < 4 {
		return "", "", "", domain.Errorf(domain.KindValidation, "coinbase: malformed symbol %q", symbol)
	}
	base, quote = s[:3], s[3:]
	return base + "-" + quote, base, quote, nil
}

// --- Request signing ---

// signJWT builds the ES256 bearer token for one request. The key pair is a
// CDP API key export: keyName goes in both kid and sub, and the uri claim
// pins the token to a single method, host, and path for two minutes.
func signJWT(keyName, privateKey, method, host, path string, now time.Time) (string, error) {
	block, _ := pem.Decode([]byte(privateKey))
	if block == nil {
		return "", domain.Errorf(domain.KindAuthentication, "coinbase: private key is not PEM encoded")
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return "", domain.Errorf(domain.KindAuthentication, "coinbase: parsing private key: %w", err)
	}

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", domain.Errorf(domain.KindUnexpected, "coinbase: generating nonce: %w", err)
	}
	header, err := json.Marshal(map[string]any{
		"alg":   "ES256",
		"kid":   keyName,
		"typ":   "JWT",
		"nonce": hex.EncodeToString(nonce),
	})
	if err != nil {
		return "", domain.Errorf(domain.KindUnexpected, "coinbase: encoding token header: %w", err)
	}
	claims, err := json.Marshal(map[string]any{
		"sub": keyName,
		"iss": "cdp",
		"nbf": now.Unix(),
		"exp": now.Add(2 * time.Minute).Unix(),
		"uri": fmt.Sprintf("%s %s%s", method, host, path),
	})
	if err != nil {
		return "", domain.Errorf(domain.KindUnexpected, "coinbase: encoding token claims: %w", err)
	}

	signing := base64.RawURLEncoding.EncodeToString(header) + "." + base64.RawURLEncoding.EncodeToString(claims)
	digest := sha256.Sum256([]byte(signing))
	r, s, err := ecdsa.Sign(rand.Reader, key, digest[:])
	if err != nil {
		return "", domain.Errorf(domain.KindAuthentication, "coinbase: signing token: %w", err)
	}
	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])
	return signing + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// --- API request and response types ---

type coinbaseOrderRequest struct {
	ClientOrderID      string `json:"client_order_id"`
	ProductID          string `json:"product_id"`
	Side               string `json:"side"`
	OrderConfiguration struct {
		MarketIOC struct {
			BaseSize string `json:"base_size"`
		} `json:"market_market_ioc"`
	} `json:"order_configuration"`
}

type coinbaseOrderResponse struct {
	Success         bool `json:"success"`
	SuccessResponse struct {
		OrderID string `json:"order_id"`
	} `json:"success_response"`
	ErrorResponse struct {
		Error                string `json:"error"`
		Message              string `json:"message"`
		PreviewFailureReason string `json:"preview_failure_reason"`
	} `json:"error_response"`
}

// failure returns the most specific rejection text the venue sent.
func (r coinbaseOrderResponse) failure() string {
	for _, s := range []string{r.ErrorResponse.Message, r.ErrorResponse.PreviewFailureReason, r.ErrorResponse.Error} {
		if s != "" {
			return s
		}
	}
	return "no reason given"
}

type coinbaseAccounts struct {
	Accounts []struct {
		UUID             string `json:"uuid"`
		Name             string `json:"name"`
		Currency         string `json:"currency"`
		AvailableBalance struct {
			Value    string `json:"value"`
			Currency string `json:"currency"`
		} `json:"available_balance"`
	} `json:"accounts"`
}

type coinbasePricebooks struct {
	Pricebooks []struct {
		ProductID string          `json:"product_id"`
		Bids      []coinbaseQuote `json:"bids"`
		Asks      []coinbaseQuote `json:"asks"`
	} `json:"pricebooks"`
}

type coinbaseQuote struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type coinbaseOrders struct {
	Orders []coinbaseOrder `json:"orders"`
}

type coinbaseOrder struct {
	OrderID            string `json:"order_id"`
	Side               string `json:"side"`
	Status             string `json:"status"`
	FilledSize         string `json:"filled_size"`
	OrderConfiguration struct {
		MarketIOC struct {
			BaseSize string `json:"base_size"`
		} `json:"market_market_ioc"`
	} `json:"order_configuration"`
}

// baseSize returns the order's base size, preferring the configured size
// and falling back to the filled size.
func (o coinbaseOrder) baseSize() string {
	if s := o.OrderConfiguration.MarketIOC.BaseSize; s != "" {
		return s
	}
	return o.FilledSize
}
