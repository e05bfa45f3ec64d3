package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"tradewire/internal/domain"
)

// Compile-time interface check.
var _ Adapter = (*OANDA)(nil)

// StandardLot is the fixed order size, in currency units, for every forex
// market order.
const StandardLot = 100000

// oandaInstruments maps chart symbols to OANDA instrument names. Symbols
// outside this map are rejected before any API call.
var oandaInstruments = map[string]string{
	"EURUSD": "EUR_USD",
	"USDJPY": "USD_JPY",
	"GBPUSD": "GBP_USD",
	"USDCHF": "USD_CHF",
	"USDCAD": "USD_CAD",
	"AUDUSD": "AUD_USD",
	"NZDUSD": "NZD_USD",
	"EURJPY": "EUR_JPY",
	"GBPJPY": "GBP_JPY",
	"EURGBP": "EUR_GBP",
	"AUDJPY": "AUD_JPY",
	"EURAUD": "EUR_AUD",
}

// OANDA trades forex through the OANDA v3 REST API. The adapter runs with
// always-execute semantics: every signal places a fresh market order after
// closing the opposite side, and closing a side that holds nothing is a
// benign skip.
type OANDA struct {
	baseURL   string
	accountID string
	apiToken  string
	client    *http.Client
	limiter   *rate.Limiter
	log       *slog.Logger
}

// NewOANDA returns an adapter for the given account. baseURL selects the
// practice or live environment. log may be nil.
func NewOANDA(baseURL, accountID, apiToken string, log *slog.Logger) *OANDA {
	if log == nil {
		log = slog.Default()
	}
	return &OANDA{
		baseURL:   strings.TrimRight(baseURL, "/"),
		accountID: accountID,
		apiToken:  apiToken,
		client:    newHTTPClient(),
		limiter:   newLimiter(),
		log:       log.With("component", "oanda"),
	}
}

// Name returns "oanda".
func (o *OANDA) Name() string {
	return "oanda"
}

// Semantics returns always-execute: repeat signals in the held direction
// still place a fresh order.
func (o *OANDA) Semantics() Semantics {
	return SemanticsAlwaysExecute
}

// CloseStyle returns close-opposite-side.
func (o *OANDA) CloseStyle() CloseStyle {
	return CloseOppositeSide
}

// --- Broker operations ---

// CurrentPosition reports the net position for one symbol. OANDA keeps the
// long and short sides of a hedged position separate; the net is their sum.
func (o *OANDA) CurrentPosition(ctx context.Context, symbol string) (domain.Position, error) {
	inst, err := o.instrument(symbol)
	if err != nil {
		return domain.Position{}, err
	}
	var resp oandaOpenPositions
	url := fmt.Sprintf("%s/v3/accounts/%s/openPositions", o.baseURL, o.accountID)
	if _, err := doJSON(ctx, o.client, o.limiter, o.Name(), http.MethodGet, url, o.headers(), nil, &resp); err != nil {
		return domain.Position{}, err
	}
	pos := domain.Position{Instrument: inst}
	for _, p := range resp.Positions {
		if p.Instrument != inst {
			continue
		}
		long, err := strconv.ParseFloat(p.Long.Units, 64)
		if err != nil {
			return domain.Position{}, domain.Errorf(domain.KindUnexpected, "oanda: bad long units %q for %s: %w", p.Long.Units, inst, err)
		}
		short, err := strconv.ParseFloat(p.Short.Units, 64)
		if err != nil {
			return domain.Position{}, domain.Errorf(domain.KindUnexpected, "oanda: bad short units %q for %s: %w", p.Short.Units, inst, err)
		}
		pos.NetQuantity = long + short
		break
	}
	return pos, nil
}

// Close closes out one side of a position with a full closeout request.
// OANDA answers 404 when the side holds nothing; that is reported as a
// skipped outcome, not an error.
func (o *OANDA) Close(ctx context.Context, symbol string, side domain.Direction) (domain.StepOutcome, error) {
	inst, err := o.instrument(symbol)
	if err != nil {
		return domain.StepOutcome{}, err
	}
	body := map[string]string{"longUnits": "ALL"}
	if side == domain.DirectionShort {
		body = map[string]string{"shortUnits": "ALL"}
	}
	url := fmt.Sprintf("%s/v3/accounts/%s/positions/%s/close", o.baseURL, o.accountID, inst)
	if _, err := doJSON(ctx, o.client, o.limiter, o.Name(), http.MethodPut, url, o.headers(), body, nil); err != nil {
		switch domain.KindOf(err) {
		case domain.KindLookup, domain.KindValidation:
			o.log.Info("no position to close", "instrument", inst, "side", side)
			return domain.StepOutcome{
				Skipped: true,
				Detail:  fmt.Sprintf("no %s position on %s to close", strings.ToLower(string(side)), inst),
			}, nil
		}
		return domain.StepOutcome{}, err
	}
	o.log.Info("position side closed", "instrument", inst, "side", side)
	return domain.StepOutcome{Detail: fmt.Sprintf("closed %s side of %s", strings.ToLower(string(side)), inst)}, nil
}

// LiquidateAll closes both sides of the instrument. The reconciler never
// plans this for a close-opposite adapter, but operators can reach it
// through the simulator and tests, so it behaves sensibly anyway.
func (o *OANDA) LiquidateAll(ctx context.Context, symbol string) (domain.StepOutcome, error) {
	var details []string
	for _, side := range []domain.Direction{domain.DirectionLong, domain.DirectionShort} {
		out, err := o.Close(ctx, symbol, side)
		if err != nil {
			return domain.StepOutcome{}, err
		}
		if !out.Skipped {
			details = append(details, out.Detail)
		}
	}
	if len(details) == 0 {
		return domain.StepOutcome{Skipped: true, Detail: "no position to liquidate"}, nil
	}
	return domain.StepOutcome{Detail: strings.Join(details, "; ")}, nil
}

// Open places a fill-or-kill market order for one standard lot in the
// signal direction.
func (o *OANDA) Open(ctx context.Context, symbol string, dir domain.Direction) (domain.StepOutcome, error) {
	inst, err := o.instrument(symbol)
	if err != nil {
		return domain.StepOutcome{}, err
	}
	units := StandardLot
	if dir == domain.DirectionShort {
		units = -StandardLot
	}
	body := oandaOrderRequest{}
	body.Order.Units = strconv.Itoa(units)
	body.Order.Instrument = inst
	body.Order.TimeInForce = "FOK"
	body.Order.Type = "MARKET"
	body.Order.PositionFill = "DEFAULT"

	var resp oandaOrderResponse
	url := fmt.Sprintf("%s/v3/accounts/%s/orders", o.baseURL, o.accountID)
	if _, err := doJSON(ctx, o.client, o.limiter, o.Name(), http.MethodPost, url, o.headers(), body, &resp); err != nil {
		return domain.StepOutcome{}, err
	}
	o.log.Info("market order placed", "instrument", inst, "units", units, "order_id", resp.OrderCreateTransaction.ID)
	return domain.StepOutcome{Detail: fmt.Sprintf("market order %s units %d", inst, units)}, nil
}

// AccountStatus returns the account summary fields surfaced on the status
// endpoint.
func (o *OANDA) AccountStatus(ctx context.Context) (map[string]any, error) {
	var resp oandaAccountSummary
	url := fmt.Sprintf("%s/v3/accounts/%s/summary", o.baseURL, o.accountID)
	if _, err := doJSON(ctx, o.client, o.limiter, o.Name(), http.MethodGet, url, o.headers(), nil, &resp); err != nil {
		return nil, err
	}
	return map[string]any{
		"account_id":       resp.Account.ID,
		"balance":          resp.Account.Balance,
		"currency":         resp.Account.Currency,
		"unrealized_pl":    resp.Account.UnrealizedPL,
		"margin_used":      resp.Account.MarginUsed,
		"margin_available": resp.Account.MarginAvailable,
		"position_value":   resp.Account.PositionValue,
		"open_positions":   resp.Account.OpenPositionCount,
	}, nil
}

// --- Helpers ---

func (o *OANDA) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + o.apiToken}
}

func (o *OANDA) instrument(symbol string) (string, error) {
	inst, ok := oandaInstruments[strings.ToUpper(symbol)]
	if !ok {
		return "", domain.Errorf(domain.KindValidation, "oanda: unsupported symbol %q", symbol)
	}
	return inst, nil
}

// --- API response types ---

type oandaOpenPositions struct {
	Positions []struct {
		Instrument string `json:"instrument"`
		Long       struct {
			Units string `json:"units"`
		} `json:"long"`
		Short struct {
			Units string `json:"units"`
		} `json:"short"`
	} `json:"positions"`
}

type oandaOrderRequest struct {
	Order struct {
		Units        string `json:"units"`
		Instrument   string `json:"instrument"`
		TimeInForce  string `json:"timeInForce"`
		Type         string `json:"type"`
		PositionFill string `json:"positionFill"`
	} `json:"order"`
}

type oandaOrderResponse struct {
	OrderCreateTransaction struct {
		ID string `json:"id"`
	} `json:"orderCreateTransaction"`
}

type oandaAccountSummary struct {
	Account struct {
		ID                string `json:"id"`
		Balance           string `json:"balance"`
		Currency          string `json:"currency"`
		UnrealizedPL      string `json:"unrealizedPL"`
		MarginUsed        string `json:"marginUsed"`
		MarginAvailable   string `json:"marginAvailable"`
		PositionValue     string `json:"positionValue"`
		OpenPositionCount int    `json:"openPositionCount"`
	} `json:"account"`
}
