package broker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"tradewire/internal/domain"
)

const testAccount = "101-001-1234567-001"

func newTestOANDA(t *testing.T, handler http.HandlerFunc) *OANDA {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewOANDA(server.URL, testAccount, "test-token", testLogger())
}

func TestOANDACurrentPosition(t *testing.T) {
	o := newTestOANDA(t, func(w http.ResponseWriter, r *http.Request) {
		if got, want := r.Header.Get("Authorization"), "Bearer test-token"; got != want {
			t.Errorf("Authorization = %q, want %q", got, want)
		}
		if got, want := r.URL.Path, "/v3/accounts/"+testAccount+"/openPositions"; got != want {
			t.Errorf("path = %q, want %q", got, want)
		}
		io.WriteString(w, `{"positions":[
			{"instrument":"GBP_USD","long":{"units":"0"},"short":{"units":"-50000"}},
			{"instrument":"EUR_USD","long":{"units":"100000"},"short":{"units":"0"}}
		]}`)
	})

	pos, err := o.CurrentPosition(context.Background(), "EURUSD")
	if err != nil {
		t.Fatalf("CurrentPosition: %v", err)
	}
	if pos.NetQuantity != 100000 {
		t.Errorf("NetQuantity = %v, want 100000", pos.NetQuantity)
	}
	if got := pos.State(); got != domain.StateLong {
		t.Errorf("State = %v, want %v", got, domain.StateLong)
	}
}

func TestOANDACurrentPositionFlat(t *testing.T) {
	o := newTestOANDA(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"positions":[]}`)
	})

	pos, err := o.CurrentPosition(context.Background(), "USDJPY")
	if err != nil {
		t.Fatalf("CurrentPosition: %v", err)
	}
	if got := pos.State(); got != domain.StateFlat {
		t.Errorf("State = %v, want %v", got, domain.StateFlat)
	}
	if pos.Instrument != "USD_JPY" {
		t.Errorf("Instrument = %q, want USD_JPY", pos.Instrument)
	}
}

func TestOANDAOpenShort(t *testing.T) {
	var captured oandaOrderRequest
	o := newTestOANDA(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got, want := r.URL.Path, "/v3/accounts/"+testAccount+"/orders"; got != want {
			t.Errorf("path = %q, want %q", got, want)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decoding order body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"orderCreateTransaction":{"id":"6789"}}`)
	})

	out, err := o.Open(context.Background(), "GBPUSD", domain.DirectionShort)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if out.Skipped {
		t.Error("Open reported skipped, want executed")
	}
	if captured.Order.Units != "-100000" {
		t.Errorf("units = %q, want -100000", captured.Order.Units)
	}
	if captured.Order.Instrument != "GBP_USD" {
		t.Errorf("instrument = %q, want GBP_USD", captured.Order.Instrument)
	}
	if captured.Order.TimeInForce != "FOK" || captured.Order.Type != "MARKET" || captured.Order.PositionFill != "DEFAULT" {
		t.Errorf("order flags = %s/%s/%s, want FOK/MARKET/DEFAULT",
			captured.Order.TimeInForce, captured.Order.Type, captured.Order.PositionFill)
	}
}

func TestOANDACloseSide(t *testing.T) {
	var captured map[string]string
	o := newTestOANDA(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		if got, want := r.URL.Path, "/v3/accounts/"+testAccount+"/positions/EUR_USD/close"; got != want {
			t.Errorf("path = %q, want %q", got, want)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decoding close body: %v", err)
		}
		io.WriteString(w, `{"shortOrderFillTransaction":{"id":"42"}}`)
	})

	out, err := o.Close(context.Background(), "EURUSD", domain.DirectionShort)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if out.Skipped {
		t.Error("Close reported skipped, want executed")
	}
	if got, want := captured["shortUnits"], "ALL"; got != want {
		t.Errorf("shortUnits = %q, want %q", got, want)
	}
	if _, ok := captured["longUnits"]; ok {
		t.Error("close request carried longUnits for a short-side close")
	}
}

func TestOANDACloseMissingPositionSkips(t *testing.T) {
	o := newTestOANDA(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"errorMessage":"The Position requested to be closed out does not exist"}`)
	})

	out, err := o.Close(context.Background(), "EURUSD", domain.DirectionLong)
	if err != nil {
		t.Fatalf("Close on missing position: %v", err)
	}
	if !out.Skipped {
		t.Error("Close on missing position not skipped")
	}
}

func TestOANDALiquidateAll(t *testing.T) {
	calls := 0
	o := newTestOANDA(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			io.WriteString(w, `{"longOrderFillTransaction":{"id":"1"}}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"errorMessage":"no short position"}`)
	})

	out, err := o.LiquidateAll(context.Background(), "EURUSD")
	if err != nil {
		t.Fatalf("LiquidateAll: %v", err)
	}
	if out.Skipped {
		t.Error("LiquidateAll skipped, want executed for the held long side")
	}
	if calls != 2 {
		t.Errorf("close calls = %d, want 2", calls)
	}
}

func TestOANDAUnknownSymbol(t *testing.T) {
	o := newTestOANDA(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request for unmapped symbol: %s %s", r.Method, r.URL)
	})

	_, err := o.CurrentPosition(context.Background(), "ABCXYZ")
	if err == nil {
		t.Fatal("CurrentPosition accepted unmapped symbol")
	}
	if got := domain.KindOf(err); got != domain.KindValidation {
		t.Errorf("KindOf = %v, want %v", got, domain.KindValidation)
	}
}

func TestOANDAAuthRejected(t *testing.T) {
	o := newTestOANDA(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"errorMessage":"Insufficient authorization to perform request."}`)
	})

	_, err := o.CurrentPosition(context.Background(), "EURUSD")
	if err == nil {
		t.Fatal("CurrentPosition succeeded against 401")
	}
	if got := domain.KindOf(err); got != domain.KindAuthentication {
		t.Errorf("KindOf = %v, want %v", got, domain.KindAuthentication)
	}
}

func TestOANDAAccountStatus(t *testing.T) {
	o := newTestOANDA(t, func(w http.ResponseWriter, r *http.Request) {
		if got, want := r.URL.Path, "/v3/accounts/"+testAccount+"/summary"; got != want {
			t.Errorf("path = %q, want %q", got, want)
		}
		io.WriteString(w, `{"account":{
			"id":"`+testAccount+`","balance":"100000.00","currency":"USD",
			"unrealizedPL":"12.34","marginUsed":"3000.00","marginAvailable":"97000.00",
			"positionValue":"100000.00","openPositionCount":1
		}}`)
	})

	status, err := o.AccountStatus(context.Background())
	if err != nil {
		t.Fatalf("AccountStatus: %v", err)
	}
	if got, want := status["balance"], "100000.00"; got != want {
		t.Errorf("balance = %v, want %v", got, want)
	}
	if got, want := status["open_positions"], 1; got != want {
		t.Errorf("open_positions = %v, want %v", got, want)
	}
}
