package symbols

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tradewire/internal/domain"
)

// MarketData is the slice of the market data vendor the resolver needs:
// previous-session volume per continuous contract, and instrument id to
// raw symbol resolution.
type MarketData interface {
	// DailyVolumes returns one daily bar per continuous symbol for the
	// given session date (YYYY-MM-DD).
	DailyVolumes(ctx context.Context, continuous []string, day string) ([]VolumeRecord, error)

	// ResolveInstruments maps numeric instrument ids to raw contract
	// symbols as of the given date. Ids the vendor cannot resolve are
	// absent from the result.
	ResolveInstruments(ctx context.Context, ids []int64, day string) (map[int64]string, error)
}

// VolumeRecord is a daily bar reduced to the fields ranking needs.
type VolumeRecord struct {
	InstrumentID int64
	Volume       int64
}

// --- Databento client ---

// Databento fetches futures market data from the databento historical API.
// The API key authenticates as the basic-auth username with an empty
// password.
type Databento struct {
	baseURL string
	dataset string
	apiKey  string
	client  *http.Client
	log     *slog.Logger
}

var _ MarketData = (*Databento)(nil)

// NewDatabento creates a client for the given base URL and dataset.
func NewDatabento(baseURL, dataset, apiKey string, log *slog.Logger) *Databento {
	if log == nil {
		log = slog.Default()
	}
	return &Databento{
		baseURL: strings.TrimRight(baseURL, "/"),
		dataset: dataset,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log.With("component", "databento"),
	}
}

// flexInt decodes a JSON number or numeric string. The vendor's JSON
// encoding writes 64-bit fields as strings to stay inside JavaScript's safe
// integer range.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*f = flexInt(v)
	return nil
}

// ohlcvRecord is one line of the JSON-encoded ohlcv-1d stream. Only the
// instrument id and volume matter for ranking; prices are ignored.
type ohlcvRecord struct {
	Header struct {
		InstrumentID int64 `json:"instrument_id"`
	} `json:"hd"`
	Volume flexInt `json:"volume"`
}

// DailyVolumes requests one ohlcv-1d bar per continuous symbol. The stream
// arrives as newline-delimited JSON records.
func (d *Databento) DailyVolumes(ctx context.Context, continuous []string, day string) ([]VolumeRecord, error) {
	form := url.Values{}
	form.Set("dataset", d.dataset)
	form.Set("symbols", strings.Join(continuous, ","))
	form.Set("schema", "ohlcv-1d")
	form.Set("stype_in", "continuous")
	form.Set("start", day)
	form.Set("encoding", "json")

	body, err := d.post(ctx, "/v0/timeseries.get_range", form)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var records []VolumeRecord
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec ohlcvRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, domain.Errorf(domain.KindDependency, "databento: malformed ohlcv record: %v", err)
		}
		records = append(records, VolumeRecord{InstrumentID: rec.Header.InstrumentID, Volume: int64(rec.Volume)})
	}
	if err := sc.Err(); err != nil {
		return nil, domain.Errorf(domain.KindDependency, "databento: reading ohlcv stream: %v", err)
	}
	return records, nil
}

// resolveResponse is the symbology.resolve payload. Result is keyed by the
// requested symbol; each entry lists date ranges with the resolved symbol
// under "s".
type resolveResponse struct {
	Result map[string][]struct {
		Symbol string `json:"s"`
	} `json:"result"`
}

// ResolveInstruments maps instrument ids to raw contract symbols.
func (d *Databento) ResolveInstruments(ctx context.Context, ids []int64, day string) (map[int64]string, error) {
	syms := make([]string, len(ids))
	for i, id := range ids {
		syms[i] = strconv.FormatInt(id, 10)
	}
	form := url.Values{}
	form.Set("dataset", d.dataset)
	form.Set("symbols", strings.Join(syms, ","))
	form.Set("stype_in", "instrument_id")
	form.Set("stype_out", "raw_symbol")
	form.Set("start_date", day)

	body, err := d.post(ctx, "/v0/symbology.resolve", form)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp resolveResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, domain.Errorf(domain.KindDependency, "databento: decoding symbology response: %v", err)
	}

	out := make(map[int64]string, len(resp.Result))
	for key, entries := range resp.Result {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil || len(entries) == 0 || entries[0].Symbol == "" {
			continue
		}
		out[id] = entries[0].Symbol
	}
	return out, nil
}

func (d *Databento) post(ctx context.Context, path string, form url.Values) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, domain.Errorf(domain.KindUnexpected, "databento: building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(d.apiKey, "")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, domain.Errorf(domain.KindDependency, "databento: %s: %v", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 300))
		resp.Body.Close()
		kind := domain.KindDependency
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			kind = domain.KindAuthentication
		}
		return nil, domain.Errorf(kind, "databento: %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return resp.Body, nil
}
