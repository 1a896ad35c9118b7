package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	headerNonce     = "bfx-nonce"
	headerAPIKey    = "bfx-apikey"
	headerSignature = "bfx-signature"

	submitOfferPath = "v2/auth/w/funding/offer/submit"
	cancelOfferPath = "v2/auth/w/funding/offer/cancel"
	availCalcPath   = "v2/auth/calc/order/avail"
	walletsPath     = "v2/auth/r/wallets"
)

var (
	// ErrMalformedPayload indicates a response with fewer fields than the
	// wire format guarantees.
	ErrMalformedPayload = errors.New("exchange: malformed payload")
	// ErrBalanceUnavailable indicates the wallet lookup found no row.
	ErrBalanceUnavailable = errors.New("exchange: balance unavailable")
)

// Options parameterise the REST client.
type Options struct {
	APIKey        string
	APISecret     string
	BaseURL       string
	PublicBaseURL string
	Timeout       time.Duration
}

// RESTClient talks to the exchange's v2 REST API. Authenticated requests are
// signed with HMAC-SHA384 over "/api/{endpoint}{nonce}{body}".
type RESTClient struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	base    string
	pubBase string

	nonceMu   sync.Mutex
	lastNonce int64
}

// NewRESTClient constructs an exchange client.
func NewRESTClient(opts Options, logger zerolog.Logger) *RESTClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://api.bitfinex.com"
	}
	pubBase := strings.TrimRight(opts.PublicBaseURL, "/")
	if pubBase == "" {
		pubBase = "https://api-pub.bitfinex.com"
	}

	return &RESTClient{
		opts:    opts,
		logger:  logger.With().Str("component", "exchange_client").Logger(),
		client:  &http.Client{Timeout: timeout},
		base:    base,
		pubBase: pubBase,
	}
}

// nonce returns a strictly increasing microsecond timestamp.
func (c *RESTClient) nonce() string {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()
	n := time.Now().UnixMicro()
	if n <= c.lastNonce {
		n = c.lastNonce + 1
	}
	c.lastNonce = n
	return strconv.FormatInt(n, 10)
}

func (c *RESTClient) sign(endpoint, nonce string, body []byte) string {
	mac := hmac.New(sha512.New384, []byte(c.opts.APISecret))
	mac.Write([]byte("/api/" + endpoint + nonce))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *RESTClient) post(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/"+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	nonce := c.nonce()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerNonce, nonce)
	req.Header.Set(headerAPIKey, c.opts.APIKey)
	req.Header.Set(headerSignature, c.sign(endpoint, nonce, body))

	return c.do(req, endpoint)
}

func (c *RESTClient) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req, url)
}

func (c *RESTClient) do(req *http.Request, endpoint string) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseAPIError(endpoint, resp.StatusCode, payload)
	}
	return payload, nil
}

// parseAPIError decodes the ["error", code, "message"] shape when present.
func parseAPIError(endpoint string, status int, payload []byte) error {
	var arr []any
	if err := json.Unmarshal(payload, &arr); err == nil && len(arr) >= 3 {
		if kind, ok := arr[0].(string); ok && kind == "error" {
			code, _ := asFloat(arr[1])
			msg, _ := arr[2].(string)
			return fmt.Errorf("exchange api error (%d) on %s: %s (code %d)", status, endpoint, msg, int(code))
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("exchange api error (%d) on %s: %s", status, endpoint, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("exchange api error (%d) on %s", status, endpoint)
}

// Ticker fetches the funding ticker row for symbol.
func (c *RESTClient) Ticker(ctx context.Context, symbol string) (FundingTick, error) {
	payload, err := c.get(ctx, fmt.Sprintf("%s/v2/tickers?symbols=%s", c.pubBase, symbol))
	if err != nil {
		return FundingTick{}, err
	}

	var rows [][]any
	if err := json.Unmarshal(payload, &rows); err != nil {
		return FundingTick{}, fmt.Errorf("decode ticker: %w", err)
	}
	if len(rows) == 0 || len(rows[0]) < 14 {
		return FundingTick{}, ErrMalformedPayload
	}

	row := rows[0]
	tick := FundingTick{}
	fields := []struct {
		idx int
		dst *float64
	}{
		{1, &tick.FRR},
		{2, &tick.Bid},
		{5, &tick.Ask},
		{10, &tick.Last},
		{12, &tick.High},
		{13, &tick.Low},
	}
	for _, f := range fields {
		v, ok := asFloat(row[f.idx])
		if !ok {
			return FundingTick{}, ErrMalformedPayload
		}
		*f.dst = v
	}
	if p, ok := asFloat(row[3]); ok {
		tick.BidPeriod = int(p)
	}
	if p, ok := asFloat(row[6]); ok {
		tick.AskPeriod = int(p)
	}
	return tick, nil
}

// LastCandle fetches the most recent candle for symbol at timeframe.
func (c *RESTClient) LastCandle(ctx context.Context, symbol, timeframe string) (Candle, error) {
	payload, err := c.get(ctx, fmt.Sprintf("%s/v2/candles/trade:%s:%s/last", c.pubBase, timeframe, symbol))
	if err != nil {
		return Candle{}, err
	}

	var row []any
	if err := json.Unmarshal(payload, &row); err != nil {
		return Candle{}, fmt.Errorf("decode candle: %w", err)
	}
	// [MTS, OPEN, CLOSE, HIGH, LOW, VOLUME]
	if len(row) < 5 {
		return Candle{}, ErrMalformedPayload
	}

	open, ok1 := asFloat(row[1])
	cl, ok2 := asFloat(row[2])
	high, ok3 := asFloat(row[3])
	low, ok4 := asFloat(row[4])
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return Candle{}, ErrMalformedPayload
	}
	return Candle{Open: open, Close: cl, High: high, Low: low}, nil
}

// AvailableFunding reports the balance free to lend. The provider returns the
// amount negated; the absolute value is used.
func (c *RESTClient) AvailableFunding(ctx context.Context, symbol string) (decimal.Decimal, error) {
	payload, err := c.post(ctx, availCalcPath, map[string]any{
		"symbol": symbol,
		"type":   "FUNDING",
	})
	if err != nil {
		return decimal.Decimal{}, err
	}

	var row []any
	if err := json.Unmarshal(payload, &row); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode available funding: %w", err)
	}
	if len(row) == 0 {
		return decimal.Decimal{}, ErrMalformedPayload
	}
	amount, ok := asFloat(row[0])
	if !ok {
		return decimal.Decimal{}, ErrMalformedPayload
	}
	return decimal.NewFromFloat(amount).Abs(), nil
}

// CurrencyBalance reads the funding-wallet balance for symbol.
func (c *RESTClient) CurrencyBalance(ctx context.Context, symbol string) (decimal.Decimal, error) {
	rows, err := c.walletRows(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}

	want := strings.TrimPrefix(symbol, "f")
	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		wtype, _ := row[0].(string)
		currency, _ := row[1].(string)
		if wtype != "funding" || currency != want {
			continue
		}
		balance, ok := asFloat(row[2])
		if !ok {
			continue
		}
		return decimal.NewFromFloat(balance), nil
	}
	return decimal.Decimal{}, ErrBalanceUnavailable
}

// SubmitOffer places a LIMIT funding offer and returns the assigned id.
func (c *RESTClient) SubmitOffer(ctx context.Context, symbol, amount, rate string, period int) (int64, error) {
	payload, err := c.post(ctx, submitOfferPath, map[string]any{
		"type":   "LIMIT",
		"symbol": symbol,
		"amount": amount,
		"rate":   rate,
		"period": period,
		"flags":  0,
	})
	if err != nil {
		return 0, err
	}

	offer, err := parseNotification(payload)
	if err != nil {
		return 0, err
	}
	id, ok := asFloat(offer[0])
	if !ok {
		return 0, ErrMalformedPayload
	}
	return int64(id), nil
}

// CancelOffer withdraws a pending offer.
func (c *RESTClient) CancelOffer(ctx context.Context, id int64) error {
	payload, err := c.post(ctx, cancelOfferPath, map[string]any{"id": id})
	if err != nil {
		return err
	}
	_, err = parseNotification(payload)
	return err
}

// parseNotification validates the [MTS, TYPE, MSG_ID, null, DATA, CODE,
// STATUS, TEXT] envelope, returning DATA on SUCCESS.
func parseNotification(payload []byte) ([]any, error) {
	var note []any
	if err := json.Unmarshal(payload, &note); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}
	if len(note) < 8 {
		return nil, ErrMalformedPayload
	}
	status, _ := note[6].(string)
	if status != "SUCCESS" {
		text, _ := note[7].(string)
		return nil, fmt.Errorf("exchange rejected request: %s: %s", status, text)
	}
	data, _ := note[4].([]any)
	if len(data) == 0 {
		return nil, ErrMalformedPayload
	}
	return data, nil
}

// ActiveOffers lists offers still on the book for symbol.
func (c *RESTClient) ActiveOffers(ctx context.Context, symbol string) ([]ActiveOffer, error) {
	payload, err := c.post(ctx, "v2/auth/r/funding/offers/"+symbol, map[string]any{})
	if err != nil {
		return nil, err
	}

	rows, err := decodeRows(payload)
	if err != nil {
		return nil, err
	}

	offers := make([]ActiveOffer, 0, len(rows))
	for _, row := range rows {
		offer, ok := parseOfferRow(row)
		if !ok {
			continue
		}
		offers = append(offers, offer)
	}
	return offers, nil
}

// ActiveCredits lists funding currently lent out for symbol.
func (c *RESTClient) ActiveCredits(ctx context.Context, symbol string) ([]ActiveCredit, error) {
	payload, err := c.post(ctx, "v2/auth/r/funding/credits/"+symbol, map[string]any{})
	if err != nil {
		return nil, err
	}

	rows, err := decodeRows(payload)
	if err != nil {
		return nil, err
	}

	credits := make([]ActiveCredit, 0, len(rows))
	for _, row := range rows {
		if len(row) < 16 {
			continue
		}
		id, ok1 := asFloat(row[0])
		sym, ok2 := row[1].(string)
		amount, ok3 := asFloat(row[5])
		rate, ok4 := asFloat(row[14])
		period, ok5 := asFloat(row[15])
		if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
			continue
		}
		credits = append(credits, ActiveCredit{
			ID:     int64(id),
			Symbol: sym,
			Amount: decimal.NewFromFloat(amount).Abs(),
			Rate:   rate,
			Period: int(period),
		})
	}
	return credits, nil
}

// OfferHistory maps recently closed offer ids to their terminal status.
func (c *RESTClient) OfferHistory(ctx context.Context, symbol string) (map[int64]string, error) {
	payload, err := c.post(ctx, "v2/auth/r/funding/offers/"+symbol+"/hist", map[string]any{})
	if err != nil {
		return nil, err
	}

	rows, err := decodeRows(payload)
	if err != nil {
		return nil, err
	}

	history := make(map[int64]string, len(rows))
	for _, row := range rows {
		if len(row) < 11 {
			continue
		}
		id, ok := asFloat(row[0])
		if !ok {
			continue
		}
		status, ok := row[10].(string)
		if !ok {
			continue
		}
		history[int64(id)] = status
	}
	return history, nil
}

// WalletSummary renders wallet balances as an aligned text table.
func (c *RESTClient) WalletSummary(ctx context.Context) (string, error) {
	rows, err := c.walletRows(ctx)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Type\tCurrency\tAmount")
	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		wtype, _ := row[0].(string)
		currency, _ := row[1].(string)
		balance, ok := asFloat(row[2])
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", wtype, currency, strconv.FormatFloat(balance, 'f', -1, 64))
	}
	if err := w.Flush(); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// FundingSummary renders per-symbol lending yield and duration.
func (c *RESTClient) FundingSummary(ctx context.Context, symbols []string) (string, error) {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Currency\tLending Rates\tDuration")

	for _, symbol := range symbols {
		payload, err := c.post(ctx, "v2/auth/r/info/funding/"+symbol, map[string]any{})
		if err != nil {
			return "", err
		}

		var info []any
		if err := json.Unmarshal(payload, &info); err != nil {
			return "", fmt.Errorf("decode funding info: %w", err)
		}
		if len(info) < 3 {
			return "", ErrMalformedPayload
		}
		stats, _ := info[2].([]any)
		if len(stats) < 4 {
			return "", ErrMalformedPayload
		}
		yieldLend, ok1 := asFloat(stats[1])
		durationLend, ok2 := asFloat(stats[3])
		if !ok1 || !ok2 {
			return "", ErrMalformedPayload
		}
		fmt.Fprintf(w, "%s\t%.4f%%\t%d days\n", symbol, yieldLend*36500, int(durationLend))
	}
	if err := w.Flush(); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

func (c *RESTClient) walletRows(ctx context.Context) ([][]any, error) {
	payload, err := c.post(ctx, walletsPath, map[string]any{})
	if err != nil {
		return nil, err
	}
	return decodeRows(payload)
}

func decodeRows(payload []byte) ([][]any, error) {
	var rows [][]any
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, fmt.Errorf("decode rows: %w", err)
	}
	return rows, nil
}

func parseOfferRow(row []any) (ActiveOffer, bool) {
	// [ID, SYMBOL, MTS_CREATED, MTS_UPDATED, AMOUNT, AMOUNT_ORIG, TYPE,
	//  _, _, FLAGS, STATUS, _, _, _, RATE, PERIOD, ...]
	if len(row) < 16 {
		return ActiveOffer{}, false
	}
	id, ok1 := asFloat(row[0])
	symbol, ok2 := row[1].(string)
	amount, ok3 := asFloat(row[4])
	status, ok4 := row[10].(string)
	rate, ok5 := asFloat(row[14])
	period, ok6 := asFloat(row[15])
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || !ok6 {
		return ActiveOffer{}, false
	}
	return ActiveOffer{
		ID:     int64(id),
		Symbol: symbol,
		Amount: decimal.NewFromFloat(amount).Abs(),
		Status: status,
		Rate:   rate,
		Period: int(period),
	}, true
}

func asFloat(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

var _ Client = (*RESTClient)(nil)
