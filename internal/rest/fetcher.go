// Package rest fetches last-trade prices from exchange public REST APIs when
// the stream has nothing cached yet.
package rest

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"golang.org/x/time/rate"

	"marketfeed/internal/cache"
	"marketfeed/internal/codec"
	"marketfeed/internal/model"
	"marketfeed/internal/model/enum"
	"marketfeed/pkg/exception"
)

const (
	BinanceBaseURL = "https://api.binance.com"
	OKXBaseURL     = "https://www.okx.com"
	BybitBaseURL   = "https://api.bybit.com"

	DefaultTimeout = 5 * time.Second
	DefaultRPS     = 5
	DefaultBurst   = 10
	DefaultTTL     = 2 * time.Second

	maxBodySize = 1 << 20
)

// Endpoint is the base URL and request budget of one exchange.
type Endpoint struct {
	BaseURL string
	RPS     float64
	Burst   int
}

type Config struct {
	Timeout   time.Duration
	TTL       time.Duration
	Endpoints map[enum.Exchange]Endpoint
}

type endpoint struct {
	base    string
	limiter *rate.Limiter
}

// Fetcher is safe for concurrent use.
type Fetcher struct {
	client    *http.Client
	upstream  *cache.TieredCache[[]byte]
	ttl       time.Duration
	endpoints map[enum.Exchange]endpoint
	now       func() time.Time
}

// New builds a fetcher for every known exchange. upstream may be nil, in
// which case every call goes to the network.
func New(cfg Config, upstream *cache.TieredCache[[]byte], client *http.Client) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	f := &Fetcher{
		client:    client,
		upstream:  upstream,
		ttl:       cfg.TTL,
		endpoints: make(map[enum.Exchange]endpoint, len(enum.Exchanges())),
		now:       time.Now,
	}
	for _, ex := range enum.Exchanges() {
		ep := cfg.Endpoints[ex]
		if ep.BaseURL == "" {
			ep.BaseURL = defaultBaseURL(ex)
		}
		if ep.RPS <= 0 {
			ep.RPS = DefaultRPS
		}
		if ep.Burst <= 0 {
			ep.Burst = DefaultBurst
		}
		f.endpoints[ex] = endpoint{
			base:    strings.TrimRight(ep.BaseURL, "/"),
			limiter: rate.NewLimiter(rate.Limit(ep.RPS), ep.Burst),
		}
	}
	return f
}

func defaultBaseURL(ex enum.Exchange) string {
	switch ex {
	case enum.ExchangeBinance:
		return BinanceBaseURL
	case enum.ExchangeOKX:
		return OKXBaseURL
	case enum.ExchangeBybit:
		return BybitBaseURL
	default:
		return ""
	}
}

// URL returns the public ticker endpoint of symbol on exchange.
func (f *Fetcher) URL(exchange enum.Exchange, symbol string) (string, error) {
	ep, ok := f.endpoints[exchange]
	if !ok {
		return "", errors.Wrap(exception.ErrUpstreamUnsupported, "ticker url").With("exchange", uint8(exchange))
	}
	canonical := codec.CanonicalSymbol(symbol)
	if canonical == "" {
		return "", errors.Wrap(exception.ErrInvalidArgument, "empty symbol")
	}

	switch exchange {
	case enum.ExchangeBinance:
		return ep.base + "/api/v3/ticker/price?symbol=" + url.QueryEscape(canonical), nil
	case enum.ExchangeOKX:
		return ep.base + "/api/v5/market/ticker?instId=" + url.QueryEscape(OKXInstID(symbol)), nil
	case enum.ExchangeBybit:
		return ep.base + "/v5/market/tickers?category=spot&symbol=" + url.QueryEscape(canonical), nil
	default:
		return "", errors.Wrap(exception.ErrUpstreamUnsupported, "ticker url").With("exchange", exchange.String())
	}
}

var quoteAssets = []string{"USDT", "USDC", "USD", "BTC", "ETH", "EUR"}

// OKXInstID converts a symbol to OKX's dashed instrument id, e.g. BTCUSDT -> BTC-USDT.
func OKXInstID(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if strings.Contains(symbol, "-") {
		return symbol
	}
	canonical := codec.CanonicalSymbol(symbol)
	for _, q := range quoteAssets {
		if len(canonical) > len(q) && strings.HasSuffix(canonical, q) {
			return canonical[:len(canonical)-len(q)] + "-" + q
		}
	}
	return canonical
}

// Ticker returns the last price of symbol on exchange. Raw responses are
// shared through the upstream cache, so concurrent callers cause one request.
func (f *Fetcher) Ticker(ctx context.Context, exchange enum.Exchange, symbol string) (model.Ticker, error) {
	u, err := f.URL(exchange, symbol)
	if err != nil {
		return model.Ticker{}, err
	}

	var body []byte
	if f.upstream != nil {
		body, err = f.upstream.GetOrSet(ctx, u, func(ctx context.Context) ([]byte, error) {
			return f.fetch(ctx, exchange, u)
		}, f.ttl)
	} else {
		body, err = f.fetch(ctx, exchange, u)
	}
	if err != nil {
		return model.Ticker{}, err
	}

	t, err := parseTicker(exchange, body)
	if err != nil {
		if f.upstream != nil {
			f.upstream.Delete(u)
		}
		return model.Ticker{}, errors.Wrap(err, "parse ticker").With("url", u)
	}
	t.Exchange = exchange
	t.Symbol = codec.CanonicalSymbol(symbol)
	t.ReceivedAt = f.now()
	t.Source = model.SourceREST
	if t.Timestamp == 0 {
		t.Timestamp = uint64(t.ReceivedAt.UnixMilli())
	}
	return t, nil
}

func (f *Fetcher) fetch(ctx context.Context, exchange enum.Exchange, u string) ([]byte, error) {
	if err := f.endpoints[exchange].limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "wait rate limiter").With("exchange", exchange.String())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request").With("url", u)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request").With("url", u)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, errors.Wrap(err, "read body").With("url", u)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrap(exception.ErrUpstreamStatus, "get ticker").
			With("url", u).With("status", resp.StatusCode).With("body", string(body))
	}
	return body, nil
}

type binanceTicker struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

type okxTicker struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []struct {
		InstID string `json:"instId"`
		Last   string `json:"last"`
		LastSz string `json:"lastSz"`
		Ts     string `json:"ts"`
	} `json:"data"`
}

type bybitTicker struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	} `json:"result"`
	Time uint64 `json:"time"`
}

func parseTicker(exchange enum.Exchange, body []byte) (model.Ticker, error) {
	switch exchange {
	case enum.ExchangeBinance:
		var r binanceTicker
		if err := sonic.Unmarshal(body, &r); err != nil {
			return model.Ticker{}, err
		}
		if r.Price == "" {
			return model.Ticker{}, exception.ErrUpstreamEmpty
		}
		price, err := strconv.ParseFloat(r.Price, 64)
		if err != nil {
			return model.Ticker{}, err
		}
		return model.Ticker{Price: price}, nil

	case enum.ExchangeOKX:
		var r okxTicker
		if err := sonic.Unmarshal(body, &r); err != nil {
			return model.Ticker{}, err
		}
		if r.Code != "0" {
			return model.Ticker{}, errors.Wrap(exception.ErrUpstreamRejected, r.Msg).With("code", r.Code)
		}
		if len(r.Data) == 0 {
			return model.Ticker{}, exception.ErrUpstreamEmpty
		}
		d := r.Data[0]
		price, err := strconv.ParseFloat(d.Last, 64)
		if err != nil {
			return model.Ticker{}, err
		}
		t := model.Ticker{Price: price}
		if v, err := strconv.ParseFloat(d.LastSz, 64); err == nil {
			t.Volume = v
		}
		if ts, err := strconv.ParseUint(d.Ts, 10, 64); err == nil {
			t.Timestamp = ts
		}
		return t, nil

	case enum.ExchangeBybit:
		var r bybitTicker
		if err := sonic.Unmarshal(body, &r); err != nil {
			return model.Ticker{}, err
		}
		if r.RetCode != 0 {
			return model.Ticker{}, errors.Wrap(exception.ErrUpstreamRejected, r.RetMsg).With("code", r.RetCode)
		}
		if len(r.Result.List) == 0 {
			return model.Ticker{}, exception.ErrUpstreamEmpty
		}
		price, err := strconv.ParseFloat(r.Result.List[0].LastPrice, 64)
		if err != nil {
			return model.Ticker{}, err
		}
		return model.Ticker{Price: price, Timestamp: r.Time}, nil

	default:
		return model.Ticker{}, exception.ErrUpstreamUnsupported
	}
}
