package core

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"marketfeed/internal/cache"
	"marketfeed/internal/codec"
	"marketfeed/internal/model"
	"marketfeed/internal/model/enum"
	"marketfeed/pkg/exception"
)

// PriceSource publishes decoded price events, e.g. *ingest.Pool.
type PriceSource interface {
	ObservePrices(handler func(model.PriceEvent)) (unsubscribe func())
	Exchanges() []enum.Exchange
}

// TickerFetcher loads a ticker from outside the stream, e.g. *rest.Fetcher.
type TickerFetcher interface {
	Ticker(ctx context.Context, exchange enum.Exchange, symbol string) (model.Ticker, error)
}

// PreferenceReader reads user preferences, e.g. *prefs.Cached.
type PreferenceReader interface {
	Get(ctx context.Context, userID, key string) (model.Preference, error)
}

// WatchlistKey is the preference key holding a comma separated symbol list.
const WatchlistKey = "watchlist"

type Option func(*Service)

// WithPreferences enables Watchlist.
func WithPreferences(r PreferenceReader) Option {
	return func(s *Service) {
		s.prefs = r
	}
}

type Service struct {
	caches    *cache.Manager
	fetcher   TickerFetcher
	prefs     PreferenceReader
	exchanges []enum.Exchange
	now       func() time.Time

	mu     sync.Mutex
	latest map[string]uint64

	unsubscribe func()
	closeOnce   sync.Once
}

// NewService starts writing the price events of src into the market-data
// cache. fetcher may be nil, then LatestPrice only serves cached tickers.
func NewService(src PriceSource, caches *cache.Manager, fetcher TickerFetcher, opts ...Option) (*Service, error) {
	if src == nil || caches == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "new core service")
	}

	s := &Service{
		caches:    caches,
		fetcher:   fetcher,
		exchanges: src.Exchanges(),
		now:       time.Now,
		latest:    make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.unsubscribe = src.ObservePrices(s.onPrice)
	return s, nil
}

func (s *Service) onPrice(e model.PriceEvent) {
	if !e.Data.Type.IsAvailable() {
		return
	}
	if e.Data.Symbol == "" || e.Data.Symbol == model.UnknownSymbol {
		return
	}

	key := model.TickerKey(e.Exchange, e.Data.Symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Data.Timestamp < s.latest[key] {
		return
	}
	s.latest[key] = e.Data.Timestamp

	s.caches.MarketData.Set(key, model.Ticker{
		Exchange:   e.Exchange,
		Symbol:     e.Data.Symbol,
		Price:      e.Data.Price,
		Volume:     e.Data.Volume,
		Timestamp:  e.Data.Timestamp,
		Side:       e.Data.Side,
		ReceivedAt: s.now(),
		Source:     model.SourceStream,
	}, 0)
}

// LatestPrice returns the cached ticker of symbol on exchange, fetching it
// over REST on a miss.
func (s *Service) LatestPrice(ctx context.Context, exchange enum.Exchange, symbol string) (model.Ticker, error) {
	canonical := codec.CanonicalSymbol(symbol)
	key := model.TickerKey(exchange, canonical)
	if s.fetcher == nil {
		if t, ok := s.caches.MarketData.Get(key); ok {
			return t, nil
		}
		return model.Ticker{}, errors.Wrap(exception.ErrNoMarketData, "latest price").With("key", key)
	}

	return s.caches.MarketData.GetOrSet(ctx, key, func(ctx context.Context) (model.Ticker, error) {
		t, err := s.fetcher.Ticker(ctx, exchange, symbol)
		if err != nil {
			logs.Warnf("rest fallback failed, key: %s, err: %+v", key, err)
			return model.Ticker{}, err
		}
		return t, nil
	}, 0)
}

// View returns the cross-exchange view of symbol from the market-data cache.
// Views are cached briefly in the derived-view cache.
func (s *Service) View(ctx context.Context, symbol string) (model.View, error) {
	canonical := codec.CanonicalSymbol(symbol)
	return s.caches.Derived.GetOrSet(ctx, canonical, func(context.Context) (model.View, error) {
		keys := make([]string, 0, len(s.exchanges))
		for _, ex := range s.exchanges {
			keys = append(keys, model.TickerKey(ex, canonical))
		}
		found := s.caches.MarketData.GetBatch(keys)

		tickers := make([]model.Ticker, 0, len(found))
		for _, k := range keys {
			if t, ok := found[k]; ok {
				tickers = append(tickers, t)
			}
		}
		v, ok := model.BuildView(canonical, tickers)
		if !ok {
			return model.View{}, errors.Wrap(exception.ErrNoMarketData, "build view").With("symbol", canonical)
		}
		v.ComputedAt = s.now()
		return v, nil
	}, 0)
}

// Watchlist returns the views of the symbols in the user's watchlist.
// Symbols without market data yet are skipped.
func (s *Service) Watchlist(ctx context.Context, userID string) ([]model.View, error) {
	if s.prefs == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "no preference reader")
	}
	p, err := s.prefs.Get(ctx, userID, WatchlistKey)
	if err != nil {
		return nil, err
	}

	var views []model.View
	for _, sym := range strings.Split(p.Value, ",") {
		if sym = strings.TrimSpace(sym); sym == "" {
			continue
		}
		v, err := s.View(ctx, sym)
		if errors.Is(err, exception.ErrNoMarketData) {
			continue
		}
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// Close stops consuming price events. Cached values stay readable.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
	})
}
