/*
Core serves the latest market data of the feed to its consumers.

# Module
  - price sink: writes every decoded stream frame into the market-data cache
  - latest price: reads the market-data cache, falling back to the exchange REST API
  - view: folds the tickers of one symbol across exchanges into a derived view

# Source
 1. price events from the ingest pool
 2. REST tickers from the rest fetcher on cache miss

# Produce
  - Ticker and View values read by UI consumers polling the caches

# Ordering
  - per exchange/symbol key, a frame older than the cached one is ignored
*/
package core
