// Package downloader resolves a quote source for each requested security,
// fetches the latest price and merges it into the price store.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Rhymond/go-money"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"pricedb/internal/model"
	"pricedb/internal/pricefile"
	"pricedb/internal/quote"
	"pricedb/internal/symbols"
)

const defaultConcurrency = 4

// Downloader orchestrates fetches: provider resolution, currency
// normalization, upsert into the store, and a single save per invocation.
type Downloader struct {
	Registry *quote.Registry
	Store    *pricefile.PriceFile
	// Concurrency bounds parallel fetches in a batch, to respect external
	// rate limits. It is configuration, never derived at runtime.
	Concurrency int
	// Timeout is the batch deadline. A fetch still pending past it is
	// reported as a network failure for that symbol only.
	Timeout time.Duration
}

// Resolve picks the source for a filter: an explicit provider name wins,
// otherwise the symbol's namespace decides.
func (d *Downloader) Resolve(f model.SecurityFilter) (quote.Source, model.SecuritySymbol, error) {
	sym, err := model.ParseSymbol(f.Symbol)
	if err != nil {
		return nil, model.SecuritySymbol{}, err
	}
	if f.Agent != "" {
		src, err := d.Registry.ByName(f.Agent)
		return src, sym, err
	}
	src, err := d.Registry.ForNamespace(sym.Namespace)
	return src, sym, err
}

// Run fetches one price and persists the updated store. Fetch failures
// propagate unmodified and leave the store file untouched.
func (d *Downloader) Run(ctx context.Context, f model.SecurityFilter) (model.Price, error) {
	src, sym, err := d.Resolve(f)
	if err != nil {
		return model.Price{}, err
	}
	currency := normalizeCurrency(f.Currency)

	price, err := src.Fetch(ctx, sym, currency)
	if err != nil {
		return model.Price{}, err
	}
	d.Store.Upsert(pricefile.FromPrice(price))
	if err := d.Store.Save(); err != nil {
		return model.Price{}, err
	}
	return price, nil
}

// Result is the outcome of a batch run. Partial success is the normal case:
// failed symbols are reported in Errors and never abort the rest.
type Result struct {
	Prices []model.Price
	Errors map[string]error
}

// RunBatch fetches every row concurrently, bounded by Concurrency, upserts
// completed fetches under a single writer lock and saves the store exactly
// once after all fetches settle.
func (d *Downloader) RunBatch(ctx context.Context, rows []symbols.Metadata) (Result, error) {
	res := Result{Errors: map[string]error{}}
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	limit := d.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	var mu sync.Mutex
	for _, row := range rows {
		row := row
		sym := row.SecuritySymbol()

		var src quote.Source
		var err error
		if row.Updater != "" {
			src, err = d.Registry.ByName(row.Updater)
		} else {
			src, err = d.Registry.ForNamespace(sym.Namespace)
		}
		if err != nil {
			mu.Lock()
			res.Errors[sym.String()] = err
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			price, ferr := src.Fetch(gctx, sym, normalizeCurrency(row.Currency))
			mu.Lock()
			defer mu.Unlock()
			if ferr != nil {
				// Only cancellation-derived errors become network failures; a
				// fetch that finished late with a terminal class keeps it.
				if cancelled(ferr) && !errors.Is(ferr, quote.ErrNetwork) {
					ferr = fmt.Errorf("%w: batch deadline: %v", quote.ErrNetwork, ferr)
				}
				res.Errors[sym.String()] = ferr
				log.WithError(ferr).WithField("symbol", sym.String()).Warn("fetch failed")
				return nil
			}
			rec := pricefile.FromPrice(price)
			if row.LedgerSymbol != "" {
				rec.Symbol = row.LedgerSymbol
			}
			d.Store.Upsert(rec)
			res.Prices = append(res.Prices, price)
			return nil
		})
	}
	_ = g.Wait()

	if len(res.Prices) > 0 {
		if err := d.Store.Save(); err != nil {
			return res, err
		}
	}
	return res, nil
}

func cancelled(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// normalizeCurrency upper-cases the requested currency and warns when the
// code is unknown to the ISO-4217 registry. Codes are only "4217-like"
// (pseudo currencies appear in practice), so this never rejects.
func normalizeCurrency(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code != "" && money.GetCurrency(code) == nil {
		log.WithField("currency", code).Warn("currency code not in ISO-4217 registry")
	}
	return code
}
