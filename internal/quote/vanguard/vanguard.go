// Package vanguard fetches managed-fund NAV prices from the Vanguard AU
// detail API. Fund pages are keyed by an internal fund id, so only symbols
// present in the fund table can be serviced.
package vanguard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"pricedb/internal/httpx"
	"pricedb/internal/model"
	"pricedb/internal/quote"
)

const defaultBaseURL = "https://www.vanguard.com.au/personal/api/products/personal/fund"

// Fund ids valid as of 2023-10; the codes change when Vanguard restructures
// the product pages.
var defaultFunds = map[string]string{
	"VANGUARD:PROP": "8105", // VAN0004AU
	"VANGUARD:HY":   "8106", // VAN0104AU
}

type Config struct {
	Name    string
	BaseURL string
	// Funds maps canonical symbol text to the Vanguard fund id.
	Funds map[string]string
}

type Source struct {
	cfg    Config
	client *httpx.Client
}

func New(cfg Config, hc *httpx.Client) *Source {
	if cfg.Name == "" {
		cfg.Name = "vanguard_au"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Funds == nil {
		cfg.Funds = defaultFunds
	}
	return &Source{cfg: cfg, client: hc}
}

func (s *Source) Name() string { return s.cfg.Name }

func (s *Source) Fetch(ctx context.Context, symbol model.SecuritySymbol, currency string) (model.Price, error) {
	fundID, ok := s.cfg.Funds[symbol.String()]
	if !ok {
		return model.Price{}, fmt.Errorf("%w: no fund id for %s", quote.ErrUnsupportedSymbol, symbol)
	}
	url := fmt.Sprintf("%s/%s/detail?limit=-1", s.cfg.BaseURL, fundID)
	log.WithFields(log.Fields{"symbol": symbol.String(), "url": url}).Debug("downloading fund detail")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return model.Price{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return model.Price{}, fmt.Errorf("%w: GET %s: %v", quote.ErrNetwork, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return model.Price{}, fmt.Errorf("%w: GET %s -> %d", quote.ErrNetwork, url, resp.StatusCode)
	}

	// json.Number keeps the NAV's decimal text exact.
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var api apiResponse
	if err := dec.Decode(&api); err != nil {
		return model.Price{}, fmt.Errorf("%w: decode fund detail: %v", quote.ErrParse, err)
	}
	if len(api.Data) == 0 || len(api.Data[0].NavPrices) == 0 {
		return model.Price{}, fmt.Errorf("%w: no nav prices for %s", quote.ErrNoData, symbol)
	}

	// The feed is usually newest-first, but that ordering is not part of any
	// contract; pick the maximum asOfDate instead of trusting position 0.
	latest, date, err := newestNav(api.Data[0].NavPrices)
	if err != nil {
		return model.Price{}, err
	}
	value, err := model.ParseDecimal(latest.Price.String())
	if err != nil {
		return model.Price{}, fmt.Errorf("%w: nav price %q", quote.ErrParse, latest.Price.String())
	}

	return model.Price{
		Symbol:   symbol,
		Currency: strings.ToUpper(latest.CurrencyCode),
		Date:     date,
		Value:    value,
		Source:   s.cfg.Name,
	}, nil
}

type apiResponse struct {
	Data []struct {
		NavPrices []navPrice `json:"navPrices"`
	} `json:"data"`
}

type navPrice struct {
	AsOfDate     string      `json:"asOfDate"`
	Price        json.Number `json:"price"`
	CurrencyCode string      `json:"currencyCode"`
}

func newestNav(prices []navPrice) (navPrice, time.Time, error) {
	var best navPrice
	var bestDate time.Time
	for _, p := range prices {
		d, err := time.Parse("2006-01-02", p.AsOfDate)
		if err != nil {
			return navPrice{}, time.Time{}, fmt.Errorf("%w: asOfDate %q", quote.ErrParse, p.AsOfDate)
		}
		if bestDate.IsZero() || d.After(bestDate) {
			best, bestDate = p, d
		}
	}
	return best, bestDate, nil
}
