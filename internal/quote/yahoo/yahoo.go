// Package yahoo fetches equity prices from the Yahoo Finance chart API.
package yahoo

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

const defaultBaseURL = "https://query1.finance.yahoo.com/v8/finance/chart"

// namespaceSuffixes maps exchange namespaces to Yahoo's venue suffixes.
// An empty suffix means the mnemonic is used as-is; namespaces missing from
// the table pass the mnemonic through unchanged.
var namespaceSuffixes = map[string]string{
	"AMS":      "AS",
	"ASX":      "AX",
	"BATS":     "",
	"BVME":     "MI",
	"FWB":      "F",
	"LSE":      "L",
	"NASDAQ":   "",
	"NYSE":     "",
	"NYSEARCA": "",
	"XETRA":    "DE",
}

type Config struct {
	Name    string
	BaseURL string
}

type Source struct {
	cfg    Config
	client *httpx.Client
}

func New(cfg Config, hc *httpx.Client) *Source {
	if cfg.Name == "" {
		cfg.Name = "yahoo_finance"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &Source{cfg: cfg, client: hc}
}

func (s *Source) Name() string { return s.cfg.Name }

// YahooSymbol converts a security symbol to Yahoo's ticker convention,
// e.g. AMS:VEUR -> VEUR.AS, NASDAQ:OPI -> OPI.
func YahooSymbol(symbol model.SecuritySymbol) string {
	suffix, ok := namespaceSuffixes[symbol.Namespace]
	if !ok {
		suffix = symbol.Namespace
	}
	if suffix == "" {
		return symbol.Mnemonic
	}
	return symbol.Mnemonic + "." + suffix
}

func (s *Source) Fetch(ctx context.Context, symbol model.SecuritySymbol, currency string) (model.Price, error) {
	ticker := YahooSymbol(symbol)
	url := fmt.Sprintf("%s/%s?interval=1d&range=1d", s.cfg.BaseURL, ticker)
	log.WithFields(log.Fields{"symbol": symbol.String(), "ticker": ticker}).Debug("downloading chart")

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

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var api apiResponse
	if err := dec.Decode(&api); err != nil {
		return model.Price{}, fmt.Errorf("%w: decode chart: %v", quote.ErrParse, err)
	}
	if api.Chart.Error != nil {
		return model.Price{}, fmt.Errorf("%w: chart error for %s: %s", quote.ErrNoData, ticker, api.Chart.Error.Description)
	}
	if len(api.Chart.Result) == 0 || len(api.Chart.Result[0].Indicators.Quote) == 0 {
		return model.Price{}, fmt.Errorf("%w: empty chart for %s", quote.ErrNoData, ticker)
	}
	result := api.Chart.Result[0]

	// Latest price is the last non-null entry in the closing series.
	closes := result.Indicators.Quote[0].Close
	idx := -1
	for i := len(closes) - 1; i >= 0; i-- {
		if closes[i] != nil {
			idx = i
			break
		}
	}
	if idx < 0 {
		return model.Price{}, fmt.Errorf("%w: no closing price for %s", quote.ErrNoData, ticker)
	}
	value, err := model.ParseDecimal(closes[idx].String())
	if err != nil {
		return model.Price{}, fmt.Errorf("%w: close %q", quote.ErrParse, closes[idx].String())
	}

	var ts int64
	if idx < len(result.Timestamp) {
		ts = result.Timestamp[idx]
	} else {
		ts = result.Meta.RegularMarketTime
	}
	if ts <= 0 {
		return model.Price{}, fmt.Errorf("%w: no timestamp for %s", quote.ErrParse, ticker)
	}
	day := time.Unix(ts, 0).UTC()
	date := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)

	cur := strings.ToUpper(result.Meta.Currency)
	if cur == "" {
		cur = strings.ToUpper(currency)
	}

	return model.Price{
		Symbol:   symbol,
		Currency: cur,
		Date:     date,
		Value:    value,
		Source:   s.cfg.Name,
	}, nil
}

type apiResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency          string `json:"currency"`
				Symbol            string `json:"symbol"`
				RegularMarketTime int64  `json:"regularMarketTime"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*json.Number `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}
