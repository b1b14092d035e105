// Package ecb fetches currency rates from the ECB daily reference-rate feed.
package ecb

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"pricedb/internal/httpx"
	"pricedb/internal/model"
	"pricedb/internal/quote"
)

const defaultURL = "https://www.ecb.europa.eu/stats/eurofxref/eurofxref-daily.xml"

type Config struct {
	Name string
	URL  string
	// CacheDir holds the day-stamped cache files. Defaults to os.TempDir().
	CacheDir string
}

// Source downloads the ECB daily FX table. The table changes once per
// calendar day, so the raw feed body is persisted to a day-stamped file and
// reused for every call on the same local date; date rollover is the only
// invalidation.
type Source struct {
	cfg    Config
	client *httpx.Client
	sf     singleflight.Group
}

func New(cfg Config, hc *httpx.Client) *Source {
	if cfg.Name == "" {
		cfg.Name = "ecb"
	}
	if cfg.URL == "" {
		cfg.URL = defaultURL
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = os.TempDir()
	}
	return &Source{cfg: cfg, client: hc}
}

func (s *Source) Name() string { return s.cfg.Name }

func (s *Source) Fetch(ctx context.Context, symbol model.SecuritySymbol, currency string) (model.Price, error) {
	mnemonic := strings.ToUpper(symbol.Mnemonic)
	currency = strings.ToUpper(currency)
	log.WithFields(log.Fields{"symbol": mnemonic, "currency": currency}).Debug("downloading ECB rate")

	table, err := s.dailyTable(ctx)
	if err != nil {
		return model.Price{}, err
	}

	rate, ok := table.rates[mnemonic]
	if !ok {
		return model.Price{}, fmt.Errorf("%w: %s not in ECB daily table for %s", quote.ErrNoData, mnemonic, table.day)
	}
	value, err := model.ParseDecimal(rate)
	if err != nil {
		return model.Price{}, fmt.Errorf("%w: rate %q for %s", quote.ErrParse, rate, mnemonic)
	}
	date, err := time.Parse("2006-01-02", table.day)
	if err != nil {
		return model.Price{}, fmt.Errorf("%w: table date %q", quote.ErrParse, table.day)
	}

	return model.Price{
		Symbol:   symbol,
		Currency: currency,
		Date:     date,
		Value:    value,
		Source:   s.cfg.Name,
	}, nil
}

type dailyTable struct {
	day   string
	rates map[string]string
}

// dailyTable returns today's rate table, reading the day cache when present
// and coalescing concurrent refreshes of the same day.
func (s *Source) dailyTable(ctx context.Context) (dailyTable, error) {
	day := time.Now().Format("2006-01-02")
	v, err, _ := s.sf.Do(day, func() (any, error) {
		path := s.CachePath(day)
		if body, err := os.ReadFile(path); err == nil {
			log.WithField("path", path).Debug("using cached daily rates")
			return parseTable(body)
		}
		// The refresh result is shared by every coalesced caller, so it must
		// not die with whichever caller happened to start it. The HTTP client
		// timeout still bounds the download.
		body, err := s.download(context.WithoutCancel(ctx))
		if err != nil {
			return dailyTable{}, err
		}
		table, perr := parseTable(body)
		if perr != nil {
			return dailyTable{}, perr
		}
		if werr := os.WriteFile(path, body, 0o644); werr != nil {
			log.WithError(werr).WithField("path", path).Warn("cannot write daily rates cache")
		}
		return table, nil
	})
	if err != nil {
		return dailyTable{}, err
	}
	return v.(dailyTable), nil
}

// CachePath returns the cache file location for the given day stamp.
func (s *Source) CachePath(day string) string {
	return filepath.Join(s.cfg.CacheDir, "pricedb-ecb-"+day+".xml")
}

func (s *Source) download(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/xml")
	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %v", quote.ErrNetwork, s.cfg.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: GET %s -> %d", quote.ErrNetwork, s.cfg.URL, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Feed shape: Envelope > Cube > Cube[time] > Cube[currency,rate]*.
type envelope struct {
	Day struct {
		Time  string `xml:"time,attr"`
		Rates []struct {
			Currency string `xml:"currency,attr"`
			Rate     string `xml:"rate,attr"`
		} `xml:"Cube"`
	} `xml:"Cube>Cube"`
}

func parseTable(body []byte) (dailyTable, error) {
	var env envelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return dailyTable{}, fmt.Errorf("%w: decode ECB feed: %v", quote.ErrParse, err)
	}
	if env.Day.Time == "" || len(env.Day.Rates) == 0 {
		return dailyTable{}, fmt.Errorf("%w: ECB feed has no daily cube", quote.ErrParse)
	}
	rates := make(map[string]string, len(env.Day.Rates))
	for _, r := range env.Day.Rates {
		rates[strings.ToUpper(r.Currency)] = r.Rate
	}
	return dailyTable{day: env.Day.Time, rates: rates}, nil
}
