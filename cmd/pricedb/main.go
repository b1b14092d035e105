// pricedb downloads the latest prices for tracked securities, maintains the
// flat-file price store and exports it in Ledger format.
package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"pricedb/internal/config"
	"pricedb/internal/downloader"
	"pricedb/internal/httpx"
	"pricedb/internal/model"
	"pricedb/internal/pricefile"
	"pricedb/internal/quote"
	"pricedb/internal/quote/ecb"
	"pricedb/internal/quote/vanguard"
	"pricedb/internal/quote/yahoo"
	"pricedb/internal/symbols"
)

const appName = "pricedb"

func init() {
	config.AddStringP("symbol", "s", "", "symbol to download (NAMESPACE:MNEMONIC)")
	config.AddStringP("currency", "c", "", "currency for the price")
	config.AddStringP("provider", "p", "", "provider to use for the download")
	config.AddStringP("exchange", "x", "", "only download symbols on this exchange (namespace)")
	config.AddString("prices-path", "prices.csv", "path to the prices file")
	config.AddString("symbols-path", "symbols.csv", "path to the symbols list")
	config.AddString("export", "", "write a Ledger-format export to this path")
	config.AddInt("concurrency", 4, "maximum parallel downloads in a batch")
	config.AddInt("timeout-sec", 30, "batch deadline in seconds")
}

func main() {
	_ = godotenv.Load()
	if err := config.Load(appName); err != nil {
		log.WithError(err).Fatal("configuration")
	}

	store, err := pricefile.Load(viper.GetString("prices-path"))
	if err != nil {
		log.WithError(err).WithField("path", viper.GetString("prices-path")).Fatal("cannot load price store")
	}
	log.WithFields(log.Fields{
		"path":   store.Path,
		"prices": len(store.Prices),
	}).Debug("price store loaded")

	client := httpx.New(time.Duration(viper.GetInt("timeout-sec")) * time.Second)
	dl := &downloader.Downloader{
		Registry:    buildRegistry(client),
		Store:       store,
		Concurrency: viper.GetInt("concurrency"),
		Timeout:     time.Duration(viper.GetInt("timeout-sec")) * time.Second,
	}

	ctx := context.Background()
	if sym := viper.GetString("symbol"); sym != "" {
		runSingle(ctx, dl, sym)
	} else {
		runBatch(ctx, dl)
	}

	if out := viper.GetString("export"); out != "" {
		if err := store.ExportLedger(out); err != nil {
			log.WithError(err).Fatal("ledger export failed")
		}
		log.WithField("path", out).Info("ledger export written")
	}
}

func buildRegistry(client *httpx.Client) *quote.Registry {
	r := quote.NewRegistry()
	r.Register(ecb.New(ecb.Config{}, client), "currency")
	r.Register(vanguard.New(vanguard.Config{}, client), "vanguard")
	r.Register(yahoo.New(yahoo.Config{}, client),
		"ams", "asx", "bats", "bvme", "fwb", "lse", "nasdaq", "nyse", "nysearca", "xetra")
	return r
}

func runSingle(ctx context.Context, dl *downloader.Downloader, sym string) {
	filter := model.SecurityFilter{
		Symbol:   sym,
		Currency: viper.GetString("currency"),
		Agent:    viper.GetString("provider"),
	}
	price, err := dl.Run(ctx, filter)
	if err != nil {
		log.WithError(err).WithField("symbol", sym).Fatal("download failed")
	}
	fmt.Printf("%s %s %s %s\n", price.Symbol, price.Date.Format("2006-01-02"), price.Value, price.Currency)
}

func runBatch(ctx context.Context, dl *downloader.Downloader) {
	rows, err := symbols.Load(viper.GetString("symbols-path"))
	if err != nil {
		log.WithError(err).WithField("path", viper.GetString("symbols-path")).Fatal("cannot load symbols list")
	}
	rows = symbols.Filter(rows, model.SecurityFilter{
		Currency: viper.GetString("currency"),
		Agent:    viper.GetString("provider"),
		Exchange: viper.GetString("exchange"),
	})
	if len(rows) == 0 {
		log.Warn("no symbols match the filter, nothing to download")
		return
	}

	res, err := dl.RunBatch(ctx, rows)
	if err != nil {
		log.WithError(err).Fatal("cannot save price store")
	}
	for _, price := range res.Prices {
		fmt.Printf("%s %s %s %s\n", price.Symbol, price.Date.Format("2006-01-02"), price.Value, price.Currency)
	}
	failed := make([]string, 0, len(res.Errors))
	for sym := range res.Errors {
		failed = append(failed, sym)
	}
	sort.Strings(failed)
	for _, sym := range failed {
		log.WithError(res.Errors[sym]).WithField("symbol", sym).Warn("not downloaded")
	}
	log.WithFields(log.Fields{
		"downloaded": len(res.Prices),
		"failed":     len(res.Errors),
	}).Info("batch finished")
}
