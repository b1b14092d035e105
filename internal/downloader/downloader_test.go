package downloader_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"pricedb/internal/downloader"
	"pricedb/internal/model"
	"pricedb/internal/pricefile"
	"pricedb/internal/quote"
	"pricedb/internal/symbols"
)

func newMock(t *testing.T, name string) *MockSource {
	t.Helper()
	src := NewMockSource(gomock.NewController(t))
	src.EXPECT().Name().Return(name).AnyTimes()
	return src
}

func price(t *testing.T, symbol, currency, date, value, source string) model.Price {
	t.Helper()
	sym, err := model.ParseSymbol(symbol)
	require.NoError(t, err)
	d, err := time.Parse("2006-01-02", date)
	require.NoError(t, err)
	v, err := model.ParseDecimal(value)
	require.NoError(t, err)
	return model.Price{Symbol: sym, Currency: currency, Date: d, Value: v, Source: source}
}

func newDownloader(t *testing.T, r *quote.Registry) *downloader.Downloader {
	t.Helper()
	return &downloader.Downloader{
		Registry: r,
		Store: &pricefile.PriceFile{
			Path:   filepath.Join(t.TempDir(), "prices.csv"),
			Prices: map[string]pricefile.Record{},
		},
	}
}

// Namespace dispatch: NASDAQ resolves to the source claiming it, not to the
// others.
func TestResolve_ByNamespace(t *testing.T) {
	r := quote.NewRegistry()
	r.Register(newMock(t, "ecb"), "currency")
	r.Register(newMock(t, "vanguard_au"), "vanguard")
	r.Register(newMock(t, "yahoo_finance"), "nasdaq", "nyse")
	dl := newDownloader(t, r)

	src, sym, err := dl.Resolve(model.SecurityFilter{Symbol: "NASDAQ:OPI"})
	require.NoError(t, err)
	require.Equal(t, "yahoo_finance", src.Name())
	require.Equal(t, "NASDAQ:OPI", sym.String())
}

func TestResolve_ExplicitProviderWins(t *testing.T) {
	r := quote.NewRegistry()
	r.Register(newMock(t, "ecb"), "currency")
	r.Register(newMock(t, "yahoo_finance"), "nasdaq")
	dl := newDownloader(t, r)

	src, _, err := dl.Resolve(model.SecurityFilter{Symbol: "NASDAQ:OPI", Agent: "ECB"})
	require.NoError(t, err)
	require.Equal(t, "ecb", src.Name())
}

func TestResolve_MalformedSymbol(t *testing.T) {
	dl := newDownloader(t, quote.NewRegistry())
	_, _, err := dl.Resolve(model.SecurityFilter{Symbol: "justAMnemonic"})
	require.ErrorIs(t, err, model.ErrFormat)
}

// An unknown provider name fails with UnsupportedProvider and leaves the
// store file untouched.
func TestRun_UnknownProviderLeavesStoreUntouched(t *testing.T) {
	r := quote.NewRegistry()
	r.Register(newMock(t, "ecb"), "currency")
	dl := newDownloader(t, r)

	_, err := dl.Run(context.Background(), model.SecurityFilter{Symbol: "NASDAQ:OPI", Agent: "doesnotexist"})
	require.ErrorIs(t, err, quote.ErrUnsupportedProvider)

	_, serr := os.Stat(dl.Store.Path)
	require.ErrorIs(t, serr, os.ErrNotExist)
}

func TestRun_FetchUpsertSave(t *testing.T) {
	src := newMock(t, "yahoo_finance")
	want := price(t, "NASDAQ:OPI", "USD", "2023-04-14", "20.15", "yahoo_finance")
	src.EXPECT().
		Fetch(gomock.Any(), want.Symbol, "USD").
		Return(want, nil)

	r := quote.NewRegistry()
	r.Register(src, "nasdaq")
	dl := newDownloader(t, r)

	// lower-case currency is normalized before the fetch
	got, err := dl.Run(context.Background(), model.SecurityFilter{Symbol: "NASDAQ:OPI", Currency: "usd"})
	require.NoError(t, err)
	require.Equal(t, want, got)

	loaded, err := pricefile.Load(dl.Store.Path)
	require.NoError(t, err)
	require.Len(t, loaded.Prices, 1)
	require.Equal(t, "20.15", loaded.Prices["NASDAQ:OPI"].Value.String())
}

func TestRun_FetchFailurePropagatesUnmodified(t *testing.T) {
	src := newMock(t, "yahoo_finance")
	fetchErr := errors.New("boom")
	src.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any()).Return(model.Price{}, fetchErr)

	r := quote.NewRegistry()
	r.Register(src, "nasdaq")
	dl := newDownloader(t, r)

	_, err := dl.Run(context.Background(), model.SecurityFilter{Symbol: "NASDAQ:OPI"})
	require.ErrorIs(t, err, fetchErr)

	_, serr := os.Stat(dl.Store.Path)
	require.ErrorIs(t, serr, os.ErrNotExist)
}

func TestRunBatch_PartialSuccess(t *testing.T) {
	yahoo := newMock(t, "yahoo_finance")
	yahoo.EXPECT().
		Fetch(gomock.Any(), model.SecuritySymbol{Namespace: "NASDAQ", Mnemonic: "OPI"}, "USD").
		Return(price(t, "NASDAQ:OPI", "USD", "2023-04-14", "20.15", "yahoo_finance"), nil)
	yahoo.EXPECT().
		Fetch(gomock.Any(), model.SecuritySymbol{Namespace: "NYSE", Mnemonic: "GONE"}, "USD").
		Return(model.Price{}, quote.ErrNoData)

	r := quote.NewRegistry()
	r.Register(yahoo, "nasdaq", "nyse")
	dl := newDownloader(t, r)

	rows := []symbols.Metadata{
		{Namespace: "NASDAQ", Symbol: "OPI", Currency: "USD"},
		{Namespace: "NYSE", Symbol: "GONE", Currency: "USD"},
		{Namespace: "UNCLAIMED", Symbol: "X", Currency: "USD"},
	}
	res, err := dl.RunBatch(context.Background(), rows)
	require.NoError(t, err)

	require.Len(t, res.Prices, 1)
	require.Len(t, res.Errors, 2)
	require.ErrorIs(t, res.Errors["NYSE:GONE"], quote.ErrNoData)
	require.ErrorIs(t, res.Errors["UNCLAIMED:X"], quote.ErrUnsupportedProvider)

	// one save at the end, with only the successful entry
	loaded, err := pricefile.Load(dl.Store.Path)
	require.NoError(t, err)
	require.Len(t, loaded.Prices, 1)
	require.Contains(t, loaded.Prices, "NASDAQ:OPI")
}

func TestRunBatch_LedgerSymbolRelabel(t *testing.T) {
	yahoo := newMock(t, "yahoo_finance")
	yahoo.EXPECT().
		Fetch(gomock.Any(), model.SecuritySymbol{Namespace: "AMS", Mnemonic: "VEUR"}, "EUR").
		Return(price(t, "AMS:VEUR", "EUR", "2023-04-15", "1.50", "yahoo_finance"), nil)

	r := quote.NewRegistry()
	r.Register(yahoo, "ams")
	dl := newDownloader(t, r)

	rows := []symbols.Metadata{
		{Namespace: "AMS", Symbol: "VEUR", Currency: "EUR", LedgerSymbol: "VEUR_AS"},
	}
	res, err := dl.RunBatch(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, res.Prices, 1)

	loaded, err := pricefile.Load(dl.Store.Path)
	require.NoError(t, err)
	require.Contains(t, loaded.Prices, "VEUR_AS")
	require.NotContains(t, loaded.Prices, "AMS:VEUR")
}

func TestRunBatch_ExplicitUpdaterWins(t *testing.T) {
	ecb := newMock(t, "ecb")
	ecb.EXPECT().
		Fetch(gomock.Any(), model.SecuritySymbol{Namespace: "CURRENCY", Mnemonic: "AUD"}, "EUR").
		Return(price(t, "CURRENCY:AUD", "EUR", "2023-04-14", "0.61", "ecb"), nil)

	r := quote.NewRegistry()
	r.Register(ecb, "currency")
	// yahoo also claims nothing relevant; the updater column must decide
	r.Register(newMock(t, "yahoo_finance"), "nasdaq")
	dl := newDownloader(t, r)

	rows := []symbols.Metadata{
		{Namespace: "CURRENCY", Symbol: "AUD", Currency: "EUR", Updater: "ecb"},
	}
	res, err := dl.RunBatch(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, res.Prices, 1)
	require.Empty(t, res.Errors)
}

// A fetch still pending when the batch deadline hits is reported as a
// network failure for its symbol.
func TestRunBatch_DeadlineIsNetworkError(t *testing.T) {
	yahoo := newMock(t, "yahoo_finance")
	yahoo.EXPECT().
		Fetch(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ model.SecuritySymbol, _ string) (model.Price, error) {
			<-ctx.Done()
			return model.Price{}, ctx.Err()
		})

	r := quote.NewRegistry()
	r.Register(yahoo, "nasdaq")
	dl := newDownloader(t, r)
	dl.Timeout = 10 * time.Millisecond

	res, err := dl.RunBatch(context.Background(), []symbols.Metadata{
		{Namespace: "NASDAQ", Symbol: "OPI", Currency: "USD"},
	})
	require.NoError(t, err)
	require.ErrorIs(t, res.Errors["NASDAQ:OPI"], quote.ErrNetwork)

	_, serr := os.Stat(dl.Store.Path)
	require.ErrorIs(t, serr, os.ErrNotExist)
}

// A fetch that completes after the deadline with a terminal answer keeps
// its class: "no data" must not be rewritten into a network failure.
func TestRunBatch_LateTerminalErrorKeepsItsClass(t *testing.T) {
	yahoo := newMock(t, "yahoo_finance")
	yahoo.EXPECT().
		Fetch(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ model.SecuritySymbol, _ string) (model.Price, error) {
			<-ctx.Done()
			time.Sleep(50 * time.Millisecond)
			return model.Price{}, quote.ErrNoData
		})

	r := quote.NewRegistry()
	r.Register(yahoo, "nasdaq")
	dl := newDownloader(t, r)
	dl.Timeout = 10 * time.Millisecond

	res, err := dl.RunBatch(context.Background(), []symbols.Metadata{
		{Namespace: "NASDAQ", Symbol: "OPI", Currency: "USD"},
	})
	require.NoError(t, err)
	require.ErrorIs(t, res.Errors["NASDAQ:OPI"], quote.ErrNoData)
	require.NotErrorIs(t, res.Errors["NASDAQ:OPI"], quote.ErrNetwork)
}

func TestRunBatch_NoSuccessesWritesNothing(t *testing.T) {
	yahoo := newMock(t, "yahoo_finance")
	yahoo.EXPECT().
		Fetch(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(model.Price{}, quote.ErrNoData)

	r := quote.NewRegistry()
	r.Register(yahoo, "nasdaq")
	dl := newDownloader(t, r)

	res, err := dl.RunBatch(context.Background(), []symbols.Metadata{
		{Namespace: "NASDAQ", Symbol: "OPI", Currency: "USD"},
	})
	require.NoError(t, err)
	require.Empty(t, res.Prices)
	require.Len(t, res.Errors, 1)

	_, serr := os.Stat(dl.Store.Path)
	require.ErrorIs(t, serr, os.ErrNotExist)
}
