// Package quote defines the contract shared by all price sources and the
// registry that dispatches a symbol to one of them.
package quote

import (
	"context"
	"errors"

	"pricedb/internal/model"
)

//go:generate mockgen -destination=../downloader/mock_source_test.go -package=downloader_test pricedb/internal/quote Source

// Source fetches exactly one price for a symbol/currency pair from one
// external data source. Implementations are independent of each other; new
// sources are added by registering them, not by touching the dispatcher.
type Source interface {
	Name() string
	Fetch(ctx context.Context, symbol model.SecuritySymbol, currency string) (model.Price, error)
}

var (
	// ErrUnsupportedSymbol means no source can service this symbol.
	// Terminal for the symbol; a batch continues.
	ErrUnsupportedSymbol = errors.New("unsupported symbol")

	// ErrUnsupportedProvider means the requested provider name, or the
	// symbol's namespace, is not registered.
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// ErrNetwork is a transient transport failure. Retrying is up to the
	// owning source, since failure semantics differ per external API.
	ErrNetwork = errors.New("network error")

	// ErrNoData means the source responded but had nothing usable for this
	// symbol and date.
	ErrNoData = errors.New("no data available")

	// ErrParse means the external source returned a malformed response.
	ErrParse = errors.New("parse error")
)
