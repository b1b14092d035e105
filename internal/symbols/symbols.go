// Package symbols loads the tracked-instrument list (symbols.csv) and
// applies the CLI security filter to it.
package symbols

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"

	"pricedb/internal/model"
)

// Metadata is one row in the symbols file. The downloader consumes
// namespace/symbol/currency/updater; the remaining columns are alternate
// spellings of the symbol at various collaborators.
type Metadata struct {
	Namespace     string
	Symbol        string
	Currency      string
	Updater       string
	UpdaterSymbol string
	LedgerSymbol  string
	IBSymbol      string
	Remarks       string
}

// SecuritySymbol returns the canonical symbol for the row, preferring the
// updater-specific mnemonic when one is given.
func (m Metadata) SecuritySymbol() model.SecuritySymbol {
	mnemonic := m.Symbol
	if m.UpdaterSymbol != "" {
		mnemonic = m.UpdaterSymbol
	}
	return model.SecuritySymbol{Namespace: m.Namespace, Mnemonic: mnemonic}
}

// Load reads the symbols file. Unlike the price store, a missing symbols
// file is a hard error: without it there is nothing to download.
func Load(path string) ([]Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open symbols file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	if _, err := r.Read(); err != nil { // header
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read symbols header: %w", err)
	}

	var out []Metadata
	line := 1
	for {
		line++
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.WithError(err).WithField("line", line).Warn("skipping unreadable symbols row")
			continue
		}
		if len(row) < 2 || row[1] == "" {
			log.WithField("line", line).Warn("skipping symbols row without a symbol")
			continue
		}
		out = append(out, fromRow(row))
	}
	return out, nil
}

func fromRow(row []string) Metadata {
	get := func(i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}
	return Metadata{
		Namespace:     get(0),
		Symbol:        get(1),
		Currency:      get(2),
		Updater:       get(3),
		UpdaterSymbol: get(4),
		LedgerSymbol:  get(5),
		IBSymbol:      get(6),
		Remarks:       get(7),
	}
}

// Filter returns the rows matching the security filter. Empty filter fields
// match every row.
func Filter(list []Metadata, f model.SecurityFilter) []Metadata {
	var out []Metadata
	for _, m := range list {
		if matches(m, f) {
			out = append(out, m)
		}
	}
	return out
}

func matches(m Metadata, f model.SecurityFilter) bool {
	if f.Currency != "" && !strings.EqualFold(m.Currency, f.Currency) {
		return false
	}
	if f.Agent != "" && !strings.EqualFold(m.Updater, f.Agent) {
		return false
	}
	if f.Exchange != "" && !strings.EqualFold(m.Namespace, f.Exchange) {
		return false
	}
	if f.Symbol != "" &&
		!strings.EqualFold(m.Symbol, f.Symbol) &&
		!strings.EqualFold(m.Namespace+":"+m.Symbol, f.Symbol) {
		return false
	}
	return true
}
