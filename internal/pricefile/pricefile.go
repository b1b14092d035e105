// Package pricefile is the flat-file price store: one latest price per
// symbol, backed by a CSV table and exportable in Ledger price syntax.
package pricefile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"pricedb/internal/model"
)

var header = []string{"Symbol", "Currency", "Date", "Time", "Value", "Source"}

// Record is one row in the prices file. Symbol is plain text: the file often
// holds ledger-style mnemonics such as "VEUR_AS" rather than the canonical
// NAMESPACE:MNEMONIC form.
type Record struct {
	Symbol   string
	Currency string
	Date     time.Time
	Time     time.Time // zero means no time of day
	Value    model.Decimal
	Source   string
}

// FromPrice converts a downloaded price into a store record.
func FromPrice(p model.Price) Record {
	return Record{
		Symbol:   p.Symbol.String(),
		Currency: p.Currency,
		Date:     p.Date,
		Time:     p.Time,
		Value:    p.Value,
		Source:   p.Source,
	}
}

// PriceFile holds the latest known price per symbol. The store keeps no
// history: a later record for the same symbol overwrites, never appends.
type PriceFile struct {
	Path   string
	Prices map[string]Record
}

// Load reads the store from path. A missing file yields an empty store.
// Rows are parsed independently: a malformed row is skipped with a warning
// so one corrupt line cannot lose the rest of the price history. The Source
// column was added after files without it already existed, so a five-column
// row is accepted with an empty source.
func Load(path string) (*PriceFile, error) {
	pf := &PriceFile{Path: path, Prices: map[string]Record{}}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return pf, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open price file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	if _, err := r.Read(); err != nil { // header
		if errors.Is(err, io.EOF) {
			return pf, nil
		}
		return nil, fmt.Errorf("read price file header: %w", err)
	}

	line := 1
	for {
		line++
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.WithError(err).WithField("line", line).Warn("skipping unreadable price row")
			continue
		}
		rec, err := parseRow(row)
		if err != nil {
			log.WithError(err).WithField("line", line).Warn("skipping malformed price row")
			continue
		}
		pf.Prices[rec.Symbol] = rec
	}
	return pf, nil
}

func parseRow(row []string) (Record, error) {
	if len(row) < 5 {
		return Record{}, fmt.Errorf("want at least 5 columns, got %d", len(row))
	}
	date, err := time.Parse("2006-01-02", row[2])
	if err != nil {
		return Record{}, fmt.Errorf("date %q: %w", row[2], err)
	}
	var tod time.Time
	if row[3] != "" {
		tod, err = time.Parse("15:04:05", row[3])
		if err != nil {
			return Record{}, fmt.Errorf("time %q: %w", row[3], err)
		}
	}
	value, err := model.ParseDecimal(row[4])
	if err != nil {
		return Record{}, err
	}
	source := ""
	if len(row) > 5 {
		source = row[5]
	}
	return Record{
		Symbol:   row[0],
		Currency: row[1],
		Date:     date,
		Time:     tod,
		Value:    value,
		Source:   source,
	}, nil
}

// Upsert inserts or replaces the record keyed by its symbol text.
func (pf *PriceFile) Upsert(rec Record) {
	pf.Prices[rec.Symbol] = rec
}

// Save rewrites the whole file sorted by (date, time-or-midnight, symbol),
// creating parent directories when absent. The store size is bounded by the
// number of tracked symbols, so a full rewrite per save is fine.
func (pf *PriceFile) Save() error {
	if dir := filepath.Dir(pf.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create price file directory: %w", err)
		}
	}
	f, err := os.Create(pf.Path)
	if err != nil {
		return fmt.Errorf("create price file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, rec := range pf.sorted() {
		row := []string{
			rec.Symbol,
			rec.Currency,
			rec.Date.Format("2006-01-02"),
			formatTime(rec.Time),
			rec.Value.String(),
			rec.Source,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// ExportLedger writes every entry as a Ledger price declaration:
// P <date>[ <time>] <symbol> <value> <currency>
func (pf *PriceFile) ExportLedger(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create ledger export: %w", err)
	}
	defer f.Close()

	for _, rec := range pf.sorted() {
		tod := ""
		if !rec.Time.IsZero() {
			tod = " " + rec.Time.Format("15:04:05")
		}
		line := fmt.Sprintf("P %s%s %s %s %s\n",
			rec.Date.Format("2006-01-02"), tod, rec.Symbol, rec.Value, rec.Currency)
		if _, err := io.WriteString(f, line); err != nil {
			return err
		}
	}
	return nil
}

func (pf *PriceFile) sorted() []Record {
	out := make([]Record, 0, len(pf.Prices))
	for _, rec := range pf.Prices {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := sortStamp(out[i]), sortStamp(out[j])
		if !a.Equal(b) {
			return a.Before(b)
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// sortStamp combines the date with the time of day, treating a missing time
// as midnight.
func sortStamp(rec Record) time.Time {
	d, t := rec.Date, rec.Time
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("15:04:05")
}
