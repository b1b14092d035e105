// Package model holds the domain types shared by the quote providers, the
// price store and the downloader: security symbols, exact decimal values and
// downloaded prices.
package model

import "time"

// Price is the downloaded price for a security. Created by a quote source,
// consumed by the price store; never mutated after creation.
type Price struct {
	Symbol   SecuritySymbol
	Currency string
	Date     time.Time
	// Time is the optional time of day. The zero value means the source
	// reported no intraday time.
	Time   time.Time
	Value  Decimal
	Source string
}

// SecurityFilter selects the securities for which to download prices.
// Empty fields match everything.
type SecurityFilter struct {
	Currency string
	Agent    string
	Exchange string
	Symbol   string
}
