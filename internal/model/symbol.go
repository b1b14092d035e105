package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrFormat reports malformed symbol or decimal text. It is local to the
// input and never worth retrying.
var ErrFormat = errors.New("format error")

// SecuritySymbol identifies an instrument as namespace:mnemonic,
// e.g. "NASDAQ:OPI". Both parts are case-preserved as given.
type SecuritySymbol struct {
	Namespace string
	Mnemonic  string
}

// ParseSymbol parses the canonical "NAMESPACE:MNEMONIC" form. Zero or more
// than one colon, or an empty side, is a format error.
func ParseSymbol(text string) (SecuritySymbol, error) {
	parts := strings.Split(text, ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return SecuritySymbol{}, fmt.Errorf("%w: invalid symbol %q", ErrFormat, text)
	}
	return SecuritySymbol{Namespace: parts[0], Mnemonic: parts[1]}, nil
}

func (s SecuritySymbol) String() string {
	return s.Namespace + ":" + s.Mnemonic
}
