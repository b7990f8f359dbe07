// Package currency maps marketplace domains to their expected currency and
// rejects price signals whose currency does not match. A geo-redirected page
// fetch can report a price in the wrong currency; accepting it would corrupt
// the tracked price with no conversion applied, so mismatches are dropped and
// the cycle falls back to the historical source.
package currency

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/currency"
	"gopkg.in/yaml.v3"

	"github.com/dropwatch/dropwatch/internal/model"
)

// ErrMismatch is returned when a signal's currency differs from the domain's
// expected currency.
var ErrMismatch = eris.New("currency: signal currency does not match domain")

// defaultTable covers the marketplace regions the tracker supports out of the
// box. A yaml file can extend or override it.
var defaultTable = map[string]string{
	"amazon.com":    "USD",
	"amazon.ca":     "CAD",
	"amazon.com.mx": "MXN",
	"amazon.co.uk":  "GBP",
	"amazon.de":     "EUR",
	"amazon.fr":     "EUR",
	"amazon.it":     "EUR",
	"amazon.es":     "EUR",
	"amazon.co.jp":  "JPY",
	"amazon.in":     "INR",
}

// Table resolves a marketplace domain to its expected ISO 4217 currency code.
type Table struct {
	domains map[string]string
}

// NewTable returns the built-in domain table.
func NewTable() *Table {
	m := make(map[string]string, len(defaultTable))
	for k, v := range defaultTable {
		m[k] = v
	}
	return &Table{domains: m}
}

// LoadTable reads domain→currency overrides from a yaml file and merges them
// over the built-in table. Every code must be a valid ISO 4217 unit.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "currency: read table %s", path)
	}

	var wrapper struct {
		Domains map[string]string `yaml:"domains"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "currency: parse table")
	}

	t := NewTable()
	for dom, code := range wrapper.Domains {
		code = strings.ToUpper(strings.TrimSpace(code))
		if _, err := currency.ParseISO(code); err != nil {
			return nil, eris.Wrapf(err, "currency: invalid code %q for domain %s", code, dom)
		}
		t.domains[strings.ToLower(dom)] = code
	}
	return t, nil
}

// Expected returns the currency code for a domain. Unknown domains report
// ok=false; the caller decides whether to skip validation or reject.
func (t *Table) Expected(domain string) (string, bool) {
	code, ok := t.domains[strings.ToLower(strings.TrimSpace(domain))]
	return code, ok
}

// Validate passes the signal through unchanged when its currency matches the
// domain's expected currency, and returns ErrMismatch otherwise. A signal for
// an unknown domain is rejected too: without an expectation the price cannot
// be trusted.
func (t *Table) Validate(domain string, sig model.PriceSignal) (model.PriceSignal, error) {
	expected, ok := t.Expected(domain)
	if !ok {
		return model.PriceSignal{}, eris.Wrapf(ErrMismatch, "no expected currency for domain %s", domain)
	}
	if !strings.EqualFold(sig.Currency, expected) {
		return model.PriceSignal{}, eris.Wrapf(ErrMismatch, "domain %s expects %s, signal is %s", domain, expected, sig.Currency)
	}
	return sig, nil
}

// Format renders an amount with its currency symbol for event payloads.
func Format(amount float64, code string) string {
	unit, err := currency.ParseISO(strings.ToUpper(code))
	if err != nil {
		return fmt.Sprintf("%.2f %s", amount, strings.ToUpper(code))
	}
	return fmt.Sprintf("%v%.2f", currency.Symbol(unit), amount)
}
