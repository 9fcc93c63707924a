// Package view renders read-model values for display. Display strings
// are derived output; the decimal fields remain the source of truth.
package view

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.BritishEnglish)

// GBP renders a decimal amount as a sterling display string. The digits
// come from the fixed-point representation; amounts never pass through
// a float, so the pence stay exact at any magnitude.
func GBP(d decimal.Decimal) string {
	fixed := d.StringFixed(2)
	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign = "-"
		fixed = fixed[1:]
	}
	pounds, pence, _ := strings.Cut(fixed, ".")
	n, err := strconv.ParseInt(pounds, 10, 64)
	if err != nil {
		// Beyond int64 pounds; skip the digit grouping.
		return printer.Sprintf("%s%v%s.%s", sign, currency.Symbol(currency.GBP), pounds, pence)
	}
	return printer.Sprintf("%s%v%d.%s", sign, currency.Symbol(currency.GBP), n, pence)
}
