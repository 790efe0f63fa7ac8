package domain

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var usdPrinter = message.NewPrinter(language.AmericanEnglish)

// FormatUSD renders an amount held in cents as a shopper-facing dollar
// string, e.g. 4250 -> "$42.50". Used for receipt display totals and
// field-level validation messages.
func FormatUSD(cents int64) string {
	negative := cents < 0
	if negative {
		cents = -cents
	}
	out := usdPrinter.Sprintf("$%v", number.Decimal(float64(cents)/100,
		number.MinFractionDigits(2), number.MaxFractionDigits(2)))
	if negative {
		return "-" + out
	}
	return out
}
