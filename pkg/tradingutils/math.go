package tradingutils

import (
	"github.com/shopspring/decimal"
)

// RoundPrice rounds a price to the specified decimals
func RoundPrice(price decimal.Decimal, priceDecimals int) decimal.Decimal {
	return price.Round(int32(priceDecimals))
}

// RoundQuantity rounds a quantity to the specified decimals
func RoundQuantity(qty decimal.Decimal, qtyDecimals int) decimal.Decimal {
	return qty.Round(int32(qtyDecimals))
}
