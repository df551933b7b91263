package model

import "github.com/shopspring/decimal"

var tokensPerMillion = decimal.NewFromInt(1_000_000)

// Cost prices outputTokens at pricePerMillion USD per million tokens.
func Cost(pricePerMillion decimal.Decimal, outputTokens int64) decimal.Decimal {
	if outputTokens <= 0 || pricePerMillion.IsZero() {
		return decimal.Zero
	}
	return pricePerMillion.Mul(decimal.NewFromInt(outputTokens)).Div(tokensPerMillion)
}
