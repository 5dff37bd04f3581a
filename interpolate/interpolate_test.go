package interpolate

import (
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/ledgerforge/rledger/ast"
	"github.com/shopspring/decimal"
)

func complete(number string, currency string) *ast.IncompleteAmount {
	return &ast.IncompleteAmount{Kind: ast.AmountComplete, Number: decimal.RequireFromString(number), Currency: currency}
}

func posting(units *ast.IncompleteAmount) *ast.Posting {
	return &ast.Posting{Units: units}
}

func TestInterpolateFillsMissingPosting(t *testing.T) {
	txn := &ast.Transaction{
		Postings: []*ast.Posting{
			posting(complete("100.00", "USD")),
			posting(&ast.IncompleteAmount{Kind: ast.AmountMissing}),
		},
	}

	result, err := Interpolate(txn, nil)
	assert.NoError(t, err)
	assert.Equal(t, "USD", txn.Postings[1].Units.Currency)
	assert.True(t, txn.Postings[1].Units.Number.Equal(decimal.RequireFromString("-100.00")))
	assert.True(t, result.Residual["USD"].IsZero())
}

func TestInterpolateFillsCurrencyOnlyPosting(t *testing.T) {
	txn := &ast.Transaction{
		Postings: []*ast.Posting{
			posting(complete("50.00", "EUR")),
			posting(&ast.IncompleteAmount{Kind: ast.AmountCurrencyOnly, Currency: "EUR"}),
		},
	}

	_, err := Interpolate(txn, nil)
	assert.NoError(t, err)
	assert.True(t, txn.Postings[1].Units.Number.Equal(decimal.RequireFromString("-50.00")))
}

func TestInterpolateRejectsTwoIncompletePostings(t *testing.T) {
	txn := &ast.Transaction{
		Postings: []*ast.Posting{
			posting(&ast.IncompleteAmount{Kind: ast.AmountMissing}),
			posting(&ast.IncompleteAmount{Kind: ast.AmountMissing}),
		},
	}

	_, err := Interpolate(txn, nil)
	assert.Error(t, err)
}

func TestInterpolateRejectsAmbiguousCurrency(t *testing.T) {
	txn := &ast.Transaction{
		Postings: []*ast.Posting{
			posting(complete("100.00", "USD")),
			posting(complete("-50.00", "EUR")),
			posting(&ast.IncompleteAmount{Kind: ast.AmountMissing}),
		},
	}

	_, err := Interpolate(txn, nil)
	assert.Error(t, err)
}

func TestCalculateWeightUsesCostOverPrice(t *testing.T) {
	perUnit := decimal.RequireFromString("10")
	p := &ast.Posting{
		Units:    complete("5", "HOOL"),
		CostSpec: &ast.CostSpec{NumberPer: &perUnit, Currency: "USD"},
		Price:    complete("12", "USD"),
	}

	ws, err := CalculateWeight(p)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(ws))
	assert.Equal(t, "USD", ws[0].Currency)
	assert.True(t, ws[0].Amount.Equal(decimal.RequireFromString("50")))
}

func TestCalculateWeightPerUnitPlusTotalSurcharge(t *testing.T) {
	per := decimal.RequireFromString("150")
	total := decimal.RequireFromString("5")
	p := &ast.Posting{
		Units:    complete("2", "AAPL"),
		CostSpec: &ast.CostSpec{NumberPer: &per, NumberTotal: &total, Currency: "USD"},
	}

	ws, err := CalculateWeight(p)
	assert.NoError(t, err)
	// 2 x 150 plus the 5 USD lot surcharge.
	assert.True(t, ws[0].Amount.Equal(decimal.RequireFromString("305")))
}

func TestCalculateWeightTotalCostIsExact(t *testing.T) {
	total := decimal.RequireFromString("1750")
	p := &ast.Posting{
		Units:    complete("-15", "AAPL"),
		CostSpec: &ast.CostSpec{NumberTotal: &total, Currency: "USD"},
	}

	ws, err := CalculateWeight(p)
	assert.NoError(t, err)
	assert.True(t, ws[0].Amount.Equal(decimal.RequireFromString("-1750")))
}

func TestCalculateWeightEmptyCostContributesNothing(t *testing.T) {
	p := &ast.Posting{
		Units:    complete("-5", "HOOL"),
		CostSpec: &ast.CostSpec{Empty: true},
	}

	ws, err := CalculateWeight(p)
	assert.NoError(t, err)
	assert.Equal(t, 0, len(ws))
}

func TestInferToleranceUsesSmallestExponent(t *testing.T) {
	cfg := NewConfig()
	amounts := []decimal.Decimal{
		decimal.RequireFromString("1.50"),
		decimal.RequireFromString("2.125"),
	}
	tol := InferTolerance(amounts, "USD", cfg)
	assert.True(t, tol.Equal(decimal.RequireFromString("0.0005")))
}

func TestInferToleranceFallsBackToDefault(t *testing.T) {
	cfg := NewConfig()
	tol := InferTolerance(nil, "USD", cfg)
	assert.True(t, tol.Equal(decimal.RequireFromString("0.005")))
}
