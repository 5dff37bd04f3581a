package validate

import (
	"context"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/ledgerforge/rledger/ast"
	"github.com/ledgerforge/rledger/diagnostics"
	"github.com/ledgerforge/rledger/parser"
	"github.com/shopspring/decimal"
)

func validateSource(t *testing.T, source string) *Result {
	t.Helper()
	tree, errs := parser.Parse("test.beancount", []byte(source))
	assert.False(t, errs.HasErrors(), "parse errors: %v", errs)
	cfg, err := ConfigFromOptions(OptionsFromAST(tree))
	assert.NoError(t, err)
	return New(cfg).Validate(context.Background(), tree.Directives)
}

func codes(ds diagnostics.List) []diagnostics.Code {
	out := make([]diagnostics.Code, len(ds))
	for i, d := range ds {
		out[i] = d.Code
	}
	return out
}

func hasCode(ds diagnostics.List, code diagnostics.Code) bool {
	for _, d := range ds {
		if d.Code == code {
			return true
		}
	}
	return false
}

func TestInterpolationFillsOneMissingAmount(t *testing.T) {
	result := validateSource(t, `
2024-01-01 open Expenses:Food
2024-01-01 open Assets:Cash

2024-01-15 * "Coffee"
  Expenses:Food   5.00 USD
  Assets:Cash
`)
	assert.False(t, result.Diagnostics.HasErrors(), "unexpected diagnostics: %v", codes(result.Diagnostics))
	assert.True(t, result.Inventory("Assets:Cash").Total("USD").Equal(decimal.RequireFromString("-5.00")))
	assert.True(t, result.Inventory("Expenses:Food").Total("USD").Equal(decimal.RequireFromString("5.00")))
}

func TestBalanceAssertionWithExplicitPad(t *testing.T) {
	result := validateSource(t, `
2024-01-01 open Assets:Bank
2024-01-01 open Equity:Opening
2024-01-01 pad Assets:Bank Equity:Opening
2024-01-02 balance Assets:Bank  1000.00 USD
`)
	assert.False(t, result.Diagnostics.HasErrors(), "unexpected diagnostics: %v", codes(result.Diagnostics))
	assert.True(t, result.Inventory("Assets:Bank").Total("USD").Equal(decimal.RequireFromString("1000.00")))
	assert.True(t, result.Inventory("Equity:Opening").Total("USD").Equal(decimal.RequireFromString("-1000.00")))

	// The consumed pad inserts a synthetic "P" transaction into the
	// validated stream, dated at the pad.
	var padTxn *ast.Transaction
	for _, d := range result.Directives {
		if txn, ok := d.(*ast.Transaction); ok && txn.Flag == "P" {
			padTxn = txn
		}
	}
	assert.NotZero(t, padTxn)
	assert.Equal(t, 2, len(padTxn.Postings))
}

func TestPadConservesValueAcrossPair(t *testing.T) {
	result := validateSource(t, `
2024-01-01 open Assets:Bank
2024-01-01 open Equity:Opening

2024-01-02 * "Seed"
  Assets:Bank   250.00 USD
  Equity:Opening

2024-01-03 pad Assets:Bank Equity:Opening
2024-01-04 balance Assets:Bank  1000.00 USD
`)
	assert.False(t, result.Diagnostics.HasErrors())
	total := result.Inventory("Assets:Bank").Total("USD").
		Add(result.Inventory("Equity:Opening").Total("USD"))
	assert.True(t, total.IsZero(), "pad adjustment must conserve value, got %s", total)
}

func TestAmbiguousStrictReduction(t *testing.T) {
	result := validateSource(t, `
2024-01-01 open Assets:Broker "STRICT"
2024-01-01 open Assets:Cash

2024-01-02 * "Buy low"
  Assets:Broker  10 AAPL {150 USD}
  Assets:Cash    -1500 USD

2024-01-03 * "Buy high"
  Assets:Broker  10 AAPL {160 USD}
  Assets:Cash    -1600 USD

2024-01-04 * "Ambiguous sell"
  Assets:Broker  -3 AAPL {} @ 170 USD
  Assets:Cash    510 USD
`)
	assert.True(t, hasCode(result.Diagnostics, diagnostics.BookingAmbiguous),
		"expected E4003, got %v", codes(result.Diagnostics))
	// The failed reduction applies no state change.
	assert.True(t, result.Inventory("Assets:Broker").Total("AAPL").Equal(decimal.RequireFromString("20")))
}

func TestFIFOCostBasisAcrossTwoLots(t *testing.T) {
	result := validateSource(t, `
2024-01-01 open Assets:Broker "FIFO"
2024-01-01 open Assets:Cash
2024-01-01 open Income:Gains

2024-01-01 * "Buy first lot"
  Assets:Broker  10 AAPL {100 USD}
  Assets:Cash    -1000 USD

2024-02-01 * "Buy second lot"
  Assets:Broker  10 AAPL {150 USD}
  Assets:Cash    -1500 USD

2024-03-01 * "Sell"
  Assets:Broker  -15 AAPL {}
  Assets:Cash    1750 USD
`)
	assert.False(t, result.Diagnostics.HasErrors(), "unexpected diagnostics: %v", codes(result.Diagnostics))
	lots := result.Inventory("Assets:Broker").Lots("AAPL")
	assert.Equal(t, 1, len(lots))
	assert.True(t, lots[0].Units.Equal(decimal.RequireFromString("5")))
	assert.True(t, lots[0].Cost.Number.Equal(decimal.RequireFromString("150")))
}

func TestPushtagStacking(t *testing.T) {
	tree, errs := parser.Parse("test.beancount", []byte(`
pushtag #trip
2024-01-15 * "Taxi"
  Expenses:Travel  50 USD
  Assets:Cash
poptag #trip
2024-01-16 * "Coffee"
  Expenses:Food    5 USD
  Assets:Cash
`))
	assert.False(t, errs.HasErrors())

	var taxi, coffee *ast.Transaction
	for _, d := range tree.Directives {
		if txn, ok := d.(*ast.Transaction); ok {
			switch txn.Narration {
			case "Taxi":
				taxi = txn
			case "Coffee":
				coffee = txn
			}
		}
	}
	assert.Equal(t, []ast.Tag{"trip"}, taxi.Tags)
	assert.Equal(t, 0, len(coffee.Tags))
}

func TestAccountUsedBeforeOpen(t *testing.T) {
	result := validateSource(t, `
2024-01-01 open Assets:Cash

2024-01-02 * "Mystery income"
  Assets:Cash     5.00 USD
  Income:Unknown  -5.00 USD
`)
	assert.True(t, hasCode(result.Diagnostics, diagnostics.AccountUsedBeforeOpen))
}

func TestDuplicateOpen(t *testing.T) {
	result := validateSource(t, `
2024-01-01 open Assets:Cash
2024-02-01 open Assets:Cash
`)
	assert.True(t, hasCode(result.Diagnostics, diagnostics.DuplicateOpen))
}

func TestAccountUsedAfterClose(t *testing.T) {
	result := validateSource(t, `
2024-01-01 open Assets:Cash
2024-01-01 open Expenses:Food
2024-02-01 close Assets:Cash

2024-03-01 * "Too late"
  Expenses:Food  5.00 USD
  Assets:Cash
`)
	assert.True(t, hasCode(result.Diagnostics, diagnostics.AccountUsedAfterClose))
}

func TestTransactionOnCloseDayIsAllowed(t *testing.T) {
	result := validateSource(t, `
2024-01-01 open Assets:Cash
2024-01-01 open Expenses:Food

2024-02-01 * "Last call"
  Expenses:Food  5.00 USD
  Assets:Cash

2024-02-01 close Assets:Cash
`)
	for _, d := range result.Diagnostics {
		assert.NotEqual(t, diagnostics.AccountUsedAfterClose, d.Code)
	}
}

func TestCloseWithNonZeroBalanceWarns(t *testing.T) {
	result := validateSource(t, `
2024-01-01 open Assets:Cash
2024-01-01 open Income:Salary

2024-01-15 * "Pay"
  Assets:Cash    100.00 USD
  Income:Salary

2024-02-01 close Assets:Cash
`)
	assert.True(t, hasCode(result.Diagnostics, diagnostics.CloseNonZeroBalance))
	assert.False(t, result.Diagnostics.HasErrors())
}

func TestBalanceAssertionFailure(t *testing.T) {
	result := validateSource(t, `
2024-01-01 open Assets:Bank
2024-01-01 open Income:Salary

2024-01-15 * "Pay"
  Assets:Bank    100.00 USD
  Income:Salary

2024-02-01 balance Assets:Bank  500.00 USD
`)
	assert.True(t, hasCode(result.Diagnostics, diagnostics.BalanceAssertionFailed))
}

func TestPadWithoutBalance(t *testing.T) {
	result := validateSource(t, `
2024-01-01 open Assets:Bank
2024-01-01 open Equity:Opening
2024-01-02 pad Assets:Bank Equity:Opening
`)
	assert.True(t, hasCode(result.Diagnostics, diagnostics.PadWithoutBalance))
}

func TestMultiplePadsBeforeSameBalance(t *testing.T) {
	result := validateSource(t, `
2024-01-01 open Assets:Bank
2024-01-01 open Equity:Opening
2024-01-02 pad Assets:Bank Equity:Opening
2024-01-03 pad Assets:Bank Equity:Opening
2024-01-04 balance Assets:Bank  100.00 USD
`)
	assert.True(t, hasCode(result.Diagnostics, diagnostics.MultiplePadsBeforeSame))
	// The last pad still applies; the assertion itself holds.
	assert.True(t, result.Inventory("Assets:Bank").Total("USD").Equal(decimal.RequireFromString("100.00")))
}

func TestTransactionDoesNotBalance(t *testing.T) {
	result := validateSource(t, `
2024-01-01 open Assets:Cash
2024-01-01 open Expenses:Food

2024-01-15 * "Off by one"
  Expenses:Food  5.00 USD
  Assets:Cash    -4.00 USD
`)
	assert.True(t, hasCode(result.Diagnostics, diagnostics.TransactionDoesNotBalance))
}

func TestMultipleMissingAmounts(t *testing.T) {
	result := validateSource(t, `
2024-01-01 open Assets:Cash
2024-01-01 open Expenses:Food
2024-01-01 open Expenses:Rent

2024-01-15 * "Too vague"
  Expenses:Food
  Expenses:Rent
  Assets:Cash  -50.00 USD
`)
	assert.True(t, hasCode(result.Diagnostics, diagnostics.MultipleMissingAmounts))
}

func TestNoPostings(t *testing.T) {
	date, _ := ast.NewDate("2024-01-15")
	txn := &ast.Transaction{Date: date, Flag: "*", Narration: "empty"}
	result := New(nil).Validate(context.Background(), ast.Directives{txn})
	assert.True(t, hasCode(result.Diagnostics, diagnostics.NoPostings))
}

func TestSinglePostingWarns(t *testing.T) {
	result := validateSource(t, `
2024-01-01 open Assets:Cash

2024-01-15 * "Lonely"
  Assets:Cash  0.00 USD
`)
	assert.True(t, hasCode(result.Diagnostics, diagnostics.SinglePosting))
	assert.False(t, result.Diagnostics.HasErrors())
}

func TestStrictCurrenciesRequireDeclaration(t *testing.T) {
	result := validateSource(t, `
option "strict_currencies" "TRUE"

2024-01-01 commodity USD
2024-01-01 open Assets:Cash
2024-01-01 open Expenses:Food

2024-01-15 * "Undeclared"
  Expenses:Food  5.00 EUR
  Assets:Cash    -5.00 EUR
`)
	assert.True(t, hasCode(result.Diagnostics, diagnostics.UndeclaredCurrency))
}

func TestCurrencyNotAllowedInAccount(t *testing.T) {
	result := validateSource(t, `
2024-01-01 open Assets:Cash USD
2024-01-01 open Expenses:Food

2024-01-15 * "Wrong currency"
  Expenses:Food  5.00 EUR
  Assets:Cash    -5.00 EUR
`)
	assert.True(t, hasCode(result.Diagnostics, diagnostics.CurrencyNotAllowed))
}

func TestDateOutOfOrderIsInformational(t *testing.T) {
	result := validateSource(t, `
2024-01-01 open Assets:Cash
2024-01-01 open Expenses:Food

2024-03-01 * "Later"
  Expenses:Food  5.00 USD
  Assets:Cash

2024-02-01 * "Earlier in time, later in file"
  Expenses:Food  5.00 USD
  Assets:Cash
`)
	assert.True(t, hasCode(result.Diagnostics, diagnostics.DateOutOfOrder))
	assert.False(t, result.Diagnostics.HasErrors())
}

func TestValidationDoesNotMutateParsedTransactions(t *testing.T) {
	tree, errs := parser.Parse("test.beancount", []byte(`
2024-01-01 open Assets:Cash
2024-01-01 open Expenses:Food

2024-01-15 * "Coffee"
  Expenses:Food   5.00 USD
  Assets:Cash
`))
	assert.False(t, errs.HasErrors())
	New(nil).Validate(context.Background(), tree.Directives)

	// The original parsed transaction keeps its elided posting; only the
	// validated stream carries the completed clone.
	for _, d := range tree.Directives {
		if txn, ok := d.(*ast.Transaction); ok {
			assert.False(t, txn.Postings[1].Units.Complete())
		}
	}
}

func TestCancellationReturnsPartialDiagnostics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tree, errs := parser.Parse("test.beancount", []byte(`
2024-01-01 open Assets:Cash
`))
	assert.False(t, errs.HasErrors())
	result := New(nil).Validate(ctx, tree.Directives)
	assert.True(t, result.Cancelled)
	assert.Zero(t, result.Directives)
}
