package rledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/ledgerforge/rledger/booking"
	"github.com/shopspring/decimal"
)

const exampleLedger = `
option "operating_currency" "USD"

2024-01-01 open Assets:Bank
2024-01-01 open Assets:Broker "FIFO"
2024-01-01 open Equity:Opening
2024-01-01 open Expenses:Food
2024-01-01 open Income:Salary

2024-01-01 pad Assets:Bank Equity:Opening
2024-01-02 balance Assets:Bank  1000.00 USD

2024-01-05 * "Pay" "January salary"
  Assets:Bank    5000.00 USD
  Income:Salary

2024-01-10 * "Coffee"
  Expenses:Food  4.50 USD
  Assets:Bank

2024-02-01 * "Buy AAPL"
  Assets:Broker  10 AAPL {150.00 USD} @ 151.00 USD
  Assets:Bank

2024-03-01 price AAPL  160.00 USD

2024-03-10 query "food" "SELECT account, SUM(position) AS s WHERE account ~ 'Food' GROUP BY account"
`

func loadExample(t *testing.T) *Ledger {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "main.beancount")
	assert.NoError(t, os.WriteFile(path, []byte(exampleLedger), 0o644))
	ledger, err := Load(context.Background(), path, WithoutCache())
	assert.NoError(t, err)
	return ledger
}

func TestLoadEndToEnd(t *testing.T) {
	ledger := loadExample(t)
	assert.False(t, ledger.HasErrors(), "diagnostics: %v", ledger.Diagnostics)

	// Pad fills the bank to 1000, then salary adds 5000, coffee and the
	// broker purchase draw down.
	bank := ledger.Inventory("Assets:Bank").Total("USD")
	assert.True(t, bank.Equal(decimal.RequireFromString("4495.50")), "bank = %s", bank)
	assert.True(t, ledger.Inventory("Equity:Opening").Total("USD").Equal(decimal.RequireFromString("-1000.00")))

	lots := ledger.Inventory("Assets:Broker").Lots("AAPL")
	assert.Equal(t, 1, len(lots))
	assert.True(t, lots[0].Cost.Number.Equal(decimal.RequireFromString("150.00")))
}

func TestPriceDatabaseFromDirectivesAndAnnotations(t *testing.T) {
	ledger := loadExample(t)

	// The explicit price directive wins at its date.
	date := ledger.Directives[len(ledger.Directives)-1].GetDate()
	rate, ok := ledger.Prices.Lookup(date, "AAPL", "USD")
	assert.True(t, ok)
	assert.True(t, rate.Equal(decimal.RequireFromString("160.00")))
}

func TestQueryOverLoadedLedger(t *testing.T) {
	ledger := loadExample(t)
	table, err := ledger.Query(context.Background(),
		`SELECT account, SUM(position) AS s GROUP BY account ORDER BY account`)
	assert.NoError(t, err)
	assert.True(t, len(table.Rows) >= 4)
	assert.Equal(t, "Assets:Bank", table.Rows[0][0].(string))
}

func TestNamedQuery(t *testing.T) {
	ledger := loadExample(t)
	table, err := ledger.NamedQuery(context.Background(), "food")
	assert.NoError(t, err)
	assert.Equal(t, 1, len(table.Rows))
	inv := table.Rows[0][1].(*booking.Inventory)
	assert.True(t, inv.Total("USD").Equal(decimal.RequireFromString("4.50")))

	_, err = ledger.NamedQuery(context.Background(), "missing")
	assert.Error(t, err)
}

func TestLoadBytes(t *testing.T) {
	ledger, err := LoadBytes(context.Background(), "inline.beancount", []byte(`
2024-01-01 open Assets:Cash
2024-01-01 open Expenses:Food

2024-01-02 * "Snack"
  Expenses:Food  2.00 USD
  Assets:Cash
`))
	assert.NoError(t, err)
	assert.False(t, ledger.HasErrors())
	assert.True(t, ledger.Inventory("Assets:Cash").Total("USD").Equal(decimal.RequireFromString("-2.00")))
}

func TestSyntaxErrorsAccumulate(t *testing.T) {
	ledger, err := LoadBytes(context.Background(), "broken.beancount", []byte(`
2024-01-01 open Assets:Cash
2024-01-02 frobnicate What
2024-01-03 open Expenses:Food
`))
	assert.NoError(t, err)
	assert.True(t, ledger.SyntaxErrors.HasErrors())
	// The malformed line does not hide its neighbors.
	assert.Equal(t, 2, len(ledger.Tree.Directives))
}
