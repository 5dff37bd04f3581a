package booking

import (
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/ledgerforge/rledger/ast"
	"github.com/shopspring/decimal"
)

func amt(number, currency string) *ast.IncompleteAmount {
	return &ast.IncompleteAmount{Kind: ast.AmountComplete, Number: decimal.RequireFromString(number), Currency: currency}
}

func costSpec(number, currency string) *ast.CostSpec {
	n := decimal.RequireFromString(number)
	return &ast.CostSpec{NumberPer: &n, Currency: currency}
}

func TestBookAugmentsNewLot(t *testing.T) {
	inv := New()
	p := &ast.Posting{Units: amt("10", "HOOL"), CostSpec: costSpec("100", "USD")}

	res, err := Book(inv, p, FIFO, nil)
	assert.NoError(t, err)
	assert.Equal(t, "USD", res.Cost.Currency)
	assert.True(t, inv.Total("HOOL").Equal(decimal.RequireFromString("10")))
}

func TestBookFIFOReducesOldestFirst(t *testing.T) {
	inv := New()
	d1, _ := ast.NewDate("2023-01-01")
	d2, _ := ast.NewDate("2023-06-01")
	inv.AddLot("HOOL", decimal.RequireFromString("5"), &ast.Cost{Number: decimal.RequireFromString("100"), Currency: "USD", Date: d1})
	inv.AddLot("HOOL", decimal.RequireFromString("5"), &ast.Cost{Number: decimal.RequireFromString("110"), Currency: "USD", Date: d2})

	p := &ast.Posting{Units: amt("-5", "HOOL"), CostSpec: &ast.CostSpec{Empty: true}}
	res, err := Book(inv, p, FIFO, nil)
	assert.NoError(t, err)
	assert.True(t, res.Cost.Number.Equal(decimal.RequireFromString("100")))
	assert.True(t, inv.Total("HOOL").Equal(decimal.RequireFromString("5")))
}

func TestBookLIFOReducesNewestFirst(t *testing.T) {
	inv := New()
	d1, _ := ast.NewDate("2023-01-01")
	d2, _ := ast.NewDate("2023-06-01")
	inv.AddLot("HOOL", decimal.RequireFromString("5"), &ast.Cost{Number: decimal.RequireFromString("100"), Currency: "USD", Date: d1})
	inv.AddLot("HOOL", decimal.RequireFromString("5"), &ast.Cost{Number: decimal.RequireFromString("110"), Currency: "USD", Date: d2})

	p := &ast.Posting{Units: amt("-5", "HOOL"), CostSpec: &ast.CostSpec{Empty: true}}
	res, err := Book(inv, p, LIFO, nil)
	assert.NoError(t, err)
	assert.True(t, res.Cost.Number.Equal(decimal.RequireFromString("110")))
}

func TestBookHIFOReducesHighestCostFirst(t *testing.T) {
	inv := New()
	inv.AddLot("HOOL", decimal.RequireFromString("5"), &ast.Cost{Number: decimal.RequireFromString("100"), Currency: "USD"})
	inv.AddLot("HOOL", decimal.RequireFromString("5"), &ast.Cost{Number: decimal.RequireFromString("150"), Currency: "USD"})

	p := &ast.Posting{Units: amt("-5", "HOOL"), CostSpec: &ast.CostSpec{Empty: true}}
	res, err := Book(inv, p, HIFO, nil)
	assert.NoError(t, err)
	assert.True(t, res.Cost.Number.Equal(decimal.RequireFromString("150")))
}

func TestBookAverageMergesIntoSingleLot(t *testing.T) {
	inv := New()
	inv.AddLot("HOOL", decimal.RequireFromString("5"), &ast.Cost{Number: decimal.RequireFromString("100"), Currency: "USD"})
	inv.AddLot("HOOL", decimal.RequireFromString("5"), &ast.Cost{Number: decimal.RequireFromString("200"), Currency: "USD"})

	p := &ast.Posting{Units: amt("-2", "HOOL"), CostSpec: &ast.CostSpec{Empty: true}}
	_, err := Book(inv, p, AVERAGE, nil)
	assert.NoError(t, err)

	lots := inv.Lots("HOOL")
	assert.Equal(t, 1, len(lots))
	assert.True(t, lots[0].Units.Equal(decimal.RequireFromString("8")))
	assert.True(t, lots[0].Cost.Number.Equal(decimal.RequireFromString("150")))
}

func TestBookNoneAllowsMixedSigns(t *testing.T) {
	inv := New()
	inv.Add("USD", decimal.RequireFromString("10"))

	p := &ast.Posting{Units: amt("-15", "USD"), CostSpec: &ast.CostSpec{Empty: true}}
	_, err := Book(inv, p, NONE, nil)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(inv.Lots("USD")))
}

func TestBookStrictEmptySpecMatchesSoleLot(t *testing.T) {
	inv := New()
	inv.AddLot("HOOL", decimal.RequireFromString("5"), &ast.Cost{Number: decimal.RequireFromString("100"), Currency: "USD"})

	p := &ast.Posting{Units: amt("-5", "HOOL"), CostSpec: &ast.CostSpec{Empty: true}}
	res, err := Book(inv, p, STRICT, nil)
	assert.NoError(t, err)
	assert.True(t, res.Cost.Number.Equal(decimal.RequireFromString("100")))
}

func TestBookStrictAmbiguousReductionReturnsE4003(t *testing.T) {
	inv := New()
	inv.AddLot("AAPL", decimal.RequireFromString("10"), &ast.Cost{Number: decimal.RequireFromString("150"), Currency: "USD"})
	inv.AddLot("AAPL", decimal.RequireFromString("10"), &ast.Cost{Number: decimal.RequireFromString("160"), Currency: "USD"})

	p := &ast.Posting{Units: amt("-3", "AAPL"), CostSpec: &ast.CostSpec{Empty: true}}
	_, err := Book(inv, p, STRICT, nil)
	assert.Error(t, err)
	bookingErr, ok := err.(*Error)
	assert.True(t, ok)
	assert.Equal(t, ErrAmbiguous, bookingErr.Code)
	assert.True(t, inv.Total("AAPL").Equal(decimal.RequireFromString("20")))
}

func TestBookStrictTotalMatchExceptionDrainsAllCandidates(t *testing.T) {
	inv := New()
	inv.AddLot("AAPL", decimal.RequireFromString("10"), &ast.Cost{Number: decimal.RequireFromString("150"), Currency: "USD"})
	inv.AddLot("AAPL", decimal.RequireFromString("5"), &ast.Cost{Number: decimal.RequireFromString("160"), Currency: "USD"})

	p := &ast.Posting{Units: amt("-15", "AAPL"), CostSpec: &ast.CostSpec{Empty: true}}
	res, err := Book(inv, p, STRICT, nil)
	assert.NoError(t, err)
	assert.True(t, inv.IsEmpty())
	assert.Equal(t, 2, len(res.Matched))
	// 10*150 + 5*160 = 2300
	assert.True(t, res.Basis.Number.Equal(decimal.RequireFromString("2300")))
}

func TestBookStrictExplicitSpecMatchesLot(t *testing.T) {
	inv := New()
	inv.AddLot("HOOL", decimal.RequireFromString("5"), &ast.Cost{Number: decimal.RequireFromString("100"), Currency: "USD"})

	p := &ast.Posting{Units: amt("-5", "HOOL"), CostSpec: costSpec("100", "USD")}
	res, err := Book(inv, p, STRICT, nil)
	assert.NoError(t, err)
	assert.True(t, res.Cost.Number.Equal(decimal.RequireFromString("100")))
	assert.True(t, inv.IsEmpty())
}

func TestBookStrictWithSizeDisambiguatesBySize(t *testing.T) {
	inv := New()
	d1, _ := ast.NewDate("2023-01-01")
	d2, _ := ast.NewDate("2023-06-01")
	// Distinct dates keep the two lots apart; equal costs would merge.
	inv.AddLot("HOOL", decimal.RequireFromString("5"), &ast.Cost{Number: decimal.RequireFromString("100"), Currency: "USD", Date: d1})
	inv.AddLot("HOOL", decimal.RequireFromString("3"), &ast.Cost{Number: decimal.RequireFromString("100"), Currency: "USD", Date: d2})

	p := &ast.Posting{Units: amt("-3", "HOOL"), CostSpec: costSpec("100", "USD")}
	res, err := Book(inv, p, StrictWithSize, nil)
	assert.NoError(t, err)
	assert.True(t, res.Cost.Number.Equal(decimal.RequireFromString("100")))
	assert.True(t, inv.Total("HOOL").Equal(decimal.RequireFromString("5")))
}

func TestBookInsufficientLotErrors(t *testing.T) {
	inv := New()
	inv.AddLot("HOOL", decimal.RequireFromString("2"), &ast.Cost{Number: decimal.RequireFromString("100"), Currency: "USD"})

	p := &ast.Posting{Units: amt("-5", "HOOL"), CostSpec: &ast.CostSpec{Empty: true}}
	_, err := Book(inv, p, FIFO, nil)
	assert.Error(t, err)
}

// TestBookFIFOTwoLotScenario exercises §8.2 S3: buy 10 AAPL @ 100 USD, buy
// 10 AAPL @ 150 USD, sell 15 AAPL under FIFO. Cost basis is
// 10*100 + 5*150 = 1750 USD; the remaining lot is 5 AAPL at 150 USD.
func TestBookFIFOTwoLotScenario(t *testing.T) {
	inv := New()
	d1, _ := ast.NewDate("2024-01-01")
	d2, _ := ast.NewDate("2024-02-01")

	buy1 := &ast.Posting{Units: amt("10", "AAPL"), CostSpec: costSpec("100", "USD")}
	buy1.CostSpec.Date = d1
	buy2 := &ast.Posting{Units: amt("10", "AAPL"), CostSpec: costSpec("150", "USD")}
	buy2.CostSpec.Date = d2

	_, err := Book(inv, buy1, FIFO, d1)
	assert.NoError(t, err)
	_, err = Book(inv, buy2, FIFO, d2)
	assert.NoError(t, err)

	sell := &ast.Posting{Units: amt("-15", "AAPL"), CostSpec: &ast.CostSpec{Empty: true}}
	res, err := Book(inv, sell, FIFO, nil)
	assert.NoError(t, err)
	assert.Equal(t, "USD", res.Basis.Currency)
	assert.True(t, res.Basis.Number.Equal(decimal.RequireFromString("1750")))

	lots := inv.Lots("AAPL")
	assert.Equal(t, 1, len(lots))
	assert.True(t, lots[0].Units.Equal(decimal.RequireFromString("5")))
	assert.True(t, lots[0].Cost.Number.Equal(decimal.RequireFromString("150")))
}

// TestBookFIFOMatchedDatesNonDecreasing exercises §8.1's FIFO totality
// invariant: the matched positions' cost dates form a non-decreasing
// sequence whenever cumulative reductions stay within cumulative
// augmentations.
func TestBookFIFOMatchedDatesNonDecreasing(t *testing.T) {
	inv := New()
	dates := []string{"2024-03-01", "2024-01-01", "2024-02-01"}
	for _, ds := range dates {
		d, _ := ast.NewDate(ds)
		inv.AddLot("HOOL", decimal.RequireFromString("4"), &ast.Cost{Number: decimal.RequireFromString("10"), Currency: "USD", Date: d})
	}

	p := &ast.Posting{Units: amt("-10", "HOOL"), CostSpec: &ast.CostSpec{Empty: true}}
	res, err := Book(inv, p, FIFO, nil)
	assert.NoError(t, err)
	for i := 1; i < len(res.Matched); i++ {
		prev, cur := res.Matched[i-1].Cost.Date, res.Matched[i].Cost.Date
		assert.False(t, cur.Before(prev), "matched dates must be non-decreasing")
	}
}

func TestParseMethodRejectsUnknown(t *testing.T) {
	_, err := ParseMethod("BOGUS")
	assert.Error(t, err)

	m, err := ParseMethod("HIFO")
	assert.NoError(t, err)
	assert.Equal(t, HIFO, m)
}
