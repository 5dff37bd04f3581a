package diagnostics

import (
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/ledgerforge/rledger/ast"
)

func TestDefaultSeverityMatchesTable(t *testing.T) {
	assert.Equal(t, Error, DefaultSeverity(AccountUsedBeforeOpen))
	assert.Equal(t, Warning, DefaultSeverity(CloseNonZeroBalance))
	assert.Equal(t, Warning, DefaultSeverity(SinglePosting))
	assert.Equal(t, Info, DefaultSeverity(DateOutOfOrder))
	assert.Equal(t, Warning, DefaultSeverity(FutureDate))
	assert.Equal(t, Error, DefaultSeverity(TransactionDoesNotBalance))
}

func TestListHasErrors(t *testing.T) {
	pos := ast.Position{Filename: "main.beancount", Line: 3, Column: 1}
	list := List{
		New(DateOutOfOrder, pos, nil, "out of order"),
		New(CloseNonZeroBalance, pos, nil, "nonzero on close"),
	}
	assert.False(t, list.HasErrors())

	list = append(list, New(BalanceAssertionFailed, pos, nil, "residual 1.00 USD"))
	assert.True(t, list.HasErrors())
	assert.Equal(t, 1, list.Count(Error))
	assert.Equal(t, 1, list.Count(Warning))
	assert.Equal(t, 1, list.Count(Info))
}

func TestTextFormatterIncludesCodeAndPosition(t *testing.T) {
	pos := ast.Position{Filename: "main.beancount", Line: 10, Column: 1}
	d := New(AccountUsedBeforeOpen, pos, nil, "Assets:Bank used before open").WithContext("Assets:Bank")

	out := NewTextFormatter().Format(d)
	assert.True(t, strings.Contains(out, "E1001"))
	assert.True(t, strings.Contains(out, "main.beancount:10:1"))
	assert.True(t, strings.Contains(out, "Assets:Bank used before open"))
	assert.True(t, strings.Contains(out, "(Assets:Bank)"))
}

func TestJSONFormatterRoundTripsCode(t *testing.T) {
	pos := ast.Position{Filename: "main.beancount", Line: 1, Column: 1}
	d := New(BookingAmbiguous, pos, nil, "ambiguous lot match")

	out := NewJSONFormatter().Format(d)
	assert.True(t, strings.Contains(out, `"code":"E4003"`))
	assert.True(t, strings.Contains(out, `"severity":"error"`))
}
