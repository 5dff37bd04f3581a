// Package query implements the read-only BQL surface over a validated
// directive stream: a hand-rolled lexer and recursive-descent parser for
// the four top-level statement forms, and an in-memory evaluator with
// aggregation, ordering, and market-value conversion through the price
// database.
package query

import "github.com/ledgerforge/rledger/ast"

// Statement is one of the four top-level BQL forms.
type Statement interface{ stmt() }

// Select is the full SELECT form.
type Select struct {
	Distinct bool
	Targets  []*Target
	From     *From
	Where    Expr
	GroupBy  []Expr
	OrderBy  []*Ordering
	Limit    int // 0 means no limit
}

// Journal renders posting rows, optionally restricted to accounts
// matching a regular expression.
type Journal struct {
	AccountRegexp string
	From          *From
}

// Balances renders the per-account inventory totals, optionally
// restricted to accounts matching a regular expression.
type Balances struct {
	AccountRegexp string
	From          *From
}

// Print renders the selected directives back to ledger text.
type Print struct {
	From *From
}

func (*Select) stmt()   {}
func (*Journal) stmt()  {}
func (*Balances) stmt() {}
func (*Print) stmt()    {}

// Target is one selected expression with an optional alias.
type Target struct {
	Expr  Expr
	Alias string
}

// From filters at transaction granularity before posting rows are
// produced: an optional predicate over transaction columns, a date
// window, and a cleared-only switch.
type From struct {
	Predicate Expr
	OpenOn    *ast.Date // keep directives dated on or after
	CloseOn   *ast.Date // keep directives dated strictly before
	Clear     bool      // keep only '*'-flagged transactions
}

// Ordering is one ORDER BY key. The expression must reference a selected
// column or alias.
type Ordering struct {
	Expr Expr
	Desc bool
}

// Expr is a BQL expression node. Arithmetic folds at evaluation time over
// typed values; there is no constant folding in the query parser.
type Expr interface{ expr() }

// Column references a posting or transaction column by name.
type Column struct{ Name string }

// Literal carries a parsed constant: string, decimal, date, bool, or nil.
type Literal struct{ Value any }

// BinOp is a binary operation: arithmetic (+ - * /), comparison
// (= != < <= > >=), boolean (AND, OR), regex match (~), or IN.
type BinOp struct {
	Op   string
	L, R Expr
}

// UnOp is unary minus or NOT.
type UnOp struct {
	Op string
	X  Expr
}

// Call invokes a built-in function or aggregate.
type Call struct {
	Func string
	Args []Expr
}

func (*Column) expr()  {}
func (*Literal) expr() {}
func (*BinOp) expr()   {}
func (*UnOp) expr()    {}
func (*Call) expr()    {}
