package query

import (
	"strconv"

	"github.com/ledgerforge/rledger/ast"
	"github.com/shopspring/decimal"
)

// ParseQuery parses one BQL statement.
func ParseQuery(src string) (Statement, error) {
	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &qparser{tokens: tokens}
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	if !p.atEOF() {
		return nil, errf(ErrSyntax, "unexpected trailing input at %s", p.peek())
	}
	return stmt, nil
}

type qparser struct {
	tokens []token
	pos    int
}

func (p *qparser) peek() token  { return p.tokens[p.pos] }
func (p *qparser) atEOF() bool  { return p.peek().typ == tokEOF }
func (p *qparser) advance() token {
	t := p.tokens[p.pos]
	if t.typ != tokEOF {
		p.pos++
	}
	return t
}

func (p *qparser) matchKeyword(kw string) bool {
	if t := p.peek(); t.typ == tokKeyword && t.val == kw {
		p.advance()
		return true
	}
	return false
}

func (p *qparser) matchSymbol(sym string) bool {
	if t := p.peek(); t.typ == tokSymbol && t.val == sym {
		p.advance()
		return true
	}
	return false
}

func (p *qparser) expectKeyword(kw string) error {
	if !p.matchKeyword(kw) {
		return errf(ErrSyntax, "expected %s, found %s", kw, p.peek())
	}
	return nil
}

func (p *qparser) parseStatement() (Statement, error) {
	switch {
	case p.matchKeyword("SELECT"):
		return p.parseSelect()
	case p.matchKeyword("JOURNAL"):
		return p.parseJournal()
	case p.matchKeyword("BALANCES"):
		return p.parseBalances()
	case p.matchKeyword("PRINT"):
		from, err := p.parseOptionalFrom()
		if err != nil {
			return nil, err
		}
		return &Print{From: from}, nil
	default:
		return nil, errf(ErrSyntax, "expected SELECT, JOURNAL, BALANCES, or PRINT, found %s", p.peek())
	}
}

func (p *qparser) parseSelect() (*Select, error) {
	sel := &Select{}
	sel.Distinct = p.matchKeyword("DISTINCT")

	for {
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		target := &Target{Expr: expr}
		if p.matchKeyword("AS") {
			alias := p.advance()
			if alias.typ != tokIdent {
				return nil, errf(ErrSyntax, "expected alias name, found %s", alias)
			}
			target.Alias = alias.val
		}
		sel.Targets = append(sel.Targets, target)
		if !p.matchSymbol(",") {
			break
		}
	}

	from, err := p.parseOptionalFrom()
	if err != nil {
		return nil, err
	}
	sel.From = from

	if p.matchKeyword("WHERE") {
		if sel.Where, err = p.parseExpr(); err != nil {
			return nil, err
		}
	}

	if p.matchKeyword("GROUP") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			expr, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			sel.GroupBy = append(sel.GroupBy, expr)
			if !p.matchSymbol(",") {
				break
			}
		}
	}

	if p.matchKeyword("ORDER") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			expr, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			ord := &Ordering{Expr: expr}
			if p.matchKeyword("DESC") {
				ord.Desc = true
			} else {
				p.matchKeyword("ASC")
			}
			sel.OrderBy = append(sel.OrderBy, ord)
			if !p.matchSymbol(",") {
				break
			}
		}
	}

	if p.matchKeyword("LIMIT") {
		t := p.advance()
		if t.typ != tokNumber {
			return nil, errf(ErrSyntax, "expected LIMIT count, found %s", t)
		}
		n, err := strconv.Atoi(t.val)
		if err != nil || n < 0 {
			return nil, errf(ErrSyntax, "invalid LIMIT count %q", t.val)
		}
		sel.Limit = n
	}

	return sel, nil
}

func (p *qparser) parseJournal() (*Journal, error) {
	j := &Journal{}
	if t := p.peek(); t.typ == tokString {
		j.AccountRegexp = p.advance().val
	}
	from, err := p.parseOptionalFrom()
	if err != nil {
		return nil, err
	}
	j.From = from
	return j, nil
}

func (p *qparser) parseBalances() (*Balances, error) {
	b := &Balances{}
	if t := p.peek(); t.typ == tokString {
		b.AccountRegexp = p.advance().val
	}
	from, err := p.parseOptionalFrom()
	if err != nil {
		return nil, err
	}
	b.From = from
	return b, nil
}

// parseOptionalFrom parses [FROM [expr] [OPEN ON date] [CLOSE ON date]
// [CLEAR]] with the modifiers accepted in any order after the predicate.
func (p *qparser) parseOptionalFrom() (*From, error) {
	if !p.matchKeyword("FROM") {
		return nil, nil
	}
	from := &From{}

	if t := p.peek(); !(t.typ == tokKeyword && (t.val == "OPEN" || t.val == "CLOSE" || t.val == "CLEAR" ||
		t.val == "WHERE" || t.val == "GROUP" || t.val == "ORDER" || t.val == "LIMIT")) && t.typ != tokEOF {
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		from.Predicate = expr
	}

	for {
		switch {
		case p.matchKeyword("OPEN"):
			if err := p.expectKeyword("ON"); err != nil {
				return nil, err
			}
			date, err := p.parseDateToken()
			if err != nil {
				return nil, err
			}
			from.OpenOn = date
		case p.matchKeyword("CLOSE"):
			if err := p.expectKeyword("ON"); err != nil {
				return nil, err
			}
			date, err := p.parseDateToken()
			if err != nil {
				return nil, err
			}
			from.CloseOn = date
		case p.matchKeyword("CLEAR"):
			from.Clear = true
		default:
			return from, nil
		}
	}
}

func (p *qparser) parseDateToken() (*ast.Date, error) {
	t := p.advance()
	if t.typ != tokDate {
		return nil, errf(ErrSyntax, "expected date, found %s", t)
	}
	date, err := ast.NewDate(t.val)
	if err != nil {
		return nil, errf(ErrSyntax, "invalid date %q", t.val)
	}
	return date, nil
}

// Expression grammar, loosest binding first:
//
//	or     := and (OR and)*
//	and    := not (AND not)*
//	not    := NOT not | cmp
//	cmp    := add ((= != < <= > >= ~ | IN | NOT IN) add)?
//	add    := mul ((+ -) mul)*
//	mul    := unary ((* /) unary)*
//	unary  := - unary | primary
//	primary := literal | column | func(args) | (or)
func (p *qparser) parseExpr() (Expr, error) { return p.parseOr() }

func (p *qparser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.matchKeyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinOp{Op: "OR", L: left, R: right}
	}
	return left, nil
}

func (p *qparser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.matchKeyword("AND") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinOp{Op: "AND", L: left, R: right}
	}
	return left, nil
}

func (p *qparser) parseNot() (Expr, error) {
	if p.matchKeyword("NOT") {
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &UnOp{Op: "NOT", X: x}, nil
	}
	return p.parseComparison()
}

func (p *qparser) parseComparison() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}

	if p.matchKeyword("IN") {
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &BinOp{Op: "IN", L: left, R: right}, nil
	}
	if t := p.peek(); t.typ == tokKeyword && t.val == "NOT" &&
		p.tokens[p.pos+1].typ == tokKeyword && p.tokens[p.pos+1].val == "IN" {
		p.advance()
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &UnOp{Op: "NOT", X: &BinOp{Op: "IN", L: left, R: right}}, nil
	}

	for _, op := range []string{"<=", ">=", "!=", "=", "<", ">", "~"} {
		if p.matchSymbol(op) {
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			return &BinOp{Op: op, L: left, R: right}, nil
		}
	}
	return left, nil
}

func (p *qparser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.matchSymbol("+"):
			right, err := p.parseMultiplicative()
			if err != nil {
				return nil, err
			}
			left = &BinOp{Op: "+", L: left, R: right}
		case p.matchSymbol("-"):
			right, err := p.parseMultiplicative()
			if err != nil {
				return nil, err
			}
			left = &BinOp{Op: "-", L: left, R: right}
		default:
			return left, nil
		}
	}
}

func (p *qparser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.matchSymbol("*"):
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			left = &BinOp{Op: "*", L: left, R: right}
		case p.matchSymbol("/"):
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			left = &BinOp{Op: "/", L: left, R: right}
		default:
			return left, nil
		}
	}
}

func (p *qparser) parseUnary() (Expr, error) {
	if p.matchSymbol("-") {
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnOp{Op: "-", X: x}, nil
	}
	return p.parsePrimary()
}

func (p *qparser) parsePrimary() (Expr, error) {
	t := p.peek()
	switch t.typ {
	case tokString:
		p.advance()
		return &Literal{Value: t.val}, nil

	case tokNumber:
		p.advance()
		num, err := decimal.NewFromString(t.val)
		if err != nil {
			return nil, errf(ErrSyntax, "invalid number %q", t.val)
		}
		return &Literal{Value: num}, nil

	case tokDate:
		p.advance()
		date, err := ast.NewDate(t.val)
		if err != nil {
			return nil, errf(ErrSyntax, "invalid date %q", t.val)
		}
		return &Literal{Value: date}, nil

	case tokKeyword:
		switch t.val {
		case "TRUE":
			p.advance()
			return &Literal{Value: true}, nil
		case "FALSE":
			p.advance()
			return &Literal{Value: false}, nil
		case "NULL":
			p.advance()
			return &Literal{Value: nil}, nil
		}
		return nil, errf(ErrSyntax, "unexpected keyword %s in expression", t)

	case tokIdent:
		p.advance()
		if p.matchSymbol("(") {
			call := &Call{Func: t.val}
			if !p.matchSymbol(")") {
				for {
					arg, err := p.parseExpr()
					if err != nil {
						return nil, err
					}
					call.Args = append(call.Args, arg)
					if !p.matchSymbol(",") {
						break
					}
				}
				if !p.matchSymbol(")") {
					return nil, errf(ErrSyntax, "expected ) after %s arguments, found %s", t.val, p.peek())
				}
			}
			return call, nil
		}
		return &Column{Name: t.val}, nil

	default:
		if p.matchSymbol("(") {
			inner, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if !p.matchSymbol(")") {
				return nil, errf(ErrSyntax, "expected ), found %s", p.peek())
			}
			return inner, nil
		}
		return nil, errf(ErrSyntax, "unexpected %s in expression", t)
	}
}
