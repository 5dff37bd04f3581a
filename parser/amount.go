package parser

import "github.com/ledgerforge/rledger/ast"

// parseAmount parses a fully-specified "NUMBER CURRENCY" pair into an
// ast.Amount, folding any arithmetic expression in the number position.
func (p *Parser) parseAmount() (*ast.Amount, bool) {
	num, ok := p.parseExpression()
	if !ok {
		return nil, false
	}
	curTok, ok := p.expect(IDENT)
	if !ok {
		return nil, false
	}
	return ast.NewAmount(num, p.intern(curTok.String(p.source))), true
}

// parseIncompleteAmount parses a posting's unit amount, which may omit the
// number, the currency, or both.
func (p *Parser) parseIncompleteAmount() *ast.IncompleteAmount {
	hasNumber := isExpressionStart(p.peek().Type)
	var num = ast.Decimal{}
	if hasNumber {
		n, ok := p.parseExpression()
		if !ok {
			return &ast.IncompleteAmount{Kind: ast.AmountMissing}
		}
		num = n
	}
	hasCurrency := p.check(IDENT)
	var currency string
	if hasCurrency {
		currency = p.intern(p.advance().String(p.source))
	}

	switch {
	case hasNumber && hasCurrency:
		return &ast.IncompleteAmount{Kind: ast.AmountComplete, Number: num, Currency: currency}
	case hasNumber:
		return &ast.IncompleteAmount{Kind: ast.AmountNumberOnly, Number: num}
	case hasCurrency:
		return &ast.IncompleteAmount{Kind: ast.AmountCurrencyOnly, Currency: currency}
	default:
		return &ast.IncompleteAmount{Kind: ast.AmountMissing}
	}
}

// parseCostSpec parses a cost specification between an already-consumed
// opening brace and its matching close: `{...}` (single-lot, per-unit by
// default) or `{{...}}` (total-cost shorthand). Inside the braces, a lone
// "#" separates a per-unit cost from a total for the whole lot, e.g.
// `{150 # 5 USD}` is 150 USD per unit plus 5 USD for the lot; `{# 5 USD}`
// gives only the total.
// `{*}` requests merge-cost averaging; a bare `{}` defers entirely to the
// booking method.
func (p *Parser) parseCostSpec(isDouble bool) *ast.CostSpec {
	closing := RBRACE
	if isDouble {
		closing = RDBRACE
	}

	if p.check(closing) {
		p.advance()
		return &ast.CostSpec{Empty: true}
	}
	if p.check(ASTERISK) {
		p.advance()
		p.expect(closing)
		return &ast.CostSpec{Merge: true}
	}

	spec := &ast.CostSpec{}
	first := true
	for {
		if !first {
			if !p.match(COMMA) {
				break
			}
		}
		first = false

		switch p.peek().Type {
		case HASH:
			p.advance()
			total, ok := p.parseExpression()
			if !ok {
				break
			}
			spec.NumberTotal = &total
			if p.check(IDENT) {
				spec.Currency = p.intern(p.advance().String(p.source))
			}
		case NUMBER, MINUS, PLUS, LPAREN:
			num, ok := p.parseExpression()
			if !ok {
				break
			}
			if p.match(HASH) {
				// "{PER # TOTAL CUR}": the number before the separator is
				// per-unit, the one after is a total for the whole lot.
				spec.NumberPer = &num
				if isExpressionStart(p.peek().Type) {
					total, ok := p.parseExpression()
					if !ok {
						break
					}
					spec.NumberTotal = &total
				}
				if p.check(IDENT) {
					spec.Currency = p.intern(p.advance().String(p.source))
				}
			} else {
				spec.NumberPer = &num
				if p.check(IDENT) {
					spec.Currency = p.intern(p.advance().String(p.source))
				} else if isDouble {
					// {{ TOTAL CURRENCY }} shorthand: the number given is
					// the total cost for the whole lot.
					spec.NumberTotal = spec.NumberPer
					spec.NumberPer = nil
				}
			}
		case DATE:
			d, err := ast.NewDate(p.advance().String(p.source))
			if err != nil {
				p.errorf(p.peek(), "%s", err)
				break
			}
			spec.Date = d
		case STRING:
			s, ok := p.parseStringLiteral()
			if ok {
				spec.Label = s
			}
		case ASTERISK:
			p.advance()
			spec.Merge = true
		default:
			p.errorf(p.peek(), "unexpected token %s in cost spec", p.peek().Type)
		}
		if p.isAtEnd() || p.check(NEWLINE) {
			break
		}
	}
	p.expect(closing)
	if isDouble && spec.NumberPer != nil && spec.NumberTotal == nil {
		spec.NumberTotal = spec.NumberPer
		spec.NumberPer = nil
	}
	return spec
}
