package parser

import (
	"strings"

	"github.com/shopspring/decimal"
)

// parseExpression parses and folds an arithmetic expression over decimal
// numbers at parse time: +, -, *, / with standard precedence, unary minus,
// and parenthesized grouping. Folding immediately (rather than deferring
// the expression tree into the AST) keeps ast.Amount and ast.IncompleteAmount
// holding only resolved numbers.
func (p *Parser) parseExpression() (decimal.Decimal, bool) {
	return p.parseAddSubtract()
}

func (p *Parser) parseAddSubtract() (decimal.Decimal, bool) {
	left, ok := p.parseMultiplyDivide()
	if !ok {
		return decimal.Zero, false
	}
	for {
		switch p.peek().Type {
		case PLUS:
			p.advance()
			right, ok := p.parseMultiplyDivide()
			if !ok {
				return decimal.Zero, false
			}
			left = left.Add(right)
		case MINUS:
			p.advance()
			right, ok := p.parseMultiplyDivide()
			if !ok {
				return decimal.Zero, false
			}
			left = left.Sub(right)
		default:
			return left, true
		}
	}
}

func (p *Parser) parseMultiplyDivide() (decimal.Decimal, bool) {
	left, ok := p.parsePrimary()
	if !ok {
		return decimal.Zero, false
	}
	for {
		switch p.peek().Type {
		case ASTERISK:
			p.advance()
			right, ok := p.parsePrimary()
			if !ok {
				return decimal.Zero, false
			}
			left = left.Mul(right)
		case SLASH:
			p.advance()
			right, ok := p.parsePrimary()
			if !ok {
				return decimal.Zero, false
			}
			if right.IsZero() {
				p.errorf(p.peek(), "division by zero")
				return decimal.Zero, false
			}
			left = left.DivRound(right, 28)
		default:
			return left, true
		}
	}
}

func (p *Parser) parsePrimary() (decimal.Decimal, bool) {
	switch p.peek().Type {
	case MINUS:
		p.advance()
		v, ok := p.parsePrimary()
		if !ok {
			return decimal.Zero, false
		}
		return v.Neg(), true
	case PLUS:
		p.advance()
		return p.parsePrimary()
	case LPAREN:
		p.advance()
		v, ok := p.parseExpression()
		if !ok {
			return decimal.Zero, false
		}
		if _, ok := p.expect(RPAREN); !ok {
			return decimal.Zero, false
		}
		return v, true
	case NUMBER:
		tok := p.advance()
		text := strings.ReplaceAll(tok.String(p.source), ",", "")
		v, err := decimal.NewFromString(text)
		if err != nil {
			p.errorf(tok, "invalid number %q: %s", text, err)
			return decimal.Zero, false
		}
		return v, true
	default:
		p.errorf(p.peek(), "expected number or expression, got %s", p.peek().Type)
		return decimal.Zero, false
	}
}

// isExpressionStart reports whether tok can begin a numeric expression.
func isExpressionStart(t TokenType) bool {
	switch t {
	case NUMBER, MINUS, PLUS, LPAREN:
		return true
	default:
		return false
	}
}
