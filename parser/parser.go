package parser

import (
	"fmt"

	"github.com/ledgerforge/rledger/ast"
	"github.com/ledgerforge/rledger/intern"
)

// Parser is a hand-rolled recursive-descent parser over a pre-lexed token
// stream. Each directive keyword dispatches to a dedicated parse function
// that consumes exactly its own grammar; the only backtracking is
// isAmountAhead's lookahead, which rewinds to its saved position.
//
// Syntax errors do not abort the parse. parseTopLevel and
// parseDatedDirective recover by skipping tokens up to the next line
// whose first token sits at column 1, so one malformed directive never
// hides the rest of the file's diagnostics.
type Parser struct {
	tokens   []Token
	source   []byte
	filename string
	interner *intern.Interner
	pos      int
	errors   ErrorList
}

// Parse lexes and parses filename's contents.
func Parse(filename string, source []byte) (*ast.AST, ErrorList) {
	lexer := NewLexer(source, filename)
	tokens, err := lexer.ScanAll()
	if err != nil {
		return &ast.AST{}, ErrorList{{Filename: filename, Line: 1, Column: 1, Message: err.Error()}}
	}
	p := &Parser{
		tokens:   tokens,
		source:   source,
		filename: filename,
		interner: lexer.Interner(),
	}
	return p.parseFile(), p.errors
}

func (p *Parser) parseFile() *ast.AST {
	tree := &ast.AST{}
	for !p.isAtEnd() {
		if p.check(NEWLINE) || p.check(COMMENT) {
			p.advance()
			continue
		}
		p.parseTopLevel(tree)
	}
	ast.ApplyPushPopDirectives(tree)
	ast.SortDirectives(tree.Directives)
	return tree
}

func (p *Parser) parseTopLevel(tree *ast.AST) {
	tok := p.peek()
	switch tok.Type {
	case OPTION:
		if o := p.parseOption(); o != nil {
			tree.Options = append(tree.Options, o)
		}
	case INCLUDE:
		if i := p.parseInclude(); i != nil {
			tree.Includes = append(tree.Includes, i)
		}
	case PLUGIN:
		if pl := p.parsePlugin(); pl != nil {
			tree.Plugins = append(tree.Plugins, pl)
		}
	case PUSHTAG:
		if pt := p.parsePushtag(); pt != nil {
			tree.Pushtags = append(tree.Pushtags, pt)
		}
	case POPTAG:
		if pt := p.parsePoptag(); pt != nil {
			tree.Poptags = append(tree.Poptags, pt)
		}
	case PUSHMETA:
		if pm := p.parsePushmeta(); pm != nil {
			tree.Pushmetas = append(tree.Pushmetas, pm)
		}
	case POPMETA:
		if pm := p.parsePopmeta(); pm != nil {
			tree.Popmetas = append(tree.Popmetas, pm)
		}
	case DATE:
		if d := p.parseDatedDirective(); d != nil {
			tree.Directives = append(tree.Directives, d)
		}
	default:
		p.errorf(tok, "unexpected token %s", tok.Type)
		p.recover()
	}
}

func (p *Parser) parseDatedDirective() ast.Directive {
	dateTok := p.advance()
	date, err := ast.NewDate(dateTok.String(p.source))
	if err != nil {
		p.errorf(dateTok, "%s", err)
	}

	switch p.peek().Type {
	case TXN, ASTERISK, EXCLAIM:
		return p.parseTransaction(dateTok, date)
	case BALANCE:
		return p.parseBalance(dateTok, date)
	case OPEN:
		return p.parseOpen(dateTok, date)
	case CLOSE:
		return p.parseClose(dateTok, date)
	case COMMODITY:
		return p.parseCommodity(dateTok, date)
	case PAD:
		return p.parsePad(dateTok, date)
	case NOTE:
		return p.parseNote(dateTok, date)
	case DOCUMENT:
		return p.parseDocument(dateTok, date)
	case PRICE:
		return p.parsePrice(dateTok, date)
	case EVENT:
		return p.parseEvent(dateTok, date)
	case QUERY:
		return p.parseQuery(dateTok, date)
	case CUSTOM:
		return p.parseCustom(dateTok, date)
	default:
		p.errorf(p.peek(), "expected directive keyword after date, got %s", p.peek().Type)
		p.recover()
		return nil
	}
}

// recover discards tokens until the start of the next plausible top-level
// line: a NEWLINE followed by a token at column 1.
func (p *Parser) recover() {
	for !p.isAtEnd() {
		if p.check(NEWLINE) {
			p.advance()
			if p.isAtEnd() || p.peek().Column == 1 {
				return
			}
			continue
		}
		p.advance()
	}
}

func (p *Parser) errorf(tok Token, format string, args ...interface{}) {
	p.errors = append(p.errors, &ParseError{
		Filename: p.filename,
		Line:     tok.Line,
		Column:   tok.Column,
		Offset:   tok.Start,
		Message:  fmt.Sprintf(format, args...),
	})
}

func (p *Parser) pos_(tok Token) ast.Position {
	return ast.Position{Filename: p.filename, Offset: tok.Start, Line: tok.Line, Column: tok.Column}
}

// --- token navigation ---

func (p *Parser) peek() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: EOF}
	}
	return p.tokens[p.pos]
}

func (p *Parser) peekAhead(n int) Token {
	if p.pos+n >= len(p.tokens) {
		return Token{Type: EOF}
	}
	return p.tokens[p.pos+n]
}

func (p *Parser) advance() Token {
	tok := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

func (p *Parser) check(t TokenType) bool {
	return p.peek().Type == t
}

func (p *Parser) match(t TokenType) bool {
	if p.check(t) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) expect(t TokenType) (Token, bool) {
	if p.check(t) {
		return p.advance(), true
	}
	p.errorf(p.peek(), "expected %s, got %s", t, p.peek().Type)
	return Token{}, false
}

func (p *Parser) isAtEnd() bool {
	return p.peek().Type == EOF
}

// skipToEndOfLine consumes tokens through the next NEWLINE, used after a
// directive header when trailing metadata lines follow.
func (p *Parser) skipToEndOfLine() {
	for !p.isAtEnd() && !p.check(NEWLINE) {
		p.advance()
	}
	p.match(NEWLINE)
}

func (p *Parser) intern(s string) string {
	return p.interner.Intern(s)
}
