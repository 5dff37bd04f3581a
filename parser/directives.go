package parser

import "github.com/ledgerforge/rledger/ast"

// parseMetadataLines consumes zero or more indented "key: value" lines
// that follow a directive header, stopping at the first line whose first
// token sits at column 1 (i.e. a new top-level line) or at EOF. A bare
// key with no value is recorded with a MetaNone value.
func (p *Parser) parseMetadataLines() []*ast.Metadata {
	var entries []*ast.Metadata
	for {
		if p.isAtEnd() {
			return entries
		}
		if p.check(NEWLINE) || p.check(COMMENT) {
			p.advance()
			continue
		}
		tok := p.peek()
		if tok.Column == 1 {
			return entries
		}
		if tok.Type != IDENT || p.peekAhead(1).Type != COLON {
			// Not a metadata line (likely a posting or malformed content);
			// let the caller's own loop deal with it.
			return entries
		}
		key := p.intern(p.advance().String(p.source))
		p.advance() // COLON
		val := p.parseMetadataValue()
		entries = append(entries, &ast.Metadata{Key: key, Value: val})
		p.skipToEndOfLine()
	}
}

func (p *Parser) parseMetadataValue() *ast.MetadataValue {
	switch p.peek().Type {
	case STRING:
		s, _ := p.parseStringLiteral()
		return &ast.MetadataValue{Kind: ast.MetaString, String: s}
	case ACCOUNT:
		return &ast.MetadataValue{Kind: ast.MetaAccount, Account: ast.Account(p.intern(p.advance().String(p.source)))}
	case DATE:
		d, err := ast.NewDate(p.advance().String(p.source))
		if err != nil {
			return &ast.MetadataValue{Kind: ast.MetaNone}
		}
		return &ast.MetadataValue{Kind: ast.MetaDate, Date: d}
	case TAG:
		return &ast.MetadataValue{Kind: ast.MetaTag, Tag: ast.Tag(p.intern(p.advance().String(p.source)[1:]))}
	case LINK:
		return &ast.MetadataValue{Kind: ast.MetaLink, Link: ast.Link(p.intern(p.advance().String(p.source)[1:]))}
	case IDENT:
		text := p.peek().String(p.source)
		if text == "TRUE" || text == "FALSE" {
			p.advance()
			return &ast.MetadataValue{Kind: ast.MetaBool, Bool: text == "TRUE"}
		}
		amt, ok := p.parseAmount()
		if ok {
			return &ast.MetadataValue{Kind: ast.MetaAmount, Amount: amt}
		}
		p.advance()
		return &ast.MetadataValue{Kind: ast.MetaCurrency, Currency: p.intern(text)}
	case NUMBER, MINUS, PLUS, LPAREN:
		if p.isAmountAhead() {
			amt, ok := p.parseAmount()
			if ok {
				return &ast.MetadataValue{Kind: ast.MetaAmount, Amount: amt}
			}
		}
		n, ok := p.parseExpression()
		if !ok {
			return &ast.MetadataValue{Kind: ast.MetaNone}
		}
		return &ast.MetadataValue{Kind: ast.MetaNumber, Number: n}
	default:
		return &ast.MetadataValue{Kind: ast.MetaNone}
	}
}

// isAmountAhead performs a cheap lookahead to see whether a numeric
// expression is immediately followed by an IDENT currency on the same
// line, without committing to consuming tokens.
func (p *Parser) isAmountAhead() bool {
	save := p.pos
	savedErrs := len(p.errors)
	_, ok := p.parseExpression()
	isAmount := ok && p.check(IDENT)
	p.pos = save
	if len(p.errors) > savedErrs {
		p.errors = p.errors[:savedErrs]
	}
	return isAmount
}

func (p *Parser) parseOption() *ast.Option {
	tok := p.advance()
	name, ok1 := p.parseStringLiteral()
	val, ok2 := p.parseStringLiteral()
	p.skipToEndOfLine()
	if !ok1 || !ok2 {
		return nil
	}
	return &ast.Option{Pos: p.pos_(tok), Name: name, Value: val}
}

func (p *Parser) parseInclude() *ast.Include {
	tok := p.advance()
	filename, ok := p.parseStringLiteral()
	p.skipToEndOfLine()
	if !ok {
		return nil
	}
	return &ast.Include{Pos: p.pos_(tok), Filename: filename}
}

func (p *Parser) parsePlugin() *ast.Plugin {
	tok := p.advance()
	name, ok := p.parseStringLiteral()
	if !ok {
		p.skipToEndOfLine()
		return nil
	}
	var config string
	if p.check(STRING) {
		config, _ = p.parseStringLiteral()
	}
	p.skipToEndOfLine()
	return &ast.Plugin{Pos: p.pos_(tok), Name: name, Config: config}
}

func (p *Parser) parsePushtag() *ast.Pushtag {
	tok := p.advance()
	tagTok, ok := p.expect(TAG)
	p.skipToEndOfLine()
	if !ok {
		return nil
	}
	return &ast.Pushtag{Pos: p.pos_(tok), Tag: ast.Tag(p.intern(tagTok.String(p.source)[1:]))}
}

func (p *Parser) parsePoptag() *ast.Poptag {
	tok := p.advance()
	tagTok, ok := p.expect(TAG)
	p.skipToEndOfLine()
	if !ok {
		return nil
	}
	return &ast.Poptag{Pos: p.pos_(tok), Tag: ast.Tag(p.intern(tagTok.String(p.source)[1:]))}
}

func (p *Parser) parsePushmeta() *ast.Pushmeta {
	tok := p.advance()
	keyTok, ok := p.expect(IDENT)
	if !ok {
		p.skipToEndOfLine()
		return nil
	}
	p.expect(COLON)
	val := p.parseMetadataValue()
	p.skipToEndOfLine()
	return &ast.Pushmeta{Pos: p.pos_(tok), Key: p.intern(keyTok.String(p.source)), Value: val}
}

func (p *Parser) parsePopmeta() *ast.Popmeta {
	tok := p.advance()
	keyTok, ok := p.expect(IDENT)
	p.expect(COLON)
	p.skipToEndOfLine()
	if !ok {
		return nil
	}
	return &ast.Popmeta{Pos: p.pos_(tok), Key: p.intern(keyTok.String(p.source))}
}

func (p *Parser) parseAccount() (ast.Account, bool) {
	tok, ok := p.expect(ACCOUNT)
	if !ok {
		return "", false
	}
	return ast.Account(p.intern(tok.String(p.source))), true
}

func (p *Parser) parseOpen(dateTok Token, date *ast.Date) ast.Directive {
	p.advance() // OPEN
	account, ok := p.parseAccount()
	if !ok {
		p.skipToEndOfLine()
		return nil
	}
	open := &ast.Open{Pos: p.pos_(dateTok), Date: date, Account: account}
	for p.check(COMMA) || p.check(IDENT) {
		p.match(COMMA)
		if p.check(IDENT) {
			open.ConstraintCurrencies = append(open.ConstraintCurrencies, p.intern(p.advance().String(p.source)))
		} else {
			break
		}
	}
	if p.check(STRING) {
		open.BookingMethod, _ = p.parseStringLiteral()
	}
	p.skipToEndOfLine()
	open.AddMetadata(p.parseMetadataLines()...)
	return open
}

func (p *Parser) parseClose(dateTok Token, date *ast.Date) ast.Directive {
	p.advance()
	account, ok := p.parseAccount()
	p.skipToEndOfLine()
	if !ok {
		return nil
	}
	c := &ast.Close{Pos: p.pos_(dateTok), Date: date, Account: account}
	c.AddMetadata(p.parseMetadataLines()...)
	return c
}

func (p *Parser) parseCommodity(dateTok Token, date *ast.Date) ast.Directive {
	p.advance()
	curTok, ok := p.expect(IDENT)
	p.skipToEndOfLine()
	if !ok {
		return nil
	}
	c := &ast.Commodity{Pos: p.pos_(dateTok), Date: date, Currency: p.intern(curTok.String(p.source))}
	c.AddMetadata(p.parseMetadataLines()...)
	return c
}

func (p *Parser) parsePad(dateTok Token, date *ast.Date) ast.Directive {
	p.advance()
	account, ok1 := p.parseAccount()
	accountPad, ok2 := p.parseAccount()
	p.skipToEndOfLine()
	if !ok1 || !ok2 {
		return nil
	}
	pd := &ast.Pad{Pos: p.pos_(dateTok), Date: date, Account: account, AccountPad: accountPad}
	pd.AddMetadata(p.parseMetadataLines()...)
	return pd
}

func (p *Parser) parseBalance(dateTok Token, date *ast.Date) ast.Directive {
	p.advance()
	account, ok := p.parseAccount()
	if !ok {
		p.skipToEndOfLine()
		return nil
	}
	amt, ok := p.parseAmount()
	if !ok {
		p.skipToEndOfLine()
		return nil
	}
	var tolerance *ast.Decimal
	if p.match(ATAT) || p.match(AT) {
		if tol, ok := p.parseExpression(); ok {
			tolerance = &tol
		}
	}
	p.skipToEndOfLine()
	b := &ast.Balance{Pos: p.pos_(dateTok), Date: date, Account: account, Amount: amt, Tolerance: tolerance}
	b.AddMetadata(p.parseMetadataLines()...)
	return b
}

func (p *Parser) parseNote(dateTok Token, date *ast.Date) ast.Directive {
	p.advance()
	account, ok1 := p.parseAccount()
	comment, ok2 := p.parseStringLiteral()
	p.skipToEndOfLine()
	if !ok1 || !ok2 {
		return nil
	}
	n := &ast.Note{Pos: p.pos_(dateTok), Date: date, Account: account, Comment: comment}
	n.AddMetadata(p.parseMetadataLines()...)
	return n
}

func (p *Parser) parseDocument(dateTok Token, date *ast.Date) ast.Directive {
	p.advance()
	account, ok1 := p.parseAccount()
	path, ok2 := p.parseStringLiteral()
	if !ok1 || !ok2 {
		p.skipToEndOfLine()
		return nil
	}
	tags, links := p.parseTagsAndLinks()
	p.skipToEndOfLine()
	d := &ast.Document{Pos: p.pos_(dateTok), Date: date, Account: account, Path: path}
	for _, t := range tags {
		d.Tags = append(d.Tags, ast.Tag(t))
	}
	for _, l := range links {
		d.Links = append(d.Links, ast.Link(l))
	}
	d.AddMetadata(p.parseMetadataLines()...)
	return d
}

func (p *Parser) parsePrice(dateTok Token, date *ast.Date) ast.Directive {
	p.advance()
	curTok, ok := p.expect(IDENT)
	if !ok {
		p.skipToEndOfLine()
		return nil
	}
	amt, ok := p.parseAmount()
	p.skipToEndOfLine()
	if !ok {
		return nil
	}
	pr := &ast.Price{Pos: p.pos_(dateTok), Date: date, Currency: p.intern(curTok.String(p.source)), Amount: amt}
	pr.AddMetadata(p.parseMetadataLines()...)
	return pr
}

func (p *Parser) parseEvent(dateTok Token, date *ast.Date) ast.Directive {
	p.advance()
	name, ok1 := p.parseStringLiteral()
	value, ok2 := p.parseStringLiteral()
	p.skipToEndOfLine()
	if !ok1 || !ok2 {
		return nil
	}
	e := &ast.Event{Pos: p.pos_(dateTok), Date: date, Name: name, Value: value}
	e.AddMetadata(p.parseMetadataLines()...)
	return e
}

func (p *Parser) parseQuery(dateTok Token, date *ast.Date) ast.Directive {
	p.advance()
	name, ok1 := p.parseStringLiteral()
	query, ok2 := p.parseStringLiteral()
	p.skipToEndOfLine()
	if !ok1 || !ok2 {
		return nil
	}
	q := &ast.Query{Pos: p.pos_(dateTok), Date: date, Name: name, Query: query}
	q.AddMetadata(p.parseMetadataLines()...)
	return q
}

func (p *Parser) parseCustom(dateTok Token, date *ast.Date) ast.Directive {
	p.advance()
	typeName, ok := p.parseStringLiteral()
	if !ok {
		p.skipToEndOfLine()
		return nil
	}
	c := &ast.Custom{Pos: p.pos_(dateTok), Date: date, Type: typeName}
	for {
		switch p.peek().Type {
		case STRING:
			s, _ := p.parseStringLiteral()
			c.Values = append(c.Values, &ast.CustomValue{Kind: ast.MetaString, String: s})
		case ACCOUNT:
			a := ast.Account(p.intern(p.advance().String(p.source)))
			c.Values = append(c.Values, &ast.CustomValue{Kind: ast.MetaAccount, Account: a})
		case DATE:
			d, err := ast.NewDate(p.advance().String(p.source))
			if err == nil {
				c.Values = append(c.Values, &ast.CustomValue{Kind: ast.MetaDate, Date: d})
			}
		case NUMBER, MINUS, PLUS, LPAREN:
			if p.isAmountAhead() {
				amt, ok := p.parseAmount()
				if ok {
					c.Values = append(c.Values, &ast.CustomValue{Kind: ast.MetaAmount, Amount: amt})
				}
				continue
			}
			n, ok := p.parseExpression()
			if ok {
				c.Values = append(c.Values, &ast.CustomValue{Kind: ast.MetaNumber, Number: n})
			}
		case IDENT:
			text := p.peek().String(p.source)
			if text == "TRUE" || text == "FALSE" {
				p.advance()
				c.Values = append(c.Values, &ast.CustomValue{Kind: ast.MetaBool, Bool: text == "TRUE"})
				continue
			}
			goto done
		default:
			goto done
		}
	}
done:
	p.skipToEndOfLine()
	c.AddMetadata(p.parseMetadataLines()...)
	return c
}
