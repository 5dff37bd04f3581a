package parser

import "github.com/ledgerforge/rledger/ast"

// parseTransaction parses a transaction header (optional "txn" keyword or
// a flag character, optional payee/narration strings, tags and links) and
// then its indented postings and metadata.
func (p *Parser) parseTransaction(dateTok Token, date *ast.Date) ast.Directive {
	headerLine := dateTok.Line
	flag := "*"
	switch p.peek().Type {
	case TXN:
		p.advance()
	case ASTERISK:
		flag = "*"
		p.advance()
	case EXCLAIM:
		flag = "!"
		p.advance()
	}

	// Header items interleave freely: the first two quoted strings become
	// payee then narration (a single string is narration only), tags and
	// links may appear anywhere among them.
	var headerStrings []string
	var tags, links []string
	for {
		switch p.peek().Type {
		case STRING:
			s, ok := p.parseStringLiteral()
			if !ok {
				break
			}
			if len(headerStrings) < 2 {
				headerStrings = append(headerStrings, s)
			}
			continue
		case TAG:
			tags = append(tags, p.intern(p.advance().String(p.source)[1:]))
			continue
		case LINK:
			links = append(links, p.intern(p.advance().String(p.source)[1:]))
			continue
		}
		break
	}
	var payee, narration string
	switch len(headerStrings) {
	case 1:
		narration = headerStrings[0]
	case 2:
		payee, narration = headerStrings[0], headerStrings[1]
	}
	p.skipToEndOfLine()

	txn := &ast.Transaction{
		Pos: p.pos_(dateTok), Date: date, Flag: flag,
		Payee: payee, Narration: narration,
	}
	for _, t := range tags {
		txn.Tags = append(txn.Tags, ast.Tag(t))
	}
	for _, l := range links {
		txn.Links = append(txn.Links, ast.Link(l))
	}

	txn.AddMetadata(p.parseHeaderMetadataOrPostings(txn, headerLine)...)
	return txn
}

// parseHeaderMetadataOrPostings consumes the indented block that follows a
// transaction header: an interleaving of "key: value" metadata lines
// (attached to the transaction) and posting lines (appended to
// txn.Postings), stopping at the first line back at column 1.
func (p *Parser) parseHeaderMetadataOrPostings(txn *ast.Transaction, headerLine int) []*ast.Metadata {
	var meta []*ast.Metadata
	for {
		if p.isAtEnd() {
			return meta
		}
		if p.check(NEWLINE) || p.check(COMMENT) {
			p.advance()
			continue
		}
		tok := p.peek()
		if tok.Column == 1 {
			return meta
		}
		if tok.Type == IDENT && p.peekAhead(1).Type == COLON {
			key := p.intern(p.advance().String(p.source))
			p.advance()
			val := p.parseMetadataValue()
			meta = append(meta, &ast.Metadata{Key: key, Value: val})
			p.skipToEndOfLine()
			continue
		}
		if tok.Type == ACCOUNT || tok.Type == ASTERISK || tok.Type == EXCLAIM {
			posting := p.parsePosting()
			if posting != nil {
				txn.Postings = append(txn.Postings, posting)
			}
			continue
		}
		// Unrecognized indented content; skip the line rather than loop
		// forever.
		p.errorf(tok, "unexpected token %s in transaction body", tok.Type)
		p.skipToEndOfLine()
	}
}

// parsePosting parses "[FLAG] ACCOUNT [AMOUNT] [COST] [PRICE]" followed by
// its own indented metadata lines.
func (p *Parser) parsePosting() *ast.Posting {
	postingTok := p.peek()
	flag := ""
	if p.check(ASTERISK) {
		flag = "*"
		p.advance()
	} else if p.check(EXCLAIM) {
		flag = "!"
		p.advance()
	}

	account, ok := p.parseAccount()
	if !ok {
		p.skipToEndOfLine()
		return nil
	}

	posting := &ast.Posting{Pos: p.pos_(postingTok), Flag: flag, Account: account}

	if isExpressionStart(p.peek().Type) || p.check(IDENT) {
		posting.Units = p.parseIncompleteAmount()
	} else {
		posting.Units = &ast.IncompleteAmount{Kind: ast.AmountMissing}
	}

	if p.check(LBRACE) {
		p.advance()
		posting.CostSpec = p.parseCostSpec(false)
	} else if p.check(LDBRACE) {
		p.advance()
		posting.CostSpec = p.parseCostSpec(true)
	}

	if p.match(ATAT) {
		posting.PriceTotal = true
		posting.Price = p.parseIncompleteAmount()
	} else if p.match(AT) {
		posting.Price = p.parseIncompleteAmount()
	}

	p.skipToEndOfLine()
	posting.AddMetadata(p.parseMetadataLines()...)
	return posting
}
