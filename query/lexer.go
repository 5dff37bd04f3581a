package query

import (
	"fmt"
	"strings"
)

type tokenType uint8

const (
	tokEOF tokenType = iota
	tokIdent
	tokKeyword
	tokString
	tokNumber
	tokDate
	tokSymbol
)

type token struct {
	typ tokenType
	val string
	pos int
}

// keywords is the BQL reserved-word set; matching is case-insensitive and
// the canonical spelling stored in the token is uppercase.
var keywords = map[string]bool{
	"SELECT": true, "DISTINCT": true, "FROM": true, "OPEN": true,
	"CLOSE": true, "ON": true, "CLEAR": true, "WHERE": true,
	"GROUP": true, "ORDER": true, "BY": true, "ASC": true, "DESC": true,
	"LIMIT": true, "AS": true, "AND": true, "OR": true, "NOT": true,
	"IN": true, "TRUE": true, "FALSE": true, "NULL": true,
	"JOURNAL": true, "BALANCES": true, "PRINT": true,
}

// lex splits a BQL source string into tokens. Dates are recognized
// lexically (digits-dash-digits-dash-digits) so the parser never has to
// disambiguate subtraction from a date literal.
func lex(src string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c == ';':
			for i < len(src) && src[i] != '\n' {
				i++
			}

		case c == '"' || c == '\'':
			quote := c
			j := i + 1
			for j < len(src) && src[j] != quote {
				j++
			}
			if j >= len(src) {
				return nil, errf(ErrSyntax, "unterminated string at offset %d", i)
			}
			tokens = append(tokens, token{tokString, src[i+1 : j], i})
			i = j + 1

		case c >= '0' && c <= '9':
			j := i
			digits := 0
			dashes := 0
			for j < len(src) && (isDigit(src[j]) || src[j] == '-' || src[j] == '.' || src[j] == ',') {
				if isDigit(src[j]) {
					digits++
				}
				if src[j] == '-' {
					dashes++
				}
				j++
			}
			text := src[i:j]
			if dashes == 2 && digits >= 6 {
				tokens = append(tokens, token{tokDate, text, i})
			} else {
				// Re-scan without consuming '-' so "1-2" lexes as
				// subtraction rather than a malformed date. A comma only
				// belongs to the number when digits follow it, so an
				// argument separator is left for the parser.
				j = i
				for j < len(src) {
					switch {
					case isDigit(src[j]) || src[j] == '.':
						j++
						continue
					case src[j] == ',' && j+1 < len(src) && isDigit(src[j+1]):
						j++
						continue
					}
					break
				}
				tokens = append(tokens, token{tokNumber, strings.ReplaceAll(src[i:j], ",", ""), i})
			}
			i = j

		case isIdentStart(c):
			j := i
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			word := src[i:j]
			if upper := strings.ToUpper(word); keywords[upper] {
				tokens = append(tokens, token{tokKeyword, upper, i})
			} else {
				tokens = append(tokens, token{tokIdent, word, i})
			}
			i = j

		default:
			switch {
			case strings.HasPrefix(src[i:], "<=") || strings.HasPrefix(src[i:], ">=") || strings.HasPrefix(src[i:], "!="):
				tokens = append(tokens, token{tokSymbol, src[i : i+2], i})
				i += 2
			case strings.ContainsRune("+-*/()=<>~,", rune(c)):
				tokens = append(tokens, token{tokSymbol, string(c), i})
				i++
			default:
				return nil, errf(ErrSyntax, "unexpected character %q at offset %d", c, i)
			}
		}
	}
	tokens = append(tokens, token{tokEOF, "", len(src)})
	return tokens, nil
}

func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isIdentStart(c byte) bool { return c == '_' || (c|0x20) >= 'a' && (c|0x20) <= 'z' }
func isIdentPart(c byte) bool  { return isIdentStart(c) || isDigit(c) }

func (t token) String() string {
	if t.typ == tokEOF {
		return "end of query"
	}
	return fmt.Sprintf("%q", t.val)
}
