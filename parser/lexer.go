package parser

// The ledger grammar is line-oriented: indentation decides whether a line
// is a new entry or a continuation, so every token carries its line and
// column, and an EOL token is emitted at each line end. The lexer is
// zero-copy — tokens hold [start,end) byte offsets into the source and
// nothing is materialized until the parser asks for it. Column numbers
// are derived from the offset of the current line's first byte rather
// than counted per character.

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"github.com/ledgerforge/rledger/intern"
)

// InvalidUTF8Error reports malformed UTF-8 or a disallowed control
// character in the source.
type InvalidUTF8Error struct {
	Filename string
	Line     int
	Column   int
	Byte     byte
}

func (e *InvalidUTF8Error) Error() string {
	return fmt.Sprintf("%s:%d: invalid byte '\\x%02x'", e.Filename, e.Line, e.Byte)
}

// Lexer tokenizes beancount-dialect source.
type Lexer struct {
	src      []byte
	filename string
	interner *intern.Interner
	toks     []Token

	off  int // next unread byte
	line int // 1-based physical line of off
	bol  int // offset of the current line's first byte
}

// NewLexer creates a lexer for source. The token buffer and interner are
// sized from the input so large ledgers do not regrow them repeatedly.
func NewLexer(source []byte, filename string) *Lexer {
	internerCap := len(source) / 40
	if internerCap < 2000 {
		internerCap = 2000
	}
	return &Lexer{
		src:      source,
		filename: filename,
		interner: intern.New(internerCap),
		toks:     make([]Token, 0, len(source)/16+64),
		line:     1,
	}
}

// Interner exposes the lexer's string pool for reuse by the parser.
func (l *Lexer) Interner() *intern.Interner { return l.interner }

// singleSymbols maps one-byte punctuation to its token type. The doubled
// forms ("{{", "}}", "@@") and the context-sensitive bytes ('#', '-',
// '.', '"') are dispatched separately.
var singleSymbols = [256]TokenType{
	'*': ASTERISK, '!': EXCLAIM, ':': COLON, ',': COMMA,
	'+': PLUS, '/': SLASH, '(': LPAREN, ')': RPAREN,
}

// ScanAll lexes the whole source in one pass. The only error it can
// return is an encoding failure; malformed syntax becomes ILLEGAL tokens
// for the parser to report with positions.
func (l *Lexer) ScanAll() ([]Token, error) {
	if err := l.checkEncoding(); err != nil {
		return nil, err
	}

	for l.off < len(l.src) {
		b := l.src[l.off]
		switch {
		case b == '\n':
			l.push(NEWLINE, l.off, l.off+1)
			l.off++
			l.newline(l.off)
		case b == ' ' || b == '\t' || b == '\r':
			l.off++
		case b == ';':
			l.scanComment()
		case b >= '0' && b <= '9':
			l.scanNumeric()
		case b == '-':
			if l.byteAt(l.off+1) >= '0' && l.byteAt(l.off+1) <= '9' {
				l.scanNumeric()
			} else {
				l.push(MINUS, l.off, l.off+1)
				l.off++
			}
		case b == '.':
			if isDigitByte(l.byteAt(l.off + 1)) {
				l.scanNumeric()
			} else {
				l.push(ILLEGAL, l.off, l.off+1)
				l.off++
			}
		case b == '"':
			l.scanString()
		case b == '#':
			// Inside cost braces a lone '#' separates the per-unit cost
			// from the lot total; anywhere a name follows it is a tag.
			if isNameByte(l.byteAt(l.off + 1)) {
				l.scanLabel(TAG)
			} else {
				l.push(HASH, l.off, l.off+1)
				l.off++
			}
		case b == '^':
			l.scanLabel(LINK)
		case b == '{':
			l.scanDoubled('{', LBRACE, LDBRACE)
		case b == '}':
			l.scanDoubled('}', RBRACE, RDBRACE)
		case b == '@':
			l.scanDoubled('@', AT, ATAT)
		case isWordStart(b):
			l.scanWord()
		default:
			if t := singleSymbols[b]; t != EOF {
				l.push(t, l.off, l.off+1)
			} else {
				l.push(ILLEGAL, l.off, l.off+1)
			}
			l.off++
		}
	}

	l.push(EOF, l.off, l.off)
	return l.toks, nil
}

// checkEncoding walks the source once up front, rejecting invalid UTF-8
// and control characters other than tab, newline, and carriage return.
func (l *Lexer) checkEncoding() error {
	line, lineStart := 1, 0
	for i := 0; i < len(l.src); {
		b := l.src[i]
		if b < utf8.RuneSelf {
			if b < 0x20 && b != '\t' && b != '\n' && b != '\r' {
				return &InvalidUTF8Error{Filename: l.filename, Line: line, Column: i - lineStart + 1, Byte: b}
			}
			if b == '\n' {
				line++
				lineStart = i + 1
			}
			i++
			continue
		}
		r, size := utf8.DecodeRune(l.src[i:])
		if r == utf8.RuneError && size == 1 {
			return &InvalidUTF8Error{Filename: l.filename, Line: line, Column: i - lineStart + 1, Byte: b}
		}
		i += size
	}
	return nil
}

// push records a token spanning [start,end) at the current line, with
// the column derived from the line's first byte.
func (l *Lexer) push(t TokenType, start, end int) {
	l.toks = append(l.toks, Token{Type: t, Start: start, End: end, Line: l.line, Column: start - l.bol + 1})
}

// newline advances the physical-line bookkeeping to a line starting at
// offset bol.
func (l *Lexer) newline(bol int) {
	l.line++
	l.bol = bol
}

func (l *Lexer) byteAt(i int) byte {
	if i >= len(l.src) {
		return 0
	}
	return l.src[i]
}

// scanDoubled emits the two-byte token when b repeats, the one-byte
// token otherwise.
func (l *Lexer) scanDoubled(b byte, single, double TokenType) {
	if l.byteAt(l.off+1) == b {
		l.push(double, l.off, l.off+2)
		l.off += 2
		return
	}
	l.push(single, l.off, l.off+1)
	l.off++
}

// scanComment consumes from ';' up to (not including) the line end; the
// main loop emits the NEWLINE itself.
func (l *Lexer) scanComment() {
	start := l.off
	for l.off < len(l.src) && l.src[l.off] != '\n' {
		l.off++
	}
	l.push(COMMENT, start, l.off)
}

// scanNumeric handles everything that begins with a digit (or a sign or
// decimal point directly followed by one): a calendar date when a
// 4-digit year is followed by a recognized separator pattern, otherwise
// a number with optional thousands groups and fraction. Leading-decimal
// forms like ".50" are permitted.
func (l *Lexer) scanNumeric() {
	start := l.off
	neg := l.src[l.off] == '-'
	if neg {
		l.off++
	}

	digitsStart := l.off
	l.takeDigits()

	sep := l.byteAt(l.off)
	if !neg && l.off-digitsStart == 4 && (sep == '-' || sep == '/') && l.datePatternAhead(sep) {
		end := l.off + 6
		if validCalendarDate(l.src[start:end]) {
			l.push(DATE, start, end)
		} else {
			l.push(ILLEGAL, start, end)
		}
		l.off = end
		return
	}

	// Thousands groups: a comma counts as part of the number only when
	// exactly three digits follow it.
	for l.byteAt(l.off) == ',' &&
		isDigitByte(l.byteAt(l.off+1)) && isDigitByte(l.byteAt(l.off+2)) && isDigitByte(l.byteAt(l.off+3)) &&
		!isDigitByte(l.byteAt(l.off+4)) {
		l.off += 4
	}

	if l.byteAt(l.off) == '.' && isDigitByte(l.byteAt(l.off+1)) {
		l.off++
		l.takeDigits()
	}
	l.push(NUMBER, start, l.off)
}

func (l *Lexer) takeDigits() {
	for l.off < len(l.src) && isDigitByte(l.src[l.off]) {
		l.off++
	}
}

// datePatternAhead reports whether "SEP DD SEP DD" follows the 4-digit
// year at the current offset, using the same separator both times.
func (l *Lexer) datePatternAhead(sep byte) bool {
	return l.byteAt(l.off) == sep &&
		isDigitByte(l.byteAt(l.off+1)) && isDigitByte(l.byteAt(l.off+2)) &&
		l.byteAt(l.off+3) == sep &&
		isDigitByte(l.byteAt(l.off+4)) && isDigitByte(l.byteAt(l.off+5)) &&
		!isDigitByte(l.byteAt(l.off+6))
}

var monthDays = [13]int{0, 31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

// validCalendarDate checks a 10-byte YYYY?MM?DD slice against the
// proleptic Gregorian calendar.
func validCalendarDate(b []byte) bool {
	year := digits(b[0:4])
	month := digits(b[5:7])
	day := digits(b[8:10])
	if year == 0 || month < 1 || month > 12 || day < 1 {
		return false
	}
	max := monthDays[month]
	if month == 2 && year%4 == 0 && (year%100 != 0 || year%400 == 0) {
		max = 29
	}
	return day <= max
}

func digits(b []byte) int {
	n := 0
	for _, c := range b {
		n = n*10 + int(c-'0')
	}
	return n
}

// scanString handles both quoted forms: a single-quoted string ends at
// the closing quote on the same line (backslash escapes the next byte),
// while a triple-quoted one runs verbatim to the next `"""`, spanning
// lines.
func (l *Lexer) scanString() {
	start := l.off
	if bytes.HasPrefix(l.src[l.off:], tripleQuote) {
		body := l.off + len(tripleQuote)
		rel := bytes.Index(l.src[body:], tripleQuote)
		if rel < 0 {
			l.push(ILLEGAL, start, len(l.src))
			l.skipPast(len(l.src))
			return
		}
		end := body + rel + len(tripleQuote)
		l.push(STRING, start, end)
		l.skipPast(end)
		return
	}

	i := l.off + 1
	for i < len(l.src) && l.src[i] != '\n' {
		switch l.src[i] {
		case '\\':
			i += 2
		case '"':
			l.push(STRING, start, i+1)
			l.off = i + 1
			return
		default:
			i++
		}
	}
	if i > len(l.src) {
		i = len(l.src)
	}
	l.push(ILLEGAL, start, i)
	l.off = i
}

var tripleQuote = []byte(`"""`)

// skipPast moves the cursor to end, recounting the physical lines the
// skipped region crossed so later tokens keep accurate positions.
func (l *Lexer) skipPast(end int) {
	region := l.src[l.off:end]
	if n := bytes.Count(region, []byte{'\n'}); n > 0 {
		l.line += n
		l.bol = l.off + bytes.LastIndexByte(region, '\n') + 1
	}
	l.off = end
}

// scanLabel scans a '#'-tag or '^'-link: the marker plus a run of name
// bytes.
func (l *Lexer) scanLabel(t TokenType) {
	start := l.off
	l.off++
	for l.off < len(l.src) && isNameByte(l.src[l.off]) {
		l.off++
	}
	l.push(t, start, l.off)
}

// scanWord consumes a maximal run of word bytes and classifies it:
// a ':' anywhere makes it an ACCOUNT, a word directly followed by ':' is
// a metadata key and always an IDENT (so "note:" is a key, not the note
// keyword), a known lowercase keyword gets its keyword type, anything
// else (currency codes, flags) is an IDENT.
func (l *Lexer) scanWord() {
	start := l.off
	hasColon := false
	for l.off < len(l.src) && isWordByte(l.src[l.off]) {
		if l.src[l.off] == ':' {
			hasColon = true
		}
		l.off++
	}
	// A trailing colon is a metadata-key separator, not part of the word.
	isKey := false
	for l.off > start && l.src[l.off-1] == ':' {
		l.off--
		isKey = true
		hasColon = bytes.IndexByte(l.src[start:l.off], ':') >= 0
	}

	switch {
	case hasColon:
		l.push(ACCOUNT, start, l.off)
	case isKey:
		l.push(IDENT, start, l.off)
	case 'a' <= l.src[start] && l.src[start] <= 'z':
		if t, ok := keywordTypes[string(l.src[start:l.off])]; ok {
			l.push(t, start, l.off)
		} else {
			l.push(IDENT, start, l.off)
		}
	default:
		l.push(IDENT, start, l.off)
	}
}

var keywordTypes = map[string]TokenType{
	"txn": TXN, "balance": BALANCE, "open": OPEN, "close": CLOSE,
	"commodity": COMMODITY, "pad": PAD, "note": NOTE, "document": DOCUMENT,
	"price": PRICE, "event": EVENT, "query": QUERY, "custom": CUSTOM,
	"option": OPTION, "include": INCLUDE, "plugin": PLUGIN,
	"pushtag": PUSHTAG, "poptag": POPTAG, "pushmeta": PUSHMETA, "popmeta": POPMETA,
}

func isDigitByte(b byte) bool { return '0' <= b && b <= '9' }

func isNameByte(b byte) bool {
	return 'A' <= b && b <= 'Z' || 'a' <= b && b <= 'z' || isDigitByte(b) || b == '-' || b == '_'
}

// isWordStart admits account roots and currencies (uppercase or
// non-ASCII), keywords and metadata keys (lowercase), and '_'.
func isWordStart(b byte) bool {
	return 'A' <= b && b <= 'Z' || 'a' <= b && b <= 'z' || b >= utf8.RuneSelf || b == '_'
}

func isWordByte(b byte) bool {
	return isWordStart(b) || isDigitByte(b) || b == ':' || b == '-'
}
