package parser

import (
	"testing"

	"github.com/alecthomas/assert/v2"
)

func scanTypes(t *testing.T, source string) []TokenType {
	t.Helper()
	toks, err := NewLexer([]byte(source), "test.beancount").ScanAll()
	assert.NoError(t, err)
	types := make([]TokenType, len(toks))
	for i, tok := range toks {
		types[i] = tok.Type
	}
	return types
}

func TestScanDirectiveLine(t *testing.T) {
	types := scanTypes(t, "2024-01-15 open Assets:Cash USD\n")
	assert.Equal(t, []TokenType{DATE, OPEN, ACCOUNT, IDENT, NEWLINE, EOF}, types)
}

func TestScanEmitsNewlinePerLine(t *testing.T) {
	types := scanTypes(t, "option \"a\" \"b\"\n\n2024-01-01 close Assets:Cash\n")
	assert.Equal(t, []TokenType{
		OPTION, STRING, STRING, NEWLINE,
		NEWLINE,
		DATE, CLOSE, ACCOUNT, NEWLINE, EOF,
	}, types)
}

func TestScanLinesAndColumns(t *testing.T) {
	toks, err := NewLexer([]byte("2024-01-15 * \"x\"\n  Assets:Cash  1 USD\n"), "test.beancount").ScanAll()
	assert.NoError(t, err)

	assert.Equal(t, DATE, toks[0].Type)
	assert.Equal(t, 1, toks[0].Line)
	assert.Equal(t, 1, toks[0].Column)

	var account Token
	for _, tok := range toks {
		if tok.Type == ACCOUNT {
			account = tok
		}
	}
	assert.Equal(t, 2, account.Line)
	assert.Equal(t, 3, account.Column)
}

func TestScanTriplePositionsAfterMultilineString(t *testing.T) {
	source := "2024-01-15 note Assets:Cash \"\"\"a\nb\nc\"\"\"\n2024-01-16 close Assets:Cash\n"
	toks, err := NewLexer([]byte(source), "test.beancount").ScanAll()
	assert.NoError(t, err)

	var second Token
	for _, tok := range toks {
		if tok.Type == DATE && tok.Line > 1 {
			second = tok
		}
	}
	// The triple-quoted string spans three physical lines; the next
	// directive's date must land on line 4, column 1.
	assert.Equal(t, 4, second.Line)
	assert.Equal(t, 1, second.Column)
}

func TestScanCommentExcludesNewline(t *testing.T) {
	toks, err := NewLexer([]byte("; remark\n"), "test.beancount").ScanAll()
	assert.NoError(t, err)
	assert.Equal(t, COMMENT, toks[0].Type)
	assert.Equal(t, "; remark", toks[0].String([]byte("; remark\n")))
	assert.Equal(t, NEWLINE, toks[1].Type)
}

func TestScanHashDisambiguation(t *testing.T) {
	types := scanTypes(t, "#trip\n")
	assert.Equal(t, TAG, types[0])

	types = scanTypes(t, "{150 # 5 USD}\n")
	assert.Equal(t, []TokenType{LBRACE, NUMBER, HASH, NUMBER, IDENT, RBRACE, NEWLINE, EOF}, types)
}

func TestScanDoubledSymbols(t *testing.T) {
	types := scanTypes(t, "{{ }} @@ @ { }\n")
	assert.Equal(t, []TokenType{LDBRACE, RDBRACE, ATAT, AT, LBRACE, RBRACE, NEWLINE, EOF}, types)
}

func TestScanRejectsImpossibleCalendarDate(t *testing.T) {
	toks, err := NewLexer([]byte("2024-02-30 open Assets:Cash\n"), "test.beancount").ScanAll()
	assert.NoError(t, err)
	assert.Equal(t, ILLEGAL, toks[0].Type)
}

func TestScanNumberForms(t *testing.T) {
	types := scanTypes(t, "1,234.50 .50 -7 10\n")
	assert.Equal(t, []TokenType{NUMBER, NUMBER, NUMBER, NUMBER, NEWLINE, EOF}, types)

	// A comma not followed by a three-digit group separates, not groups.
	types = scanTypes(t, "1, 2\n")
	assert.Equal(t, []TokenType{NUMBER, COMMA, NUMBER, NEWLINE, EOF}, types)
}

func TestScanMetadataKeyKeepsColonSeparate(t *testing.T) {
	types := scanTypes(t, "  source: \"bank\"\n")
	assert.Equal(t, []TokenType{IDENT, COLON, STRING, NEWLINE, EOF}, types)
}

func TestScanUnterminatedStringIsIllegal(t *testing.T) {
	toks, err := NewLexer([]byte("2024-01-01 note Assets:Cash \"oops\n"), "test.beancount").ScanAll()
	assert.NoError(t, err)
	var sawIllegal bool
	for _, tok := range toks {
		if tok.Type == ILLEGAL {
			sawIllegal = true
		}
	}
	assert.True(t, sawIllegal)
}

func TestScanRejectsInvalidUTF8(t *testing.T) {
	_, err := NewLexer([]byte{'o', 'p', 0xff, 0xfe}, "test.beancount").ScanAll()
	assert.Error(t, err)
	_, ok := err.(*InvalidUTF8Error)
	assert.True(t, ok)
}

func TestScanRejectsControlCharacters(t *testing.T) {
	_, err := NewLexer([]byte("abc\x01def\n"), "test.beancount").ScanAll()
	assert.Error(t, err)
}
