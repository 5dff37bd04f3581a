package parser

// TokenType identifies the lexical class of a Token.
type TokenType uint8

const (
	EOF TokenType = iota
	ILLEGAL
	NEWLINE // end of a physical line
	COMMENT // ; to end of line, not including the newline

	// Keywords
	TXN
	BALANCE
	OPEN
	CLOSE
	COMMODITY
	PAD
	NOTE
	DOCUMENT
	PRICE
	EVENT
	QUERY
	CUSTOM
	OPTION
	INCLUDE
	PLUGIN
	PUSHTAG
	POPTAG
	PUSHMETA
	POPMETA

	// Literals
	DATE
	ACCOUNT
	STRING
	NUMBER
	IDENT

	TAG
	LINK

	// Symbols
	ASTERISK // *
	EXCLAIM  // !
	COLON    // :
	COMMA    // ,
	AT       // @
	ATAT     // @@
	LBRACE   // {
	RBRACE   // }
	LDBRACE  // {{
	RDBRACE  // }}
	MINUS    // -
	PLUS     // +
	SLASH    // /
	LPAREN   // (
	RPAREN   // )
	HASH     // # inside cost braces, separates per-unit from total
)

var tokenNames = map[TokenType]string{
	EOF: "EOF", ILLEGAL: "ILLEGAL", NEWLINE: "NEWLINE", COMMENT: "COMMENT",
	TXN: "txn", BALANCE: "balance", OPEN: "open", CLOSE: "close",
	COMMODITY: "commodity", PAD: "pad", NOTE: "note", DOCUMENT: "document",
	PRICE: "price", EVENT: "event", QUERY: "query", CUSTOM: "custom",
	OPTION: "option", INCLUDE: "include", PLUGIN: "plugin",
	PUSHTAG: "pushtag", POPTAG: "poptag", PUSHMETA: "pushmeta", POPMETA: "popmeta",
	DATE: "DATE", ACCOUNT: "ACCOUNT", STRING: "STRING", NUMBER: "NUMBER", IDENT: "IDENT",
	TAG: "TAG", LINK: "LINK",
	ASTERISK: "*", EXCLAIM: "!", COLON: ":", COMMA: ",", AT: "@", ATAT: "@@",
	LBRACE: "{", RBRACE: "}", LDBRACE: "{{", RDBRACE: "}}",
	MINUS: "-", PLUS: "+", SLASH: "/", LPAREN: "(", RPAREN: ")", HASH: "#",
}

func (t TokenType) String() string {
	if n, ok := tokenNames[t]; ok {
		return n
	}
	return "UNKNOWN"
}

// Token is a zero-copy lexical token: byte offsets into the source buffer
// rather than a materialized string.
type Token struct {
	Type   TokenType
	Start  int
	End    int
	Line   int
	Column int
}

// String materializes the token's text. Only allocates when called.
func (t Token) String(source []byte) string {
	if t.Start < 0 || t.End > len(source) || t.Start > t.End {
		return ""
	}
	return string(source[t.Start:t.End])
}

// Bytes returns a zero-copy view into source.
func (t Token) Bytes(source []byte) []byte {
	if t.Start < 0 || t.End > len(source) || t.Start > t.End {
		return nil
	}
	return source[t.Start:t.End]
}

func (t Token) Len() int { return t.End - t.Start }
