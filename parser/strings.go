package parser

import "strings"

// parseStringLiteral consumes a STRING token and unescapes it. It does not
// preserve the original source text; the engine has no round-trip-printing
// requirement so there is no reason to carry raw quoted text alongside the
// decoded value.
func (p *Parser) parseStringLiteral() (string, bool) {
	tok, ok := p.expect(STRING)
	if !ok {
		return "", false
	}
	raw := tok.Bytes(p.source)
	if len(raw) >= 6 && raw[0] == '"' && raw[1] == '"' && raw[2] == '"' {
		// Triple-quoted content is taken verbatim, no escape handling.
		return string(raw[3 : len(raw)-3]), true
	}
	if len(raw) < 2 {
		return "", true
	}
	return unescapeString(raw[1 : len(raw)-1]), true
}

func unescapeString(b []byte) string {
	if !containsBackslash(b) {
		return string(b)
	}
	var sb strings.Builder
	sb.Grow(len(b))
	for i := 0; i < len(b); i++ {
		if b[i] == '\\' && i+1 < len(b) {
			i++
			switch b[i] {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case '"':
				sb.WriteByte('"')
			case '\\':
				sb.WriteByte('\\')
			default:
				sb.WriteByte(b[i])
			}
			continue
		}
		sb.WriteByte(b[i])
	}
	return sb.String()
}

func containsBackslash(b []byte) bool {
	for _, c := range b {
		if c == '\\' {
			return true
		}
	}
	return false
}

// parseTagsAndLinks consumes a run of TAG and LINK tokens.
func (p *Parser) parseTagsAndLinks() ([]string, []string) {
	var tags, links []string
	for {
		switch p.peek().Type {
		case TAG:
			tags = append(tags, p.intern(p.advance().String(p.source)[1:]))
		case LINK:
			links = append(links, p.intern(p.advance().String(p.source)[1:]))
		default:
			return tags, links
		}
	}
}
