package query

import (
	"strings"

	"github.com/ledgerforge/rledger/ast"
	"github.com/ledgerforge/rledger/formatter"
)

// renderDirective formats one directive for a PRINT result row.
func renderDirective(d ast.Directive) string {
	var buf strings.Builder
	_ = formatter.New().FormatDirective(d, &buf)
	return strings.TrimRight(buf.String(), "\n")
}
